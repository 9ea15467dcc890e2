/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ws

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/carverauto/fleetconsole/pkg/models"
)

const maxUploadBytes = 32 << 20

// defaultCommandRef stands in when an agent uploads a file without a
// command reference.
const defaultCommandRef = "unknown_cmd_ref"

// handleInitialUpload accepts the multipart registration document
// (json_data) plus an optional image and hands both to the engine.
func (s *Server) handleInitialUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeUploadError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	jsonData := r.FormValue("json_data")
	if jsonData == "" {
		s.writeUploadError(w, "Missing json_data field", http.StatusBadRequest)
		return
	}

	var upload models.InitialUpload

	if err := json.Unmarshal([]byte(jsonData), &upload); err != nil {
		s.writeUploadError(w, "Malformed json_data", http.StatusBadRequest)
		return
	}

	// Extra keys are kept so the stored record matches what was sent.
	_ = json.Unmarshal([]byte(jsonData), &upload.Raw)

	var (
		imageName string
		image     []byte
	)

	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()

		image, err = io.ReadAll(file)
		if err != nil {
			s.writeUploadError(w, "Failed to read image", http.StatusInternalServerError)
			return
		}

		imageName = header.Filename
	}

	deviceID, err := s.engine.HandleInitialUpload(upload, []byte(jsonData), imageName, image)
	if err != nil {
		s.logger.Error().Err(err).Msg("Initial upload failed")
		s.writeUploadError(w, "Failed to store upload", http.StatusInternalServerError)

		return
	}

	s.logger.Info().
		Str("device_id", deviceID).
		Int("image_bytes", len(image)).
		Msg("Initial data stored")

	s.writeUploadJSON(w, map[string]string{
		"status":    "success",
		"device_id": deviceID,
	})
}

// handleCommandUpload accepts a command-correlated file delivery.
func (s *Server) handleCommandUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeUploadError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	deviceID := r.FormValue("deviceId")
	if deviceID == "" {
		s.writeUploadError(w, "Missing deviceId field", http.StatusBadRequest)
		return
	}

	// An absent command reference is not an error; the file still lands
	// under the device, just uncorrelated with a dispatched command.
	commandRef := r.FormValue("commandRef")
	if commandRef == "" {
		commandRef = defaultCommandRef
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeUploadError(w, "Missing file field", http.StatusBadRequest)
		return
	}

	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeUploadError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	stored, err := s.engine.HandleCommandFile(deviceID, commandRef, header.Filename, data)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("device_id", deviceID).
			Str("command_ref", commandRef).
			Msg("Command file upload failed")
		s.writeUploadError(w, "Failed to store file", http.StatusInternalServerError)

		return
	}

	s.writeUploadJSON(w, map[string]string{
		"status":             "success",
		"filename_on_server": stored,
	})
}

func (s *Server) writeUploadJSON(w http.ResponseWriter, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode upload response")
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode upload error")
	}
}
