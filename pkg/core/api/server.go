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

// Package api provides the operator HTTP API for fleetconsole.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carverauto/fleetconsole/pkg/dispatch"
	"github.com/carverauto/fleetconsole/pkg/events"
	consolehttp "github.com/carverauto/fleetconsole/pkg/http"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/gorilla/mux"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Engine is the console surface the API serves. *core.Server satisfies it.
type Engine interface {
	Sessions() []models.Session
	Devices() []string
	ListArtifacts(deviceID string) ([]models.Artifact, error)
	DeviceState(deviceID string) models.DeviceState
	Dispatch(ctx context.Context, handle, commandName string, args map[string]interface{}) (string, error)
	RefreshDevices() error
	Subscribe(observer events.Observer) func()
}

// APIServer serves the operator HTTP API and the event stream.
type APIServer struct {
	engine     Engine
	router     *mux.Router
	apiKey     string
	logger     logger.Logger
	httpServer *http.Server
}

// NewAPIServer creates an API server around the engine.
func NewAPIServer(engine Engine, log logger.Logger, options ...func(*APIServer)) *APIServer {
	s := &APIServer{
		engine: engine,
		router: mux.NewRouter(),
		logger: log,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithAPIKey guards the API with a static key.
func WithAPIKey(key string) func(*APIServer) {
	return func(s *APIServer) {
		s.apiKey = key
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(consolehttp.CommonMiddleware(s.logger))

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(consolehttp.APIKeyMiddleware(s.apiKey, s.logger))

	protected.HandleFunc("/sessions", s.getSessions).Methods("GET")
	protected.HandleFunc("/sessions/{handle}/commands", s.postCommand).Methods("POST")
	protected.HandleFunc("/devices", s.getDevices).Methods("GET")
	protected.HandleFunc("/devices/refresh", s.postRefresh).Methods("POST")
	protected.HandleFunc("/devices/{id}/artifacts", s.getArtifacts).Methods("GET")
	protected.HandleFunc("/devices/{id}/state", s.getDeviceState).Methods("GET")
	protected.HandleFunc("/stream", s.handleStream).Methods("GET")
}

// Router exposes the configured handler, mainly for tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Start serves the API until the listener fails or Stop is called.
func (s *APIServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down gracefully.
func (s *APIServer) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *APIServer) getSessions(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, s.engine.Sessions())
}

func (s *APIServer) getDevices(w http.ResponseWriter, _ *http.Request) {
	s.encodeJSONResponse(w, s.engine.Devices())
}

func (s *APIServer) getArtifacts(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	listed, err := s.engine.ListArtifacts(deviceID)
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to list artifacts")
		writeError(w, "Failed to list artifacts", http.StatusInternalServerError)

		return
	}

	if listed == nil {
		listed = []models.Artifact{}
	}

	s.encodeJSONResponse(w, listed)
}

func (s *APIServer) getDeviceState(w http.ResponseWriter, r *http.Request) {
	s.encodeJSONResponse(w, s.engine.DeviceState(mux.Vars(r)["id"]))
}

func (s *APIServer) postCommand(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]

	var req models.CommandRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		writeError(w, "Command name is required", http.StatusBadRequest)
		return
	}

	ref, err := s.engine.Dispatch(r.Context(), handle, req.Name, req.Args)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotConnected) {
			writeError(w, "Session not connected", http.StatusNotFound)
			return
		}

		s.logger.Error().Err(err).Str("handle", handle).Msg("Command dispatch failed")
		writeError(w, "Command dispatch failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(map[string]string{"command_ref": ref}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode dispatch response")
	}
}

func (s *APIServer) postRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.RefreshDevices(); err != nil {
		s.logger.Error().Err(err).Msg("Historical index refresh failed")
		writeError(w, "Refresh failed", http.StatusInternalServerError)

		return
	}

	s.encodeJSONResponse(w, s.engine.Devices())
}

func (s *APIServer) encodeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
