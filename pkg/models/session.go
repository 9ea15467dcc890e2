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

// Package models defines the shared data types for fleetconsole.
package models

import "time"

// Session represents one live agent connection. Sessions are owned by
// the session registry: created on registration, touched on heartbeat,
// destroyed on disconnect.
type Session struct {
	Handle      string    `json:"handle"`
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name"`
	Platform    string    `json:"platform"`
	OriginAddr  string    `json:"origin_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// RegistrationPayload is the body of a register_device frame.
type RegistrationPayload struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// DeviceInfo carries the descriptive fields of an initial-data upload.
// Model and DeviceName feed the fallback identifier when the agent did
// not supply a usable deviceId.
type DeviceInfo struct {
	Model      string `json:"model"`
	DeviceName string `json:"deviceName"`
	OSVersion  string `json:"osVersion,omitempty"`
}

// InitialUpload is the json_data document posted to /upload_initial_data.
// Extra keys are preserved verbatim in Raw so the stored registration
// record is a faithful copy of what the agent sent.
type InitialUpload struct {
	DeviceID   string                 `json:"deviceId"`
	DeviceInfo DeviceInfo             `json:"deviceInfo"`
	Raw        map[string]interface{} `json:"-"`
}

// CommandRequest is an operator-issued command for one session.
type CommandRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ResponseStatus is the status reported in a command_response frame.
// Values outside the recognized set are kept verbatim and treated as
// failures for presentation purposes.
type ResponseStatus string

const (
	ResponseSuccess ResponseStatus = "success"
	ResponseFailure ResponseStatus = "failure"
	ResponseUnknown ResponseStatus = "unknown"
)

// Recognized reports whether the status is one of the recognized values.
func (s ResponseStatus) Recognized() bool {
	return s == ResponseSuccess || s == ResponseFailure || s == ResponseUnknown
}

// CommandResponse is the body of a command_response frame.
type CommandResponse struct {
	Command string                 `json:"command"`
	Status  string                 `json:"status"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CommandResult is the last observed outcome for a command name on one
// device, as tracked by the correlator.
type CommandResult struct {
	Command    string                 `json:"command"`
	Status     string                 `json:"status"`
	Success    bool                   `json:"success"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	ReceivedAt time.Time              `json:"received_at"`
}

// Artifact describes one stored file under a device's directory.
type Artifact struct {
	Name       string    `json:"name"`
	CommandRef string    `json:"command_ref,omitempty"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
}

// ErrorResponse is the JSON error body returned by the operator API.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// DeviceState is the correlator's point-in-time view of one device:
// every command outcome and every correlated artifact, discoverable
// regardless of the order responses and files arrived in.
type DeviceState struct {
	DeviceID  string                   `json:"device_id"`
	Results   map[string]CommandResult `json:"results"`
	Artifacts []Artifact               `json:"artifacts"`
}
