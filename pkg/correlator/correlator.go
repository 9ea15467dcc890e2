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

// Package correlator reattaches asynchronous command responses and
// out-of-band file deliveries to the device and, where available, the
// originating command. Responses and files for the same command arrive
// on independent transport calls in either order; the per-device state
// kept here makes both discoverable to a late observer regardless of
// arrival order.
package correlator

import (
	"sync"
	"time"

	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/identity"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

// filenameHintKey is the payload key agents set when a response refers
// to a file that has been (or is about to be) uploaded separately.
const filenameHintKey = "filename_on_server"

const unknownCommand = "unknown_command"

// SessionLookup resolves a connection handle to its session.
type SessionLookup interface {
	Find(handle string) (models.Session, bool)
}

type deviceState struct {
	results   map[string]models.CommandResult
	artifacts []models.Artifact
}

// Correlator tracks per-device command outcomes and correlated
// artifacts. All methods are safe for concurrent use; no I/O happens
// under the state lock.
type Correlator struct {
	mu     sync.Mutex
	states map[string]*deviceState

	sessions  SessionLookup
	publisher events.Publisher
	logger    logger.Logger
	now       func() time.Time
}

func NewCorrelator(sessions SessionLookup, publisher events.Publisher, log logger.Logger) *Correlator {
	return &Correlator{
		states:    make(map[string]*deviceState),
		sessions:  sessions,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// OnCommandResponse ingests a command_response frame. The handle is
// resolved through the registry; if the session is already gone (for
// example the response raced a disconnect) the response is attributed
// to a handle-derived placeholder identifier instead of being dropped.
// Unrecognized status values are recorded verbatim and treated as
// failures.
func (c *Correlator) OnCommandResponse(handle, commandName, status string, payload map[string]interface{}) {
	deviceID := identity.PlaceholderForHandle(handle)
	if session, ok := c.sessions.Find(handle); ok {
		deviceID = identity.Sanitize(session.DeviceID)
	}

	if commandName == "" {
		commandName = unknownCommand
	}

	if status == "" {
		status = string(models.ResponseUnknown)
	}

	success := models.ResponseStatus(status) == models.ResponseSuccess
	timestamp := c.now()

	result := models.CommandResult{
		Command:    commandName,
		Status:     status,
		Success:    success,
		Payload:    payload,
		ReceivedAt: timestamp,
	}

	c.mu.Lock()
	c.state(deviceID).results[commandName] = result
	c.mu.Unlock()

	_, artifactHint := payload[filenameHintKey]

	c.logger.Info().
		Str("device_id", deviceID).
		Str("command", commandName).
		Str("status", status).
		Bool("artifact_hint", artifactHint).
		Msg("Command response received")

	c.publisher.Publish(models.ChangeEvent{
		Kind:         models.EventResponseReceived,
		DeviceID:     deviceID,
		Handle:       handle,
		Command:      commandName,
		Status:       status,
		Payload:      payload,
		ArtifactHint: artifactHint,
		Timestamp:    timestamp,
	})
}

// OnFileDelivered ingests a stored file delivery. commandRef may be
// empty or unmatched; the artifact is still attributed to the device.
// Redelivery of the same stored filename is idempotent.
func (c *Correlator) OnFileDelivered(deviceID, commandRef, storedFilename string) {
	deviceID = identity.Sanitize(deviceID)
	timestamp := c.now()

	c.mu.Lock()
	state := c.state(deviceID)

	duplicate := false

	for _, artifact := range state.artifacts {
		if artifact.Name == storedFilename {
			duplicate = true
			break
		}
	}

	if !duplicate {
		state.artifacts = append(state.artifacts, models.Artifact{
			Name:       storedFilename,
			CommandRef: commandRef,
			ModTime:    timestamp,
		})
	}
	c.mu.Unlock()

	if duplicate {
		return
	}

	c.logger.Info().
		Str("device_id", deviceID).
		Str("command_ref", commandRef).
		Str("filename", storedFilename).
		Msg("File delivery correlated")

	c.publisher.Publish(models.ChangeEvent{
		Kind:       models.EventArtifactAdded,
		DeviceID:   deviceID,
		CommandRef: commandRef,
		Filename:   storedFilename,
		Timestamp:  timestamp,
	})
}

// DeviceState returns a copy of everything known about a device:
// command outcomes and correlated artifacts. Querying an unknown device
// yields an empty state.
func (c *Correlator) DeviceState(deviceID string) models.DeviceState {
	deviceID = identity.Sanitize(deviceID)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := models.DeviceState{
		DeviceID: deviceID,
		Results:  make(map[string]models.CommandResult),
	}

	state, ok := c.states[deviceID]
	if !ok {
		return out
	}

	for name, result := range state.results {
		out.Results[name] = result
	}

	out.Artifacts = make([]models.Artifact, len(state.artifacts))
	copy(out.Artifacts, state.artifacts)

	return out
}

// state returns the mutable record for deviceID; callers hold c.mu.
func (c *Correlator) state(deviceID string) *deviceState {
	record, ok := c.states[deviceID]
	if !ok {
		record = &deviceState{results: make(map[string]models.CommandResult)}
		c.states[deviceID] = record
	}

	return record
}
