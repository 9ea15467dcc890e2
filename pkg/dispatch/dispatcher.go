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

// Package dispatch forwards operator-issued commands to live sessions.
// Dispatch is fire-and-forget: there is no per-command timeout or retry
// here; a failed dispatch is surfaced to the operator, and responses
// arrive later as independent transport events.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/google/uuid"
)

// commandRefKey is the argument key agents echo back when delivering
// files produced by the command.
const commandRefKey = "commandRef"

// SessionLookup resolves a connection handle to its session.
type SessionLookup interface {
	Find(handle string) (models.Session, bool)
}

// Dispatcher validates the target session and hands the command to the
// transport. The registry lock is released before any I/O happens.
type Dispatcher struct {
	sessions  SessionLookup
	transport Transport
	publisher events.Publisher
	logger    logger.Logger
}

func NewDispatcher(sessions SessionLookup, transport Transport, publisher events.Publisher, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		sessions:  sessions,
		transport: transport,
		publisher: publisher,
		logger:    log,
	}
}

// Dispatch sends a named command with arguments to the session for
// handle and returns the generated command reference. ErrNotConnected
// is returned when the handle has no live session; nothing reaches the
// transport in that case. Argument schemas are not validated here;
// commands are agent-defined.
func (d *Dispatcher) Dispatch(ctx context.Context, handle, commandName string, args map[string]interface{}) (string, error) {
	session, ok := d.sessions.Find(handle)
	if !ok {
		d.logger.Warn().
			Str("handle", handle).
			Str("command", commandName).
			Msg("Dispatch target not connected")

		return "", fmt.Errorf("%w: handle %s", ErrNotConnected, handle)
	}

	commandRef := uuid.New().String()

	payload := make(map[string]interface{}, len(args)+1)
	for key, value := range args {
		payload[key] = value
	}

	payload[commandRefKey] = commandRef

	if err := d.transport.Send(ctx, handle, commandName, payload); err != nil {
		return "", fmt.Errorf("sending command %q to %s: %w", commandName, handle, err)
	}

	d.logger.Info().
		Str("handle", handle).
		Str("device_id", session.DeviceID).
		Str("command", commandName).
		Str("command_ref", commandRef).
		Interface("args", args).
		Msg("Command dispatched")

	d.publisher.Publish(models.ChangeEvent{
		Kind:       models.EventCommandSent,
		DeviceID:   session.DeviceID,
		Handle:     handle,
		Command:    commandName,
		CommandRef: commandRef,
		Args:       args,
		Timestamp:  time.Now(),
	})

	return commandRef, nil
}
