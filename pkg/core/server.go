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

// Package core wires the session registry, dispatcher, correlator and
// artifact store into one engine behind the transport callback surface.
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/carverauto/fleetconsole/pkg/artifacts"
	"github.com/carverauto/fleetconsole/pkg/correlator"
	"github.com/carverauto/fleetconsole/pkg/dispatch"
	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/history"
	"github.com/carverauto/fleetconsole/pkg/identity"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/carverauto/fleetconsole/pkg/natsutil"
	"github.com/carverauto/fleetconsole/pkg/registry"
	"github.com/nats-io/nats.go"
)

// Server is the console engine. The agent transport calls its Handle*
// methods; the operator API reads its accessors and dispatches commands
// through it.
type Server struct {
	config     *Config
	logger     logger.Logger
	bus        *events.Bus
	registry   *registry.SessionRegistry
	store      *artifacts.Store
	history    *history.Index
	correlator *correlator.Correlator

	mu         sync.RWMutex
	dispatcher *dispatch.Dispatcher

	natsConn       *nats.Conn
	eventPublisher *natsutil.EventPublisher
	unsubscribe    func()
}

// NewServer builds the engine from configuration. The transport must be
// attached with SetTransport before commands can be dispatched.
func NewServer(ctx context.Context, cfg *Config, log logger.Logger) (*Server, error) {
	store, err := artifacts.NewStore(cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	bus := events.NewBus(log)

	s := &Server{
		config:   cfg,
		logger:   log,
		bus:      bus,
		registry: registry.NewSessionRegistry(bus, log),
		store:    store,
		history:  history.NewIndex(store, bus, log),
	}
	s.correlator = correlator.NewCorrelator(s.registry, bus, log)

	if err := s.history.Refresh(); err != nil {
		return nil, fmt.Errorf("failed to build historical index: %w", err)
	}

	if err := s.initializeEventMirror(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// SetTransport attaches the agent transport and enables dispatching.
func (s *Server) SetTransport(t dispatch.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatcher = dispatch.NewDispatcher(s.registry, t, s.bus, s.logger)
}

// HandleConnect is called when an agent socket is accepted. No session
// exists until the agent registers.
func (s *Server) HandleConnect(handle, remoteAddr string) {
	s.logger.Debug().
		Str("handle", handle).
		Str("remote_addr", remoteAddr).
		Msg("Agent connected")
}

// HandleRegister creates or replaces the session for the handle.
func (s *Server) HandleRegister(handle string, payload models.RegistrationPayload, originAddr string) (models.Session, error) {
	return s.registry.Register(handle, payload, originAddr)
}

// HandleHeartbeat bumps session activity. It returns false when the
// handle has no session, so the transport can ask the agent to
// re-register.
func (s *Server) HandleHeartbeat(handle string) bool {
	return s.registry.Touch(handle)
}

// HandleDisconnect removes the session for a closed socket.
func (s *Server) HandleDisconnect(handle string) {
	s.registry.Remove(handle)
}

// HandleCommandResponse records an asynchronous command outcome.
func (s *Server) HandleCommandResponse(handle string, resp models.CommandResponse) {
	s.correlator.OnCommandResponse(handle, resp.Command, resp.Status, resp.Payload)
}

// HandleInitialUpload persists a registration document plus optional
// image and refreshes the historical index. It returns the device
// identifier the upload was attributed to.
func (s *Server) HandleInitialUpload(upload models.InitialUpload, raw []byte, imageName string, image []byte) (string, error) {
	deviceID := upload.DeviceID
	if !identity.Acceptable(deviceID) {
		deviceID = identity.DeriveFromInfo(upload.DeviceInfo.Model, upload.DeviceInfo.DeviceName)
	}

	// Sanitize exactly once so a degenerate identifier mints a single
	// fallback key; the store's own sanitizing is idempotent on the
	// result, keeping the record and image under one directory.
	deviceID = identity.Sanitize(deviceID)

	if _, err := s.store.SaveRegistration(deviceID, raw); err != nil {
		return "", fmt.Errorf("failed to store registration record: %w", err)
	}

	if len(image) > 0 {
		if _, err := s.store.Save(deviceID, "initial_img", image, imageName); err != nil {
			return "", fmt.Errorf("failed to store registration image: %w", err)
		}
	}

	if err := s.history.Refresh(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh historical index after initial upload")
	}

	return deviceID, nil
}

// HandleCommandFile stores a command-correlated upload and feeds the
// correlator. It returns the stored filename.
func (s *Server) HandleCommandFile(deviceID, commandRef, filename string, data []byte) (string, error) {
	id := identity.Sanitize(deviceID)

	stored, err := s.store.Save(id, commandRef, data, filename)
	if err != nil {
		return "", fmt.Errorf("failed to store command file: %w", err)
	}

	s.correlator.OnFileDelivered(id, commandRef, stored)

	if !s.history.Contains(id) {
		if err := s.history.Refresh(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to refresh historical index after file delivery")
		}
	}

	return stored, nil
}

// Dispatch sends a command to the session's agent and returns the
// command reference.
func (s *Server) Dispatch(ctx context.Context, handle, commandName string, args map[string]interface{}) (string, error) {
	s.mu.RLock()
	dispatcher := s.dispatcher
	s.mu.RUnlock()

	if dispatcher == nil {
		return "", errTransportNotSet
	}

	return dispatcher.Dispatch(ctx, handle, commandName, args)
}

// Sessions returns a snapshot of live sessions.
func (s *Server) Sessions() []models.Session {
	return s.registry.Snapshot()
}

// FindSession returns the session for a handle.
func (s *Server) FindSession(handle string) (models.Session, bool) {
	return s.registry.Find(handle)
}

// Devices returns the historical device index.
func (s *Server) Devices() []string {
	return s.history.List()
}

// ListArtifacts lists stored files for a device.
func (s *Server) ListArtifacts(deviceID string) ([]models.Artifact, error) {
	return s.store.ListArtifacts(identity.Sanitize(deviceID))
}

// DeviceState returns the correlator's view of a device.
func (s *Server) DeviceState(deviceID string) models.DeviceState {
	return s.correlator.DeviceState(identity.Sanitize(deviceID))
}

// RefreshDevices re-scans the artifact store.
func (s *Server) RefreshDevices() error {
	return s.history.Refresh()
}

// Subscribe attaches an observer to the change notification bus and
// returns its unsubscribe function.
func (s *Server) Subscribe(observer events.Observer) func() {
	return s.bus.Subscribe(observer)
}

// Stop releases the engine's external connections.
func (s *Server) Stop(_ context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	if s.natsConn != nil {
		s.natsConn.Close()
	}

	return nil
}
