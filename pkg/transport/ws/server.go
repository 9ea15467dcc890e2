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

// Package ws is the agent-facing transport: a WebSocket endpoint for the
// session protocol plus HTTP endpoints for out-of-band uploads.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	// Inbound frame events.
	eventRegisterDevice  = "register_device"
	eventDeviceHeartbeat = "device_heartbeat"
	eventCommandResponse = "command_response"

	// Outbound frame events.
	eventRegistrationSuccessful  = "registration_successful"
	eventRegistrationFailed      = "registration_failed"
	eventRequestRegistrationInfo = "request_registration_info"
)

// Engine is the callback surface the transport drives. *core.Server
// satisfies it.
type Engine interface {
	HandleConnect(handle, remoteAddr string)
	HandleRegister(handle string, payload models.RegistrationPayload, originAddr string) (models.Session, error)
	HandleHeartbeat(handle string) bool
	HandleDisconnect(handle string)
	HandleCommandResponse(handle string, resp models.CommandResponse)
	HandleInitialUpload(upload models.InitialUpload, raw []byte, imageName string, image []byte) (string, error)
	HandleCommandFile(deviceID, commandRef, filename string, data []byte) (string, error)
}

// frame is the JSON envelope exchanged with agents.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outFrame is the outbound counterpart; Payload is marshaled as given.
type outFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// agentConn serializes writes to one agent socket. The dispatcher and
// the reader goroutine both write to it.
type agentConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *agentConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteJSON(v)
}

// Server accepts agent connections, decodes protocol frames and drives
// the engine. It also implements dispatch.Transport for outbound
// commands.
type Server struct {
	engine Engine
	logger logger.Logger

	mu    sync.RWMutex
	conns map[string]*agentConn

	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the agent transport around the engine.
func NewServer(engine Engine, log logger.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: log,
		conns:  make(map[string]*agentConn),
		router: mux.NewRouter(),
	}

	s.router.HandleFunc("/ws", s.handleAgentSocket).Methods("GET")
	s.router.HandleFunc("/upload_initial_data", s.handleInitialUpload).Methods("POST")
	s.router.HandleFunc("/upload_command_file", s.handleCommandUpload).Methods("POST")

	return s
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves the agent endpoints until the listener fails or Stop is
// called.
func (s *Server) Start(addr string) error {
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
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Send implements dispatch.Transport by writing a command frame to the
// agent socket for the handle.
func (s *Server) Send(_ context.Context, handle, event string, payload interface{}) error {
	s.mu.RLock()
	conn, ok := s.conns[handle]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", errNoSocket, handle)
	}

	if err := conn.writeJSON(outFrame{Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("failed to write frame to %s: %w", handle, err)
	}

	return nil
}

func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade agent connection")

		return
	}

	handle := uuid.New().String()
	agent := &agentConn{conn: conn}

	s.mu.Lock()
	s.conns[handle] = agent
	s.mu.Unlock()

	s.engine.HandleConnect(handle, r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, handle)
		s.mu.Unlock()

		s.engine.HandleDisconnect(handle)
		conn.Close()

		s.logger.Info().
			Str("handle", handle).
			Str("remote_addr", r.RemoteAddr).
			Msg("Agent disconnected")
	}()

	for {
		var f frame

		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().
					Err(err).
					Str("handle", handle).
					Msg("Agent read ended")
			}

			return
		}

		s.dispatchFrame(handle, agent, r.RemoteAddr, &f)
	}
}

func (s *Server) dispatchFrame(handle string, agent *agentConn, remoteAddr string, f *frame) {
	switch f.Event {
	case eventRegisterDevice:
		s.handleRegister(handle, agent, remoteAddr, f.Payload)
	case eventDeviceHeartbeat:
		if !s.engine.HandleHeartbeat(handle) {
			// Unknown session, likely a console restart. Ask the agent
			// to register again.
			s.writeEvent(agent, handle, eventRequestRegistrationInfo, nil)
		}
	case eventCommandResponse:
		var resp models.CommandResponse

		if err := json.Unmarshal(f.Payload, &resp); err != nil {
			s.logger.Warn().
				Err(err).
				Str("handle", handle).
				Msg("Malformed command_response payload")

			return
		}

		s.engine.HandleCommandResponse(handle, resp)
	default:
		s.logger.Warn().
			Str("handle", handle).
			Str("event", f.Event).
			Msg("Unknown agent event")
	}
}

func (s *Server) handleRegister(handle string, agent *agentConn, remoteAddr string, payload json.RawMessage) {
	var reg models.RegistrationPayload

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &reg); err != nil {
			s.writeEvent(agent, handle, eventRegistrationFailed,
				map[string]string{"message": "Malformed registration payload"})

			return
		}
	}

	session, err := s.engine.HandleRegister(handle, reg, remoteAddr)
	if err != nil {
		// The socket stays open; the agent may retry with a usable
		// identifier.
		s.writeEvent(agent, handle, eventRegistrationFailed,
			map[string]string{"message": "Registration failed: missing device identifier"})

		return
	}

	s.writeEvent(agent, handle, eventRegistrationSuccessful, map[string]string{
		"handle":   handle,
		"deviceId": session.DeviceID,
	})
}

func (s *Server) writeEvent(agent *agentConn, handle, event string, payload interface{}) {
	if err := agent.writeJSON(outFrame{Event: event, Payload: payload}); err != nil {
		s.logger.Debug().
			Err(err).
			Str("handle", handle).
			Str("event", event).
			Msg("Failed to write frame")
	}
}
