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

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/gorilla/websocket"
)

const (
	streamPingInterval = 30 * time.Second
	streamBuffer       = 64
)

// StreamMessage represents a message sent over the event stream.
type StreamMessage struct {
	Type      string              `json:"type"` // "event", "ping"
	Event     *models.ChangeEvent `json:"event,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// handleStream upgrades the connection and pushes every change event to
// the operator client until it disconnects.
func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(*http.Request) bool {
			// CORS is permissive for the operator UI; the API key
			// middleware already gated this request.
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	s.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Event stream client connected")

	defer func() {
		s.logger.Debug().
			Str("remote_addr", r.RemoteAddr).
			Msg("Closing event stream connection")
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.readClientMessages(ctx, conn, cancel)

	eventCh := make(chan models.ChangeEvent, streamBuffer)

	unsubscribe := s.engine.Subscribe(events.ObserverFunc(func(event models.ChangeEvent) {
		select {
		case eventCh <- event:
		default:
			// A slow client loses events rather than stalling publishers.
			s.logger.Warn().
				Str("remote_addr", r.RemoteAddr).
				Str("kind", string(event.Kind)).
				Msg("Event stream buffer full, dropping event")
		}
	}))
	defer unsubscribe()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			msg := StreamMessage{Type: "event", Event: &event, Timestamp: time.Now()}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ticker.C:
			msg := StreamMessage{Type: "ping", Timestamp: time.Now()}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream ping failed")
				return
			}
		}
	}
}

// readClientMessages drains the client side of the socket so close
// frames are noticed.
func (s *APIServer) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Event stream client read ended")
			}

			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
