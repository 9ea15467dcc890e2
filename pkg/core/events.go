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

package core

import (
	"context"
	"fmt"

	"github.com/carverauto/fleetconsole/pkg/natsutil"
)

// initializeEventMirror connects to NATS and subscribes a forwarder that
// republishes every change event to JetStream. Mirroring is optional;
// when events or NATS are unconfigured the engine runs without it.
func (s *Server) initializeEventMirror(ctx context.Context) error {
	if !s.config.Events.Enabled {
		s.logger.Info().Msg("Event mirroring not configured, NATS publishing disabled")
		return nil
	}

	nc, err := natsutil.ConnectWithSecurity(s.config.NATS.URL, s.config.NATS.Security, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var publisher *natsutil.EventPublisher

	if s.config.NATS.Domain != "" {
		publisher, err = natsutil.CreateEventPublisherWithDomain(
			ctx, nc, s.config.NATS.Domain, s.config.Events.StreamName, s.config.Events.Subjects, s.logger)
	} else {
		publisher, err = natsutil.CreateEventPublisher(
			ctx, nc, s.config.Events.StreamName, s.config.Events.Subjects, s.logger)
	}

	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create event publisher: %w", err)
	}

	s.natsConn = nc
	s.eventPublisher = publisher
	s.unsubscribe = s.bus.Subscribe(natsutil.NewForwarder(publisher, s.logger))

	s.logger.Info().
		Str("stream", s.config.Events.StreamName).
		Msg("NATS event mirroring initialized")

	return nil
}
