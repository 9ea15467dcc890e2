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

package natsutil

import (
	"context"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

const forwardTimeout = 5 * time.Second

// ChangePublisher is the subset of EventPublisher the forwarder needs.
type ChangePublisher interface {
	PublishChangeEvent(ctx context.Context, change models.ChangeEvent) error
}

// Forwarder subscribes to the in-process notification bus and mirrors each
// change event to JetStream. Publish failures are logged and dropped so a
// NATS outage never blocks console mutations.
type Forwarder struct {
	publisher ChangePublisher
	logger    logger.Logger
}

// NewForwarder creates a bus observer that mirrors events to NATS.
func NewForwarder(publisher ChangePublisher, log logger.Logger) *Forwarder {
	return &Forwarder{publisher: publisher, logger: log}
}

// OnChange implements events.Observer.
func (f *Forwarder) OnChange(change models.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	if err := f.publisher.PublishChangeEvent(ctx, change); err != nil {
		f.logger.Warn().
			Err(err).
			Str("kind", string(change.Kind)).
			Str("device_id", change.DeviceID).
			Msg("Failed to mirror change event to NATS")
	}
}
