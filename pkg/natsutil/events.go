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

// Package natsutil mirrors console change events to NATS JetStream as
// CloudEvents so external consumers can follow fleet activity.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	eventSource     = "fleetconsole/console"
	eventTypePrefix = "com.carverauto.fleetconsole"
	subjectPrefix   = "events.console"
)

// EventPublisher publishes CloudEvents to a NATS JetStream stream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		logger: log,
	}
}

// envelope wraps a console change event in a CloudEvents v1.0 envelope
// addressed to events.console.<kind>.
func envelope(change models.ChangeEvent) models.CloudEvent {
	ts := change.Timestamp

	return models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            fmt.Sprintf("%s.%s", eventTypePrefix, change.Kind),
		DataContentType: "application/json",
		Subject:         fmt.Sprintf("%s.%s", subjectPrefix, change.Kind),
		Time:            &ts,
		Data:            change,
	}
}

// PublishChangeEvent publishes a console change event to JetStream.
func (p *EventPublisher) PublishChangeEvent(ctx context.Context, change models.ChangeEvent) error {
	event := envelope(change)

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("sequence", ack.Sequence).
		Msg("Published change event")

	return nil
}

// ConnectWithSecurity creates a NATS connection, applying mTLS options when
// security material is configured.
func ConnectWithSecurity(natsURL string, security *models.SecurityConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if security != nil && security.TLS.CertFile != "" {
		tlsConf, err := TLSConfig(security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts,
			nats.Secure(tlsConf),
			nats.RootCAs(security.TLS.CAFile),
			nats.ClientCert(security.TLS.CertFile, security.TLS.KeyFile),
		)
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher creates an EventPublisher for an existing NATS
// connection, ensuring the target stream exists.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName string, subjects []string, log logger.Logger) (*EventPublisher, error) {
	return CreateEventPublisherWithDomain(ctx, nc, "", streamName, subjects, log)
}

// CreateEventPublisherWithDomain creates an EventPublisher with optional
// JetStream domain support.
func CreateEventPublisherWithDomain(ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string, log logger.Logger) (*EventPublisher, error) {
	var js jetstream.JetStream

	var err error

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	_, err = js.Stream(ctx, streamName)
	if err != nil {
		// Create the stream if it doesn't exist yet.
		if len(subjects) == 0 {
			subjects = []string{subjectPrefix + ".*"}
		}

		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}

		_, err = js.CreateOrUpdateStream(ctx, streamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Msg("Created NATS JetStream stream")
	}

	return NewEventPublisher(js, streamName, log), nil
}
