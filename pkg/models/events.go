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

package models

import (
	"fmt"
	"time"
)

// EventKind identifies a change-notification event.
type EventKind string

const (
	EventSessionAdded           EventKind = "session_added"
	EventSessionRemoved         EventKind = "session_removed"
	EventRegistrationRejected   EventKind = "registration_rejected"
	EventCommandSent            EventKind = "command_sent"
	EventResponseReceived       EventKind = "response_received"
	EventArtifactAdded          EventKind = "artifact_added"
	EventHistoricalIndexChanged EventKind = "historical_index_changed"
)

// ChangeEvent is published on the notification bus after each successful
// state mutation. Fields beyond Kind, DeviceID and Timestamp are set
// per kind.
type ChangeEvent struct {
	Kind         EventKind              `json:"kind"`
	DeviceID     string                 `json:"device_id,omitempty"`
	Handle       string                 `json:"handle,omitempty"`
	Command      string                 `json:"command,omitempty"`
	CommandRef   string                 `json:"command_ref,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Filename     string                 `json:"filename,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Args         map[string]interface{} `json:"args,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	ArtifactHint bool                   `json:"artifact_hint,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event, used when
// mirroring change events to NATS JetStream.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype,omitempty"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// NATSConfig configures NATS connectivity.
type NATSConfig struct {
	URL      string          `json:"url"`
	Domain   string          `json:"domain,omitempty"`
	Security *SecurityConfig `json:"security,omitempty"`
}

// Validate ensures the NATS configuration is valid.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats url is required")
	}

	return nil
}

// EventsConfig configures mirroring of change events to NATS.
type EventsConfig struct {
	Enabled    bool     `json:"enabled"`
	StreamName string   `json:"stream_name"`
	Subjects   []string `json:"subjects"`
}

// Validate ensures the events configuration is valid and applies
// defaults.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.StreamName == "" {
		c.StreamName = "console-events"
	}

	if len(c.Subjects) == 0 {
		c.Subjects = []string{"events.console.*"}
	}

	return nil
}

// SecurityConfig holds TLS material for outbound connections.
type SecurityConfig struct {
	TLS        TLSPaths `json:"tls"`
	ServerName string   `json:"server_name,omitempty"`
}

// TLSPaths names the certificate files used for mTLS.
type TLSPaths struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}
