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

	"github.com/carverauto/fleetconsole/pkg/config"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

const (
	defaultAgentListenAddr = ":8000"
	defaultAPIListenAddr   = ":8080"
	defaultDataDir         = "/var/lib/fleetconsole/uploads"
)

// Config is the console service configuration.
type Config struct {
	// AgentListenAddr serves the agent WebSocket and upload endpoints.
	AgentListenAddr string `json:"agent_listen_addr"`
	// APIListenAddr serves the operator HTTP API and event stream.
	APIListenAddr string `json:"api_listen_addr"`
	// DataDir is the root of the per-device artifact store.
	DataDir string `json:"data_dir"`
	// APIKey guards the operator API when set.
	APIKey string `json:"api_key,omitempty"`

	Logging *logger.Config      `json:"logging,omitempty"`
	NATS    *models.NATSConfig  `json:"nats,omitempty"`
	Events  models.EventsConfig `json:"events"`
}

// Validate applies defaults and checks the optional NATS section.
func (c *Config) Validate() error {
	if c.AgentListenAddr == "" {
		c.AgentListenAddr = defaultAgentListenAddr
	}

	if c.APIListenAddr == "" {
		c.APIListenAddr = defaultAPIListenAddr
	}

	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("invalid events configuration: %w", err)
	}

	if c.Events.Enabled {
		if c.NATS == nil {
			return errEventsRequireNATS
		}

		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("invalid NATS configuration: %w", err)
		}
	}

	return nil
}

// LoadConfig reads and validates the console configuration.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	var cfg Config

	loader := config.NewConfig(nil)
	if err := loader.LoadAndValidate(ctx, path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
