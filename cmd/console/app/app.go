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

// Package app boots the fleetconsole service.
package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/carverauto/fleetconsole/pkg/core"
	"github.com/carverauto/fleetconsole/pkg/core/api"
	"github.com/carverauto/fleetconsole/pkg/lifecycle"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/transport/ws"
)

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots the console service using the provided options.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := core.LoadConfig(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "console", cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			mainLogger.Error().Err(err).Msg("Error flushing logs")
		}
	}()

	engine, err := core.NewServer(ctx, cfg, mainLogger)
	if err != nil {
		return err
	}

	agentServer := ws.NewServer(engine, mainLogger)
	engine.SetTransport(agentServer)

	apiServer := api.NewAPIServer(engine, mainLogger, api.WithAPIKey(cfg.APIKey))

	mainLogger.Info().
		Str("agent_listen_addr", cfg.AgentListenAddr).
		Str("api_listen_addr", cfg.APIListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("Starting fleetconsole")

	svc := &consoleService{
		cfg:    cfg,
		engine: engine,
		agent:  agentServer,
		api:    apiServer,
		logger: mainLogger,
	}

	return lifecycle.RunService(ctx, svc, mainLogger)
}

// consoleService runs the agent transport and operator API as one
// lifecycle unit.
type consoleService struct {
	cfg    *core.Config
	engine *core.Server
	agent  *ws.Server
	api    *api.APIServer
	logger logger.Logger
}

func (c *consoleService) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- c.agent.Start(c.cfg.AgentListenAddr)
	}()

	go func() {
		errCh <- c.api.Start(c.cfg.APIListenAddr)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	}
}

func (c *consoleService) Stop(ctx context.Context) error {
	var firstErr error

	if err := c.api.Stop(ctx); err != nil {
		firstErr = err
	}

	if err := c.agent.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := c.engine.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
