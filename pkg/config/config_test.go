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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAlwaysInvalid = errors.New("always invalid")

type sampleConfig struct {
	ListenAddr string        `json:"listen_addr"`
	DataDir    string        `json:"data_dir"`
	Timeout    time.Duration `json:"timeout"`
	Logging    sampleLogging `json:"logging"`
	Tags       []string      `json:"tags"`

	invalid bool
}

type sampleLogging struct {
	Level string `json:"level"`
	Debug bool   `json:"debug"`
}

func (s *sampleConfig) Validate() error {
	if s.invalid {
		return errAlwaysInvalid
	}

	return nil
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "console.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidate_FromFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfigFile(t, `{
		"listen_addr": ":8080",
		"data_dir": "/var/lib/console",
		"logging": {"level": "debug", "debug": true}
	}`)

	var cfg sampleConfig

	cfgLoader := NewConfig(logger.NewTestLogger())
	require.NoError(t, cfgLoader.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/console", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Debug)
}

func TestLoadAndValidate_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg sampleConfig

	cfgLoader := NewConfig(logger.NewTestLogger())
	err := cfgLoader.LoadAndValidate(context.Background(), "/nonexistent/console.json", &cfg)
	require.Error(t, err)
}

func TestLoadAndValidate_InvalidSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "carrier-pigeon")

	var cfg sampleConfig

	cfgLoader := NewConfig(logger.NewTestLogger())
	err := cfgLoader.LoadAndValidate(context.Background(), "ignored.json", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadAndValidate_ValidatorFailure(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfigFile(t, `{"listen_addr": ":8080"}`)

	cfg := sampleConfig{invalid: true}

	cfgLoader := NewConfig(logger.NewTestLogger())
	err := cfgLoader.LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errAlwaysInvalid)
}

func TestEnvConfigLoader(t *testing.T) {
	t.Setenv("FLEETCONSOLE_LISTEN_ADDR", ":9090")
	t.Setenv("FLEETCONSOLE_TIMEOUT", "30s")
	t.Setenv("FLEETCONSOLE_LOGGING_LEVEL", "warn")
	t.Setenv("FLEETCONSOLE_LOGGING_DEBUG", "true")
	t.Setenv("FLEETCONSOLE_TAGS", "lab, staging")

	var cfg sampleConfig

	loader := NewEnvConfigLoader(logger.NewTestLogger(), "FLEETCONSOLE_")
	require.NoError(t, loader.Load(context.Background(), "", &cfg))

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, []string{"lab", "staging"}, cfg.Tags)
}

func TestEnvConfigLoader_ConfigJSONTakesPrecedence(t *testing.T) {
	t.Setenv("FLEETCONSOLE_CONFIG_JSON", `{"listen_addr": ":7070"}`)
	t.Setenv("FLEETCONSOLE_LISTEN_ADDR", ":9090")

	var cfg sampleConfig

	loader := NewEnvConfigLoader(logger.NewTestLogger(), "FLEETCONSOLE_")
	require.NoError(t, loader.Load(context.Background(), "", &cfg))

	assert.Equal(t, ":7070", cfg.ListenAddr)
}

func TestEnvConfigLoader_RequiresStructPointer(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "FLEETCONSOLE_")

	assert.ErrorIs(t, loader.Load(context.Background(), "", nil), ErrDstMustBeNonNilPointer)

	value := "not a struct"
	assert.ErrorIs(t, loader.Load(context.Background(), "", &value), ErrDstMustBePointerToStruct)
}
