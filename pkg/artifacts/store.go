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

// Package artifacts is the durable store for everything agents deliver:
// registration records and uploaded files. Each device owns a directory
// named by its sanitized identifier; filenames embed a sortable
// timestamp so the latest record is the lexicographic max.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/fleetconsole/pkg/identity"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

const (
	timestampLayout = "20060102_150405"

	registrationPrefix = "info_"

	defaultExt = ".dat"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Store persists device artifacts under a single root directory.
type Store struct {
	root   string
	logger logger.Logger
	now    func() time.Time
}

func NewStore(root string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("%w: creating root %s: %w", ErrStorageUnavailable, root, err)
	}

	return &Store{root: root, logger: log, now: time.Now}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// SaveRegistration writes one registration record for the device and
// returns the stored filename. Records are never overwritten; the
// latest one is determinable by lexicographic max.
func (s *Store) SaveRegistration(deviceID string, doc []byte) (string, error) {
	dir, err := s.deviceDir(deviceID)
	if err != nil {
		return "", err
	}

	name := registrationPrefix + s.now().Format(timestampLayout) + ".json"
	path, name := s.uniquePath(dir, name)

	if err := os.WriteFile(path, doc, filePerm); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", ErrStorageUnavailable, path, err)
	}

	s.logger.Info().
		Str("device_id", deviceID).
		Str("filename", name).
		Int("bytes", len(doc)).
		Msg("Saved registration record")

	return name, nil
}

// Save stores an artifact under the device's directory and returns the
// stored filename. category prefixes the name (e.g. a sanitized command
// reference or "initial_img"); suggestedName contributes the base name
// and extension.
func (s *Store) Save(deviceID, category string, data []byte, suggestedName string) (string, error) {
	dir, err := s.deviceDir(deviceID)
	if err != nil {
		return "", err
	}

	base, ext := splitSuggestedName(suggestedName)

	name := fmt.Sprintf("%s_%s_%s%s",
		identity.Sanitize(category), base, s.now().Format(timestampLayout), ext)
	path, name := s.uniquePath(dir, name)

	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", ErrStorageUnavailable, path, err)
	}

	s.logger.Info().
		Str("device_id", deviceID).
		Str("category", category).
		Str("filename", name).
		Int("bytes", len(data)).
		Msg("Saved artifact")

	return name, nil
}

// ListDevices returns the sanitized identifier of every device that has
// ever delivered data.
func (s *Store) ListDevices() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageUnavailable, s.root, err)
	}

	devices := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			devices = append(devices, entry.Name())
		}
	}

	return devices, nil
}

// ListArtifacts returns every stored file for a device, ordered by
// filename. An unknown device yields an empty listing, not an error.
func (s *Store) ListArtifacts(deviceID string) ([]models.Artifact, error) {
	dir := filepath.Join(s.root, identity.Sanitize(deviceID))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageUnavailable, dir, err)
	}

	artifacts := make([]models.Artifact, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		artifacts = append(artifacts, models.Artifact{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})

	return artifacts, nil
}

// LatestRegistration returns the newest registration record for a
// device, or ErrNoRegistration if none was ever stored.
func (s *Store) LatestRegistration(deviceID string) ([]byte, error) {
	artifactList, err := s.ListArtifacts(deviceID)
	if err != nil {
		return nil, err
	}

	latest := ""

	for _, artifact := range artifactList {
		if strings.HasPrefix(artifact.Name, registrationPrefix) && artifact.Name > latest {
			latest = artifact.Name
		}
	}

	if latest == "" {
		return nil, ErrNoRegistration
	}

	path := filepath.Join(s.root, identity.Sanitize(deviceID), latest)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorageUnavailable, path, err)
	}

	return data, nil
}

func (s *Store) deviceDir(deviceID string) (string, error) {
	dir := filepath.Join(s.root, identity.Sanitize(deviceID))

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", ErrStorageUnavailable, dir, err)
	}

	return dir, nil
}

// uniquePath appends a numeric suffix when the target name already
// exists, so two stores within the same second never clobber each other.
func (s *Store) uniquePath(dir, name string) (path, finalName string) {
	path = filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)

		path = filepath.Join(dir, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, candidate
		}
	}
}

func splitSuggestedName(suggestedName string) (base, ext string) {
	name := filepath.Base(suggestedName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}

	ext = filepath.Ext(name)

	base = strings.TrimSuffix(name, ext)
	if base == "" {
		base = "upload"
	}

	base = identity.Sanitize(base)

	if ext == "" {
		ext = defaultExt
	} else {
		ext = "." + identity.Sanitize(strings.TrimPrefix(ext, "."))
	}

	return base, ext
}
