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

// Package history maintains the index of every device that has ever
// delivered data, independent of current liveness. It is a read-through
// cache over durable artifact storage, rebuilt by explicit refresh; a
// refresh racing a concurrent write may miss it, and the next refresh
// will pick it up.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

// DeviceLister is the slice of the artifact store the index depends on.
type DeviceLister interface {
	ListDevices() ([]string, error)
}

// Index caches the set of historical device identifiers, sorted.
type Index struct {
	mu      sync.RWMutex
	devices []string

	store     DeviceLister
	publisher events.Publisher
	logger    logger.Logger
}

func NewIndex(store DeviceLister, publisher events.Publisher, log logger.Logger) *Index {
	return &Index{
		store:     store,
		publisher: publisher,
		logger:    log,
	}
}

// List returns the cached device identifiers, lexicographically sorted.
func (i *Index) List() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]string, len(i.devices))
	copy(out, i.devices)

	return out
}

// Contains reports whether the cached index knows the device.
func (i *Index) Contains(deviceID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	idx := sort.SearchStrings(i.devices, deviceID)

	return idx < len(i.devices) && i.devices[idx] == deviceID
}

// Refresh re-scans durable storage synchronously and publishes
// HistoricalIndexChanged when membership changed. O(stored devices);
// intended for ingestion events and explicit operator action, not hot
// paths.
func (i *Index) Refresh() error {
	devices, err := i.store.ListDevices()
	if err != nil {
		return err
	}

	sort.Strings(devices)

	i.mu.Lock()
	changed := !equalStrings(i.devices, devices)

	if changed {
		i.devices = devices
	}
	i.mu.Unlock()

	if !changed {
		return nil
	}

	i.logger.Debug().
		Int("devices", len(devices)).
		Msg("Historical device index refreshed")

	i.publisher.Publish(models.ChangeEvent{
		Kind:      models.EventHistoricalIndexChanged,
		Timestamp: time.Now(),
	})

	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}

	return true
}
