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

package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(event models.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds := make([]models.EventKind, 0, len(p.events))
	for _, event := range p.events {
		kinds = append(kinds, event.Kind)
	}

	return kinds
}

func newTestRegistry() (*SessionRegistry, *recordingPublisher) {
	publisher := &recordingPublisher{}
	return NewSessionRegistry(publisher, logger.NewTestLogger()), publisher
}

func TestRegister_EmitsSessionAdded(t *testing.T) {
	reg, publisher := newTestRegistry()

	session, err := reg.Register("h1", models.RegistrationPayload{
		DeviceID:   "phone1",
		DeviceName: "Kitchen Phone",
		Platform:   "android",
	}, "10.0.0.5:39022")

	require.NoError(t, err)
	assert.Equal(t, "phone1", session.DeviceID)
	assert.Equal(t, "Kitchen Phone", session.DisplayName)
	assert.Equal(t, session.ConnectedAt, session.LastSeen)
	assert.Equal(t, []models.EventKind{models.EventSessionAdded}, publisher.kinds())
}

func TestRegister_MissingDeviceIDRejected(t *testing.T) {
	reg, publisher := newTestRegistry()

	_, err := reg.Register("h1", models.RegistrationPayload{}, "10.0.0.5:39022")

	require.ErrorIs(t, err, ErrRegistrationRejected)
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, []models.EventKind{models.EventRegistrationRejected}, publisher.kinds())
}

func TestRegister_LastWriterWinsForHandle(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.Register("h1", models.RegistrationPayload{DeviceID: "dev-a"}, "addr")
	require.NoError(t, err)

	_, err = reg.Register("h1", models.RegistrationPayload{DeviceID: "dev-b"}, "addr")
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Count())

	session, ok := reg.Find("h1")
	require.True(t, ok)
	assert.Equal(t, "dev-b", session.DeviceID)
}

func TestRegister_DefaultsDisplayNameAndPlatform(t *testing.T) {
	reg, _ := newTestRegistry()

	session, err := reg.Register("abcdef123456", models.RegistrationPayload{DeviceID: "dev1"}, "addr")
	require.NoError(t, err)
	assert.Equal(t, "Device_abcdef", session.DisplayName)
	assert.Equal(t, "Unknown", session.Platform)
}

func TestTouch(t *testing.T) {
	reg, _ := newTestRegistry()

	t.Run("unknown handle returns false and creates nothing", func(t *testing.T) {
		assert.False(t, reg.Touch("ghost"))
		assert.Equal(t, 0, reg.Count())
	})

	t.Run("updates last-activity without changing connect time", func(t *testing.T) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		current := base
		reg.now = func() time.Time { return current }

		_, err := reg.Register("h1", models.RegistrationPayload{DeviceID: "phone1"}, "addr")
		require.NoError(t, err)

		current = base.Add(30 * time.Second)
		require.True(t, reg.Touch("h1"))

		session, ok := reg.Find("h1")
		require.True(t, ok)
		assert.Equal(t, base, session.ConnectedAt)
		assert.Equal(t, base.Add(30*time.Second), session.LastSeen)
		assert.Equal(t, "phone1", session.DeviceID)
	})
}

func TestRemove(t *testing.T) {
	reg, publisher := newTestRegistry()

	_, err := reg.Register("h1", models.RegistrationPayload{DeviceID: "dev1"}, "addr")
	require.NoError(t, err)

	session, ok := reg.Remove("h1")
	require.True(t, ok)
	assert.Equal(t, "dev1", session.DeviceID)

	_, ok = reg.FindByDeviceID("dev1")
	assert.False(t, ok, "FindByDeviceID must be empty after remove")

	// Double disconnect is a no-op.
	_, ok = reg.Remove("h1")
	assert.False(t, ok)

	assert.Equal(t, []models.EventKind{
		models.EventSessionAdded,
		models.EventSessionRemoved,
	}, publisher.kinds())
}

func TestFindByDeviceID_ReturnsMostRecentlyRegistered(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.Register("h1", models.RegistrationPayload{DeviceID: "dup"}, "addr1")
	require.NoError(t, err)

	_, err = reg.Register("h2", models.RegistrationPayload{DeviceID: "dup"}, "addr2")
	require.NoError(t, err)

	session, ok := reg.FindByDeviceID("dup")
	require.True(t, ok)
	assert.Equal(t, "h2", session.Handle)
}

func TestSnapshot_IsCopyOut(t *testing.T) {
	reg, _ := newTestRegistry()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	reg.now = func() time.Time { return current }

	_, err := reg.Register("h1", models.RegistrationPayload{DeviceID: "dev1"}, "addr")
	require.NoError(t, err)

	current = base.Add(time.Second)

	_, err = reg.Register("h2", models.RegistrationPayload{DeviceID: "dev2"}, "addr")
	require.NoError(t, err)

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "h1", snapshot[0].Handle)
	assert.Equal(t, "h2", snapshot[1].Handle)

	// Mutating the snapshot must not leak into the registry.
	snapshot[0].DeviceID = "tampered"

	session, ok := reg.Find("h1")
	require.True(t, ok)
	assert.Equal(t, "dev1", session.DeviceID)
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	reg, _ := newTestRegistry()

	const workers = 16

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			handle := fmt.Sprintf("h%d", n)

			for j := 0; j < 100; j++ {
				_, err := reg.Register(handle, models.RegistrationPayload{
					DeviceID: fmt.Sprintf("dev%d", n),
				}, "addr")
				assert.NoError(t, err)

				reg.Touch(handle)
				reg.Snapshot()
				reg.FindByDeviceID(fmt.Sprintf("dev%d", n))
				reg.Remove(handle)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 0, reg.Count())
}
