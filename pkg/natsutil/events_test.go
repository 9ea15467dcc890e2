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
	"errors"
	"testing"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPublishFixture = errors.New("fixture publish error")

func TestEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	change := models.ChangeEvent{
		Kind:      models.EventSessionAdded,
		DeviceID:  "dev1",
		Timestamp: ts,
	}

	event := envelope(change)

	assert.Equal(t, "1.0", event.SpecVersion)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "fleetconsole/console", event.Source)
	assert.Equal(t, "com.carverauto.fleetconsole.session_added", event.Type)
	assert.Equal(t, "events.console.session_added", event.Subject)
	require.NotNil(t, event.Time)
	assert.Equal(t, ts, *event.Time)
	assert.Equal(t, change, event.Data)
}

func TestEnvelope_UniqueIDs(t *testing.T) {
	change := models.ChangeEvent{Kind: models.EventArtifactAdded}

	first := envelope(change)
	second := envelope(change)

	assert.NotEqual(t, first.ID, second.ID)
}

type fakeChangePublisher struct {
	published []models.ChangeEvent
	err       error
}

func (f *fakeChangePublisher) PublishChangeEvent(_ context.Context, change models.ChangeEvent) error {
	f.published = append(f.published, change)
	return f.err
}

func TestForwarder_MirrorsEvents(t *testing.T) {
	fake := &fakeChangePublisher{}
	fwd := NewForwarder(fake, logger.NewTestLogger())

	change := models.ChangeEvent{Kind: models.EventCommandSent, DeviceID: "dev1"}
	fwd.OnChange(change)

	require.Len(t, fake.published, 1)
	assert.Equal(t, change, fake.published[0])
}

func TestForwarder_SwallowsPublishErrors(t *testing.T) {
	fake := &fakeChangePublisher{err: errPublishFixture}
	fwd := NewForwarder(fake, logger.NewTestLogger())

	assert.NotPanics(t, func() {
		fwd.OnChange(models.ChangeEvent{Kind: models.EventSessionRemoved})
	})
}
