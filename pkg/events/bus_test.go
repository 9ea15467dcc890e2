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

package events

import (
	"testing"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var order []string

	bus.Subscribe(ObserverFunc(func(_ models.ChangeEvent) {
		order = append(order, "first")
	}))
	bus.Subscribe(ObserverFunc(func(_ models.ChangeEvent) {
		order = append(order, "second")
	}))

	bus.Publish(models.ChangeEvent{Kind: models.EventSessionAdded})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var calls int

	unsubscribe := bus.Subscribe(ObserverFunc(func(_ models.ChangeEvent) {
		calls++
	}))

	bus.Publish(models.ChangeEvent{Kind: models.EventSessionAdded})
	unsubscribe()
	bus.Publish(models.ChangeEvent{Kind: models.EventSessionRemoved})

	assert.Equal(t, 1, calls)
}

func TestBus_PanickingObserverDoesNotStallPublisher(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	bus.Subscribe(ObserverFunc(func(_ models.ChangeEvent) {
		panic("bad observer")
	}))

	var got []models.EventKind

	bus.Subscribe(ObserverFunc(func(event models.ChangeEvent) {
		got = append(got, event.Kind)
	}))

	require.NotPanics(t, func() {
		bus.Publish(models.ChangeEvent{Kind: models.EventArtifactAdded})
	})

	assert.Equal(t, []models.EventKind{models.EventArtifactAdded}, got)
}

func TestBus_PerDeviceOrderFollowsPublishOrder(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var kinds []models.EventKind

	bus.Subscribe(ObserverFunc(func(event models.ChangeEvent) {
		if event.DeviceID == "dev1" {
			kinds = append(kinds, event.Kind)
		}
	}))

	bus.Publish(models.ChangeEvent{Kind: models.EventSessionAdded, DeviceID: "dev1"})
	bus.Publish(models.ChangeEvent{Kind: models.EventResponseReceived, DeviceID: "dev1"})
	bus.Publish(models.ChangeEvent{Kind: models.EventSessionRemoved, DeviceID: "dev1"})

	assert.Equal(t, []models.EventKind{
		models.EventSessionAdded,
		models.EventResponseReceived,
		models.EventSessionRemoved,
	}, kinds)
}
