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

// Package events provides the in-process change-notification bus.
// Components publish a ChangeEvent after each successful state
// mutation; observers (API stream, NATS mirror, logs) subscribe.
package events

import (
	"sync"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

// Publisher is the write side of the bus, injected into mutating
// components.
type Publisher interface {
	Publish(event models.ChangeEvent)
}

// Observer receives published events. Delivery is synchronous on the
// publishing goroutine; observers must not block.
type Observer interface {
	OnChange(event models.ChangeEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event models.ChangeEvent)

func (f ObserverFunc) OnChange(event models.ChangeEvent) {
	f(event)
}

// Bus fans published events out to every subscriber, in subscription
// order, on the caller's goroutine. Events for the same device are
// therefore delivered in mutation order.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	observers []subscription
	logger    logger.Logger
}

type subscription struct {
	id       int
	observer Observer
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{logger: log}
}

// Subscribe registers an observer and returns a function that removes
// it again.
func (b *Bus) Subscribe(observer Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, observer: observer})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, sub := range b.observers {
			if sub.id == id {
				b.observers = append(b.observers[:i], b.observers[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to every subscriber. A panicking observer
// is logged and skipped so it cannot take the publisher down with it.
func (b *Bus) Publish(event models.ChangeEvent) {
	b.mu.RLock()
	observers := make([]subscription, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, sub := range observers {
		b.deliver(sub.observer, event)
	}
}

func (b *Bus) deliver(observer Observer, event models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("kind", string(event.Kind)).
				Str("device_id", event.DeviceID).
				Msg("Observer panicked while handling change event")
		}
	}()

	observer.OnChange(event)
}
