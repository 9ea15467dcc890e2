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

// Package registry owns the live session table: the mapping from
// connection handle to session record. It is the single piece of shared
// mutable state in the engine; every operation is safe under concurrent
// transport callbacks. The lock is never held across transport or
// storage I/O.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/carverauto/fleetconsole/pkg/events"
	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
)

type sessionRecord struct {
	session models.Session
	seq     uint64
}

// SessionRegistry tracks live agent sessions keyed by connection handle.
// Device identifiers are a secondary, non-unique lookup: if two handles
// claim the same identifier, FindByDeviceID returns the most recently
// registered one.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	seq      uint64

	publisher events.Publisher
	logger    logger.Logger
	now       func() time.Time
}

func NewSessionRegistry(publisher events.Publisher, log logger.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions:  make(map[string]*sessionRecord),
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// Register inserts or replaces the session for handle and publishes
// SessionAdded. The last writer for a handle wins. Registration without
// a device identifier is rejected; the connection itself stays open and
// the caller is expected to ask the peer to re-register.
func (r *SessionRegistry) Register(handle string, payload models.RegistrationPayload, originAddr string) (models.Session, error) {
	if payload.DeviceID == "" {
		r.logger.Warn().
			Str("handle", handle).
			Str("origin_addr", originAddr).
			Msg("Registration rejected: missing deviceId")

		r.publisher.Publish(models.ChangeEvent{
			Kind:      models.EventRegistrationRejected,
			Handle:    handle,
			Message:   "missing deviceId in registration payload",
			Timestamp: r.now(),
		})

		return models.Session{}, ErrRegistrationRejected
	}

	displayName := payload.DeviceName
	if displayName == "" {
		displayName = defaultDisplayName(handle)
	}

	platform := payload.Platform
	if platform == "" {
		platform = "Unknown"
	}

	timestamp := r.now()
	session := models.Session{
		Handle:      handle,
		DeviceID:    payload.DeviceID,
		DisplayName: displayName,
		Platform:    platform,
		OriginAddr:  originAddr,
		ConnectedAt: timestamp,
		LastSeen:    timestamp,
	}

	r.mu.Lock()
	r.seq++
	r.sessions[handle] = &sessionRecord{session: session, seq: r.seq}
	r.mu.Unlock()

	r.logger.Info().
		Str("handle", handle).
		Str("device_id", session.DeviceID).
		Str("display_name", session.DisplayName).
		Str("origin_addr", originAddr).
		Msg("Device registered")

	r.publisher.Publish(models.ChangeEvent{
		Kind:      models.EventSessionAdded,
		DeviceID:  session.DeviceID,
		Handle:    handle,
		Timestamp: timestamp,
	})

	return session, nil
}

// Touch updates last-activity for a known handle and reports whether the
// handle was known. Identity is never changed by a heartbeat.
func (r *SessionRegistry) Touch(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sessions[handle]
	if !ok {
		return false
	}

	record.session.LastSeen = r.now()

	return true
}

// Remove deletes the session for handle, publishes SessionRemoved, and
// returns the removed session. Removing an unknown handle is a no-op,
// so double disconnects are harmless.
func (r *SessionRegistry) Remove(handle string) (models.Session, bool) {
	r.mu.Lock()
	record, ok := r.sessions[handle]

	if ok {
		delete(r.sessions, handle)
	}
	r.mu.Unlock()

	if !ok {
		return models.Session{}, false
	}

	r.logger.Info().
		Str("handle", handle).
		Str("device_id", record.session.DeviceID).
		Msg("Device disconnected")

	r.publisher.Publish(models.ChangeEvent{
		Kind:      models.EventSessionRemoved,
		DeviceID:  record.session.DeviceID,
		Handle:    handle,
		Timestamp: r.now(),
	})

	return record.session, true
}

// Find returns the session for a connection handle.
func (r *SessionRegistry) Find(handle string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.sessions[handle]
	if !ok {
		return models.Session{}, false
	}

	return record.session, true
}

// FindByDeviceID returns the most recently registered session for a
// device identifier.
func (r *SessionRegistry) FindByDeviceID(deviceID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    *sessionRecord
		bestSeq uint64
	)

	for _, record := range r.sessions {
		if record.session.DeviceID == deviceID && record.seq >= bestSeq {
			best = record
			bestSeq = record.seq
		}
	}

	if best == nil {
		return models.Session{}, false
	}

	return best.session, true
}

// Snapshot returns a point-in-time copy of every live session, ordered
// by connect time then handle. Callers never see the internal map.
func (r *SessionRegistry) Snapshot() []models.Session {
	r.mu.RLock()
	snapshot := make([]models.Session, 0, len(r.sessions))

	for _, record := range r.sessions {
		snapshot = append(snapshot, record.session)
	}
	r.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].ConnectedAt.Equal(snapshot[j].ConnectedAt) {
			return snapshot[i].ConnectedAt.Before(snapshot[j].ConnectedAt)
		}

		return snapshot[i].Handle < snapshot[j].Handle
	})

	return snapshot
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func defaultDisplayName(handle string) string {
	const prefixLen = 6

	if len(handle) > prefixLen {
		handle = handle[:prefixLen]
	}

	return "Device_" + handle
}
