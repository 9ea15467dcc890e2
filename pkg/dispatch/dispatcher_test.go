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

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type staticLookup struct {
	sessions map[string]models.Session
}

func (s *staticLookup) Find(handle string) (models.Session, bool) {
	session, ok := s.sessions[handle]
	return session, ok
}

type recordingPublisher struct {
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(event models.ChangeEvent) {
	p.events = append(p.events, event)
}

func TestDispatch_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	publisher := &recordingPublisher{}
	lookup := &staticLookup{sessions: map[string]models.Session{
		"h1": {Handle: "h1", DeviceID: "phone1"},
	}}

	var sentPayload map[string]interface{}

	transport.EXPECT().
		Send(gomock.Any(), "h1", "collect_diagnostics", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, payload interface{}) error {
			sentPayload = payload.(map[string]interface{})
			return nil
		})

	dispatcher := NewDispatcher(lookup, transport, publisher, logger.NewTestLogger())

	ref, err := dispatcher.Dispatch(context.Background(), "h1", "collect_diagnostics",
		map[string]interface{}{"verbose": true})

	require.NoError(t, err)
	require.NotEmpty(t, ref)

	// The generated reference rides along so the agent can echo it on
	// file deliveries.
	assert.Equal(t, ref, sentPayload["commandRef"])
	assert.Equal(t, true, sentPayload["verbose"])

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, models.EventCommandSent, event.Kind)
	assert.Equal(t, "phone1", event.DeviceID)
	assert.Equal(t, "collect_diagnostics", event.Command)
	assert.Equal(t, ref, event.CommandRef)
	assert.Equal(t, map[string]interface{}{"verbose": true}, event.Args)
}

func TestDispatch_NotConnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	// No Send expectation: an unknown handle must never reach the
	// transport.
	publisher := &recordingPublisher{}
	dispatcher := NewDispatcher(&staticLookup{}, transport, publisher, logger.NewTestLogger())

	_, err := dispatcher.Dispatch(context.Background(), "never-registered", "collect_diagnostics", nil)

	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, publisher.events)
}

func TestDispatch_TransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("socket write failed")
	transport := NewMockTransport(ctrl)
	transport.EXPECT().
		Send(gomock.Any(), "h1", "reboot", gomock.Any()).
		Return(boom)

	publisher := &recordingPublisher{}
	lookup := &staticLookup{sessions: map[string]models.Session{
		"h1": {Handle: "h1", DeviceID: "phone1"},
	}}

	dispatcher := NewDispatcher(lookup, transport, publisher, logger.NewTestLogger())

	_, err := dispatcher.Dispatch(context.Background(), "h1", "reboot", nil)

	require.ErrorIs(t, err, boom)
	assert.Empty(t, publisher.events, "failed sends must not emit a CommandSent audit event")
}

func TestDispatch_UniqueReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	transport.EXPECT().Send(gomock.Any(), "h1", "ping", gomock.Any()).Return(nil).Times(2)

	lookup := &staticLookup{sessions: map[string]models.Session{
		"h1": {Handle: "h1", DeviceID: "phone1"},
	}}

	dispatcher := NewDispatcher(lookup, transport, &recordingPublisher{}, logger.NewTestLogger())

	first, err := dispatcher.Dispatch(context.Background(), "h1", "ping", nil)
	require.NoError(t, err)

	second, err := dispatcher.Dispatch(context.Background(), "h1", "ping", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
