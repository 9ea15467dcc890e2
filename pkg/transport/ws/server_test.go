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

package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/fleetconsole/pkg/logger"
	"github.com/carverauto/fleetconsole/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRegistrationFixture = errors.New("registration rejected")

type fakeEngine struct {
	mu             sync.Mutex
	connected      chan string
	disconnected   chan string
	registered     []models.RegistrationPayload
	rejectRegister bool
	sessionKnown   bool
	heartbeats     int
	responses      []models.CommandResponse
	initialUploads []models.InitialUpload
	commandFiles   []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		connected:    make(chan string, 1),
		disconnected: make(chan string, 1),
		sessionKnown: true,
	}
}

func (f *fakeEngine) HandleConnect(handle, _ string) {
	select {
	case f.connected <- handle:
	default:
	}
}

func (f *fakeEngine) HandleRegister(handle string, payload models.RegistrationPayload, _ string) (models.Session, error) {
	f.mu.Lock()
	f.registered = append(f.registered, payload)
	f.mu.Unlock()

	if f.rejectRegister || payload.DeviceID == "" {
		return models.Session{}, errRegistrationFixture
	}

	return models.Session{Handle: handle, DeviceID: payload.DeviceID}, nil
}

func (f *fakeEngine) HandleHeartbeat(string) bool {
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()

	return f.sessionKnown
}

func (f *fakeEngine) HandleDisconnect(handle string) {
	select {
	case f.disconnected <- handle:
	default:
	}
}

func (f *fakeEngine) HandleCommandResponse(_ string, resp models.CommandResponse) {
	f.mu.Lock()
	f.responses = append(f.responses, resp)
	f.mu.Unlock()
}

func (f *fakeEngine) HandleInitialUpload(upload models.InitialUpload, _ []byte, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	f.initialUploads = append(f.initialUploads, upload)
	f.mu.Unlock()

	return "stored-device-01", nil
}

func (f *fakeEngine) HandleCommandFile(deviceID, commandRef, filename string, _ []byte) (string, error) {
	f.mu.Lock()
	f.commandFiles = append(f.commandFiles, deviceID+"/"+commandRef+"/"+filename)
	f.mu.Unlock()

	return "ref-1_dump_20260301_120000.dat", nil
}

func dialAgent(t *testing.T, engine Engine) (*Server, *httptest.Server, *websocket.Conn) {
	t.Helper()

	server := NewServer(engine, logger.NewTestLogger())
	ts := httptest.NewServer(server.Router())

	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	resp.Body.Close()

	return server, ts, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var f frame

	require.NoError(t, conn.ReadJSON(&f))

	return f
}

func TestRegistrationRoundTrip(t *testing.T) {
	engine := newFakeEngine()
	_, _, conn := dialAgent(t, engine)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event":   "register_device",
		"payload": map[string]string{"deviceId": "lab-device-01", "platform": "linux"},
	}))

	f := readFrame(t, conn)
	require.Equal(t, "registration_successful", f.Event)

	var body map[string]string

	require.NoError(t, json.Unmarshal(f.Payload, &body))
	assert.Equal(t, "lab-device-01", body["deviceId"])
	assert.NotEmpty(t, body["handle"])
}

func TestRegistrationRejectedKeepsSocketOpen(t *testing.T) {
	engine := newFakeEngine()
	_, _, conn := dialAgent(t, engine)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event":   "register_device",
		"payload": map[string]string{},
	}))

	f := readFrame(t, conn)
	assert.Equal(t, "registration_failed", f.Event)

	// Retry on the same socket succeeds.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event":   "register_device",
		"payload": map[string]string{"deviceId": "lab-device-01"},
	}))

	f = readFrame(t, conn)
	assert.Equal(t, "registration_successful", f.Event)
}

func TestHeartbeatUnknownSessionRequestsRegistration(t *testing.T) {
	engine := newFakeEngine()
	engine.sessionKnown = false

	_, _, conn := dialAgent(t, engine)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": "device_heartbeat"}))

	f := readFrame(t, conn)
	assert.Equal(t, "request_registration_info", f.Event)
}

func TestCommandResponseForwarded(t *testing.T) {
	engine := newFakeEngine()
	_, _, conn := dialAgent(t, engine)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "command_response",
		"payload": map[string]interface{}{
			"command": "collect_diagnostics",
			"status":  "success",
			"payload": map[string]interface{}{"filename_on_server": "f.png"},
		},
	}))

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()

		return len(engine.responses) == 1
	}, 2*time.Second, 10*time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, "collect_diagnostics", engine.responses[0].Command)
	assert.Equal(t, "success", engine.responses[0].Status)
}

func TestSendDeliversCommandFrame(t *testing.T) {
	engine := newFakeEngine()
	server, _, conn := dialAgent(t, engine)

	var handle string

	select {
	case handle = <-engine.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the connection")
	}

	require.NoError(t, server.Send(context.Background(), handle, "collect_diagnostics",
		map[string]interface{}{"commandRef": "ref-1"}))

	f := readFrame(t, conn)
	assert.Equal(t, "collect_diagnostics", f.Event)

	var payload map[string]interface{}

	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "ref-1", payload["commandRef"])
}

func TestSendUnknownHandle(t *testing.T) {
	server := NewServer(newFakeEngine(), logger.NewTestLogger())

	err := server.Send(context.Background(), "ghost", "reboot", nil)
	require.ErrorIs(t, err, errNoSocket)
}

func TestDisconnectNotifiesEngine(t *testing.T) {
	engine := newFakeEngine()
	_, _, conn := dialAgent(t, engine)

	var handle string

	select {
	case handle = <-engine.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the connection")
	}

	conn.Close()

	select {
	case gone := <-engine.disconnected:
		assert.Equal(t, handle, gone)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the disconnect")
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}

	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		require.NoError(t, err)

		_, err = part.Write(fileData)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func TestInitialUploadEndpoint(t *testing.T) {
	engine := newFakeEngine()
	server := NewServer(engine, logger.NewTestLogger())

	t.Run("stores record and reports device id", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"json_data": `{"deviceId":"lab-device-01","deviceInfo":{"model":"m1"}}`},
			"image", "front.png", []byte{0x89})

		req := httptest.NewRequest(http.MethodPost, "/upload_initial_data", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp["status"])
		assert.Equal(t, "stored-device-01", resp["device_id"])
	})

	t.Run("missing json_data", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{}, "", "", nil)

		req := httptest.NewRequest(http.MethodPost, "/upload_initial_data", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json_data", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"json_data": "{nope"}, "", "", nil)

		req := httptest.NewRequest(http.MethodPost, "/upload_initial_data", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCommandUploadEndpoint(t *testing.T) {
	engine := newFakeEngine()
	server := NewServer(engine, logger.NewTestLogger())

	t.Run("stores file and echoes server filename", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"deviceId": "lab-device-01", "commandRef": "ref-1"},
			"file", "dump.bin", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/upload_command_file", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string

		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ref-1_dump_20260301_120000.dat", resp["filename_on_server"])
		assert.Equal(t, []string{"lab-device-01/ref-1/dump.bin"}, engine.commandFiles)
	})

	t.Run("missing commandRef gets the default reference", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"deviceId": "lab-device-01"},
			"file", "dump.bin", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/upload_command_file", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, engine.commandFiles, "lab-device-01/unknown_cmd_ref/dump.bin")
	})

	t.Run("missing deviceId", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"commandRef": "ref-1"},
			"file", "dump.bin", []byte("payload"))

		req := httptest.NewRequest(http.MethodPost, "/upload_command_file", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		body, contentType := multipartBody(t,
			map[string]string{"deviceId": "lab-device-01", "commandRef": "ref-1"}, "", "", nil)

		req := httptest.NewRequest(http.MethodPost, "/upload_command_file", body)
		req.Header.Set("Content-Type", contentType)

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
