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

// Simulated device agent for exercising a fleetconsole server end to end.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteJSON(map[string]interface{}{"event": event, "payload": payload})
}

func main() {
	var (
		host      = flag.String("host", "localhost:8000", "console agent host:port")
		deviceID  = flag.String("device-id", "sim-device-01", "device identifier to register (empty to test rejection)")
		name      = flag.String("name", "Simulated Device", "device display name")
		platform  = flag.String("platform", "linux", "reported platform")
		heartbeat = flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
		upload    = flag.Bool("upload", true, "upload a file for each answered command")
		secure    = flag.Bool("secure", false, "use WSS/HTTPS instead of WS/HTTP")
	)
	flag.Parse()

	wsScheme, httpScheme := "ws", "http"
	if *secure {
		wsScheme, httpScheme = "wss", "https"
	}

	wsURL := url.URL{Scheme: wsScheme, Host: *host, Path: "/ws"}
	uploadBase := url.URL{Scheme: httpScheme, Host: *host}

	log.Printf("Connecting to %s", wsURL.String())

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			log.Printf("HTTP response status: %s", resp.Status)
		}

		log.Fatalf("Failed to connect: %v", err)
	}

	defer conn.Close()

	c := &client{conn: conn}

	register := func() {
		if err := c.send("register_device", map[string]string{
			"deviceId":   *deviceID,
			"deviceName": *name,
			"platform":   *platform,
		}); err != nil {
			log.Fatalf("Failed to register: %v", err)
		}
	}
	register()

	// Heartbeats run until interrupted.
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(*heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.send("device_heartbeat", nil); err != nil {
					log.Printf("Heartbeat failed: %v", err)
					return
				}
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-interrupt
		log.Println("Interrupted, closing")
		close(done)
		conn.Close()
		os.Exit(0)
	}()

	for {
		var f frame

		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("Read failed: %v", err)
		}

		switch f.Event {
		case "registration_successful":
			log.Printf("Registered: %s", string(f.Payload))
		case "registration_failed":
			log.Printf("Registration failed: %s", string(f.Payload))
		case "request_registration_info":
			log.Println("Console requested re-registration")
			register()
		default:
			answerCommand(c, &uploadBase, *deviceID, &f, *upload)
		}
	}
}

// answerCommand acknowledges a dispatched command and optionally
// delivers a file tagged with the echoed command ref.
func answerCommand(c *client, uploadBase *url.URL, deviceID string, f *frame, upload bool) {
	var args map[string]interface{}

	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &args); err != nil {
			log.Printf("Malformed command payload for %s: %v", f.Event, err)
			return
		}
	}

	commandRef, _ := args["commandRef"].(string)
	log.Printf("Received command %s (ref %s)", f.Event, commandRef)

	responsePayload := map[string]interface{}{"echo": f.Event}

	if upload && commandRef != "" {
		filename, err := uploadArtifact(uploadBase, deviceID, commandRef, f.Event)
		if err != nil {
			log.Printf("Upload failed: %v", err)
		} else {
			responsePayload["filename_on_server"] = filename
		}
	}

	if err := c.send("command_response", map[string]interface{}{
		"command": f.Event,
		"status":  "success",
		"payload": responsePayload,
	}); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

func uploadArtifact(base *url.URL, deviceID, commandRef, command string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("deviceId", deviceID); err != nil {
		return "", err
	}

	if err := writer.WriteField("commandRef", commandRef); err != nil {
		return "", err
	}

	part, err := writer.CreateFormFile("file", command+"_output.txt")
	if err != nil {
		return "", err
	}

	if _, err := fmt.Fprintf(part, "simulated output for %s\n", command); err != nil {
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	target := *base
	target.Path = "/upload_command_file"

	resp, err := http.Post(target.String(), writer.FormDataContentType(), body)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	var decoded map[string]string

	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload rejected: %s", decoded["message"])
	}

	return decoded["filename_on_server"], nil
}
