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

// Package relay implements the device/viewer relay hub: a single WebSocket
// endpoint that forwards camera telemetry to any number of viewers and
// viewer commands back to the one connected device.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carverauto/camrelay/pkg/models"
)

// Role is the self-declared role of a connection.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleDevice  Role = "device"
	RoleViewer  Role = "viewer"
)

// Message types accepted from the device.
const (
	TypeIdentify    = "identify"
	TypeHeartbeat   = "heartbeat"
	TypeCaptureDone = "capture_done"
	TypeLiveFrame   = "live_frame"
	TypeLiveStatus  = "live_status"
)

// Message types accepted from viewers.
const (
	TypeCapture   = "capture"
	TypeLiveStart = "live_start"
	TypeLiveStop  = "live_stop"
	TypeSettings  = "settings"
)

// Message types emitted by the hub.
const (
	TypeInit           = "init"
	TypeStatus         = "status"
	TypeDeviceOnline   = "device_online"
	TypeDeviceOffline  = "device_offline"
	TypeCaptureStarted = "capture_started"
	TypeCaptureTimeout = "capture_timeout"
	TypeError          = "error"
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMissingType   = errors.New("message has no type field")
)

// Message is the wire envelope. Every frame is a complete JSON object
// discriminated by Type; the remaining fields are populated per type.
type Message struct {
	Type      string               `json:"type"`
	Role      Role                 `json:"role,omitempty"`
	Data      json.RawMessage      `json:"data,omitempty"`
	ID        int64                `json:"id,omitempty"`
	URL       string               `json:"url,omitempty"`
	Duration  float64              `json:"duration,omitempty"`
	Active    *bool                `json:"active,omitempty"`
	Quality   string               `json:"quality,omitempty"`
	Status    *models.DeviceStatus `json:"status,omitempty"`
	Timestamp int64                `json:"timestamp,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// DecodeMessage parses a single frame. Frames that are oversized, not
// valid JSON, or missing the type tag are rejected; the caller drops them.
func DecodeMessage(raw []byte, maxFrameSize int64) (*Message, error) {
	if maxFrameSize > 0 && int64(len(raw)) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(raw))
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if msg.Type == "" {
		return nil, ErrMissingType
	}

	return &msg, nil
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	return data, nil
}

// TelemetryString extracts the heartbeat payload. The payload is opaque to
// the hub: a JSON string is unquoted, anything else is forwarded verbatim.
func (m *Message) TelemetryString() string {
	if len(m.Data) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}

	return string(m.Data)
}
