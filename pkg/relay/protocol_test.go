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

package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "identify", raw: `{"type":"identify","role":"device"}`},
		{name: "heartbeat", raw: `{"type":"heartbeat","data":"512,40,OK,-60"}`},
		{name: "capture_done", raw: `{"type":"capture_done","id":1700000000000,"url":"/captures/1.jpg","duration":2.5}`},
		{name: "not json", raw: `not json at all`, wantErr: nil},
		{name: "missing type", raw: `{"role":"viewer"}`, wantErr: ErrMissingType},
		{name: "empty object", raw: `{}`, wantErr: ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw), 1024)

			if tt.name == "not json" {
				require.Error(t, err)
				return
			}

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, msg.Type)
		})
	}
}

func TestDecodeMessage_Oversized(t *testing.T) {
	raw := `{"type":"heartbeat","data":"` + strings.Repeat("x", 100) + `"}`

	_, err := DecodeMessage([]byte(raw), 64)
	require.ErrorIs(t, err, ErrFrameTooLarge)

	// No cap configured means no size rejection.
	_, err = DecodeMessage([]byte(raw), 0)
	require.NoError(t, err)
}

func TestMessage_EncodeRoundTrip(t *testing.T) {
	active := true
	msg := &Message{Type: TypeLiveStatus, Active: &active}

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data, 1024)
	require.NoError(t, err)
	assert.Equal(t, TypeLiveStatus, decoded.Type)
	require.NotNil(t, decoded.Active)
	assert.True(t, *decoded.Active)
}

func TestMessage_TelemetryString(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"heartbeat","data":"512,40,OK,-60"}`), 1024)
	require.NoError(t, err)
	assert.Equal(t, "512,40,OK,-60", msg.TelemetryString())

	// Non-string payloads pass through verbatim.
	msg, err = DecodeMessage([]byte(`{"type":"heartbeat","data":{"rssi":-60}}`), 1024)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rssi":-60}`, msg.TelemetryString())

	msg, err = DecodeMessage([]byte(`{"type":"heartbeat"}`), 1024)
	require.NoError(t, err)
	assert.Empty(t, msg.TelemetryString())
}
