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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_OfflineRejected(t *testing.T) {
	h, _ := newTestHub(t)

	viewer := attachViewer(t, h)
	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))

	msg := recvMessage(t, viewer)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, errCameraOffline, msg.Message)
}

func TestCapture_CommandAndStartedBroadcast(t *testing.T) {
	h, clk := newTestHub(t)

	device := attachDevice(t, h)
	viewerA := attachViewer(t, h)
	viewerB := attachViewer(t, h)

	wantID := clk.Now().UnixMilli()
	h.HandleMessage(viewerA, []byte(`{"type":"capture"}`))

	cmd := recvMessage(t, device)
	require.Equal(t, TypeCapture, cmd.Type)
	assert.Equal(t, wantID, cmd.ID)

	for _, viewer := range []*Client{viewerA, viewerB} {
		msg := recvMessage(t, viewer)
		require.Equal(t, TypeCaptureStarted, msg.Type)
		assert.Equal(t, wantID, msg.ID)
	}

	h.mu.Lock()
	assert.True(t, h.status.Capturing)
	h.mu.Unlock()
}

func TestCapture_SecondRequestRejected(t *testing.T) {
	h, _ := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	recvMessage(t, device) // capture command
	recvMessage(t, viewer) // capture_started

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))

	msg := recvMessage(t, viewer)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, errCaptureInFlight, msg.Message)

	// The device never saw a second command.
	noMessage(t, device)
}

func TestCapture_DoneResolvesAndBroadcasts(t *testing.T) {
	h, clk := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	done := fmt.Sprintf(`{"type":"capture_done","id":%d,"url":"/captures/img_42.jpg","duration":1.8}`, cmd.ID)
	h.HandleMessage(device, []byte(done))

	msg := recvMessage(t, viewer)
	require.Equal(t, TypeCaptureDone, msg.Type)
	assert.Equal(t, cmd.ID, msg.ID)
	assert.InDelta(t, 1.8, msg.Duration, 1e-9)
	assert.Equal(t, fmt.Sprintf("/captures/img_42.jpg?t=%d", clk.Now().UnixMilli()), msg.URL)

	h.mu.Lock()
	assert.Nil(t, h.capture)
	assert.False(t, h.status.Capturing)
	h.mu.Unlock()

	// The canceled timer must not fire a spurious timeout later.
	clk.Advance(h.cfg.CaptureTimeout.Duration() + time.Second)
	noMessage(t, viewer)
}

func TestCapture_MismatchedDoneIgnored(t *testing.T) {
	h, _ := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	stale := fmt.Sprintf(`{"type":"capture_done","id":%d,"url":"/captures/old.jpg"}`, cmd.ID-1)
	h.HandleMessage(device, []byte(stale))

	noMessage(t, viewer)

	h.mu.Lock()
	assert.NotNil(t, h.capture)
	assert.True(t, h.status.Capturing)
	h.mu.Unlock()
}

func TestCapture_Timeout(t *testing.T) {
	h, clk := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	clk.Advance(h.cfg.CaptureTimeout.Duration())

	msg := recvMessage(t, viewer)
	require.Equal(t, TypeCaptureTimeout, msg.Type)
	assert.Equal(t, cmd.ID, msg.ID)

	h.mu.Lock()
	assert.Nil(t, h.capture)
	assert.False(t, h.status.Capturing)
	h.mu.Unlock()

	// A capture_done arriving after the deadline is stale.
	late := fmt.Sprintf(`{"type":"capture_done","id":%d,"url":"/captures/late.jpg"}`, cmd.ID)
	h.HandleMessage(device, []byte(late))
	noMessage(t, viewer)
}

func TestCapture_NewRequestAfterTimeout(t *testing.T) {
	h, clk := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	first := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	clk.Advance(h.cfg.CaptureTimeout.Duration())
	recvMessage(t, viewer) // capture_timeout

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))

	second := recvMessage(t, device)
	require.Equal(t, TypeCapture, second.Type)
	assert.NotEqual(t, first.ID, second.ID)

	msg := recvMessage(t, viewer)
	assert.Equal(t, TypeCaptureStarted, msg.Type)
}

func TestCapture_DeviceReplacementResolvesAsTimeout(t *testing.T) {
	h, _ := newTestHub(t)

	first := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, first)
	recvMessage(t, viewer) // capture_started

	// The replacement closes the connection that received the capture
	// command, so the request can never complete.
	second := attachDevice(t, h)

	msg := recvMessage(t, viewer)
	require.Equal(t, TypeCaptureTimeout, msg.Type)
	assert.Equal(t, cmd.ID, msg.ID)

	msg = recvMessage(t, viewer)
	assert.Equal(t, TypeDeviceOnline, msg.Type)

	h.mu.Lock()
	assert.Nil(t, h.capture)
	assert.False(t, h.status.Capturing)
	h.mu.Unlock()

	// The old connection's late disconnect adds nothing further.
	h.unregister(first)
	noMessage(t, viewer)

	h.mu.Lock()
	assert.Same(t, second, h.registry.device)
	h.mu.Unlock()

	// The fresh device serves a new capture normally.
	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd = recvMessage(t, second)
	assert.Equal(t, TypeCapture, cmd.Type)
}

func TestCapture_DeviceSendFailureAborts(t *testing.T) {
	h, _ := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	// Close the device's outbound queue without running disconnect
	// handling, as when its socket dies mid-dispatch.
	device.close()

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))

	msg := recvMessage(t, viewer)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, errCameraOffline, msg.Message)

	// No capture_started was broadcast and the coordinator stayed Idle.
	noMessage(t, viewer)

	h.mu.Lock()
	assert.Nil(t, h.capture)
	assert.False(t, h.status.Capturing)
	h.mu.Unlock()
}

func TestCapture_DoneWithoutURL(t *testing.T) {
	h, _ := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	done := fmt.Sprintf(`{"type":"capture_done","id":%d}`, cmd.ID)
	h.HandleMessage(device, []byte(done))

	msg := recvMessage(t, viewer)
	require.Equal(t, TypeCaptureDone, msg.Type)
	assert.Empty(t, msg.URL, "a missing url must not become a bare query string")
}

func TestCapture_DeviceDisconnectResolvesAsTimeout(t *testing.T) {
	h, _ := newTestHub(t)

	device := attachDevice(t, h)
	viewer := attachViewer(t, h)

	h.HandleMessage(viewer, []byte(`{"type":"capture"}`))
	cmd := recvMessage(t, device)
	recvMessage(t, viewer) // capture_started

	h.unregister(device)

	msg := recvMessage(t, viewer)
	require.Equal(t, TypeCaptureTimeout, msg.Type)
	assert.Equal(t, cmd.ID, msg.ID)

	msg = recvMessage(t, viewer)
	assert.Equal(t, TypeDeviceOffline, msg.Type)
}
