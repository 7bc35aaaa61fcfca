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

// The capture coordinator is a two-state machine, Idle and InFlight,
// guarded by the hub lock. At most one capture request exists at a time;
// it resolves exactly once, by a matching capture_done from the device or
// by the armed timeout, whichever fires first. The device session cannot
// process two capture commands concurrently, so the coordinator is the
// sole arbiter preventing command interleaving.

import "time"

// captureRequest is the single in-flight capture. A nil hub.capture means
// the coordinator is Idle.
type captureRequest struct {
	id       int64
	issuedAt time.Time
	timer    Timer
}

// requestCapture handles a viewer capture command. Caller holds the lock.
func (h *Hub) requestCapture(viewer *Client) {
	if h.registry.device == nil {
		viewer.sendMessage(&Message{Type: TypeError, Message: errCameraOffline})
		return
	}

	if h.capture != nil {
		viewer.sendMessage(&Message{Type: TypeError, Message: errCaptureInFlight})
		return
	}

	now := h.clock.Now()
	id := now.UnixMilli()

	h.status.Capturing = true

	if !h.registry.device.sendMessage(&Message{Type: TypeCapture, ID: id}) {
		// The device went away between the registry check and the send.
		h.status.Capturing = false
		viewer.sendMessage(&Message{Type: TypeError, Message: errCameraOffline})
		h.log.Warn().Int64("capture_id", id).Msg("device send failed, capture aborted")

		return
	}

	h.capture = &captureRequest{
		id:       id,
		issuedAt: now,
		timer: h.clock.AfterFunc(h.cfg.CaptureTimeout.Duration(), func() {
			h.captureTimeoutFired(id)
		}),
	}

	h.broadcast(&Message{Type: TypeCaptureStarted, ID: id})
	h.log.Info().Int64("capture_id", id).Msg("capture started")
}

// completeCapture handles capture_done from the device. Caller holds the
// lock. A report whose id does not match the in-flight capture is stale
// or duplicated and is ignored.
func (h *Hub) completeCapture(msg *Message) {
	if h.capture == nil || h.capture.id != msg.ID {
		h.log.Warn().Int64("capture_id", msg.ID).Msg("capture_done without matching in-flight capture, ignored")
		return
	}

	h.capture.timer.Stop()
	h.capture = nil
	h.status.Capturing = false

	h.broadcast(&Message{
		Type:     TypeCaptureDone,
		ID:       msg.ID,
		URL:      h.cacheBust(msg.URL),
		Duration: msg.Duration,
	})
	h.log.Info().Int64("capture_id", msg.ID).Float64("duration", msg.Duration).Msg("capture completed")
}

// captureTimeoutFired runs from the armed timer goroutine. The id check
// under the lock makes cancellation race-free: a capture that completed
// just before the timer fired is already cleared.
func (h *Hub) captureTimeoutFired(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.capture == nil || h.capture.id != id {
		return
	}

	h.capture = nil
	h.status.Capturing = false

	h.broadcast(&Message{Type: TypeCaptureTimeout, ID: id})
	h.log.Warn().Int64("capture_id", id).Msg("capture timed out")
}

// resolveCaptureAsTimeout clears the in-flight capture and notifies
// viewers as if the timeout had fired. Used when the device disconnects
// mid-capture. Caller holds the lock. Safe no-op when Idle.
func (h *Hub) resolveCaptureAsTimeout(reason string) {
	if h.capture == nil {
		return
	}

	id := h.capture.id
	h.capture.timer.Stop()
	h.capture = nil
	h.status.Capturing = false

	h.broadcast(&Message{Type: TypeCaptureTimeout, ID: id})
	h.log.Warn().Int64("capture_id", id).Str("reason", reason).Msg("capture resolved as timeout")
}
