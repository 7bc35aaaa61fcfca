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
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/camrelay/pkg/logger"
	"github.com/carverauto/camrelay/pkg/models"
)

const (
	errCameraOffline   = "Camera offline"
	errCaptureInFlight = "Capture in progress"
)

// Hub owns the role registry, the device status cache, and the capture
// coordinator behind a single lock. All mutations of shared state are
// serialized through it; sends are non-blocking channel enqueues and are
// safe to perform while holding the lock, which also guarantees that a
// newly identified viewer sees its init snapshot before any later
// broadcast.
type Hub struct {
	cfg   Config
	clock Clock
	log   logger.Logger

	mu       sync.Mutex
	conns    map[*Client]struct{}
	registry *roleRegistry
	status   models.DeviceStatus
	capture  *captureRequest

	started time.Time
	cancel  context.CancelFunc
}

// NewHub creates a hub from a validated configuration. A nil clock
// defaults to the real clock.
func NewHub(cfg Config, clk Clock, log logger.Logger) *Hub {
	if clk == nil {
		clk = realClock{}
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Hub{
		cfg:      cfg,
		clock:    clk,
		log:      log,
		conns:    make(map[*Client]struct{}),
		registry: newRoleRegistry(),
		started:  clk.Now(),
	}
}

// ServeWS upgrades the HTTP request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.cfg.CORS.OriginAllowed(r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	c := newClient(h, conn)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.id).Str("remote_addr", r.RemoteAddr).Msg("connection accepted")

	go c.writePump()
	c.readPump()
}

// HandleMessage decodes and dispatches a single inbound frame. A failure
// in one connection's handling never takes down the hub.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Interface("panic", r).
				Str("conn_id", c.id).
				Str("stack", string(debug.Stack())).
				Msg("recovered from handler panic")
		}
	}()

	msg, err := DecodeMessage(raw, h.cfg.MaxFrameSize)
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", c.id).Msg("dropping malformed frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch c.Role() {
	case RoleDevice:
		h.dispatchDevice(c, msg)
	case RoleViewer:
		h.dispatchViewer(c, msg)
	default:
		if msg.Type == TypeIdentify {
			h.identify(c, msg.Role)
			return
		}

		h.log.Warn().Str("conn_id", c.id).Str("type", msg.Type).Msg("message from unidentified connection dropped")
	}
}

func (h *Hub) dispatchDevice(c *Client, msg *Message) {
	switch msg.Type {
	case TypeHeartbeat:
		h.status.Online = true
		h.status.Telemetry = msg.TelemetryString()
		h.status.LastUpdate = h.clock.Now()
		h.broadcast(&Message{Type: TypeStatus, Status: h.snapshotStatus()})
	case TypeCaptureDone:
		h.completeCapture(msg)
	case TypeLiveFrame:
		url := msg.URL
		if url == "" {
			url = h.cfg.LiveFramePath
		}

		h.broadcast(&Message{Type: TypeLiveFrame, URL: h.cacheBust(url)})
	case TypeLiveStatus:
		active := msg.Active != nil && *msg.Active
		h.status.LiveActive = active
		h.broadcast(&Message{Type: TypeLiveStatus, Active: &active})
	default:
		h.log.Warn().Str("type", msg.Type).Msg("unknown device message dropped")
	}
}

func (h *Hub) dispatchViewer(c *Client, msg *Message) {
	switch msg.Type {
	case TypeCapture:
		h.requestCapture(c)
	case TypeLiveStart, TypeLiveStop, TypeSettings:
		h.forwardToDevice(msg)
	default:
		h.log.Warn().Str("type", msg.Type).Msg("unknown viewer message dropped")
	}
}

// identify assigns a role to an unidentified connection. Caller holds the
// hub lock.
func (h *Hub) identify(c *Client, role Role) {
	switch role {
	case RoleDevice:
		old := h.registry.setDevice(c)
		if old != nil {
			h.log.Info().Str("old_conn_id", old.id).Str("conn_id", c.id).Msg("replacing device connection")
			old.close()

			// The displaced connection is the only one that received the
			// capture command; its answer can never arrive.
			h.resolveCaptureAsTimeout("device replaced")
		}

		c.setRole(RoleDevice)
		h.status.Online = true
		h.status.LastUpdate = h.clock.Now()
		h.broadcast(&Message{Type: TypeDeviceOnline, Timestamp: h.clock.Now().UnixMilli()})
		h.log.Info().Str("conn_id", c.id).Msg("device identified")

	case RoleViewer:
		c.setRole(RoleViewer)
		h.registry.addViewer(c)
		c.sendMessage(&Message{Type: TypeInit, Status: h.snapshotStatus()})
		h.log.Info().Str("conn_id", c.id).Int("viewers", h.registry.viewerCount()).Msg("viewer identified")

	default:
		h.log.Warn().Str("conn_id", c.id).Str("role", string(role)).Msg("ignoring identify with unknown role")
	}
}

// unregister is the single disconnect path. Idempotent: a connection that
// was already forgotten is a no-op.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}

	delete(h.conns, c)

	if h.registry.removeDevice(c) {
		h.status.Online = false
		h.status.Capturing = false
		h.status.LiveActive = false

		// An in-flight capture can never complete without its device.
		h.resolveCaptureAsTimeout("device disconnected")

		h.broadcast(&Message{Type: TypeDeviceOffline, Timestamp: h.clock.Now().UnixMilli()})
		h.log.Info().Str("conn_id", c.id).Msg("device disconnected")

		return
	}

	if h.registry.removeViewer(c) {
		h.log.Debug().Str("conn_id", c.id).Int("viewers", h.registry.viewerCount()).Msg("viewer disconnected")
	}
}

// forwardToDevice relays a viewer command verbatim. Caller holds the lock.
func (h *Hub) forwardToDevice(msg *Message) {
	device := h.registry.device
	if device == nil {
		h.log.Debug().Str("type", msg.Type).Msg("no device attached, command dropped")
		return
	}

	if !device.sendMessage(msg) {
		h.log.Warn().Str("type", msg.Type).Msg("failed to forward command to device")
	}
}

// broadcast fans a hub event out to every viewer. Caller holds the lock.
func (h *Hub) broadcast(msg *Message) {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("failed to encode broadcast")
		return
	}

	for viewer := range h.registry.viewers {
		viewer.enqueue(websocket.TextMessage, data)
	}
}

// snapshotStatus returns a copy of the status cache for the wire.
func (h *Hub) snapshotStatus() *models.DeviceStatus {
	s := h.status
	return &s
}

// cacheBust appends a timestamp query so browsers refetch the resource.
// An empty url passes through untouched; "?t=<ms>" alone is not fetchable.
func (h *Hub) cacheBust(url string) string {
	if url == "" {
		return ""
	}

	return fmt.Sprintf("%s?t=%d", url, h.clock.Now().UnixMilli())
}

// Snapshot reports whether a device is attached and how many viewers are
// connected. Used by the health endpoint.
func (h *Hub) Snapshot() (deviceConnected bool, viewerCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.registry.device != nil, h.registry.viewerCount()
}

// Started returns the hub start time.
func (h *Hub) Started() time.Time {
	return h.started
}
