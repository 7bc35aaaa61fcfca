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
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the capture timeout and sweeps manually.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Ticker(_ time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)

	return t
}

// Advance moves the clock and fires any due, unstopped timers. Timer
// callbacks run outside the clock lock because they re-enter the hub.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)

	var due []*fakeTimer

	for _, t := range f.timers {
		if t.claim(f.now) {
			due = append(due, t)
		}
	}
	f.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

type fakeTimer struct {
	mu       sync.Mutex
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) claim(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.fired || now.Before(t.deadline) {
		return false
	}

	t.fired = true

	return true
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true

	return active
}

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()                  {}

// newTestHub builds a hub with defaulted config and a fake clock.
func newTestHub(t *testing.T) (*Hub, *fakeClock) {
	t.Helper()

	cfg := Config{}
	require.NoError(t, cfg.Validate())

	clk := newFakeClock()

	return NewHub(cfg, clk, nil), clk
}

// attach registers a pump-less client on the hub, standing in for an
// accepted transport session.
func attach(h *Hub) *Client {
	c := newClient(h, nil)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	return c
}

func attachDevice(t *testing.T, h *Hub) *Client {
	t.Helper()

	c := attach(h)
	h.HandleMessage(c, []byte(`{"type":"identify","role":"device"}`))
	require.Equal(t, RoleDevice, c.Role())

	return c
}

func attachViewer(t *testing.T, h *Hub) *Client {
	t.Helper()

	c := attach(h)
	h.HandleMessage(c, []byte(`{"type":"identify","role":"viewer"}`))
	require.Equal(t, RoleViewer, c.Role())

	// Swallow the init snapshot so tests only see broadcasts.
	msg := recvMessage(t, c)
	require.Equal(t, TypeInit, msg.Type)

	return c
}

// recvMessage pops the next queued text frame and decodes it.
func recvMessage(t *testing.T, c *Client) *Message {
	t.Helper()

	select {
	case f := <-c.send:
		require.Equal(t, websocket.TextMessage, f.messageType)

		var msg Message
		require.NoError(t, json.Unmarshal(f.payload, &msg))

		return &msg
	default:
		t.Fatalf("no message queued for connection %s", c.id)
		return nil
	}
}

// noMessage asserts the connection's queue is empty.
func noMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case f := <-c.send:
		t.Fatalf("unexpected frame queued: %s", string(f.payload))
	default:
	}
}
