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

// Package viewer provides a reconnecting client for the relay's viewer
// role. It maintains a single WebSocket session, re-identifies after
// every reconnect, and surfaces relay events on a channel. Reconnect
// delays grow exponentially between attempts and reset once a session
// is established.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carverauto/camrelay/pkg/logger"
	"github.com/carverauto/camrelay/pkg/relay"
)

// State is the connection state of the client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// EventKind discriminates Event values on the Events channel.
type EventKind string

const (
	// EventConnected fires after the transport opened and the viewer
	// identified itself.
	EventConnected EventKind = "connected"
	// EventDisconnected fires when the session drops, before the next
	// reconnect attempt is scheduled.
	EventDisconnected EventKind = "disconnected"
	// EventMessage carries a decoded relay message.
	EventMessage EventKind = "message"
)

// Event is a client lifecycle or relay protocol event.
type Event struct {
	Kind EventKind
	// Message is set for EventMessage.
	Message *relay.Message
	// Err is set for EventDisconnected when the session ended on an error.
	Err error
}

// ErrNotConnected is returned by Send when no session is open. Commands
// are best-effort: they are never queued for a future session.
var ErrNotConnected = errors.New("viewer: not connected")

const (
	defaultBackoffFloor   = 500 * time.Millisecond
	defaultBackoffCeiling = 30 * time.Second
	defaultBackoffFactor  = 1.6

	writeWait = 10 * time.Second
	eventBuf  = 64
)

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	// URL is the relay WebSocket endpoint, e.g. ws://host:8090/ws.
	URL string
	// BackoffFloor is the delay before the first reconnect attempt.
	BackoffFloor time.Duration
	// BackoffCeiling caps the reconnect delay.
	BackoffCeiling time.Duration
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64

	Logger logger.Logger
}

// Client is a reconnecting viewer session. Create with New, then Run in
// a goroutine; consume Events until it is closed.
type Client struct {
	cfg Config
	log zerolog.Logger

	events chan Event

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// New builds a client. Run must be called to start the session loop.
func New(cfg Config) *Client {
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = defaultBackoffFloor
	}

	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = defaultBackoffCeiling
	}

	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = defaultBackoffFactor
	}

	var zl zerolog.Logger
	if cfg.Logger != nil {
		zl = cfg.Logger.With().Str("url", cfg.URL).Logger()
	} else {
		zl = zerolog.Nop()
	}

	return &Client{
		cfg:    cfg,
		log:    zl,
		events: make(chan Event, eventBuf),
		state:  StateDisconnected,
	}
}

// Events returns the event channel. It is closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Run drives the connect/read/reconnect loop until ctx is canceled.
// It closes the Events channel on return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.setState(StateDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffFloor
	bo.MaxInterval = c.cfg.BackoffCeiling
	bo.Multiplier = c.cfg.BackoffFactor
	bo.RandomizationFactor = 0.2

	for {
		if err := c.session(ctx, bo); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			delay := bo.NextBackOff()
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("session ended, reconnecting")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// session dials, identifies, and pumps inbound messages until the
// transport fails or ctx is canceled.
func (c *Client) session(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	c.setState(StateConnecting)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			err = errors.Join(err, errors.New("http status "+resp.Status))
		}

		c.emit(Event{Kind: EventDisconnected, Err: err})
		c.setState(StateDisconnected)

		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	// A session that opened and identified resets the retry schedule.
	bo.Reset()

	if err := c.Send(&relay.Message{Type: relay.TypeIdentify, Role: relay.RoleViewer}); err != nil {
		c.teardown(err)
		return err
	}

	c.emit(Event{Kind: EventConnected})
	c.log.Info().Msg("connected")

	// Unblock the read loop when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.teardown(nil)
				return ctx.Err()
			}

			c.teardown(err)

			return err
		}

		var msg relay.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		c.emit(Event{Kind: EventMessage, Message: &msg})
	}
}

// teardown closes the transport and reports the disconnect.
func (c *Client) teardown(err error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	c.emit(Event{Kind: EventDisconnected, Err: err})
}

// Send writes a message on the open session. It fails immediately with
// ErrNotConnected when no session is open; nothing is queued.
func (c *Client) Send(msg *relay.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Capture asks the relay to start a still capture.
func (c *Client) Capture() error {
	return c.Send(&relay.Message{Type: relay.TypeCapture})
}

// LiveStart asks the device to begin live streaming at the given
// quality. Quality may be empty.
func (c *Client) LiveStart(quality string) error {
	return c.Send(&relay.Message{Type: relay.TypeLiveStart, Quality: quality})
}

// LiveStop asks the device to stop live streaming.
func (c *Client) LiveStop() error {
	return c.Send(&relay.Message{Type: relay.TypeLiveStop})
}

// UpdateSettings forwards a settings payload to the device verbatim.
func (c *Client) UpdateSettings(settings json.RawMessage) error {
	return c.Send(&relay.Message{Type: relay.TypeSettings, Data: settings})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit delivers an event without blocking the read loop. A consumer
// that stops draining loses events rather than stalling the session.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Str("kind", string(ev.Kind)).Msg("event dropped, consumer not draining")
	}
}
