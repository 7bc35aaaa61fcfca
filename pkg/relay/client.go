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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Outbound queue size per connection.
	sendQueueSize = 64
)

// frame is one outbound WebSocket frame queued for the write pump.
type frame struct {
	messageType int
	payload     []byte
}

// Client is one transport session. The hub references clients through the
// role registry; it never owns the underlying socket goroutines.
type Client struct {
	id   string
	role atomic.Value // Role
	hub  *Hub
	conn *websocket.Conn
	send chan frame
	log  zerolog.Logger

	// alive is reset by the ping sweep and set again by pong or by any
	// inbound frame.
	alive atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan frame, sendQueueSize),
	}
	c.role.Store(RoleUnknown)
	c.log = hub.log.With().Str("conn_id", c.id).Logger()
	c.alive.Store(true)

	return c
}

// ID returns the connection identity.
func (c *Client) ID() string {
	return c.id
}

// Role returns the connection's current role.
func (c *Client) Role() Role {
	return c.role.Load().(Role)
}

func (c *Client) setRole(role Role) {
	c.role.Store(role)
}

// enqueue queues a frame without ever panicking on a closed channel.
// Returns false if the connection is closed or its buffer is full.
func (c *Client) enqueue(messageType int, payload []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if c.closed.Load() {
		return false
	}

	select {
	case c.send <- frame{messageType: messageType, payload: payload}:
		return true
	default:
		c.log.Warn().Str("role", string(c.Role())).Msg("send buffer full, dropping frame")
		return false
	}
}

// sendMessage encodes and queues a protocol message.
func (c *Client) sendMessage(msg *Message) bool {
	data, err := msg.Encode()
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.Type).Msg("failed to encode message")
		return false
	}

	return c.enqueue(websocket.TextMessage, data)
}

func (c *Client) sendPing() bool {
	return c.enqueue(websocket.PingMessage, nil)
}

// close shuts the outbound queue exactly once. The write pump drains the
// remaining frames, sends a close frame, and closes the socket, which in
// turn unblocks the read pump and triggers disconnect handling.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		if err := c.conn.WriteMessage(f.messageType, f.payload); err != nil {
			c.log.Debug().Err(err).Msg("write failed, closing connection")
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxFrameSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Str("role", string(c.Role())).Msg("unexpected close")
			}

			return
		}

		c.alive.Store(true)
		c.hub.HandleMessage(c, raw)
	}
}
