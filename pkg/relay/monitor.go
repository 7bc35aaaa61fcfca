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

import "context"

// The liveness monitor runs two independent detection layers:
// payload staleness (a device whose socket is open but whose heartbeats
// stopped) and transport death (a socket that no longer answers pings).

// Start launches the periodic sweeps. Implements lifecycle.Service.
func (h *Hub) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	go h.deviceSilenceLoop(runCtx)
	go h.pingLoop(runCtx)

	h.log.Info().
		Dur("silence_threshold", h.cfg.SilenceThreshold.Duration()).
		Dur("ping_interval", h.cfg.PingInterval.Duration()).
		Msg("liveness monitor started")

	return nil
}

// Stop cancels the sweeps and closes every open connection.
func (h *Hub) Stop(_ context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	return nil
}

func (h *Hub) deviceSilenceLoop(ctx context.Context) {
	ticker := h.clock.Ticker(h.cfg.SilenceSweepInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.sweepDeviceSilence()
		}
	}
}

// sweepDeviceSilence marks the device offline when its heartbeats have
// stopped, even though the socket may still look open (half-open TCP).
func (h *Hub) sweepDeviceSilence() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.status.Online {
		return
	}

	silence := h.clock.Now().Sub(h.status.LastUpdate)
	if silence <= h.cfg.SilenceThreshold.Duration() {
		return
	}

	h.status.Online = false
	h.broadcast(&Message{
		Type:      TypeDeviceOffline,
		Timestamp: h.clock.Now().UnixMilli(),
		Reason:    "timeout",
	})
	h.log.Warn().Dur("silence", silence).Msg("device silent beyond threshold, marked offline")
}

func (h *Hub) pingLoop(ctx context.Context) {
	ticker := h.clock.Ticker(h.cfg.PingInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.sweepPings()
		}
	}
}

// sweepPings terminates connections that did not answer the previous ping
// and pings the rest. The pong handler re-sets the liveness flag.
func (h *Hub) sweepPings() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.alive.Load() {
			h.log.Info().Str("conn_id", c.id).Str("role", string(c.Role())).Msg("connection missed ping, terminating")
			c.close()

			continue
		}

		c.alive.Store(false)
		c.sendPing()
	}
}
