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
	"errors"
	"time"

	srHTTP "github.com/carverauto/camrelay/pkg/http"
	"github.com/carverauto/camrelay/pkg/logger"
	"github.com/carverauto/camrelay/pkg/models"
)

const (
	defaultListenAddr       = ":8090"
	defaultMaxFrameSize     = 64 * 1024
	defaultCaptureTimeout   = 60 * time.Second
	defaultSilenceThreshold = 15 * time.Second
	defaultSilenceInterval  = 5 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultLiveFramePath    = "/live/latest.jpg"
)

var errNonPositiveInterval = errors.New("intervals and timeouts must be positive")

// Config represents the configuration for a relay instance.
//
// The capture timeout, device silence threshold, and transport ping
// interval are three independent knobs; none is derived from another.
type Config struct {
	ListenAddr   string            `json:"listen_addr"`
	ServiceName  string            `json:"service_name"`
	CORS         srHTTP.CORSConfig `json:"cors"`
	MaxFrameSize int64             `json:"max_frame_size"`

	CaptureTimeout       models.Duration `json:"capture_timeout"`
	SilenceThreshold     models.Duration `json:"silence_threshold"`
	SilenceSweepInterval models.Duration `json:"silence_sweep_interval"`
	PingInterval         models.Duration `json:"ping_interval"`

	// LiveFramePath is the resource the hub advertises to viewers when the
	// device reports a fresh live frame without naming one itself.
	LiveFramePath string `json:"live_frame_path"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.ServiceName == "" {
		c.ServiceName = "relay"
	}

	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}

	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = models.Duration(defaultCaptureTimeout)
	}

	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = models.Duration(defaultSilenceThreshold)
	}

	if c.SilenceSweepInterval == 0 {
		c.SilenceSweepInterval = models.Duration(defaultSilenceInterval)
	}

	if c.PingInterval == 0 {
		c.PingInterval = models.Duration(defaultPingInterval)
	}

	if c.LiveFramePath == "" {
		c.LiveFramePath = defaultLiveFramePath
	}

	// The relay serves same-host browsers; an unset origin list would
	// reject every upgrade, so it opens up instead of failing closed.
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}

	if c.CaptureTimeout < 0 || c.SilenceThreshold < 0 || c.SilenceSweepInterval < 0 || c.PingInterval < 0 {
		return errNonPositiveInterval
	}

	return nil
}
