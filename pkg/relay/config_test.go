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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/camrelay/pkg/models"
)

func TestConfigValidate_Defaults(t *testing.T) {
	var cfg Config

	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "relay", cfg.ServiceName)
	assert.Equal(t, int64(64*1024), cfg.MaxFrameSize)
	assert.Equal(t, 60*time.Second, cfg.CaptureTimeout.Duration())
	assert.Equal(t, 15*time.Second, cfg.SilenceThreshold.Duration())
	assert.Equal(t, 5*time.Second, cfg.SilenceSweepInterval.Duration())
	assert.Equal(t, 30*time.Second, cfg.PingInterval.Duration())
	assert.Equal(t, "/live/latest.jpg", cfg.LiveFramePath)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestConfigValidate_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		ListenAddr:     ":9000",
		CaptureTimeout: models.Duration(10 * time.Second),
		LiveFramePath:  "/frames/current.jpg",
	}

	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.CaptureTimeout.Duration())
	assert.Equal(t, "/frames/current.jpg", cfg.LiveFramePath)
}

func TestConfigValidate_RejectsNegativeIntervals(t *testing.T) {
	cfg := Config{PingInterval: models.Duration(-time.Second)}

	assert.ErrorIs(t, cfg.Validate(), errNonPositiveInterval)
}
