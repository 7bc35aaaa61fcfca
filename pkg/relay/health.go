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
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/camrelay/pkg/logger"
	"github.com/carverauto/camrelay/pkg/models"
)

// HealthHandler serves the read-only side-channel status of the hub:
// whether a device is attached, how many viewers are connected, process
// uptime, and memory usage. No side effects.
func HealthHandler(h *Hub, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceConnected, viewerCount := h.Snapshot()

		var memStats runtime.MemStats

		runtime.ReadMemStats(&memStats)

		memory := models.MemoryStats{
			HeapAllocBytes: memStats.HeapAlloc,
			SysBytes:       memStats.Sys,
		}

		if vmStats, err := mem.VirtualMemoryWithContext(r.Context()); err != nil {
			log.Warn().Err(err).Msg("failed to read system memory stats")
		} else {
			memory.SystemUsedPercent = vmStats.UsedPercent
		}

		status := models.HealthStatus{
			Status:          "ok",
			DeviceConnected: deviceConnected,
			ViewerCount:     viewerCount,
			Uptime:          h.clock.Now().Sub(h.Started()).Round(time.Second).String(),
			Memory:          memory,
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("failed to write health response")
		}
	}
}
