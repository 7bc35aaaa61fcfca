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

package models

import "time"

// DeviceStatus is the last-known state of the camera device. The hub owns
// the single mutable instance; everything handed out is a copy.
type DeviceStatus struct {
	Online     bool      `json:"online"`
	Telemetry  string    `json:"telemetry"`
	LastUpdate time.Time `json:"last_update"`
	Capturing  bool      `json:"capturing"`
	LiveActive bool      `json:"live_active"`
}

// HealthStatus is the read-only payload served by the health endpoint.
type HealthStatus struct {
	Status          string      `json:"status"`
	DeviceConnected bool        `json:"device_connected"`
	ViewerCount     int         `json:"viewer_count"`
	Uptime          string      `json:"uptime"`
	Memory          MemoryStats `json:"memory"`
}

// MemoryStats reports process heap usage plus system memory pressure.
type MemoryStats struct {
	HeapAllocBytes    uint64  `json:"heap_alloc_bytes"`
	SysBytes          uint64  `json:"sys_bytes"`
	SystemUsedPercent float64 `json:"system_used_percent"`
}
