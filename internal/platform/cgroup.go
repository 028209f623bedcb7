// Package platform detects container resource limits. No service calls
// it: the Gateway's connection limit comes from configuration
// (GATEWAY_MAX_CONCURRENT_CONNECTIONS).
package platform

import (
	"os"
	"strconv"
	"strings"
)

// MemoryLimitBytes returns the container memory limit in bytes, read from
// the cgroup filesystem. Tries cgroup v2 first, then falls back to v1.
// Returns 0 when no limit is detected (bare metal, VM, unconstrained
// container) rather than an error — callers treat 0 as "unbounded".
func MemoryLimitBytes() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return v
			}
		}
		return 0
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
			return v
		}
	}

	return 0
}

// SafeMaxConnections derives a connection-table capacity from a detected
// memory limit and a caller-supplied per-connection footprint estimate.
// Bounds the result to [floor, ceiling] so misconfiguration (a footprint
// of 0, a tiny container) can't produce a degenerate table size.
func SafeMaxConnections(memoryLimitBytes int64, bytesPerConnection int64, floor, ceiling int) int {
	if memoryLimitBytes <= 0 {
		return ceiling
	}
	if bytesPerConnection <= 0 {
		bytesPerConnection = 8 * 1024
	}

	const runtimeOverheadBytes = 128 * 1024 * 1024
	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}

	max := int(available / bytesPerConnection)
	if max < floor {
		max = floor
	}
	if max > ceiling {
		max = ceiling
	}
	return max
}
