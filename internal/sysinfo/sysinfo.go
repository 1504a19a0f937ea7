// Package sysinfo tracks process-level facts the relay reports about
// itself: build version and uptime.
package sysinfo

import (
	"runtime/debug"
	"sync"
	"time"
)

var (
	// Version is the relay's build version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/udprelay/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime     time.Time
	startTimeOnce sync.Once
)

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})

	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion adds git commit info to a "dev" version using Go's
// build info. Returns forms like "dev-a1b2c3d", "dev-a1b2c3d-dirty", or a
// "dev-<process start time>" fallback when no VCS info is embedded.
func enhanceDevVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}

	var revision string
	var dirty bool

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return "dev-" + revision + "-dirty"
	}
	return "dev-" + revision
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// UptimeSeconds returns the process uptime in whole seconds.
func UptimeSeconds() int64 {
	return int64(Uptime().Seconds())
}
