package dispatcher

import (
	"encoding/json"
	"log/slog"
	"os"
)

// Config is the enumerated configuration record for a Dispatcher, replacing
// the source's free-form config dict with named, typed fields and defaults.
type Config struct {
	// BaseDir is the staging path as seen by this process.
	BaseDir string `json:"base_dir"`
	// HostDir is the same path as seen by the container runtime host. Kept
	// distinct from BaseDir because the dispatcher process may itself run
	// inside a container while sandbox containers are siblings.
	HostDir string `json:"host_dir"`
	// QueueSize is the task queue capacity.
	QueueSize int `json:"queue_size"`
	// MaxContainerCount is the concurrency ceiling.
	MaxContainerCount int `json:"max_container_count"`
	// Image is the sandbox container image name.
	Image string `json:"image"`

	// RedisAddr configures the optional completion-event broadcaster. Empty
	// disables broadcasting entirely.
	RedisAddr string `json:"redis_addr"`
	// BroadcastChannel is the Redis pub/sub channel completion events are
	// published to.
	BroadcastChannel string `json:"broadcast_channel"`
}

// DefaultConfig returns the documented defaults from spec.md §4.2.
func DefaultConfig() Config {
	return Config{
		BaseDir:           "submissions",
		HostDir:           "/submissions",
		QueueSize:         16,
		MaxContainerCount: 8,
		Image:             "sandbox",
		RedisAddr:         "",
		BroadcastChannel:  "goxec:submissions",
	}
}

// LoadConfig reads a JSON config file at path, overlaying it onto
// DefaultConfig. A missing file is logged at Warn and the defaults apply,
// matching the source's behavior of tolerating an absent dispatcher config.
func LoadConfig(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("dispatcher config not found, using defaults", "path", path, "error", err)
		return cfg
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Error("dispatcher config is malformed, using defaults", "path", path, "error", err)
		return DefaultConfig()
	}
	return cfg
}
