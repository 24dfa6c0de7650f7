// Package config loads mediapipe's tunables from YAML, with defaults
// matching the numeric constants called out in the specification.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the knobs for the caching content pipe and the RTSP client.
// Every field has a sane default (see Default) so a zero-value Config is
// never used directly by callers; load YAML into a copy of Default instead.
type Config struct {
	// CacheMinBytes / CacheMaxBytes bound the pool size passed to
	// Cache.Initialize. Streaming sources are clamped to 10 MiB regardless.
	CacheMinBytes int64 `yaml:"cache_min_bytes"`
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`
	// SpareBytes sizes the straddling-read scratch area. Streaming sources
	// are clamped to 256 KiB regardless.
	SpareBytes int64 `yaml:"spare_bytes"`

	// HighMarkFraction and ReadTriggerFraction express high_mark and
	// read_trigger as a fraction of the pool size (defaults 3/4 and 1/4).
	HighMarkFraction    float64 `yaml:"high_mark_fraction"`
	ReadTriggerFraction float64 `yaml:"read_trigger_fraction"`

	// RTSPCommandTimeout bounds a single RTSP control-channel round trip.
	RTSPCommandTimeout time.Duration `yaml:"rtsp_command_timeout"`
	// RTSPReceiveSelectBudget bounds the RTP receive thread's select loop.
	RTSPReceiveSelectBudget time.Duration `yaml:"rtsp_receive_select_budget"`
	// RTSPReconnectLimit caps automatic reconnect attempts on stall.
	RTSPReconnectLimit int `yaml:"rtsp_reconnect_limit"`
	// RTSPRedirectLimit caps followed 3xx redirects.
	RTSPRedirectLimit int `yaml:"rtsp_redirect_limit"`

	LogLevel string `yaml:"log_level"`
}

const (
	streamingCachePoolCap = 10 << 20  // 10 MiB, spec.md §4.E.1
	streamingSpareCap     = 256 << 10 // 256 KiB, spec.md §4.E.1
	minChunkSize          = 256 << 10 // spec.md §4.E.1 "floored at 256 KiB"
)

// Default returns the baseline configuration used when no YAML file is
// supplied, or to seed defaults before a partial YAML overlay.
func Default() Config {
	return Config{
		CacheMinBytes:           1 << 20,
		CacheMaxBytes:           16 << 20,
		SpareBytes:              256 << 10,
		HighMarkFraction:        0.75,
		ReadTriggerFraction:     0.25,
		RTSPCommandTimeout:      60 * time.Second,
		RTSPReceiveSelectBudget: time.Second,
		RTSPReconnectLimit:      3,
		RTSPRedirectLimit:       10,
		LogLevel:                "info",
	}
}

// Load reads a YAML file at path into a copy of Default, so unspecified
// fields keep their defaults rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// StreamingPoolCap returns the hard ceiling spec.md §4.E.1 places on pool
// size for streaming sources.
func StreamingPoolCap() int64 { return streamingCachePoolCap }

// StreamingSpareCap returns the hard ceiling on spare-area size for
// streaming sources.
func StreamingSpareCap() int64 { return streamingSpareCap }

// MinChunkSize is the floor chunk size when deriving chunk_size from pool
// size for non-streaming sources (spec.md §4.E.1).
func MinChunkSize() int64 { return minChunkSize }
