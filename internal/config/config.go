// Package config loads service configuration from a JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults for every tunable. The config file only needs to list the values
// it overrides.
const (
	DefaultUpstreamURL         = "https://data.vatsim.net/v3/vatsim-data.json"
	DefaultPollIntervalSeconds = 15
	DefaultTrimRadiusNM        = 300.0
	DefaultSnapshotRetain      = 100
	DefaultTrackRingSize       = 10
	DefaultDedupWindowSeconds  = 60
	DefaultExitConfirmTicks    = 10
)

// AdminPasswordEnv names the environment variable carrying the shared admin
// secret. It is never read from the config file.
const AdminPasswordEnv = "ADMIN_PASSWORD"

// Config holds the service tunables. Fields are pointers so a partial file
// leaves the rest at their defaults; use the Get* accessors when reading.
type Config struct {
	UpstreamURL         *string  `json:"upstream_url,omitempty" yaml:"upstream_url,omitempty"`
	PollIntervalSeconds *int     `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`
	TrimRadiusNM        *float64 `json:"trim_radius_nm,omitempty" yaml:"trim_radius_nm,omitempty"`
	SnapshotRetain      *int     `json:"snapshot_retain,omitempty" yaml:"snapshot_retain,omitempty"`
	TrackRingSize       *int     `json:"track_ring_size,omitempty" yaml:"track_ring_size,omitempty"`
	DedupWindowSeconds  *int     `json:"dedup_window_seconds,omitempty" yaml:"dedup_window_seconds,omitempty"`
	ExitConfirmTicks    *int     `json:"exit_confirm_ticks,omitempty" yaml:"exit_confirm_ticks,omitempty"`

	// TrackPositionsDB opts in to the per-aircraft position table in sqlite.
	// Off by default: the JSON ring file covers the dashboard's needs and the
	// per-row inserts are expensive on small hardware.
	TrackPositionsDB *bool `json:"track_positions_db,omitempty" yaml:"track_positions_db,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml, or .yml file. A missing path
// returns an all-defaults Config so the service can boot without a file.
func Load(path string) (*Config, error) {
	if path == "" {
		return Empty(), nil
	}

	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must be .json, .yaml, or .yml, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every set field for a usable value.
func (c *Config) Validate() error {
	if c.UpstreamURL != nil {
		u, err := url.Parse(*c.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream_url %q is not an absolute URL", *c.UpstreamURL)
		}
	}
	if c.PollIntervalSeconds != nil && *c.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be >= 1, got %d", *c.PollIntervalSeconds)
	}
	if c.TrimRadiusNM != nil && *c.TrimRadiusNM <= 0 {
		return fmt.Errorf("trim_radius_nm must be positive, got %v", *c.TrimRadiusNM)
	}
	if c.SnapshotRetain != nil && *c.SnapshotRetain < 2 {
		return fmt.Errorf("snapshot_retain must be >= 2, got %d", *c.SnapshotRetain)
	}
	if c.TrackRingSize != nil && *c.TrackRingSize < 1 {
		return fmt.Errorf("track_ring_size must be >= 1, got %d", *c.TrackRingSize)
	}
	if c.DedupWindowSeconds != nil && *c.DedupWindowSeconds < 0 {
		return fmt.Errorf("dedup_window_seconds must be >= 0, got %d", *c.DedupWindowSeconds)
	}
	if c.ExitConfirmTicks != nil && *c.ExitConfirmTicks < 1 {
		return fmt.Errorf("exit_confirm_ticks must be >= 1, got %d", *c.ExitConfirmTicks)
	}
	return nil
}

// GetUpstreamURL returns the upstream feed URL.
func (c *Config) GetUpstreamURL() string {
	if c.UpstreamURL != nil {
		return *c.UpstreamURL
	}
	return DefaultUpstreamURL
}

// GetPollIntervalSeconds returns the fallback poll cadence in seconds.
func (c *Config) GetPollIntervalSeconds() int {
	if c.PollIntervalSeconds != nil {
		return *c.PollIntervalSeconds
	}
	return DefaultPollIntervalSeconds
}

// GetTrimRadiusNM returns the configured DCA trim radius.
func (c *Config) GetTrimRadiusNM() float64 {
	if c.TrimRadiusNM != nil {
		return *c.TrimRadiusNM
	}
	return DefaultTrimRadiusNM
}

// GetSnapshotRetain returns how many snapshots the store keeps.
func (c *Config) GetSnapshotRetain() int {
	if c.SnapshotRetain != nil {
		return *c.SnapshotRetain
	}
	return DefaultSnapshotRetain
}

// GetTrackRingSize returns the per-aircraft history ring length.
func (c *Config) GetTrackRingSize() int {
	if c.TrackRingSize != nil {
		return *c.TrackRingSize
	}
	return DefaultTrackRingSize
}

// GetDedupWindowSeconds returns the intrusion dedup window.
func (c *Config) GetDedupWindowSeconds() int {
	if c.DedupWindowSeconds != nil {
		return *c.DedupWindowSeconds
	}
	return DefaultDedupWindowSeconds
}

// GetExitConfirmTicks returns how many consecutive outside observations
// confirm an exit.
func (c *Config) GetExitConfirmTicks() int {
	if c.ExitConfirmTicks != nil {
		return *c.ExitConfirmTicks
	}
	return DefaultExitConfirmTicks
}

// GetTrackPositionsDB reports whether per-aircraft positions are also written
// to sqlite.
func (c *Config) GetTrackPositionsDB() bool {
	if c.TrackPositionsDB != nil {
		return *c.TrackPositionsDB
	}
	return false
}

// AdminPassword returns the shared admin secret from the environment, or ""
// when unset.
func AdminPassword() string {
	return os.Getenv(AdminPasswordEnv)
}
