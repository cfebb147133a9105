package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds all configuration options for fleeti-sensors.
type Config struct {
	// Inputs
	AssetsFile string `json:"assets_file"` // YAML asset registry
	InputPath  string `json:"input_path"`  // JSON-lines telemetry, "-" for stdin

	// Navixy catalog discovery
	NavixyURL  string        `json:"navixy_url"`
	NavixyHash string        `json:"-"` // session hash, never logged
	CatalogTTL time.Duration `json:"catalog_ttl"`
	APITimeout int           `json:"api_timeout"` // seconds

	// Change tracking
	SnapshotDB string `json:"snapshot_db"` // SQLite path; in-memory when empty

	// MQTT
	MQTTUrl         string `json:"mqtt_url"`
	DiscoveryPrefix string `json:"discovery_prefix"`
	ClientID        string `json:"client_id"`

	MetricsAddr string `json:"metrics_addr"` // e.g. ":9108"; disabled when empty
	InsecureTLS bool   `json:"insecure_tls"`
	Verbose     bool   `json:"verbose"`
	Once        bool   `json:"once"` // print results to stdout instead of publishing
}

// GetDefaultConfig returns a configuration with sensible defaults.
func GetDefaultConfig() *Config {
	return &Config{
		InputPath:       "-",
		NavixyURL:       DefaultNavixyURL,
		CatalogTTL:      DefaultCatalogTTL,
		APITimeout:      int(NavixyTimeout / time.Second),
		DiscoveryPrefix: DefaultDiscoveryPrefix,
	}
}

// Validate checks the configuration and fills in defaults for zero values.
func (c *Config) Validate() error {
	if c.AssetsFile == "" {
		return fmt.Errorf("assets file is required")
	}
	if c.InputPath == "" {
		c.InputPath = "-"
	}

	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client ID is required when MQTT is configured")
		}
	}
	if !c.Once && c.MQTTUrl == "" {
		return fmt.Errorf("either an MQTT URL or -once is required")
	}

	if c.NavixyHash != "" {
		u, err := url.Parse(c.NavixyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("navixy URL %q must be an absolute http(s) URL", c.NavixyURL)
		}
	}
	if c.CatalogTTL < 0 {
		return fmt.Errorf("catalog TTL must not be negative")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = int(NavixyTimeout / time.Second)
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	return nil
}

// HasMQTT returns true if MQTT is configured and results are not only printed.
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != "" && !c.Once
}

// HasNavixy returns true if catalog discovery is possible.
func (c *Config) HasNavixy() bool {
	return c.NavixyHash != "" && c.NavixyURL != ""
}

// HasSnapshotDB returns true if snapshots are persisted to SQLite.
func (c *Config) HasSnapshotDB() bool {
	return c.SnapshotDB != ""
}

// GetAPITimeout returns the API timeout as a duration.
func (c *Config) GetAPITimeout() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}
