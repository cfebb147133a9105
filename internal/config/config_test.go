package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := GetDefaultConfig()
		c.AssetsFile = "assets.yaml"
		c.MQTTUrl = "mqtt://broker.local:1883"
		c.ClientID = "edge-1"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"once without mqtt", func(c *Config) { c.MQTTUrl = ""; c.Once = true }, ""},
		{"missing assets", func(c *Config) { c.AssetsFile = "" }, "assets file"},
		{"bad mqtt scheme", func(c *Config) { c.MQTTUrl = "http://broker" }, "supported protocol"},
		{"mqtt without client id", func(c *Config) { c.ClientID = "" }, "client ID"},
		{"no output", func(c *Config) { c.MQTTUrl = "" }, "-once"},
		{"navixy hash with bad url", func(c *Config) { c.NavixyHash = "h"; c.NavixyURL = "api.navixy.com" }, "navixy URL"},
		{"negative ttl", func(c *Config) { c.CatalogTTL = -time.Second }, "TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	c := &Config{AssetsFile: "a.yaml", Once: true}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.InputPath != "-" || c.DiscoveryPrefix != DefaultDiscoveryPrefix || c.GetAPITimeout() != NavixyTimeout {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.HasMQTT() || c.HasNavixy() || c.HasSnapshotDB() {
		t.Errorf("optional features should be off: %+v", c)
	}
}
