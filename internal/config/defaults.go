package config

import "time"

// Application-wide timing constants and other defaults.

const (
	// Operation time-outs
	NavixyTimeout = 10 * time.Second // tracker/sensor/list call
	MQTTTimeout   = 5 * time.Second  // MQTT publish
	StoreTimeout  = 5 * time.Second  // snapshot read/write per sample

	// Cache
	DefaultCatalogTTL = time.Hour

	// Pipeline
	BusBuffer       = 64      // records queued between reader and processor
	MaxRecordSize   = 1 << 20 // longest accepted input line, bytes
	ShutdownTimeout = 5 * time.Second

	DefaultNavixyURL       = "https://api.navixy.com/v2"
	DefaultDiscoveryPrefix = "homeassistant"
)
