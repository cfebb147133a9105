package sensors

import (
	"strings"
	"time"
)

// Family identifies which kind of measurement a provider field carries.
type Family string

const (
	FamilyMagnet      Family = "magnet"
	FamilyTemperature Family = "temperature"
	FamilyHumidity    Family = "humidity"
	FamilyBattery     Family = "battery"
)

// EnvironmentFamilies lists the families reported in EnvironmentEntry, in output order.
var EnvironmentFamilies = []Family{FamilyTemperature, FamilyHumidity, FamilyBattery}

// --- Input metadata ---

// SensorMeta describes one physical sensor attached to an accessory.
type SensorMeta struct {
	ID             int      `json:"id" yaml:"id"`                                             // Navixy sensor id
	Type           string   `json:"type" yaml:"type"`                                         // free-text category
	Position       *string  `json:"position,omitempty" yaml:"position,omitempty"`             // e.g. "rear_door"
	ProviderFields []string `json:"provider_field,omitempty" yaml:"provider_field,omitempty"` // empty triggers catalog discovery
}

// IsMagnet reports whether the sensor type names a magnet switch (case-insensitive).
func (m SensorMeta) IsMagnet() bool {
	return strings.Contains(strings.ToLower(m.Type), string(FamilyMagnet))
}

// EnvironmentFamily returns the environment family for an exact type match.
func (m SensorMeta) EnvironmentFamily() (Family, bool) {
	switch Family(m.Type) {
	case FamilyTemperature, FamilyHumidity, FamilyBattery:
		return Family(m.Type), true
	}
	return "", false
}

// Accessory is a device mounted on an asset that carries one or more sensors.
type Accessory struct {
	ID      string       `json:"id" yaml:"id"`
	Name    string       `json:"name" yaml:"name"`
	Label   string       `json:"label" yaml:"label"`
	Sensors []SensorMeta `json:"sensors" yaml:"sensors"`
}

// Asset is the tracked vehicle or equipment. TrackerID is 0 when unknown.
type Asset struct {
	ID        string `json:"id" yaml:"id"`
	TrackerID int    `json:"tracker_id" yaml:"tracker_id"`
}

// CatalogSensor is one entry of a tracker's sensor catalog as reported by Navixy.
type CatalogSensor struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	InputName string `json:"input_name"`
	Type      string `json:"type"`
}

// --- Telemetry ---

// Sample is one decoded telemetry record. Missing and null fields are absent from Values.
type Sample struct {
	LastUpdatedAt time.Time          `json:"last_updated_at"`
	Values        map[string]float64 `json:"values"`
}

// Value returns the value recorded for name, if any.
func (s Sample) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// --- Output ---

// Measurement is a converted reading with its unit.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// MagnetEntry is the normalized state of a magnet (door/hatch) accessory.
// State is nil until a valid reading is found; LastChangedAt is only set alongside it.
type MagnetEntry struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Label         string     `json:"label"`
	Position      *string    `json:"position"`
	State         *int       `json:"state"`
	SensorID      int        `json:"sensor_id,omitempty"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	LastChangedAt *time.Time `json:"last_changed_at"`
}

// EnvironmentEntry is the normalized environment reading of an accessory.
type EnvironmentEntry struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Label         string       `json:"label"`
	Position      *string      `json:"position"`
	Temperature   *Measurement `json:"temperature"`
	Humidity      *Measurement `json:"humidity"`
	Battery       *Measurement `json:"battery"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// HasMeasurement reports whether any environment value was found.
func (e *EnvironmentEntry) HasMeasurement() bool {
	return e.Temperature != nil || e.Humidity != nil || e.Battery != nil
}

// Set stores m under the given family. Unknown families are ignored.
func (e *EnvironmentEntry) Set(f Family, m *Measurement) {
	switch f {
	case FamilyTemperature:
		e.Temperature = m
	case FamilyHumidity:
		e.Humidity = m
	case FamilyBattery:
		e.Battery = m
	}
}

// Get returns the measurement stored under the given family.
func (e *EnvironmentEntry) Get(f Family) *Measurement {
	switch f {
	case FamilyTemperature:
		return e.Temperature
	case FamilyHumidity:
		return e.Humidity
	case FamilyBattery:
		return e.Battery
	}
	return nil
}
