package sensors

import (
	"fmt"
	"sort"
)

// Correspondence maps a provider field name to the field names that carry the
// same reading in the other format (processed Navixy name <-> raw avl_io).
//
// Entries are declared in both directions by the table author. A Correspondence
// is immutable once built; Lookup hands out copies.
type Correspondence struct {
	entries map[string][]Field
}

// NewCorrespondence parses a declared mapping into an immutable table.
func NewCorrespondence(declared map[string][]string) Correspondence {
	entries := make(map[string][]Field, len(declared))
	for name, corr := range declared {
		fields := make([]Field, 0, len(corr))
		for _, c := range corr {
			fields = append(fields, ParseField(c))
		}
		entries[name] = fields
	}
	return Correspondence{entries: entries}
}

// Lookup returns the correspondences of name, or an empty slice when unknown.
func (c Correspondence) Lookup(name string) []Field {
	corr := c.entries[name]
	out := make([]Field, len(corr))
	copy(out, corr)
	return out
}

// Has reports whether name has an entry (possibly empty).
func (c Correspondence) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Fields returns every declared field name, sorted.
func (c Correspondence) Fields() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Asymmetries lists declarations "A -> B" for which B does not map back to A.
func (c Correspondence) Asymmetries() []string {
	var out []string
	for _, name := range c.Fields() {
		for _, corr := range c.entries[name] {
			back := false
			for _, f := range c.entries[corr.Name] {
				if f.Name == name {
					back = true
					break
				}
			}
			if !back {
				out = append(out, fmt.Sprintf("%s -> %s", name, corr.Name))
			}
		}
	}
	return out
}

// MagnetCorrespondence pairs the BLE magnet fields with their AVL IO channels.
var MagnetCorrespondence = NewCorrespondence(map[string][]string{
	"ble_magnet_sensor_1": {"avl_io_10808"}, "avl_io_10808": {"ble_magnet_sensor_1"},
	"ble_magnet_sensor_2": {"avl_io_10809"}, "avl_io_10809": {"ble_magnet_sensor_2"},
	"ble_magnet_sensor_3": {"avl_io_10810"}, "avl_io_10810": {"ble_magnet_sensor_3"},
	"ble_magnet_sensor_4": {"avl_io_10811"}, "avl_io_10811": {"ble_magnet_sensor_4"},
})

// EnvironmentCorrespondence pairs temperature, humidity and battery fields.
// Property ids follow the Teltonika FMB140 AVL parameter list.
var EnvironmentCorrespondence = NewCorrespondence(map[string][]string{
	// LLS temperature, raw already in whole degrees
	"lls_temperature_1": {"avl_io_202"}, "avl_io_202": {"lls_temperature_1"},
	"lls_temperature_2": {"avl_io_204"}, "avl_io_204": {"lls_temperature_2"},

	// External probes
	"ext_temp_sensor_1": {"avl_io_72"}, "avl_io_72": {"ext_temp_sensor_1"},
	"ext_temp_sensor_2": {"avl_io_73"}, "avl_io_73": {"ext_temp_sensor_2"},
	"ext_temp_sensor_3": {"avl_io_74"}, "avl_io_74": {"ext_temp_sensor_3"},
	"ext_temp_sensor_4": {"avl_io_75"}, "avl_io_75": {"ext_temp_sensor_4"},

	// BLE temperature
	"ble_temp_sensor_1": {"avl_io_25"}, "avl_io_25": {"ble_temp_sensor_1"},
	"ble_temp_sensor_2": {"avl_io_26"}, "avl_io_26": {"ble_temp_sensor_2"},
	"ble_temp_sensor_3": {"avl_io_27"}, "avl_io_27": {"ble_temp_sensor_3"},
	"ble_temp_sensor_4": {"avl_io_28"}, "avl_io_28": {"ble_temp_sensor_4"},

	// BLE humidity (property ids 86, 104, 106, 108)
	"ble_humidity_1": {"avl_io_86"}, "avl_io_86": {"ble_humidity_1"},
	"ble_humidity_2": {"avl_io_104"}, "avl_io_104": {"ble_humidity_2"},
	"ble_humidity_3": {"avl_io_106"}, "avl_io_106": {"ble_humidity_3"},
	"ble_humidity_4": {"avl_io_108"}, "avl_io_108": {"ble_humidity_4"},

	// Generic humidity: raw channel not confirmed yet, keep empty.
	"humidity_1": {}, "humidity_2": {},

	// BLE battery level, already percent (property ids 29, 20, 22, 23)
	"ble_battery_level_1": {"avl_io_29"}, "avl_io_29": {"ble_battery_level_1"},
	"ble_battery_level_2": {"avl_io_20"}, "avl_io_20": {"ble_battery_level_2"},
	"ble_battery_level_3": {"avl_io_22"}, "avl_io_22": {"ble_battery_level_3"},
	"ble_battery_level_4": {"avl_io_23"}, "avl_io_23": {"ble_battery_level_4"},
})
