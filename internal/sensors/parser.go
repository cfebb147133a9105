package sensors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reserved keys of a telemetry record; every other key is a provider field.
const (
	KeyAssetID       = "asset_id"
	KeyLastUpdatedAt = "last_updated_at"
)

// navixyTimeLayout is the timestamp layout used by the Navixy API (UTC).
const navixyTimeLayout = "2006-01-02 15:04:05"

// Record is a parsed telemetry line: the asset it belongs to and its sample.
type Record struct {
	AssetID string
	Sample  Sample

	// Skipped lists fields whose values could not be used as numbers.
	Skipped []string
}

// ParseRecord parses one JSON telemetry object.
func ParseRecord(line []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("empty telemetry record")
	}

	rec := &Record{Sample: Sample{Values: make(map[string]float64, len(raw))}}

	if v, ok := raw[KeyAssetID]; ok {
		switch id := v.(type) {
		case string:
			rec.AssetID = id
		case json.Number:
			rec.AssetID = id.String()
		}
	}
	if rec.AssetID == "" {
		return nil, fmt.Errorf("telemetry record has no %s", KeyAssetID)
	}

	ts, err := parseTimestamp(raw[KeyLastUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLastUpdatedAt, err)
	}
	rec.Sample.LastUpdatedAt = ts

	for key, value := range raw {
		if key == KeyAssetID || key == KeyLastUpdatedAt || value == nil {
			continue
		}
		f, ok := toFloat(value)
		if !ok {
			rec.Skipped = append(rec.Skipped, key)
			continue
		}
		rec.Sample.Values[key] = f
	}
	sort.Strings(rec.Skipped)

	return rec, nil
}

// toFloat accepts JSON numbers, numeric strings and booleans. NaN and the
// infinities are rejected.
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && finite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && finite(f)
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parseTimestamp accepts RFC 3339, the Navixy layout (UTC) or unix seconds.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	case json.Number:
		secs, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return time.Time{}, fmt.Errorf("failed to parse unix time %q: %w", t, err)
			}
			secs = int64(f)
		}
		return time.Unix(secs, 0).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		ts, err := time.ParseInLocation(navixyTimeLayout, s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("unsupported time format %q", s)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}

// ValidateSample reports raw fields that carry a known device error code.
// The values stay in the sample; extraction skips them on its own.
func ValidateSample(s Sample) []string {
	var warnings []string
	names := make([]string, 0, len(s.Values))
	for name := range s.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := ParseField(name)
		if !field.Raw {
			continue
		}
		fam, ok := RawFamily(field.Code)
		if !ok {
			continue
		}
		r, _ := RulesFor(fam)
		if v := s.Values[name]; r.IsSentinel(v) {
			warnings = append(warnings, fmt.Sprintf("%s reports %s error code %.0f", name, fam, v))
		}
	}
	return warnings
}
