package domain

import (
	"reflect"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/derive"
	"github.com/fleeti/fleeti-sensors/internal/sensors"
)

// Changed returns true if cur differs from prev in anything but the
// last_updated_at timestamps. Empty and nil entry lists compare equal.
func Changed(prev, cur *derive.Result) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}
	return !reflect.DeepEqual(normalize(prev), normalize(cur))
}

// normalize returns a copy of r with every last_updated_at zeroed.
func normalize(r *derive.Result) derive.Result {
	out := derive.Result{AssetID: r.AssetID}

	if len(r.Magnet) > 0 {
		out.Magnet = make([]sensors.MagnetEntry, len(r.Magnet))
		for i, e := range r.Magnet {
			e.LastUpdatedAt = time.Time{}
			out.Magnet[i] = e
		}
	}
	if len(r.Environment) > 0 {
		out.Environment = make([]sensors.EnvironmentEntry, len(r.Environment))
		for i, e := range r.Environment {
			e.LastUpdatedAt = time.Time{}
			out.Environment[i] = e
		}
	}
	return out
}
