package sensors

import "time"

// LastChanged computes the last_changed_at of a magnet whose current state is
// state, observed at now.
//
//  1. No previous entry, or previous state unknown -> now (first observation).
//  2. Previous state differs -> now.
//  3. Previous state equal -> the previous LastChangedAt, unchanged (may be nil).
func LastChanged(prev *MagnetEntry, state int, now time.Time) *time.Time {
	if prev == nil || prev.State == nil || *prev.State != state {
		t := now
		return &t
	}
	if prev.LastChangedAt == nil {
		return nil
	}
	t := *prev.LastChangedAt
	return &t
}
