package cache

import (
	"context"
	"sync"

	"github.com/fleeti/fleeti-sensors/internal/derive"
	"github.com/fleeti/fleeti-sensors/internal/domain"
	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Manager keeps, per asset, the last magnet entry of every sensor and the
// last published result. It is safe for concurrent use.
//
// Behaviour:
//   - PreviousMagnet reports ok == false until SaveMagnet stored the sensor.
//   - First call to Changed for an asset returns true and stores the result.
//   - Changed ignores last_updated_at when comparing.
type Manager struct {
	mu        sync.RWMutex
	magnets   map[snapshotKey]sensors.MagnetEntry
	published map[string]*derive.Result
	logger    *logrus.Logger
}

type snapshotKey struct {
	assetID  string
	sensorID int
}

// NewManager returns an empty cache.
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		magnets:   make(map[snapshotKey]sensors.MagnetEntry),
		published: make(map[string]*derive.Result),
		logger:    logger,
	}
}

// PreviousMagnet returns the last saved entry for the sensor.
func (m *Manager) PreviousMagnet(_ context.Context, assetID string, sensorID int) (sensors.MagnetEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.magnets[snapshotKey{assetID, sensorID}]
	return e, ok, nil
}

// SaveMagnet stores entries under the sensor that produced their state.
// Entries without a state or sensor id are ignored.
func (m *Manager) SaveMagnet(_ context.Context, assetID string, entries []sensors.MagnetEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.State == nil || e.SensorID == 0 {
			continue
		}
		m.magnets[snapshotKey{assetID, e.SensorID}] = e
	}
	m.logger.WithFields(logrus.Fields{
		"asset_id": assetID,
		"entries":  len(entries),
	}).Debug("Magnet snapshot cached")
	return nil
}

// Changed compares cur against the last result seen for the same asset and
// stores cur when it differs.
func (m *Manager) Changed(cur *derive.Result) bool {
	if cur == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.published[cur.AssetID]
	if !domain.Changed(prev, cur) {
		return false
	}
	m.published[cur.AssetID] = clone(cur)
	return true
}

// Reset forgets the last result of an asset so the next Changed call
// returns true. Magnet snapshots are kept.
func (m *Manager) Reset(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.published, assetID)
}

// clone copies the entry slices. Entries are treated as immutable after
// derivation, so pointer fields are shared.
func clone(src *derive.Result) *derive.Result {
	dst := *src
	dst.Magnet = append([]sensors.MagnetEntry(nil), src.Magnet...)
	dst.Environment = append([]sensors.EnvironmentEntry(nil), src.Environment...)
	dst.MagnetSnapshots = nil
	return &dst
}
