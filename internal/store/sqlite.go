// Package store persists magnet snapshots in SQLite so change tracking
// survives restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	dirPermissions    = 0o750
	busyTimeoutMillis = 5000
	connectionTimeout = 5 * time.Second
	timeLayout        = time.RFC3339Nano
)

const schema = `
CREATE TABLE IF NOT EXISTS magnet_snapshots (
	asset_id        TEXT    NOT NULL,
	sensor_id       INTEGER NOT NULL,
	accessory_id    TEXT    NOT NULL,
	state           INTEGER NOT NULL,
	last_changed_at TEXT,
	last_updated_at TEXT    NOT NULL,
	PRIMARY KEY (asset_id, sensor_id)
)`

// Store is a SQLite-backed magnet snapshot store.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *logrus.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.WithField("path", path).Debug("Snapshot database ready")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// PreviousMagnet returns the last saved entry for the sensor.
func (s *Store) PreviousMagnet(ctx context.Context, assetID string, sensorID int) (sensors.MagnetEntry, bool, error) {
	const q = `SELECT accessory_id, state, last_changed_at, last_updated_at
		FROM magnet_snapshots WHERE asset_id = ? AND sensor_id = ?`

	var (
		accessoryID string
		state       int
		changedAt   sql.NullString
		updatedAt   string
	)
	err := s.db.QueryRowContext(ctx, q, assetID, sensorID).Scan(&accessoryID, &state, &changedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sensors.MagnetEntry{}, false, nil
	}
	if err != nil {
		return sensors.MagnetEntry{}, false, fmt.Errorf("querying magnet snapshot: %w", err)
	}

	entry := sensors.MagnetEntry{ID: accessoryID, State: &state, SensorID: sensorID}
	if entry.LastUpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return sensors.MagnetEntry{}, false, fmt.Errorf("parsing last_updated_at: %w", err)
	}
	if changedAt.Valid {
		ts, err := time.Parse(timeLayout, changedAt.String)
		if err != nil {
			return sensors.MagnetEntry{}, false, fmt.Errorf("parsing last_changed_at: %w", err)
		}
		entry.LastChangedAt = &ts
	}
	return entry, true, nil
}

// SaveMagnet upserts entries under the sensor that produced their state.
// Entries without a state or sensor id are ignored.
func (s *Store) SaveMagnet(ctx context.Context, assetID string, entries []sensors.MagnetEntry) error {
	const q = `INSERT INTO magnet_snapshots
		(asset_id, sensor_id, accessory_id, state, last_changed_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, sensor_id) DO UPDATE SET
			accessory_id = excluded.accessory_id,
			state = excluded.state,
			last_changed_at = excluded.last_changed_at,
			last_updated_at = excluded.last_updated_at`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	saved := 0
	for _, e := range entries {
		if e.State == nil || e.SensorID == 0 {
			continue
		}
		var changedAt sql.NullString
		if e.LastChangedAt != nil {
			changedAt = sql.NullString{String: e.LastChangedAt.UTC().Format(timeLayout), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, q,
			assetID, e.SensorID, e.ID, *e.State, changedAt, e.LastUpdatedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("saving magnet snapshot for sensor %d: %w", e.SensorID, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing magnet snapshots: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"asset_id": assetID,
		"saved":    saved,
	}).Debug("Magnet snapshot persisted")
	return nil
}
