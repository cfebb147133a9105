// Package derive builds the normalized sensor entries of an asset from one
// telemetry sample and the asset's accessory metadata.
//
// All external data comes through the lookup interfaces in sources.go. Lookup
// failures are logged and degrade to "no candidate fields" or "no previous
// entry"; a derivation never fails. A Deriver holds no mutable state, so one
// instance can serve many assets concurrently. Calls for the same asset must be
// serialized by the caller when change tracking matters.
package derive

import (
	"context"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/metrics"
	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Deriver turns telemetry samples into sensor entries.
type Deriver struct {
	accessories AccessorySource
	assets      AssetSource
	catalog     CatalogSource
	snapshots   SnapshotSource
	logger      *logrus.Logger
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithAssets sets the asset lookup used to find tracker ids for catalog discovery.
func WithAssets(src AssetSource) Option {
	return func(d *Deriver) { d.assets = src }
}

// WithCatalog sets the tracker sensor catalog used when a sensor declares no provider fields.
func WithCatalog(src CatalogSource) Option {
	return func(d *Deriver) { d.catalog = src }
}

// WithSnapshots sets the previous-snapshot lookup used for magnet change tracking.
func WithSnapshots(src SnapshotSource) Option {
	return func(d *Deriver) { d.snapshots = src }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Deriver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Deriver. Only the accessory lookup is required.
func New(accessories AccessorySource, opts ...Option) *Deriver {
	d := &Deriver{
		accessories: accessories,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result holds both sensor families derived from one sample.
type Result struct {
	AssetID       string                     `json:"asset_id"`
	LastUpdatedAt time.Time                  `json:"last_updated_at"`
	Magnet        []sensors.MagnetEntry      `json:"magnet"`
	Environment   []sensors.EnvironmentEntry `json:"environment"`

	// MagnetSnapshots holds one entry per magnet sensor that produced a
	// state, keyed by SensorID. It feeds change tracking and is not published.
	MagnetSnapshots []sensors.MagnetEntry `json:"-"`
}

// Empty reports whether no accessory produced a measurement.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Magnet) == 0 && len(r.Environment) == 0)
}

// DeriveMagnet returns one entry per accessory whose magnet sensors yield a state.
func (d *Deriver) DeriveMagnet(ctx context.Context, assetID string, sample sensors.Sample) []sensors.MagnetEntry {
	inv := d.begin(ctx, assetID, sample)
	out, _ := inv.magnet(inv.loadAccessories())
	return out
}

// DeriveEnvironment returns one entry per accessory with at least one
// temperature, humidity or battery reading.
func (d *Deriver) DeriveEnvironment(ctx context.Context, assetID string, sample sensors.Sample) []sensors.EnvironmentEntry {
	inv := d.begin(ctx, assetID, sample)
	return inv.environment(inv.loadAccessories())
}

// Derive runs both families, sharing the accessory and catalog lookups.
func (d *Deriver) Derive(ctx context.Context, assetID string, sample sensors.Sample) Result {
	inv := d.begin(ctx, assetID, sample)
	accessories := inv.loadAccessories()
	magnet, snapshots := inv.magnet(accessories)
	return Result{
		AssetID:         assetID,
		LastUpdatedAt:   sample.LastUpdatedAt,
		Magnet:          magnet,
		Environment:     inv.environment(accessories),
		MagnetSnapshots: snapshots,
	}
}

// invocation carries the lookups made during one derivation.
type invocation struct {
	*Deriver
	ctx     context.Context
	assetID string
	sample  sensors.Sample
	log     *logrus.Entry

	catalogLoaded bool
	catalogList   []sensors.CatalogSensor
}

func (d *Deriver) begin(ctx context.Context, assetID string, sample sensors.Sample) *invocation {
	return &invocation{
		Deriver: d,
		ctx:     ctx,
		assetID: assetID,
		sample:  sample,
		log:     d.logger.WithField("asset_id", assetID),
	}
}

func (inv *invocation) loadAccessories() []sensors.Accessory {
	if inv.accessories == nil {
		return nil
	}
	list, err := inv.accessories.Accessories(inv.ctx, inv.assetID)
	if err != nil {
		inv.log.WithError(err).Warn("derive: accessory lookup failed")
		return nil
	}
	return list
}

// magnet returns the accessory entries and the per-sensor snapshots behind them.
// When several magnet sensors of an accessory yield a state, the last one wins
// the accessory entry but each keeps its own snapshot.
func (inv *invocation) magnet(accessories []sensors.Accessory) ([]sensors.MagnetEntry, []sensors.MagnetEntry) {
	start := time.Now()
	out := make([]sensors.MagnetEntry, 0, len(accessories))
	var snapshots []sensors.MagnetEntry
	skipped := 0

	for _, acc := range accessories {
		if len(acc.Sensors) == 0 {
			continue
		}
		entry := sensors.MagnetEntry{
			ID:            acc.ID,
			Name:          acc.Name,
			Label:         acc.Label,
			LastUpdatedAt: inv.sample.LastUpdatedAt,
		}

		matched := false
		for _, meta := range acc.Sensors {
			if !meta.IsMagnet() {
				continue
			}
			matched = true
			if meta.Position != nil {
				entry.Position = copyString(meta.Position)
			}

			candidates := sensors.PreferRaw(sensors.MagnetCorrespondence, inv.providerFields(meta))
			state, ok := sensors.ExtractState(candidates, inv.sample)
			if !ok {
				inv.log.WithFields(logrus.Fields{
					"accessory_id": acc.ID,
					"sensor_id":    meta.ID,
					"candidates":   sensors.Names(candidates),
				}).Debug("derive: no valid magnet state")
				continue
			}

			entry.State = &state
			entry.SensorID = meta.ID
			entry.LastChangedAt = sensors.LastChanged(inv.previousMagnet(meta.ID), state, inv.sample.LastUpdatedAt)
			snapshots = append(snapshots, entry)
		}

		if entry.State == nil {
			if matched {
				skipped++
			}
			continue
		}
		out = append(out, entry)
	}

	metrics.ObserveDerivation(string(sensors.FamilyMagnet), len(out), skipped, time.Since(start))
	return out, snapshots
}

func (inv *invocation) environment(accessories []sensors.Accessory) []sensors.EnvironmentEntry {
	start := time.Now()
	out := make([]sensors.EnvironmentEntry, 0, len(accessories))
	skipped := 0

	for _, acc := range accessories {
		if len(acc.Sensors) == 0 {
			continue
		}
		entry := sensors.EnvironmentEntry{
			ID:            acc.ID,
			Name:          acc.Name,
			Label:         acc.Label,
			LastUpdatedAt: inv.sample.LastUpdatedAt,
		}

		matched := false
		for _, meta := range acc.Sensors {
			family, ok := meta.EnvironmentFamily()
			if !ok {
				continue
			}
			matched = true
			if meta.Position != nil {
				entry.Position = copyString(meta.Position)
			}

			candidates := sensors.AppendCorrespondences(sensors.EnvironmentCorrespondence, inv.providerFields(meta))
			m := sensors.ExtractMeasurement(family, candidates, inv.sample)
			if m == nil {
				inv.log.WithFields(logrus.Fields{
					"accessory_id": acc.ID,
					"sensor_id":    meta.ID,
					"family":       family,
					"candidates":   sensors.Names(candidates),
				}).Debug("derive: no valid measurement")
			}
			// Last sensor of a family wins, even when it found nothing.
			entry.Set(family, m)
		}

		if !entry.HasMeasurement() {
			if matched {
				skipped++
			}
			continue
		}
		out = append(out, entry)
	}

	metrics.ObserveDerivation("environment", len(out), skipped, time.Since(start))
	return out
}

// providerFields returns the declared fields of meta or, when none are
// declared, the input name reported for meta.ID by the tracker catalog.
func (inv *invocation) providerFields(meta sensors.SensorMeta) []string {
	if len(meta.ProviderFields) > 0 {
		return meta.ProviderFields
	}

	for _, s := range inv.trackerCatalog() {
		if s.ID != meta.ID {
			continue
		}
		if s.InputName == "" {
			break
		}
		metrics.IncCatalogLookup(metrics.CatalogHit)
		return []string{s.InputName}
	}
	metrics.IncCatalogLookup(metrics.CatalogMiss)
	inv.log.WithField("sensor_id", meta.ID).Debug("derive: sensor not found in tracker catalog")
	return nil
}

// trackerCatalog fetches the catalog at most once per invocation.
func (inv *invocation) trackerCatalog() []sensors.CatalogSensor {
	if inv.catalogLoaded {
		return inv.catalogList
	}
	inv.catalogLoaded = true

	if inv.assets == nil || inv.catalog == nil {
		return nil
	}
	asset, ok, err := inv.assets.Asset(inv.ctx, inv.assetID)
	if err != nil {
		inv.log.WithError(err).Warn("derive: asset lookup failed")
		return nil
	}
	if !ok || asset.TrackerID == 0 {
		inv.log.Debug("derive: asset has no tracker id, skipping catalog discovery")
		return nil
	}

	list, err := inv.catalog.TrackerSensors(inv.ctx, asset.TrackerID)
	if err != nil {
		metrics.IncCatalogLookup(metrics.CatalogError)
		inv.log.WithError(err).WithField("tracker_id", asset.TrackerID).Warn("derive: tracker catalog lookup failed")
		return nil
	}
	inv.catalogList = list
	return list
}

func (inv *invocation) previousMagnet(sensorID int) *sensors.MagnetEntry {
	if inv.snapshots == nil {
		return nil
	}
	prev, ok, err := inv.snapshots.PreviousMagnet(inv.ctx, inv.assetID, sensorID)
	if err != nil {
		inv.log.WithError(err).WithField("sensor_id", sensorID).Warn("derive: previous snapshot lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	return &prev
}

func copyString(s *string) *string {
	v := *s
	return &v
}
