package derive

import (
	"context"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
)

// AccessorySource returns the accessories mounted on an asset.
type AccessorySource interface {
	Accessories(ctx context.Context, assetID string) ([]sensors.Accessory, error)
}

// AssetSource resolves an asset, mainly for its tracker id.
type AssetSource interface {
	Asset(ctx context.Context, assetID string) (sensors.Asset, bool, error)
}

// CatalogSource lists the sensors configured on a tracker in the telemetry provider.
type CatalogSource interface {
	TrackerSensors(ctx context.Context, trackerID int) ([]sensors.CatalogSensor, error)
}

// SnapshotSource returns the previously derived magnet entry of a sensor.
type SnapshotSource interface {
	PreviousMagnet(ctx context.Context, assetID string, sensorID int) (sensors.MagnetEntry, bool, error)
}

// AccessoryFunc adapts a function to AccessorySource.
type AccessoryFunc func(ctx context.Context, assetID string) ([]sensors.Accessory, error)

func (f AccessoryFunc) Accessories(ctx context.Context, assetID string) ([]sensors.Accessory, error) {
	return f(ctx, assetID)
}

// CatalogFunc adapts a function to CatalogSource.
type CatalogFunc func(ctx context.Context, trackerID int) ([]sensors.CatalogSensor, error)

func (f CatalogFunc) TrackerSensors(ctx context.Context, trackerID int) ([]sensors.CatalogSensor, error) {
	return f(ctx, trackerID)
}
