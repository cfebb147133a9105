package derive

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(15 * time.Minute)
)

// --- fakes ---

type fakeAssets map[string]sensors.Asset

func (f fakeAssets) Asset(_ context.Context, id string) (sensors.Asset, bool, error) {
	a, ok := f[id]
	return a, ok, nil
}

type fakeCatalog struct {
	list  []sensors.CatalogSensor
	err   error
	calls []int
}

func (f *fakeCatalog) TrackerSensors(_ context.Context, trackerID int) ([]sensors.CatalogSensor, error) {
	f.calls = append(f.calls, trackerID)
	return f.list, f.err
}

type fakeSnapshots struct {
	entries map[int]sensors.MagnetEntry
	err     error
}

func (f *fakeSnapshots) PreviousMagnet(_ context.Context, _ string, sensorID int) (sensors.MagnetEntry, bool, error) {
	if f.err != nil {
		return sensors.MagnetEntry{}, false, f.err
	}
	e, ok := f.entries[sensorID]
	return e, ok, nil
}

func accessoriesOf(list ...sensors.Accessory) AccessorySource {
	return AccessoryFunc(func(context.Context, string) ([]sensors.Accessory, error) {
		return list, nil
	})
}

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func sampleAt(ts time.Time, values map[string]float64) sensors.Sample {
	return sensors.Sample{LastUpdatedAt: ts, Values: values}
}

// --- magnet ---

func TestDeriveMagnetDeclaredFields(t *testing.T) {
	acc := sensors.Accessory{
		ID: "acc-1", Name: "Rear door", Label: "RD",
		Sensors: []sensors.SensorMeta{
			{ID: 11, Type: "BLE Magnet", Position: strPtr("rear"), ProviderFields: []string{"ble_magnet_sensor_1"}},
			{ID: 12, Type: "temperature", ProviderFields: []string{"avl_io_72"}},
		},
	}
	d := New(accessoriesOf(acc), WithLogger(quietLogger()))

	// Raw field wins over the processed one.
	got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"avl_io_10808":        0,
		"ble_magnet_sensor_1": 1,
	}))

	want := []sensors.MagnetEntry{{
		ID: "acc-1", Name: "Rear door", Label: "RD",
		Position:      strPtr("rear"),
		State:         intPtr(0),
		SensorID:      11,
		LastUpdatedAt: t1,
		LastChangedAt: &t1,
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeriveMagnet() = %+v, want %+v", got, want)
	}
}

func TestDeriveMagnetChangeTracking(t *testing.T) {
	acc := sensors.Accessory{ID: "acc-1", Sensors: []sensors.SensorMeta{
		{ID: 11, Type: "magnet", ProviderFields: []string{"avl_io_10808"}},
	}}

	tests := []struct {
		name     string
		previous map[int]sensors.MagnetEntry
		state    float64
		want     *time.Time
	}{
		{"first observation", nil, 1, &t1},
		{"unchanged carries forward", map[int]sensors.MagnetEntry{11: {State: intPtr(1), LastChangedAt: &t0}}, 1, &t0},
		{"changed", map[int]sensors.MagnetEntry{11: {State: intPtr(0), LastChangedAt: &t0}}, 1, &t1},
		{"unchanged without timestamp", map[int]sensors.MagnetEntry{11: {State: intPtr(1)}}, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(accessoriesOf(acc), WithLogger(quietLogger()), WithSnapshots(&fakeSnapshots{entries: tt.previous}))
			got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_10808": tt.state}))
			if len(got) != 1 {
				t.Fatalf("DeriveMagnet() returned %d entries, want 1", len(got))
			}
			lc := got[0].LastChangedAt
			switch {
			case tt.want == nil && lc != nil:
				t.Errorf("LastChangedAt = %v, want nil", *lc)
			case tt.want != nil && (lc == nil || !lc.Equal(*tt.want)):
				t.Errorf("LastChangedAt = %v, want %v", lc, *tt.want)
			}
		})
	}
}

func TestDeriveMagnetSnapshotsPerSensor(t *testing.T) {
	acc := sensors.Accessory{ID: "double-door", Sensors: []sensors.SensorMeta{
		{ID: 11, Type: "magnet", ProviderFields: []string{"ble_magnet_sensor_1"}},
		{ID: 12, Type: "magnet", ProviderFields: []string{"ble_magnet_sensor_2"}},
		{ID: 13, Type: "magnet", ProviderFields: []string{"ble_magnet_sensor_3"}},
	}}
	snaps := &fakeSnapshots{entries: map[int]sensors.MagnetEntry{
		11: {State: intPtr(1), SensorID: 11, LastChangedAt: &t0},
	}}
	d := New(accessoriesOf(acc), WithLogger(quietLogger()), WithSnapshots(snaps))

	res := d.Derive(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"ble_magnet_sensor_1": 1,
		"ble_magnet_sensor_2": 0,
	}))

	if len(res.Magnet) != 1 || res.Magnet[0].SensorID != 12 {
		t.Fatalf("Magnet = %+v, want one entry from sensor 12", res.Magnet)
	}
	if len(res.MagnetSnapshots) != 2 {
		t.Fatalf("MagnetSnapshots = %+v, want one per sensor with a state", res.MagnetSnapshots)
	}
	first, second := res.MagnetSnapshots[0], res.MagnetSnapshots[1]
	if first.SensorID != 11 || *first.State != 1 || first.LastChangedAt == nil || !first.LastChangedAt.Equal(t0) {
		t.Errorf("snapshot of sensor 11 = %+v, want state 1 changed at %v", first, t0)
	}
	if second.SensorID != 12 || *second.State != 0 || second.LastChangedAt == nil || !second.LastChangedAt.Equal(t1) {
		t.Errorf("snapshot of sensor 12 = %+v, want state 0 changed at %v", second, t1)
	}
}

func TestDeriveMagnetSnapshotErrorDegrades(t *testing.T) {
	logger, hook := test.NewNullLogger()
	acc := sensors.Accessory{ID: "acc-1", Sensors: []sensors.SensorMeta{
		{ID: 11, Type: "magnet", ProviderFields: []string{"avl_io_10808"}},
	}}
	d := New(accessoriesOf(acc), WithLogger(logger), WithSnapshots(&fakeSnapshots{err: errors.New("db locked")}))

	got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_10808": 1}))
	if len(got) != 1 || got[0].LastChangedAt == nil || !got[0].LastChangedAt.Equal(t1) {
		t.Fatalf("DeriveMagnet() = %+v, want one entry changed at %v", got, t1)
	}
	if last := hook.LastEntry(); last == nil || last.Level != logrus.WarnLevel {
		t.Errorf("expected a warning for the failed snapshot lookup, got %v", last)
	}
}

func TestDeriveMagnetSkipsAccessoriesWithoutState(t *testing.T) {
	accs := []sensors.Accessory{
		{ID: "no-sensors"},
		{ID: "not-magnet", Sensors: []sensors.SensorMeta{{ID: 1, Type: "temperature", ProviderFields: []string{"avl_io_72"}}}},
		{ID: "invalid-value", Sensors: []sensors.SensorMeta{{ID: 2, Type: "magnet", ProviderFields: []string{"ble_magnet_sensor_2"}}}},
		{ID: "ok", Sensors: []sensors.SensorMeta{{ID: 3, Type: "Magnet door", ProviderFields: []string{"ble_magnet_sensor_3"}}}},
	}
	d := New(accessoriesOf(accs...), WithLogger(quietLogger()))

	got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"avl_io_72":           215,
		"avl_io_10809":        7,
		"ble_magnet_sensor_3": 1,
	}))
	if len(got) != 1 || got[0].ID != "ok" {
		t.Errorf("DeriveMagnet() = %+v, want only accessory ok", got)
	}
}

func TestDeriveMagnetCatalogFallback(t *testing.T) {
	acc := sensors.Accessory{ID: "acc-1", Sensors: []sensors.SensorMeta{{ID: 42, Type: "magnet"}}}
	catalog := &fakeCatalog{list: []sensors.CatalogSensor{
		{ID: 41, InputName: "ble_magnet_sensor_1"},
		{ID: 42, InputName: "ble_magnet_sensor_2"},
	}}
	d := New(accessoriesOf(acc),
		WithLogger(quietLogger()),
		WithAssets(fakeAssets{"asset-1": {ID: "asset-1", TrackerID: 900}}),
		WithCatalog(catalog),
	)

	// The catalog names the processed field; resolution adds its raw channel first.
	got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_10809": 1}))
	if len(got) != 1 || got[0].State == nil || *got[0].State != 1 {
		t.Fatalf("DeriveMagnet() = %+v, want state 1 from avl_io_10809", got)
	}
	if !reflect.DeepEqual(catalog.calls, []int{900}) {
		t.Errorf("catalog calls = %v, want [900]", catalog.calls)
	}
}

func TestCatalogFallbackGuards(t *testing.T) {
	acc := sensors.Accessory{ID: "acc-1", Sensors: []sensors.SensorMeta{
		{ID: 42, Type: "magnet"},
		{ID: 43, Type: "temperature"},
	}}
	values := map[string]float64{"ble_magnet_sensor_2": 1, "ble_temp_sensor_2": 20}

	tests := []struct {
		name   string
		assets AssetSource
	}{
		{"no asset source", nil},
		{"unknown asset", fakeAssets{}},
		{"asset without tracker", fakeAssets{"asset-1": {ID: "asset-1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &fakeCatalog{list: []sensors.CatalogSensor{
				{ID: 42, InputName: "ble_magnet_sensor_2"},
				{ID: 43, InputName: "ble_temp_sensor_2"},
			}}
			opts := []Option{WithLogger(quietLogger()), WithCatalog(catalog)}
			if tt.assets != nil {
				opts = append(opts, WithAssets(tt.assets))
			}
			d := New(accessoriesOf(acc), opts...)

			res := d.Derive(context.Background(), "asset-1", sampleAt(t1, values))
			if !res.Empty() {
				t.Errorf("Derive() = %+v, want empty result", res)
			}
			if len(catalog.calls) != 0 {
				t.Errorf("catalog called %v, want no calls", catalog.calls)
			}
		})
	}
}

func TestCatalogErrorDegrades(t *testing.T) {
	acc := sensors.Accessory{ID: "acc-1", Sensors: []sensors.SensorMeta{{ID: 42, Type: "magnet"}}}
	d := New(accessoriesOf(acc),
		WithLogger(quietLogger()),
		WithAssets(fakeAssets{"asset-1": {ID: "asset-1", TrackerID: 900}}),
		WithCatalog(&fakeCatalog{err: errors.New("navixy: 503")}),
	)
	if got := d.DeriveMagnet(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_10809": 1})); len(got) != 0 {
		t.Errorf("DeriveMagnet() = %+v, want no entries", got)
	}
}

// --- environment ---

func TestDeriveEnvironment(t *testing.T) {
	accs := []sensors.Accessory{
		{
			ID: "probe-1", Name: "Reefer probe", Label: "P1",
			Sensors: []sensors.SensorMeta{
				{ID: 1, Type: "temperature", Position: strPtr("front"), ProviderFields: []string{"ext_temp_sensor_1"}},
				{ID: 2, Type: "humidity", ProviderFields: []string{"ble_humidity_1"}},
				{ID: 3, Type: "battery", Position: strPtr("back"), ProviderFields: []string{"ble_battery_level_1"}},
				{ID: 4, Type: "magnet", ProviderFields: []string{"ble_magnet_sensor_1"}},
			},
		},
		{
			ID:      "dead-probe",
			Sensors: []sensors.SensorMeta{{ID: 5, Type: "temperature", ProviderFields: []string{"avl_io_73"}}},
		},
		{
			ID:      "case-sensitive",
			Sensors: []sensors.SensorMeta{{ID: 6, Type: "Temperature", ProviderFields: []string{"avl_io_74"}}},
		},
	}
	d := New(accessoriesOf(accs...), WithLogger(quietLogger()))

	got := d.DeriveEnvironment(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"avl_io_72":           215,
		"avl_io_86":           65535,
		"ble_humidity_1":      44,
		"avl_io_29":           87,
		"avl_io_73":           -128,
		"avl_io_74":           100,
		"ble_magnet_sensor_1": 1,
	}))

	want := []sensors.EnvironmentEntry{{
		ID: "probe-1", Name: "Reefer probe", Label: "P1",
		Position:      strPtr("back"),
		Temperature:   &sensors.Measurement{Value: 21.5, Unit: sensors.UnitCelsius},
		Humidity:      &sensors.Measurement{Value: 44, Unit: sensors.UnitPercent},
		Battery:       &sensors.Measurement{Value: 87, Unit: sensors.UnitPercent},
		LastUpdatedAt: t1,
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeriveEnvironment() = %+v, want %+v", got, want)
	}
}

func TestDeriveEnvironmentCatalogFallback(t *testing.T) {
	acc := sensors.Accessory{ID: "probe-1", Sensors: []sensors.SensorMeta{
		{ID: 7, Type: "temperature"},
		{ID: 8, Type: "battery"},
	}}
	catalog := &fakeCatalog{list: []sensors.CatalogSensor{
		{ID: 7, InputName: "ble_temp_sensor_2"},
		{ID: 8, InputName: ""},
	}}
	d := New(accessoriesOf(acc),
		WithLogger(quietLogger()),
		WithAssets(fakeAssets{"asset-1": {ID: "asset-1", TrackerID: 900}}),
		WithCatalog(catalog),
	)

	// ble_temp_sensor_2 is absent, its raw correspondent avl_io_26 is used.
	got := d.DeriveEnvironment(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"avl_io_26": 185,
		"avl_io_29": 50,
	}))
	if len(got) != 1 {
		t.Fatalf("DeriveEnvironment() returned %d entries, want 1", len(got))
	}
	if got[0].Temperature == nil || got[0].Temperature.Value != 18.5 {
		t.Errorf("Temperature = %v, want 18.5", got[0].Temperature)
	}
	if got[0].Battery != nil {
		t.Errorf("Battery = %v, want nil (catalog entry has no input name)", got[0].Battery)
	}
	if len(catalog.calls) != 1 {
		t.Errorf("catalog called %d times, want once per derivation", len(catalog.calls))
	}
}

func TestDeriveEnvironmentLastSensorWins(t *testing.T) {
	acc := sensors.Accessory{ID: "probe-1", Sensors: []sensors.SensorMeta{
		{ID: 1, Type: "temperature", ProviderFields: []string{"avl_io_72"}},
		{ID: 2, Type: "temperature", ProviderFields: []string{"avl_io_202"}},
	}}
	d := New(accessoriesOf(acc), WithLogger(quietLogger()))

	got := d.DeriveEnvironment(context.Background(), "asset-1", sampleAt(t1, map[string]float64{
		"avl_io_72":  215,
		"avl_io_202": 22,
	}))
	if len(got) != 1 || got[0].Temperature.Value != 22 {
		t.Errorf("DeriveEnvironment() = %+v, want temperature 22 from the last sensor", got)
	}
}

// --- combined ---

func TestDeriveSharesLookups(t *testing.T) {
	calls := 0
	src := AccessoryFunc(func(context.Context, string) ([]sensors.Accessory, error) {
		calls++
		return []sensors.Accessory{{ID: "multi", Sensors: []sensors.SensorMeta{
			{ID: 1, Type: "magnet"},
			{ID: 2, Type: "battery"},
		}}}, nil
	})
	catalog := &fakeCatalog{list: []sensors.CatalogSensor{
		{ID: 1, InputName: "avl_io_10808"},
		{ID: 2, InputName: "avl_io_29"},
	}}
	d := New(src,
		WithLogger(quietLogger()),
		WithAssets(fakeAssets{"asset-1": {ID: "asset-1", TrackerID: 5}}),
		WithCatalog(catalog),
	)

	res := d.Derive(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_10808": 1, "avl_io_29": 99}))
	if calls != 1 || len(catalog.calls) != 1 {
		t.Errorf("accessory calls = %d, catalog calls = %d, want 1 and 1", calls, len(catalog.calls))
	}
	if len(res.Magnet) != 1 || len(res.Environment) != 1 {
		t.Fatalf("Derive() = %+v, want one magnet and one environment entry", res)
	}
	if res.AssetID != "asset-1" || !res.LastUpdatedAt.Equal(t1) {
		t.Errorf("Derive() header = (%s, %v)", res.AssetID, res.LastUpdatedAt)
	}
}

func TestAccessoryLookupErrorDegrades(t *testing.T) {
	src := AccessoryFunc(func(context.Context, string) ([]sensors.Accessory, error) {
		return nil, errors.New("registry unavailable")
	})
	d := New(src, WithLogger(quietLogger()))

	res := d.Derive(context.Background(), "asset-1", sampleAt(t1, map[string]float64{"avl_io_29": 99}))
	if !res.Empty() {
		t.Errorf("Derive() = %+v, want empty", res)
	}
	if res.Magnet == nil || res.Environment == nil {
		t.Error("Derive() should return empty, non-nil slices")
	}
}
