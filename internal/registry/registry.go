// Package registry loads the asset registry: which accessories and sensors are
// mounted on each asset, and the Navixy tracker id used for catalog discovery.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fleeti/fleeti-sensors/internal/sensors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownAsset is returned for asset ids missing from the registry.
var ErrUnknownAsset = errors.New("registry: unknown asset")

// File mirrors the registry YAML document.
type File struct {
	Assets []AssetConfig `yaml:"assets"`
}

// AssetConfig is one asset entry of the registry.
type AssetConfig struct {
	ID          string              `yaml:"id"`
	TrackerID   int                 `yaml:"tracker_id"`
	Accessories []sensors.Accessory `yaml:"accessories"`
}

// Registry is an immutable, in-memory view of the registry file.
type Registry struct {
	assets map[string]AssetConfig
	order  []string
}

// Load reads and validates the registry at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a registry document.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	reg := &Registry{assets: make(map[string]AssetConfig, len(f.Assets))}
	for _, a := range f.Assets {
		reg.assets[a.ID] = a
		reg.order = append(reg.order, a.ID)
	}
	return reg, nil
}

// Validate reports every problem in the document at once.
func (f *File) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(f.Assets))

	for i, a := range f.Assets {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("asset %s: duplicate id", a.ID))
		}
		seen[a.ID] = true
		if a.TrackerID < 0 {
			errs = append(errs, fmt.Sprintf("asset %s: tracker_id must not be negative", a.ID))
		}

		for _, acc := range a.Accessories {
			if acc.ID == "" {
				errs = append(errs, fmt.Sprintf("asset %s: accessory without id", a.ID))
			}
			for j, s := range acc.Sensors {
				if s.ID <= 0 {
					errs = append(errs, fmt.Sprintf("asset %s accessory %s sensors[%d]: id must be positive", a.ID, acc.ID, j))
				}
				for _, name := range s.ProviderFields {
					if strings.TrimSpace(name) == "" {
						errs = append(errs, fmt.Sprintf("asset %s accessory %s sensor %d: empty provider field", a.ID, acc.ID, s.ID))
					}
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Accessories returns the accessories mounted on assetID.
func (r *Registry) Accessories(_ context.Context, assetID string) ([]sensors.Accessory, error) {
	a, ok := r.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return a.Accessories, nil
}

// Asset returns the asset and its tracker id. ok is false for unknown assets.
func (r *Registry) Asset(_ context.Context, assetID string) (sensors.Asset, bool, error) {
	a, ok := r.assets[assetID]
	if !ok {
		return sensors.Asset{}, false, nil
	}
	return sensors.Asset{ID: a.ID, TrackerID: a.TrackerID}, true, nil
}

// AssetIDs lists the registered assets in file order.
func (r *Registry) AssetIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered assets.
func (r *Registry) Len() int { return len(r.assets) }
