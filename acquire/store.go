package acquire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.jpl.nasa.gov/bdube/thermacq/render"
)

// StoreConfig controls where snapshot artifacts land and which are kept.
type StoreConfig struct {
	// Root is the records directory; created if absent
	Root string `yaml:"root"`

	// SaveImage keeps visible-light snapshots
	SaveImage bool `yaml:"saveImage"`

	// SaveHeatmap keeps palette-mapped infrared snapshots
	SaveHeatmap bool `yaml:"saveHeatmap"`

	// SaveMatrix keeps raw temperature matrices as JSON
	SaveMatrix bool `yaml:"saveMatrix"`

	// FITS additionally exports each saved matrix as FITS
	FITS bool `yaml:"fits"`
}

// DefaultStoreConfig saves everything under dir except FITS.
func DefaultStoreConfig(dir string) StoreConfig {
	return StoreConfig{Root: dir, SaveImage: true, SaveHeatmap: true, SaveMatrix: true}
}

// Store owns the records directory.  Artifact names embed a second
// resolution timestamp; two snapshots inside one second get a numeric
// suffix instead of clobbering each other.
type Store struct {
	cfg StoreConfig
}

// NewStore creates the records directory if needed and proves it is
// writable before any acquisition depends on it.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store: records directory not configured")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("store: creating records directory: %w", err)
	}
	probe := filepath.Join(cfg.Root, ".probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return nil, fmt.Errorf("store: records directory not writable: %w", err)
	}
	os.Remove(probe)
	return &Store{cfg: cfg}, nil
}

// Config returns the store's configuration.
func (s *Store) Config() StoreConfig { return s.cfg }

// stamp formats the timestamp embedded in artifact names.
func stamp(t time.Time) string {
	return t.Format("20060102150405")
}

// path builds a collision-free artifact path for prefix and extension.
func (s *Store) path(prefix, ext string) string {
	base := filepath.Join(s.cfg.Root, prefix+"_"+stamp(time.Now()))
	p := base + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
		p = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// ImagePath returns a fresh path for a visible-light snapshot.
func (s *Store) ImagePath() string { return s.path("image", ".jpg") }

// HeatmapPath returns a fresh path for an infrared heatmap snapshot.
func (s *Store) HeatmapPath() string { return s.path("heatmap", ".jpg") }

// RecordPath returns a fresh path for a recording from camera name.
func (s *Store) RecordPath(name string) string { return s.path("record_"+name, ".dat") }

// WriteMatrix serializes a temperature matrix to JSON in the records
// directory, optionally exporting FITS beside it, and returns the JSON
// path.  The JSON encoding is the flat array the render pipeline loads.
func (s *Store) WriteMatrix(samples []float64, height, width int) (string, error) {
	p := s.path("matrix", ".json")
	b, err := json.Marshal(samples)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, b, 0644); err != nil {
		return "", err
	}
	if s.cfg.FITS {
		name := filepath.Base(p)
		m := render.Matrix{Name: name[:len(name)-len(".json")], Samples: samples}
		fitsPath := p[:len(p)-len(".json")] + ".fits"
		if err := render.WriteFITS(fitsPath, m, height, width); err != nil {
			return "", err
		}
	}
	return p, nil
}
