package dataset

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/panotour/internal/pointcloud"
)

// Loader fetches and decodes scene assets from a Source.
type Loader struct {
	Src     Source
	Timeout time.Duration
}

// NewLoader returns a loader for src. A zero timeout disables the
// per-asset deadline.
func NewLoader(src Source, timeout time.Duration) *Loader {
	return &Loader{Src: src, Timeout: timeout}
}

func (l *Loader) read(ctx context.Context, name string) ([]byte, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	return l.Src.ReadFile(ctx, name)
}

// LoadCloud reads and parses a PCD file.
func (l *Loader) LoadCloud(ctx context.Context, name string) (*pointcloud.Cloud, error) {
	data, err := l.read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load cloud %s: %w", name, err)
	}
	c, err := pointcloud.ReadPCD(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load cloud %s: %w", name, err)
	}
	return c, nil
}

// LoadPanorama reads a panorama and probes its header.
func (l *Loader) LoadPanorama(ctx context.Context, name string) (Panorama, error) {
	data, err := l.read(ctx, name)
	if err != nil {
		return Panorama{}, fmt.Errorf("load panorama %s: %w", name, err)
	}
	return ProbePanorama(name, data)
}
