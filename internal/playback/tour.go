// Package playback resolves tour stops into aligned scenes for a viewer:
// it fetches each stop's panorama and point cloud, bakes the stop's
// matrix into the cloud, clears the viewer's standing cylinder and places
// the stop's hotspots in world space.
package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/transform"
)

// MaxTourBytes caps the size of a tour file.
const MaxTourBytes = 64 << 20

// StopHotspot is a hotspot of a stop, positioned in the cloud-local frame.
type StopHotspot = alignment.EntryHotspot

// Stop is one scene of a tour. A nil Matrix marks the stop unaligned.
type Stop struct {
	Image    string          `json:"image"`
	PCD      string          `json:"pcd"`
	Matrix   *transform.Mat4 `json:"matrix,omitempty"`
	Hotspots []StopHotspot   `json:"hotspots,omitempty"`
}

// Tour is the ordered list of stops.
type Tour []Stop

type sharedStop struct {
	Image       string          `json:"image"`
	PCD         string          `json:"pcd"`
	WorldMatrix *transform.Mat4 `json:"worldMatrix"`
	Hotspots    []StopHotspot   `json:"hotspots"`
}

type sharedTour struct {
	LidarToPano *transform.Mat4 `json:"lidarToPanoMatrix"`
	Stops       []sharedStop    `json:"stops"`
}

// DecodeTour reads a tour file: either a flat array of stops or a
// shared-calibration object whose stop matrices are lidarToPanoMatrix
// applied after each worldMatrix.
func DecodeTour(r io.Reader) (Tour, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxTourBytes+1))
	if err != nil {
		return nil, fmt.Errorf("tour: read: %w", err)
	}
	if len(data) > MaxTourBytes {
		return nil, fmt.Errorf("tour: file exceeds %d bytes", MaxTourBytes)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("tour: empty file")
	}

	var t Tour
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("tour: decode: %w", err)
		}
	case '{':
		if t, err = decodeShared(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("tour: decode: unexpected %q", data[0])
	}

	for i, s := range t {
		if s.Matrix == nil {
			continue
		}
		if err := s.Matrix.Validate(); err != nil {
			return nil, fmt.Errorf("tour: stop %d: %w", i, err)
		}
	}
	return t, nil
}

func decodeShared(data []byte) (Tour, error) {
	var st sharedTour
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("tour: decode: %w", err)
	}
	if st.LidarToPano == nil {
		return nil, fmt.Errorf("tour: shared calibration without lidarToPanoMatrix")
	}
	if err := st.LidarToPano.Validate(); err != nil {
		return nil, fmt.Errorf("tour: lidarToPanoMatrix: %w", err)
	}
	t := make(Tour, len(st.Stops))
	for i, s := range st.Stops {
		t[i] = Stop{Image: s.Image, PCD: s.PCD, Hotspots: s.Hotspots}
		if s.WorldMatrix != nil {
			m := transform.Mul(*st.LidarToPano, *s.WorldMatrix)
			t[i].Matrix = &m
		}
	}
	return t, nil
}

// WriteTour writes t as a flat array with a two-space indent.
func WriteTour(w io.Writer, t Tour) error {
	if t == nil {
		t = Tour{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("tour: write: %w", err)
	}
	return nil
}

// LoadTour reads and decodes the tour file name from src.
func LoadTour(ctx context.Context, src dataset.Source, name string) (Tour, error) {
	data, err := src.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("tour: %w", err)
	}
	return DecodeTour(bytes.NewReader(data))
}
