// Package alignment keeps the per-scene alignment records of an authoring
// session and reads and writes the alignment export file.
package alignment

import (
	"fmt"
	"sync"

	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/transform"
)

// DefaultDecimals is the rounding applied to exported matrix entries.
const DefaultDecimals = 6

// Record is the saved alignment of one scene. A scene without a record is
// not aligned.
type Record struct {
	Matrix   transform.Mat4
	Hotspots []hotspot.Hotspot
}

func (r Record) clone() Record {
	r.Hotspots = append([]hotspot.Hotspot(nil), r.Hotspots...)
	return r
}

// Store maps scene index to Record.
type Store struct {
	mu      sync.RWMutex
	records map[int]Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[int]Record)}
}

// Save upserts the record of scene. The hotspot slice is copied.
func (s *Store) Save(scene int, m transform.Mat4, hs []hotspot.Hotspot) error {
	if scene < 0 {
		return fmt.Errorf("alignment: negative scene index %d", scene)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("alignment: scene %d: %w", scene, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[scene] = Record{Matrix: m, Hotspots: hs}.clone()
	return nil
}

// Get returns a copy of the record of scene.
func (s *Store) Get(scene int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[scene]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Delete removes the record of scene, if any.
func (s *Store) Delete(scene int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, scene)
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[int]Record)
}

// SavedCount reports how many of the first total scenes have a record.
func (s *Store) SavedCount(total int) (saved, n int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		if i < total {
			saved++
		}
	}
	return saved, total
}

// ExportAll returns one entry per scene in listing order. Scenes without a
// record carry their asset paths only. Matrix entries are rounded to
// decimals places (DefaultDecimals when negative).
func (s *Store) ExportAll(scenes []dataset.Scene, decimals int) Document {
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := make(Document, len(scenes))
	for i, sc := range scenes {
		e := Entry{Image: sc.Image, PCD: sc.PCD}
		if r, ok := s.records[i]; ok {
			m := r.Matrix.Rounded(decimals)
			e.Matrix = &m
			for _, h := range r.Hotspots {
				e.Hotspots = append(e.Hotspots, EntryHotspot{
					Position:    [3]float64{h.Position.X, h.Position.Y, h.Position.Z},
					TargetScene: h.TargetScene,
				})
			}
		}
		doc[i] = e
	}
	return doc
}
