package alignment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/transform"
)

// MaxDocumentBytes caps the size of an alignment file.
const MaxDocumentBytes = 64 << 20

// maxLegacyIndex bounds the scene keys accepted from index-keyed files.
const maxLegacyIndex = 100000

// ErrEmptyDocument is returned for an empty alignment file.
var ErrEmptyDocument = errors.New("alignment: empty document")

// EntryHotspot is a hotspot as written to the export file. Position is in
// the cloud-local frame.
type EntryHotspot struct {
	Position    [3]float64 `json:"position"`
	TargetScene int        `json:"targetScene"`
}

// UnmarshalJSON accepts targetSceneIndex as an alias of targetScene and a
// position given as [x,y,z] (numbers or numeric strings) or {x,y,z}.
func (h *EntryHotspot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Position         json.RawMessage `json:"position"`
		TargetScene      *int            `json:"targetScene"`
		TargetSceneIndex *int            `json:"targetSceneIndex"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hotspot: %w", err)
	}
	switch {
	case raw.TargetScene != nil:
		h.TargetScene = *raw.TargetScene
	case raw.TargetSceneIndex != nil:
		h.TargetScene = *raw.TargetSceneIndex
	default:
		return errors.New("hotspot: missing targetScene")
	}
	pos, err := decodePosition(raw.Position)
	if err != nil {
		return fmt.Errorf("hotspot position: %w", err)
	}
	h.Position = pos
	return nil
}

func decodePosition(data json.RawMessage) ([3]float64, error) {
	var out [3]float64
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return out, errors.New("missing")
	}
	if data[0] == '{' {
		var v struct{ X, Y, Z float64 }
		if err := json.Unmarshal(data, &v); err != nil {
			return out, err
		}
		return [3]float64{v.X, v.Y, v.Z}, nil
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return out, err
	}
	if len(parts) != 3 {
		return out, fmt.Errorf("expected 3 components, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := transform.ParseNumber(p)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// Entry is one scene of the export file.
type Entry struct {
	Image    string          `json:"image"`
	PCD      string          `json:"pcd"`
	Matrix   *transform.Mat4 `json:"matrix,omitempty"`
	Hotspots []EntryHotspot  `json:"hotspots,omitempty"`
}

// Aligned reports whether the entry carries a matrix.
func (e Entry) Aligned() bool { return e.Matrix != nil }

// Record converts the entry into a store record. Hotspots get no ID.
func (e Entry) Record() (Record, bool) {
	if e.Matrix == nil {
		return Record{}, false
	}
	r := Record{Matrix: *e.Matrix}
	for _, h := range e.Hotspots {
		r.Hotspots = append(r.Hotspots, hotspot.Hotspot{
			Position:    r3.Vec{X: h.Position[0], Y: h.Position[1], Z: h.Position[2]},
			TargetScene: h.TargetScene,
		})
	}
	return r, true
}

// Document is the export file: one entry per scene in listing order.
type Document []Entry

// Aligned returns the number of entries with a matrix.
func (d Document) Aligned() int {
	n := 0
	for _, e := range d {
		if e.Aligned() {
			n++
		}
	}
	return n
}

// Write pretty-prints d with a two-space indent.
func Write(w io.Writer, d Document) error {
	if d == nil {
		d = Document{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("alignment: write: %w", err)
	}
	return nil
}

// DecodeDocument reads an export file. Besides the canonical array it
// accepts the older index-keyed object, whose values are either a bare
// matrix or {matrix, hotspots}; missing indices become unaligned entries
// without asset paths.
func DecodeDocument(r io.Reader) (Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("alignment: read: %w", err)
	}
	if len(data) > MaxDocumentBytes {
		return nil, fmt.Errorf("alignment: document exceeds %d bytes", MaxDocumentBytes)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc Document
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("alignment: decode: %w", err)
		}
	case '{':
		doc, err = decodeLegacy(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("alignment: decode: unexpected %q", data[0])
	}

	for i, e := range doc {
		if e.Matrix == nil {
			continue
		}
		if err := e.Matrix.Validate(); err != nil {
			return nil, fmt.Errorf("alignment: scene %d: %w", i, err)
		}
	}
	return doc, nil
}

func decodeLegacy(data []byte) (Document, error) {
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(data, &byKey); err != nil {
		return nil, fmt.Errorf("alignment: decode: %w", err)
	}
	if len(byKey) == 0 {
		return nil, ErrEmptyDocument
	}

	indices := make([]int, 0, len(byKey))
	entries := make(map[int]Entry, len(byKey))
	for k, raw := range byKey {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx > maxLegacyIndex {
			return nil, fmt.Errorf("alignment: invalid scene key %q", k)
		}
		if _, dup := entries[idx]; dup {
			return nil, fmt.Errorf("alignment: scene %d listed under more than one key", idx)
		}
		var e Entry
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var m transform.Mat4
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, fmt.Errorf("alignment: scene %d: %w", idx, err)
			}
			e.Matrix = &m
		} else if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("alignment: scene %d: %w", idx, err)
		}
		indices = append(indices, idx)
		entries[idx] = e
	}
	sort.Ints(indices)

	doc := make(Document, indices[len(indices)-1]+1)
	for _, idx := range indices {
		doc[idx] = entries[idx]
	}
	return doc, nil
}
