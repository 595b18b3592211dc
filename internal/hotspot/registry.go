// Package hotspot manages the navigation hotspots of each scene: creation
// with proximity checks, deletion, and world-space display positions that
// follow the scene's current transform.
//
// Hotspot positions are stored in the point cloud's local frame, so a
// stored hotspot stays attached to the same geometry while the operator
// keeps adjusting the alignment.
package hotspot

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/transform"
)

// DefaultMinSeparation is the minimum local-frame distance between two
// hotspots of one scene.
const DefaultMinSeparation = 0.5

// ErrSceneOutOfRange is returned for a scene index outside the registry.
var ErrSceneOutOfRange = errors.New("hotspot: scene index out of range")

var logf = monitoring.Prefixed("hotspot")

// Hotspot links a point of one scene to another scene.
type Hotspot struct {
	ID          string
	Position    r3.Vec // local frame
	TargetScene int
}

// Marker is a hotspot's display position under a given transform.
type Marker struct {
	ID          string
	World       r3.Vec
	TargetScene int
}

// Reason classifies a rejected Add.
type Reason string

const (
	ReasonNoTarget          Reason = "no-target-available"
	ReasonInvalidPosition   Reason = "invalid-position"
	ReasonTooClose          Reason = "too-close-to-existing"
	ReasonSingularTransform Reason = "singular-transform"
)

// Rejection is returned when Add refuses a hotspot. The registry is left
// unchanged.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "hotspot rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("hotspot rejected: %s: %s", r.Reason, r.Detail)
}

// Config configures a Registry.
type Config struct {
	SceneCount    int
	MinSeparation float64               // 0 means DefaultMinSeparation
	NewID         func() (string, error) // nil means time-ordered UUIDs
}

// Registry holds the hotspots of every scene of a session.
type Registry struct {
	mu         sync.RWMutex
	sceneCount int
	minSep     float64
	newID      func() (string, error)
	byScene    map[int][]Hotspot
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		sceneCount: cfg.SceneCount,
		minSep:     cfg.MinSeparation,
		newID:      cfg.NewID,
		byScene:    make(map[int][]Hotspot),
	}
	if r.minSep <= 0 {
		r.minSep = DefaultMinSeparation
	}
	if r.newID == nil {
		r.newID = newUUIDv7
	}
	return r
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SetSceneCount updates the number of scenes targets are validated against.
func (r *Registry) SetSceneCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sceneCount = n
}

// SceneCount returns the number of scenes.
func (r *Registry) SceneCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sceneCount
}

// MinSeparation returns the enforced minimum distance.
func (r *Registry) MinSeparation() float64 { return r.minSep }

// Add places a hotspot at world position world in scene, linking to target.
// The position is stored in the local frame of m. It fails with a
// *Rejection when target is not another existing scene, world is not
// finite, m cannot be inverted, or an existing hotspot of the scene lies
// closer than the minimum separation.
func (r *Registry) Add(scene int, world r3.Vec, target int, m transform.Mat4) (Hotspot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scene < 0 || scene >= r.sceneCount {
		return Hotspot{}, fmt.Errorf("%w: %d", ErrSceneOutOfRange, scene)
	}
	if r.sceneCount < 2 || target < 0 || target >= r.sceneCount || target == scene {
		return Hotspot{}, &Rejection{Reason: ReasonNoTarget, Detail: fmt.Sprintf("target %d", target)}
	}
	if !finite(world) {
		return Hotspot{}, &Rejection{Reason: ReasonInvalidPosition, Detail: fmt.Sprintf("%v", world)}
	}
	local, err := transform.ToLocal(world, m)
	if err != nil {
		return Hotspot{}, &Rejection{Reason: ReasonSingularTransform, Detail: err.Error()}
	}
	if !finite(local) {
		return Hotspot{}, &Rejection{Reason: ReasonInvalidPosition, Detail: "local position not finite"}
	}
	for _, h := range r.byScene[scene] {
		if d := r3.Norm(r3.Sub(h.Position, local)); d < r.minSep {
			return Hotspot{}, &Rejection{
				Reason: ReasonTooClose,
				Detail: fmt.Sprintf("%.3f from hotspot %s", d, h.ID),
			}
		}
	}

	id, err := r.newID()
	if err != nil {
		return Hotspot{}, fmt.Errorf("hotspot id: %w", err)
	}
	h := Hotspot{ID: id, Position: local, TargetScene: target}
	r.byScene[scene] = append(r.byScene[scene], h)
	logf("scene %d: added %s -> scene %d at local %.3f,%.3f,%.3f", scene, id, target, local.X, local.Y, local.Z)
	return h, nil
}

// Remove deletes hotspot id from scene. It reports whether anything was
// removed; a missing id is not an error.
func (r *Registry) Remove(scene int, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byScene[scene]
	for i, h := range list {
		if h.ID == id {
			r.byScene[scene] = append(list[:i:i], list[i+1:]...)
			if len(r.byScene[scene]) == 0 {
				delete(r.byScene, scene)
			}
			return true
		}
	}
	return false
}

// List returns a copy of the scene's hotspots in creation order.
func (r *Registry) List(scene int) []Hotspot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hotspot(nil), r.byScene[scene]...)
}

// Count returns the number of hotspots in scene.
func (r *Registry) Count(scene int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byScene[scene])
}

// RefreshPositions returns the display positions of the scene's hotspots
// under m. Stored local positions are not touched.
func (r *Registry) RefreshPositions(scene int, m transform.Mat4) []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byScene[scene]
	out := make([]Marker, len(list))
	for i, h := range list {
		out[i] = Marker{ID: h.ID, World: transform.ToWorld(h.Position, m), TargetScene: h.TargetScene}
	}
	return out
}

// Replace sets the scene's hotspots wholesale, as when resuming from an
// earlier export. Entries without an ID get one. Entries with a non-finite
// position or an invalid target are dropped and logged. It returns the
// number of hotspots kept.
func (r *Registry) Replace(scene int, hs []Hotspot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scene < 0 || scene >= r.sceneCount {
		return 0, fmt.Errorf("%w: %d", ErrSceneOutOfRange, scene)
	}
	kept := make([]Hotspot, 0, len(hs))
	for _, h := range hs {
		if !finite(h.Position) || h.TargetScene < 0 || h.TargetScene >= r.sceneCount || h.TargetScene == scene {
			logf("scene %d: dropping imported hotspot -> %d at %v", scene, h.TargetScene, h.Position)
			continue
		}
		if tooClose(kept, h.Position, r.minSep) {
			logf("scene %d: dropping imported hotspot -> %d at %v: within %.2f of an earlier one", scene, h.TargetScene, h.Position, r.minSep)
			continue
		}
		if h.ID == "" {
			id, err := r.newID()
			if err != nil {
				return 0, fmt.Errorf("hotspot id: %w", err)
			}
			h.ID = id
		}
		kept = append(kept, h)
	}
	if len(kept) == 0 {
		delete(r.byScene, scene)
	} else {
		r.byScene[scene] = kept
	}
	return len(kept), nil
}

// Scenes returns the indices of scenes that have hotspots, ascending.
func (r *Registry) Scenes() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.byScene))
	for s := range r.byScene {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

func tooClose(hs []Hotspot, p r3.Vec, minSep float64) bool {
	for _, h := range hs {
		if r3.Norm(r3.Sub(h.Position, p)) < minSep {
			return true
		}
	}
	return false
}

func finite(v r3.Vec) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
