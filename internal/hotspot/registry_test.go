package hotspot

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/testutil"
	"github.com/banshee-data/panotour/internal/transform"
)

func init() {
	monitoring.SetLogger(nil)
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("h%d", n), nil
	}
}

func scaled(s float64, t r3.Vec) transform.Mat4 {
	m, err := transform.Compose(transform.Params{Scale: s, Translation: t})
	if err != nil {
		panic(err)
	}
	return m
}

func wantReason(t *testing.T, err error, want Reason) {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("error = %v, want *Rejection", err)
	}
	if rej.Reason != want {
		t.Errorf("reason = %s, want %s", rej.Reason, want)
	}
}

func TestAdd_StoresLocalPosition(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 3})
	m := scaled(2, r3.Vec{X: 10})

	h, err := r.Add(0, r3.Vec{X: 12, Y: 4}, 2, m)
	testutil.AssertNoError(t, err)
	testutil.AssertVecNear(t, h.Position, r3.Vec{X: 1, Y: 2}, 1e-9)
	if h.TargetScene != 2 {
		t.Errorf("TargetScene = %d, want 2", h.TargetScene)
	}

	id, err := uuid.Parse(h.ID)
	testutil.AssertNoError(t, err)
	if id.Version() != 7 {
		t.Errorf("id version = %d, want 7", id.Version())
	}
}

func TestAdd_UniqueIDs(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		h, err := r.Add(0, r3.Vec{X: float64(i)}, 1, transform.Identity())
		testutil.AssertNoError(t, err)
		if seen[h.ID] {
			t.Fatalf("duplicate id %s", h.ID)
		}
		seen[h.ID] = true
	}
}

func TestAdd_Rejections(t *testing.T) {
	singular := scaled(0, r3.Vec{})

	tests := []struct {
		name   string
		count  int
		scene  int
		world  r3.Vec
		target int
		m      transform.Mat4
		want   Reason
	}{
		{"target is own scene", 3, 1, r3.Vec{}, 1, transform.Identity(), ReasonNoTarget},
		{"target negative", 3, 0, r3.Vec{}, -1, transform.Identity(), ReasonNoTarget},
		{"target past end", 3, 0, r3.Vec{}, 3, transform.Identity(), ReasonNoTarget},
		{"single scene tour", 1, 0, r3.Vec{}, 0, transform.Identity(), ReasonNoTarget},
		{"nan position", 3, 0, r3.Vec{X: math.NaN()}, 1, transform.Identity(), ReasonInvalidPosition},
		{"inf position", 3, 0, r3.Vec{Z: math.Inf(1)}, 1, transform.Identity(), ReasonInvalidPosition},
		{"zero scale", 3, 0, r3.Vec{X: 1}, 1, singular, ReasonSingularTransform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Config{SceneCount: tt.count})
			_, err := r.Add(tt.scene, tt.world, tt.target, tt.m)
			wantReason(t, err, tt.want)
			if r.Count(tt.scene) != 0 {
				t.Errorf("registry mutated on rejection")
			}
		})
	}
}

func TestAdd_SceneOutOfRange(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	if _, err := r.Add(5, r3.Vec{}, 1, transform.Identity()); !errors.Is(err, ErrSceneOutOfRange) {
		t.Errorf("error = %v, want ErrSceneOutOfRange", err)
	}
}

func TestAdd_MinimumSeparation(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2, NewID: sequentialIDs()})
	id := transform.Identity()

	if _, err := r.Add(0, r3.Vec{}, 1, id); err != nil {
		t.Fatalf("first add: %v", err)
	}

	_, err := r.Add(0, r3.Vec{X: 0.3}, 1, id)
	wantReason(t, err, ReasonTooClose)
	if r.Count(0) != 1 {
		t.Fatalf("Count = %d after rejection, want 1", r.Count(0))
	}

	// Exactly the minimum distance is allowed.
	if _, err := r.Add(0, r3.Vec{X: 0.5}, 1, id); err != nil {
		t.Errorf("add at 0.5: %v", err)
	}

	// Other scenes are independent.
	if _, err := r.Add(1, r3.Vec{}, 0, id); err != nil {
		t.Errorf("add in scene 1: %v", err)
	}
}

func TestAdd_SeparationMeasuredInLocalFrame(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	m := scaled(2, r3.Vec{})

	if _, err := r.Add(0, r3.Vec{}, 1, m); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// 0.8 apart in world is 0.4 apart locally.
	_, err := r.Add(0, r3.Vec{Y: 0.8}, 1, m)
	wantReason(t, err, ReasonTooClose)
}

func TestMinimumSeparationInvariant(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	for i := 0; i < 15; i++ {
		for j := 0; j < 15; j++ {
			r.Add(0, r3.Vec{X: float64(i) * 0.2, Y: float64(j) * 0.2}, 1, transform.Identity())
		}
	}
	list := r.List(0)
	if len(list) == 0 {
		t.Fatal("expected some hotspots")
	}
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if d := r3.Norm(r3.Sub(list[i].Position, list[j].Position)); d < DefaultMinSeparation {
				t.Fatalf("hotspots %d and %d are %.3f apart", i, j, d)
			}
		}
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2, NewID: sequentialIDs()})
	r.Add(0, r3.Vec{}, 1, transform.Identity())
	r.Add(0, r3.Vec{X: 1}, 1, transform.Identity())
	r.Add(0, r3.Vec{X: 2}, 1, transform.Identity())

	if !r.Remove(0, "h2") {
		t.Error("Remove(h2) = false")
	}
	if r.Remove(0, "h2") {
		t.Error("second Remove(h2) = true")
	}
	if r.Remove(1, "h1") {
		t.Error("Remove from wrong scene = true")
	}

	list := r.List(0)
	if len(list) != 2 || list[0].ID != "h1" || list[1].ID != "h3" {
		t.Errorf("List = %+v, want h1, h3 in order", list)
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	r.Add(0, r3.Vec{}, 1, transform.Identity())

	list := r.List(0)
	list[0].Position = r3.Vec{X: 99}

	if got := r.List(0)[0].Position; got != (r3.Vec{}) {
		t.Errorf("stored position changed to %v", got)
	}
}

func TestRefreshPositions_FollowsTransform(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2})
	h, _ := r.Add(0, r3.Vec{X: 1, Y: 1}, 1, transform.Identity())

	moved := scaled(3, r3.Vec{Z: 5})
	markers := r.RefreshPositions(0, moved)
	if len(markers) != 1 || markers[0].ID != h.ID || markers[0].TargetScene != 1 {
		t.Fatalf("markers = %+v", markers)
	}
	testutil.AssertVecNear(t, markers[0].World, r3.Vec{X: 3, Y: 3, Z: 5}, 1e-9)
	testutil.AssertVecNear(t, r.List(0)[0].Position, r3.Vec{X: 1, Y: 1}, 0)

	if got := r.RefreshPositions(1, moved); len(got) != 0 {
		t.Errorf("scene without hotspots returned %d markers", len(got))
	}
}

func TestReplace(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 3, NewID: sequentialIDs()})
	r.Add(1, r3.Vec{}, 0, transform.Identity())

	kept, err := r.Replace(1, []Hotspot{
		{Position: r3.Vec{X: 1}, TargetScene: 2},
		{ID: "keep-me", Position: r3.Vec{X: 2}, TargetScene: 0},
		{Position: r3.Vec{X: math.NaN()}, TargetScene: 0},
		{Position: r3.Vec{}, TargetScene: 1},
		{Position: r3.Vec{}, TargetScene: 7},
	})
	testutil.AssertNoError(t, err)
	if kept != 2 {
		t.Fatalf("kept = %d, want 2", kept)
	}

	list := r.List(1)
	if list[0].ID != "h2" || list[1].ID != "keep-me" {
		t.Errorf("ids = %s, %s", list[0].ID, list[1].ID)
	}

	if _, err := r.Replace(9, nil); !errors.Is(err, ErrSceneOutOfRange) {
		t.Errorf("Replace(9) error = %v", err)
	}

	kept, _ = r.Replace(1, nil)
	if kept != 0 || len(r.Scenes()) != 0 {
		t.Errorf("Replace(nil) left scenes %v", r.Scenes())
	}
}

func TestReplace_EnforcesMinSeparation(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 2, NewID: sequentialIDs()})

	kept, err := r.Replace(0, []Hotspot{
		{Position: r3.Vec{}, TargetScene: 1},
		{Position: r3.Vec{X: 0.1}, TargetScene: 1},
		{Position: r3.Vec{X: 0.5}, TargetScene: 1},
		{Position: r3.Vec{X: 0.9}, TargetScene: 1},
	})
	testutil.AssertNoError(t, err)
	if kept != 2 {
		t.Fatalf("kept = %d, want 2", kept)
	}

	list := r.List(0)
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if d := r3.Norm(r3.Sub(list[i].Position, list[j].Position)); d < 0.5 {
				t.Errorf("hotspots %d and %d are %.2f apart", i, j, d)
			}
		}
	}
	testutil.AssertVecNear(t, list[1].Position, r3.Vec{X: 0.5}, 1e-12)
}

func TestScenesAndSceneCount(t *testing.T) {
	r := NewRegistry(Config{SceneCount: 4})
	r.Add(3, r3.Vec{}, 0, transform.Identity())
	r.Add(1, r3.Vec{}, 0, transform.Identity())

	got := r.Scenes()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Scenes() = %v, want [1 3]", got)
	}

	r.SetSceneCount(2)
	if r.SceneCount() != 2 {
		t.Errorf("SceneCount() = %d", r.SceneCount())
	}
	_, err := r.Add(0, r3.Vec{X: 5}, 3, transform.Identity())
	wantReason(t, err, ReasonNoTarget)

	if r.MinSeparation() != DefaultMinSeparation {
		t.Errorf("MinSeparation() = %v", r.MinSeparation())
	}
}

func TestRejection_Error(t *testing.T) {
	if got := (&Rejection{Reason: ReasonTooClose}).Error(); got != "hotspot rejected: too-close-to-existing" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&Rejection{Reason: ReasonNoTarget, Detail: "target 1"}).Error(); got != "hotspot rejected: no-target-available: target 1" {
		t.Errorf("Error() = %q", got)
	}
}
