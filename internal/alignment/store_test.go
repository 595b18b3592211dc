package alignment

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/testutil"
	"github.com/banshee-data/panotour/internal/transform"
)

func init() {
	monitoring.SetLogger(nil)
}

var threeScenes = []dataset.Scene{
	{Index: 0, Image: "images/a.jpg", PCD: "pcd/a.pcd"},
	{Index: 1, Image: "images/b.jpg", PCD: "pcd/b.pcd"},
	{Index: 2, Image: "images/c.jpg", PCD: "pcd/c.pcd"},
}

func translated(x, y, z float64) transform.Mat4 {
	m := transform.Identity()
	m[12], m[13], m[14] = x, y, z
	return m
}

func TestStore_SaveCopiesInput(t *testing.T) {
	s := NewStore()
	hs := []hotspot.Hotspot{{ID: "a", Position: r3.Vec{X: 1}, TargetScene: 1}}
	testutil.AssertNoError(t, s.Save(0, transform.Identity(), hs))

	hs[0].TargetScene = 2
	r, ok := s.Get(0)
	if !ok {
		t.Fatal("record missing after Save")
	}
	if r.Hotspots[0].TargetScene != 1 {
		t.Errorf("stored hotspot changed through caller slice: %+v", r.Hotspots[0])
	}

	r.Hotspots[0].ID = "mutated"
	again, _ := s.Get(0)
	if again.Hotspots[0].ID != "a" {
		t.Errorf("stored hotspot changed through Get result: %+v", again.Hotspots[0])
	}
}

func TestStore_SaveOverwritesAndDelete(t *testing.T) {
	s := NewStore()
	testutil.AssertNoError(t, s.Save(1, translated(1, 0, 0), nil))
	testutil.AssertNoError(t, s.Save(1, translated(2, 0, 0), nil))

	r, _ := s.Get(1)
	if r.Matrix[12] != 2 {
		t.Errorf("matrix[12] = %v, want 2", r.Matrix[12])
	}

	s.Delete(1)
	if _, ok := s.Get(1); ok {
		t.Error("record still present after Delete")
	}
	s.Delete(1) // absent: no-op
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	s := NewStore()
	bad := transform.Identity()
	bad[3] = 1
	testutil.AssertError(t, s.Save(0, bad, nil))
	testutil.AssertError(t, s.Save(-1, transform.Identity(), nil))
	if saved, _ := s.SavedCount(3); saved != 0 {
		t.Errorf("saved = %d after rejected saves", saved)
	}
}

func TestStore_SavedCount(t *testing.T) {
	s := NewStore()
	_ = s.Save(0, transform.Identity(), nil)
	_ = s.Save(2, transform.Identity(), nil)
	_ = s.Save(7, transform.Identity(), nil)

	saved, total := s.SavedCount(3)
	if saved != 2 || total != 3 {
		t.Errorf("SavedCount(3) = %d, %d; want 2, 3", saved, total)
	}
}

func TestStore_ExportAll(t *testing.T) {
	s := NewStore()
	m := translated(1.23456789, -0.0000001, 0)
	_ = s.Save(1, m, []hotspot.Hotspot{{ID: "x", Position: r3.Vec{X: 1, Y: 2, Z: 3}, TargetScene: 2}})

	doc := s.ExportAll(threeScenes, 6)
	rounded := translated(1.234568, 0, 0)
	want := Document{
		{Image: "images/a.jpg", PCD: "pcd/a.pcd"},
		{Image: "images/b.jpg", PCD: "pcd/b.pcd", Matrix: &rounded,
			Hotspots: []EntryHotspot{{Position: [3]float64{1, 2, 3}, TargetScene: 2}}},
		{Image: "images/c.jpg", PCD: "pcd/c.pcd"},
	}
	if diff := cmp.Diff(want, doc, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("ExportAll mismatch (-want +got):\n%s", diff)
	}
	if doc.Aligned() != 1 {
		t.Errorf("Aligned() = %d, want 1", doc.Aligned())
	}
}

func TestWrite_Format(t *testing.T) {
	m := transform.Identity()
	doc := Document{
		{Image: "images/a.jpg", PCD: "pcd/a.pcd", Matrix: &m},
		{Image: "images/b.jpg", PCD: "pcd/b.pcd"},
	}
	var buf bytes.Buffer
	testutil.AssertNoError(t, Write(&buf, doc))
	out := buf.String()

	if !strings.HasPrefix(out, "[\n  {\n    \"image\": \"images/a.jpg\",") {
		t.Errorf("unexpected layout:\n%s", out)
	}
	if strings.Count(out, "\"matrix\"") != 1 {
		t.Errorf("expected exactly one matrix:\n%s", out)
	}
	if strings.Contains(out, "\"hotspots\"") {
		t.Errorf("empty hotspots should be omitted:\n%s", out)
	}

	back, err := DecodeDocument(&buf)
	testutil.AssertNoError(t, err)
	if diff := cmp.Diff(doc, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_NilDocument(t *testing.T) {
	var buf bytes.Buffer
	testutil.AssertNoError(t, Write(&buf, nil))
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("Write(nil) = %q, want []", got)
	}
}
