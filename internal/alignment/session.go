package alignment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/pointcloud"
	"github.com/banshee-data/panotour/internal/transform"
)

var logf = monitoring.Prefixed("align")

var (
	// ErrNoScene is returned by operations that need a selected scene.
	ErrNoScene = errors.New("alignment: no scene selected")
	// ErrSceneRange is returned for a scene index outside the listing.
	ErrSceneRange = errors.New("alignment: scene index out of range")
	// ErrNotPlacing is returned for a click outside placement mode.
	ErrNotPlacing = errors.New("alignment: not in placement mode")
	// ErrNoCloud is returned when picking without a loaded point cloud.
	ErrNoCloud = errors.New("alignment: point cloud not loaded")
	// ErrSuperseded is returned by a Select overtaken by a later one.
	ErrSuperseded = errors.New("alignment: selection superseded")
)

// CloudLoader loads the point cloud of a scene.
type CloudLoader interface {
	LoadCloud(ctx context.Context, name string) (*pointcloud.Cloud, error)
}

// Options tunes a Session.
type Options struct {
	MinSeparation            float64
	PickThreshold            float64
	Decimals                 int
	AuthoringPointSizeFactor float64
	NewID                    func() (string, error)
}

// OptionsFromConfig reads session options from configuration.
func OptionsFromConfig(cfg *config.AlignConfig) Options {
	return Options{
		MinSeparation:            cfg.GetHotspotMinSeparation(),
		PickThreshold:            cfg.GetPickThreshold(),
		Decimals:                 cfg.GetExportDecimals(),
		AuthoringPointSizeFactor: cfg.GetAuthoringPointSizeFactor(),
	}
}

// ClickResult reports the outcome of a placement click.
type ClickResult struct {
	Hit     bool
	Point   r3.Vec
	Hotspot *hotspot.Hotspot
}

// Status is a snapshot of the session.
type Status struct {
	Current   int
	Total     int
	Scene     *dataset.Scene
	Params    transform.Params
	Matrix    transform.Mat4
	PointSize float64
	Mode      hotspot.Mode
	Target    int
	Saved     int
	Points    int
	Markers   []hotspot.Marker
}

// Session is the state of one operator aligning a tour. All methods are
// safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	scenes    []dataset.Scene
	loader    CloudLoader
	opts      Options
	current   int
	gen       uint64
	params    transform.Params
	base      *transform.BaseTransform
	cloud     *pointcloud.Cloud
	placement hotspot.Placement
	registry  *hotspot.Registry
	store     *Store
}

// NewSession returns a session over scenes with nothing selected.
func NewSession(scenes []dataset.Scene, loader CloudLoader, opts Options) *Session {
	if opts.PickThreshold <= 0 {
		opts.PickThreshold = pointcloud.DefaultPickThreshold
	}
	if opts.Decimals <= 0 {
		opts.Decimals = DefaultDecimals
	}
	if opts.AuthoringPointSizeFactor <= 0 {
		opts.AuthoringPointSizeFactor = transform.AuthoringPointSizeFactor
	}
	return &Session{
		scenes:  append([]dataset.Scene(nil), scenes...),
		loader:  loader,
		opts:    opts,
		current: -1,
		params:  transform.DefaultParams(),
		registry: hotspot.NewRegistry(hotspot.Config{
			SceneCount:    len(scenes),
			MinSeparation: opts.MinSeparation,
			NewID:         opts.NewID,
		}),
		store: NewStore(),
	}
}

// Scenes returns the scene list.
func (s *Session) Scenes() []dataset.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataset.Scene(nil), s.scenes...)
}

// Current returns the selected scene index, or -1.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Select loads scene i and makes it current. Rotation and translation are
// reset and scale is kept, unless the scene has a saved record, in which
// case its parameters are recovered from the saved matrix. Placement is
// cancelled.
func (s *Session) Select(ctx context.Context, i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.scenes) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSceneRange, i)
	}
	s.gen++
	gen := s.gen
	name := s.scenes[i].PCD
	s.mu.Unlock()

	var cloud *pointcloud.Cloud
	if s.loader != nil {
		c, err := s.loader.LoadCloud(ctx, name)
		if err != nil {
			return fmt.Errorf("select scene %d: %w", i, err)
		}
		cloud = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrSuperseded
	}
	s.current = i
	s.cloud = cloud
	s.placement.Cancel()
	s.resetForScene()
	logf("scene %d/%d: %s + %s", i+1, len(s.scenes), s.scenes[i].Image, s.scenes[i].PCD)
	return nil
}

// resetForScene sets params for the current scene. Callers hold mu.
func (s *Session) resetForScene() {
	if r, ok := s.store.Get(s.current); ok {
		if p, err := transform.ParamsFromMatrix(r.Matrix, s.base); err == nil {
			s.params = p
			return
		}
	}
	s.params = transform.Params{Base: s.base, Scale: s.params.Scale}
	if s.params.Scale == 0 {
		s.params.Scale = 1
	}
}

func (s *Session) requireScene() error {
	if s.current < 0 {
		return ErrNoScene
	}
	return nil
}

// Params returns the current transform parameters.
func (s *Session) Params() transform.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams replaces the user parameters and returns the new matrix. The
// base transform is the session's, whatever p.Base holds.
func (s *Session) SetParams(p transform.Params) (transform.Mat4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScene(); err != nil {
		return transform.Mat4{}, err
	}
	p.Base = s.base
	m, err := transform.Compose(p)
	if err != nil {
		return transform.Mat4{}, err
	}
	s.params = p
	return m, nil
}

// ResetParams restores identity user parameters with unit scale.
func (s *Session) ResetParams() transform.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = transform.Params{Base: s.base, Scale: 1}
	m, _ := transform.Compose(s.params)
	return m
}

// Matrix returns the composed transform of the current parameters.
func (s *Session) Matrix() (transform.Mat4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transform.Compose(s.params)
}

// PointSize returns the authoring point size for the current scale.
func (s *Session) PointSize() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Scale * s.opts.AuthoringPointSizeFactor
}

// SetBaseTransform installs a calibration applied beneath the user
// parameters. Rotation and translation are reset, as on a scene change.
// A nil b removes the calibration.
func (s *Session) SetBaseTransform(b *transform.BaseTransform) (transform.Mat4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := transform.Params{Base: b, Scale: s.params.Scale}
	m, err := transform.Compose(p)
	if err != nil {
		return transform.Mat4{}, err
	}
	s.base = b
	s.params = p
	return m, nil
}

// BaseTransform returns the installed calibration, or nil.
func (s *Session) BaseTransform() *transform.BaseTransform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// defaultTarget is the first scene other than the current one, or -1.
// Callers hold mu.
func (s *Session) defaultTarget() int {
	for i := range s.scenes {
		if i != s.current {
			return i
		}
	}
	return -1
}

// BeginPlacement enters placement mode linking to target. A negative
// target selects the first other scene.
func (s *Session) BeginPlacement(target int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScene(); err != nil {
		return err
	}
	if target < 0 {
		target = s.defaultTarget()
	}
	if target < 0 || target >= len(s.scenes) || target == s.current {
		return &hotspot.Rejection{Reason: hotspot.ReasonNoTarget, Detail: fmt.Sprintf("target %d", target)}
	}
	s.placement.Begin(target)
	return nil
}

// CancelPlacement leaves placement mode.
func (s *Session) CancelPlacement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placement.Cancel()
}

// Mode returns the placement state.
func (s *Session) Mode() hotspot.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placement.Mode()
}

// Click handles a click ray while placing. A ray that misses the cloud
// changes nothing. A ray that hits it adds a hotspot at the hit point and
// ends placement even when the hotspot is rejected; the rejection is
// returned alongside the hit.
func (s *Session) Click(ray pointcloud.Ray) (ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScene(); err != nil {
		return ClickResult{}, err
	}
	if !s.placement.Placing() {
		return ClickResult{}, ErrNotPlacing
	}
	if s.cloud == nil {
		return ClickResult{}, ErrNoCloud
	}
	m, err := transform.Compose(s.params)
	if err != nil {
		return ClickResult{}, err
	}
	hit, ok := pointcloud.Pick(s.cloud, m, ray, s.opts.PickThreshold)
	if !ok {
		return ClickResult{}, nil
	}
	s.placement.Clicked(true)
	res := ClickResult{Hit: true, Point: hit.Point}
	h, err := s.registry.Add(s.current, hit.Point, s.placement.Target(), m)
	if err != nil {
		return res, err
	}
	res.Hotspot = &h
	return res, nil
}

// AddHotspotAt adds a hotspot at a world position of the current scene
// without going through placement mode.
func (s *Session) AddHotspotAt(world r3.Vec, target int) (hotspot.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireScene(); err != nil {
		return hotspot.Hotspot{}, err
	}
	m, err := transform.Compose(s.params)
	if err != nil {
		return hotspot.Hotspot{}, err
	}
	return s.registry.Add(s.current, world, target, m)
}

// DeleteHotspot removes a hotspot of the current scene.
func (s *Session) DeleteHotspot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 {
		return false
	}
	return s.registry.Remove(s.current, id)
}

// Hotspots returns the current scene's hotspots in creation order.
func (s *Session) Hotspots() []hotspot.Hotspot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 {
		return nil
	}
	return s.registry.List(s.current)
}

// Markers returns the display positions of the current scene's hotspots
// under the current parameters.
func (s *Session) Markers() ([]hotspot.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers()
}

func (s *Session) markers() ([]hotspot.Marker, error) {
	if s.current < 0 {
		return nil, nil
	}
	m, err := transform.Compose(s.params)
	if err != nil {
		return nil, err
	}
	return s.registry.RefreshPositions(s.current, m), nil
}

// Cloud returns the current scene's point cloud in its local frame.
func (s *Session) Cloud() *pointcloud.Cloud {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloud
}

// Save stores the current matrix and hotspots as the scene's record.
func (s *Session) Save() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Session) save() (Record, error) {
	if err := s.requireScene(); err != nil {
		return Record{}, err
	}
	m, err := transform.Compose(s.params)
	if err != nil {
		return Record{}, err
	}
	hs := s.registry.List(s.current)
	if err := s.store.Save(s.current, m, hs); err != nil {
		return Record{}, err
	}
	logf("scene %d saved with %d hotspots", s.current, len(hs))
	return Record{Matrix: m, Hotspots: hs}, nil
}

// Next saves the current scene and selects the following one. It reports
// done, leaving the last scene selected, when there is no next scene.
func (s *Session) Next(ctx context.Context) (done bool, err error) {
	s.mu.Lock()
	if _, err := s.save(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	next := s.current + 1
	total := len(s.scenes)
	s.mu.Unlock()

	if next >= total {
		logf("all %d scenes visited", total)
		return true, nil
	}
	return false, s.Select(ctx, next)
}

// Progress reports how many scenes have a saved record.
func (s *Session) Progress() (saved, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SavedCount(len(s.scenes))
}

// Export returns the export document for every scene.
func (s *Session) Export() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, total := s.store.SavedCount(len(s.scenes))
	if saved < total {
		logf("warning: exporting with %d of %d scenes aligned", saved, total)
	}
	return s.store.ExportAll(s.scenes, s.opts.Decimals)
}

// ImportDocument resumes from an earlier export. Aligned entries replace
// the records and hotspots of their scene; entries past the scene list are
// skipped. It returns the number of scenes imported.
func (s *Session) ImportDocument(doc Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i, e := range doc {
		if i >= len(s.scenes) {
			logf("import: skipping scene %d beyond %d scenes", i, len(s.scenes))
			continue
		}
		r, ok := e.Record()
		if !ok {
			continue
		}
		if _, err := s.registry.Replace(i, r.Hotspots); err != nil {
			return n, fmt.Errorf("import scene %d: %w", i, err)
		}
		if err := s.store.Save(i, r.Matrix, s.registry.List(i)); err != nil {
			return n, fmt.Errorf("import scene %d: %w", i, err)
		}
		n++
	}
	if s.current >= 0 {
		s.resetForScene()
	}
	logf("imported %d aligned scenes", n)
	return n, nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Current:   s.current,
		Total:     len(s.scenes),
		Params:    s.params,
		PointSize: s.params.Scale * s.opts.AuthoringPointSizeFactor,
		Mode:      s.placement.Mode(),
		Target:    s.placement.Target(),
	}
	st.Saved, _ = s.store.SavedCount(len(s.scenes))
	if m, err := transform.Compose(s.params); err == nil {
		st.Matrix = m
	}
	if s.current >= 0 {
		sc := s.scenes[s.current]
		st.Scene = &sc
		if !s.placement.Placing() {
			st.Target = s.defaultTarget()
		}
	}
	if s.cloud != nil {
		st.Points = s.cloud.Len()
	}
	st.Markers, _ = s.markers()
	return st
}
