package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/pointcloud"
	"github.com/banshee-data/panotour/internal/transform"
)

var logf = monitoring.Prefixed("playback")

var (
	// ErrOutOfRange is returned for a stop index outside the tour. The
	// resolver state is not changed.
	ErrOutOfRange = errors.New("playback: stop index out of range")
	// ErrSuperseded is returned by a load overtaken by a later request.
	ErrSuperseded = errors.New("playback: load superseded")
	// ErrNoScene is returned when no stop has been loaded yet.
	ErrNoScene = errors.New("playback: no stop loaded")
	// ErrNoHotspot is returned for a hotspot index outside the current stop.
	ErrNoHotspot = errors.New("playback: hotspot index out of range")
)

// LoadError reports a stop whose assets could not be loaded.
type LoadError struct {
	Index int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("playback: load stop %d: %v", e.Index, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// AssetLoader fetches stop assets. LoadCloud must return a cloud the
// caller may modify.
type AssetLoader interface {
	LoadPanorama(ctx context.Context, name string) (dataset.Panorama, error)
	LoadCloud(ctx context.Context, name string) (*pointcloud.Cloud, error)
}

// Options tunes scene resolution.
type Options struct {
	FilterRadius    float64
	FilterHeight    float64
	PointSizeFactor float64
}

// DefaultOptions returns the standard viewer settings.
func DefaultOptions() Options {
	return Options{
		FilterRadius:    pointcloud.DefaultFilterRadius,
		FilterHeight:    pointcloud.DefaultFilterHeight,
		PointSizeFactor: transform.ViewerPointSizeFactor,
	}
}

// OptionsFromConfig reads viewer settings from configuration.
func OptionsFromConfig(cfg *config.AlignConfig) Options {
	return Options{
		FilterRadius:    cfg.GetFilterRadius(),
		FilterHeight:    cfg.GetFilterHeight(),
		PointSizeFactor: cfg.GetViewerPointSizeFactor(),
	}
}

// HotspotMarker is a hotspot placed in world space.
type HotspotMarker struct {
	Index       int
	World       r3.Vec
	TargetScene int
}

// LoadedScene is a stop resolved for rendering. Cloud is in world space
// with the standing cylinder removed; it is nil for an unaligned stop.
type LoadedScene struct {
	Index     int
	Stop      Stop
	Aligned   bool
	Panorama  dataset.Panorama
	Cloud     *pointcloud.Cloud
	Filtered  int
	PointSize float64
	Hotspots  []HotspotMarker
}

// State is a snapshot of the resolver.
type State struct {
	Current   int // -1 before the first successful load
	Total     int
	Pending   int // -1 when idle
	LastError error
	Scene     *LoadedScene
}

// Resolver turns tour stops into LoadedScenes. Only the most recent
// request may change the current stop; earlier in-flight loads are
// cancelled and their results discarded.
type Resolver struct {
	mu      sync.Mutex
	tour    Tour
	loader  AssetLoader
	opts    Options
	gen     uint64
	cancel  context.CancelFunc
	current int
	pending int
	scene   *LoadedScene
	lastErr error
}

// NewResolver returns a resolver with no stop loaded.
func NewResolver(tour Tour, loader AssetLoader, opts Options) *Resolver {
	if opts.FilterRadius <= 0 {
		opts.FilterRadius = pointcloud.DefaultFilterRadius
	}
	if opts.FilterHeight <= 0 {
		opts.FilterHeight = pointcloud.DefaultFilterHeight
	}
	if opts.PointSizeFactor <= 0 {
		opts.PointSizeFactor = transform.ViewerPointSizeFactor
	}
	return &Resolver{
		tour:    append(Tour(nil), tour...),
		loader:  loader,
		opts:    opts,
		current: -1,
		pending: -1,
	}
}

// Len returns the number of stops.
func (r *Resolver) Len() int { return len(r.tour) }

// Stop returns stop i.
func (r *Resolver) Stop(i int) (Stop, error) {
	if i < 0 || i >= len(r.tour) {
		return Stop{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(r.tour))
	}
	return r.tour[i], nil
}

// LoadStop resolves stop i and makes it current. A failed load leaves the
// current stop in place and is recorded as State().LastError.
func (r *Resolver) LoadStop(ctx context.Context, i int) (*LoadedScene, error) {
	r.mu.Lock()
	if i < 0 || i >= len(r.tour) {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(r.tour))
	}
	r.gen++
	gen := r.gen
	if r.cancel != nil {
		r.cancel()
	}
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel
	r.pending = i
	stop := r.tour[i]
	r.mu.Unlock()

	scene, err := r.resolve(lctx, i, stop)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		logf("stop %d: discarded superseded load", i)
		return nil, ErrSuperseded
	}
	r.cancel = nil
	r.pending = -1
	if err != nil {
		le := &LoadError{Index: i, Err: err}
		r.lastErr = le
		logf("stop %d: %v", i, err)
		return nil, le
	}
	r.current = i
	r.scene = scene
	r.lastErr = nil
	return scene, nil
}

func (r *Resolver) resolve(ctx context.Context, i int, stop Stop) (*LoadedScene, error) {
	scene := &LoadedScene{Index: i, Stop: stop}
	if stop.Matrix == nil {
		pano, err := r.loader.LoadPanorama(ctx, stop.Image)
		if err != nil {
			return nil, err
		}
		scene.Panorama = pano
		logf("stop %d has no alignment; showing panorama only", i)
		return scene, nil
	}

	m := *stop.Matrix
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var cloud *pointcloud.Cloud
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.loader.LoadPanorama(gctx, stop.Image)
		scene.Panorama = p
		return err
	})
	g.Go(func() error {
		c, err := r.loader.LoadCloud(gctx, stop.PCD)
		cloud = c
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cloud.ApplyMatrix(m)
	scene.Cloud, scene.Filtered = pointcloud.FilterNearOrigin(cloud, r.opts.FilterRadius, r.opts.FilterHeight)
	scene.Aligned = true
	scene.PointSize = m.UniformScale() * r.opts.PointSizeFactor

	scene.Hotspots = make([]HotspotMarker, len(stop.Hotspots))
	for n, h := range stop.Hotspots {
		local := r3.Vec{X: h.Position[0], Y: h.Position[1], Z: h.Position[2]}
		scene.Hotspots[n] = HotspotMarker{Index: n, World: transform.ToWorld(local, m), TargetScene: h.TargetScene}
	}
	return scene, nil
}

// NavigateTo loads stop i.
func (r *Resolver) NavigateTo(ctx context.Context, i int) (*LoadedScene, error) {
	return r.LoadStop(ctx, i)
}

// Step loads the stop delta places from the current one. Before the
// first load the current stop counts as 0.
func (r *Resolver) Step(ctx context.Context, delta int) (*LoadedScene, error) {
	r.mu.Lock()
	cur := max(r.current, 0)
	r.mu.Unlock()
	return r.LoadStop(ctx, cur+delta)
}

// ActivateHotspot navigates to the target of hotspot n of the current
// stop.
func (r *Resolver) ActivateHotspot(ctx context.Context, n int) (*LoadedScene, error) {
	r.mu.Lock()
	scene := r.scene
	r.mu.Unlock()
	if scene == nil {
		return nil, ErrNoScene
	}
	if n < 0 || n >= len(scene.Hotspots) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoHotspot, n, len(scene.Hotspots))
	}
	return r.LoadStop(ctx, scene.Hotspots[n].TargetScene)
}

// State returns a snapshot of the resolver.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Current:   r.current,
		Total:     len(r.tour),
		Pending:   r.pending,
		LastError: r.lastErr,
		Scene:     r.scene,
	}
}
