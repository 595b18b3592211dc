// Package tourbuild turns an alignment export and the dataset listings
// into the tour file read by the viewer.
package tourbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/fsutil"
	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/playback"
)

var logf = monitoring.Prefixed("build-tour")

var (
	// ErrNoAlignments is returned when the alignment file is missing,
	// empty or has no aligned scene.
	ErrNoAlignments = errors.New("tourbuild: no alignments")
	// ErrNoAssets is returned when either asset directory has no match.
	ErrNoAssets = errors.New("tourbuild: no assets")
)

// Options configures Run.
type Options struct {
	FS             fsutil.FileSystem
	AlignmentsPath string
	DatasetRoot    string
	Layout         dataset.Layout
	// ImagePrefix and PCDPrefix are the URL paths written into the tour;
	// empty means "/" + the layout directory.
	ImagePrefix string
	PCDPrefix   string
	OutputPath  string
}

// Build pairs each exported scene with the sorted listings. Scenes past
// the shorter listing are skipped with a warning, as are hotspots whose
// target is not another emitted stop. Unaligned scenes become stops
// without a matrix so hotspot targets keep their indices.
func Build(doc alignment.Document, images, clouds []string, imagePrefix, pcdPrefix string) (playback.Tour, error) {
	if doc.Aligned() == 0 {
		return nil, ErrNoAlignments
	}
	if len(images) == 0 || len(clouds) == 0 {
		return nil, fmt.Errorf("%w: %d images, %d point clouds", ErrNoAssets, len(images), len(clouds))
	}

	n := min(len(images), len(clouds))
	stops := min(len(doc), n)
	tour := make(playback.Tour, 0, stops)
	for i, e := range doc {
		if i >= n {
			if e.Aligned() {
				logf("skipping alignment for index %d as it's out of bounds", i)
			}
			continue
		}
		stop := playback.Stop{
			Image:  path.Join(imagePrefix, images[i]),
			PCD:    path.Join(pcdPrefix, clouds[i]),
			Matrix: e.Matrix,
		}
		for _, h := range e.Hotspots {
			if h.TargetScene < 0 || h.TargetScene >= stops || h.TargetScene == i {
				logf("scene %d: dropping hotspot to missing scene %d", i, h.TargetScene)
				continue
			}
			stop.Hotspots = append(stop.Hotspots, h)
		}
		tour = append(tour, stop)
	}
	return tour, nil
}

// Run reads the alignment file and listings from opts.FS, builds the tour
// and writes it to opts.OutputPath.
func Run(ctx context.Context, opts Options) (playback.Tour, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}

	data, err := fsys.ReadFile(opts.AlignmentsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: alignments file not found at %s; run the alignment tool and save the file", ErrNoAlignments, opts.AlignmentsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read alignments: %w", err)
	}
	doc, err := alignment.DecodeDocument(bytes.NewReader(data))
	if errors.Is(err, alignment.ErrEmptyDocument) {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoAlignments, opts.AlignmentsPath)
	}
	if err != nil {
		return nil, err
	}
	logf("loaded %d alignments", doc.Aligned())

	src := dataset.NewFSSource(fsys, opts.DatasetRoot)
	images, err := listing(ctx, src, opts.Layout.ImageDir, opts.Layout.ImageExts)
	if err != nil {
		return nil, err
	}
	clouds, err := listing(ctx, src, opts.Layout.PCDDir, opts.Layout.CloudExts)
	if err != nil {
		return nil, err
	}

	imagePrefix := opts.ImagePrefix
	if imagePrefix == "" {
		imagePrefix = "/" + opts.Layout.ImageDir
	}
	pcdPrefix := opts.PCDPrefix
	if pcdPrefix == "" {
		pcdPrefix = "/" + opts.Layout.PCDDir
	}
	tour, err := Build(doc, images, clouds, imagePrefix, pcdPrefix)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := playback.WriteTour(&buf, tour); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(opts.OutputPath); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := fsys.WriteFile(opts.OutputPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write tour: %w", err)
	}
	logf("generated %s with %d stops", opts.OutputPath, len(tour))
	return tour, nil
}

func listing(ctx context.Context, src dataset.Source, dir string, exts []string) ([]string, error) {
	names, err := dataset.ReadListing(ctx, src, dir, exts)
	if errors.Is(err, dataset.ErrEmptyListing) || errors.Is(err, dataset.ErrNoListing) {
		return nil, fmt.Errorf("%w: %v", ErrNoAssets, err)
	}
	return names, err
}
