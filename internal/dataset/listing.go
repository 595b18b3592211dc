// Package dataset discovers the paired panorama and point-cloud assets of a
// tour and loads them from a local directory or over HTTP.
//
// Each asset directory carries a list.json holding a flat array of file
// names. Names are filtered by extension and sorted lexicographically; the
// n-th image and the n-th cloud form scene n.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/fsutil"
	"github.com/banshee-data/panotour/internal/httputil"
	"github.com/banshee-data/panotour/internal/monitoring"
	"github.com/banshee-data/panotour/internal/security"
)

// ListingFile is the per-directory file listing.
const ListingFile = "list.json"

var (
	// ErrNoListing is returned when a directory has no list.json and the
	// source cannot enumerate it.
	ErrNoListing = errors.New("dataset: listing not found")
	// ErrEmptyListing is returned when no listed file has an accepted
	// extension.
	ErrEmptyListing = errors.New("dataset: no matching assets")
)

var logf = monitoring.Prefixed("dataset")

// Source reads assets by slash-separated path relative to the dataset root.
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// DirLister is implemented by sources that can enumerate a directory when
// it has no list.json.
type DirLister interface {
	ListDir(ctx context.Context, dir string) ([]string, error)
}

// FSSource reads assets below Root on a fsutil.FileSystem.
type FSSource struct {
	FS   fsutil.FileSystem
	Root string
}

// NewFSSource returns a source rooted at root. A nil fsys means the OS
// filesystem.
func NewFSSource(fsys fsutil.FileSystem, root string) *FSSource {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &FSSource{FS: fsys, Root: root}
}

// resolve maps a slash path onto the filesystem. Tour files write asset
// paths rooted at the site root, so a leading slash means Root.
func (s *FSSource) resolve(name string) (string, error) {
	clean, err := security.ValidateRelativePath(strings.TrimLeft(name, "/"))
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

// ReadFile reads name below Root.
func (s *FSSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.FS.ReadFile(p)
}

// ListDir returns the regular files of dir.
func (s *FSSource) ListDir(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	return s.FS.FileNames(p)
}

// HTTPSource reads assets relative to BaseURL.
type HTTPSource struct {
	Client  httputil.HTTPClient
	BaseURL string
}

// NewHTTPSource returns a source for baseURL. A nil client means
// http.DefaultClient.
func NewHTTPSource(client httputil.HTTPClient, baseURL string) *HTTPSource {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPSource{Client: client, BaseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns the absolute URL of name, taken relative to BaseURL even
// when it starts with a slash.
func (s *HTTPSource) URL(name string) (string, error) {
	clean, err := security.ValidateRelativePath(strings.TrimLeft(name, "/"))
	if err != nil {
		return "", err
	}
	parts := strings.Split(clean, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.BaseURL + "/" + strings.Join(parts, "/"), nil
}

// ReadFile fetches name. A 404 is reported as fs.ErrNotExist.
func (s *HTTPSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	u, err := s.URL(name)
	if err != nil {
		return nil, err
	}
	data, err := httputil.Fetch(ctx, s.Client, u)
	var se *httputil.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return data, err
}

// ReadListing returns the sorted names in dir whose extension is one of
// exts (case-insensitive). Without a list.json it falls back to listing
// the directory when src supports that.
func ReadListing(ctx context.Context, src Source, dir string, exts []string) ([]string, error) {
	data, err := src.ReadFile(ctx, path.Join(dir, ListingFile))
	var names []string
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, fmt.Errorf("dataset: parse %s/%s: %w", dir, ListingFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		lister, ok := src.(DirLister)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoListing, dir)
		}
		logf("%s has no %s; listing directory", dir, ListingFile)
		if names, err = lister.ListDir(ctx, dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNoListing, dir)
			}
			return nil, fmt.Errorf("dataset: list %s: %w", dir, err)
		}
	default:
		return nil, fmt.Errorf("dataset: read %s/%s: %w", dir, ListingFile, err)
	}

	valid := names[:0:0]
	for _, n := range names {
		if err := security.ValidateAssetName(n); err != nil {
			logf("skipping listing entry in %s: %v", dir, err)
			continue
		}
		valid = append(valid, n)
	}

	out := FilterByExtension(valid, exts)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s (extensions %v)", ErrEmptyListing, dir, exts)
	}
	return out, nil
}

// FilterByExtension keeps the names ending in one of exts, compared
// case-insensitively, and returns them sorted.
func FilterByExtension(names, exts []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		ext := strings.ToLower(path.Ext(n))
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				out = append(out, n)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Scene pairs the assets of one tour stop.
type Scene struct {
	Index int    `json:"index"`
	Image string `json:"image"`
	PCD   string `json:"pcd"`
}

// Pairs matches images and clouds by sorted position. Extra entries on
// either side are ignored.
func Pairs(imageDir string, images []string, pcdDir string, clouds []string) []Scene {
	n := min(len(images), len(clouds))
	if len(images) != len(clouds) {
		logf("%d images and %d point clouds; pairing the first %d", len(images), len(clouds), n)
	}
	out := make([]Scene, n)
	for i := 0; i < n; i++ {
		out[i] = Scene{
			Index: i,
			Image: path.Join(imageDir, images[i]),
			PCD:   path.Join(pcdDir, clouds[i]),
		}
	}
	return out
}

// Layout names the asset directories and accepted extensions.
type Layout struct {
	ImageDir  string
	PCDDir    string
	ImageExts []string
	CloudExts []string
}

// LayoutFromConfig builds a Layout from configuration.
func LayoutFromConfig(cfg *config.AlignConfig) Layout {
	return Layout{
		ImageDir:  cfg.GetImageDir(),
		PCDDir:    cfg.GetPCDDir(),
		ImageExts: cfg.GetImageExtensions(),
		CloudExts: cfg.GetCloudExtensions(),
	}
}

// Discover reads both listings concurrently and pairs them into scenes.
func Discover(ctx context.Context, src Source, l Layout) ([]Scene, error) {
	var images, clouds []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		images, err = ReadListing(gctx, src, l.ImageDir, l.ImageExts)
		return err
	})
	g.Go(func() error {
		var err error
		clouds, err = ReadListing(gctx, src, l.PCDDir, l.CloudExts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Pairs(l.ImageDir, images, l.PCDDir, clouds), nil
}

// OpenSource returns an HTTPSource for an http(s) URL and an FSSource on the
// local filesystem for anything else.
func OpenSource(location string) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(nil, location)
	}
	return NewFSSource(nil, location)
}
