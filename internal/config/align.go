package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/align.defaults.json"

// AlignConfig holds the tunables shared by the alignment tool, the viewer
// and the batch tour builder. Every field is optional; the Get* accessors
// supply the built-in default for anything the file omits.
type AlignConfig struct {
	// Hotspots and picking
	HotspotMinSeparation *float64 `json:"hotspot_min_separation,omitempty"`
	PickThreshold        *float64 `json:"pick_threshold,omitempty"`

	// Viewer near-origin cylinder filter
	FilterRadius *float64 `json:"filter_radius,omitempty"`
	FilterHeight *float64 `json:"filter_height,omitempty"`

	// Point size feedback
	AuthoringPointSizeFactor *float64 `json:"authoring_point_size_factor,omitempty"`
	ViewerPointSizeFactor    *float64 `json:"viewer_point_size_factor,omitempty"`

	// Dataset layout
	PCDDir          *string  `json:"pcd_dir,omitempty"`
	ImageDir        *string  `json:"image_dir,omitempty"`
	ImageExtensions []string `json:"image_extensions,omitempty"`
	CloudExtensions []string `json:"cloud_extensions,omitempty"`

	// Export and preview
	ExportDecimals   *int `json:"export_decimals,omitempty"`
	PreviewMaxPoints *int `json:"preview_max_points,omitempty"`

	// Serving
	ListenAddr       *string `json:"listen_addr,omitempty"`
	GRPCAddr         *string `json:"grpc_addr,omitempty"`
	AssetLoadTimeout *string `json:"asset_load_timeout,omitempty"` // duration string like "30s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAlignConfig returns an AlignConfig with all fields unset.
func EmptyAlignConfig() *AlignConfig {
	return &AlignConfig{}
}

// LoadAlignConfig loads an AlignConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// fall back to the defaults, so partial configs are safe.
func LoadAlignConfig(path string) (*AlignConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAlignConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty and returns an empty
// (all-defaults) config otherwise.
func LoadOrDefault(path string) (*AlignConfig, error) {
	if path == "" {
		return EmptyAlignConfig(), nil
	}
	return LoadAlignConfig(path)
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *AlignConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/playback/remote/
	}
	for _, path := range candidates {
		if cfg, err := LoadAlignConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *AlignConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"pick_threshold", c.PickThreshold},
		{"authoring_point_size_factor", c.AuthoringPointSizeFactor},
		{"viewer_point_size_factor", c.ViewerPointSizeFactor},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"hotspot_min_separation", c.HotspotMinSeparation},
		{"filter_radius", c.FilterRadius},
		{"filter_height", c.FilterHeight},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v)
		}
	}

	if c.ExportDecimals != nil && (*c.ExportDecimals < 0 || *c.ExportDecimals > 15) {
		return fmt.Errorf("export_decimals must be between 0 and 15, got %d", *c.ExportDecimals)
	}
	if c.PreviewMaxPoints != nil && *c.PreviewMaxPoints <= 0 {
		return fmt.Errorf("preview_max_points must be positive, got %d", *c.PreviewMaxPoints)
	}

	for _, ext := range append(append([]string{}, c.ImageExtensions...), c.CloudExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with '.'", ext)
		}
	}

	if c.AssetLoadTimeout != nil && *c.AssetLoadTimeout != "" {
		if _, err := time.ParseDuration(*c.AssetLoadTimeout); err != nil {
			return fmt.Errorf("invalid asset_load_timeout '%s': %w", *c.AssetLoadTimeout, err)
		}
	}

	return nil
}

// GetHotspotMinSeparation returns the minimum distance between two hotspots
// of one scene.
func (c *AlignConfig) GetHotspotMinSeparation() float64 {
	if c.HotspotMinSeparation == nil {
		return 0.5
	}
	return *c.HotspotMinSeparation
}

// GetPickThreshold returns the point picking threshold in world units.
func (c *AlignConfig) GetPickThreshold() float64 {
	if c.PickThreshold == nil {
		return 0.1
	}
	return *c.PickThreshold
}

// GetFilterRadius returns the cylinder filter radius.
func (c *AlignConfig) GetFilterRadius() float64 {
	if c.FilterRadius == nil {
		return 0.3
	}
	return *c.FilterRadius
}

// GetFilterHeight returns the full cylinder filter height.
func (c *AlignConfig) GetFilterHeight() float64 {
	if c.FilterHeight == nil {
		return 4.0
	}
	return *c.FilterHeight
}

func (c *AlignConfig) GetAuthoringPointSizeFactor() float64 {
	if c.AuthoringPointSizeFactor == nil {
		return 0.05
	}
	return *c.AuthoringPointSizeFactor
}

func (c *AlignConfig) GetViewerPointSizeFactor() float64 {
	if c.ViewerPointSizeFactor == nil {
		return 0.03
	}
	return *c.ViewerPointSizeFactor
}

// GetPCDDir returns the point-cloud directory.
func (c *AlignConfig) GetPCDDir() string {
	if c.PCDDir == nil || *c.PCDDir == "" {
		return "pcd"
	}
	return *c.PCDDir
}

// GetImageDir returns the panorama directory.
func (c *AlignConfig) GetImageDir() string {
	if c.ImageDir == nil || *c.ImageDir == "" {
		return "images"
	}
	return *c.ImageDir
}

// GetImageExtensions returns the accepted panorama extensions.
func (c *AlignConfig) GetImageExtensions() []string {
	if len(c.ImageExtensions) == 0 {
		return []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	return c.ImageExtensions
}

// GetCloudExtensions returns the accepted point-cloud extensions.
func (c *AlignConfig) GetCloudExtensions() []string {
	if len(c.CloudExtensions) == 0 {
		return []string{".pcd"}
	}
	return c.CloudExtensions
}

// GetExportDecimals returns the rounding applied to exported matrices.
func (c *AlignConfig) GetExportDecimals() int {
	if c.ExportDecimals == nil {
		return 6
	}
	return *c.ExportDecimals
}

func (c *AlignConfig) GetPreviewMaxPoints() int {
	if c.PreviewMaxPoints == nil {
		return 20000
	}
	return *c.PreviewMaxPoints
}

func (c *AlignConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

func (c *AlignConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil || *c.GRPCAddr == "" {
		return ":50051"
	}
	return *c.GRPCAddr
}

// GetAssetLoadTimeout parses and returns AssetLoadTimeout.
func (c *AlignConfig) GetAssetLoadTimeout() time.Duration {
	if c.AssetLoadTimeout == nil || *c.AssetLoadTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.AssetLoadTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}
