package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The defaults file and the built-in fallbacks must agree.
	empty := EmptyAlignConfig()
	if cfg.GetHotspotMinSeparation() != empty.GetHotspotMinSeparation() {
		t.Errorf("hotspot_min_separation = %f, want %f", cfg.GetHotspotMinSeparation(), empty.GetHotspotMinSeparation())
	}
	if cfg.GetPickThreshold() != empty.GetPickThreshold() {
		t.Errorf("pick_threshold = %f, want %f", cfg.GetPickThreshold(), empty.GetPickThreshold())
	}
	if cfg.GetFilterRadius() != 0.3 || cfg.GetFilterHeight() != 4.0 {
		t.Errorf("filter = (%f, %f), want (0.3, 4)", cfg.GetFilterRadius(), cfg.GetFilterHeight())
	}
	if cfg.GetExportDecimals() != 6 {
		t.Errorf("export_decimals = %d, want 6", cfg.GetExportDecimals())
	}
	if cfg.GetAssetLoadTimeout() != 30*time.Second {
		t.Errorf("asset_load_timeout = %v, want 30s", cfg.GetAssetLoadTimeout())
	}
	if got := strings.Join(cfg.GetImageExtensions(), ","); got != strings.Join(empty.GetImageExtensions(), ",") {
		t.Errorf("image_extensions = %s", got)
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyAlignConfig()

	if cfg.GetHotspotMinSeparation() != 0.5 {
		t.Errorf("GetHotspotMinSeparation() = %f, want 0.5", cfg.GetHotspotMinSeparation())
	}
	if cfg.GetAuthoringPointSizeFactor() != 0.05 {
		t.Errorf("GetAuthoringPointSizeFactor() = %f, want 0.05", cfg.GetAuthoringPointSizeFactor())
	}
	if cfg.GetViewerPointSizeFactor() != 0.03 {
		t.Errorf("GetViewerPointSizeFactor() = %f, want 0.03", cfg.GetViewerPointSizeFactor())
	}
	if cfg.GetPCDDir() != "pcd" || cfg.GetImageDir() != "images" {
		t.Errorf("dirs = (%s, %s), want (pcd, images)", cfg.GetPCDDir(), cfg.GetImageDir())
	}
	if got := cfg.GetCloudExtensions(); len(got) != 1 || got[0] != ".pcd" {
		t.Errorf("GetCloudExtensions() = %v", got)
	}
	if cfg.GetPreviewMaxPoints() != 20000 {
		t.Errorf("GetPreviewMaxPoints() = %d", cfg.GetPreviewMaxPoints())
	}
	if cfg.GetListenAddr() != ":8080" || cfg.GetGRPCAddr() != ":50051" {
		t.Errorf("addrs = (%s, %s)", cfg.GetListenAddr(), cfg.GetGRPCAddr())
	}
}

func TestLoadAlignConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "hotspot_min_separation": 0.75,
  "pcd_dir": "clouds",
  "image_extensions": [".JPG"],
  "asset_load_timeout": "5s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadAlignConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetHotspotMinSeparation() != 0.75 {
		t.Errorf("Expected HotspotMinSeparation 0.75, got %f", cfg.GetHotspotMinSeparation())
	}
	if cfg.GetPCDDir() != "clouds" {
		t.Errorf("Expected PCDDir clouds, got %s", cfg.GetPCDDir())
	}
	if got := cfg.GetImageExtensions(); len(got) != 1 || got[0] != ".JPG" {
		t.Errorf("Expected [.JPG], got %v", got)
	}
	if cfg.GetAssetLoadTimeout() != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.GetAssetLoadTimeout())
	}
	// Omitted fields keep their defaults.
	if cfg.GetPickThreshold() != 0.1 {
		t.Errorf("Expected default PickThreshold 0.1, got %f", cfg.GetPickThreshold())
	}
}

func TestLoadAlignConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", "/nonexistent/path/to/config.json"},
		{"wrong extension", write("config.yaml", "{}")},
		{"invalid json", write("invalid.json", `{"pick_threshold": "x"`)},
		{"fails validation", write("bad.json", `{"pick_threshold": -1}`)},
		{"too large", write("large.json", `{"pcd_dir": "`+strings.Repeat("a", 1024*1024)+`"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadAlignConfig(tt.path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault(\"\") error = %v", err)
	}
	if cfg.HotspotMinSeparation != nil {
		t.Error("Expected empty config for empty path")
	}
	if _, err := LoadOrDefault("missing.json"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *AlignConfig
		wantErr bool
	}{
		{"empty config is valid", &AlignConfig{}, false},
		{"zero separation allowed", &AlignConfig{HotspotMinSeparation: ptrFloat64(0)}, false},
		{"negative separation", &AlignConfig{HotspotMinSeparation: ptrFloat64(-0.5)}, true},
		{"zero pick threshold", &AlignConfig{PickThreshold: ptrFloat64(0)}, true},
		{"negative filter radius", &AlignConfig{FilterRadius: ptrFloat64(-1)}, true},
		{"negative viewer point size", &AlignConfig{ViewerPointSizeFactor: ptrFloat64(-0.03)}, true},
		{"too many decimals", &AlignConfig{ExportDecimals: ptrInt(20)}, true},
		{"zero preview points", &AlignConfig{PreviewMaxPoints: ptrInt(0)}, true},
		{"extension without dot", &AlignConfig{CloudExtensions: []string{"pcd"}}, true},
		{"invalid timeout", &AlignConfig{AssetLoadTimeout: ptrString("soon")}, true},
		{"valid timeout", &AlignConfig{AssetLoadTimeout: ptrString("250ms")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetAssetLoadTimeout_InvalidFallsBack(t *testing.T) {
	cfg := &AlignConfig{AssetLoadTimeout: ptrString("not-a-duration")}
	if got := cfg.GetAssetLoadTimeout(); got != 30*time.Second {
		t.Errorf("GetAssetLoadTimeout() = %v, want 30s", got)
	}
}
