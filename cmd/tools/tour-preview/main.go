// Command tour-preview renders a top-down view of one tour stop to an HTML,
// PNG or WebP file, for checking an alignment without a browser viewer.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/playback"
	"github.com/banshee-data/panotour/internal/preview"
)

func main() {
	configPath := flag.String("config", "", "Path to alignment config JSON (defaults built in)")
	siteRoot := flag.String("site", "public", "Site root directory or http(s) URL")
	tourName := flag.String("tour", "tour.json", "Tour file, relative to the site root")
	stop := flag.Int("stop", 0, "Stop index to render")
	out := flag.String("out", "preview.png", "Output file; the extension picks html, png or webp")
	maxPoints := flag.Int("max-points", 0, "Point cap (defaults to config preview_max_points)")
	sizeIn := flag.Float64("size", 8, "Image edge length in inches")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *maxPoints <= 0 {
		*maxPoints = cfg.GetPreviewMaxPoints()
	}

	ctx := context.Background()
	src := dataset.OpenSource(*siteRoot)
	tour, err := playback.LoadTour(ctx, src, *tourName)
	if err != nil {
		log.Fatalf("failed to load tour: %v", err)
	}

	resolver := playback.NewResolver(tour, dataset.NewLoader(src, cfg.GetAssetLoadTimeout()), playback.OptionsFromConfig(cfg))
	sc, err := resolver.NavigateTo(ctx, *stop)
	if err != nil {
		log.Fatalf("failed to load stop %d: %v", *stop, err)
	}
	if !sc.Aligned {
		log.Printf("stop %d has no alignment; rendering hotspots only", *stop)
	}

	hs := make([]r3.Vec, len(sc.Hotspots))
	for i, h := range sc.Hotspots {
		hs[i] = h.World
	}
	scene := preview.Scene{
		Title:    fmt.Sprintf("Stop %d: %s", sc.Index, sc.Stop.Image),
		Cloud:    sc.Cloud,
		Hotspots: hs,
	}

	var buf bytes.Buffer
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(*out)), ".")
	if ext == "html" {
		err = preview.RenderHTML(&buf, scene, *maxPoints)
	} else {
		var f preview.Format
		if f, err = preview.ParseFormat(ext); err == nil {
			err = preview.RenderImage(&buf, scene, f, *maxPoints, vg.Length(*sizeIn)*vg.Inch)
		}
	}
	if err != nil {
		log.Fatalf("failed to render preview: %v", err)
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d hotspots)", *out, len(hs))
}
