// Command tour-align serves the alignment authoring API over a dataset of
// paired panoramas and point clouds.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/api"
	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/fsutil"
	"github.com/banshee-data/panotour/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to alignment config JSON (defaults built in)")
	dataRoot   = flag.String("data", ".", "Dataset root directory or http(s) URL")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	basePath   = flag.String("base", "", "Optional base calibration JSON")
	resume     = flag.String("resume", "", "Optional earlier alignment export to resume from")
	outPath    = flag.String("out", "", "Write the alignment export here on shutdown")
)

func main() {
	flag.Parse()
	log.Printf("tour-align %s", version.String())

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := dataset.OpenSource(*dataRoot)
	scenes, err := dataset.Discover(ctx, src, dataset.LayoutFromConfig(cfg))
	if err != nil {
		log.Fatalf("failed to discover scenes under %s: %v", *dataRoot, err)
	}
	log.Printf("found %d scenes", len(scenes))

	loader := dataset.NewLoader(src, cfg.GetAssetLoadTimeout())
	session := alignment.NewSession(scenes, loader, alignment.OptionsFromConfig(cfg))
	fsys := fsutil.OSFileSystem{}

	if *basePath != "" {
		data, err := fsys.ReadFile(*basePath)
		if err != nil {
			log.Fatalf("failed to read base transform: %v", err)
		}
		base, err := alignment.LoadBaseTransform(data)
		if err != nil {
			log.Fatalf("failed to parse base transform %s: %v", *basePath, err)
		}
		if _, err := session.SetBaseTransform(base); err != nil {
			log.Fatalf("invalid base transform: %v", err)
		}
	}
	if *resume != "" {
		doc, err := alignment.ReadDocumentFile(fsys, *resume)
		if err != nil {
			log.Fatalf("failed to parse %s: %v", *resume, err)
		}
		if _, err := session.ImportDocument(doc); err != nil {
			log.Fatalf("failed to import %s: %v", *resume, err)
		}
	}
	if err := session.Select(ctx, 0); err != nil {
		log.Printf("failed to load first scene: %v", err)
	}

	opts := []api.Option{api.WithSession(session)}
	if !strings.HasPrefix(*dataRoot, "http://") && !strings.HasPrefix(*dataRoot, "https://") {
		opts = append(opts, api.WithAssets(http.FileServer(http.Dir(*dataRoot))))
	}
	srv := api.NewServer(cfg, opts...)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)

	if err := api.Serve(ctx, addr, api.LoggingMiddleware(mux)); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	if *outPath != "" {
		if err := alignment.WriteDocumentFile(fsys, *outPath, session.Export()); err != nil {
			log.Fatalf("failed to write %s: %v", *outPath, err)
		}
		saved, total := session.Progress()
		log.Printf("wrote %s (%d/%d scenes aligned)", *outPath, saved, total)
	}
	log.Printf("Graceful shutdown complete")
}
