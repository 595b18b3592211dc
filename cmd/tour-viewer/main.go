// Command tour-viewer serves tour playback over HTTP and gRPC.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/panotour/internal/api"
	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/playback"
	"github.com/banshee-data/panotour/internal/playback/remote"
	"github.com/banshee-data/panotour/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to alignment config JSON (defaults built in)")
	siteRoot   = flag.String("site", "public", "Site root directory or http(s) URL; tour asset paths resolve against it")
	tourName   = flag.String("tour", "tour.json", "Tour file, relative to the site root")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcAddr   = flag.String("grpc", "", "gRPC listen address (overrides config); \"off\" disables it")
	start      = flag.Int("start", 0, "Stop to load at startup")
)

func main() {
	flag.Parse()
	log.Printf("tour-viewer %s", version.String())

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	httpAddr := cfg.GetListenAddr()
	if *listen != "" {
		httpAddr = *listen
	}
	rpcAddr := cfg.GetGRPCAddr()
	if *grpcAddr != "" {
		rpcAddr = *grpcAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src := dataset.OpenSource(*siteRoot)
	tour, err := playback.LoadTour(ctx, src, *tourName)
	if err != nil {
		log.Fatalf("failed to load tour: %v", err)
	}
	log.Printf("loaded tour with %d stops", len(tour))

	loader := dataset.NewLoader(src, cfg.GetAssetLoadTimeout())
	resolver := playback.NewResolver(tour, loader, playback.OptionsFromConfig(cfg))
	if len(tour) > 0 {
		if _, err := resolver.NavigateTo(ctx, *start); err != nil {
			log.Printf("failed to load stop %d: %v", *start, err)
		}
	}

	opts := []api.Option{api.WithResolver(resolver)}
	if !strings.HasPrefix(*siteRoot, "http://") && !strings.HasPrefix(*siteRoot, "https://") {
		opts = append(opts, api.WithAssets(http.FileServer(http.Dir(*siteRoot))))
	}
	srv := api.NewServer(cfg, opts...)
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, httpAddr, api.LoggingMiddleware(mux))
	})
	if rpcAddr != "off" && rpcAddr != "" {
		g.Go(func() error {
			return remote.ListenAndServe(gctx, rpcAddr, resolver)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
