// Command build-tour turns an alignment export and the dataset directory
// listings into the tour file consumed by the viewer.
package main

import (
	"context"
	"flag"
	"log"
	"path"

	"github.com/banshee-data/panotour/internal/config"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/tourbuild"
)

var (
	configPath     = flag.String("config", "", "Path to alignment config JSON (defaults built in)")
	alignmentsPath = flag.String("alignments", "public/alignments.json", "Alignment export to read")
	datasetRoot    = flag.String("dataset", "public/datasets", "Dataset root holding the image and point-cloud directories")
	outputPath     = flag.String("out", "public/tour.json", "Tour file to write")
	urlPrefix      = flag.String("prefix", "/datasets", "URL prefix of the dataset root as served to the viewer")
)

func main() {
	flag.Parse()
	log.Printf("Starting tour generation...")

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	layout := dataset.LayoutFromConfig(cfg)

	tour, err := tourbuild.Run(context.Background(), tourbuild.Options{
		AlignmentsPath: *alignmentsPath,
		DatasetRoot:    *datasetRoot,
		Layout:         layout,
		ImagePrefix:    path.Join(*urlPrefix, layout.ImageDir),
		PCDPrefix:      path.Join(*urlPrefix, layout.PCDDir),
		OutputPath:     *outputPath,
	})
	if err != nil {
		log.Fatalf("Failed to generate tour: %v", err)
	}
	log.Printf("Successfully generated %s with %d stops", *outputPath, len(tour))
}
