// Command track-plot renders the tracked object history stored in the
// pickplace journal as PNG plots: the XY path over the table and each
// coordinate against time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pickplace/internal/db"
	"github.com/banshee-data/pickplace/internal/security"
)

var (
	dbFile = flag.String("db", "pickplace.db", "Path to the pickplace journal")
	outDir = flag.String("out", "plots", "Output directory (must be under the working or temp directory)")
	prefix = flag.String("prefix", "track", "File name prefix")
	since  = flag.Duration("since", 0, "Only plot samples received within this duration (0 plots all)")
	limit  = flag.Int("limit", 10000, "Maximum number of samples to plot")
)

func main() {
	flag.Parse()

	if err := security.ValidateOutputPath(*outDir); err != nil {
		log.Fatalf("invalid output directory: %v", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	store, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer store.Close()

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	samples, err := store.ListTrackedPoses(context.Background(), from, *limit)
	if err != nil {
		log.Fatalf("failed to read tracked poses: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("no tracked poses in %s", *dbFile)
	}

	files, err := renderTrack(samples, *outDir, security.SanitizeFilename(*prefix))
	if err != nil {
		log.Fatalf("failed to render plots: %v", err)
	}
	for _, f := range files {
		abs, _ := filepath.Abs(f)
		fmt.Println(abs)
	}
	log.Printf("plotted %d samples", len(samples))
}
