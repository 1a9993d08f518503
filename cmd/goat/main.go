package main

// goat precomputes and queries accessibility heatmaps.
//
// Example 1: precompute the walking matrices of one study area.
//
//    goat precompute -study-ids 83110000 -study-areas areas.geojson \
//        -network edges.tsv -pois pois.tsv -mode walking -profile standard
//
// Example 2: query the closest-nursery heatmap as GeoJSON.
//
//    goat heatmap -study-ids 83110000 -study-areas areas.geojson \
//        -categories nursery -mode walking -profile standard \
//        -max-time 20 -out heatmap.geojson

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/cnarbaitzsarsur/goat/heatmap"
	"github.com/cnarbaitzsarsur/goat/precompute"
)

const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitMissingData = 3
	exitCacheWrite  = 4
)

type goatFlags struct {
	cacheRoot  string
	studyAreas string
	networkTSV string
	poisTSV    string

	studyIDs   string
	mode       string
	profile    string
	scenario   string
	categories string
	out        string

	maxTimeMin  int
	speedKMH    float64
	snapDistM   float64
	bulkRes     int
	calcRes     int
	rasterRes   int
	batchSize   int
	parallelism int
}

func envString(key, dflt string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return dflt
}

func envInt(key string, dflt int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return dflt
}

func parseIDs(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("no study area ids given")
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad study area id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func defaultSpeedKMH(mode string) float64 {
	if mode == "cycling" {
		return 15
	}
	return 5
}

func runPrecompute(ctx context.Context, flags goatFlags) int {
	ids, err := parseIDs(flags.studyIDs)
	if err != nil {
		log.Error.Printf("goat: %v", err)
		return exitInvalidArgs
	}
	areas, err := newGeojsonAreas(ctx, flags.studyAreas)
	if err != nil {
		log.Error.Printf("goat: study areas: %v", err)
		return exitMissingData
	}
	netw, err := newFileNetwork(ctx, flags.networkTSV, flags.snapDistM)
	if err != nil {
		log.Error.Printf("goat: network: %v", err)
		return exitMissingData
	}
	pois, err := newTSVPois(ctx, flags.poisTSV)
	if err != nil {
		log.Error.Printf("goat: pois: %v", err)
		return exitMissingData
	}

	runner := precompute.Runner{
		Areas:   areas,
		Network: netw,
		Pois:    pois,
		Opts: precompute.Opts{
			BulkRes:       flags.bulkRes,
			CalcRes:       flags.calcRes,
			RasterRes:     flags.rasterRes,
			TravelTimeMin: flags.maxTimeMin,
			SpeedMS:       flags.speedKMH / 3.6,
			Scenario:      flags.scenario,
			BatchSize:     flags.batchSize,
			Parallelism:   flags.parallelism,
			CacheRoot:     flags.cacheRoot,
		},
	}
	summary, err := runner.Run(ctx, flags.mode, flags.profile, ids)
	if err != nil {
		log.Error.Printf("goat: precompute: %v", err)
		if summary != nil && summary.WriteFailures > 0 {
			return exitCacheWrite
		}
		return exitMissingData
	}
	if summary.Succeeded == 0 {
		log.Error.Printf("goat: no bulk cell produced an archive")
		if summary.WriteFailures > 0 {
			return exitCacheWrite
		}
		return exitMissingData
	}
	return exitOK
}

func runHeatmap(ctx context.Context, flags goatFlags) int {
	ids, err := parseIDs(flags.studyIDs)
	if err != nil {
		log.Error.Printf("goat: %v", err)
		return exitInvalidArgs
	}
	if flags.categories == "" {
		log.Error.Printf("goat: no categories given")
		return exitInvalidArgs
	}
	areas, err := newGeojsonAreas(ctx, flags.studyAreas)
	if err != nil {
		log.Error.Printf("goat: study areas: %v", err)
		return exitMissingData
	}
	reader := heatmap.Reader{
		Areas:     areas,
		CacheRoot: flags.cacheRoot,
		BulkRes:   flags.bulkRes,
	}
	result, err := reader.Read(ctx, heatmap.Request{
		Mode:             flags.mode,
		Profile:          flags.profile,
		MaxTravelTimeMin: flags.maxTimeMin,
		SpeedMS:          flags.speedKMH / 3.6,
		StudyAreaIDs:     ids,
		Categories:       strings.Split(flags.categories, ","),
	})
	if err != nil {
		log.Error.Printf("goat: heatmap: %v", err)
		return exitMissingData
	}
	if result.CoverageRatio == 0 {
		log.Error.Printf("goat: no opportunity archives found")
		return exitMissingData
	}
	if err := heatmap.WriteLayer(ctx, flags.out, result); err != nil {
		log.Error.Printf("goat: write %s: %v", flags.out, err)
		return exitCacheWrite
	}
	log.Printf("goat: wrote %s (coverage %.2f)", flags.out, result.CoverageRatio)
	return exitOK
}

func main() {
	flags := goatFlags{}
	flag.StringVar(&flags.cacheRoot, "cache-root", envString("CACHE_ROOT", "./cache"), "Root directory for matrix archives.")
	flag.StringVar(&flags.studyAreas, "study-areas", "", "GeoJSON file with study area polygons (feature property 'id').")
	flag.StringVar(&flags.networkTSV, "network", "", "TSV edge dump of the routing network.")
	flag.StringVar(&flags.poisTSV, "pois", "", "TSV file with POIs (uid, category, name, lon, lat).")
	flag.StringVar(&flags.studyIDs, "study-ids", "", "Comma-separated study area ids.")
	flag.StringVar(&flags.mode, "mode", "walking", "Travel mode: walking or cycling.")
	flag.StringVar(&flags.profile, "profile", "standard", "Routing profile.")
	flag.StringVar(&flags.scenario, "scenario", "default", "Network scenario.")
	flag.StringVar(&flags.categories, "categories", "", "Comma-separated POI categories (heatmap only).")
	flag.StringVar(&flags.out, "out", "heatmap.geojson", "Heatmap output path; .gz compresses.")
	flag.IntVar(&flags.maxTimeMin, "max-time", 20, "Travel-time budget in minutes.")
	flag.Float64Var(&flags.speedKMH, "speed", 0, "Travel speed in km/h; 0 uses the mode default.")
	flag.Float64Var(&flags.snapDistM, "snap-dist", 300, "Max distance in meters to snap an origin to the network.")
	flag.IntVar(&flags.bulkRes, "bulk-res", envInt("BULK_RES", 6), "H3 resolution of bulk cells.")
	flag.IntVar(&flags.calcRes, "calc-res", envInt("CALC_RES", 10), "H3 resolution of calculation cells.")
	flag.IntVar(&flags.rasterRes, "raster-res", 12, "Web-Mercator raster resolution.")
	flag.IntVar(&flags.batchSize, "bulk-size", envInt("BULK_SIZE", 50), "Origin sub-batch size of the traveltime engine.")
	flag.IntVar(&flags.parallelism, "parallelism", 0, "Expansion worker count; 0 uses all cores.")

	cleanup := grail.Init()
	defer cleanup()

	if flag.NArg() != 1 {
		log.Error.Printf("goat: want exactly one command: precompute or heatmap")
		os.Exit(exitInvalidArgs)
	}
	if flags.speedKMH == 0 {
		flags.speedKMH = defaultSpeedKMH(flags.mode)
	}
	if flags.mode != "walking" && flags.mode != "cycling" {
		log.Error.Printf("goat: unknown mode %q", flags.mode)
		os.Exit(exitInvalidArgs)
	}

	ctx, cancel := context.WithCancel(vcontext.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("goat: cancel requested, finishing current bulk")
		cancel()
	}()

	var code int
	switch cmd := flag.Arg(0); cmd {
	case "precompute":
		code = runPrecompute(ctx, flags)
	case "heatmap":
		code = runHeatmap(ctx, flags)
	default:
		log.Error.Printf("goat: unknown command %q", cmd)
		code = exitInvalidArgs
	}
	cancel()
	os.Exit(code)
}
