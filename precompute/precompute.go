// Package precompute drives the matrix pipeline: plan bulk cells, then
// per bulk snap origins, fetch the network, expand travel times and
// archive them, and finally intersect the archives with POIs. The
// collaborating data sources are injected; the package holds no global
// state.
package precompute

import (
	"context"
	"time"

	"github.com/grailbio/base/log"
	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
	"github.com/cnarbaitzsarsur/goat/network"
	"github.com/cnarbaitzsarsur/goat/opportunity"
	"github.com/cnarbaitzsarsur/goat/traveltime"
)

// Opts configures a precompute run.
type Opts struct {
	BulkRes   int
	CalcRes   int
	RasterRes int
	// TravelTimeMin is the budget in minutes.
	TravelTimeMin int
	// SpeedMS is the travel speed in meters per second.
	SpeedMS  float64
	Scenario string
	// BatchSize and Parallelism are passed to the traveltime engine.
	BatchSize   int
	Parallelism int
	CacheRoot   string
}

// Summary reports a run. A run is considered successful when at least
// one bulk cell produced an archive; per-bulk soft failures are
// recorded, not propagated.
type Summary struct {
	Bulks     int
	Succeeded int
	Skipped   int
	// WriteFailures counts bulks lost to archive write errors, a
	// subset of Skipped.
	WriteFailures int
	// OpportunityArchives is the number of (bulk, category) archives
	// written by the opportunity stage.
	OpportunityArchives int
	Failures            map[h3.Cell]error
}

// Runner owns one pipeline with its injected collaborators.
type Runner struct {
	Areas   hexgrid.AreaSource
	Network network.Provider
	Pois    opportunity.PoiSource
	Opts    Opts
}

// Run executes the pipeline for one mode and profile. Bulk cells are
// processed sequentially in canonical order; ctx is checked between
// bulks, so cancellation never tears a published archive.
func (r *Runner) Run(ctx context.Context, mode, profile string, studyIDs []int) (*Summary, error) {
	begin := time.Now()
	bufferM := r.Opts.SpeedMS * float64(r.Opts.TravelTimeMin) * 60
	plan, err := hexgrid.Plan(ctx, r.Areas, studyIDs, hexgrid.Opts{
		BulkRes:   r.Opts.BulkRes,
		CalcRes:   r.Opts.CalcRes,
		BufferM:   bufferM,
		RasterRes: r.Opts.RasterRes,
	})
	if err != nil {
		return nil, err
	}

	summary := &Summary{Bulks: len(plan.Bulks()), Failures: map[h3.Cell]error{}}
	engine := traveltime.Engine{Parallelism: r.Opts.Parallelism, BatchSize: r.Opts.BatchSize}
	routingProfile := network.RoutingProfile(mode, profile)
	for cnt, bulk := range plan.Bulks() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		sectionBegin := time.Now()
		err := r.runBulk(ctx, engine, plan.Entries[bulk], mode, profile, routingProfile, summary)
		if err != nil {
			summary.Skipped++
			summary.Failures[bulk] = err
			log.Error.Printf("precompute: bulk %s skipped: %v", bulk, err)
			continue
		}
		summary.Succeeded++
		log.Printf("precompute: bulk %d/%d done in %s", cnt+1, summary.Bulks, time.Since(sectionBegin))
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	builder := opportunity.Builder{Pois: r.Pois, CacheRoot: r.Opts.CacheRoot}
	written, err := builder.Build(ctx, plan, mode, profile)
	summary.OpportunityArchives = written
	if err != nil {
		return summary, err
	}
	log.Printf("precompute: %d/%d bulks, %d opportunity archives, total %s",
		summary.Succeeded, summary.Bulks, written, time.Since(begin))
	return summary, nil
}

// runBulk computes and publishes one bulk cell's traveltime archive.
func (r *Runner) runBulk(ctx context.Context, engine traveltime.Engine, entry *hexgrid.BulkEntry,
	mode, profile, routingProfile string, summary *Summary) error {
	if len(entry.Children) == 0 {
		return traveltime.ErrNoStartsSurvived
	}
	ids, err := r.Network.SnapArtificial(ctx, network.SnapRequest{
		Lons:       entry.Lons,
		Lats:       entry.Lats,
		MaxSeconds: float64(r.Opts.TravelTimeMin) * 60,
		SpeedMS:    r.Opts.SpeedMS,
		Scenario:   r.Opts.Scenario,
		Profile:    routingProfile,
	})
	if err != nil {
		return err
	}
	starts := network.SurvivingStarts(ids, len(entry.Children))
	if len(starts) == 0 {
		return traveltime.ErrNoStartsSurvived
	}

	gridIDs := make([]h3.Cell, len(starts))
	extents := make([]hexgrid.PixelExtent, len(starts))
	bound := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	for i, s := range starts {
		gridIDs[i] = entry.Children[s.Index]
		extents[i] = entry.Extents[s.Index]
		bound = bound.Extend(orb.Point{entry.Lons[s.Index], entry.Lats[s.Index]})
	}
	log.Printf("precompute: bulk %s: %d of %d origins snapped", entry.Cell, len(starts), len(entry.Children))

	edges, err := r.Network.ReadNetwork(ctx, network.NetworkRequest{
		Bound:    bound,
		Mode:     mode,
		Profile:  profile,
		Scenario: r.Opts.Scenario,
	})
	if err != nil {
		return err
	}

	tt, err := engine.Compute(ctx, traveltime.ComputeRequest{
		Edges:         edges,
		Starts:        starts,
		GridIDs:       gridIDs,
		Extents:       extents,
		TravelTimeMin: r.Opts.TravelTimeMin,
		RasterRes:     r.Opts.RasterRes,
	})
	if err != nil {
		return err
	}
	path := matrix.TraveltimePath(r.Opts.CacheRoot, mode, profile, entry.Cell)
	if err := matrix.WriteTraveltime(ctx, path, tt); err != nil {
		summary.WriteFailures++
		return err
	}
	return nil
}
