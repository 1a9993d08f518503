package traveltime

import (
	"context"
	"math"
	"runtime"

	"github.com/grailbio/base/traverse"
	h3 "github.com/uber/h3-go/v4"
	"v.io/x/lib/vlog"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
	"github.com/cnarbaitzsarsur/goat/network"
)

// Engine computes the traveltime archive of one bulk cell. The zero
// value uses all cores and the default sub-batch size.
type Engine struct {
	// Parallelism bounds the worker count. 0 means runtime.NumCPU().
	Parallelism int
	// BatchSize is the number of origins a worker claims at a time. It
	// does not bound window memory: the windows of every origin of the
	// bulk stay in memory until the gather step. 0 means DefaultBatchSize.
	BatchSize int
}

// DefaultBatchSize is the default origin sub-batch size.
const DefaultBatchSize = 50

// ComputeRequest carries one bulk cell's inputs. Starts, GridIDs and
// Extents are parallel, already filtered to surviving origins in
// canonical child order.
type ComputeRequest struct {
	Edges   *network.EdgeList
	Starts  []network.Start
	GridIDs []h3.Cell
	Extents []hexgrid.PixelExtent
	// TravelTimeMin is the expansion budget in minutes.
	TravelTimeMin int
	// RasterRes is the Web-Mercator raster resolution of the extents.
	RasterRes int
}

// Compute expands every origin in parallel sub-batches and gathers the
// windows into an archive in the canonical origin order. Origins whose
// artificial node never made it into the edge list keep a fully
// unreachable window; an origin with a degenerate extent is dropped
// from the archive. Returns ErrNoStartsSurvived when nothing remains.
func (e Engine) Compute(ctx context.Context, req ComputeRequest) (*matrix.Traveltime, error) {
	if len(req.Starts) == 0 {
		return nil, ErrNoStartsSurvived
	}
	g := NewGraph(req.Edges)
	vlog.VI(1).Infof("traveltime: %d origins, %d nodes, %d arcs, bound %v",
		len(req.Starts), g.NumNodes(), len(g.edges), g.Bound())

	budget := float64(req.TravelTimeMin) * 60
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	nBatches := (len(req.Starts) + batchSize - 1) / batchSize
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > nBatches {
		parallelism = nBatches
	}

	// Slot s is owned by exactly one worker; no shared mutable state
	// exists during expansion.
	windows := make([]*window, len(req.Starts))
	err := traverse.Each(parallelism, func(jobIdx int) error {
		dist := make([]float64, g.NumNodes())
		for batch := jobIdx; batch < nBatches; batch += parallelism {
			if err := ctx.Err(); err != nil {
				return err
			}
			lo := batch * batchSize
			hi := lo + batchSize
			if hi > len(req.Starts) {
				hi = len(req.Starts)
			}
			for s := lo; s < hi; s++ {
				ext := req.Extents[s]
				if ext.Height <= 0 || ext.Width <= 0 {
					vlog.Errorf("traveltime: origin %s: degenerate extent %+v, dropping", req.GridIDs[s], ext)
					continue
				}
				w := newWindow(ext, req.RasterRes)
				if start, ok := g.Lookup(req.Starts[s].NodeID); ok {
					for i := range dist {
						dist[i] = math.Inf(1)
					}
					g.expand(start, budget, w, dist)
				}
				windows[s] = w
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Gather in canonical order; dropped slots are omitted from all
	// parallel arrays.
	out := &matrix.Traveltime{}
	for s, w := range windows {
		if w == nil {
			continue
		}
		out.GridIDs = append(out.GridIDs, req.GridIDs[s])
		out.North = append(out.North, w.ext.North)
		out.West = append(out.West, w.ext.West)
		out.Height = append(out.Height, w.ext.Height)
		out.Width = append(out.Width, w.ext.Width)
		out.TravelTimes.Append(w.buf)
	}
	if out.Len() == 0 {
		return nil, ErrNoStartsSurvived
	}
	return out, nil
}
