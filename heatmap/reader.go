// Package heatmap serves accessibility queries from the pre-computed
// opportunity archives. A query names a travel mode, a routing profile,
// a travel-time budget, study areas and POI categories; the reader
// streams every matching archive through a per-grid reducer and emits a
// hex-polygon feature layer.
package heatmap

import (
	"context"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/log"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
)

// AggregateFunc folds one reachable travel time into a grid cell's
// accumulated value.
type AggregateFunc func(acc, v int32) int32

// Min keeps the travel time to the closest POI. It is the default
// aggregation.
func Min(acc, v int32) int32 {
	if v < acc {
		return v
	}
	return acc
}

// Request is one heatmap query. SpeedMS sizes the bulk-cover buffer and
// must match the speed the matrices were computed with.
type Request struct {
	Mode             string
	Profile          string
	MaxTravelTimeMin int
	SpeedMS          float64
	StudyAreaIDs     []int
	Categories       []string
	// Aggregate defaults to Min.
	Aggregate AggregateFunc
}

// Result is the query output. CoverageRatio is the fraction of
// requested (bulk, category) archives that existed; missing archives
// degrade coverage, never fail the query.
type Result struct {
	Features      *geojson.FeatureCollection
	CoverageRatio float64
}

// Reader answers heatmap queries against a cache root.
type Reader struct {
	Areas     hexgrid.AreaSource
	CacheRoot string
	// BulkRes is the H3 resolution of the archived bulk cells.
	BulkRes int
}

// gridEntry is one reduced grid cell, ordered by H3 id so the feature
// layer is emitted deterministically.
type gridEntry struct {
	cell  h3.Cell
	value int32
}

func (g gridEntry) Compare(c llrb.Comparable) int {
	o := c.(gridEntry)
	switch {
	case g.cell < o.cell:
		return -1
	case g.cell > o.cell:
		return 1
	}
	return 0
}

// Read runs one query. The reducer is streaming: archives are loaded
// one (bulk, category) at a time and folded into the per-grid tree, so
// the POI cross product is never materialized.
func (r *Reader) Read(ctx context.Context, req Request) (*Result, error) {
	agg := req.Aggregate
	if agg == nil {
		agg = Min
	}
	bufferM := req.SpeedMS * float64(req.MaxTravelTimeMin) * 60
	bulks, err := hexgrid.Cover(ctx, r.Areas, req.StudyAreaIDs, r.BulkRes, bufferM)
	if err != nil {
		return nil, err
	}

	tree := llrb.Tree{}
	requested, found := 0, 0
	for _, category := range req.Categories {
		for _, bulk := range bulks {
			requested++
			path := matrix.OpportunityPath(r.CacheRoot, req.Mode, req.Profile, bulk, category)
			opp, err := matrix.ReadOpportunity(ctx, path)
			if err != nil {
				log.Printf("heatmap: %s/%s: archive missing (%v)", bulk, category, err)
				continue
			}
			found++
			for i := 0; i < opp.Len(); i++ {
				costs := opp.TravelTimes.Row(i)
				origins := opp.GridIDs.Row(i)
				for j, cost := range costs {
					entry := gridEntry{cell: origins[j], value: cost}
					if prev := tree.Get(entry); prev != nil {
						entry.value = agg(prev.(gridEntry).value, cost)
					}
					tree.Insert(entry)
				}
			}
		}
	}

	budgetSec := int32(req.MaxTravelTimeMin * 60)
	features := geojson.NewFeatureCollection()
	var ferr error
	tree.Do(func(item llrb.Comparable) bool {
		entry := item.(gridEntry)
		if entry.value > budgetSec {
			return false
		}
		polygon, err := hexgrid.CellPolygon(entry.cell)
		if err != nil {
			ferr = err
			return true
		}
		f := geojson.NewFeature(polygon)
		f.Properties = geojson.Properties{
			"grid_id":          entry.cell.String(),
			"aggregated_value": entry.value,
		}
		features.Append(f)
		return false
	})
	if ferr != nil {
		return nil, ferr
	}

	coverage := 0.0
	if requested > 0 {
		coverage = float64(found) / float64(requested)
	}
	log.Printf("heatmap: %d grid cells, coverage %.2f (%d/%d archives)",
		len(features.Features), coverage, found, requested)
	return &Result{Features: features, CoverageRatio: coverage}, nil
}
