// Package opportunity intersects POIs with pre-computed traveltime
// archives. For every bulk cell it looks up, per POI, the travel time
// from each origin whose pixel window contains the POI, and writes one
// opportunity archive per POI category.
package opportunity

import (
	"context"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
)

// Poi is one point of interest. X and Y are its global pixel
// coordinates at the raster resolution: x the latitude-derived row, y
// the longitude-derived column, matching the traveltime windows.
type Poi struct {
	UID      string
	Category string
	Name     string
	X        int32
	Y        int32
}

// PoiSource fetches POIs intersecting a polygon, with pixel coordinates
// computed at the given raster resolution. A nil category filter means
// all categories.
type PoiSource interface {
	ReadPoisInPolygon(ctx context.Context, polygon orb.Polygon, resolution int, categories []string) ([]Poi, error)
}

// poiReadParallelism bounds the concurrent POI queries issued before
// the per-bulk build stage.
const poiReadParallelism = 8

// Builder writes opportunity archives under CacheRoot.
type Builder struct {
	Pois      PoiSource
	CacheRoot string
}

// Build intersects every bulk cell of the plan with its POIs. POI
// queries for all bulks are issued concurrently and joined; archives
// are then built bulk by bulk. A bulk without a traveltime archive
// yields no opportunities. Returns the number of archives written.
func (b *Builder) Build(ctx context.Context, plan *hexgrid.BulkPlan, mode, profile string) (int, error) {
	bulks := plan.Bulks()
	pois := make([][]Poi, len(bulks))
	parallelism := poiReadParallelism
	if parallelism > len(bulks) {
		parallelism = len(bulks)
	}
	if parallelism > 0 {
		err := traverse.Each(parallelism, func(jobIdx int) error {
			for i := jobIdx; i < len(bulks); i += parallelism {
				polygon, err := hexgrid.CellPolygon(bulks[i])
				if err != nil {
					return err
				}
				p, err := b.Pois.ReadPoisInPolygon(ctx, polygon, plan.Opts.RasterRes, nil)
				if err != nil {
					return errors.Wrapf(err, "opportunity: read pois for %s", bulks[i])
				}
				pois[i] = p
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	written := 0
	for i, bulk := range bulks {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := b.buildBulk(ctx, bulk, pois[i], mode, profile)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// buildBulk builds and writes all category archives of one bulk cell.
func (b *Builder) buildBulk(ctx context.Context, bulk h3.Cell, pois []Poi, mode, profile string) (int, error) {
	if len(pois) == 0 {
		return 0, nil
	}
	tt, err := matrix.ReadTraveltime(ctx, matrix.TraveltimePath(b.CacheRoot, mode, profile, bulk))
	if err != nil {
		log.Printf("opportunity: %s: no traveltime archive (%v), skipping", bulk, err)
		return 0, nil
	}

	byCategory := map[string]*matrix.Opportunity{}
	for _, poi := range pois {
		costs, origins := stab(tt, poi.X, poi.Y)
		if len(costs) == 0 {
			continue
		}
		o := byCategory[poi.Category]
		if o == nil {
			o = &matrix.Opportunity{Category: poi.Category}
			byCategory[poi.Category] = o
		}
		o.TravelTimes.Append(costs)
		o.GridIDs.Append(origins)
		o.UIDs = append(o.UIDs, poi.UID)
		o.Names = append(o.Names, poi.Name)
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		path := matrix.OpportunityPath(b.CacheRoot, mode, profile, bulk, category)
		if err := matrix.WriteOpportunity(ctx, path, byCategory[category]); err != nil {
			return 0, err
		}
	}
	log.Printf("opportunity: %s: %d pois, %d categories", bulk, len(pois), len(categories))
	return len(categories), nil
}

// stab returns the reachable (cost, origin) pairs of the origins whose
// window contains global pixel (x, y). Window borders are inclusive.
func stab(tt *matrix.Traveltime, x, y int32) ([]int32, []h3.Cell) {
	var costs []int32
	var origins []h3.Cell
	for s := 0; s < tt.Len(); s++ {
		south := tt.North[s] + tt.Height[s] - 1
		east := tt.West[s] + tt.Width[s] - 1
		if x < tt.North[s] || x > south || y < tt.West[s] || y > east {
			continue
		}
		cost := tt.TravelTimes.Row(s)[(x-tt.North[s])*tt.Width[s]+(y-tt.West[s])]
		if cost >= matrix.UnreachableCost {
			continue
		}
		costs = append(costs, cost)
		origins = append(origins, tt.GridIDs[s])
	}
	return costs, origins
}
