// Package hexgrid plans the hexagonal work units of the accessibility
// pipeline. A plan covers buffered study areas with coarse H3 bulk
// cells and enumerates, per bulk cell, the fine calculation cells whose
// centroids become routing origins, together with the raster window
// each origin may reach within the travel-time budget.
package hexgrid

import (
	"context"
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	h3 "github.com/uber/h3-go/v4"
)

var (
	// ErrInvalidResolution is returned when the calculation resolution
	// does not refine the bulk resolution.
	ErrInvalidResolution = errors.New("hexgrid: calculation resolution must be finer than bulk resolution")
	// ErrUnsupportedGeometry is returned when a study area is neither a
	// polygon nor a multipolygon.
	ErrUnsupportedGeometry = errors.New("hexgrid: study area geometry is not a polygon or multipolygon")
)

// avgEdgeLengthM is the average H3 hexagon edge length in meters per
// resolution, per the H3 reference tables.
var avgEdgeLengthM = [16]float64{
	1107712.591, 418676.0055, 158244.6558, 59810.85794,
	22606.3794, 8544.408276, 3229.482772, 1220.629759,
	461.354684, 174.375668, 65.907807, 24.910561,
	9.415526, 3.559893, 1.348575, 0.509713,
}

// EdgeLengthM returns the average hexagon edge length in meters at an
// H3 resolution.
func EdgeLengthM(resolution int) float64 { return avgEdgeLengthM[resolution] }

// Area is one study area with its geographic geometry. Geom must be an
// orb.Polygon or orb.MultiPolygon in lon/lat coordinates.
type Area struct {
	ID   int
	Geom orb.Geometry
}

// AreaSource fetches study-area geometries. Implementations typically
// wrap the GIS database; tests use in-memory fixtures.
type AreaSource interface {
	ReadAreas(ctx context.Context, ids []int) ([]Area, error)
}

// Opts configures a plan.
type Opts struct {
	// BulkRes is the H3 resolution of the bulk work units.
	BulkRes int
	// CalcRes is the H3 resolution of the calculation origins.
	// REQUIRES: CalcRes > BulkRes.
	CalcRes int
	// BufferM is the reachability buffer in projected meters, normally
	// speed * travel-time budget.
	BufferM float64
	// RasterRes is the Web-Mercator raster resolution for pixel
	// extents.
	RasterRes int
}

// BulkEntry describes one bulk cell: its calculation children in
// canonical id order and, parallel to Children, the child centroids and
// pixel windows.
type BulkEntry struct {
	Cell     h3.Cell
	Children []h3.Cell
	Lons     []float64
	Lats     []float64
	Extents  []PixelExtent
}

// BulkPlan is the output of Plan. Entries are keyed by bulk cell;
// Bulks() yields them in canonical order.
type BulkPlan struct {
	Opts    Opts
	Entries map[h3.Cell]*BulkEntry

	order []h3.Cell
}

// Bulks returns the bulk cells sorted lexicographically by their H3 id
// string, the processing and archive-naming order of the pipeline.
func (p *BulkPlan) Bulks() []h3.Cell { return p.order }

// Plan covers the study areas identified by ids with bulk cells and
// derives the per-child origin data. The covering set is the H3
// polygon fill of each study polygon expanded outward by
// ceil(buffer/edgeLength) grid rings, so every cell within
// BufferM + one bulk edge length of an area is included.
func Plan(ctx context.Context, src AreaSource, ids []int, opts Opts) (*BulkPlan, error) {
	if opts.CalcRes <= opts.BulkRes {
		return nil, ErrInvalidResolution
	}
	order, err := Cover(ctx, src, ids, opts.BulkRes, opts.BufferM)
	if err != nil {
		return nil, err
	}

	plan := &BulkPlan{Opts: opts, Entries: map[h3.Cell]*BulkEntry{}, order: order}
	halfSideM := opts.BufferM * math.Sqrt2
	nChildren := 0
	for _, bulk := range plan.order {
		children, err := bulk.Children(opts.CalcRes)
		if err != nil {
			return nil, errors.Wrapf(err, "hexgrid: children of %s", bulk)
		}
		sort.Slice(children, func(i, j int) bool {
			return children[i].String() < children[j].String()
		})
		entry := &BulkEntry{Cell: bulk}
		for _, child := range children {
			ll, err := child.LatLng()
			if err != nil {
				return nil, errors.Wrapf(err, "hexgrid: centroid of %s", child)
			}
			entry.Children = append(entry.Children, child)
			entry.Lats = append(entry.Lats, ll.Lat)
			entry.Lons = append(entry.Lons, ll.Lng)
			entry.Extents = append(entry.Extents, ExtentAround(ll.Lat, ll.Lng, halfSideM, opts.RasterRes))
		}
		plan.Entries[bulk] = entry
		nChildren += len(entry.Children)
	}
	log.Printf("hexgrid: planned %d bulk cells, %d calculation cells", len(plan.order), nChildren)
	return plan, nil
}

// Cover returns the bulk cells at resolution res covering the study
// areas identified by ids, buffered by bufferM plus one hexagon edge
// length, sorted lexicographically by id string. The buffer is applied
// as ceil(buffer/edgeLength) H3 grid rings around the polygon fill.
func Cover(ctx context.Context, src AreaSource, ids []int, res int, bufferM float64) ([]h3.Cell, error) {
	areas, err := src.ReadAreas(ctx, ids)
	if err != nil {
		return nil, err
	}
	rings := int(math.Ceil((bufferM + EdgeLengthM(res)) / EdgeLengthM(res)))
	seen := map[h3.Cell]bool{}
	for _, area := range areas {
		polygons, err := areaPolygons(area)
		if err != nil {
			return nil, err
		}
		for _, poly := range polygons {
			cells, err := h3.PolygonToCells(geoPolygon(poly), res)
			if err != nil {
				return nil, errors.Wrapf(err, "hexgrid: cover study area %d", area.ID)
			}
			// A polygon smaller than one hexagon may fill to nothing;
			// fall back to the cell of the first ring vertex so tiny
			// areas still get a work unit.
			if len(cells) == 0 && len(poly) > 0 && len(poly[0]) > 0 {
				pt := poly[0][0]
				c, err := h3.LatLngToCell(h3.LatLng{Lat: pt.Y(), Lng: pt.X()}, res)
				if err != nil {
					return nil, errors.Wrapf(err, "hexgrid: seed cell for study area %d", area.ID)
				}
				cells = []h3.Cell{c}
			}
			for _, c := range cells {
				disk, err := c.GridDisk(rings)
				if err != nil {
					return nil, errors.Wrapf(err, "hexgrid: expand cover of study area %d", area.ID)
				}
				for _, d := range disk {
					seen[d] = true
				}
			}
		}
	}
	order := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].String() < order[j].String()
	})
	return order, nil
}

// CellPolygon returns the hexagon boundary of cell as a closed
// lon/lat polygon.
func CellPolygon(cell h3.Cell) (orb.Polygon, error) {
	boundary, err := cell.Boundary()
	if err != nil {
		return nil, errors.Wrapf(err, "hexgrid: boundary of %s", cell)
	}
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

func areaPolygons(area Area) ([]orb.Polygon, error) {
	switch g := area.Geom.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}, nil
	case orb.MultiPolygon:
		return []orb.Polygon(g), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedGeometry, "study area %d (%T)", area.ID, area.Geom)
	}
}

func geoPolygon(poly orb.Polygon) h3.GeoPolygon {
	gp := h3.GeoPolygon{}
	for i, ring := range poly {
		loop := make(h3.GeoLoop, 0, len(ring))
		for _, pt := range ring {
			loop = append(loop, h3.LatLng{Lat: pt.Y(), Lng: pt.X()})
		}
		if i == 0 {
			gp.GeoLoop = loop
		} else {
			gp.Holes = append(gp.Holes, loop)
		}
	}
	return gp
}
