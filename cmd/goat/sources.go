package main

// File-backed implementations of the pipeline's collaborator
// interfaces, for running the pipeline without the GIS database: study
// areas from a GeoJSON feature collection, POIs and the routing
// network from tab-separated dumps.

import (
	"bufio"
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"

	"github.com/cnarbaitzsarsur/goat/hexgrid"
	"github.com/cnarbaitzsarsur/goat/network"
	"github.com/cnarbaitzsarsur/goat/opportunity"
)

// geojsonAreas serves study areas from a GeoJSON file whose features
// carry a numeric "id" property.
type geojsonAreas struct {
	areas map[int]hexgrid.Area
}

func newGeojsonAreas(ctx context.Context, path string) (*geojsonAreas, error) {
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	src := &geojsonAreas{areas: map[int]hexgrid.Area{}}
	for _, f := range fc.Features {
		id, ok := f.Properties["id"].(float64)
		if !ok {
			continue
		}
		src.areas[int(id)] = hexgrid.Area{ID: int(id), Geom: f.Geometry}
	}
	return src, nil
}

func (s *geojsonAreas) ReadAreas(_ context.Context, ids []int) ([]hexgrid.Area, error) {
	var out []hexgrid.Area
	for _, id := range ids {
		if a, ok := s.areas[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// tsvPois serves POIs from a tab-separated file with columns
// uid, category, name, lon, lat. Pixel coordinates are derived at the
// requested raster resolution.
type tsvPois struct {
	uids, categories, names []string
	points                  []orb.Point
}

func newTSVPois(ctx context.Context, path string) (*tsvPois, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	src := &tsvPois{}
	sc := bufio.NewScanner(in.Reader(ctx))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Split(text, "\t")
		if len(cols) != 5 {
			return nil, errors.Errorf("%s:%d: want 5 columns, got %d", path, line, len(cols))
		}
		lon, err := strconv.ParseFloat(cols[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		lat, err := strconv.ParseFloat(cols[4], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		src.uids = append(src.uids, cols[0])
		src.categories = append(src.categories, cols[1])
		src.names = append(src.names, cols[2])
		src.points = append(src.points, orb.Point{lon, lat})
	}
	return src, sc.Err()
}

func (s *tsvPois) ReadPoisInPolygon(_ context.Context, polygon orb.Polygon, resolution int, categories []string) ([]opportunity.Poi, error) {
	var filter map[string]bool
	if len(categories) > 0 {
		filter = map[string]bool{}
		for _, c := range categories {
			filter[c] = true
		}
	}
	var out []opportunity.Poi
	for i, pt := range s.points {
		if filter != nil && !filter[s.categories[i]] {
			continue
		}
		if !planar.PolygonContains(polygon, pt) {
			continue
		}
		out = append(out, opportunity.Poi{
			UID:      s.uids[i],
			Category: s.categories[i],
			Name:     s.names[i],
			X:        int32(math.Floor(hexgrid.LatToPixel(pt.Y(), resolution))),
			Y:        int32(math.Floor(hexgrid.LngToPixel(pt.X(), resolution))),
		})
	}
	return out, nil
}

// fileNetwork serves the routing graph from an in-memory edge list and
// emulates the database's artificial-node snap: each starting
// coordinate within snapMaxDistM of a network node gets an artificial
// node in the reserved id range, joined to its nearest node by a
// connector edge costed at the straight-line distance travelled at the
// requested speed.
type fileNetwork struct {
	edges       []network.Edge
	coords      map[int32]orb.Point
	snapMaxDist float64

	// connectors of the last snap, keyed by artificial id.
	pending map[int32]connector
}

type connector struct {
	node    int32
	point   orb.Point
	costSec float64
	distM   float64
}

// newFileNetwork reads a tab-separated edge dump with columns
// id, source, target, cost, reverse_cost, length_m and an optional WKT
// LINESTRING geometry. Node coordinates come from the geometry
// endpoints.
func newFileNetwork(ctx context.Context, path string, snapMaxDistM float64) (*fileNetwork, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	n := &fileNetwork{coords: map[int32]orb.Point{}, snapMaxDist: snapMaxDistM}
	sc := bufio.NewScanner(in.Reader(ctx))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Split(text, "\t")
		if len(cols) < 6 {
			return nil, errors.Errorf("%s:%d: want at least 6 columns, got %d", path, line, len(cols))
		}
		var ints [3]int64
		for i := 0; i < 3; i++ {
			if ints[i], err = strconv.ParseInt(cols[i], 10, 32); err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, line)
			}
		}
		var floats [3]float64
		for i := 0; i < 3; i++ {
			if floats[i], err = strconv.ParseFloat(cols[3+i], 64); err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, line)
			}
		}
		e := network.Edge{
			ID:          int32(ints[0]),
			Source:      int32(ints[1]),
			Target:      int32(ints[2]),
			Cost:        floats[0],
			ReverseCost: floats[1],
			LengthM:     floats[2],
		}
		if len(cols) > 6 && cols[6] != "" {
			g, err := wkt.Unmarshal(cols[6])
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, line)
			}
			ls, ok := g.(orb.LineString)
			if !ok || len(ls) < 2 {
				return nil, errors.Errorf("%s:%d: geometry is not a linestring", path, line)
			}
			e.Geom = ls
			n.coords[e.Source] = ls[0]
			n.coords[e.Target] = ls[len(ls)-1]
		}
		n.edges = append(n.edges, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *fileNetwork) SnapArtificial(_ context.Context, req network.SnapRequest) ([]int32, error) {
	k := len(req.Lons)
	n.pending = map[int32]connector{}
	var ids []int32
	for i := 0; i < k; i++ {
		pt := orb.Point{req.Lons[i], req.Lats[i]}
		node, dist := n.nearestNode(pt)
		if dist > n.snapMaxDist {
			continue
		}
		id := int32(network.MaxArtificialID - k + 1 + i)
		n.pending[id] = connector{node: node, point: pt, costSec: dist / req.SpeedMS, distM: dist}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (n *fileNetwork) ReadNetwork(_ context.Context, req network.NetworkRequest) (*network.EdgeList, error) {
	// Half a degree of safety margin around the requested bound.
	bound := orb.Bound{
		Min: orb.Point{req.Bound.Min.X() - 0.5, req.Bound.Min.Y() - 0.5},
		Max: orb.Point{req.Bound.Max.X() + 0.5, req.Bound.Max.Y() + 0.5},
	}
	out := &network.EdgeList{NodeCoords: map[int32]orb.Point{}}
	for _, e := range n.edges {
		if !bound.Contains(n.coords[e.Source]) && !bound.Contains(n.coords[e.Target]) {
			continue
		}
		out.Edges = append(out.Edges, e)
		out.NodeCoords[e.Source] = n.coords[e.Source]
		out.NodeCoords[e.Target] = n.coords[e.Target]
	}
	nextID := int32(-1)
	for id, c := range n.pending {
		out.Edges = append(out.Edges, network.Edge{
			ID:          nextID,
			Source:      id,
			Target:      c.node,
			Cost:        c.costSec,
			ReverseCost: c.costSec,
			LengthM:     c.distM,
		})
		nextID--
		out.NodeCoords[id] = c.point
		out.NodeCoords[c.node] = n.coords[c.node]
	}
	if len(out.Edges) == 0 {
		return nil, network.ErrRegionEmpty
	}
	return out, nil
}

func (n *fileNetwork) nearestNode(pt orb.Point) (int32, float64) {
	best := int32(-1)
	bestDist := math.Inf(1)
	for id, c := range n.coords {
		d := geo.Distance(pt, c)
		if d < bestDist || (d == bestDist && id < best) {
			best = id
			bestDist = d
		}
	}
	return best, bestDist
}
