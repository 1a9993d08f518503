// Package traveltime computes per-origin travel-time rasters over a
// routing network. For every surviving origin of a bulk cell it runs a
// budgeted shortest-path expansion and paints reached costs onto the
// origin's pixel window; the windows of all origins form the bulk's
// traveltime archive.
package traveltime

import (
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"github.com/cnarbaitzsarsur/goat/network"
)

// ErrNoStartsSurvived is returned when a bulk cell ends up with no
// usable origin. The caller skips the bulk and writes no archive.
var ErrNoStartsSurvived = errors.New("traveltime: no starts survived")

// outEdge is one directed CSR entry. target is a dense node index;
// cost is the traversal time in seconds. edgeRef points back into the
// source EdgeList for geometry lookup; reverse marks entries
// materialized from a reverse cost, whose geometry runs target to
// source.
type outEdge struct {
	target  int32
	cost    float64
	lengthM float64
	edgeRef int32
	reverse bool
}

// Graph is the immutable adjacency structure shared read-only by all
// expansion workers of a bulk cell.
type Graph struct {
	edgeList *network.EdgeList

	// sparse node id -> dense index
	idx map[int32]int32
	// dense index -> original id and coordinate
	ids    []int32
	coords []orb.Point

	// CSR out-edges: edges[offsets[u]:offsets[u+1]] leave dense node u.
	offsets []int32
	edges   []outEdge
}

// NewGraph builds the dense adjacency structure from an edge list.
// Reverse-cost edges are materialized as separate outgoing entries at
// the target node, which keeps the traversal a plain directed Dijkstra.
func NewGraph(el *network.EdgeList) *Graph {
	g := &Graph{edgeList: el, idx: make(map[int32]int32, 2*len(el.Edges))}
	dense := func(sparse int32) int32 {
		if d, ok := g.idx[sparse]; ok {
			return d
		}
		d := int32(len(g.ids))
		g.idx[sparse] = d
		g.ids = append(g.ids, sparse)
		g.coords = append(g.coords, el.NodeCoords[sparse])
		return d
	}

	type halfEdge struct {
		from, to int32
		cost     float64
		edgeRef  int32
		reverse  bool
	}
	halves := make([]halfEdge, 0, 2*len(el.Edges))
	for i := range el.Edges {
		e := &el.Edges[i]
		src, tgt := dense(e.Source), dense(e.Target)
		if e.Cost >= 0 {
			halves = append(halves, halfEdge{from: src, to: tgt, cost: e.Cost, edgeRef: int32(i)})
		}
		if e.ReverseCost >= 0 {
			halves = append(halves, halfEdge{from: tgt, to: src, cost: e.ReverseCost, edgeRef: int32(i), reverse: true})
		}
	}

	n := len(g.ids)
	g.offsets = make([]int32, n+1)
	for _, h := range halves {
		g.offsets[h.from+1]++
	}
	for u := 0; u < n; u++ {
		g.offsets[u+1] += g.offsets[u]
	}
	g.edges = make([]outEdge, len(halves))
	fill := append([]int32(nil), g.offsets[:n]...)
	for _, h := range halves {
		e := &el.Edges[h.edgeRef]
		g.edges[fill[h.from]] = outEdge{
			target:  h.to,
			cost:    h.cost,
			lengthM: e.LengthM,
			edgeRef: h.edgeRef,
			reverse: h.reverse,
		}
		fill[h.from]++
	}
	return g
}

// NumNodes returns the dense node count.
func (g *Graph) NumNodes() int { return len(g.ids) }

// Lookup translates a sparse node id to its dense index.
func (g *Graph) Lookup(sparse int32) (int32, bool) {
	d, ok := g.idx[sparse]
	return d, ok
}

// Bound returns the lon/lat bounding box over all graph nodes, used as
// a sanity reference against the origin windows.
func (g *Graph) Bound() orb.Bound {
	b := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	for _, pt := range g.coords {
		b = b.Extend(pt)
	}
	return b
}

// geometry returns the lon/lat polyline of a CSR entry in traversal
// direction, synthesizing the endpoint segment when the edge carries no
// geometry.
func (g *Graph) geometry(e *outEdge, from int32) orb.LineString {
	edge := &g.edgeList.Edges[e.edgeRef]
	geom := edge.Geom
	if len(geom) < 2 {
		geom = orb.LineString{g.coords[from], g.coords[e.target]}
		return geom
	}
	if e.reverse {
		rev := make(orb.LineString, len(geom))
		for i, pt := range geom {
			rev[len(geom)-1-i] = pt
		}
		return rev
	}
	return geom
}
