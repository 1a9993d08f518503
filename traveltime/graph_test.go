package traveltime

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/paulmach/orb"

	"github.com/cnarbaitzsarsur/goat/network"
)

func testEdgeList() *network.EdgeList {
	return &network.EdgeList{
		Edges: []network.Edge{
			{ID: 10, Source: 1, Target: 2, Cost: 10, ReverseCost: -1, LengthM: 15},
			{ID: 11, Source: 2, Target: 3, Cost: 5, ReverseCost: 7, LengthM: 8},
		},
		NodeCoords: map[int32]orb.Point{
			1: {11.570, 48.130},
			2: {11.571, 48.130},
			3: {11.572, 48.130},
		},
	}
}

func TestNewGraph(t *testing.T) {
	g := NewGraph(testEdgeList())
	expect.EQ(t, g.NumNodes(), 3)
	// One forward arc per non-negative cost, one reverse arc
	// materialized at the target.
	expect.EQ(t, len(g.edges), 3)

	d1, ok := g.Lookup(1)
	expect.True(t, ok)
	d2, _ := g.Lookup(2)
	d3, _ := g.Lookup(3)
	_, ok = g.Lookup(99)
	expect.False(t, ok)

	out := func(u int32) []outEdge { return g.edges[g.offsets[u]:g.offsets[u+1]] }
	expect.EQ(t, len(out(d1)), 1)
	expect.EQ(t, out(d1)[0].target, d2)
	expect.EQ(t, out(d1)[0].cost, 10.0)
	expect.False(t, out(d1)[0].reverse)

	expect.EQ(t, len(out(d2)), 1)
	expect.EQ(t, out(d2)[0].target, d3)

	// The one-way 1->2 contributes no reverse arc; 2->3 does.
	expect.EQ(t, len(out(d3)), 1)
	expect.EQ(t, out(d3)[0].target, d2)
	expect.EQ(t, out(d3)[0].cost, 7.0)
	expect.True(t, out(d3)[0].reverse)
}

func TestGraphGeometry(t *testing.T) {
	el := testEdgeList()
	el.Edges[1].Geom = orb.LineString{{11.571, 48.130}, {11.5715, 48.1302}, {11.572, 48.130}}
	g := NewGraph(el)

	d2, _ := g.Lookup(2)
	d3, _ := g.Lookup(3)

	// Without geometry the endpoint segment stands in.
	out1 := g.edges[g.offsets[g.idx[1]]]
	geom := g.geometry(&out1, g.idx[1])
	expect.EQ(t, len(geom), 2)
	expect.EQ(t, geom[0], el.NodeCoords[1])
	expect.EQ(t, geom[1], el.NodeCoords[2])

	// Forward arcs keep the stored direction.
	out2 := g.edges[g.offsets[d2]]
	expect.EQ(t, g.geometry(&out2, d2), el.Edges[1].Geom)

	// Reverse arcs traverse the geometry backwards.
	out3 := g.edges[g.offsets[d3]]
	rev := g.geometry(&out3, d3)
	expect.EQ(t, rev[0], el.Edges[1].Geom[2])
	expect.EQ(t, rev[2], el.Edges[1].Geom[0])
}

func TestGraphBound(t *testing.T) {
	g := NewGraph(testEdgeList())
	b := g.Bound()
	expect.EQ(t, b.Min, orb.Point{11.570, 48.130})
	expect.EQ(t, b.Max, orb.Point{11.572, 48.130})
}
