package hexgrid

import (
	"context"
	"sort"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	h3 "github.com/uber/h3-go/v4"
)

type fakeAreas struct {
	areas []Area
}

func (f *fakeAreas) ReadAreas(_ context.Context, ids []int) ([]Area, error) {
	var out []Area
	for _, id := range ids {
		for _, a := range f.areas {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// squareAround returns a small lon/lat square centered on (lat, lng).
func squareAround(lat, lng, d float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lng - d, lat - d}, {lng + d, lat - d},
		{lng + d, lat + d}, {lng - d, lat + d},
		{lng - d, lat - d},
	}}
}

func testAreas() *fakeAreas {
	return &fakeAreas{areas: []Area{{ID: 1, Geom: squareAround(48.137, 11.575, 0.01)}}}
}

func TestPlanInvalidResolution(t *testing.T) {
	_, err := Plan(context.Background(), testAreas(), []int{1}, Opts{BulkRes: 8, CalcRes: 8})
	expect.EQ(t, err, ErrInvalidResolution)
}

func TestPlanUnsupportedGeometry(t *testing.T) {
	src := &fakeAreas{areas: []Area{{ID: 1, Geom: orb.Point{11.575, 48.137}}}}
	_, err := Plan(context.Background(), src, []int{1}, Opts{BulkRes: 8, CalcRes: 9, BufferM: 100, RasterRes: 12})
	expect.EQ(t, errors.Cause(err), ErrUnsupportedGeometry)
}

func TestPlan(t *testing.T) {
	opts := Opts{BulkRes: 8, CalcRes: 10, BufferM: 500, RasterRes: 12}
	plan, err := Plan(context.Background(), testAreas(), []int{1}, opts)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Bulks())

	// The cell containing the area center is part of the cover.
	center, err := h3.LatLngToCell(h3.LatLng{Lat: 48.137, Lng: 11.575}, opts.BulkRes)
	require.NoError(t, err)
	expect.True(t, plan.Entries[center] != nil, "center bulk missing from plan")

	// Bulks and children are in canonical sorted order.
	bulks := plan.Bulks()
	expect.True(t, sort.SliceIsSorted(bulks, func(i, j int) bool {
		return bulks[i].String() < bulks[j].String()
	}))

	for _, bulk := range bulks {
		entry := plan.Entries[bulk]
		expect.EQ(t, len(entry.Lons), len(entry.Children))
		expect.EQ(t, len(entry.Lats), len(entry.Children))
		expect.EQ(t, len(entry.Extents), len(entry.Children))
		expect.True(t, sort.SliceIsSorted(entry.Children, func(i, j int) bool {
			return entry.Children[i].String() < entry.Children[j].String()
		}))
		for i, child := range entry.Children {
			// Closure under H3 parent.
			parent, err := child.Parent(opts.BulkRes)
			require.NoError(t, err)
			expect.EQ(t, parent, bulk)
			// Each extent contains its own centroid pixel.
			cx := int32(LatToPixel(entry.Lats[i], opts.RasterRes))
			cy := int32(LngToPixel(entry.Lons[i], opts.RasterRes))
			expect.True(t, entry.Extents[i].Contains(cx, cy))
		}
	}
}

func TestCoverDeterminism(t *testing.T) {
	a, err := Cover(context.Background(), testAreas(), []int{1}, 8, 500)
	require.NoError(t, err)
	b, err := Cover(context.Background(), testAreas(), []int{1}, 8, 500)
	require.NoError(t, err)
	expect.EQ(t, a, b)
}

func TestCellPolygon(t *testing.T) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: 48.137, Lng: 11.575}, 8)
	require.NoError(t, err)
	poly, err := CellPolygon(cell)
	require.NoError(t, err)
	require.Len(t, poly, 1)
	ring := poly[0]
	// Closed hexagon ring.
	expect.EQ(t, ring[0], ring[len(ring)-1])
	expect.True(t, len(ring) >= 7)
}
