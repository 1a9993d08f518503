package opportunity

import (
	"context"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
)

type fakeAreas struct{ geom orb.Geometry }

func (f *fakeAreas) ReadAreas(_ context.Context, ids []int) ([]hexgrid.Area, error) {
	return []hexgrid.Area{{ID: 1, Geom: f.geom}}, nil
}

// fakePois returns the same POI set for every polygon query; bulks
// without a traveltime archive must ignore them anyway.
type fakePois struct{ pois []Poi }

func (f *fakePois) ReadPoisInPolygon(_ context.Context, _ orb.Polygon, _ int, _ []string) ([]Poi, error) {
	return f.pois, nil
}

func testPlan(t *testing.T) *hexgrid.BulkPlan {
	square := orb.Polygon{orb.Ring{
		{11.565, 48.127}, {11.585, 48.127}, {11.585, 48.147}, {11.565, 48.147}, {11.565, 48.127},
	}}
	plan, err := hexgrid.Plan(context.Background(), &fakeAreas{geom: square}, []int{1},
		hexgrid.Opts{BulkRes: 8, CalcRes: 10, BufferM: 100, RasterRes: 12})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Bulks())
	return plan
}

func TestBuild(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	plan := testPlan(t)
	bulk := plan.Bulks()[0]
	entry := plan.Entries[bulk]
	require.True(t, len(entry.Children) >= 2)
	child0, child1 := entry.Children[0], entry.Children[1]
	ext0, ext1 := entry.Extents[0], entry.Extents[1]

	// Archive with child0 reaching pixel p at 72s and child1 blind.
	px, py := ext0.North+1, ext0.West+1
	tt := &matrix.Traveltime{
		GridIDs: []h3.Cell{child0, child1},
		North:   []int32{ext0.North, ext1.North},
		West:    []int32{ext0.West, ext1.West},
		Height:  []int32{ext0.Height, ext1.Height},
		Width:   []int32{ext0.Width, ext1.Width},
	}
	row0 := make([]int32, int(ext0.Height)*int(ext0.Width))
	for i := range row0 {
		row0[i] = matrix.UnreachableCost
	}
	row0[(px-ext0.North)*ext0.Width+(py-ext0.West)] = 72
	row1 := make([]int32, int(ext1.Height)*int(ext1.Width))
	for i := range row1 {
		row1[i] = matrix.UnreachableCost
	}
	tt.TravelTimes.Append(row0)
	tt.TravelTimes.Append(row1)
	require.NoError(t, writeArchive(ctx, tempDir, "walking", "standard", bulk, tt))

	pois := &fakePois{pois: []Poi{
		{UID: "p1", Category: "nursery", Name: "North", X: px, Y: py},
		{UID: "p2", Category: "nursery", Name: "South", X: px, Y: py},
		// Reachable by nothing: not archived.
		{UID: "p3", Category: "nursery", Name: "Far", X: ext0.North - 1000, Y: ext0.West - 1000},
		{UID: "p4", Category: "cafe", Name: "Cafe", X: px, Y: py},
	}}
	builder := Builder{Pois: pois, CacheRoot: tempDir}
	written, err := builder.Build(ctx, plan, "walking", "standard")
	require.NoError(t, err)
	// One nursery and one cafe archive, for the only bulk that has a
	// traveltime archive.
	expect.EQ(t, written, 2)

	got, err := matrix.ReadOpportunity(ctx, matrix.OpportunityPath(tempDir, "walking", "standard", bulk, "nursery"))
	require.NoError(t, err)
	expect.EQ(t, got.UIDs, []string{"p1", "p2"})
	expect.EQ(t, got.TravelTimes.Row(0), []int32{72})
	expect.EQ(t, got.GridIDs.Row(0), []h3.Cell{child0})
	expect.EQ(t, got.TravelTimes.Row(1), []int32{72})

	cafe, err := matrix.ReadOpportunity(ctx, matrix.OpportunityPath(tempDir, "walking", "standard", bulk, "cafe"))
	require.NoError(t, err)
	expect.EQ(t, cafe.UIDs, []string{"p4"})
}

func TestBuildNoArchives(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	plan := testPlan(t)
	builder := Builder{Pois: &fakePois{pois: []Poi{{UID: "p", Category: "nursery", X: 1, Y: 1}}}, CacheRoot: tempDir}
	written, err := builder.Build(context.Background(), plan, "walking", "standard")
	require.NoError(t, err)
	expect.EQ(t, written, 0)
}

// writeArchive publishes a traveltime archive the way the precompute
// stage does.
func writeArchive(ctx context.Context, root, mode, profile string, bulk h3.Cell, tt *matrix.Traveltime) error {
	return matrix.WriteTraveltime(ctx, matrix.TraveltimePath(root, mode, profile, bulk), tt)
}

func TestStabBorders(t *testing.T) {
	tt := &matrix.Traveltime{
		GridIDs: []h3.Cell{42},
		North:   []int32{10},
		West:    []int32{20},
		Height:  []int32{3},
		Width:   []int32{4},
	}
	row := make([]int32, 12)
	for i := range row {
		row[i] = int32(i)
	}
	tt.TravelTimes.Append(row)

	// South-east corner is inside the window.
	costs, origins := stab(tt, 12, 23)
	expect.EQ(t, costs, []int32{11})
	expect.EQ(t, origins, []h3.Cell{42})
	// One past either border is outside.
	costs, _ = stab(tt, 13, 23)
	expect.EQ(t, len(costs), 0)
	costs, _ = stab(tt, 12, 24)
	expect.EQ(t, len(costs), 0)
}
