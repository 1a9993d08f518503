package main

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/cnarbaitzsarsur/goat/network"
)

func TestGeojsonAreas(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(tempDir, "areas.geojson")
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"id":83110000},
		 "geometry":{"type":"Polygon","coordinates":[[[11.56,48.12],[11.60,48.12],[11.60,48.15],[11.56,48.15],[11.56,48.12]]]}}]}`
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	src, err := newGeojsonAreas(ctx, path)
	require.NoError(t, err)
	areas, err := src.ReadAreas(ctx, []int{83110000})
	require.NoError(t, err)
	require.Len(t, areas, 1)
	expect.EQ(t, areas[0].ID, 83110000)
	_, ok := areas[0].Geom.(orb.Polygon)
	expect.True(t, ok)

	areas, err = src.ReadAreas(ctx, []int{999})
	require.NoError(t, err)
	expect.EQ(t, len(areas), 0)
}

func TestTSVPois(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(tempDir, "pois.tsv")
	data := "# uid\tcategory\tname\tlon\tlat\n" +
		"p1\tnursery\tNorth\t11.575\t48.137\n" +
		"p2\tcafe\tCafe\t11.999\t48.999\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	src, err := newTSVPois(ctx, path)
	require.NoError(t, err)
	square := orb.Polygon{orb.Ring{
		{11.57, 48.13}, {11.58, 48.13}, {11.58, 48.14}, {11.57, 48.14}, {11.57, 48.13},
	}}
	pois, err := src.ReadPoisInPolygon(ctx, square, 12, nil)
	require.NoError(t, err)
	require.Len(t, pois, 1)
	expect.EQ(t, pois[0].UID, "p1")
	expect.True(t, pois[0].X > 0 && pois[0].Y > 0)

	// Category filters apply before the polygon test.
	pois, err = src.ReadPoisInPolygon(ctx, square, 12, []string{"cafe"})
	require.NoError(t, err)
	expect.EQ(t, len(pois), 0)
}

func TestFileNetwork(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	path := filepath.Join(tempDir, "edges.tsv")
	data := "1\t100\t101\t72\t72\t100\tLINESTRING(11.5750 48.1370, 11.5764 48.1370)\n" +
		"2\t101\t102\t36\t-1\t50\tLINESTRING(11.5764 48.1370, 11.5771 48.1370)\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	netw, err := newFileNetwork(ctx, path, 300)
	require.NoError(t, err)

	ids, err := netw.SnapArtificial(ctx, network.SnapRequest{
		Lons:    []float64{11.5751, 99},
		Lats:    []float64{48.1371, 0},
		SpeedMS: 1.39,
	})
	require.NoError(t, err)
	// The second coordinate is nowhere near the network.
	starts := network.SurvivingStarts(ids, 2)
	require.Len(t, starts, 1)
	expect.EQ(t, starts[0].Index, 0)

	el, err := netw.ReadNetwork(ctx, network.NetworkRequest{
		Bound: orb.Bound{Min: orb.Point{11.57, 48.13}, Max: orb.Point{11.58, 48.14}},
	})
	require.NoError(t, err)
	// Both dump edges plus the artificial connector.
	expect.EQ(t, len(el.Edges), 3)
	_, ok := el.NodeCoords[starts[0].NodeID]
	expect.True(t, ok)
}
