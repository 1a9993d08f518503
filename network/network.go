// Package network defines the boundary to the routing-network
// database. The pipeline only consumes the EdgeList shape and the
// artificial-start snap protocol; the network schema itself lives
// behind the Provider interface.
package network

import (
	"context"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

var (
	// ErrRegionEmpty is returned when a bounding region contains no
	// network edges. Callers skip the bulk cell.
	ErrRegionEmpty = errors.New("network: no edges in region")
	// ErrSnapTimeout is returned when snapping starting coordinates
	// times out in the database. Callers skip the bulk cell.
	ErrSnapTimeout = errors.New("network: snap timed out")
)

// MaxArtificialID is the top of the reserved artificial node id range.
// When k coordinates are snapped, the database assigns ids from
// [MaxArtificialID-k+1, MaxArtificialID], omitting ids for coordinates
// it could not snap.
const MaxArtificialID = math.MaxInt32

// Edge is one directed network edge. Cost and ReverseCost are traversal
// times in seconds; a negative ReverseCost marks a one-way edge. Geom
// is the edge geometry in lon/lat and may be empty, in which case the
// segment between the endpoint coordinates stands in.
type Edge struct {
	ID          int32
	Source      int32
	Target      int32
	Cost        float64
	ReverseCost float64
	LengthM     float64
	Geom        orb.LineString
}

// EdgeList is a directed multigraph fetched for a bounding region.
// NodeCoords has an entry for every node referenced by Edges,
// artificial start nodes included.
type EdgeList struct {
	Edges      []Edge
	NodeCoords map[int32]orb.Point
}

// SnapRequest asks the provider to inject one artificial node per
// starting coordinate into the routing network.
type SnapRequest struct {
	Lons, Lats []float64
	// MaxSeconds is the travel-time budget in seconds.
	MaxSeconds float64
	// SpeedMS is the travel speed in meters per second.
	SpeedMS float64
	Scenario string
	// Profile is the composed routing profile, e.g. "walking_standard".
	Profile string
}

// NetworkRequest bounds the edge fetch. Bound is in lon/lat; the
// provider adds its own safety margin.
type NetworkRequest struct {
	Bound    orb.Bound
	Mode     string
	Profile  string
	Scenario string
}

// Provider is the routing-database collaborator.
type Provider interface {
	// SnapArtificial returns the artificial node ids of the
	// successfully snapped coordinates, in ascending order.
	// Unsnappable coordinates are simply absent from the result.
	SnapArtificial(ctx context.Context, req SnapRequest) ([]int32, error)
	// ReadNetwork returns the edges covering the request bound.
	ReadNetwork(ctx context.Context, req NetworkRequest) (*EdgeList, error)
}

// Start pairs a snapped artificial node with the index of the input
// coordinate it belongs to.
type Start struct {
	NodeID int32
	Index  int
}

// SurvivingStarts decodes a snap result against the reserved id range
// for k requested coordinates. The id protocol smuggles the input index
// through the id itself: index i maps to id MaxArtificialID-k+1+i.
// Nothing outside this function relies on the range trick.
func SurvivingStarts(snapped []int32, k int) []Start {
	ids := append([]int32(nil), snapped...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	first := int32(MaxArtificialID - k + 1)
	starts := make([]Start, 0, len(ids))
	for _, id := range ids {
		if id < first {
			continue
		}
		starts = append(starts, Start{NodeID: id, Index: int(id - first)})
	}
	return starts
}

// RoutingProfile composes the provider-side profile string from a mode
// and a profile name.
func RoutingProfile(mode, profile string) string { return mode + "_" + profile }
