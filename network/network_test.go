package network

import (
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestSurvivingStarts(t *testing.T) {
	const k = 5
	first := int32(MaxArtificialID - k + 1)
	// The database returns snapped ids unordered; index 1 and 3 did not
	// snap.
	snapped := []int32{MaxArtificialID, first, first + 2}
	starts := SurvivingStarts(snapped, k)
	expect.EQ(t, starts, []Start{
		{NodeID: first, Index: 0},
		{NodeID: first + 2, Index: 2},
		{NodeID: MaxArtificialID, Index: 4},
	})
}

func TestSurvivingStartsIgnoresForeignIDs(t *testing.T) {
	// Ids below the reserved range for k inputs are not starts.
	starts := SurvivingStarts([]int32{17, MaxArtificialID - 10, MaxArtificialID}, 3)
	expect.EQ(t, starts, []Start{{NodeID: MaxArtificialID, Index: 2}})
}

func TestSurvivingStartsEmpty(t *testing.T) {
	expect.EQ(t, len(SurvivingStarts(nil, 4)), 0)
}

func TestRoutingProfile(t *testing.T) {
	expect.EQ(t, RoutingProfile("walking", "standard"), "walking_standard")
}
