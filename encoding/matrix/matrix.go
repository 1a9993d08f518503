// Package matrix defines the persisted matrix archives of the
// accessibility pipeline and their on-disk codec. A traveltime archive
// stores, per surviving routing origin, the pixel window reached within
// the travel-time budget; an opportunity archive stores, per POI of one
// category, the travel times from every origin that reaches it.
package matrix

import (
	"math"

	"github.com/pkg/errors"
	h3 "github.com/uber/h3-go/v4"
)

// UnreachableCost marks a pixel no origin reached within the budget.
// It is load-bearing in both computation and storage; it never carries
// any other meaning.
const UnreachableCost int32 = math.MaxInt32

// ErrCorrupt is returned when companion fields of an archive disagree
// in shape.
var ErrCorrupt = errors.New("matrix: archive corrupt")

// RaggedInt32 is a ragged array of int32 rows stored as two flat
// arrays. Row i spans Values[Offsets[i]:Offsets[i+1]].
type RaggedInt32 struct {
	Offsets []uint32
	Values  []int32
}

// Len returns the number of rows.
func (r *RaggedInt32) Len() int {
	if len(r.Offsets) == 0 {
		return 0
	}
	return len(r.Offsets) - 1
}

// Row returns row i. The returned slice aliases the backing array.
func (r *RaggedInt32) Row(i int) []int32 {
	return r.Values[r.Offsets[i]:r.Offsets[i+1]]
}

// Append adds one row.
func (r *RaggedInt32) Append(row []int32) {
	if len(r.Offsets) == 0 {
		r.Offsets = append(r.Offsets, 0)
	}
	r.Values = append(r.Values, row...)
	r.Offsets = append(r.Offsets, uint32(len(r.Values)))
}

// RaggedCells is a ragged array of H3 cell rows, layout as RaggedInt32.
type RaggedCells struct {
	Offsets []uint32
	Values  []h3.Cell
}

// Len returns the number of rows.
func (r *RaggedCells) Len() int {
	if len(r.Offsets) == 0 {
		return 0
	}
	return len(r.Offsets) - 1
}

// Row returns row i. The returned slice aliases the backing array.
func (r *RaggedCells) Row(i int) []h3.Cell {
	return r.Values[r.Offsets[i]:r.Offsets[i+1]]
}

// Append adds one row.
func (r *RaggedCells) Append(row []h3.Cell) {
	if len(r.Offsets) == 0 {
		r.Offsets = append(r.Offsets, 0)
	}
	r.Values = append(r.Values, row...)
	r.Offsets = append(r.Offsets, uint32(len(r.Values)))
}

// Traveltime is the per-bulk travel-time archive. All fields are
// parallel, indexed by surviving origin. TravelTimes row s is the flat
// Height[s] x Width[s] pixel buffer of origin s in row-major order: the
// cost at local (dy, dx) sits at dy*Width[s]+dx and belongs to global
// pixel (North[s]+dy, West[s]+dx).
type Traveltime struct {
	GridIDs []h3.Cell
	North   []int32
	West    []int32
	Height  []int32
	Width   []int32

	TravelTimes RaggedInt32
}

// Len returns the number of surviving origins.
func (t *Traveltime) Len() int { return len(t.GridIDs) }

// Validate checks the companion-field shape invariants.
func (t *Traveltime) Validate() error {
	n := len(t.GridIDs)
	if len(t.North) != n || len(t.West) != n || len(t.Height) != n || len(t.Width) != n || t.TravelTimes.Len() != n {
		return errors.Wrap(ErrCorrupt, "traveltime companion lengths differ")
	}
	for s := 0; s < n; s++ {
		if int32(len(t.TravelTimes.Row(s))) != t.Height[s]*t.Width[s] {
			return errors.Wrapf(ErrCorrupt, "origin %s: %d travel times for %dx%d window",
				t.GridIDs[s], len(t.TravelTimes.Row(s)), t.Height[s], t.Width[s])
		}
	}
	return nil
}

// Opportunity is the per-(bulk, category) archive. All fields are
// parallel, indexed by POI. TravelTimes row i holds only reachable
// costs (< UnreachableCost); GridIDs row i names the origin of each.
type Opportunity struct {
	Category string

	TravelTimes RaggedInt32
	GridIDs     RaggedCells
	UIDs        []string
	Names       []string
}

// Len returns the number of POIs.
func (o *Opportunity) Len() int { return len(o.UIDs) }

// Validate checks the companion-field shape invariants.
func (o *Opportunity) Validate() error {
	n := len(o.UIDs)
	if len(o.Names) != n || o.TravelTimes.Len() != n || o.GridIDs.Len() != n {
		return errors.Wrap(ErrCorrupt, "opportunity companion lengths differ")
	}
	for i := 0; i < n; i++ {
		if len(o.TravelTimes.Row(i)) != len(o.GridIDs.Row(i)) {
			return errors.Wrapf(ErrCorrupt, "poi %s: %d travel times, %d grid ids",
				o.UIDs[i], len(o.TravelTimes.Row(i)), len(o.GridIDs.Row(i)))
		}
		for _, tt := range o.TravelTimes.Row(i) {
			if tt >= UnreachableCost {
				return errors.Wrapf(ErrCorrupt, "poi %s: unreachable cost stored", o.UIDs[i])
			}
		}
	}
	return nil
}
