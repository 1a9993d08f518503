package traveltime

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/cnarbaitzsarsur/goat/encoding/matrix"
	"github.com/cnarbaitzsarsur/goat/hexgrid"
)

// window is one origin's pixel buffer, row-major over its extent and
// initialized to the unreachable sentinel. Each expansion worker owns
// its windows exclusively.
type window struct {
	ext hexgrid.PixelExtent
	buf []int32
	res int
}

func newWindow(ext hexgrid.PixelExtent, rasterRes int) *window {
	buf := make([]int32, int(ext.Height)*int(ext.Width))
	for i := range buf {
		buf[i] = matrix.UnreachableCost
	}
	return &window{ext: ext, buf: buf, res: rasterRes}
}

// paint records cost at global pixel (x, y), keeping the minimum.
// Writes outside the window are clipped.
func (w *window) paint(x, y int32, cost int32) {
	if !w.ext.Contains(x, y) {
		return
	}
	i := (x-w.ext.North)*w.ext.Width + (y - w.ext.West)
	if cost < w.buf[i] {
		w.buf[i] = cost
	}
}

// paintPoint paints the pixel containing a lon/lat point.
func (w *window) paintPoint(pt orb.Point, costSec float64) {
	x := int32(math.Floor(hexgrid.LatToPixel(pt.Y(), w.res)))
	y := int32(math.Floor(hexgrid.LngToPixel(pt.X(), w.res)))
	w.paint(x, y, int32(math.Round(costSec)))
}

// paintEdge interpolates travel time along geom in proportion to arc
// length and paints every covered pixel. startCost is the accumulated
// cost at geom's first vertex, edgeCost the full traversal cost, and
// budget the expansion cutoff; interpolation stops where the cost would
// exceed the budget.
func (w *window) paintEdge(geom orb.LineString, startCost, edgeCost, budget float64) {
	total := 0.0
	for i := 1; i < len(geom); i++ {
		total += pixelDist(geom[i-1], geom[i], w.res)
	}
	if total == 0 {
		w.paintPoint(geom[0], startCost)
		return
	}
	walked := 0.0
	for i := 1; i < len(geom); i++ {
		p0, p1 := geom[i-1], geom[i]
		segPx := pixelDist(p0, p1, w.res)
		// Two samples per pixel traversed keeps every covered pixel
		// painted without oversampling short segments.
		steps := int(math.Ceil(segPx))*2 + 1
		for s := 0; s <= steps; s++ {
			f := float64(s) / float64(steps)
			frac := (walked + f*segPx) / total
			cost := startCost + frac*edgeCost
			if cost > budget {
				return
			}
			pt := orb.Point{p0.X() + f*(p1.X()-p0.X()), p0.Y() + f*(p1.Y()-p0.Y())}
			w.paintPoint(pt, cost)
		}
		walked += segPx
	}
}

func pixelDist(p0, p1 orb.Point, res int) float64 {
	dx := hexgrid.LatToPixel(p1.Y(), res) - hexgrid.LatToPixel(p0.Y(), res)
	dy := hexgrid.LngToPixel(p1.X(), res) - hexgrid.LngToPixel(p0.X(), res)
	return math.Hypot(dx, dy)
}

// heapEntry and minHeap implement the Dijkstra priority queue with lazy
// deletion: stale entries are skipped when popped.
type heapEntry struct {
	node int32
	dist float64
}

type minHeap []heapEntry

func (h *minHeap) push(e heapEntry) {
	*h = append(*h, e)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[parent].dist <= (*h)[i].dist {
			break
		}
		(*h)[parent], (*h)[i] = (*h)[i], (*h)[parent]
		i = parent
	}
}

func (h *minHeap) pop() heapEntry {
	top := (*h)[0]
	last := len(*h) - 1
	(*h)[0] = (*h)[last]
	*h = (*h)[:last]
	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < last && (*h)[l].dist < (*h)[smallest].dist {
			smallest = l
		}
		if r < last && (*h)[r].dist < (*h)[smallest].dist {
			smallest = r
		}
		if smallest == i {
			break
		}
		(*h)[i], (*h)[smallest] = (*h)[smallest], (*h)[i]
		i = smallest
	}
	return top
}

// expand runs a monotone shortest-path expansion from the dense start
// node, bounded by budget seconds, painting every relaxed edge into w.
// dist is scratch of len NumNodes, reset to +Inf by the caller between
// runs.
func (g *Graph) expand(start int32, budget float64, w *window, dist []float64) {
	dist[start] = 0
	h := make(minHeap, 0, 256)
	h.push(heapEntry{node: start, dist: 0})
	for len(h) > 0 {
		e := h.pop()
		if e.dist > dist[e.node] {
			continue
		}
		w.paintPoint(g.coords[e.node], e.dist)
		for i := g.offsets[e.node]; i < g.offsets[e.node+1]; i++ {
			oe := &g.edges[i]
			w.paintEdge(g.geometry(oe, e.node), e.dist, oe.cost, budget)
			nd := e.dist + oe.cost
			if nd > budget {
				continue
			}
			if nd < dist[oe.target] {
				dist[oe.target] = nd
				h.push(heapEntry{node: oe.target, dist: nd})
			}
		}
	}
}
