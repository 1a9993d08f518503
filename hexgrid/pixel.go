package hexgrid

import (
	"math"
)

// The raster coordinate system is a square Web-Mercator pixel grid with
// 256*2^resolution pixels along each world axis.
//
// Axis convention (load-bearing, do not flip): x is the row axis and is
// derived from latitude, with row 0 at the northern edge of the
// projection; y is the column axis and is derived from longitude, with
// column 0 at the antimeridian. Travel-time archives store pixel windows
// in this convention, so any change here invalidates every archive on
// disk.

// mercatorWorldM is the width of the Web-Mercator plane in projected
// meters (2*pi*R for the WGS84 spherical radius).
const mercatorWorldM = 40075016.685578488

// worldPixels returns the number of pixels along one world axis at the
// given raster resolution.
func worldPixels(resolution int) float64 {
	return 256 * math.Exp2(float64(resolution))
}

// PixelsPerMeter converts projected Mercator meters to pixel units at
// the given raster resolution.
func PixelsPerMeter(resolution int) float64 {
	return worldPixels(resolution) / mercatorWorldM
}

// LatToPixel returns the fractional row coordinate of a latitude.
func LatToPixel(lat float64, resolution int) float64 {
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * worldPixels(resolution)
}

// LngToPixel returns the fractional column coordinate of a longitude.
func LngToPixel(lng float64, resolution int) float64 {
	return (lng + 180) / 360 * worldPixels(resolution)
}

// PixelToLat inverts LatToPixel: it returns the latitude at the
// fractional row coordinate x (an integer x is the row's northern edge).
func PixelToLat(x float64, resolution int) float64 {
	n := math.Pi - 2*math.Pi*x/worldPixels(resolution)
	return 180 / math.Pi * math.Atan(0.5*(math.Exp(n)-math.Exp(-n)))
}

// PixelToLng inverts LngToPixel: it returns the longitude at the
// fractional column coordinate y (an integer y is the column's western
// edge).
func PixelToLng(y float64, resolution int) float64 {
	return y/worldPixels(resolution)*360 - 180
}

// PixelExtent is a rectangular pixel window. North is the smallest row,
// West the smallest column; the window covers rows
// [North, North+Height) and columns [West, West+Width).
type PixelExtent struct {
	North  int32
	West   int32
	Height int32
	Width  int32
}

// Contains reports whether global pixel (x, y) lies inside the window.
// Pixels exactly on the south or east border are inside.
func (e PixelExtent) Contains(x, y int32) bool {
	return x >= e.North && x < e.North+e.Height && y >= e.West && y < e.West+e.Width
}

// ExtentAround returns the pixel window of the square with half-side
// halfSideM projected Mercator meters centered on (lat, lng). The
// square's full side is 2*halfSideM, matching the buffer*sqrt(2)
// half-side the planner derives from the travel-time budget.
func ExtentAround(lat, lng, halfSideM float64, resolution int) PixelExtent {
	cx := LatToPixel(lat, resolution)
	cy := LngToPixel(lng, resolution)
	halfPx := halfSideM * PixelsPerMeter(resolution)
	north := int32(math.Floor(cx - halfPx))
	west := int32(math.Floor(cy - halfPx))
	south := int32(math.Ceil(cx + halfPx))
	east := int32(math.Ceil(cy + halfPx))
	return PixelExtent{
		North:  north,
		West:   west,
		Height: south - north + 1,
		Width:  east - west + 1,
	}
}
