// Package grid maps geographic coordinates onto the numeric value grids that
// back each raster layer, and formats the values for display.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNoBounds is returned when a georeferencing record is too short to
// describe a bounding box.
var ErrNoBounds = errors.New("georeferencing does not describe a bounding box")

// LatLng is a geographic coordinate in degrees
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Georeferencing is the corner record published with every layer.
// Lat holds the four corner latitudes (bottom, bottom, top, top) and Lon the
// left and right longitudes (the server may repeat them for all four corners).
type Georeferencing struct {
	Lat []float64 `json:"lat"`
	Lon []float64 `json:"lon"`
}

// Bounds is the bounding box of a value grid.
type Bounds struct {
	LatBottom float64 `json:"latBottom"`
	LatTop    float64 `json:"latTop"`
	LonLeft   float64 `json:"lonLeft"`
	LonRight  float64 `json:"lonRight"`
}

// NewBounds derives the grid bounding box from a georeferencing record.
func NewBounds(g Georeferencing) (Bounds, error) {
	if len(g.Lat) < 4 || len(g.Lon) < 2 {
		return Bounds{}, fmt.Errorf("%w: %d lat and %d lon corners", ErrNoBounds, len(g.Lat), len(g.Lon))
	}
	return Bounds{
		LatBottom: g.Lat[0],
		LatTop:    g.Lat[3],
		LonLeft:   g.Lon[0],
		LonRight:  g.Lon[1],
	}, nil
}

// LatRange returns the signed latitude extent.
func (b Bounds) LatRange() float64 { return b.LatTop - b.LatBottom }

// LonRange returns the signed longitude extent.
func (b Bounds) LonRange() float64 { return b.LonRight - b.LonLeft }

// Normalize returns the fractional position of c inside the box.
// Both values lie in [0,1] when c is inside.
func (b Bounds) Normalize(c LatLng) (latNorm, lonNorm float64) {
	return (c.Lat - b.LatBottom) / b.LatRange(), (c.Lng - b.LonLeft) / b.LonRange()
}

// Lookup returns the grid value under c. Row 0 is the bottom (LatBottom) row.
// The second result is false when c falls outside the box, the box is
// degenerate or the grid is empty.
func Lookup(g ValueGrid, b Bounds, c LatLng) (float64, bool) {
	if b.LatRange() == 0 || b.LonRange() == 0 {
		return 0, false
	}
	height := g.Rows()
	width := g.Cols()
	if height == 0 || width == 0 {
		return 0, false
	}

	latNorm, lonNorm := b.Normalize(c)
	if !inUnit(latNorm) || !inUnit(lonNorm) {
		return 0, false
	}

	row := index(latNorm, height)
	col := index(lonNorm, width)
	if col >= len(g[row]) {
		return 0, false
	}
	return g[row][col], true
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func index(norm float64, n int) int {
	i := int(math.Floor(norm * float64(n)))
	if i > n-1 {
		i = n - 1
	}
	return i
}

// FormatValue renders a grid value the way the readouts show it: zero as
// "0.00", magnitudes below 0.01 in scientific notation, everything else with
// two decimals. Non-numeric cells render as "N/A".
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "N/A"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0.00"
	case math.Abs(v) < 0.01:
		return exponential(v)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// exponential formats v with two fraction digits and an unpadded exponent
// (1.23e-3 rather than Go's 1.23e-03).
func exponential(v float64) string {
	s := strconv.FormatFloat(v, 'e', 2, 64)
	for i := 0; i < len(s); i++ {
		if s[i] != 'e' {
			continue
		}
		mant, sign, digits := s[:i], s[i+1], s[i+2:]
		for len(digits) > 1 && digits[0] == '0' {
			digits = digits[1:]
		}
		return mant + "e" + string(sign) + digits
	}
	return s
}

// Readout formats a value with the layer's units appended when it has any.
func Readout(v float64, units string) string {
	s := FormatValue(v)
	if units == "" {
		return s
	}
	return s + " " + units
}
