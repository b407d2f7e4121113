package viewport

import (
	"math"
	"sync"

	"lesnet-viewer/internal/grid"
)

const (
	// TileSize is the pixel size of one map tile at integer zoom
	TileSize = 256

	// MaxLatitude is the Web Mercator latitude limit
	MaxLatitude = 85.0511287798

	MinZoom = 0
	MaxZoom = 18
)

// Point is a pixel position; container points are relative to the top-left
// corner of a panel.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// View is the center and zoom shared by all panels.
type View struct {
	Center grid.LatLng `json:"center"`
	Zoom   float64     `json:"zoom"`
}

const viewEpsilon = 1e-9

// Equal compares two views within floating-point tolerance.
func (v View) Equal(o View) bool {
	return math.Abs(v.Center.Lat-o.Center.Lat) < viewEpsilon &&
		math.Abs(v.Center.Lng-o.Center.Lng) < viewEpsilon &&
		math.Abs(v.Zoom-o.Zoom) < viewEpsilon
}

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

func worldSize(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

// Project converts a coordinate to world pixels at zoom.
func Project(c grid.LatLng, zoom float64) Point {
	scale := worldSize(zoom)
	latRad := clampLat(c.Lat) * math.Pi / 180.0
	return Point{
		X: scale * (0.5 + c.Lng/360.0),
		Y: scale * (0.5 - math.Log(math.Tan(math.Pi/4+latRad/2))/(2*math.Pi)),
	}
}

// Unproject converts world pixels at zoom back to a coordinate.
func Unproject(p Point, zoom float64) grid.LatLng {
	scale := worldSize(zoom)
	lng := (p.X/scale - 0.5) * 360.0
	n := math.Pi * (1 - 2*p.Y/scale)
	lat := math.Atan(math.Sinh(n)) * 180.0 / math.Pi
	return grid.LatLng{Lat: lat, Lng: lng}
}

// Mercator is a Web Mercator viewport of a fixed pixel size. It is the
// reference panel model used headless and in tests; the desktop panels mirror
// it in the frontend.
type Mercator struct {
	mu     sync.RWMutex
	view   View
	width  float64
	height float64
}

// NewMercator creates a viewport of the given container size.
func NewMercator(width, height float64, initial View) *Mercator {
	return &Mercator{view: initial, width: width, height: height}
}

// SetView moves the viewport. Zoom is clamped to [MinZoom, MaxZoom].
func (m *Mercator) SetView(v View) {
	v.Zoom = math.Max(MinZoom, math.Min(MaxZoom, v.Zoom))
	v.Center.Lat = clampLat(v.Center.Lat)

	m.mu.Lock()
	m.view = v
	m.mu.Unlock()
}

// View returns the current center and zoom.
func (m *Mercator) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// Size returns the container size in pixels.
func (m *Mercator) Size() (width, height float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.width, m.height
}

// Resize changes the container size.
func (m *Mercator) Resize(width, height float64) {
	m.mu.Lock()
	m.width, m.height = width, height
	m.mu.Unlock()
}

// LatLngToContainerPoint returns where c is drawn inside the container.
func (m *Mercator) LatLngToContainerPoint(c grid.LatLng) Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := Project(c, m.view.Zoom)
	center := Project(m.view.Center, m.view.Zoom)
	return Point{
		X: p.X - center.X + m.width/2,
		Y: p.Y - center.Y + m.height/2,
	}
}

// ContainerPointToLatLng is the inverse of LatLngToContainerPoint.
func (m *Mercator) ContainerPointToLatLng(p Point) grid.LatLng {
	m.mu.RLock()
	defer m.mu.RUnlock()
	center := Project(m.view.Center, m.view.Zoom)
	return Unproject(Point{
		X: p.X + center.X - m.width/2,
		Y: p.Y + center.Y - m.height/2,
	}, m.view.Zoom)
}

// FitBounds returns the view that shows the box south-west..north-east in a
// container of the given size at the largest integer zoom that fits.
func FitBounds(sw, ne grid.LatLng, width, height float64) View {
	// Centre in projected space so the box is symmetric on screen
	a, b := Project(sw, 0), Project(ne, 0)
	center := Unproject(Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}, 0)

	dx := math.Abs(b.X - a.X)
	dy := math.Abs(b.Y - a.Y)
	if dx == 0 || dy == 0 || width <= 0 || height <= 0 {
		return View{Center: center, Zoom: MaxZoom}
	}
	zoom := math.Floor(math.Log2(math.Min(width/dx, height/dy)))
	zoom = math.Max(MinZoom, math.Min(MaxZoom, zoom))
	return View{Center: center, Zoom: zoom}
}
