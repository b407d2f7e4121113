// Package viewport keeps the map panels on one shared view and drives the
// cross-panel crosshair, value readout and coordinate label.
package viewport

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"lesnet-viewer/internal/grid"
)

// Offset of the coordinate label from the cursor on the hovered panel
const (
	LabelOffsetX = 12
	LabelOffsetY = -18
)

// Panel is one map viewport. SetView is a programmatic move: an
// implementation may report it back through PanelMoved, at any later time,
// and the controller drops that echo.
type Panel interface {
	SetView(View)
	LatLngToContainerPoint(grid.LatLng) Point
}

// ValueSource resolves the grid bound to a panel.
type ValueSource interface {
	BoundGrid(panel int) (grid.ValueGrid, grid.Bounds, string, bool)
}

// Renderer draws cursor feedback.
type Renderer interface {
	ShowCrosshair(panel int, at Point, active bool)
	HideCrosshairs()
	SetReadout(panel int, text string)
	ShowCoordinates(panel int, at Point, text string)
	HideCoordinates()
}

// maxEchoes bounds the views remembered per panel for panels that never
// report programmatic moves back.
const maxEchoes = 8

type move struct {
	src  int
	view View
}

// Controller owns the authoritative view. After PanelMoved returns every
// panel shows the same center and zoom.
type Controller struct {
	panels   []Panel
	values   ValueSource
	renderer Renderer
	log      logrus.FieldLogger

	mu       sync.Mutex
	current  View
	hasView  bool
	applying bool
	pending  *move
	// sent holds, per panel, the views set on it whose echo has not
	// arrived yet, oldest first.
	sent [][]View
}

// NewController creates a controller over panels.
func NewController(panels []Panel, values ValueSource, renderer Renderer, log logrus.FieldLogger) *Controller {
	return &Controller{
		panels:   panels,
		values:   values,
		renderer: renderer,
		log:      log,
		sent:     make([][]View, len(panels)),
	}
}

// View returns the authoritative view.
func (c *Controller) View() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasView
}

// PanelMoved applies a user move of panel src to every other panel.
func (c *Controller) PanelMoved(src int, center grid.LatLng, zoom float64) {
	if src < 0 || src >= len(c.panels) {
		c.log.WithField("panel", src).Warn("Move from unknown panel ignored")
		return
	}
	c.apply(move{src: src, view: View{Center: center, Zoom: zoom}})
}

// SetView moves every panel to v.
func (c *Controller) SetView(v View) {
	c.apply(move{src: -1, view: v})
}

func (c *Controller) apply(m move) {
	c.mu.Lock()
	if m.src >= 0 && c.consumeEcho(m.src, m.view) {
		c.mu.Unlock()
		return
	}
	if c.hasView && m.view.Equal(c.current) {
		// Echo of a move already applied, or a no-op
		c.mu.Unlock()
		return
	}
	if c.applying {
		// Coalesce: the loop below picks up the latest move
		c.pending = &m
		c.mu.Unlock()
		return
	}
	c.applying = true

	for {
		c.current = m.view
		c.hasView = true
		for i := range c.panels {
			if i != m.src {
				c.remember(i, m.view)
			}
		}
		c.mu.Unlock()

		for i, p := range c.panels {
			if i != m.src {
				p.SetView(m.view)
			}
		}

		c.mu.Lock()
		if c.pending == nil {
			break
		}
		m = *c.pending
		c.pending = nil
	}
	c.applying = false
	c.mu.Unlock()
}

// consumeEcho reports whether v is a view previously set on panel i. Views
// set before it are dropped too: the panel reports its moves in order.
func (c *Controller) consumeEcho(i int, v View) bool {
	for k, sent := range c.sent[i] {
		if sent.Equal(v) {
			c.sent[i] = c.sent[i][k+1:]
			return true
		}
	}
	return false
}

func (c *Controller) remember(i int, v View) {
	sent := c.sent[i]
	if len(sent) == maxEchoes {
		sent = sent[1:]
	}
	c.sent[i] = append(sent, v)
}

// CursorMoved updates crosshairs and readouts on every panel for a cursor
// at `at` over panel src.
func (c *Controller) CursorMoved(src int, at grid.LatLng) {
	if src < 0 || src >= len(c.panels) {
		return
	}
	for i, p := range c.panels {
		c.renderer.ShowCrosshair(i, p.LatLngToContainerPoint(at), i == src)
		c.renderer.SetReadout(i, c.Readout(i, at))
	}

	pt := c.panels[src].LatLngToContainerPoint(at)
	c.renderer.ShowCoordinates(src, Point{X: pt.X + LabelOffsetX, Y: pt.Y + LabelOffsetY}, CoordinateLabel(at))
}

// CursorLeft hides all cursor feedback.
func (c *Controller) CursorLeft(src int) {
	c.renderer.HideCrosshairs()
	for i := range c.panels {
		c.renderer.SetReadout(i, "")
	}
	c.renderer.HideCoordinates()
}

// Readout formats the value under at in the layer bound to panel i, or ""
// when nothing is bound or at is outside the layer.
func (c *Controller) Readout(i int, at grid.LatLng) string {
	values, bounds, units, ok := c.values.BoundGrid(i)
	if !ok {
		return ""
	}
	v, ok := grid.Lookup(values, bounds, at)
	if !ok {
		return ""
	}
	return grid.Readout(v, units)
}

// CoordinateLabel renders latitude over longitude, two decimals each,
// right-aligned to a common width.
func CoordinateLabel(at grid.LatLng) string {
	lat := strconv.FormatFloat(at.Lat, 'f', 2, 64)
	lng := strconv.FormatFloat(at.Lng, 'f', 2, 64)
	width := max(len(lat), len(lng))
	return pad(lat, width) + "\n" + pad(lng, width)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
