package main

import (
	"encoding/base64"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"lesnet-viewer/internal/grid"
	"lesnet-viewer/internal/jobs"
	"lesnet-viewer/internal/layers"
	"lesnet-viewer/internal/overlay"
	"lesnet-viewer/internal/viewport"
)

// Events emitted to the frontend
const (
	EventPanelSetView   = "panel-set-view"
	EventOverlayAdd     = "overlay-add"
	EventOverlayRemove  = "overlay-remove"
	EventOverlayOpacity = "overlay-opacity"
	EventPanelLabel     = "panel-label"
	EventPanelColorbar  = "panel-colorbar"
	EventPanelMAE       = "panel-mae"
	EventPanelChoices   = "panel-choices"
	EventPanelReadout   = "panel-readout"
	EventCrosshair      = "cursor-crosshair"
	EventCrosshairHide  = "cursor-crosshair-hide"
	EventCoordinates    = "cursor-coordinates"
	EventCoordsHide     = "cursor-coordinates-hide"
	EventJobStatus      = "job-status"
	EventJobNotice      = "job-notice"
	EventJobNoticeHide  = "job-notice-hide"
	EventJobQueue       = "job-queue"
	EventCatalog        = "catalog-update"
	EventError          = "system-notification"
)

func (a *App) emit(event string, data ...interface{}) {
	if a.ctx == nil {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, event, data...)
}

func pngDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// wailsPanel mirrors one frontend map. The Go side keeps a Mercator model of
// each panel so crosshair positions can be computed without a round trip.
type wailsPanel struct {
	app   *App
	index int
	view  *viewport.Mercator
}

func (p *wailsPanel) SetView(v viewport.View) {
	p.view.SetView(v)
	p.app.emit(EventPanelSetView, map[string]interface{}{
		"panel":  p.index,
		"center": []float64{v.Center.Lat, v.Center.Lng},
		"zoom":   v.Zoom,
	})
}

func (p *wailsPanel) LatLngToContainerPoint(c grid.LatLng) viewport.Point {
	return p.view.LatLngToContainerPoint(c)
}

// wailsView renders overlays, job progress and cursor feedback by emitting
// events.
type wailsView struct {
	app *App
}

var (
	_ overlay.Backend   = (*wailsView)(nil)
	_ jobs.View         = (*wailsView)(nil)
	_ viewport.Renderer = (*wailsView)(nil)
)

func (v *wailsView) AddOverlay(o overlay.Overlay) {
	v.app.emit(EventOverlayAdd, map[string]interface{}{
		"panel":   o.Panel,
		"folder":  o.Folder,
		"layer":   o.Layer,
		"image":   pngDataURL(o.Image),
		"bounds":  [][]float64{{o.Bounds.South, o.Bounds.West}, {o.Bounds.North, o.Bounds.East}},
		"opacity": o.Opacity,
	})
}

func (v *wailsView) RemoveOverlay(panel int) {
	v.app.emit(EventOverlayRemove, panel)
}

func (v *wailsView) SetOverlayOpacity(panel int, opacity float64) {
	v.app.emit(EventOverlayOpacity, map[string]interface{}{"panel": panel, "opacity": opacity})
}

func (v *wailsView) SetPanelLabel(panel int, layer string) {
	v.app.emit(EventPanelLabel, map[string]interface{}{"panel": panel, "layer": layer})
}

func (v *wailsView) SetColorbar(panel int, layer string, png []byte) {
	v.app.emit(EventPanelColorbar, map[string]interface{}{
		"panel": panel,
		"layer": layer,
		"image": pngDataURL(png),
	})
}

func (v *wailsView) ShowMAE(panel int, text string) {
	v.app.emit(EventPanelMAE, map[string]interface{}{"panel": panel, "text": text, "visible": true})
}

func (v *wailsView) ClearMAE(panel int) {
	v.app.emit(EventPanelMAE, map[string]interface{}{"panel": panel, "text": "", "visible": false})
}

func (v *wailsView) ShowError(message string) {
	if v.app.ctx != nil {
		wailsRuntime.LogError(v.app.ctx, message)
	}
	v.app.emit(EventError, map[string]interface{}{
		"title":   "Error",
		"message": message,
		"type":    "error",
	})
}

func (v *wailsView) SetChoices(panel int, c layers.Choices, selected string) {
	v.app.emit(EventPanelChoices, map[string]interface{}{
		"panel":     panel,
		"model":     c.Model,
		"other":     c.Other,
		"separator": c.Separator(),
		"selected":  selected,
	})
}

func (v *wailsView) RenderStatus(s jobs.Status) {
	v.app.emit(EventJobStatus, map[string]interface{}{
		"status": s,
		"busy":   s.Busy(),
	})
}

func (v *wailsView) ShowNotice(n jobs.Notice) {
	if n.Kind != jobs.NoticeValidation {
		v.app.TrackEvent("model_run_failed", map[string]interface{}{"kind": string(n.Kind)})
	}
	v.app.emit(EventJobNotice, n)
}

func (v *wailsView) HideNotice() {
	v.app.emit(EventJobNoticeHide)
}

func (v *wailsView) QueueNotification(position int) {
	v.app.emit(EventJobQueue, map[string]interface{}{"position": position})
}

func (v *wailsView) ShowCrosshair(panel int, at viewport.Point, active bool) {
	v.app.emit(EventCrosshair, map[string]interface{}{"panel": panel, "x": at.X, "y": at.Y, "active": active})
}

func (v *wailsView) HideCrosshairs() {
	v.app.emit(EventCrosshairHide)
}

func (v *wailsView) SetReadout(panel int, text string) {
	v.app.emit(EventPanelReadout, map[string]interface{}{"panel": panel, "text": text})
}

func (v *wailsView) ShowCoordinates(panel int, at viewport.Point, text string) {
	v.app.emit(EventCoordinates, map[string]interface{}{"panel": panel, "x": at.X, "y": at.Y, "text": text})
}

func (v *wailsView) HideCoordinates() {
	v.app.emit(EventCoordsHide)
}
