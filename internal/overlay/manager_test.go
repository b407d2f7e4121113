package overlay

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/appstate"
	"lesnet-viewer/internal/grid"
	"lesnet-viewer/internal/layers"
	"lesnet-viewer/pkg/geotiff"
)

const folder = "2024113023e"

var erieGeoref = grid.Georeferencing{
	Lat: []float64{41, 41, 43, 43},
	Lon: []float64{-83, -78},
}

func fixtureTIFF(t *testing.T) []byte {
	t.Helper()
	box := geotiff.LatLngBox{South: 41, West: -83, North: 43, East: -78}
	tags, err := geotiff.Tags(box, 4, 2, geotiff.EPSG_WGS84)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	if err := geotiff.Encode(&buf, img, tags); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

type fakeFetcher struct {
	tif     []byte
	md      api.Metadata
	mdErr   error
	values  map[string]grid.ValueGrid
	failing map[string]bool
	// started receives the layer name of a raster fetch that blocks until
	// its context ends
	blocking map[string]chan string

	mu        sync.Mutex
	valueHits map[string]int
	colorHits int
}

func newFetcher(t *testing.T) *fakeFetcher {
	nan := math.NaN()
	values := map[string]grid.ValueGrid{
		layers.LESNetA:   {{1, 2}, {3, nan}},
		layers.LESNetB:   {{1, 1}, {1, 3}},
		layers.QPEHRRR:   {{0, 0}, {0, 0}},
		layers.QPETarget: {{1, 1}, {1, 1}},
		"TMP_surface":    {{30, 31, 32}, {33, 34, 35}},
	}
	var md api.Metadata
	for _, name := range []string{layers.QPEHRRR, "TMP_surface", layers.LESNetB, layers.QPETarget, layers.LESNetA} {
		md.Add(name, api.LayerMetadata{Variable: name, Georeferencing: erieGeoref})
	}
	return &fakeFetcher{
		tif:       fixtureTIFF(t),
		md:        md,
		values:    values,
		failing:   map[string]bool{},
		blocking:  map[string]chan string{},
		valueHits: map[string]int{},
	}
}

func (f *fakeFetcher) DataMetadata(ctx context.Context, folder string) (api.Metadata, error) {
	if f.mdErr != nil {
		return api.Metadata{}, f.mdErr
	}
	return f.md, nil
}

func (f *fakeFetcher) Raster(ctx context.Context, folder, layer string) ([]byte, error) {
	if ch, ok := f.blocking[layer]; ok {
		ch <- layer
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.failing[layer] {
		return nil, &api.StatusError{Code: 404, Message: "not found"}
	}
	return f.tif, nil
}

func (f *fakeFetcher) LayerValues(ctx context.Context, folder, layer string) (*api.LayerDocument, error) {
	f.mu.Lock()
	f.valueHits[layer]++
	f.mu.Unlock()
	v, ok := f.values[layer]
	if !ok {
		return nil, &api.StatusError{Code: 404, Message: "not found"}
	}
	return &api.LayerDocument{Variable: layer, Georeferencing: erieGeoref, Values: v}, nil
}

func (f *fakeFetcher) Colorbar(ctx context.Context, layer string) ([]byte, error) {
	f.mu.Lock()
	f.colorHits++
	f.mu.Unlock()
	return []byte("legend:" + layer), nil
}

type fakeBackend struct {
	mu        sync.Mutex
	overlays  map[int]Overlay
	labels    map[int]string
	colorbars map[int]string
	maes      map[int]string
	opacities map[int]float64
	choices   map[int]string
	errors    []string
	removed   int
	// gates holds RemoveOverlay for a panel, and so that panel's lock, once:
	// the call sends on the channel when it starts and waits for a second
	// send before returning.
	gates map[int]chan struct{}
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		overlays:  map[int]Overlay{},
		labels:    map[int]string{},
		colorbars: map[int]string{},
		maes:      map[int]string{},
		opacities: map[int]float64{},
		choices:   map[int]string{},
		gates:     map[int]chan struct{}{},
	}
}

func (b *fakeBackend) AddOverlay(o Overlay) {
	b.mu.Lock()
	b.overlays[o.Panel] = o
	b.mu.Unlock()
}

func (b *fakeBackend) RemoveOverlay(panel int) {
	b.mu.Lock()
	gate := b.gates[panel]
	delete(b.gates, panel)
	delete(b.overlays, panel)
	b.removed++
	b.mu.Unlock()
	if gate != nil {
		gate <- struct{}{}
		<-gate
	}
}

func (b *fakeBackend) SetOverlayOpacity(panel int, opacity float64) {
	b.mu.Lock()
	b.opacities[panel] = opacity
	b.mu.Unlock()
}

func (b *fakeBackend) SetPanelLabel(panel int, layer string) {
	b.mu.Lock()
	b.labels[panel] = layer
	b.mu.Unlock()
}

func (b *fakeBackend) SetColorbar(panel int, layer string, png []byte) {
	b.mu.Lock()
	b.colorbars[panel] = string(png)
	b.mu.Unlock()
}

func (b *fakeBackend) ShowMAE(panel int, text string) {
	b.mu.Lock()
	b.maes[panel] = text
	b.mu.Unlock()
}

func (b *fakeBackend) ClearMAE(panel int) {
	b.mu.Lock()
	delete(b.maes, panel)
	b.mu.Unlock()
}

func (b *fakeBackend) ShowError(message string) {
	b.mu.Lock()
	b.errors = append(b.errors, message)
	b.mu.Unlock()
}

func (b *fakeBackend) SetChoices(panel int, c layers.Choices, selected string) {
	b.mu.Lock()
	b.choices[panel] = selected
	b.mu.Unlock()
}

func setup(t *testing.T) (*Manager, *fakeFetcher, *fakeBackend, *appstate.State) {
	t.Helper()
	log, _ := test.NewNullLogger()
	state := appstate.New(4, 0.7)
	fetch := newFetcher(t)
	backend := newBackend()
	m, err := NewManager(state, fetch, backend, Options{
		Reference:     layers.QPETarget,
		PanelDefaults: []string{layers.LESNetA, layers.LESNetB, layers.QPEHRRR, layers.QPETarget},
	}, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, fetch, backend, state
}

func openDataset(t *testing.T, m *Manager) *Selection {
	t.Helper()
	sel, err := m.OpenDataset(context.Background(), folder)
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	return sel
}

func TestOpenAndBindDefaults(t *testing.T) {
	m, _, backend, state := setup(t)
	sel := openDataset(t, m)

	want := []string{layers.LESNetA, layers.LESNetB, layers.QPEHRRR, layers.QPETarget}
	for i, layer := range want {
		if sel.Defaults[i] != layer {
			t.Errorf("default %d = %q, want %q", i, sel.Defaults[i], layer)
		}
		if backend.choices[i] != layer {
			t.Errorf("choice %d = %q, want %q", i, backend.choices[i], layer)
		}
	}
	// Remaining variables keep the order the server published them in.
	if got := sel.Choices.Other; len(got) != 3 || got[0] != layers.QPEHRRR || got[1] != "TMP_surface" || got[2] != layers.QPETarget {
		t.Errorf("other layers = %v", got)
	}

	if err := m.BindDefaults(context.Background(), sel); err != nil {
		t.Fatalf("BindDefaults: %v", err)
	}

	wantMAE := map[int]string{
		0: "MAE: 1.0000",
		1: "MAE: 0.5000",
		2: "MAE: 1.0000",
		3: "MAE: 0.0000",
	}
	for i, layer := range want {
		o, ok := backend.overlays[i]
		if !ok {
			t.Fatalf("panel %d has no overlay", i)
		}
		if o.Layer != layer || o.Folder != folder || o.Opacity != 0.7 {
			t.Errorf("panel %d overlay = %+v", i, o)
		}
		if o.Bounds.South != 41 || o.Bounds.East != -78 {
			t.Errorf("panel %d bounds = %+v", i, o.Bounds)
		}
		if backend.labels[i] != layer {
			t.Errorf("panel %d label = %q", i, backend.labels[i])
		}
		if backend.colorbars[i] != "legend:"+layer {
			t.Errorf("panel %d colorbar = %q", i, backend.colorbars[i])
		}
		if backend.maes[i] != wantMAE[i] {
			t.Errorf("panel %d MAE = %q, want %q", i, backend.maes[i], wantMAE[i])
		}
		if _, ok := state.Binding(i); !ok {
			t.Errorf("panel %d not bound", i)
		}
	}
	if len(backend.errors) != 0 {
		t.Errorf("errors = %v", backend.errors)
	}
}

func TestBindWithoutReferenceShowsNoMAE(t *testing.T) {
	m, _, backend, _ := setup(t)
	openDataset(t, m)

	if err := m.BindLayer(context.Background(), 0, folder, layers.LESNetA, 0.5); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}
	if _, ok := backend.maes[0]; ok {
		t.Errorf("MAE shown without reference: %q", backend.maes[0])
	}

	// Loading the reference later fills in MAE for panels already shown
	if err := m.BindLayer(context.Background(), 3, folder, layers.QPETarget, 0.5); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}
	if backend.maes[0] != "MAE: 1.0000" {
		t.Errorf("panel 0 MAE = %q", backend.maes[0])
	}
}

func TestBindFailureLeavesPanelCleared(t *testing.T) {
	m, fetch, backend, state := setup(t)
	openDataset(t, m)

	if err := m.BindLayer(context.Background(), 2, folder, layers.QPEHRRR, 0.7); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}
	fetch.failing[layers.LESNetB] = true

	err := m.BindLayer(context.Background(), 2, folder, layers.LESNetB, 0.7)
	if err == nil {
		t.Fatal("expected error")
	}
	if !api.IsStatus(err, 404) {
		t.Errorf("err = %v, want a 404", err)
	}
	if _, ok := backend.overlays[2]; ok {
		t.Error("overlay left on panel after failure")
	}
	if _, ok := state.Binding(2); ok {
		t.Error("panel still bound after failure")
	}
	if len(backend.errors) != 1 || backend.errors[0] != "Failed to load layer LESNet-B" {
		t.Errorf("errors = %v", backend.errors)
	}
}

func TestBindMissingValuesFails(t *testing.T) {
	m, fetch, backend, _ := setup(t)
	openDataset(t, m)
	delete(fetch.values, layers.QPEHRRR)

	if err := m.BindLayer(context.Background(), 1, folder, layers.QPEHRRR, 0.7); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := backend.overlays[1]; ok {
		t.Error("raster shown without its value grid")
	}
}

func TestRebindSupersedesInFlight(t *testing.T) {
	m, fetch, backend, state := setup(t)
	openDataset(t, m)

	started := make(chan string, 1)
	fetch.blocking[layers.LESNetA] = started

	done := make(chan error, 1)
	go func() {
		done <- m.BindLayer(context.Background(), 0, folder, layers.LESNetA, 0.7)
	}()
	<-started

	if err := m.BindLayer(context.Background(), 0, folder, layers.LESNetB, 0.7); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first bind err = %v, want ErrSuperseded", err)
	}

	if backend.overlays[0].Layer != layers.LESNetB {
		t.Errorf("overlay = %q", backend.overlays[0].Layer)
	}
	b, _ := state.Binding(0)
	if b.Layer != layers.LESNetB {
		t.Errorf("binding = %q", b.Layer)
	}
	if len(backend.errors) != 0 {
		t.Errorf("superseded bind reported errors: %v", backend.errors)
	}
}

func TestNewDatasetSupersedesBinds(t *testing.T) {
	m, fetch, backend, _ := setup(t)
	openDataset(t, m)

	started := make(chan string, 1)
	fetch.blocking[layers.QPEHRRR] = started
	done := make(chan error, 1)
	go func() {
		done <- m.BindLayer(context.Background(), 2, folder, layers.QPEHRRR, 0.7)
	}()
	<-started

	if _, err := m.OpenDataset(context.Background(), "2024120112m"); err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("err = %v, want ErrSuperseded", err)
	}
	if _, ok := backend.overlays[2]; ok {
		t.Error("overlay of old dataset applied")
	}

	if err := m.BindLayer(context.Background(), 0, folder, layers.LESNetA, 0.7); !errors.Is(err, ErrNoDataset) {
		t.Errorf("bind on old folder err = %v, want ErrNoDataset", err)
	}
}

func TestBindRacingDatasetSwitch(t *testing.T) {
	m, _, backend, state := setup(t)
	openDataset(t, m)
	const next = "2024120106m"

	// Cache TMP_surface in the first dataset.
	if err := m.BindLayer(context.Background(), 1, folder, "TMP_surface", 0.7); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}

	gate := make(chan struct{})
	backend.mu.Lock()
	backend.gates[0] = gate
	backend.mu.Unlock()

	go m.BindLayer(context.Background(), 0, folder, layers.LESNetA, 0.7)
	<-gate // panel 0 is now locked

	opened := make(chan error, 1)
	go func() {
		_, err := m.OpenDataset(context.Background(), next)
		opened <- err
	}()
	bound := make(chan error, 1)
	go func() {
		bound <- m.BindLayer(context.Background(), 0, folder, "TMP_surface", 0.7)
	}()

	// Let both queue on the panel lock before releasing it.
	time.Sleep(20 * time.Millisecond)
	gate <- struct{}{}

	if err := <-opened; err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	if err := <-bound; err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrNoDataset) {
		t.Errorf("bind err = %v", err)
	}

	ds := state.Dataset()
	if ds.Folder != next {
		t.Fatalf("current dataset = %q", ds.Folder)
	}
	if _, ok := ds.Grid("TMP_surface"); ok {
		t.Error("grid from the previous dataset stored on the new one")
	}
	if b, ok := state.Binding(0); ok && b.Layer == "TMP_surface" {
		t.Errorf("panel 0 bound to %s/%s after the switch", b.Folder, b.Layer)
	}
}

func TestValueGridCachedPerDataset(t *testing.T) {
	m, fetch, _, _ := setup(t)
	openDataset(t, m)

	for _, panel := range []int{0, 1} {
		if err := m.BindLayer(context.Background(), panel, folder, layers.QPEHRRR, 0.7); err != nil {
			t.Fatalf("BindLayer: %v", err)
		}
	}
	if hits := fetch.valueHits[layers.QPEHRRR]; hits != 1 {
		t.Errorf("value fetches = %d, want 1", hits)
	}
	if fetch.colorHits != 1 {
		t.Errorf("colorbar fetches = %d, want 1", fetch.colorHits)
	}
}

func TestShapeMismatchClearsMAE(t *testing.T) {
	m, _, backend, _ := setup(t)
	openDataset(t, m)

	for panel, layer := range map[int]string{3: layers.QPETarget, 1: "TMP_surface"} {
		if err := m.BindLayer(context.Background(), panel, folder, layer, 0.7); err != nil {
			t.Fatalf("BindLayer: %v", err)
		}
	}
	if _, ok := backend.maes[1]; ok {
		t.Errorf("MAE shown for mismatched grids: %q", backend.maes[1])
	}
}

func TestOpacity(t *testing.T) {
	m, _, backend, state := setup(t)
	openDataset(t, m)

	// Unbound panel: stored, nothing to redraw
	if v, err := m.SetOpacity(1, 0.3); err != nil || v != 0.3 {
		t.Fatalf("SetOpacity = %v, %v", v, err)
	}
	if _, ok := backend.opacities[1]; ok {
		t.Error("opacity pushed to an empty panel")
	}

	if err := m.BindLayer(context.Background(), 0, folder, layers.LESNetA, 0.7); err != nil {
		t.Fatalf("BindLayer: %v", err)
	}
	if got := m.SetAllOpacity(1.5); got != 1 {
		t.Errorf("SetAllOpacity = %v, want 1", got)
	}
	if backend.opacities[0] != 1 {
		t.Errorf("panel 0 opacity = %v", backend.opacities[0])
	}
	if state.Opacity(3) != 1 {
		t.Errorf("stored opacity = %v", state.Opacity(3))
	}
	if _, err := m.SetOpacity(9, 0.5); !errors.Is(err, appstate.ErrBadPanel) {
		t.Errorf("err = %v, want ErrBadPanel", err)
	}
}

func TestOpenDatasetMetadataFailure(t *testing.T) {
	m, fetch, backend, state := setup(t)
	fetch.mdErr = errors.New("connection refused")

	if _, err := m.OpenDataset(context.Background(), folder); err == nil {
		t.Fatal("expected error")
	}
	if len(backend.errors) != 1 || backend.errors[0] != "Failed to load dataset metadata" {
		t.Errorf("errors = %v", backend.errors)
	}
	if state.Dataset() != nil {
		t.Error("dataset set despite failure")
	}
}

func TestDecodeRaster(t *testing.T) {
	r, err := DecodeRaster(fixtureTIFF(t))
	if err != nil {
		t.Fatalf("DecodeRaster: %v", err)
	}
	if r.Width != 4 || r.Height != 2 {
		t.Errorf("size = %dx%d", r.Width, r.Height)
	}
	if !bytes.HasPrefix(r.PNG, []byte("\x89PNG")) {
		t.Error("overlay is not a PNG")
	}
	if _, err := DecodeRaster([]byte("not a tiff")); err == nil {
		t.Error("expected error for garbage input")
	}
}
