// Package overlay binds dataset layers to map panels: it fetches and decodes
// rasters, caches value grids, maintains the per-panel pick lists and keeps
// the MAE against the reference layer current.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/appstate"
	"lesnet-viewer/internal/grid"
	"lesnet-viewer/internal/layers"
	"lesnet-viewer/internal/mae"
	"lesnet-viewer/pkg/geotiff"
)

var (
	// ErrNoDataset is returned when binding a layer of a folder that is not
	// the current dataset.
	ErrNoDataset = errors.New("dataset is not loaded")
	// ErrSuperseded is returned when a newer action replaced the one in
	// flight. Nothing was applied and nothing needs reporting.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Overlay is one positioned raster on one panel.
type Overlay struct {
	Panel   int               `json:"panel"`
	Folder  string            `json:"folder"`
	Layer   string            `json:"layer"`
	Image   []byte            `json:"image"`
	Bounds  geotiff.LatLngBox `json:"bounds"`
	Opacity float64           `json:"opacity"`
}

// Backend renders overlay state.
type Backend interface {
	AddOverlay(o Overlay)
	RemoveOverlay(panel int)
	SetOverlayOpacity(panel int, opacity float64)
	SetPanelLabel(panel int, layer string)
	SetColorbar(panel int, layer string, png []byte)
	ShowMAE(panel int, text string)
	ClearMAE(panel int)
	ShowError(message string)
	SetChoices(panel int, choices layers.Choices, selected string)
}

// Fetcher loads dataset files. *api.Client implements it.
type Fetcher interface {
	DataMetadata(ctx context.Context, folder string) (api.Metadata, error)
	Raster(ctx context.Context, folder, layer string) ([]byte, error)
	LayerValues(ctx context.Context, folder, layer string) (*api.LayerDocument, error)
	Colorbar(ctx context.Context, layer string) ([]byte, error)
}

// Options tune the manager.
type Options struct {
	// Reference is the ground-truth layer MAE is measured against
	Reference string
	// PanelDefaults are the preferred initial layers per panel
	PanelDefaults []string
	// ColorbarEntries bounds the legend cache
	ColorbarEntries int
}

// Selection is the outcome of opening a dataset.
type Selection struct {
	Folder   string
	Choices  layers.Choices
	Defaults []string
}

// Manager is the single writer of dataset and panel bindings in
// appstate.State.
type Manager struct {
	state   *appstate.State
	fetch   Fetcher
	backend Backend
	opts    Options
	legends *Legends
	log     logrus.FieldLogger

	// panelMu orders overlay add/remove per panel with the state commit
	panelMu []sync.Mutex
	openSeq atomic.Uint64
}

// NewManager creates a manager over state.
func NewManager(state *appstate.State, fetch Fetcher, backend Backend, opts Options, log logrus.FieldLogger) (*Manager, error) {
	if opts.Reference == "" {
		opts.Reference = layers.QPETarget
	}
	legends, err := NewLegends(opts.ColorbarEntries, fetch.Colorbar)
	if err != nil {
		return nil, err
	}
	return &Manager{
		state:   state,
		fetch:   fetch,
		backend: backend,
		opts:    opts,
		legends: legends,
		log:     log,
		panelMu: make([]sync.Mutex, state.Panels()),
	}, nil
}

func (m *Manager) lockAll() {
	for i := range m.panelMu {
		m.panelMu[i].Lock()
	}
}

func (m *Manager) unlockAll() {
	for i := len(m.panelMu) - 1; i >= 0; i-- {
		m.panelMu[i].Unlock()
	}
}

// OpenDataset loads the metadata of folder, makes it the current dataset,
// clears every panel and publishes the pick lists. Opening another dataset
// before the metadata arrives supersedes this call.
func (m *Manager) OpenDataset(ctx context.Context, folder string) (*Selection, error) {
	seq := m.openSeq.Add(1)
	log := m.log.WithField("folder", folder)

	md, err := m.fetch.DataMetadata(ctx, folder)
	if m.openSeq.Load() != seq {
		return nil, ErrSuperseded
	}
	if err != nil {
		log.WithError(err).Error("Failed to load dataset metadata")
		m.backend.ShowError("Failed to load dataset metadata")
		return nil, fmt.Errorf("failed to load metadata of %s: %w", folder, err)
	}

	m.lockAll()
	m.state.SetDataset(folder, md)
	for i := range m.panelMu {
		m.backend.RemoveOverlay(i)
		m.backend.ClearMAE(i)
	}
	m.unlockAll()

	choices := layers.Partition(md.LayerNames())
	defaults := layers.DefaultSelections(choices, m.opts.PanelDefaults, m.state.Panels())
	for i, layer := range defaults {
		m.backend.SetChoices(i, choices, layer)
	}

	log.WithField("layers", len(choices.All())).Info("Dataset opened")
	return &Selection{Folder: folder, Choices: choices, Defaults: defaults}, nil
}

// BindDefaults binds the default layer of every panel concurrently. A panel
// that fails does not stop the others.
func (m *Manager) BindDefaults(ctx context.Context, sel *Selection) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, layer := range sel.Defaults {
		if layer == "" {
			continue
		}
		wg.Add(1)
		go func(i int, layer string) {
			defer wg.Done()
			err := m.BindLayer(ctx, i, sel.Folder, layer, m.state.Opacity(i))
			if err != nil && !errors.Is(err, ErrSuperseded) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i, layer)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// BindLayer shows layer of folder on panel at opacity. The panel's overlay is
// removed immediately; the new one appears only once both the raster and its
// value grid have loaded and decoded. On failure the panel stays cleared.
func (m *Manager) BindLayer(ctx context.Context, panel int, folder, layer string, opacity float64) error {
	if panel < 0 || panel >= len(m.panelMu) {
		return fmt.Errorf("%w: %d", appstate.ErrBadPanel, panel)
	}
	if m.state.CurrentFolder() != folder {
		return fmt.Errorf("%w: %s", ErrNoDataset, folder)
	}
	log := m.log.WithFields(logrus.Fields{"panel": panel, "folder": folder, "layer": layer})

	m.panelMu[panel].Lock()
	ticket, err := m.state.BeginBind(panel, folder, layer)
	if err != nil {
		m.panelMu[panel].Unlock()
		if errors.Is(err, appstate.ErrStaleDataset) {
			return ErrSuperseded
		}
		return err
	}
	m.backend.RemoveOverlay(panel)
	m.backend.ClearMAE(panel)
	opacity, _ = m.state.SetOpacity(panel, opacity)
	m.panelMu[panel].Unlock()

	fetchCtx, cancel := context.WithCancel(ticket.Ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	raster, lg, err := m.load(fetchCtx, ticket)
	if err != nil {
		if !m.state.Current(ticket) {
			return ErrSuperseded
		}
		log.WithError(err).Error("Failed to load layer")
		m.backend.ShowError("Failed to load layer " + layer)
		return fmt.Errorf("failed to load layer %s: %w", layer, err)
	}

	m.panelMu[panel].Lock()
	if !m.state.CommitBind(ticket, lg) {
		m.panelMu[panel].Unlock()
		return ErrSuperseded
	}
	m.backend.AddOverlay(Overlay{
		Panel:   panel,
		Folder:  folder,
		Layer:   layer,
		Image:   raster.PNG,
		Bounds:  raster.Bounds,
		Opacity: m.state.Opacity(panel),
	})
	m.backend.SetPanelLabel(panel, layer)
	m.panelMu[panel].Unlock()

	log.WithField("opacity", opacity).Debug("Layer bound")

	m.refreshColorbar(fetchCtx, ticket)

	if layer == m.opts.Reference {
		for _, i := range m.state.BoundPanels() {
			m.RefreshMAE(i)
		}
	} else {
		m.RefreshMAE(panel)
	}
	return nil
}

// load fetches the raster and the value grid concurrently. The grid comes
// from the ticket's dataset cache when another panel already loaded the layer.
func (m *Manager) load(ctx context.Context, t appstate.Ticket) (*Raster, *appstate.LayerGrid, error) {
	ds := t.Dataset
	var (
		raster *Raster
		lg     *appstate.LayerGrid
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		data, err := m.fetch.Raster(gctx, t.Folder, t.Layer)
		if err != nil {
			return err
		}
		raster, err = DecodeRaster(data)
		return err
	})

	if cached, ok := ds.Grid(t.Layer); ok {
		lg = cached
	} else {
		g.Go(func() error {
			doc, err := m.fetch.LayerValues(gctx, t.Folder, t.Layer)
			if err != nil {
				return err
			}
			lg, err = layerGrid(t.Layer, doc, ds.Metadata)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return raster, lg, nil
}

func layerGrid(layer string, doc *api.LayerDocument, md api.Metadata) (*appstate.LayerGrid, error) {
	georef := doc.Georeferencing
	if len(georef.Lat) == 0 {
		georef = md.Layer(layer).Georeferencing
	}
	bounds, err := grid.NewBounds(georef)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer, err)
	}
	return &appstate.LayerGrid{
		Layer:  layer,
		Values: doc.Values,
		Bounds: bounds,
		Units:  layers.Units(layer),
	}, nil
}

func (m *Manager) refreshColorbar(ctx context.Context, t appstate.Ticket) {
	img, err := m.legends.Get(ctx, t.Layer)
	if err != nil {
		m.log.WithError(err).WithField("layer", t.Layer).Debug("No colorbar")
		return
	}
	m.panelMu[t.Panel].Lock()
	defer m.panelMu[t.Panel].Unlock()
	if m.state.Current(t) {
		m.backend.SetColorbar(t.Panel, t.Layer, img)
	}
}

// RefreshMAE recomputes the MAE shown on panel against the reference layer.
// With no reference grid loaded, any MAE display is removed.
func (m *Manager) RefreshMAE(panel int) {
	if panel < 0 || panel >= len(m.panelMu) {
		return
	}
	m.panelMu[panel].Lock()
	defer m.panelMu[panel].Unlock()

	b, ok := m.state.Binding(panel)
	if !ok {
		return
	}
	ds := m.state.Dataset()
	if ds == nil || ds != b.Dataset {
		return
	}
	var reference grid.ValueGrid
	if ref, ok := ds.Grid(m.opts.Reference); ok {
		reference = ref.Values
	}

	res, err := mae.Compute(b.Grid.Values, reference)
	if err != nil {
		if errors.Is(err, mae.ErrShapeMismatch) {
			m.log.WithError(err).WithFields(logrus.Fields{"panel": panel, "layer": b.Layer}).Warn("MAE not computed")
		}
		m.backend.ClearMAE(panel)
		return
	}
	m.backend.ShowMAE(panel, mae.Format(res))
}

// SetOpacity changes the opacity of panel's overlay without refetching.
func (m *Manager) SetOpacity(panel int, opacity float64) (float64, error) {
	v, err := m.state.SetOpacity(panel, opacity)
	if err != nil {
		return 0, err
	}
	m.panelMu[panel].Lock()
	defer m.panelMu[panel].Unlock()
	if _, ok := m.state.Binding(panel); ok {
		m.backend.SetOverlayOpacity(panel, v)
	}
	return v, nil
}

// SetAllOpacity applies opacity to every panel and returns the clamped value.
func (m *Manager) SetAllOpacity(opacity float64) float64 {
	var v float64
	for i := range m.panelMu {
		v, _ = m.SetOpacity(i, opacity)
	}
	return v
}

// Legends exposes the colorbar cache.
func (m *Manager) Legends() *Legends { return m.legends }
