// Package appstate holds the application state shared between the viewer
// components: the current dataset with its value-grid cache, the layer bound
// to each panel and the identity of the active model run.
//
// Every piece has one writer. The overlay manager writes datasets and panel
// bindings, the job client writes the active run. Everyone else reads.
// Asynchronous work captures a Ticket (or run id) when it starts and commits
// through State, which discards results whose identity has been superseded.
package appstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/grid"
)

var (
	// ErrNoDataset is returned when a panel is bound before any dataset is open.
	ErrNoDataset = errors.New("no dataset loaded")
	// ErrBadPanel is returned for a panel index outside the panel range.
	ErrBadPanel = errors.New("panel index out of range")
	// ErrStaleDataset is returned when a bind names a folder that is no longer
	// the current dataset.
	ErrStaleDataset = errors.New("dataset is no longer current")
)

// LayerGrid is a decoded value grid with its bounding box and units.
type LayerGrid struct {
	Layer  string
	Values grid.ValueGrid
	Bounds grid.Bounds
	Units  string
}

// Dataset is one server-side output folder. Its context is cancelled as soon
// as another dataset replaces it.
type Dataset struct {
	Folder   string
	Metadata api.Metadata

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	grids map[string]*LayerGrid
}

// Context is done once the dataset has been superseded.
func (d *Dataset) Context() context.Context { return d.ctx }

// Grid returns the cached grid of layer, if it has been loaded.
func (d *Dataset) Grid(layer string) (*LayerGrid, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.grids[layer]
	return g, ok
}

func (d *Dataset) storeGrid(g *LayerGrid) {
	d.mu.Lock()
	d.grids[g.Layer] = g
	d.mu.Unlock()
}

// Binding is the layer currently shown by a panel.
type Binding struct {
	Folder  string
	Layer   string
	Grid    *LayerGrid
	Dataset *Dataset
}

// Ticket identifies one bind attempt on one panel. Its context is cancelled
// when the panel is rebound or the dataset is replaced. Dataset is the
// dataset the bind was started against; grids are read from and stored into
// it only.
type Ticket struct {
	Panel   int
	Folder  string
	Layer   string
	Gen     uint64
	Ctx     context.Context
	Dataset *Dataset
}

type panel struct {
	gen     uint64
	cancel  context.CancelFunc
	binding *Binding
	opacity float64
}

// State is the single owner of shared mutable application state.
type State struct {
	mu        sync.RWMutex
	dataset   *Dataset
	panels    []panel
	activeRun string
}

// New creates state for n panels at the given initial opacity.
func New(n int, opacity float64) *State {
	s := &State{panels: make([]panel, n)}
	for i := range s.panels {
		s.panels[i].opacity = opacity
	}
	return s
}

// Panels returns the number of panels.
func (s *State) Panels() int { return len(s.panels) }

func (s *State) check(i int) error {
	if i < 0 || i >= len(s.panels) {
		return fmt.Errorf("%w: %d", ErrBadPanel, i)
	}
	return nil
}

// SetDataset makes folder the current dataset. The previous dataset's context
// and every in-flight bind are cancelled and all panel bindings are cleared.
func (s *State) SetDataset(folder string, md api.Metadata) *Dataset {
	ctx, cancel := context.WithCancel(context.Background())
	ds := &Dataset{
		Folder:   folder,
		Metadata: md,
		ctx:      ctx,
		cancel:   cancel,
		grids:    make(map[string]*LayerGrid),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset != nil {
		s.dataset.cancel()
	}
	for i := range s.panels {
		p := &s.panels[i]
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.gen++
		p.binding = nil
	}
	s.dataset = ds
	return ds
}

// Dataset returns the current dataset, or nil.
func (s *State) Dataset() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset
}

// CurrentFolder returns the folder of the current dataset, or "".
func (s *State) CurrentFolder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return ""
	}
	return s.dataset.Folder
}

// BeginBind starts a bind of layer from folder on panel i. Any previous bind
// attempt is cancelled and the panel's binding is cleared until CommitBind
// succeeds. ErrStaleDataset is returned, and nothing changes, when folder is
// not the current dataset.
func (s *State) BeginBind(i int, folder, layer string) (Ticket, error) {
	if err := s.check(i); err != nil {
		return Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return Ticket{}, ErrNoDataset
	}
	if s.dataset.Folder != folder {
		return Ticket{}, fmt.Errorf("%w: %s", ErrStaleDataset, folder)
	}

	p := &s.panels[i]
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(s.dataset.ctx)
	p.gen++
	p.cancel = cancel
	p.binding = nil

	return Ticket{Panel: i, Folder: folder, Layer: layer, Gen: p.gen, Ctx: ctx, Dataset: s.dataset}, nil
}

// Current reports whether t is still the latest bind attempt for its panel.
func (s *State) Current(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(t)
}

func (s *State) currentLocked(t Ticket) bool {
	if t.Panel < 0 || t.Panel >= len(s.panels) {
		return false
	}
	return s.dataset != nil &&
		s.dataset == t.Dataset &&
		s.panels[t.Panel].gen == t.Gen &&
		t.Ctx.Err() == nil
}

// CommitBind records the loaded grid for t's panel. It returns false, and
// changes nothing, when t has been superseded.
func (s *State) CommitBind(t Ticket, g *LayerGrid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		return false
	}
	t.Dataset.storeGrid(g)
	s.panels[t.Panel].binding = &Binding{Folder: t.Folder, Layer: t.Layer, Grid: g, Dataset: t.Dataset}
	return true
}

// Binding returns the layer bound to panel i.
func (s *State) Binding(i int) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.panels) || s.panels[i].binding == nil {
		return Binding{}, false
	}
	return *s.panels[i].binding, true
}

// BoundGrid returns the value grid bound to panel i.
func (s *State) BoundGrid(i int) (grid.ValueGrid, grid.Bounds, string, bool) {
	b, ok := s.Binding(i)
	if !ok || b.Grid == nil {
		return nil, grid.Bounds{}, "", false
	}
	return b.Grid.Values, b.Grid.Bounds, b.Grid.Units, true
}

// BoundPanels returns the indexes of panels with a committed binding.
func (s *State) BoundPanels() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for i := range s.panels {
		if s.panels[i].binding != nil {
			out = append(out, i)
		}
	}
	return out
}

// Opacity returns the overlay opacity of panel i.
func (s *State) Opacity(i int) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.panels) {
		return 0
	}
	return s.panels[i].opacity
}

// SetOpacity stores the overlay opacity of panel i, clamped to [0,1].
func (s *State) SetOpacity(i int, v float64) (float64, error) {
	if err := s.check(i); err != nil {
		return 0, err
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.panels[i].opacity = v
	s.mu.Unlock()
	return v, nil
}

// BeginRun makes id the active run, replacing any previous one.
func (s *State) BeginRun(id string) {
	s.mu.Lock()
	s.activeRun = id
	s.mu.Unlock()
}

// ActiveRun returns the active run id, or "".
func (s *State) ActiveRun() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRun
}

// IsActive reports whether id is the active run.
func (s *State) IsActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id != "" && s.activeRun == id
}

// ClearRun forgets the active run.
func (s *State) ClearRun() {
	s.mu.Lock()
	s.activeRun = ""
	s.mu.Unlock()
}
