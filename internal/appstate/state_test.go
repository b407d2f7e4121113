package appstate

import (
	"errors"
	"reflect"
	"testing"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/grid"
)

const folderA = "20241130_23e"

func layerGrid(name string) *LayerGrid {
	return &LayerGrid{
		Layer:  name,
		Values: grid.ValueGrid{{1, 2}, {3, 4}},
		Bounds: grid.Bounds{LatBottom: 41, LatTop: 43, LonLeft: -83, LonRight: -78},
		Units:  "mm",
	}
}

func TestBindRequiresDataset(t *testing.T) {
	s := New(4, 0.7)
	if _, err := s.BeginBind(0, folderA, "LESNet-A"); !errors.Is(err, ErrNoDataset) {
		t.Errorf("err = %v, want ErrNoDataset", err)
	}
	s.SetDataset(folderA, api.Metadata{})
	if _, err := s.BeginBind(4, folderA, "LESNet-A"); !errors.Is(err, ErrBadPanel) {
		t.Errorf("err = %v, want ErrBadPanel", err)
	}
}

func TestCommitBind(t *testing.T) {
	s := New(4, 0.7)
	ds := s.SetDataset(folderA, api.Metadata{})

	tk, err := s.BeginBind(2, folderA, "QPE_hrrr")
	if err != nil {
		t.Fatal(err)
	}
	if !s.CommitBind(tk, layerGrid("QPE_hrrr")) {
		t.Fatal("CommitBind rejected current ticket")
	}

	b, ok := s.Binding(2)
	if !ok || b.Layer != "QPE_hrrr" || b.Folder != folderA {
		t.Errorf("Binding = %+v, %v", b, ok)
	}
	if _, ok := ds.Grid("QPE_hrrr"); !ok {
		t.Error("grid not cached on dataset")
	}
	values, _, units, ok := s.BoundGrid(2)
	if !ok || values.Rows() != 2 || units != "mm" {
		t.Errorf("BoundGrid = %v %q %v", values, units, ok)
	}
	if !reflect.DeepEqual(s.BoundPanels(), []int{2}) {
		t.Errorf("BoundPanels = %v", s.BoundPanels())
	}
}

func TestRebindSupersedesTicket(t *testing.T) {
	s := New(4, 0.7)
	s.SetDataset(folderA, api.Metadata{})

	first, _ := s.BeginBind(0, folderA, "LESNet-A")
	second, _ := s.BeginBind(0, folderA, "LESNet-B")

	if first.Ctx.Err() == nil {
		t.Error("superseded ticket context not cancelled")
	}
	if s.CommitBind(first, layerGrid("LESNet-A")) {
		t.Error("stale ticket committed")
	}
	if !s.CommitBind(second, layerGrid("LESNet-B")) {
		t.Error("current ticket rejected")
	}
	if b, _ := s.Binding(0); b.Layer != "LESNet-B" {
		t.Errorf("bound layer = %q", b.Layer)
	}

	// A new bind clears the panel until it commits.
	s.BeginBind(0, folderA, "elev")
	if _, ok := s.Binding(0); ok {
		t.Error("binding survived BeginBind")
	}
}

func TestNewDatasetInvalidatesEverything(t *testing.T) {
	s := New(4, 0.7)
	old := s.SetDataset(folderA, api.Metadata{})
	tk, _ := s.BeginBind(1, folderA, "LESNet-B")
	committed, _ := s.BeginBind(0, folderA, "LESNet-A")
	s.CommitBind(committed, layerGrid("LESNet-A"))

	s.SetDataset("20241201_05m", api.Metadata{})

	if old.Context().Err() == nil {
		t.Error("old dataset context not cancelled")
	}
	if tk.Ctx.Err() == nil || s.CommitBind(tk, layerGrid("LESNet-B")) {
		t.Error("in-flight bind from previous dataset was applied")
	}
	if len(s.BoundPanels()) != 0 {
		t.Errorf("bindings survived dataset change: %v", s.BoundPanels())
	}
	if s.CurrentFolder() != "20241201_05m" {
		t.Errorf("CurrentFolder = %q", s.CurrentFolder())
	}
}

func TestOpacity(t *testing.T) {
	s := New(2, 0.7)
	if s.Opacity(1) != 0.7 {
		t.Errorf("initial opacity = %v", s.Opacity(1))
	}
	if v, _ := s.SetOpacity(1, 1.4); v != 1 {
		t.Errorf("clamped opacity = %v", v)
	}
	if v, _ := s.SetOpacity(0, -1); v != 0 {
		t.Errorf("clamped opacity = %v", v)
	}
	if _, err := s.SetOpacity(2, 0.5); !errors.Is(err, ErrBadPanel) {
		t.Errorf("err = %v", err)
	}
}

func TestActiveRun(t *testing.T) {
	s := New(4, 0.7)
	if s.IsActive("") {
		t.Error("empty id reported active")
	}
	s.BeginRun("a")
	s.BeginRun("b")
	if s.IsActive("a") || !s.IsActive("b") || s.ActiveRun() != "b" {
		t.Error("run identity not replaced")
	}
	s.ClearRun()
	if s.ActiveRun() != "" {
		t.Error("ClearRun left an active run")
	}
}

func TestBindAgainstReplacedDataset(t *testing.T) {
	s := New(4, 0.7)
	old := s.SetDataset(folderA, api.Metadata{})
	tk, _ := s.BeginBind(0, folderA, "TMP_surface")
	s.CommitBind(tk, layerGrid("TMP_surface"))

	fresh := s.SetDataset("20241201_06m", api.Metadata{})

	// A bind still naming the old folder must not start against the new one.
	if _, err := s.BeginBind(0, folderA, "TMP_surface"); !errors.Is(err, ErrStaleDataset) {
		t.Errorf("err = %v, want ErrStaleDataset", err)
	}

	tk, err := s.BeginBind(0, "20241201_06m", "TMP_surface")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Dataset != fresh {
		t.Error("ticket not tied to the current dataset")
	}
	if _, ok := tk.Dataset.Grid("TMP_surface"); ok {
		t.Error("grid from the replaced dataset visible through the ticket")
	}
	if _, ok := old.Grid("TMP_surface"); !ok {
		t.Error("old dataset lost its own grid")
	}
}

func TestReopenSameFolderSupersedes(t *testing.T) {
	s := New(4, 0.7)
	s.SetDataset(folderA, api.Metadata{})
	tk, _ := s.BeginBind(0, folderA, "LESNet-A")

	reopened := s.SetDataset(folderA, api.Metadata{})
	if s.CommitBind(tk, layerGrid("LESNet-A")) {
		t.Error("bind from the earlier open of the same folder committed")
	}
	if _, ok := reopened.Grid("LESNet-A"); ok {
		t.Error("stale grid stored on the reopened dataset")
	}
}
