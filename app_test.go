package main

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus/hooks/test"

	"lesnet-viewer/internal/config"
	"lesnet-viewer/internal/lakes"
	"lesnet-viewer/internal/viewport"
)

func testApp(t *testing.T, h http.Handler) *App {
	t.Helper()
	settings := config.DefaultSettings()
	if h != nil {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		settings.ServerURL = srv.URL
	}
	log, _ := test.NewNullLogger()
	a, err := newApp(settings, log)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.jobs.Close)
	return a
}

func TestSetGlobalOpacity(t *testing.T) {
	a := testApp(t, nil)
	tests := []struct {
		in   float64
		want string
	}{
		{0.456, "46%"},
		{1.5, "100%"},
		{-1, "0%"},
	}
	for _, tt := range tests {
		if got := a.SetGlobalOpacity(tt.in); got != tt.want {
			t.Errorf("SetGlobalOpacity(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitialView(t *testing.T) {
	a := testApp(t, nil)
	v := a.GetInitialView()
	if v.Center.Lat != 45 || v.Center.Lng != -84 || v.Zoom != 6 {
		t.Errorf("initial view = %+v", v)
	}

	a.PanelMoved(2, 44, -80, 7)
	v = a.GetInitialView()
	if v.Center.Lat != 44 || v.Center.Lng != -80 || v.Zoom != 7 {
		t.Errorf("after move = %+v", v)
	}
	for i, p := range a.panels {
		if got := p.view.View(); got != v {
			t.Errorf("panel %d view = %+v", i, got)
		}
	}
}

func TestLoadDatasetFitsLake(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_data_metadata/20241201_06m", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	a := testApp(t, mux)

	if err := a.LoadDataset(""); err == nil {
		t.Error("empty folder accepted")
	}
	if err := a.LoadDataset("20241201_06m"); err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}

	michigan, _ := lakes.ByID("michigan")
	want := viewport.FitBounds(michigan.South, michigan.North, defaultPanelWidth, defaultPanelHeight)
	if got := a.GetInitialView(); got != want {
		t.Errorf("view = %+v, want %+v", got, want)
	}
	if s, _ := a.GetSettings(); s.LastDataset != "20241201_06m" {
		t.Errorf("last dataset = %q", s.LastDataset)
	}
}

func TestLoadDatasetMetadataFailure(t *testing.T) {
	a := testApp(t, http.NotFoundHandler())
	if err := a.LoadDataset("20241130_23e"); err == nil {
		t.Error("expected error")
	}
}

type recordedEvents struct {
	posthog.Client
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) Enqueue(msg posthog.Message) error {
	if c, ok := msg.(posthog.Capture); ok {
		r.mu.Lock()
		r.events = append(r.events, c.Event)
		r.mu.Unlock()
	}
	return nil
}

func (r *recordedEvents) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func catalogMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_available_data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"folders":[{"folder":"20241201_06m","lake":"michigan","ctime":20}]}`))
	})
	mux.HandleFunc("/get_data_metadata/20241201_06m", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	return mux
}

func TestProducedDatasetTracked(t *testing.T) {
	a := testApp(t, catalogMux())
	events := &recordedEvents{}
	a.phClient = events

	a.loadProducedDataset("20241201_06m")
	if !events.has("model_run_completed") || !events.has("dataset_loaded") {
		t.Errorf("events = %v", events.events)
	}
	if got := a.state.CurrentFolder(); got != "20241201_06m" {
		t.Errorf("current folder = %q", got)
	}
}

func TestRestoreLastDataset(t *testing.T) {
	a := testApp(t, catalogMux())
	if a.restoreLastDataset() {
		t.Error("restored without a saved dataset")
	}

	a.settings.LastDataset = "20241201_06m"
	if a.restoreLastDataset() {
		t.Error("restored before the catalog was loaded")
	}
	if _, err := a.RefreshDatasets(); err != nil {
		t.Fatalf("RefreshDatasets: %v", err)
	}
	if !a.restoreLastDataset() {
		t.Fatal("saved dataset not restored")
	}
	if got := a.state.CurrentFolder(); got != "20241201_06m" {
		t.Errorf("current folder = %q", got)
	}

	a.settings.LastDataset = "20241130_23e"
	if a.restoreLastDataset() {
		t.Error("restored a dataset the server no longer lists")
	}
}
