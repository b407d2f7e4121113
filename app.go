package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/appstate"
	"lesnet-viewer/internal/cache"
	"lesnet-viewer/internal/catalog"
	"lesnet-viewer/internal/config"
	"lesnet-viewer/internal/grid"
	"lesnet-viewer/internal/jobs"
	"lesnet-viewer/internal/lakes"
	"lesnet-viewer/internal/overlay"
	"lesnet-viewer/internal/splits"
	"lesnet-viewer/internal/viewport"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// Size of a panel until the frontend reports its layout
const (
	defaultPanelWidth  = 480
	defaultPanelHeight = 360
)

// App is the controller bound to the frontend. It owns every component and
// adapts their output to Wails events.
type App struct {
	ctx      context.Context
	log      *logrus.Logger
	devMode  bool
	settings *config.UserSettings
	mu       sync.Mutex

	client    *api.Client
	dataCache *cache.DataCache
	state     *appstate.State
	panels    []*wailsPanel
	viewSync  *viewport.Controller
	overlays  *overlay.Manager
	jobs      *jobs.Client
	catalog   *catalog.Catalog
	splits    *splits.Loader
	phClient  posthog.Client
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.WithError(err).Warn("Failed to load settings, using defaults")
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		logrus.WithError(err).Warn("Invalid settings, using defaults")
		settings = config.DefaultSettings()
	}
	if settings.EnsureInstallID() {
		if err := config.SaveSettings(settings); err != nil {
			logrus.WithError(err).Warn("Failed to save settings")
		}
	}

	log := newLogger(settings.LogLevel)
	log.WithField("path", config.GetSettingsPath()).Info("Settings loaded")

	app, err := newApp(settings, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}

	cacheDir := cache.GetCacheDir()
	cacheCfg := cache.Config{MaxSizeMB: settings.CacheMaxSizeMB, TTLDays: settings.CacheTTLDays}
	dataCache, err := cache.NewDataCache(cacheDir, cacheCfg)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize dataset cache")
	} else {
		app.dataCache = dataCache
		app.client.SetCache(dataCache)
		log.WithFields(logrus.Fields{"dir": cacheDir, "max_mb": settings.CacheMaxSizeMB}).Info("Dataset cache initialized")
	}

	if PostHogKey != "" && settings.AnalyticsEnabled {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			log.WithError(err).Warn("Failed to initialize PostHog")
		} else {
			app.phClient = client
		}
	}

	return app
}

// newApp wires the components. It does not touch the disk or the network.
func newApp(settings *config.UserSettings, log *logrus.Logger) (*App, error) {
	client, err := api.NewClient(settings.ServerURL, settings.RequestTimeout())
	if err != nil {
		return nil, err
	}

	a := &App{
		log:      log,
		settings: settings,
		client:   client,
		state:    appstate.New(config.PanelCount, settings.DefaultOpacity),
	}
	view := &wailsView{app: a}

	initial := viewport.View{
		Center: grid.LatLng{Lat: settings.LastCenterLat, Lng: settings.LastCenterLon},
		Zoom:   settings.LastZoom,
	}
	panels := make([]viewport.Panel, config.PanelCount)
	for i := range panels {
		p := &wailsPanel{
			app:   a,
			index: i,
			view:  viewport.NewMercator(defaultPanelWidth, defaultPanelHeight, initial),
		}
		a.panels = append(a.panels, p)
		panels[i] = p
	}
	a.viewSync = viewport.NewController(panels, a.state, view, log.WithField("component", "viewport"))

	a.overlays, err = overlay.NewManager(a.state, client, view, overlay.Options{
		Reference:       settings.ReferenceLayer,
		PanelDefaults:   settings.PanelDefaults,
		ColorbarEntries: settings.ColorbarCacheEntries,
	}, log.WithField("component", "overlay"))
	if err != nil {
		return nil, err
	}

	a.jobs = jobs.NewClient(client, a.state, view, jobs.Options{
		PollInterval: settings.PollInterval(),
		SettleDelay:  settings.SettleDelay(),
		MaxFailures:  settings.MaxPollFailures,
	}, log.WithField("component", "jobs"))
	a.jobs.OnCompleted(
		func() {
			if _, err := a.RefreshDatasets(); err != nil {
				a.log.WithError(err).Warn("Failed to refresh datasets after run")
			}
		},
		a.loadProducedDataset,
	)

	a.catalog = catalog.New(client, settings.CatalogRetries, log.WithField("component", "catalog"))
	a.splits = splits.NewLoader(client.Splits, log.WithField("component", "splits"))
	return a, nil
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	wailsRuntime.LogInfo(ctx, fmt.Sprintf("Model server: %s", a.client.BaseURL()))

	go func() {
		if _, err := a.RefreshDatasets(); err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to list datasets: %v", err))
			return
		}
		a.restoreLastDataset()
	}()

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// loadProducedDataset opens the folder a completed model run produced
func (a *App) loadProducedDataset(folder string) {
	a.TrackEvent("model_run_completed", map[string]interface{}{"folder": folder})
	if err := a.LoadDataset(folder); err != nil {
		a.log.WithError(err).WithField("folder", folder).Warn("Failed to load produced dataset")
	}
}

// restoreLastDataset reopens the dataset of the previous session if the
// server still lists it.
func (a *App) restoreLastDataset() bool {
	a.mu.Lock()
	folder := a.settings.LastDataset
	a.mu.Unlock()
	if folder == "" {
		return false
	}
	log := a.log.WithField("folder", folder)
	if _, ok := a.catalog.Lookup(folder); !ok {
		log.Info("Last dataset no longer available")
		return false
	}
	if err := a.LoadDataset(folder); err != nil {
		log.WithError(err).Warn("Failed to restore last dataset")
		return false
	}
	return true
}

// shutdown stops background work and persists the session
func (a *App) shutdown(ctx context.Context) {
	a.jobs.Close()

	if v, ok := a.viewSync.View(); ok {
		if err := a.SaveMapPosition(v.Center.Lat, v.Center.Lng, v.Zoom); err != nil {
			a.log.WithError(err).Warn("Failed to save map position")
		}
	}
	if a.dataCache != nil {
		a.dataCache.Close()
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	a.phClient.Enqueue(posthog.Capture{
		DistinctId: a.settings.InstallID,
		Event:      event,
		Properties: props,
	})
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// ===================
// Lakes and calendar
// ===================

// GetLakes returns the supported lakes
func (a *App) GetLakes() []lakes.Lake {
	return lakes.All()
}

// GetSplits returns the train/val/test dates of a lake. A failed fetch
// yields empty lists so the calendar still opens.
func (a *App) GetSplits(lake string) splits.Splits {
	l, ok := lakes.ByID(lake)
	if !ok {
		return splits.Splits{}
	}
	s, err := a.splits.Load(a.context(), string(l.Initial))
	if err != nil {
		a.log.WithError(err).WithField("lake", l.ID).Warn("Failed to load calendar data")
	}
	return s
}

// ===================
// Model runs
// ===================

// RunModel submits a model run for lake at date ("YYYY-MM-DD HH:00")
func (a *App) RunModel(lake, date string) (string, error) {
	id, err := a.jobs.Submit(a.context(), lake, date)
	if err != nil {
		if errors.Is(err, jobs.ErrSuperseded) {
			return "", nil
		}
		return "", err
	}
	a.TrackEvent("model_run_submitted", map[string]interface{}{"lake": lake, "date": date})
	return id, nil
}

// CancelModelRun stops tracking the active run
func (a *App) CancelModelRun() {
	a.jobs.Cancel()
}

// ===================
// Datasets and layers
// ===================

// RefreshDatasets reloads the dataset list and pushes it to the frontend
func (a *App) RefreshDatasets() ([]catalog.Entry, error) {
	entries, err := a.catalog.Refresh(a.context())
	if err != nil {
		return nil, err
	}
	a.emit(EventCatalog, entries)
	return entries, nil
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// LoadDataset opens folder: pick lists are reset, the view is fitted to the
// lake and each panel starts loading its default layer.
func (a *App) LoadDataset(folder string) error {
	if folder == "" {
		return fmt.Errorf("%w: no folder given", overlay.ErrNoDataset)
	}
	ctx := a.context()
	log := a.log.WithField("folder", folder)

	if _, err := a.catalog.Select(folder); err != nil {
		log.WithError(err).Debug("Dataset not in catalog")
	}
	a.emit(EventCatalog, a.catalog.Entries())

	sel, err := a.overlays.OpenDataset(ctx, folder)
	if err != nil {
		if errors.Is(err, overlay.ErrSuperseded) {
			return nil
		}
		return err
	}

	lake, _ := lakes.ByID(lakes.Default)
	if _, l, err := catalog.ParseFolder(folder); err == nil {
		lake = l
	}
	w, h := a.panels[0].view.Size()
	a.viewSync.SetView(viewport.FitBounds(lake.South, lake.North, w, h))

	a.mu.Lock()
	a.settings.LastDataset = folder
	a.mu.Unlock()

	a.TrackEvent("dataset_loaded", map[string]interface{}{"lake": lake.ID})

	go func() {
		if err := a.overlays.BindDefaults(ctx, sel); err != nil {
			log.WithError(err).Warn("Some panels failed to load")
		}
	}()
	return nil
}

// SelectLayer shows layer of the current dataset on panel
func (a *App) SelectLayer(panel int, layer string) error {
	folder := a.state.CurrentFolder()
	if folder == "" {
		return overlay.ErrNoDataset
	}
	err := a.overlays.BindLayer(a.context(), panel, folder, layer, a.state.Opacity(panel))
	if errors.Is(err, overlay.ErrSuperseded) {
		return nil
	}
	return err
}

// SetGlobalOpacity applies opacity to every panel and returns the label the
// slider shows, e.g. "70%"
func (a *App) SetGlobalOpacity(opacity float64) string {
	v := a.overlays.SetAllOpacity(opacity)
	return fmt.Sprintf("%d%%", int(math.Round(v*100)))
}

// ===================
// Viewport
// ===================

// PanelMoved is called by a panel after the user pans or zooms it
func (a *App) PanelMoved(panel int, lat, lng, zoom float64) {
	if panel < 0 || panel >= len(a.panels) {
		return
	}
	v := viewport.View{Center: grid.LatLng{Lat: lat, Lng: lng}, Zoom: zoom}
	a.panels[panel].view.SetView(v)
	a.viewSync.PanelMoved(panel, v.Center, v.Zoom)
}

// PanelResized reports the pixel size of a panel
func (a *App) PanelResized(panel int, width, height float64) {
	if panel < 0 || panel >= len(a.panels) {
		return
	}
	a.panels[panel].view.Resize(width, height)
}

// CursorMoved is called as the pointer moves over a panel
func (a *App) CursorMoved(panel int, lat, lng float64) {
	a.viewSync.CursorMoved(panel, grid.LatLng{Lat: lat, Lng: lng})
}

// CursorLeft is called when the pointer leaves a panel
func (a *App) CursorLeft(panel int) {
	a.viewSync.CursorLeft(panel)
}

// GetInitialView returns the view the panels open with
func (a *App) GetInitialView() viewport.View {
	if v, ok := a.viewSync.View(); ok {
		return v
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return viewport.View{
		Center: grid.LatLng{Lat: a.settings.LastCenterLat, Lng: a.settings.LastCenterLon},
		Zoom:   a.settings.LastZoom,
	}
}

func isDevMode() bool {
	return os.Getenv("WAILS_DEV_SERVER") != "" || os.Getenv("FRONTEND_DEVSERVER_URL") != ""
}
