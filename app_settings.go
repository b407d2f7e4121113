package main

import (
	"lesnet-viewer/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	settingsCopy.PanelDefaults = append([]string(nil), a.settings.PanelDefaults...)
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk. Server, polling and cache
// settings apply on next start.
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// The install id is not user editable
	settings.InstallID = a.settings.InstallID

	if err := config.SaveSettings(settings); err != nil {
		return err
	}
	a.settings = settings
	a.log.Info("Settings saved. Server and cache settings will apply on next restart.")
	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SaveMapPosition saves the current map position for session persistence
func (a *App) SaveMapPosition(lat, lon, zoom float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.LastCenterLat = lat
	a.settings.LastCenterLon = lon
	a.settings.LastZoom = zoom

	if err := config.SaveSettings(a.settings); err != nil {
		return err
	}

	a.log.WithField("lat", lat).WithField("lon", lon).WithField("zoom", zoom).Debug("Saved map position")
	return nil
}
