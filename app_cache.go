package main

// Cache Management Functions (Wails-exported)

// CacheStats represents cache statistics for frontend
type CacheStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	CachePath string  `json:"cachePath"`
	Legends   int     `json:"legends"`
}

// GetCacheStats returns current cache statistics
func (a *App) GetCacheStats() CacheStats {
	stats := CacheStats{Legends: a.overlays.Legends().Len()}
	if a.dataCache == nil {
		return stats
	}

	entries, sizeBytes, maxBytes := a.dataCache.Stats()
	stats.Entries = entries
	stats.SizeBytes = sizeBytes
	stats.MaxBytes = maxBytes
	stats.SizeMB = float64(sizeBytes) / 1024 / 1024
	stats.MaxMB = float64(maxBytes) / 1024 / 1024
	stats.CachePath = a.dataCache.GetCachePath()
	return stats
}

// ClearCache removes all cached dataset files and legends
func (a *App) ClearCache() error {
	a.overlays.Legends().Purge()
	if a.dataCache != nil {
		return a.dataCache.Clear()
	}
	return nil
}
