package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const entryExt = ".bin"

// DataCache provides LRU caching for dataset files with disk persistence.
// Entries are addressed by the SHA-256 of their key so the index can be
// rebuilt from the directory listing after a restart.
type DataCache struct {
	baseDir   string
	maxSize   int64 // Maximum cache size in bytes
	ttl       time.Duration
	currSize  int64 // Current cache size (atomic)
	mu        sync.RWMutex
	index     map[string]*CacheEntry // In-memory index keyed by hash
	evictChan chan struct{}          // Signal for background eviction
	closed    bool
}

// CacheEntry represents a cached file
type CacheEntry struct {
	Hash       string
	FilePath   string
	Size       int64
	AccessTime time.Time
	CreateTime time.Time
}

// NewDataCache creates a new cache in baseDir
func NewDataCache(baseDir string, cfg Config) (*DataCache, error) {
	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &DataCache{
		baseDir:   baseDir,
		maxSize:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		ttl:       cfg.TTL(),
		index:     make(map[string]*CacheEntry),
		evictChan: make(chan struct{}, 1),
	}

	// Load existing cache index
	if err := cache.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	// Start background eviction goroutine
	go cache.evictionWorker()

	return cache, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *DataCache) pathFor(hash string) string {
	return filepath.Join(c.baseDir, hash[:2], hash+entryExt)
}

func (c *DataCache) expired(e *CacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreateTime) > c.ttl
}

// Get retrieves a file from cache
func (c *DataCache) Get(key string) ([]byte, bool) {
	hash := hashKey(key)

	c.mu.RLock()
	entry, exists := c.index[hash]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.expired(entry, time.Now()) {
		c.remove(hash)
		return nil, false
	}

	// Read from disk
	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		// File doesn't exist or error reading, remove from index
		c.remove(hash)
		return nil, false
	}

	// Update access time
	c.mu.Lock()
	entry.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

func (c *DataCache) remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[hash]
	if !ok {
		return
	}
	os.Remove(entry.FilePath) // Best effort cleanup
	delete(c.index, hash)
	atomic.AddInt64(&c.currSize, -entry.Size)
}

// Set stores a file in cache
func (c *DataCache) Set(key string, data []byte) error {
	size := int64(len(data))
	hash := hashKey(key)
	filePath := c.pathFor(hash)

	// Create subdirectory
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	// Write to disk
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	// Update index
	now := time.Now()
	entry := &CacheEntry{
		Hash:       hash,
		FilePath:   filePath,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}

	c.mu.Lock()
	// Same hash means same file path, so only the size bookkeeping changes
	if oldEntry, exists := c.index[hash]; exists {
		atomic.AddInt64(&c.currSize, -oldEntry.Size)
	}
	c.index[hash] = entry
	atomic.AddInt64(&c.currSize, size)

	// Trigger eviction if needed
	if !c.closed && atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default: // Already signaled
		}
	}
	c.mu.Unlock()

	return nil
}

// evictionWorker runs in background and evicts old files when cache is full
func (c *DataCache) evictionWorker() {
	for range c.evictChan {
		c.evict()
	}
}

// evict removes expired entries, then least recently used ones until the
// cache is under max size
func (c *DataCache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for hash, entry := range c.index {
		if c.expired(entry, now) {
			os.Remove(entry.FilePath)
			delete(c.index, hash)
			atomic.AddInt64(&c.currSize, -entry.Size)
		}
	}

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}

	// Calculate target size (90% of max to avoid thrashing)
	targetSize := c.maxSize * 9 / 10

	entries := make([]*CacheEntry, 0, len(c.index))
	for _, entry := range c.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	// Remove oldest entries until under target size
	for _, entry := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(entry.FilePath) // Best effort cleanup
		delete(c.index, entry.Hash)
		atomic.AddInt64(&c.currSize, -entry.Size)
		currSize -= entry.Size
	}
}

// loadIndex scans cache directory and builds in-memory index
func (c *DataCache) loadIndex() error {
	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}

		if info.IsDir() || filepath.Ext(path) != entryExt {
			return nil
		}

		hash := strings.TrimSuffix(filepath.Base(path), entryExt)
		c.index[hash] = &CacheEntry{
			Hash:       hash,
			FilePath:   path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		atomic.AddInt64(&c.currSize, info.Size())

		return nil
	})
}

// Stats returns cache statistics
func (c *DataCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.index), atomic.LoadInt64(&c.currSize), c.maxSize
}

// GetCachePath returns the cache root directory
func (c *DataCache) GetCachePath() string {
	return c.baseDir
}

// Clear removes all cached files
func (c *DataCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.index {
		os.Remove(entry.FilePath)
	}

	c.index = make(map[string]*CacheEntry)
	atomic.StoreInt64(&c.currSize, 0)

	return nil
}

// Close stops the background eviction worker
func (c *DataCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.evictChan)
	}
}
