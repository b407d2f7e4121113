package overlay

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Legends caches colorbar images by layer name. Colorbars are static per
// layer, so one fetch serves every panel and dataset.
type Legends struct {
	fetch func(ctx context.Context, layer string) ([]byte, error)
	cache *lru.Cache[string, []byte]
}

// NewLegends creates a legend cache holding up to size images.
func NewLegends(size int, fetch func(ctx context.Context, layer string) ([]byte, error)) (*Legends, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create legend cache: %w", err)
	}
	return &Legends{fetch: fetch, cache: cache}, nil
}

// Get returns the colorbar of layer, fetching it on first use.
func (l *Legends) Get(ctx context.Context, layer string) ([]byte, error) {
	if img, ok := l.cache.Get(layer); ok {
		return img, nil
	}
	img, err := l.fetch(ctx, layer)
	if err != nil {
		return nil, err
	}
	l.cache.Add(layer, img)
	return img, nil
}

// Len returns the number of cached legends.
func (l *Legends) Len() int {
	return l.cache.Len()
}

// Purge drops every cached legend.
func (l *Legends) Purge() {
	l.cache.Purge()
}
