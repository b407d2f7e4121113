// Package catalog lists the dataset folders published by the model server
// and tracks which one is selected.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/common"
	"lesnet-viewer/internal/lakes"
)

var (
	// ErrBadFolder is returned for a folder name that does not encode a run.
	ErrBadFolder = errors.New("malformed dataset folder name")
	// ErrUnknownFolder is returned when selecting a folder not in the catalog.
	ErrUnknownFolder = errors.New("dataset not in catalog")
)

// ParseFolder decodes a dataset folder name: YYYYMMDD, the hour, and the
// lake initial, either "20241130_23e" or "2024113023e". An unknown initial
// maps to the default lake.
func ParseFolder(name string) (time.Time, lakes.Lake, error) {
	var stamp string
	switch len(name) {
	case 12:
		if name[8] != '_' {
			return time.Time{}, lakes.Lake{}, fmt.Errorf("%w: %q", ErrBadFolder, name)
		}
		stamp = name[:8] + name[9:11]
	case 11:
		stamp = name[:10]
	default:
		return time.Time{}, lakes.Lake{}, fmt.Errorf("%w: %q", ErrBadFolder, name)
	}
	if _, err := strconv.ParseUint(stamp, 10, 64); err != nil {
		return time.Time{}, lakes.Lake{}, fmt.Errorf("%w: %q", ErrBadFolder, name)
	}
	t, err := time.ParseInLocation("2006010215", stamp, time.UTC)
	if err != nil {
		return time.Time{}, lakes.Lake{}, fmt.Errorf("%w: %q: %v", ErrBadFolder, name, err)
	}
	return t, lakes.ForInitial(name[len(name)-1]), nil
}

// Entry is one dataset in the catalog.
type Entry struct {
	Folder string     `json:"folder"`
	Time   time.Time  `json:"time"`
	Lake   lakes.Lake `json:"lake"`
	Ctime  float64    `json:"ctime"`
	// Label is the run time as shown in the list, e.g. "2024-11-30 23:00 UTC"
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Lister fetches the folder list. *api.Client implements it.
type Lister interface {
	AvailableData(ctx context.Context) ([]api.Folder, error)
}

// Catalog is the list of datasets, newest first.
type Catalog struct {
	lister     Lister
	retries    uint64
	newBackOff func() backoff.BackOff
	log        logrus.FieldLogger

	mu       sync.RWMutex
	entries  []Entry
	selected string
}

// New creates a catalog. Transient listing failures are retried up to
// retries times.
func New(lister Lister, retries int, log logrus.FieldLogger) *Catalog {
	if retries < 0 {
		retries = 0
	}
	return &Catalog{
		lister:  lister,
		retries: uint64(retries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		log: log,
	}
}

func retryable(err error) bool {
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Refresh reloads the folder list from the server. The selection survives
// when its folder is still listed.
func (c *Catalog) Refresh(ctx context.Context) ([]Entry, error) {
	var folders []api.Folder
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.retries), ctx)
	err := backoff.RetryNotify(
		func() error {
			var err error
			folders, err = c.lister.AvailableData(ctx)
			if err != nil && !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, d time.Duration) {
			c.log.WithError(err).WithField("retry_in", d).Warn("Failed to list datasets, retrying")
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	entries := make([]Entry, 0, len(folders))
	for _, f := range folders {
		t, lake, err := ParseFolder(f.Folder)
		if err != nil {
			c.log.WithError(err).Warn("Skipping dataset")
			continue
		}
		if l, ok := lakes.ByID(f.Lake); ok {
			lake = l
		}
		entries = append(entries, Entry{
			Folder: f.Folder,
			Time:   t,
			Lake:   lake,
			Ctime:  f.Ctime,
			Label:  common.FormatCatalog(t),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Ctime != entries[j].Ctime {
			return entries[i].Ctime > entries[j].Ctime
		}
		return entries[i].Folder > entries[j].Folder
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	if _, ok := c.findLocked(c.selected); !ok {
		c.selected = ""
	}
	c.log.WithField("datasets", len(entries)).Debug("Catalog refreshed")
	return c.snapshotLocked(), nil
}

func (c *Catalog) findLocked(folder string) (Entry, bool) {
	return lo.Find(c.entries, func(e Entry) bool { return e.Folder == folder })
}

func (c *Catalog) snapshotLocked() []Entry {
	return lo.Map(c.entries, func(e Entry, _ int) Entry {
		e.Selected = e.Folder == c.selected
		return e
	})
}

// Entries returns the catalog, newest first.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Lookup returns the entry for folder.
func (c *Catalog) Lookup(folder string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(folder)
}

// Select marks folder as the selected dataset.
func (c *Catalog) Select(folder string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.findLocked(folder)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}
	c.selected = folder
	e.Selected = true
	return e, nil
}

// Selected returns the selected folder, or "".
func (c *Catalog) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}
