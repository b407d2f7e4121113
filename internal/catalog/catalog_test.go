package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"lesnet-viewer/internal/api"
)

func TestParseFolder(t *testing.T) {
	tests := []struct {
		name    string
		want    time.Time
		lake    string
		wantErr bool
	}{
		{"20241130_23e", time.Date(2024, 11, 30, 23, 0, 0, 0, time.UTC), "erie", false},
		{"2024113023e", time.Date(2024, 11, 30, 23, 0, 0, 0, time.UTC), "erie", false},
		{"20241201_06m", time.Date(2024, 12, 1, 6, 0, 0, 0, time.UTC), "michigan", false},
		{"2025010100o", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "ontario", false},
		{"20250101_12S", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), "superior", false},
		{"20250101_12h", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), "erie", false},
		{"20241130-23e", time.Time{}, "", true},
		{"2024113025e", time.Time{}, "", true},
		{"2024-11-30e", time.Time{}, "", true},
		{"latest", time.Time{}, "", true},
		{"", time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, lake, err := ParseFolder(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrBadFolder) {
					t.Fatalf("err = %v, want ErrBadFolder", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFolder: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("time = %v, want %v", got, tt.want)
			}
			if lake.ID != tt.lake {
				t.Errorf("lake = %q, want %q", lake.ID, tt.lake)
			}
		})
	}
}

type fakeLister struct {
	mu      sync.Mutex
	folders []api.Folder
	errs    []error
	calls   int
}

func (f *fakeLister) AvailableData(ctx context.Context) ([]api.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.folders, nil
}

func newCatalog(lister Lister, retries int) *Catalog {
	log, _ := test.NewNullLogger()
	c := New(lister, retries, log)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestRefreshSortsNewestFirst(t *testing.T) {
	lister := &fakeLister{folders: []api.Folder{
		{Folder: "20241130_23e", Lake: "erie", Ctime: 100},
		{Folder: "20241201_06m", Lake: "michigan", Ctime: 300},
		{Folder: "not-a-run", Ctime: 400},
		{Folder: "2024120112s", Ctime: 200},
	}}
	c := newCatalog(lister, 0)

	entries, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	want := []string{"20241201_06m", "2024120112s", "20241130_23e"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i, folder := range want {
		if entries[i].Folder != folder {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Folder, folder)
		}
	}
	if entries[0].Label != "2024-12-01 06:00 UTC" || entries[0].Lake.Name != "Michigan" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Lake.Name != "Superior" {
		t.Errorf("entry 1 lake = %q", entries[1].Lake.Name)
	}
}

func TestRefreshRetries(t *testing.T) {
	lister := &fakeLister{
		folders: []api.Folder{{Folder: "2024113023e", Ctime: 1}},
		errs:    []error{errors.New("connection reset"), &api.StatusError{Code: 503}},
	}
	c := newCatalog(lister, 3)

	entries, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(entries) != 1 || lister.calls != 3 {
		t.Errorf("entries = %d, calls = %d", len(entries), lister.calls)
	}
}

func TestRefreshGivesUp(t *testing.T) {
	down := errors.New("connection refused")
	lister := &fakeLister{errs: []error{down, down, down}}
	c := newCatalog(lister, 2)

	if _, err := c.Refresh(context.Background()); !errors.Is(err, down) {
		t.Errorf("err = %v", err)
	}
	if lister.calls != 3 {
		t.Errorf("calls = %d, want 3", lister.calls)
	}
}

func TestRefreshDoesNotRetryClientErrors(t *testing.T) {
	lister := &fakeLister{errs: []error{&api.StatusError{Code: 404}}}
	c := newCatalog(lister, 3)

	_, err := c.Refresh(context.Background())
	if !api.IsStatus(err, 404) {
		t.Errorf("err = %v", err)
	}
	if lister.calls != 1 {
		t.Errorf("calls = %d, want 1", lister.calls)
	}
}

func TestSelect(t *testing.T) {
	lister := &fakeLister{folders: []api.Folder{
		{Folder: "2024113023e", Ctime: 2},
		{Folder: "2024113022e", Ctime: 1},
	}}
	c := newCatalog(lister, 0)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := c.Select("2020010100e"); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("err = %v, want ErrUnknownFolder", err)
	}
	e, err := c.Select("2024113022e")
	if err != nil || !e.Selected {
		t.Fatalf("Select = %+v, %v", e, err)
	}
	entries := c.Entries()
	if entries[0].Selected || !entries[1].Selected {
		t.Errorf("selection flags = %v, %v", entries[0].Selected, entries[1].Selected)
	}

	// Selection is dropped once the folder disappears
	lister.folders = lister.folders[:1]
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Selected() != "" {
		t.Errorf("selected = %q", c.Selected())
	}
}
