// Package splits reads the per-lake train/val/test date lists the calendar
// uses to mark which dates the model was trained, validated or tested on.
package splits

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Split names, as used in the CSV header
const (
	Train = "train"
	Val   = "val"
	Test  = "test"
)

// Splits holds ISO dates (YYYY-MM-DD) per split.
type Splits struct {
	Train []string `json:"train"`
	Val   []string `json:"val"`
	Test  []string `json:"test"`
}

// Empty reports whether no dates were found.
func (s Splits) Empty() bool {
	return len(s.Train) == 0 && len(s.Val) == 0 && len(s.Test) == 0
}

// Classify returns the split date belongs to, or "".
func (s Splits) Classify(date string) string {
	switch {
	case lo.Contains(s.Train, date):
		return Train
	case lo.Contains(s.Val, date):
		return Val
	case lo.Contains(s.Test, date):
		return Test
	}
	return ""
}

func (s *Splits) column(name string) *[]string {
	switch name {
	case Train:
		return &s.Train
	case Val:
		return &s.Val
	case Test:
		return &s.Test
	}
	return nil
}

// ParseDate converts month/day/year to YYYY-MM-DD. Two-digit years are in
// the 2000s.
func ParseDate(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("date %q is not month/day/year", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", fmt.Errorf("date %q: %w", s, err)
		}
		nums[i] = n
	}
	month, day, year := nums[0], nums[1], nums[2]
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", fmt.Errorf("date %q out of range", s)
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
}

// Parse reads a split CSV. The header names the columns; unknown columns
// and invalid dates are skipped.
func Parse(r io.Reader, log logrus.FieldLogger) (Splits, error) {
	var out Splits
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("failed to read split header: %w", err)
	}

	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return out, fmt.Errorf("failed to read split line %d: %w", line, err)
		}
		for i, cell := range record {
			if i >= len(header) || strings.TrimSpace(cell) == "" {
				continue
			}
			dst := out.column(strings.TrimSpace(header[i]))
			if dst == nil {
				continue
			}
			date, err := ParseDate(cell)
			if err != nil {
				log.WithError(err).WithField("line", line).Debug("Skipping split date")
				continue
			}
			*dst = append(*dst, date)
		}
	}
	return out, nil
}

// Loader fetches and caches the splits of each lake. Failed fetches are not
// cached.
type Loader struct {
	fetch func(ctx context.Context, lakeInitial string) ([]byte, error)
	log   logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]Splits
}

// NewLoader creates a loader over fetch (normally api.Client.Splits).
func NewLoader(fetch func(ctx context.Context, lakeInitial string) ([]byte, error), log logrus.FieldLogger) *Loader {
	return &Loader{fetch: fetch, log: log, cache: make(map[string]Splits)}
}

// Load returns the splits for the lake with the given initial. On error the
// returned splits are empty and usable.
func (l *Loader) Load(ctx context.Context, lakeInitial string) (Splits, error) {
	l.mu.Lock()
	s, ok := l.cache[lakeInitial]
	l.mu.Unlock()
	if ok {
		return s, nil
	}

	data, err := l.fetch(ctx, lakeInitial)
	if err != nil {
		return Splits{}, fmt.Errorf("failed to load splits for %s: %w", lakeInitial, err)
	}
	s, err = Parse(bytes.NewReader(data), l.log)
	if err != nil {
		return Splits{}, err
	}
	if s.Empty() {
		l.log.WithField("lake", lakeInitial).Warn("No valid dates in split file")
	}

	l.mu.Lock()
	l.cache[lakeInitial] = s
	l.mu.Unlock()
	return s, nil
}
