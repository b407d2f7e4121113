package grid

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// ValueGrid is the numeric grid behind one layer, indexed [row][col].
// Invalid or non-numeric cells hold NaN.
type ValueGrid [][]float64

// Rows returns the grid height.
func (g ValueGrid) Rows() int { return len(g) }

// Cols returns the width of the first row.
func (g ValueGrid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// SameShape reports whether g and o have identical row lengths.
func (g ValueGrid) SameShape(o ValueGrid) bool {
	if len(g) != len(o) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(o[i]) {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts numbers, nulls and any other JSON value per cell;
// everything that is not a number decodes to NaN.
func (g *ValueGrid) UnmarshalJSON(data []byte) error {
	var rows [][]cell
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	out := make(ValueGrid, len(rows))
	for i, row := range rows {
		r := make([]float64, len(row))
		for j, c := range row {
			r[j] = float64(c)
		}
		out[i] = r
	}
	*g = out
	return nil
}

type cell float64

func (c *cell) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		*c = cell(math.NaN())
		return nil
	}
	switch b[0] {
	case 'n', 't', 'f', '"', '[', '{':
		*c = cell(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*c = cell(math.NaN())
		return nil
	}
	*c = cell(f)
	return nil
}
