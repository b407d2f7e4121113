// Package mae computes the mean absolute error between a displayed layer and
// the ground-truth reference layer of the same dataset.
package mae

import (
	"errors"
	"fmt"
	"math"

	"lesnet-viewer/internal/grid"
)

var (
	// ErrNoReference means one of the two grids has not been loaded.
	ErrNoReference = errors.New("reference grid not loaded")
	// ErrShapeMismatch means the grids do not pair cell for cell.
	ErrShapeMismatch = errors.New("grid shapes differ")
)

// Result is a computed error metric. Pairs is the number of cells that
// contributed; a result with zero pairs has Value 0.
type Result struct {
	Value float64
	Pairs int
}

// Compute averages |layer - reference| over the cells where both values are
// finite numbers. Cells that are missing on either side are excluded rather
// than treated as zero.
func Compute(layer, reference grid.ValueGrid) (Result, error) {
	if layer == nil || reference == nil {
		return Result{}, ErrNoReference
	}
	if !layer.SameShape(reference) {
		return Result{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch,
			layer.Rows(), layer.Cols(), reference.Rows(), reference.Cols())
	}

	var sum float64
	var n int
	for i, row := range layer {
		ref := reference[i]
		for j, v := range row {
			r := ref[j]
			if !valid(v) || !valid(r) {
				continue
			}
			sum += math.Abs(v - r)
			n++
		}
	}
	if n == 0 {
		return Result{}, nil
	}
	return Result{Value: sum / float64(n), Pairs: n}, nil
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Format renders a result the way the panel badge shows it.
func Format(r Result) string {
	return fmt.Sprintf("MAE: %.4f", r.Value)
}
