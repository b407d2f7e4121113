package mae

import (
	"errors"
	"math"
	"testing"

	"lesnet-viewer/internal/grid"
)

func TestCompute(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name      string
		layer     grid.ValueGrid
		reference grid.ValueGrid
		want      float64
		pairs     int
	}{
		{
			name:      "missing cell excluded",
			layer:     grid.ValueGrid{{1, 2}, {3, nan}},
			reference: grid.ValueGrid{{1, 1}, {1, 1}},
			want:      1.0,
			pairs:     3,
		},
		{
			name:      "missing reference cell excluded",
			layer:     grid.ValueGrid{{5, 2}},
			reference: grid.ValueGrid{{nan, 4}},
			want:      2.0,
			pairs:     1,
		},
		{
			name:      "no overlapping cells",
			layer:     grid.ValueGrid{{nan, 1}},
			reference: grid.ValueGrid{{2, nan}},
			want:      0,
			pairs:     0,
		},
		{
			name:      "identical grids",
			layer:     grid.ValueGrid{{1.5, -2}, {0, 9}},
			reference: grid.ValueGrid{{1.5, -2}, {0, 9}},
			want:      0,
			pairs:     4,
		},
		{
			name:      "empty grids",
			layer:     grid.ValueGrid{},
			reference: grid.ValueGrid{},
			want:      0,
			pairs:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.layer, tt.reference)
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if math.Abs(got.Value-tt.want) > 1e-12 || got.Pairs != tt.pairs {
				t.Errorf("got %+v, want value %v pairs %d", got, tt.want, tt.pairs)
			}
		})
	}
}

func TestComputeNoReference(t *testing.T) {
	if _, err := Compute(grid.ValueGrid{{1}}, nil); !errors.Is(err, ErrNoReference) {
		t.Errorf("err = %v, want ErrNoReference", err)
	}
	if _, err := Compute(nil, grid.ValueGrid{{1}}); !errors.Is(err, ErrNoReference) {
		t.Errorf("err = %v, want ErrNoReference", err)
	}
}

func TestComputeShapeMismatch(t *testing.T) {
	_, err := Compute(grid.ValueGrid{{1, 2}}, grid.ValueGrid{{1}, {2}})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	_, err = Compute(grid.ValueGrid{{1, 2}, {3}}, grid.ValueGrid{{1, 2}, {3, 4}})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("ragged: err = %v, want ErrShapeMismatch", err)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(Result{Value: 1}); got != "MAE: 1.0000" {
		t.Errorf("Format = %q", got)
	}
	if got := Format(Result{Value: 0.123456}); got != "MAE: 0.1235" {
		t.Errorf("Format = %q", got)
	}
}
