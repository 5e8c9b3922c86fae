package routing

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aquamarket/dispatch/core/geo"
	"github.com/aquamarket/dispatch/core/model"
)

// matrix holds pairwise haversine distances between nodes.
type matrix struct {
	d *mat.SymDense
	n int
}

func newMatrix(pts []model.Point) *matrix {
	n := len(pts)
	if n == 0 {
		return &matrix{}
	}
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, geo.Distance(pts[i], pts[j]))
		}
	}
	return &matrix{d: d, n: n}
}

func (m *matrix) at(i, j int) float64 { return m.d.At(i, j) }

// cost is the open path length of tour.
func (m *matrix) cost(tour []int) float64 {
	total := 0.0
	for i := 1; i < len(tour); i++ {
		total += m.at(tour[i-1], tour[i])
	}
	return total
}
