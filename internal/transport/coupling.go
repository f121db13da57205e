package transport

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// exhausted is the remaining mass below which a marginal entry counts as used up.
const exhausted = 1e-15

// Cell is a (row, column) position in a coupling.
type Cell struct {
	Row, Col int
}

// #region comonotone

// Comonotone returns the north-west corner coupling: mass is matched in order,
// first source quantile to first target quantile, advancing whichever side is
// exhausted. It is the monotone coupling of mu and nu under the index orders.
func Comonotone(mu, nu []float64) (*mat.Dense, error) {
	if err := validateMarginal("mu", mu); err != nil {
		return nil, err
	}
	if err := validateMarginal("nu", nu); err != nil {
		return nil, err
	}
	mu, nu = normalized(mu), normalized(nu)
	gamma := mat.NewDense(len(mu), len(nu), nil)
	cells, masses := northWest(mu, nu)
	for k, cell := range cells {
		gamma.Set(cell.Row, cell.Col, masses[k])
	}
	return gamma, nil
}

// northWest walks from (0,0) to (n-1,m-1) one step at a time, so it always
// visits exactly n+m-1 cells, some of which may carry zero mass.
func northWest(mu, nu []float64) ([]Cell, []float64) {
	n, m := len(mu), len(nu)
	rowLeft := append([]float64(nil), mu...)
	colLeft := append([]float64(nil), nu...)

	cells := make([]Cell, 0, n+m-1)
	masses := make([]float64, 0, n+m-1)
	i, j := 0, 0
	for {
		mass := math.Min(rowLeft[i], colLeft[j])
		cells = append(cells, Cell{Row: i, Col: j})
		masses = append(masses, mass)
		rowLeft[i] -= mass
		colLeft[j] -= mass
		if i == n-1 && j == m-1 {
			break
		}
		switch {
		case i == n-1:
			j++
		case j == m-1:
			i++
		case rowLeft[i] <= exhausted:
			i++
		default:
			j++
		}
	}
	return cells, masses
}

// #endregion comonotone

// #region support

// Support lists the cells of gamma carrying more than tol mass, row-major.
func Support(gamma mat.Matrix, tol float64) []Cell {
	r, c := gamma.Dims()
	var cells []Cell
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if gamma.At(i, j) > tol {
				cells = append(cells, Cell{Row: i, Col: j})
			}
		}
	}
	return cells
}

// SupportsMatch reports whether a and b have the same shape and the same
// support at threshold tol.
func SupportsMatch(a, b mat.Matrix, tol float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if (a.At(i, j) > tol) != (b.At(i, j) > tol) {
				return false
			}
		}
	}
	return true
}

// IsMonotone reports whether the support of gamma contains no crossing pair:
// there are no (i,j), (i',j') with i < i' and j > j' both above tol.
func IsMonotone(gamma mat.Matrix, tol float64) bool {
	cells := Support(gamma, tol)
	for a := range cells {
		for b := a + 1; b < len(cells); b++ {
			p, q := cells[a], cells[b]
			if (p.Row < q.Row && p.Col > q.Col) || (p.Row > q.Row && p.Col < q.Col) {
				return false
			}
		}
	}
	return true
}

// Objective returns Σ γ[i,j]·cost[i,j].
func Objective(gamma, cost mat.Matrix) float64 {
	var prod mat.Dense
	prod.MulElem(gamma, cost)
	return mat.Sum(&prod)
}

// Marginals returns the row and column sums of gamma.
func Marginals(gamma mat.Matrix) (rows, cols []float64) {
	r, c := gamma.Dims()
	rows = make([]float64, r)
	cols = make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := gamma.At(i, j)
			rows[i] += v
			cols[j] += v
		}
	}
	return rows, cols
}

// #endregion support
