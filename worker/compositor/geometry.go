package compositor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"plateCover/api/models"
)

var ErrDegenerateRegion = errors.New("degenerate region")

const eps = 1e-9

// OrderCorners returns the four points as top-left, top-right, bottom-right,
// bottom-left in image coordinates (y grows downward). Top-left has the
// smallest x+y, bottom-right the largest; top-right has the smallest y-x and
// bottom-left the largest. Ties resolve to the lower index. When ties make one
// point win two corners the points are ordered clockwise around their centroid
// starting from the top-left instead.
func OrderCorners(pts [4]models.Point) ([4]models.Point, error) {
	var sum, diff [4]float64
	for i, p := range pts {
		sum[i] = p.X + p.Y
		diff[i] = p.Y - p.X
	}

	idx := [4]int{argmin(sum), argmin(diff), argmax(sum), argmax(diff)}

	var ordered [4]models.Point
	if distinct(idx) {
		for i, j := range idx {
			ordered[i] = pts[j]
		}
	} else {
		ordered = clockwise(pts, idx[0])
	}

	if err := checkQuad(ordered); err != nil {
		return [4]models.Point{}, err
	}
	return ordered, nil
}

func argmin(v [4]float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func argmax(v [4]float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func distinct(idx [4]int) bool {
	var seen [4]bool
	for _, i := range idx {
		if seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

func clockwise(pts [4]models.Point, start int) [4]models.Point {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X / 4
		cy += p.Y / 4
	}

	angle := func(p models.Point) float64 {
		return math.Atan2(p.Y-cy, p.X-cx)
	}
	ref := angle(pts[start])
	rel := func(p models.Point) float64 {
		a := angle(p) - ref
		for a < 0 {
			a += 2 * math.Pi
		}
		return a
	}

	order := []int{0, 1, 2, 3}
	sort.SliceStable(order, func(a, b int) bool {
		if order[a] == start {
			return order[b] != start
		}
		if order[b] == start {
			return false
		}
		return rel(pts[order[a]]) < rel(pts[order[b]])
	})

	var out [4]models.Point
	for i, j := range order {
		out[i] = pts[j]
	}
	return out
}

// checkQuad rejects coincident corners and collinear triples.
func checkQuad(q [4]models.Point) error {
	for i := 0; i < 4; i++ {
		if !finite(q[i].X) || !finite(q[i].Y) {
			return fmt.Errorf("%w: non-finite corner %d", ErrDegenerateRegion, i)
		}
		for j := i + 1; j < 4; j++ {
			if math.Hypot(q[i].X-q[j].X, q[i].Y-q[j].Y) < eps {
				return fmt.Errorf("%w: corners %d and %d coincide", ErrDegenerateRegion, i, j)
			}
		}
	}

	for skip := 0; skip < 4; skip++ {
		var tri []models.Point
		for i := 0; i < 4; i++ {
			if i != skip {
				tri = append(tri, q[i])
			}
		}
		ax, ay := tri[1].X-tri[0].X, tri[1].Y-tri[0].Y
		bx, by := tri[2].X-tri[0].X, tri[2].Y-tri[0].Y
		cross := ax*by - ay*bx
		if math.Abs(cross) <= eps*math.Hypot(ax, ay)*math.Hypot(bx, by) {
			return fmt.Errorf("%w: collinear corners", ErrDegenerateRegion)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Matrix is a row-major 3x3 projective transform with m[8] == 1.
type Matrix [9]float64

// Apply maps (x, y). ok is false when the point lands on the line at infinity.
func (m Matrix) Apply(x, y float64) (float64, float64, bool) {
	w := m[6]*x + m[7]*y + m[8]
	if math.Abs(w) < eps {
		return 0, 0, false
	}
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w, true
}

// Homography solves for the perspective transform taking from[i] to to[i].
func Homography(from, to [4]models.Point) (Matrix, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := from[i].X, from[i].Y
		u, v := to[i].X, to[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		b.SetVec(2*i, u)
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Matrix{}, fmt.Errorf("%w: %v", ErrDegenerateRegion, err)
	}

	var m Matrix
	for i := 0; i < 8; i++ {
		m[i] = h.AtVec(i)
		if !finite(m[i]) {
			return Matrix{}, fmt.Errorf("%w: non-finite transform", ErrDegenerateRegion)
		}
	}
	m[8] = 1
	return m, nil
}
