package calculus

import (
	"math"

	"github.com/cockroachdb/errors"
)

// bspline is a B-spline of degree k over knots t with coefficients c.
type bspline struct {
	t []float64
	c []float64
	k int
}

// interpolatingSpline fits the degree k spline passing through every (x, y) pair.
// Knots follow FITPACK's s=0 placement: k+1 repeated end knots, and interior knots at
// data points (odd k) or at midpoints between data points (even k).
func interpolatingSpline(x, y []float64, k int) (*bspline, error) {
	m := len(x)
	if m < k+1 {
		return nil, errors.Newf("spline of degree %d needs %d points, got %d", k, k+1, m)
	}
	t := make([]float64, 0, m+k+1)
	for i := 0; i <= k; i++ {
		t = append(t, x[0])
	}
	half := k / 2
	for l := 0; l < m-k-1; l++ {
		if k%2 == 0 {
			t = append(t, (x[l+half]+x[l+half+1])/2)
		} else {
			t = append(t, x[l+half+1])
		}
	}
	for i := 0; i <= k; i++ {
		t = append(t, x[m-1])
	}

	sp := &bspline{t: t, k: k}
	a := newBanded(m)
	for i, xi := range x {
		mu := sp.span(xi, m)
		n := basis(t, k, mu, xi)
		for r := 0; r <= k; r++ {
			a.set(i, mu-k+r, n[r])
		}
	}
	c, err := a.solve(y)
	if err != nil {
		return nil, errors.Wrap(err, "solve collocation system")
	}
	sp.c = c
	return sp, nil
}

// span returns mu with t[mu] <= x < t[mu+1], clamped to the last non-empty interval.
func (s *bspline) span(x float64, n int) int {
	if x >= s.t[n] {
		mu := n - 1
		for mu > s.k && s.t[mu] == s.t[mu+1] {
			mu--
		}
		return mu
	}
	lo, hi := s.k, n
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if x < s.t[mid] {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

// eval evaluates the spline at x.
func (s *bspline) eval(x float64) float64 {
	n := len(s.c)
	mu := s.span(x, n)
	b := basis(s.t, s.k, mu, x)
	var v float64
	for r := 0; r <= s.k; r++ {
		v += s.c[mu-s.k+r] * b[r]
	}
	return v
}

// derivative returns the degree k-1 spline that is the derivative of s.
func (s *bspline) derivative() *bspline {
	n := len(s.c)
	d := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		den := s.t[i+s.k+1] - s.t[i+1]
		if den != 0 {
			d[i] = float64(s.k) * (s.c[i+1] - s.c[i]) / den
		}
	}
	return &bspline{t: s.t[1 : len(s.t)-1], c: d, k: s.k - 1}
}

// basis returns the k+1 non-zero basis functions at x for span mu (de Boor-Cox).
func basis(t []float64, k, mu int, x float64) []float64 {
	n := make([]float64, k+1)
	left := make([]float64, k+1)
	right := make([]float64, k+1)
	n[0] = 1
	for j := 1; j <= k; j++ {
		left[j] = x - t[mu+1-j]
		right[j] = t[mu+j] - x
		var saved float64
		for r := 0; r < j; r++ {
			den := right[r+1] + left[j-r]
			var tmp float64
			if den != 0 {
				tmp = n[r] / den
			}
			n[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		n[j] = saved
	}
	return n
}

// banded is a square matrix stored by rows over the occupied column window.
// Collocation matrices of B-splines are totally positive, so elimination needs no pivoting.
type banded struct {
	n    int
	rows []map[int]float64
}

func newBanded(n int) *banded {
	rows := make([]map[int]float64, n)
	for i := range rows {
		rows[i] = make(map[int]float64)
	}
	return &banded{n: n, rows: rows}
}

func (b *banded) set(i, j int, v float64) {
	if v != 0 {
		b.rows[i][j] = v
	}
}

func (b *banded) solve(rhs []float64) ([]float64, error) {
	y := append([]float64(nil), rhs...)
	lo := make([]int, b.n)
	hi := make([]int, b.n)
	for i, row := range b.rows {
		lo[i], hi[i] = b.n, -1
		for j := range row {
			lo[i] = min(lo[i], j)
			hi[i] = max(hi[i], j)
		}
	}
	for p := 0; p < b.n; p++ {
		piv := b.rows[p][p]
		if math.Abs(piv) < 1e-300 {
			return nil, errors.Newf("singular collocation matrix at row %d", p)
		}
		for i := p + 1; i < b.n && lo[i] <= p; i++ {
			f := b.rows[i][p] / piv
			if f == 0 {
				continue
			}
			for j := p; j <= hi[p]; j++ {
				if v, ok := b.rows[p][j]; ok {
					b.rows[i][j] -= f * v
				}
			}
			delete(b.rows[i], p)
			hi[i] = max(hi[i], hi[p])
			y[i] -= f * y[p]
		}
	}
	x := make([]float64, b.n)
	for i := b.n - 1; i >= 0; i-- {
		s := y[i]
		for j := i + 1; j <= hi[i]; j++ {
			s -= b.rows[i][j] * x[j]
		}
		x[i] = s / b.rows[i][i]
	}
	return x, nil
}
