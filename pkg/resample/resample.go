// Package resample regrids timestamped series onto uniform or caller-chosen time grids.
package resample

import (
	"math"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/BIwashi/canseries/pkg/series"
)

var (
	// ErrInvalidRate is returned for a non-positive or non-finite sampling rate.
	ErrInvalidRate = errors.New("invalid sampling rate")
	// ErrUnknownKind is returned for an interpolation kind that is not supported.
	ErrUnknownKind = errors.New("unknown interpolation kind")
	// ErrOutOfSpan is returned when a requested time lies outside the series.
	ErrOutOfSpan = errors.New("time outside series span")
)

// Kind selects the interpolation method.
type Kind int

const (
	Cubic Kind = iota
	Linear
	Nearest
)

func (k Kind) String() string {
	switch k {
	case Cubic:
		return "cubic"
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	}
	return "unknown"
}

// ParseKind maps a name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cubic", "":
		return Cubic, nil
	case "linear":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	}
	return 0, errors.Wrapf(ErrUnknownKind, "%q", name)
}

// Grid returns floor(span*rateHz) evenly spaced instants from first to last inclusive.
func Grid(first, last, rateHz float64) ([]float64, error) {
	if math.IsNaN(rateHz) || math.IsInf(rateHz, 0) || rateHz <= 0 {
		return nil, errors.Wrapf(ErrInvalidRate, "%g Hz", rateHz)
	}
	n := int(math.Floor((last - first) * rateHz))
	if n < 2 {
		return nil, errors.Wrapf(series.ErrInsufficientSamples, "%g Hz over %gs yields %d grid points", rateHz, last-first, n)
	}
	return floats.Span(make([]float64, n), first, last), nil
}

// Resample regrids s uniformly at rateHz. Categorical series always use Nearest
// so that output values stay within the input's value set.
func Resample(s series.Series, rateHz float64, kind Kind, categorical bool) (series.Series, error) {
	if err := series.Require(s, 2); err != nil {
		return series.Series{}, err
	}
	grid, err := Grid(s.First().Time, s.Last().Time, rateHz)
	if err != nil {
		return series.Series{}, errors.Wrapf(err, "resample %s", s.Name())
	}
	if categorical {
		kind = Nearest
	}
	return At(s, grid, kind)
}

// At evaluates s at the given times, which must lie within its span.
func At(s series.Series, times []float64, kind Kind) (series.Series, error) {
	if err := series.Require(s, 1); err != nil {
		return series.Series{}, err
	}
	first, last := s.First().Time, s.Last().Time
	tol := spanTolerance(first, last)
	for _, t := range times {
		if t < first-tol || t > last+tol {
			return series.Series{}, errors.Wrapf(ErrOutOfSpan, "series %s: %g not in [%g,%g]", s.Name(), t, first, last)
		}
	}
	predict, err := fit(s, kind)
	if err != nil {
		return series.Series{}, err
	}
	values := make([]float64, len(times))
	for i, t := range times {
		values[i] = predict(t)
	}
	return series.FromSlices(s.Name(), append([]float64(nil), times...), values)
}

// spanTolerance absorbs rounding on grid endpoints. It scales with the span, not
// with the absolute time, so epoch timestamps keep a tight bound.
func spanTolerance(first, last float64) float64 {
	ulp := math.Nextafter(math.Abs(last), math.Inf(1)) - math.Abs(last)
	return math.Max(1e-9*math.Max(1, last-first), 4*ulp)
}

func fit(s series.Series, kind Kind) (func(float64) float64, error) {
	xs, ys := s.Times(), s.Values()
	if len(xs) == 1 {
		v := ys[0]
		return func(float64) float64 { return v }, nil
	}
	switch kind {
	case Nearest:
		return nearest(xs, ys), nil
	case Linear:
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, errors.Wrap(err, "fit linear")
		}
		return pl.Predict, nil
	case Cubic:
		switch len(xs) {
		case 2:
			var pl interp.PiecewiseLinear
			if err := pl.Fit(xs, ys); err != nil {
				return nil, errors.Wrap(err, "fit linear")
			}
			return pl.Predict, nil
		case 3:
			return parabola(xs, ys), nil
		}
		var nc interp.NotAKnotCubic
		if err := nc.Fit(xs, ys); err != nil {
			return nil, errors.Wrap(err, "fit not-a-knot cubic")
		}
		return nc.Predict, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "kind %d", int(kind))
}

// nearest picks the closest sample; an exact midpoint resolves to the earlier one.
func nearest(xs, ys []float64) func(float64) float64 {
	return func(t float64) float64 {
		i := sort.SearchFloat64s(xs, t)
		switch {
		case i == 0:
			return ys[0]
		case i == len(xs):
			return ys[len(ys)-1]
		}
		if t-xs[i-1] <= xs[i]-t {
			return ys[i-1]
		}
		return ys[i]
	}
}

// parabola is the Lagrange polynomial through three points, which is what a
// not-a-knot cubic reduces to with three knots.
func parabola(xs, ys []float64) func(float64) float64 {
	x0, x1, x2 := xs[0], xs[1], xs[2]
	y0, y1, y2 := ys[0], ys[1], ys[2]
	return func(t float64) float64 {
		l0 := (t - x1) * (t - x2) / ((x0 - x1) * (x0 - x2))
		l1 := (t - x0) * (t - x2) / ((x1 - x0) * (x1 - x2))
		l2 := (t - x0) * (t - x1) / ((x2 - x0) * (x2 - x1))
		return y0*l0 + y1*l1 + y2*l2
	}
}
