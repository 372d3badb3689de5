// Package calculus differentiates, integrates and smooths timestamped series.
package calculus

import (
	"log/slog"
	"strings"

	"github.com/SeanJxie/polygo"
	"github.com/cockroachdb/errors"
	"github.com/openacid/slimarray/polyfit"
	"github.com/pconstantinou/savitzkygolay"
	"gonum.org/v1/gonum/floats"

	"github.com/BIwashi/canseries/pkg/series"
)

// Strategy selects how a derivative is computed.
type Strategy int

const (
	// Spline differentiates an interpolating quartic spline analytically.
	Spline Strategy = iota
	// LearnedCurve fits a smooth curve to normalized data and finite-differences it.
	LearnedCurve
	// SavitzkyGolay applies a derivative Savitzky-Golay filter.
	SavitzkyGolay
)

const (
	splineDegree     = 4
	splineMinSamples = 6

	defaultDegree = 7
	defaultWindow = 11
	sgOrder       = 3
	denseFactor   = 50
)

func (s Strategy) String() string {
	switch s {
	case Spline:
		return "spline"
	case LearnedCurve:
		return "learned_curve"
	case SavitzkyGolay:
		return "savitzky_golay"
	}
	return "unknown"
}

// ParseStrategy maps a name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spline", "s", "":
		return Spline, nil
	case "learned_curve", "learned", "ae":
		return LearnedCurve, nil
	case "savitzky_golay", "sg":
		return SavitzkyGolay, nil
	}
	return 0, errors.Newf("unknown derivative strategy %q", name)
}

// Options tunes differentiation.
type Options struct {
	// Degree of the LearnedCurve polynomial. Zero means 7.
	Degree int
	// Dense evaluates LearnedCurve on 50 times more points than the input.
	Dense bool
	// Window of the Savitzky-Golay filter, odd. Zero means 11.
	Window int
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Integrate returns the cumulative trapezoidal integral of s starting at initial.
func Integrate(s series.Series, initial float64) (series.Series, error) {
	if err := series.Require(s, 1); err != nil {
		return series.Series{}, errors.Wrap(err, "integrate")
	}
	t, v := s.Times(), s.Values()
	areas := make([]float64, len(t))
	areas[0] = initial
	for i := 1; i < len(t); i++ {
		areas[i] = (v[i] + v[i-1]) / 2 * (t[i] - t[i-1])
	}
	return series.FromSlices(s.Name(), t, floats.CumSum(make([]float64, len(areas)), areas))
}

// Differentiate returns the time derivative of s.
func Differentiate(s series.Series, strategy Strategy, opts Options) (series.Series, error) {
	if err := series.Validate(s); err != nil {
		return series.Series{}, errors.Wrap(err, "differentiate")
	}
	switch strategy {
	case Spline:
		if s.Len() < splineMinSamples {
			opts.logger().Debug("too few samples for spline derivative, using learned curve",
				"series", s.Name(),
				"samples", s.Len(),
			)
			return learnedCurve(s, opts)
		}
		return splineDerivative(s)
	case LearnedCurve:
		return learnedCurve(s, opts)
	case SavitzkyGolay:
		return sgFilter(s, 1, opts.Window)
	}
	return series.Series{}, errors.Newf("unknown derivative strategy %d", int(strategy))
}

func splineDerivative(s series.Series) (series.Series, error) {
	t, v := s.Times(), s.Values()
	sp, err := interpolatingSpline(t, v, splineDegree)
	if err != nil {
		return series.Series{}, errors.Wrapf(err, "spline derivative of %s", s.Name())
	}
	d := sp.derivative()
	out := make([]float64, len(t))
	for i, x := range t {
		out[i] = d.eval(x)
	}
	return series.FromSlices(s.Name(), t, out)
}

func learnedCurve(s series.Series, opts Options) (series.Series, error) {
	if err := series.Require(s, 2); err != nil {
		return series.Series{}, errors.Wrap(err, "learned curve derivative")
	}
	t, v := s.Times(), s.Values()
	t0, t1 := t[0], t[len(t)-1]
	vmin, vmax := floats.Min(v), floats.Max(v)

	eval := make([]float64, len(t))
	for i := range t {
		eval[i] = (t[i] - t0) / (t1 - t0)
	}
	if opts.Dense {
		eval = floats.Span(make([]float64, len(t)*denseFactor), 0, 1)
	}

	fitted := make([]float64, len(eval))
	if vmax > vmin {
		tn := make([]float64, len(t))
		vn := make([]float64, len(v))
		for i := range t {
			tn[i] = (t[i] - t0) / (t1 - t0)
			vn[i] = (v[i] - vmin) / (vmax - vmin)
		}
		deg := opts.Degree
		if deg <= 0 {
			deg = defaultDegree
		}
		deg = min(deg, len(t)-1)
		coeffs := polyfit.NewFit(tn, vn, deg).Solve()
		poly, err := polygo.NewRealPolynomial(coeffs)
		if err != nil {
			return series.Series{}, errors.Wrapf(err, "learned curve of %s", s.Name())
		}
		for i, x := range eval {
			fitted[i] = poly.At(x)*(vmax-vmin) + vmin
		}
	} else {
		floats.AddConst(vmin, fitted)
	}

	times := t
	if opts.Dense {
		times = make([]float64, len(eval))
		for i, x := range eval {
			times[i] = x*(t1-t0) + t0
		}
		times[0], times[len(times)-1] = t0, t1
	}

	out := make([]float64, len(eval))
	for i := 1; i < len(eval); i++ {
		out[i] = (fitted[i] - fitted[i-1]) / (times[i] - times[i-1])
	}
	return series.FromSlices(s.Name(), times, out)
}

// Smooth applies a Savitzky-Golay smoothing filter of the given window.
func Smooth(s series.Series, window int) (series.Series, error) {
	if err := series.Validate(s); err != nil {
		return series.Series{}, errors.Wrap(err, "smooth")
	}
	return sgFilter(s, 0, window)
}

func sgFilter(s series.Series, deriv, window int) (series.Series, error) {
	if window <= 0 {
		window = defaultWindow
	}
	if window%2 == 0 {
		return series.Series{}, errors.Newf("savitzky-golay window must be odd, got %d", window)
	}
	if err := series.Require(s, window); err != nil {
		return series.Series{}, errors.Wrap(err, "savitzky-golay")
	}
	filter, err := savitzkygolay.NewFilter(window, deriv, sgOrder)
	if err != nil {
		return series.Series{}, errors.Wrap(err, "savitzky-golay filter")
	}
	t := s.Times()
	out, err := filter.Process(s.Values(), t)
	if err != nil {
		return series.Series{}, errors.Wrapf(err, "savitzky-golay %s", s.Name())
	}
	return series.FromSlices(s.Name(), t, out)
}

// Denoise applies a trailing moving average over window samples. The first window-1
// samples have no complete window and are dropped.
func Denoise(s series.Series, window int) (series.Series, error) {
	if err := series.Validate(s); err != nil {
		return series.Series{}, errors.Wrap(err, "denoise")
	}
	if window < 1 {
		return series.Series{}, errors.Newf("moving average window must be positive, got %d", window)
	}
	if window >= s.Len() {
		return series.Series{}, errors.Wrapf(series.ErrInsufficientSamples, "denoise %s: window %d over %d samples", s.Name(), window, s.Len())
	}
	t, v := s.Times(), s.Values()
	cum := floats.CumSum(make([]float64, len(v)), v)
	times := t[window-1:]
	out := make([]float64, len(times))
	for i := range out {
		end := i + window - 1
		sum := cum[end]
		if i > 0 {
			sum -= cum[i-1]
		}
		out[i] = sum / float64(window)
	}
	return series.FromSlices(s.Name(), times, out)
}
