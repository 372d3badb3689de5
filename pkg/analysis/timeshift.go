package analysis

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/series"
)

// TimeShift estimates the offset to add to b's timestamps so that it lines up with a.
//
// Both series are resampled (nearest) at the coarser of their median sample intervals
// and cross-correlated; the shift is the start gap plus the best lag.
func TimeShift(a, b series.Series) (float64, error) {
	for _, s := range []series.Series{a, b} {
		if err := series.Require(s, 3); err != nil {
			return 0, errors.Wrap(err, "time shift")
		}
	}
	dt := max(medianStep(a), medianStep(b))
	ar, err := resample.Resample(a, 1/dt, resample.Nearest, true)
	if err != nil {
		return 0, errors.Wrapf(err, "time shift: resample %s", a.Name())
	}
	br, err := resample.Resample(b, 1/dt, resample.Nearest, true)
	if err != nil {
		return 0, errors.Wrapf(err, "time shift: resample %s", b.Name())
	}
	lag := bestLag(ar.Values(), br.Values())
	// the resampled grids are not exactly dt apart; use a's actual step
	step := ar.Span() / float64(ar.Len()-1)
	return ar.First().Time - br.First().Time + float64(lag)*step, nil
}

func medianStep(s series.Series) float64 {
	t := s.Times()
	d := make([]float64, len(t)-1)
	for i := range d {
		d[i] = t[i+1] - t[i]
	}
	sort.Float64s(d)
	n := len(d)
	if n%2 == 1 {
		return d[n/2]
	}
	return (d[n/2-1] + d[n/2]) / 2
}

// bestLag returns the lag k maximizing sum x[n+k]*y[n], for k in (-len(y), len(x)).
// Ties resolve to the most negative lag.
func bestLag(x, y []float64) int {
	n := len(x) + len(y) - 1
	fft := fourier.NewFFT(n)
	xp := make([]float64, n)
	yp := make([]float64, n)
	copy(xp, x)
	copy(yp, y)
	xc := fft.Coefficients(nil, xp)
	yc := fft.Coefficients(nil, yp)
	for i := range xc {
		xc[i] *= cmplx.Conj(yc[i])
	}
	corr := fft.Sequence(nil, xc)

	best, bestVal := 0, 0.0
	first := true
	// negative lags wrap to the end of the circular correlation
	for k := -(len(y) - 1); k < len(x); k++ {
		idx := k
		if idx < 0 {
			idx += n
		}
		if first || corr[idx] > bestVal+1e-9*math.Abs(bestVal) {
			best, bestVal, first = k, corr[idx], false
		}
	}
	return best
}
