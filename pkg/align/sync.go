// Package align puts independently sampled series onto identical sample instants.
package align

import (
	"log/slog"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/series"
)

// ErrDisjointTimeSpans is returned when two series do not overlap in time.
var ErrDisjointTimeSpans = errors.New("time spans do not overlap")

// MinSamples is the fewest samples each series must keep after boundary truncation.
const MinSamples = 3

type gridMode int

const (
	inheritA gridMode = iota
	inheritB
	fixedRate
)

// GridPolicy selects the common time grid of the synchronized output.
type GridPolicy struct {
	mode   gridMode
	RateHz float64
	Kind   resample.Kind
}

// InheritFromA interpolates b onto a's timestamps.
func InheritFromA(kind resample.Kind) GridPolicy {
	return GridPolicy{mode: inheritA, Kind: kind}
}

// InheritFromB interpolates a onto b's timestamps.
func InheritFromB(kind resample.Kind) GridPolicy {
	return GridPolicy{mode: inheritB, Kind: kind}
}

// FixedRate resamples both series onto a uniform grid over the common span.
func FixedRate(rateHz float64, kind resample.Kind) GridPolicy {
	return GridPolicy{mode: fixedRate, RateHz: rateHz, Kind: kind}
}

// Fixed reports whether the policy regrids onto a uniform rate.
func (p GridPolicy) Fixed() bool {
	return p.mode == fixedRate
}

func (p GridPolicy) String() string {
	switch p.mode {
	case inheritA:
		return "inherit-a/" + p.Kind.String()
	case inheritB:
		return "inherit-b/" + p.Kind.String()
	}
	return "fixed-rate/" + p.Kind.String()
}

// Options configures synchronization.
type Options struct {
	Logger *slog.Logger
}

// Sync aligns a and b with default options.
func Sync(a, b series.Series, policy GridPolicy) (series.Series, series.Series, error) {
	return Options{}.Sync(a, b, policy)
}

// Sync aligns the boundaries of a and b by linear interpolation, truncates both to the
// common span and regrids them according to policy. The returned series have
// identical timestamps.
//
// If fewer than MinSamples remain after truncation the truncated series are returned
// together with series.ErrInsufficientSamples.
func (o Options) Sync(a, b series.Series, policy GridPolicy) (series.Series, series.Series, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range []series.Series{a, b} {
		if err := series.Require(s, MinSamples); err != nil {
			return series.Series{}, series.Series{}, errors.Wrap(err, "sync")
		}
	}
	if a.Last().Time < b.First().Time || b.Last().Time < a.First().Time {
		return series.Series{}, series.Series{}, errors.Wrapf(ErrDisjointTimeSpans,
			"%s [%g,%g] and %s [%g,%g]", a.Name(), a.First().Time, a.Last().Time, b.Name(), b.First().Time, b.Last().Time)
	}

	as, bs := a.Samples(), b.Samples()

	// head
	switch start := bs[0].Time; {
	case as[0].Time < start:
		as = alignHead(as, start)
	case bs[0].Time < as[0].Time:
		bs = alignHead(bs, as[0].Time)
	}
	if len(as) < MinSamples || len(bs) < MinSamples {
		return o.tooFew(logger, a, b, as, bs)
	}

	// tail
	switch end := bs[len(bs)-1].Time; {
	case as[len(as)-1].Time > end:
		as = alignTail(as, end)
	case bs[len(bs)-1].Time > as[len(as)-1].Time:
		bs = alignTail(bs, as[len(as)-1].Time)
	}
	if len(as) < MinSamples || len(bs) < MinSamples {
		return o.tooFew(logger, a, b, as, bs)
	}

	at := series.New(a.Name(), as)
	bt := series.New(b.Name(), bs)

	var err error
	switch policy.mode {
	case inheritA:
		bt, err = resample.At(bt, at.Times(), policy.Kind)
	case inheritB:
		at, err = resample.At(at, bt.Times(), policy.Kind)
	case fixedRate:
		var grid []float64
		grid, err = resample.Grid(at.First().Time, at.Last().Time, policy.RateHz)
		if err != nil {
			break
		}
		if at, err = resample.At(at, grid, policy.Kind); err != nil {
			break
		}
		bt, err = resample.At(bt, grid, policy.Kind)
	}
	if err != nil {
		return series.Series{}, series.Series{}, errors.Wrapf(err, "sync %s/%s (%s)", a.Name(), b.Name(), policy)
	}
	logger.Debug("synchronized series",
		"series_a", a.Name(),
		"series_b", b.Name(),
		"policy", policy.String(),
		"samples", at.Len(),
	)
	return at, bt, nil
}

func (o Options) tooFew(logger *slog.Logger, a, b series.Series, as, bs []series.Sample) (series.Series, series.Series, error) {
	logger.Warn("too few samples after truncation, skipping resampling",
		"series_a", a.Name(),
		"series_b", b.Name(),
		"samples_a", len(as),
		"samples_b", len(bs),
	)
	return series.New(a.Name(), as), series.New(b.Name(), bs), errors.Wrapf(series.ErrInsufficientSamples,
		"sync %s/%s: %d and %d samples after truncation", a.Name(), b.Name(), len(as), len(bs))
}

// alignHead inserts a sample at t and drops everything earlier.
func alignHead(s []series.Sample, t float64) []series.Sample {
	p := interpolateAt(s, t)
	i := sort.Search(len(s), func(k int) bool { return s[k].Time > t })
	out := make([]series.Sample, 0, len(s)-i+1)
	out = append(out, p)
	return append(out, s[i:]...)
}

// alignTail inserts a sample at t and drops everything later.
func alignTail(s []series.Sample, t float64) []series.Sample {
	p := interpolateAt(s, t)
	i := sort.Search(len(s), func(k int) bool { return s[k].Time >= t })
	out := make([]series.Sample, 0, i+1)
	out = append(out, s[:i]...)
	return append(out, p)
}

// interpolateAt linearly interpolates s at t from its bracketing samples.
// An existing sample at t is returned as is.
func interpolateAt(s []series.Sample, t float64) series.Sample {
	i := sort.Search(len(s), func(k int) bool { return s[k].Time >= t })
	if i < len(s) && s[i].Time == t {
		return s[i]
	}
	p1, p2 := s[i-1], s[i]
	return series.Sample{
		Time:  t,
		Value: p1.Value + (p2.Value-p1.Value)/(p2.Time-p1.Time)*(t-p1.Time),
	}
}

// StateSpace aligns with default options.
func StateSpace(rateHz float64, kind resample.Kind, ss ...series.Series) ([]series.Series, error) {
	return Options{}.StateSpace(rateHz, kind, ss...)
}

// StateSpace resamples every series onto one uniform grid at rateHz spanning the
// interval all of them cover. Output order follows the input order.
func (o Options) StateSpace(rateHz float64, kind resample.Kind, ss ...series.Series) ([]series.Series, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(ss) == 0 {
		return nil, errors.Wrap(series.ErrInsufficientSamples, "state space: no series")
	}
	start, end := math.Inf(-1), math.Inf(1)
	for _, s := range ss {
		if err := series.Require(s, MinSamples); err != nil {
			return nil, errors.Wrap(err, "state space")
		}
		start = math.Max(start, s.First().Time)
		end = math.Min(end, s.Last().Time)
	}
	if end < start {
		return nil, errors.Wrapf(ErrDisjointTimeSpans, "state space of %d series: [%g,%g]", len(ss), start, end)
	}

	grid, err := resample.Grid(start, end, rateHz)
	if err != nil {
		return nil, errors.Wrap(err, "state space")
	}
	out := make([]series.Series, len(ss))
	for i, s := range ss {
		if out[i], err = resample.At(s, grid, kind); err != nil {
			return nil, errors.Wrapf(err, "state space %s", s.Name())
		}
	}
	logger.Debug("built state space",
		"series", len(ss),
		"rate_hz", rateHz,
		"samples", len(grid),
	)
	return out, nil
}
