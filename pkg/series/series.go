// Package series holds the timestamped sample sequences every analysis operator works on.
package series

import (
	"sort"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNonMonotonicTime is returned when a series has a timestamp earlier than its predecessor.
	ErrNonMonotonicTime = errors.New("timestamps not increasing")
	// ErrDuplicateTimestamp is returned when two adjacent samples share a timestamp.
	ErrDuplicateTimestamp = errors.New("duplicate timestamp")
	// ErrInsufficientSamples is returned when an operator has too few points to work with.
	ErrInsufficientSamples = errors.New("insufficient samples")
)

// Sample is one (time, value) pair. Time is seconds since epoch.
type Sample struct {
	Time  float64
	Value float64
}

// Series is an immutable ordered sequence of samples for one signal.
// Operators never modify a Series in place; they return a new one.
type Series struct {
	name    string
	samples []Sample
}

// New copies samples into a new series.
func New(name string, samples []Sample) Series {
	out := make([]Sample, len(samples))
	copy(out, samples)
	return Series{name: name, samples: out}
}

// FromSlices builds a series from parallel time and value slices.
func FromSlices(name string, times, values []float64) (Series, error) {
	if len(times) != len(values) {
		return Series{}, errors.Newf("series %s: %d times but %d values", name, len(times), len(values))
	}
	out := make([]Sample, len(times))
	for i := range times {
		out[i] = Sample{Time: times[i], Value: values[i]}
	}
	return Series{name: name, samples: out}, nil
}

// Name returns the signal name of the series.
func (s Series) Name() string { return s.name }

// WithName returns the same samples under a different name.
func (s Series) WithName(name string) Series {
	return Series{name: name, samples: s.samples}
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.samples) }

// At returns the i-th sample.
func (s Series) At(i int) Sample { return s.samples[i] }

// First returns the first sample. It panics on an empty series.
func (s Series) First() Sample { return s.samples[0] }

// Last returns the last sample. It panics on an empty series.
func (s Series) Last() Sample { return s.samples[len(s.samples)-1] }

// Samples returns a copy of the samples.
func (s Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Times returns a copy of the timestamps.
func (s Series) Times() []float64 {
	out := make([]float64, len(s.samples))
	for i, p := range s.samples {
		out[i] = p.Time
	}
	return out
}

// Values returns a copy of the values.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.samples))
	for i, p := range s.samples {
		out[i] = p.Value
	}
	return out
}

// Span returns the time between the first and last sample.
func (s Series) Span() float64 {
	if len(s.samples) < 2 {
		return 0
	}
	return s.Last().Time - s.First().Time
}

// Slice returns samples [i, j) as a new series.
func (s Series) Slice(i, j int) Series {
	return New(s.name, s.samples[i:j])
}

// Between returns the samples with t0 <= time <= t1. The series must be sorted.
func (s Series) Between(t0, t1 float64) Series {
	i := sort.Search(len(s.samples), func(k int) bool { return s.samples[k].Time >= t0 })
	j := sort.Search(len(s.samples), func(k int) bool { return s.samples[k].Time > t1 })
	if j < i {
		j = i
	}
	return s.Slice(i, j)
}

// Map applies fn to every value.
func (s Series) Map(fn func(Sample) float64) Series {
	out := make([]Sample, len(s.samples))
	for i, p := range s.samples {
		out[i] = Sample{Time: p.Time, Value: fn(p)}
	}
	return Series{name: s.name, samples: out}
}

// Scale multiplies every value by k.
func (s Series) Scale(k float64) Series {
	return s.Map(func(p Sample) float64 { return p.Value * k })
}

// Shift adds dt to every timestamp.
func (s Series) Shift(dt float64) Series {
	out := make([]Sample, len(s.samples))
	for i, p := range s.samples {
		out[i] = Sample{Time: p.Time + dt, Value: p.Value}
	}
	return Series{name: s.name, samples: out}
}

// Normalize sorts samples by time and removes duplicate timestamps, keeping the
// first occurrence in input order.
func Normalize(s Series) Series {
	out := s.Samples()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	n := 0
	for i, p := range out {
		if i > 0 && p.Time == out[n-1].Time {
			continue
		}
		out[n] = p
		n++
	}
	return Series{name: s.name, samples: out[:n]}
}

// Validate checks that timestamps are strictly increasing.
func Validate(s Series) error {
	for i := 1; i < len(s.samples); i++ {
		prev, cur := s.samples[i-1].Time, s.samples[i].Time
		switch {
		case cur < prev:
			return errors.Wrapf(ErrNonMonotonicTime, "series %s: sample %d at %g precedes %g", s.name, i, cur, prev)
		case cur == prev:
			return errors.Wrapf(ErrDuplicateTimestamp, "series %s: sample %d repeats %g", s.name, i, cur)
		}
	}
	return nil
}

// Require validates s and checks it has at least n samples.
func Require(s Series, n int) error {
	if err := Validate(s); err != nil {
		return err
	}
	if len(s.samples) < n {
		return errors.Wrapf(ErrInsufficientSamples, "series %s: %d samples, need %d", s.name, len(s.samples), n)
	}
	return nil
}
