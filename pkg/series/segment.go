package series

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// Chunk splits s into maximal runs where every adjacent pair differs by at most threshold.
// Concatenating the chunks reproduces s.
func Chunk(s Series, threshold float64) ([]Series, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	if math.IsNaN(threshold) || threshold < 0 {
		return nil, errors.Newf("chunk threshold must be non-negative, got %g", threshold)
	}
	if s.Len() == 0 {
		return []Series{}, nil
	}
	var out []Series
	start := 0
	for i := 1; i < len(s.samples); i++ {
		if math.Abs(s.samples[i].Value-s.samples[i-1].Value) > threshold {
			out = append(out, s.Slice(start, i))
			start = i
		}
	}
	return append(out, s.Slice(start, len(s.samples))), nil
}

// SplitEvery cuts s into consecutive windows of the given length starting at the first sample.
// Empty windows are skipped.
func SplitEvery(s Series, window time.Duration) ([]Series, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, errors.Newf("split window must be positive, got %s", window)
	}
	if s.Len() == 0 {
		return []Series{}, nil
	}
	w := window.Seconds()
	t0 := s.First().Time
	var out []Series
	start := 0
	bucket := 0
	for i, p := range s.samples {
		b := int(math.Floor((p.Time - t0) / w))
		if b != bucket {
			out = append(out, s.Slice(start, i))
			start, bucket = i, b
		}
	}
	return append(out, s.Slice(start, len(s.samples))), nil
}
