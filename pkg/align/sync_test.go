package align_test

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canseries/pkg/align"
	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/series"
)

type recordSink struct {
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	s.records = append(s.records, r.Clone())
	return nil
}
func (s *recordSink) WithAttrs([]slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(string) slog.Handler      { return s }

func pts(name string, pairs ...float64) series.Series {
	var s []series.Sample
	for i := 0; i+1 < len(pairs); i += 2 {
		s = append(s, series.Sample{Time: pairs[i], Value: pairs[i+1]})
	}
	return series.New(name, s)
}

func TestSync_Scenario(t *testing.T) {
	a := pts("a", 0, 0, 1, 10, 2, 20)
	b := pts("b", 0.5, 5, 1.5, 15, 2.5, 25)

	aOut, bOut, err := align.Sync(a, b, align.InheritFromA(resample.Cubic))
	require.NoError(t, err)

	assert.Equal(t, []float64{0.5, 1, 2}, aOut.Times())
	assert.Equal(t, aOut.Times(), bOut.Times())
	assert.Equal(t, []float64{5, 10, 20}, aOut.Values())
	if diff := cmp.Diff([]float64{5, 10, 20}, bOut.Values(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("b values mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a", aOut.Name())
	assert.Equal(t, "b", bOut.Name())
}

func TestSync_AlignmentInvariant(t *testing.T) {
	a := pts("a")
	b := pts("b")
	for i := 0; i < 40; i++ {
		ta := 0.1 + float64(i)*0.13
		tb := float64(i) * 0.17
		a = series.New("a", append(a.Samples(), series.Sample{Time: ta, Value: math.Sin(ta)}))
		b = series.New("b", append(b.Samples(), series.Sample{Time: tb, Value: math.Cos(tb)}))
	}

	policies := []align.GridPolicy{
		align.InheritFromA(resample.Cubic),
		align.InheritFromB(resample.Linear),
		align.FixedRate(10, resample.Cubic),
		align.FixedRate(25, resample.Nearest),
	}
	for _, p := range policies {
		t.Run(p.String(), func(t *testing.T) {
			aOut, bOut, err := align.Sync(a, b, p)
			require.NoError(t, err)
			require.Equal(t, aOut.Times(), bOut.Times())
			assert.Equal(t, aOut.First().Time, bOut.First().Time)
			assert.Equal(t, aOut.Last().Time, bOut.Last().Time)
			assert.NoError(t, series.Validate(aOut))
			assert.InDelta(t, 0.1, aOut.First().Time, 1e-12)
			assert.InDelta(t, 39*0.13+0.1, aOut.Last().Time, 1e-12)
		})
	}
}

func TestSync_BoundaryNoOp(t *testing.T) {
	a := pts("a", 0, 1, 1, 2, 2, 3, 3, 4)
	b := pts("b", 0, 7, 0.5, 8, 2.5, 9, 3, 6)

	aOut, bOut, err := align.Sync(a, b, align.InheritFromB(resample.Linear))
	require.NoError(t, err)
	assert.Equal(t, series.Sample{Time: 0, Value: 7}, bOut.First())
	assert.Equal(t, series.Sample{Time: 3, Value: 6}, bOut.Last())
	assert.Equal(t, series.Sample{Time: 0, Value: 1}, aOut.First())
	assert.Equal(t, series.Sample{Time: 3, Value: 4}, aOut.Last())
}

func TestSync_Disjoint(t *testing.T) {
	a := pts("a", 0, 0, 1, 1, 2, 2)
	b := pts("b", 3, 0, 4, 1, 5, 2)

	_, _, err := align.Sync(a, b, align.InheritFromA(resample.Linear))
	assert.True(t, errors.Is(err, align.ErrDisjointTimeSpans))
	_, _, err = align.Sync(b, a, align.InheritFromA(resample.Linear))
	assert.True(t, errors.Is(err, align.ErrDisjointTimeSpans))
}

func TestSync_TooFewAfterTruncation(t *testing.T) {
	a := pts("a", 0, 0, 1, 1, 2, 2, 3, 3)
	b := pts("b", 2.5, 0, 3.5, 1, 4, 2, 5, 3)

	sink := &recordSink{}
	aOut, bOut, err := align.Options{Logger: slog.New(sink)}.Sync(a, b, align.InheritFromA(resample.Cubic))
	assert.True(t, errors.Is(err, series.ErrInsufficientSamples))
	// head alignment leaves a with (2.5, 2.5) and (3, 3)
	assert.Equal(t, []float64{2.5, 3}, aOut.Times())
	assert.Equal(t, 4, bOut.Len())

	require.Len(t, sink.records, 1)
	assert.Equal(t, slog.LevelWarn, sink.records[0].Level)
}

func TestSync_Preconditions(t *testing.T) {
	good := pts("g", 0, 0, 1, 1, 2, 2)

	_, _, err := align.Sync(pts("short", 0, 0, 1, 1), good, align.InheritFromA(resample.Linear))
	assert.True(t, errors.Is(err, series.ErrInsufficientSamples))

	_, _, err = align.Sync(pts("unsorted", 0, 0, 2, 1, 1, 2), good, align.InheritFromA(resample.Linear))
	assert.True(t, errors.Is(err, series.ErrNonMonotonicTime))

	_, _, err = align.Sync(good, pts("dup", 0, 0, 1, 1, 1, 2, 2, 2), align.InheritFromA(resample.Linear))
	assert.True(t, errors.Is(err, series.ErrDuplicateTimestamp))

	_, _, err = align.Sync(good, good, align.FixedRate(0, resample.Linear))
	assert.True(t, errors.Is(err, resample.ErrInvalidRate))
}

func TestStateSpace(t *testing.T) {
	a := pts("a", 0, 0, 1, 2, 2, 4, 3, 6, 4, 8)
	b := pts("b", 1, 1, 2, 2, 3, 3, 4, 4, 5, 5)
	c := pts("c", 0.5, 10, 1.5, 10, 2.5, 10, 3.5, 10)

	out, err := align.StateSpace(2, resample.Linear, a, b, c)
	require.NoError(t, err)
	require.Len(t, out, 3)

	grid := []float64{1, 1.625, 2.25, 2.875, 3.5}
	approx := cmpopts.EquateApprox(0, 1e-9)
	for i, s := range out {
		if diff := cmp.Diff(grid, s.Times(), approx); diff != "" {
			t.Errorf("series %d times (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, []string{out[0].Name(), out[1].Name(), out[2].Name()})
	if diff := cmp.Diff([]float64{2, 3.25, 4.5, 5.75, 7}, out[0].Values(), approx); diff != "" {
		t.Errorf("a values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(grid, out[1].Values(), approx); diff != "" {
		t.Errorf("b values (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{10, 10, 10, 10, 10}, out[2].Values(), approx); diff != "" {
		t.Errorf("c values (-want +got):\n%s", diff)
	}
}

func TestStateSpace_Errors(t *testing.T) {
	a := pts("a", 0, 0, 1, 1, 2, 2)
	late := pts("late", 5, 0, 6, 1, 7, 2)
	short := pts("short", 0, 0, 1, 1)

	_, err := align.StateSpace(10, resample.Linear)
	assert.True(t, errors.Is(err, series.ErrInsufficientSamples))

	_, err = align.StateSpace(10, resample.Linear, a, late)
	assert.True(t, errors.Is(err, align.ErrDisjointTimeSpans))

	_, err = align.StateSpace(10, resample.Linear, a, short)
	assert.True(t, errors.Is(err, series.ErrInsufficientSamples))

	_, err = align.StateSpace(0, resample.Linear, a, a)
	assert.True(t, errors.Is(err, resample.ErrInvalidRate))
}

func TestStateSpace_EpochTimes(t *testing.T) {
	const t0 = 1.7e9
	a := pts("a", t0, 0, t0+1, 1, t0+2, 2, t0+3, 3)
	b := pts("b", t0+0.5, 5, t0+1.5, 5, t0+2.5, 5, t0+3.5, 5)

	out, err := align.Options{Logger: slog.New(&recordSink{})}.StateSpace(4, resample.Cubic, a, b)
	require.NoError(t, err)
	assert.Equal(t, 10, out[0].Len())
	assert.InDelta(t, t0+0.5, out[0].First().Time, 1e-6)
	assert.InDelta(t, t0+3, out[1].Last().Time, 1e-6)
	assert.InDelta(t, 3, out[0].Last().Value, 1e-6)
}
