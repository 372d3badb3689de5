// Package analysis derives trip level quantities from decoded CAN traffic.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/BIwashi/canseries/pkg/can"
)

// RateStats summarizes the instantaneous transmit rate (1/Δt, Hz) of one message id.
type RateStats struct {
	ID     uint32
	Frames int
	Mean   float64
	Median float64
	Std    float64
	Min    float64
	Max    float64
	IQR    float64
}

// Rates computes rate statistics per message id, ordered by id. Frames with a
// timestamp equal to the previous frame of the same id count once. Ids with fewer
// than two distinct timestamps are omitted.
func Rates(frames []can.RawFrame) []RateStats {
	times := make(map[uint32][]float64)
	for _, f := range frames {
		times[f.ID] = append(times[f.ID], f.Seconds())
	}
	ids := make([]uint32, 0, len(times))
	for id := range times {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]RateStats, 0, len(ids))
	for _, id := range ids {
		ts := times[id]
		sort.Float64s(ts)
		var rates []float64
		for i := 1; i < len(ts); i++ {
			if dt := ts[i] - ts[i-1]; dt > 0 {
				rates = append(rates, 1/dt)
			}
		}
		if len(rates) == 0 {
			continue
		}
		rs := RateStats{ID: id, Frames: len(ts)}
		rs.Mean, rs.Std = stat.PopMeanStdDev(rates, nil)
		sort.Float64s(rates)
		rs.Min, rs.Max = rates[0], rates[len(rates)-1]
		rs.Median = quantile(0.5, rates)
		rs.IQR = quantile(0.75, rates) - quantile(0.25, rates)
		out = append(out, rs)
	}
	return out
}

// quantile interpolates linearly between order statistics at h = (n-1)p.
// stat.LinInterp places h at np instead, which disagrees on small samples.
func quantile(p float64, sorted []float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// CountByID returns the number of frames per message id.
func CountByID(frames []can.RawFrame) map[uint32]int {
	out := make(map[uint32]int)
	for _, f := range frames {
		out[f.ID]++
	}
	return out
}

// CountByBus returns the number of frames per bus.
func CountByBus(frames []can.RawFrame) map[uint8]int {
	out := make(map[uint8]int)
	for _, f := range frames {
		out[f.Bus]++
	}
	return out
}
