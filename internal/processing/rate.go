package processing

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RateStats summarises the instantaneous sampling rate of an acquisition, in Hz.
type RateStats struct {
	Min     float64
	Max     float64
	Average float64
	Samples int
}

// MeasureRate computes RateStats from consecutive sample timestamps.
func MeasureRate(times []float64) (RateStats, error) {
	if len(times) < 2 {
		return RateStats{}, fmt.Errorf("%w: need at least 2 timestamps, got %d", ErrNoSamples, len(times))
	}

	diffs := make([]float64, len(times)-1)
	for i := range diffs {
		diffs[i] = times[i+1] - times[i]
	}

	return RateStats{
		Min:     1 / floats.Max(diffs),
		Max:     1 / floats.Min(diffs),
		Average: 1 / stat.Mean(diffs, nil),
		Samples: len(times),
	}, nil
}

// Timestamps returns the timestamp of every sample.
func Timestamps(samples []Sample) []float64 {
	times := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.Timestamp
	}
	return times
}
