package processing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

var (
	ErrNoSamples      = errors.New("processing: no samples to resample")
	ErrNotIncreasing  = errors.New("processing: sample timestamps are not strictly increasing")
	ErrLengthMismatch = errors.New("processing: times and values differ in length")
)

// ResampledWindow is a dense matrix of samples on a uniform time grid.
// Data[i][c] is channel c at Times[i].
type ResampledWindow struct {
	Times []float64
	Data  [][]float64
}

func (w ResampledWindow) Rows() int { return len(w.Data) }

func (w ResampledWindow) Cols() int {
	if len(w.Data) == 0 {
		return 0
	}
	return len(w.Data[0])
}

// Column returns a copy of channel c.
func (w ResampledWindow) Column(c int) []float64 {
	col := make([]float64, len(w.Data))
	for i, row := range w.Data {
		col[i] = row[c]
	}
	return col
}

// Resample evaluates the piecewise linear interpolant through (rawTimes,
// rawValues) at every target time. Targets outside the raw range continue the
// slope of the nearest edge segment. A single raw sample yields a constant.
func Resample(rawTimes, rawValues, targetTimes []float64) ([]float64, error) {
	n := len(rawTimes)
	if len(rawValues) != n {
		return nil, fmt.Errorf("%w: %d times, %d values", ErrLengthMismatch, n, len(rawValues))
	}
	if n == 0 {
		return nil, ErrNoSamples
	}

	out := make([]float64, len(targetTimes))
	if n == 1 {
		for i := range out {
			out[i] = rawValues[0]
		}
		return out, nil
	}

	for i := 1; i < n; i++ {
		// negated so NaN timestamps are rejected too
		if !(rawTimes[i] > rawTimes[i-1]) {
			return nil, fmt.Errorf("%w: t[%d]=%v after t[%d]=%v", ErrNotIncreasing, i, rawTimes[i], i-1, rawTimes[i-1])
		}
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(rawTimes, rawValues); err != nil {
		return nil, err
	}

	first, last := rawTimes[0], rawTimes[n-1]
	headSlope := (rawValues[1] - rawValues[0]) / (rawTimes[1] - rawTimes[0])
	tailSlope := (rawValues[n-1] - rawValues[n-2]) / (rawTimes[n-1] - rawTimes[n-2])

	for i, t := range targetTimes {
		switch {
		case t < first:
			out[i] = rawValues[0] + headSlope*(t-first)
		case t > last:
			out[i] = rawValues[n-1] + tailSlope*(t-last)
		default:
			out[i] = pl.Predict(t)
		}
	}

	return out, nil
}

// UniformGrid returns round(rate*duration) evenly spaced times spanning
// [end-duration, end], both ends included. Like linspace, a single point
// sits at the start.
func UniformGrid(end, duration, rate float64) []float64 {
	n := int(math.Round(rate * duration))
	if n <= 0 {
		return nil
	}

	start := end - duration
	if n == 1 {
		return []float64{start}
	}

	step := duration / float64(n-1)
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = start + float64(i)*step
	}
	grid[n-1] = end

	return grid
}

// ResampleSamples resamples every channel of samples onto grid. The samples
// are ordered by time first and repeated timestamps collapse to the last one.
func ResampleSamples(samples []Sample, grid []float64) (ResampledWindow, error) {
	samples = sortedUnique(samples)
	if len(samples) == 0 {
		return ResampledWindow{}, ErrNoSamples
	}

	channels := len(samples[0].Channels)
	times := make([]float64, len(samples))
	for i, s := range samples {
		if len(s.Channels) != channels {
			return ResampledWindow{}, fmt.Errorf("%w: sample %d has %d, want %d", ErrChannelMismatch, i, len(s.Channels), channels)
		}
		times[i] = s.Timestamp
	}

	data := make([][]float64, len(grid))
	backing := make([]float64, len(grid)*channels)
	for i := range data {
		data[i] = backing[i*channels : (i+1)*channels : (i+1)*channels]
	}

	values := make([]float64, len(samples))
	for c := 0; c < channels; c++ {
		for i, s := range samples {
			values[i] = s.Channels[c]
		}
		col, err := Resample(times, values, grid)
		if err != nil {
			return ResampledWindow{}, fmt.Errorf("channel %d: %w", c, err)
		}
		for i, v := range col {
			data[i][c] = v
		}
	}

	gridCopy := make([]float64, len(grid))
	copy(gridCopy, grid)
	return ResampledWindow{Times: gridCopy, Data: data}, nil
}

func sortedUnique(samples []Sample) []Sample {
	if strictlyIncreasing(samples) {
		return samples
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := sorted[:0]
	for _, s := range sorted {
		if len(out) > 0 && out[len(out)-1].Timestamp == s.Timestamp {
			out[len(out)-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

func strictlyIncreasing(samples []Sample) bool {
	for i := 1; i < len(samples); i++ {
		if !(samples[i].Timestamp > samples[i-1].Timestamp) {
			return false
		}
	}
	return true
}
