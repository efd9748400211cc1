package processing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleConstant(t *testing.T) {
	out, err := Resample([]float64{0, 1, 2}, []float64{5, 5, 5}, []float64{-1, 0.5, 1.25, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 5, 5, 5}, out)
}

func TestResampleExactAtKnots(t *testing.T) {
	times := []float64{0, 0.5, 1.5, 2}
	values := []float64{1, 3, -2, 4}

	out, err := Resample(times, values, times)
	require.NoError(t, err)
	assert.Equal(t, values, out)
}

func TestResampleInterpolates(t *testing.T) {
	out, err := Resample([]float64{0, 1, 3}, []float64{0, 2, 0}, []float64{0.5, 2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1}, out, 1e-12)
}

func TestResampleExtrapolatesEdgeSlope(t *testing.T) {
	out, err := Resample([]float64{0, 1}, []float64{0, 2}, []float64{-1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 4}, out)

	// only the edge segment's slope is continued
	out, err = Resample([]float64{0, 1, 2}, []float64{0, 1, 5}, []float64{-1, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 9}, out, 1e-12)
}

func TestResampleSingleSample(t *testing.T) {
	out, err := Resample([]float64{3}, []float64{7.5}, []float64{0, 3, 10})
	require.NoError(t, err)
	assert.Equal(t, []float64{7.5, 7.5, 7.5}, out)
}

func TestResampleErrors(t *testing.T) {
	tests := []struct {
		name    string
		times   []float64
		values  []float64
		wantErr error
	}{
		{"no samples", nil, nil, ErrNoSamples},
		{"length mismatch", []float64{0, 1}, []float64{1}, ErrLengthMismatch},
		{"repeated timestamp", []float64{0, 1, 1}, []float64{1, 2, 3}, ErrNotIncreasing},
		{"decreasing", []float64{0, 2, 1}, []float64{1, 2, 3}, ErrNotIncreasing},
		{"nan timestamp", []float64{0, math.NaN(), 2}, []float64{1, 2, 3}, ErrNotIncreasing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resample(tt.times, tt.values, []float64{0.5})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUniformGrid(t *testing.T) {
	grid := UniformGrid(1.0, 0.5, 20)
	require.Len(t, grid, 10)
	assert.InDelta(t, 0.5, grid[0], 1e-12)
	assert.Equal(t, 1.0, grid[9])
	for i := 1; i < len(grid); i++ {
		assert.InDelta(t, 0.5/9, grid[i]-grid[i-1], 1e-12)
	}

	single := UniformGrid(2, 0.05, 20)
	require.Len(t, single, 1)
	assert.InDelta(t, 1.95, single[0], 1e-12)
	assert.Nil(t, UniformGrid(2, 0.01, 20))
	assert.Len(t, UniformGrid(10, 2, 50), 100)
}

func TestResampleSamples(t *testing.T) {
	samples := []Sample{
		{Timestamp: 0, Channels: []float64{0, 10}},
		{Timestamp: 1, Channels: []float64{2, 10}},
		{Timestamp: 2, Channels: []float64{4, 10}},
	}
	grid := []float64{0.5, 1.5, 3}

	w, err := ResampleSamples(samples, grid)
	require.NoError(t, err)
	assert.Equal(t, 3, w.Rows())
	assert.Equal(t, 2, w.Cols())
	assert.Equal(t, grid, w.Times)
	assert.InDeltaSlice(t, []float64{1, 3, 6}, w.Column(0), 1e-12)
	assert.Equal(t, []float64{10, 10, 10}, w.Column(1))

	grid[0] = 99
	assert.Equal(t, 0.5, w.Times[0])
}

func TestResampleSamplesOrdersAndDeduplicates(t *testing.T) {
	samples := []Sample{
		{Timestamp: 2, Channels: []float64{4}},
		{Timestamp: 0, Channels: []float64{0}},
		{Timestamp: 1, Channels: []float64{5}},
		{Timestamp: 1, Channels: []float64{2}},
	}

	w, err := ResampleSamples(samples, []float64{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4}, w.Column(0))

	// input order untouched
	assert.Equal(t, 2.0, samples[0].Timestamp)
}

func TestResampleSamplesErrors(t *testing.T) {
	_, err := ResampleSamples(nil, []float64{0})
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = ResampleSamples([]Sample{
		{Timestamp: 0, Channels: []float64{1, 2}},
		{Timestamp: 1, Channels: []float64{1}},
	}, []float64{0})
	assert.ErrorIs(t, err, ErrChannelMismatch)
}
