package processing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmenterSamples(t *testing.T) {
	assert.Equal(t, 10, Segmenter{Duration: 0.5, Rate: 20}.Samples())
	assert.Equal(t, 100, Segmenter{Duration: 2, Rate: 50}.Samples())
}

func TestSegmentSineWindow(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 64, 1)
	var marker WindowMarker
	for i := 0; i <= 20; i++ {
		ts := float64(i) / 10
		require.NoError(t, buf.Append(Sample{Timestamp: ts, Channels: []float64{math.Sin(2 * math.Pi * 2 * ts)}}))
		if i == 10 {
			marker = WindowMarker{Label: "Walk", LabelID: 4, Offset: buf.Cursor()}
		}
	}

	seg := Segmenter{Duration: 0.5, Rate: 20, Margin: 0.25}
	windows, err := seg.Segment(buf, []WindowMarker{marker})
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, "Walk", w.Label)
	assert.Equal(t, 4, w.LabelID)
	assert.Equal(t, 1.0, w.EndTime)
	assert.False(t, w.Degraded)
	assert.Equal(t, 10, w.Window.Rows())
	assert.Equal(t, 1, w.Window.Cols())
	assert.InDelta(t, 0.5, w.Window.Times[0], 1e-12)
	assert.Equal(t, 1.0, w.Window.Times[9])

	// one full period, odd about the window centre
	fv, err := ExtractFeatures(w.LabelID, w.Window)
	require.NoError(t, err)
	assert.InDelta(t, 0, fv.Features[0], 1e-9, "mean")
	assert.InDelta(t, 0, fv.Features[4], 1e-9, "|DC|")
}

func TestSegmentKeepsMarkerOrder(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 64, 2)
	var markers []WindowMarker
	labels := []string{"Run", "Nothing", "Run", "Squat"}
	for i := 0; i < 40; i++ {
		ts := float64(i) / 10
		require.NoError(t, buf.Append(Sample{Timestamp: ts, Channels: []float64{ts, 1}}))
		if i > 0 && i%10 == 0 {
			markers = append(markers, WindowMarker{Label: labels[len(markers)], LabelID: len(markers), Offset: buf.Cursor()})
		}
	}
	markers = append(markers, WindowMarker{Label: labels[3], LabelID: 3, Offset: buf.Cursor()})

	seg := Segmenter{Duration: 0.5, Rate: 20, Margin: 0.25}
	windows, err := seg.Segment(buf, markers)
	require.NoError(t, err)
	require.Len(t, windows, 4)

	wantEnds := []float64{1, 2, 3, 3.9}
	for i, w := range windows {
		assert.Equal(t, labels[i], w.Label)
		assert.Equal(t, i, w.LabelID)
		assert.InDelta(t, wantEnds[i], w.EndTime, 1e-12)
		assert.False(t, w.Degraded)
		// channel 0 is the timestamp itself, so linear resampling reproduces the grid
		assert.InDeltaSlice(t, w.Window.Times, w.Window.Column(0), 1e-9)
	}
}

func TestSegmentDegradedWindow(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 8, 1)
	require.NoError(t, buf.Append(Sample{Timestamp: 0, Channels: []float64{0}}))
	require.NoError(t, buf.Append(Sample{Timestamp: 1, Channels: []float64{2}}))

	seg := Segmenter{Duration: 0.5, Rate: 20, Margin: 0.25}
	windows, err := seg.Segment(buf, []WindowMarker{{Label: "Jump", LabelID: 2, Offset: 2}})
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.True(t, w.Degraded)
	assert.Equal(t, 10, w.Window.Rows())
	assert.InDelta(t, 1, w.Window.Data[0][0], 1e-12)
	assert.Equal(t, 2.0, w.Window.Data[9][0])
}

func TestSegmentSingleSampleIsConstant(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 8, 1)
	require.NoError(t, buf.Append(Sample{Timestamp: 3, Channels: []float64{1.5}}))

	window, degraded, err := Segmenter{Duration: 0.5, Rate: 20}.Window(buf, 3)
	require.NoError(t, err)
	assert.True(t, degraded)
	for _, v := range window.Column(0) {
		assert.Equal(t, 1.5, v)
	}
}

func TestSegmentUnresolvableMarker(t *testing.T) {
	buf := NewSampleBuffer(ModeCircular, 4, 2)
	fill(t, buf, 10)

	seg := Segmenter{Duration: 0.5, Rate: 20}
	_, err := seg.Segment(buf, []WindowMarker{
		{Label: "Walk", LabelID: 4, Offset: 10},
		{Label: "Run", LabelID: 3, Offset: 3},
	})
	assert.ErrorIs(t, err, ErrMarkerUnresolvable)
	assert.ErrorContains(t, err, "marker 1 (Run)")

	_, err = seg.Segment(buf, []WindowMarker{{Label: "Walk", Offset: 11}})
	assert.ErrorIs(t, err, ErrMarkerUnresolvable)
}

func TestSegmentMarkerBeforeFirstSample(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 64, 1)

	// the sensor was unreachable when the first window ended
	markers := []WindowMarker{{Label: "Jump", LabelID: 2, Offset: buf.Cursor()}}
	for i := 0; i < 20; i++ {
		ts := 5.5 + float64(i)/10
		require.NoError(t, buf.Append(Sample{Timestamp: ts, Channels: []float64{ts}}))
	}
	markers = append(markers, WindowMarker{Label: "Run", LabelID: 3, Offset: buf.Cursor()})

	seg := Segmenter{Duration: 0.5, Rate: 20, Margin: 0.25}
	windows, err := seg.Segment(buf, markers)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	first := windows[0]
	assert.Equal(t, "Jump", first.Label)
	assert.True(t, first.Degraded)
	assert.Equal(t, 5.5, first.EndTime)
	assert.Equal(t, 10, first.Window.Rows())
	// extrapolated backwards along the first segment
	assert.InDeltaSlice(t, first.Window.Times, first.Window.Column(0), 1e-9)

	second := windows[1]
	assert.Equal(t, "Run", second.Label)
	assert.False(t, second.Degraded)
	assert.InDelta(t, 7.4, second.EndTime, 1e-12)
}

func TestSegmentTrailing(t *testing.T) {
	buf := NewSampleBuffer(ModeCircular, 32, 1)
	for i := 0; i < 100; i++ {
		ts := float64(i) / 10
		require.NoError(t, buf.Append(Sample{Timestamp: ts, Channels: []float64{2 * ts}}))
	}

	seg := Segmenter{Duration: 0.5, Rate: 20, Margin: 0.25}
	window, end, degraded, err := seg.Trailing(buf)
	require.NoError(t, err)
	assert.InDelta(t, 9.9, end, 1e-12)
	assert.False(t, degraded)

	byEnd, _, err := seg.Window(buf, end)
	require.NoError(t, err)
	assert.Equal(t, byEnd, window)

	_, _, _, err = seg.Trailing(NewSampleBuffer(ModeCircular, 4, 1))
	assert.ErrorIs(t, err, ErrNoSamples)
}
