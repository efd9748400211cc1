package processing

import (
	"errors"
	"fmt"
)

var ErrMarkerUnresolvable = errors.New("processing: window marker does not point at a retained sample")

// WindowMarker records the buffer position at the moment a labeled window
// ended.
type WindowMarker struct {
	Label   string
	LabelID int
	Offset  Offset
}

// LabeledWindow is one resampled window tied to its experiment condition.
// Degraded is set when fewer than two raw samples fell inside the window and
// its values come from extrapolation.
type LabeledWindow struct {
	Label    string
	LabelID  int
	EndTime  float64
	Degraded bool
	Window   ResampledWindow
}

// Segmenter cuts fixed-duration windows out of a sample buffer and resamples
// them at Rate. Margin seconds of raw data on each side are fed to the
// interpolant so the window edges are interpolated rather than extrapolated
// where data exists.
type Segmenter struct {
	Duration float64
	Rate     float64
	Margin   float64
}

// Samples returns the number of points in every window.
func (s Segmenter) Samples() int {
	return len(UniformGrid(0, s.Duration, s.Rate))
}

// Segment produces one window per marker, in marker order. A marker placed
// before the first sample arrived yields a degraded window ending at that
// first sample.
func (s Segmenter) Segment(buf *SampleBuffer, markers []WindowMarker) ([]LabeledWindow, error) {
	windows := make([]LabeledWindow, 0, len(markers))
	for i, m := range markers {
		end, early, err := buf.TimeBefore(m.Offset)
		if err != nil {
			return nil, fmt.Errorf("marker %d (%s): %w", i, m.Label, err)
		}

		window, degraded, err := s.Window(buf, end)
		if err != nil {
			return nil, fmt.Errorf("marker %d (%s): %w", i, m.Label, err)
		}

		windows = append(windows, LabeledWindow{
			Label:    m.Label,
			LabelID:  m.LabelID,
			EndTime:  end,
			Degraded: degraded || early,
			Window:   window,
		})
	}

	return windows, nil
}

// Window resamples the window ending at end.
func (s Segmenter) Window(buf *SampleBuffer, end float64) (ResampledWindow, bool, error) {
	start := end - s.Duration
	return s.resample(buf, buf.ReadRange(start-s.Margin, end+s.Margin), end)
}

// Trailing resamples the window ending at the latest sample. Only the
// trailing Duration+Margin seconds of the buffer are read.
func (s Segmenter) Trailing(buf *SampleBuffer) (window ResampledWindow, end float64, degraded bool, err error) {
	raw := buf.ReadSlice(s.Duration + s.Margin)
	if len(raw) == 0 {
		return ResampledWindow{}, 0, true, ErrNoSamples
	}
	end = raw[len(raw)-1].Timestamp

	window, degraded, err = s.resample(buf, raw, end)
	return window, end, degraded, err
}

// resample fits raw onto the grid ending at end. With fewer than two raw
// samples the nearest neighbours of end are used instead.
func (s Segmenter) resample(buf *SampleBuffer, raw []Sample, end float64) (ResampledWindow, bool, error) {
	start := end - s.Duration
	raw = sortedUnique(raw)

	inside := 0
	for _, sample := range raw {
		if sample.Timestamp >= start && sample.Timestamp <= end {
			inside++
		}
	}
	degraded := inside < 2

	if len(raw) < 2 {
		raw = sortedUnique(buf.Neighbors(end, 2))
	}

	window, err := ResampleSamples(raw, UniformGrid(end, s.Duration, s.Rate))
	if err != nil {
		return ResampledWindow{}, degraded, err
	}
	return window, degraded, nil
}
