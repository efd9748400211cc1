package processing

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, buf *SampleBuffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := float64(i)
		require.NoError(t, buf.Append(Sample{Timestamp: ts, Channels: []float64{ts, -ts}}))
	}
}

func timestampsOf(samples []Sample) []float64 {
	return Timestamps(samples)
}

func TestSampleBufferAppendOrder(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 5, 2)
	fill(t, buf, 3)

	want := []Sample{
		{Timestamp: 0, Channels: []float64{0, 0}},
		{Timestamp: 1, Channels: []float64{1, -1}},
		{Timestamp: 2, Channels: []float64{2, -2}},
	}
	if diff := cmp.Diff(want, buf.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, Offset(3), buf.Cursor())

	latest, ok := buf.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Timestamp)
}

func TestSampleBufferEmpty(t *testing.T) {
	buf := NewSampleBuffer(ModeCircular, 4, 1)

	_, ok := buf.Latest()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadSlice(10))
	assert.Nil(t, buf.Snapshot())
	assert.Equal(t, 0, buf.Len())
}

func TestSampleBufferAppendModeFull(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 2, 2)
	fill(t, buf, 2)

	err := buf.Append(Sample{Timestamp: 5, Channels: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, []float64{0, 1}, timestampsOf(buf.Snapshot()))
}

func TestSampleBufferChannelMismatch(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 2, 3)

	err := buf.Append(Sample{Timestamp: 0, Channels: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrChannelMismatch)
	assert.Equal(t, 0, buf.Len())
}

func TestSampleBufferCircularWrap(t *testing.T) {
	buf := NewSampleBuffer(ModeCircular, 4, 2)
	fill(t, buf, 10)

	assert.Equal(t, 4, buf.Len())
	assert.Equal(t, Offset(10), buf.Cursor())
	assert.Equal(t, []float64{6, 7, 8, 9}, timestampsOf(buf.Snapshot()))

	for _, s := range buf.Snapshot() {
		assert.Equal(t, []float64{s.Timestamp, -s.Timestamp}, s.Channels)
	}
}

func TestSampleBufferReadSlice(t *testing.T) {
	tests := []struct {
		name     string
		mode     BufferMode
		capacity int
		written  int
		span     float64
		want     []float64
	}{
		{"trailing span", ModeAppend, 20, 10, 3, []float64{6, 7, 8, 9}},
		{"zero span", ModeAppend, 20, 10, 0, []float64{9}},
		{"span wider than data", ModeAppend, 20, 3, 100, []float64{0, 1, 2}},
		{"truncated at wrap", ModeCircular, 4, 10, 100, []float64{6, 7, 8, 9}},
		{"inside wrapped data", ModeCircular, 4, 10, 1, []float64{8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewSampleBuffer(tt.mode, tt.capacity, 2)
			fill(t, buf, tt.written)

			assert.Equal(t, tt.want, timestampsOf(buf.ReadSlice(tt.span)))
		})
	}
}

func TestSampleBufferReadRange(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 20, 2)
	fill(t, buf, 10)

	assert.Equal(t, []float64{3, 4, 5}, timestampsOf(buf.ReadRange(2.5, 5)))
	assert.Equal(t, []float64{0, 1}, timestampsOf(buf.ReadRange(-3, 1)))
	assert.Nil(t, buf.ReadRange(20, 30))
	assert.Nil(t, buf.ReadRange(4.2, 4.8))
}

func TestSampleBufferNeighbors(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 20, 2)
	fill(t, buf, 10)

	assert.Equal(t, []float64{3, 4, 5, 6}, timestampsOf(buf.Neighbors(4.5, 2)))
	assert.Equal(t, []float64{0, 1}, timestampsOf(buf.Neighbors(-1, 2)))
	assert.Equal(t, []float64{8, 9}, timestampsOf(buf.Neighbors(50, 2)))
}

func TestSampleBufferTimeBefore(t *testing.T) {
	buf := NewSampleBuffer(ModeCircular, 4, 2)
	fill(t, buf, 10)

	end, early, err := buf.TimeBefore(10)
	require.NoError(t, err)
	assert.Equal(t, 9.0, end)
	assert.False(t, early)

	end, early, err = buf.TimeBefore(7)
	require.NoError(t, err)
	assert.Equal(t, 6.0, end)
	assert.False(t, early)

	// 0, 3 and 6 point at overwritten samples, 11 is past the cursor
	for _, off := range []Offset{0, 3, 6, 11} {
		_, _, err := buf.TimeBefore(off)
		assert.ErrorIs(t, err, ErrMarkerUnresolvable, "offset %d", off)
	}
}

func TestSampleBufferTimeBeforeFirstSample(t *testing.T) {
	for _, mode := range []BufferMode{ModeAppend, ModeCircular} {
		t.Run(mode.String(), func(t *testing.T) {
			buf := NewSampleBuffer(mode, 8, 2)

			// a marker taken before anything arrived
			_, _, err := buf.TimeBefore(0)
			assert.ErrorIs(t, err, ErrMarkerUnresolvable)

			require.NoError(t, buf.Append(Sample{Timestamp: 4.5, Channels: []float64{1, 2}}))
			require.NoError(t, buf.Append(Sample{Timestamp: 4.6, Channels: []float64{1, 2}}))

			end, early, err := buf.TimeBefore(0)
			require.NoError(t, err)
			assert.True(t, early)
			assert.Equal(t, 4.5, end)
		})
	}
}

func TestSampleBufferReadsAreCopies(t *testing.T) {
	buf := NewSampleBuffer(ModeAppend, 4, 2)
	fill(t, buf, 2)

	got := buf.Snapshot()
	got[0].Channels[0] = 100
	got[1].Channels = append(got[1].Channels, 5)

	assert.Equal(t, []float64{0, 0}, buf.Snapshot()[0].Channels)
	assert.Equal(t, []float64{1, -1}, buf.Snapshot()[1].Channels)

	in := []float64{7, 8}
	require.NoError(t, buf.Append(Sample{Timestamp: 2, Channels: in}))
	in[0] = 0
	latest, _ := buf.Latest()
	assert.Equal(t, []float64{7, 8}, latest.Channels)
}

func TestSampleBufferConcurrentReaders(t *testing.T) {
	const (
		writes  = 20000
		readers = 4
	)
	buf := NewSampleBuffer(ModeCircular, 256, 3)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	// every sample's channels are derived from its timestamp, so a torn
	// read shows up as a mismatch
	check := func(samples []Sample) {
		for i, s := range samples {
			if s.Channels[0] != s.Timestamp || s.Channels[1] != 2*s.Timestamp || s.Channels[2] != -s.Timestamp {
				t.Errorf("torn sample %+v", s)
				return
			}
			if i > 0 && !(s.Timestamp > samples[i-1].Timestamp) {
				t.Errorf("samples out of order: %v then %v", samples[i-1].Timestamp, s.Timestamp)
				return
			}
		}
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				check(buf.ReadSlice(50))
				check(buf.Snapshot())
				if s, ok := buf.Latest(); ok {
					check([]Sample{s})
				}
				assert.LessOrEqual(t, buf.Len(), 256)
			}
		}()
	}

	for i := 0; i < writes; i++ {
		ts := float64(i)
		if err := buf.Append(Sample{Timestamp: ts, Channels: []float64{ts, 2 * ts, -ts}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, Offset(writes), buf.Cursor())
	assert.Equal(t, 256, buf.Len())
	latest, ok := buf.Latest()
	require.True(t, ok)
	assert.Equal(t, float64(writes-1), latest.Timestamp)
}

func TestNewSampleBufferPanicsOnBadSize(t *testing.T) {
	assert.Panics(t, func() { NewSampleBuffer(ModeAppend, 0, 1) })
	assert.Panics(t, func() { NewSampleBuffer(ModeAppend, 1, 0) })
}

func TestBufferModeString(t *testing.T) {
	assert.Equal(t, "append", ModeAppend.String())
	assert.Equal(t, "circular", ModeCircular.String())
	assert.Equal(t, "BufferMode(7)", BufferMode(7).String())
}
