package processing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrBufferFull      = errors.New("processing: sample buffer is full")
	ErrChannelMismatch = errors.New("processing: sample has the wrong number of channels")
)

// Sample is one timestamped reading of every channel. Timestamps are seconds
// on the source clock.
type Sample struct {
	Timestamp float64
	Channels  []float64
}

type BufferMode int

const (
	// ModeAppend keeps every sample until the buffer is full and then refuses
	// further writes.
	ModeAppend BufferMode = iota
	// ModeCircular overwrites the oldest sample once the buffer is full.
	ModeCircular
)

func (m BufferMode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeCircular:
		return "circular"
	default:
		return fmt.Sprintf("BufferMode(%d)", int(m))
	}
}

// Offset is a logical position in a SampleBuffer: the number of samples
// written before it. Offsets keep increasing when a circular buffer wraps.
type Offset int64

// SampleBuffer stores samples from a single producer for any number of
// readers. Every read and write holds the same lock for its whole duration so
// a sample's timestamp and channels are always observed together.
type SampleBuffer struct {
	mode     BufferMode
	channels int
	capacity int

	mu      sync.Mutex
	times   []float64
	values  []float64 // capacity*channels, one row per slot
	written int64
}

// NewSampleBuffer allocates a buffer for capacity samples of the given arity.
// It panics if either is not positive.
func NewSampleBuffer(mode BufferMode, capacity, channels int) *SampleBuffer {
	if capacity < 1 || channels < 1 {
		panic("processing: sample buffer needs a positive capacity and channel count")
	}

	return &SampleBuffer{
		mode:     mode,
		channels: channels,
		capacity: capacity,
		times:    make([]float64, capacity),
		values:   make([]float64, capacity*channels),
	}
}

func (b *SampleBuffer) Mode() BufferMode { return b.mode }
func (b *SampleBuffer) Capacity() int    { return b.capacity }
func (b *SampleBuffer) Channels() int    { return b.channels }

// Append copies s into the next slot.
func (b *SampleBuffer) Append(s Sample) error {
	if len(s.Channels) != b.channels {
		return fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, len(s.Channels), b.channels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModeAppend && b.written == int64(b.capacity) {
		return fmt.Errorf("%w: %d samples", ErrBufferFull, b.capacity)
	}

	slot := b.slot(b.written)
	b.times[slot] = s.Timestamp
	copy(b.values[slot*b.channels:(slot+1)*b.channels], s.Channels)
	b.written++

	return nil
}

// Len returns the number of samples currently retained.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return int(b.written - b.oldest())
}

// Cursor returns the offset the next sample will be written at.
func (b *SampleBuffer) Cursor() Offset {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Offset(b.written)
}

// Latest returns the most recently written sample.
func (b *SampleBuffer) Latest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.written == 0 {
		return Sample{}, false
	}
	return b.sampleAt(b.written - 1), true
}

// TimeBefore returns the timestamp of the last sample written before off.
// When nothing was written before off, the first sample ever written stands
// in for it and early is true. Offsets past the cursor, and offsets whose
// sample was overwritten, cannot be resolved.
func (b *SampleBuffer) TimeBefore(off Offset) (t float64, early bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := int64(off) - 1
	oldest := b.oldest()
	switch {
	case b.written == 0 || idx >= b.written:
		return 0, false, fmt.Errorf("%w: offset %d, retained [%d, %d)", ErrMarkerUnresolvable, off, oldest, b.written)
	case idx < 0 && oldest == 0:
		return b.times[b.slot(0)], true, nil
	case idx < oldest:
		return 0, false, fmt.Errorf("%w: offset %d overwritten, retained [%d, %d)", ErrMarkerUnresolvable, off, oldest, b.written)
	}
	return b.times[b.slot(idx)], false, nil
}

// ReadSlice returns the samples within span seconds of the latest sample, in
// chronological order. The backward scan stops at the oldest retained sample,
// so a span wider than the buffer's coverage yields a truncated result.
func (b *SampleBuffer) ReadSlice(span float64) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.written == 0 {
		return nil
	}

	oldest := b.oldest()
	now := b.times[b.slot(b.written-1)]
	start := b.written - 1
	for start > oldest && b.times[b.slot(start-1)] >= now-span {
		start--
	}

	return b.copyRange(start, b.written)
}

// ReadRange returns the retained samples with from <= timestamp <= to, in
// chronological order.
func (b *SampleBuffer) ReadRange(from, to float64) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	lo, hi := b.search(from, to)
	return b.copyRange(lo, hi)
}

// Neighbors returns up to k samples on each side of t.
func (b *SampleBuffer) Neighbors(t float64, k int) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldest := b.oldest()
	pivot, _ := b.search(t, t)
	lo := max(pivot-int64(k), oldest)
	hi := min(pivot+int64(k), b.written)

	return b.copyRange(lo, hi)
}

// Snapshot returns every retained sample in chronological order.
func (b *SampleBuffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.copyRange(b.oldest(), b.written)
}

func (b *SampleBuffer) oldest() int64 {
	if b.written > int64(b.capacity) {
		return b.written - int64(b.capacity)
	}
	return 0
}

func (b *SampleBuffer) slot(idx int64) int {
	return int(idx % int64(b.capacity))
}

// search returns the logical index range [lo, hi) whose timestamps fall in
// [from, to]. Samples are assumed to be stored in time order.
func (b *SampleBuffer) search(from, to float64) (int64, int64) {
	oldest := b.oldest()
	n := int(b.written - oldest)
	lo := sort.Search(n, func(i int) bool { return b.times[b.slot(oldest+int64(i))] >= from })
	hi := sort.Search(n, func(i int) bool { return b.times[b.slot(oldest+int64(i))] > to })
	if hi < lo {
		hi = lo
	}
	return oldest + int64(lo), oldest + int64(hi)
}

func (b *SampleBuffer) sampleAt(idx int64) Sample {
	slot := b.slot(idx)
	channels := make([]float64, b.channels)
	copy(channels, b.values[slot*b.channels:(slot+1)*b.channels])
	return Sample{Timestamp: b.times[slot], Channels: channels}
}

func (b *SampleBuffer) copyRange(lo, hi int64) []Sample {
	if hi <= lo {
		return nil
	}

	out := make([]Sample, 0, hi-lo)
	backing := make([]float64, int(hi-lo)*b.channels)
	for idx := lo; idx < hi; idx++ {
		slot := b.slot(idx)
		row := backing[:b.channels:b.channels]
		backing = backing[b.channels:]
		copy(row, b.values[slot*b.channels:(slot+1)*b.channels])
		out = append(out, Sample{Timestamp: b.times[slot], Channels: row})
	}
	return out
}
