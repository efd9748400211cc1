// Package acquisition runs the background task that polls a sample source and
// fills a sample buffer.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/processing"
)

// Source returns the latest reading of a sensor. Fetch should honour ctx's
// deadline.
type Source interface {
	Fetch(ctx context.Context) (processing.Sample, error)
}

// Stats counts what happened to every poll.
type Stats struct {
	Appended int64
	Failed   int64
	Stale    int64
}

// Recorder polls a Source on its own goroutine and appends the readings to a
// buffer. It is the buffer's only writer.
type Recorder struct {
	source       Source
	buffer       *processing.SampleBuffer
	interval     time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	stopped  atomic.Bool
	err      error

	appended atomic.Int64
	failed   atomic.Int64
	stale    atomic.Int64
}

// NewRecorder paces polls interval apart and gives each poll fetchTimeout to
// complete.
func NewRecorder(source Source, buffer *processing.SampleBuffer, interval, fetchTimeout time.Duration, logger *zap.Logger) *Recorder {
	return &Recorder{
		source:       source,
		buffer:       buffer,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the polling goroutine. It must be called at most once.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// RequestStop asks the polling goroutine to exit after its current poll.
func (r *Recorder) RequestStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Stop requests a stop and waits for the goroutine to exit. The buffer is
// quiescent once Stop returns.
func (r *Recorder) Stop() error {
	r.RequestStop()
	return r.Wait()
}

// Wait blocks until the polling goroutine has exited and returns the error
// that ended it, if any.
func (r *Recorder) Wait() error {
	<-r.done
	return r.err
}

// Done is closed when the polling goroutine exits.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Stopped reports whether the polling goroutine has exited.
func (r *Recorder) Stopped() bool { return r.stopped.Load() }

func (r *Recorder) Stats() Stats {
	return Stats{
		Appended: r.appended.Load(),
		Failed:   r.failed.Load(),
		Stale:    r.stale.Load(),
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer func() {
		r.stopped.Store(true)
		close(r.done)
	}()

	r.logger.Info("[recorder] started", zap.Duration("interval", r.interval), zap.Duration("fetchTimeout", r.fetchTimeout))

	var (
		last    float64
		hasLast bool
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logStopped("stop requested")
			return
		case <-ctx.Done():
			r.logStopped("context done")
			return
		case <-timer.C:
		}

		sample, err := r.fetch(ctx)
		switch {
		case err != nil:
			r.failed.Add(1)
			r.logger.Warn("[recorder] error fetching sample", zap.Error(err))
		case hasLast && !(sample.Timestamp > last):
			r.stale.Add(1)
			r.logger.Debug("[recorder] dropping sample that is not newer than the last one",
				zap.Float64("timestamp", sample.Timestamp), zap.Float64("last", last))
		default:
			if err := r.buffer.Append(sample); err != nil {
				if errors.Is(err, processing.ErrBufferFull) {
					r.err = err
					r.logger.Error("[recorder] sample buffer full, ending acquisition", zap.Error(err), zap.Int("capacity", r.buffer.Capacity()))
					return
				}
				r.failed.Add(1)
				r.logger.Warn("[recorder] rejected sample", zap.Error(err))
				break
			}
			r.appended.Add(1)
			last, hasLast = sample.Timestamp, true
		}

		timer.Reset(r.interval)
	}
}

func (r *Recorder) fetch(ctx context.Context) (processing.Sample, error) {
	if r.fetchTimeout <= 0 {
		return r.source.Fetch(ctx)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	return r.source.Fetch(fetchCtx)
}

func (r *Recorder) logStopped(reason string) {
	stats := r.Stats()
	r.logger.Info("[recorder] stopped",
		zap.String("reason", reason),
		zap.Int64("appended", stats.Appended),
		zap.Int64("failed", stats.Failed),
		zap.Int64("stale", stats.Stale),
	)
}
