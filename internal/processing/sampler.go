package processing

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const SamplingChannelName = "motionwindow"

// Classifier labels a feature vector. The online sampler calls it once per
// evaluated window.
type Classifier interface {
	Classify(fv FeatureVector) (string, error)
}

// NopClassifier is the placeholder until a trained model is plugged in.
type NopClassifier struct{}

func (NopClassifier) Classify(FeatureVector) (string, error) { return "unknown", nil }

// WindowResult is the outcome of evaluating the trailing window once.
type WindowResult struct {
	EndTime  float64
	Degraded bool
	Window   ResampledWindow
	Features FeatureVector
	Label    string
}

// Sampler periodically resamples the most recent window of a circular buffer,
// extracts its features and classifies it.
type Sampler struct {
	updateInterval time.Duration
	buffer         *SampleBuffer
	segmenter      Segmenter
	classifier     Classifier
	out            io.Writer // influx line sink, may be nil
	logger         *zap.Logger
	results        chan<- WindowResult
}

func NewSampler(updateInterval time.Duration, buffer *SampleBuffer, segmenter Segmenter, classifier Classifier, out io.Writer, logger *zap.Logger) *Sampler {
	if classifier == nil {
		classifier = NopClassifier{}
	}
	return &Sampler{
		updateInterval: updateInterval,
		buffer:         buffer,
		segmenter:      segmenter,
		classifier:     classifier,
		out:            out,
		logger:         logger,
	}
}

// Publish makes Run send every result to ch. Sends never block; results are
// dropped while ch is full.
func (s *Sampler) Publish(ch chan<- WindowResult) {
	s.results = ch
}

// minSamples is the number of raw samples the buffer must hold before the
// trailing window is evaluated: two seconds' worth at the output rate.
func (s *Sampler) minSamples() int {
	return int(2 * s.segmenter.Rate)
}

// Evaluate processes the trailing window. ok is false while the buffer does
// not yet hold enough samples.
func (s *Sampler) Evaluate() (result WindowResult, ok bool, err error) {
	if s.buffer.Len() <= s.minSamples() {
		return WindowResult{}, false, nil
	}

	window, end, degraded, err := s.segmenter.Trailing(s.buffer)
	if err != nil {
		return WindowResult{}, false, err
	}

	fv, err := ExtractFeatures(0, window)
	if err != nil {
		return WindowResult{}, false, err
	}

	label, err := s.classifier.Classify(fv)
	if err != nil {
		return WindowResult{}, false, fmt.Errorf("classifying window: %w", err)
	}

	return WindowResult{
		EndTime:  end,
		Degraded: degraded,
		Window:   window,
		Features: fv,
		Label:    label,
	}, true, nil
}

// SampleAndLog evaluates the trailing window and forwards the result to the
// influx sink and the result channel.
func (s *Sampler) SampleAndLog(now time.Time) {
	result, ok, err := s.Evaluate()
	if err != nil {
		s.logger.Warn("[sampler] error evaluating window", zap.Error(err))
		return
	}
	if !ok {
		s.logger.Debug("[sampler] waiting for samples", zap.Int("buffered", s.buffer.Len()), zap.Int("needed", s.minSamples()+1))
		return
	}

	if result.Degraded {
		s.logger.Warn("[sampler] window extrapolated from too few samples", zap.Float64("endTime", result.EndTime))
	}

	if s.out != nil {
		line := FormatInflux(result, now)
		if err := writeAll(s.out, line); err != nil {
			s.logger.Warn("[sampler] error writing data to UDP connection", zap.Error(err))
		} else {
			s.logger.Debug("[sampler] published window", zap.String("influxString", line))
		}
	}

	s.logger.Info("[sampler] classified window",
		zap.String("label", result.Label),
		zap.Float64("endTime", result.EndTime),
		zap.Bool("degraded", result.Degraded),
	)

	if s.results != nil {
		select {
		case s.results <- result:
		default:
		}
	}
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		case now := <-ticker.C:
			s.SampleAndLog(now)
		}
	}
}

// FormatInflux renders a result as an influx line protocol record.
func FormatInflux(result WindowResult, now time.Time) string {
	var b strings.Builder
	b.WriteString(SamplingChannelName)
	b.WriteString(",label=")
	b.WriteString(escapeTag(result.Label))
	b.WriteByte(' ')
	fmt.Fprintf(&b, "end_time=%s,degraded=%t", strconv.FormatFloat(result.EndTime, 'f', -1, 64), result.Degraded)
	for idx, v := range result.Features.Features {
		// influx has no representation for NaN or Inf
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		fmt.Fprintf(&b, ",f%d=%s", idx, strconv.FormatFloat(v, 'g', -1, 64))
	}
	fmt.Fprintf(&b, " %d\n", now.UnixNano())
	return b.String()
}

func escapeTag(v string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`).Replace(v)
}

func writeAll(w io.Writer, data string) error {
	buf := []byte(data)
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
