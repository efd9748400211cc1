// Package storage persists acquisition results: the experiment record file
// with every labeled window, the feature table, and a sqlite feature store.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"sleepywoodpecker/motion-windows/internal/processing"
)

// RecordVersion is the version written by WriteExperiment. ReadExperiment
// rejects any other version.
const RecordVersion = 1

var ErrUnsupportedVersion = errors.New("storage: unsupported experiment record version")

// ExperimentRecord is the on-disk form of one acquisition session.
type ExperimentRecord struct {
	Version        int            `cbor:"version"`
	RunID          string         `cbor:"run_id"`
	CreatedAt      time.Time      `cbor:"created_at"`
	Channels       []string       `cbor:"channels"`
	SampleRate     float64        `cbor:"sample_rate"`
	WindowDuration float64        `cbor:"window_duration"`
	Windows        []WindowRecord `cbor:"windows"`
}

// WindowRecord is one labeled window. Data is row-major, one row per sample.
type WindowRecord struct {
	Label    string      `cbor:"label"`
	LabelID  int         `cbor:"label_id"`
	EndTime  float64     `cbor:"end_time"`
	Degraded bool        `cbor:"degraded"`
	Times    []float64   `cbor:"times"`
	Data     [][]float64 `cbor:"data"`
}

// NewExperimentRecord wraps segmented windows in a record with a fresh run id.
func NewExperimentRecord(channels []string, sampleRate, windowDuration float64, windows []processing.LabeledWindow) ExperimentRecord {
	rec := ExperimentRecord{
		Version:        RecordVersion,
		RunID:          uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Channels:       channels,
		SampleRate:     sampleRate,
		WindowDuration: windowDuration,
		Windows:        make([]WindowRecord, len(windows)),
	}
	for i, w := range windows {
		rec.Windows[i] = WindowRecord{
			Label:    w.Label,
			LabelID:  w.LabelID,
			EndTime:  w.EndTime,
			Degraded: w.Degraded,
			Times:    w.Window.Times,
			Data:     w.Window.Data,
		}
	}
	return rec
}

func (w WindowRecord) Window() processing.ResampledWindow {
	return processing.ResampledWindow{Times: w.Times, Data: w.Data}
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func WriteExperiment(w io.Writer, rec ExperimentRecord) error {
	if rec.Version == 0 {
		rec.Version = RecordVersion
	}
	return encMode.NewEncoder(w).Encode(rec)
}

func ReadExperiment(r io.Reader) (ExperimentRecord, error) {
	var rec ExperimentRecord
	if err := cbor.NewDecoder(r).Decode(&rec); err != nil {
		return ExperimentRecord{}, fmt.Errorf("decoding experiment record: %w", err)
	}
	if rec.Version != RecordVersion {
		return ExperimentRecord{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	return rec, nil
}

// SaveExperiment writes rec to path, replacing any existing file.
func SaveExperiment(path string, rec ExperimentRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	if err := WriteExperiment(writer, rec); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

func LoadExperiment(path string) (ExperimentRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return ExperimentRecord{}, err
	}
	defer file.Close()

	return ReadExperiment(bufio.NewReader(file))
}
