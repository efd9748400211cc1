package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sleepywoodpecker/motion-windows/internal/processing"
)

// FeatureStore keeps feature vectors of every processed run in sqlite.
type FeatureStore struct {
	*sql.DB
}

func NewFeatureStore(path string) (*FeatureStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			created_at        TIMESTAMP,
			channels          TEXT,
			sample_rate       DOUBLE,
			window_duration   DOUBLE
		);
		CREATE TABLE IF NOT EXISTS features (
			run_id            TEXT NOT NULL,
			window_index      INTEGER NOT NULL,
			label             TEXT,
			label_id          INTEGER,
			end_time          DOUBLE,
			degraded          BOOLEAN,
			vector            TEXT,
			PRIMARY KEY (run_id, window_index),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &FeatureStore{db}, nil
}

// RecordRun stores the run metadata and one feature row per window in a
// single transaction. vectors[i] belongs to rec.Windows[i].
func (s *FeatureStore) RecordRun(rec ExperimentRecord, vectors []processing.FeatureVector) error {
	if len(vectors) != len(rec.Windows) {
		return fmt.Errorf("storage: %d feature vectors for %d windows", len(vectors), len(rec.Windows))
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO runs (run_id, created_at, channels, sample_rate, window_duration) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), strings.Join(rec.Channels, ","), rec.SampleRate, rec.WindowDuration,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.RunID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO features (run_id, window_index, label, label_id, end_time, degraded, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, fv := range vectors {
		w := rec.Windows[i]
		if _, err := stmt.Exec(rec.RunID, i, w.Label, fv.LabelID, w.EndTime, w.Degraded, encodeVector(fv.Features)); err != nil {
			return fmt.Errorf("failed to record window %d of run %s: %w", i, rec.RunID, err)
		}
	}

	return tx.Commit()
}

// Features returns the vectors of a run in window order.
func (s *FeatureStore) Features(runID string) ([]processing.FeatureVector, error) {
	rows, err := s.Query(`SELECT label_id, vector FROM features WHERE run_id = ? ORDER BY window_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vectors []processing.FeatureVector
	for rows.Next() {
		var (
			labelID int
			encoded string
		)
		if err := rows.Scan(&labelID, &encoded); err != nil {
			return nil, err
		}
		features, err := decodeVector(encoded)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		vectors = append(vectors, processing.FeatureVector{LabelID: labelID, Features: features})
	}
	return vectors, rows.Err()
}

// Runs lists the stored run ids, oldest first.
func (s *FeatureStore) Runs() ([]string, error) {
	rows, err := s.Query(`SELECT run_id FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeVector(features []float64) string {
	parts := make([]string, len(features))
	for i, v := range features {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, " ")
}

func decodeVector(encoded string) ([]float64, error) {
	return parseRow(strings.Fields(encoded))
}
