package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/config"
	"sleepywoodpecker/motion-windows/internal/logger"
	"sleepywoodpecker/motion-windows/internal/processing"
	"sleepywoodpecker/motion-windows/internal/storage"
)

const DEFAULT_TABLE_FILE = "activity_data.txt"
const DEFAULT_DB_FILE = "features.db"

var (
	configPath = flag.String("config", "", "Path to a JSON config file")
	tablePath  = flag.String("table", DEFAULT_TABLE_FILE, "Output feature table")
	dbPath     = flag.String("db", DEFAULT_DB_FILE, "SQLite feature store, empty to skip")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] record.cbor...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logger.NewLogger(cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var store *storage.FeatureStore
	if *dbPath != "" {
		store, err = storage.NewFeatureStore(*dbPath)
		if err != nil {
			logger.Fatal("failed to open feature store", zap.Error(err), zap.String("path", *dbPath))
		}
		defer store.Close()
	}

	var table []processing.FeatureVector
	for _, path := range flag.Args() {
		record, err := storage.LoadExperiment(path)
		if err != nil {
			logger.Fatal("failed to load experiment record", zap.Error(err), zap.String("path", path))
		}

		vectors, err := extractAll(record)
		if err != nil {
			logger.Fatal("failed to extract features", zap.Error(err), zap.String("path", path))
		}

		if store != nil {
			if err := store.RecordRun(record, vectors); err != nil {
				logger.Fatal("failed to store features", zap.Error(err), zap.String("runID", record.RunID))
			}
		}

		logger.Info("processed experiment record",
			zap.String("path", path),
			zap.String("runID", record.RunID),
			zap.Int("windows", len(vectors)),
		)
		table = append(table, vectors...)
	}

	file, err := os.Create(*tablePath)
	if err != nil {
		logger.Fatal("failed to create feature table", zap.Error(err), zap.String("path", *tablePath))
	}
	if err := storage.WriteFeatureTable(file, table); err != nil {
		logger.Fatal("failed to write feature table", zap.Error(err), zap.String("path", *tablePath))
	}
	if err := file.Close(); err != nil {
		logger.Fatal("failed to close feature table", zap.Error(err), zap.String("path", *tablePath))
	}

	logger.Info("wrote feature table",
		zap.String("path", *tablePath),
		zap.Int("rows", len(table)),
		zap.Int("nanFeatures", storage.CountNaN(table)),
	)
}

func extractAll(record storage.ExperimentRecord) ([]processing.FeatureVector, error) {
	vectors := make([]processing.FeatureVector, len(record.Windows))
	for i, w := range record.Windows {
		fv, err := processing.ExtractFeatures(w.LabelID, w.Window())
		if err != nil {
			return nil, fmt.Errorf("window %d (%s): %w", i, w.Label, err)
		}
		vectors[i] = fv
	}
	return vectors, nil
}
