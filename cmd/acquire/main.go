package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/acquisition"
	"sleepywoodpecker/motion-windows/internal/config"
	"sleepywoodpecker/motion-windows/internal/experiment"
	"sleepywoodpecker/motion-windows/internal/logger"
	"sleepywoodpecker/motion-windows/internal/phyphox"
	"sleepywoodpecker/motion-windows/internal/processing"
	"sleepywoodpecker/motion-windows/internal/storage"
)

const RAW_LOG_FILE = "imu_raw.csv"
const RECORD_TIME_FORMAT = "01_02_2006_15_04_05"

var configPath = flag.String("config", "", "Path to a JSON config file")

func main() {
	flag.Parse()

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

	// context handler for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	protocol := cfg.Protocol()
	channels := cfg.ChannelNames()
	capacity := protocol.BufferCapacity(cfg.MaxSampleRate)
	buffer := processing.NewSampleBuffer(processing.ModeAppend, capacity, len(channels))
	logger.Info("allocated sample buffer",
		zap.Int("capacity", capacity),
		zap.Strings("channels", channels),
		zap.Duration("session", protocol.SessionDuration()),
	)

	producer, err := startProducer(ctx, cfg, buffer, logger)
	if err != nil {
		logger.Fatal("failed to start acquisition", zap.Error(err))
	}

	seed := cfg.Experiment.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	trials := protocol.Trials(rand.New(rand.NewPCG(seed, seed)))

	// abort the session if the producer dies underneath it
	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()
	go func() {
		select {
		case <-producer.Done():
			cancelSession()
		case <-sessionCtx.Done():
		}
	}()

	sequencer := experiment.NewSequencer(protocol, trials, buffer, os.Stdout, logger)
	markers, sessionErr := sequencer.Run(sessionCtx)

	if err := producer.Stop(); err != nil {
		logger.Fatal("acquisition failed", zap.Error(err))
	}
	if sessionErr != nil {
		logger.Warn("session interrupted, keeping the windows recorded so far", zap.Error(sessionErr), zap.Int("windows", len(markers)))
	}
	if len(markers) == 0 {
		logger.Info("no windows recorded, nothing to save")
		return
	}

	if rate, err := processing.MeasureRate(processing.Timestamps(buffer.Snapshot())); err != nil {
		logger.Warn("could not measure sampling rate", zap.Error(err))
	} else {
		logger.Info("sampling rate",
			zap.Float64("minHz", rate.Min),
			zap.Float64("maxHz", rate.Max),
			zap.Float64("averageHz", rate.Average),
			zap.Int("samples", rate.Samples),
		)
	}

	segmenter := processing.Segmenter{
		Duration: cfg.WindowSeconds,
		Rate:     cfg.OutputRate,
		Margin:   cfg.MarginSeconds,
	}
	windows, err := segmenter.Segment(buffer, markers)
	if err != nil {
		logger.Fatal("failed to segment windows", zap.Error(err))
	}

	degraded := 0
	for _, w := range windows {
		if w.Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		logger.Warn("some windows were extrapolated from too few samples", zap.Int("degraded", degraded), zap.Int("windows", len(windows)))
	}

	record := storage.NewExperimentRecord(channels, cfg.OutputRate, cfg.WindowSeconds, windows)
	outputFile := filepath.Join(cfg.OutputDir, time.Now().Format(RECORD_TIME_FORMAT)+".cbor")
	if err := storage.SaveExperiment(outputFile, record); err != nil {
		logger.Fatal("failed to save experiment record", zap.Error(err))
	}
	logger.Info("saved experiment record",
		zap.String("path", outputFile),
		zap.String("runID", record.RunID),
		zap.Int("windows", len(windows)),
	)
}

func startProducer(ctx context.Context, cfg *config.Config, buffer *processing.SampleBuffer, logger *zap.Logger) (acquisition.Producer, error) {
	if cfg.SerialPort != "" {
		rawLog := filepath.Join(cfg.OutputDir, RAW_LOG_FILE)
		return acquisition.StartSerial(ctx, cfg.SerialPort, cfg.BaudRate, rawLog, buffer, logger)
	}

	client := phyphox.NewClient(cfg.SensorHost, cfg.TimeChannel, cfg.Channels, cfg.GetFetchTimeout())
	logger.Info("polling phyphox", zap.String("url", client.URL()))

	recorder := acquisition.NewRecorder(client, buffer, cfg.GetPollInterval(), cfg.GetFetchTimeout(), logger)
	recorder.Start(ctx)
	return recorder, nil
}
