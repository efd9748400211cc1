package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/acquisition"
	"sleepywoodpecker/motion-windows/internal/config"
	"sleepywoodpecker/motion-windows/internal/logger"
	"sleepywoodpecker/motion-windows/internal/phyphox"
	"sleepywoodpecker/motion-windows/internal/processing"
)

const RAW_LOG_FILE = "imu_online_raw.csv"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// influx lines go to telegraf when an address is configured
	var influx io.Writer
	if cfg.TelegrafAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelegrafAddr)
		if err != nil {
			logger.Fatal("failed to resolve telegraf address", zap.Error(err), zap.String("addr", cfg.TelegrafAddr))
		}
		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			logger.Fatal("failed to dial telegraf", zap.Error(err), zap.String("addr", cfg.TelegrafAddr))
		}
		defer udpConn.Close()
		influx = udpConn
	}

	channels := cfg.ChannelNames()
	buffer := processing.NewSampleBuffer(processing.ModeCircular, cfg.GetOnlineBufferCapacity(), len(channels))

	var producer acquisition.Producer
	if cfg.SerialPort != "" {
		producer, err = acquisition.StartSerial(ctx, cfg.SerialPort, cfg.BaudRate, filepath.Join(cfg.OutputDir, RAW_LOG_FILE), buffer, logger)
		if err != nil {
			logger.Fatal("failed to start serial acquisition", zap.Error(err))
		}
	} else {
		client := phyphox.NewClient(cfg.SensorHost, cfg.TimeChannel, cfg.Channels, cfg.GetFetchTimeout())
		logger.Info("polling phyphox", zap.String("url", client.URL()))
		recorder := acquisition.NewRecorder(client, buffer, cfg.GetPollInterval(), cfg.GetFetchTimeout(), logger)
		recorder.Start(ctx)
		producer = recorder
	}

	segmenter := processing.Segmenter{
		Duration: cfg.WindowSeconds,
		Rate:     cfg.OutputRate,
		Margin:   cfg.MarginSeconds,
	}
	sampler := processing.NewSampler(cfg.GetUpdateInterval(), buffer, segmenter, processing.NopClassifier{}, influx, logger)

	// run until interrupted or the producer gives up
	samplerCtx, cancelSampler := context.WithCancel(ctx)
	go func() {
		<-producer.Done()
		cancelSampler()
	}()
	sampler.Run(samplerCtx)
	cancelSampler()

	if err := producer.Stop(); err != nil {
		logger.Error("acquisition stopped with error", zap.Error(err))
	}
	logger.Info("online analysis stopped")
}
