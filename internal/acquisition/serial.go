package acquisition

import (
	"context"

	"go.uber.org/zap"

	"sleepywoodpecker/motion-windows/internal/processing"
	rserial "sleepywoodpecker/motion-windows/internal/rSerial"
)

const messageQueueLength = 20

// Producer is a running writer of a sample buffer.
type Producer interface {
	// Done is closed once the producer has stopped writing.
	Done() <-chan struct{}
	// Stop ends production, waits for it to finish and returns the error
	// that ended it early, if any.
	Stop() error
}

// SerialProducer reads frames from a serial IMU and appends them to a buffer.
type SerialProducer struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartSerial opens portName and starts the reader and decoder goroutines.
// Raw readings are logged as CSV to rawLogPath.
func StartSerial(ctx context.Context, portName string, baudrate int, rawLogPath string, buffer *processing.SampleBuffer, logger *zap.Logger) (*SerialProducer, error) {
	messageQueue := make(chan []byte, messageQueueLength)
	reader, err := rserial.NewRSerial(portName, baudrate, messageQueue, logger, processing.FrameSize, processing.StopSequence)
	if err != nil {
		return nil, err
	}

	return startSerial(ctx, reader, messageQueue, rawLogPath, buffer, logger), nil
}

type serialReader interface {
	Run(ctx context.Context)
	Close() error
}

func startSerial(ctx context.Context, reader serialReader, messageQueue <-chan []byte, rawLogPath string, buffer *processing.SampleBuffer, logger *zap.Logger) *SerialProducer {
	ctx, cancel := context.WithCancel(ctx)
	p := &SerialProducer{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		reader.Run(ctx)
	}()

	processor := processing.NewProcessor(rawLogPath, messageQueue, logger, buffer)
	go func() {
		defer close(p.done)
		p.err = processor.Run(ctx)
		// the processor may stop first on a full buffer
		cancel()
		<-readerDone
		if err := reader.Close(); err != nil {
			logger.Warn("[serial] error closing serial port", zap.Error(err))
		}
	}()

	return p
}

func (p *SerialProducer) Done() <-chan struct{} { return p.done }

func (p *SerialProducer) Stop() error {
	p.cancel()
	<-p.done
	return p.err
}

var (
	_ Producer = (*Recorder)(nil)
	_ Producer = (*SerialProducer)(nil)
)
