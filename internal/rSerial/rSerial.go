// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const readTimeout = 5 * time.Millisecond

// Port is the subset of serial.Port used by rserial.
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type rserial struct {
	Port
	MessageQueue  chan<- []byte // channels are all implicitly passed as pointers
	tempBuff      []byte
	logger        *zap.Logger
	portName      string
	stopSequence  []byte
	rawPacketSize int
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] incorrect stop sequence detected: %v", e.ByteSequence)
}

// NewRSerial opens portName. rawPacketSize counts the whole frame including
// the stop sequence.
func NewRSerial(portName string, baudrate int, messageQueue chan<- []byte, logger *zap.Logger, rawPacketSize int, stopSequence []byte) (*rserial, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}

	return NewRSerialFromPort(port, portName, messageQueue, logger, rawPacketSize, stopSequence), nil
}

// NewRSerialFromPort wraps an already open port.
func NewRSerialFromPort(port Port, portName string, messageQueue chan<- []byte, logger *zap.Logger, rawPacketSize int, stopSequence []byte) *rserial {
	return &rserial{
		Port:          port,
		MessageQueue:  messageQueue,
		tempBuff:      make([]byte, rawPacketSize),
		logger:        logger,
		portName:      portName,
		stopSequence:  stopSequence,
		rawPacketSize: rawPacketSize,
	}
}

func (r *rserial) initialize(ctx context.Context) error {
	if err := r.SetReadTimeout(readTimeout); err != nil {
		return err
	}
	if err := r.ResetInputBuffer(); err != nil {
		return err
	}
	return r.sync(ctx)
}

// Run reads frames until ctx is done and closes the message queue on exit.
func (r *rserial) Run(ctx context.Context) {
	defer close(r.MessageQueue)

	if err := r.initialize(ctx); err != nil {
		r.logger.Error("[rserial] failed to initialize serial port", zap.Error(err), zap.String("portName", r.portName))
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return
		default:
			err := r.ReadPacket(ctx)
			if err == nil {
				continue
			}

			if errors.Is(err, io.EOF) {
				r.logger.Info("[rserial] serial port closed", zap.String("portName", r.portName))
				return
			}

			var oosError *OutOfSyncError
			if errors.As(err, &oosError) {
				r.logger.Warn("[rserial] packet out of sync", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
				if err := r.sync(ctx); err != nil {
					r.logger.Warn("[rserial] resync interrupted", zap.Error(err), zap.String("portName", r.portName))
					return
				}
			} else if !errors.Is(err, context.Canceled) {
				r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName))
			}
		}
	}
}

// ReadPacket reads one frame and queues a copy of it.
func (r *rserial) ReadPacket(ctx context.Context) error {
	count := 0
	for count < r.rawPacketSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(r.tempBuff[count:])
		if err != nil {
			return err
		}
		count += n
	}

	packet := make([]byte, r.rawPacketSize)
	copy(packet, r.tempBuff)

	// validate that the packet is valid by checking the trailing stop sequence
	if !bytes.Equal(packet[r.rawPacketSize-len(r.stopSequence):], r.stopSequence) {
		return &OutOfSyncError{
			ByteSequence: packet,
		}
	}

	select {
	case r.MessageQueue <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sync discards bytes up to and including the next stop sequence.
func (r *rserial) sync(ctx context.Context) error {
	r.logger.Warn("[rserial] resyncing serial port", zap.String("portName", r.portName))
	window := make([]byte, 0, len(r.stopSequence))
	onebyte := make([]byte, 1)

	for !bytes.Equal(window, r.stopSequence) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(onebyte)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return err
			}
			r.logger.Warn("[rserial] error while resyncing serial port", zap.Error(err), zap.String("portName", r.portName))
			continue
		}
		if n == 0 {
			continue
		}
		if len(window) == len(r.stopSequence) {
			window = window[1:]
		}
		window = append(window, onebyte[0])
	}
	return nil
}
