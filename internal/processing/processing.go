package processing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const NumImuChannels = 6

// ImuChannelNames labels the readings of a DataPacket.
var ImuChannelNames = [NumImuChannels]string{"accX", "accY", "accZ", "gyroX", "gyroY", "gyroZ"}

// DataPacket is the little-endian frame sent by the serial IMU, followed on
// the wire by StopSequence.
type DataPacket struct {
	PacketNumber    uint32
	TimestampMicros uint32
	Readings        [NumImuChannels]float32
}

var PacketSize = binary.Size(DataPacket{})
var StopSequence = []byte{'\r', '\n'}

// FrameSize is the number of bytes read from the port per packet.
var FrameSize = PacketSize + len(StopSequence)

// Processor decodes serial frames into samples, logs them as CSV and appends
// them to a sample buffer.
type Processor struct {
	Filename     string
	MessageQueue <-chan []byte
	logger       *zap.Logger
	buffer       *SampleBuffer

	lastPacket  int64
	lastMicros  uint32
	clockEpochs int64
}

func NewProcessor(filename string, messageQueue <-chan []byte, logger *zap.Logger, buffer *SampleBuffer) *Processor {
	return &Processor{
		Filename:     filename,
		MessageQueue: messageQueue,
		logger:       logger,
		buffer:       buffer,
		lastPacket:   -1,
	}
}

// Run consumes the message queue until it is closed or ctx is done. It
// returns ErrBufferFull if the buffer runs out of room; decode errors are
// logged and skipped.
func (p *Processor) Run(ctx context.Context) error {
	file, err := os.OpenFile(p.Filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening raw log %s: %w", p.Filename, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	for {
		select {
		case packet, ok := <-p.MessageQueue:
			if !ok {
				p.logger.Info("[processor] message queue closed", zap.String("outputFile", p.Filename))
				return nil
			}

			if err := p.ProcessPacket(packet, writer); err != nil {
				if errors.Is(err, ErrBufferFull) {
					p.logger.Error("[processor] sample buffer full, stopping", zap.Error(err), zap.String("outputFile", p.Filename))
					return err
				}
				p.logger.Warn(
					"[processor] error decoding byte packet",
					zap.Error(err),
					zap.Int("packetLength", len(packet)),
					zap.String("outputFile", p.Filename),
					zap.ByteString("rawBytes", packet),
				)
			}
		case <-ctx.Done():
			p.logger.Info("[processor] received shutdown signal", zap.String("outputFile", p.Filename))
			return nil
		}
	}
}

// ProcessPacket decodes one frame, writes it to outStream and appends it to
// the buffer.
func (p *Processor) ProcessPacket(packet []byte, outStream io.Writer) error {
	if len(packet) < PacketSize {
		return fmt.Errorf("short packet: %d bytes, want %d", len(packet), PacketSize)
	}

	var decoded DataPacket
	if err := binary.Read(bytes.NewReader(packet[:PacketSize]), binary.LittleEndian, &decoded); err != nil {
		return err
	}

	if p.lastPacket >= 0 && int64(decoded.PacketNumber) != p.lastPacket+1 {
		p.logger.Warn(
			"[processor] packet sequence gap",
			zap.Int64("expected", p.lastPacket+1),
			zap.Uint32("received", decoded.PacketNumber),
			zap.String("outputFile", p.Filename),
		)
	}
	p.lastPacket = int64(decoded.PacketNumber)

	sample := p.toSample(decoded)

	fmt.Fprintf(outStream, "%d,%.6f", decoded.PacketNumber, sample.Timestamp)
	for _, v := range sample.Channels {
		fmt.Fprintf(outStream, ",%.4f", v)
	}
	fmt.Fprint(outStream, "\n")

	return p.buffer.Append(sample)
}

// toSample converts the board's wrapping microsecond counter into
// monotonically increasing seconds.
func (p *Processor) toSample(d DataPacket) Sample {
	if d.TimestampMicros < p.lastMicros {
		p.clockEpochs++
	}
	p.lastMicros = d.TimestampMicros

	micros := p.clockEpochs<<32 + int64(d.TimestampMicros)
	channels := make([]float64, NumImuChannels)
	for i, v := range d.Readings {
		channels[i] = float64(v)
	}

	return Sample{Timestamp: float64(micros) / 1e6, Channels: channels}
}
