package live

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// CaptureEncoder frames microphone samples into fixed-size blocks and emits
// each block as a base64 PCM16 packet.
type CaptureEncoder struct {
	// deviceMu orders device Start against Close.
	deviceMu sync.Mutex

	mu        sync.Mutex
	device    CaptureDevice
	format    audio.Format
	blockSize int
	pending   []float32
	seq       uint64
	emitting  bool
	sink      func(EncodedAudioPacket)
	logger    Logger
}

// NewCaptureEncoder takes ownership of dev. Nothing is emitted until Start.
func NewCaptureEncoder(dev CaptureDevice, blockSize int, sink func(EncodedAudioPacket), logger Logger) *CaptureEncoder {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if blockSize <= 0 {
		blockSize = DefaultConfig().CaptureBlockSize
	}
	return &CaptureEncoder{
		device:    dev,
		format:    audio.InputFormat,
		blockSize: blockSize,
		pending:   make([]float32, 0, blockSize),
		sink:      sink,
		logger:    logger,
	}
}

// Start begins delivering device samples into the encoder. A concurrent Stop
// waits for it, so a released device is never started.
func (e *CaptureEncoder) Start() error {
	e.deviceMu.Lock()
	defer e.deviceMu.Unlock()

	e.mu.Lock()
	dev := e.device
	if dev == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: device released", ErrCaptureUnavailable)
	}
	e.emitting = true
	e.mu.Unlock()

	if err := dev.Start(e.Write); err != nil {
		e.mu.Lock()
		e.emitting = false
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return nil
}

// Write accepts samples from the device thread. Every completed block becomes
// one packet; the remainder waits for the next call.
func (e *CaptureEncoder) Write(samples []float32) {
	var packets []EncodedAudioPacket

	e.mu.Lock()
	if !e.emitting {
		e.mu.Unlock()
		return
	}
	for len(samples) > 0 {
		n := e.blockSize - len(e.pending)
		if n > len(samples) {
			n = len(samples)
		}
		e.pending = append(e.pending, samples[:n]...)
		samples = samples[n:]
		if len(e.pending) == e.blockSize {
			e.seq++
			packets = append(packets, EncodedAudioPacket{
				Seq:     e.seq,
				Payload: EncodeBlock(e.pending),
				Format:  e.format,
			})
			e.pending = e.pending[:0]
		}
	}
	sink := e.sink
	e.mu.Unlock()

	if sink == nil {
		return
	}
	for _, p := range packets {
		sink(p)
	}
}

// Stop halts emission, drops the partial block and releases the device.
// Calling it again is a no-op.
func (e *CaptureEncoder) Stop() error {
	e.deviceMu.Lock()
	defer e.deviceMu.Unlock()

	e.mu.Lock()
	e.emitting = false
	e.pending = e.pending[:0]
	dev := e.device
	e.device = nil
	e.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("release capture device: %w", err)
	}
	return nil
}

// Emitted returns how many packets have been produced.
func (e *CaptureEncoder) Emitted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// EncodeBlock converts float samples to base64 little-endian PCM16.
func EncodeBlock(samples []float32) string {
	return audio.EncodeBase64(audio.EncodePCM16(samples))
}
