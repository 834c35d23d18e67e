package live

import (
	"context"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// CaptureSource grants exclusive access to a microphone.
type CaptureSource interface {
	Open(ctx context.Context, format audio.Format) (CaptureDevice, error)
}

// CaptureDevice delivers mono float samples on its own audio thread once
// started. Close releases the device so it can be opened again.
type CaptureDevice interface {
	Start(onSamples func(samples []float32)) error
	Close() error
}

// PlaybackSink creates a clock-driven output for one session.
type PlaybackSink interface {
	Open(ctx context.Context, format audio.Format) (AudioOutput, error)
}

// AudioOutput schedules buffers against its own clock, in seconds.
type AudioOutput interface {
	CurrentTime() float64
	// Schedule queues samples to start at the given clock time. onEnded runs
	// after the last sample played; it does not run for stopped buffers.
	Schedule(samples []float32, at float64, onEnded func()) (BufferHandle, error)
	Close() error
}

type BufferHandle interface {
	Stop() error
}

// LevelMeter reports the energy of the signal most recently played.
type LevelMeter interface {
	Level() float64
}
