package device

import (
	"errors"
	"math"
	"sync"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

var (
	// ErrClosed is returned when scheduling on a closed timeline.
	ErrClosed = errors.New("timeline closed")
	// ErrBufferFinished is returned when stopping a buffer that already
	// played out or was stopped before.
	ErrBufferFinished = errors.New("buffer already finished")
)

// Timeline is a sample-accurate output clock. Buffers are scheduled at
// absolute clock times and mixed into whatever block the device pulls next.
// The clock only advances as blocks are rendered.
type Timeline struct {
	mu     sync.Mutex
	rate   int
	frame  int64
	voices []*voice
	lastID uint64
	level  float64
	closed bool
}

type voice struct {
	id      uint64
	start   int64
	samples []float32
	onEnded func()
	tl      *Timeline
}

func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = audio.OutputFormat.SampleRate
	}
	return &Timeline{rate: sampleRate}
}

// CurrentTime returns the clock position in seconds.
func (t *Timeline) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.rate)
}

// Schedule places samples at clock time at. Times already in the past are
// moved to the current frame.
func (t *Timeline) Schedule(samples []float32, at float64, onEnded func()) (live.BufferHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.frame {
		start = t.frame
	}
	t.lastID++
	v := &voice{id: t.lastID, start: start, samples: samples, onEnded: onEnded, tl: t}
	t.voices = append(t.voices, v)
	return v, nil
}

// Stop removes the buffer without firing its onEnded callback.
func (v *voice) Stop() error {
	t := v.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, other := range t.voices {
		if other.id == v.id {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return nil
		}
	}
	return ErrBufferFinished
}

// Render fills out with the next block of the mix and advances the clock.
// Callbacks of buffers that finished inside the block run after the lock is
// released.
func (t *Timeline) Render(out []float32) {
	var ended []func()

	t.mu.Lock()
	for i := range out {
		out[i] = 0
	}
	if t.closed {
		t.mu.Unlock()
		return
	}
	blockStart := t.frame
	blockEnd := blockStart + int64(len(out))

	kept := t.voices[:0]
	for _, v := range t.voices {
		vEnd := v.start + int64(len(v.samples))
		from, to := max(v.start, blockStart), min(vEnd, blockEnd)
		for f := from; f < to; f++ {
			out[f-blockStart] += v.samples[f-v.start]
		}
		if vEnd <= blockEnd {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.voices); i++ {
		t.voices[i] = nil
	}
	t.voices = kept

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	t.frame = blockEnd
	t.level = audio.RMS(out)
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Level returns the RMS energy of the last rendered block.
func (t *Timeline) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Pending returns how many buffers are scheduled or playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Close drops every buffer; further scheduling fails.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	t.level = 0
	return nil
}
