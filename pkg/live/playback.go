package live

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// ScheduledBuffer is one chunk of agent speech placed on the output clock.
type ScheduledBuffer struct {
	ID       uint64
	StartAt  float64
	Duration float64
	handle   BufferHandle
}

// Cancel stops the buffer whether or not it has started playing.
func (b *ScheduledBuffer) Cancel() error {
	if b.handle == nil {
		return nil
	}
	return b.handle.Stop()
}

// PlaybackScheduler lays inbound chunks end to end on the output clock.
// nextStartTime is the watermark: the earliest time the next chunk may start.
type PlaybackScheduler struct {
	mu            sync.Mutex
	output        AudioOutput
	format        audio.Format
	nextStartTime float64
	active        map[uint64]*ScheduledBuffer
	lastID        uint64
	closed        bool

	logger  Logger
	metrics *Metrics
}

func NewPlaybackScheduler(output AudioOutput, logger Logger, metrics *Metrics) *PlaybackScheduler {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PlaybackScheduler{
		output:  output,
		format:  audio.OutputFormat,
		active:  make(map[uint64]*ScheduledBuffer),
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue decodes a chunk and schedules it at max(watermark, now). A chunk
// that fails to decode is dropped and reported with ErrMalformedAudio; the
// scheduler state is left untouched.
func (p *PlaybackScheduler) Enqueue(chunk InboundAudioChunk) (*ScheduledBuffer, error) {
	samples, err := decodeChunk(chunk)
	if err != nil {
		p.metrics.chunkMalformed()
		p.logger.Warn("dropping inbound audio chunk", "error", err, "payloadLen", len(chunk.Payload))
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrNotActive
	}

	startAt := p.nextStartTime
	if now := p.output.CurrentTime(); now > startAt {
		startAt = now
	}

	p.lastID++
	buf := &ScheduledBuffer{
		ID:       p.lastID,
		StartAt:  startAt,
		Duration: p.format.Seconds(len(samples)),
	}

	id := buf.ID
	handle, err := p.output.Schedule(samples, startAt, func() { p.finished(id) })
	if err != nil {
		p.logger.Error("failed to schedule playback buffer", "error", err)
		return nil, fmt.Errorf("schedule playback: %w", err)
	}
	buf.handle = handle
	p.active[id] = buf
	p.nextStartTime = startAt + buf.Duration

	p.metrics.chunkScheduled()
	p.metrics.setActiveBuffers(len(p.active))
	return buf, nil
}

func decodeChunk(chunk InboundAudioChunk) ([]float32, error) {
	raw, err := audio.DecodeBase64(chunk.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	samples, err := audio.DecodePCM16(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedAudio)
	}
	return samples, nil
}

// finished runs on the output's thread when a buffer plays out. A buffer that
// was already cancelled is no longer in the set and is ignored.
func (p *PlaybackScheduler) finished(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[id]; !ok {
		return
	}
	delete(p.active, id)
	p.metrics.setActiveBuffers(len(p.active))
}

// Interrupt stops every scheduled or playing buffer and rewinds the watermark
// so the next chunk plays immediately. It returns how many buffers it stopped.
func (p *PlaybackScheduler) Interrupt() int {
	p.mu.Lock()
	flushed := p.active
	p.active = make(map[uint64]*ScheduledBuffer)
	p.nextStartTime = 0
	p.metrics.setActiveBuffers(0)
	p.mu.Unlock()

	for _, buf := range flushed {
		// Buffers that ended between the swap and here may refuse to stop.
		_ = buf.Cancel()
	}
	return len(flushed)
}

// Close flushes like Interrupt and releases the output. Safe to call twice.
func (p *PlaybackScheduler) Close() error {
	p.Interrupt()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.output.Close()
}

func (p *PlaybackScheduler) NextStartTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextStartTime
}

func (p *PlaybackScheduler) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
