package live

import (
	"context"
	"sync"
)

type outboundFrame struct {
	packet EncodedAudioPacket
	text   string
	isText bool
}

// Outbox is the FIFO between capture and the transport. When it is full the
// oldest audio frame is dropped so that capture never blocks and the remote
// agent hears the most recent speech. Text frames are never dropped.
type Outbox struct {
	mu       sync.Mutex
	frames   []outboundFrame
	capacity int
	notify   chan struct{}
	closed   bool
	dropped  uint64

	logger  Logger
	metrics *Metrics
}

func NewOutbox(capacity int, logger Logger, metrics *Metrics) *Outbox {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if capacity <= 0 {
		capacity = DefaultConfig().SendQueueSize
	}
	return &Outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// PushAudio enqueues a packet, evicting the oldest queued audio frame when
// the queue is full. It reports whether anything was dropped.
func (o *Outbox) PushAudio(p EncodedAudioPacket) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	dropped := false
	if len(o.frames) >= o.capacity {
		dropped = true
		evicted := -1
		for i, f := range o.frames {
			if !f.isText {
				evicted = i
				break
			}
		}
		if evicted < 0 {
			// Queue is all text; the new packet is the one to go.
			o.dropped++
			o.mu.Unlock()
			o.metrics.packetDropped()
			o.logger.Warn("send queue full of text, dropping audio packet", "seq", p.Seq)
			return true
		}
		o.logger.Debug("send queue full, dropping oldest audio packet", "seq", o.frames[evicted].packet.Seq)
		o.frames = append(o.frames[:evicted], o.frames[evicted+1:]...)
		o.dropped++
	}
	o.frames = append(o.frames, outboundFrame{packet: p})
	o.mu.Unlock()

	if dropped {
		o.metrics.packetDropped()
	}
	o.signal()
	return dropped
}

// PushText enqueues a text frame behind any pending audio.
func (o *Outbox) PushText(text string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.frames = append(o.frames, outboundFrame{text: text, isText: true})
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) pop() (outboundFrame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return outboundFrame{}, false
	}
	f := o.frames[0]
	o.frames = o.frames[1:]
	return f, true
}

// Run drains the queue into sess until ctx is done or a send fails.
func (o *Outbox) Run(ctx context.Context, sess TransportSession) error {
	for {
		f, ok := o.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-o.notify:
				continue
			}
		}

		var err error
		if f.isText {
			err = sess.SendText(ctx, f.text)
		} else {
			err = sess.SendAudio(ctx, f.packet)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		o.metrics.packetSent()
	}
}

// Close discards pending frames and rejects new ones.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.frames = nil
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
