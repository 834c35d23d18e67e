package live

import (
	"context"
	"errors"
	"sync"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

type MockCaptureSource struct {
	mu       sync.Mutex
	openErr  error
	startErr error
	device   *MockCaptureDevice
	opens    int
}

func (m *MockCaptureSource) Open(ctx context.Context, format audio.Format) (CaptureDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.device = &MockCaptureDevice{startErr: m.startErr}
	return m.device, nil
}

func (m *MockCaptureSource) Device() *MockCaptureDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

type MockCaptureDevice struct {
	// entered is closed when Start is called; Start then waits for gate.
	entered chan struct{}
	gate    chan struct{}

	mu                sync.Mutex
	startErr          error
	onSamples         func([]float32)
	started           bool
	closed            int
	startedAfterClose int
}

func (d *MockCaptureDevice) Start(onSamples func([]float32)) error {
	if d.entered != nil {
		close(d.entered)
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		d.startedAfterClose++
	}
	if d.startErr != nil {
		return d.startErr
	}
	d.onSamples = onSamples
	d.started = true
	return nil
}

// Feed pushes samples as if they came from the audio thread.
func (d *MockCaptureDevice) Feed(samples []float32) {
	d.mu.Lock()
	cb := d.onSamples
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func (d *MockCaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *MockCaptureDevice) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *MockCaptureDevice) StartedAfterClose() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startedAfterClose
}

type MockPlaybackSink struct {
	mu      sync.Mutex
	openErr error
	output  *MockAudioOutput
}

func (m *MockPlaybackSink) Open(ctx context.Context, format audio.Format) (AudioOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.output = NewMockAudioOutput()
	return m.output, nil
}

func (m *MockPlaybackSink) Output() *MockAudioOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

type mockBuffer struct {
	samples []float32
	at      float64
	onEnded func()
	stopped bool
	ended   bool
	out     *MockAudioOutput
}

func (b *mockBuffer) Stop() error {
	b.out.mu.Lock()
	defer b.out.mu.Unlock()
	if b.stopped || b.ended {
		return errors.New("buffer already finished")
	}
	b.stopped = true
	return nil
}

// MockAudioOutput has a hand-driven clock.
type MockAudioOutput struct {
	mu          sync.Mutex
	now         float64
	buffers     []*mockBuffer
	scheduleErr error
	closed      int
	level       float64
}

func NewMockAudioOutput() *MockAudioOutput {
	return &MockAudioOutput{}
}

func (o *MockAudioOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *MockAudioOutput) SetTime(t float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

func (o *MockAudioOutput) Schedule(samples []float32, at float64, onEnded func()) (BufferHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scheduleErr != nil {
		return nil, o.scheduleErr
	}
	b := &mockBuffer{samples: samples, at: at, onEnded: onEnded, out: o}
	o.buffers = append(o.buffers, b)
	return b, nil
}

// End plays buffer i out and fires its callback.
func (o *MockAudioOutput) End(i int) {
	o.mu.Lock()
	b := o.buffers[i]
	if b.stopped || b.ended {
		o.mu.Unlock()
		return
	}
	b.ended = true
	o.mu.Unlock()
	if b.onEnded != nil {
		b.onEnded()
	}
}

func (o *MockAudioOutput) Scheduled() []*mockBuffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*mockBuffer, len(o.buffers))
	copy(out, o.buffers)
	return out
}

func (o *MockAudioOutput) Stopped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, b := range o.buffers {
		if b.stopped {
			n++
		}
	}
	return n
}

func (o *MockAudioOutput) Level() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

func (o *MockAudioOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *MockAudioOutput) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type MockTransport struct {
	mu         sync.Mutex
	connectErr error
	// block makes Connect wait until ctx is done.
	block bool
	// closeOnOpen queues a remote close as the first inbound message.
	closeOnOpen bool
	// closeGate, when set, holds the next session's Close until it is closed.
	closeGate chan struct{}
	ignoreCtx bool
	session   *MockTransportSession
	configs   []TransportConfig
}

func (m *MockTransport) Connect(ctx context.Context, cfg TransportConfig) (TransportSession, error) {
	m.mu.Lock()
	m.configs = append(m.configs, cfg)
	block, err := m.block, m.connectErr
	closeOnOpen, gate, ignoreCtx := m.closeOnOpen, m.closeGate, m.ignoreCtx
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	s := NewMockTransportSession()
	s.closeGate = gate
	s.ignoreCtx = ignoreCtx
	if closeOnOpen {
		s.Push(&ServerMessage{Closed: true})
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	return s, nil
}

func (m *MockTransport) Name() string {
	return "MockTransport"
}

func (m *MockTransport) Session() *MockTransportSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *MockTransport) Configs() []TransportConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransportConfig, len(m.configs))
	copy(out, m.configs)
	return out
}

type MockTransportSession struct {
	inbound chan *ServerMessage
	recvErr chan error

	closeGate   chan struct{}
	closing     chan struct{}
	closingOnce sync.Once
	// ignoreCtx makes Receive return empty messages once ctx is done.
	ignoreCtx bool

	mu           sync.Mutex
	audio        []EncodedAudioPacket
	texts        []string
	sendErr      error
	closed       int
	lateReceives int
}

func NewMockTransportSession() *MockTransportSession {
	return &MockTransportSession{
		inbound: make(chan *ServerMessage, 16),
		recvErr: make(chan error, 1),
		closing: make(chan struct{}),
	}
}

func (s *MockTransportSession) SendAudio(ctx context.Context, p EncodedAudioPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.audio = append(s.audio, p)
	return nil
}

func (s *MockTransportSession) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *MockTransportSession) Receive(ctx context.Context) (*ServerMessage, error) {
	select {
	case <-ctx.Done():
		if s.ignoreCtx {
			s.mu.Lock()
			s.lateReceives++
			s.mu.Unlock()
			return &ServerMessage{}, nil
		}
		return nil, ctx.Err()
	case err := <-s.recvErr:
		return nil, err
	case msg := <-s.inbound:
		return msg, nil
	}
}

func (s *MockTransportSession) Close() error {
	s.closingOnce.Do(func() { close(s.closing) })
	if s.closeGate != nil {
		<-s.closeGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *MockTransportSession) Push(msg *ServerMessage) {
	s.inbound <- msg
}

func (s *MockTransportSession) Fail(err error) {
	s.recvErr <- err
}

func (s *MockTransportSession) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *MockTransportSession) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *MockTransportSession) Audio() []EncodedAudioPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EncodedAudioPacket(nil), s.audio...)
}

func (s *MockTransportSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LateReceives counts Receive calls answered after ctx was done.
func (s *MockTransportSession) LateReceives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lateReceives
}

// pcmChunk builds an inbound chunk of n samples at the given amplitude.
func pcmChunk(n int, amp float32) InboundAudioChunk {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amp
	}
	return InboundAudioChunk{Payload: EncodeBlock(samples)}
}
