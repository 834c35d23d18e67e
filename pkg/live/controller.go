package live

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

// allowedTransitions is the session lifecycle. Stop may close from anywhere.
var allowedTransitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosing},
	StateConnecting: {StateActive, StateClosing, StateError},
	StateActive:     {StateClosing, StateError},
	StateClosing:    {StateClosed, StateError, StateConnecting},
	StateClosed:     {StateConnecting, StateClosing},
	StateError:      {StateConnecting, StateClosing},
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SessionController owns one live voice session at a time: the microphone,
// the transport, playback and the transcript. It is reusable; every Start
// builds a fresh set of per-session resources.
type SessionController struct {
	transport Transport
	capture   CaptureSource
	playback  PlaybackSink
	config    Config
	logger    Logger
	metrics   *Metrics

	mu      sync.Mutex
	state   State
	sess    *liveSession
	lastErr error

	// transcript of the current or most recent session
	transcript *TranscriptAggregator

	emitMu sync.RWMutex
	closed bool
	events chan Event
}

// liveSession holds everything acquired for a single Start.
type liveSession struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	transcript *TranscriptAggregator

	mu        sync.Mutex
	torn      bool
	encoder   *CaptureEncoder
	outbox    *Outbox
	scheduler *PlaybackScheduler
	visual    *Visualizer
	transport TransportSession

	// dispatchMu serializes inbound event handling against teardown.
	dispatchMu sync.Mutex
	ended      bool
}

// attach runs fn unless the session has already been torn down.
func (s *liveSession) attach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return false
	}
	fn()
	return true
}

func (s *liveSession) isTorn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torn
}

// NewSessionController creates a controller with a no-op logger and
// unregistered metrics.
func NewSessionController(transport Transport, capture CaptureSource, playback PlaybackSink, config Config) *SessionController {
	return NewSessionControllerWithLogger(transport, capture, playback, config, &NoOpLogger{}, nil)
}

// NewSessionControllerWithLogger creates a controller with a custom logger
// and metrics. Either may be nil.
func NewSessionControllerWithLogger(transport Transport, capture CaptureSource, playback PlaybackSink, config Config, logger Logger, metrics *Metrics) *SessionController {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	config = config.withDefaults()
	return &SessionController{
		transport:  transport,
		capture:    capture,
		playback:   playback,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		state:      StateIdle,
		transcript: NewTranscriptAggregator(),
		events:     make(chan Event, config.EventBuffer),
	}
}

// Start acquires the microphone, opens the transport and, once the remote
// agent acknowledges the session, begins streaming. Any failure leaves the
// controller in StateError with every partially acquired resource released.
func (c *SessionController) Start(ctx context.Context) error {
	if c.transport == nil || c.capture == nil || c.playback == nil {
		return ErrNilProvider
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.mu.Unlock()
		return ErrSessionActive
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &liveSession{
		id:         uuid.NewString(),
		ctx:        sessCtx,
		cancel:     cancel,
		transcript: NewTranscriptAggregator(),
	}
	c.sess = s
	c.lastErr = nil
	cfg := c.config
	c.transcript = s.transcript
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.logger.Info("starting live session", "sessionID", s.id, "transport", c.transport.Name(), "voice", cfg.Voice)

	// Stop aborts an in-flight connect through the session context.
	connectCtx, stopConnect := context.WithCancel(ctx)
	defer stopConnect()
	unlink := context.AfterFunc(sessCtx, stopConnect)
	defer unlink()

	dev, err := c.capture.Open(connectCtx, audio.InputFormat)
	if err != nil {
		return c.fail(s, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err))
	}
	if !s.attach(func() {
		s.outbox = NewOutbox(cfg.SendQueueSize, c.logger, c.metrics)
		s.encoder = NewCaptureEncoder(dev, cfg.CaptureBlockSize, func(p EncodedAudioPacket) {
			s.outbox.PushAudio(p)
		}, c.logger)
	}) {
		_ = dev.Close()
		return ErrNotActive
	}

	out, err := c.playback.Open(connectCtx, audio.OutputFormat)
	if err != nil {
		return c.fail(s, fmt.Errorf("open playback: %w", err))
	}
	if !s.attach(func() {
		s.scheduler = NewPlaybackScheduler(out, c.logger, c.metrics)
		if meter, ok := out.(LevelMeter); ok {
			s.visual = NewVisualizer(meter, cfg.LevelInterval, func(level float64) {
				c.emit(s.id, AudioLevel, level)
			})
		}
	}) {
		_ = out.Close()
		return ErrNotActive
	}

	ts, err := c.transport.Connect(connectCtx, TransportConfig{
		Model:               cfg.Model,
		Voice:               cfg.Voice,
		SystemInstruction:   cfg.SystemInstruction,
		ResponseModalities:  []string{ModalityAudio},
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
	})
	if err != nil {
		return c.fail(s, fmt.Errorf("%w: %v", ErrTransportOpen, err))
	}
	if !s.attach(func() { s.transport = ts }) {
		_ = ts.Close()
		return ErrNotActive
	}

	c.mu.Lock()
	if c.sess != s || !canTransition(c.state, StateActive) {
		c.mu.Unlock()
		c.teardown(s)
		return ErrNotActive
	}
	c.setStateLocked(StateActive)
	c.mu.Unlock()

	c.logger.Info("live session open", "sessionID", s.id)

	if err := s.encoder.Start(); err != nil {
		if s.isTorn() {
			// Stopped while the microphone was starting.
			return nil
		}
		return c.fail(s, err)
	}
	go c.receiveLoop(s)
	go c.sendLoop(s)
	if s.visual != nil {
		s.visual.Start(s.ctx)
	}
	return nil
}

// Stop tears the current session down. It can be called from any state, any
// number of times, and always succeeds; failing release steps are logged.
func (c *SessionController) Stop() {
	c.stop(nil)
}

// stop ends target, or whatever session is current when target is nil.
func (c *SessionController) stop(target *liveSession) {
	c.mu.Lock()
	s := c.sess
	if target != nil && s != target {
		c.mu.Unlock()
		return
	}
	if s == nil && (c.state == StateClosed || c.state == StateClosing) {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateClosing)
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		c.teardown(s)
		c.metrics.sessionEnded("closed")
		c.logger.Info("live session stopped", "sessionID", s.id)
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.setStateLocked(StateClosed)
	}
	c.mu.Unlock()
}

// SendText forwards typed input to the agent and records it as a closed user
// turn. Outside an active session it does nothing and returns ErrNotActive.
func (c *SessionController) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	s := c.sess
	active := c.state == StateActive
	c.mu.Unlock()
	if !active || s == nil {
		return ErrNotActive
	}

	s.outbox.PushText(text)
	s.transcript.AppendClosed(RoleUser, text)
	c.emit(s.id, TranscriptUpdated, s.transcript.Turns())
	return nil
}

// fail moves the session to StateError and releases everything it holds.
func (c *SessionController) fail(s *liveSession, err error) error {
	c.mu.Lock()
	current := c.sess == s
	if current {
		c.lastErr = err
		c.setStateLocked(StateError)
		c.sess = nil
	}
	c.mu.Unlock()

	c.teardown(s)

	if current {
		c.logger.Error("live session failed", "sessionID", s.id, "error", err)
		c.metrics.sessionEnded("error")
		c.emit(s.id, ErrorEvent, err.Error())
	}
	return err
}

// remoteClosed ends the session because the agent hung up.
func (c *SessionController) remoteClosed(s *liveSession) {
	c.logger.Info("remote closed live session", "sessionID", s.id)
	c.stop(s)
}

// teardown releases every resource of s. Each step runs regardless of the
// outcome of the previous ones.
func (c *SessionController) teardown(s *liveSession) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	encoder, outbox, scheduler, visual, ts := s.encoder, s.outbox, s.scheduler, s.visual, s.transport
	s.mu.Unlock()

	s.cancel()

	if encoder != nil {
		c.step(s, "stop capture", encoder.Stop)
	}
	if outbox != nil {
		outbox.Close()
	}
	if ts != nil {
		c.step(s, "close transport", ts.Close)
	}
	if scheduler != nil {
		c.step(s, "release playback", scheduler.Close)
	}
	if visual != nil {
		c.step(s, "stop visualizer", func() error {
			visual.Stop()
			return nil
		})
	}

	s.dispatchMu.Lock()
	s.ended = true
	s.transcript.CloseAll()
	s.dispatchMu.Unlock()
}

func (c *SessionController) step(s *liveSession, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("teardown step panicked", "sessionID", s.id, "step", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		c.logger.Warn("teardown step failed", "sessionID", s.id, "step", name, "error", err)
	}
}

func (c *SessionController) receiveLoop(s *liveSession) {
	for s.ctx.Err() == nil {
		msg, err := s.transport.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			c.fail(s, fmt.Errorf("%w: %v", ErrTransportFailed, err))
			return
		}

		closed, failure := c.dispatch(s, msg)
		switch {
		case failure != nil:
			c.fail(s, fmt.Errorf("%w: %v", ErrTransportFailed, failure))
			return
		case closed:
			c.remoteClosed(s)
			return
		}
	}
}

func (c *SessionController) sendLoop(s *liveSession) {
	if err := s.outbox.Run(s.ctx, s.transport); err != nil {
		c.fail(s, fmt.Errorf("%w: %v", ErrTransportFailed, err))
	}
}

// dispatch applies one inbound message in order: transcripts, audio, then
// interruption. Termination is reported to the caller instead of handled
// here so that teardown never runs under dispatchMu.
func (c *SessionController) dispatch(s *liveSession, msg *ServerMessage) (closed bool, failure error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.ended {
		return false, nil
	}

	transcriptChanged := false
	for _, ev := range msg.Events() {
		switch e := ev.(type) {
		case TranscriptEvent:
			s.transcript.Apply(e.Role, e.Text)
			transcriptChanged = true
		case AudioEvent:
			// Undecodable chunks are logged and counted by the scheduler.
			_, _ = s.scheduler.Enqueue(e.Chunk)
		case InterruptEvent:
			n := s.scheduler.Interrupt()
			c.metrics.interrupted()
			c.logger.Debug("playback interrupted", "sessionID", s.id, "flushed", n)
			c.emit(s.id, Interrupted, n)
		case CloseEvent:
			closed = true
		case FailureEvent:
			failure = e.Err
		}
	}
	if transcriptChanged {
		c.emit(s.id, TranscriptUpdated, s.transcript.Turns())
	}
	return closed, failure
}

func (c *SessionController) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		c.logger.Warn("unexpected session state transition", "from", from.String(), "to", to.String())
	}
	c.state = to
	id := ""
	if c.sess != nil {
		id = c.sess.id
	}
	c.emit(id, StateChanged, to)
}

func (c *SessionController) emit(sessionID string, eventType EventType, data interface{}) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- Event{Type: eventType, SessionID: sessionID, Data: data}:
	default:
		// Level samples are superseded by the next one anyway.
		if eventType != AudioLevel {
			c.logger.Warn("event buffer full, dropping event", "type", eventType)
		}
	}
}

// Events returns the controller's event channel. It is closed by Close.
func (c *SessionController) Events() <-chan Event {
	return c.events
}

// Close stops any session and closes the event channel.
func (c *SessionController) Close() {
	c.Stop()
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *SessionController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current session, or "" when none is running.
func (c *SessionController) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Err returns the error that ended the most recent session, if any.
func (c *SessionController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Transcript returns a copy of the transcript log of the current or most
// recent session.
func (c *SessionController) Transcript() []TranscriptTurn {
	c.mu.Lock()
	t := c.transcript
	c.mu.Unlock()
	return t.Turns()
}

// Level returns the latest output level, or 0 when no session is active.
func (c *SessionController) Level() float64 {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	visual := s.visual
	s.mu.Unlock()
	if visual == nil {
		return 0
	}
	return visual.Level()
}

// SetVoice changes the persona used by the next session.
func (c *SessionController) SetVoice(voice Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Voice = voice
}

// SetSystemInstruction changes the instruction used by the next session.
func (c *SessionController) SetSystemInstruction(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.SystemInstruction = text
}

// GetConfig returns the configuration the next session will use.
func (c *SessionController) GetConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}
