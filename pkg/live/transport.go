package live

import "context"

// Direction tags which side of the conversation a transcript delta belongs to.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Role maps input transcription to the user and output transcription to the agent.
func (d Direction) Role() Role {
	if d == DirectionInput {
		return RoleUser
	}
	return RoleAgent
}

const ModalityAudio = "AUDIO"

// TransportConfig is sent to the remote agent when the session opens.
type TransportConfig struct {
	Model               string
	Voice               Voice
	SystemInstruction   string
	ResponseModalities  []string
	InputTranscription  bool
	OutputTranscription bool
}

type TranscriptDelta struct {
	Direction Direction
	Text      string
}

// ServerMessage is one inbound message. Every field is independent; a single
// message may carry transcript deltas, audio and an interruption at once.
type ServerMessage struct {
	Transcripts []TranscriptDelta
	Audio       []InboundAudioChunk
	Interrupted bool
	Closed      bool
	Err         error
}

// Transport opens sessions against a remote conversational agent. Connect
// returns only after the remote acknowledged the session as open.
type Transport interface {
	Connect(ctx context.Context, cfg TransportConfig) (TransportSession, error)
	Name() string
}

// TransportSession is a single multiplexed duplex stream.
type TransportSession interface {
	SendAudio(ctx context.Context, packet EncodedAudioPacket) error
	SendText(ctx context.Context, text string) error
	// Receive blocks for the next inbound message. A clean remote close is
	// reported as a message with Closed set.
	Receive(ctx context.Context) (*ServerMessage, error)
	Close() error
}

// SessionEvent is a typed inbound event derived from a ServerMessage.
type SessionEvent interface {
	sessionEvent()
}

type TranscriptEvent struct {
	Role Role
	Text string
}

type AudioEvent struct {
	Chunk InboundAudioChunk
}

type InterruptEvent struct{}

type CloseEvent struct{}

type FailureEvent struct {
	Err error
}

func (TranscriptEvent) sessionEvent() {}
func (AudioEvent) sessionEvent()      {}
func (InterruptEvent) sessionEvent()  {}
func (CloseEvent) sessionEvent()      {}
func (FailureEvent) sessionEvent()    {}

// Events expands the message in processing order: transcript deltas, audio,
// interruption, then termination. An interruption must follow the audio of
// the same message so that it flushes that audio too.
func (m *ServerMessage) Events() []SessionEvent {
	if m == nil {
		return nil
	}
	events := make([]SessionEvent, 0, len(m.Transcripts)+len(m.Audio)+2)
	for _, t := range m.Transcripts {
		if t.Text == "" {
			continue
		}
		events = append(events, TranscriptEvent{Role: t.Direction.Role(), Text: t.Text})
	}
	for _, a := range m.Audio {
		events = append(events, AudioEvent{Chunk: a})
	}
	if m.Interrupted {
		events = append(events, InterruptEvent{})
	}
	if m.Err != nil {
		events = append(events, FailureEvent{Err: m.Err})
	} else if m.Closed {
		events = append(events, CloseEvent{})
	}
	return events
}
