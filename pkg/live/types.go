package live

import (
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// State is the lifecycle state of a live session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Voice is a prebuilt persona voice of the remote agent.
type Voice string

const (
	VoiceZephyr Voice = "Zephyr"
	VoiceKore   Voice = "Kore"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceFenrir Voice = "Fenrir"
	VoiceAoede  Voice = "Aoede"
	VoiceLeda   Voice = "Leda"
	VoiceOrus   Voice = "Orus"
)

var validVoices = map[Voice]bool{
	VoiceZephyr: true, VoiceKore: true, VoicePuck: true, VoiceCharon: true,
	VoiceFenrir: true, VoiceAoede: true, VoiceLeda: true, VoiceOrus: true,
}

// ParseVoice validates a voice name.
func ParseVoice(name string) (Voice, error) {
	v := Voice(name)
	if !validVoices[v] {
		return "", fmt.Errorf("invalid voice: %s", name)
	}
	return v, nil
}

// Role attributes transcript text to a speaker.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptTurn is a contiguous span of text attributed to one role.
type TranscriptTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	Open bool   `json:"open"`
}

// EncodedAudioPacket is one captured block ready for the wire.
type EncodedAudioPacket struct {
	Seq     uint64
	Payload string // base64 PCM16 LE
	Format  audio.Format
}

// MIMEType is the wire mime type of the packet payload.
func (p EncodedAudioPacket) MIMEType() string {
	return p.Format.MIMEType()
}

// InboundAudioChunk is base64 PCM16 @ 24 kHz mono as received from the agent.
type InboundAudioChunk struct {
	Payload string
}

type EventType string

const (
	StateChanged      EventType = "STATE_CHANGED"
	TranscriptUpdated EventType = "TRANSCRIPT_UPDATED"
	AudioLevel        EventType = "AUDIO_LEVEL"
	Interrupted       EventType = "INTERRUPTED"
	ErrorEvent        EventType = "ERROR"
)

// Event is the caller-visible notification emitted by a SessionController.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

const DefaultSystemInstruction = "You are a helpful and concise voice assistant. " +
	"Use short sentences suitable for speech and respond in the user's language."

type Config struct {
	Model             string
	Voice             Voice
	SystemInstruction string
	// Transcription flags forwarded to the remote agent.
	InputTranscription  bool
	OutputTranscription bool
	// Samples per captured block.
	CaptureBlockSize int
	// Outbound frames buffered before the oldest audio frame is dropped.
	SendQueueSize int
	// How often the visualizer samples the output level.
	LevelInterval time.Duration
	EventBuffer   int
}

func DefaultConfig() Config {
	return Config{
		Model:               DefaultModel,
		Voice:               VoiceZephyr,
		SystemInstruction:   DefaultSystemInstruction,
		InputTranscription:  true,
		OutputTranscription: true,
		CaptureBlockSize:    4096,
		SendQueueSize:       64,
		LevelInterval:       16 * time.Millisecond,
		EventBuffer:         1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.CaptureBlockSize <= 0 {
		c.CaptureBlockSize = d.CaptureBlockSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = d.LevelInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}
