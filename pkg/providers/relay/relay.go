package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

const defaultReadLimit = 10 * 1024 * 1024

// ErrClosedBeforeOpen is returned when the relay hangs up during setup.
var ErrClosedBeforeOpen = errors.New("relay closed before the session opened")

type setupPayload struct {
	Model               string   `json:"model"`
	Voice               string   `json:"voice"`
	SystemInstruction   string   `json:"systemInstruction,omitempty"`
	ResponseModalities  []string `json:"responseModalities"`
	InputTranscription  bool     `json:"inputTranscription"`
	OutputTranscription bool     `json:"outputTranscription"`
}

type audioPayload struct {
	Payload  string `json:"payload"`
	MIMEType string `json:"mimeType,omitempty"`
}

type transcriptPayload struct {
	Direction string `json:"direction"`
	Text      string `json:"text"`
}

type clientFrame struct {
	Setup         *setupPayload `json:"setup,omitempty"`
	RealtimeAudio *audioPayload `json:"realtimeAudio,omitempty"`
	Text          *string       `json:"text,omitempty"`
}

type serverFrame struct {
	Open        bool               `json:"open,omitempty"`
	Transcript  *transcriptPayload `json:"transcript,omitempty"`
	AudioChunk  *audioPayload      `json:"audioChunk,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Closed      bool               `json:"closed,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Transport speaks the JSON relay protocol over a websocket.
type Transport struct {
	apiKey string
	host   string
	scheme string
	path   string
}

// New builds a transport for a relay URL such as wss://relay.example.com/live.
func New(rawURL, apiKey string) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid relay url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid relay url: missing host")
	}
	return &Transport{apiKey: apiKey, host: u.Host, scheme: u.Scheme, path: u.Path}, nil
}

func (t *Transport) Name() string {
	return "relay"
}

func (t *Transport) endpoint() string {
	u := url.URL{Scheme: t.scheme, Host: t.host, Path: t.path}
	if t.apiKey != "" {
		u.RawQuery = url.Values{"api_key": {t.apiKey}}.Encode()
	}
	return u.String()
}

// Connect dials the relay, sends the setup frame and waits for the open
// acknowledgement.
func (t *Transport) Connect(ctx context.Context, cfg live.TransportConfig) (live.TransportSession, error) {
	conn, _, err := websocket.Dial(ctx, t.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	setup := clientFrame{Setup: &setupPayload{
		Model:               cfg.Model,
		Voice:               string(cfg.Voice),
		SystemInstruction:   cfg.SystemInstruction,
		ResponseModalities:  cfg.ResponseModalities,
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
	}}
	if err := wsjson.Write(ctx, conn, setup); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write setup")
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}

	s := &session{conn: conn}
	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, ErrClosedBeforeOpen
			}
			return nil, fmt.Errorf("failed to read from relay: %w", err)
		}
		switch {
		case frame.Error != "":
			conn.Close(websocket.StatusNormalClosure, "")
			return nil, fmt.Errorf("relay error: %s", frame.Error)
		case frame.Closed:
			conn.Close(websocket.StatusNormalClosure, "")
			return nil, ErrClosedBeforeOpen
		case frame.Open:
			// Content that rides along with the acknowledgement is kept for
			// the first Receive.
			if msg := toServerMessage(frame); !isEmpty(msg) {
				s.pending = msg
			}
			return s, nil
		}
	}
}

type session struct {
	conn    *websocket.Conn
	pending *live.ServerMessage

	closeOnce sync.Once
	closeErr  error
}

func (s *session) SendAudio(ctx context.Context, p live.EncodedAudioPacket) error {
	return s.write(ctx, clientFrame{RealtimeAudio: &audioPayload{Payload: p.Payload, MIMEType: p.MIMEType()}})
}

func (s *session) SendText(ctx context.Context, text string) error {
	return s.write(ctx, clientFrame{Text: &text})
}

func (s *session) write(ctx context.Context, frame clientFrame) error {
	if err := wsjson.Write(ctx, s.conn, frame); err != nil {
		return fmt.Errorf("failed to write to relay: %w", err)
	}
	return nil
}

// Receive reads the next frame. A normal websocket closure is reported as a
// closed message rather than an error.
func (s *session) Receive(ctx context.Context) (*live.ServerMessage, error) {
	if msg := s.pending; msg != nil {
		s.pending = nil
		return msg, nil
	}
	var frame serverFrame
	if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return &live.ServerMessage{Closed: true}, nil
		}
		return nil, fmt.Errorf("failed to read from relay: %w", err)
	}
	return toServerMessage(frame), nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "")
		// Already closed by the peer or by a cancelled read.
		var ce websocket.CloseError
		if errors.As(s.closeErr, &ce) || errors.Is(s.closeErr, context.Canceled) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

func toServerMessage(f serverFrame) *live.ServerMessage {
	msg := &live.ServerMessage{
		Interrupted: f.Interrupted,
		Closed:      f.Closed,
	}
	if f.Transcript != nil {
		msg.Transcripts = []live.TranscriptDelta{{
			Direction: live.Direction(f.Transcript.Direction),
			Text:      f.Transcript.Text,
		}}
	}
	if f.AudioChunk != nil {
		msg.Audio = []live.InboundAudioChunk{{Payload: f.AudioChunk.Payload}}
	}
	if f.Error != "" {
		msg.Err = errors.New(f.Error)
	}
	return msg
}

func isEmpty(m *live.ServerMessage) bool {
	return len(m.Transcripts) == 0 && len(m.Audio) == 0 && !m.Interrupted && !m.Closed && m.Err == nil
}
