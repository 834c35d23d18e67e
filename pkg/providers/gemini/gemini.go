package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"google.golang.org/genai"
)

// ErrNoSetupComplete is returned when the first server message is not the
// setup acknowledgement.
var ErrNoSetupComplete = errors.New("gemini live: expected setupComplete")

// Transport connects to the Gemini Live API.
type Transport struct {
	client *genai.Client
}

func New(ctx context.Context, apiKey string) (*Transport, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Transport{client: client}, nil
}

func (t *Transport) Name() string {
	return "gemini"
}

func connectConfig(cfg live.TransportConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{}
	for _, m := range cfg.ResponseModalities {
		lc.ResponseModalities = append(lc.ResponseModalities, genai.Modality(m))
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: string(cfg.Voice)},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

type received struct {
	msg *genai.LiveServerMessage
	err error
}

// Connect opens a live session and waits for setupComplete.
func (t *Transport) Connect(ctx context.Context, cfg live.TransportConfig) (live.TransportSession, error) {
	gs, err := t.client.Live.Connect(ctx, cfg.Model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gemini live: %w", err)
	}

	s := &session{
		live:     gs,
		messages: make(chan received, 16),
		done:     make(chan struct{}),
	}
	go s.readLoop()

	select {
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case r := <-s.messages:
		if r.err != nil {
			s.Close()
			return nil, fmt.Errorf("gemini live setup: %w", r.err)
		}
		if r.msg.SetupComplete == nil {
			s.Close()
			return nil, ErrNoSetupComplete
		}
	}
	return s, nil
}

type session struct {
	live     *genai.Session
	messages chan received
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// readLoop pumps the blocking Receive into a channel so reads can honour a
// context.
func (s *session) readLoop() {
	for {
		msg, err := s.live.Receive()
		select {
		case s.messages <- received{msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) SendAudio(ctx context.Context, p live.EncodedAudioPacket) error {
	pcm, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return fmt.Errorf("invalid audio packet %d: %w", p.Seq, err)
	}
	return s.send(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: p.MIMEType()},
	})
}

func (s *session) SendText(ctx context.Context, text string) error {
	return s.send(genai.LiveRealtimeInput{Text: text})
}

func (s *session) send(input genai.LiveRealtimeInput) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.live.SendRealtimeInput(input); err != nil {
		return fmt.Errorf("failed to send to gemini live: %w", err)
	}
	return nil
}

func (s *session) Receive(ctx context.Context) (*live.ServerMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-s.messages:
		if r.err != nil {
			if websocket.IsCloseError(r.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return &live.ServerMessage{Closed: true}, nil
			}
			return nil, r.err
		}
		return toServerMessage(r.msg), nil
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.live.Close()
	})
	return s.closeErr
}

// toServerMessage flattens a Gemini server message. goAway is treated as a
// clean close; the server is about to drop the connection.
func toServerMessage(m *genai.LiveServerMessage) *live.ServerMessage {
	msg := &live.ServerMessage{}
	if m == nil {
		return msg
	}
	if sc := m.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			msg.Transcripts = append(msg.Transcripts, live.TranscriptDelta{
				Direction: live.DirectionInput,
				Text:      sc.InputTranscription.Text,
			})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			msg.Transcripts = append(msg.Transcripts, live.TranscriptDelta{
				Direction: live.DirectionOutput,
				Text:      sc.OutputTranscription.Text,
			})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				msg.Audio = append(msg.Audio, live.InboundAudioChunk{
					Payload: base64.StdEncoding.EncodeToString(part.InlineData.Data),
				})
			}
		}
		msg.Interrupted = sc.Interrupted
	}
	if m.GoAway != nil {
		msg.Closed = true
	}
	return msg
}
