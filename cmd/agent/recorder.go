package main

import (
	"context"
	"os"
	"sync"

	"github.com/lokutor-ai/lokutor-live/pkg/audio"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

// recorder keeps every audio chunk the agent sent, including chunks that
// were later flushed by an interruption.
type recorder struct {
	mu  sync.Mutex
	pcm []byte
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) add(chunk live.InboundAudioChunk) {
	raw, err := audio.DecodeBase64(chunk.Payload)
	if err != nil || len(raw)%2 != 0 {
		return
	}
	r.mu.Lock()
	r.pcm = append(r.pcm, raw...)
	r.mu.Unlock()
}

func (r *recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.NewWavBuffer(r.pcm, audio.OutputFormat)
}

func (r *recorder) WriteFile(path string) error {
	return os.WriteFile(path, r.Bytes(), 0o644)
}

// Wrap tees inbound audio of every session opened through t.
func (r *recorder) Wrap(t live.Transport) live.Transport {
	return &recordingTransport{Transport: t, rec: r}
}

type recordingTransport struct {
	live.Transport
	rec *recorder
}

func (t *recordingTransport) Connect(ctx context.Context, cfg live.TransportConfig) (live.TransportSession, error) {
	s, err := t.Transport.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &recordingSession{TransportSession: s, rec: t.rec}, nil
}

type recordingSession struct {
	live.TransportSession
	rec *recorder
}

func (s *recordingSession) Receive(ctx context.Context) (*live.ServerMessage, error) {
	msg, err := s.TransportSession.Receive(ctx)
	if err == nil && msg != nil {
		for _, chunk := range msg.Audio {
			s.rec.add(chunk)
		}
	}
	return msg, err
}
