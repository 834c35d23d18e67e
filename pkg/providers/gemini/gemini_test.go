package gemini

import (
	"context"
	"testing"

	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConnectConfig(t *testing.T) {
	lc := connectConfig(live.TransportConfig{
		Model:               live.DefaultModel,
		Voice:               live.VoiceCharon,
		SystemInstruction:   "be brief",
		ResponseModalities:  []string{live.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: false,
	})

	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, lc.ResponseModalities)
	require.NotNil(t, lc.SpeechConfig)
	assert.Equal(t, "Charon", lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, lc.SystemInstruction)
	assert.Equal(t, "be brief", lc.SystemInstruction.Parts[0].Text)
	assert.NotNil(t, lc.InputAudioTranscription)
	assert.Nil(t, lc.OutputAudioTranscription)
}

func TestToServerMessage(t *testing.T) {
	msg := toServerMessage(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "hello"},
			OutputTranscription: &genai.Transcription{Text: "hi there"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{0, 0, 1, 0}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				nil,
			}},
			Interrupted: true,
		},
	})

	assert.Equal(t, []live.TranscriptDelta{
		{Direction: live.DirectionInput, Text: "hello"},
		{Direction: live.DirectionOutput, Text: "hi there"},
	}, msg.Transcripts)
	assert.Equal(t, []live.InboundAudioChunk{{Payload: "AAABAA=="}}, msg.Audio)
	assert.True(t, msg.Interrupted)
	assert.False(t, msg.Closed)
}

func TestToServerMessageGoAway(t *testing.T) {
	msg := toServerMessage(&genai.LiveServerMessage{GoAway: &genai.LiveServerGoAway{}})
	assert.True(t, msg.Closed)
	assert.Equal(t, []live.SessionEvent{live.CloseEvent{}}, msg.Events())

	empty := toServerMessage(nil)
	assert.Empty(t, empty.Events())
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}
