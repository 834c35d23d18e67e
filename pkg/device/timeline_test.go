package device

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ones(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestTimelineClockAdvancesWithRender(t *testing.T) {
	tl := NewTimeline(100)
	assert.Equal(t, 0.0, tl.CurrentTime())

	tl.Render(make([]float32, 50))
	assert.Equal(t, 0.5, tl.CurrentTime())
}

func TestTimelinePlaysAtScheduledFrame(t *testing.T) {
	tl := NewTimeline(10)
	ended := 0
	_, err := tl.Schedule(ones(3, 0.5), 0.2, func() { ended++ })
	require.NoError(t, err)

	out := make([]float32, 4)
	tl.Render(out)
	assert.Equal(t, []float32{0, 0, 0.5, 0.5}, out)
	assert.Equal(t, 0, ended)

	tl.Render(out)
	assert.Equal(t, []float32{0.5, 0, 0, 0}, out)
	assert.Equal(t, 1, ended)
	assert.Equal(t, 0, tl.Pending())
}

func TestTimelinePastStartPlaysNow(t *testing.T) {
	tl := NewTimeline(10)
	tl.Render(make([]float32, 10))

	_, err := tl.Schedule(ones(2, 0.25), 0, nil)
	require.NoError(t, err)
	out := make([]float32, 2)
	tl.Render(out)
	assert.Equal(t, []float32{0.25, 0.25}, out)
}

func TestTimelineMixesAndClamps(t *testing.T) {
	tl := NewTimeline(10)
	_, err := tl.Schedule(ones(2, 0.75), 0, nil)
	require.NoError(t, err)
	_, err = tl.Schedule(ones(2, 0.75), 0, nil)
	require.NoError(t, err)

	out := make([]float32, 2)
	tl.Render(out)
	assert.Equal(t, []float32{1, 1}, out)
	assert.InDelta(t, 1.0, tl.Level(), 1e-9)
}

func TestTimelineStopSkipsCallback(t *testing.T) {
	tl := NewTimeline(10)
	ended := false
	h, err := tl.Schedule(ones(5, 0.5), 0, func() { ended = true })
	require.NoError(t, err)

	tl.Render(make([]float32, 2))
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrBufferFinished)

	out := make([]float32, 5)
	tl.Render(out)
	assert.Equal(t, make([]float32, 5), out)
	assert.False(t, ended)
}

func TestTimelineCallbackMayReenter(t *testing.T) {
	tl := NewTimeline(10)
	_, err := tl.Schedule(ones(1, 0.1), 0, func() {
		// Callbacks run unlocked, so they can touch the timeline.
		_ = tl.CurrentTime()
		_, _ = tl.Schedule(ones(1, 0.1), tl.CurrentTime(), nil)
	})
	require.NoError(t, err)
	tl.Render(make([]float32, 1))
	assert.Equal(t, 1, tl.Pending())
}

func TestTimelineClose(t *testing.T) {
	tl := NewTimeline(10)
	_, err := tl.Schedule(ones(5, 0.5), 0, nil)
	require.NoError(t, err)
	require.NoError(t, tl.Close())

	_, err = tl.Schedule(ones(5, 0.5), 0, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, tl.Pending())

	out := ones(3, 9)
	tl.Render(out)
	assert.Equal(t, make([]float32, 3), out)
}

func TestDecodeFloat32(t *testing.T) {
	raw := make([]byte, 12)
	for i, v := range []float32{0.5, -1, 0.25} {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	out := decodeFloat32(raw, make([]float32, 3))
	assert.Equal(t, []float32{0.5, -1, 0.25}, out)

	short := decodeFloat32(raw, make([]float32, 2))
	assert.Len(t, short, 2)
}

func TestEncodeS16(t *testing.T) {
	dst := make([]byte, 6)
	encodeS16([]float32{1, -1, 0}, dst)
	assert.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80, 0x00, 0x00}, dst)
}
