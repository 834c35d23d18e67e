package live

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisualizerSamplesAndStops(t *testing.T) {
	out := NewMockAudioOutput()
	out.level = 0.4

	var samples atomic.Int32
	v := NewVisualizer(out, time.Millisecond, func(float64) { samples.Add(1) })
	v.Start(context.Background())
	v.Start(context.Background())
	assert.True(t, v.Running())

	require.Eventually(t, func() bool { return v.Level() == 0.4 }, time.Second, time.Millisecond)

	v.Stop()
	v.Stop()
	assert.False(t, v.Running())
	assert.Equal(t, 0.0, v.Level())

	after := samples.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, samples.Load())
}

func TestVisualizerStopsWithContext(t *testing.T) {
	v := NewVisualizer(NewMockAudioOutput(), time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	v.Start(ctx)
	cancel()
	v.Stop()
	assert.False(t, v.Running())
}
