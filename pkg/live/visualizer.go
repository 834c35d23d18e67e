package live

import (
	"context"
	"sync"
	"time"
)

// Visualizer periodically samples the output level for UI feedback.
type Visualizer struct {
	meter    LevelMeter
	interval time.Duration
	onLevel  func(float64)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	level  float64
}

func NewVisualizer(meter LevelMeter, interval time.Duration, onLevel func(float64)) *Visualizer {
	if interval <= 0 {
		interval = DefaultConfig().LevelInterval
	}
	return &Visualizer{meter: meter, interval: interval, onLevel: onLevel}
}

// Start launches the sampling loop. Starting a running visualizer is a no-op.
func (v *Visualizer) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil || v.meter == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	go v.loop(ctx, v.done)
}

func (v *Visualizer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := v.meter.Level()
			v.mu.Lock()
			v.level = level
			v.mu.Unlock()
			if v.onLevel != nil {
				v.onLevel(level)
			}
		}
	}
}

// Stop cancels the loop and waits for it to exit, then zeroes the level.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	v.mu.Lock()
	v.level = 0
	v.mu.Unlock()
}

func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// Level returns the most recent sample.
func (v *Visualizer) Level() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.level
}
