package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lokutor-ai/lokutor-live/pkg/audio"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
)

// ErrDeviceBusy is returned when the microphone is already held by a session.
var ErrDeviceBusy = errors.New("capture device already in use")

func initContext() (*malgo.AllocatedContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return mctx, nil
}

func releaseContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// Microphone opens the default capture device in mono float32. Only one
// session may hold it at a time.
type Microphone struct {
	mu    sync.Mutex
	inUse bool
}

func NewMicrophone() *Microphone {
	return &Microphone{}
}

func (m *Microphone) Open(ctx context.Context, format audio.Format) (live.CaptureDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.inUse {
		m.mu.Unlock()
		return nil, ErrDeviceBusy
	}
	m.inUse = true
	m.mu.Unlock()

	mctx, err := initContext()
	if err != nil {
		m.release()
		return nil, err
	}

	mic := &micDevice{owner: m, mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: mic.onData})
	if err != nil {
		releaseContext(mctx)
		m.release()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	mic.device = dev
	return mic, nil
}

func (m *Microphone) release() {
	m.mu.Lock()
	m.inUse = false
	m.mu.Unlock()
}

type micDevice struct {
	owner  *Microphone
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu        sync.Mutex
	onSamples func([]float32)
	scratch   []float32
	closeOnce sync.Once
}

func (d *micDevice) Start(onSamples func([]float32)) error {
	d.mu.Lock()
	d.onSamples = onSamples
	d.mu.Unlock()
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

func (d *micDevice) onData(_, pInput []byte, frameCount uint32) {
	if pInput == nil {
		return
	}
	d.mu.Lock()
	cb := d.onSamples
	n := int(frameCount)
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	samples := decodeFloat32(pInput, d.scratch[:n])
	d.mu.Unlock()

	if cb != nil {
		// The encoder copies what it keeps, so the scratch buffer can be reused.
		cb(samples)
	}
}

func (d *micDevice) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.onSamples = nil
		d.mu.Unlock()
		d.device.Uninit()
		releaseContext(d.mctx)
		d.owner.release()
	})
	return nil
}

// decodeFloat32 reads little-endian float32 samples into out.
func decodeFloat32(b []byte, out []float32) []float32 {
	n := len(b) / 4
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out[:n]
}

// Speaker opens the default playback device per session, driven by a Timeline.
type Speaker struct{}

func NewSpeaker() *Speaker {
	return &Speaker{}
}

func (s *Speaker) Open(ctx context.Context, format audio.Format) (live.AudioOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}

	out := &speakerOutput{Timeline: NewTimeline(format.SampleRate), mctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: out.onData})
	if err != nil {
		releaseContext(mctx)
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	out.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		releaseContext(mctx)
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	return out, nil
}

type speakerOutput struct {
	*Timeline
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32
	once    sync.Once
}

func (o *speakerOutput) onData(pOutput, _ []byte, frameCount uint32) {
	if pOutput == nil {
		return
	}
	n := int(frameCount)
	if cap(o.scratch) < n {
		o.scratch = make([]float32, n)
	}
	block := o.scratch[:n]
	o.Render(block)
	encodeS16(block, pOutput)
}

func (o *speakerOutput) Close() error {
	o.once.Do(func() {
		_ = o.Timeline.Close()
		o.device.Uninit()
		releaseContext(o.mctx)
	})
	return nil
}

// encodeS16 writes samples as little-endian PCM16 into dst.
func encodeS16(samples []float32, dst []byte) {
	for i, s := range samples {
		if i*2+1 >= len(dst) {
			return
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(audio.FloatToPCM16(s)))
	}
}
