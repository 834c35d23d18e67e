package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOddLength is returned when a PCM16 byte buffer does not hold a whole
// number of samples.
var ErrOddLength = errors.New("pcm16 buffer has odd length")

// Format describes a linear PCM stream.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

var (
	// InputFormat is what the microphone path sends upstream.
	InputFormat = Format{SampleRate: 16000, BitDepth: 16, Channels: 1}
	// OutputFormat is what the remote agent speaks back.
	OutputFormat = Format{SampleRate: 24000, BitDepth: 16, Channels: 1}
)

// BytesPerFrame returns the size of one interleaved frame in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// MIMEType returns the mime type the remote agent expects for this format.
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Seconds returns the playback length of the given number of frames.
func (f Format) Seconds(frames int) float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(frames) / float64(f.SampleRate)
}

// Duration is Seconds as a time.Duration.
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// FloatToPCM16 scales a sample in [-1,1] by 32768 and clamps the result to
// the int16 range, so +1.0 maps to 32767 and -1.0 to -32768. NaN maps to 0.
func FloatToPCM16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat normalizes a sample by 32768.
func PCM16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// EncodePCM16 converts float samples to little-endian PCM16 bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes to normalized float samples.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return out, nil
}

// EncodeBase64 is the payload encoding used on the wire.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// RMS returns the root mean square energy of float samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
