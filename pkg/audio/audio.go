// Package audio turns uploaded recordings into the mono float32 samples the
// forced-alignment decoder consumes.
//
// Two inputs are supported: RIFF/WAVE files ([DecodeWAV], decoded with
// gopxl/beep) and raw little-endian 16-bit PCM with a caller supplied
// [Format] ([DecodePCM16]). Both downmix to mono and can resample to the
// decoder's rate.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep"
)

// ErrEmpty is returned when a recording decodes to zero samples.
var ErrEmpty = errors.New("audio: no samples")

// resampleQuality is the beep resampler quality (interpolation window).
const resampleQuality = 4

// Format describes the sample rate and channel count of raw PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether f can describe PCM audio.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate %d must be positive", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count %d must be positive", f.Channels)
	}
	return nil
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Clip is decoded mono audio.
type Clip struct {
	// Samples holds mono samples in [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int
}

// Duration returns the playing time of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Resample returns a copy of c at rate. c is returned unchanged when it
// already has that rate or rate is not positive.
func (c *Clip) Resample(rate int) *Clip {
	if rate <= 0 || c.SampleRate <= 0 || rate == c.SampleRate || len(c.Samples) == 0 {
		return c
	}
	i := 0
	src := beep.StreamerFunc(func(buf [][2]float64) (int, bool) {
		if i >= len(c.Samples) {
			return 0, false
		}
		n := 0
		for ; n < len(buf) && i < len(c.Samples); n, i = n+1, i+1 {
			v := float64(c.Samples[i])
			buf[n] = [2]float64{v, v}
		}
		return n, true
	})
	rs := beep.Resample(resampleQuality, beep.SampleRate(c.SampleRate), beep.SampleRate(rate), src)
	hint := int(int64(len(c.Samples)) * int64(rate) / int64(c.SampleRate))
	out, _ := readMono(rs, hint)
	return &Clip{Samples: out, SampleRate: rate}
}

// Option configures decoding.
type Option func(*options)

type options struct {
	rate int
}

// WithSampleRate resamples decoded audio to rate.
func WithSampleRate(rate int) Option {
	return func(o *options) { o.rate = rate }
}

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// readMono drains s, averaging both beep channels into one sample each.
func readMono(s beep.Streamer, hint int) ([]float32, error) {
	out := make([]float32, 0, hint)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for _, f := range buf[:n] {
			out = append(out, clamp(float32((f[0]+f[1])/2)))
		}
		if !ok {
			break
		}
	}
	return out, s.Err()
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
