package audio

import (
	"fmt"
)

// DecodePCM16 decodes interleaved little-endian int16 PCM in format f into a
// mono clip. A trailing partial frame is dropped.
func DecodePCM16(pcm []byte, f Format, opts ...Option) (*Clip, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	o := collect(opts)

	frameBytes := 2 * f.Channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("audio: %d bytes is not a whole number of %s frames", len(pcm), f)
	}
	mono := DownmixPCM16(pcm, f.Channels)
	if len(mono) == 0 {
		return nil, ErrEmpty
	}

	samples := make([]float32, len(mono)/2)
	for i := range samples {
		s := int16(mono[i*2]) | int16(mono[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	clip := &Clip{Samples: samples, SampleRate: f.SampleRate}
	if o.rate > 0 {
		clip = clip.Resample(o.rate)
	}
	return clip, nil
}

// DownmixPCM16 averages each interleaved int16 frame of channels samples into
// one mono sample. It uses int32 arithmetic and clamps to the int16 range.
// Mono input is returned unchanged.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			j := i*frameBytes + c*2
			sum += int32(int16(pcm[j]) | int16(pcm[j+1])<<8)
		}
		avg := sum / int32(channels)
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
