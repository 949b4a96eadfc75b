package audio

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gopxl/beep/wav"
)

// DecodeWAV decodes a RIFF/WAVE recording, downmixes it to mono and, with
// [WithSampleRate], resamples it.
func DecodeWAV(r io.Reader, opts ...Option) (*Clip, error) {
	o := collect(opts)

	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	defer s.Close()

	samples, err := readMono(s, s.Len())
	if err != nil {
		return nil, fmt.Errorf("audio: read wav: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrEmpty
	}

	clip := &Clip{Samples: samples, SampleRate: int(format.SampleRate)}
	if o.rate > 0 && o.rate != clip.SampleRate {
		slog.Debug("audio: resampling",
			"from", Format{SampleRate: clip.SampleRate, Channels: format.NumChannels}.String(),
			"to", Format{SampleRate: o.rate, Channels: 1}.String(),
		)
		clip = clip.Resample(o.rate)
	}
	return clip, nil
}
