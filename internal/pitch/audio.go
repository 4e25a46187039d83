// Package pitch turns vocal audio into pitch contours.
package pitch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

var ErrBadAudio = errors.New("bad audio")

// Audio is mono PCM normalized to [-1, 1].
type Audio struct {
	Samples    []float64
	SampleRate int
}

func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// DecodePCM16 converts signed 16-bit little-endian mono PCM.
func DecodePCM16(data []byte, sampleRate int) (Audio, error) {
	if sampleRate <= 0 {
		return Audio{}, fmt.Errorf("sample rate %d: %w", sampleRate, ErrBadAudio)
	}
	if len(data)%2 != 0 {
		return Audio{}, fmt.Errorf("odd pcm length %d: %w", len(data), ErrBadAudio)
	}
	samples := make([]float64, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		samples[i] = float64(v) / 32768.0
	}
	return Audio{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodePCM16 is the inverse of DecodePCM16, clipping to the int16 range.
func EncodePCM16(a Audio) []byte {
	out := make([]byte, 2*len(a.Samples))
	for i, s := range a.Samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// Provider extracts a pitch contour. When rng is non-nil only frames whose
// time falls inside it are returned; times stay absolute.
type Provider interface {
	Contour(ctx context.Context, audio Audio, rng *section.Range) (contour.Contour, error)
}
