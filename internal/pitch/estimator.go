package pitch

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// Params configures the autocorrelation estimator.
type Params struct {
	FrameSize   int
	HopSize     int
	FMin        float64
	FMax        float64
	EnergyFloor float64 // frame RMS below this is unvoiced
	Clarity     float64 // normalized autocorrelation peak needed to call a frame voiced
}

func DefaultParams() Params {
	return Params{
		FrameSize:   2048,
		HopSize:     512,
		FMin:        80,
		FMax:        500,
		EnergyFloor: 0.01,
		Clarity:     0.5,
	}
}

// Estimator tracks pitch with FFT-based autocorrelation.
type Estimator struct {
	p Params
}

func NewEstimator(p Params) (*Estimator, error) {
	if p.FrameSize <= 0 || p.HopSize <= 0 {
		return nil, fmt.Errorf("frame %d hop %d must be positive", p.FrameSize, p.HopSize)
	}
	if p.FMin <= 0 || p.FMax <= p.FMin {
		return nil, fmt.Errorf("bad pitch range %v-%v Hz", p.FMin, p.FMax)
	}
	return &Estimator{p: p}, nil
}

// CacheKey identifies the parameters so cached contours are not reused across settings.
func (e *Estimator) CacheKey() string {
	return fmt.Sprintf("acf/%d/%d/%g/%g/%g/%g", e.p.FrameSize, e.p.HopSize, e.p.FMin, e.p.FMax, e.p.EnergyFloor, e.p.Clarity)
}

func (e *Estimator) Contour(ctx context.Context, audio Audio, rng *section.Range) (contour.Contour, error) {
	if audio.SampleRate <= 0 {
		return contour.Contour{}, fmt.Errorf("sample rate %d: %w", audio.SampleRate, ErrBadAudio)
	}
	n := e.p.FrameSize
	hop := e.p.HopSize
	rate := float64(audio.SampleRate)
	if len(audio.Samples) == 0 {
		return contour.Contour{Times: []float64{}, Pitch: []float64{}}, nil
	}

	frames := 1
	if len(audio.Samples) > n {
		frames = 1 + (len(audio.Samples)-n)/hop
	}
	first, last := 0, frames
	if rng != nil {
		first = int(math.Ceil(rng.Start * rate / float64(hop)))
		last = int(math.Ceil(rng.End * rate / float64(hop)))
		first = max(0, min(first, frames))
		last = max(first, min(last, frames))
	}

	minLag := int(math.Floor(rate / e.p.FMax))
	maxLag := int(math.Ceil(rate / e.p.FMin))
	if maxLag > n-2 {
		maxLag = n - 2
	}
	if minLag < 2 {
		minLag = 2
	}

	fft := fourier.NewFFT(2 * n)
	buf := make([]float64, 2*n)
	acf := make([]float64, 2*n)
	times := make([]float64, 0, last-first)
	pitch := make([]float64, 0, last-first)

	for i := first; i < last; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return contour.Contour{}, fmt.Errorf("estimate pitch: %w", err)
			}
		}
		start := i * hop
		times = append(times, float64(start)/rate)
		pitch = append(pitch, e.frame(fft, audio.Samples, start, buf, acf, rate, minLag, maxLag))
	}
	return contour.New(times, pitch)
}

// frame estimates the pitch of one frame in semitones, or NaN when unvoiced.
func (e *Estimator) frame(fft *fourier.FFT, x []float64, start int, buf, acf []float64, rate float64, minLag, maxLag int) float64 {
	n := e.p.FrameSize
	var sum, energy float64
	for k := 0; k < n; k++ {
		v := 0.0
		if start+k < len(x) {
			v = x[start+k]
		}
		buf[k] = v
		sum += v
	}
	mean := sum / float64(n)
	for k := 0; k < n; k++ {
		buf[k] -= mean
		energy += buf[k] * buf[k]
	}
	for k := n; k < 2*n; k++ {
		buf[k] = 0
	}
	if math.Sqrt(energy/float64(n)) < e.p.EnergyFloor {
		return math.NaN()
	}

	coeffs := fft.Coefficients(nil, buf)
	for k := range coeffs {
		coeffs[k] = complex(real(coeffs[k])*real(coeffs[k])+imag(coeffs[k])*imag(coeffs[k]), 0)
	}
	fft.Sequence(acf, coeffs)
	if acf[0] <= 0 {
		return math.NaN()
	}
	// unbiased normalization so peaks at long lags are not penalized
	norm := func(k int) float64 {
		return acf[k] / acf[0] * float64(n) / float64(n-k)
	}

	bestPeak := math.Inf(-1)
	var peaks []int
	for k := minLag; k <= maxLag; k++ {
		v := norm(k)
		if v > norm(k-1) && v >= norm(k+1) {
			peaks = append(peaks, k)
			if v > bestPeak {
				bestPeak = v
			}
		}
	}
	if len(peaks) == 0 || bestPeak < e.p.Clarity {
		return math.NaN()
	}

	// the first peak close to the best avoids octave-down errors
	lag := peaks[0]
	for _, k := range peaks {
		if norm(k) >= 0.9*bestPeak {
			lag = k
			break
		}
	}

	a, b, c := norm(lag-1), norm(lag), norm(lag+1)
	shift := 0.0
	if d := a - 2*b + c; d != 0 {
		shift = 0.5 * (a - c) / d
	}
	f0 := rate / (float64(lag) + shift)
	if f0 < e.p.FMin || f0 > e.p.FMax {
		return math.NaN()
	}
	return contour.HzToSemitones(f0)
}
