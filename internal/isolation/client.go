// Package isolation separates vocals from a mixed recording.
package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
)

// ErrLengthMismatch means the service returned a stem whose duration differs
// from the mix by more than lengthTolerance.
var ErrLengthMismatch = errors.New("vocal stem length mismatch")

// lengthTolerance is the padding or trimming, in seconds, accepted from the
// separation model.
const lengthTolerance = 0.05

// Client calls a remote separation service that accepts and returns
// 16-bit little-endian mono PCM.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Isolate sends the mix and returns the vocal stem at the same sample rate.
func (c *Client) Isolate(ctx context.Context, mix pitch.Audio) (pitch.Audio, error) {
	url := c.baseURL + "/v1/isolate?sample_rate=" + strconv.Itoa(mix.SampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(pitch.EncodePCM16(mix)))
	if err != nil {
		return pitch.Audio{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return pitch.Audio{}, fmt.Errorf("isolation call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pitch.Audio{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return pitch.Audio{}, fmt.Errorf("isolation error %d: %s", resp.StatusCode, errResp.Error)
		}
		return pitch.Audio{}, fmt.Errorf("isolation error %d: %s", resp.StatusCode, string(body))
	}

	vocals, err := pitch.DecodePCM16(body, mix.SampleRate)
	if err != nil {
		return pitch.Audio{}, fmt.Errorf("decode vocals: %w", err)
	}
	return matchLength(vocals, len(mix.Samples))
}

// matchLength pads or trims a stem to n samples when it is within
// lengthTolerance of the mix, so frame times line up with the original.
func matchLength(vocals pitch.Audio, n int) (pitch.Audio, error) {
	slack := int(lengthTolerance * float64(vocals.SampleRate))
	diff := len(vocals.Samples) - n
	if diff > slack || -diff > slack {
		return pitch.Audio{}, fmt.Errorf("got %d samples for a %d sample mix: %w", len(vocals.Samples), n, ErrLengthMismatch)
	}
	if diff == 0 {
		return vocals, nil
	}
	out := make([]float64, n)
	copy(out, vocals.Samples)
	return pitch.Audio{Samples: out, SampleRate: vocals.SampleRate}, nil
}

// Passthrough treats the input as already isolated vocals.
type Passthrough struct{}

func (Passthrough) Isolate(_ context.Context, mix pitch.Audio) (pitch.Audio, error) {
	return mix, nil
}
