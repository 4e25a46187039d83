// Command antiphon-detect runs section detection and alignment on a single
// track from the command line and prints a JSON report.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

const decodeRate = 22050

type report struct {
	Track      string                `json:"track"`
	Duration   float64               `json:"duration"`
	Sections   []section.Section     `json:"sections"`
	Alignments []alignment.Alignment `json:"alignments"`
	Unpaired   []section.Section     `json:"unpaired"`
	Elapsed    float64               `json:"elapsed_seconds"`
}

func main() {
	var (
		contourPath = flag.String("contour", "", "pitch contour JSON file ([{time, pitch}, ...])")
		audioPath   = flag.String("audio", "", "audio file decoded with ffmpeg (isolated vocals)")
		calls       = flag.String("call", "", "call references, start:end[,start:end...] in seconds")
		responses   = flag.String("response", "", "response references, start:end[,start:end...] in seconds")
		threshold   = flag.Float64("threshold", fingerprint.DefaultOptions().Threshold, "template match threshold in (0, 1]")
		quiet       = flag.Bool("quiet", false, "hide the progress bar")
	)
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if (*contourPath == "") == (*audioPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -contour or -audio is required")
		flag.Usage()
		os.Exit(2)
	}

	refs, err := parseReferences(section.Call, *calls)
	if err == nil {
		var more []fingerprint.Reference
		more, err = parseReferences(section.Response, *responses)
		refs = append(refs, more...)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	started := time.Now()
	var (
		track contour.Contour
		name  string
	)
	if *contourPath != "" {
		name = *contourPath
		track, err = loadContour(*contourPath)
	} else {
		name = *audioPath
		track, err = estimate(ctx, *audioPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	opts := fingerprint.DefaultOptions()
	opts.Threshold = *threshold

	var (
		p   *mpb.Progress
		bar *mpb.Bar
	)
	if !*quiet {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar = p.AddBar(0,
			mpb.PrependDecorators(
				decor.Name("Detecting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
		opts.Progress = func(done, total int) {
			bar.SetTotal(int64(total), false)
			bar.SetCurrent(int64(done))
		}
	}

	sections, err := fingerprint.New(opts, slog.Default()).Detect(ctx, track, refs)
	if bar != nil {
		if err != nil {
			bar.Abort(false)
		} else {
			bar.SetTotal(-1, true)
		}
		p.Wait()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "detect sections: %v\n", err)
		os.Exit(1)
	}

	pairs := alignment.Pairs(sections)
	out := report{
		Track:      name,
		Duration:   track.Duration(),
		Sections:   sections,
		Alignments: alignment.OptimizeAll(track, pairs),
		Unpaired:   alignment.Unpaired(sections),
		Elapsed:    time.Since(started).Seconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "write report: %v\n", err)
		os.Exit(1)
	}
}

// parseReferences reads "start:end,start:end" into references with the given label.
func parseReferences(label section.Label, list string) ([]fingerprint.Reference, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	var refs []fingerprint.Reference
	for _, part := range strings.Split(list, ",") {
		startStr, endStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%s reference %q: want start:end", label, part)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%s reference %q: %w", label, part, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(endStr), 64)
		if err != nil {
			return nil, fmt.Errorf("%s reference %q: %w", label, part, err)
		}
		rng := section.Range{Start: start, End: end}
		if err := rng.Validate(); err != nil {
			return nil, fmt.Errorf("%s reference %q: %w", label, part, err)
		}
		refs = append(refs, fingerprint.Reference{Label: label, Range: rng})
	}
	return refs, nil
}

func loadContour(path string) (contour.Contour, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contour.Contour{}, fmt.Errorf("read contour: %w", err)
	}
	var c contour.Contour
	if err := json.Unmarshal(data, &c); err != nil {
		return contour.Contour{}, fmt.Errorf("parse contour %s: %w", path, err)
	}
	return c, nil
}

func estimate(ctx context.Context, path string) (contour.Contour, error) {
	audio, err := decodeAudio(ctx, path)
	if err != nil {
		return contour.Contour{}, err
	}
	est, err := pitch.NewEstimator(pitch.DefaultParams())
	if err != nil {
		return contour.Contour{}, err
	}
	c, err := est.Contour(ctx, audio, nil)
	if err != nil {
		return contour.Contour{}, fmt.Errorf("estimate pitch: %w", err)
	}
	return c, nil
}

// decodeAudio shells out to ffmpeg for mono 16-bit PCM at decodeRate.
func decodeAudio(ctx context.Context, path string) (pitch.Audio, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-v", "error",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(decodeRate),
		"-f", "s16le",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return pitch.Audio{}, fmt.Errorf("ffmpeg %s: %s", path, strings.TrimSpace(stderr.String()))
		}
		return pitch.Audio{}, fmt.Errorf("run ffmpeg: %w", err)
	}
	return pitch.DecodePCM16(stdout.Bytes(), decodeRate)
}
