// Package audio reads the length of a song file. It does no feature
// extraction; tempo, sections and energy arrive pre-computed.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-audio/wav"
)

var ErrNotWAV = errors.New("not a valid wav file")

// WAVDuration reads the duration from a WAV header.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}
	d, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("reading wav duration: %w", err)
	}
	return d, nil
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of any audio file, reading WAV headers
// directly and asking ffprobe for everything else.
func ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	d, err := WAVDuration(path)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotWAV) {
		return 0, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseFFprobeDuration(out)
}

func parseFFprobeDuration(out []byte) (time.Duration, error) {
	var probe ffprobeFormat
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("decoding ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported no duration: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
