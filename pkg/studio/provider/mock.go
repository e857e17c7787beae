package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strconv"

	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/export"
	"github.com/tunivo/studio/pkg/utils"
)

const MockName = "mock"

type MockOption func(*Mock)

// WithOutputDir sets where clip files are written or referenced.
func WithOutputDir(dir string) MockOption {
	return func(m *Mock) {
		m.dir = dir
	}
}

// WithDrift makes rendered durations deviate from plan by up to ratio, in a
// direction and size derived from the seed.
func WithDrift(ratio float64) MockOption {
	return func(m *Mock) {
		m.drift = math.Abs(ratio)
	}
}

// WithRenderer synthesizes a solid-colour clip for every segment through an
// ffmpeg executor. Without it the mock only describes clips.
func WithRenderer(exec export.Executor) MockOption {
	return func(m *Mock) {
		m.render = exec
	}
}

// Mock is a deterministic SegmentGenerator: equal segments and aspect give
// equal clips.
type Mock struct {
	dir    string
	drift  float64
	render export.Executor
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{dir: "clips"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMockProvider wraps a Mock in a Fanout.
func NewMockProvider(mockOpts []MockOption, fanoutOpts ...FanoutOption) *Fanout {
	return NewFanout(NewMock(mockOpts...), fanoutOpts...)
}

func (m *Mock) GenerateSegment(ctx context.Context, seg models.TimelineSegment, res Resolution) (models.GeneratedClip, error) {
	if err := ctx.Err(); err != nil {
		return models.GeneratedClip{}, err
	}

	seed := seedFor(seg)
	sum := sha256.Sum256([]byte(seg.Prompt + "|" + strconv.FormatInt(seed, 10) + "|" + res.Aspect))
	visualHash := hex.EncodeToString(sum[:])

	duration := seg.Duration
	if m.drift > 0 {
		// u in [-1, 1], fixed per seed.
		u := float64(seed%2001)/1000.0 - 1
		duration = math.Round(seg.Duration*(1+m.drift*u)*1000) / 1000
		if duration <= 0 {
			duration = seg.Duration
		}
	}

	clip := models.GeneratedClip{
		SegmentIndex: seg.Index,
		Path:         filepath.Join(m.dir, fmt.Sprintf("clip-%03d-%s.mp4", seg.Index, visualHash[:8])),
		Prompt:       seg.Prompt,
		Duration:     duration,
		Seed:         seed,
		Provider:     MockName,
		VisualHash:   visualHash,
	}

	if m.render != nil {
		if err := utils.MakeDir(m.dir); err != nil {
			return models.GeneratedClip{}, fmt.Errorf("creating clip dir: %w", err)
		}
		source := fmt.Sprintf("color=c=0x%s:s=%dx%d:d=%.3f", visualHash[:6], res.Width, res.Height, duration)
		args := []string{"-y", "-v", "error", "-f", "lavfi", "-i", source, "-pix_fmt", "yuv420p", clip.Path}
		if err := m.render.Run(ctx, args); err != nil {
			return models.GeneratedClip{}, fmt.Errorf("rendering mock clip: %w", err)
		}
	}
	return clip, nil
}

// seedFor derives a non-negative seed from the segment prompt and index.
func seedFor(seg models.TimelineSegment) int64 {
	h := fnv.New64a()
	h.Write([]byte(seg.Prompt))
	h.Write([]byte{'#'})
	h.Write([]byte(strconv.Itoa(seg.Index)))
	return int64(h.Sum64() & math.MaxInt64)
}
