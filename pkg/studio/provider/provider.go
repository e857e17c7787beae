// Package provider is the boundary to clip generation backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tunivo/studio/pkg/models"
)

var ErrInvalidAspect = errors.New("invalid aspect ratio")

// ClipProvider renders one clip per plan segment.
type ClipProvider interface {
	Generate(ctx context.Context, plan models.Plan, aspect string) ([]models.GeneratedClip, error)
}

// SegmentGenerator renders a single segment. Fanout turns one into a
// ClipProvider.
type SegmentGenerator interface {
	GenerateSegment(ctx context.Context, segment models.TimelineSegment, aspect Resolution) (models.GeneratedClip, error)
}

// Resolution is the output frame size for an aspect ratio.
type Resolution struct {
	Aspect string
	Width  int
	Height int
}

var resolutions = map[string]Resolution{
	"16:9": {Aspect: "16:9", Width: 1280, Height: 720},
	"9:16": {Aspect: "9:16", Width: 720, Height: 1280},
	"1:1":  {Aspect: "1:1", Width: 1080, Height: 1080},
}

// DefaultAspect is used when a request leaves the aspect ratio empty.
const DefaultAspect = "16:9"

func ParseAspect(aspect string) (Resolution, error) {
	a := strings.TrimSpace(aspect)
	if a == "" {
		a = DefaultAspect
	}
	r, ok := resolutions[a]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidAspect, aspect)
	}
	return r, nil
}

// SegmentFailure records why one segment produced no clip.
type SegmentFailure struct {
	SegmentIndex int
	Err          error
}

// GenerationError reports every segment that failed during a fan-out. It
// matches models.ErrClipMismatch and unwraps to the individual causes.
type GenerationError struct {
	Failures []SegmentFailure
}

func (e *GenerationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("segment %d: %v", f.SegmentIndex, f.Err))
	}
	return fmt.Sprintf("clip generation failed for %d segment(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *GenerationError) Is(target error) bool {
	return target == models.ErrClipMismatch
}

func (e *GenerationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
