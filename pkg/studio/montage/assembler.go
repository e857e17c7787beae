// Package montage reconciles generated clips against a plan and lays them out
// on a timeline.
package montage

import (
	"fmt"
	"math"
	"sort"

	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
)

// DurationTolerance is the largest drift, in seconds, between the assembled
// timeline and the planned total that still counts as duration-matched.
const DurationTolerance = 0.5

type Option func(*Assembler)

func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(a *Assembler) {
		if p != nil {
			a.policy = p
		}
	}
}

func WithLogger(log logger.Interface) Option {
	return func(a *Assembler) {
		if log != nil {
			a.log = log
		}
	}
}

// Assembler is stateless between calls and safe for concurrent use.
type Assembler struct {
	policy TransitionPolicy
	log    logger.Interface
}

func New(opts ...Option) *Assembler {
	a := &Assembler{policy: CutOnly{}, log: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble matches clips to segments by index and trims each clip to its
// planned length. Clips that under-render keep their shorter length; the
// shortfall is not redistributed to neighbours.
func (a *Assembler) Assemble(plan models.Plan, clips []models.GeneratedClip) (models.Timeline, error) {
	if err := plan.Validate(); err != nil {
		return models.Timeline{}, fmt.Errorf("assemble: %w", err)
	}
	if len(clips) != len(plan.Segments) {
		return models.Timeline{}, fmt.Errorf("%w: %d clips for %d segments", models.ErrClipMismatch, len(clips), len(plan.Segments))
	}

	byIndex := make(map[int]models.GeneratedClip, len(clips))
	for _, c := range clips {
		if c.SegmentIndex < 0 || c.SegmentIndex >= len(plan.Segments) {
			return models.Timeline{}, fmt.Errorf("%w: clip for unknown segment %d", models.ErrClipMismatch, c.SegmentIndex)
		}
		if _, dup := byIndex[c.SegmentIndex]; dup {
			return models.Timeline{}, fmt.Errorf("%w: duplicate clip for segment %d", models.ErrClipMismatch, c.SegmentIndex)
		}
		if !(c.Duration > 0) || math.IsInf(c.Duration, 0) {
			return models.Timeline{}, fmt.Errorf("%w: clip for segment %d has no content (duration %v)", models.ErrClipMismatch, c.SegmentIndex, c.Duration)
		}
		byIndex[c.SegmentIndex] = c
	}

	segments := append([]models.TimelineSegment(nil), plan.Segments...)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Index < segments[j].Index })

	items := make([]models.TimelineItem, 0, len(segments))
	cursor := 0.0
	for i, seg := range segments {
		clip, ok := byIndex[seg.Index]
		if !ok {
			return models.Timeline{}, fmt.Errorf("%w: no clip for segment %d", models.ErrClipMismatch, seg.Index)
		}

		transition := models.TransitionCut
		if i > 0 {
			transition = a.policy.Between(segments[i-1], seg)
		}

		used := math.Min(clip.Duration, seg.Duration)
		if clip.Duration > seg.Duration {
			a.log.Debugf("segment %d: trimming clip from %.3fs to %.3fs", seg.Index, clip.Duration, used)
		} else if clip.Duration < seg.Duration {
			a.log.Debugf("segment %d: clip under-rendered by %.3fs", seg.Index, seg.Duration-clip.Duration)
		}

		items = append(items, models.TimelineItem{
			Segment:    seg,
			Clip:       clip,
			Transition: transition,
			Start:      cursor,
			Used:       used,
		})
		cursor += used
	}

	tl := models.Timeline{Items: items, Target: plan.TotalDuration}
	if !tl.WithinTolerance(DurationTolerance) {
		a.log.Warnf("timeline is %.3fs against a %.3fs track, drift %.3fs exceeds %.1fs",
			tl.Duration(), tl.Target, tl.Drift(), DurationTolerance)
	}
	return tl, nil
}
