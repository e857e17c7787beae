package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
)

const (
	DefaultConcurrency    = 4
	DefaultSegmentTimeout = 2 * time.Minute
)

type FanoutOption func(*Fanout)

// WithConcurrency bounds how many segments render at once.
func WithConcurrency(n int) FanoutOption {
	return func(f *Fanout) {
		if n > 0 {
			f.limit = n
		}
	}
}

func WithSegmentTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithFanoutLogger(log logger.Interface) FanoutOption {
	return func(f *Fanout) {
		if log != nil {
			f.log = log
		}
	}
}

// Fanout renders plan segments concurrently through a SegmentGenerator.
type Fanout struct {
	gen     SegmentGenerator
	limit   int
	timeout time.Duration
	log     logger.Interface
}

func NewFanout(gen SegmentGenerator, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		gen:     gen,
		limit:   DefaultConcurrency,
		timeout: DefaultSegmentTimeout,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Generate returns the clips that rendered, ordered by segment index. When any
// segment fails the error is a *GenerationError listing each failure; the
// partial clips are still returned.
func (f *Fanout) Generate(ctx context.Context, plan models.Plan, aspect string) ([]models.GeneratedClip, error) {
	res, err := ParseAspect(aspect)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		clips    = make([]models.GeneratedClip, 0, len(plan.Segments))
		failures []SegmentFailure
	)

	var g errgroup.Group
	g.SetLimit(f.limit)
	for _, seg := range plan.Segments {
		g.Go(func() error {
			clip, err := f.render(ctx, seg, res)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.log.Warnf("segment %d failed: %v", seg.Index, err)
				failures = append(failures, SegmentFailure{SegmentIndex: seg.Index, Err: err})
				return nil
			}
			clips = append(clips, clip)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(clips, func(i, j int) bool { return clips[i].SegmentIndex < clips[j].SegmentIndex })
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].SegmentIndex < failures[j].SegmentIndex })
		return clips, &GenerationError{Failures: failures}
	}
	f.log.Debugf("rendered %d clips at %dx%d", len(clips), res.Width, res.Height)
	return clips, nil
}

func (f *Fanout) render(ctx context.Context, seg models.TimelineSegment, res Resolution) (models.GeneratedClip, error) {
	if err := ctx.Err(); err != nil {
		return models.GeneratedClip{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	clip, err := f.gen.GenerateSegment(sctx, seg, res)
	if err != nil {
		return models.GeneratedClip{}, err
	}
	if clip.SegmentIndex != seg.Index {
		return models.GeneratedClip{}, fmt.Errorf("generator returned clip for segment %d", clip.SegmentIndex)
	}
	return clip, nil
}
