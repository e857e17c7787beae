package montage

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tunivo/studio/pkg/models"
)

// planFromEnds builds a contiguous plan whose segments end at the given times.
func planFromEnds(ends ...float64) models.Plan {
	var segs []models.TimelineSegment
	start := 0.0
	for i, end := range ends {
		segs = append(segs, models.TimelineSegment{
			Index:    i,
			Start:    start,
			End:      end,
			Duration: end - start,
			Label:    "verse",
			Energy:   0.5,
			Prompt:   fmt.Sprintf("shot %d", i),
		})
		start = end
	}
	return models.Plan{Segments: segs, TotalDuration: start, Mode: models.ModeFast}
}

// clipsFor returns one clip per segment, scaling each planned length by ratio(i).
func clipsFor(plan models.Plan, ratio func(i int) float64) []models.GeneratedClip {
	clips := make([]models.GeneratedClip, len(plan.Segments))
	for i, s := range plan.Segments {
		clips[i] = models.GeneratedClip{
			SegmentIndex: s.Index,
			Path:         fmt.Sprintf("clip-%03d.mp4", i),
			Prompt:       s.Prompt,
			Duration:     s.Duration * ratio(i),
			Provider:     "test",
			VisualHash:   fmt.Sprintf("hash-%d", i),
		}
	}
	return clips
}

func exact(int) float64 { return 1 }

func TestAssembleCumulativeEnd(t *testing.T) {
	plan := planFromEnds(3, 4, 7)
	tl, err := New().Assemble(plan, clipsFor(plan, exact))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got := tl.Duration(); got != 7.0 {
		t.Errorf("timeline duration = %v, want 7.0", got)
	}
	for i, it := range tl.Items {
		if it.Segment.Index != i || it.Clip.SegmentIndex != i {
			t.Errorf("item %d carries segment %d and clip %d", i, it.Segment.Index, it.Clip.SegmentIndex)
		}
		if it.Start != plan.Segments[i].Start {
			t.Errorf("item %d starts at %v, want %v", i, it.Start, plan.Segments[i].Start)
		}
		if it.Transition != models.TransitionCut {
			t.Errorf("item %d transition = %q, want cut", i, it.Transition)
		}
	}
}

func TestAssembleTwoSegments(t *testing.T) {
	plan := planFromEnds(3, 7)
	tl, err := New().Assemble(plan, clipsFor(plan, exact))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if tl.Duration() != 7 || len(tl.Items) != 2 {
		t.Errorf("got %d items lasting %v, want 2 items lasting 7", len(tl.Items), tl.Duration())
	}
}

func TestAssembleOrdersByIndex(t *testing.T) {
	plan := planFromEnds(2, 5, 9, 12)
	clips := clipsFor(plan, exact)
	shuffled := []models.GeneratedClip{clips[2], clips[0], clips[3], clips[1]}

	tl, err := New().Assemble(plan, shuffled)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	for i, it := range tl.Items {
		if it.Segment.Index != i {
			t.Fatalf("item %d has segment %d", i, it.Segment.Index)
		}
		if it.Clip.SegmentIndex != it.Segment.Index {
			t.Errorf("item %d pairs segment %d with clip %d", i, it.Segment.Index, it.Clip.SegmentIndex)
		}
	}
}

func TestAssembleSixtySecondsWithinTolerance(t *testing.T) {
	var ends []float64
	for e := 6.0; e <= 60; e += 6 {
		ends = append(ends, e)
	}
	plan := planFromEnds(ends...)

	// Over-rendered clips are trimmed back to plan. One slightly short clip
	// leaves a small shortfall that stays inside the tolerance.
	ratio := func(i int) float64 {
		switch {
		case i == 4:
			return 0.95
		case i%2 == 0:
			return 1.4
		default:
			return 1.0
		}
	}
	tl, err := New().Assemble(plan, clipsFor(plan, ratio))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if d := math.Abs(tl.Duration() - 60); d > DurationTolerance {
		t.Errorf("timeline drifts %vs from 60s", d)
	}
	if !tl.WithinTolerance(DurationTolerance) {
		t.Error("WithinTolerance disagrees with the drift")
	}
	for i, it := range tl.Items {
		if it.Used > it.Segment.Duration {
			t.Errorf("item %d plays %vs of a %vs segment", i, it.Used, it.Segment.Duration)
		}
		if ratio(i) > 1 && !it.Trimmed() {
			t.Errorf("item %d should be trimmed", i)
		}
	}
}

func TestAssembleKeepsUnderDeliveryLocal(t *testing.T) {
	plan := planFromEnds(4, 8, 12)
	ratio := func(i int) float64 {
		if i == 1 {
			return 0.5
		}
		return 1
	}
	tl, err := New().Assemble(plan, clipsFor(plan, ratio))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got := tl.Items[1].Used; got != 2 {
		t.Errorf("short clip used = %v, want 2", got)
	}
	if tl.Items[0].Used != 4 || tl.Items[2].Used != 4 {
		t.Errorf("neighbours changed: %v, %v", tl.Items[0].Used, tl.Items[2].Used)
	}
	if tl.Items[2].Start != 6 {
		t.Errorf("third item starts at %v, want 6", tl.Items[2].Start)
	}
	if tl.Duration() != 10 || tl.Drift() != 2 {
		t.Errorf("duration %v drift %v, want 10 and 2", tl.Duration(), tl.Drift())
	}
}

func TestAssembleClipMismatch(t *testing.T) {
	plan := planFromEnds(3, 6, 9)
	good := clipsFor(plan, exact)

	tests := []struct {
		name  string
		clips []models.GeneratedClip
	}{
		{"missing clip", good[:2]},
		{"extra clip", append(append([]models.GeneratedClip(nil), good...), good[0])},
		{"duplicate index", []models.GeneratedClip{good[0], good[0], good[2]}},
		{"unknown index", func() []models.GeneratedClip {
			c := append([]models.GeneratedClip(nil), good...)
			c[2].SegmentIndex = 7
			return c
		}()},
		{"empty clip", func() []models.GeneratedClip {
			c := append([]models.GeneratedClip(nil), good...)
			c[1].Duration = 0
			return c
		}()},
		{"nan clip", func() []models.GeneratedClip {
			c := append([]models.GeneratedClip(nil), good...)
			c[1].Duration = math.NaN()
			return c
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Assemble(plan, tt.clips)
			if !errors.Is(err, models.ErrClipMismatch) {
				t.Fatalf("got %v, want ErrClipMismatch", err)
			}
		})
	}
}

func TestAssembleRejectsBrokenPlan(t *testing.T) {
	plan := planFromEnds(3, 6)
	plan.Segments[1].Start = 4
	if _, err := New().Assemble(plan, clipsFor(plan, exact)); err == nil {
		t.Fatal("expected an error for a non-contiguous plan")
	}
}

func TestAssembleRejectsStaleDuration(t *testing.T) {
	plan := planFromEnds(3, 7)
	plan.Segments[1].Duration = 0
	clips := []models.GeneratedClip{
		{SegmentIndex: 0, Path: "clip-000.mp4", Duration: 3},
		{SegmentIndex: 1, Path: "clip-001.mp4", Duration: 4},
	}
	tl, err := New().Assemble(plan, clips)
	if err == nil {
		t.Fatalf("expected an error for a zero segment duration, got timeline of %.3fs", tl.Duration())
	}

	plan.Segments[1].Duration = 3.5
	if _, err := New().Assemble(plan, clips); err == nil {
		t.Fatal("expected an error for a duration that disagrees with end - start")
	}
}

func TestEnergyCrossfade(t *testing.T) {
	plan := planFromEnds(2, 4, 6)
	plan.Segments[0].Energy = 0.2
	plan.Segments[1].Energy = 0.9
	plan.Segments[2].Energy = 0.8

	tl, err := New(WithTransitionPolicy(EnergyCrossfade{Threshold: 0.5})).Assemble(plan, clipsFor(plan, exact))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := []models.Transition{models.TransitionCut, models.TransitionCrossfade, models.TransitionCut}
	for i, it := range tl.Items {
		if it.Transition != want[i] {
			t.Errorf("item %d transition = %q, want %q", i, it.Transition, want[i])
		}
	}
}
