package models

import (
	"fmt"
	"math"
)

// boundaryEpsilon absorbs float noise when checking segment contiguity.
const boundaryEpsilon = 1e-6

// TimelineSegment is a time-bounded slice of the song assigned one prompt.
type TimelineSegment struct {
	Index    int      `json:"index"`    // 0-based position in the plan
	Start    float64  `json:"start"`    // Seconds from the start of the track
	End      float64  `json:"end"`      // Seconds, always > Start
	Duration float64  `json:"duration"` // End - Start
	Label    string   `json:"label"`    // Structural tag (verse, chorus, ...)
	Energy   float64  `json:"energy"`   // Musical intensity in [0,1]
	Prompt   string   `json:"prompt"`   // Generation prompt
	Tags     []string `json:"tags"`     // Keywords that shaped the prompt
}

// Plan is the ordered set of segments for one song and prompt.
type Plan struct {
	Segments      []TimelineSegment `json:"segments"`
	TotalDuration float64           `json:"total_duration"`
	Mode          Mode              `json:"mode"`
}

// Validate checks that segments are ordered, contiguous and cover
// [0, TotalDuration].
func (p Plan) Validate() error {
	if len(p.Segments) == 0 {
		return fmt.Errorf("plan has no segments")
	}
	cursor := 0.0
	for i, s := range p.Segments {
		if s.Index != i {
			return fmt.Errorf("segment at position %d has index %d", i, s.Index)
		}
		if s.End <= s.Start {
			return fmt.Errorf("segment %d has empty range [%v, %v]", i, s.Start, s.End)
		}
		if math.Abs(s.Start-cursor) > boundaryEpsilon {
			return fmt.Errorf("segment %d starts at %v, expected %v", i, s.Start, cursor)
		}
		if math.Abs(s.Duration-(s.End-s.Start)) > boundaryEpsilon {
			return fmt.Errorf("segment %d has duration %v, expected %v", i, s.Duration, s.End-s.Start)
		}
		cursor = s.End
	}
	if math.Abs(cursor-p.TotalDuration) > boundaryEpsilon {
		return fmt.Errorf("plan ends at %v, expected %v", cursor, p.TotalDuration)
	}
	return nil
}

// GeneratedClip is provider output for exactly one segment. Never mutated
// after creation.
type GeneratedClip struct {
	SegmentIndex int     `json:"segment_index"`
	Path         string  `json:"path"`
	Prompt       string  `json:"prompt"`
	Duration     float64 `json:"duration"` // Rendered length, may differ from plan
	Seed         int64   `json:"seed"`
	Provider     string  `json:"provider"`
	VisualHash   string  `json:"visual_hash"`
}

// Transition is how an item is joined to the one before it.
type Transition string

const (
	TransitionCut       Transition = "cut"
	TransitionCrossfade Transition = "crossfade"
)

// TimelineItem places one clip on the timeline.
type TimelineItem struct {
	Segment    TimelineSegment `json:"segment"`
	Clip       GeneratedClip   `json:"clip"`
	Transition Transition      `json:"transition"`
	Start      float64         `json:"start"` // Offset in the assembled timeline
	Used       float64         `json:"used"`  // Trimmed duration actually played
}

// Trimmed reports whether the clip was cut short to fit its segment.
func (it TimelineItem) Trimmed() bool {
	return it.Used < it.Clip.Duration
}

// Timeline is the assembled video arrangement.
type Timeline struct {
	Items  []TimelineItem `json:"items"`
	Target float64        `json:"target"` // Planned total, i.e. the audio duration
}

// Duration is the sum of the used duration of every item.
func (t Timeline) Duration() float64 {
	total := 0.0
	for _, it := range t.Items {
		total += it.Used
	}
	return total
}

// Drift is the absolute deviation from the planned total.
func (t Timeline) Drift() float64 {
	return math.Abs(t.Duration() - t.Target)
}

// WithinTolerance reports whether Drift is at most tol seconds.
func (t Timeline) WithinTolerance(tol float64) bool {
	return t.Drift() <= tol
}

// Issue is a single finding from the self-editing agent.
type Issue struct {
	SegmentIndex int    `json:"segment_index"`
	Reason       string `json:"reason"`
	Severity     string `json:"severity"`
}

// Score is the agent's deterministic evaluation of a timeline.
type Score struct {
	Mode       Mode    `json:"mode"`
	Relevance  float64 `json:"relevance"`
	Continuity float64 `json:"continuity"`
	Variety    float64 `json:"variety"`
	Pacing     float64 `json:"pacing"`
	Technical  float64 `json:"technical"`
	Total      float64 `json:"total"`
	Issues     []Issue `json:"issues,omitempty"`
}

// Criteria returns the named sub-scores.
func (s Score) Criteria() map[string]float64 {
	return map[string]float64{
		"relevance":  s.Relevance,
		"continuity": s.Continuity,
		"variety":    s.Variety,
		"pacing":     s.Pacing,
		"technical":  s.Technical,
	}
}
