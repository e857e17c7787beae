package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Mode selects pacing density in the planner and weight presets in the agent.
type Mode string

const (
	ModeFast Mode = "fast"
	ModeHigh Mode = "high"
)

// ParseMode normalizes a user-supplied mode. Empty input means fast.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFast:
		return ModeFast, nil
	case ModeHigh:
		return ModeHigh, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Section is a structural region of the song as reported by audio analysis.
type Section struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Label string  `json:"label"`
}

// EnergyPoint is one sample of the normalized energy curve.
type EnergyPoint struct {
	Time   float64 `json:"time"`
	Energy float64 `json:"energy"`
}

// Analysis is the audio analysis input. Feature extraction happens upstream;
// this type only carries and validates the result.
type Analysis struct {
	Duration    float64       `json:"duration"`
	BPM         float64       `json:"bpm"`
	Sections    []Section     `json:"sections"`
	EnergyCurve []EnergyPoint `json:"energy_curve"`
	Mode        Mode          `json:"mode"`
}

// Lyrics carries the lyric-derived hints used for prompts and scoring.
type Lyrics struct {
	Keywords  []string `json:"keywords"`
	Sentiment string   `json:"sentiment"`
	Themes    []string `json:"themes"`
}

// EvaluationContext is what the agent scores a timeline against.
type EvaluationContext struct {
	Audio  Analysis `json:"audio"`
	Lyrics Lyrics   `json:"lyrics"`
}

// Validate rejects degenerate analyses and normalizes the mode in place.
func (a *Analysis) Validate() error {
	if !finite(a.Duration) || a.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidAnalysis, a.Duration)
	}
	if !finite(a.BPM) || a.BPM <= 0 {
		return fmt.Errorf("%w: bpm must be positive, got %v", ErrInvalidAnalysis, a.BPM)
	}

	mode, err := ParseMode(string(a.Mode))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	a.Mode = mode

	for i, s := range a.Sections {
		if !finite(s.Start) || !finite(s.End) {
			return fmt.Errorf("%w: section %d has non-finite bounds", ErrInvalidAnalysis, i)
		}
		if s.End <= s.Start {
			return fmt.Errorf("%w: section %d ends at %v before it starts at %v", ErrInvalidAnalysis, i, s.End, s.Start)
		}
	}
	for i, p := range a.EnergyCurve {
		if !finite(p.Time) || !finite(p.Energy) {
			return fmt.Errorf("%w: energy point %d is not finite", ErrInvalidAnalysis, i)
		}
	}
	return nil
}

// ParseAnalysis decodes and validates an analysis document.
func ParseAnalysis(data []byte) (Analysis, error) {
	var a Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if err := a.Validate(); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

// ParseLyrics decodes a lyrics document. Every field is optional.
func ParseLyrics(data []byte) (Lyrics, error) {
	var l Lyrics
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return Lyrics{}, fmt.Errorf("decoding lyrics: %w", err)
	}
	return l, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
