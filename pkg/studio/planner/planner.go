// Package planner turns an audio analysis, lyrics and a user prompt into an
// ordered clip plan. Planning is a pure function of its inputs.
package planner

import (
	"sort"

	"github.com/tunivo/studio/pkg/models"
)

// Plan segments the track and composes one prompt per segment.
//
// With sections, cuts snap to section boundaries and long sections are split
// evenly into beat-sized windows. Without sections, windows of
// Window(bpm, mode) seconds are laid end to end, halved where energy is high.
// Either way the segments partition [0, analysis.Duration] exactly.
func Plan(analysis models.Analysis, lyrics models.Lyrics, userPrompt string) (models.Plan, error) {
	if err := analysis.Validate(); err != nil {
		return models.Plan{}, err
	}

	curve := append([]models.EnergyPoint(nil), analysis.EnergyCurve...)
	sort.SliceStable(curve, func(i, j int) bool { return curve[i].Time < curve[j].Time })

	window := Window(analysis.BPM, analysis.Mode)
	var intervals []interval
	if len(analysis.Sections) > 0 {
		intervals = snapToSections(analysis, window)
	} else {
		intervals = beatWindows(analysis, curve, window)
	}

	userWords := promptWords(userPrompt)
	segments := make([]models.TimelineSegment, 0, len(intervals))
	for i, iv := range intervals {
		energy := roundMillis(energyAt(curve, (iv.start+iv.end)/2))
		tags := selectTags(i, iv.label, lyrics, userWords)
		segments = append(segments, models.TimelineSegment{
			Index:    i,
			Start:    iv.start,
			End:      iv.end,
			Duration: iv.end - iv.start,
			Label:    iv.label,
			Energy:   energy,
			Prompt:   composePrompt(userPrompt, iv.label, energy, tags, lyrics.Sentiment),
			Tags:     tags,
		})
	}

	return models.Plan{
		Segments:      segments,
		TotalDuration: analysis.Duration,
		Mode:          analysis.Mode,
	}, nil
}
