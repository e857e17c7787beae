// Package agent scores an assembled timeline. Evaluation is deterministic:
// no clock, randomness or I/O is consulted, so equal inputs give equal scores.
package agent

import (
	"sort"

	"github.com/tunivo/studio/pkg/models"
)

type Agent struct {
	preset Preset
}

// New returns an agent using the weight preset for mode.
func New(mode models.Mode) (*Agent, error) {
	p, err := PresetFor(mode)
	if err != nil {
		return nil, err
	}
	return &Agent{preset: p}, nil
}

func (a *Agent) Mode() models.Mode { return a.preset.Mode }

func (a *Agent) Preset() Preset { return a.preset }

// Evaluate scores tl against the audio and lyrics it was built for.
func (a *Agent) Evaluate(tl models.Timeline, ctx models.EvaluationContext) models.Score {
	var issues issueSink
	audioDuration := ctx.Audio.Duration
	if audioDuration <= 0 {
		audioDuration = tl.Target
	}

	s := models.Score{
		Mode:       a.preset.Mode,
		Relevance:  round4(relevance(tl.Items, ctx.Lyrics, &issues)),
		Continuity: round4(continuity(tl.Items, a.preset.HarshCut, &issues)),
		Variety:    round4(variety(tl.Items, &issues)),
		Pacing:     round4(pacing(tl.Items, ctx.Audio.BPM, &issues)),
		Technical:  round4(technical(tl, audioDuration, &issues)),
	}

	w := a.preset.Weights
	s.Total = round4(w.Relevance*s.Relevance +
		w.Continuity*s.Continuity +
		w.Variety*s.Variety +
		w.Pacing*s.Pacing +
		w.Technical*s.Technical)

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].SegmentIndex != issues[j].SegmentIndex {
			return issues[i].SegmentIndex < issues[j].SegmentIndex
		}
		return issues[i].Reason < issues[j].Reason
	})
	if len(issues) > 0 {
		s.Issues = issues
	}
	return s
}
