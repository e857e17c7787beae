package agent

import (
	"errors"
	"fmt"

	"github.com/tunivo/studio/pkg/models"
)

var ErrUnknownMode = errors.New("unknown agent mode")

// Weights sum to 1 in every preset.
type Weights struct {
	Relevance  float64 `json:"relevance"`
	Continuity float64 `json:"continuity"`
	Variety    float64 `json:"variety"`
	Pacing     float64 `json:"pacing"`
	Technical  float64 `json:"technical"`
}

// Preset is one named scoring configuration.
type Preset struct {
	Mode    models.Mode
	Weights Weights
	// HarshCut is the energy jump above which a hard cut is flagged.
	HarshCut float64
}

var presets = map[models.Mode]Preset{
	models.ModeFast: {
		Mode:     models.ModeFast,
		Weights:  Weights{Relevance: 0.30, Continuity: 0.15, Variety: 0.15, Pacing: 0.25, Technical: 0.15},
		HarshCut: 0.45,
	},
	models.ModeHigh: {
		Mode:     models.ModeHigh,
		Weights:  Weights{Relevance: 0.25, Continuity: 0.20, Variety: 0.20, Pacing: 0.20, Technical: 0.15},
		HarshCut: 0.35,
	},
}

// PresetFor looks up the preset for mode. An empty mode selects fast.
func PresetFor(mode models.Mode) (Preset, error) {
	if mode == "" {
		mode = models.ModeFast
	}
	p, ok := presets[mode]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return p, nil
}
