package montage

import (
	"math"

	"github.com/tunivo/studio/pkg/models"
)

// TransitionPolicy decides how the segment at position i joins the previous
// one. It is never called for the first item, which always opens on a cut.
type TransitionPolicy interface {
	Between(prev, next models.TimelineSegment) models.Transition
}

// CutOnly hard-cuts every boundary. It is the default policy.
type CutOnly struct{}

func (CutOnly) Between(models.TimelineSegment, models.TimelineSegment) models.Transition {
	return models.TransitionCut
}

// EnergyCrossfade cross-fades boundaries where the energy jumps by at least
// Threshold and cuts everywhere else.
type EnergyCrossfade struct {
	Threshold float64
}

func (p EnergyCrossfade) Between(prev, next models.TimelineSegment) models.Transition {
	if math.Abs(next.Energy-prev.Energy) >= p.Threshold {
		return models.TransitionCrossfade
	}
	return models.TransitionCut
}
