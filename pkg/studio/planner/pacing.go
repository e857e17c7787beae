package planner

import (
	"math"
	"sort"

	"github.com/tunivo/studio/pkg/models"
)

const (
	// MinSegment and MaxSegment bound every synthesized window, in seconds.
	MinSegment = 2.0
	MaxSegment = 8.0

	// HighEnergy halves the beat window where the song is intense.
	HighEnergy = 0.7
	// SteadyEnergy separates "steady" from "calm" in prompts.
	SteadyEnergy = 0.4
	// NeutralEnergy is used when the analysis has no energy curve.
	NeutralEnergy = 0.5

	// sliver is the shortest interval kept between two section boundaries.
	sliver = 0.25

	boundaryEpsilon = 1e-6
)

// beatsPerWindow is the BeatWindowPolicy: high mode cuts twice as often as fast.
var beatsPerWindow = map[models.Mode]float64{
	models.ModeFast: 16,
	models.ModeHigh: 8,
}

// Window returns the base segment length for a tempo and mode.
func Window(bpm float64, mode models.Mode) float64 {
	beats, ok := beatsPerWindow[mode]
	if !ok {
		beats = beatsPerWindow[models.ModeFast]
	}
	return clamp(beats*60.0/bpm, MinSegment, MaxSegment)
}

type interval struct {
	start, end float64
	label      string
}

// snapToSections implements the SectionSnapPolicy: every section boundary
// inside (0, duration) becomes a cut, gaps get intro/bridge/outro labels and
// long intervals are split evenly into window-sized parts.
func snapToSections(a models.Analysis, window float64) []interval {
	sections := append([]models.Section(nil), a.Sections...)
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Start != sections[j].Start {
			return sections[i].Start < sections[j].Start
		}
		return sections[i].End < sections[j].End
	})

	points := []float64{0, a.Duration}
	firstStart, lastEnd := math.Inf(1), math.Inf(-1)
	for _, s := range sections {
		for _, v := range []float64{s.Start, s.End} {
			if v > boundaryEpsilon && v < a.Duration-boundaryEpsilon {
				points = append(points, v)
			}
		}
		firstStart = math.Min(firstStart, s.Start)
		lastEnd = math.Max(lastEnd, s.End)
	}
	sort.Float64s(points)

	var raw []interval
	prev := points[0]
	for _, p := range points[1:] {
		if p-prev <= boundaryEpsilon {
			continue
		}
		mid := (prev + p) / 2
		label := ""
		for _, s := range sections {
			if s.Start <= mid && mid < s.End {
				label = s.Label
				break
			}
		}
		if label == "" {
			switch {
			case mid < firstStart:
				label = "intro"
			case mid >= lastEnd:
				label = "outro"
			default:
				label = "bridge"
			}
		}
		raw = append(raw, interval{start: prev, end: p, label: label})
		prev = p
	}

	var out []interval
	for _, iv := range mergeSlivers(raw) {
		out = append(out, subdivide(iv, window)...)
	}
	return out
}

// mergeSlivers folds intervals shorter than sliver into their predecessor, or
// into their successor when they open the song.
func mergeSlivers(in []interval) []interval {
	var out []interval
	for _, iv := range in {
		if iv.end-iv.start < sliver && len(out) > 0 {
			out[len(out)-1].end = iv.end
			continue
		}
		out = append(out, iv)
	}
	if len(out) > 1 && out[0].end-out[0].start < sliver {
		out[1].start = out[0].start
		out = out[1:]
	}
	return out
}

func subdivide(iv interval, window float64) []interval {
	length := iv.end - iv.start
	n := int(math.Ceil(length/window - boundaryEpsilon))
	if n <= 1 {
		return []interval{iv}
	}
	step := length / float64(n)
	parts := make([]interval, 0, n)
	cursor := iv.start
	for k := 1; k <= n; k++ {
		end := roundMillis(iv.start + float64(k)*step)
		if k == n {
			end = iv.end
		}
		parts = append(parts, interval{start: cursor, end: end, label: iv.label})
		cursor = end
	}
	return parts
}

// beatWindows implements the BeatWindowPolicy used when there are no sections.
func beatWindows(a models.Analysis, curve []models.EnergyPoint, window float64) []interval {
	var out []interval
	t := 0.0
	for a.Duration-t > boundaryEpsilon {
		w := window
		if energyAt(curve, t) >= HighEnergy {
			w = math.Max(w/2, MinSegment)
		}
		end := roundMillis(t + w)
		if a.Duration-end < MinSegment {
			end = a.Duration
		}
		out = append(out, interval{start: t, end: end})
		t = end
	}

	for i := range out {
		switch {
		case len(out) == 1:
			out[i].label = "verse"
		case i == 0:
			out[i].label = "intro"
		case i == len(out)-1:
			out[i].label = "outro"
		case energyAt(curve, (out[i].start+out[i].end)/2) >= HighEnergy:
			out[i].label = "chorus"
		default:
			out[i].label = "verse"
		}
	}
	return out
}

// energyAt linearly interpolates a time-sorted curve, holding the end values
// outside its range.
func energyAt(curve []models.EnergyPoint, t float64) float64 {
	if len(curve) == 0 {
		return NeutralEnergy
	}
	if t <= curve[0].Time {
		return clamp(curve[0].Energy, 0, 1)
	}
	last := curve[len(curve)-1]
	if t >= last.Time {
		return clamp(last.Energy, 0, 1)
	}
	i := sort.Search(len(curve), func(i int) bool { return curve[i].Time > t }) - 1
	a, b := curve[i], curve[i+1]
	span := b.Time - a.Time
	if span <= 0 {
		return clamp(b.Energy, 0, 1)
	}
	frac := (t - a.Time) / span
	return clamp(a.Energy+frac*(b.Energy-a.Energy), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
