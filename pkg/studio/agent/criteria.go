package agent

import (
	"math"
	"strings"

	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio/montage"
)

const (
	neutral = 0.5

	severityLow    = "low"
	severityMedium = "medium"
	severityHigh   = "high"
)

// issueSink collects findings while criteria are computed.
type issueSink []models.Issue

func (s *issueSink) add(index int, severity, reason string) {
	*s = append(*s, models.Issue{SegmentIndex: index, Reason: reason, Severity: severity})
}

// pacing rewards segment lengths near an energy-scaled number of beats and
// cuts that land on the beat grid.
func pacing(items []models.TimelineItem, bpm float64, issues *issueSink) float64 {
	if bpm <= 0 || len(items) == 0 {
		return neutral
	}
	beat := 60.0 / bpm
	total := 0.0
	for _, it := range items {
		ideal := (16 - 8*clamp01(it.Segment.Energy)) * beat
		fit := ratio(it.Used, ideal)

		phase := math.Mod((it.Start+it.Used)/beat, 1)
		align := 1 - 2*math.Min(phase, 1-phase)

		if fit < 0.5 {
			issues.add(it.Segment.Index, severityMedium, "segment length is far from the beat-scaled ideal")
		}
		total += 0.7*fit + 0.3*align
	}
	return total / float64(len(items))
}

// relevance measures how much of the lyric vocabulary reached the clips and
// whether each clip was rendered from its segment's prompt.
func relevance(items []models.TimelineItem, lyrics models.Lyrics, issues *issueSink) float64 {
	if len(items) == 0 {
		return 0
	}

	coverage := neutral
	var keywords []string
	for _, k := range lyrics.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) > 0 {
		found := 0
		for _, k := range keywords {
			if keywordUsed(k, items) {
				found++
			}
		}
		coverage = float64(found) / float64(len(keywords))
	}

	echoed := 0
	for _, it := range items {
		want := strings.ToLower(strings.TrimSpace(it.Segment.Prompt))
		if want == "" || strings.Contains(strings.ToLower(it.Clip.Prompt), want) {
			echoed++
			continue
		}
		issues.add(it.Segment.Index, severityMedium, "clip prompt diverges from the segment prompt")
	}
	fidelity := float64(echoed) / float64(len(items))

	return 0.7*coverage + 0.3*fidelity
}

func keywordUsed(keyword string, items []models.TimelineItem) bool {
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Clip.Prompt), keyword) {
			return true
		}
		for _, tag := range it.Segment.Tags {
			if strings.EqualFold(strings.TrimSpace(tag), keyword) {
				return true
			}
		}
	}
	return false
}

// continuity combines delivered screen time with how many boundaries avoid a
// hard cut across a large energy jump.
func continuity(items []models.TimelineItem, harshCut float64, issues *issueSink) float64 {
	if len(items) == 0 {
		return 0
	}

	planned, delivered := 0.0, 0.0
	for _, it := range items {
		planned += it.Segment.Duration
		delivered += it.Used
		switch short := it.Used / it.Segment.Duration; {
		case short < 0.5:
			issues.add(it.Segment.Index, severityHigh, "clip under-rendered by more than half")
		case short < 0.9:
			issues.add(it.Segment.Index, severityMedium, "clip under-rendered")
		}
	}
	deliveredRatio := 1.0
	if planned > 0 {
		deliveredRatio = math.Min(1, delivered/planned)
	}

	smooth := 1.0
	if len(items) > 1 {
		harsh := 0
		for i := 1; i < len(items); i++ {
			jump := math.Abs(items[i].Segment.Energy - items[i-1].Segment.Energy)
			if items[i].Transition == models.TransitionCut && jump > harshCut {
				harsh++
				issues.add(items[i].Segment.Index, severityLow, "hard cut across an energy jump")
			}
		}
		smooth = 1 - float64(harsh)/float64(len(items)-1)
	}

	return 0.6*deliveredRatio + 0.4*smooth
}

// variety is the share of distinct visuals, penalised for back-to-back repeats.
func variety(items []models.TimelineItem, issues *issueSink) float64 {
	if len(items) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(items))
	repeats := 0
	prev := ""
	for i, it := range items {
		key := visualKey(it.Clip)
		seen[key] = true
		if i > 0 && key == prev {
			repeats++
			issues.add(it.Segment.Index, severityLow, "repeats the previous visual")
		}
		prev = key
	}
	score := float64(len(seen)) / float64(len(items))
	if len(items) > 1 {
		score -= 0.5 * float64(repeats) / float64(len(items)-1)
	}
	return clamp01(score)
}

func visualKey(c models.GeneratedClip) string {
	if c.VisualHash != "" {
		return c.VisualHash
	}
	return "path:" + c.Path
}

// technical scores how closely renders matched their planned lengths and how
// far the whole timeline drifts from the audio.
func technical(tl models.Timeline, audioDuration float64, issues *issueSink) float64 {
	if len(tl.Items) == 0 {
		return 0
	}
	fit := 0.0
	for _, it := range tl.Items {
		f := ratio(it.Clip.Duration, it.Segment.Duration)
		if f < 0.8 {
			issues.add(it.Segment.Index, severityLow, "render length is off plan")
		}
		fit += f
	}
	fit /= float64(len(tl.Items))

	if audioDuration > 0 {
		drift := math.Abs(tl.Duration() - audioDuration)
		if drift > montage.DurationTolerance {
			last := tl.Items[len(tl.Items)-1].Segment.Index
			issues.add(last, severityHigh, "timeline drifts from the audio duration")
			fit *= math.Max(0, 1-drift/audioDuration)
		}
	}
	return fit
}

// ratio is min(a,b)/max(a,b), or 0 when either is not positive.
func ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return math.Min(a, b) / math.Max(a, b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
