package planner

import (
	"strings"
	"unicode"

	"github.com/tunivo/studio/pkg/models"
)

// MaxTags caps the keywords attached to one segment.
const MaxTags = 4

// labelHints are imagery words associated with each structural label. Lyric
// keywords and themes that match them are preferred for that segment.
var labelHints = map[string][]string{
	"intro":  {"opening", "dawn", "sunrise", "arrival", "light"},
	"verse":  {"story", "street", "road", "city", "journey"},
	"pre":    {"rising", "tension", "build", "storm"},
	"chorus": {"crowd", "lights", "sky", "fire", "dance", "heart"},
	"drop":   {"explosion", "strobe", "fire", "speed"},
	"bridge": {"reflection", "water", "ocean", "rain", "memory"},
	"outro":  {"night", "fade", "horizon", "sunset", "home"},
}

// normalizeLabel maps "Verse 2" or "pre-chorus" onto a labelHints key.
func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if strings.HasPrefix(l, "pre") {
		return "pre"
	}
	l = strings.TrimRightFunc(l, func(r rune) bool { return unicode.IsDigit(r) || unicode.IsSpace(r) })
	return l
}

func promptWords(prompt string) []string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// matches is the exact-or-substring rule, case-insensitive.
func matches(term string, hints []string) bool {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return false
	}
	for _, h := range hints {
		if h == "" {
			continue
		}
		if t == h || strings.Contains(t, h) || strings.Contains(h, t) {
			return true
		}
	}
	return false
}

// tagSet keeps first occurrences in insertion order.
type tagSet struct {
	seen map[string]bool
	tags []string
}

func (s *tagSet) add(tag string) bool {
	tag = strings.TrimSpace(tag)
	key := strings.ToLower(tag)
	if tag == "" || s.seen[key] || len(s.tags) >= MaxTags {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[key] = true
	s.tags = append(s.tags, tag)
	return true
}

func (s *tagSet) has(tag string) bool {
	return s.seen[strings.ToLower(strings.TrimSpace(tag))]
}

// selectTags picks the keywords for segment index. Order: themes echoed by
// keywords or hints, then keywords matching the hints, then a rotating window
// over the remaining keywords so imagery changes along the song.
func selectTags(index int, label string, lyrics models.Lyrics, userWords []string) []string {
	hints := append(append([]string(nil), labelHints[normalizeLabel(label)]...), userWords...)
	keywordsLower := make([]string, 0, len(lyrics.Keywords))
	for _, k := range lyrics.Keywords {
		keywordsLower = append(keywordsLower, strings.ToLower(strings.TrimSpace(k)))
	}

	var set tagSet
	for _, theme := range lyrics.Themes {
		if matches(theme, keywordsLower) || matches(theme, hints) {
			set.add(theme)
		}
	}
	for _, kw := range lyrics.Keywords {
		if matches(kw, hints) {
			set.add(kw)
		}
	}

	var rest []string
	seenRest := make(map[string]bool)
	for _, kw := range lyrics.Keywords {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if kw == "" || set.has(kw) || seenRest[key] {
			continue
		}
		seenRest[key] = true
		rest = append(rest, kw)
	}
	if len(rest) > 0 {
		offset := (index * 2) % len(rest)
		for i := 0; i < len(rest); i++ {
			set.add(rest[(offset+i)%len(rest)])
		}
	}

	if set.tags == nil {
		return []string{}
	}
	return set.tags
}

func energyDescriptor(energy float64) string {
	switch {
	case energy >= HighEnergy:
		return "high-energy"
	case energy >= SteadyEnergy:
		return "steady"
	default:
		return "calm"
	}
}

// composePrompt joins the prompt parts in a fixed order.
func composePrompt(userPrompt, label string, energy float64, tags []string, sentiment string) string {
	var parts []string
	if p := strings.TrimSpace(userPrompt); p != "" {
		parts = append(parts, p)
	}
	if l := strings.ToLower(strings.TrimSpace(label)); l != "" {
		parts = append(parts, l+" scene")
	}
	parts = append(parts, energyDescriptor(energy)+" visuals")
	if len(tags) > 0 {
		parts = append(parts, "featuring "+strings.Join(tags, ", "))
	}
	if s := strings.TrimSpace(sentiment); s != "" {
		parts = append(parts, strings.ToLower(s)+" mood")
	}
	return strings.Join(parts, ", ")
}
