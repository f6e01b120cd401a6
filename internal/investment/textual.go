package investment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rohankatakam/workgraph/internal/models"
)

const maxQuoteLen = 240

// Quote is a text excerpt that produced at least one keyword match
type Quote struct {
	Quote      string
	SourceType string
	SourceID   string
}

// TextModifier is the bounded keyword adjustment for one unit
type TextModifier struct {
	// Deltas holds the clamped per-category modifier.
	Deltas   map[string]float64
	Evidence []models.Evidence
	Quotes   []Quote
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit, so "On-Call" and "on call" match the same keyword.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether phrase appears as a contiguous token run.
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxQuoteLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxQuoteLen-3]) + "..."
}

// ComputeModifiers matches the keyword dictionary against unit texts. Each
// keyword counts at most once per text. Per-category totals are clamped to
// the table's MaxModifier. Matches for a category whose structural share is
// zero are kept as keyword_suppressed evidence with no contribution. A nil
// shares map suppresses nothing.
func ComputeModifiers(texts []models.Text, shares map[string]float64, w *WeightTable) TextModifier {
	mod := TextModifier{Deltas: zeroVector()}
	raw := zeroVector()
	eligible := func(cat string) bool { return shares == nil || shares[cat] > 0 }

	phrases := make(map[string][]string)
	for _, entries := range w.Text.Keywords {
		for _, k := range entries {
			phrases[k.Keyword] = tokenize(k.Keyword)
		}
	}

	for _, text := range texts {
		tokens := tokenize(text.Value)
		if len(tokens) == 0 {
			continue
		}
		sourceWeight, ok := w.Text.SourceWeights[text.Source]
		if !ok {
			sourceWeight = 1
		}

		matched := false
		for _, cat := range categories {
			for _, k := range w.Text.Keywords[cat] {
				if !containsPhrase(tokens, phrases[k.Keyword]) {
					continue
				}
				if !eligible(cat) {
					mod.Evidence = append(mod.Evidence, models.Evidence{
						Type:        "keyword_suppressed",
						Description: "zero structural share",
						Category:    cat,
						Keyword:     k.Keyword,
						Source:      text.Source,
						SourceID:    text.SourceID,
						Weight:      k.Weight,
					})
					continue
				}
				matched = true
				contribution := k.Weight * sourceWeight
				raw[cat] += contribution
				mod.Evidence = append(mod.Evidence, models.Evidence{
					Type:         "keyword_match",
					Category:     cat,
					Keyword:      k.Keyword,
					Source:       text.Source,
					SourceID:     text.SourceID,
					Weight:       k.Weight,
					Contribution: contribution,
				})
			}
		}
		if matched {
			mod.Quotes = append(mod.Quotes, Quote{
				Quote:      excerpt(text.Value),
				SourceType: text.Source,
				SourceID:   text.SourceID,
			})
		}
	}

	limit := w.Text.MaxModifier
	for _, cat := range categories {
		v := raw[cat]
		clamped := clamp(v, -limit, limit)
		if clamped != v {
			mod.Evidence = append(mod.Evidence, models.Evidence{
				Type:         "modifier_clamped",
				Category:     cat,
				Value:        models.Float(v),
				Contribution: clamped,
			})
		}
		mod.Deltas[cat] = clamped
	}
	return mod
}

// ApplyModifiers adds the deltas to the structural shares. A category the
// structure scored at zero stays at zero, and a positive category is never
// driven to zero by text alone.
func ApplyModifiers(shares map[string]float64, mod TextModifier, w *WeightTable) map[string]float64 {
	out := zeroVector()
	for _, cat := range categories {
		s := shares[cat]
		if s <= 0 {
			continue
		}
		v := s + mod.Deltas[cat]
		if v <= 0 {
			v = s * w.Text.SuppressionFloor
		}
		out[cat] = v
	}
	return out
}
