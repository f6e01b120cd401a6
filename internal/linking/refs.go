package linking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rohankatakam/workgraph/internal/models"
)

// ReferenceType is how a text refers to an issue
type ReferenceType string

const (
	RefFixes      ReferenceType = "fixes"
	RefImplements ReferenceType = "implements"
	RefMentions   ReferenceType = "mentions"
)

// Reference is one issue reference found in PR or commit text
type Reference struct {
	// Key is a tracker key (ABC-12) or a GitHub number (#12).
	Key string
	// Repo is set for cross-repository refs (owner/repo#12).
	Repo     string
	Type     ReferenceType
	Location string
	Text     string
}

var (
	jiraKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-[0-9]+\b`)
	numberPattern  = regexp.MustCompile(`(?:\b([\w.-]+/[\w.-]+))?#([0-9]+)\b`)

	closingVerb   = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s*:?\s*$`)
	implementVerb = regexp.MustCompile(`(?i)\b(?:implement(?:s|ed)?|part of|towards)\s*:?\s*$`)
)

// lookbehind is how far before a ref a verb may appear
const lookbehind = 24

// ExtractReferences finds issue references in one text. Each key is reported
// once per text with the strongest type seen.
func ExtractReferences(text models.Text) []Reference {
	var refs []Reference
	seen := map[string]int{}

	add := func(key, repo string, start, end int) {
		typ := classify(text.Value[max(0, start-lookbehind):start])
		id := repo + key
		if i, ok := seen[id]; ok {
			if rank(typ) > rank(refs[i].Type) {
				refs[i].Type = typ
			}
			return
		}
		seen[id] = len(refs)
		refs = append(refs, Reference{
			Key:      key,
			Repo:     repo,
			Type:     typ,
			Location: text.Source,
			Text:     strings.TrimSpace(text.Value[max(0, start-lookbehind):end]),
		})
	}

	for _, m := range jiraKeyPattern.FindAllStringIndex(text.Value, -1) {
		add(text.Value[m[0]:m[1]], "", m[0], m[1])
	}
	for _, m := range numberPattern.FindAllStringSubmatchIndex(text.Value, -1) {
		if _, err := strconv.Atoi(text.Value[m[4]:m[5]]); err != nil {
			continue
		}
		var repo string
		if m[2] >= 0 {
			repo = text.Value[m[2]:m[3]]
		}
		add("#"+text.Value[m[4]:m[5]], repo, m[0], m[1])
	}
	return refs
}

func classify(prefix string) ReferenceType {
	switch {
	case closingVerb.MatchString(prefix):
		return RefFixes
	case implementVerb.MatchString(prefix):
		return RefImplements
	default:
		return RefMentions
	}
}

func rank(t ReferenceType) int {
	switch t {
	case RefFixes:
		return 2
	case RefImplements:
		return 1
	}
	return 0
}

// EdgeKind maps a reference type to the edge it produces
func (t ReferenceType) EdgeKind() models.EdgeKind {
	switch t {
	case RefFixes:
		return models.EdgeFixes
	case RefImplements:
		return models.EdgeImplements
	}
	return models.EdgeReferences
}
