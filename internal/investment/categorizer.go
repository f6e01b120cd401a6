package investment

import (
	"fmt"
	"sort"
	"time"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Effort metrics
const (
	EffortChurnLOC    = "churn_loc"
	EffortActiveHours = "active_hours"
)

// Effort is the size of a unit in its chosen metric
type Effort struct {
	Metric string
	Value  float64
}

// Result is the categorization of one unit
type Result struct {
	UnitID string
	From   time.Time
	To     time.Time
	Effort Effort

	Subcategories map[string]float64
	Themes        map[string]float64

	Confidence float64
	Band       string
	Degenerate bool

	StructuralEvidence []models.Evidence
	TemporalEvidence   []models.Evidence
	TextualEvidence    []models.Evidence
	Quotes             []Quote
}

// Categorizer scores units against one weight table
type Categorizer struct {
	weights *WeightTable
}

// NewCategorizer creates a categorizer for a validated weight table
func NewCategorizer(w *WeightTable) (*Categorizer, error) {
	if w == nil {
		w = DefaultWeights()
	}
	if err := w.Validate(); err != nil {
		return nil, errors.ConfigErrorf("invalid weight table: %v", err)
	}
	return &Categorizer{weights: w}, nil
}

// ModelVersion returns the version of the weight table in use
func (c *Categorizer) ModelVersion() string {
	return c.weights.ModelVersion
}

// Structural runs the structural pass. Panics from malformed input are
// returned as scoring errors.
func (c *Categorizer) Structural(u Unit) (score *StructuralScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, err = nil, errors.ScoringErrorf(u.ID, "structural scoring panicked: %v", r)
		}
	}()
	return ScoreStructure(u, c.weights)
}

// Finalize applies the textual modifier, normalizes and bands.
func (c *Categorizer) Finalize(u Unit, score *StructuralScore) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.ScoringErrorf(u.ID, "finalize panicked: %v", r)
		}
	}()
	if score == nil {
		return nil, errors.ScoringErrorf(u.ID, "missing structural score")
	}

	mod := ComputeModifiers(unitTexts(u), score.Shares, c.weights)
	dist, degenerate := Normalize(ApplyModifiers(score.Shares, mod, c.weights))

	confidence, agreement := BlendConfidence(score.Confidence, score.Shares, mod.Deltas, c.weights)
	textual := mod.Evidence
	if textual == nil {
		textual = []models.Evidence{}
	}
	structural := score.Evidence
	if degenerate {
		confidence = min(confidence, c.weights.Confidence.DegenerateQualityCap)
		structural = append(structural, models.Evidence{
			Type:        "degenerate_distribution",
			Description: "no structural signal; uniform distribution assigned",
		})
	}
	if len(mod.Evidence) > 0 {
		textual = append(textual, models.Evidence{Type: "text_agreement", Value: models.Float(agreement)})
	}

	from, to := TimeRange(u.Nodes)
	return &Result{
		UnitID:             u.ID,
		From:               from,
		To:                 to,
		Effort:             effort(u.Nodes, from, to),
		Subcategories:      dist,
		Themes:             RollupThemes(dist),
		Confidence:         confidence,
		Band:               Band(confidence),
		Degenerate:         degenerate,
		StructuralEvidence: structural,
		TemporalEvidence:   score.TemporalEvidence,
		TextualEvidence:    textual,
		Quotes:             mod.Quotes,
	}, nil
}

// Categorize runs both passes.
func (c *Categorizer) Categorize(u Unit) (*Result, error) {
	score, err := c.Structural(u)
	if err != nil {
		return nil, err
	}
	return c.Finalize(u, score)
}

// unitTexts collects texts in node ID order so matching is deterministic.
func unitTexts(u Unit) []models.Text {
	nodes := append([]models.Node(nil), u.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	var texts []models.Text
	for _, n := range nodes {
		texts = append(texts, n.Texts()...)
	}
	return texts
}

// TimeRange spans the activity times of nodes. Both ends are zero when no
// node carries a time, as for a unit made only of files.
func TimeRange(nodes []models.Node) (time.Time, time.Time) {
	var lo, hi time.Time
	for _, n := range nodes {
		t := n.ActivityTime()
		if t.IsZero() {
			continue
		}
		if lo.IsZero() || t.Before(lo) {
			lo = t
		}
		if hi.IsZero() || t.After(hi) {
			hi = t
		}
	}
	return lo.UTC(), hi.UTC()
}

// effort prefers line churn and falls back to the active span in hours.
func effort(nodes []models.Node, from, to time.Time) Effort {
	churn := 0
	for _, n := range nodes {
		if n.Commit != nil {
			churn += n.Commit.Additions + n.Commit.Deletions
		}
	}
	if churn > 0 {
		return Effort{Metric: EffortChurnLOC, Value: float64(churn)}
	}
	return Effort{Metric: EffortActiveHours, Value: to.Sub(from).Hours()}
}

// ErrorSummary is the reason recorded on a unit that failed categorization
func ErrorSummary(err error) map[string]string {
	return map[string]string{
		"code":    fmt.Sprint(errorCode(err)),
		"message": err.Error(),
	}
}

func errorCode(err error) errors.Code {
	switch {
	case errors.IsScoring(err):
		return errors.CodeScoring
	case errors.IsSinkWrite(err):
		return errors.CodeSinkWrite
	default:
		return "InternalError"
	}
}
