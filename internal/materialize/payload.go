package materialize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/workgraph/internal/investment"
	"github.com/rohankatakam/workgraph/internal/models"
	"github.com/rohankatakam/workgraph/internal/sink"
)

// Categorization statuses stored on each row
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Work unit types stored on each row
const (
	UnitTypeComponent = "component"
	UnitTypeSingleton = "singleton"
)

type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type EffortPayload struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

type ConfidencePayload struct {
	Value float64 `json:"value"`
	Band  string  `json:"band"`
}

// EvidenceBundle always carries all three lists, empty rather than null.
type EvidenceBundle struct {
	Structural []models.Evidence `json:"structural"`
	Temporal   []models.Evidence `json:"temporal"`
	Textual    []models.Evidence `json:"textual"`
}

// Payload is the canonical published shape of a work unit
type Payload struct {
	WorkUnitID string             `json:"work_unit_id"`
	TimeRange  TimeRange          `json:"time_range"`
	Effort     EffortPayload      `json:"effort"`
	Categories map[string]float64 `json:"categories"`
	Confidence ConfidencePayload  `json:"confidence"`
	Evidence   EvidenceBundle     `json:"evidence"`
}

// Record is everything the writer needs to materialize one unit
type Record struct {
	Unit         investment.Unit
	Result       *investment.Result
	Err          error
	RunID        string
	ModelVersion string
	InputHash    string
	ComputedAt   time.Time
}

// Status returns the categorization status of the record
func (r *Record) Status() string {
	if r.Err != nil || r.Result == nil {
		return StatusError
	}
	return StatusOK
}

func nonNil(ev []models.Evidence) []models.Evidence {
	if ev == nil {
		return []models.Evidence{}
	}
	return ev
}

func uniform() map[string]float64 {
	cats := investment.Categories()
	out := make(map[string]float64, len(cats))
	for _, c := range cats {
		out[c] = 1.0 / float64(len(cats))
	}
	return out
}

// BuildPayload renders the canonical payload. An errored unit carries a
// uniform distribution at zero confidence.
func BuildPayload(r *Record) Payload {
	if r.Status() == StatusOK {
		res := r.Result
		return Payload{
			WorkUnitID: r.Unit.ID,
			TimeRange:  TimeRange{Start: formatTime(res.From), End: formatTime(res.To)},
			Effort:     EffortPayload{Metric: res.Effort.Metric, Value: res.Effort.Value},
			Categories: res.Subcategories,
			Confidence: ConfidencePayload{Value: res.Confidence, Band: res.Band},
			Evidence: EvidenceBundle{
				Structural: nonNil(res.StructuralEvidence),
				Temporal:   nonNil(res.TemporalEvidence),
				Textual:    nonNil(res.TextualEvidence),
			},
		}
	}

	from, to := investment.TimeRange(r.Unit.Nodes)
	return Payload{
		WorkUnitID: r.Unit.ID,
		TimeRange:  TimeRange{Start: formatTime(from), End: formatTime(to)},
		Effort:     EffortPayload{Metric: investment.EffortActiveHours, Value: to.Sub(from).Hours()},
		Categories: uniform(),
		Confidence: ConfidencePayload{Value: 0, Band: investment.Band(0)},
		Evidence: EvidenceBundle{
			Structural: nonNil(r.Unit.Evidence),
			Temporal:   []models.Evidence{},
			Textual:    []models.Evidence{},
		},
	}
}

// BuildRows converts a record into sink rows
func BuildRows(r *Record) (sink.InvestmentRow, []sink.QuoteRow, error) {
	p := BuildPayload(r)

	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return sink.InvestmentRow{}, nil, fmt.Errorf("marshal payload: %w", err)
	}
	subJSON, err := json.Marshal(p.Categories)
	if err != nil {
		return sink.InvestmentRow{}, nil, err
	}
	themeJSON, err := json.Marshal(investment.RollupThemes(p.Categories))
	if err != nil {
		return sink.InvestmentRow{}, nil, err
	}
	structJSON, err := json.Marshal(p.Evidence.Structural)
	if err != nil {
		return sink.InvestmentRow{}, nil, err
	}

	errs := []map[string]string{}
	if r.Err != nil {
		errs = append(errs, investment.ErrorSummary(r.Err))
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return sink.InvestmentRow{}, nil, err
	}

	from, to := investment.TimeRange(r.Unit.Nodes)
	unitType := UnitTypeComponent
	if r.Unit.Singleton {
		unitType = UnitTypeSingleton
	}
	repoID, provider := origin(r.Unit.Nodes)

	row := sink.InvestmentRow{
		WorkUnitID:                  r.Unit.ID,
		WorkUnitType:                unitType,
		WorkUnitName:                unitName(r.Unit),
		FromTS:                      timePtr(from),
		ToTS:                        timePtr(to),
		RepoID:                      repoID,
		Provider:                    provider,
		EffortMetric:                p.Effort.Metric,
		EffortValue:                 p.Effort.Value,
		ThemeDistributionJSON:       string(themeJSON),
		SubcategoryDistributionJSON: string(subJSON),
		StructuralEvidenceJSON:      string(structJSON),
		EvidenceQuality:             p.Confidence.Value,
		EvidenceQualityBand:         p.Confidence.Band,
		CategorizationStatus:        r.Status(),
		CategorizationErrorsJSON:    string(errJSON),
		CategorizationModelVersion:  r.ModelVersion,
		CategorizationInputHash:     r.InputHash,
		CategorizationRunID:         r.RunID,
		PayloadJSON:                 string(payloadJSON),
		ComputedAt:                  r.ComputedAt.UTC(),
	}

	var quotes []sink.QuoteRow
	if r.Result != nil {
		for _, q := range r.Result.Quotes {
			quotes = append(quotes, sink.QuoteRow{
				WorkUnitID:          r.Unit.ID,
				Quote:               q.Quote,
				SourceType:          q.SourceType,
				SourceID:            q.SourceID,
				CategorizationRunID: r.RunID,
			})
		}
	}
	return row, quotes, nil
}

// DecodePayload parses the canonical payload stored on a row
func DecodePayload(row *sink.InvestmentRow) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(row.PayloadJSON), &p); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", row.WorkUnitID, err)
	}
	return &p, nil
}

type hashInput struct {
	ModelVersion string             `json:"model_version"`
	Params       map[string]float64 `json:"params"`
	Nodes        []models.Node      `json:"nodes"`
	Edges        []models.Edge      `json:"edges"`
}

// InputHash fingerprints everything a unit's categorization depends on.
// Provider metadata is excluded since scoring never reads it.
func InputHash(u investment.Unit, modelVersion string, params map[string]float64) (string, error) {
	nodes := make([]models.Node, len(u.Nodes))
	for i, n := range u.Nodes {
		n.Metadata = nil
		n.CreatedAt = n.CreatedAt.UTC()
		n.UpdatedAt = n.UpdatedAt.UTC()
		nodes[i] = n
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := append([]models.Edge(nil), u.Edges...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	data, err := json.Marshal(hashInput{ModelVersion: modelVersion, Params: params, Nodes: nodes, Edges: edges})
	if err != nil {
		return "", fmt.Errorf("marshal hash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// formatTime leaves unknown times empty rather than rendering year one
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func sortedByID(nodes []models.Node) []models.Node {
	out := append([]models.Node(nil), nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func origin(nodes []models.Node) (string, string) {
	var repoID, provider string
	for _, n := range sortedByID(nodes) {
		if repoID == "" {
			repoID = n.RepoID
		}
		if provider == "" {
			provider = n.Provider
		}
	}
	return repoID, provider
}

// unitName picks a human label: the earliest issue or PR title, then the
// first line of the earliest commit message.
func unitName(u investment.Unit) string {
	nodes := sortedByID(u.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })

	for _, n := range nodes {
		switch {
		case n.Issue != nil && n.Issue.Title != "":
			return n.Issue.Title
		case n.PullRequest != nil && n.PullRequest.Title != "":
			return n.PullRequest.Title
		}
	}
	for _, n := range nodes {
		if n.Commit != nil && n.Commit.Message != "" {
			line, _, _ := strings.Cut(n.Commit.Message, "\n")
			return line
		}
	}
	if len(u.ID) > 12 {
		return u.ID[:12]
	}
	return u.ID
}
