package investment

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultModelVersion identifies the compiled-in weight table
const DefaultModelVersion = "wu-structural-v1"

// Keyword is one dictionary entry for the textual modifier
type Keyword struct {
	Keyword string  `yaml:"keyword"`
	Weight  float64 `yaml:"weight"`
}

// ConfidenceWeights blend the structural confidence components
type ConfidenceWeights struct {
	Provenance            float64 `yaml:"provenance"`
	Temporal              float64 `yaml:"temporal"`
	Density               float64 `yaml:"density"`
	TemporalWindowDays    float64 `yaml:"temporal_window_days"`
	TemporalFallback      float64 `yaml:"temporal_fallback"`
	TextAgreementFallback float64 `yaml:"text_agreement_fallback"`
	TextAgreementBoost    float64 `yaml:"text_agreement_boost"`
	DegenerateQualityCap  float64 `yaml:"degenerate_quality_cap"`
}

// TextWeights configure the keyword modifier
type TextWeights struct {
	MaxModifier      float64              `yaml:"max_modifier"`
	SuppressionFloor float64              `yaml:"suppression_floor"`
	SourceWeights    map[string]float64   `yaml:"source_weights"`
	Keywords         map[string][]Keyword `yaml:"keywords"`
}

// WeightTable is the full, versioned scoring configuration. A table is
// never modified after it is loaded; changing any value requires a new
// ModelVersion.
type WeightTable struct {
	ModelVersion string `yaml:"model_version"`

	IssueTypeWeights map[string]map[string]float64 `yaml:"issue_type_weights"`
	EdgeKindWeights  map[string]map[string]float64 `yaml:"edge_kind_weights"`
	PathClassWeights map[string]map[string]float64 `yaml:"path_class_weights"`
	NewFileWeights   map[string]float64            `yaml:"new_file_weights"`
	ModifyWeights    map[string]float64            `yaml:"modify_weights"`

	InferredEdgeFactor  float64 `yaml:"inferred_edge_factor"`
	SingletonTypeWeight float64 `yaml:"singleton_type_weight"`

	Confidence ConfidenceWeights `yaml:"confidence"`
	Text       TextWeights       `yaml:"text"`
}

// DefaultWeights returns a fresh copy of the compiled-in table.
func DefaultWeights() *WeightTable {
	unknown := make(map[string]float64, len(categories))
	for _, c := range categories {
		unknown[c] = 1.0 / float64(len(categories))
	}

	return &WeightTable{
		ModelVersion: DefaultModelVersion,
		IssueTypeWeights: map[string]map[string]float64{
			"story":    {FeatureRoadmap: 0.6, FeatureCustomer: 0.4},
			"feature":  {FeatureRoadmap: 0.6, FeatureCustomer: 0.4},
			"epic":     {FeatureRoadmap: 1.0},
			"task":     {FeatureRoadmap: 0.5, FeatureEnablement: 0.2, MaintenanceDebt: 0.3},
			"issue":    {FeatureRoadmap: 0.5, MaintenanceDebt: 0.5},
			"chore":    {MaintenanceDebt: 0.5, MaintenanceUpgrade: 0.5},
			"bug":      {QualityBugfix: 1.0},
			"incident": {OperationalIncident: 1.0},
			"support":  {OperationalSupport: 1.0},
			"security": {RiskSecurity: 0.7, RiskVulnerability: 0.3},
			"unknown":  unknown,
		},
		EdgeKindWeights: map[string]map[string]float64{
			"fixes":      {QualityBugfix: 0.6, MaintenanceDebt: 0.4},
			"implements": {FeatureRoadmap: 0.7, FeatureCustomer: 0.3},
			"blocks":     {QualityReliability: 0.2},
			"duplicates": {OperationalSupport: 0.2},
		},
		PathClassWeights: map[string]map[string]float64{
			pathClassTest:       {QualityTesting: 0.25},
			pathClassDependency: {MaintenanceUpgrade: 0.25},
			pathClassCI:         {FeatureEnablement: 0.25},
			pathClassDocs:       {FeatureEnablement: 0.1, OperationalSupport: 0.1},
		},
		NewFileWeights: map[string]float64{FeatureRoadmap: 0.3, FeatureEnablement: 0.1},
		ModifyWeights:  map[string]float64{MaintenanceRefactor: 0.2, MaintenanceDebt: 0.1},

		InferredEdgeFactor:  0.5,
		SingletonTypeWeight: 0.1,

		Confidence: ConfidenceWeights{
			Provenance:            0.4,
			Temporal:              0.2,
			Density:               0.2,
			TemporalWindowDays:    30,
			TemporalFallback:      0.5,
			TextAgreementFallback: 0.5,
			TextAgreementBoost:    0.1,
			DegenerateQualityCap:  0.2,
		},
		Text: TextWeights{
			MaxModifier:      0.15,
			SuppressionFloor: 0.1,
			SourceWeights: map[string]float64{
				"issue_title":       1.0,
				"pr_title":          1.0,
				"commit_message":    0.8,
				"issue_description": 0.6,
				"pr_description":    0.6,
			},
			Keywords: map[string][]Keyword{
				FeatureCustomer:     {{"customer", 0.03}, {"client request", 0.03}, {"user request", 0.03}},
				FeatureRoadmap:      {{"feature", 0.03}, {"roadmap", 0.03}, {"launch", 0.03}, {"revert", -0.03}},
				FeatureEnablement:   {{"tooling", 0.03}, {"pipeline", 0.02}, {"developer experience", 0.03}, {"sdk", 0.02}},
				OperationalIncident: {{"incident", 0.04}, {"outage", 0.04}, {"hotfix", 0.03}, {"postmortem", 0.03}},
				OperationalOnCall:   {{"on call", 0.03}, {"pager", 0.03}, {"alert", 0.02}},
				OperationalSupport:  {{"support ticket", 0.03}, {"escalation", 0.03}},
				MaintenanceRefactor: {{"refactor", 0.04}, {"cleanup", 0.03}, {"clean up", 0.03}, {"restructure", 0.03}},
				MaintenanceUpgrade:  {{"upgrade", 0.04}, {"bump", 0.03}, {"migrate", 0.03}, {"dependency", 0.02}},
				MaintenanceDebt:     {{"tech debt", 0.04}, {"technical debt", 0.04}, {"deprecate", 0.03}},
				QualityTesting:      {{"test", 0.03}, {"tests", 0.03}, {"coverage", 0.03}, {"flaky", 0.03}},
				QualityBugfix:       {{"fix", 0.03}, {"bug", 0.03}, {"regression", 0.03}, {"crash", 0.03}},
				QualityReliability:  {{"retry", 0.03}, {"timeout", 0.03}, {"reliability", 0.04}, {"latency", 0.02}},
				RiskSecurity:        {{"security", 0.04}, {"auth", 0.02}, {"xss", 0.04}, {"csrf", 0.04}},
				RiskCompliance:      {{"compliance", 0.04}, {"gdpr", 0.04}, {"soc2", 0.04}, {"audit", 0.03}},
				RiskVulnerability:   {{"cve", 0.05}, {"vulnerability", 0.04}, {"exploit", 0.04}},
			},
		},
	}
}

// LoadWeights reads a table from YAML. Fields absent from the file keep
// their compiled-in values.
func LoadWeights(path string) (*WeightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weight table: %w", err)
	}

	w := DefaultWeights()
	w.ModelVersion = ""
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("failed to parse weight table %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weight table %s: %w", path, err)
	}
	return w, nil
}

// Validate checks that every key belongs to the taxonomy and that the
// modifier bound is honoured.
func (w *WeightTable) Validate() error {
	if w.ModelVersion == "" {
		return fmt.Errorf("model_version is required")
	}

	check := func(section string, m map[string]float64) error {
		for k, v := range m {
			if !IsCategory(k) {
				return fmt.Errorf("%s: unknown category %q", section, k)
			}
			if v < 0 {
				return fmt.Errorf("%s: negative weight for %q", section, k)
			}
		}
		return nil
	}
	for name, m := range w.IssueTypeWeights {
		if err := check("issue_type_weights."+name, m); err != nil {
			return err
		}
	}
	for name, m := range w.EdgeKindWeights {
		if err := check("edge_kind_weights."+name, m); err != nil {
			return err
		}
	}
	for name, m := range w.PathClassWeights {
		if err := check("path_class_weights."+name, m); err != nil {
			return err
		}
	}
	if err := check("new_file_weights", w.NewFileWeights); err != nil {
		return err
	}
	if err := check("modify_weights", w.ModifyWeights); err != nil {
		return err
	}
	for cat := range w.Text.Keywords {
		if !IsCategory(cat) {
			return fmt.Errorf("text.keywords: unknown category %q", cat)
		}
	}

	if w.Text.MaxModifier <= 0 || w.Text.MaxModifier > 0.15 {
		return fmt.Errorf("text.max_modifier must be in (0, 0.15], got %.3f", w.Text.MaxModifier)
	}
	if w.Text.SuppressionFloor <= 0 || w.Text.SuppressionFloor > 1 {
		return fmt.Errorf("text.suppression_floor must be in (0, 1], got %.3f", w.Text.SuppressionFloor)
	}
	c := w.Confidence
	if c.Provenance+c.Temporal+c.Density <= 0 {
		return fmt.Errorf("confidence weights must sum to a positive value")
	}
	if c.TemporalWindowDays <= 0 {
		return fmt.Errorf("confidence.temporal_window_days must be positive")
	}
	if w.InferredEdgeFactor < 0 || w.InferredEdgeFactor > 1 {
		return fmt.Errorf("inferred_edge_factor must be in [0, 1]")
	}
	return nil
}

// Registry holds weight tables by model version. Tables are registered at
// startup and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*WeightTable
}

// NewRegistry creates a registry holding the compiled-in table.
func NewRegistry() *Registry {
	r := &Registry{tables: make(map[string]*WeightTable)}
	d := DefaultWeights()
	r.tables[d.ModelVersion] = d
	return r
}

// Register adds a validated table. A version cannot be registered twice.
func (r *Registry) Register(w *WeightTable) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[w.ModelVersion]; exists {
		return fmt.Errorf("model version %s already registered", w.ModelVersion)
	}
	r.tables[w.ModelVersion] = w
	return nil
}

// Get returns the table for a model version.
func (r *Registry) Get(version string) (*WeightTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.tables[version]
	return w, ok
}

// Versions lists registered model versions.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tables))
	for v := range r.tables {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
