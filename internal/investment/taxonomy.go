package investment

import "strings"

// Themes of the investment taxonomy
const (
	ThemeFeatureDelivery = "feature_delivery"
	ThemeOperational     = "operational"
	ThemeMaintenance     = "maintenance"
	ThemeQuality         = "quality"
	ThemeRisk            = "risk"
)

// Subcategory keys. The set is closed; scoring never adds to it.
const (
	FeatureCustomer   = "feature_delivery.customer"
	FeatureRoadmap    = "feature_delivery.roadmap"
	FeatureEnablement = "feature_delivery.enablement"

	OperationalIncident = "operational.incident_response"
	OperationalOnCall   = "operational.on_call"
	OperationalSupport  = "operational.support"

	MaintenanceRefactor = "maintenance.refactor"
	MaintenanceUpgrade  = "maintenance.upgrade"
	MaintenanceDebt     = "maintenance.debt"

	QualityTesting     = "quality.testing"
	QualityBugfix      = "quality.bugfix"
	QualityReliability = "quality.reliability"

	RiskSecurity      = "risk.security"
	RiskCompliance    = "risk.compliance"
	RiskVulnerability = "risk.vulnerability"
)

var themes = []string{ThemeFeatureDelivery, ThemeOperational, ThemeMaintenance, ThemeQuality, ThemeRisk}

var categories = []string{
	FeatureCustomer, FeatureRoadmap, FeatureEnablement,
	OperationalIncident, OperationalOnCall, OperationalSupport,
	MaintenanceRefactor, MaintenanceUpgrade, MaintenanceDebt,
	QualityTesting, QualityBugfix, QualityReliability,
	RiskSecurity, RiskCompliance, RiskVulnerability,
}

var categorySet = func() map[string]bool {
	m := make(map[string]bool, len(categories))
	for _, c := range categories {
		m[c] = true
	}
	return m
}()

// Categories returns the subcategory keys in canonical order.
func Categories() []string {
	return append([]string(nil), categories...)
}

// Themes returns the theme keys in canonical order.
func Themes() []string {
	return append([]string(nil), themes...)
}

// IsCategory reports whether key belongs to the taxonomy.
func IsCategory(key string) bool {
	return categorySet[key]
}

// ThemeOf returns the theme a subcategory rolls up to.
func ThemeOf(category string) string {
	theme, _, _ := strings.Cut(category, ".")
	return theme
}

// RollupThemes sums a subcategory distribution into themes.
func RollupThemes(dist map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(themes))
	for _, t := range themes {
		out[t] = 0
	}
	for _, c := range categories {
		out[ThemeOf(c)] += dist[c]
	}
	return out
}

func zeroVector() map[string]float64 {
	v := make(map[string]float64, len(categories))
	for _, c := range categories {
		v[c] = 0
	}
	return v
}
