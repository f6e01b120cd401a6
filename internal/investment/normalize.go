package investment

// Confidence bands
const (
	BandHigh     = "high"
	BandModerate = "moderate"
	BandLow      = "low"
	BandVeryLow  = "very_low"
)

// Band maps a confidence value to its band.
func Band(v float64) string {
	switch {
	case v >= 0.8:
		return BandHigh
	case v >= 0.6:
		return BandModerate
	case v >= 0.4:
		return BandLow
	default:
		return BandVeryLow
	}
}

// Normalize clamps negatives and scales the vector to sum to one. An
// all-zero vector becomes uniform and is reported as degenerate.
func Normalize(v map[string]float64) (map[string]float64, bool) {
	out := zeroVector()
	var total float64
	for _, c := range categories {
		if x := v[c]; x > 0 {
			out[c] = x
			total += x
		}
	}
	if total <= 0 {
		u := 1.0 / float64(len(categories))
		for _, c := range categories {
			out[c] = u
		}
		return out, true
	}
	for _, c := range categories {
		out[c] /= total
	}
	return out, false
}

// TextAgreement measures how far the modifiers point the same way as the
// structural shares. Positive deltas agree in proportion to the share they
// land on; negative deltas agree in proportion to the share they avoid.
// Categories with no structural share are ignored.
func TextAgreement(shares, deltas map[string]float64, w *WeightTable) float64 {
	var totalAbs, alignment float64
	for _, c := range categories {
		if shares[c] <= 0 {
			continue
		}
		m := deltas[c]
		if m >= 0 {
			totalAbs += m
			alignment += m * shares[c]
		} else {
			totalAbs -= m
			alignment += -m * (1 - shares[c])
		}
	}
	if totalAbs <= 0 {
		return w.Confidence.TextAgreementFallback
	}
	return clamp(alignment/totalAbs, 0, 1)
}

// dominant returns the category with the highest share, first in canonical
// order on ties.
func dominant(shares map[string]float64) string {
	best, bestV := "", 0.0
	for _, c := range categories {
		if shares[c] > bestV {
			best, bestV = c, shares[c]
		}
	}
	return best
}

// BlendConfidence boosts the structural confidence when text supports the
// dominant structural category. It never lowers the structural baseline.
func BlendConfidence(structural float64, shares, deltas map[string]float64, w *WeightTable) (float64, float64) {
	agreement := TextAgreement(shares, deltas, w)
	top := dominant(shares)
	if top == "" || deltas[top] <= 0 {
		return structural, agreement
	}
	return clamp(structural+w.Confidence.TextAgreementBoost*agreement, structural, 1), agreement
}
