package detection

import (
	"math"

	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
)

// AssociationConfig configures the contingency association detector.
type AssociationConfig struct {
	// MinSupport is the minimum total cell count of the 2x2 table.
	MinSupport int
}

// DefaultAssociationConfig returns the engine defaults.
func DefaultAssociationConfig() AssociationConfig {
	return AssociationConfig{MinSupport: 5}
}

// Contingency is a 2x2 table relating an environmental condition to a
// high-intensity outcome: A = condition & outcome, B = condition only,
// C = outcome only, D = neither.
type Contingency struct {
	A, B, C, D int
}

// Support returns the total number of observations in the table.
func (c Contingency) Support() int {
	return c.A + c.B + c.C + c.D
}

// Phi returns the phi coefficient of the table, 0 when any margin is
// empty.
func (c Contingency) Phi() float64 {
	row1 := float64(c.A + c.B)
	row2 := float64(c.C + c.D)
	col1 := float64(c.A + c.C)
	col2 := float64(c.B + c.D)
	den := math.Sqrt(row1 * row2 * col1 * col2)
	if den == 0 {
		return 0
	}
	return (float64(c.A)*float64(c.D) - float64(c.B)*float64(c.C)) / den
}

// AssociationInput carries the contingency table and the index-aligned
// point series (factor values vs. intensities) for the correlation
// report.
type AssociationInput struct {
	Table       Contingency
	FactorSerie []float64
	Intensities []float64
}

// DetectAssociation flags a co-occurrence between an environmental
// condition and high-intensity outcomes. Requires minimum total
// support; also reports the point-series Pearson correlation in the
// diagnostics. Returns nil below support or for a negligible phi.
func DetectAssociation(in AssociationInput, cfg AssociationConfig) *Result {
	support := in.Table.Support()
	if support < cfg.MinSupport {
		return nil
	}

	phi := in.Table.Phi()
	if phi == 0 {
		return nil
	}

	correlation := stats.Pearson(in.FactorSerie, in.Intensities)

	score := stats.Clamp01(math.Abs(phi))
	confidence := stats.Clamp01(math.Abs(phi) * math.Min(1, float64(support)/20))

	impact := ImpactIncreasing
	if phi < 0 {
		impact = ImpactDecreasing
	}

	return &Result{
		Type:       TypeAssociation,
		Score:      score,
		Confidence: confidence,
		Impact:     impact,
		Diagnostics: Diagnostics{Association: &AssociationDiagnostics{
			Phi:         phi,
			Support:     support,
			Correlation: correlation,
			A:           in.Table.A,
			B:           in.Table.B,
			C:           in.Table.C,
			D:           in.Table.D,
		}},
	}
}
