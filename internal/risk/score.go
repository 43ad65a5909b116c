// Package risk holds the weighted risk score shared by the SCA and AML
// assessments, and the screening-based compliance classification both use.
package risk

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"trustledger/internal/platform/config"
)

// Contribution is one factor's share of a score.
type Contribution struct {
	Factor       string  `json:"factor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Result is a score in [0, 1] with the factors that produced it.
type Result struct {
	Score            float64            `json:"score"`
	Factors          map[string]float64 `json:"factors,omitempty"`
	Contributions    []Contribution     `json:"contributions,omitempty"`
	ExemptionApplied bool               `json:"exemptionApplied"`
	ExemptionReason  string             `json:"exemptionReason,omitempty"`
}

// Score sums weight times value over the factors, with each value and the
// total clamped to [0, 1]. Factors without a weight contribute nothing.
// Adding a factor with a positive weight never lowers the score.
func Score(factors, weights map[string]float64) Result {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)

	res := Result{Factors: make(map[string]float64, len(factors))}
	total := 0.0
	for _, name := range names {
		v := clamp(factors[name])
		w := weights[name]
		c := w * v
		total += c
		res.Factors[name] = v
		res.Contributions = append(res.Contributions, Contribution{Factor: name, Value: v, Weight: w, Contribution: c})
	}
	res.Score = clamp(total)
	return res
}

// Exempt returns a terminal result that skipped factor evaluation.
func Exempt(reason string) Result {
	return Result{ExemptionApplied: true, ExemptionReason: reason}
}

// TierValue maps an amount onto ordered tiers: the first tier whose bound
// exceeds the amount wins, anything above every bound is 1.
func TierValue(amount decimal.Decimal, tiers []config.AmountTier) float64 {
	type bound struct {
		below decimal.Decimal
		value float64
	}
	bounds := make([]bound, 0, len(tiers))
	for _, t := range tiers {
		b, err := decimal.NewFromString(t.Below)
		if err != nil {
			continue
		}
		bounds = append(bounds, bound{below: b, value: t.Value})
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].below.LessThan(bounds[j].below) })
	for _, b := range bounds {
		if amount.LessThan(b.below) {
			return b.value
		}
	}
	return 1
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
