package models

import "github.com/shopspring/decimal"

// ScoringInput holds the applicant attributes declared on a loan application.
// Every field is optional; a missing value contributes no modifier.
type ScoringInput struct {
	MaritalStatus  string           `json:"marital_status,omitempty"`
	DeclaredIncome *decimal.Decimal `json:"declared_income,omitempty"`
	CreditHistory  string           `json:"credit_history,omitempty"`
	GuarantorCount int              `json:"guarantor_count,omitempty"`
}

// ScoreResult is attached to the application at decision time.
type ScoreResult struct {
	Score       int      `json:"score"`
	Tier        RiskTier `json:"tier"`
	NeedsReview bool     `json:"needs_review,omitempty"`
}

// IncomeBucket adds Modifier when the declared income falls on its side of Threshold.
type IncomeBucket struct {
	Threshold decimal.Decimal `json:"threshold" yaml:"threshold"`
	Modifier  int             `json:"modifier" yaml:"modifier"`
}

// CreditHistoryRule applies Penalty once when any keyword occurs in the notes.
type CreditHistoryRule struct {
	NegativeKeywords []string `json:"negative_keywords" yaml:"negative_keywords"`
	Penalty          int      `json:"penalty" yaml:"penalty"`
}

// ScoreRange bounds a tier. Nil ends are open.
type ScoreRange struct {
	Min *int `json:"min,omitempty" yaml:"min,omitempty"`
	Max *int `json:"max,omitempty" yaml:"max,omitempty"`
}

// Contains reports whether score falls in the range.
func (r ScoreRange) Contains(score int) bool {
	if r.Min != nil && score < *r.Min {
		return false
	}
	if r.Max != nil && score > *r.Max {
		return false
	}
	return true
}

// TierThresholds maps scores to tiers. Low risk means a high score.
type TierThresholds struct {
	Low    ScoreRange `json:"low" yaml:"low"`
	Medium ScoreRange `json:"medium" yaml:"medium"`
	High   ScoreRange `json:"high" yaml:"high"`
}

// ScoringConfig is the weight and threshold set used by the scoring engine.
type ScoringConfig struct {
	InitialScore     int                `json:"initial_score" yaml:"initial_score"`
	MaritalStatus    map[string]int     `json:"marital_status" yaml:"marital_status"`
	HighIncome       *IncomeBucket      `json:"high_income,omitempty" yaml:"high_income,omitempty"`
	LowIncome        *IncomeBucket      `json:"low_income,omitempty" yaml:"low_income,omitempty"`
	CreditHistory    *CreditHistoryRule `json:"credit_history,omitempty" yaml:"credit_history,omitempty"`
	GuarantorBonuses []int              `json:"guarantor_bonuses" yaml:"guarantor_bonuses"`
	Tiers            TierThresholds     `json:"tiers" yaml:"tiers"`
}

// Validate checks that the configuration is complete enough to score with.
func (c ScoringConfig) Validate() error {
	if c.InitialScore < 0 {
		return ConfigurationError("scoring initial_score must be non-negative, got %d", c.InitialScore)
	}
	if c.Tiers.Low.Min == nil {
		return ConfigurationError("scoring tiers.low.min is required")
	}
	if c.Tiers.Medium.Min == nil || c.Tiers.Medium.Max == nil {
		return ConfigurationError("scoring tiers.medium.min and tiers.medium.max are required")
	}
	if c.Tiers.High.Max == nil {
		return ConfigurationError("scoring tiers.high.max is required")
	}
	if *c.Tiers.Medium.Min > *c.Tiers.Medium.Max {
		return ConfigurationError("scoring tiers.medium is empty: min %d > max %d", *c.Tiers.Medium.Min, *c.Tiers.Medium.Max)
	}
	if *c.Tiers.High.Max >= *c.Tiers.Medium.Min || *c.Tiers.Medium.Max >= *c.Tiers.Low.Min {
		return ConfigurationError("scoring tiers overlap")
	}
	if c.HighIncome != nil && c.LowIncome != nil && c.LowIncome.Threshold.GreaterThan(c.HighIncome.Threshold) {
		return ConfigurationError("scoring income thresholds overlap: low %s > high %s",
			c.LowIncome.Threshold, c.HighIncome.Threshold)
	}
	if c.CreditHistory != nil {
		for _, kw := range c.CreditHistory.NegativeKeywords {
			if kw == "" {
				return ConfigurationError("scoring credit_history contains an empty keyword")
			}
		}
	}
	return nil
}
