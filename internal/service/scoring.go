package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// Scorer computes applicant scores from the configured weights.
type Scorer struct {
	settings SettingsStore
	log      *logrus.Logger
}

// NewScorer initializes a new scorer
func NewScorer(settings SettingsStore, log *logrus.Logger) *Scorer {
	return &Scorer{settings: settings, log: log}
}

// ScoreApplicant loads the scoring weights and scores input.
func (s *Scorer) ScoreApplicant(ctx context.Context, input models.ScoringInput) (models.ScoreResult, error) {
	cfg, err := loadSetting[models.ScoringConfig](ctx, s.settings, models.SettingScoring)
	if err != nil {
		return models.ScoreResult{}, err
	}
	res, err := Score(cfg, input)
	if err != nil {
		return models.ScoreResult{}, err
	}
	if res.NeedsReview {
		s.log.WithField("score", res.Score).Warn("Score matched no configured tier, classified as HIGH risk")
	}
	return res, nil
}

// Score is the pure scoring function. Applicant input never causes an error;
// only a missing or malformed configuration does.
func Score(cfg models.ScoringConfig, input models.ScoringInput) (models.ScoreResult, error) {
	if err := cfg.Validate(); err != nil {
		return models.ScoreResult{}, err
	}

	score := cfg.InitialScore

	if status := strings.ToLower(strings.TrimSpace(input.MaritalStatus)); status != "" {
		for k, mod := range cfg.MaritalStatus {
			if strings.ToLower(k) == status {
				score += mod
				break
			}
		}
	}

	if input.DeclaredIncome != nil {
		income := *input.DeclaredIncome
		if cfg.HighIncome != nil && income.GreaterThanOrEqual(cfg.HighIncome.Threshold) {
			score += cfg.HighIncome.Modifier
		}
		if cfg.LowIncome != nil && income.LessThan(cfg.LowIncome.Threshold) {
			score += cfg.LowIncome.Modifier
		}
	}

	if cfg.CreditHistory != nil && input.CreditHistory != "" {
		notes := strings.ToLower(input.CreditHistory)
		for _, kw := range cfg.CreditHistory.NegativeKeywords {
			if strings.Contains(notes, strings.ToLower(kw)) {
				score += cfg.CreditHistory.Penalty
				break
			}
		}
	}

	for i := 0; i < input.GuarantorCount && i < len(cfg.GuarantorBonuses); i++ {
		score += cfg.GuarantorBonuses[i]
	}

	if score < 0 {
		score = 0
	}

	res := models.ScoreResult{Score: score}
	switch {
	case cfg.Tiers.Low.Contains(score):
		res.Tier = models.TierLow
	case cfg.Tiers.Medium.Contains(score):
		res.Tier = models.TierMedium
	case cfg.Tiers.High.Contains(score):
		res.Tier = models.TierHigh
	default:
		res.Tier = models.TierHigh
		res.NeedsReview = true
	}
	return res, nil
}

func loadSetting[T models.Setting](ctx context.Context, store SettingsStore, key models.SettingKey) (T, error) {
	var zero T
	s, err := store.LoadSetting(ctx, key)
	if err != nil {
		return zero, err
	}
	v, ok := s.(T)
	if !ok {
		return zero, models.ConfigurationError("setting %s has unexpected type %T", key, s)
	}
	if err := v.Validate(); err != nil {
		return zero, err
	}
	return v, nil
}
