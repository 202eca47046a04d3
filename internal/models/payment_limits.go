package models

import "github.com/shopspring/decimal"

// PaymentLimitsConfig bounds schedule generation and drives penalty accrual
// and reminder timing.
type PaymentLimitsConfig struct {
	MinAmount               decimal.Decimal `json:"min_amount" yaml:"min_amount"`
	MaxAmount               decimal.Decimal `json:"max_amount" yaml:"max_amount"`
	DefaultTermMonths       int             `json:"default_term_months" yaml:"default_term_months"`
	GracePeriodDays         int             `json:"grace_period_days" yaml:"grace_period_days"`
	PenaltyDailyRatePercent decimal.Decimal `json:"penalty_daily_rate_percent" yaml:"penalty_daily_rate_percent"`
	// ProfitShareRatio is the share of each installment (net of fees) booked as profit.
	ProfitShareRatio   decimal.Decimal `json:"profit_share_ratio" yaml:"profit_share_ratio"`
	ServiceFeeAmount   decimal.Decimal `json:"service_fee_amount" yaml:"service_fee_amount"`
	ReminderEnabled    bool            `json:"reminder_enabled" yaml:"reminder_enabled"`
	ReminderDaysBefore []int           `json:"reminder_days_before" yaml:"reminder_days_before"`
	ReminderChannels   []Channel       `json:"reminder_channels" yaml:"reminder_channels"`
	// OverdueNoticeEveryDays re-sends the overdue notice every N days; 0 disables it.
	OverdueNoticeEveryDays int `json:"overdue_notice_every_days" yaml:"overdue_notice_every_days"`
	MaxNoticeRetries       int `json:"max_notice_retries" yaml:"max_notice_retries"`
}

// Validate enforces the configuration invariants.
func (c PaymentLimitsConfig) Validate() error {
	if !c.MinAmount.LessThan(c.MaxAmount) {
		return ConfigurationError("payment limits: min_amount %s must be below max_amount %s", c.MinAmount, c.MaxAmount)
	}
	if c.MinAmount.IsNegative() {
		return ConfigurationError("payment limits: min_amount must be non-negative")
	}
	if c.GracePeriodDays < 0 {
		return ConfigurationError("payment limits: grace_period_days must be non-negative, got %d", c.GracePeriodDays)
	}
	if c.PenaltyDailyRatePercent.IsNegative() {
		return ConfigurationError("payment limits: penalty_daily_rate_percent must be non-negative")
	}
	if c.ProfitShareRatio.IsNegative() || c.ProfitShareRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ConfigurationError("payment limits: profit_share_ratio must be in [0, 1), got %s", c.ProfitShareRatio)
	}
	if c.ServiceFeeAmount.IsNegative() {
		return ConfigurationError("payment limits: service_fee_amount must be non-negative")
	}
	if c.DefaultTermMonths < 0 {
		return ConfigurationError("payment limits: default_term_months must be non-negative")
	}
	for _, d := range c.ReminderDaysBefore {
		if d <= 0 {
			return ConfigurationError("payment limits: reminder_days_before entries must be positive, got %d", d)
		}
	}
	if c.ReminderEnabled && len(c.ReminderChannels) == 0 {
		return ConfigurationError("payment limits: reminders enabled without reminder_channels")
	}
	for _, ch := range c.ReminderChannels {
		if _, err := ParseChannel(string(ch)); err != nil {
			return ConfigurationError("payment limits: %v", err)
		}
	}
	if c.OverdueNoticeEveryDays < 0 || c.MaxNoticeRetries < 0 {
		return ConfigurationError("payment limits: notice cadence and retry limits must be non-negative")
	}
	return nil
}

// PrimaryChannel is the channel used when a notice trigger names none.
func (c PaymentLimitsConfig) PrimaryChannel() (Channel, bool) {
	if len(c.ReminderChannels) == 0 {
		return "", false
	}
	return c.ReminderChannels[0], true
}
