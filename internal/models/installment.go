package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusHistoryEntry records one status change of an installment.
type StatusHistoryEntry struct {
	Status PaymentStatus `json:"status"`
	Source StatusSource  `json:"source"`
	At     time.Time     `json:"at"`
	Note   string        `json:"note,omitempty"`
}

// PenaltyInfo is the late-payment penalty accrued on an installment.
type PenaltyInfo struct {
	GraceDaysUsed      int             `json:"grace_days_used"`
	DailyRatePercent   decimal.Decimal `json:"daily_rate_percent"`
	DaysBeyondGrace    int             `json:"days_beyond_grace"`
	TotalPenaltyAmount decimal.Decimal `json:"total_penalty_amount"`
	CalculatedAt       time.Time       `json:"calculated_at"`
	Reason             string          `json:"reason,omitempty"`
	Frozen             bool            `json:"frozen,omitempty"`
	Waived             bool            `json:"waived,omitempty"`
}

// Installment (a "finance" record) is one scheduled payment of a deal.
type Installment struct {
	FinanceFaid             string               `json:"finance_faid"`
	DealAid                 string               `json:"deal_aid"`
	ClientAid               string               `json:"client_aid"`
	PaymentNumber           int                  `json:"payment_number"`
	PaymentDate             time.Time            `json:"payment_date"`
	TotalAmount             decimal.Decimal      `json:"total_amount"`
	PrincipalAmount         decimal.Decimal      `json:"principal_amount"`
	ProfitShareAmount       decimal.Decimal      `json:"profit_share_amount"`
	ServiceFeeAmount        *decimal.Decimal     `json:"service_fee_amount,omitempty"`
	Status                  PaymentStatus        `json:"status"`
	StatusHistory           []StatusHistoryEntry `json:"status_history"`
	Penalty                 *PenaltyInfo         `json:"penalty,omitempty"`
	PreferredPaymentChannel PaymentChannel       `json:"preferred_payment_channel"`
	AutoDebitEnabled        bool                 `json:"auto_debit_enabled"`
	PaidAt                  *time.Time           `json:"paid_at,omitempty"`
	PaidAmount              *decimal.Decimal     `json:"paid_amount,omitempty"`
	Version                 int                  `json:"version"`
	CreatedAt               time.Time            `json:"created_at"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// Fee returns the service fee, zero when absent.
func (i Installment) Fee() decimal.Decimal {
	if i.ServiceFeeAmount == nil {
		return decimal.Zero
	}
	return *i.ServiceFeeAmount
}

// Validate checks the amount split and the status history invariant.
func (i Installment) Validate() error {
	sum := i.PrincipalAmount.Add(i.ProfitShareAmount).Add(i.Fee())
	if !i.TotalAmount.Equal(sum) {
		return ValidationError("installment %s: total %s != principal %s + profit %s + fee %s",
			i.FinanceFaid, i.TotalAmount, i.PrincipalAmount, i.ProfitShareAmount, i.Fee())
	}
	if len(i.StatusHistory) == 0 {
		return ValidationError("installment %s has no status history", i.FinanceFaid)
	}
	if last := i.StatusHistory[len(i.StatusHistory)-1]; last.Status != i.Status {
		return ValidationError("installment %s: status %s disagrees with history %s", i.FinanceFaid, i.Status, last.Status)
	}
	return nil
}

// Due reports whether the installment still expects a payment.
func (i Installment) Due() bool {
	return i.Status != StatusPaid
}

// OverdueDays counts calendar days from the payment date to asOf.
func (i Installment) OverdueDays(asOf time.Time) int {
	return DaysBetween(i.PaymentDate, asOf)
}

// Outstanding is the amount still owed, penalty included.
func (i Installment) Outstanding() decimal.Decimal {
	if i.Status == StatusPaid {
		return decimal.Zero
	}
	owed := i.TotalAmount
	if i.Penalty != nil {
		owed = owed.Add(i.Penalty.TotalPenaltyAmount)
	}
	return owed
}

func (i *Installment) appendStatus(status PaymentStatus, source StatusSource, at time.Time, note string) {
	i.Status = status
	i.StatusHistory = append(i.StatusHistory, StatusHistoryEntry{
		Status: status,
		Source: source,
		At:     at,
		Note:   note,
	})
	i.UpdatedAt = at
}

// MarkPaid moves the installment to PAID. It returns false without error when
// the installment is already paid, so retried payment events are harmless.
func (i *Installment) MarkPaid(amount decimal.Decimal, source StatusSource, at time.Time) (bool, error) {
	if i.Status == StatusPaid {
		return false, nil
	}
	if _, err := ParseStatusSource(string(source)); err != nil {
		return false, err
	}
	if !amount.IsPositive() {
		return false, ValidationError("payment amount must be positive, got %s", amount)
	}
	if amount.LessThan(i.TotalAmount) {
		return false, ValidationError("payment %s does not cover installment %s total %s", amount, i.FinanceFaid, i.TotalAmount)
	}
	paidAt := at
	paid := amount
	i.PaidAt = &paidAt
	i.PaidAmount = &paid
	if i.Penalty != nil {
		i.Penalty.Frozen = true
	}
	i.appendStatus(StatusPaid, source, at, "")
	return true, nil
}

// AccrueOverdue evaluates the installment against the grace window as of asOf.
// It reports whether the status moved to OVERDUE and whether anything changed
// at all (status or penalty amount). Paid installments are never touched.
func (i *Installment) AccrueOverdue(limits PaymentLimitsConfig, asOf time.Time) (transitioned, changed bool) {
	if i.Status == StatusPaid {
		return false, false
	}
	graceEnd := DateOf(i.PaymentDate).AddDate(0, 0, limits.GracePeriodDays)
	beyond := DaysBetween(graceEnd, asOf)
	if beyond <= 0 {
		return false, false
	}

	if i.Status == StatusPending {
		i.appendStatus(StatusOverdue, SourceAutoRule, asOf, "")
		transitioned = true
		changed = true
	}

	if i.Penalty != nil && i.Penalty.Frozen {
		return transitioned, changed
	}
	amount := PenaltyAmount(limits.PenaltyDailyRatePercent, i.TotalAmount, beyond)
	if i.Penalty == nil {
		i.Penalty = &PenaltyInfo{}
	} else if i.Penalty.TotalPenaltyAmount.Equal(amount) && i.Penalty.DaysBeyondGrace == beyond {
		return transitioned, changed
	}
	i.Penalty.GraceDaysUsed = limits.GracePeriodDays
	i.Penalty.DailyRatePercent = limits.PenaltyDailyRatePercent
	i.Penalty.DaysBeyondGrace = beyond
	i.Penalty.TotalPenaltyAmount = amount
	i.Penalty.CalculatedAt = asOf
	i.UpdatedAt = asOf
	return transitioned, true
}

// WaivePenalty zeroes the penalty and stops further accrual.
func (i *Installment) WaivePenalty(reason string, at time.Time) error {
	if reason == "" {
		return ValidationError("penalty waiver requires a reason")
	}
	if i.Penalty == nil {
		return ValidationError("installment %s has no penalty to waive", i.FinanceFaid)
	}
	i.Penalty.TotalPenaltyAmount = decimal.Zero
	i.Penalty.Reason = reason
	i.Penalty.Waived = true
	i.Penalty.Frozen = true
	i.Penalty.CalculatedAt = at
	i.UpdatedAt = at
	return nil
}

// PenaltyAmount is the linear penalty rate/100 * total * days, rounded to cents.
func PenaltyAmount(dailyRatePercent, total decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return dailyRatePercent.
		Div(decimal.NewFromInt(100)).
		Mul(total).
		Mul(decimal.NewFromInt(int64(days))).
		Round(2)
}
