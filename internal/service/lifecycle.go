package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// EntityError is a per-installment failure inside a sweep.
type EntityError struct {
	FinanceFaid string `json:"finance_faid"`
	Error       string `json:"error"`
}

// EvaluationResult is the outcome of one overdue sweep.
type EvaluationResult struct {
	Transitioned     []models.Installment    `json:"transitioned"`
	GoalsUpdated     []models.CollectionGoal `json:"goals_updated"`
	PenaltiesUpdated int                     `json:"penalties_updated"`
	NoticesQueued    int                     `json:"notices_queued"`
	Failed           []EntityError           `json:"failed,omitempty"`
}

// ScoreApplicant scores an applicant against the configured weights.
func (s *Service) ScoreApplicant(ctx context.Context, input models.ScoringInput) (models.ScoreResult, error) {
	return s.scorer.ScoreApplicant(ctx, input)
}

// RecordPayment marks an installment PAID. Paying an installment twice
// returns it unchanged. Any open collection goal of the installment is closed.
func (s *Service) RecordPayment(ctx context.Context, financeFaid string, amount decimal.Decimal, source models.StatusSource) (models.Installment, error) {
	var (
		inst    models.Installment
		changed bool
	)
	err := retryOnConflict(func(int) error {
		var err error
		inst, err = s.installments.FindInstallment(ctx, financeFaid)
		if err != nil {
			return err
		}
		changed, err = inst.MarkPaid(amount, source, s.now())
		if err != nil || !changed {
			return err
		}
		return s.installments.SaveInstallment(ctx, &inst)
	})
	if err != nil {
		return models.Installment{}, err
	}

	log := s.log.WithFields(logrus.Fields{"deal_aid": inst.DealAid, "finance_faid": inst.FinanceFaid})
	if changed {
		log.Infof("Installment paid: %s via %s", amount.StringFixed(2), source)
	}

	// Also runs on the no-op path so a retried payment closes a goal an
	// earlier attempt failed to close.
	_, err = s.escalator.Close(ctx, inst.DealAid, inst.FinanceFaid, "installment paid")
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return inst, fmt.Errorf("failed to close collection goal: %w", err)
	}
	return inst, nil
}

// WaivePenalty records an explicit penalty waiver.
func (s *Service) WaivePenalty(ctx context.Context, financeFaid, reason string) (models.Installment, error) {
	var inst models.Installment
	err := retryOnConflict(func(int) error {
		var err error
		inst, err = s.installments.FindInstallment(ctx, financeFaid)
		if err != nil {
			return err
		}
		if err := inst.WaivePenalty(reason, s.now()); err != nil {
			return err
		}
		return s.installments.SaveInstallment(ctx, &inst)
	})
	if err != nil {
		return models.Installment{}, err
	}
	s.log.WithField("finance_faid", financeFaid).Infof("Penalty waived: %s", reason)
	return inst, nil
}

// EvaluateOverdue is the daily sweep. Every unpaid installment past its grace
// window becomes OVERDUE, has its penalty recomputed and is handed to the
// escalation engine. Running it twice for the same asOf changes nothing the
// second time. A failing installment is reported and the sweep continues;
// cancellation stops it between installments.
func (s *Service) EvaluateOverdue(ctx context.Context, asOf time.Time) (EvaluationResult, error) {
	var res EvaluationResult
	limits, err := loadSetting[models.PaymentLimitsConfig](ctx, s.settings, models.SettingPaymentLimits)
	if err != nil {
		return res, err
	}
	collection, err := loadSetting[models.CollectionConfig](ctx, s.settings, models.SettingCollection)
	if err != nil {
		return res, err
	}

	day := models.DateOf(asOf)
	cutoff := day.AddDate(0, 0, -limits.GracePeriodDays)
	items, err := s.installments.ListUnpaidInstallments(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to list unpaid installments: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DealAid != items[j].DealAid {
			return items[i].DealAid < items[j].DealAid
		}
		return items[i].PaymentNumber < items[j].PaymentNumber
	})

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.evaluateOne(ctx, item, limits, collection, day, &res); err != nil {
			if errors.Is(err, models.ErrConfiguration) {
				return res, err
			}
			s.log.WithField("finance_faid", item.FinanceFaid).Errorf("Overdue evaluation failed: %v", err)
			res.Failed = append(res.Failed, EntityError{FinanceFaid: item.FinanceFaid, Error: err.Error()})
		}
	}

	s.log.WithField("as_of", day.Format(models.DateLayout)).Infof(
		"Overdue sweep done: %d transitioned, %d penalties updated, %d goals updated, %d failed",
		len(res.Transitioned), res.PenaltiesUpdated, len(res.GoalsUpdated), len(res.Failed))
	return res, nil
}

func (s *Service) evaluateOne(ctx context.Context, item models.Installment, limits models.PaymentLimitsConfig,
	collection models.CollectionConfig, day time.Time, res *EvaluationResult) error {
	var (
		inst                  models.Installment
		transitioned, changed bool
	)
	err := retryOnConflict(func(attempt int) error {
		inst = item
		if attempt > 0 {
			fresh, err := s.installments.FindInstallment(ctx, item.FinanceFaid)
			if err != nil {
				return err
			}
			inst = fresh
		}
		transitioned, changed = inst.AccrueOverdue(limits, day)
		if !changed {
			return nil
		}
		return s.installments.SaveInstallment(ctx, &inst)
	})
	if err != nil {
		return err
	}
	if inst.Status != models.StatusOverdue {
		return nil
	}

	if transitioned {
		res.Transitioned = append(res.Transitioned, inst)
		s.log.WithFields(logrus.Fields{"deal_aid": inst.DealAid, "finance_faid": inst.FinanceFaid}).
			Warnf("Installment overdue, penalty %s", inst.Penalty.TotalPenaltyAmount.StringFixed(2))
	} else if changed {
		res.PenaltiesUpdated++
	}

	trigger := Trigger{
		TemplateKey:        models.TemplateDebtCollection,
		Variables:          installmentVariables(inst),
		RecipientAid:       inst.ClientAid,
		RelatedDealAid:     inst.DealAid,
		RelatedFinanceFaid: inst.FinanceFaid,
		TriggeredBy:        models.SourceAutoRule,
		TriggerReason:      models.ReasonDebtCollection,
		Day:                day,
	}
	var dispatch DispatchResult
	switch {
	case transitioned:
		dispatch, err = s.dispatcher.Dispatch(ctx, trigger)
	case dueForRenotice(inst, limits):
		dispatch, err = s.dispatcher.Renotify(ctx, trigger)
	default:
		dispatch, err = s.dispatcher.Ensure(ctx, trigger)
	}
	if err != nil {
		return fmt.Errorf("failed to queue overdue notice: %w", err)
	}
	if dispatch.Outcome == OutcomeQueued || dispatch.Outcome == OutcomeRequeued {
		res.NoticesQueued++
	}

	goal, goalChanged, err := s.escalator.Escalate(ctx, collection, OverdueEvent{
		DealAid:     inst.DealAid,
		FinanceFaid: inst.FinanceFaid,
		ClientAid:   inst.ClientAid,
		OverdueDays: inst.OverdueDays(day),
		Day:         day,
		Variables:   installmentVariables(inst),
	})
	if goalChanged {
		res.GoalsUpdated = append(res.GoalsUpdated, goal)
	}
	return err
}

// dueForRenotice reports whether today falls on the overdue notice cadence.
func dueForRenotice(inst models.Installment, limits models.PaymentLimitsConfig) bool {
	if limits.OverdueNoticeEveryDays <= 0 || inst.Penalty == nil {
		return false
	}
	days := inst.Penalty.DaysBeyondGrace
	return days > 1 && (days-1)%limits.OverdueNoticeEveryDays == 0
}

// DealDebtSummary reports what a deal still owes. The schedule is
// authoritative; without one the product price is reported and the summary
// is flagged as degraded.
func (s *Service) DealDebtSummary(ctx context.Context, dealAid string) (models.DebtSummary, error) {
	items, err := s.installments.LoadInstallments(ctx, dealAid)
	if err != nil {
		return models.DebtSummary{}, fmt.Errorf("failed to load installments: %w", err)
	}
	sum := models.DebtSummary{DealAid: dealAid, TotalDebt: decimal.Zero}

	if len(items) == 0 {
		deal, err := s.deals.FindDeal(ctx, dealAid)
		if err != nil {
			return models.DebtSummary{}, err
		}
		sum.TotalDebt = deal.ProductPrice.Sub(deal.UpfrontAmount)
		sum.Degraded = true
		s.log.WithField("deal_aid", dealAid).Warn("Deal has no payment schedule, debt derived from product price")
		return sum, nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].PaymentNumber < items[j].PaymentNumber })
	for i := range items {
		inst := items[i]
		if !inst.Due() {
			continue
		}
		sum.TotalDebt = sum.TotalDebt.Add(inst.Outstanding())
		if inst.Status == models.StatusOverdue {
			sum.Overdue++
		}
		if sum.NextPayment == nil {
			sum.NextPayment = &inst
		}
	}
	return sum, nil
}
