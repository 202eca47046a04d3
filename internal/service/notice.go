package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// Trigger asks the dispatcher for one notice. An empty Channel resolves to the
// primary configured reminder channel; a zero Day means today.
type Trigger struct {
	Channel            models.Channel
	TemplateKey        string
	Variables          []models.NoticeVariable
	RecipientAid       string
	RelatedDealAid     string
	RelatedFinanceFaid string
	TriggeredBy        models.StatusSource
	TriggerReason      models.TriggerReason
	SendAfter          *time.Time
	Day                time.Time
}

// DispatchOutcome tells the caller what happened to a trigger.
type DispatchOutcome string

const (
	OutcomeQueued     DispatchOutcome = "QUEUED"
	OutcomeRequeued   DispatchOutcome = "REQUEUED"
	OutcomeSuppressed DispatchOutcome = "SUPPRESSED"
	OutcomeExhausted  DispatchOutcome = "EXHAUSTED"
	OutcomeSkipped    DispatchOutcome = "SKIPPED"
)

// DispatchResult is the notice a trigger resolved to, if any.
type DispatchResult struct {
	Outcome DispatchOutcome
	Notice  *models.Notice
}

// Dispatcher queues notices exactly once per (finance, reason, template, day).
type Dispatcher struct {
	notices  NoticeStore
	contacts ContactDirectory
	settings SettingsStore
	senders  map[models.Channel]Sender
	log      *logrus.Logger
	now      Clock
}

// NewDispatcher initializes a new dispatcher
func NewDispatcher(notices NoticeStore, contacts ContactDirectory, settings SettingsStore,
	senders map[models.Channel]Sender, log *logrus.Logger, now Clock) *Dispatcher {
	return &Dispatcher{
		notices:  notices,
		contacts: contacts,
		settings: settings,
		senders:  senders,
		log:      log,
		now:      now,
	}
}

func (d *Dispatcher) loadConfig(ctx context.Context) (models.PaymentLimitsConfig, models.NoticeConfig, error) {
	limits, err := loadSetting[models.PaymentLimitsConfig](ctx, d.settings, models.SettingPaymentLimits)
	if err != nil {
		return models.PaymentLimitsConfig{}, models.NoticeConfig{}, err
	}
	notices, err := loadSetting[models.NoticeConfig](ctx, d.settings, models.SettingNotices)
	if err != nil {
		return models.PaymentLimitsConfig{}, models.NoticeConfig{}, err
	}
	return limits, notices, nil
}

// prepare resolves the channel and the day of t.
func (d *Dispatcher) prepare(t Trigger, limits models.PaymentLimitsConfig, notices models.NoticeConfig) (Trigger, bool, error) {
	if t.TemplateKey == "" || t.TriggerReason == "" {
		return t, false, models.ValidationError("notice trigger needs a template key and a reason")
	}
	if _, ok := notices.Templates[t.TemplateKey]; !ok {
		return t, false, nil
	}
	if t.Channel == "" {
		ch, ok := limits.PrimaryChannel()
		if !ok {
			return t, false, models.ConfigurationError("no reminder channel configured for notice %s", t.TemplateKey)
		}
		t.Channel = ch
	}
	if t.TriggeredBy == "" {
		t.TriggeredBy = models.SourceSystem
	}
	if t.Day.IsZero() {
		t.Day = d.now()
	}
	t.Day = models.DateOf(t.Day)
	return t, true, nil
}

// Dispatch queues the notice for t unless the same notice was already queued
// that day. A same-day notice that failed but still has retries left is
// re-queued instead.
func (d *Dispatcher) Dispatch(ctx context.Context, t Trigger) (DispatchResult, error) {
	limits, notices, err := d.loadConfig(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	t, ok, err := d.prepare(t, limits, notices)
	if err != nil {
		return DispatchResult{}, err
	}
	if !ok {
		d.log.WithField("template", t.TemplateKey).Debug("No template configured, notice skipped")
		return DispatchResult{Outcome: OutcomeSkipped}, nil
	}

	key := models.NoticeKey(t.RelatedFinanceFaid, t.RelatedDealAid, t.RecipientAid, t.TriggerReason, t.TemplateKey, t.Day)
	existing, err := d.notices.FindNoticeByKey(ctx, key)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to look up notice: %w", err)
	}
	if existing != nil {
		return d.retryExisting(ctx, *existing, limits, false)
	}

	n := models.NewNotice(t.Channel, t.TemplateKey, t.Variables, t.RecipientAid, t.RelatedDealAid,
		t.RelatedFinanceFaid, t.TriggeredBy, t.TriggerReason, t.SendAfter, d.now())
	n.IdempotencyKey = key
	n.LastTriggeredOn = t.Day

	saved, err := d.notices.EnqueueNotice(ctx, n)
	if errors.Is(err, models.ErrConcurrencyConflict) {
		return DispatchResult{Outcome: OutcomeSuppressed}, nil
	}
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to enqueue notice: %w", err)
	}
	d.log.WithFields(logrus.Fields{
		"finance_faid": t.RelatedFinanceFaid, "reason": t.TriggerReason, "channel": t.Channel,
	}).Infof("Notice queued: %s", t.TemplateKey)
	return DispatchResult{Outcome: OutcomeQueued, Notice: &saved}, nil
}

// Renotify repeats an earlier notice by bumping its retry counter rather than
// creating a new one. It does nothing twice on the same day.
func (d *Dispatcher) Renotify(ctx context.Context, t Trigger) (DispatchResult, error) {
	limits, notices, err := d.loadConfig(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	t, ok, err := d.prepare(t, limits, notices)
	if err != nil {
		return DispatchResult{}, err
	}
	if !ok {
		return DispatchResult{Outcome: OutcomeSkipped}, nil
	}

	latest, err := d.notices.FindLatestNotice(ctx, t.RelatedFinanceFaid, t.TriggerReason, t.TemplateKey)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to look up notice: %w", err)
	}
	if latest == nil {
		return d.Dispatch(ctx, t)
	}
	if latest.LastTriggeredOn.Equal(t.Day) {
		return DispatchResult{Outcome: OutcomeSuppressed, Notice: latest}, nil
	}
	latest.LastTriggeredOn = t.Day
	return d.retryExisting(ctx, *latest, limits, true)
}

// Ensure queues the notice for t only when no notice with the same finance,
// reason and template exists yet. Sweeps use it to recover a notice whose
// enqueue failed after the triggering state change was already saved.
func (d *Dispatcher) Ensure(ctx context.Context, t Trigger) (DispatchResult, error) {
	if t.TemplateKey == "" || t.TriggerReason == "" {
		return DispatchResult{}, models.ValidationError("notice trigger needs a template key and a reason")
	}
	latest, err := d.notices.FindLatestNotice(ctx, t.RelatedFinanceFaid, t.TriggerReason, t.TemplateKey)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to look up notice: %w", err)
	}
	if latest != nil {
		return DispatchResult{Outcome: OutcomeSuppressed, Notice: latest}, nil
	}
	return d.Dispatch(ctx, t)
}

// retryExisting requeues n when it may be retried. always is set for cadence
// repeats, which requeue sent notices too. Cadence repeats and delivery
// retries share RetryCount and the MaxNoticeRetries budget.
func (d *Dispatcher) retryExisting(ctx context.Context, n models.Notice, limits models.PaymentLimitsConfig, always bool) (DispatchResult, error) {
	if !always && n.Status != models.NoticeFailed {
		return DispatchResult{Outcome: OutcomeSuppressed, Notice: &n}, nil
	}
	// An exhausted budget stops further repeats. The delivery status is left
	// alone so a notice the client already received stays SENT.
	if n.Exhausted(limits.MaxNoticeRetries) {
		d.log.WithFields(logrus.Fields{"notice_id": n.ID, "retry_count": n.RetryCount, "status": n.Status}).
			Warn("Notice exhausted its retries, no further repeats")
		return DispatchResult{Outcome: OutcomeExhausted, Notice: &n}, nil
	}

	day := n.LastTriggeredOn
	n.Requeue(d.now())
	n.LastTriggeredOn = day
	if err := d.notices.SaveNotice(ctx, n); err != nil {
		return DispatchResult{}, fmt.Errorf("failed to save notice: %w", err)
	}
	d.log.WithFields(logrus.Fields{"notice_id": n.ID, "retry_count": n.RetryCount}).Info("Notice re-queued")
	return DispatchResult{Outcome: OutcomeRequeued, Notice: &n}, nil
}

// ScheduleReminders queues a payment reminder for each pending installment
// due exactly one configured offset after asOf.
func (s *Service) ScheduleReminders(ctx context.Context, asOf time.Time) (int, error) {
	limits, err := loadSetting[models.PaymentLimitsConfig](ctx, s.settings, models.SettingPaymentLimits)
	if err != nil {
		return 0, err
	}
	if !limits.ReminderEnabled {
		return 0, nil
	}

	day := models.DateOf(asOf)
	queued := 0
	for _, offset := range limits.ReminderDaysBefore {
		due := day.AddDate(0, 0, offset)
		items, err := s.installments.ListPendingDueOn(ctx, due)
		if err != nil {
			return queued, fmt.Errorf("failed to list installments due %s: %w", due.Format(models.DateLayout), err)
		}
		for _, inst := range items {
			if err := ctx.Err(); err != nil {
				return queued, err
			}
			vars := append(installmentVariables(inst), models.NoticeVariable{Key: "days_before", Value: strconv.Itoa(offset)})
			res, err := s.dispatcher.Dispatch(ctx, Trigger{
				TemplateKey:        models.TemplatePaymentReminder,
				Variables:          vars,
				RecipientAid:       inst.ClientAid,
				RelatedDealAid:     inst.DealAid,
				RelatedFinanceFaid: inst.FinanceFaid,
				TriggeredBy:        models.SourceSystem,
				TriggerReason:      models.ReasonPaymentReminder,
				Day:                day,
			})
			if err != nil {
				s.log.WithField("finance_faid", inst.FinanceFaid).Errorf("Failed to queue payment reminder: %v", err)
				continue
			}
			if res.Outcome == OutcomeQueued {
				queued++
			}
		}
	}
	return queued, nil
}

func installmentVariables(inst models.Installment) []models.NoticeVariable {
	penalty := "0.00"
	if inst.Penalty != nil {
		penalty = inst.Penalty.TotalPenaltyAmount.StringFixed(2)
	}
	return []models.NoticeVariable{
		{Key: "payment_number", Value: strconv.Itoa(inst.PaymentNumber)},
		{Key: "payment_date", Value: inst.PaymentDate.Format(models.DateLayout)},
		{Key: "amount", Value: inst.TotalAmount.StringFixed(2)},
		{Key: "penalty", Value: penalty},
	}
}

// DispatchNotice queues an operator-requested notice.
func (s *Service) DispatchNotice(ctx context.Context, t Trigger) (DispatchResult, error) {
	if t.TriggeredBy == "" {
		t.TriggeredBy = models.SourceUser
	}
	return s.dispatcher.Dispatch(ctx, t)
}
