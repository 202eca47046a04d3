package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/models"
)

func debtTrigger(day string) Trigger {
	return Trigger{
		TemplateKey:        models.TemplateDebtCollection,
		Variables:          []models.NoticeVariable{{Key: "amount", Value: "10000.00"}},
		RecipientAid:       "client-1",
		RelatedDealAid:     "deal-1",
		RelatedFinanceFaid: "deal-1-001",
		TriggerReason:      models.ReasonDebtCollection,
		Day:                date(day),
	}
}

func TestDispatchSuppressesSameDayDuplicates(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	d := f.service.dispatcher
	ctx := context.Background()

	res, err := d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, models.SourceSystem, res.Notice.TriggeredBy)
	assert.Equal(t, models.ChannelSMS, res.Notice.Channel)
	assert.Zero(t, res.Notice.RetryCount)

	res, err = d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, res.Outcome)
	assert.Len(t, f.store.noticesFor("deal-1-001", models.ReasonDebtCollection), 1)

	res, err = d.Dispatch(ctx, debtTrigger("2025-01-15"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Len(t, f.store.noticesFor("deal-1-001", models.ReasonDebtCollection), 2)
}

func TestDispatchRequeuesFailedNotice(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	d := f.service.dispatcher
	ctx := context.Background()

	res, err := d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	failed := *res.Notice
	failed.Status = models.NoticeFailed
	failed.RetryCount = 1
	require.NoError(t, f.store.SaveNotice(ctx, failed))

	res, err = d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, res.Outcome)
	assert.Equal(t, models.NoticeQueued, res.Notice.Status)
	assert.Equal(t, 2, res.Notice.RetryCount)

	failed = *res.Notice
	failed.Status = models.NoticeFailed
	failed.RetryCount = 3
	require.NoError(t, f.store.SaveNotice(ctx, failed))

	res, err = d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, models.NoticeFailed, res.Notice.Status)
}

func TestDispatchTriggers(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	d := f.service.dispatcher
	ctx := context.Background()

	t.Run("unknown template is skipped", func(t *testing.T) {
		tr := debtTrigger("2025-01-14")
		tr.TemplateKey = "collection_UNKNOWN"
		res, err := d.Dispatch(ctx, tr)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
	})

	t.Run("trigger without reason is rejected", func(t *testing.T) {
		tr := debtTrigger("2025-01-14")
		tr.TriggerReason = ""
		_, err := d.Dispatch(ctx, tr)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("explicit channel and default day", func(t *testing.T) {
		tr := debtTrigger("2025-01-14")
		tr.RelatedFinanceFaid = "deal-1-002"
		tr.Channel = models.ChannelEmail
		tr.Day = time.Time{}
		res, err := d.Dispatch(ctx, tr)
		require.NoError(t, err)
		assert.Equal(t, models.ChannelEmail, res.Notice.Channel)
		assert.Equal(t, date("2025-01-14"), res.Notice.LastTriggeredOn)
	})
}

func TestRenotifyExhaustsRetries(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	d := f.service.dispatcher
	ctx := context.Background()

	res, err := d.Renotify(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	days := []string{"2025-01-21", "2025-01-28", "2025-02-04"}
	for i, day := range days {
		res, err = d.Renotify(ctx, debtTrigger(day))
		require.NoError(t, err)
		assert.Equal(t, OutcomeRequeued, res.Outcome)
		assert.Equal(t, i+1, res.Notice.RetryCount)

		delivered := *res.Notice
		delivered.Status = models.NoticeSent
		require.NoError(t, f.store.SaveNotice(ctx, delivered))
	}

	res, err = d.Renotify(ctx, debtTrigger("2025-02-11"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	notices := f.store.noticesFor("deal-1-001", models.ReasonDebtCollection)
	require.Len(t, notices, 1)
	assert.Equal(t, models.NoticeSent, notices[0].Status, "a delivered notice is not marked failed when repeats run out")
	assert.Equal(t, 3, notices[0].RetryCount)
}

func TestDispatchKeepsRecipientsApartWithoutFinance(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	d := f.service.dispatcher
	ctx := context.Background()

	trigger := func(recipient string) Trigger {
		tr := debtTrigger("2025-01-14")
		tr.RelatedFinanceFaid = ""
		tr.RelatedDealAid = ""
		tr.RecipientAid = recipient
		return tr
	}

	res, err := d.Dispatch(ctx, trigger("client-A"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	res, err = d.Dispatch(ctx, trigger("client-B"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, "client-B", res.Notice.RecipientAid)

	res, err = d.Dispatch(ctx, trigger("client-A"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, res.Outcome)
	assert.Len(t, f.store.noticesFor("", models.ReasonDebtCollection), 2)
}

func TestScheduleReminders(t *testing.T) {
	f := newFixture(t, at("2025-01-10", 9))
	f.store.put(
		scheduled("deal-1", 1, "2025-01-13", 10000),
		scheduled("deal-1", 2, "2025-02-13", 10000),
		scheduled("deal-2", 1, "2025-01-11", 5000),
	)
	ctx := context.Background()

	queued, err := f.service.ScheduleReminders(ctx, date("2025-01-10"))
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	queued, err = f.service.ScheduleReminders(ctx, date("2025-01-10"))
	require.NoError(t, err)
	assert.Zero(t, queued)

	reminders := f.store.noticesFor("deal-1-001", models.ReasonPaymentReminder)
	require.Len(t, reminders, 1)
	vars := reminders[0].Vars()
	assert.Equal(t, "3", vars["days_before"])
	assert.Equal(t, "2025-01-13", vars["payment_date"])
	assert.Equal(t, "10000.00", vars["amount"])

	f.clock.Set(at("2025-01-12", 9))
	queued, err = f.service.ScheduleReminders(ctx, date("2025-01-12"))
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Len(t, f.store.noticesFor("deal-1-001", models.ReasonPaymentReminder), 2)
}

func TestScheduleRemindersDisabled(t *testing.T) {
	f := newFixture(t, at("2025-01-10", 9))
	limits := f.store.settings[models.SettingPaymentLimits].(models.PaymentLimitsConfig)
	limits.ReminderEnabled = false
	f.store.settings[models.SettingPaymentLimits] = limits
	f.store.put(scheduled("deal-1", 1, "2025-01-13", 10000))

	queued, err := f.service.ScheduleReminders(context.Background(), date("2025-01-10"))
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestDeliverQueued(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	f.store.contacts["client-1"] = models.Contact{ClientAid: "client-1", Name: "Amina", Phone: "+70000000000"}
	d := f.service.dispatcher
	ctx := context.Background()

	tr := debtTrigger("2025-01-14")
	tr.Variables = installmentVariables(scheduled("deal-1", 1, "2025-01-10", 10000))
	_, err := d.Dispatch(ctx, tr)
	require.NoError(t, err)

	res, err := d.DeliverQueued(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, f.sms.sent, 1)
	msg := f.sms.sent[0]
	assert.Equal(t, "Overdue installment payment", msg.Subject)
	assert.Contains(t, msg.Body, "Dear Amina,")
	assert.Contains(t, msg.Body, "Installment #1 of 10000.00 was due on 2025-01-10")
	assert.Equal(t, "+70000000000", msg.To.Phone)

	notices := f.store.noticesFor("deal-1-001", models.ReasonDebtCollection)
	require.Len(t, notices, 1)
	assert.Equal(t, models.NoticeSent, notices[0].Status)

	res, err = d.DeliverQueued(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
}

func TestDeliverQueuedRetriesThenFails(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	f.store.contacts["client-1"] = models.Contact{ClientAid: "client-1", Name: "Amina"}
	f.sms.err = errors.New("gateway unavailable")
	d := f.service.dispatcher
	ctx := context.Background()

	_, err := d.Dispatch(ctx, debtTrigger("2025-01-14"))
	require.NoError(t, err)

	for attempt := 1; attempt < 3; attempt++ {
		res, err := d.DeliverQueued(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retried, "attempt %d", attempt)

		// The retry is not due until the backoff has passed.
		res, err = d.DeliverQueued(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, res.Retried)
		f.clock.Set(f.clock.Now().Add(time.Hour))
	}

	res, err := d.DeliverQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].RetryCount)
	assert.Equal(t, "gateway unavailable", res.Failed[0].LastError)

	notices := f.store.noticesFor("deal-1-001", models.ReasonDebtCollection)
	require.Len(t, notices, 1)
	assert.Equal(t, models.NoticeFailed, notices[0].Status)

	res, err = d.DeliverQueued(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Zero(t, res.Retried)
}

func TestDeliverQueuedWithoutSender(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))
	f.store.contacts["client-1"] = models.Contact{ClientAid: "client-1", Name: "Amina"}
	d := f.service.dispatcher
	ctx := context.Background()

	tr := debtTrigger("2025-01-14")
	tr.Channel = models.ChannelTelegram
	_, err := d.Dispatch(ctx, tr)
	require.NoError(t, err)

	res, err := d.DeliverQueued(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	notices := f.store.noticesFor("deal-1-001", models.ReasonDebtCollection)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].LastError, "no sender for channel TELEGRAM")
}

func TestDispatchNoticeDefaultsToUserSource(t *testing.T) {
	f := newFixture(t, at("2025-01-14", 9))

	trigger := debtTrigger("2025-01-14")
	trigger.Channel = models.ChannelEmail
	res, err := f.service.DispatchNotice(context.Background(), trigger)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, models.SourceUser, res.Notice.TriggeredBy)
	assert.Equal(t, models.ChannelEmail, res.Notice.Channel)
}
