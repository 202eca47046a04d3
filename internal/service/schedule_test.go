package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/models"
)

func TestGenerateScheduleMonthEnds(t *testing.T) {
	f := newFixture(t, date("2025-01-01"))

	res, err := f.service.GenerateSchedule(context.Background(), PaymentScheduleInput{
		DealAid:          "deal-1",
		ClientAid:        "client-1",
		TotalAmount:      decimal.NewFromInt(120000),
		TermMonths:       12,
		FirstPaymentDate: date("2025-01-31"),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 12)

	assert.Equal(t, date("2025-01-31"), res.Items[0].PaymentDate)
	assert.Equal(t, date("2025-02-28"), res.Items[1].PaymentDate)
	assert.Equal(t, date("2025-04-30"), res.Items[3].PaymentDate)
	assert.Equal(t, date("2025-12-31"), res.Items[11].PaymentDate)
	assert.Equal(t, date("2025-12-31"), res.Summary.LastPaymentDate)

	sum := decimal.Zero
	for i, inst := range res.Items {
		sum = sum.Add(inst.TotalAmount)
		assert.Equal(t, i+1, inst.PaymentNumber)
		assert.Equal(t, FinanceFaid("deal-1", i+1), inst.FinanceFaid)
		assert.Equal(t, models.StatusPending, inst.Status)
		require.Len(t, inst.StatusHistory, 1)
		assert.Equal(t, models.SourceSystem, inst.StatusHistory[0].Source)
		assert.Equal(t, models.PaymentBankTransfer, inst.PreferredPaymentChannel)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(120000)), "sum %s", sum)
	assert.True(t, res.Summary.FinancedAmount.Equal(decimal.NewFromInt(120000)))
}

func TestGenerateScheduleRemainderInLastInstallment(t *testing.T) {
	f := newFixture(t, date("2025-03-01"))
	upfront := decimal.RequireFromString("20000.00")

	res, err := f.service.GenerateSchedule(context.Background(), PaymentScheduleInput{
		DealAid:          "deal-2",
		TotalAmount:      decimal.NewFromInt(120000),
		UpfrontAmount:    &upfront,
		TermMonths:       12,
		FirstPaymentDate: date("2025-03-15"),
	})
	require.NoError(t, err)

	sum := decimal.Zero
	for _, inst := range res.Items[:11] {
		assert.Equal(t, "8333.33", inst.TotalAmount.StringFixed(2))
		sum = sum.Add(inst.TotalAmount)
	}
	last := res.Items[11]
	assert.Equal(t, "8333.37", last.TotalAmount.StringFixed(2))
	sum = sum.Add(last.TotalAmount)
	assert.True(t, sum.Equal(decimal.NewFromInt(100000)), "sum %s", sum)

	for _, inst := range res.Items {
		assert.NoError(t, inst.Validate())
	}
	assert.True(t, res.Summary.TotalPrincipal.Add(res.Summary.TotalProfitShare).Add(res.Summary.TotalServiceFee).
		Equal(decimal.NewFromInt(100000)))
}

func TestGenerateScheduleSplitsFeeAndProfit(t *testing.T) {
	limits := models.PaymentLimitsConfig{
		MinAmount:        decimal.NewFromInt(1000),
		MaxAmount:        decimal.NewFromInt(50000),
		ProfitShareRatio: decimal.RequireFromString("0.15"),
		ServiceFeeAmount: decimal.RequireFromString("99.99"),
	}
	res, err := GenerateSchedule(PaymentScheduleInput{
		DealAid:          "deal-3",
		TotalAmount:      decimal.RequireFromString("10000.01"),
		TermMonths:       7,
		FirstPaymentDate: date("2025-06-01"),
		PaymentMethod:    models.PaymentAutoDebit,
		Limits:           limits,
	}, date("2025-05-20"))
	require.NoError(t, err)

	for _, inst := range res.Items {
		require.NotNil(t, inst.ServiceFeeAmount)
		assert.Equal(t, "99.99", inst.ServiceFeeAmount.StringFixed(2))
		assert.True(t, inst.AutoDebitEnabled)
		assert.NoError(t, inst.Validate(), "installment %d", inst.PaymentNumber)
		assert.True(t, inst.ProfitShareAmount.Equal(inst.ProfitShareAmount.Round(2)))
	}
}

func TestGenerateScheduleValidation(t *testing.T) {
	now := date("2025-01-10")
	base := func() PaymentScheduleInput {
		return PaymentScheduleInput{
			DealAid:          "deal-1",
			TotalAmount:      decimal.NewFromInt(12000),
			TermMonths:       12,
			FirstPaymentDate: date("2025-02-01"),
			Limits: models.PaymentLimitsConfig{
				MinAmount: decimal.NewFromInt(3000),
				MaxAmount: decimal.NewFromInt(300000),
			},
		}
	}
	negativeUpfront := decimal.NewFromInt(-1)
	fullUpfront := decimal.NewFromInt(12000)

	tests := []struct {
		name   string
		modify func(*PaymentScheduleInput)
	}{
		{"below minimum", func(in *PaymentScheduleInput) { in.TotalAmount = decimal.NewFromInt(2999) }},
		{"above maximum", func(in *PaymentScheduleInput) { in.TotalAmount = decimal.NewFromInt(300001) }},
		{"three decimal places", func(in *PaymentScheduleInput) { in.TotalAmount = decimal.RequireFromString("12000.001") }},
		{"negative term", func(in *PaymentScheduleInput) { in.TermMonths = -1 }},
		{"zero term without default", func(in *PaymentScheduleInput) { in.TermMonths = 0 }},
		{"first payment in the past", func(in *PaymentScheduleInput) { in.FirstPaymentDate = date("2025-01-09") }},
		{"missing first payment", func(in *PaymentScheduleInput) { in.FirstPaymentDate = time.Time{} }},
		{"negative upfront", func(in *PaymentScheduleInput) { in.UpfrontAmount = &negativeUpfront }},
		{"upfront covers everything", func(in *PaymentScheduleInput) { in.UpfrontAmount = &fullUpfront }},
		{"unknown payment method", func(in *PaymentScheduleInput) { in.PaymentMethod = "CHEQUE" }},
		{"missing deal", func(in *PaymentScheduleInput) { in.DealAid = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.modify(&in)
			_, err := GenerateSchedule(in, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
		})
	}

	t.Run("first payment today is accepted", func(t *testing.T) {
		in := base()
		in.FirstPaymentDate = now
		_, err := GenerateSchedule(in, now.Add(15*time.Hour))
		assert.NoError(t, err)
	})

	t.Run("zero term falls back to the configured default", func(t *testing.T) {
		in := base()
		in.TermMonths = 0
		in.Limits.DefaultTermMonths = 6
		res, err := GenerateSchedule(in, now)
		require.NoError(t, err)
		assert.Len(t, res.Items, 6)
	})
}

func TestActivateSchedule(t *testing.T) {
	f := newFixture(t, date("2025-01-01"))
	f.store.deals["deal-9"] = models.Deal{
		DealAid:       "deal-9",
		ClientAid:     "client-9",
		ProductPrice:  decimal.NewFromInt(60000),
		UpfrontAmount: decimal.NewFromInt(12000),
		TermMonths:    6,
		PaymentMethod: models.PaymentCard,
	}
	ctx := context.Background()

	res, err := f.service.ActivateSchedule(ctx, PaymentScheduleInput{DealAid: "deal-9", FirstPaymentDate: date("2025-02-05")})
	require.NoError(t, err)
	require.Len(t, res.Items, 6)
	assert.Equal(t, "8000.00", res.Items[0].TotalAmount.StringFixed(2))
	assert.Equal(t, "client-9", res.Items[0].ClientAid)
	assert.Equal(t, models.PaymentCard, res.Items[0].PreferredPaymentChannel)

	stored, err := f.store.LoadInstallments(ctx, "deal-9")
	require.NoError(t, err)
	assert.Len(t, stored, 6)

	_, err = f.service.ActivateSchedule(ctx, PaymentScheduleInput{DealAid: "deal-9", FirstPaymentDate: date("2025-02-05")})
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = f.service.ActivateSchedule(ctx, PaymentScheduleInput{DealAid: "missing", FirstPaymentDate: date("2025-02-05")})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
