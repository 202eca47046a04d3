package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// PaymentScheduleInput describes the loan a schedule is generated for.
// A zero Limits value means "use the configured payment limits".
type PaymentScheduleInput struct {
	DealAid          string                     `json:"deal_aid"`
	ClientAid        string                     `json:"client_aid"`
	TotalAmount      decimal.Decimal            `json:"total_amount"`
	UpfrontAmount    *decimal.Decimal           `json:"upfront_amount,omitempty"`
	TermMonths       int                        `json:"term_months"`
	FirstPaymentDate time.Time                  `json:"first_payment_date"`
	PaymentMethod    models.PaymentChannel      `json:"payment_method"`
	AutoDebitEnabled bool                       `json:"auto_debit_enabled"`
	Limits           models.PaymentLimitsConfig `json:"-"`
}

// ScheduleSummary aggregates a generated schedule.
type ScheduleSummary struct {
	TotalInstallments int             `json:"total_installments"`
	FinancedAmount    decimal.Decimal `json:"financed_amount"`
	TotalPrincipal    decimal.Decimal `json:"total_principal"`
	TotalProfitShare  decimal.Decimal `json:"total_profit_share"`
	TotalServiceFee   decimal.Decimal `json:"total_service_fee"`
	FirstPaymentDate  time.Time       `json:"first_payment_date"`
	LastPaymentDate   time.Time       `json:"last_payment_date"`
	NextPaymentDate   time.Time       `json:"next_payment_date"`
}

// PaymentScheduleResult is the generated schedule plus its summary.
type PaymentScheduleResult struct {
	Items   []models.Installment `json:"items"`
	Summary ScheduleSummary      `json:"summary"`
}

// FinanceFaid is the id of installment number n of a deal.
func FinanceFaid(dealAid string, n int) string {
	return fmt.Sprintf("%s-%03d", dealAid, n)
}

// GenerateSchedule splits the financed amount into monthly installments.
// The result is deterministic for a given input and now.
func GenerateSchedule(in PaymentScheduleInput, now time.Time) (PaymentScheduleResult, error) {
	limits := in.Limits
	if err := limits.Validate(); err != nil {
		return PaymentScheduleResult{}, err
	}
	if in.DealAid == "" {
		return PaymentScheduleResult{}, models.ValidationError("deal id is required")
	}
	if !in.TotalAmount.Equal(in.TotalAmount.Round(2)) {
		return PaymentScheduleResult{}, models.ValidationError("total amount %s has more than 2 decimal places", in.TotalAmount)
	}
	if in.TotalAmount.LessThan(limits.MinAmount) || in.TotalAmount.GreaterThan(limits.MaxAmount) {
		return PaymentScheduleResult{}, models.ValidationError("total amount %s outside [%s, %s]",
			in.TotalAmount, limits.MinAmount, limits.MaxAmount)
	}

	term := in.TermMonths
	if term == 0 && limits.DefaultTermMonths > 0 {
		term = limits.DefaultTermMonths
	}
	if term <= 0 {
		return PaymentScheduleResult{}, models.ValidationError("term months must be positive, got %d", in.TermMonths)
	}

	if in.FirstPaymentDate.IsZero() {
		return PaymentScheduleResult{}, models.ValidationError("first payment date is required")
	}
	first := models.DateOf(in.FirstPaymentDate)
	if first.Before(models.DateOf(now)) {
		return PaymentScheduleResult{}, models.ValidationError("first payment date %s is in the past", first.Format(models.DateLayout))
	}

	upfront := decimal.Zero
	if in.UpfrontAmount != nil {
		upfront = *in.UpfrontAmount
	}
	if upfront.IsNegative() || upfront.GreaterThanOrEqual(in.TotalAmount) || !upfront.Equal(upfront.Round(2)) {
		return PaymentScheduleResult{}, models.ValidationError("upfront amount %s must be in [0, %s) with at most 2 decimals",
			upfront, in.TotalAmount)
	}

	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentBankTransfer
	}
	if _, err := models.ParsePaymentChannel(string(method)); err != nil {
		return PaymentScheduleResult{}, err
	}

	financed := in.TotalAmount.Sub(upfront)
	n := decimal.NewFromInt(int64(term))
	base := financed.Div(n).Truncate(2)
	if !base.IsPositive() {
		return PaymentScheduleResult{}, models.ValidationError("financed amount %s is too small for %d installments", financed, term)
	}
	last := financed.Sub(base.Mul(decimal.NewFromInt(int64(term - 1))))

	res := PaymentScheduleResult{
		Items: make([]models.Installment, 0, term),
		Summary: ScheduleSummary{
			TotalInstallments: term,
			FinancedAmount:    financed,
			TotalPrincipal:    decimal.Zero,
			TotalProfitShare:  decimal.Zero,
			TotalServiceFee:   decimal.Zero,
		},
	}

	for i := 0; i < term; i++ {
		amount := base
		if i == term-1 {
			amount = last
		}
		inst := newInstallment(in, method, i+1, models.AddMonthsClamped(first, i), amount, limits, now)
		res.Items = append(res.Items, inst)

		res.Summary.TotalPrincipal = res.Summary.TotalPrincipal.Add(inst.PrincipalAmount)
		res.Summary.TotalProfitShare = res.Summary.TotalProfitShare.Add(inst.ProfitShareAmount)
		res.Summary.TotalServiceFee = res.Summary.TotalServiceFee.Add(inst.Fee())
	}

	res.Summary.FirstPaymentDate = res.Items[0].PaymentDate
	res.Summary.NextPaymentDate = res.Items[0].PaymentDate
	res.Summary.LastPaymentDate = res.Items[term-1].PaymentDate
	return res, nil
}

func newInstallment(in PaymentScheduleInput, method models.PaymentChannel, number int, due time.Time,
	amount decimal.Decimal, limits models.PaymentLimitsConfig, now time.Time) models.Installment {
	inst := models.Installment{
		FinanceFaid:             FinanceFaid(in.DealAid, number),
		DealAid:                 in.DealAid,
		ClientAid:               in.ClientAid,
		PaymentNumber:           number,
		PaymentDate:             due,
		TotalAmount:             amount,
		Status:                  models.StatusPending,
		StatusHistory:           []models.StatusHistoryEntry{{Status: models.StatusPending, Source: models.SourceSystem, At: now}},
		PreferredPaymentChannel: method,
		AutoDebitEnabled:        in.AutoDebitEnabled || method == models.PaymentAutoDebit,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	net := amount
	if limits.ServiceFeeAmount.IsPositive() {
		fee := decimal.Min(limits.ServiceFeeAmount, amount)
		inst.ServiceFeeAmount = &fee
		net = amount.Sub(fee)
	}
	inst.ProfitShareAmount = net.Mul(limits.ProfitShareRatio).Round(2)
	inst.PrincipalAmount = net.Sub(inst.ProfitShareAmount)
	return inst
}

// GenerateSchedule previews a schedule. Configured payment limits are used
// when the input carries none.
func (s *Service) GenerateSchedule(ctx context.Context, in PaymentScheduleInput) (PaymentScheduleResult, error) {
	if in.Limits.MaxAmount.IsZero() {
		limits, err := loadSetting[models.PaymentLimitsConfig](ctx, s.settings, models.SettingPaymentLimits)
		if err != nil {
			return PaymentScheduleResult{}, err
		}
		in.Limits = limits
	}
	return GenerateSchedule(in, s.now())
}

// ActivateSchedule generates the schedule of an approved deal and persists it.
// A deal can only be scheduled once.
func (s *Service) ActivateSchedule(ctx context.Context, in PaymentScheduleInput) (PaymentScheduleResult, error) {
	deal, err := s.deals.FindDeal(ctx, in.DealAid)
	if err != nil {
		return PaymentScheduleResult{}, err
	}
	if in.ClientAid == "" {
		in.ClientAid = deal.ClientAid
	}
	if in.TotalAmount.IsZero() {
		in.TotalAmount = deal.ProductPrice
	}
	if in.UpfrontAmount == nil && deal.UpfrontAmount.IsPositive() {
		upfront := deal.UpfrontAmount
		in.UpfrontAmount = &upfront
	}
	if in.TermMonths == 0 {
		in.TermMonths = deal.TermMonths
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = deal.PaymentMethod
	}

	existing, err := s.installments.LoadInstallments(ctx, in.DealAid)
	if err != nil {
		return PaymentScheduleResult{}, fmt.Errorf("failed to load installments: %w", err)
	}
	if len(existing) > 0 {
		return PaymentScheduleResult{}, models.ValidationError("deal %s already has a payment schedule", in.DealAid)
	}

	res, err := s.GenerateSchedule(ctx, in)
	if err != nil {
		return PaymentScheduleResult{}, err
	}
	if err := s.installments.InsertSchedule(ctx, res.Items); err != nil {
		return PaymentScheduleResult{}, fmt.Errorf("failed to save payment schedule: %w", err)
	}

	s.log.WithField("deal_aid", in.DealAid).Infof("Payment schedule created: %d installments, next payment %s",
		res.Summary.TotalInstallments, res.Summary.NextPaymentDate.Format(models.DateLayout))
	return res, nil
}
