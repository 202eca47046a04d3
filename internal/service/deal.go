package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// DealApplication registers a deal together with the applicant data it was scored on.
type DealApplication struct {
	DealAid       string                `json:"deal_aid"`
	ClientAid     string                `json:"client_aid"`
	ProductPrice  decimal.Decimal       `json:"product_price"`
	UpfrontAmount decimal.Decimal       `json:"upfront_amount"`
	TermMonths    int                   `json:"term_months"`
	PaymentMethod models.PaymentChannel `json:"payment_method"`
	Applicant     models.ScoringInput   `json:"applicant"`
}

// RegisterDeal scores the applicant and stores the deal with its application
// payload. The accept or reject decision is taken elsewhere.
func (s *Service) RegisterDeal(ctx context.Context, app DealApplication) (models.Deal, error) {
	if app.DealAid == "" || app.ClientAid == "" {
		return models.Deal{}, models.ValidationError("deal id and client id are required")
	}
	if !app.ProductPrice.IsPositive() {
		return models.Deal{}, models.ValidationError("product price must be positive, got %s", app.ProductPrice)
	}
	if app.UpfrontAmount.IsNegative() || app.UpfrontAmount.GreaterThanOrEqual(app.ProductPrice) {
		return models.Deal{}, models.ValidationError("upfront amount %s must be in [0, %s)", app.UpfrontAmount, app.ProductPrice)
	}
	if app.TermMonths < 0 {
		return models.Deal{}, models.ValidationError("term months must not be negative, got %d", app.TermMonths)
	}
	method := app.PaymentMethod
	if method == "" {
		method = models.PaymentBankTransfer
	}
	if _, err := models.ParsePaymentChannel(string(method)); err != nil {
		return models.Deal{}, err
	}

	score, err := s.scorer.ScoreApplicant(ctx, app.Applicant)
	if err != nil {
		return models.Deal{}, err
	}

	now := s.now()
	deal := models.Deal{
		DealAid:       app.DealAid,
		ClientAid:     app.ClientAid,
		ProductPrice:  app.ProductPrice,
		UpfrontAmount: app.UpfrontAmount,
		TermMonths:    app.TermMonths,
		PaymentMethod: method,
		Score:         &score,
		Decision:      models.ApplicationPayload{Input: app.Applicant},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deals.SaveDeal(ctx, deal); err != nil {
		return models.Deal{}, fmt.Errorf("failed to save deal: %w", err)
	}

	s.log.WithFields(logrus.Fields{"deal_aid": deal.DealAid, "tier": score.Tier}).Infof("Deal registered with score %d", score.Score)
	return deal, nil
}

// SaveContact stores how a client can be reached.
func (s *Service) SaveContact(ctx context.Context, contact models.Contact) error {
	if contact.ClientAid == "" {
		return models.ValidationError("client id is required")
	}
	if contact.Email == "" && contact.Phone == "" && contact.PushToken == "" && contact.TelegramChatID == "" {
		return models.ValidationError("contact %s has no reachable channel", contact.ClientAid)
	}
	if err := s.contacts.SaveContact(ctx, contact); err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}
