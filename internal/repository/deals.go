package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// FindDeal retrieves a deal with its score and decision payload.
func (r *Repository) FindDeal(ctx context.Context, dealAid string) (models.Deal, error) {
	query := `
		SELECT deal_aid, client_aid, product_price, upfront_amount, term_months, payment_method,
			score, decision, created_at, updated_at
		FROM servicing.deals
		WHERE deal_aid = $1`
	var (
		deal     models.Deal
		method   string
		score    []byte
		decision []byte
	)
	err := r.db.QueryRowContext(ctx, query, dealAid).Scan(
		&deal.DealAid, &deal.ClientAid, &deal.ProductPrice, &deal.UpfrontAmount, &deal.TermMonths, &method,
		&score, &decision, &deal.CreatedAt, &deal.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Deal{}, models.NotFoundError("deal %s", dealAid)
	}
	if err != nil {
		return models.Deal{}, fmt.Errorf("failed to find deal %s: %w", dealAid, err)
	}
	deal.PaymentMethod = models.PaymentChannel(method)
	if len(score) > 0 {
		deal.Score = &models.ScoreResult{}
		if err := json.Unmarshal(score, deal.Score); err != nil {
			return models.Deal{}, fmt.Errorf("failed to decode score of deal %s: %w", dealAid, err)
		}
	}
	deal.Decision, err = models.DecodeDecisionPayload(decision)
	if err != nil {
		return models.Deal{}, fmt.Errorf("deal %s: %w", dealAid, err)
	}
	return deal, nil
}

// SaveDeal inserts or replaces a deal.
func (r *Repository) SaveDeal(ctx context.Context, deal models.Deal) error {
	var score, decision any
	if deal.Score != nil {
		raw, err := json.Marshal(deal.Score)
		if err != nil {
			return fmt.Errorf("failed to encode score: %w", err)
		}
		score = raw
	}
	if deal.Decision != nil {
		raw, err := models.EncodeDecisionPayload(deal.Decision)
		if err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
		decision = raw
	}
	query := `
		INSERT INTO servicing.deals (deal_aid, client_aid, product_price, upfront_amount, term_months,
			payment_method, score, decision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (deal_aid) DO UPDATE
		SET client_aid = EXCLUDED.client_aid, product_price = EXCLUDED.product_price,
			upfront_amount = EXCLUDED.upfront_amount, term_months = EXCLUDED.term_months,
			payment_method = EXCLUDED.payment_method, score = EXCLUDED.score,
			decision = EXCLUDED.decision, updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		deal.DealAid, deal.ClientAid, deal.ProductPrice, deal.UpfrontAmount, deal.TermMonths,
		string(deal.PaymentMethod), score, decision, deal.CreatedAt, deal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deal %s: %w", deal.DealAid, err)
	}
	return nil
}

// FindContact retrieves the contact details of a client.
func (r *Repository) FindContact(ctx context.Context, clientAid string) (models.Contact, error) {
	query := `
		SELECT client_aid, name, email, phone, push_token, telegram_chat_id
		FROM servicing.contacts
		WHERE client_aid = $1`
	var (
		c                            models.Contact
		email, phone, push, telegram sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, clientAid).Scan(&c.ClientAid, &c.Name, &email, &phone, &push, &telegram)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, models.NotFoundError("contact of client %s", clientAid)
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("failed to find contact %s: %w", clientAid, err)
	}
	c.Email, c.Phone, c.PushToken, c.TelegramChatID = email.String, phone.String, push.String, telegram.String
	return c, nil
}

// SaveContact inserts or replaces the contact details of a client.
func (r *Repository) SaveContact(ctx context.Context, c models.Contact) error {
	query := `
		INSERT INTO servicing.contacts (client_aid, name, email, phone, push_token, telegram_chat_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (client_aid) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			push_token = EXCLUDED.push_token, telegram_chat_id = EXCLUDED.telegram_chat_id,
			updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.ExecContext(ctx, query, c.ClientAid, c.Name, nullString(c.Email), nullString(c.Phone),
		nullString(c.PushToken), nullString(c.TelegramChatID))
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", c.ClientAid, err)
	}
	return nil
}
