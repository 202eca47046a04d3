package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/loan-servicing/internal/models"
)

const noticeColumns = `
	id, channel, template_key, variables, recipient_aid, related_deal_aid, related_finance_faid,
	triggered_by, trigger_reason, send_after, retry_count, status, idempotency_key,
	last_triggered_on, last_error, created_at, updated_at`

func scanNotice(row scanner) (models.Notice, error) {
	var (
		n                                        models.Notice
		channel, triggeredBy, reason, status     string
		vars                                     []byte
		recipient, dealAid, financeFaid, lastErr sql.NullString
		sendAfter                                sql.NullTime
		lastOn                                   time.Time
	)
	err := row.Scan(&n.ID, &channel, &n.TemplateKey, &vars, &recipient, &dealAid, &financeFaid,
		&triggeredBy, &reason, &sendAfter, &n.RetryCount, &status, &n.IdempotencyKey,
		&lastOn, &lastErr, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return models.Notice{}, err
	}
	n.Channel = models.Channel(channel)
	n.TriggeredBy = models.StatusSource(triggeredBy)
	n.TriggerReason = models.TriggerReason(reason)
	n.Status = models.NoticeStatus(status)
	n.RecipientAid = recipient.String
	n.RelatedDealAid = dealAid.String
	n.RelatedFinanceFaid = financeFaid.String
	n.LastError = lastErr.String
	n.LastTriggeredOn = models.DateOf(lastOn)
	if sendAfter.Valid {
		n.SendAfter = &sendAfter.Time
	}
	if err := json.Unmarshal(vars, &n.Variables); err != nil {
		return models.Notice{}, fmt.Errorf("failed to decode variables of notice %s: %w", n.ID, err)
	}
	return n, nil
}

func (r *Repository) findNotice(ctx context.Context, query string, args ...any) (*models.Notice, error) {
	n, err := scanNotice(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindNoticeByKey returns the notice with an idempotency key, or nil.
func (r *Repository) FindNoticeByKey(ctx context.Context, key string) (*models.Notice, error) {
	query := `SELECT` + noticeColumns + `
		FROM servicing.notices
		WHERE idempotency_key = $1`
	n, err := r.findNotice(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find notice %s: %w", key, err)
	}
	return n, nil
}

// FindLatestNotice returns the most recently created notice for an
// installment, reason and template, or nil.
func (r *Repository) FindLatestNotice(ctx context.Context, financeFaid string, reason models.TriggerReason, templateKey string) (*models.Notice, error) {
	query := `SELECT` + noticeColumns + `
		FROM servicing.notices
		WHERE related_finance_faid = $1 AND trigger_reason = $2 AND template_key = $3
		ORDER BY created_at DESC
		LIMIT 1`
	n, err := r.findNotice(ctx, query, financeFaid, string(reason), templateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest notice of %s: %w", financeFaid, err)
	}
	return n, nil
}

// EnqueueNotice inserts a queued notice. A second notice with the same
// idempotency key is rejected with a conflict.
func (r *Repository) EnqueueNotice(ctx context.Context, n models.Notice) (models.Notice, error) {
	vars, err := json.Marshal(n.Variables)
	if err != nil {
		return models.Notice{}, fmt.Errorf("failed to encode notice variables: %w", err)
	}
	query := `
		INSERT INTO servicing.notices (` + noticeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, string(n.Channel), n.TemplateKey, vars, nullString(n.RecipientAid), nullString(n.RelatedDealAid),
		nullString(n.RelatedFinanceFaid), string(n.TriggeredBy), string(n.TriggerReason), nullTime(n.SendAfter),
		n.RetryCount, string(n.Status), n.IdempotencyKey, models.DateOf(n.LastTriggeredOn),
		nullString(n.LastError), n.CreatedAt, n.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return models.Notice{}, models.ConflictError("notice %s already exists", n.IdempotencyKey)
	}
	if err != nil {
		return models.Notice{}, fmt.Errorf("failed to enqueue notice: %w", err)
	}
	return n, nil
}

// SaveNotice updates the delivery state of a notice.
func (r *Repository) SaveNotice(ctx context.Context, n models.Notice) error {
	query := `
		UPDATE servicing.notices
		SET status = $2, retry_count = $3, send_after = $4, last_triggered_on = $5,
			last_error = $6, updated_at = $7
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		n.ID, string(n.Status), n.RetryCount, nullTime(n.SendAfter), models.DateOf(n.LastTriggeredOn),
		nullString(n.LastError), n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save notice %s: %w", n.ID, err)
	}
	if count, err := res.RowsAffected(); err == nil && count == 0 {
		return models.NotFoundError("notice %s", n.ID)
	}
	return nil
}

// ListDeliverable returns queued notices whose send time has come, oldest first.
func (r *Repository) ListDeliverable(ctx context.Context, now time.Time, limit int) ([]models.Notice, error) {
	query := `SELECT` + noticeColumns + `
		FROM servicing.notices
		WHERE status = $1 AND (send_after IS NULL OR send_after <= $2)
		ORDER BY created_at
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, string(models.NoticeQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliverable notices: %w", err)
	}
	defer rows.Close()

	var out []models.Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notice: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
