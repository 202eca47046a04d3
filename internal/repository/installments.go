package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Dan9191/loan-servicing/internal/models"
)

const installmentColumns = `
	finance_faid, deal_aid, client_aid, payment_number, payment_date,
	total_amount, principal_amount, profit_share_amount, service_fee_amount,
	status, status_history, penalty, preferred_payment_channel, auto_debit_enabled,
	paid_at, paid_amount, version, created_at, updated_at`

func scanInstallment(row scanner) (models.Installment, error) {
	var (
		inst     models.Installment
		fee      decimal.NullDecimal
		paid     decimal.NullDecimal
		paidAt   sql.NullTime
		history  []byte
		penalty  []byte
		status   string
		channel  string
		dueOnDay time.Time
	)
	err := row.Scan(
		&inst.FinanceFaid, &inst.DealAid, &inst.ClientAid, &inst.PaymentNumber, &dueOnDay,
		&inst.TotalAmount, &inst.PrincipalAmount, &inst.ProfitShareAmount, &fee,
		&status, &history, &penalty, &channel, &inst.AutoDebitEnabled,
		&paidAt, &paid, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return models.Installment{}, err
	}

	inst.PaymentDate = models.DateOf(dueOnDay)
	inst.Status = models.PaymentStatus(status)
	inst.PreferredPaymentChannel = models.PaymentChannel(channel)
	if fee.Valid {
		inst.ServiceFeeAmount = &fee.Decimal
	}
	if paid.Valid {
		inst.PaidAmount = &paid.Decimal
	}
	if paidAt.Valid {
		inst.PaidAt = &paidAt.Time
	}
	if err := json.Unmarshal(history, &inst.StatusHistory); err != nil {
		return models.Installment{}, fmt.Errorf("failed to decode status history of %s: %w", inst.FinanceFaid, err)
	}
	if len(penalty) > 0 {
		inst.Penalty = &models.PenaltyInfo{}
		if err := json.Unmarshal(penalty, inst.Penalty); err != nil {
			return models.Installment{}, fmt.Errorf("failed to decode penalty of %s: %w", inst.FinanceFaid, err)
		}
	}
	return inst, nil
}

func (r *Repository) queryInstallments(ctx context.Context, query string, args ...any) ([]models.Installment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// LoadInstallments returns the schedule of a deal ordered by payment number.
func (r *Repository) LoadInstallments(ctx context.Context, dealAid string) ([]models.Installment, error) {
	query := `SELECT` + installmentColumns + `
		FROM servicing.installments
		WHERE deal_aid = $1
		ORDER BY payment_number`
	items, err := r.queryInstallments(ctx, query, dealAid)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments of deal %s: %w", dealAid, err)
	}
	return items, nil
}

// FindInstallment retrieves an installment by its finance id.
func (r *Repository) FindInstallment(ctx context.Context, financeFaid string) (models.Installment, error) {
	query := `SELECT` + installmentColumns + `
		FROM servicing.installments
		WHERE finance_faid = $1`
	inst, err := scanInstallment(r.db.QueryRowContext(ctx, query, financeFaid))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Installment{}, models.NotFoundError("installment %s", financeFaid)
	}
	if err != nil {
		return models.Installment{}, fmt.Errorf("failed to find installment %s: %w", financeFaid, err)
	}
	return inst, nil
}

// ListUnpaidInstallments returns pending and overdue installments due before dueBefore.
func (r *Repository) ListUnpaidInstallments(ctx context.Context, dueBefore time.Time) ([]models.Installment, error) {
	query := `SELECT` + installmentColumns + `
		FROM servicing.installments
		WHERE status = ANY($1) AND payment_date < $2
		ORDER BY deal_aid, payment_number`
	unpaid := pq.Array([]string{string(models.StatusPending), string(models.StatusOverdue)})
	items, err := r.queryInstallments(ctx, query, unpaid, models.DateOf(dueBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid installments: %w", err)
	}
	return items, nil
}

// ListPendingDueOn returns pending installments due on day.
func (r *Repository) ListPendingDueOn(ctx context.Context, day time.Time) ([]models.Installment, error) {
	query := `SELECT` + installmentColumns + `
		FROM servicing.installments
		WHERE status = $1 AND payment_date = $2
		ORDER BY deal_aid, payment_number`
	items, err := r.queryInstallments(ctx, query, string(models.StatusPending), models.DateOf(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list installments due %s: %w", day.Format(models.DateLayout), err)
	}
	return items, nil
}

// InsertSchedule stores a generated schedule in one transaction.
func (r *Repository) InsertSchedule(ctx context.Context, items []models.Installment) error {
	query := `
		INSERT INTO servicing.installments (` + installmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18)`
	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare schedule insert: %w", err)
		}
		defer stmt.Close()

		for i := range items {
			inst := &items[i]
			history, penalty, err := encodeInstallmentJSON(*inst)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				inst.FinanceFaid, inst.DealAid, inst.ClientAid, inst.PaymentNumber, models.DateOf(inst.PaymentDate),
				inst.TotalAmount, inst.PrincipalAmount, inst.ProfitShareAmount, nullDecimal(inst.ServiceFeeAmount),
				string(inst.Status), history, penalty, string(inst.PreferredPaymentChannel), inst.AutoDebitEnabled,
				nullTime(inst.PaidAt), nullDecimal(inst.PaidAmount), inst.CreatedAt, inst.UpdatedAt,
			)
			if isUniqueViolation(err) {
				return models.ConflictError("installment %s already exists", inst.FinanceFaid)
			}
			if err != nil {
				return fmt.Errorf("failed to insert installment %s: %w", inst.FinanceFaid, err)
			}
			inst.Version = 1
		}
		return nil
	})
}

// SaveInstallment writes the mutable state of inst if nobody else changed it
// since it was read.
func (r *Repository) SaveInstallment(ctx context.Context, inst *models.Installment) error {
	history, penalty, err := encodeInstallmentJSON(*inst)
	if err != nil {
		return err
	}
	query := `
		UPDATE servicing.installments
		SET status = $2, status_history = $3, penalty = $4, preferred_payment_channel = $5,
			auto_debit_enabled = $6, paid_at = $7, paid_amount = $8,
			version = version + 1, updated_at = $9
		WHERE finance_faid = $1 AND version = $10`
	res, err := r.db.ExecContext(ctx, query,
		inst.FinanceFaid, string(inst.Status), history, penalty, string(inst.PreferredPaymentChannel),
		inst.AutoDebitEnabled, nullTime(inst.PaidAt), nullDecimal(inst.PaidAmount),
		inst.UpdatedAt, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save installment %s: %w", inst.FinanceFaid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save installment %s: %w", inst.FinanceFaid, err)
	}
	if n == 0 {
		if _, err := r.FindInstallment(ctx, inst.FinanceFaid); err != nil {
			return err
		}
		return models.ConflictError("installment %s was modified concurrently", inst.FinanceFaid)
	}
	inst.Version++
	return nil
}

// encodeInstallmentJSON renders the JSONB columns. penalty is an untyped nil
// when absent so the driver writes NULL.
func encodeInstallmentJSON(inst models.Installment) (history []byte, penalty any, err error) {
	history, err = json.Marshal(inst.StatusHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode status history of %s: %w", inst.FinanceFaid, err)
	}
	if inst.Penalty != nil {
		raw, err := json.Marshal(inst.Penalty)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode penalty of %s: %w", inst.FinanceFaid, err)
		}
		penalty = raw
	}
	return history, penalty, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
