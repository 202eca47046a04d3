package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/loan-servicing/internal/models"
)

const goalColumns = `
	id, type, stage, priority, deal_aid, finance_faid, overdue_days, assignee_group,
	deadline, auto_created, closed_reason, version, created_at, updated_at`

func scanGoal(row scanner) (models.CollectionGoal, error) {
	var (
		g      models.CollectionGoal
		kind   string
		stage  string
		prio   string
		group  string
		reason sql.NullString
	)
	err := row.Scan(&g.ID, &kind, &stage, &prio, &g.DealAid, &g.FinanceFaid, &g.OverdueDays, &group,
		&g.Deadline, &g.AutoCreated, &reason, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return models.CollectionGoal{}, err
	}
	g.Type = models.GoalType(kind)
	g.Stage = models.CollectionStage(stage)
	g.Priority = models.Priority(prio)
	g.AssigneeGroup = models.AssigneeGroup(group)
	g.ClosedReason = reason.String
	return g, nil
}

// LoadOpenCollectionGoal returns the open goal of an installment, or nil when there is none.
func (r *Repository) LoadOpenCollectionGoal(ctx context.Context, dealAid, financeFaid string) (*models.CollectionGoal, error) {
	query := `SELECT` + goalColumns + `
		FROM servicing.collection_goals
		WHERE deal_aid = $1 AND finance_faid = $2 AND stage <> $3`
	g, err := scanGoal(r.db.QueryRowContext(ctx, query, dealAid, financeFaid, string(models.StageClosed)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection goal of %s: %w", financeFaid, err)
	}
	return &g, nil
}

// SaveCollectionGoal inserts a new goal (Version 0) or updates an existing one
// under the optimistic version check. The partial unique index on open goals
// turns a concurrent second insert into a conflict.
func (r *Repository) SaveCollectionGoal(ctx context.Context, goal *models.CollectionGoal) error {
	if goal.Version == 0 {
		query := `
			INSERT INTO servicing.collection_goals (` + goalColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)`
		_, err := r.db.ExecContext(ctx, query,
			goal.ID, string(goal.Type), string(goal.Stage), string(goal.Priority), goal.DealAid, goal.FinanceFaid,
			goal.OverdueDays, string(goal.AssigneeGroup), goal.Deadline, goal.AutoCreated,
			nullString(goal.ClosedReason), goal.CreatedAt, goal.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return models.ConflictError("an open collection goal already exists for %s", goal.FinanceFaid)
		}
		if err != nil {
			return fmt.Errorf("failed to create collection goal: %w", err)
		}
		goal.Version = 1
		return nil
	}

	query := `
		UPDATE servicing.collection_goals
		SET type = $2, stage = $3, priority = $4, overdue_days = $5, assignee_group = $6,
			deadline = $7, closed_reason = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $10`
	res, err := r.db.ExecContext(ctx, query,
		goal.ID, string(goal.Type), string(goal.Stage), string(goal.Priority), goal.OverdueDays,
		string(goal.AssigneeGroup), goal.Deadline, nullString(goal.ClosedReason), goal.UpdatedAt, goal.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update collection goal %s: %w", goal.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update collection goal %s: %w", goal.ID, err)
	}
	if n == 0 {
		return models.ConflictError("collection goal %s was modified concurrently", goal.ID)
	}
	goal.Version++
	return nil
}
