package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// OverdueEvent is raised for every overdue installment seen by a sweep.
type OverdueEvent struct {
	DealAid     string
	FinanceFaid string
	ClientAid   string
	OverdueDays int
	Day         time.Time
	Variables   []models.NoticeVariable
}

// Escalator raises and advances collection goals for overdue installments.
type Escalator struct {
	goals      GoalStore
	dispatcher *Dispatcher
	log        *logrus.Logger
	now        Clock
}

// NewEscalator initializes a new escalator
func NewEscalator(goals GoalStore, dispatcher *Dispatcher, log *logrus.Logger, now Clock) *Escalator {
	return &Escalator{goals: goals, dispatcher: dispatcher, log: log, now: now}
}

// Escalate creates the goal for ev or advances the existing one. It reports
// whether the goal was created or moved; repeated calls with the same or a
// smaller overdue count are no-ops.
func (e *Escalator) Escalate(ctx context.Context, cfg models.CollectionConfig, ev OverdueEvent) (models.CollectionGoal, bool, error) {
	target, err := cfg.StageFor(ev.OverdueDays)
	if err != nil {
		return models.CollectionGoal{}, false, err
	}

	var (
		goal    models.CollectionGoal
		changed bool
		created bool
	)
	err = retryOnConflict(func(int) error {
		now := e.now()
		current, err := e.goals.LoadOpenCollectionGoal(ctx, ev.DealAid, ev.FinanceFaid)
		if err != nil {
			return fmt.Errorf("failed to load collection goal: %w", err)
		}
		if current == nil {
			goal = models.NewCollectionGoal(ev.DealAid, ev.FinanceFaid, target, ev.OverdueDays,
				cfg.GroupFor(target), cfg.Deadline(target, now), now)
			created, changed = true, true
		} else {
			goal = *current
			created = false
			changed = goal.Advance(target, ev.OverdueDays, cfg.GroupFor(target), cfg.Deadline(target, now), now)
		}
		if !changed {
			return nil
		}
		return e.goals.SaveCollectionGoal(ctx, &goal)
	})
	if err != nil {
		return models.CollectionGoal{}, false, err
	}
	if !changed {
		if _, err := e.dispatcher.Ensure(ctx, stageTrigger(goal, ev)); err != nil {
			return goal, false, fmt.Errorf("failed to queue stage notice: %w", err)
		}
		return goal, false, nil
	}

	fields := logrus.Fields{"deal_aid": ev.DealAid, "finance_faid": ev.FinanceFaid, "stage": goal.Stage}
	if created {
		e.log.WithFields(fields).Infof("Collection goal opened, %d days overdue", ev.OverdueDays)
	} else {
		e.log.WithFields(fields).Infof("Collection goal advanced, %d days overdue", ev.OverdueDays)
	}

	if _, err := e.dispatcher.Dispatch(ctx, stageTrigger(goal, ev)); err != nil {
		return goal, true, fmt.Errorf("failed to queue stage notice: %w", err)
	}
	return goal, true, nil
}

// stageTrigger is the notice raised for the current stage of goal.
func stageTrigger(goal models.CollectionGoal, ev OverdueEvent) Trigger {
	vars := append([]models.NoticeVariable{
		{Key: "stage", Value: string(goal.Stage)},
		{Key: "overdue_days", Value: strconv.Itoa(ev.OverdueDays)},
	}, ev.Variables...)
	return Trigger{
		TemplateKey:        models.StageTemplateKey(goal.Stage),
		Variables:          vars,
		RecipientAid:       ev.ClientAid,
		RelatedDealAid:     ev.DealAid,
		RelatedFinanceFaid: ev.FinanceFaid,
		TriggeredBy:        models.SourceAutoRule,
		TriggerReason:      models.ReasonCollectionStage,
		Day:                ev.Day,
	}
}

// Close moves the open goal of (dealAid, financeFaid) to CLOSED.
func (e *Escalator) Close(ctx context.Context, dealAid, financeFaid, reason string) (models.CollectionGoal, error) {
	var goal models.CollectionGoal
	err := retryOnConflict(func(int) error {
		current, err := e.goals.LoadOpenCollectionGoal(ctx, dealAid, financeFaid)
		if err != nil {
			return fmt.Errorf("failed to load collection goal: %w", err)
		}
		if current == nil {
			return models.NotFoundError("no open collection goal for deal %s finance %s", dealAid, financeFaid)
		}
		goal = *current
		if err := goal.Close(reason, e.now()); err != nil {
			return err
		}
		return e.goals.SaveCollectionGoal(ctx, &goal)
	})
	if err != nil {
		return models.CollectionGoal{}, err
	}
	e.log.WithFields(logrus.Fields{"deal_aid": dealAid, "finance_faid": financeFaid}).Infof("Collection goal closed: %s", reason)
	return goal, nil
}

// CloseCollectionGoal closes the open goal of an installment on operator request.
func (s *Service) CloseCollectionGoal(ctx context.Context, dealAid, financeFaid, reason string) (models.CollectionGoal, error) {
	if reason == "" {
		return models.CollectionGoal{}, models.ValidationError("closing a collection goal requires a reason")
	}
	return s.escalator.Close(ctx, dealAid, financeFaid, reason)
}
