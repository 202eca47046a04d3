package service

import (
	"context"
	"time"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// SettingsStore returns the current version of a setting.
type SettingsStore interface {
	LoadSetting(ctx context.Context, key models.SettingKey) (models.Setting, error)
}

// InstallmentStore persists installments. SaveInstallment must only succeed
// when the stored version equals inst.Version and returns a
// models.ErrConcurrencyConflict error otherwise; on success it bumps inst.Version.
type InstallmentStore interface {
	LoadInstallments(ctx context.Context, dealAid string) ([]models.Installment, error)
	FindInstallment(ctx context.Context, financeFaid string) (models.Installment, error)
	ListUnpaidInstallments(ctx context.Context, dueBefore time.Time) ([]models.Installment, error)
	ListPendingDueOn(ctx context.Context, day time.Time) ([]models.Installment, error)
	InsertSchedule(ctx context.Context, items []models.Installment) error
	SaveInstallment(ctx context.Context, inst *models.Installment) error
}

// GoalStore persists collection goals with the same version discipline as InstallmentStore.
type GoalStore interface {
	LoadOpenCollectionGoal(ctx context.Context, dealAid, financeFaid string) (*models.CollectionGoal, error)
	SaveCollectionGoal(ctx context.Context, goal *models.CollectionGoal) error
}

// NoticeStore persists notices. EnqueueNotice returns a
// models.ErrConcurrencyConflict error when a notice with the same idempotency
// key already exists.
type NoticeStore interface {
	FindNoticeByKey(ctx context.Context, key string) (*models.Notice, error)
	FindLatestNotice(ctx context.Context, financeFaid string, reason models.TriggerReason, templateKey string) (*models.Notice, error)
	EnqueueNotice(ctx context.Context, n models.Notice) (models.Notice, error)
	SaveNotice(ctx context.Context, n models.Notice) error
	ListDeliverable(ctx context.Context, now time.Time, limit int) ([]models.Notice, error)
}

// DealStore reads and registers deals.
type DealStore interface {
	FindDeal(ctx context.Context, dealAid string) (models.Deal, error)
	SaveDeal(ctx context.Context, deal models.Deal) error
}

// ContactDirectory resolves how to reach a client.
type ContactDirectory interface {
	FindContact(ctx context.Context, clientAid string) (models.Contact, error)
	SaveContact(ctx context.Context, contact models.Contact) error
}

// Sender delivers a rendered notice over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a rendered notice ready for a channel sender.
type Message struct {
	NoticeID string
	Channel  models.Channel
	To       models.Contact
	Subject  string
	Body     string
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time
