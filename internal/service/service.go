package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// Stores groups the data-access collaborators of the engine.
type Stores struct {
	Settings     SettingsStore
	Installments InstallmentStore
	Goals        GoalStore
	Notices      NoticeStore
	Deals        DealStore
	Contacts     ContactDirectory
}

// Service handles the loan servicing and collections logic
type Service struct {
	settings     SettingsStore
	installments InstallmentStore
	deals        DealStore
	contacts     ContactDirectory

	scorer     *Scorer
	escalator  *Escalator
	dispatcher *Dispatcher
	log        *logrus.Logger
	now        Clock
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.now = c }
}

// NewService initializes a new service
func NewService(stores Stores, senders map[models.Channel]Sender, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		settings:     stores.Settings,
		installments: stores.Installments,
		deals:        stores.Deals,
		contacts:     stores.Contacts,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scorer = NewScorer(stores.Settings, log)
	s.dispatcher = NewDispatcher(stores.Notices, stores.Contacts, stores.Settings, senders, log, s.now)
	s.escalator = NewEscalator(stores.Goals, s.dispatcher, log, s.now)
	return s
}

// retryOnConflict runs fn again once when it lost an optimistic update. fn
// must reload the record it updates.
func retryOnConflict(fn func(attempt int) error) error {
	err := fn(0)
	if errors.Is(err, models.ErrConcurrencyConflict) {
		err = fn(1)
	}
	return err
}
