package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/models"
)

// memStore is an in-memory implementation of every store port with the same
// version discipline as the Postgres repository.
type memStore struct {
	mu           sync.Mutex
	settings     map[models.SettingKey]models.Setting
	installments map[string]models.Installment
	goals        map[string]models.CollectionGoal
	notices      map[string]models.Notice
	deals        map[string]models.Deal
	contacts     map[string]models.Contact

	// staleSaves makes the next N SaveInstallment calls fail with a conflict.
	staleSaves int
	saveCalls  int

	// failEnqueue, when set, can reject a notice before it is stored.
	failEnqueue func(n models.Notice) error
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	seed, err := config.LoadSettingsFile("../../configs/settings.yaml")
	require.NoError(t, err)

	m := &memStore{
		settings:     map[models.SettingKey]models.Setting{},
		installments: map[string]models.Installment{},
		goals:        map[string]models.CollectionGoal{},
		notices:      map[string]models.Notice{},
		deals:        map[string]models.Deal{},
		contacts:     map[string]models.Contact{},
	}
	for _, s := range seed {
		m.settings[s.Key()] = s
	}
	return m
}

func (m *memStore) stores() Stores {
	return Stores{Settings: m, Installments: m, Goals: m, Notices: m, Deals: m, Contacts: m}
}

func (m *memStore) LoadSetting(_ context.Context, key models.SettingKey) (models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, models.ConfigurationError("setting %s is not configured", key)
	}
	return s, nil
}

func cloneInstallment(in models.Installment) models.Installment {
	out := in
	out.StatusHistory = append([]models.StatusHistoryEntry(nil), in.StatusHistory...)
	if in.Penalty != nil {
		p := *in.Penalty
		out.Penalty = &p
	}
	return out
}

func (m *memStore) LoadInstallments(_ context.Context, dealAid string) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Installment
	for _, inst := range m.installments {
		if inst.DealAid == dealAid {
			out = append(out, cloneInstallment(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentNumber < out[j].PaymentNumber })
	return out, nil
}

func (m *memStore) FindInstallment(_ context.Context, financeFaid string) (models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installments[financeFaid]
	if !ok {
		return models.Installment{}, models.NotFoundError("installment %s", financeFaid)
	}
	return cloneInstallment(inst), nil
}

func (m *memStore) ListUnpaidInstallments(_ context.Context, dueBefore time.Time) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Installment
	for _, inst := range m.installments {
		if inst.Status != models.StatusPaid && inst.PaymentDate.Before(dueBefore) {
			out = append(out, cloneInstallment(inst))
		}
	}
	return out, nil
}

func (m *memStore) ListPendingDueOn(_ context.Context, day time.Time) ([]models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Installment
	for _, inst := range m.installments {
		if inst.Status == models.StatusPending && models.DateOf(inst.PaymentDate).Equal(models.DateOf(day)) {
			out = append(out, cloneInstallment(inst))
		}
	}
	return out, nil
}

func (m *memStore) InsertSchedule(_ context.Context, items []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range items {
		if _, ok := m.installments[inst.FinanceFaid]; ok {
			return models.ConflictError("installment %s exists", inst.FinanceFaid)
		}
	}
	for _, inst := range items {
		inst.Version = 1
		m.installments[inst.FinanceFaid] = cloneInstallment(inst)
	}
	return nil
}

func (m *memStore) SaveInstallment(_ context.Context, inst *models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.staleSaves > 0 {
		m.staleSaves--
		return models.ConflictError("installment %s changed concurrently", inst.FinanceFaid)
	}
	cur, ok := m.installments[inst.FinanceFaid]
	if !ok {
		return models.NotFoundError("installment %s", inst.FinanceFaid)
	}
	if cur.Version != inst.Version {
		return models.ConflictError("installment %s version %d, stored %d", inst.FinanceFaid, inst.Version, cur.Version)
	}
	inst.Version++
	m.installments[inst.FinanceFaid] = cloneInstallment(*inst)
	return nil
}

func (m *memStore) put(items ...models.Installment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range items {
		if inst.Version == 0 {
			inst.Version = 1
		}
		m.installments[inst.FinanceFaid] = cloneInstallment(inst)
	}
}

func (m *memStore) installment(faid string) models.Installment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneInstallment(m.installments[faid])
}

func (m *memStore) LoadOpenCollectionGoal(_ context.Context, dealAid, financeFaid string) (*models.CollectionGoal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.goals {
		if g.DealAid == dealAid && g.FinanceFaid == financeFaid && g.Open() {
			goal := g
			return &goal, nil
		}
	}
	return nil, nil
}

func (m *memStore) SaveCollectionGoal(_ context.Context, goal *models.CollectionGoal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.goals[goal.ID]
	if !ok {
		for _, g := range m.goals {
			if g.DealAid == goal.DealAid && g.FinanceFaid == goal.FinanceFaid && g.Open() {
				return models.ConflictError("open goal exists for %s", goal.FinanceFaid)
			}
		}
	} else if cur.Version != goal.Version {
		return models.ConflictError("goal %s version %d, stored %d", goal.ID, goal.Version, cur.Version)
	}
	goal.Version++
	m.goals[goal.ID] = *goal
	return nil
}

func (m *memStore) goalsFor(financeFaid string) []models.CollectionGoal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CollectionGoal
	for _, g := range m.goals {
		if g.FinanceFaid == financeFaid {
			out = append(out, g)
		}
	}
	return out
}

func (m *memStore) FindNoticeByKey(_ context.Context, key string) (*models.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notices {
		if n.IdempotencyKey == key {
			found := n
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindLatestNotice(_ context.Context, financeFaid string, reason models.TriggerReason, templateKey string) (*models.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Notice
	for _, n := range m.notices {
		if n.RelatedFinanceFaid != financeFaid || n.TriggerReason != reason || n.TemplateKey != templateKey {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			found := n
			latest = &found
		}
	}
	return latest, nil
}

func (m *memStore) EnqueueNotice(_ context.Context, n models.Notice) (models.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEnqueue != nil {
		if err := m.failEnqueue(n); err != nil {
			return models.Notice{}, err
		}
	}
	for _, existing := range m.notices {
		if existing.IdempotencyKey == n.IdempotencyKey {
			return models.Notice{}, models.ConflictError("notice %s exists", n.IdempotencyKey)
		}
	}
	m.notices[n.ID] = n
	return n, nil
}

func (m *memStore) SaveNotice(_ context.Context, n models.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notices[n.ID]; !ok {
		return models.NotFoundError("notice %s", n.ID)
	}
	m.notices[n.ID] = n
	return nil
}

func (m *memStore) ListDeliverable(_ context.Context, now time.Time, limit int) ([]models.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notice
	for _, n := range m.notices {
		if n.Status == models.NoticeQueued && (n.SendAfter == nil || !n.SendAfter.After(now)) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) noticesFor(financeFaid string, reason models.TriggerReason) []models.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notice
	for _, n := range m.notices {
		if n.RelatedFinanceFaid == financeFaid && n.TriggerReason == reason {
			out = append(out, n)
		}
	}
	return out
}

func (m *memStore) FindDeal(_ context.Context, dealAid string) (models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[dealAid]
	if !ok {
		return models.Deal{}, models.NotFoundError("deal %s", dealAid)
	}
	return d, nil
}

func (m *memStore) FindContact(_ context.Context, clientAid string) (models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[clientAid]
	if !ok {
		return models.Contact{}, models.NotFoundError("client %s", clientAid)
	}
	return c, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// fixture wires a Service over a memStore with a settable clock.
type fixture struct {
	store   *memStore
	clock   *testClock
	sms     *recordingSender
	email   *recordingSender
	service *Service
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(t),
		clock: &testClock{now: now},
		sms:   &recordingSender{},
		email: &recordingSender{},
	}
	senders := map[models.Channel]Sender{
		models.ChannelSMS:   f.sms,
		models.ChannelEmail: f.email,
	}
	f.service = NewService(f.store.stores(), senders, quietLogger(), WithClock(f.clock.Now))
	return f
}

func (m *memStore) SaveDeal(_ context.Context, deal models.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[deal.DealAid] = deal
	return nil
}

func (m *memStore) SaveContact(_ context.Context, contact models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.ClientAid] = contact
	return nil
}
