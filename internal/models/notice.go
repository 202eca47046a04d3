package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerReason names the logical event a notice was raised for.
type TriggerReason string

const (
	ReasonPaymentReminder TriggerReason = "PAYMENT_REMINDER"
	ReasonDebtCollection  TriggerReason = "DEBT_COLLECTION"
	ReasonCollectionStage TriggerReason = "COLLECTION_STAGE"
)

// NoticeStatus is the delivery state of a queued notice.
type NoticeStatus string

const (
	NoticeQueued NoticeStatus = "QUEUED"
	NoticeSent   NoticeStatus = "SENT"
	NoticeFailed NoticeStatus = "FAILED"
)

// NoticeVariable is one named template substitution.
type NoticeVariable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Notice is a queued reminder or overdue communication.
type Notice struct {
	ID                 string           `json:"id"`
	Channel            Channel          `json:"channel"`
	TemplateKey        string           `json:"template_key"`
	Variables          []NoticeVariable `json:"variables"`
	RecipientAid       string           `json:"recipient_aid,omitempty"`
	RelatedDealAid     string           `json:"related_deal_aid,omitempty"`
	RelatedFinanceFaid string           `json:"related_finance_faid,omitempty"`
	TriggeredBy        StatusSource     `json:"triggered_by"`
	TriggerReason      TriggerReason    `json:"trigger_reason"`
	SendAfter          *time.Time       `json:"send_after,omitempty"`
	RetryCount         int              `json:"retry_count"`
	Status             NoticeStatus     `json:"status"`
	IdempotencyKey     string           `json:"idempotency_key"`
	LastTriggeredOn    time.Time        `json:"last_triggered_on"`
	LastError          string           `json:"last_error,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NoticeKey is the per-day idempotency key of a notice. Notices that are not
// bound to an installment are keyed by deal and recipient instead.
func NoticeKey(financeFaid, dealAid, recipientAid string, reason TriggerReason, templateKey string, day time.Time) string {
	subject := financeFaid
	if subject == "" {
		subject = dealAid + "/" + recipientAid
	}
	return strings.Join([]string{subject, string(reason), templateKey, DateOf(day).Format(DateLayout)}, "|")
}

// NewNotice builds a queued notice for day.
func NewNotice(channel Channel, templateKey string, vars []NoticeVariable, recipientAid, dealAid, financeFaid string,
	triggeredBy StatusSource, reason TriggerReason, sendAfter *time.Time, now time.Time) Notice {
	return Notice{
		ID:                 uuid.New().String(),
		Channel:            channel,
		TemplateKey:        templateKey,
		Variables:          vars,
		RecipientAid:       recipientAid,
		RelatedDealAid:     dealAid,
		RelatedFinanceFaid: financeFaid,
		TriggeredBy:        triggeredBy,
		TriggerReason:      reason,
		SendAfter:          sendAfter,
		Status:             NoticeQueued,
		IdempotencyKey:     NoticeKey(financeFaid, dealAid, recipientAid, reason, templateKey, now),
		LastTriggeredOn:    DateOf(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Vars returns the variables as a map for template rendering.
func (n Notice) Vars() map[string]string {
	out := make(map[string]string, len(n.Variables))
	for _, v := range n.Variables {
		out[v.Key] = v.Value
	}
	return out
}

// Exhausted reports whether the notice has used up its retries.
func (n Notice) Exhausted(maxRetries int) bool {
	return n.RetryCount >= maxRetries
}

// Requeue increments the retry counter and puts the notice back in the queue.
func (n *Notice) Requeue(now time.Time) {
	n.RetryCount++
	n.Status = NoticeQueued
	n.LastTriggeredOn = DateOf(now)
	n.UpdatedAt = now
}

// Contact is how a client can be reached on each channel.
type Contact struct {
	ClientAid      string `json:"client_aid"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	PushToken      string `json:"push_token,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
}
