package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// retryBackoff delays the next attempt after a failed delivery.
const retryBackoff = 10 * time.Minute

// DeliveryResult summarizes one delivery run.
type DeliveryResult struct {
	Sent    int             `json:"sent"`
	Retried int             `json:"retried"`
	Failed  []models.Notice `json:"failed,omitempty"`
}

// DeliverQueued hands due queued notices to their channel senders. A failed
// send bumps RetryCount; reaching the configured maximum marks the notice
// FAILED for good and reports it in the result.
func (d *Dispatcher) DeliverQueued(ctx context.Context, limit int) (DeliveryResult, error) {
	var res DeliveryResult
	limits, notices, err := d.loadConfig(ctx)
	if err != nil {
		return res, err
	}

	batch, err := d.notices.ListDeliverable(ctx, d.now(), limit)
	if err != nil {
		return res, fmt.Errorf("failed to list queued notices: %w", err)
	}

	for _, n := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sendErr := d.deliver(ctx, n, notices)
		now := d.now()
		log := d.log.WithFields(logrus.Fields{"notice_id": n.ID, "channel": n.Channel, "template": n.TemplateKey})

		if sendErr == nil {
			n.Status = models.NoticeSent
			n.LastError = ""
			n.UpdatedAt = now
			if err := d.notices.SaveNotice(ctx, n); err != nil {
				return res, fmt.Errorf("failed to save notice: %w", err)
			}
			res.Sent++
			log.Info("Notice sent")
			continue
		}

		n.RetryCount++
		n.LastError = sendErr.Error()
		n.UpdatedAt = now
		if n.Exhausted(limits.MaxNoticeRetries) {
			n.Status = models.NoticeFailed
			res.Failed = append(res.Failed, n)
			log.Errorf("Notice permanently failed after %d attempts: %v", n.RetryCount, sendErr)
		} else {
			next := now.Add(time.Duration(n.RetryCount) * retryBackoff)
			n.SendAfter = &next
			res.Retried++
			log.Warnf("Notice delivery failed, retry %d scheduled: %v", n.RetryCount, sendErr)
		}
		if err := d.notices.SaveNotice(ctx, n); err != nil {
			return res, fmt.Errorf("failed to save notice: %w", err)
		}
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notice, notices models.NoticeConfig) error {
	sender, ok := d.senders[n.Channel]
	if !ok {
		return fmt.Errorf("no sender for channel %s", n.Channel)
	}
	contact, err := d.contacts.FindContact(ctx, n.RecipientAid)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient %s: %w", n.RecipientAid, err)
	}
	vars := n.Vars()
	if _, ok := vars["client_name"]; !ok {
		vars["client_name"] = contact.Name
	}
	subject, body, err := notices.Render(n.TemplateKey, vars)
	if err != nil {
		return err
	}
	return sender.Send(ctx, Message{
		NoticeID: n.ID,
		Channel:  n.Channel,
		To:       contact,
		Subject:  subject,
		Body:     body,
	})
}

// DeliverQueued sends up to limit due notices.
func (s *Service) DeliverQueued(ctx context.Context, limit int) (DeliveryResult, error) {
	return s.dispatcher.DeliverQueued(ctx, limit)
}
