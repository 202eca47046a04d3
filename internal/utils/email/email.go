package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/service"
)

// Sender delivers EMAIL notices via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.send = s.sendSMTP
	return s
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	return e.Send(addr, auth)
}

// Send mails a rendered notice to the recipient's address.
func (s *Sender) Send(ctx context.Context, msg service.Message) error {
	if msg.To.Email == "" {
		return fmt.Errorf("client %s has no email address", msg.To.ClientAid)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{msg.To.Email}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", msg.To.Email, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.WithField("notice_id", msg.NoticeID).Infof("Email sent to %s: %s", msg.To.Email, e.Subject)
	return nil
}
