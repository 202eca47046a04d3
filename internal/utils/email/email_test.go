package email

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/models"
	"github.com/Dan9191/loan-servicing/internal/service"
)

func newTestSender(send func(e *email.Email) error) *Sender {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := NewSender(&config.Config{SenderEmail: "noreply@loans.local"}, logger)
	s.send = send
	return s
}

func TestSend(t *testing.T) {
	var got *email.Email
	s := newTestSender(func(e *email.Email) error {
		got = e
		return nil
	})

	err := s.Send(context.Background(), service.Message{
		NoticeID: "n-1",
		Channel:  models.ChannelEmail,
		To:       models.Contact{ClientAid: "client-1", Email: "jane@example.com"},
		Subject:  "Overdue installment payment",
		Body:     "Dear Jane,",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "noreply@loans.local", got.From)
	assert.Equal(t, []string{"jane@example.com"}, got.To)
	assert.Equal(t, "Overdue installment payment", got.Subject)
	assert.Equal(t, "Dear Jane,", string(got.Text))
}

func TestSendErrors(t *testing.T) {
	s := newTestSender(func(*email.Email) error { return errors.New("connection refused") })

	err := s.Send(context.Background(), service.Message{To: models.Contact{ClientAid: "client-1"}})
	assert.ErrorContains(t, err, "no email address")

	err = s.Send(context.Background(), service.Message{To: models.Contact{ClientAid: "client-1", Email: "jane@example.com"}})
	assert.ErrorContains(t, err, "connection refused")
}
