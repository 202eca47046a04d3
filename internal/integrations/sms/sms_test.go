package sms

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/models"
	"github.com/Dan9191/loan-servicing/internal/service"
)

func newTestClient(url string) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(&config.Config{
		SMSGatewayURL: url,
		SMSLogin:      "loans",
		SMSPassword:   "pw",
		SMSSender:     "LOANS",
	}, log)
}

func message() service.Message {
	return service.Message{
		NoticeID: "n-1",
		Channel:  models.ChannelSMS,
		To:       models.Contact{ClientAid: "client-1", Phone: "+15550001"},
		Body:     "Installment #1 of 10000.00 was due on 2025-01-10",
	}
}

func TestSend(t *testing.T) {
	var received *etree.Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		received = etree.NewDocument()
		_, err := received.ReadFrom(r.Body)
		assert.NoError(t, err)
		_, _ = w.Write([]byte(`<?xml version="1.0"?><response><status>OK</status><message id="gw-42"/></response>`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Send(context.Background(), message()))

	require.NotNil(t, received)
	auth := received.FindElement("//request/auth")
	require.NotNil(t, auth)
	assert.Equal(t, "loans", auth.SelectAttrValue("login", ""))
	m := received.FindElement("//request/message")
	require.NotNil(t, m)
	assert.Equal(t, "n-1", m.SelectAttrValue("id", ""))
	assert.Equal(t, "LOANS", m.SelectAttrValue("sender", ""))
	assert.Equal(t, "+15550001", m.FindElement("phone").Text())
	assert.Equal(t, "Installment #1 of 10000.00 was due on 2025-01-10", m.FindElement("text").Text())
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "rejected", status: http.StatusOK, body: `<response><status>ERROR</status><error>invalid phone</error></response>`, wantErr: "invalid phone"},
		{name: "missing status", status: http.StatusOK, body: `<response/>`, wantErr: "status element not found"},
		{name: "malformed", status: http.StatusOK, body: `<response status=>`, wantErr: "failed to parse XML"},
		{name: "http error", status: http.StatusBadGateway, body: "", wantErr: "unexpected status code: 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(srv.URL).Send(context.Background(), message())
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSendWithoutPhone(t *testing.T) {
	msg := message()
	msg.To.Phone = ""
	err := newTestClient("http://unused").Send(context.Background(), msg)
	assert.ErrorContains(t, err, "no phone number")
}
