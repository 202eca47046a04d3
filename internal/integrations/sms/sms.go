package sms

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/service"
)

// Client delivers SMS notices through an XML-over-HTTP gateway
type Client struct {
	url      string
	login    string
	password string
	sender   string
	client   *http.Client
	log      *logrus.Logger
}

// NewClient initializes a new SMS gateway client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:      cfg.SMSGatewayURL,
		login:    cfg.SMSLogin,
		password: cfg.SMSPassword,
		sender:   cfg.SMSSender,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// buildRequest creates the gateway request document for one message
func (c *Client) buildRequest(msg service.Message) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	root := doc.CreateElement("request")
	auth := root.CreateElement("auth")
	auth.CreateAttr("login", c.login)
	auth.CreateAttr("password", c.password)

	m := root.CreateElement("message")
	m.CreateAttr("id", msg.NoticeID)
	m.CreateAttr("sender", c.sender)
	m.CreateElement("phone").SetText(msg.To.Phone)
	m.CreateElement("text").SetText(msg.Body)

	return doc.WriteToBytes()
}

// sendRequest posts the request document to the gateway
func (c *Client) sendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("SMS gateway response: %s", string(body))
	return body, nil
}

// parseResponse extracts the gateway message id or its error
func (c *Client) parseResponse(rawBody []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return "", fmt.Errorf("failed to parse XML: %w", err)
	}

	status := doc.FindElement("//response/status")
	if status == nil {
		return "", fmt.Errorf("status element not found in XML")
	}
	if !strings.EqualFold(strings.TrimSpace(status.Text()), "OK") {
		reason := "unknown error"
		if e := doc.FindElement("//response/error"); e != nil {
			reason = strings.TrimSpace(e.Text())
		}
		return "", fmt.Errorf("gateway rejected message: %s", reason)
	}

	var id string
	if m := doc.FindElement("//response/message"); m != nil {
		id = m.SelectAttrValue("id", "")
	}
	return id, nil
}

// Send delivers a rendered notice to the recipient's phone.
func (c *Client) Send(ctx context.Context, msg service.Message) error {
	if msg.To.Phone == "" {
		return fmt.Errorf("client %s has no phone number", msg.To.ClientAid)
	}
	if c.url == "" {
		return fmt.Errorf("SMS gateway URL is not configured")
	}

	payload, err := c.buildRequest(msg)
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	body, err := c.sendRequest(ctx, payload)
	if err != nil {
		return err
	}
	gatewayID, err := c.parseResponse(body)
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"notice_id": msg.NoticeID, "gateway_id": gatewayID}).
		Infof("SMS sent to %s", msg.To.Phone)
	return nil
}
