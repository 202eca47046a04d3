// Package push publishes PUSH and TELEGRAM notices to Kafka topics consumed by
// the mobile and messenger gateways.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/loan-servicing/internal/config"
	"github.com/Dan9191/loan-servicing/internal/models"
	"github.com/Dan9191/loan-servicing/internal/service"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Event is the message value published for a gateway.
type Event struct {
	NoticeID  string         `json:"notice_id"`
	Channel   models.Channel `json:"channel"`
	ClientAid string         `json:"client_aid"`
	Address   string         `json:"address"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body"`
	SentAt    time.Time      `json:"sent_at"`
}

// Publisher is a service.Sender for the PUSH and TELEGRAM channels.
type Publisher struct {
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
	topics    map[models.Channel]string
	log       *logrus.Logger
}

// NewPublisher creates a Publisher writing to the configured brokers.
func NewPublisher(cfg *config.Config, log *logrus.Logger) *Publisher {
	brokers := cfg.KafkaBrokers
	return &Publisher{
		writers: make(map[string]messageWriter),
		newWriter: func(topic string) messageWriter {
			return &kafkago.Writer{
				Addr:         kafkago.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafkago.LeastBytes{},
				BatchTimeout: 10 * time.Millisecond,
				RequiredAcks: kafkago.RequireAll,
			}
		},
		topics: map[models.Channel]string{
			models.ChannelPush:     cfg.PushTopic,
			models.ChannelTelegram: cfg.TelegramTopic,
		},
		log: log,
	}
}

// Send publishes msg to the topic of its channel, keyed by client.
func (p *Publisher) Send(ctx context.Context, msg service.Message) error {
	topic, ok := p.topics[msg.Channel]
	if !ok || topic == "" {
		return fmt.Errorf("no topic configured for channel %s", msg.Channel)
	}
	address, err := addressFor(msg)
	if err != nil {
		return err
	}

	value, err := json.Marshal(Event{
		NoticeID:  msg.NoticeID,
		Channel:   msg.Channel,
		ClientAid: msg.To.ClientAid,
		Address:   address,
		Title:     msg.Subject,
		Body:      msg.Body,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", msg.Channel, err)
	}

	km := kafkago.Message{
		Key:   []byte(msg.To.ClientAid),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "notice_id", Value: []byte(msg.NoticeID)},
			{Key: "channel", Value: []byte(msg.Channel)},
		},
	}
	if err := p.writer(topic).WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}

	p.log.WithFields(logrus.Fields{"notice_id": msg.NoticeID, "topic": topic}).Info("Notice published")
	return nil
}

func addressFor(msg service.Message) (string, error) {
	switch msg.Channel {
	case models.ChannelPush:
		if msg.To.PushToken == "" {
			return "", fmt.Errorf("client %s has no push token", msg.To.ClientAid)
		}
		return msg.To.PushToken, nil
	case models.ChannelTelegram:
		if msg.To.TelegramChatID == "" {
			return "", fmt.Errorf("client %s has no telegram chat", msg.To.ClientAid)
		}
		return msg.To.TelegramChatID, nil
	}
	return "", fmt.Errorf("channel %s is not published", msg.Channel)
}

// writer lazily creates a writer for a topic.
func (p *Publisher) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Close closes all writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing writer for topic %s: %w", topic, err)
		}
	}
	p.writers = make(map[string]messageWriter)
	return firstErr
}
