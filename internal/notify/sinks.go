package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"sysaccess.org/internal/obs"
)

// LogSink logs messages instead of delivering them.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, m Message) error {
	obs.Logger().Info("notification",
		"type", "notification",
		"id", m.ID,
		"template", m.Template,
		"to", strings.Join(m.To, ","),
		"subject", m.Subject,
		"request_id", m.RequestID,
	)
	return nil
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the mail outbox topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes messages to an outbox topic consumed by the mail relay.
type KafkaSink struct {
	writer kafkaWriter
}

// NewKafkaSink builds a sink writing JSON messages keyed by request id.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, m Message) error {
	if s == nil || s.writer == nil {
		return errors.New("kafka sink not initialized")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := m.RequestID
	if key == "" {
		key = m.ID
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "template", Value: []byte(m.Template)},
		},
	}); err != nil {
		return fmt.Errorf("publish notification %s: %w", m.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
