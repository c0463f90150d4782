// Package kafka publishes reconciled sales to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// SalePublisher implements domain.SalePublisher. Messages are keyed by asset
// id so every sale of one asset lands on the same partition.
type SalePublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewSalePublisher creates a publisher writing to topic on brokers.
func NewSalePublisher(brokers []string, topic string, logger *slog.Logger) (*SalePublisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka: topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newSalePublisher(w, topic, logger), nil
}

func newSalePublisher(w messageWriter, topic string, logger *slog.Logger) *SalePublisher {
	return &SalePublisher{
		writer: w,
		topic:  topic,
		logger: logger.With(slog.String("component", "kafka_sale_publisher"), slog.String("topic", topic)),
	}
}

// PublishSale writes one message for s and waits for the broker ack.
func (p *SalePublisher) PublishSale(ctx context.Context, s domain.Sale) error {
	ev := s.Event()
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal sale %d: %w", s.ID, err)
	}

	msg := kafkago.Message{
		Key:   []byte(ev.AssetID),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafkago.Header{
			{Key: "event", Value: []byte(domain.AuditSaleReconciled)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish sale %d: %w", s.ID, err)
	}
	p.logger.Debug("sale published", slog.Int64("sale_id", s.ID), slog.String("asset_id", ev.AssetID))
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *SalePublisher) Close() error {
	return p.writer.Close()
}

var _ domain.SalePublisher = (*SalePublisher)(nil)
