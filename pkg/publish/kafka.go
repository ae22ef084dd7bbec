// Package publish fans accepted transfer events out to Kafka
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// Config holds Kafka producer settings
type Config struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchTimeout time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("no Kafka brokers configured")
	}
	if c.Topic == "" {
		return errors.New("no Kafka topic configured")
	}
	return nil
}

// messageWriter is the part of kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// transferMessage is the JSON value of a published event
type transferMessage struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
}

// KafkaPublisher writes transfer events to a topic, keyed by tx hash so
// all transfers of a transaction land in one partition
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewKafkaPublisher creates a synchronous producer requiring all acks
func NewKafkaPublisher(cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}

	p := newKafkaPublisher(writer, cfg.Topic, logger, m)
	p.logger.Info("Kafka publisher ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return p, nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger, m *metrics.Metrics) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger, metrics: m}
}

// Publish writes one message per event
func (p *KafkaPublisher) Publish(ctx context.Context, events []types.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		msg, err := toMessage(&events[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	p.metrics.EventsPublished.Add(float64(len(msgs)))
	return nil
}

func toMessage(e *types.TransferEvent) (kafka.Message, error) {
	value := "0"
	if e.Value != nil {
		value = e.Value.String()
	}
	data, err := json.Marshal(transferMessage{
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		BlockNumber: e.BlockNumber,
		From:        e.From,
		To:          e.To,
		Value:       value,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode event %s: %w", e.Key(), err)
	}

	return kafka.Message{
		Key:   []byte(e.TxHash),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("transfer")},
			{Key: "block_number", Value: []byte(strconv.FormatUint(e.BlockNumber, 10))},
		},
	}, nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
