package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes raw messages from a topic. The message key names
// the channel when the payload does not.
type KafkaSource struct {
	reader messageReader
	logger *zap.Logger
	retry  time.Duration
}

func NewKafkaSource(broker, topic, groupID string, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxAttempts: 10,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	return &KafkaSource{reader: reader, logger: logger, retry: time.Second}
}

// Next blocks until a message arrives or ctx is done. Read errors are
// logged and retried.
func (s *KafkaSource) Next(ctx context.Context) (Message, error) {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if err != nil {
			s.logger.Warn("Error reading message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-time.After(s.retry):
			}
			continue
		}
		s.logger.Debug("Received message from Kafka",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		return Decode(m.Value, string(m.Key))
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher puts raw messages onto a topic, keyed by channel.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *Publisher) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(m.Channel), Value: data})
}

// Forward publishes every message of src and returns how many were sent.
// Undecodable messages are logged and skipped.
func (p *Publisher) Forward(ctx context.Context, src Source, logger *zap.Logger) (int, error) {
	sent := 0
	for {
		m, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if errors.Is(err, ErrBadMessage) {
			logger.Warn("Skipping message", zap.Error(err))
			continue
		}
		if err != nil {
			return sent, err
		}
		if err := p.Publish(ctx, m); err != nil {
			return sent, fmt.Errorf("publish: %w", err)
		}
		sent++
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
