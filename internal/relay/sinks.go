package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"clinic/reception-service/internal/config"
	"clinic/reception-service/internal/store"
)

// NewSink builds the sink named by cfg.Relay.Sink.
func NewSink(cfg config.Config, log *slog.Logger) (Sink, error) {
	switch cfg.Relay.Sink {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisSink(client, cfg.Redis.Channel), nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka sink needs at least one broker")
		}
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		}
		return NewKafkaSink(writer), nil
	case "log", "":
		return LogSink{logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown relay sink %q", cfg.Relay.Sink)
	}
}

func encodeEvent(event store.OutboxEvent) ([]byte, error) {
	return json.Marshal(event)
}

// RedisSink publishes each event on "<channel>.<tenant id>" so subscribers
// can follow one tenant or pattern-subscribe to all of them.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Channel(tenantID string) string {
	return s.channel + "." + tenantID
}

func (s *RedisSink) Publish(ctx context.Context, event store.OutboxEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.Channel(event.TenantID), payload).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events keyed by tenant id, keeping each tenant's events
// on one partition in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, event store.OutboxEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafkaMessage(event, payload))
}

func kafkaMessage(event store.OutboxEvent, payload []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.TenantID),
		Value: payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes events to the log; useful in development.
type LogSink struct {
	logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, event store.OutboxEvent) error {
	log := s.logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "outbox event",
		"seq", event.Seq,
		"type", event.Type,
		"tenant_id", event.TenantID,
		"payload", string(event.Payload),
	)
	return nil
}

func (LogSink) Close() error {
	return nil
}
