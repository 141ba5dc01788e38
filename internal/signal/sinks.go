package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"hodler/internal/oracle"
)

// Encode renders a signal as the JSON document every sink publishes.
func Encode(sig oracle.Signal) ([]byte, error) {
	b, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("encode signal %s: %w", sig.Key(), err)
	}
	return b, nil
}

// LogSink writes signals to the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{log: logger} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, sig oracle.Signal) error {
	s.log.Info("signal",
		slog.String("key", sig.Key()),
		slog.String("side", string(sig.Side)),
		slog.String("symbol", sig.Symbol),
		slog.String("price", sig.Price.String()),
		slog.String("original_price", sig.OriginalPrice.String()),
		slog.String("premium", sig.Premium.String()),
	)
	return nil
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string        // PUBLISH channel; empty disables pub/sub
	TTL      time.Duration // expiry of the signals:<key>:<exchange> value
}

// RedisSink stores the latest signal per publish key and fans it out on a
// pub/sub channel, in one pipeline.
type RedisSink struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisSink(opts RedisOptions) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		channel: opts.Channel,
		ttl:     opts.TTL,
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, sig oracle.Signal) error {
	b, err := Encode(sig)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, sig.Key(), b, s.ttl)
	if s.channel != "" {
		pipe.Publish(ctx, s.channel, b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", sig.Key(), err)
	}
	return nil
}

func (s *RedisSink) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisSink) Close() error { return s.client.Close() }

// KafkaSink writes one message per signal keyed by its publish key, so all
// signals for a symbol and exchange land on the same partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: time.Millisecond,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, sig oracle.Signal) error {
	msg, err := Message(sig)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", sig.Key(), err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// Message builds the kafka message for sig.
func Message(sig oracle.Signal) (kafka.Message, error) {
	b, err := Encode(sig)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(sig.Key()), Value: b, Time: sig.Time}, nil
}

// MultiSink publishes to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (m MultiSink) Publish(ctx context.Context, sig oracle.Signal) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, sig); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
