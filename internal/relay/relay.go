package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"clinic/reception-service/internal/store"
)

// Sink delivers outbox events to a downstream channel.
type Sink interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
	Close() error
}

type Config struct {
	// Name identifies the relay's stored offset; relays with distinct names
	// each see every event.
	Name      string
	BatchSize int
	Timeout   time.Duration
}

// Relay forwards committed outbox events to a sink in (transaction, sequence) order and
// records how far it got. Delivery is at least once: a crash between publish
// and offset update republishes the tail of the batch.
type Relay struct {
	reader    store.OutboxReader
	sink      Sink
	name      string
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
	running   int32
}

func New(reader store.OutboxReader, sink Sink, cfg Config, log *slog.Logger) *Relay {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		reader:    reader,
		sink:      sink,
		name:      cfg.Name,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		logger:    log,
	}
}

// RunOnce relays one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	offset, err := r.reader.GetRelayOffset(ctx, r.name)
	if err != nil {
		return 0, fmt.Errorf("get relay offset: %w", err)
	}
	events, err := r.reader.ListOutboxEvents(ctx, offset, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox events: %w", err)
	}

	published := 0
	last := offset
	var publishErr error
	for _, event := range events {
		if err := r.sink.Publish(ctx, event); err != nil {
			publishErr = fmt.Errorf("publish event %d: %w", event.Seq, err)
			break
		}
		published++
		last = event.Cursor()
	}

	if last.After(offset) {
		if err := r.reader.UpdateRelayOffset(ctx, r.name, last); err != nil {
			return published, fmt.Errorf("update relay offset: %w", err)
		}
	}
	return published, publishErr
}

// Start polls the outbox every interval until ctx is cancelled.
func Start(ctx context.Context, interval time.Duration, r *Relay) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			published, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("relay batch failed", "error", err, "relay", r.name, "published", published)
				continue
			}
			if published > 0 {
				r.logger.Debug("relayed outbox events", "relay", r.name, "count", published)
			}
		}
	}
}
