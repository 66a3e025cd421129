// Package redis implements the event bus on a Redis list, for deployments
// that run dripline without Kafka. Publishers RPUSH JSON-encoded domain
// events; the bus consumes with BLPOP.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/dripline/dripline/pkg/eventbus"
	"github.com/dripline/dripline/pkg/events"
)

const (
	popTimeout     = 1 * time.Second
	connectTimeout = 5 * time.Second
)

type EventBus struct {
	client redis.UniversalClient
	queue  string
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]eventbus.EventHandler

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewEventBus(ctx context.Context, addr, queue string, logger *slog.Logger) (*EventBus, error) {
	if queue == "" {
		queue = events.Topic
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventBus{
		client:        client,
		queue:         queue,
		logger:        logger.With("module", "redis_event_bus", "queue", queue),
		subscriptions: make(map[events.EventType]eventbus.EventHandler),
		stopCh:        make(chan struct{}),
	}, nil
}

func (eb *EventBus) GenerateID() string {
	return uuid.New().String()
}

func (eb *EventBus) Publish(ctx context.Context, _ string, event *events.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return eb.client.RPush(ctx, eb.queue, payload).Err()
}

func (eb *EventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler
}

func (eb *EventBus) Subscribe(ctx context.Context) error {
	eb.wg.Add(1)

	go eb.consume(ctx)

	return nil
}

func (eb *EventBus) consume(ctx context.Context) {
	defer eb.wg.Done()

	eb.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-eb.stopCh:
			eb.logger.Info("Queue consumer stopped")

			return
		case <-ctx.Done():
			eb.logger.Info("Context cancelled, stopping queue consumer")

			return
		default:
			if err := eb.processMessage(ctx); err != nil {
				eb.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (eb *EventBus) processMessage(ctx context.Context) error {
	result, err := eb.client.BLPop(ctx, popTimeout, eb.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message: %w", err)
	}

	// BLPop returns [queue, payload].
	if len(result) != 2 {
		return nil
	}

	event := &events.DomainEvent{}
	if err := json.Unmarshal([]byte(result[1]), event); err != nil {
		return fmt.Errorf("failed to decode domain event: %w", err)
	}

	eb.mu.RLock()
	handler, exists := eb.subscriptions[event.Type]
	eb.mu.RUnlock()

	if !exists {
		eb.logger.DebugContext(ctx, "No handler for event type, dropping", "event_type", event.Type)

		return nil
	}

	return handler(ctx, event)
}

func (eb *EventBus) Close() error {
	close(eb.stopCh)
	eb.wg.Wait()

	return eb.client.Close()
}
