package relindex

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/tracing"
)

// Channel is the pub/sub channel carrying invalidations.
const Channel = "mds:relindex"

// Notifier propagates invalidations between server replicas.
type Notifier interface {
	Publish(ctx context.Context) error
	// Subscribe calls onInvalidate for every invalidation published by
	// another replica. It blocks until ctx is done.
	Subscribe(ctx context.Context, onInvalidate func()) error
}

// PubSub is the transport a RedisNotifier runs on.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string, ready chan<- struct{}, handler func(payload string)) error
}

// RedisNotifier broadcasts invalidations over a Redis channel. Messages carry
// the sender id so a replica ignores its own.
type RedisNotifier struct {
	bus    PubSub
	logger logger.Logger
	origin string
}

// NewRedisNotifier creates a notifier with a random replica id.
func NewRedisNotifier(bus PubSub, log logger.Logger) *RedisNotifier {
	return &RedisNotifier{bus: bus, logger: log, origin: uuid.NewString()}
}

func (n *RedisNotifier) Publish(ctx context.Context) error {
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgPublish, "redis", Channel)
	defer span.End()

	if err := n.bus.Publish(ctx, Channel, n.origin); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, onInvalidate func()) error {
	err := n.bus.Subscribe(ctx, Channel, nil, func(payload string) {
		if payload == n.origin {
			return
		}
		_, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgConsume, "redis", Channel)
		onInvalidate()
		tracing.RecordSuccess(span)
		span.End()
		n.logger.Debug("relationship index invalidated by peer", "origin", payload)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Watch subscribes idx to invalidations from n until ctx is done.
func Watch(ctx context.Context, idx *Index, n Notifier, log logger.Logger) {
	go func() {
		if err := n.Subscribe(ctx, idx.Invalidate); err != nil {
			log.Error("relationship index subscription ended", "error", err)
		}
	}()
}
