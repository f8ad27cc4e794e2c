package engine

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/resilience"
)

// read runs a read-only store call under the query timeout and retries it
// once if it timed out.
func read[T any](ctx context.Context, e *Engine, c query.Collection, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := 1
	if e.config.RetryReadsOnTimeout {
		attempts = 2
	}

	var out T
	err := resilience.Retry(ctx, attempts,
		func(err error) bool { return query.IsKind(err, query.KindQueryTimeout) },
		func(attempt int, err error) {
			metrics.RecordReadRetry(string(c))
			e.logger.WithContext(ctx).Warn("store read timed out, retrying",
				"collection", string(c),
				"operation", op,
				"attempt", attempt,
				"error", err,
			)
		},
		func() error {
			var v T
			err := e.call(ctx, c, op, func(ctx context.Context) error {
				var err error
				v, err = fn(ctx)
				return err
			})
			if err == nil {
				out = v
			}
			return err
		},
	)
	return out, err
}

// write runs a store mutation exactly once.
func write(ctx context.Context, e *Engine, c query.Collection, op string, fn func(context.Context) error) error {
	return e.call(ctx, c, op, fn)
}

func (e *Engine) call(ctx context.Context, c query.Collection, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := e.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, e.config.QueryTimeout, fn)
	})
	err = classify(err)

	outcome := "ok"
	if err != nil {
		outcome = string(query.KindOf(err))
		if outcome == "" {
			outcome = "canceled"
		}
		if query.IsKind(err, query.KindStorageUnavailable) {
			e.logger.WithContext(ctx).Error("store operation failed",
				"collection", string(c),
				"operation", op,
				"error", err,
			)
		}
	}
	metrics.RecordStoreOperation(string(c), op, outcome, time.Since(start))
	return err
}

// classify maps store errors onto the query error taxonomy. Caller
// cancellation is returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var qe *query.Error
	if errors.As(err, &qe) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, document.ErrNotFound):
		return query.NewError(query.KindNotFound, "document not found").WithCause(err)
	case errors.Is(err, document.ErrDuplicate):
		return query.NewError(query.KindInvalidDocument, "a document with this key already exists").WithCause(err)
	case errors.Is(err, document.ErrMissingKey):
		return query.NewError(query.KindInvalidDocument, "document has no primary key").WithCause(err)
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return query.NewError(query.KindQueryTimeout, "storage did not answer in time").WithCause(err)
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		return query.NewError(query.KindStorageUnavailable, "storage is unavailable").WithCause(err)
	default:
		return query.NewError(query.KindStorageUnavailable, "storage operation failed").WithCause(err)
	}
}

// isStorageFailure reports whether err says something about storage health.
func isStorageFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, document.ErrNotFound),
		errors.Is(err, document.ErrDuplicate),
		errors.Is(err, document.ErrMissingKey):
		return false
	}
	return true
}
