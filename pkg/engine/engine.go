// Package engine executes resolved resource requests against the document
// store. Each call is independent; the relationship index is the only state
// shared between requests.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/tracing"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/resilience"
)

// Config tunes query execution.
type Config struct {
	Paging paging.Config
	// QueryTimeout bounds every single store call. Zero disables it.
	QueryTimeout time.Duration
	// RetryReadsOnTimeout retries a timed out read once.
	RetryReadsOnTimeout bool
	// Restricted rejects list requests without any constraint.
	Restricted bool
	// CountConcurrency bounds parallel annotation counts per page.
	CountConcurrency int
	// BreakerMaxFailures consecutive storage failures open the breaker.
	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// DefaultConfig returns the execution settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Paging:              paging.DefaultConfig(),
		QueryTimeout:        5 * time.Second,
		RetryReadsOnTimeout: true,
		CountConcurrency:    8,
		BreakerMaxFailures:  5,
		BreakerReset:        30 * time.Second,
	}
}

// Engine resolves and executes requests.
type Engine struct {
	store    document.Store
	index    *relindex.Index
	notifier relindex.Notifier
	breaker  *resilience.CircuitBreaker
	logger   logger.Logger
	config   Config
	now      func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithNotifier broadcasts index invalidations to other replicas.
func WithNotifier(n relindex.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithClock replaces time.Now for generated timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine.
//
// Cosa fa: collega store, indice delle relazioni e circuit breaker.
// Cosa NON fa: non costruisce l'indice; la prima richiesta che ne ha bisogno lo costruisce.
func New(store document.Store, index *relindex.Index, log logger.Logger, cfg Config, opts ...Option) *Engine {
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = DefaultConfig().BreakerMaxFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = DefaultConfig().BreakerReset
	}
	e := &Engine{
		store:   store,
		index:   index,
		logger:  log,
		config:  cfg,
		now:     time.Now,
		breaker: resilience.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerReset, resilience.WithFailurePredicate(isStorageFailure)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the storage circuit breaker state for readiness checks.
func (e *Engine) Breaker() resilience.State {
	return e.breaker.GetState()
}

// Resolve lists the documents a nested resource path designates, narrowed by
// query filters and paged. All validation happens before the store is read.
func (e *Engine) Resolve(ctx context.Context, segments, rawFilters []string, params paging.Params) (page paging.Page, err error) {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationResolve,
		attribute.StringSlice("mds.path", segments),
		attribute.StringSlice("mds.filters", rawFilters),
	)
	defer func() {
		if err != nil {
			tracing.RecordError(span, err)
		} else {
			tracing.RecordSuccess(span)
		}
		span.End()
	}()

	filters, err := query.ParseFilters(rawFilters)
	if err != nil {
		return paging.Page{}, err
	}
	target, err := query.Resolve(segments, filters)
	if err != nil {
		return paging.Page{}, err
	}
	req, err := paging.Parse(params, e.config.Paging)
	if err != nil {
		return paging.Page{}, err
	}
	if e.config.Restricted && target.Unconstrained() {
		return paging.Page{}, query.NewError(query.KindTooGeneric, "listing every %s requires a filter", target.Collection).
			WithDetail("collection", string(target.Collection))
	}
	span.SetAttributes(attribute.String("mds.target", target.String()))

	pred, empty, err := e.expand(ctx, target)
	if err != nil {
		return paging.Page{}, err
	}
	c := target.Collection
	if empty {
		var total *int64
		if !req.Cursor {
			zero := int64(0)
			total = &zero
		}
		return paging.Shape(c, req, nil, total), nil
	}

	docs, err := read(ctx, e, c, "find", func(ctx context.Context) ([]document.Document, error) {
		return e.store.Find(ctx, c, pred, document.DefaultSort(c), document.Page{
			Offset: req.Offset,
			Limit:  req.Limit + 1,
			After:  req.After,
		})
	})
	if err != nil {
		return paging.Page{}, err
	}

	var total *int64
	if !req.Cursor {
		n, err := read(ctx, e, c, "count", func(ctx context.Context) (int64, error) {
			return e.store.Count(ctx, c, pred)
		})
		if err != nil {
			return paging.Page{}, err
		}
		total = &n
	}

	page = paging.Shape(c, req, docs, total)
	if c == query.CollectionMedia {
		if err := paging.AddAnnotationCounts(ctx, page.Items, e.config.CountConcurrency, e.countAnnotations); err != nil {
			return paging.Page{}, err
		}
	}
	return page, nil
}

// expand turns index relations into plain terms. empty reports a relation
// that matches nothing, in which case the store need not be read.
func (e *Engine) expand(ctx context.Context, t query.Target) (query.Predicate, bool, error) {
	if len(t.Relations) == 0 {
		return t.Predicate, false, nil
	}
	snap, err := e.index.Snapshot(ctx)
	if err != nil {
		return query.Predicate{}, false, classify(err)
	}
	pred := t.Predicate
	for _, r := range t.Relations {
		var ids []string
		switch r.Kind {
		case query.RelationMediaOfPackage:
			ids = snap.MediaReferencedBy(r.ID)
		case query.RelationPackagesOfMedia:
			ids = snap.PackagesReferencing(r.ID)
		}
		if len(ids) == 0 {
			return query.Predicate{}, true, nil
		}
		pred = pred.And(query.In(r.Field, ids))
	}
	return pred, false, nil
}

func (e *Engine) countAnnotations(ctx context.Context, mediaID string) (int64, error) {
	pred := query.Predicate{}.And(query.Eq(query.FieldMedia, mediaID))
	return read(ctx, e, query.CollectionAnnotation, "count", func(ctx context.Context) (int64, error) {
		return e.store.Count(ctx, query.CollectionAnnotation, pred)
	})
}

// Get returns one document by primary key. Media carry a live annotation count.
func (e *Engine) Get(ctx context.Context, c query.Collection, id string) (document.Document, error) {
	doc, err := read(ctx, e, c, "get", func(ctx context.Context) (document.Document, error) {
		return e.store.Get(ctx, c, id)
	})
	if err != nil {
		return nil, err
	}
	if c == query.CollectionMedia {
		n, err := e.countAnnotations(ctx, id)
		if err != nil {
			return nil, err
		}
		doc[paging.AnnotationCountKey] = n
	}
	return doc, nil
}

// Unmatched lists package source URLs excluded from the relationship index.
func (e *Engine) Unmatched(ctx context.Context) ([]relindex.Unmatched, error) {
	snap, err := e.index.Snapshot(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return snap.Unmatched(), nil
}

// Reindex rebuilds the relationship index now and asks other replicas to
// drop theirs.
func (e *Engine) Reindex(ctx context.Context) (*relindex.Snapshot, error) {
	snap, err := e.index.Rebuild(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if e.notifier != nil {
		if err := e.notifier.Publish(ctx); err != nil {
			e.logger.WithContext(ctx).Warn("failed to broadcast relationship index invalidation", "error", err)
		}
	}
	return snap, nil
}
