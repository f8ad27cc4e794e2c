package relindex

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/observability/tracing"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
)

// Config controls how the index is rebuilt.
type Config struct {
	// BatchSize bounds each read issued during a rebuild.
	BatchSize int
	// MaxAge forces a rebuild of snapshots older than this. Zero disables it.
	MaxAge time.Duration
	// RebuildTimeout bounds a whole rebuild, independent of the caller.
	RebuildTimeout time.Duration
}

// DefaultConfig returns the rebuild settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		MaxAge:         5 * time.Minute,
		RebuildTimeout: 30 * time.Second,
	}
}

// Index holds the current Snapshot. Rebuilds build a fresh snapshot and swap
// it in; concurrent callers share a single rebuild.
type Index struct {
	reader  document.Reader
	logger  logger.Logger
	config  Config
	current atomic.Pointer[Snapshot]
	// generation advances on every Invalidate. A snapshot is fresh only if
	// it was built from the current generation.
	generation atomic.Uint64
	group      singleflight.Group
}

// New creates an empty index. The first Snapshot call builds it.
func New(reader document.Reader, log logger.Logger, cfg Config) *Index {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = def.RebuildTimeout
	}
	return &Index{reader: reader, logger: log, config: cfg}
}

// Invalidate marks the current snapshot stale. The next Snapshot call rebuilds
// and sees every write that completed before Invalidate returned.
func (i *Index) Invalidate() {
	i.generation.Add(1)
}

// Current returns the published snapshot without rebuilding, or nil.
func (i *Index) Current() *Snapshot {
	return i.current.Load()
}

// Snapshot returns a consistent snapshot, rebuilding it first when it is
// missing, invalidated or expired. If a rebuild fails while an older snapshot
// exists, the older one is served.
func (i *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := i.current.Load()
	if snap != nil && !i.stale(snap) {
		return snap, nil
	}
	fresh, err := i.rebuild(ctx)
	if err != nil {
		if snap != nil {
			i.logger.WithContext(ctx).Warn("relationship index rebuild failed, serving stale snapshot",
				"error", err,
				"built_at", snap.BuiltAt(),
			)
			return snap, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Rebuild forces a rebuild and returns the new snapshot.
func (i *Index) Rebuild(ctx context.Context) (*Snapshot, error) {
	i.Invalidate()
	return i.rebuild(ctx)
}

func (i *Index) stale(s *Snapshot) bool {
	if s.generation < i.generation.Load() {
		return true
	}
	return i.config.MaxAge > 0 && time.Since(s.BuiltAt()) > i.config.MaxAge
}

// rebuild returns a snapshot built from at least the generation current on
// entry. Joining a rebuild that started earlier may yield an older one; the
// second pass then starts after entry by construction.
func (i *Index) rebuild(ctx context.Context) (*Snapshot, error) {
	want := i.generation.Load()
	var snap *Snapshot
	for pass := 0; pass < 2; pass++ {
		var err error
		snap, err = i.shared(ctx)
		if err != nil {
			return nil, err
		}
		if snap.generation >= want {
			return snap, nil
		}
	}
	return snap, nil
}

func (i *Index) shared(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := i.group.DoChan("rebuild", func() (interface{}, error) {
		// A rebuild outlives any single caller; it is shared.
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.config.RebuildTimeout)
		defer cancel()
		return i.build(buildCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (i *Index) build(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.StartEngineSpan(ctx, tracing.SpanOperationIndexRebuild)
	defer span.End()

	// Read before the store so writes landing mid-rebuild leave it stale.
	generation := i.generation.Load()
	start := time.Now()

	media, err := i.readAll(ctx, query.CollectionMedia)
	if err == nil {
		var packages []document.Document
		packages, err = i.readAll(ctx, query.CollectionPackage)
		if err == nil {
			snap := Build(media, packages)
			snap.generation = generation
			i.current.Store(snap)

			unmatched := snap.Unmatched()
			metrics.RecordIndexRebuild(time.Since(start), len(unmatched), nil)
			span.SetAttributes(
				attribute.Int("relindex.media", len(media)),
				attribute.Int("relindex.packages", len(packages)),
				attribute.Int("relindex.unmatched", len(unmatched)),
			)
			tracing.RecordSuccess(span)

			log := i.logger.WithContext(ctx)
			log.Info("relationship index rebuilt",
				"duration_ms", time.Since(start).Milliseconds(),
				"media", len(media),
				"packages", len(packages),
				"unmatched", len(unmatched),
			)
			for _, u := range unmatched {
				log.Warn("package source url excluded from relationship index",
					"package", u.Package,
					"url", u.URL,
					"reason", string(u.Reason),
					"candidates", u.Candidates,
				)
			}
			return snap, nil
		}
	}

	metrics.RecordIndexRebuild(time.Since(start), 0, err)
	tracing.RecordError(span, err)
	return nil, fmt.Errorf("failed to rebuild relationship index: %w", err)
}

// readAll pages through a collection by primary key.
func (i *Index) readAll(ctx context.Context, c query.Collection) ([]document.Document, error) {
	var (
		all   []document.Document
		after string
	)
	sort := document.DefaultSort(c)
	for {
		batch, err := i.reader.Find(ctx, c, query.Predicate{}, sort, document.Page{After: after, Limit: i.config.BatchSize})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", c, err)
		}
		all = append(all, batch...)
		if len(batch) < i.config.BatchSize {
			return all, nil
		}
		after = document.Key(c, batch[len(batch)-1])
		if after == "" {
			return nil, fmt.Errorf("failed to read %s: %w", c, document.ErrMissingKey)
		}
	}
}
