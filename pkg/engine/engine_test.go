package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/repository/document"
)

// hookedStore wraps a MemoryStore and lets tests slow down or fail calls.
type hookedStore struct {
	*document.MemoryStore
	reads  atomic.Int64
	writes atomic.Int64
	// beforeRead runs before every read with the 1-based read number.
	beforeRead  func(ctx context.Context, n int64) error
	beforeWrite func(ctx context.Context, n int64) error
}

func (s *hookedStore) readHook(ctx context.Context) error {
	n := s.reads.Add(1)
	if s.beforeRead != nil {
		return s.beforeRead(ctx, n)
	}
	return nil
}

func (s *hookedStore) writeHook(ctx context.Context) error {
	n := s.writes.Add(1)
	if s.beforeWrite != nil {
		return s.beforeWrite(ctx, n)
	}
	return nil
}

func (s *hookedStore) Find(ctx context.Context, c query.Collection, p query.Predicate, o document.Sort, pg document.Page) ([]document.Document, error) {
	if err := s.readHook(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.Find(ctx, c, p, o, pg)
}

func (s *hookedStore) Count(ctx context.Context, c query.Collection, p query.Predicate) (int64, error) {
	if err := s.readHook(ctx); err != nil {
		return 0, err
	}
	return s.MemoryStore.Count(ctx, c, p)
}

func (s *hookedStore) Get(ctx context.Context, c query.Collection, id string) (document.Document, error) {
	if err := s.readHook(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, c, id)
}

func (s *hookedStore) Insert(ctx context.Context, c query.Collection, doc document.Document) (string, error) {
	if err := s.writeHook(ctx); err != nil {
		return "", err
	}
	return s.MemoryStore.Insert(ctx, c, doc)
}

func (s *hookedStore) Put(ctx context.Context, c query.Collection, id string, doc document.Document) error {
	if err := s.writeHook(ctx); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, c, id, doc)
}

// blockUntilDone waits for the store call deadline, like a hung backend.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func annotation(id, media, creator string) document.Document {
	return document.Document{
		"id":    id,
		"media": media,
		"meta": map[string]interface{}{
			"dc:creator": creator,
			"id-ref":     "type-1",
		},
	}
}

func mediaDoc(id, url string) document.Document {
	return document.Document{"id": id, "url": url}
}

func packageDoc(id string, urls ...string) document.Document {
	imports := make([]interface{}, len(urls))
	for i, u := range urls {
		imports[i] = map[string]interface{}{"url": u}
	}
	return document.Document{"id": id, "imports": imports}
}

type fixture struct {
	engine *Engine
	store  *hookedStore
	index  *relindex.Index
}

func newFixture(t *testing.T, cfg Config, seed map[query.Collection][]document.Document) *fixture {
	t.Helper()
	store := &hookedStore{MemoryStore: document.NewMemoryStore()}
	for c, docs := range seed {
		for _, d := range docs {
			if _, err := store.MemoryStore.Insert(context.Background(), c, d); err != nil {
				t.Fatalf("seed %s: %v", c, err)
			}
		}
	}
	idx := relindex.New(store.MemoryStore, logger.Nop(), relindex.Config{})
	clock := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{
		engine: New(store, idx, logger.Nop(), cfg, WithClock(clock)),
		store:  store,
		index:  idx,
	}
}

func defaultSeed() map[query.Collection][]document.Document {
	return map[query.Collection][]document.Document{
		query.CollectionMedia: {
			mediaDoc("42", "http://videos.example.org/42.mp4"),
			mediaDoc("43", "http://videos.example.org/43.mp4"),
		},
		query.CollectionPackage: {
			packageDoc("pkg-1", "http://videos.example.org/42.mp4"),
			packageDoc("pkg-2", "http://VIDEOS.example.org:80/42.mp4", "http://videos.example.org/43.mp4"),
			packageDoc("pkg-3", "http://nowhere.example.org/x.mp4"),
		},
		query.CollectionAnnotation: {
			annotation("a-01", "42", "alice"),
			annotation("a-02", "42", query.SystemUser),
			annotation("a-03", "42", "bob"),
			annotation("a-04", "42", "alice"),
			annotation("a-05", "43", "alice"),
			annotation("a-06", "43", query.SystemUser),
		},
		query.CollectionUser: {
			{"login": "alice"},
			{"login": "bob"},
		},
	}
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = fmt.Sprint(d["id"])
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func resolveIDs(t *testing.T, e *Engine, path string, filters ...string) []string {
	t.Helper()
	page, err := e.Resolve(context.Background(), query.SplitPath(path), filters, paging.Params{})
	if err != nil {
		t.Fatalf("Resolve(%s, %v): %v", path, filters, err)
	}
	return ids(page.Items)
}

func TestResolve_Paths(t *testing.T) {
	f := newFixture(t, DefaultConfig(), defaultSeed())

	tests := []struct {
		path    string
		filters []string
		want    []string
	}{
		{"/media/42/annotation/user/alice", nil, []string{"a-01", "a-04"}},
		{"/media/42/annotation", nil, []string{"a-01", "a-02", "a-03", "a-04"}},
		{"/media/42/annotation/system", nil, []string{"a-02"}},
		{"/media/42/annotation/user", nil, []string{"a-01", "a-03", "a-04"}},
		{"/annotation", []string{"media:42"}, []string{"a-01", "a-02", "a-03", "a-04"}},
		{"/annotation", []string{"user:alice", "media:43"}, []string{"a-05"}},
		{"/user/alice/annotation", nil, []string{"a-01", "a-04", "a-05"}},
		{"/package/pkg-2/media", nil, []string{"42", "43"}},
		{"/media/42/package", nil, []string{"pkg-1", "pkg-2"}},
		{"/package/pkg-3/media", nil, []string{}},
		{"/package/pkg-1/annotation", nil, []string{"a-01", "a-02", "a-03", "a-04"}},
		{"/annotation", []string{"package:pkg-2", "user:alice"}, []string{"a-01", "a-04", "a-05"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %v", tt.path, tt.filters), func(t *testing.T) {
			if got := resolveIDs(t, f.engine, tt.path, tt.filters...); !equalStrings(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_ValidationHappensBeforeStorage(t *testing.T) {
	f := newFixture(t, DefaultConfig(), defaultSeed())
	f.store.beforeRead = func(context.Context, int64) error { return errors.New("store must not be called") }

	tests := []struct {
		path    string
		filters []string
		params  paging.Params
		want    query.Kind
	}{
		{"/annotation", []string{"foo:bar"}, paging.Params{}, query.KindInvalidFilter},
		{"/media", []string{"foo:bar"}, paging.Params{}, query.KindInvalidFilter},
		{"/media/42/annotation/user/alice", []string{"user:bob"}, paging.Params{}, query.KindConflictingFilter},
		{"/nothing", nil, paging.Params{}, query.KindInvalidPath},
		{"/trace", nil, paging.Params{}, query.KindInvalidPath},
		{"/annotation", nil, paging.Params{Limit: "many"}, query.KindInvalidPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := f.engine.Resolve(context.Background(), query.SplitPath(tt.path), tt.filters, tt.params)
			if !query.IsKind(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
	if n := f.store.reads.Load(); n != 0 {
		t.Fatalf("store was read %d times", n)
	}
}

func TestResolve_SystemAndUserPartition(t *testing.T) {
	f := newFixture(t, DefaultConfig(), defaultSeed())
	for _, m := range []string{"42", "43"} {
		all := resolveIDs(t, f.engine, "/media/"+m+"/annotation")
		system := resolveIDs(t, f.engine, "/media/"+m+"/annotation/system")
		users := resolveIDs(t, f.engine, "/media/"+m+"/annotation/user")

		seen := map[string]int{}
		for _, id := range append(append([]string{}, system...), users...) {
			seen[id]++
		}
		if len(seen) != len(all) || len(system)+len(users) != len(all) {
			t.Fatalf("media %s: system %v + user %v do not partition %v", m, system, users, all)
		}
		for _, id := range all {
			if seen[id] != 1 {
				t.Fatalf("media %s: %s appears %d times across partitions", m, id, seen[id])
			}
		}
	}
}

func TestResolve_Pagination(t *testing.T) {
	seed := defaultSeed()
	for i := 0; i < 23; i++ {
		seed[query.CollectionAnnotation] = append(seed[query.CollectionAnnotation], annotation(fmt.Sprintf("b-%02d", i), "43", "carol"))
	}
	f := newFixture(t, DefaultConfig(), seed)
	ctx := context.Background()
	path := query.SplitPath("/annotation/")
	full := resolveIDs(t, f.engine, "/annotation")

	t.Run("offset pages are stable and complete", func(t *testing.T) {
		var all []string
		for offset := 0; ; offset += 5 {
			params := paging.Params{Offset: fmt.Sprint(offset), Limit: "5"}
			first, err := f.engine.Resolve(ctx, path, nil, params)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			again, err := f.engine.Resolve(ctx, path, nil, params)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !equalStrings(ids(first.Items), ids(again.Items)) {
				t.Fatalf("offset %d not idempotent: %v vs %v", offset, ids(first.Items), ids(again.Items))
			}
			if *first.Meta.Total != int64(len(full)) {
				t.Fatalf("total = %d, want %d", *first.Meta.Total, len(full))
			}
			all = append(all, ids(first.Items)...)
			if !first.Meta.HasMore {
				break
			}
		}
		if !equalStrings(all, full) {
			t.Fatalf("pages concatenate to %v, want %v", all, full)
		}
	})

	t.Run("cursor pages are complete", func(t *testing.T) {
		var all []string
		cursor := ""
		for {
			page, err := f.engine.Resolve(ctx, path, nil, paging.Params{Limit: "7", Cursor: cursor})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			all = append(all, ids(page.Items)...)
			if !page.Meta.HasMore {
				break
			}
			cursor = page.Meta.NextCursor
		}
		if !equalStrings(all, full) {
			t.Fatalf("cursor pages concatenate to %v, want %v", all, full)
		}
	})

	t.Run("offset past end is empty", func(t *testing.T) {
		page, err := f.engine.Resolve(ctx, path, nil, paging.Params{Offset: "1000"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(page.Items) != 0 || len(page.Meta.Notices) != 1 {
			t.Fatalf("unexpected page %+v", page.Meta)
		}
	})

	t.Run("oversized limit is clamped", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Paging = paging.Config{DefaultLimit: 5, MaxLimit: 10}
		g := newFixture(t, cfg, seed)
		page, err := g.engine.Resolve(ctx, path, nil, paging.Params{Limit: "100"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(page.Items) != 10 || page.Meta.Limit != 10 || !page.Meta.HasMore {
			t.Fatalf("unexpected page of %d items: %+v", len(page.Items), page.Meta)
		}
	})
}

func TestResolve_AnnotationCountIsLive(t *testing.T) {
	f := newFixture(t, DefaultConfig(), defaultSeed())
	ctx := context.Background()

	count := func() int64 {
		page, err := f.engine.Resolve(ctx, []string{"media"}, nil, paging.Params{})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		for _, m := range page.Items {
			if m["id"] == "43" {
				return m[paging.AnnotationCountKey].(int64)
			}
		}
		t.Fatal("media 43 not listed")
		return 0
	}

	if got := count(); got != 2 {
		t.Fatalf("annotation-count = %d, want 2", got)
	}
	if _, err := f.engine.Insert(ctx, query.CollectionAnnotation, annotation("a-new", "43", "bob"), InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := count(); got != 3 {
		t.Fatalf("annotation-count after insert = %d, want 3", got)
	}

	doc, err := f.engine.Get(ctx, query.CollectionMedia, "43")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc[paging.AnnotationCountKey] != int64(3) {
		t.Fatalf("Get annotation-count = %v", doc[paging.AnnotationCountKey])
	}
}

func TestResolve_Restricted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Restricted = true
	f := newFixture(t, cfg, defaultSeed())
	ctx := context.Background()

	if _, err := f.engine.Resolve(ctx, []string{"annotation"}, nil, paging.Params{}); !query.IsKind(err, query.KindTooGeneric) {
		t.Fatalf("expected too_generic, got %v", err)
	}
	if _, err := f.engine.Resolve(ctx, []string{"annotation"}, []string{"user:alice"}, paging.Params{}); err != nil {
		t.Fatalf("filtered request should pass: %v", err)
	}
}

func TestResolve_IndexFollowsWrites(t *testing.T) {
	f := newFixture(t, DefaultConfig(), defaultSeed())
	ctx := context.Background()

	if got := resolveIDs(t, f.engine, "/media/43/package"); !equalStrings(got, []string{"pkg-2"}) {
		t.Fatalf("got %v", got)
	}
	if _, err := f.engine.Insert(ctx, query.CollectionPackage, packageDoc("pkg-9", "http://videos.example.org/43.mp4"), InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := resolveIDs(t, f.engine, "/media/43/package"); !equalStrings(got, []string{"pkg-2", "pkg-9"}) {
		t.Fatalf("after insert got %v", got)
	}
	if err := f.engine.Delete(ctx, query.CollectionPackage, "pkg-2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := resolveIDs(t, f.engine, "/media/43/package"); !equalStrings(got, []string{"pkg-9"}) {
		t.Fatalf("after delete got %v", got)
	}

	unmatched, err := f.engine.Unmatched(ctx)
	if err != nil {
		t.Fatalf("Unmatched: %v", err)
	}
	if len(unmatched) != 1 || unmatched[0].Package != "pkg-3" {
		t.Fatalf("unexpected unmatched %+v", unmatched)
	}
}

type countingNotifier struct {
	published atomic.Int64
}

func (n *countingNotifier) Publish(context.Context) error {
	n.published.Add(1)
	return nil
}

func (n *countingNotifier) Subscribe(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return nil
}

func TestWrites_PublishInvalidations(t *testing.T) {
	store := document.NewMemoryStore()
	notifier := &countingNotifier{}
	e := New(store, relindex.New(store, logger.Nop(), relindex.Config{}), logger.Nop(), DefaultConfig(), WithNotifier(notifier))
	ctx := context.Background()

	if _, err := e.Insert(ctx, query.CollectionMedia, mediaDoc("media-1", "http://a/1"), InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := e.Insert(ctx, query.CollectionAnnotation, annotation("ann-1", "media-1", "x"), InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n := notifier.published.Load(); n != 1 {
		t.Fatalf("expected 1 invalidation, got %d", n)
	}
}

func TestReindex_PublishesInvalidation(t *testing.T) {
	store := document.NewMemoryStore()
	notifier := &countingNotifier{}
	e := New(store, relindex.New(store, logger.Nop(), relindex.Config{}), logger.Nop(), DefaultConfig(), WithNotifier(notifier))

	snap, err := e.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if n := notifier.published.Load(); n != 1 {
		t.Fatalf("expected 1 invalidation, got %d", n)
	}
}
