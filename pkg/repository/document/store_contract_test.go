package document

import (
	"context"
	"errors"
	"testing"

	"github.com/nimburion/mds/pkg/query"
)

func annotation(id, media, creator string) Document {
	return Document{
		"id":    id,
		"media": media,
		"meta": map[string]interface{}{
			"dc:creator": creator,
			"id-ref":     "t1",
		},
		"content": map[string]interface{}{"data": "payload-" + id},
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["id"].(string)
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

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	c := query.CollectionAnnotation

	for _, doc := range []Document{
		annotation("a3", "m1", "alice"),
		annotation("a1", "m1", query.SystemUser),
		annotation("a2", "m2", "bob"),
		annotation("a4", "m1", "bob"),
	} {
		if _, err := s.Insert(ctx, c, doc); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	t.Run("insert duplicate", func(t *testing.T) {
		_, err := s.Insert(ctx, c, annotation("a1", "m9", "x"))
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("insert without key", func(t *testing.T) {
		_, err := s.Insert(ctx, c, Document{"media": "m1"})
		if !errors.Is(err, ErrMissingKey) {
			t.Fatalf("expected ErrMissingKey, got %v", err)
		}
	})

	t.Run("find ordered by key", func(t *testing.T) {
		docs, err := s.Find(ctx, c, query.Predicate{}, DefaultSort(c), Page{})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got := ids(docs); !equalStrings(got, []string{"a1", "a2", "a3", "a4"}) {
			t.Fatalf("unexpected order %v", got)
		}
	})

	t.Run("find with predicate", func(t *testing.T) {
		p := query.Predicate{}.And(query.Eq(query.FieldMedia, "m1"), query.Ne(query.FieldCreator, query.SystemUser))
		docs, err := s.Find(ctx, c, p, DefaultSort(c), Page{})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got := ids(docs); !equalStrings(got, []string{"a3", "a4"}) {
			t.Fatalf("unexpected result %v", got)
		}
	})

	t.Run("find with in", func(t *testing.T) {
		p := query.Predicate{}.And(query.In(query.FieldID, []string{"a4", "a2", "zz"}))
		docs, err := s.Find(ctx, c, p, DefaultSort(c), Page{})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got := ids(docs); !equalStrings(got, []string{"a2", "a4"}) {
			t.Fatalf("unexpected result %v", got)
		}
	})

	t.Run("find with empty in", func(t *testing.T) {
		docs, err := s.Find(ctx, c, query.Predicate{}.And(query.In(query.FieldID, nil)), DefaultSort(c), Page{})
		if err != nil || len(docs) != 0 {
			t.Fatalf("expected no documents, got %v %v", ids(docs), err)
		}
	})

	t.Run("offset and limit", func(t *testing.T) {
		docs, err := s.Find(ctx, c, query.Predicate{}, DefaultSort(c), Page{Offset: 1, Limit: 2})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got := ids(docs); !equalStrings(got, []string{"a2", "a3"}) {
			t.Fatalf("unexpected page %v", got)
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		docs, err := s.Find(ctx, c, query.Predicate{}, DefaultSort(c), Page{Offset: 10, Limit: 2})
		if err != nil || len(docs) != 0 {
			t.Fatalf("expected empty page, got %v %v", ids(docs), err)
		}
	})

	t.Run("keyset after", func(t *testing.T) {
		docs, err := s.Find(ctx, c, query.Predicate{}, DefaultSort(c), Page{After: "a2", Limit: 5})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got := ids(docs); !equalStrings(got, []string{"a3", "a4"}) {
			t.Fatalf("unexpected page %v", got)
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.Count(ctx, c, query.Predicate{}.And(query.Eq(query.FieldMedia, "m1")))
		if err != nil || n != 3 {
			t.Fatalf("Count = %d, %v; want 3", n, err)
		}
	})

	t.Run("count by creator", func(t *testing.T) {
		counts, err := s.CountBy(ctx, c, query.FieldCreator)
		if err != nil {
			t.Fatalf("CountBy: %v", err)
		}
		if counts["bob"] != 2 || counts["alice"] != 1 || counts[query.SystemUser] != 1 {
			t.Fatalf("unexpected counts %v", counts)
		}
	})

	t.Run("get returns payload unchanged", func(t *testing.T) {
		doc, err := s.Get(ctx, c, "a3")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		content, _ := doc["content"].(map[string]interface{})
		if content["data"] != "payload-a3" {
			t.Fatalf("unexpected payload %v", doc)
		}
		if _, leaked := doc["_id"]; leaked {
			t.Fatal("storage key leaked into document")
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.Get(ctx, c, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		if err := s.Put(ctx, c, "a2", annotation("a2", "m3", "bob")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		doc, err := s.Get(ctx, c, "a2")
		if err != nil || doc["media"] != "m3" {
			t.Fatalf("Put not applied: %v %v", doc, err)
		}
	})

	t.Run("put missing", func(t *testing.T) {
		if err := s.Put(ctx, c, "nope", annotation("nope", "m1", "x")); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, c, "a4"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, c, "a4"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("dotted keys survive", func(t *testing.T) {
		doc := annotation("a9", "m1", "carol")
		doc["meta"].(map[string]interface{})["dc:created.contents"] = "2024-01-01"
		if _, err := s.Insert(ctx, c, doc); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := s.Get(ctx, c, "a9")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		meta, _ := got["meta"].(map[string]interface{})
		if meta["dc:created.contents"] != "2024-01-01" {
			t.Fatalf("dotted key lost: %v", meta)
		}
	})

	t.Run("package sources match through arrays", func(t *testing.T) {
		pkg := Document{
			"id": "p1",
			"imports": []interface{}{
				map[string]interface{}{"id": "i1", "url": "http://example.org/a"},
				map[string]interface{}{"id": "i2", "url": "http://example.org/b"},
			},
		}
		if _, err := s.Insert(ctx, query.CollectionPackage, pkg); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		p := query.Predicate{}.And(query.Eq(query.FieldSources, "http://example.org/b"))
		n, err := s.Count(ctx, query.CollectionPackage, p)
		if err != nil || n != 1 {
			t.Fatalf("Count = %d, %v; want 1", n, err)
		}
	})
}
