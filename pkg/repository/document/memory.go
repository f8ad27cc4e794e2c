package document

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nimburion/mds/pkg/query"
)

// MemoryStore is an in-process Store used for development and tests.
// Documents are deep-copied on the way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[query.Collection]map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[query.Collection]map[string]Document),
	}
}

func (s *MemoryStore) matching(c query.Collection, p query.Predicate) []Document {
	var out []Document
	for _, doc := range s.docs[c] {
		d := doc
		if p.Match(func(f query.Field) []string { return FieldValues(c, d, f) }) {
			out = append(out, d)
		}
	}
	return out
}

// Find returns matching documents ordered by sort.Field, then paged.
func (s *MemoryStore) Find(ctx context.Context, c query.Collection, p query.Predicate, order Sort, page Page) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.matching(c, p)
	sortKey := func(d Document) string {
		values := FieldValues(c, d, order.Field)
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if order.Order == SortDesc {
			return sortKey(docs[i]) > sortKey(docs[j])
		}
		return sortKey(docs[i]) < sortKey(docs[j])
	})

	if page.After != "" {
		start := len(docs)
		for i, d := range docs {
			k := sortKey(d)
			if (order.Order == SortDesc && k < page.After) || (order.Order != SortDesc && k > page.After) {
				start = i
				break
			}
		}
		docs = docs[start:]
	}
	if page.Offset > 0 {
		if page.Offset >= len(docs) {
			docs = nil
		} else {
			docs = docs[page.Offset:]
		}
	}
	if page.Limit > 0 && len(docs) > page.Limit {
		docs = docs[:page.Limit]
	}

	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Clone(d)
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, c query.Collection, p query.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(c, p))), nil
}

func (s *MemoryStore) Get(ctx context.Context, c query.Collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[c][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return Clone(doc), nil
}

func (s *MemoryStore) CountBy(ctx context.Context, c query.Collection, field query.Field) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, doc := range s.docs[c] {
		values := FieldValues(c, doc, field)
		if len(values) == 0 {
			continue
		}
		counts[values[0]]++
	}
	return counts, nil
}

func (s *MemoryStore) Insert(ctx context.Context, c query.Collection, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := Key(c, doc)
	if id == "" {
		return "", fmt.Errorf("%s: %w", c, ErrMissingKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[c] == nil {
		s.docs[c] = make(map[string]Document)
	}
	if _, exists := s.docs[c][id]; exists {
		return "", fmt.Errorf("%s/%s: %w", c, id, ErrDuplicate)
	}
	s.docs[c][id] = Clone(doc)
	return id, nil
}

func (s *MemoryStore) Put(ctx context.Context, c query.Collection, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[c][id]; !exists {
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	s.docs[c][id] = Clone(doc)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, c query.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[c][id]; !exists {
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	delete(s.docs[c], id)
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
