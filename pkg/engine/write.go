package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
)

const (
	// OldIDKey keeps a replaced short id.
	OldIDKey = "mds:oldid"
	// TypeTitleKey names an annotation type by title instead of id.
	TypeTitleKey = "type_title"

	frameOfReferenceKey = "http://advene.liris.cnrs.fr/ns/frame_of_reference/ms"
	minIDLength         = 4
)

// InsertOptions carries request context for an insert.
type InsertOptions struct {
	// User is the login the document is posted under, if any. It becomes the
	// default annotation creator.
	User string
}

// Insert normalizes and stores a new document, returning it as stored.
func (e *Engine) Insert(ctx context.Context, c query.Collection, doc document.Document, opts InsertOptions) (document.Document, error) {
	doc, err := e.prepare(ctx, c, document.Clone(doc), opts, nil)
	if err != nil {
		return nil, err
	}
	if err := e.insert(ctx, c, doc); err != nil {
		return nil, err
	}
	e.relationsChanged(ctx, c)
	return doc, nil
}

func (e *Engine) insert(ctx context.Context, c query.Collection, doc document.Document) error {
	return write(ctx, e, c, "insert", func(ctx context.Context) error {
		_, err := e.store.Insert(ctx, c, doc)
		return err
	})
}

// Put replaces the document stored under id. A key in the body must equal id.
// Annotations get the same creator and type_title handling as on insert.
func (e *Engine) Put(ctx context.Context, c query.Collection, id string, doc document.Document) (document.Document, error) {
	doc = document.Clone(doc)
	key := c.PrimaryKey()
	if body := document.Key(c, doc); body != "" && body != id {
		return nil, query.NewError(query.KindInvalidDocument, "body %s %q does not match %q", key, body, id).
			WithDetail("field", string(key))
	}
	doc[string(key)] = id

	if c != query.CollectionUser && c != query.CollectionUserInfo {
		meta := metaOf(doc)
		meta["dc:modified"] = e.timestamp()
		if _, ok := meta["dc:created"]; !ok {
			meta["dc:created"] = meta["dc:modified"]
		}
		if c == query.CollectionAnnotation {
			if err := e.normalizeAnnotation(ctx, doc, meta, ""); err != nil {
				return nil, err
			}
		}
	}
	delete(doc, frameOfReferenceKey)

	err := write(ctx, e, c, "put", func(ctx context.Context) error {
		return e.store.Put(ctx, c, id, doc)
	})
	if err != nil {
		return nil, err
	}
	e.relationsChanged(ctx, c)
	return doc, nil
}

// Delete removes one document.
func (e *Engine) Delete(ctx context.Context, c query.Collection, id string) error {
	err := write(ctx, e, c, "delete", func(ctx context.Context) error {
		return e.store.Delete(ctx, c, id)
	})
	if err != nil {
		return err
	}
	e.relationsChanged(ctx, c)
	return nil
}

// prepare fills in what a stored document must carry. mapping, when not nil,
// records replaced short ids.
func (e *Engine) prepare(ctx context.Context, c query.Collection, doc document.Document, opts InsertOptions, mapping map[string]string) (document.Document, error) {
	if doc == nil {
		return nil, query.NewError(query.KindInvalidDocument, "document is empty")
	}
	delete(doc, frameOfReferenceKey)

	if c == query.CollectionUser || c == query.CollectionUserInfo {
		if document.Key(c, doc) == "" {
			return nil, query.NewError(query.KindInvalidDocument, "%s requires a login", c).
				WithDetail("field", string(query.FieldLogin))
		}
		return doc, nil
	}

	assignID(doc, mapping)
	if c == query.CollectionTrace {
		return doc, nil
	}

	meta := metaOf(doc)
	now := e.timestamp()
	for _, k := range []string{"dc:created", "dc:modified"} {
		if s, _ := meta[k].(string); s == "" {
			meta[k] = now
		}
	}

	if c == query.CollectionAnnotation {
		if err := e.normalizeAnnotation(ctx, doc, meta, opts.User); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// normalizeAnnotation defaults the creator to user, or to the system user,
// and resolves a type_title.
func (e *Engine) normalizeAnnotation(ctx context.Context, doc document.Document, meta map[string]interface{}, user string) error {
	if s, _ := meta["dc:creator"].(string); s == "" {
		if user == "" {
			user = query.SystemUser
		}
		meta["dc:creator"] = user
	}
	return e.resolveTypeTitle(ctx, doc, meta)
}

// assignID gives doc a UUID when it has no id or one too short to be unique.
func assignID(doc document.Document, mapping map[string]string) {
	id, _ := doc["id"].(string)
	switch {
	case id == "":
		doc["id"] = uuid.NewString()
	case len(id) < minIDLength:
		fresh := uuid.NewString()
		doc[OldIDKey] = id
		doc["id"] = fresh
		if mapping != nil {
			mapping[id] = fresh
		}
	}
}

// resolveTypeTitle turns a type_title into an id-ref, creating the
// annotation type when no type has that title.
func (e *Engine) resolveTypeTitle(ctx context.Context, doc document.Document, meta map[string]interface{}) error {
	title, _ := doc[TypeTitleKey].(string)
	delete(doc, TypeTitleKey)
	if s, _ := meta["id-ref"].(string); s != "" || title == "" {
		return nil
	}

	c := query.CollectionAnnotationType
	pred := query.Predicate{}.And(query.Eq(query.FieldTitle, title))
	found, err := read(ctx, e, c, "find", func(ctx context.Context) ([]document.Document, error) {
		return e.store.Find(ctx, c, pred, document.DefaultSort(c), document.Page{Limit: 1})
	})
	if err != nil {
		return err
	}
	if len(found) > 0 {
		meta["id-ref"] = document.Key(c, found[0])
		return nil
	}

	created := e.timestamp()
	at := document.Document{
		"id": uuid.NewString(),
		"meta": map[string]interface{}{
			"dc:title":       title,
			"dc:description": "",
			"dc:creator":     query.SystemUser,
			"dc:contributor": query.SystemUser,
			"dc:created":     created,
			"dc:modified":    created,
		},
	}
	if err := e.insert(ctx, c, at); err != nil {
		return err
	}
	e.logger.WithContext(ctx).Info("annotation type created from title", "id", at["id"], "title", title)
	meta["id-ref"] = at["id"]
	return nil
}

// metaOf returns doc's "meta" object, creating it when absent.
func metaOf(doc document.Document) map[string]interface{} {
	switch m := doc["meta"].(type) {
	case map[string]interface{}:
		return m
	case document.Document:
		return m
	}
	m := map[string]interface{}{}
	doc["meta"] = m
	return m
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// relationsChanged invalidates the relationship index after media or
// package writes and tells other replicas.
func (e *Engine) relationsChanged(ctx context.Context, c query.Collection) {
	if c != query.CollectionMedia && c != query.CollectionPackage {
		return
	}
	e.index.Invalidate()
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx); err != nil {
		e.logger.WithContext(ctx).Warn("failed to broadcast relationship index invalidation", "error", err)
	}
}
