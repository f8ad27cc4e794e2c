package paging

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
)

// AnnotationCountKey is the computed field added to media items.
const AnnotationCountKey = "annotation-count"

// Meta is the paging block of a list response.
type Meta struct {
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	Total      *int64   `json:"total,omitempty"`
	HasMore    bool     `json:"has_more"`
	NextCursor string   `json:"next_cursor,omitempty"`
	Notices    []Notice `json:"notices,omitempty"`
}

// Page is an ordered slice of results with its metadata.
type Page struct {
	Items []document.Document
	Meta  Meta
}

// Shape builds a page from the documents fetched for req. docs must have been
// read with a limit of req.Limit+1 so one extra item signals more results.
// total is nil in cursor mode. A next cursor is returned whenever more
// results exist, so an offset page can be continued by key.
func Shape(c query.Collection, req Request, docs []document.Document, total *int64) Page {
	meta := Meta{
		Offset:  req.Offset,
		Limit:   req.Limit,
		Total:   total,
		Notices: append([]Notice(nil), req.Notices...),
	}
	if len(docs) > req.Limit {
		docs = docs[:req.Limit]
		meta.HasMore = true
	}
	if req.Cursor {
		meta.Offset = 0
	}
	if meta.HasMore && len(docs) > 0 {
		meta.NextCursor = EncodeCursor(document.Key(c, docs[len(docs)-1]))
	}
	if len(docs) == 0 && req.Offset > 0 && total != nil && req.Offset >= int(*total) {
		meta.Notices = append(meta.Notices, Notice{
			Kind:    query.KindPageOutOfRange,
			Message: fmt.Sprintf("offset %d is past the last of %d results", req.Offset, *total),
		})
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return Page{Items: docs, Meta: meta}
}

// CountFunc counts the annotations attached to a media.
type CountFunc func(ctx context.Context, mediaID string) (int64, error)

// AddAnnotationCounts sets AnnotationCountKey on every media item from a live
// count, running at most concurrency counts at once.
func AddAnnotationCounts(ctx context.Context, items []document.Document, concurrency int, count CountFunc) error {
	if len(items) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	counts := make([]int64, len(items))
	for i, item := range items {
		id := document.Key(query.CollectionMedia, item)
		if id == "" {
			continue
		}
		g.Go(func() error {
			n, err := count(ctx, id)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, item := range items {
		item[AnnotationCountKey] = counts[i]
	}
	return nil
}
