// Package api exposes the resource graph over HTTP.
//
// Every method is served by one catch-all route under /api; the path is split
// into segments and dispatched here, so nested traversals of any depth reach
// the resolver unchanged.
package api

import (
	"context"
	"net/http"

	"github.com/nimburion/mds/pkg/controller"
	"github.com/nimburion/mds/pkg/engine"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/server/router"
)

// Prefix is the mount point of the API.
const Prefix = "/api"

const pathParam = "path"

// Service is the part of the engine the handlers use.
type Service interface {
	Resolve(ctx context.Context, segments, rawFilters []string, params paging.Params) (paging.Page, error)
	Get(ctx context.Context, c query.Collection, id string) (document.Document, error)
	Insert(ctx context.Context, c query.Collection, doc document.Document, opts engine.InsertOptions) (document.Document, error)
	Put(ctx context.Context, c query.Collection, id string, doc document.Document) (document.Document, error)
	Delete(ctx context.Context, c query.Collection, id string) error
	Bundle(ctx context.Context, packageID string) (*engine.Bundle, error)
	Import(ctx context.Context, data document.Document) (*engine.ImportResult, error)
	Contributors(ctx context.Context) (map[string]map[query.Collection]int64, error)
	Unmatched(ctx context.Context) ([]relindex.Unmatched, error)
}

var _ Service = (*engine.Engine)(nil)

// Handler serves the /api routes.
type Handler struct {
	service Service
	log     logger.Logger
}

// NewHandler crea gli handler HTTP sopra il servizio dato.
// Cosa fa: registra le rotte catch-all e traduce gli errori in risposte JSON.
// Cosa NON fa: non applica middleware; quelli arrivano dal server.
func NewHandler(service Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log}
}

// Register mounts the handlers on r under Prefix.
func (h *Handler) Register(r router.Router) {
	g := r.Group(Prefix)
	g.GET("/*"+pathParam, h.get)
	g.POST("/*"+pathParam, h.post)
	g.PUT("/*"+pathParam, h.put)
	g.DELETE("/*"+pathParam, h.delete)
}

func (h *Handler) get(c router.Context) error {
	ctx := c.Request().Context()
	segments := query.SplitPath(c.Param(pathParam))

	switch {
	case len(segments) == 1 && segments[0] == "contributors":
		counts, err := h.service.Contributors(ctx)
		if err != nil {
			return h.fail(c, err)
		}
		return controller.Success(c, counts)

	case len(segments) == 2 && segments[0] == "bundle":
		bundle, err := h.service.Bundle(ctx, segments[1])
		if err != nil {
			return h.fail(c, err)
		}
		return controller.Success(c, bundle)

	case len(segments) == 2 && segments[0] == "index" && segments[1] == "unmatched":
		unmatched, err := h.service.Unmatched(ctx)
		if err != nil {
			return h.fail(c, err)
		}
		return controller.Success(c, unmatched)
	}

	if coll, id, ok := resourcePath(segments); ok {
		doc, err := h.service.Get(ctx, coll, id)
		if err != nil {
			return h.fail(c, err)
		}
		return controller.Success(c, doc)
	}

	values := c.Request().URL.Query()
	page, err := h.service.Resolve(ctx, segments, values["filter"], paging.Params{
		Offset: values.Get("offset"),
		Limit:  values.Get("limit"),
		Cursor: values.Get("cursor"),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return controller.List(c, page)
}

func (h *Handler) post(c router.Context) error {
	ctx := c.Request().Context()
	segments := query.SplitPath(c.Param(pathParam))

	var (
		coll query.Collection
		opts engine.InsertOptions
	)
	switch {
	case len(segments) == 1 && segments[0] == "import":
		body, err := controller.BindDocument(c)
		if err != nil {
			return h.fail(c, err)
		}
		result, err := h.service.Import(ctx, body)
		if err != nil {
			return h.fail(c, err)
		}
		return controller.Created(c, result)

	case len(segments) == 3 && segments[0] == string(query.CollectionUser) && segments[2] == string(query.CollectionAnnotation):
		coll = query.CollectionAnnotation
		opts.User = segments[1]

	case len(segments) == 1:
		parsed, ok := query.ParseCollection(segments[0])
		if !ok {
			return h.fail(c, unknownCollection(segments[0]))
		}
		coll = parsed

	default:
		return h.fail(c, unsupportedPath(http.MethodPost, segments))
	}

	body, err := controller.BindDocument(c)
	if err != nil {
		return h.fail(c, err)
	}
	doc, err := h.service.Insert(ctx, coll, body, opts)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Created(c, doc)
}

func (h *Handler) put(c router.Context) error {
	segments := query.SplitPath(c.Param(pathParam))
	coll, id, ok := resourcePath(segments)
	if !ok {
		return h.fail(c, unsupportedPath(http.MethodPut, segments))
	}
	body, err := controller.BindDocument(c)
	if err != nil {
		return h.fail(c, err)
	}
	doc, err := h.service.Put(c.Request().Context(), coll, id, body)
	if err != nil {
		return h.fail(c, err)
	}
	return controller.Success(c, doc)
}

func (h *Handler) delete(c router.Context) error {
	segments := query.SplitPath(c.Param(pathParam))
	coll, id, ok := resourcePath(segments)
	if !ok {
		return h.fail(c, unsupportedPath(http.MethodDelete, segments))
	}
	if err := h.service.Delete(c.Request().Context(), coll, id); err != nil {
		return h.fail(c, err)
	}
	return controller.NoContent(c)
}

// fail writes the mapped error response. Server-side failures are logged
// here since the body hides their cause.
func (h *Handler) fail(c router.Context, err error) error {
	status, resp := controller.MapError(c.Request().Context(), err)
	if status >= http.StatusInternalServerError {
		h.log.WithContext(c.Request().Context()).Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", status,
			"error", err,
		)
	}
	return c.JSON(status, resp)
}

// resourcePath matches "{collection}/{id}" for a queryable collection.
func resourcePath(segments []string) (query.Collection, string, bool) {
	if len(segments) != 2 || segments[1] == "" {
		return "", "", false
	}
	coll, ok := query.ParseCollection(segments[0])
	if !ok || !coll.Queryable() {
		return "", "", false
	}
	return coll, segments[1], true
}

func unknownCollection(name string) error {
	return query.NewError(query.KindInvalidPath, "unknown collection %q", name).
		WithDetail("segment", name)
}

func unsupportedPath(method string, segments []string) error {
	return query.NewError(query.KindInvalidPath, "%s is not supported on this path", method).
		WithDetail("path", segments)
}
