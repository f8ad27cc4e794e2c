package controller

import (
	"errors"
	"net/http"

	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/server/router"
)

// SuccessResponse represents a successful response with data
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// ListResponse is the envelope of a resolved collection page.
type ListResponse struct {
	Data      []document.Document `json:"data"`
	Paging    paging.Meta         `json:"paging"`
	RequestID string              `json:"request_id,omitempty"`
}

// Success sends a successful JSON response with HTTP 200 OK
func Success(c router.Context, data interface{}) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: logger.RequestIDFromContext(c.Request().Context()),
	})
}

// Created sends a successful JSON response with HTTP 201 Created
func Created(c router.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, SuccessResponse{
		Data:      data,
		RequestID: logger.RequestIDFromContext(c.Request().Context()),
	})
}

// List sends a page of documents with its paging metadata.
func List(c router.Context, page paging.Page) error {
	return c.JSON(http.StatusOK, ListResponse{
		Data:      page.Items,
		Paging:    page.Meta,
		RequestID: logger.RequestIDFromContext(c.Request().Context()),
	})
}

// NoContent sends a successful response with HTTP 204 No Content
func NoContent(c router.Context) error {
	c.Response().WriteHeader(http.StatusNoContent)
	return nil
}

// Error sends an error response with the appropriate HTTP status code
func Error(c router.Context, err error) error {
	statusCode, errorResponse := MapError(c.Request().Context(), err)
	return c.JSON(statusCode, errorResponse)
}

// BindDocument decodes a JSON object request body. Malformed or non-object
// bodies are reported as invalid_document; an oversized body keeps its
// *http.MaxBytesError so Error can answer 413.
func BindDocument(c router.Context) (document.Document, error) {
	var doc document.Document
	if err := c.Bind(&doc); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, query.NewError(query.KindInvalidDocument, "request body must be a JSON object").WithCause(err)
	}
	if doc == nil {
		return nil, query.NewError(query.KindInvalidDocument, "request body must be a JSON object")
	}
	return doc, nil
}
