// Package paging parses pagination parameters and shapes result pages.
//
// Two modes are supported. Offset mode reports a total; cursor mode walks the
// collection by primary key and hands back an opaque cursor for the next page.
// Out-of-range offsets and out-of-bounds sizes never fail a request: they
// produce an empty or clamped page plus a Notice.
package paging

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/nimburion/mds/pkg/query"
)

// Config bounds page sizes.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultConfig returns the page sizes used when none are configured.
func DefaultConfig() Config {
	return Config{DefaultLimit: 50, MaxLimit: 500}
}

// Params are the raw query-string values.
type Params struct {
	Offset string
	Limit  string
	Cursor string
}

// Notice reports a non-fatal adjustment made to a request.
type Notice struct {
	Kind    query.Kind `json:"kind"`
	Message string     `json:"message"`
}

// Request is a validated page request.
type Request struct {
	Offset int
	Limit  int
	// After is the decoded cursor key. Set only in cursor mode.
	After   string
	Cursor  bool
	Notices []Notice
}

// Parse validates raw parameters. Sizes outside (0, MaxLimit] are replaced
// and reported as notices; only unparseable values are errors.
func Parse(p Params, cfg Config) (Request, error) {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultConfig().MaxLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}

	req := Request{Limit: cfg.DefaultLimit}

	if s := strings.TrimSpace(p.Limit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Request{}, query.NewError(query.KindInvalidPageSize, "limit %q is not a number", p.Limit).
				WithDetail("param", "limit")
		}
		switch {
		case n <= 0:
			req.notice(query.KindInvalidPageSize, "limit %d is not positive, using %d", n, cfg.DefaultLimit)
		case n > cfg.MaxLimit:
			req.Limit = cfg.MaxLimit
			req.notice(query.KindInvalidPageSize, "limit %d exceeds maximum, clamped to %d", n, cfg.MaxLimit)
		default:
			req.Limit = n
		}
	}

	if s := strings.TrimSpace(p.Offset); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Request{}, query.NewError(query.KindInvalidPageSize, "offset %q is not a number", p.Offset).
				WithDetail("param", "offset")
		}
		if n < 0 {
			req.notice(query.KindPageOutOfRange, "offset %d is negative, using 0", n)
			n = 0
		}
		req.Offset = n
	}

	if s := strings.TrimSpace(p.Cursor); s != "" {
		key, err := DecodeCursor(s)
		if err != nil {
			return Request{}, err
		}
		req.Cursor = true
		req.After = key
		if req.Offset != 0 {
			req.notice(query.KindPageOutOfRange, "offset is ignored when a cursor is given")
			req.Offset = 0
		}
	}
	return req, nil
}

func (r *Request) notice(kind query.Kind, format string, args ...interface{}) {
	r.Notices = append(r.Notices, Notice{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// EncodeCursor returns the opaque cursor positioned after key.
func EncodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(b) == 0 {
		return "", query.NewError(query.KindInvalidPageSize, "malformed cursor").
			WithDetail("param", "cursor")
	}
	return string(b), nil
}
