// Package compression encodes responses with brotli or gzip, negotiated
// from Accept-Encoding.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/nimburion/mds/pkg/server/router"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// Config controls response compression behavior.
type Config struct {
	Enabled      bool
	EnableBrotli bool
	GzipLevel    int
	BrotliLevel  int
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize              int
	ExcludedPathPrefixes []string
}

// DefaultConfig returns the defaults used when compression is enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		EnableBrotli: true,
		GzipLevel:    gzip.DefaultCompression,
		BrotliLevel:  4,
		MinSize:      1024,
	}
}

var compressible = []string{"application/json", "text/"}

// Middleware wraps the response writer when the client accepts an encoding.
// The body is buffered up to MinSize before deciding whether to compress.
func Middleware(cfg Config) router.MiddlewareFunc {
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = gzip.DefaultCompression
	}
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = DefaultConfig().BrotliLevel
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		if !cfg.Enabled {
			return next
		}
		return func(c router.Context) error {
			req := c.Request()
			if req.Method == http.MethodHead {
				return next(c)
			}
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if strings.HasPrefix(req.URL.Path, prefix) {
					return next(c)
				}
			}

			encoding := negotiate(req.Header.Get("Accept-Encoding"), cfg.EnableBrotli)
			if encoding == "" {
				return next(c)
			}
			appendVary(c.Response().Header(), "Accept-Encoding")

			w := &responseWriter{base: c.Response(), encoding: encoding, cfg: cfg}
			c.SetResponse(w)
			defer func() {
				c.SetResponse(w.base)
			}()

			err := next(c)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
			return err
		}
	}
}

// negotiate picks the encoding with the highest q-value, brotli winning ties.
func negotiate(accept string, brotliEnabled bool) string {
	if accept == "" {
		return ""
	}
	qBr, hasBr := quality(accept, encodingBrotli)
	qGzip, hasGzip := quality(accept, encodingGzip)
	if qAny, ok := quality(accept, "*"); ok {
		if !hasBr {
			qBr, hasBr = qAny, true
		}
		if !hasGzip {
			qGzip, hasGzip = qAny, true
		}
	}

	best, bestQ := "", 0.0
	if brotliEnabled && hasBr && qBr > 0 {
		best, bestQ = encodingBrotli, qBr
	}
	if hasGzip && qGzip > bestQ {
		best = encodingGzip
	}
	return best
}

func quality(accept, encoding string) (float64, bool) {
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), encoding) {
			continue
		}
		q := 1.0
		for _, param := range strings.Split(params, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(key, "q") {
				continue
			}
			if parsed, err := strconv.ParseFloat(value, 64); err == nil {
				q = parsed
			}
		}
		return q, true
	}
	return 0, false
}

type responseWriter struct {
	base     router.ResponseWriter
	encoding string
	cfg      Config

	status  int
	decided bool
	encoder io.WriteCloser
	buffer  bytes.Buffer
}

func (w *responseWriter) Header() http.Header {
	return w.base.Header()
}

func (w *responseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if bodiless(code) {
		w.decided = true
		w.base.WriteHeader(code)
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.decided {
		if w.encoder != nil {
			return w.encoder.Write(p)
		}
		return w.base.Write(p)
	}

	w.buffer.Write(p)
	if w.buffer.Len() >= w.cfg.MinSize {
		if err := w.decide(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// decide starts either the encoder or a plain passthrough and flushes what
// was buffered so far.
func (w *responseWriter) decide() error {
	w.decided = true
	if w.status == 0 {
		w.status = http.StatusOK
	}

	if w.buffer.Len() >= w.cfg.MinSize && w.Header().Get("Content-Encoding") == "" && isCompressible(w.Header().Get("Content-Type")) {
		switch w.encoding {
		case encodingBrotli:
			w.encoder = brotli.NewWriterLevel(w.base, w.cfg.BrotliLevel)
		case encodingGzip:
			gz, err := gzip.NewWriterLevel(w.base, w.cfg.GzipLevel)
			if err != nil {
				return fmt.Errorf("create gzip writer: %w", err)
			}
			w.encoder = gz
		}
		w.Header().Del("Content-Length")
		w.Header().Set("Content-Encoding", w.encoding)
	}

	w.base.WriteHeader(w.status)
	if w.buffer.Len() == 0 {
		return nil
	}
	var err error
	if w.encoder != nil {
		_, err = w.encoder.Write(w.buffer.Bytes())
	} else {
		_, err = w.base.Write(w.buffer.Bytes())
	}
	w.buffer.Reset()
	return err
}

// Close flushes a body that stayed under MinSize and terminates the encoder.
func (w *responseWriter) Close() error {
	if !w.decided {
		if w.status == 0 && w.buffer.Len() == 0 {
			return nil
		}
		if err := w.decide(); err != nil {
			return err
		}
	}
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}

func (w *responseWriter) Status() int {
	if w.status == 0 {
		return w.base.Status()
	}
	return w.status
}

func (w *responseWriter) Written() bool {
	return w.status != 0 || w.base.Written()
}

func bodiless(code int) bool {
	return code == http.StatusNoContent || code == http.StatusNotModified || (code >= 100 && code < 200)
}

func isCompressible(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, prefix := range compressible {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func appendVary(header http.Header, value string) {
	current := header.Get("Vary")
	if current == "" {
		header.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	header.Set("Vary", current+", "+value)
}
