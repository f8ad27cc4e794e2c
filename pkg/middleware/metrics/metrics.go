// Package metrics records Prometheus metrics for HTTP requests.
package metrics

import (
	"time"

	"github.com/nimburion/mds/pkg/observability/metrics"
	"github.com/nimburion/mds/pkg/server/router"
)

// LabelFunc derives the "path" label of a request. It must return values
// from a small fixed set.
type LabelFunc func(c router.Context) string

// unmatched labels requests that reached no route.
const unmatched = "unmatched"

// Metrics creates middleware that records request duration, request count and
// in-flight requests. Without a LabelFunc the matched route pattern is used.
func Metrics(label ...LabelFunc) router.MiddlewareFunc {
	pathLabel := func(c router.Context) string { return router.Pattern(c) }
	if len(label) > 0 && label[0] != nil {
		pathLabel = label[0]
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			metrics.IncrementInFlight()
			defer metrics.DecrementInFlight()

			start := time.Now()
			err := next(c)

			path := pathLabel(c)
			if path == "" {
				path = unmatched
			}
			metrics.RecordHTTPMetrics(c.Request().Method, path, c.Response().Status(), time.Since(start))
			return err
		}
	}
}
