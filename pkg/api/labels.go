package api

import (
	"strings"

	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/server/router"
)

var endpoints = map[string]struct{}{
	"contributors": {},
	"bundle":       {},
	"import":       {},
	"index":        {},
}

// MetricsLabel names a request by its first path segment, e.g. "/api/media"
// or "/api/media/*" for anything below it. Unknown segments collapse into
// "/api/other" so the label set stays fixed.
func MetricsLabel(c router.Context) string {
	pattern := router.Pattern(c)
	if !strings.HasPrefix(pattern, Prefix+"/") {
		return pattern
	}
	segments := query.SplitPath(c.Param(pathParam))
	if len(segments) == 0 {
		return Prefix
	}
	head := segments[0]
	_, known := endpoints[head]
	if _, ok := query.ParseCollection(head); !ok && !known {
		head = "other"
	}
	label := Prefix + "/" + head
	if len(segments) > 1 {
		label += "/*"
	}
	return label
}
