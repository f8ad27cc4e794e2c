package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/mds/pkg/engine"
	"github.com/nimburion/mds/pkg/observability/logger"
	"github.com/nimburion/mds/pkg/paging"
	"github.com/nimburion/mds/pkg/query"
	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/repository/document"
	"github.com/nimburion/mds/pkg/server/router"
	ginadapter "github.com/nimburion/mds/pkg/server/router/gin"
	gorillaadapter "github.com/nimburion/mds/pkg/server/router/gorilla"
)

var routers = []struct {
	name   string
	create func() router.Router
}{
	{name: "gin", create: func() router.Router { return ginadapter.NewRouter() }},
	{name: "gorilla", create: func() router.Router { return gorillaadapter.NewRouter() }},
}

func seed(t *testing.T, store *document.MemoryStore) {
	t.Helper()
	docs := map[query.Collection][]document.Document{
		query.CollectionMedia: {
			{"id": "m-42", "url": "http://videos.example.org/42.mp4"},
			{"id": "m-43", "url": "http://videos.example.org/43.mp4"},
		},
		query.CollectionPackage: {
			{"id": "pkg-1", "imports": []interface{}{map[string]interface{}{"url": "http://videos.example.org/42.mp4"}}},
			{"id": "pkg-2", "imports": []interface{}{map[string]interface{}{"url": "http://nowhere.example.org/x.mp4"}}},
		},
		query.CollectionAnnotation: {
			{"id": "a-01", "media": "m-42", "meta": map[string]interface{}{"dc:creator": "alice", "id-ref": "t-1"}},
			{"id": "a-02", "media": "m-42", "meta": map[string]interface{}{"dc:creator": "bob", "id-ref": "t-1"}},
			{"id": "a-03", "media": "m-43", "meta": map[string]interface{}{"dc:creator": "alice", "id-ref": "t-1"}},
		},
		query.CollectionAnnotationType: {
			{"id": "t-1", "meta": map[string]interface{}{"dc:title": "shot"}},
		},
		query.CollectionUser: {
			{"login": "alice"},
		},
	}
	for c, list := range docs {
		for _, d := range list {
			if _, err := store.Insert(context.Background(), c, d); err != nil {
				t.Fatalf("seed %s: %v", c, err)
			}
		}
	}
}

func newServer(t *testing.T, create func() router.Router, cfg engine.Config) http.Handler {
	t.Helper()
	store := document.NewMemoryStore()
	seed(t, store)
	idx := relindex.New(store, logger.Nop(), relindex.Config{})
	r := create()
	NewHandler(engine.New(store, idx, logger.Nop(), cfg), logger.Nop()).Register(r)
	return r
}

type envelope struct {
	Data   json.RawMessage        `json:"data"`
	Paging map[string]interface{} `json:"paging"`
	Error  string                 `json:"error"`
	Code   string                 `json:"code"`
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, w.Body.String(), err)
		}
	}
	return w.Code, env
}

func listIDs(t *testing.T, env envelope) []string {
	t.Helper()
	var docs []map[string]interface{}
	if err := json.Unmarshal(env.Data, &docs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["id"].(string)
		if out[i] == "" {
			out[i], _ = d["login"].(string)
		}
	}
	return out
}

func TestHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantIDs    []string
		wantCode   string
	}{
		{name: "collection", target: "/api/media", wantStatus: http.StatusOK, wantIDs: []string{"m-42", "m-43"}},
		{name: "nested", target: "/api/media/m-42/annotation", wantStatus: http.StatusOK, wantIDs: []string{"a-01", "a-02"}},
		{name: "filter equals nesting", target: "/api/annotation?filter=media:m-42", wantStatus: http.StatusOK, wantIDs: []string{"a-01", "a-02"}},
		{name: "user filter", target: "/api/annotation?filter=user:alice", wantStatus: http.StatusOK, wantIDs: []string{"a-01", "a-03"}},
		{name: "package media", target: "/api/package/pkg-1/media", wantStatus: http.StatusOK, wantIDs: []string{"m-42"}},
		{name: "unresolved package", target: "/api/package/pkg-2/media", wantStatus: http.StatusOK, wantIDs: []string{}},
		{name: "user annotations", target: "/api/user/alice/annotation", wantStatus: http.StatusOK, wantIDs: []string{"a-01", "a-03"}},
		{name: "paged", target: "/api/annotation?limit=1&offset=1", wantStatus: http.StatusOK, wantIDs: []string{"a-02"}},
		{name: "unknown collection", target: "/api/widget", wantStatus: http.StatusBadRequest, wantCode: "invalid_path"},
		{name: "trace is not listable", target: "/api/trace", wantStatus: http.StatusBadRequest, wantCode: "invalid_path"},
		{name: "unknown filter", target: "/api/annotation?filter=colour:red", wantStatus: http.StatusBadRequest, wantCode: "invalid_filter"},
		{name: "conflict", target: "/api/media/m-42/annotation?filter=media:m-43", wantStatus: http.StatusConflict, wantCode: "conflicting_filter"},
		{name: "bad limit", target: "/api/media?limit=ten", wantStatus: http.StatusBadRequest, wantCode: "invalid_page_size"},
		{name: "missing resource", target: "/api/media/nope", wantStatus: http.StatusNotFound, wantCode: "not_found"},
	}

	for _, rt := range routers {
		h := newServer(t, rt.create, engine.DefaultConfig())
		for _, tt := range tests {
			t.Run(rt.name+"/"+tt.name, func(t *testing.T) {
				status, env := do(t, h, http.MethodGet, tt.target, "")
				if status != tt.wantStatus {
					t.Fatalf("status = %d, want %d (%+v)", status, tt.wantStatus, env)
				}
				if tt.wantCode != "" {
					if env.Code != tt.wantCode {
						t.Fatalf("code = %q, want %q", env.Code, tt.wantCode)
					}
					return
				}
				got := listIDs(t, env)
				if strings.Join(got, ",") != strings.Join(tt.wantIDs, ",") {
					t.Fatalf("ids = %v, want %v", got, tt.wantIDs)
				}
			})
		}
	}
}

func TestHandler_GetResource(t *testing.T) {
	h := newServer(t, routers[0].create, engine.DefaultConfig())

	status, env := do(t, h, http.MethodGet, "/api/media/m-42", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["id"] != "m-42" {
		t.Fatalf("unexpected doc %v", doc)
	}
	if doc[paging.AnnotationCountKey] != float64(2) {
		t.Fatalf("expected annotation count 2, got %v", doc[paging.AnnotationCountKey])
	}
}

func TestHandler_Paging(t *testing.T) {
	h := newServer(t, routers[1].create, engine.DefaultConfig())

	status, env := do(t, h, http.MethodGet, "/api/annotation?limit=2", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if env.Paging["total"] != float64(3) || env.Paging["has_more"] != true {
		t.Fatalf("unexpected paging %v", env.Paging)
	}
	cursor, _ := env.Paging["next_cursor"].(string)
	if cursor == "" {
		t.Fatal("expected next cursor")
	}

	status, env = do(t, h, http.MethodGet, "/api/annotation?limit=2&cursor="+cursor, "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if got := listIDs(t, env); len(got) != 1 || got[0] != "a-03" {
		t.Fatalf("unexpected second page %v", got)
	}
	if _, ok := env.Paging["total"]; ok {
		t.Fatalf("cursor pages carry no total: %v", env.Paging)
	}
}

func TestHandler_Restricted(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Restricted = true
	h := newServer(t, routers[0].create, cfg)

	if status, env := do(t, h, http.MethodGet, "/api/annotation", ""); status != http.StatusForbidden || env.Code != "too_generic" {
		t.Fatalf("expected too_generic, got %d %+v", status, env)
	}
	if status, _ := do(t, h, http.MethodGet, "/api/media/m-42/annotation", ""); status != http.StatusOK {
		t.Fatalf("expected nested path to pass, got %d", status)
	}
}

func TestHandler_Writes(t *testing.T) {
	for _, rt := range routers {
		t.Run(rt.name, func(t *testing.T) {
			h := newServer(t, rt.create, engine.DefaultConfig())

			status, env := do(t, h, http.MethodPost, "/api/user/bob/annotation", `{"id":"a-99","media":"m-43"}`)
			if status != http.StatusCreated {
				t.Fatalf("insert status = %d (%+v)", status, env)
			}
			var created map[string]interface{}
			if err := json.Unmarshal(env.Data, &created); err != nil {
				t.Fatalf("decode: %v", err)
			}
			meta, _ := created["meta"].(map[string]interface{})
			if meta["dc:creator"] != "bob" {
				t.Fatalf("expected path user as creator, got %v", meta)
			}

			_, env = do(t, h, http.MethodGet, "/api/media/m-43/annotation", "")
			if got := listIDs(t, env); strings.Join(got, ",") != "a-03,a-99" {
				t.Fatalf("unexpected annotations after insert %v", got)
			}

			if status, env := do(t, h, http.MethodPut, "/api/annotation/a-99", `{"id":"a-00","media":"m-43"}`); status != http.StatusBadRequest || env.Code != "invalid_document" {
				t.Fatalf("expected id mismatch rejection, got %d %+v", status, env)
			}
			if status, _ := do(t, h, http.MethodPut, "/api/annotation/a-99", `{"media":"m-42"}`); status != http.StatusOK {
				t.Fatalf("put status = %d", status)
			}
			_, env = do(t, h, http.MethodGet, "/api/media/m-42/annotation", "")
			if got := listIDs(t, env); strings.Join(got, ",") != "a-01,a-02,a-99" {
				t.Fatalf("unexpected annotations after put %v", got)
			}

			if status, _ := do(t, h, http.MethodDelete, "/api/annotation/a-99", ""); status != http.StatusNoContent {
				t.Fatalf("delete status = %d", status)
			}
			if status, _ := do(t, h, http.MethodGet, "/api/annotation/a-99", ""); status != http.StatusNotFound {
				t.Fatalf("expected deleted doc to be gone, got %d", status)
			}
			if status, _ := do(t, h, http.MethodDelete, "/api/annotation/a-99", ""); status != http.StatusNotFound {
				t.Fatalf("expected second delete to 404, got %d", status)
			}
		})
	}
}

func TestHandler_WriteErrors(t *testing.T) {
	h := newServer(t, routers[0].create, engine.DefaultConfig())

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown collection", http.MethodPost, "/api/widget", `{}`, http.StatusBadRequest, "invalid_path"},
		{"nested post", http.MethodPost, "/api/media/m-42/annotation", `{}`, http.StatusBadRequest, "invalid_path"},
		{"malformed body", http.MethodPost, "/api/annotation", `{"id":`, http.StatusBadRequest, "invalid_document"},
		{"duplicate", http.MethodPost, "/api/media", `{"id":"m-42"}`, http.StatusBadRequest, "invalid_document"},
		{"put missing", http.MethodPut, "/api/media/none", `{"url":"x"}`, http.StatusNotFound, "not_found"},
		{"put collection", http.MethodPut, "/api/media", `{}`, http.StatusBadRequest, "invalid_path"},
		{"delete trace", http.MethodDelete, "/api/trace/t1", "", http.StatusBadRequest, "invalid_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, h, tt.method, tt.target, tt.body)
			if status != tt.wantStatus || env.Code != tt.wantCode {
				t.Fatalf("got %d %q, want %d %q", status, env.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestHandler_Extras(t *testing.T) {
	h := newServer(t, routers[0].create, engine.DefaultConfig())

	status, env := do(t, h, http.MethodGet, "/api/contributors", "")
	if status != http.StatusOK {
		t.Fatalf("contributors status = %d", status)
	}
	var counts map[string]map[string]int64
	if err := json.Unmarshal(env.Data, &counts); err != nil {
		t.Fatalf("decode contributors: %v", err)
	}
	if counts["alice"]["annotation"] != 2 || counts["bob"]["annotation"] != 1 {
		t.Fatalf("unexpected contributors %v", counts)
	}

	status, env = do(t, h, http.MethodGet, "/api/bundle/pkg-1", "")
	if status != http.StatusOK {
		t.Fatalf("bundle status = %d", status)
	}
	var bundle map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	for _, key := range []string{"meta", "medias", "annotation-types", "annotations"} {
		if _, ok := bundle[key]; !ok {
			t.Fatalf("bundle misses %q: %v", key, bundle)
		}
	}

	status, env = do(t, h, http.MethodGet, "/api/index/unmatched", "")
	if status != http.StatusOK {
		t.Fatalf("unmatched status = %d", status)
	}
	var unmatched []relindex.Unmatched
	if err := json.Unmarshal(env.Data, &unmatched); err != nil {
		t.Fatalf("decode unmatched: %v", err)
	}
	if len(unmatched) != 1 || unmatched[0].Package != "pkg-2" {
		t.Fatalf("unexpected unmatched %v", unmatched)
	}

	if status, _ := do(t, h, http.MethodPost, "/api/trace", `{"@type":"view","subject":"m-42"}`); status != http.StatusCreated {
		t.Fatalf("trace status = %d", status)
	}
}

func TestHandler_Import(t *testing.T) {
	h := newServer(t, routers[1].create, engine.DefaultConfig())
	body := `{
		"meta": {"id": "imported", "imports": [{"url": "http://videos.example.org/43.mp4"}]},
		"medias": [{"id": "m1", "url": "http://videos.example.org/new.mp4"}],
		"annotation-types": [{"id": "shot-type"}],
		"annotations": [{"id": "an-1", "media": "m1", "type": "shot-type"}]
	}`

	status, env := do(t, h, http.MethodPost, "/api/import", body)
	if status != http.StatusCreated {
		t.Fatalf("import status = %d (%+v)", status, env)
	}
	var result engine.ImportResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode import: %v", err)
	}
	if result.Media != 1 || result.Annotations != 1 || result.AnnotationTypes != 1 {
		t.Fatalf("unexpected import result %+v", result)
	}
	newMedia := result.Remapped["m1"]
	if newMedia == "" {
		t.Fatalf("expected short media id to be remapped: %+v", result)
	}

	_, env = do(t, h, http.MethodGet, "/api/media/"+newMedia+"/annotation", "")
	if got := listIDs(t, env); len(got) != 1 {
		t.Fatalf("expected imported annotation under remapped media, got %v", got)
	}
}

func TestMetricsLabel(t *testing.T) {
	tests := map[string]string{
		"/api/media":                 "/api/media",
		"/api/media/m-42/annotation": "/api/media/*",
		"/api/bundle/pkg-1":          "/api/bundle/*",
		"/api/whatever/x":            "/api/other/*",
		"/api/contributors":          "/api/contributors",
	}
	for target, want := range tests {
		var got string
		r := ginadapter.NewRouter()
		r.GET("/api/*path", func(c router.Context) error {
			got = MetricsLabel(c)
			return c.String(http.StatusOK, "ok")
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
		if got != want {
			t.Errorf("MetricsLabel(%s) = %q, want %q", target, got, want)
		}
	}
}
