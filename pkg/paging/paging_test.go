package paging

import (
	"testing"

	"github.com/nimburion/mds/pkg/query"
)

func TestParse(t *testing.T) {
	cfg := Config{DefaultLimit: 20, MaxLimit: 100}
	tests := []struct {
		name       string
		params     Params
		wantOffset int
		wantLimit  int
		wantAfter  string
		notices    []query.Kind
		wantErr    query.Kind
	}{
		{name: "defaults", wantLimit: 20},
		{name: "explicit", params: Params{Offset: "40", Limit: "10"}, wantOffset: 40, wantLimit: 10},
		{name: "zero limit uses default", params: Params{Limit: "0"}, wantLimit: 20, notices: []query.Kind{query.KindInvalidPageSize}},
		{name: "negative limit uses default", params: Params{Limit: "-5"}, wantLimit: 20, notices: []query.Kind{query.KindInvalidPageSize}},
		{name: "limit clamped", params: Params{Limit: "1000"}, wantLimit: 100, notices: []query.Kind{query.KindInvalidPageSize}},
		{name: "negative offset", params: Params{Offset: "-1"}, wantLimit: 20, notices: []query.Kind{query.KindPageOutOfRange}},
		{name: "non-numeric limit", params: Params{Limit: "ten"}, wantErr: query.KindInvalidPageSize},
		{name: "non-numeric offset", params: Params{Offset: "x"}, wantErr: query.KindInvalidPageSize},
		{name: "cursor", params: Params{Cursor: EncodeCursor("a1")}, wantLimit: 20, wantAfter: "a1"},
		{name: "cursor drops offset", params: Params{Cursor: EncodeCursor("a1"), Offset: "5"}, wantLimit: 20, wantAfter: "a1", notices: []query.Kind{query.KindPageOutOfRange}},
		{name: "bad cursor", params: Params{Cursor: "!!"}, wantErr: query.KindInvalidPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(tt.params, cfg)
			if tt.wantErr != "" {
				if !query.IsKind(err, tt.wantErr) {
					t.Fatalf("expected %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Offset != tt.wantOffset || req.Limit != tt.wantLimit || req.After != tt.wantAfter {
				t.Fatalf("got offset=%d limit=%d after=%q", req.Offset, req.Limit, req.After)
			}
			if req.Cursor != (tt.wantAfter != "") {
				t.Fatalf("cursor mode = %v", req.Cursor)
			}
			if len(req.Notices) != len(tt.notices) {
				t.Fatalf("notices = %+v, want kinds %v", req.Notices, tt.notices)
			}
			for i, k := range tt.notices {
				if req.Notices[i].Kind != k {
					t.Fatalf("notice %d kind = %s, want %s", i, req.Notices[i].Kind, k)
				}
			}
		})
	}
}

func TestParse_NormalizesConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		limit string
		want  int
	}{
		{name: "zero config keeps default maximum", cfg: Config{}, limit: "80", want: 80},
		{name: "zero config clamps to default maximum", cfg: Config{}, limit: "900", want: 500},
		{name: "zero config default limit", cfg: Config{}, want: 50},
		{name: "missing maximum", cfg: Config{DefaultLimit: 20}, limit: "300", want: 300},
		{name: "maximum below default", cfg: Config{DefaultLimit: 100, MaxLimit: 10}, limit: "150", want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(Params{Limit: tt.limit}, tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Limit != tt.want {
				t.Fatalf("limit = %d, want %d", req.Limit, tt.want)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, key := range []string{"a", "42", "ann/with:odd chars", "ü"} {
		got, err := DecodeCursor(EncodeCursor(key))
		if err != nil || got != key {
			t.Fatalf("round trip %q: got %q, %v", key, got, err)
		}
	}
	if _, err := DecodeCursor(""); err == nil {
		t.Fatal("empty cursor should be rejected")
	}
}
