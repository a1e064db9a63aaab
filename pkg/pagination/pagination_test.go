package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=0", DefaultLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=5000", MaxLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}

	e := echo.New()
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/beds"+tt.query, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		p := FromContext(c)
		if p.Limit != tt.limit || p.Offset != tt.offset {
			t.Errorf("FromContext(%q) = %+v, want limit=%d offset=%d", tt.query, p, tt.limit, tt.offset)
		}
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{Params{Limit: 10, Offset: 30}, 25, 25, 25},
		{Params{Limit: 10, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		s, e := tt.p.Window(tt.n)
		if s != tt.start || e != tt.end {
			t.Errorf("%+v.Window(%d) = (%d, %d), want (%d, %d)", tt.p, tt.n, s, e, tt.start, tt.end)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, Params{Limit: 2, Offset: 0})
	if !resp.HasMore {
		t.Error("expected has_more with 50 total")
	}
	if resp.Total != 50 || resp.Limit != 2 {
		t.Errorf("unexpected response %+v", resp)
	}

	last := NewResponse([]string{"z"}, 3, Params{Limit: 2, Offset: 2})
	if last.HasMore {
		t.Error("expected no more results on final page")
	}
}
