package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		target string
		limit  int
		offset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"max limit", "/?limit=500", MaxLimit, 0},
		{"negative limit", "/?limit=-5", DefaultLimit, 0},
		{"negative offset", "/?offset=-3", DefaultLimit, 0},
		{"non-numeric", "/?limit=abc&offset=xyz", DefaultLimit, 0},
		{"page", "/?limit=10&page=3", 10, 20},
		{"offset wins over page", "/?limit=10&page=3&offset=5", 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.target)
			if p.Limit != tt.limit {
				t.Errorf("limit: expected %d, got %d", tt.limit, p.Limit)
			}
			if p.Offset != tt.offset {
				t.Errorf("offset: expected %d, got %d", tt.offset, p.Offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !resp.HasMore {
		t.Error("expected HasMore with 5 total and first page of 2")
	}
	resp = NewResponse([]string{"e"}, 5, 2, 4)
	if resp.HasMore {
		t.Error("expected no more results on last page")
	}
	if resp.Total != 5 || resp.Limit != 2 || resp.Offset != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
}
