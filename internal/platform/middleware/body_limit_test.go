package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"64K", 64 << 10},
		{"64kb", 64 << 10},
		{"1M", 1 << 20},
		{"2G", 2 << 30},
		{"", 1 << 20},
		{"lots", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := ParseSize(tt.in); got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func readAll(c echo.Context) error {
	_, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	h := BodyLimit("16")(readAll)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("small body: unexpected error %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	err := h(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from Content-Length, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(strings.Repeat("x", 64))))
	req.ContentLength = -1
	err = h(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 while reading, got %v", err)
	}
}
