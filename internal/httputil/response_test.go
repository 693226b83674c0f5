package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	svcerrors "github.com/Sivtheng/message-maxy/internal/errors"
)

func TestWriteServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, svcerrors.RateLimitExceeded(2, "1s"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != string(svcerrors.CodeRateLimited) || body["details"] == nil {
		t.Fatalf("body = %v", body)
	}

	rec = httptest.NewRecorder()
	WriteServiceError(rec, errors.New("secret internals"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("plain errors must be masked: %d %s", rec.Code, rec.Body.String())
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("hello"), 10)
	if err != nil || truncated || string(data) != "hello" {
		t.Fatalf("got %q %v %v", data, truncated, err)
	}
	data, truncated, err = ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil || !truncated || string(data) != "hello" {
		t.Fatalf("got %q %v %v", data, truncated, err)
	}
	if _, err := ReadAllStrict(strings.NewReader("hello world"), 5); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Content string `json:"content"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi"}`))
	if err := DecodeJSON(req, &dst, 1024); err != nil || dst.Content != "hi" {
		t.Fatalf("decode: %v %q", err, dst.Content)
	}
	for _, body := range []string{"", "   ", "{bad"} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := DecodeJSON(req, &dst, 1024); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := ClientIP(req, false); got != "10.0.0.1" {
		t.Fatalf("untrusted ClientIP = %s", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("trusted ClientIP = %s", got)
	}
}
