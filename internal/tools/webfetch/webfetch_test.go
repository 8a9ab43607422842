package webfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTool_FetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from the server"))
	}))
	defer srv.Close()

	tool := New(0, 0)
	args, _ := json.Marshal(map[string]any{"url": srv.URL})
	result, err := tool.Execute(context.Background(), args)
	if err != nil || result.IsError {
		t.Fatalf("Execute: %v %+v", err, result)
	}
	if result.Content != "hello from the server" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestTool_TruncatesAtMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	tool := New(10, 0)
	args, _ := json.Marshal(map[string]any{"url": srv.URL})
	result, err := tool.Execute(context.Background(), args)
	if err != nil || result.IsError {
		t.Fatalf("Execute: %v %+v", err, result)
	}
	if !strings.Contains(result.Content, "truncated") {
		t.Fatalf("expected truncation notice, got %q", result.Content)
	}
}

func TestTool_RejectsNonHTTPScheme(t *testing.T) {
	tool := New(0, 0)
	args, _ := json.Marshal(map[string]any{"url": "file:///etc/passwd"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a non-http(s) scheme")
	}
}

func TestTool_RateLimiterRejectsWhenContextExpiresFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tool := New(0, 0)
	args, _ := json.Marshal(map[string]any{"url": srv.URL})

	// Drain the burst, then issue one more call against an already-expired
	// context: the limiter must refuse to wait and surface an error result
	// instead of making the request.
	for i := 0; i < maxConcurrentFetches; i++ {
		if _, err := tool.Execute(context.Background(), args); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	result, err := tool.Execute(expired, args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected rate-limit wait to fail against an expired context")
	}
}

func TestTool_SurfacesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tool := New(0, 0)
	args, _ := json.Marshal(map[string]any{"url": srv.URL})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a 404 response")
	}
}
