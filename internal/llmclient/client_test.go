package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifyError_MapsStatusCodesToClasses(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorClass
	}{
		{401, ErrorClassAuth},
		{403, ErrorClassAuth},
		{429, ErrorClassRateLimited},
		{413, ErrorClassContentTooLong},
		{500, ErrorClassProviderInternal},
	}
	for _, tc := range cases {
		got := ClassifyError(&APIError{StatusCode: tc.status})
		if got != tc.want {
			t.Errorf("status %d: got %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestClassifyError_NilIsUnknown(t *testing.T) {
	if got := ClassifyError(nil); got != ErrorClassUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestHTTPClient_Complete_ReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "key", Model: "test-model"})
	text, err := c.Complete(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hello" {
		t.Fatalf("expected 'hello', got %q", text)
	}
}

func TestHTTPClient_Complete_NonRetryableFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "bad", MaxRetries: 3})
	_, err := c.Complete(context.Background(), "say hi")
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for a non-retryable error, got %d", calls)
	}
}
