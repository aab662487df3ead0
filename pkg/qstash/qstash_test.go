package qstash

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotRetries, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, Token: "tok", Destination: "session-events", Retries: 2})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	id, err := client.Publish(context.Background(), []byte(`{"type":"reset"}`))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "msg_1" {
		t.Fatalf("unexpected message id: %q", id)
	}
	if gotPath != "/v2/publish/session-events" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotAuth != "Bearer tok" || gotRetries != "2" {
		t.Fatalf("unexpected headers: auth=%q retries=%q", gotAuth, gotRetries)
	}
	if gotBody != `{"type":"reset"}` {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestPublishErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := MustNew(Config{URL: srv.URL, Token: "bad", Destination: "topic"})
	if _, err := client.Publish(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{Destination: "topic"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewClient(Config{Token: "tok"}); err == nil {
		t.Fatal("expected error for missing destination")
	}
	if _, err := NewClient(Config{URL: "::bad", Token: "tok", Destination: "topic"}); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
