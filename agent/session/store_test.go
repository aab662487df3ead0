package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newStoreServer(t *testing.T, reply string, got *[]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestUpstashStatsStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashStatsStore{}
	got, err := store.redisKey(Key{Kind: "sqlgen", ConfigID: "default"})
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "fleet:session:sqlgen:default" {
		t.Fatalf("redisKey() = %q", got)
	}

	if _, err := store.redisKey(Key{Kind: "  "}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidKey", err)
	}
}

func TestUpstashStatsStoreSave(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newStoreServer(t, `{"result":"OK"}`, &gotCommand)

	store, err := NewUpstashStatsStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithTTL(90*time.Second),
	)
	if err != nil {
		t.Fatalf("NewUpstashStatsStore() error = %v", err)
	}

	st := Stats{Key: testKey, State: StateReady, InvocationCount: 7, Threshold: 50}
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" || gotCommand[1] != "fleet:session:sqlgen:default" {
		t.Fatalf("command = %#v", gotCommand[:2])
	}
	if gotCommand[3] != "EX" || gotCommand[4] != float64(90) {
		t.Fatalf("ttl args = %#v", gotCommand[3:])
	}
}

func TestUpstashStatsStoreLoad(t *testing.T) {
	t.Parallel()

	seed := Stats{Key: testKey, State: StateContaminated, Contaminated: true, LastSignature: "Error:"}
	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	var gotCommand []any
	server := newStoreServer(t, fmt.Sprintf(`{"result":%s}`, encoded), &gotCommand)
	store, err := NewUpstashStatsStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashStatsStore() error = %v", err)
	}

	st, err := store.Load(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.State != StateContaminated || st.LastSignature != "Error:" {
		t.Fatalf("Load() = %+v", st)
	}
	if gotCommand[0] != "GET" {
		t.Fatalf("command[0] = %v, want GET", gotCommand[0])
	}
}

func TestUpstashStatsStoreLoadMissing(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newStoreServer(t, `{"result":null}`, &gotCommand)
	store, err := NewUpstashStatsStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashStatsStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), testKey); !errors.Is(err, ErrStatsNotFound) {
		t.Fatalf("Load() error = %v, want ErrStatsNotFound", err)
	}
}

func TestUpstashStatsStoreRedisError(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := newStoreServer(t, `{"error":"WRONGPASS"}`, &gotCommand)
	store, err := NewUpstashStatsStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashStatsStore() error = %v", err)
	}

	if err := store.Delete(context.Background(), testKey); err == nil || err.Error() != "WRONGPASS" {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotCommand[0] != "DEL" {
		t.Fatalf("command[0] = %v, want DEL", gotCommand[0])
	}
}

func TestNewUpstashStatsStoreValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashStatsStore(UpstashRedisConfig{Token: "token"}); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewUpstashStatsStore(UpstashRedisConfig{URL: "https://example.upstash.io"}); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewUpstashStatsStore(UpstashRedisConfig{URL: "https://example.upstash.io", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}
