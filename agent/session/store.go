package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrStatsNotFound = errors.New("session stats not found")
)

const (
	defaultStoreKeyPrefix = "fleet:session:"
	defaultStoreTTL       = 24 * time.Hour
	maxResponseSizeBytes  = 2 << 20
)

// StatsStore persists session snapshots for operators and other replicas.
type StatsStore interface {
	Load(ctx context.Context, key Key) (Stats, error)
	Save(ctx context.Context, st Stats) error
	Delete(ctx context.Context, key Key) error
}

// StoreOption customizes UpstashStatsStore.
type StoreOption func(*UpstashStatsStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashStatsStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashStatsStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashStatsStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashStatsStore writes Stats to Upstash Redis via its REST API.
type UpstashStatsStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashStatsStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashStatsStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashStatsStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultStoreKeyPrefix,
		ttl:        defaultStoreTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *UpstashStatsStore) Load(ctx context.Context, key Key) (Stats, error) {
	rkey, err := s.redisKey(key)
	if err != nil {
		return Stats{}, err
	}

	resp, err := s.exec(ctx, []any{"GET", rkey})
	if err != nil {
		return Stats{}, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return Stats{}, fmt.Errorf("%w: %s", ErrStatsNotFound, key)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return Stats{}, fmt.Errorf("decode stats payload: %w", err)
	}

	var st Stats
	if err := json.Unmarshal([]byte(encoded), &st); err != nil {
		return Stats{}, fmt.Errorf("unmarshal session stats: %w", err)
	}
	return st, nil
}

func (s *UpstashStatsStore) Save(ctx context.Context, st Stats) error {
	rkey, err := s.redisKey(st.Key)
	if err != nil {
		return err
	}
	if !st.LastResetAt.IsZero() {
		st.LastResetAt = st.LastResetAt.UTC()
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session stats: %w", err)
	}

	cmd := []any{"SET", rkey, string(payload)}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashStatsStore) Delete(ctx context.Context, key Key) error {
	rkey, err := s.redisKey(key)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", rkey})
	return err
}

func (s *UpstashStatsStore) redisKey(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + key.Kind + ":" + key.ConfigID, nil
}

func (s *UpstashStatsStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
