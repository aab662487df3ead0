package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type staticSource []Stats

func (s staticSource) Stats() []Stats { return s }

type memoryStore struct {
	mu    sync.Mutex
	saved map[Key]Stats
	fail  Key
}

func (m *memoryStore) Load(ctx context.Context, key Key) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.saved[key]
	if !ok {
		return Stats{}, ErrStatsNotFound
	}
	return st, nil
}

func (m *memoryStore) Save(ctx context.Context, st Stats) error {
	if st.Key == m.fail {
		return errors.New("unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[Key]Stats{}
	}
	m.saved[st.Key] = st
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, key)
	return nil
}

func TestExporterExportOnce(t *testing.T) {
	t.Parallel()

	broken := Key{Kind: "sqlgen", ConfigID: "broken"}
	store := &memoryStore{fail: broken}
	source := staticSource{
		{Key: testKey, InvocationCount: 3},
		{Key: broken},
	}

	err := NewExporter(source, store, 0).ExportOnce(context.Background())
	if err == nil {
		t.Fatalf("ExportOnce() expected error for broken key")
	}

	st, err := store.Load(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.InvocationCount != 3 {
		t.Fatalf("exported counter = %d, want 3", st.InvocationCount)
	}
}

func TestExporterWithManager(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 5})
	if _, err := m.WithSession(context.Background(), testKey, okCall); err != nil {
		t.Fatalf("WithSession() error = %v", err)
	}

	store := &memoryStore{}
	if err := NewExporter(m, store, 0).ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce() error = %v", err)
	}
	st, err := store.Load(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.InvocationCount != 1 || st.Threshold != 5 || st.State != StateReady {
		t.Fatalf("exported stats = %+v", st)
	}
}
