package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

type recordingPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	got    chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, body []byte) (string, error) {
	p.mu.Lock()
	p.bodies = append(p.bodies, body)
	p.mu.Unlock()
	p.got <- struct{}{}
	return "msg", nil
}

func TestNotifierPublishesResetAndContamination(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{got: make(chan struct{}, 8)}
	n := NewNotifier(pub, 8)
	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50}, WithEventHook[*fakeResource](n.Hook))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		return "Cannot generate SQL for this request", nil
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("WithSession() error = %v", err)
	}
	if err := m.Reset(ctx, testKey, ReasonManual); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-pub.got:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var types []EventType
	for _, body := range pub.bodies {
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Key != testKey {
			t.Fatalf("unexpected key: %+v", ev.Key)
		}
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[0] != EventContamination || types[1] != EventReset {
		t.Fatalf("published events = %v", types)
	}
}

func TestNotifierDropsWhenFull(t *testing.T) {
	t.Parallel()

	n := NewNotifier(&recordingPublisher{got: make(chan struct{}, 1)}, 1)
	n.Hook(Event{Type: EventReset, Key: testKey})
	n.Hook(Event{Type: EventReset, Key: testKey})
	n.Hook(Event{Type: EventSetup, Key: testKey})

	if got := len(n.events); got != 1 {
		t.Fatalf("queued events = %d, want 1", got)
	}
}
