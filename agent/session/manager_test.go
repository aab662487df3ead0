package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

type fakeResource struct {
	id       int
	training atomic.Bool
	blocked  atomic.Int64
	closed   atomic.Bool
}

func (r *fakeResource) EnableTraining()            { r.training.Store(true) }
func (r *fakeResource) DisableTraining()           { r.training.Store(false) }
func (r *fakeResource) BlockedTrainingWrites() int { return int(r.blocked.Load()) }
func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return nil
}

// write mimics a training call arriving outside setup.
func (r *fakeResource) write(ctx context.Context) error {
	if !r.training.Load() {
		r.blocked.Add(1)
		NoteBlockedWrite(ctx)
		return contractx.ErrTrainingBlocked
	}
	return nil
}

type fakeFactory struct {
	builds        atomic.Int64
	trainedInMode atomic.Bool
	delay         time.Duration
	buildErr      error
}

func (f *fakeFactory) Build(ctx context.Context, key Key) (*fakeResource, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	n := f.builds.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &fakeResource{id: int(n)}, nil
}

func (f *fakeFactory) Train(ctx context.Context, key Key, res *fakeResource) error {
	f.trainedInMode.Store(res.training.Load())
	return res.write(ctx)
}

var testKey = Key{Kind: "sqlgen", ConfigID: "default"}

func newTestManager(f *fakeFactory, cfg Config, opts ...Option[*fakeResource]) *Manager[*fakeResource] {
	return NewManager[*fakeResource](f, cfg, opts...)
}

func okCall(ctx context.Context, r *fakeResource) (string, error) {
	return "SELECT " + strconv.Itoa(r.id), nil
}

func TestWithSessionSetsUpOnceForConcurrentCallers(t *testing.T) {
	t.Parallel()

	for _, concurrent := range []bool{false, true} {
		factory := &fakeFactory{delay: 20 * time.Millisecond}
		m := newTestManager(factory, Config{ResetThreshold: 50, ConcurrentReads: concurrent})

		const callers = 16
		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < callers; i++ {
			g.Go(func() error {
				_, err := m.WithSession(ctx, testKey, okCall)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent=%v WithSession() error = %v", concurrent, err)
		}

		if got := factory.builds.Load(); got != 1 {
			t.Fatalf("concurrent=%v builds = %d, want 1", concurrent, got)
		}
		st, ok := m.Stat(testKey)
		if !ok {
			t.Fatalf("Stat() missing session")
		}
		if st.InvocationCount != callers || st.Setups != 1 || st.InFlight != 0 {
			t.Fatalf("concurrent=%v stats = %+v", concurrent, st)
		}
	}
}

func TestWithSessionTrainsOnlyDuringSetup(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 10})

	if _, err := m.WithSession(context.Background(), testKey, okCall); err != nil {
		t.Fatalf("WithSession() error = %v", err)
	}
	if !factory.trainedInMode.Load() {
		t.Fatalf("Train() ran outside training mode")
	}

	var stillTraining bool
	_, _ = m.WithSession(context.Background(), testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		stillTraining = r.training.Load()
		return "SELECT 1", nil
	})
	if stillTraining {
		t.Fatalf("training mode leaked out of setup")
	}
}

func TestWithSessionResetsAtThreshold(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 3})
	ctx := context.Background()

	var first *fakeResource
	for i := 1; i <= 3; i++ {
		_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
			first = r
			return "SELECT 1", nil
		})
		if err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
		st, _ := m.Stat(testKey)
		if st.InvocationCount != i {
			t.Fatalf("after call %d counter = %d", i, st.InvocationCount)
		}
	}

	var fourth *fakeResource
	if _, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		fourth = r
		return "SELECT 1", nil
	}); err != nil {
		t.Fatalf("fourth call error = %v", err)
	}

	if fourth == first {
		t.Fatalf("fourth call reused the pre-reset resource")
	}
	if !first.closed.Load() {
		t.Fatalf("discarded resource was not closed")
	}
	st, _ := m.Stat(testKey)
	if st.InvocationCount != 1 || st.Resets != 1 || st.Setups != 2 {
		t.Fatalf("stats after reset = %+v", st)
	}
}

func TestWithSessionContaminationMarksAndRecovers(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []Event
	)
	hook := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 50}, WithEventHook[*fakeResource](hook))
	ctx := context.Background()

	_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		return "Error: you are not allowed to see the data", nil
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("WithSession() error = %v, want ErrContaminationDetected", err)
	}
	st, _ := m.Stat(testKey)
	if st.State != StateContaminated || !st.Contaminated {
		t.Fatalf("state = %s contaminated = %v", st.State, st.Contaminated)
	}

	out, err := m.WithSession(ctx, testKey, okCall)
	if err != nil {
		t.Fatalf("WithSession() after contamination error = %v", err)
	}
	if out != "SELECT 2" {
		t.Fatalf("output = %q, want a fresh resource", out)
	}
	st, _ = m.Stat(testKey)
	if st.State != StateReady || st.Resets != 1 || st.InvocationCount != 1 {
		t.Fatalf("stats after recovery = %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	var kinds []EventType
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	want := []EventType{EventSetup, EventContamination, EventReset, EventSetup}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestWithSessionBlockedTrainingWriteContaminates(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50})

	_, err := m.WithSession(context.Background(), testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		// Refused without reporting through ctx.
		_ = r.write(context.Background())
		return "SELECT 1", nil
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("WithSession() error = %v, want ErrContaminationDetected", err)
	}
	st, _ := m.Stat(testKey)
	if st.LastSignature != SignatureTrainingWrite || st.BlockedTrainingWrites != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestWithSessionRepeatedErrorsMarkReset(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 50, ErrorResetThreshold: 2})
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
			return "", boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	st, _ := m.Stat(testKey)
	if st.InvocationCount != 0 || st.ConsecutiveErrors != 2 {
		t.Fatalf("stats after errors = %+v", st)
	}

	if _, err := m.WithSession(ctx, testKey, okCall); err != nil {
		t.Fatalf("WithSession() error = %v", err)
	}
	if got := factory.builds.Load(); got != 2 {
		t.Fatalf("builds = %d, want 2", got)
	}
}

func TestWithSessionLockTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50, LockTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
			close(inside)
			<-release
			return "SELECT 1", nil
		})
		done <- err
	}()
	<-inside

	_, err := m.WithSession(ctx, testKey, okCall)
	if !errors.Is(err, contractx.ErrSessionLockTimeout) {
		t.Fatalf("WithSession() error = %v, want ErrSessionLockTimeout", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder error = %v", err)
	}
}

func TestWithSessionReleasesOnPanic(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50, LockTimeout: time.Second})
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		_, _ = m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
			panic("boom")
		})
	}()

	if _, err := m.WithSession(ctx, testKey, okCall); err != nil {
		t.Fatalf("WithSession() after panic error = %v", err)
	}
	st, _ := m.Stat(testKey)
	if st.InFlight != 0 || st.InvocationCount != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestResetIsSynchronous(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50})
	ctx := context.Background()

	if _, err := m.WithSession(ctx, testKey, okCall); err != nil {
		t.Fatalf("WithSession() error = %v", err)
	}
	before, _ := m.Stat(testKey)

	if err := m.Reset(ctx, testKey, ""); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	after, _ := m.Stat(testKey)
	if after.State != StateReady || after.InvocationCount != 0 || after.Resets != 1 {
		t.Fatalf("stats after reset = %+v", after)
	}
	if after.InstanceID == before.InstanceID {
		t.Fatalf("instance id unchanged after reset")
	}
	if after.LastResetAt.IsZero() {
		t.Fatalf("last reset time not recorded")
	}
}

func TestWithSessionSetupFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("no schema")
	m := newTestManager(&fakeFactory{buildErr: boom}, Config{ResetThreshold: 50})

	_, err := m.WithSession(context.Background(), testKey, okCall)
	if !errors.Is(err, ErrSetupFailed) || !errors.Is(err, boom) {
		t.Fatalf("WithSession() error = %v", err)
	}
	st, _ := m.Stat(testKey)
	if st.State != StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", st.State)
	}
}

func TestWithSessionKeysAreIndependent(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 50})
	other := Key{Kind: "sqlgen", ConfigID: "fd002"}

	for _, k := range []Key{testKey, other, testKey} {
		if _, err := m.WithSession(context.Background(), k, okCall); err != nil {
			t.Fatalf("WithSession(%s) error = %v", k, err)
		}
	}
	stats := m.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() len = %d, want 2", len(stats))
	}
	if stats[0].Key != testKey || stats[0].InvocationCount != 2 {
		t.Fatalf("stats[0] = %+v", stats[0])
	}
	if stats[1].Key != other || stats[1].InvocationCount != 1 {
		t.Fatalf("stats[1] = %+v", stats[1])
	}
}

func TestWithSessionRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{})
	_, err := m.WithSession(context.Background(), Key{Kind: "sqlgen"}, okCall)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("WithSession() error = %v, want ErrInvalidKey", err)
	}
}

func TestWarmSetsUpOnce(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	m := newTestManager(factory, Config{ResetThreshold: 50})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.Warm(ctx, testKey); err != nil {
			t.Fatalf("Warm() error = %v", err)
		}
	}
	st, ok := m.Stat(testKey)
	if !ok || st.State != StateReady || st.Setups != 1 || st.Resets != 0 {
		t.Fatalf("stats after warm = %+v", st)
	}
	if got := factory.builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
}

func TestSharedSessionBlamesOnlyTheWritingCall(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeFactory{}, Config{ResetThreshold: 50, ConcurrentReads: true, MaxReaders: 4})
	ctx := context.Background()
	if err := m.Warm(ctx, testKey); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	written := make(chan struct{})
	innocentDone := make(chan struct{})
	var innocentErr error
	go func() {
		defer close(innocentDone)
		_, innocentErr = m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
			<-written
			return okCall(ctx, r)
		})
	}()

	_, err := m.WithSession(ctx, testKey, func(ctx context.Context, r *fakeResource) (string, error) {
		_ = r.write(ctx)
		close(written)
		<-innocentDone
		return "SELECT 1", nil
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("writing call error = %v, want ErrContaminationDetected", err)
	}
	if innocentErr != nil {
		t.Fatalf("overlapping call error = %v, want nil", innocentErr)
	}
	st, _ := m.Stat(testKey)
	if !st.Contaminated || st.BlockedTrainingWrites != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestEventHooksRunWithoutSessionLock(t *testing.T) {
	t.Parallel()

	var (
		m        *Manager[*fakeResource]
		mu       sync.Mutex
		kinds    []EventType
		unlocked []bool
	)
	hook := func(ev Event) {
		s := m.session(ev.Key)
		free := s.sem.TryAcquire(m.full())
		if free {
			s.sem.Release(m.full())
		}
		mu.Lock()
		kinds = append(kinds, ev.Type)
		unlocked = append(unlocked, free)
		mu.Unlock()
	}
	m = newTestManager(&fakeFactory{}, Config{ResetThreshold: 50}, WithEventHook[*fakeResource](hook))
	ctx := context.Background()

	if err := m.Warm(ctx, testKey); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	_, _ = m.WithSession(ctx, testKey, func(context.Context, *fakeResource) (string, error) {
		return "Cannot generate SQL", nil
	})
	if err := m.Reset(ctx, testKey, ReasonManual); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventSetup, EventContamination, EventReset, EventSetup}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] || !unlocked[i] {
			t.Fatalf("event %d %s ran with the session locked (events %v, unlocked %v)", i, kinds[i], kinds, unlocked)
		}
	}
}
