package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/metrics"
)

const (
	DefaultResetThreshold      = 50
	DefaultErrorResetThreshold = 10
	DefaultLockTimeout         = 30 * time.Second
	defaultMaxReaders          = 64
)

// Config controls the lifecycle of every session owned by a Manager.
type Config struct {
	ResetThreshold      int           `envconfig:"SESSION_RESET_THRESHOLD" default:"50"`
	ErrorResetThreshold int           `envconfig:"SESSION_ERROR_RESET_THRESHOLD" default:"10"`
	LockTimeout         time.Duration `envconfig:"SESSION_LOCK_TIMEOUT" default:"30s"`
	// ConcurrentReads lets production calls share a session. Off means every call
	// holds the session exclusively.
	ConcurrentReads bool `envconfig:"SESSION_CONCURRENT_READS" default:"false"`
	MaxReaders      int  `envconfig:"SESSION_MAX_READERS" default:"64"`
}

func (c Config) normalized() Config {
	if c.ResetThreshold <= 0 {
		c.ResetThreshold = math.MaxInt
	}
	if c.LockTimeout < 0 {
		c.LockTimeout = 0
	}
	if c.MaxReaders <= 0 {
		c.MaxReaders = defaultMaxReaders
	}
	if !c.ConcurrentReads {
		c.MaxReaders = 1
	}
	return c
}

type EventType string

const (
	EventSetup         EventType = "setup"
	EventReset         EventType = "reset"
	EventContamination EventType = "contamination"
	EventSetupFailed   EventType = "setup_failed"
)

type Event struct {
	Type      EventType `json:"type"`
	Key       Key       `json:"key"`
	Reason    string    `json:"reason,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Stats     Stats     `json:"stats"`
	At        time.Time `json:"at"`
}

// EventHook observes lifecycle events. Hooks run on the caller's goroutine once
// the session lock is released. Stats are captured when the event happens.
type EventHook func(Event)

type Option[R Resource] func(*Manager[R])

func WithDetector[R Resource](d Detector) Option[R] {
	return func(m *Manager[R]) {
		if d != nil {
			m.detector = d
		}
	}
}

func WithEventHook[R Resource](hook EventHook) Option[R] {
	return func(m *Manager[R]) {
		if hook != nil {
			m.hooks = append(m.hooks, hook)
		}
	}
}

func WithClock[R Resource](now func() time.Time) Option[R] {
	return func(m *Manager[R]) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns one Session per Key. Sessions are created lazily and set up by
// the first caller that needs them.
type Manager[R Resource] struct {
	factory  Factory[R]
	detector Detector
	cfg      Config
	now      func() time.Time
	hooks    []EventHook

	mu       sync.Mutex
	sessions map[Key]*Session[R]
}

func NewManager[R Resource](factory Factory[R], cfg Config, opts ...Option[R]) *Manager[R] {
	m := &Manager[R]{
		factory:  factory,
		detector: NewSignatureDetector(nil, nil),
		cfg:      cfg.normalized(),
		now:      time.Now,
		sessions: make(map[Key]*Session[R]),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager[R]) session(key Key) *Session[R] {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		s = &Session[R]{
			key:   key,
			sem:   semaphore.NewWeighted(int64(m.cfg.MaxReaders)),
			state: StateUninitialized,
		}
		m.sessions[key] = s
	}
	return s
}

func (m *Manager[R]) full() int64 {
	return int64(m.cfg.MaxReaders)
}

// WithSession runs fn against the ready resource for key. It sets the session up
// on first use, resets it when the threshold is reached or it was marked for
// reset, and counts one invocation when fn succeeds. Output carrying a
// contamination signature marks the session contaminated and is returned as
// ErrContaminationDetected instead.
func (m *Manager[R]) WithSession(ctx context.Context, key Key, fn func(context.Context, R) (string, error)) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	s := m.session(key)

	res, err := m.acquire(ctx, s)
	if err != nil {
		return "", err
	}

	blockedBefore := res.BlockedTrainingWrites()
	callCtx, tally := withCallTally(ctx)
	finished := false
	var events []Event
	defer func() {
		if !finished {
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
		}
		s.sem.Release(1)
		m.emit(events)
	}()

	out, callErr := fn(callCtx, res)
	finished = true
	blocked := int(tally.blocked.Load())
	// An exclusive call owns every write refused while it ran.
	if m.cfg.MaxReaders == 1 {
		if d := res.BlockedTrainingWrites() - blockedBefore; d > blocked {
			blocked = d
		}
	}
	return m.complete(s, blocked, out, callErr, &events)
}

// acquire returns with one reader slot held and one in-flight call reserved.
func (m *Manager[R]) acquire(ctx context.Context, s *Session[R]) (R, error) {
	var zero R

	lockCtx, cancel := m.lockContext(ctx)
	defer cancel()

	for {
		if err := s.sem.Acquire(lockCtx, 1); err != nil {
			return zero, m.lockError(ctx, s.key, err)
		}

		s.mu.Lock()
		if s.state == StateReady && s.pendingReset == "" && s.counter+s.inflight < m.cfg.ResetThreshold {
			s.inflight++
			res := s.handle
			s.mu.Unlock()
			return res, nil
		}
		s.mu.Unlock()
		s.sem.Release(1)

		if err := s.sem.Acquire(lockCtx, m.full()); err != nil {
			return zero, m.lockError(ctx, s.key, err)
		}
		var events []Event
		err := m.prepareLocked(ctx, s, &events)
		s.sem.Release(m.full())
		m.emit(events)
		if err != nil {
			return zero, err
		}
	}
}

// prepareLocked brings the session to Ready. The caller holds the full weight.
func (m *Manager[R]) prepareLocked(ctx context.Context, s *Session[R], events *[]Event) error {
	s.mu.Lock()
	state, counter, pending := s.state, s.counter, s.pendingReset
	s.mu.Unlock()

	switch {
	case state == StateUninitialized:
		return m.setupLocked(ctx, s, events)
	case state == StateContaminated:
		return m.resetLocked(ctx, s, ReasonContamination, events)
	case pending != "":
		return m.resetLocked(ctx, s, pending, events)
	case counter >= m.cfg.ResetThreshold:
		return m.resetLocked(ctx, s, ReasonThreshold, events)
	}
	return nil
}

func (m *Manager[R]) setupLocked(ctx context.Context, s *Session[R], events *[]Event) error {
	s.mu.Lock()
	s.state = StateInitializing
	s.mu.Unlock()

	res, err := m.build(ctx, s.key)
	if err != nil {
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		m.record(s, events, Event{Type: EventSetupFailed, Key: s.key, Reason: err.Error()})
		log.Error().Err(err).Str(logx.SessionKeyField, s.key.String()).Msg("session setup failed")
		return err
	}

	s.mu.Lock()
	s.handle = res
	s.state = StateReady
	s.counter = 0
	s.inflight = 0
	s.contaminated = false
	s.pendingReset = ""
	s.consecutiveErrors = 0
	s.setups++
	s.instanceID = uuid.NewString()
	s.mu.Unlock()

	metrics.SessionSetupsTotal.WithLabelValues(s.key.String()).Inc()
	metrics.SessionInvocationCounter.WithLabelValues(s.key.String()).Set(0)
	m.record(s, events, Event{Type: EventSetup, Key: s.key})

	log.Info().
		Str(logx.SessionKeyField, s.key.String()).
		Msg("session ready")
	return nil
}

// build creates the resource and runs training. Training is enabled only here.
func (m *Manager[R]) build(ctx context.Context, key Key) (res R, err error) {
	res, err = m.factory.Build(ctx, key)
	if err != nil {
		return res, fmt.Errorf("%w: build %s: %w", ErrSetupFailed, key, err)
	}

	res.EnableTraining()
	defer res.DisableTraining()

	if err = m.factory.Train(ctx, key, res); err != nil {
		if cerr := res.Close(); cerr != nil {
			log.Warn().Err(cerr).Str(logx.SessionKeyField, key.String()).Msg("close after failed training")
		}
		var zero R
		return zero, fmt.Errorf("%w: train %s: %w", ErrSetupFailed, key, err)
	}
	return res, nil
}

// resetLocked discards the current resource and builds a new one before the
// caller releases the full weight.
func (m *Manager[R]) resetLocked(ctx context.Context, s *Session[R], reason string, events *[]Event) error {
	s.mu.Lock()
	old, hadHandle := s.handle, s.state != StateUninitialized
	var zero R
	s.handle = zero
	s.state = StateUninitialized
	s.counter = 0
	s.contaminated = false
	s.pendingReset = ""
	s.consecutiveErrors = 0
	s.resets++
	s.lastResetAt = m.now().UTC()
	s.mu.Unlock()

	if hadHandle {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str(logx.SessionKeyField, s.key.String()).Msg("close discarded session resource")
		}
	}

	metrics.SessionResetsTotal.WithLabelValues(s.key.String(), reason).Inc()
	log.Info().
		Str(logx.SessionKeyField, s.key.String()).
		Str("reason", reason).
		Msg("session reset")
	m.record(s, events, Event{Type: EventReset, Key: s.key, Reason: reason})

	return m.setupLocked(ctx, s, events)
}

// complete applies the outcome of one production call to the session bookkeeping.
// blocked is the number of training writes refused during the call.
func (m *Manager[R]) complete(s *Session[R], blocked int, out string, callErr error, events *[]Event) (string, error) {
	label := s.key.String()

	var (
		signature string
		dirty     bool
	)
	switch {
	case blocked > 0 || errors.Is(callErr, contractx.ErrTrainingBlocked):
		signature, dirty = SignatureTrainingWrite, true
	case callErr == nil:
		signature, dirty = m.detector.Detect(out)
	}

	s.mu.Lock()
	s.inflight--
	s.blockedWrites += blocked

	if callErr != nil && !dirty {
		s.consecutiveErrors++
		markReset := m.cfg.ErrorResetThreshold > 0 &&
			s.consecutiveErrors >= m.cfg.ErrorResetThreshold &&
			s.pendingReset == ""
		if markReset {
			s.pendingReset = ReasonErrors
		}
		s.mu.Unlock()

		metrics.SessionInvocationsTotal.WithLabelValues(label, "error").Inc()
		if markReset {
			log.Warn().
				Str(logx.SessionKeyField, label).
				Int("consecutive_errors", m.cfg.ErrorResetThreshold).
				Msg("session marked for reset after repeated errors")
		}
		return "", callErr
	}

	if callErr == nil {
		s.consecutiveErrors = 0
		s.counter++
	}
	counter := s.counter
	if dirty && s.state == StateReady {
		s.state = StateContaminated
		s.contaminated = true
		s.lastSignature = signature
	}
	s.mu.Unlock()

	metrics.SessionInvocationCounter.WithLabelValues(label).Set(float64(counter))
	if !dirty {
		metrics.SessionInvocationsTotal.WithLabelValues(label, "ok").Inc()
		return out, nil
	}

	metrics.SessionInvocationsTotal.WithLabelValues(label, "contaminated").Inc()
	metrics.SessionContaminationsTotal.WithLabelValues(label, signature).Inc()
	log.Warn().
		Str(logx.SessionKeyField, label).
		Str("signature", signature).
		Msg("session contaminated")
	m.record(s, events, Event{Type: EventContamination, Key: s.key, Signature: signature})

	cause := fmt.Errorf("%w: session=%s signature=%q", contractx.ErrContaminationDetected, label, signature)
	if callErr != nil {
		return "", fmt.Errorf("%w: %w", cause, callErr)
	}
	return "", cause
}

// Reset synchronously replaces the resource for key. A session that was never
// set up is set up.
func (m *Manager[R]) Reset(ctx context.Context, key Key, reason string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonManual
	}
	s := m.session(key)

	lockCtx, cancel := m.lockContext(ctx)
	defer cancel()
	if err := s.sem.Acquire(lockCtx, m.full()); err != nil {
		return m.lockError(ctx, key, err)
	}
	var events []Event
	err := m.resetLocked(ctx, s, reason, &events)
	s.sem.Release(m.full())
	m.emit(events)
	return err
}

// Warm sets up key's resource if it has never been set up. A ready or
// contaminated session is left alone.
func (m *Manager[R]) Warm(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s := m.session(key)

	lockCtx, cancel := m.lockContext(ctx)
	defer cancel()
	if err := s.sem.Acquire(lockCtx, m.full()); err != nil {
		return m.lockError(ctx, key, err)
	}

	s.mu.Lock()
	uninitialized := s.state == StateUninitialized
	s.mu.Unlock()
	if !uninitialized {
		s.sem.Release(m.full())
		return nil
	}
	var events []Event
	err := m.setupLocked(ctx, s, &events)
	s.sem.Release(m.full())
	m.emit(events)
	return err
}

// Stat reports one session. ok is false when the key was never used.
func (m *Manager[R]) Stat(key Key) (Stats, bool) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return s.snapshot(m.threshold()), true
}

// Stats reports every known session ordered by key.
func (m *Manager[R]) Stats() []Stats {
	m.mu.Lock()
	sessions := make([]*Session[R], 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot(m.threshold()))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Close releases every resource. Sessions become Uninitialized.
func (m *Manager[R]) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session[R], 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.sem.Acquire(ctx, m.full()); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.key, err))
			continue
		}
		s.mu.Lock()
		old, live := s.handle, s.state != StateUninitialized
		var zero R
		s.handle = zero
		s.state = StateUninitialized
		s.mu.Unlock()
		if live {
			if err := old.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.key, err))
			}
		}
		s.sem.Release(m.full())
	}
	return errors.Join(errs...)
}

func (m *Manager[R]) threshold() int {
	if m.cfg.ResetThreshold == math.MaxInt {
		return 0
	}
	return m.cfg.ResetThreshold
}

// record stamps ev with the session's stats for delivery by emit.
func (m *Manager[R]) record(s *Session[R], events *[]Event, ev Event) {
	if len(m.hooks) == 0 || events == nil {
		return
	}
	ev.Stats = s.snapshot(m.threshold())
	ev.At = m.now().UTC()
	*events = append(*events, ev)
}

// emit runs the hooks. Callers hold no session lock.
func (m *Manager[R]) emit(events []Event) {
	for _, ev := range events {
		for _, hook := range m.hooks {
			hook(ev)
		}
	}
}

func (m *Manager[R]) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.LockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.LockTimeout)
}

func (m *Manager[R]) lockError(ctx context.Context, key Key, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	log.Warn().
		Str(logx.SessionKeyField, key.String()).
		Dur("timeout", m.cfg.LockTimeout).
		Msg("session lock timeout")
	return fmt.Errorf("%w: session=%s after %s: %w", contractx.ErrSessionLockTimeout, key, m.cfg.LockTimeout, err)
}
