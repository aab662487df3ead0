package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrSetupFailed = errors.New("session setup failed")
	ErrInvalidKey  = errors.New("session key is empty")
)

// Key identifies one session: a capability kind plus its configuration identity.
type Key struct {
	Kind     string `json:"kind"`
	ConfigID string `json:"config_id"`
}

func (k Key) String() string {
	return k.Kind + "/" + k.ConfigID
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Kind) == "" || strings.TrimSpace(k.ConfigID) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

func ParseKey(raw string) (Key, error) {
	kind, configID, ok := strings.Cut(strings.TrimSpace(raw), "/")
	key := Key{Kind: strings.TrimSpace(kind), ConfigID: strings.TrimSpace(configID)}
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return key, key.Validate()
}

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateContaminated  State = "contaminated"
)

// Reset reasons.
const (
	ReasonThreshold     = "threshold"
	ReasonContamination = "contamination"
	ReasonErrors        = "repeated_errors"
	ReasonManual        = "manual"
)

// Resource is the stateful object a session guards. Training is only enabled
// by the manager during setup. A resource refusing a write should report it with
// NoteBlockedWrite so shared sessions can blame the right call.
type Resource interface {
	EnableTraining()
	DisableTraining()
	// BlockedTrainingWrites is a monotonic count of rejected training writes.
	BlockedTrainingWrites() int
	Close() error
}

type callTallyKey struct{}

type callTally struct {
	blocked atomic.Int64
}

func withCallTally(ctx context.Context) (context.Context, *callTally) {
	t := &callTally{}
	return context.WithValue(ctx, callTallyKey{}, t), t
}

// NoteBlockedWrite attributes one refused training write to the WithSession
// call running on ctx. It is a no-op outside such a call.
func NoteBlockedWrite(ctx context.Context) {
	if ctx == nil {
		return
	}
	if t, ok := ctx.Value(callTallyKey{}).(*callTally); ok {
		t.blocked.Add(1)
	}
}

// Factory builds and trains resources for a key.
type Factory[R Resource] interface {
	Build(ctx context.Context, key Key) (R, error)
	Train(ctx context.Context, key Key, res R) error
}

// Stats is a point-in-time view of one session.
type Stats struct {
	Key                   Key       `json:"key"`
	State                 State     `json:"state"`
	InvocationCount       int       `json:"invocation_count"`
	InFlight              int       `json:"in_flight"`
	Threshold             int       `json:"threshold"`
	Contaminated          bool      `json:"contaminated"`
	LastSignature         string    `json:"last_signature,omitempty"`
	ConsecutiveErrors     int       `json:"consecutive_errors"`
	Resets                int       `json:"resets"`
	Setups                int       `json:"setups"`
	BlockedTrainingWrites int       `json:"blocked_training_writes"`
	InstanceID            string    `json:"instance_id,omitempty"`
	LastResetAt           time.Time `json:"last_reset_at"`
}

// Session holds one resource and its bookkeeping. The semaphore orders setup and
// reset (full weight) against production calls (shared weight); mu guards the
// fields below it.
type Session[R Resource] struct {
	key Key
	sem *semaphore.Weighted

	mu                sync.Mutex
	state             State
	handle            R
	instanceID        string
	counter           int
	inflight          int
	contaminated      bool
	lastSignature     string
	consecutiveErrors int
	pendingReset      string
	resets            int
	setups            int
	blockedWrites     int
	lastResetAt       time.Time
}

func (s *Session[R]) snapshot(threshold int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Key:                   s.key,
		State:                 s.state,
		InvocationCount:       s.counter,
		InFlight:              s.inflight,
		Threshold:             threshold,
		Contaminated:          s.contaminated,
		LastSignature:         s.lastSignature,
		ConsecutiveErrors:     s.consecutiveErrors,
		Resets:                s.resets,
		Setups:                s.setups,
		BlockedTrainingWrites: s.blockedWrites,
		InstanceID:            s.instanceID,
		LastResetAt:           s.lastResetAt,
	}
}
