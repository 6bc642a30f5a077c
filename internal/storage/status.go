package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another crawl pass holds the run lock.
var ErrLockHeld = errors.New("run lock held")

// Run states.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// RunStatus describes the most recent crawl pass.
type RunStatus struct {
	State      string     `json:"state"`
	PassID     string     `json:"pass_id,omitempty"`
	Trigger    string     `json:"trigger,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Discovered int        `json:"discovered"`
	Persisted  int        `json:"persisted"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// StatusStore records run status and arbitrates the run lock.
type StatusStore interface {
	Load(ctx context.Context) (RunStatus, error)
	Save(ctx context.Context, status RunStatus) error
	// AcquireLock takes the run lock for ttl. The returned release function
	// gives it back; ErrLockHeld means another holder has it.
	AcquireLock(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisStatusStore keeps status and lock in Redis so that several processes
// share them.
type RedisStatusStore struct {
	client RedisClient
	prefix string
}

// NewRedisStatusStore creates a Redis-backed StatusStore.
func NewRedisStatusStore(client RedisClient, prefix string) *RedisStatusStore {
	if prefix == "" {
		prefix = "sbc"
	}
	return &RedisStatusStore{client: client, prefix: prefix}
}

// Load returns the last saved status, or an idle status when none exists.
func (s *RedisStatusStore) Load(ctx context.Context) (RunStatus, error) {
	data, err := s.client.Get(ctx, s.statusKey())
	if errors.Is(err, ErrCacheMiss) {
		return RunStatus{State: StateIdle}, nil
	}
	if err != nil {
		return RunStatus{}, fmt.Errorf("failed to load run status: %w", err)
	}
	var status RunStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return RunStatus{}, fmt.Errorf("failed to decode run status: %w", err)
	}
	return status, nil
}

// Save stores status without expiry.
func (s *RedisStatusStore) Save(ctx context.Context, status RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode run status: %w", err)
	}
	if err := s.client.Set(ctx, s.statusKey(), string(data), 0); err != nil {
		return fmt.Errorf("failed to save run status: %w", err)
	}
	return nil
}

// AcquireLock takes the lock with SET NX and a random token.
func (s *RedisStatusStore) AcquireLock(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.lockKey(), token, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if _, err := s.client.CompareAndDelete(ctx, s.lockKey(), token); err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}, nil
}

func (s *RedisStatusStore) statusKey() string { return s.prefix + ":run:status" }
func (s *RedisStatusStore) lockKey() string   { return s.prefix + ":run:lock" }

// MemoryStatusStore is the single-process StatusStore.
type MemoryStatusStore struct {
	mu     sync.Mutex
	status RunStatus
	holder string
	expiry time.Time
	now    func() time.Time
}

// NewMemoryStatusStore creates an in-process StatusStore.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{status: RunStatus{State: StateIdle}, now: time.Now}
}

// Load returns the last saved status.
func (s *MemoryStatusStore) Load(ctx context.Context) (RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Save stores status.
func (s *MemoryStatusStore) Save(ctx context.Context, status RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

// AcquireLock takes the lock unless another unexpired holder has it.
func (s *MemoryStatusStore) AcquireLock(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.holder != "" && (s.expiry.IsZero() || now.Before(s.expiry)) {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	s.holder = token
	s.expiry = time.Time{}
	if ttl > 0 {
		s.expiry = now.Add(ttl)
	}

	return func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.holder == token {
			s.holder = ""
		}
		return nil
	}, nil
}
