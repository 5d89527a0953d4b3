package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/common"
)

var (
	ErrQueueEmpty = errors.New("queue empty")
	ErrQueueFull  = errors.New("queue full")
)

type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue waits up to timeout for a job and returns ErrQueueEmpty when none arrives.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

// ReleaseFunc gives a held lock back. It is safe to call once.
type ReleaseFunc func(ctx context.Context) error

type Locker interface {
	// Acquire returns common.ErrLockNotAcquired when key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

var (
	_ JobQueue = (*RedisQueue)(nil)
	_ JobQueue = (*MemoryQueue)(nil)
	_ Locker   = (*RedisLocker)(nil)
	_ Locker   = (*MemoryLocker)(nil)
)

// MemoryQueue is the single-process stand-in for RedisQueue.
type MemoryQueue struct {
	jobs chan string
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan string, capacity)}
}

// Enqueue never blocks; it returns ErrQueueFull when capacity is reached.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.jobs:
		return id, nil
	case <-timer.C:
		return "", ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// MemoryLocker tracks held keys with their expiry.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memLock
	seq  uint64
}

type memLock struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memLock)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, common.ErrLockNotAcquired
	}
	l.seq++
	token := l.seq
	l.held[key] = memLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
