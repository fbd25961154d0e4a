package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/grievance/internal/triage"
)

// ErrQueueFull is returned by Enqueue when a bounded queue has no room.
var ErrQueueFull = errors.New("outbox queue full")

// Job is one pending notification delivery.
type Job struct {
	ID           string               `json:"id"`
	Notification *triage.Notification `json:"notification"`
	Attempts     int                  `json:"attempts"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
	LastError    string               `json:"last_error,omitempty"`

	// Delivered maps channel name to outcome for channels that already
	// succeeded; retries and redrives skip them.
	Delivered map[string]string `json:"delivered,omitempty"`

	// Permanent marks a dead letter that failed in a way no retry can fix.
	// Redrive leaves it parked.
	Permanent bool `json:"permanent,omitempty"`
}

// Queue holds pending jobs and the dead letters that exhausted their attempts.
type Queue interface {
	Enqueue(ctx context.Context, j *Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack releases a dequeued job once it was delivered, requeued or
	// dead-lettered.
	Ack(ctx context.Context, j *Job) error
	DeadLetter(ctx context.Context, j *Job) error
	// Redrive moves up to limit retryable dead letters back to the pending
	// queue and reports how many moved.
	Redrive(ctx context.Context, limit int) (int, error)
	// Depth counts pending jobs and dead letters, parked ones included.
	Depth(ctx context.Context) (pending, dead int, err error)
}

// MemoryQueue is a bounded in-process Queue. Jobs do not survive a restart.
type MemoryQueue struct {
	ch chan *Job

	mu     sync.Mutex
	dead   []*Job
	parked []*Job
}

// NewMemoryQueue returns a MemoryQueue holding at most size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan *Job, size)}
}

// Enqueue adds j without blocking. Returns ErrQueueFull when at capacity.
func (q *MemoryQueue) Enqueue(_ context.Context, j *Job) error {
	select {
	case q.ch <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case j := <-q.ch:
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack implements Queue. Dequeued jobs are already off the channel.
func (q *MemoryQueue) Ack(context.Context, *Job) error { return nil }

// DeadLetter implements Queue. Permanent failures are parked apart from
// the redrivable dead letters.
func (q *MemoryQueue) DeadLetter(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.Permanent {
		q.parked = append(q.parked, j)
		return nil
	}
	q.dead = append(q.dead, j)
	return nil
}

// Redrive implements Queue. Oldest dead letters go first; it stops early
// when the pending queue fills up.
func (q *MemoryQueue) Redrive(_ context.Context, limit int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := 0
	for len(q.dead) > 0 && (limit <= 0 || moved < limit) {
		select {
		case q.ch <- q.dead[0]:
			q.dead[0] = nil
			q.dead = q.dead[1:]
			moved++
		default:
			return moved, nil
		}
	}
	return moved, nil
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(context.Context) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch), len(q.dead) + len(q.parked), nil
}
