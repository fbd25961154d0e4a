// Package redisqueue implements outbox.Queue on Redis lists so pending,
// in-flight and dead-lettered notifications survive a restart.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/grievance/internal/notify/outbox"
)

// DefaultPrefix namespaces the list keys.
const DefaultPrefix = "grievance:outbox"

const pollTimeout = time.Second

// Queue stores jobs as JSON in Redis lists under prefix:
//
//	<prefix>:pending     waiting for a worker
//	<prefix>:processing  taken by a worker and not yet acked
//	<prefix>:dead        exhausted, eligible for redrive
//	<prefix>:parked      failed permanently or undecodable, never redriven
//
// Producers push on the left; workers move jobs from the right of pending
// onto processing. A single dispatcher process is assumed to own the
// processing list.
type Queue struct {
	rdb        *redis.Client
	pending    string
	processing string
	dead       string
	parked     string
	maxLen     int64

	mu       sync.Mutex
	inflight map[*outbox.Job]string
}

// New returns a Queue on rdb. maxLen bounds the pending list; zero means
// unbounded.
func New(rdb *redis.Client, prefix string, maxLen int) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Queue{
		rdb:        rdb,
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		dead:       prefix + ":dead",
		parked:     prefix + ":parked",
		maxLen:     int64(maxLen),
		inflight:   make(map[*outbox.Job]string),
	}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Enqueue implements outbox.Queue.
func (q *Queue) Enqueue(ctx context.Context, j *outbox.Job) error {
	if q.maxLen > 0 {
		n, err := q.rdb.LLen(ctx, q.pending).Result()
		if err != nil {
			return fmt.Errorf("llen %s: %w", q.pending, err)
		}
		if n >= q.maxLen {
			return outbox.ErrQueueFull
		}
	}
	return q.push(ctx, q.pending, j)
}

// DeadLetter implements outbox.Queue. Permanent failures go to the parked
// list.
func (q *Queue) DeadLetter(ctx context.Context, j *outbox.Job) error {
	if j.Permanent {
		return q.push(ctx, q.parked, j)
	}
	return q.push(ctx, q.dead, j)
}

func (q *Queue) push(ctx context.Context, key string, j *outbox.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	if err := q.rdb.LPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// Dequeue implements outbox.Queue. It polls with a short blocking move so a
// cancelled ctx is noticed promptly. The job stays on the processing list
// until Ack.
func (q *Queue) Dequeue(ctx context.Context) (*outbox.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.rdb.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// a ctx deadline surfaces as a read timeout before ctx.Err is set
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("blmove %s -> %s: %w", q.pending, q.processing, err)
		}

		var j outbox.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			if perr := q.park(ctx, raw); perr != nil {
				return nil, fmt.Errorf("unmarshal job: %w (park failed: %w)", err, perr)
			}
			return nil, fmt.Errorf("unmarshal job, parked raw payload: %w", err)
		}
		q.mu.Lock()
		q.inflight[&j] = raw
		q.mu.Unlock()
		return &j, nil
	}
}

// park moves an undecodable payload from processing to the parked list.
func (q *Queue) park(ctx context.Context, raw string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, raw)
		p.LPush(ctx, q.parked, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("park payload: %w", err)
	}
	return nil
}

// Ack implements outbox.Queue by removing the dequeued payload from the
// processing list. Jobs this Queue did not hand out are ignored.
func (q *Queue) Ack(ctx context.Context, j *outbox.Job) error {
	q.mu.Lock()
	raw, ok := q.inflight[j]
	delete(q.inflight, j)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.rdb.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		return fmt.Errorf("lrem %s: %w", q.processing, err)
	}
	return nil
}

// Recover returns jobs left on the processing list by a previous process
// to the head of the pending list, oldest first. Call it before starting
// workers.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("lmove %s -> %s: %w", q.processing, q.pending, err)
		}
		moved++
	}
}

// Redrive implements outbox.Queue. Oldest dead letters move first.
func (q *Queue) Redrive(ctx context.Context, limit int) (int, error) {
	moved := 0
	for limit <= 0 || moved < limit {
		if q.maxLen > 0 {
			n, err := q.rdb.LLen(ctx, q.pending).Result()
			if err != nil {
				return moved, fmt.Errorf("llen %s: %w", q.pending, err)
			}
			if n >= q.maxLen {
				return moved, nil
			}
		}
		err := q.rdb.LMove(ctx, q.dead, q.pending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("lmove %s -> %s: %w", q.dead, q.pending, err)
		}
		moved++
	}
	return moved, nil
}

// Depth implements outbox.Queue. Dead letters include parked ones.
func (q *Queue) Depth(ctx context.Context) (int, int, error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.pending)
	d := pipe.LLen(ctx, q.dead)
	k := pipe.LLen(ctx, q.parked)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(p.Val()), int(d.Val() + k.Val()), nil
}
