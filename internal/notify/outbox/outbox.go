// Package outbox decouples complaint notification from the submit path.
// Outbox.Notify enqueues a job and returns at once; a Dispatcher's workers
// deliver jobs with bounded, backed-off retries and park exhausted jobs in a
// dead-letter queue that can be redriven on a schedule.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/triage"
)

// OutcomeQueued is reported by Outbox.Notify once the job is accepted.
const OutcomeQueued = "queued"

// Outbox is a triage.Notifier that hands deliveries to a Queue.
type Outbox struct {
	queue   Queue
	metrics *Metrics
	now     func() time.Time
}

// New returns an Outbox writing to q. metrics may be nil.
func New(q Queue, metrics *Metrics) *Outbox {
	if q == nil {
		panic(xerrors.New("outbox.New: nil queue"))
	}
	return &Outbox{queue: q, metrics: metrics, now: time.Now}
}

// Notify implements triage.Notifier.
func (o *Outbox) Notify(ctx context.Context, n *triage.Notification) (string, error) {
	j := &Job{
		ID:           uuid.NewString(),
		Notification: n,
		EnqueuedAt:   o.now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, j); err != nil {
		o.metrics.enqueued("error")
		return "", fmt.Errorf("%w: enqueue: %w", complaint.ErrNotification, err)
	}
	o.metrics.enqueued("ok")
	return OutcomeQueued, nil
}

// ChannelDeliverer is a notifier that fans out over named channels and can
// skip channels a job already delivered. *notify.Fanout implements it.
type ChannelDeliverer interface {
	Deliver(ctx context.Context, n *triage.Notification, delivered map[string]string) (string, error)
}

// Config controls delivery workers.
type Config struct {
	Workers        int
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Result reports what happened to one job on one pass through a worker.
type Result struct {
	Job          *Job
	Outcome      string
	Err          error
	Attempts     int
	DeadLettered bool
	Permanent    bool
	Requeued     bool
}

// Dispatcher runs delivery workers against a Queue.
type Dispatcher struct {
	queue   Queue
	deliver triage.Notifier
	cfg     Config
	logger  log.Logger
	metrics *Metrics

	// OnResult, if set, is called after every job leaves a worker.
	OnResult func(context.Context, Result)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher delivering through deliver. metrics may be nil.
func NewDispatcher(q Queue, deliver triage.Notifier, cfg Config, logger log.Logger, metrics *Metrics) *Dispatcher {
	if q == nil {
		panic(xerrors.New("outbox.NewDispatcher: nil queue"))
	}
	if deliver == nil {
		panic(xerrors.New("outbox.NewDispatcher: nil notifier"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		queue:   q,
		deliver: deliver,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := range d.cfg.Workers {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info(ctx, "outbox dispatcher started", "workers", d.cfg.Workers, "max_attempts", d.cfg.MaxAttempts)
}

// Stop stops taking new jobs and waits for in-flight deliveries to finish
// or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outbox dispatcher stop: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		j, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error(ctx, err, "outbox dequeue failed", "worker", id)
			select {
			case <-time.After(d.cfg.InitialBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		if j == nil {
			continue
		}
		d.process(ctx, j)
	}
}

// process delivers j with retries. A shutdown during backoff puts the job
// back on the queue instead of dead-lettering it. A permanent error stops
// retrying at once and parks the job.
func (d *Dispatcher) process(ctx context.Context, j *Job) {
	L := d.logger.With("job_id", j.ID, "complaint_id", j.Notification.ComplaintID)
	start := time.Now()
	tries := 0
	permanent := false

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff

	op := func() (string, error) {
		tries++
		j.Attempts++
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.AttemptTimeout)
		defer cancel()
		out, err := d.attempt(actx, j)
		if err != nil {
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
			d.metrics.attempt("error")
			return "", err
		}
		d.metrics.attempt("ok")
		return out, nil
	}

	outcome, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "notification delivery failed, retrying", "error", err.Error(), "attempt", j.Attempts, "retry_in", next.String())
		}),
	)

	res := Result{Job: j, Outcome: outcome, Err: err, Attempts: tries}
	bg := context.WithoutCancel(ctx)
	defer func() {
		if aerr := d.queue.Ack(bg, j); aerr != nil {
			L.Warn(bg, "outbox ack failed", "error", aerr.Error())
		}
		if d.OnResult != nil {
			d.OnResult(bg, res)
		}
	}()

	switch {
	case err == nil:
		d.metrics.delivered("ok", time.Since(start))
		L.Info(ctx, "notification delivered", "outcome", outcome, "attempts", j.Attempts)

	case permanent:
		j.LastError = err.Error()
		j.Permanent = true
		res.Permanent = true
		L.Error(ctx, err, "notification delivery failed permanently", "attempts", j.Attempts)
		d.deadLetter(bg, L, j, &res)

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		j.LastError = err.Error()
		if qerr := d.queue.Enqueue(bg, j); qerr != nil {
			L.Error(bg, qerr, "requeue on shutdown failed, dead-lettering")
			d.deadLetter(bg, L, j, &res)
		} else {
			res.Requeued = true
			d.metrics.delivered("requeued", time.Since(start))
		}

	default:
		j.LastError = err.Error()
		L.Error(ctx, err, "notification delivery exhausted", "attempts", j.Attempts)
		d.deadLetter(bg, L, j, &res)
	}
}

// attempt makes one delivery. Channel-aware notifiers skip the channels j
// already delivered and record new successes on j.
func (d *Dispatcher) attempt(ctx context.Context, j *Job) (string, error) {
	cd, ok := d.deliver.(ChannelDeliverer)
	if !ok {
		return d.deliver.Notify(ctx, j.Notification)
	}
	if j.Delivered == nil {
		j.Delivered = map[string]string{}
	}
	return cd.Deliver(ctx, j.Notification, j.Delivered)
}

func (d *Dispatcher) deadLetter(ctx context.Context, L log.Logger, j *Job, res *Result) {
	if err := d.queue.DeadLetter(ctx, j); err != nil {
		L.Error(ctx, err, "dead-letter write failed, job dropped")
		d.metrics.delivered("dropped", 0)
		return
	}
	res.DeadLettered = true
	if j.Permanent {
		d.metrics.delivered("parked", 0)
		return
	}
	d.metrics.delivered("dead_letter", 0)
}
