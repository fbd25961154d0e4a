package outbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/robfig/cron/v3"
)

// DefaultRedriveBatch bounds how many dead letters one scheduled run moves.
const DefaultRedriveBatch = 100

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid redrive schedule %q: %w", spec, err)
	}
	return s, nil
}

// Redrive moves up to batch dead letters back to q and records the count.
func Redrive(ctx context.Context, q Queue, batch int, metrics *Metrics) (int, error) {
	n, err := q.Redrive(ctx, batch)
	metrics.redriven(n)
	if err != nil {
		return n, fmt.Errorf("redrive: %w", err)
	}
	return n, nil
}

// Redriver periodically returns dead letters to the pending queue and
// samples queue depth.
type Redriver struct {
	cron *cron.Cron
}

// NewRedriver schedules Redrive on q per spec (5-field cron). An empty spec
// disables redrive but still returns a usable Redriver.
func NewRedriver(ctx context.Context, spec string, q Queue, batch int, logger log.Logger, metrics *Metrics) (*Redriver, error) {
	if logger == nil {
		logger = log.Nop()
	}
	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	r := &Redriver{cron: c}
	if strings.TrimSpace(spec) == "" {
		return r, nil
	}

	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	c.Schedule(sched, cron.FuncJob(func() {
		n, err := Redrive(ctx, q, batch, metrics)
		if err != nil {
			logger.Error(ctx, err, "dead-letter redrive failed", "moved", n)
			return
		}
		if n > 0 {
			logger.Info(ctx, "dead letters redriven", "moved", n)
		}
		if err := metrics.ObserveDepth(ctx, q); err != nil {
			logger.Warn(ctx, "outbox depth sample failed", "error", err.Error())
		}
	}))
	return r, nil
}

// Start begins running scheduled redrives in the background.
func (r *Redriver) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running redrive to finish or ctx
// to expire.
func (r *Redriver) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redriver stop: %w", ctx.Err())
	}
}
