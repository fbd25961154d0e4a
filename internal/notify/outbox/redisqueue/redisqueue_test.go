package redisqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/linnemanlabs/go-core/log"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/notify/outbox"
	"github.com/linnemanlabs/grievance/internal/routing"
	"github.com/linnemanlabs/grievance/internal/triage"
)

var _ outbox.Queue = (*Queue)(nil)

func newQueue(t *testing.T, maxLen int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test:outbox", maxLen), mr
}

// listLen is the length of key, zero when the key does not exist.
func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	l, err := mr.List(key)
	if err != nil {
		t.Fatalf("List(%s): %v", key, err)
	}
	return len(l)
}

func testJob(id string) *outbox.Job {
	return &outbox.Job{
		ID: id,
		Notification: &triage.Notification{
			ComplaintID: "c-" + id,
			Category:    complaint.Electric,
			Urgency:     complaint.UrgencyMedium,
			Recipient: routing.Recipient{
				Department:      "Electric Department",
				Email:           "power@grievance.example.org",
				SlackWebhookURL: "https://hooks.slack.test/T/B/X",
			},
			Submitter: complaint.Identity{Name: "Asha", Email: "asha@example.com"},
			Location:  "Sector 4 market",
		},
		EnqueuedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestQueue_RoundTripPreservesJob(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 0)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	n := got.Notification
	if got.ID != "1" || n.ComplaintID != "c-1" || n.Category != complaint.Electric {
		t.Errorf("job = %+v, notification = %+v", got, n)
	}
	if n.Recipient.SlackWebhookURL != "https://hooks.slack.test/T/B/X" {
		t.Errorf("recipient webhook lost: %+v", n.Recipient)
	}
	if !got.EnqueuedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("EnqueuedAt = %v", got.EnqueuedAt)
	}
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = q.Enqueue(ctx, testJob(id))
	}
	for _, want := range []string{"a", "b", "c"} {
		j, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if j.ID != want {
			t.Errorf("Dequeue = %s, want %s", j.ID, want)
		}
	}
}

func TestQueue_Bounded(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, testJob("1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("2")); !errors.Is(err, outbox.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Dequeue(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Dequeue did not return promptly after cancellation")
	}
}

func TestQueue_DeadLetterAndRedrive(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		j := testJob(id)
		j.Attempts = 3
		j.LastError = "smtp down"
		if err := q.DeadLetter(ctx, j); err != nil {
			t.Fatalf("DeadLetter: %v", err)
		}
	}
	if got, _ := mr.List("test:outbox:dead"); len(got) != 3 {
		t.Fatalf("dead list = %d entries, want 3", len(got))
	}

	moved, err := q.Redrive(ctx, 2)
	if err != nil || moved != 2 {
		t.Fatalf("Redrive(2) = %d, %v", moved, err)
	}
	pending, dead, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if pending != 2 || dead != 1 {
		t.Errorf("Depth = %d/%d, want 2/1", pending, dead)
	}

	j, _ := q.Dequeue(ctx)
	if j.ID != "a" || j.Attempts != 3 || j.LastError != "smtp down" {
		t.Errorf("redriven job = %+v, want oldest with history kept", j)
	}

	moved, err = q.Redrive(ctx, 0)
	if err != nil || moved != 1 {
		t.Fatalf("Redrive(all) = %d, %v, want 1", moved, err)
	}
}

func TestQueue_RedriveRespectsBound(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 1)
	ctx := context.Background()
	_ = q.DeadLetter(ctx, testJob("a"))
	_ = q.DeadLetter(ctx, testJob("b"))

	moved, err := q.Redrive(ctx, 0)
	if err != nil || moved != 1 {
		t.Fatalf("Redrive = %d, %v, want 1", moved, err)
	}
}

func TestQueue_AckClearsProcessing(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t, 0)
	ctx := context.Background()
	_ = q.Enqueue(ctx, testJob("1"))

	j, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got := listLen(t, mr, "test:outbox:processing"); got != 1 {
		t.Fatalf("processing = %d, want 1 while in flight", got)
	}
	if err := q.Ack(ctx, j); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := listLen(t, mr, "test:outbox:processing"); got != 0 {
		t.Errorf("processing = %d after ack, want 0", got)
	}
	// a second ack, or an ack for a job this queue never handed out, is a no-op
	if err := q.Ack(ctx, j); err != nil {
		t.Errorf("second Ack: %v", err)
	}
	if err := q.Ack(ctx, testJob("other")); err != nil {
		t.Errorf("foreign Ack: %v", err)
	}
}

func TestQueue_RecoverInflight(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = q.Enqueue(ctx, testJob(id))
	}
	// a worker took a and b, then the process died before acking
	for range 2 {
		if _, err := q.Dequeue(ctx); err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
	}

	restarted := New(q.rdb, "test:outbox", 0)
	moved, err := restarted.Recover(ctx)
	if err != nil || moved != 2 {
		t.Fatalf("Recover = %d, %v, want 2", moved, err)
	}
	if got := listLen(t, mr, "test:outbox:processing"); got != 0 {
		t.Errorf("processing = %d after recover, want 0", got)
	}
	for _, want := range []string{"a", "b", "c"} {
		j, err := restarted.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if j.ID != want {
			t.Errorf("Dequeue = %s, want %s", j.ID, want)
		}
	}
}

func TestQueue_UndecodablePayloadIsParked(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t, 0)
	ctx := context.Background()
	if _, err := mr.Lpush("test:outbox:pending", "{not json"); err != nil {
		t.Fatalf("Lpush: %v", err)
	}

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected decode error")
	}
	parked, _ := mr.List("test:outbox:parked")
	if len(parked) != 1 || parked[0] != "{not json" {
		t.Errorf("parked = %v, want raw payload kept", parked)
	}
	if got := listLen(t, mr, "test:outbox:processing"); got != 0 {
		t.Errorf("processing = %d, want 0", got)
	}
	if moved, err := q.Redrive(ctx, 0); err != nil || moved != 0 {
		t.Errorf("Redrive = %d, %v, want parked payload left alone", moved, err)
	}
}

func TestQueue_PermanentDeadLetterIsParked(t *testing.T) {
	t.Parallel()

	q, mr := newQueue(t, 0)
	ctx := context.Background()
	j := testJob("p")
	j.Permanent = true
	j.Delivered = map[string]string{"mail": "Complaint sent successfully!"}
	if err := q.DeadLetter(ctx, j); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}
	_ = q.DeadLetter(ctx, testJob("r"))

	if got := listLen(t, mr, "test:outbox:parked"); got != 1 {
		t.Errorf("parked = %d, want 1", got)
	}
	moved, err := q.Redrive(ctx, 0)
	if err != nil || moved != 1 {
		t.Fatalf("Redrive = %d, %v, want only the retryable job", moved, err)
	}
	got, _ := q.Dequeue(ctx)
	if got.ID != "r" {
		t.Errorf("redriven job = %s, want r", got.ID)
	}
	if _, dead, _ := q.Depth(ctx); dead != 1 {
		t.Errorf("dead = %d, want parked job counted", dead)
	}
}

type countingNotifier struct{ calls chan string }

func (c *countingNotifier) Notify(_ context.Context, n *triage.Notification) (string, error) {
	c.calls <- n.ComplaintID
	return "delivered", nil
}

func TestQueue_WithDispatcher(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t, 0)
	n := &countingNotifier{calls: make(chan string, 1)}
	d := outbox.NewDispatcher(q, n, outbox.Config{Workers: 1, MaxAttempts: 1}, log.Nop(), nil)
	d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	out, err := outbox.New(q, nil).Notify(context.Background(), testJob("x").Notification)
	if err != nil || out != outbox.OutcomeQueued {
		t.Fatalf("Notify = %q, %v", out, err)
	}
	select {
	case id := <-n.calls:
		if id != "c-x" {
			t.Errorf("delivered %s, want c-x", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestConnect_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for invalid url")
	}
}
