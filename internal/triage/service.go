package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

// Service is the business boundary for complaint operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
}

// NewService creates a new triage service. metrics and notifier may be nil;
// with no notifier every submission reports OutcomeDisabled.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if store == nil {
		panic(xerrors.New("store is required"))
	}
	if engine == nil {
		panic(xerrors.New("engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,
	}
}

// Submit runs one complaint through the whole pipeline. Nothing is persisted
// when classification or routing fails. A persisted complaint is reported as
// a success even when notification fails; the failure shows in the outcome.
func (s *Service) Submit(ctx context.Context, sub *complaint.Submission) (*Result, error) {
	ctx, span := tracer.Start(ctx, "triage.submit")
	defer span.End()

	fail := func(result string, err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.countSubmit(result)
		return nil, err
	}

	if sub == nil {
		return fail("invalid", fmt.Errorf("%w: empty submission", complaint.ErrValidation))
	}
	if err := sub.Validate(); err != nil {
		return fail("invalid", err)
	}

	a, err := s.engine.Assess(ctx, sub.Description, sub.UrgencyOverride)
	if err != nil {
		return fail(submitResultFor(err), err)
	}

	rec := &complaint.Record{
		Name:              sub.Submitter.Name,
		Email:             sub.Submitter.Email,
		Location:          sub.Location,
		Description:       sub.Description,
		Urgency:           a.Urgency,
		PredictedCategory: a.Category,
		CategoryScores:    a.Scores,
		CreatedAt:         s.now().UTC(),
		Status:            complaint.StatusOpen,
	}

	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.logger.Error(ctx, err, "failed to persist complaint", "category", a.Category.String())
		return fail("persistence_error", fmt.Errorf("%w: %w", complaint.ErrPersistence, err))
	}
	rec.ID = id
	span.SetAttributes(attribute.String("grievance.complaint.id", id))

	outcome := s.notify(ctx, rec, a)
	s.countSubmit("accepted")

	s.logger.Info(ctx, "complaint accepted",
		"complaint_id", id,
		"category", a.Category.String(),
		"score", a.TopScore,
		"urgency", a.Urgency,
		"override", sub.UrgencyOverride != "",
		"model", a.ModelVersion,
		"department", a.Recipient.Department,
		"description_len", len(sub.Description),
		"notification", outcome,
	)

	return &Result{
		ID:                  id,
		Category:            a.Category,
		TopScore:            a.TopScore,
		Urgency:             a.Urgency,
		Department:          a.Recipient.Department,
		NotificationOutcome: outcome,
		Scores:              a.Scores,
		ModelVersion:        a.ModelVersion,
	}, nil
}

func (s *Service) notify(ctx context.Context, rec *complaint.Record, a *Assessment) string {
	if s.notifier == nil {
		s.countNotification("disabled")
		return OutcomeDisabled
	}

	n := &Notification{
		ComplaintID: rec.ID,
		Category:    rec.PredictedCategory,
		Urgency:     rec.Urgency,
		Recipient:   a.Recipient,
		Submitter:   complaint.Identity{Name: rec.Name, Email: rec.Email},
		Location:    rec.Location,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
	}

	nctx, span := tracer.Start(ctx, "triage.notify")
	defer span.End()

	outcome, err := s.notifier.Notify(nctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, err, "notification failed", "complaint_id", rec.ID, "department", a.Recipient.Department)
		s.countNotification("failed")
		return OutcomeFailedPrefix + err.Error()
	}
	s.countNotification("ok")
	return outcome
}

// Get retrieves a complaint by id.
func (s *Service) Get(ctx context.Context, id string) (*complaint.Record, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns complaints newest first, filtered and paged by f.
func (s *Service) List(ctx context.Context, f complaint.ListFilter) ([]*complaint.Record, error) {
	return s.store.List(ctx, f)
}

// SetStatus moves a complaint to st. Any status may follow any other.
func (s *Service) SetStatus(ctx context.Context, id string, st complaint.Status) (*complaint.Record, bool, error) {
	if _, err := complaint.ParseStatus(string(st)); err != nil {
		return nil, false, err
	}
	rec, ok, err := s.store.SetStatus(ctx, id, st)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.logger.Info(ctx, "complaint status changed", "complaint_id", id, "status", st)
	}
	return rec, ok, nil
}

func submitResultFor(err error) string {
	switch {
	case errors.Is(err, complaint.ErrValidation):
		return "invalid"
	case errors.Is(err, complaint.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, complaint.ErrUnroutableCategory):
		return "unroutable"
	default:
		return "error"
	}
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countNotification(outcome string) {
	if s.metrics != nil {
		s.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}
