package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/grievance/internal/complaint"
	"github.com/linnemanlabs/grievance/internal/urgency"
)

var tracer = otel.Tracer("github.com/linnemanlabs/grievance/internal/triage")

// EngineHooks receives instrumentation callbacks. Nil fields are skipped.
type EngineHooks struct {
	OnClassify func(model string, duration float64, err error)
	OnAssess   func(a *Assessment)
}

// Engine runs the side-effect free stages: classify, argmax, urgency, route.
type Engine struct {
	classifier Classifier
	router     Router
	logger     log.Logger
	hooks      EngineHooks
}

// NewEngine wires an engine. The classifier and router are required.
func NewEngine(classifier Classifier, router Router, logger log.Logger, hooks EngineHooks) *Engine {
	if classifier == nil {
		panic(xerrors.New("classifier is required"))
	}
	if router == nil {
		panic(xerrors.New("router is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		classifier: classifier,
		router:     router,
		logger:     logger,
		hooks:      hooks,
	}
}

// ModelVersion reports the classifier's version.
func (e *Engine) ModelVersion() string { return e.classifier.Version() }

// Assess classifies description and resolves urgency and recipient. A
// non-empty override replaces the score-derived urgency.
func (e *Engine) Assess(ctx context.Context, description string, override complaint.Urgency) (*Assessment, error) {
	start := time.Now()
	version := e.classifier.Version()

	cctx, span := tracer.Start(ctx, "triage.classify", trace.WithAttributes(
		attribute.String("grievance.model.version", version),
		attribute.Int("grievance.description.length", len(description)),
	))
	scores, err := e.classifier.Classify(cctx, description)
	classifyDur := time.Since(start)
	if e.hooks.OnClassify != nil {
		e.hooks.OnClassify(version, classifyDur.Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		if !errors.Is(err, complaint.ErrValidation) && !errors.Is(err, complaint.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %w", complaint.ErrModelUnavailable, err)
		}
		return nil, err
	}
	if verr := scores.Validate(); verr != nil {
		span.RecordError(verr)
		span.SetStatus(codes.Error, verr.Error())
		span.End()
		return nil, fmt.Errorf("%w: classifier returned invalid distribution: %w", complaint.ErrModelUnavailable, verr)
	}

	category, top := scores.Top()
	level := urgency.Assign(top, override)
	span.SetAttributes(
		attribute.String("grievance.category", category.String()),
		attribute.Float64("grievance.category.score", top),
		attribute.String("grievance.urgency", string(level)),
		attribute.Bool("grievance.urgency.override", override != ""),
	)
	span.End()

	_, rspan := tracer.Start(ctx, "triage.route", trace.WithAttributes(
		attribute.String("grievance.category", category.String()),
	))
	recipient, err := e.router.Resolve(category)
	if err != nil {
		rspan.RecordError(err)
		rspan.SetStatus(codes.Error, err.Error())
		rspan.End()
		e.logger.Error(ctx, err, "category has no route", "category", category.String())
		return nil, err
	}
	rspan.SetAttributes(attribute.String("grievance.department", recipient.Department))
	rspan.End()

	a := &Assessment{
		Scores:       scores,
		Category:     category,
		TopScore:     top,
		Urgency:      level,
		Recipient:    recipient,
		ModelVersion: version,
		Duration:     time.Since(start),
	}
	if e.hooks.OnAssess != nil {
		e.hooks.OnAssess(a)
	}
	return a, nil
}
