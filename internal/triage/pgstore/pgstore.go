// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

var tracer = otel.Tracer("github.com/linnemanlabs/grievance/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists complaints in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool and closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const complaintColumns = `id, name, email, location, description, urgency,
	predicted_category, category_scores, created_at, status`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "complaints"),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Insert stores rec under a new ULID and returns it.
func (s *Store) Insert(ctx context.Context, rec *complaint.Record) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	scores, err := json.Marshal(rec.CategoryScores)
	if err != nil {
		return "", fail(span, fmt.Errorf("marshal scores: %w", err))
	}

	id := ulid.Make().String()
	_, err = s.pool.Exec(ctx, `INSERT INTO complaints (`+complaintColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, rec.Name, rec.Email, rec.Location, rec.Description, string(rec.Urgency),
		rec.PredictedCategory.String(), scores, rec.CreatedAt, string(rec.Status),
	)
	if err != nil {
		return "", fail(span, fmt.Errorf("insert complaint: %w", err))
	}
	span.SetAttributes(attribute.String("grievance.complaint.id", id))
	return id, nil
}

// Get retrieves a complaint by id.
func (s *Store) Get(ctx context.Context, id string) (*complaint.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, r != nil, nil
}

// List returns complaints newest first. A zero Limit returns every match.
func (s *Store) List(ctx context.Context, f complaint.ListFilter) ([]*complaint.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+complaintColumns+` FROM complaints
		WHERE ($1 = '' OR email = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, f.Email, limit, f.Offset)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query complaints: %w", err))
	}
	defer rows.Close()

	out := []*complaint.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate complaints: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// SetStatus updates a complaint's status and returns the updated row.
func (s *Store) SetStatus(ctx context.Context, id string, st complaint.Status) (*complaint.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.SetStatus", "UPDATE")
	defer span.End()

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE complaints SET status = $2 WHERE id = $1 RETURNING `+complaintColumns, id, string(st)))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, r != nil, nil
}

// scanRecord scans a single row. Returns (nil, nil) when no row is found.
func scanRecord(row pgx.Row) (*complaint.Record, error) {
	var (
		r        complaint.Record
		urgency  string
		category string
		status   string
		scores   []byte
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Email, &r.Location, &r.Description, &urgency,
		&category, &scores, &r.CreatedAt, &status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	c, err := complaint.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("row %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(scores, &r.CategoryScores); err != nil {
		return nil, fmt.Errorf("row %s: unmarshal scores: %w", r.ID, err)
	}
	r.PredictedCategory = c
	r.Urgency = complaint.Urgency(urgency)
	r.Status = complaint.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
