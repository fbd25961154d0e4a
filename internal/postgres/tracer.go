package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

// slowQuery is the duration above which successful queries log at warn.
const slowQuery = 250 * time.Millisecond

type ctxKey int

const (
	ctxKeyQuery ctxKey = iota
	ctxKeyHTTPMethod
	ctxKeyDBStats
)

// queryState carries what TraceQueryStart learned to TraceQueryEnd.
type queryState struct {
	sql     string
	nargs   int
	start   time.Time
	caller  string
	handler string
}

type queryObserverHolder struct{ QueryObserver }

// Query describes one finished query for observers.
type Query struct {
	Method    string // HTTP method of the originating request, or UNKNOWN
	Route     string // chi route pattern, or "background" outside a request
	Operation string // SELECT, INSERT, UPDATE, ...
	Outcome   string // ok or error
	Duration  time.Duration
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, q Query)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, q Query)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, q Query) { f(ctx, q) }

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// ReqDBStats accumulates per-request database query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the counters under the lock.
func (s *ReqDBStats) Snapshot() (count int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyDBStats, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(ctxKeyDBStats).(*ReqDBStats)
	return s, ok
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyHTTPMethod).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a
// structured log line and an observer callback for every query. Statement
// arguments are never logged: they carry submitter names and emails.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := &queryState{sql: data.SQL, nargs: len(data.Args), start: time.Now()}
	st.caller, st.handler = findDBCallerAndHandler()

	// inner tracer creates the span first so the annotations below land on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if st.caller != "" {
			span.SetAttributes(attribute.String("db.caller", st.caller))
		}
		if st.handler != "" {
			span.SetAttributes(attribute.String("db.handler", st.handler))
		}
	}

	return context.WithValue(ctx, ctxKeyQuery, st)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, _ := ctx.Value(ctxKeyQuery).(*queryState)
	if st == nil {
		st = &queryState{}
	}

	var dur time.Duration
	if !st.start.IsZero() {
		dur = time.Since(st.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	op := operationOf(data.CommandTag, st.sql)

	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, Query{
			Method:    orDefault(httpMethodFromContext(ctx), "UNKNOWN"),
			Route:     orDefault(routePatternFromContext(ctx), "background"),
			Operation: op,
			Outcome:   outcomeOf(data.Err),
			Duration:  dur,
		})
	}

	fields := []any{
		"db.statement", compactSQL(st.sql),
		"db.arg_count", st.nargs,
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil {
		fields = append(fields, "db.rows", rows)
	}
	if st.caller != "" {
		fields = append(fields, "db.caller", st.caller)
	}
	if st.handler != "" {
		fields = append(fields, "db.handler", st.handler)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
	case dur >= slowQuery:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

// operationOf prefers the command tag and falls back to the statement's
// first keyword when the query failed before producing one.
func operationOf(tag pgconn.CommandTag, sql string) string {
	if s := strings.Fields(tag.String()); len(s) > 0 {
		return strings.ToUpper(s[0])
	}
	if s := strings.Fields(sql); len(s) > 0 {
		return strings.ToUpper(s[0])
	}
	return "UNKNOWN"
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store method actually issuing the query
//   - handler: the next meaningful frame above that (service or HTTP handler)
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		if fn != "" && !isTracerNoise(fn) {
			switch {
			case caller == "":
				caller = shortenFuncName(fn)
			case strings.Contains(fn, "/internal/triage/pgstore."):
				// still inside the store's own helpers
			default:
				return caller, shortenFuncName(fn)
			}
		}
		if !more {
			break
		}
	}
	return caller, handler
}

func isTracerNoise(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "/internal/postgres.")
}

func shortenFuncName(fn string) string {
	// Trim package path.
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	// Trim package name, keep receiver + method.
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
