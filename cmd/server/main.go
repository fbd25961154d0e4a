// Grievance classifies citizen complaints, assigns urgency, routes them to
// the responsible municipal department and notifies that department.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/grievance/internal/authmw"
	vc "github.com/linnemanlabs/grievance/internal/cfg"
	"github.com/linnemanlabs/grievance/internal/complaintapi"
	"github.com/linnemanlabs/grievance/internal/notify"
	"github.com/linnemanlabs/grievance/internal/notify/outbox"
	"github.com/linnemanlabs/grievance/internal/postgres"
	"github.com/linnemanlabs/grievance/internal/triage"
)

const appName = "grievance"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    vc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline flags win over env vars, so parse first
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "GRIEVANCE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"classifier_backend", appCfg.ClassifierBackend,
		"store", appCfg.Store,
		"notify_mode", appCfg.NotifyMode,
		"mail_enabled", appCfg.MailEnabled(),
		"redis_queue", appCfg.RedisURL != "",
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling first so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// tag pyroscope samples with span ids so traces link to profiles
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Classifier and routing table load eagerly; a bad artifact is fatal here
	// rather than on the first complaint.
	classifier, err := loadClassifier(&appCfg)
	if err != nil {
		return fmt.Errorf("classifier init: %w", err)
	}
	routes, err := loadRoutes(&appCfg)
	if err != nil {
		return fmt.Errorf("routing table: %w", err)
	}
	L.Info(ctx, "pipeline loaded", "model", classifier.Version(), "routing_version", routes.Version())

	triageStore, closeStore, err := openStore(ctx, &appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			L.Error(ctx, err, "failed to close complaint store")
		}
	}()
	L.Info(ctx, "complaint store ready", "store", appCfg.Store)

	triageMetrics := triage.NewMetrics(m.Registry())

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grievance_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "operation", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, q postgres.Query) {
			dbQueryDuration.WithLabelValues(q.Method, q.Route, q.Operation, q.Outcome).Observe(q.Duration.Seconds())
		},
	))

	engine := triage.NewEngine(classifier, routes, L, triageMetrics.Hooks())

	// Delivery channels. With none enabled every complaint reports
	// "notification disabled" and no outbox runs.
	channels, err := buildChannels(&appCfg, routes)
	if err != nil {
		return fmt.Errorf("notification channels: %w", err)
	}

	notifyTimeout := time.Duration(appCfg.NotifyTimeoutSeconds) * time.Second
	var (
		notifier   triage.Notifier
		dispatcher *outbox.Dispatcher
		redriver   *outbox.Redriver
	)
	switch {
	case channels.Len() == 0:
		L.Warn(ctx, "no notification channel configured")

	case appCfg.NotifyMode == vc.NotifySync:
		notifier = notify.WithTimeout(channels, notifyTimeout)
		L.Info(ctx, "notifications delivered inline", "channels", channels.Len(), "timeout", notifyTimeout.String())

	default:
		queue, queueKind, closeQueue, err := openQueue(ctx, L, &appCfg)
		if err != nil {
			return fmt.Errorf("outbox queue: %w", err)
		}
		defer func() {
			if err := closeQueue(context.Background()); err != nil {
				L.Error(ctx, err, "failed to close outbox queue")
			}
		}()

		outboxMetrics := outbox.NewMetrics(m.Registry())
		notifier = outbox.New(queue, outboxMetrics)

		// workers outlive the signal context so they keep delivering through
		// the drain period; Stop ends them
		workerCtx := context.WithoutCancel(ctx)
		dispatcher = outbox.NewDispatcher(queue, channels, outbox.Config{
			Workers:        appCfg.NotifyWorkers,
			AttemptTimeout: notifyTimeout,
			MaxAttempts:    appCfg.NotifyMaxAttempts,
		}, L.With("subsystem", "outbox"), outboxMetrics)
		dispatcher.OnResult = sampleDepth(L, queue, outboxMetrics)
		dispatcher.Start(workerCtx)

		redriver, err = outbox.NewRedriver(workerCtx, appCfg.RedriveSchedule, queue, outbox.DefaultRedriveBatch, L.With("subsystem", "redrive"), outboxMetrics)
		if err != nil {
			return fmt.Errorf("dead-letter redrive: %w", err)
		}
		redriver.Start()

		L.Info(ctx, "notification outbox started",
			"queue", queueKind,
			"channels", channels.Len(),
			"workers", appCfg.NotifyWorkers,
			"max_attempts", appCfg.NotifyMaxAttempts,
			"redrive_schedule", appCfg.RedriveSchedule,
		)
	}

	triageSvc := triage.NewService(triageStore, engine, L, triageMetrics, notifier)

	// shutdown gate fails readiness so the load balancer drains us first
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// complaint bodies are short text; 64KB is generous
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	verifier := authmw.NewVerifier(appCfg.JWTSecret)
	api := complaintapi.New(L, triageSvc, authmw.Authenticate(verifier))
	api.RegisterRoutes(r)

	// middleware below wraps outermost-last: the last one applied sees the
	// raw request first
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = m.Middleware(h)

	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	h = httpmw.Recover(L, nil)(h)

	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start complaint api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop complaint api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Stop accepting complaints before the outbox so nothing is enqueued
	// after the workers are gone. stopProf is synchronous and excluded.
	stopFns := shutdownOrder(apiHTTPStop, dispatcher, redriver, opsHTTPStop, shutdownOtelx)

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// shutdownOrder lists the components to stop in order, skipping the outbox
// pieces when notifications run inline or are disabled.
func shutdownOrder(
	apiStop func(context.Context) error,
	dispatcher *outbox.Dispatcher,
	redriver *outbox.Redriver,
	opsStop func(context.Context) error,
	otelStop func(context.Context) error,
) []stopFn {
	fns := []stopFn{{"complaint api http server", apiStop}}
	if redriver != nil {
		fns = append(fns, stopFn{"dead-letter redriver", redriver.Stop})
	}
	if dispatcher != nil {
		fns = append(fns, stopFn{"notification dispatcher", dispatcher.Stop})
	}
	fns = append(fns, stopFn{"ops http server", opsStop})
	if otelStop != nil {
		fns = append(fns, stopFn{"otel", otelStop})
	}
	return fns
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
