package main

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/grievance/internal/cfg"
	"github.com/linnemanlabs/grievance/internal/classify"
	"github.com/linnemanlabs/grievance/internal/classify/claude"
	"github.com/linnemanlabs/grievance/internal/notify"
	"github.com/linnemanlabs/grievance/internal/notify/mail"
	"github.com/linnemanlabs/grievance/internal/notify/outbox"
	"github.com/linnemanlabs/grievance/internal/notify/outbox/redisqueue"
	"github.com/linnemanlabs/grievance/internal/notify/slack"
	"github.com/linnemanlabs/grievance/internal/postgres"
	"github.com/linnemanlabs/grievance/internal/routing"
	"github.com/linnemanlabs/grievance/internal/triage"
	"github.com/linnemanlabs/grievance/internal/triage/memstore"
	"github.com/linnemanlabs/grievance/internal/triage/mongostore"
	"github.com/linnemanlabs/grievance/internal/triage/pgstore"
)

const connectTimeout = 10 * time.Second

// closer releases a backing connection at shutdown.
type closer func(context.Context) error

func noopCloser(context.Context) error { return nil }

// loadClassifier builds the configured backend. The lexicon is loaded
// eagerly so a bad artifact fails startup rather than the first request.
func loadClassifier(c *vc.Config) (triage.Classifier, error) {
	if c.ClassifierBackend == vc.BackendClaude {
		return claude.New(c.ClaudeAPIKey, c.ClaudeModel), nil
	}
	if c.ModelPath == "" {
		return classify.LoadDefault()
	}
	return classify.Load(c.ModelPath)
}

func loadRoutes(c *vc.Config) (*routing.Table, error) {
	if c.RoutingPath == "" {
		return routing.Default()
	}
	return routing.Load(c.RoutingPath)
}

// openStore connects the configured complaint store.
func openStore(ctx context.Context, c *vc.Config) (triage.Store, closer, error) {
	switch c.Store {
	case vc.StorePostgres:
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		return s, func(context.Context) error { pool.Close(); return nil }, nil

	case vc.StoreMongo:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		client, err := mongo.Connect(cctx, options.Client().ApplyURI(c.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(cctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo ping: %w", err)
		}
		s, err := mongostore.New(cctx, client.Database(c.MongoDatabase))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongostore init: %w", err)
		}
		return s, client.Disconnect, nil

	default:
		return memstore.New(), noopCloser, nil
	}
}

// buildChannels assembles the enabled delivery channels. Mail is enabled by
// smtp-host; Slack by a default webhook or any per-department webhook.
func buildChannels(c *vc.Config, routes *routing.Table) (*notify.Fanout, error) {
	var channels []notify.Channel

	if c.MailEnabled() {
		client, err := mail.NewClient(mail.Config{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
			Timeout:  time.Duration(c.NotifyTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Channel{Name: "mail", Notifier: mail.New(client, c.SMTPFrom)})
	}

	if c.SlackWebhookURL != "" || routes.HasSlackWebhooks() {
		channels = append(channels, notify.Channel{Name: "slack", Notifier: slack.New(c.SlackWebhookURL)})
	}

	return notify.NewFanout(channels...), nil
}

// openQueue returns the outbox queue: Redis lists when redis-url is set,
// otherwise a bounded in-process channel. Jobs a previous process left in
// flight on Redis go back to the pending list.
func openQueue(ctx context.Context, L log.Logger, c *vc.Config) (outbox.Queue, string, closer, error) {
	if c.RedisURL == "" {
		return outbox.NewMemoryQueue(c.NotifyQueueSize), "memory", noopCloser, nil
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	rdb, err := redisqueue.Connect(cctx, c.RedisURL)
	if err != nil {
		return nil, "", nil, err
	}
	q := redisqueue.New(rdb, redisqueue.DefaultPrefix, c.NotifyQueueSize)
	recovered, err := q.Recover(cctx)
	if err != nil {
		_ = rdb.Close()
		return nil, "", nil, err
	}
	if recovered > 0 {
		L.Warn(ctx, "requeued in-flight notifications from previous run", "jobs", recovered)
	}
	return q, "redis", func(context.Context) error { return rdb.Close() }, nil
}

// sampleDepth refreshes the queue depth gauge after each dispatched job.
func sampleDepth(L log.Logger, q outbox.Queue, m *outbox.Metrics) func(context.Context, outbox.Result) {
	return func(ctx context.Context, _ outbox.Result) {
		if err := m.ObserveDepth(ctx, q); err != nil {
			L.Warn(ctx, "outbox depth sample failed", "error", err.Error())
		}
	}
}
