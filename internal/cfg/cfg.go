package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/mail"
	"strings"

	"github.com/linnemanlabs/grievance/internal/notify/outbox"
)

// Classifier backends.
const (
	BackendLexicon = "lexicon"
	BackendClaude  = "claude"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Notification delivery modes.
const (
	NotifyAsync = "async"
	NotifySync  = "sync"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	JWTSecret             string

	ModelPath         string
	ClassifierBackend string
	ClaudeAPIKey      string
	ClaudeModel       string
	RoutingPath       string

	Store         string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	NotifyMode           string
	NotifyTimeoutSeconds int
	NotifyMaxAttempts    int
	NotifyWorkers        int
	NotifyQueueSize      int
	RedisURL             string
	RedriveSchedule      string

	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret used to verify bearer tokens")

	fs.StringVar(&c.ModelPath, "model-path", "", "classifier lexicon YAML (empty = built-in lexicon)")
	fs.StringVar(&c.ClassifierBackend, "classifier-backend", BackendLexicon, "classifier backend (lexicon|claude)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the claude classifier backend")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used by the claude classifier backend")
	fs.StringVar(&c.RoutingPath, "routing-path", "", "department routing table YAML (empty = built-in table)")

	fs.StringVar(&c.Store, "store", StoreMemory, "complaint store (memory|postgres|mongo)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (store=postgres)")
	fs.StringVar(&c.MongoURI, "mongo-uri", "", "MongoDB connection URI (store=mongo)")
	fs.StringVar(&c.MongoDatabase, "mongo-database", "grievance", "MongoDB database name (store=mongo)")

	fs.StringVar(&c.NotifyMode, "notify-mode", NotifyAsync, "notification delivery mode (async|sync)")
	fs.IntVar(&c.NotifyTimeoutSeconds, "notify-timeout-seconds", 10, "timeout for one notification attempt (1..120)")
	fs.IntVar(&c.NotifyMaxAttempts, "notify-max-attempts", 5, "delivery attempts before a notification is dead-lettered (1..50)")
	fs.IntVar(&c.NotifyWorkers, "notify-workers", 2, "concurrent notification workers (1..64)")
	fs.IntVar(&c.NotifyQueueSize, "notify-queue-size", 1024, "maximum pending notifications (1..1000000)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the notification queue (empty = in-memory queue)")
	fs.StringVar(&c.RedriveSchedule, "dead-letter-redrive-schedule", "*/15 * * * *", "cron schedule for requeueing dead letters (empty = never)")

	fs.StringVar(&c.SMTPHost, "smtp-host", "", "SMTP server host (empty = mail disabled)")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP server port (1..65535)")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP username (empty = no auth)")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP password")
	fs.StringVar(&c.SMTPFrom, "smtp-from", "", "sender address for complaint mail")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "default Slack webhook URL for department alerts")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch c.ClassifierBackend {
	case BackendLexicon:
	case BackendClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for CLASSIFIER_BACKEND=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for CLASSIFIER_BACKEND=claude"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_BACKEND %q (must be lexicon|claude)", c.ClassifierBackend))
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE=postgres"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for STORE=mongo"))
		}
		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_DATABASE is required for STORE=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be memory|postgres|mongo)", c.Store))
	}

	// Notification delivery
	if c.NotifyMode != NotifyAsync && c.NotifyMode != NotifySync {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_MODE %q (must be async|sync)", c.NotifyMode))
	}
	if c.NotifyTimeoutSeconds <= 0 || c.NotifyTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_TIMEOUT_SECONDS %d (must be 1..120)", c.NotifyTimeoutSeconds))
	}
	if c.NotifyMaxAttempts <= 0 || c.NotifyMaxAttempts > 50 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_MAX_ATTEMPTS %d (must be 1..50)", c.NotifyMaxAttempts))
	}
	if c.NotifyWorkers <= 0 || c.NotifyWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_WORKERS %d (must be 1..64)", c.NotifyWorkers))
	}
	if c.NotifyQueueSize <= 0 || c.NotifyQueueSize > 1_000_000 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_QUEUE_SIZE %d (must be 1..1000000)", c.NotifyQueueSize))
	}
	if c.RedriveSchedule != "" {
		if _, err := outbox.ParseSchedule(c.RedriveSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid DEAD_LETTER_REDRIVE_SCHEDULE: %w", err))
		}
	}

	// Mail is enabled by SMTP_HOST; everything else is checked only then
	if c.SMTPHost != "" {
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
		}
		if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
			errs = append(errs, fmt.Errorf("invalid SMTP_FROM %q: %w", c.SMTPFrom, err))
		}
		if c.SMTPUsername != "" && c.SMTPPassword == "" {
			errs = append(errs, errors.New("SMTP_PASSWORD is required when SMTP_USERNAME is set"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MailEnabled reports whether SMTP delivery is configured.
func (c *Config) MailEnabled() bool { return c.SMTPHost != "" }
