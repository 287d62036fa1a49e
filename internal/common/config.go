package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Guard    GuardConfig
	Queue    QueueConfig
	Resolver ResolverConfig
	Extract  ExtractConfig
	MailDrop MailDropConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
	RecoverAbandoned bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr         string
	GRPCHealthAddr   string
	ShutdownTimeout  time.Duration
	MaxBodyBytes     int64
	WebhookPath      string
	ExportSheetLimit int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// GuardConfig holds admission settings.
type GuardConfig struct {
	AllowedSenders []string
	WebhookSecret  string
	RateLimit      int
	RateWindow     time.Duration
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	Capacity int
	Policy   string
}

// ResolverConfig holds product matching settings.
type ResolverConfig struct {
	Strategy  string
	Threshold float64
	CacheTTL  time.Duration
}

// ExtractConfig holds receipt extraction settings.
type ExtractConfig struct {
	Timeout         time.Duration
	MaxChars        int
	DefaultCurrency string
}

// MailDropConfig holds settings for the local .eml drop directory.
type MailDropConfig struct {
	Dir      string
	Debounce time.Duration
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// env bindings keep the variable names operators already use.
var envBindings = map[string]string{
	"database.dsn":                "DB_URL",
	"database.max_conns":          "DB_MAX_CONNS",
	"database.min_conns":          "DB_MIN_CONNS",
	"database.max_conn_lifetime":  "DB_MAX_CONN_LIFETIME",
	"database.max_conn_idle_time": "DB_MAX_CONN_IDLE_TIME",
	"database.dial_timeout":       "DB_DIAL_TIMEOUT",
	"database.statement_timeout":  "DB_STATEMENT_TIMEOUT",
	"database.auto_migrate":       "DB_AUTO_MIGRATE",
	"database.recover_abandoned":  "RECOVER_ABANDONED",
	"server.http_addr":            "HTTP_ADDR",
	"server.grpc_health_addr":     "GRPC_HEALTH_ADDR",
	"server.shutdown_timeout":     "SHUTDOWN_TIMEOUT",
	"server.max_body_bytes":       "MAX_BODY_BYTES",
	"server.webhook_path":         "WEBHOOK_PATH",
	"server.export_sheet_limit":   "EXPORT_SHEET_LIMIT",
	"llm.base_url":                "OPENAI_BASE_URL",
	"llm.model":                   "OPENAI_MODEL",
	"llm.api_key":                 "OPENAI_API_KEY",
	"llm.temperature":             "OPENAI_TEMPERATURE",
	"llm.max_tokens":              "OPENAI_MAX_TOKENS",
	"llm.timeout":                 "OPENAI_TIMEOUT",
	"guard.allowed_senders":       "ALLOWED_SENDERS",
	"guard.webhook_secret":        "WEBHOOK_SIGNING_SECRET",
	"guard.rate_limit":            "GUARD_RATE_LIMIT",
	"guard.rate_window":           "GUARD_RATE_WINDOW",
	"queue.capacity":              "QUEUE_CAPACITY",
	"queue.policy":                "QUEUE_POLICY",
	"resolver.strategy":           "RESOLVER_STRATEGY",
	"resolver.threshold":          "RESOLVER_THRESHOLD",
	"resolver.cache_ttl":          "RESOLVER_CACHE_TTL",
	"extract.timeout":             "EXTRACT_TIMEOUT",
	"extract.max_chars":           "EXTRACT_MAX_CHARS",
	"extract.default_currency":    "DEFAULT_CURRENCY",
	"maildrop.dir":                "MAILDROP_DIR",
	"maildrop.debounce":           "MAILDROP_DEBOUNCE",
	"log.level":                   "LOG_LEVEL",
	"log.format":                  "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.recover_abandoned", true)
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_health_addr", "")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", int64(5<<20))
	v.SetDefault("server.webhook_path", "/webhooks/inbound-email")
	v.SetDefault("server.export_sheet_limit", 500)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 45*time.Second)
	v.SetDefault("guard.allowed_senders", []string{})
	v.SetDefault("guard.webhook_secret", "")
	v.SetDefault("guard.rate_limit", 0)
	v.SetDefault("guard.rate_window", time.Minute)
	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.policy", "reject")
	v.SetDefault("resolver.strategy", "tokens")
	v.SetDefault("resolver.threshold", 0.5)
	v.SetDefault("resolver.cache_ttl", 5*time.Minute)
	v.SetDefault("extract.timeout", 60*time.Second)
	v.SetDefault("extract.max_chars", 8000)
	v.SetDefault("extract.default_currency", "USD")
	v.SetDefault("maildrop.dir", "")
	v.SetDefault("maildrop.debounce", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig loads configuration from an optional YAML file named by
// RECEIPTS_INBOX_CONFIG, overridden by environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path := os.Getenv("RECEIPTS_INBOX_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
			AutoMigrate:      v.GetBool("database.auto_migrate"),
			RecoverAbandoned: v.GetBool("database.recover_abandoned"),
		},
		Server: ServerConfig{
			HTTPAddr:         v.GetString("server.http_addr"),
			GRPCHealthAddr:   v.GetString("server.grpc_health_addr"),
			ShutdownTimeout:  v.GetDuration("server.shutdown_timeout"),
			MaxBodyBytes:     v.GetInt64("server.max_body_bytes"),
			WebhookPath:      v.GetString("server.webhook_path"),
			ExportSheetLimit: v.GetInt("server.export_sheet_limit"),
		},
		LLM: LLMConfig{
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			APIKey:      v.GetString("llm.api_key"),
			Temperature: float32(v.GetFloat64("llm.temperature")),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Timeout:     v.GetDuration("llm.timeout"),
		},
		Guard: GuardConfig{
			AllowedSenders: splitList(v.GetStringSlice("guard.allowed_senders")),
			WebhookSecret:  v.GetString("guard.webhook_secret"),
			RateLimit:      v.GetInt("guard.rate_limit"),
			RateWindow:     v.GetDuration("guard.rate_window"),
		},
		Queue: QueueConfig{
			Capacity: v.GetInt("queue.capacity"),
			Policy:   strings.ToLower(strings.TrimSpace(v.GetString("queue.policy"))),
		},
		Resolver: ResolverConfig{
			Strategy:  strings.ToLower(strings.TrimSpace(v.GetString("resolver.strategy"))),
			Threshold: v.GetFloat64("resolver.threshold"),
			CacheTTL:  v.GetDuration("resolver.cache_ttl"),
		},
		Extract: ExtractConfig{
			Timeout:         v.GetDuration("extract.timeout"),
			MaxChars:        v.GetInt("extract.max_chars"),
			DefaultCurrency: strings.ToUpper(strings.TrimSpace(v.GetString("extract.default_currency"))),
		},
		MailDrop: MailDropConfig{
			Dir:      v.GetString("maildrop.dir"),
			Debounce: v.GetDuration("maildrop.debounce"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// splitList flattens comma separated entries; env vars arrive as one string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError(CodeConfig, "HTTP_ADDR is required", ErrInvalidInput)
	}
	if len(c.Guard.AllowedSenders) == 0 {
		return NewAppError(CodeConfig, "ALLOWED_SENDERS must list at least one sender", ErrInvalidInput)
	}
	switch c.Queue.Policy {
	case "reject", "block":
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("QUEUE_POLICY %q must be reject or block", c.Queue.Policy), ErrInvalidInput)
	}
	if c.Queue.Capacity < 0 {
		return NewAppError(CodeConfig, "QUEUE_CAPACITY must not be negative", ErrInvalidInput)
	}
	switch c.Resolver.Strategy {
	case "tokens", "llm":
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("RESOLVER_STRATEGY %q must be tokens or llm", c.Resolver.Strategy), ErrInvalidInput)
	}
	if c.Resolver.Threshold <= 0 || c.Resolver.Threshold > 1 {
		return NewAppError(CodeConfig, "RESOLVER_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if c.Guard.RateLimit > 0 && c.Guard.RateWindow <= 0 {
		return NewAppError(CodeConfig, "GUARD_RATE_WINDOW must be positive when GUARD_RATE_LIMIT is set", ErrInvalidInput)
	}
	return nil
}
