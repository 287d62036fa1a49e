package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/assemble"
	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/extract"
	"github.com/joseph-ayodele/receipts-inbox/internal/guard"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm/openai"
	"github.com/joseph-ayodele/receipts-inbox/internal/pipeline"
	repo "github.com/joseph-ayodele/receipts-inbox/internal/repository"
	"github.com/joseph-ayodele/receipts-inbox/internal/resolve"
)

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg common.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// app holds the loaded config, the logger and the open database.
type app struct {
	cfg    *common.Config
	logger *slog.Logger
	db     *repo.DB

	ledger   repo.LedgerRepository
	products repo.ProductRepository
	orders   repo.OrderRepository

	// resolver is set by pipeline and shared with the catalog routes.
	resolver resolve.Matcher
}

// openApp loads config and connects to storage. Only DB_URL is required here;
// commands that call the generative service validate the full config.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log)
	if cfg.Database.DSN == "" {
		return nil, common.NewAppError(common.CodeConfig, "DB_URL is required", common.ErrInvalidInput)
	}

	db, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		repo.Close(db, logger)
		return nil, fmt.Errorf("database health: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		ledger:   repo.NewLedgerRepository(db, logger),
		products: repo.NewProductRepository(db, logger),
		orders:   repo.NewOrderRepository(db, logger),
	}, nil
}

func (a *app) Close() { repo.Close(a.db, a.logger) }

// prepare runs migrations and abandoned-entry recovery when configured.
func (a *app) prepare(ctx context.Context) error {
	if a.cfg.Database.AutoMigrate {
		if err := repo.Migrate(a.db, a.logger); err != nil {
			return err
		}
	}
	if a.cfg.Database.RecoverAbandoned {
		n, err := a.ledger.FailAbandoned(ctx, "abandoned: process restarted before completion")
		if err != nil {
			return fmt.Errorf("recover abandoned entries: %w", err)
		}
		if n > 0 {
			a.logger.Warn("ledger.recovered_abandoned", "count", n, "hint", "retry them via POST /api/ledger/:fingerprint/retry")
		}
	}
	return nil
}

func (a *app) generator() llm.TextGenerator {
	return openai.NewClient(openai.Config{
		APIKey:  a.cfg.LLM.APIKey,
		BaseURL: a.cfg.LLM.BaseURL,
		Model:   a.cfg.LLM.Model,
		Timeout: a.cfg.LLM.Timeout,
	}, a.logger)
}

func (a *app) extractor(gen llm.TextGenerator) *extract.Extractor {
	return extract.NewExtractor(extract.Config{
		Timeout:         a.cfg.Extract.Timeout,
		MaxChars:        a.cfg.Extract.MaxChars,
		DefaultCurrency: a.cfg.Extract.DefaultCurrency,
		Temperature:     a.cfg.LLM.Temperature,
		MaxTokens:       a.cfg.LLM.MaxTokens,
	}, gen, a.logger)
}

func (a *app) matcher(gen llm.TextGenerator) resolve.Matcher {
	rc := a.cfg.Resolver
	if rc.Strategy == "llm" {
		return resolve.NewLLMMatcher(a.products, gen, rc.Threshold, rc.CacheTTL, nil, a.logger)
	}
	return resolve.NewTokenSetMatcher(a.products, rc.Threshold, rc.CacheTTL, nil, a.logger)
}

// pipeline wires guard -> ledger -> queue -> processor and returns the
// admission service with the queue it feeds.
func (a *app) pipeline() (*ingest.Service, *async.ProcessorQueue) {
	gen := a.generator()
	a.resolver = a.matcher(gen)
	proc := pipeline.NewProcessor(a.logger, a.ledger,
		a.extractor(gen),
		assemble.NewAssembler(a.orders, a.resolver, a.logger))

	queue := async.NewProcessorQueue(proc.Process, a.logger,
		async.WithCapacity(a.cfg.Queue.Capacity),
		async.WithPolicy(async.Policy(a.cfg.Queue.Policy)),
		// the extractor bounds itself; this only catches a stuck assembler
		async.WithProcessTimeout(a.cfg.Extract.Timeout+time.Minute),
	)

	g := guard.New(guard.Config{
		AllowedSenders:  a.cfg.Guard.AllowedSenders,
		WebhookSecret:   a.cfg.Guard.WebhookSecret,
		RateLimit:       a.cfg.Guard.RateLimit,
		RateWindow:      a.cfg.Guard.RateWindow,
		MaxContentChars: a.cfg.Extract.MaxChars,
	}, a.logger)

	return ingest.NewService(g, a.ledger, queue, a.logger), queue
}
