package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

const (
	defaultWebhookPath  = "/webhooks/inbound-email"
	defaultMaxBodyBytes = 1 << 20
	defaultExportLimit  = 500
)

type Config struct {
	HTTPAddr        string
	GRPCHealthAddr  string // empty disables the health service
	WebhookPath     string
	MaxBodyBytes    int64
	ExportLimit     int
	ShutdownTimeout time.Duration
}

// Ingestor is the admission service behind the webhook and retry routes.
type Ingestor interface {
	Ingest(ctx context.Context, msg entity.InboundMessage) (ingest.Admission, error)
	Retry(ctx context.Context, fingerprint string) error
	QueueStatus() async.Status
}

// LedgerReader is the read side of the processing ledger.
type LedgerReader interface {
	Get(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error)
	ListRecent(ctx context.Context, filter repository.LedgerFilter) ([]*entity.LedgerEntry, error)
	CountByStatus(ctx context.Context) (map[constants.LedgerStatus]int, error)
}

// CatalogStore backs the product routes and the draft count on /healthz.
type CatalogStore interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
	Create(ctx context.Context, p entity.Product) (*entity.Product, error)
	CountDrafts(ctx context.Context) (int, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	Count(ctx context.Context) (int, error)
}

type Exporter interface {
	ExportLedgerXLSX(ctx context.Context, filter repository.LedgerFilter) ([]byte, error)
}

type Deps struct {
	Ingest   Ingestor
	Ledger   LedgerReader
	Exporter Exporter
	Products CatalogStore
	Orders   OrderReader
	// Ping checks storage reachability for /healthz.
	Ping func(ctx context.Context) error
	// CatalogChanged runs after a catalog product is added so resolvers reload.
	CatalogChanged func()
}

// Server is the HTTP surface of the inbox plus an optional gRPC health service.
type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
	health *health.Server
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = defaultWebhookPath
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = defaultExportLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(logger))

	s := &Server{cfg: cfg, deps: deps, router: router, health: health.NewServer(), logger: logger}

	router.POST(cfg.WebhookPath, s.handleWebhook)
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/ledger", s.handleListLedger)
		api.GET("/ledger/:fingerprint", s.handleGetLedger)
		api.POST("/ledger/:fingerprint/retry", s.handleRetry)
		api.GET("/queue", s.handleQueue)
		api.GET("/export/ledger.xlsx", s.handleExport)
		api.GET("/orders/:id", s.handleGetOrder)
		api.POST("/products", s.handleCreateProduct)
		api.GET("/products/:id", s.handleGetProduct)
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves HTTP (and gRPC health when configured) until ctx ends, then
// flips health to NOT_SERVING and shuts both down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if s.cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		reflection.Register(grpcServer)
		go func() {
			s.logger.Info("grpc health serving", "addr", s.cfg.GRPCHealthAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		s.logger.Info("http serving", "addr", s.cfg.HTTPAddr, "webhook", s.cfg.WebhookPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.logger.Error("server failed", "error", runErr)
	}

	s.logger.Info("shutting down...")
	s.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return runErr
}
