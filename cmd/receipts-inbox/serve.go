package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-inbox/internal/export"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	repo "github.com/joseph-ayodele/receipts-inbox/internal/repository"
	"github.com/joseph-ayodele/receipts-inbox/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API, the ingestion queue and the optional mail drop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.HTTPAddr = addr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.prepare(ctx); err != nil {
				return err
			}
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	gin.SetMode(gin.ReleaseMode)
	svc, queue := a.pipeline()

	var mailDone <-chan error
	if dir := a.cfg.MailDrop.Dir; dir != "" {
		mailDone = ingest.StartMailDrop(ctx, dir, a.cfg.MailDrop.Debounce, svc, a.logger)
	}

	srv := server.New(server.Config{
		HTTPAddr:        a.cfg.Server.HTTPAddr,
		GRPCHealthAddr:  a.cfg.Server.GRPCHealthAddr,
		WebhookPath:     a.cfg.Server.WebhookPath,
		MaxBodyBytes:    a.cfg.Server.MaxBodyBytes,
		ExportLimit:     a.cfg.Server.ExportSheetLimit,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Ingest:   svc,
		Ledger:   a.ledger,
		Exporter: export.NewService(a.ledger, a.logger),
		Products: a.products,
		Orders:   a.orders,
		Ping: func(ctx context.Context) error {
			return repo.HealthCheck(ctx, a.db, 2*time.Second, a.logger)
		},
		CatalogChanged: a.resolver.Invalidate,
	}, a.logger)

	a.logger.Info("receipts-inbox starting",
		"version", Version,
		"http_addr", a.cfg.Server.HTTPAddr,
		"resolver", a.cfg.Resolver.Strategy,
		"queue_capacity", a.cfg.Queue.Capacity,
		"maildrop", a.cfg.MailDrop.Dir)
	runErr := srv.Run(ctx)

	// server is down; let in-flight work finish within the shutdown budget
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	if mailDone != nil {
		select {
		case err := <-mailDone:
			if err != nil {
				a.logger.Warn("maildrop stopped", "error", err)
			}
		case <-shutdownCtx.Done():
		}
	}
	a.logger.Info("receipts-inbox stopped")
	return runErr
}
