package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/export"
	"github.com/joseph-ayodele/receipts-inbox/internal/ingest"
	repo "github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

func batchCmd() *cobra.Command {
	var (
		dir string
		out string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process every .eml file in a directory, then export the ledger",
		Long: `Admit the .eml files under --dir through the normal pipeline, wait for
the queue to drain, and write the resulting ledger to an XLSX workbook.
Handled files are renamed with a .done or .rejected suffix.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(filepath.Clean(dir)), "ledger.xlsx")
			}
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := a.prepare(ctx); err != nil {
				return err
			}

			svc, queue := a.pipeline()
			results, stats, err := ingest.NewMailDrop(svc, a.logger).IngestDirectory(ctx, dir, true)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != "" {
					a.logger.Warn("batch.file_rejected", "path", r.Path, "error", r.Err)
				}
			}

			waitIdle(ctx, queue)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			queue.Shutdown(shutdownCtx)

			fmt.Fprintf(cmd.OutOrStdout(), "matched=%d queued=%d duplicates=%d rejected=%d failed=%d\n",
				stats.Matched, stats.Queued, stats.Duplicates, stats.Rejected, stats.Failed)
			return writeExport(cmd, export.NewService(a.ledger, a.logger),
				repo.LedgerFilter{Limit: a.cfg.Server.ExportSheetLimit}, out)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of .eml files (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output XLSX path (default: ledger.xlsx next to --dir)")
	return cmd
}

// waitIdle blocks until the queue has nothing waiting or running, or ctx ends.
func waitIdle(ctx context.Context, queue *async.ProcessorQueue) {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		st := queue.Status()
		if st.Depth == 0 && !st.Active {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
