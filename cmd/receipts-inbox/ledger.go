package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/export"
	repo "github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the processing ledger",
	}
	cmd.AddCommand(ledgerListCmd())
	cmd.AddCommand(ledgerExportCmd())
	return cmd
}

func ledgerFilterFlags(cmd *cobra.Command, status *string, limit *int, defLimit int) {
	cmd.Flags().StringVarP(status, "status", "s", "", "filter by status (PENDING, PROCESSING, COMPLETED, FAILED)")
	cmd.Flags().IntVarP(limit, "limit", "n", defLimit, "maximum entries")
}

func parseFilter(status string, limit int) (repo.LedgerFilter, error) {
	f := repo.LedgerFilter{Limit: limit}
	if status != "" {
		st, ok := constants.ParseLedgerStatus(status)
		if !ok {
			return f, fmt.Errorf("unknown status %q", status)
		}
		f.Status = st
	}
	return f, nil
}

func ledgerListCmd() *cobra.Command {
	var (
		status string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(status, limit)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.ledger.ListRecent(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tSTATUS\tSENDER\tRECEIVED\tDETAIL")
			for _, e := range entries {
				detail := ""
				switch {
				case e.OrderID != nil:
					detail = "order " + *e.OrderID
				case e.ErrorMessage != nil:
					detail = *e.ErrorMessage
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Fingerprint[:min(12, len(e.Fingerprint))], e.Status, e.SenderEmail,
					e.CreatedAt.Local().Format(time.DateTime), detail)
			}
			return tw.Flush()
		},
	}
	ledgerFilterFlags(cmd, &status, &limit, 50)
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func ledgerExportCmd() *cobra.Command {
	var (
		status string
		limit  int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger to an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(status, limit)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return writeExport(cmd, export.NewService(a.ledger, a.logger), filter, out)
		},
	}
	ledgerFilterFlags(cmd, &status, &limit, 500)
	cmd.Flags().StringVarP(&out, "out", "o", "ledger.xlsx", "output XLSX path")
	return cmd
}

func writeExport(cmd *cobra.Command, svc *export.Service, filter repo.LedgerFilter, path string) error {
	data, err := svc.ExportLedgerXLSX(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(data))
	return nil
}
