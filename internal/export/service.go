package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

const (
	ledgerSheet  = "Ledger"
	summarySheet = "Summary"
)

// LedgerReader is the read side of the processing ledger the report needs.
type LedgerReader interface {
	ListRecent(ctx context.Context, filter repository.LedgerFilter) ([]*entity.LedgerEntry, error)
	CountByStatus(ctx context.Context) (map[constants.LedgerStatus]int, error)
}

// Service produces XLSX reports of the processing ledger. Raw message content
// is never part of a report.
type Service struct {
	ledger LedgerReader
	logger *slog.Logger
}

func NewService(ledger LedgerReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger}
}

// ExportLedgerXLSX returns a workbook with the recent entries matching filter
// and a per-status summary sheet.
func (s *Service) ExportLedgerXLSX(ctx context.Context, filter repository.LedgerFilter) ([]byte, error) {
	start := time.Now()

	entries, err := s.ledger.ListRecent(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	counts, err := s.ledger.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ledger: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes the ledger sheet
	if err := f.SetSheetName(f.GetSheetName(0), ledgerSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(ledgerSheet)
	f.SetActiveSheet(idx)

	headers := []any{"Fingerprint", "Sender", "Subject", "Status", "Order ID", "Error", "Received", "Processed"}
	if err := f.SetSheetRow(ledgerSheet, "A1", &headers); err != nil {
		return nil, err
	}

	for i, e := range entries {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			e.Fingerprint,
			e.SenderEmail,
			e.Subject,
			string(e.Status),
			deref(e.OrderID),
			truncate(deref(e.ErrorMessage), 140),
			e.CreatedAt.UTC().Format(time.RFC3339),
			formatTime(e.ProcessedAt),
		}
		if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(ledgerSheet, "A", "A", 24) // fingerprint
	_ = f.SetColWidth(ledgerSheet, "B", "C", 30) // sender, subject
	_ = f.SetColWidth(ledgerSheet, "D", "D", 12)
	_ = f.SetColWidth(ledgerSheet, "E", "E", 38)
	_ = f.SetColWidth(ledgerSheet, "F", "F", 48)
	_ = f.SetColWidth(ledgerSheet, "G", "H", 22)

	if err := f.SetSheetRow(summarySheet, "A1", &[]any{"Status", "Entries"}); err != nil {
		return nil, err
	}
	for i, st := range constants.StoredLedgerStatuses() {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &[]any{string(st), counts[st]}); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(entries),
		"status", filter.Status,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
