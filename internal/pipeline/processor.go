package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/extract"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

const ledgerWriteTimeout = 5 * time.Second

// Ledger is the part of the ledger repository the processor drives.
type Ledger interface {
	Transition(ctx context.Context, fingerprint string, to constants.LedgerStatus, fields repository.TransitionFields) (*entity.LedgerEntry, error)
}

// OrderAssembler persists a draft order for an extracted receipt.
type OrderAssembler interface {
	Assemble(ctx context.Context, receipt *entity.ExtractedReceipt, fingerprint, sender string) (string, error)
}

// Processor coordinates extraction then assembly for one queued message and
// records the outcome in the ledger.
type Processor struct {
	Logger    *slog.Logger
	Ledger    Ledger
	Extractor extract.ReceiptExtractor
	Assembler OrderAssembler
}

func NewProcessor(logger *slog.Logger, ledger Ledger, extractor extract.ReceiptExtractor, assembler OrderAssembler) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Ledger: ledger, Extractor: extractor, Assembler: assembler}
}

// Process moves the entry PENDING -> PROCESSING -> COMPLETED or FAILED.
// It never returns an error to the queue; ledger write failures are logged.
// Once claimed, a row leaves PROCESSING even if a stage panics.
func (p *Processor) Process(ctx context.Context, msg entity.QueuedMessage) (err error) {
	start := time.Now()
	ctx = common.WithFingerprint(ctx, msg.Fingerprint)
	log := p.Logger.With("fingerprint", msg.Fingerprint)

	if _, err := p.Ledger.Transition(ctx, msg.Fingerprint, constants.LedgerStatusProcessing, repository.TransitionFields{}); err != nil {
		// Someone else owns it or it was reset meanwhile; leave the row alone.
		log.Warn("pipeline.claim_failed", "error", err)
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, log, msg.Fingerprint, "panic", fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()
	log.Info("pipeline.processing", "sender", msg.SenderEmail, "queued_ms", time.Since(msg.ArrivedAt).Milliseconds())

	receipt, err := p.Extractor.Extract(ctx, msg.Content)
	if err != nil {
		p.fail(ctx, log, msg.Fingerprint, "extract", err)
		return nil
	}

	orderID, err := p.Assembler.Assemble(ctx, receipt, msg.Fingerprint, msg.SenderEmail)
	if err != nil {
		p.fail(ctx, log, msg.Fingerprint, "assemble", err)
		return nil
	}

	if err := p.complete(ctx, log, msg.Fingerprint, orderID); err != nil {
		// Retry accepts FAILED rows and the assembler finds this order by
		// fingerprint, so a later retry links it without a second order.
		p.fail(ctx, log, msg.Fingerprint, "complete", common.PersistenceFailed(err))
		return nil
	}
	log.Info("pipeline.completed",
		"order_id", orderID,
		"items", len(receipt.Items),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// complete records COMPLETED, trying once more on a detached context when the
// first write fails.
func (p *Processor) complete(ctx context.Context, log *slog.Logger, fingerprint, orderID string) error {
	fields := repository.TransitionFields{OrderID: orderID}
	_, err := p.Ledger.Transition(ctx, fingerprint, constants.LedgerStatusCompleted, fields)
	if err == nil {
		return nil
	}
	log.Warn("pipeline.complete_retry", "order_id", orderID, "error", err)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	if _, err = p.Ledger.Transition(wctx, fingerprint, constants.LedgerStatusCompleted, fields); err != nil {
		log.Error("pipeline.complete_failed", "order_id", orderID, "error", err)
		return err
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, fingerprint, stage string, cause error) {
	log.Warn("pipeline.failed", "stage", stage, "code", common.CodeOf(cause), "error", cause)
	// Record the failure even if the request context is done.
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
		defer cancel()
	}
	if _, err := p.Ledger.Transition(wctx, fingerprint, constants.LedgerStatusFailed, repository.TransitionFields{ErrorMessage: failureMessage(cause)}); err != nil {
		log.Error("pipeline.fail_record_failed", "error", err)
	}
}

// failureMessage keeps the human-readable reason for known failures.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrNoValidItems):
		return extract.ErrNoValidItems.Error()
	case errors.Is(err, extract.ErrTimeout):
		return extract.ErrTimeout.Error()
	}
	return err.Error()
}
