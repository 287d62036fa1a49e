package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

// Outcome of a successful admission.
type Outcome string

const (
	OutcomeQueued    Outcome = "queued"
	OutcomeDuplicate Outcome = "duplicate"
)

// Admission is what the caller of Ingest learns synchronously.
type Admission struct {
	Fingerprint string  `json:"fingerprint"`
	Outcome     Outcome `json:"status"`
}

// Admitter validates an inbound message and builds its queue unit.
type Admitter interface {
	Admit(ctx context.Context, msg entity.InboundMessage) (entity.QueuedMessage, error)
}

// Ledger is the part of the ledger repository admission and retry use.
type Ledger interface {
	CreateIfAbsent(ctx context.Context, entry repository.NewLedgerEntry) (bool, error)
	Transition(ctx context.Context, fingerprint string, to constants.LedgerStatus, fields repository.TransitionFields) (*entity.LedgerEntry, error)
	GetWithContent(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error)
}

// Service is the admission path shared by the webhook and the mail drop:
// Guard -> Ledger.CreateIfAbsent -> Queue.Enqueue.
type Service struct {
	guard  Admitter
	ledger Ledger
	queue  async.Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

func NewService(guard Admitter, ledger Ledger, queue async.Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{guard: guard, ledger: ledger, queue: queue, logger: logger, now: time.Now}
}

// Ingest admits msg. Rejections are returned as ADMISSION_REJECTED errors
// and leave no trace in the ledger. A known fingerprint reports duplicate.
func (s *Service) Ingest(ctx context.Context, msg entity.InboundMessage) (Admission, error) {
	queued, err := s.guard.Admit(ctx, msg)
	if err != nil {
		return Admission{}, err
	}

	created, err := s.ledger.CreateIfAbsent(ctx, repository.NewLedgerEntry{
		Fingerprint: queued.Fingerprint,
		SenderEmail: queued.SenderEmail,
		Subject:     queued.Subject,
		RawContent:  queued.Content,
	})
	if err != nil {
		s.logger.Error("ingest.ledger_failed", "fingerprint", queued.Fingerprint, "error", err)
		return Admission{}, common.NewAppError(common.CodePersistenceFailed, "could not record message", err)
	}
	if !created {
		s.logger.Info("ingest.duplicate", "fingerprint", queued.Fingerprint, "sender", queued.SenderEmail)
		return Admission{Fingerprint: queued.Fingerprint, Outcome: OutcomeDuplicate}, nil
	}

	if err := s.enqueue(ctx, queued); err != nil {
		return Admission{}, err
	}
	s.logger.Info("ingest.admitted", "fingerprint", queued.Fingerprint, "sender", queued.SenderEmail)
	return Admission{Fingerprint: queued.Fingerprint, Outcome: OutcomeQueued}, nil
}

// Retry puts a FAILED entry back at the end of the queue.
func (s *Service) Retry(ctx context.Context, fingerprint string) error {
	entry, err := s.ledger.GetWithContent(ctx, fingerprint)
	if err != nil {
		return err
	}
	if entry.Status != constants.LedgerStatusFailed {
		return common.NewAppError(common.CodeInvalidTransition,
			fmt.Sprintf("only FAILED entries can be retried; entry is %s", entry.Status), common.ErrInvalidTransition)
	}
	if _, err := s.ledger.Transition(ctx, fingerprint, constants.LedgerStatusPending, repository.TransitionFields{}); err != nil {
		return err
	}
	if err := s.enqueue(ctx, entity.FromLedgerEntry(entry, s.now().UTC())); err != nil {
		return err
	}
	s.logger.Info("ingest.retry_queued", "fingerprint", fingerprint)
	return nil
}

// QueueStatus reports the ingestion queue's state.
func (s *Service) QueueStatus() async.Status {
	return s.queue.Status()
}

// enqueue hands the message to the queue; on failure the PENDING row is
// marked FAILED so it stays retryable.
func (s *Service) enqueue(ctx context.Context, msg entity.QueuedMessage) error {
	err := s.queue.Enqueue(ctx, msg)
	if err == nil {
		return nil
	}
	s.logger.Warn("ingest.enqueue_failed", "fingerprint", msg.Fingerprint, "error", err)
	if _, terr := s.ledger.Transition(context.WithoutCancel(ctx), msg.Fingerprint, constants.LedgerStatusFailed,
		repository.TransitionFields{ErrorMessage: "not queued: " + err.Error()}); terr != nil {
		s.logger.Error("ingest.enqueue_fail_record_failed", "fingerprint", msg.Fingerprint, "error", terr)
	}
	return common.NewAppError(common.CodeQueueFull, "message not queued", err)
}
