package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/extract"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

type extractFunc func(ctx context.Context, content string) (*entity.ExtractedReceipt, error)

func (f extractFunc) Extract(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
	return f(ctx, content)
}

type assembleFunc func(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error)

func (f assembleFunc) Assemble(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error) {
	return f(ctx, r, fp, sender)
}

type env struct {
	ledger repository.LedgerRepository
	orders repository.OrderRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: "sqlite://" + filepath.Join(t.TempDir(), "p.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, nil) })
	require.NoError(t, repository.Migrate(db, nil))
	return &env{ledger: repository.NewLedgerRepository(db, nil), orders: repository.NewOrderRepository(db, nil)}
}

func (e *env) admit(t *testing.T, fp string) entity.QueuedMessage {
	t.Helper()
	_, err := e.ledger.CreateIfAbsent(context.Background(), repository.NewLedgerEntry{
		Fingerprint: fp, SenderEmail: "receipts@shop.example", Subject: "s", RawContent: "Milk",
	})
	require.NoError(t, err)
	return entity.QueuedMessage{Fingerprint: fp, SenderEmail: "receipts@shop.example", Content: "Milk", ArrivedAt: time.Now()}
}

func oneItem(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
	return &entity.ExtractedReceipt{
		PurchaseDate: time.Now().UTC(),
		CurrencyCode: "USD",
		Items:        []entity.ExtractedLineItem{{Description: "Milk", Quantity: 1}},
	}, nil
}

func TestProcessCompletes(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-ok")

	var sawFingerprint string
	asm := assembleFunc(func(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error) {
		sawFingerprint = common.FingerprintFromContext(ctx)
		o, _, err := e.orders.CreateDraftOrder(ctx, entity.Order{
			IsDraft: true, OriginalFingerprint: fp, PurchaseDate: r.PurchaseDate, CurrencyCode: r.CurrencyCode,
		}, nil)
		if err != nil {
			return "", err
		}
		return o.ID, nil
	})

	p := NewProcessor(nil, e.ledger, extractFunc(oneItem), asm)
	require.NoError(t, p.Process(context.Background(), msg))
	require.Equal(t, "fp-ok", sawFingerprint)

	got, err := e.ledger.Get(context.Background(), "fp-ok")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusCompleted, got.Status)
	require.NotNil(t, got.OrderID)
	require.NotNil(t, got.ProcessedAt)
}

func TestProcessNoValidItemsFails(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-empty")

	ext := extractFunc(func(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
		return nil, common.ExtractionFailed(extract.ErrNoValidItems)
	})
	called := false
	asm := assembleFunc(func(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error) {
		called = true
		return "", nil
	})

	require.NoError(t, NewProcessor(nil, e.ledger, ext, asm).Process(context.Background(), msg))
	require.False(t, called)

	got, err := e.ledger.Get(context.Background(), "fp-empty")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusFailed, got.Status)
	require.Equal(t, "no valid items", *got.ErrorMessage)
	require.Nil(t, got.OrderID)
}

func TestProcessAssembleFailure(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-db")
	asm := assembleFunc(func(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error) {
		return "", common.PersistenceFailed(errors.New("disk full"))
	})

	require.NoError(t, NewProcessor(nil, e.ledger, extractFunc(oneItem), asm).Process(context.Background(), msg))

	got, err := e.ledger.Get(context.Background(), "fp-db")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "disk full")
}

func TestProcessSkipsUnclaimable(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-done")
	_, err := e.ledger.Transition(context.Background(), "fp-done", constants.LedgerStatusFailed, repository.TransitionFields{ErrorMessage: "x"})
	require.NoError(t, err)

	ext := extractFunc(func(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
		t.Fatal("extractor must not run for an unclaimed entry")
		return nil, nil
	})
	require.NoError(t, NewProcessor(nil, e.ledger, ext, nil).Process(context.Background(), msg))
}

func TestFailureMessage(t *testing.T) {
	require.Equal(t, "extraction timed out", failureMessage(common.ExtractionFailed(extract.ErrTimeout)))
	require.Equal(t, "boom", failureMessage(errors.New("boom")))
}

func TestProcessPanicMarksFailed(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-panic")
	ext := extractFunc(func(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
		panic("parser exploded")
	})

	q := async.NewProcessorQueue(NewProcessor(nil, e.ledger, ext, nil).Process, nil)
	require.NoError(t, q.Enqueue(context.Background(), msg))
	require.Eventually(t, func() bool { return !q.Status().Active }, 5*time.Second, 10*time.Millisecond)

	got, err := e.ledger.Get(context.Background(), "fp-panic")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "panic: parser exploded")
}

// flakyLedger fails the first n COMPLETED writes and passes everything else
// through to the real ledger.
type flakyLedger struct {
	repository.LedgerRepository
	completeFailures int
	completeCalls    int
}

func (l *flakyLedger) Transition(ctx context.Context, fp string, to constants.LedgerStatus, fields repository.TransitionFields) (*entity.LedgerEntry, error) {
	if to == constants.LedgerStatusCompleted {
		l.completeCalls++
		if l.completeCalls <= l.completeFailures {
			return nil, errors.New("connection reset")
		}
	}
	return l.LedgerRepository.Transition(ctx, fp, to, fields)
}

func orderAssembler(e *env) assembleFunc {
	return func(ctx context.Context, r *entity.ExtractedReceipt, fp, sender string) (string, error) {
		o, _, err := e.orders.CreateDraftOrder(ctx, entity.Order{
			IsDraft: true, OriginalFingerprint: fp, PurchaseDate: r.PurchaseDate, CurrencyCode: r.CurrencyCode,
		}, nil)
		if err != nil {
			return "", err
		}
		return o.ID, nil
	}
}

func TestProcessCompleteRetriesOnce(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-flaky")
	ledger := &flakyLedger{LedgerRepository: e.ledger, completeFailures: 1}

	require.NoError(t, NewProcessor(nil, ledger, extractFunc(oneItem), orderAssembler(e)).Process(context.Background(), msg))
	require.Equal(t, 2, ledger.completeCalls)

	got, err := e.ledger.Get(context.Background(), "fp-flaky")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusCompleted, got.Status)
	require.NotNil(t, got.OrderID)
}

func TestProcessCompleteFailureMarksFailed(t *testing.T) {
	e := newEnv(t)
	msg := e.admit(t, "fp-stuck")
	ledger := &flakyLedger{LedgerRepository: e.ledger, completeFailures: 2}

	require.NoError(t, NewProcessor(nil, ledger, extractFunc(oneItem), orderAssembler(e)).Process(context.Background(), msg))
	require.Equal(t, 2, ledger.completeCalls)

	got, err := e.ledger.Get(context.Background(), "fp-stuck")
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "connection reset")
	require.Nil(t, got.OrderID)

	// The order survived, so a later attempt links it instead of creating another.
	existing, err := e.orders.FindByFingerprint(context.Background(), "fp-stuck")
	require.NoError(t, err)
	require.NotNil(t, existing)
}
