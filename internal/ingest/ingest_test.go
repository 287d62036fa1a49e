package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/guard"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []entity.QueuedMessage
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, m entity.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, m)
	return nil
}

func (q *fakeQueue) Status() async.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return async.Status{Depth: len(q.msgs)}
}

type fixture struct {
	svc    *Service
	ledger repository.LedgerRepository
	queue  *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "inbox.db")
	db, err := repository.Open(context.Background(), repository.Config{DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repository.Close(db, nil) })
	require.NoError(t, repository.Migrate(db, nil))

	ledger := repository.NewLedgerRepository(db, nil)
	g := guard.New(guard.Config{AllowedSenders: []string{"receipts@shop.example"}}, nil)
	q := &fakeQueue{}
	return &fixture{svc: NewService(g, ledger, q, nil), ledger: ledger, queue: q}
}

func receipt(body string) entity.InboundMessage {
	return entity.InboundMessage{
		Sender:    "receipts@shop.example",
		Subject:   "Your receipt",
		BodyPlain: body,
		Timestamp: "1767225600",
	}
}

func TestIngestQueuesThenReportsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adm, err := f.svc.Ingest(ctx, receipt("Milk 2L 3.49"))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, adm.Outcome)
	require.Len(t, f.queue.msgs, 1)
	require.Equal(t, adm.Fingerprint, f.queue.msgs[0].Fingerprint)

	e, err := f.ledger.Get(ctx, adm.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusPending, e.Status)

	again, err := f.svc.Ingest(ctx, receipt("  Milk  2L\t3.49 "))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, again.Outcome)
	require.Equal(t, adm.Fingerprint, again.Fingerprint)
	require.Len(t, f.queue.msgs, 1)
}

func TestIngestRejectedLeavesNoLedgerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := receipt("Milk 2L 3.49")
	msg.Sender = "blocked@evil.example"
	_, err := f.svc.Ingest(ctx, msg)
	require.Error(t, err)
	require.Equal(t, common.CodeAdmissionRejected, common.CodeOf(err))
	require.ErrorIs(t, err, guard.ErrSenderNotAllowed)

	counts, err := f.ledger.CountByStatus(ctx)
	require.NoError(t, err)
	for status, n := range counts {
		require.Zero(t, n, status)
	}
	require.Empty(t, f.queue.msgs)
}

func TestIngestEnqueueFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.err = async.ErrQueueFull

	_, err := f.svc.Ingest(ctx, receipt("Milk 2L 3.49"))
	require.Error(t, err)
	require.Equal(t, common.CodeQueueFull, common.CodeOf(err))
	require.ErrorIs(t, err, async.ErrQueueFull)

	entries, err := f.ledger.ListRecent(ctx, repository.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, constants.LedgerStatusFailed, entries[0].Status)
	require.NotNil(t, entries[0].ErrorMessage)
	require.True(t, strings.HasPrefix(*entries[0].ErrorMessage, "not queued"))
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.Retry(ctx, "missing"), common.ErrNotFound)

	adm, err := f.svc.Ingest(ctx, receipt("Milk 2L 3.49"))
	require.NoError(t, err)

	// PENDING is not retryable.
	err = f.svc.Retry(ctx, adm.Fingerprint)
	require.Equal(t, common.CodeInvalidTransition, common.CodeOf(err))

	_, err = f.ledger.Transition(ctx, adm.Fingerprint, constants.LedgerStatusFailed,
		repository.TransitionFields{ErrorMessage: "no valid items"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Retry(ctx, adm.Fingerprint))
	require.Len(t, f.queue.msgs, 2)
	retried := f.queue.msgs[1]
	require.Equal(t, adm.Fingerprint, retried.Fingerprint)
	require.Equal(t, "Milk 2L 3.49", retried.Content)

	e, err := f.ledger.Get(ctx, adm.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, constants.LedgerStatusPending, e.Status)
	require.Nil(t, e.ErrorMessage)
}

const multipartEML = "From: Shop Receipts <receipts@shop.example>\r\n" +
	"Subject: =?UTF-8?Q?Your_receipt_=E2=80=93_order_42?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Milk 2L =3D 3.49\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"PHA+TWlsayAyTDwvcD4=\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=receipt.pdf\r\n" +
	"\r\n" +
	"%PDF-1.4\r\n" +
	"--outer--\r\n"

func TestParseEML(t *testing.T) {
	msg, err := ParseEML(strings.NewReader(multipartEML))
	require.NoError(t, err)
	require.Equal(t, "receipts@shop.example", msg.Sender)
	require.Equal(t, "Your receipt – order 42", msg.Subject)
	require.Equal(t, "Milk 2L = 3.49", strings.TrimSpace(msg.BodyPlain))
	require.Equal(t, "<p>Milk 2L</p>", strings.TrimSpace(msg.BodyHTML))
	require.NotContains(t, msg.BodyPlain, "PDF")
}

func TestParseEMLSinglePart(t *testing.T) {
	raw := "From: receipts@shop.example\r\nSubject: Receipt\r\n\r\nBread 2.10\r\n"
	msg, err := ParseEML(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "Bread 2.10", strings.TrimSpace(msg.BodyPlain))
}

func TestMailDropIngestDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	good := write("a.eml", "From: receipts@shop.example\r\nSubject: Receipt\r\n\r\nBread 2.10\r\n")
	dup := write("b.eml", "From: receipts@shop.example\r\nSubject: Receipt\r\n\r\nBread   2.10\r\n")
	blocked := write("c.eml", "From: blocked@evil.example\r\nSubject: Receipt\r\n\r\nBread 2.10\r\n")
	write("notes.txt", "ignored")
	write(".hidden.eml", "From: receipts@shop.example\r\n\r\nhidden\r\n")

	_, stats, err := NewMailDrop(f.svc, nil).IngestDirectory(ctx, dir, true)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Matched)
	require.EqualValues(t, 1, stats.Queued)
	require.EqualValues(t, 1, stats.Duplicates)
	require.EqualValues(t, 1, stats.Rejected)

	require.FileExists(t, good+constants.MailDropDoneSuffix)
	require.FileExists(t, dup+constants.MailDropDoneSuffix)
	require.FileExists(t, blocked+constants.MailDropRejectedSuffix)
	require.FileExists(t, filepath.Join(dir, "notes.txt"))
	require.FileExists(t, filepath.Join(dir, ".hidden.eml"))
	require.Len(t, f.queue.msgs, 1)
}

func TestMailDropLeavesFileOnQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("queue down")
	p := filepath.Join(t.TempDir(), "a.eml")
	require.NoError(t, os.WriteFile(p, []byte("From: receipts@shop.example\r\n\r\nBread 2.10\r\n"), 0o644))

	_, err := NewMailDrop(f.svc, nil).HandleFile(context.Background(), p)
	require.Error(t, err)
	require.FileExists(t, p)
}
