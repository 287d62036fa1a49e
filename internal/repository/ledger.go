package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

const (
	ledgerTable        = "processing_ledger"
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
	maxErrorMessageLen = 2000
)

// ledgerSummaryColumns never includes raw_content.
var ledgerSummaryColumns = []string{
	"fingerprint", "sender_email", "subject", "status", "error_message",
	"order_id", "processed_at", "created_at", "updated_at",
}

// allowedFrom lists, per target status, the statuses a row may leave to reach it.
var allowedFrom = map[constants.LedgerStatus][]constants.LedgerStatus{
	constants.LedgerStatusProcessing: {constants.LedgerStatusPending},
	constants.LedgerStatusCompleted:  {constants.LedgerStatusProcessing},
	constants.LedgerStatusFailed:     {constants.LedgerStatusPending, constants.LedgerStatusProcessing},
	constants.LedgerStatusPending:    {constants.LedgerStatusFailed},
}

// NewLedgerEntry carries the admission-time fields of a ledger row.
type NewLedgerEntry struct {
	Fingerprint string
	SenderEmail string
	Subject     string
	RawContent  string
}

// TransitionFields carries the optional columns a transition writes.
type TransitionFields struct {
	OrderID      string
	ErrorMessage string
}

// LedgerFilter narrows ListRecent.
type LedgerFilter struct {
	Status constants.LedgerStatus
	Limit  int
}

type LedgerRepository interface {
	CreateIfAbsent(ctx context.Context, entry NewLedgerEntry) (bool, error)
	Transition(ctx context.Context, fingerprint string, to constants.LedgerStatus, fields TransitionFields) (*entity.LedgerEntry, error)
	Get(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error)
	GetWithContent(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error)
	ListRecent(ctx context.Context, filter LedgerFilter) ([]*entity.LedgerEntry, error)
	CountByStatus(ctx context.Context) (map[constants.LedgerStatus]int, error)
	FailAbandoned(ctx context.Context, reason string) (int64, error)
}

type ledgerRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewLedgerRepository(db *DB, logger *slog.Logger) LedgerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledgerRepository{db: db, logger: logger, now: utcNow}
}

// CreateIfAbsent inserts a PENDING row unless the fingerprint is already known.
// The unique key makes the check atomic; false means duplicate and nothing was written.
func (r *ledgerRepository) CreateIfAbsent(ctx context.Context, e NewLedgerEntry) (bool, error) {
	now := r.now()
	query, args := r.db.builder().
		Insert(ledgerTable).
		Columns("fingerprint", "sender_email", "subject", "raw_content", "status", "created_at", "updated_at").
		Values(e.Fingerprint, e.SenderEmail, e.Subject, e.RawContent, string(constants.LedgerStatusPending), now, now).
		OnConflict(entsql.ConflictColumns("fingerprint"), entsql.DoNothing()).
		Query()

	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("ledger create failed", "fingerprint", e.Fingerprint, "error", err)
		return false, fmt.Errorf("ledger create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger create rows affected: %w", err)
	}
	if n == 0 {
		r.logger.Info("ledger entry already exists", "fingerprint", e.Fingerprint)
		return false, nil
	}
	r.logger.Info("ledger entry created", "fingerprint", e.Fingerprint, "sender", e.SenderEmail, "status", constants.LedgerStatusPending)
	return true, nil
}

// Transition moves a row to status `to`, only from the statuses allowedFrom permits.
func (r *ledgerRepository) Transition(ctx context.Context, fingerprint string, to constants.LedgerStatus, fields TransitionFields) (*entity.LedgerEntry, error) {
	from, ok := allowedFrom[to]
	if !ok {
		return nil, common.NewAppError(common.CodeInvalidTransition, fmt.Sprintf("status %s cannot be set explicitly", to), common.ErrInvalidTransition)
	}
	if to == constants.LedgerStatusCompleted && strings.TrimSpace(fields.OrderID) == "" {
		return nil, common.NewAppError(common.CodeInvalidTransition, "completed entries need an order id", common.ErrInvalidInput)
	}

	now := r.now()
	u := r.db.builder().Update(ledgerTable).
		Set("status", string(to)).
		Set("updated_at", now)
	switch to {
	case constants.LedgerStatusCompleted:
		u = u.Set("order_id", fields.OrderID).Set("processed_at", now).SetNull("error_message")
	case constants.LedgerStatusFailed:
		u = u.Set("error_message", truncate(fields.ErrorMessage, maxErrorMessageLen)).Set("processed_at", now).SetNull("order_id")
	case constants.LedgerStatusPending:
		u = u.SetNull("error_message").SetNull("processed_at").SetNull("order_id")
	}

	fromArgs := make([]any, len(from))
	for i, s := range from {
		fromArgs[i] = string(s)
	}
	query, args := u.Where(entsql.And(
		entsql.EQ("fingerprint", fingerprint),
		entsql.In("status", fromArgs...),
	)).Query()

	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("ledger transition failed", "fingerprint", fingerprint, "to", to, "error", err)
		return nil, fmt.Errorf("ledger transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ledger transition rows affected: %w", err)
	}
	if n == 0 {
		current, err := r.Get(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		r.logger.Warn("ledger transition rejected", "fingerprint", fingerprint, "from", current.Status, "to", to)
		return nil, common.NewAppError(common.CodeInvalidTransition,
			fmt.Sprintf("cannot move entry from %s to %s", current.Status, to), common.ErrInvalidTransition)
	}

	r.logger.Info("ledger transition", "fingerprint", fingerprint, "to", to)
	return r.Get(ctx, fingerprint)
}

// Get returns one entry with raw content stripped.
func (r *ledgerRepository) Get(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error) {
	query, args := r.db.builder().
		Select(ledgerSummaryColumns...).
		From(r.db.builder().Table(ledgerTable)).
		Where(entsql.EQ("fingerprint", fingerprint)).
		Query()

	row := r.db.SQL().QueryRowContext(ctx, query, args...)
	e, err := scanLedgerEntry(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "ledger entry "+fingerprint+" not found", common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("ledger get failed", "fingerprint", fingerprint, "error", err)
		return nil, fmt.Errorf("ledger get: %w", err)
	}
	return e, nil
}

// GetWithContent is the only read path that returns raw content; retries use it.
func (r *ledgerRepository) GetWithContent(ctx context.Context, fingerprint string) (*entity.LedgerEntry, error) {
	cols := append(append([]string{}, ledgerSummaryColumns...), "raw_content")
	query, args := r.db.builder().
		Select(cols...).
		From(r.db.builder().Table(ledgerTable)).
		Where(entsql.EQ("fingerprint", fingerprint)).
		Query()

	row := r.db.SQL().QueryRowContext(ctx, query, args...)
	e, err := scanLedgerEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "ledger entry "+fingerprint+" not found", common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("ledger get with content failed", "fingerprint", fingerprint, "error", err)
		return nil, fmt.Errorf("ledger get: %w", err)
	}
	return e, nil
}

// ListRecent returns the newest entries first, optionally filtered by status.
func (r *ledgerRepository) ListRecent(ctx context.Context, filter LedgerFilter) ([]*entity.LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	if limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}

	sel := r.db.builder().
		Select(ledgerSummaryColumns...).
		From(r.db.builder().Table(ledgerTable))
	if filter.Status != "" {
		sel = sel.Where(entsql.EQ("status", string(filter.Status)))
	}
	query, args := sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("fingerprint")).Limit(limit).Query()

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("ledger list failed", "status", filter.Status, "error", err)
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()

	var out []*entity.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows, false)
		if err != nil {
			return nil, fmt.Errorf("ledger list scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus reports how many rows sit in each stored status.
func (r *ledgerRepository) CountByStatus(ctx context.Context) (map[constants.LedgerStatus]int, error) {
	query, args := r.db.builder().
		Select("status", entsql.Count("*")).
		From(r.db.builder().Table(ledgerTable)).
		GroupBy("status").
		Query()

	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger count: %w", err)
	}
	defer rows.Close()

	out := make(map[constants.LedgerStatus]int, 4)
	for _, s := range constants.StoredLedgerStatuses() {
		out[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ledger count scan: %w", err)
		}
		out[constants.LedgerStatus(status)] = n
	}
	return out, rows.Err()
}

// FailAbandoned marks every PENDING or PROCESSING row FAILED. It is meant for
// startup, when no worker can still own those rows.
func (r *ledgerRepository) FailAbandoned(ctx context.Context, reason string) (int64, error) {
	now := r.now()
	query, args := r.db.builder().Update(ledgerTable).
		Set("status", string(constants.LedgerStatusFailed)).
		Set("error_message", truncate(reason, maxErrorMessageLen)).
		Set("processed_at", now).
		Set("updated_at", now).
		Where(entsql.In("status", string(constants.LedgerStatusPending), string(constants.LedgerStatusProcessing))).
		Query()

	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ledger fail abandoned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("ledger abandoned entries failed", "count", n, "reason", reason)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(s rowScanner, withContent bool) (*entity.LedgerEntry, error) {
	var (
		e           entity.LedgerEntry
		status      string
		errMsg      sql.NullString
		orderID     sql.NullString
		processedAt sql.NullTime
		content     sql.NullString
	)
	dest := []any{&e.Fingerprint, &e.SenderEmail, &e.Subject, &status, &errMsg, &orderID, &processedAt, &e.CreatedAt, &e.UpdatedAt}
	if withContent {
		dest = append(dest, &content)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	e.Status = constants.LedgerStatus(status)
	e.ErrorMessage = nullString(errMsg)
	e.OrderID = nullString(orderID)
	e.ProcessedAt = nullTime(processedAt)
	e.RawContent = content.String
	return &e, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// floatArg turns an optional amount into a driver value (nil → NULL).
func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
