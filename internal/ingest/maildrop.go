package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

// Ingestor is the admission entry point the mail drop feeds.
type Ingestor interface {
	Ingest(ctx context.Context, msg entity.InboundMessage) (Admission, error)
}

// MailDrop admits .eml files placed in a local directory. The directory is
// trusted, so signature checks are skipped; the sender allow-list still
// applies. Handled files are renamed with a .done or .rejected suffix.
type MailDrop struct {
	svc    Ingestor
	logger *slog.Logger
}

func NewMailDrop(svc Ingestor, logger *slog.Logger) *MailDrop {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailDrop{svc: svc, logger: logger}
}

// HandleFile admits one file. A rejected message is reported in
// FileResult.Err and the file is renamed; other failures leave the file in
// place for the next scan and are returned as errors.
func (d *MailDrop) HandleFile(ctx context.Context, path string) (FileResult, error) {
	res := FileResult{Path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("open %s: %w", path, err)
	}
	msg, err := ParseEML(f)
	_ = f.Close()
	if err != nil {
		res.Err = err.Error()
		d.logger.Warn("maildrop.parse_failed", "path", path, "error", err)
		return res, d.rename(path, constants.MailDropRejectedSuffix)
	}
	msg.SkipSignature = true

	adm, err := d.svc.Ingest(ctx, msg)
	if err != nil {
		if common.CodeOf(err) == common.CodeAdmissionRejected {
			res.Err = err.Error()
			d.logger.Warn("maildrop.rejected", "path", path, "sender", msg.Sender, "error", err)
			return res, d.rename(path, constants.MailDropRejectedSuffix)
		}
		d.logger.Error("maildrop.ingest_failed", "path", path, "error", err)
		return res, err
	}

	res.Fingerprint = adm.Fingerprint
	res.Outcome = adm.Outcome
	d.logger.Info("maildrop.admitted", "path", path, "fingerprint", adm.Fingerprint, "status", adm.Outcome)
	return res, d.rename(path, constants.MailDropDoneSuffix)
}

// Run scans dir once, then watches it until ctx ends.
func (d *MailDrop) Run(ctx context.Context, dir string, debounce time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("maildrop dir: %w", err)
	}
	_, stats, err := d.IngestDirectory(ctx, dir, true)
	if err != nil {
		return err
	}
	d.logger.Info("maildrop.initial_scan", "dir", dir,
		"matched", stats.Matched, "queued", stats.Queued, "duplicates", stats.Duplicates,
		"rejected", stats.Rejected, "failed", stats.Failed)

	events, errs, err := StartWatcher(ctx, WatchConfig{Roots: []string{dir}, Debounce: debounce}, d.logger)
	if err != nil {
		return err
	}
	d.logger.Info("maildrop.watching", "dir", dir, "debounce", debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-events:
			if !ok {
				return nil
			}
			if IsHidden(p) {
				continue
			}
			_, _ = d.HandleFile(ctx, p)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("maildrop.watch_error", "error", err)
		}
	}
}

func (d *MailDrop) rename(path, suffix string) error {
	if err := os.Rename(path, path+suffix); err != nil {
		d.logger.Error("maildrop.rename_failed", "path", path, "error", err)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// StartMailDrop runs a MailDrop over dir in the background. The returned
// channel yields the terminal error (nil on a clean stop) once ctx ends.
func StartMailDrop(ctx context.Context, dir string, debounce time.Duration, svc Ingestor, logger *slog.Logger) <-chan error {
	done := make(chan error, 1)
	d := NewMailDrop(svc, logger)
	go func() {
		done <- d.Run(ctx, dir, debounce)
		close(done)
	}()
	return done
}
