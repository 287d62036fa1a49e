package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

// Config holds the admission rules.
type Config struct {
	AllowedSenders []string
	// WebhookSecret enables signature verification when non-empty.
	WebhookSecret string
	// RateLimit admits at most RateLimit messages per sender per RateWindow; 0 disables.
	RateLimit  int
	RateWindow time.Duration
	// MaxContentChars caps the HTML-to-text fallback; 0 uses the sanitizer default.
	MaxContentChars int
}

// Guard is the trust boundary every inbound message crosses before it reaches
// the ledger or the queue.
type Guard struct {
	allowed map[string]struct{}
	secret  string
	limiter *senderLimiter
	maxChar int
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the clock used for arrival times and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		allowed: make(map[string]struct{}, len(cfg.AllowedSenders)),
		secret:  cfg.WebhookSecret,
		maxChar: cfg.MaxContentChars,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, s := range cfg.AllowedSenders {
		if n := NormalizeSender(s); n != "" {
			g.allowed[n] = struct{}{}
		}
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		g.limiter = newSenderLimiter(cfg.RateLimit, cfg.RateWindow, g.now)
	}
	if g.secret == "" {
		logger.Warn("signature verification disabled", "hint", "set WEBHOOK_SIGNING_SECRET to verify webhooks")
	}
	logger.Info("guard.ready",
		"allowed_senders", len(g.allowed),
		"signature", g.secret != "",
		"rate_limit", cfg.RateLimit,
		"rate_window", cfg.RateWindow)
	return g
}

// Admit applies the signature, sender, rate and content checks in that order
// and returns the queue unit for an accepted message.
func (g *Guard) Admit(ctx context.Context, msg entity.InboundMessage) (entity.QueuedMessage, error) {
	sender := NormalizeSender(msg.Sender)

	if g.secret != "" && !msg.SkipSignature {
		if !VerifySignature(g.secret, msg.Timestamp, msg.Token, msg.Signature) {
			g.logger.Warn("guard.rejected", "reason", "signature", "sender", sender)
			return entity.QueuedMessage{}, reject(ErrInvalidSignature, "webhook signature does not match")
		}
	}

	if _, ok := g.allowed[sender]; !ok || sender == "" {
		g.logger.Warn("guard.rejected", "reason", "sender", "sender", sender)
		return entity.QueuedMessage{}, reject(ErrSenderNotAllowed, "sender "+sender+" is not allowed")
	}

	if g.limiter != nil && !g.limiter.Allow(sender) {
		g.logger.Warn("guard.rejected", "reason", "rate_limit", "sender", sender)
		return entity.QueuedMessage{}, reject(ErrRateLimited, "too many messages from "+sender)
	}

	content := strings.TrimSpace(msg.BodyPlain)
	if content == "" && strings.TrimSpace(msg.BodyHTML) != "" {
		content = llm.SanitizeContent(msg.BodyHTML, g.maxChar)
	}
	if content == "" {
		g.logger.Warn("guard.rejected", "reason", "empty_content", "sender", sender)
		return entity.QueuedMessage{}, reject(ErrEmptyContent, "message body is empty")
	}

	subject := strings.TrimSpace(msg.Subject)
	fp := Fingerprint(content, subject, sender)
	g.logger.Debug("guard.admitted", "sender", sender, "fingerprint", fp, "content_len", len(content))
	return entity.QueuedMessage{
		Fingerprint: fp,
		SenderEmail: sender,
		Subject:     subject,
		Content:     content,
		ArrivedAt:   g.now().UTC(),
	}, nil
}
