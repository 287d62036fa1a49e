package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

const receiptSchemaName = "receipt.json"

// Config for the extractor.
type Config struct {
	Timeout         time.Duration // per extraction; 0 disables
	MaxChars        int
	DefaultCurrency string
	Temperature     float32
	MaxTokens       int
}

// Extractor calls a generative text service and validates its reply.
type Extractor struct {
	cfg    Config
	gen    llm.TextGenerator
	logger *slog.Logger
	now    func() time.Time
}

var _ ReceiptExtractor = (*Extractor)(nil)

func NewExtractor(cfg Config, gen llm.TextGenerator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = llm.DefaultMaxContentChars
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Extractor{cfg: cfg, gen: gen, logger: logger, now: time.Now}
}

// Extract sanitizes content, prompts the generator, recovers and validates the
// JSON reply and returns the receipt with invalid lines removed.
func (e *Extractor) Extract(ctx context.Context, content string) (*entity.ExtractedReceipt, error) {
	start := time.Now()
	fp := common.FingerprintFromContext(ctx)

	text := llm.SanitizeContent(content, e.cfg.MaxChars)
	if text == "" {
		return nil, common.ExtractionFailed(ErrEmptyContent)
	}

	ctx, cancel := common.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	today := e.now().UTC()
	system, user := llm.BuildReceiptPrompt(llm.ReceiptPromptInput{
		Content:         text,
		Today:           today,
		DefaultCurrency: e.cfg.DefaultCurrency,
	})

	e.logger.Info("extract.start", "fingerprint", fp, "content_len", len(text))
	gen, err := e.gen.Generate(ctx, llm.GenerateRequest{
		System:      system,
		User:        user,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("extract.timeout", "fingerprint", fp, "timeout", e.cfg.Timeout)
			return nil, common.ExtractionFailed(ErrTimeout)
		}
		e.logger.Error("extract.generate_failed", "fingerprint", fp, "error", err)
		return nil, common.ExtractionFailed(fmt.Errorf("generative service: %w", err))
	}
	if strings.TrimSpace(gen.Text) == "" {
		return nil, common.ExtractionFailed(ErrNoUsableText)
	}

	receipt, err := e.parse(gen.Text, today)
	if err != nil {
		e.logger.Warn("extract.invalid_response", "fingerprint", fp, "error", err, "reply_len", len(gen.Text))
		return nil, common.ExtractionFailed(err)
	}

	e.logger.Info("extract.ok",
		"fingerprint", fp,
		"items", len(receipt.Items),
		"currency", receipt.CurrencyCode,
		"model", gen.Model,
		"total_tokens", gen.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return receipt, nil
}

type rawReceipt struct {
	MerchantName *string   `json:"merchantName"`
	PurchaseDate string    `json:"purchaseDate"`
	Currency     string    `json:"currency"`
	Subtotal     *float64  `json:"subtotal"`
	Tax          *float64  `json:"tax"`
	Total        *float64  `json:"total"`
	Items        []rawItem `json:"items"`
}

type rawItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unitPrice"`
	TotalPrice  *float64 `json:"totalPrice"`
}

func (e *Extractor) parse(reply string, today time.Time) (*entity.ExtractedReceipt, error) {
	obj, ok := llm.RecoverJSON(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidStructuredResponse)
	}
	normalized, _, err := llm.NormalizeReceiptJSON([]byte(obj), e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
	}
	if err := llm.ValidateJSONAgainstSchema(receiptSchemaName, llm.ReceiptJSONSchema(), normalized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
	}

	var raw rawReceipt
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredResponse, err)
	}
	return e.postValidate(raw, today)
}

func (e *Extractor) postValidate(raw rawReceipt, today time.Time) (*entity.ExtractedReceipt, error) {
	out := &entity.ExtractedReceipt{
		MerchantName: trimmedOrNil(raw.MerchantName),
		PurchaseDate: parseDate(raw.PurchaseDate, today),
		CurrencyCode: raw.Currency,
		Subtotal:     raw.Subtotal,
		Tax:          raw.Tax,
		Total:        raw.Total,
	}
	if out.CurrencyCode == "" {
		out.CurrencyCode = e.cfg.DefaultCurrency
	}

	for i, it := range raw.Items {
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			e.logger.Debug("extract.item_dropped", "index", i, "reason", "empty description")
			continue
		}
		qty := 1
		if it.Quantity != nil {
			qty = int(math.Round(*it.Quantity))
		}
		if qty <= 0 {
			e.logger.Debug("extract.item_dropped", "index", i, "reason", "non-positive quantity")
			continue
		}
		item := entity.ExtractedLineItem{
			Description: desc,
			Quantity:    qty,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		}
		if item.UnitPrice == nil && item.TotalPrice != nil {
			unit := math.Round(*item.TotalPrice/float64(qty)*100) / 100
			item.UnitPrice = &unit
		}
		out.Items = append(out.Items, item)
	}
	if len(out.Items) == 0 {
		return nil, ErrNoValidItems
	}
	return out, nil
}

var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// parseDate reads the model's date, falling back to today (UTC).
func parseDate(s string, today time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	today = today.UTC()
	return time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
