package extract

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

// Extraction failures. The extractor returns them wrapped in an
// EXTRACTION_FAILED AppError; the message ends up in the ledger.
var (
	ErrEmptyContent              = errors.New("no content to extract")
	ErrNoUsableText              = errors.New("generative service returned no usable text")
	ErrInvalidStructuredResponse = errors.New("invalid structured response")
	ErrNoValidItems              = errors.New("no valid items")
	ErrTimeout                   = errors.New("extraction timed out")
)

// ReceiptExtractor turns raw email content into a validated receipt.
type ReceiptExtractor interface {
	Extract(ctx context.Context, content string) (*entity.ExtractedReceipt, error)
}
