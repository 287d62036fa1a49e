package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-inbox/constants"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/repository"
	"github.com/joseph-ayodele/receipts-inbox/internal/resolve"
)

// OrderStore is the slice of the order repository the assembler writes through.
type OrderStore interface {
	CreateDraftOrder(ctx context.Context, order entity.Order, newProducts []entity.Product) (*entity.Order, bool, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Order, error)
}

var _ OrderStore = (repository.OrderRepository)(nil)

// Assembler turns an extracted receipt into a persisted draft order.
type Assembler struct {
	orders  OrderStore
	matcher resolve.Matcher
	logger  *slog.Logger
}

func NewAssembler(orders OrderStore, matcher resolve.Matcher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{orders: orders, matcher: matcher, logger: logger}
}

// Assemble resolves every line item, then writes new draft products, the order
// and its items in one transaction. It is idempotent per fingerprint.
func (a *Assembler) Assemble(ctx context.Context, receipt *entity.ExtractedReceipt, fingerprint, sender string) (string, error) {
	existing, err := a.orders.FindByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		a.logger.Info("assemble.reused_order", "fingerprint", fingerprint, "order_id", existing.ID)
		return existing.ID, nil
	case !errors.Is(err, common.ErrNotFound):
		return "", common.PersistenceFailed(err)
	}

	items, newProducts, err := a.plan(ctx, receipt)
	if err != nil {
		return "", err
	}

	order := entity.Order{
		IsDraft:             true,
		Source:              constants.SourceEmail,
		OriginalFingerprint: fingerprint,
		SenderEmail:         sender,
		MerchantName:        receipt.MerchantName,
		PurchaseDate:        receipt.PurchaseDate,
		CurrencyCode:        receipt.CurrencyCode,
		Subtotal:            receipt.Subtotal,
		Tax:                 receipt.Tax,
		Total:               receipt.Total,
		Items:               items,
	}
	saved, created, err := a.orders.CreateDraftOrder(ctx, order, newProducts)
	if err != nil {
		a.logger.Error("assemble.persist_failed", "fingerprint", fingerprint, "error", err)
		return "", common.PersistenceFailed(err)
	}
	if created && len(newProducts) > 0 {
		// Drafts stay out of the catalog; the reload only picks up other writers.
		a.matcher.Invalidate()
	}

	a.logger.Info("assemble.ok",
		"fingerprint", fingerprint,
		"order_id", saved.ID,
		"items", len(items),
		"new_products", len(newProducts),
		"created", created)
	return saved.ID, nil
}

// plan maps each line to an existing or a new draft product. Lines whose
// normalized descriptions are equal share one new draft product.
func (a *Assembler) plan(ctx context.Context, receipt *entity.ExtractedReceipt) ([]entity.OrderItem, []entity.Product, error) {
	var (
		items   = make([]entity.OrderItem, 0, len(receipt.Items))
		drafts  []entity.Product
		planned = make(map[string]string)
	)
	for _, line := range receipt.Items {
		productID := ""
		match, err := a.matcher.Match(ctx, line.Description)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) && appErr.Code == common.CodeResolutionFailed {
				return nil, nil, err
			}
			return nil, nil, common.ResolutionFailed(err)
		}
		if match != nil {
			productID = match.Product.ID
			a.logger.Debug("assemble.line_matched", "description", line.Description, "product_id", productID, "confidence", match.Confidence)
		} else {
			key := resolve.Normalize(line.Description)
			if id, ok := planned[key]; ok {
				productID = id
			} else {
				p := entity.Product{
					ID:          uuid.NewString(),
					Name:        line.Description,
					Description: draftDescription(receipt, line),
					Price:       line.UnitPrice,
					IsDraft:     true,
					Source:      constants.SourceEmail,
				}
				drafts = append(drafts, p)
				planned[key] = p.ID
				productID = p.ID
			}
		}
		items = append(items, entity.OrderItem{
			ProductID:   productID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}
	return items, drafts, nil
}

// draftDescription gives a reviewer the receipt context a draft came from.
func draftDescription(receipt *entity.ExtractedReceipt, line entity.ExtractedLineItem) string {
	var b strings.Builder
	b.WriteString(line.Description)
	if receipt.MerchantName != nil && strings.TrimSpace(*receipt.MerchantName) != "" {
		fmt.Fprintf(&b, " (from %s", strings.TrimSpace(*receipt.MerchantName))
	} else {
		b.WriteString(" (from email receipt")
	}
	if !receipt.PurchaseDate.IsZero() {
		fmt.Fprintf(&b, ", %s", receipt.PurchaseDate.Format("2006-01-02"))
	}
	b.WriteString(")")
	return b.String()
}
