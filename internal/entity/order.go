package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-inbox/constants"
)

// Order represents a persisted order and its line items.
type Order struct {
	ID                  string           `json:"id"`
	IsDraft             bool             `json:"is_draft"`
	Source              constants.Source `json:"source"`
	OriginalFingerprint string           `json:"original_fingerprint"`
	SenderEmail         string           `json:"sender_email"`
	MerchantName        *string          `json:"merchant_name,omitempty"`
	PurchaseDate        time.Time        `json:"purchase_date"`
	CurrencyCode        string           `json:"currency_code"`
	Subtotal            *float64         `json:"subtotal,omitempty"`
	Tax                 *float64         `json:"tax,omitempty"`
	Total               *float64         `json:"total,omitempty"`
	Items               []OrderItem      `json:"items"`
	CreatedAt           time.Time        `json:"created_at"`
}

// OrderItem is one line of an order, always pointing at a product.
type OrderItem struct {
	ID          string   `json:"id"`
	OrderID     string   `json:"order_id"`
	ProductID   string   `json:"product_id"`
	Description string   `json:"description"`
	Quantity    int      `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
	Position    int      `json:"position"`
}
