package entity

import "time"

// ExtractedReceipt is the validated output of the receipt extractor.
type ExtractedReceipt struct {
	MerchantName *string             `json:"merchant_name,omitempty"`
	PurchaseDate time.Time           `json:"purchase_date"`
	CurrencyCode string              `json:"currency_code"`
	Subtotal     *float64            `json:"subtotal,omitempty"`
	Tax          *float64            `json:"tax,omitempty"`
	Total        *float64            `json:"total,omitempty"`
	Items        []ExtractedLineItem `json:"items"`
}

// ExtractedLineItem is one validated receipt line.
type ExtractedLineItem struct {
	Description string   `json:"description"`
	Quantity    int      `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
}

// InboundMessage is a raw inbound email before admission.
type InboundMessage struct {
	Sender    string
	Subject   string
	BodyPlain string
	BodyHTML  string
	Timestamp string
	Token     string
	Signature string
	// SkipSignature is set by trusted local channels (mail drop) only.
	SkipSignature bool
}
