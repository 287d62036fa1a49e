package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReceiptPromptInput carries what the receipt prompt embeds.
type ReceiptPromptInput struct {
	Content         string
	Today           time.Time
	DefaultCurrency string
}

// BuildReceiptPrompt composes the system and user messages for receipt
// extraction. The reply is expected to be a single JSON object.
func BuildReceiptPrompt(in ReceiptPromptInput) (system, user string) {
	cur := strings.ToUpper(strings.TrimSpace(in.DefaultCurrency))
	if cur == "" {
		cur = "USD"
	}
	today := in.Today.UTC().Format(time.DateOnly)

	parts := []string{
		"You extract purchase receipts from emails. Return ONLY one JSON object, no prose.",
		`Shape: {"merchantName": string, "purchaseDate": "YYYY-MM-DD", "currency": "ISO 4217 code",` +
			` "subtotal": number, "tax": number, "total": number,` +
			` "items": [{"description": string, "quantity": integer, "unitPrice": number, "totalPrice": number}]}.`,
		"List every purchased line item in receipt order. Shipping, discounts and taxes are not items.",
		"quantity is a whole number; use 1 when the receipt does not show one.",
		"Amounts are plain numbers without currency symbols.",
		"If the purchase date is missing use " + today + ".",
		"Currency must be a 3-letter ISO 4217 code; default to " + cur + " if uncertain.",
		"If the email is not a receipt, return {\"items\": []}.",
		"Never output null. If a field is not present, omit it.",
	}
	system = strings.Join(parts, " ")

	var b strings.Builder
	b.WriteString("Today: ")
	b.WriteString(today)
	b.WriteString("\n\nEmail content:\n")
	b.WriteString(in.Content)
	return system, b.String()
}

// MatchCandidate is one catalog product offered to the model.
type MatchCandidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// BuildProductMatchPrompt asks the model to pick the catalog product a
// receipt line refers to, or none.
func BuildProductMatchPrompt(description string, candidates []MatchCandidate) (system, user string) {
	system = strings.Join([]string{
		"You match receipt line items to products in a catalog.",
		`Return ONLY JSON: {"productId": string or null, "confidence": number between 0 and 1, "reason": string}.`,
		"productId must be one of the candidate ids, copied exactly.",
		"Use null with confidence 0 when no candidate is the same product.",
		"Size, volume and weight must agree; different pack sizes are different products.",
	}, " ")

	list, _ := json.Marshal(candidates)
	user = fmt.Sprintf("Line item: %q\n\nCandidates:\n%s", description, list)
	return system, user
}
