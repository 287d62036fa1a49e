package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

var receiptKeySynonyms = map[string]string{
	"merchant":      "merchantName",
	"merchant_name": "merchantName",
	"store":         "merchantName",
	"vendor":        "merchantName",
	"date":          "purchaseDate",
	"purchase_date": "purchaseDate",
	"tx_date":       "purchaseDate",
	"currency_code": "currency",
	"currencyCode":  "currency",
	"line_items":    "items",
	"lineItems":     "items",
	"products":      "items",
	"sub_total":     "subtotal",
	"tax_amount":    "tax",
	"grand_total":   "total",
}

var itemKeySynonyms = map[string]string{
	"name":        "description",
	"item":        "description",
	"title":       "description",
	"product":     "description",
	"qty":         "quantity",
	"unit_price":  "unitPrice",
	"price":       "unitPrice",
	"total_price": "totalPrice",
	"line_total":  "totalPrice",
	"amount":      "totalPrice",
}

var (
	receiptKeys = map[string]struct{}{
		"merchantName": {}, "purchaseDate": {}, "currency": {},
		"subtotal": {}, "tax": {}, "total": {}, "items": {},
	}
	itemKeys = map[string]struct{}{
		"description": {}, "quantity": {}, "unitPrice": {}, "totalPrice": {},
	}
	receiptMoney = []string{"subtotal", "tax", "total"}
	itemNumbers  = []string{"quantity", "unitPrice", "totalPrice"}
)

// NormalizeReceiptJSON makes a model reply fit the receipt schema without
// inventing data:
//   - renames known key synonyms (line_items -> items, qty -> quantity)
//   - coerces numeric strings ("$3.49", "1,299.00") to numbers
//   - drops null or empty optionals and unknown keys
//
// It returns the rewritten document and a list of what changed.
func NormalizeReceiptJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("normalize: decode: %w", err)
	}

	var changes []string
	renameKeys(m, receiptKeySynonyms, "", &changes)

	for _, k := range []string{"merchantName", "purchaseDate", "currency"} {
		switch v := m[k].(type) {
		case nil:
			if _, ok := m[k]; ok {
				delete(m, k)
				changes = append(changes, k+"(null)")
			}
		case string:
			if s := strings.TrimSpace(v); s == "" {
				delete(m, k)
				changes = append(changes, k+"(empty)")
			} else {
				m[k] = s
			}
		default:
			delete(m, k)
			changes = append(changes, k+"(type)")
		}
	}
	if c, ok := m["currency"].(string); ok {
		c = strings.ToUpper(c)
		if isCurrencyCode(c) {
			m["currency"] = c
		} else {
			delete(m, "currency")
			changes = append(changes, "currency(invalid)")
		}
	}
	for _, k := range receiptMoney {
		coerceNumber(m, k, "", &changes)
	}

	if items, ok := m["items"].([]any); ok {
		for i, it := range items {
			im, ok := it.(map[string]any)
			if !ok {
				continue
			}
			prefix := fmt.Sprintf("items[%d].", i)
			renameKeys(im, itemKeySynonyms, prefix, &changes)
			if d, ok := im["description"].(string); ok {
				im["description"] = strings.TrimSpace(d)
			}
			for _, k := range itemNumbers {
				coerceNumber(im, k, prefix, &changes)
			}
			dropUnknown(im, itemKeys, prefix, &changes)
		}
	} else if v, present := m["items"]; present && v == nil {
		m["items"] = []any{}
		changes = append(changes, "items(null)")
	}

	dropUnknown(m, receiptKeys, "", &changes)

	out, err := json.Marshal(m)
	if err != nil {
		return nil, changes, fmt.Errorf("normalize: encode: %w", err)
	}
	if len(changes) > 0 {
		logger.Warn("llm.extract.normalize", "changes", changes)
	}
	return out, changes, nil
}

func renameKeys(m map[string]any, synonyms map[string]string, prefix string, changes *[]string) {
	for from, to := range synonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		*changes = append(*changes, prefix+from+"->"+to)
	}
}

func dropUnknown(m map[string]any, allowed map[string]struct{}, prefix string, changes *[]string) {
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			*changes = append(*changes, prefix+k+"(unknown)")
		}
	}
}

func coerceNumber(m map[string]any, k, prefix string, changes *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
	case nil:
		delete(m, k)
		*changes = append(*changes, prefix+k+"(null)")
	case string:
		f, ok := ParseAmount(t)
		if !ok {
			delete(m, k)
			*changes = append(*changes, prefix+k+"(unparsable)")
			return
		}
		m[k] = f
		*changes = append(*changes, prefix+k+"(string)")
	default:
		delete(m, k)
		*changes = append(*changes, prefix+k+"(type)")
	}
}

// ParseAmount reads a human money string such as "$1,299.50" or "3.49 USD".
func ParseAmount(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',':
			// thousands separator
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
