package llm

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSanitizeContentHTML(t *testing.T) {
	doc := `<html><head><title>x</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><p>Corner&nbsp;Shop &amp; Co</p>
<table><tr><td>Milk 2L</td><td>$3.49</td></tr><tr><td>Bread</td><td>$2.00</td></tr></table></body></html>`

	got := SanitizeContent(doc, 0)
	require.NotContains(t, got, "alert")
	require.NotContains(t, got, "color:red")
	require.NotContains(t, got, "<")
	require.Contains(t, got, "Corner Shop & Co")
	require.Contains(t, got, "Milk 2L $3.49")
	require.Contains(t, got, "Bread $2.00")
}

func TestSanitizeContentPlainAndCap(t *testing.T) {
	got := SanitizeContent("  Milk   2L \n\n\n  Total   3.49  ", 0)
	require.Equal(t, "Milk 2L\nTotal 3.49", got)

	long := strings.Repeat("a", 100)
	require.Len(t, SanitizeContent(long, 10), 10)
}

func TestStripCodeFenceAndExtract(t *testing.T) {
	reply := "Here you go:\n```json\n{\"items\": [{\"description\": \"a } b\"}]}\n```\nthanks"
	obj, ok := RecoverJSON(reply)
	require.True(t, ok)
	require.JSONEq(t, `{"items":[{"description":"a } b"}]}`, obj)

	obj, ok = RecoverJSON(`prefix {"a": {"b": 1}} suffix`)
	require.True(t, ok)
	require.Equal(t, `{"a": {"b": 1}}`, obj)

	_, ok = RecoverJSON("no json here")
	require.False(t, ok)

	_, ok = RecoverJSON(`{"unterminated": 1`)
	require.False(t, ok)
}

func TestNormalizeReceiptJSON(t *testing.T) {
	raw := []byte(`{
		"merchant_name": " Corner Shop ",
		"date": "2026-10-02",
		"currency_code": "usd",
		"total": "$11.47",
		"tax": null,
		"notes": "thanks",
		"line_items": [
			{"name": "Milk 2L", "qty": "2", "price": "3.49", "sku": "x"},
			{"description": "Bread", "quantity": 1, "total_price": 2}
		]
	}`)
	out, changes, err := NormalizeReceiptJSON(raw, nil)
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "Corner Shop", m["merchantName"])
	require.Equal(t, "2026-10-02", m["purchaseDate"])
	require.Equal(t, "USD", m["currency"])
	require.Equal(t, 11.47, m["total"])
	require.NotContains(t, m, "tax")
	require.NotContains(t, m, "notes")

	items := m["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	require.Equal(t, "Milk 2L", first["description"])
	require.Equal(t, 2.0, first["quantity"])
	require.Equal(t, 3.49, first["unitPrice"])
	require.NotContains(t, first, "sku")

	require.NoError(t, ValidateJSONAgainstSchema("receipt.json", ReceiptJSONSchema(), out))
}

func TestReceiptSchemaRejects(t *testing.T) {
	require.Error(t, ValidateJSONAgainstSchema("receipt.json", ReceiptJSONSchema(), []byte(`{"merchantName": "x"}`)))
	require.Error(t, ValidateJSONAgainstSchema("receipt.json", ReceiptJSONSchema(), []byte(`{"items": "nope"}`)))
	require.NoError(t, ValidateJSONAgainstSchema("receipt.json", ReceiptJSONSchema(), []byte(`{"items": []}`)))
}

func TestParseAmount(t *testing.T) {
	f, ok := ParseAmount("$1,299.50")
	require.True(t, ok)
	require.InDelta(t, 1299.50, f, 1e-9)

	_, ok = ParseAmount("n/a")
	require.False(t, ok)
}

func TestBuildReceiptPrompt(t *testing.T) {
	sys, user := BuildReceiptPrompt(ReceiptPromptInput{
		Content:         "Milk 2L 3.49",
		Today:           time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		DefaultCurrency: "eur",
	})
	require.Contains(t, sys, "default to EUR")
	require.Contains(t, sys, "2026-10-18")
	require.Contains(t, user, "Milk 2L 3.49")
}

func TestBuildProductMatchPrompt(t *testing.T) {
	_, user := BuildProductMatchPrompt("Milk 2L", []MatchCandidate{{ID: "p1", Name: "Milk 2 Liters"}})
	require.Contains(t, user, `"id":"p1"`)
	require.Contains(t, user, `"Milk 2L"`)
}
