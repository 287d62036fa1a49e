package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

func reply(text string) llm.TextGenerator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
		return llm.Generation{Text: text, Model: "fake"}, nil
	})
}

func newExtractor(gen llm.TextGenerator) *Extractor {
	e := NewExtractor(Config{DefaultCurrency: "usd"}, gen, nil)
	e.now = func() time.Time { return time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC) }
	return e
}

func TestExtractFencedReply(t *testing.T) {
	var seen llm.GenerateRequest
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
		seen = req
		return llm.Generation{Text: "```json\n" + `{
			"merchantName": "Corner Shop",
			"purchaseDate": "2026-10-02",
			"currency": "EUR",
			"total": 9.98,
			"items": [
				{"description": "Milk 2L", "quantity": 2, "totalPrice": 6.98},
				{"description": "Bread", "unitPrice": 3.0}
			]
		}` + "\n```"}, nil
	})

	r, err := newExtractor(gen).Extract(context.Background(), "<p>Milk 2L x2 6.98</p><p>Bread 3.00</p>")
	require.NoError(t, err)
	require.Equal(t, "Corner Shop", *r.MerchantName)
	require.Equal(t, time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC), r.PurchaseDate)
	require.Equal(t, "EUR", r.CurrencyCode)
	require.Len(t, r.Items, 2)
	require.Equal(t, 2, r.Items[0].Quantity)
	require.InDelta(t, 3.49, *r.Items[0].UnitPrice, 1e-9)
	require.Equal(t, 1, r.Items[1].Quantity)

	require.True(t, seen.JSON)
	require.InDelta(t, 0.1, seen.Temperature, 1e-6)
	require.Equal(t, 1024, seen.MaxTokens)
	require.NotContains(t, seen.User, "<p>")
}

func TestExtractDefaults(t *testing.T) {
	r, err := newExtractor(reply(`{"items": [{"description": "Eggs", "quantity": 1.6}]}`)).
		Extract(context.Background(), "Eggs")
	require.NoError(t, err)
	require.Equal(t, "USD", r.CurrencyCode)
	require.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), r.PurchaseDate)
	require.Nil(t, r.MerchantName)
	require.Equal(t, 2, r.Items[0].Quantity)
}

func TestExtractFiltersInvalidItems(t *testing.T) {
	r, err := newExtractor(reply(`{"items": [
		{"description": "  ", "quantity": 1},
		{"description": "Refund", "quantity": -1},
		{"description": "Nothing", "quantity": 0.2},
		{"description": "Apples", "quantity": "3"}
	]}`)).Extract(context.Background(), "receipt")
	require.NoError(t, err)
	require.Len(t, r.Items, 1)
	require.Equal(t, "Apples", r.Items[0].Description)
	require.Equal(t, 3, r.Items[0].Quantity)
}

func TestExtractNoValidItems(t *testing.T) {
	_, err := newExtractor(reply(`{"items": []}`)).Extract(context.Background(), "hello")
	require.True(t, errors.Is(err, ErrNoValidItems))
	require.Equal(t, common.CodeExtractionFailed, common.CodeOf(err))
	require.Contains(t, err.Error(), "no valid items")
}

func TestExtractInvalidReplies(t *testing.T) {
	cases := map[string]string{
		"prose":        "Sorry, I can't help with that.",
		"broken":       `{"items": [`,
		"wrong type":   `{"items": "milk"}`,
		"missing list": `{"merchantName": "Shop"}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newExtractor(reply(text)).Extract(context.Background(), "receipt")
			require.True(t, errors.Is(err, ErrInvalidStructuredResponse), err)
		})
	}
}

func TestExtractEmptyInputs(t *testing.T) {
	_, err := newExtractor(reply(`{}`)).Extract(context.Background(), "<script>x()</script>")
	require.True(t, errors.Is(err, ErrEmptyContent))

	_, err = newExtractor(reply("   ")).Extract(context.Background(), "receipt")
	require.True(t, errors.Is(err, ErrNoUsableText))
}

func TestExtractGeneratorError(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
		return llm.Generation{}, errors.New("connection refused")
	})
	_, err := newExtractor(gen).Extract(context.Background(), "receipt")
	require.Equal(t, common.CodeExtractionFailed, common.CodeOf(err))
	require.Contains(t, err.Error(), "connection refused")
}

func TestExtractTimeout(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
		<-ctx.Done()
		return llm.Generation{}, ctx.Err()
	})
	e := NewExtractor(Config{Timeout: 20 * time.Millisecond}, gen, nil)
	_, err := e.Extract(context.Background(), "receipt")
	require.True(t, errors.Is(err, ErrTimeout))
	require.True(t, strings.Contains(err.Error(), "extraction timed out"))
}
