package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

type fakeCatalog struct {
	products []entity.Product
	calls    int
	err      error
}

func (f *fakeCatalog) ListCatalog(ctx context.Context) ([]entity.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]entity.Product(nil), f.products...), nil
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "milk 2 l", Normalize("Milk 2L"))
	require.Equal(t, "milk 2 l", Normalize("MILK, 2 Liters!"))
	require.Equal(t, "rice 1.5 kg", Normalize("Rice 1.5kg"))
	require.Equal(t, "coca cola 330 ml", Normalize("Coca-Cola 330ml"))
}

func TestSimilarityExtremes(t *testing.T) {
	require.Equal(t, 1.0, Similarity("Milk 2L", "Milk 2 Liters"))
	require.Equal(t, 1.0, Similarity("bread", "Bread"))
	require.Equal(t, 0.0, Similarity("bread", "cheese"))
	require.Equal(t, 0.0, Similarity("", "cheese"))
	require.Equal(t, 0.0, Similarity("", ""))
	require.InDelta(t, 0.5, Similarity("whole milk", "milk"), 1e-9)
}

func TestTokenSetMatcherMatches(t *testing.T) {
	cat := &fakeCatalog{products: []entity.Product{
		{ID: "p-bread", Name: "Sourdough Bread"},
		{ID: "p-milk", Name: "Milk 2 Liters"},
	}}
	m := NewTokenSetMatcher(cat, 0, 0, nil, nil)

	got, err := m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "p-milk", got.Product.ID)
	require.Equal(t, 1.0, got.Confidence)
	require.NotEmpty(t, got.Reason)

	got, err = m.Match(context.Background(), "Chocolate bar")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 1, cat.calls, "catalog is cached")
}

func TestTokenSetMatcherThresholdInclusive(t *testing.T) {
	cat := &fakeCatalog{products: []entity.Product{{ID: "p", Name: "milk"}}}
	m := NewTokenSetMatcher(cat, 0.5, 0, nil, nil)
	got, err := m.Match(context.Background(), "whole milk")
	require.NoError(t, err)
	require.NotNil(t, got)

	m = NewTokenSetMatcher(cat, 0.51, 0, nil, nil)
	got, err = m.Match(context.Background(), "whole milk")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTokenSetMatcherUsesDescriptionAndTies(t *testing.T) {
	cat := &fakeCatalog{products: []entity.Product{
		{ID: "first", Name: "Oat drink", Description: "oat milk 1 l"},
		{ID: "second", Name: "Oat Milk 1L"},
	}}
	m := NewTokenSetMatcher(cat, 0, 0, nil, nil)
	got, err := m.Match(context.Background(), "Oat milk 1 litre")
	require.NoError(t, err)
	require.Equal(t, "first", got.Product.ID)
}

func TestTokenSetMatcherCacheExpiry(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cat := &fakeCatalog{}
	m := NewTokenSetMatcher(cat, 0, time.Minute, clock, nil)

	got, err := m.Match(context.Background(), "Mystery Item")
	require.NoError(t, err)
	require.Nil(t, got)

	// A product added to storage is invisible until the cache window ends.
	cat.products = []entity.Product{{ID: "p-1", Name: "Mystery Item"}}
	got, err = m.Match(context.Background(), "mystery item")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 1, cat.calls)

	now = now.Add(2 * time.Minute)
	got, err = m.Match(context.Background(), "mystery item")
	require.NoError(t, err)
	require.Equal(t, "p-1", got.Product.ID)
	require.Equal(t, 2, cat.calls)

	m.Invalidate()
	_, err = m.Match(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, 3, cat.calls)
}

func TestTokenSetMatcherStorageError(t *testing.T) {
	m := NewTokenSetMatcher(&fakeCatalog{err: errors.New("db down")}, 0, 0, nil, nil)
	_, err := m.Match(context.Background(), "milk")
	require.Equal(t, common.CodeResolutionFailed, common.CodeOf(err))
}

func verdictGen(text string) llm.TextGenerator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
		return llm.Generation{Text: text}, nil
	})
}

func TestLLMMatcher(t *testing.T) {
	cat := &fakeCatalog{products: []entity.Product{
		{ID: "p-milk", Name: "Milk 2 Liters"},
		{ID: "p-bread", Name: "Sourdough Bread"},
	}}

	m := NewLLMMatcher(cat, verdictGen(`{"productId": "p-milk", "confidence": 0.9, "reason": "same milk"}`), 0, 0, nil, nil)
	got, err := m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Equal(t, "p-milk", got.Product.ID)
	require.Equal(t, "same milk", got.Reason)

	// Name echoed instead of id.
	m = NewLLMMatcher(cat, verdictGen("```json\n{\"productId\": \"milk 2 liter\", \"confidence\": 0.8}\n```"), 0, 0, nil, nil)
	got, err = m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Equal(t, "p-milk", got.Product.ID)

	m = NewLLMMatcher(cat, verdictGen(`{"productId": "p-zzz-unknown", "confidence": 0.9}`), 0, 0, nil, nil)
	got, err = m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Nil(t, got)

	m = NewLLMMatcher(cat, verdictGen(`{"productId": "p-milk", "confidence": 0.3}`), 0, 0, nil, nil)
	got, err = m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Nil(t, got)

	m = NewLLMMatcher(cat, verdictGen(`{"productId": null, "confidence": 0}`), 0, 0, nil, nil)
	got, err = m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Nil(t, got)

	m = NewLLMMatcher(cat, verdictGen(`not json`), 0, 0, nil, nil)
	got, err = m.Match(context.Background(), "Milk 2L")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPreselectKeepsCatalogOrder(t *testing.T) {
	products := []entity.Product{
		{ID: "a", Name: "bread"},
		{ID: "b", Name: "milk"},
		{ID: "c", Name: "cheese"},
		{ID: "d", Name: "milk 2 l"},
	}
	got := preselect("milk 2l", products, 2)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].ID)
	require.Equal(t, "d", got[1].ID)
}
