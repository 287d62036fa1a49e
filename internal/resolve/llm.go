package resolve

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/joseph-ayodele/receipts-inbox/internal/cache"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

const (
	verdictSchemaName = "match_verdict.json"
	// nameRatioFloor is the Levenshtein ratio needed to map an unknown id
	// the model returned onto a candidate name.
	nameRatioFloor = 0.85
	// maxCandidates bounds the prompt; candidates are preselected by token score.
	maxCandidates = 25
)

// LLMMatcher asks a generative text service to pick the product. It shares
// the token matcher's contract and threshold.
type LLMMatcher struct {
	source    CatalogSource
	catalog   *cache.TTL[[]entity.Product]
	gen       llm.TextGenerator
	threshold float64
	logger    *slog.Logger
}

var _ Matcher = (*LLMMatcher)(nil)

func NewLLMMatcher(source CatalogSource, gen llm.TextGenerator, threshold float64, ttl time.Duration, now func() time.Time, logger *slog.Logger) *LLMMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LLMMatcher{
		source:    source,
		catalog:   cache.NewTTL[[]entity.Product](ttl, now),
		gen:       gen,
		threshold: threshold,
		logger:    logger,
	}
}

type verdict struct {
	ProductID  *string `json:"productId"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (m *LLMMatcher) Match(ctx context.Context, description string) (*entity.ProductMatch, error) {
	products, err := loadCatalog(ctx, m.source, m.catalog, m.logger)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 || strings.TrimSpace(description) == "" {
		return nil, nil
	}
	candidates := preselect(description, products, maxCandidates)

	offered := make([]llm.MatchCandidate, len(candidates))
	for i, p := range candidates {
		offered[i] = llm.MatchCandidate{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	system, user := llm.BuildProductMatchPrompt(description, offered)
	gen, err := m.gen.Generate(ctx, llm.GenerateRequest{
		System:      system,
		User:        user,
		Temperature: 0,
		MaxTokens:   256,
		JSON:        true,
	})
	if err != nil {
		// No match: the line becomes a draft product.
		m.logger.Warn("resolve.llm.generate_failed", "description", description, "error", err)
		return nil, nil
	}

	v, err := parseVerdict(gen.Text)
	if err != nil {
		m.logger.Warn("resolve.llm.invalid_verdict", "description", description, "error", err)
		return nil, nil
	}
	if v.ProductID == nil || v.Confidence < m.threshold {
		return nil, nil
	}

	p := findCandidate(*v.ProductID, candidates)
	if p == nil {
		m.logger.Warn("resolve.llm.unknown_product", "description", description, "product_id", *v.ProductID)
		return nil, nil
	}
	reason := strings.TrimSpace(v.Reason)
	if reason == "" {
		reason = "selected by model"
	}
	return &entity.ProductMatch{Product: *p, Confidence: v.Confidence, Reason: reason}, nil
}

func (m *LLMMatcher) Invalidate() { m.catalog.Invalidate() }

func parseVerdict(reply string) (verdict, error) {
	obj, ok := llm.RecoverJSON(reply)
	if !ok {
		return verdict{}, fmt.Errorf("no JSON object in reply")
	}
	if err := llm.ValidateJSONAgainstSchema(verdictSchemaName, llm.MatchVerdictJSONSchema(), []byte(obj)); err != nil {
		return verdict{}, err
	}
	var v verdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return verdict{}, err
	}
	return v, nil
}

// findCandidate resolves the id the model returned. Models sometimes echo the
// product name instead of its id, so an unknown id is compared to candidate
// names by Levenshtein ratio.
func findCandidate(id string, candidates []entity.Product) *entity.Product {
	id = strings.TrimSpace(id)
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i]
		}
	}
	var (
		best      *entity.Product
		bestRatio float64
	)
	for i := range candidates {
		r := levenshteinRatio(strings.ToLower(id), strings.ToLower(candidates[i].Name))
		if r > bestRatio {
			best, bestRatio = &candidates[i], r
		}
	}
	if bestRatio >= nameRatioFloor {
		return best
	}
	return nil
}

func levenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// preselect keeps the n best token-scored products, in catalog order, so the
// prompt stays small for large catalogs.
func preselect(description string, products []entity.Product, n int) []entity.Product {
	if len(products) <= n {
		return products
	}
	want := Tokens(description)
	scores := make([]float64, len(products))
	order := make([]int, len(products))
	for i, p := range products {
		s := Jaccard(want, Tokens(p.Name))
		if d := Jaccard(want, Tokens(p.Description)); d > s {
			s = d
		}
		scores[i] = s
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(scores[b], scores[a]) })
	top := order[:n]
	slices.Sort(top)

	out := make([]entity.Product, 0, n)
	for _, i := range top {
		out = append(out, products[i])
	}
	return out
}
