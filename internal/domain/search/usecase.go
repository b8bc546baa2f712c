package search

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
	"go.uber.org/zap"
)

const (
	defaultTopK    = 10
	snippetMaxLen  = 200
	snippetEllipse = "…"
)

// ProductSearchResult is one display-ready hit, hydrated from the embedding
// row's denormalized payload. A broken payload degrades to empty fields
// instead of failing the search.
type ProductSearchResult struct {
	ProductId string  `json:"productId"`
	TenantId  string  `json:"tenantId,omitempty"`
	ShopId    string  `json:"shopId"`
	Name      string  `json:"name"`
	ShopName  string  `json:"shopName"`
	Category  string  `json:"category"`
	SKU       string  `json:"sku"`
	Price     float64 `json:"price"`
	InStock   bool    `json:"inStock"`
	OnSale    bool    `json:"onSale"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// UseCase is the query-time façade: embed, search, deduplicate per product,
// rank, hydrate. Read-only over the store.
type UseCase struct {
	embedder embedding.Client
	store    index.Store
	logger   *zap.Logger
}

func NewUseCase(embedder embedding.Client, store index.Store, logger *zap.Logger) *UseCase {
	return &UseCase{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

func (uc *UseCase) Search(ctx context.Context, query string, topK int, tenantId, shopId string) ([]ProductSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []ProductSearchResult{}, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	vector, err := uc.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	// 2x headroom so per-product deduplication can still fill topK
	matches, err := uc.store.SearchSimilar(ctx, vector, 2*topK, index.SearchFilter{
		TenantId:   tenantId,
		ShopId:     shopId,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	return uc.rank(matches, topK, ""), nil
}

// GetSimilarProducts finds neighbors of a reference product using its
// primary chunk's vector, excluding the product itself. A product with no
// embeddings yields an empty list.
func (uc *UseCase) GetSimilarProducts(ctx context.Context, productId string, topK int) ([]ProductSearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	records, err := uc.store.GetByProduct(ctx, productId)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []ProductSearchResult{}, nil
	}

	// records come back ordered by chunk index; chunk 0 is the primary
	matches, err := uc.store.SearchSimilar(ctx, records[0].Vector, 2*(topK+1), index.SearchFilter{
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	return uc.rank(matches, topK, productId), nil
}

// rank keeps the best-scoring chunk per product, re-sorts by that score and
// truncates to topK. excludeId drops the reference product itself.
func (uc *UseCase) rank(matches []index.SearchMatch, topK int, excludeId string) []ProductSearchResult {
	best := make(map[string]index.SearchMatch)
	order := make([]string, 0, len(matches))

	for _, m := range matches {
		pid := m.Embedding.ProductId
		if pid == excludeId && excludeId != "" {
			continue
		}
		if existing, seen := best[pid]; !seen {
			best[pid] = m
			order = append(order, pid)
		} else if m.Score > existing.Score {
			best[pid] = m
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return best[order[i]].Score > best[order[j]].Score
	})

	if len(order) > topK {
		order = order[:topK]
	}

	results := make([]ProductSearchResult, 0, len(order))
	for _, pid := range order {
		results = append(results, uc.hydrate(best[pid]))
	}
	return results
}

func (uc *UseCase) hydrate(m index.SearchMatch) ProductSearchResult {
	result := ProductSearchResult{
		ProductId: m.Embedding.ProductId,
		TenantId:  m.Embedding.TenantId,
		ShopId:    m.Embedding.ShopId,
		Snippet:   snippet(m.Embedding.ChunkText),
		Score:     m.Score,
	}

	if m.Embedding.Payload != "" {
		var payload index.DisplayPayload
		if err := json.Unmarshal([]byte(m.Embedding.Payload), &payload); err != nil {
			// tolerated: the hit still ranks, display fields stay empty
			uc.logger.Warn("malformed embedding payload",
				zap.String("productId", m.Embedding.ProductId),
				zap.Int("chunkIndex", m.Embedding.ChunkIndex),
				zap.Error(err),
			)
		} else {
			result.Name = payload.Name
			result.ShopName = payload.ShopName
			result.Category = payload.Category
			result.SKU = payload.SKU
			result.Price = payload.Price
			result.InStock = payload.InStock
			result.OnSale = payload.OnSale
		}
	}

	return result
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxLen {
		return text
	}
	return string(runes[:snippetMaxLen]) + snippetEllipse
}
