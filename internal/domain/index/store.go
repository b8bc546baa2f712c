package index

import (
	"context"
	"fmt"
	"time"

	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
)

// ProductEmbedding is the persisted unit of storage and search: one vector
// per (product, chunk). Inactive rows are kept for audit and reactivation;
// search excludes them unless asked otherwise.
type ProductEmbedding struct {
	Id            string           `json:"id"`
	ProductId     string           `json:"productId"`
	TenantId      string           `json:"tenantId,omitempty"`
	ShopId        string           `json:"shopId"`
	ChunkIndex    int              `json:"chunkIndex"`
	ChunkText     string           `json:"chunkText"`
	Vector        embedding.Vector `json:"vector,omitempty"`
	ModelName     string           `json:"modelName"`
	ModelVersion  int              `json:"modelVersion"`
	SchemaVersion int              `json:"schemaVersion"`
	GeneratedAt   time.Time        `json:"generatedAt"`
	Payload       string           `json:"payload,omitempty"`
	Active        bool             `json:"active"`
}

// EmbeddingId derives the stable storage identity for a product chunk, so an
// upsert after content changes lands on the same row.
func EmbeddingId(productId string, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", productId, chunkIndex)
}

// DisplayPayload is the denormalized metadata stored next to each vector so
// search results render without a trip back to the product source.
type DisplayPayload struct {
	Name     string  `json:"name"`
	ShopName string  `json:"shopName"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	InStock  bool    `json:"inStock"`
	OnSale   bool    `json:"onSale"`
	SKU      string  `json:"sku"`
}

type SearchMatch struct {
	Embedding ProductEmbedding
	// Score is normalized cosine similarity: 1 - distance/2, so 1.0 means
	// identical and 0.0 maximally dissimilar.
	Score float64
}

// SearchFilter narrows a similarity search before ranking, never after.
type SearchFilter struct {
	TenantId   string
	ShopId     string
	ActiveOnly bool
}

type Stats struct {
	Total        int64  `json:"total"`
	Active       int64  `json:"active"`
	Inactive     int64  `json:"inactive"`
	Outdated     int64  `json:"outdated"`
	ModelName    string `json:"modelName"`
	ModelVersion int    `json:"modelVersion"`
}

// Store owns ProductEmbedding persistence. The pipeline is its only writer,
// the search service reads it, and Upsert is the sole write path for content.
type Store interface {
	Upsert(ctx context.Context, e *ProductEmbedding) error
	GetByProduct(ctx context.Context, productId string) ([]ProductEmbedding, error)
	DeleteByProduct(ctx context.Context, productId string) error
	// DeleteChunksFrom removes a product's chunks with index >= fromChunk,
	// so a re-render that shrank the document leaves no stale tail behind.
	DeleteChunksFrom(ctx context.Context, productId string, fromChunk int) error
	SetActiveByProduct(ctx context.Context, productId string, active bool) (int, error)
	SearchSimilar(ctx context.Context, vector embedding.Vector, topK int, filter SearchFilter) ([]SearchMatch, error)
	ProductsNeedingEmbedding(ctx context.Context, currentModelVersion, batchSize int) ([]string, error)
	Stats(ctx context.Context, currentModelVersion int) (Stats, error)
}

// NewStore picks the configured backend: Milvus when an endpoint is set,
// otherwise the in-process store for local development.
func NewStore(ctx *domain.UseCaseContext, dim int) (Store, error) {
	if ctx.Config.Milvus.Endpoint != "" {
		return newMilvusStore(ctx, dim)
	}
	return NewMemoryStore(), nil
}
