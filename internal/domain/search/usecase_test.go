package search

import (
	"context"
	"strings"
	"testing"

	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedEmbedder struct {
	calls  int
	vector embedding.Vector
}

func (f *fixedEmbedder) GenerateEmbedding(ctx context.Context, text string) (embedding.Vector, error) {
	f.calls++
	return f.vector, nil
}

func (f *fixedEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	result := make([]embedding.Vector, len(texts))
	for i := range texts {
		f.calls++
		result[i] = f.vector
	}
	return result, nil
}

func (f *fixedEmbedder) TestConnection(ctx context.Context) bool { return true }
func (f *fixedEmbedder) ModelName() string                       { return "AdaEmbeddingV2" }
func (f *fixedEmbedder) ModelVersion() int                       { return 2 }
func (f *fixedEmbedder) Dimension() int                          { return 2 }

func seedStore(t *testing.T, store index.Store, rows ...*index.ProductEmbedding) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, store.Upsert(context.Background(), row))
	}
}

func row(productId string, chunk int, vector embedding.Vector) *index.ProductEmbedding {
	return &index.ProductEmbedding{
		Id:         index.EmbeddingId(productId, chunk),
		ProductId:  productId,
		ShopId:     "shop-1",
		ChunkIndex: chunk,
		ChunkText:  "chunk text for " + productId,
		Vector:     vector,
		Payload:    `{"name":"Product ` + productId + `","shopName":"Outlet","category":"Footwear","sku":"SKU-` + productId + `","price":10,"inStock":true}`,
		Active:     true,
	}
}

func TestSearchDeduplicatesPerProduct(t *testing.T) {
	store := index.NewMemoryStore()
	// two chunks of the same product at cosine 0.9 and 0.6, one other product
	seedStore(t, store,
		row("p1", 0, embedding.Vector{0.9, 0.43589}),
		row("p1", 1, embedding.Vector{0.6, 0.8}),
		row("p2", 0, embedding.Vector{0.7, 0.71414}),
	)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p1", results[0].ProductId)
	assert.Equal(t, "p2", results[1].ProductId)
	assert.InDelta(t, 0.95, results[0].Score, 0.001, "best chunk's score wins")
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	store := index.NewMemoryStore()
	embedder := &fixedEmbedder{vector: embedding.Vector{1, 0}}
	uc := NewUseCase(embedder, store, zap.NewNop())

	for _, query := range []string{"", "   ", "\n\t"} {
		results, err := uc.Search(context.Background(), query, 10, "", "")
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Zero(t, embedder.calls, "no embedding call for blank queries")
}

func TestSearchHydratesPayload(t *testing.T) {
	store := index.NewMemoryStore()
	seedStore(t, store, row("p1", 0, embedding.Vector{1, 0}))

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "Product p1", r.Name)
	assert.Equal(t, "Outlet", r.ShopName)
	assert.Equal(t, "Footwear", r.Category)
	assert.Equal(t, "SKU-p1", r.SKU)
	assert.Equal(t, 10.0, r.Price)
	assert.True(t, r.InStock)
	assert.Equal(t, "chunk text for p1", r.Snippet)
}

func TestSearchToleratesMalformedPayload(t *testing.T) {
	store := index.NewMemoryStore()
	broken := row("p1", 0, embedding.Vector{1, 0})
	broken.Payload = `{"name":`
	seedStore(t, store, broken)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Name)
	assert.Equal(t, "p1", results[0].ProductId)
	assert.Positive(t, results[0].Score)
}

func TestSearchSnippetTruncation(t *testing.T) {
	store := index.NewMemoryStore()
	long := row("p1", 0, embedding.Vector{1, 0})
	long.ChunkText = strings.Repeat("é", 300)
	seedStore(t, store, long)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 10, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)

	runes := []rune(results[0].Snippet)
	assert.Len(t, runes, 201)
	assert.Equal(t, '…', runes[200])
}

func TestSearchRespectsTopK(t *testing.T) {
	store := index.NewMemoryStore()
	seedStore(t, store,
		row("p1", 0, embedding.Vector{1, 0}),
		row("p2", 0, embedding.Vector{0.9, 0.43589}),
		row("p3", 0, embedding.Vector{0.8, 0.6}),
	)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 2, "", "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ProductId)
	assert.Equal(t, "p2", results[1].ProductId)
}

func TestSearchScopesToTenantAndShop(t *testing.T) {
	store := index.NewMemoryStore()
	scoped := row("p1", 0, embedding.Vector{1, 0})
	scoped.TenantId = "t1"
	other := row("p2", 0, embedding.Vector{1, 0})
	other.TenantId = "t2"
	seedStore(t, store, scoped, other)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.Search(context.Background(), "shoes", 10, "t1", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ProductId)
}

func TestGetSimilarProductsExcludesSelf(t *testing.T) {
	store := index.NewMemoryStore()
	seedStore(t, store,
		row("p1", 0, embedding.Vector{1, 0}),
		row("p2", 0, embedding.Vector{0.9, 0.43589}),
		row("p3", 0, embedding.Vector{0, 1}),
	)

	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.GetSimilarProducts(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p2", results[0].ProductId)
	assert.Equal(t, "p3", results[1].ProductId)
	for _, r := range results {
		assert.NotEqual(t, "p1", r.ProductId)
	}
}

func TestGetSimilarProductsUnembeddedReference(t *testing.T) {
	store := index.NewMemoryStore()
	uc := NewUseCase(&fixedEmbedder{vector: embedding.Vector{1, 0}}, store, zap.NewNop())

	results, err := uc.GetSimilarProducts(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
