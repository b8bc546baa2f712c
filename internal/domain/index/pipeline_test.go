package index

import (
	"context"
	"testing"
	"time"

	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	products   map[string]*product.Product
	categories map[string]*product.Category
	shops      map[string]*product.Shop
	defs       map[string][]product.AttributeDefinition
	embedded   []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		products:   make(map[string]*product.Product),
		categories: make(map[string]*product.Category),
		shops:      make(map[string]*product.Shop),
		defs:       make(map[string][]product.AttributeDefinition),
	}
}

func (f *fakeSource) FindById(ctx context.Context, scope product.Scope, id string) (*product.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSource) ListEligible(ctx context.Context, scope product.Scope, from, size int64) ([]product.Product, int64, error) {
	var result []product.Product
	for _, p := range f.products {
		if p.Eligible() {
			result = append(result, *p)
		}
	}
	return result, int64(len(result)), nil
}

func (f *fakeSource) Update(ctx context.Context, p *product.Product) error {
	cp := *p
	f.products[p.Id] = &cp
	return nil
}

func (f *fakeSource) MarkEmbedded(ctx context.Context, id string, at time.Time) error {
	f.embedded = append(f.embedded, id)
	return nil
}

func (f *fakeSource) FindCategory(ctx context.Context, id string) (*product.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) FindShop(ctx context.Context, id string) (*product.Shop, error) {
	s, ok := f.shops[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return s, nil
}

func (f *fakeSource) ListAttributeDefinitions(ctx context.Context, shopId string) ([]product.AttributeDefinition, error) {
	return f.defs[shopId], nil
}

type fakeEmbedder struct {
	calls  int
	vector embedding.Vector
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) (embedding.Vector, error) {
	if len(text) == 0 {
		return nil, embedding.ErrEmptyInput
	}
	f.calls++
	return f.vector, nil
}

func (f *fakeEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	result := make([]embedding.Vector, 0, len(texts))
	for _, t := range texts {
		v, err := f.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func (f *fakeEmbedder) TestConnection(ctx context.Context) bool { return true }
func (f *fakeEmbedder) ModelName() string                       { return "AdaEmbeddingV2" }
func (f *fakeEmbedder) ModelVersion() int                       { return 2 }
func (f *fakeEmbedder) Dimension() int                          { return 2 }

func testPipeline(source *fakeSource, store Store, enabled bool) (*Pipeline, *fakeEmbedder) {
	embedder := &fakeEmbedder{vector: embedding.Vector{1, 0}}
	builder := product.NewCanonicalBuilder(source, zap.NewNop())
	return NewPipeline(source, builder, NewChunker(2000), embedder, store, enabled, zap.NewNop()), embedder
}

func eligibleProduct(id string) *product.Product {
	return &product.Product{
		Id:          id,
		ShopId:      "shop-1",
		SKU:         "SKU-" + id,
		Name:        "Red running shoes",
		Description: "Lightweight mesh upper with cushioned sole.",
		Price:       59.9,
		InStock:     true,
		Active:      true,
		Published:   true,
	}
}

func TestGenerateEmbeddingHappyPath(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, true)

	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].ChunkIndex)
	assert.Equal(t, 2, records[0].ModelVersion)
	assert.Equal(t, product.CanonicalSchemaVersion, records[0].SchemaVersion)
	assert.True(t, records[0].Active)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, []string{"p1"}, source.embedded)
	assert.Contains(t, records[0].Payload, "Red running shoes")
}

func TestGenerateEmbeddingRemovesStaleChunksAfterShrink(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	// leftovers of an earlier run against a much longer description
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Upsert(ctx, &ProductEmbedding{
			Id:         EmbeddingId("p1", i),
			ProductId:  "p1",
			ShopId:     "shop-1",
			ChunkIndex: i,
			ChunkText:  "old chunk content",
			Vector:     embedding.Vector{0, 1},
			Active:     true,
		}))
	}

	p, _ := testPipeline(source, store, true)
	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1, "shrunken document must not leave stale chunks")
	assert.Equal(t, 0, records[0].ChunkIndex)
	assert.NotEqual(t, "old chunk content", records[0].ChunkText)

	matches, err := store.SearchSimilar(ctx, embedding.Vector{0, 1}, 20, SearchFilter{ActiveOnly: true})
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "old chunk content", m.Embedding.ChunkText)
	}
}

func TestGenerateEmbeddingDisabled(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, false)

	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, embedder.calls)
}

func TestGenerateEmbeddingMissingProductIsSoftNoop(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, true)

	require.NoError(t, p.GenerateEmbedding(ctx, "ghost"))
	assert.Zero(t, embedder.calls)
}

func TestGenerateEmbeddingIneligibleDeactivates(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, true)

	// first run while eligible
	source.products["p1"] = eligibleProduct("p1")
	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))
	require.Equal(t, 1, embedder.calls)

	// the product is pulled from sale, next run must deactivate
	source.products["p1"].Published = false
	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Active)
	assert.Equal(t, 1, embedder.calls, "no new embedding for ineligible product")
}

func TestUnpublishedThenSearchScenario(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, _ := testPipeline(source, store, true)

	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))
	require.NoError(t, p.DeactivateEmbeddings(ctx, "p1"))

	matches, err := store.SearchSimilar(ctx, embedding.Vector{1, 0}, 10, SearchFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, matches)

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Active)
}

func TestActivateFallsThroughToGenerate(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, true)

	require.NoError(t, p.ActivateEmbeddings(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Active)
	assert.Equal(t, 1, embedder.calls)
}

func TestActivateMarksExistingActive(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, embedder := testPipeline(source, store, true)

	require.NoError(t, p.GenerateEmbedding(ctx, "p1"))
	require.NoError(t, p.DeactivateEmbeddings(ctx, "p1"))
	require.NoError(t, p.ActivateEmbeddings(ctx, "p1"))

	records, err := store.GetByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Active)
	assert.Equal(t, 1, embedder.calls, "reactivation must not regenerate")
}

func TestHandleRoutesOps(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.products["p1"] = eligibleProduct("p1")
	store := NewMemoryStore()

	p, _ := testPipeline(source, store, true)

	require.NoError(t, p.Handle(ctx, Job{Id: "j1", Op: OpGenerate, ProductId: "p1"}))
	records, _ := store.GetByProduct(ctx, "p1")
	require.Len(t, records, 1)

	require.NoError(t, p.Handle(ctx, Job{Id: "j2", Op: OpDelete, ProductId: "p1"}))
	records, _ = store.GetByProduct(ctx, "p1")
	assert.Empty(t, records)

	// unknown ops are dropped, not retried forever
	require.NoError(t, p.Handle(ctx, Job{Id: "j3", Op: "explode", ProductId: "p1"}))
}
