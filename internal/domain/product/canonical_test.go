package product

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	categories map[string]*Category
	shops      map[string]*Shop
	defs       []AttributeDefinition
}

func (s *stubSource) FindById(ctx context.Context, scope Scope, id string) (*Product, error) {
	return nil, ErrNotFound
}

func (s *stubSource) ListEligible(ctx context.Context, scope Scope, from, size int64) ([]Product, int64, error) {
	return nil, 0, nil
}

func (s *stubSource) Update(ctx context.Context, p *Product) error { return nil }

func (s *stubSource) MarkEmbedded(ctx context.Context, id string, at time.Time) error { return nil }

func (s *stubSource) FindCategory(ctx context.Context, id string) (*Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *stubSource) FindShop(ctx context.Context, id string) (*Shop, error) {
	sh, ok := s.shops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sh, nil
}

func (s *stubSource) ListAttributeDefinitions(ctx context.Context, shopId string) ([]AttributeDefinition, error) {
	return s.defs, nil
}

func builderWith(source *stubSource) *CanonicalBuilder {
	return NewCanonicalBuilder(source, zap.NewNop())
}

func TestBuildResolvesNames(t *testing.T) {
	source := &stubSource{
		categories: map[string]*Category{"c1": {Id: "c1", Name: "Footwear"}},
		shops:      map[string]*Shop{"s1": {Id: "s1", Name: "Northwind Outlet"}},
	}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:          "p1",
		ShopId:      "s1",
		CategoryId:  "c1",
		Name:        "Running shoes",
		Description: "Cushioned daily trainer.",
	})
	require.NoError(t, err)

	assert.Equal(t, CanonicalSchemaVersion, doc.SchemaVersion)
	assert.Equal(t, "Footwear", doc.CategoryName)
	assert.Equal(t, "Northwind Outlet", doc.ShopName)
	assert.Contains(t, doc.EmbeddingText(), "Category: Footwear")
}

func TestBuildToleratesMissingCategoryAndShop(t *testing.T) {
	source := &stubSource{}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "ghost-shop",
		CategoryId: "ghost-cat",
		Name:       "Running shoes",
	})
	require.NoError(t, err)
	assert.Empty(t, doc.CategoryName)
	assert.Empty(t, doc.ShopName)
}

func TestAttributeOrderingByPriority(t *testing.T) {
	source := &stubSource{
		defs: []AttributeDefinition{
			{Name: "color", SemanticLabel: "Color", Priority: 1, DataType: "text", IncludeInEmbedding: true},
			{Name: "material", SemanticLabel: "Material", Priority: 9, DataType: "text", IncludeInEmbedding: true},
		},
	}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"color":"red","material":"mesh"}`,
	})
	require.NoError(t, err)

	text := doc.EmbeddingText()
	assert.Less(t, indexOf(t, text, "Material: mesh"), indexOf(t, text, "Color: red"))
}

func TestAttributeTiesKeepBlobOrder(t *testing.T) {
	source := &stubSource{
		defs: []AttributeDefinition{
			{Name: "color", SemanticLabel: "Color", Priority: 5, DataType: "text", IncludeInEmbedding: true},
			{Name: "size", SemanticLabel: "Size", Priority: 5, DataType: "text", IncludeInEmbedding: true},
		},
	}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"size":"42","color":"red"}`,
	})
	require.NoError(t, err)

	text := doc.EmbeddingText()
	assert.Less(t, indexOf(t, text, "Size: 42"), indexOf(t, text, "Color: red"))
}

func TestAttributeDefinitionMatchIgnoresCase(t *testing.T) {
	source := &stubSource{
		defs: []AttributeDefinition{
			{Name: "Color", SemanticLabel: "Colour", Priority: 3, DataType: "text", IncludeInEmbedding: true},
		},
	}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"color":"red"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, doc.EmbeddingText(), "Colour: red")
}

func TestAttributeExcludedFromEmbedding(t *testing.T) {
	source := &stubSource{
		defs: []AttributeDefinition{
			{Name: "internal_code", SemanticLabel: "Internal code", IncludeInEmbedding: false},
			{Name: "color", SemanticLabel: "Color", DataType: "text", IncludeInEmbedding: true},
		},
	}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"internal_code":"XK-99","color":"red"}`,
	})
	require.NoError(t, err)

	text := doc.EmbeddingText()
	assert.NotContains(t, text, "XK-99")
	assert.Contains(t, text, "Color: red")
}

func TestUndefinedAttributeUsesKeyAsLabel(t *testing.T) {
	source := &stubSource{}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"weight":"280g"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, doc.EmbeddingText(), "weight: 280g")
}

func TestMalformedAttributeBlobDegrades(t *testing.T) {
	source := &stubSource{}

	for _, blob := range []string{`not json`, `[1,2,3]`, `{"broken":`} {
		doc, err := builderWith(source).Build(context.Background(), &Product{
			Id:         "p1",
			ShopId:     "s1",
			Name:       "Running shoes",
			Attributes: blob,
		})
		require.NoError(t, err, "blob %q", blob)
		assert.Empty(t, doc.Attributes, "blob %q", blob)
	}
}

func TestScalarAttributeRendering(t *testing.T) {
	source := &stubSource{}

	doc, err := builderWith(source).Build(context.Background(), &Product{
		Id:         "p1",
		ShopId:     "s1",
		Name:       "Running shoes",
		Attributes: `{"waterproof":true,"weight":280,"nested":{"skip":"me"},"empty":""}`,
	})
	require.NoError(t, err)

	text := doc.EmbeddingText()
	assert.Contains(t, text, "waterproof: true")
	assert.Contains(t, text, "weight: 280")
	assert.NotContains(t, text, "skip")
	assert.NotContains(t, text, "empty")
}

func TestEmbeddingTextSkipsEmptySections(t *testing.T) {
	doc := &CanonicalProductDocument{Name: "Bare product"}
	assert.Equal(t, "Bare product", doc.EmbeddingText())
}

func indexOf(t *testing.T, s, sub string) int {
	t.Helper()
	i := strings.Index(s, sub)
	require.GreaterOrEqual(t, i, 0, "%q not found", sub)
	return i
}
