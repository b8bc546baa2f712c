package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"go.uber.org/zap"
)

const (
	PARTITION   = ""
	VectorField = "vector"

	fieldId            = "id"
	fieldProductId     = "product_id"
	fieldTenantId      = "tenant_id"
	fieldShopId        = "shop_id"
	fieldChunkIndex    = "chunk_index"
	fieldChunkText     = "chunk_text"
	fieldModelName     = "model_name"
	fieldModelVersion  = "model_version"
	fieldSchemaVersion = "schema_version"
	fieldGeneratedAt   = "generated_at"
	fieldPayload       = "payload"
	fieldActive        = "active"
)

var outputFields = []string{
	fieldId, fieldProductId, fieldTenantId, fieldShopId, fieldChunkIndex,
	fieldChunkText, fieldModelName, fieldModelVersion, fieldSchemaVersion,
	fieldGeneratedAt, fieldPayload, fieldActive,
}

// MilvusStore persists product embeddings in a Milvus collection keyed by
// the deterministic (product, chunk) identity, so Upsert always lands on the
// same row. Vectors are compared with the COSINE metric and reported as
// normalized similarity in [0, 1].
type MilvusStore struct {
	ctx    *domain.UseCaseContext
	client client.Client
	dim    int
	logger *zap.Logger
}

func newMilvusStore(ctx *domain.UseCaseContext, dim int) (*MilvusStore, error) {
	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  ctx.Config.Milvus.Endpoint,
		Username: ctx.Config.Milvus.Username,
		Password: ctx.Config.Milvus.Password,
	})
	if err != nil {
		return nil, err
	}

	_, err = mc.DescribeDatabase(context.Background(), ctx.Config.Milvus.DB)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			if err := mc.CreateDatabase(context.Background(), ctx.Config.Milvus.DB); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	if err := mc.UsingDatabase(context.Background(), ctx.Config.Milvus.DB); err != nil {
		return nil, err
	}

	ms := &MilvusStore{
		ctx:    ctx,
		client: mc,
		dim:    dim,
		logger: ctx.Logger,
	}

	return ms, nil
}

func (ms *MilvusStore) collection(ctx context.Context) (string, error) {
	colName := fmt.Sprintf("product_embedding_%d", ms.dim)

	if exist, err := ms.client.HasCollection(ctx, colName); err != nil {
		return "", err
	} else if !exist {
		if err := ms.createCollection(ctx, colName); err != nil {
			return "", err
		}
	}

	return colName, nil
}

func (ms *MilvusStore) createCollection(ctx context.Context, colName string) error {
	exist, err := ms.client.HasCollection(ctx, colName)
	if err != nil {
		return err
	}
	if exist {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: colName,
		Fields: []*entity.Field{
			entity.NewField().WithName(fieldId).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(96),
			entity.NewField().WithName(fieldProductId).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
			entity.NewField().WithName(fieldTenantId).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
			entity.NewField().WithName(fieldShopId).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
			entity.NewField().WithName(fieldChunkIndex).WithDataType(entity.FieldTypeInt64),
			entity.NewField().WithName(fieldChunkText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192),
			entity.NewField().WithName(VectorField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(ms.dim)),
			entity.NewField().WithName(fieldModelName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64),
			entity.NewField().WithName(fieldModelVersion).WithDataType(entity.FieldTypeInt64),
			entity.NewField().WithName(fieldSchemaVersion).WithDataType(entity.FieldTypeInt64),
			entity.NewField().WithName(fieldGeneratedAt).WithDataType(entity.FieldTypeInt64),
			entity.NewField().WithName(fieldPayload).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16384),
			entity.NewField().WithName(fieldActive).WithDataType(entity.FieldTypeBool),
		},
	}

	if err := ms.client.CreateCollection(ctx, schema, 2); err != nil {
		return err
	}

	_index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return err
	}

	return ms.client.CreateIndex(ctx, colName, VectorField, _index, false)
}

func (ms *MilvusStore) Upsert(ctx context.Context, e *ProductEmbedding) error {
	col, err := ms.collection(ctx)
	if err != nil {
		return err
	}

	if e.Id == "" {
		e.Id = EmbeddingId(e.ProductId, e.ChunkIndex)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldId, []string{e.Id}),
		entity.NewColumnVarChar(fieldProductId, []string{e.ProductId}),
		entity.NewColumnVarChar(fieldTenantId, []string{e.TenantId}),
		entity.NewColumnVarChar(fieldShopId, []string{e.ShopId}),
		entity.NewColumnInt64(fieldChunkIndex, []int64{int64(e.ChunkIndex)}),
		entity.NewColumnVarChar(fieldChunkText, []string{e.ChunkText}),
		entity.NewColumnFloatVector(VectorField, ms.dim, [][]float32{e.Vector}),
		entity.NewColumnVarChar(fieldModelName, []string{e.ModelName}),
		entity.NewColumnInt64(fieldModelVersion, []int64{int64(e.ModelVersion)}),
		entity.NewColumnInt64(fieldSchemaVersion, []int64{int64(e.SchemaVersion)}),
		entity.NewColumnInt64(fieldGeneratedAt, []int64{e.GeneratedAt.UnixMilli()}),
		entity.NewColumnVarChar(fieldPayload, []string{e.Payload}),
		entity.NewColumnBool(fieldActive, []bool{e.Active}),
	}

	if _, err := ms.client.Upsert(ctx, col, PARTITION, columns...); err != nil {
		return err
	}
	return nil
}

func (ms *MilvusStore) GetByProduct(ctx context.Context, productId string) ([]ProductEmbedding, error) {
	col, err := ms.collection(ctx)
	if err != nil {
		return nil, err
	}

	if err := ms.client.LoadCollection(ctx, col, false); err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("%s == '%s'", fieldProductId, escapeExpr(productId))

	fields := append([]string{VectorField}, outputFields...)
	rs, err := ms.client.Query(ctx, col, nil, expr, fields)
	if err != nil {
		return nil, err
	}

	result, err := decodeResultSet(client.ResultSet(rs), true)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ChunkIndex < result[j].ChunkIndex
	})

	return result, nil
}

func (ms *MilvusStore) DeleteByProduct(ctx context.Context, productId string) error {
	col, err := ms.collection(ctx)
	if err != nil {
		return err
	}

	expr := fmt.Sprintf("%s == '%s'", fieldProductId, escapeExpr(productId))
	return ms.client.Delete(ctx, col, PARTITION, expr)
}

func (ms *MilvusStore) DeleteChunksFrom(ctx context.Context, productId string, fromChunk int) error {
	col, err := ms.collection(ctx)
	if err != nil {
		return err
	}

	expr := fmt.Sprintf("%s == '%s' && %s >= %d", fieldProductId, escapeExpr(productId), fieldChunkIndex, fromChunk)
	return ms.client.Delete(ctx, col, PARTITION, expr)
}

// SetActiveByProduct flips the active flag on every chunk of a product. The
// row is rewritten in place via upsert since Milvus has no partial update.
func (ms *MilvusStore) SetActiveByProduct(ctx context.Context, productId string, active bool) (int, error) {
	records, err := ms.GetByProduct(ctx, productId)
	if err != nil {
		return 0, err
	}

	for i := range records {
		if records[i].Active == active {
			continue
		}
		records[i].Active = active
		if err := ms.Upsert(ctx, &records[i]); err != nil {
			return 0, err
		}
	}

	return len(records), nil
}

func (ms *MilvusStore) SearchSimilar(ctx context.Context, vector embedding.Vector, topK int, filter SearchFilter) ([]SearchMatch, error) {
	col, err := ms.collection(ctx)
	if err != nil {
		return nil, err
	}

	if err := ms.client.LoadCollection(ctx, col, false); err != nil {
		return nil, err
	}

	vectors := []entity.Vector{
		entity.FloatVector(vector),
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, err
	}

	rs, err := ms.client.Search(ctx, col, nil, filterExpr(filter), outputFields, vectors, VectorField,
		entity.COSINE, topK, sp, client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, err
	}

	matches := make([]SearchMatch, 0, topK)
	for _, sr := range rs {
		records, err := decodeResultSet(sr.Fields, false)
		if err != nil {
			return nil, err
		}

		for i := range records {
			if i >= len(sr.Scores) {
				break
			}
			// COSINE similarity s maps to cosine distance 1-s, and the
			// normalized score 1 - distance/2 collapses to (1+s)/2
			matches = append(matches, SearchMatch{
				Embedding: records[i],
				Score:     (1 + float64(sr.Scores[i])) / 2,
			})
		}
	}

	return matches, nil
}

func (ms *MilvusStore) ProductsNeedingEmbedding(ctx context.Context, currentModelVersion, batchSize int) ([]string, error) {
	col, err := ms.collection(ctx)
	if err != nil {
		return nil, err
	}

	if err := ms.client.LoadCollection(ctx, col, false); err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("%s < %d", fieldModelVersion, currentModelVersion)

	// chunks of one product share a version, so over-fetch to fill the batch
	// with distinct products
	limit := int64(batchSize * 4)
	if limit <= 0 {
		limit = 400
	}

	rs, err := ms.client.Query(ctx, col, nil, expr, []string{fieldProductId}, client.WithLimit(limit))
	if err != nil {
		return nil, err
	}

	idCol := client.ResultSet(rs).GetColumn(fieldProductId)
	if idCol == nil {
		return []string{}, nil
	}

	seen := make(map[string]struct{})
	result := make([]string, 0, batchSize)
	for i := 0; i < idCol.Len(); i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
		if batchSize > 0 && len(result) >= batchSize {
			break
		}
	}

	return result, nil
}

func (ms *MilvusStore) Stats(ctx context.Context, currentModelVersion int) (Stats, error) {
	col, err := ms.collection(ctx)
	if err != nil {
		return Stats{}, err
	}

	if err := ms.client.LoadCollection(ctx, col, false); err != nil {
		return Stats{}, err
	}

	stats := Stats{ModelVersion: currentModelVersion}

	counts := []struct {
		expr string
		dst  *int64
	}{
		{"", &stats.Total},
		{fmt.Sprintf("%s == true", fieldActive), &stats.Active},
		{fmt.Sprintf("%s == false", fieldActive), &stats.Inactive},
		{fmt.Sprintf("%s < %d", fieldModelVersion, currentModelVersion), &stats.Outdated},
	}

	for _, c := range counts {
		n, err := ms.count(ctx, col, c.expr)
		if err != nil {
			return Stats{}, err
		}
		*c.dst = n
	}

	return stats, nil
}

func (ms *MilvusStore) count(ctx context.Context, col, expr string) (int64, error) {
	rs, err := ms.client.Query(ctx, col, nil, expr, []string{"count(*)"})
	if err != nil {
		return 0, err
	}

	countCol := client.ResultSet(rs).GetColumn("count(*)")
	if countCol == nil || countCol.Len() == 0 {
		return 0, nil
	}

	return countCol.GetAsInt64(0)
}

func filterExpr(filter SearchFilter) string {
	parts := make([]string, 0, 3)
	if filter.ActiveOnly {
		parts = append(parts, fmt.Sprintf("%s == true", fieldActive))
	}
	if filter.TenantId != "" {
		parts = append(parts, fmt.Sprintf("%s == '%s'", fieldTenantId, escapeExpr(filter.TenantId)))
	}
	if filter.ShopId != "" {
		parts = append(parts, fmt.Sprintf("%s == '%s'", fieldShopId, escapeExpr(filter.ShopId)))
	}
	return strings.Join(parts, " && ")
}

func escapeExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, "'", "")
	return strings.ReplaceAll(s, `"`, "")
}

func decodeResultSet(rs client.ResultSet, withVector bool) ([]ProductEmbedding, error) {
	idCol := rs.GetColumn(fieldId)
	if idCol == nil {
		return []ProductEmbedding{}, nil
	}

	var vectors [][]float32
	if withVector {
		if vc, ok := rs.GetColumn(VectorField).(*entity.ColumnFloatVector); ok {
			vectors = vc.Data()
		}
	}

	getString := func(name string, i int) (string, error) {
		c := rs.GetColumn(name)
		if c == nil {
			return "", nil
		}
		return c.GetAsString(i)
	}
	getInt := func(name string, i int) (int64, error) {
		c := rs.GetColumn(name)
		if c == nil {
			return 0, nil
		}
		return c.GetAsInt64(i)
	}
	getBool := func(name string, i int) (bool, error) {
		c := rs.GetColumn(name)
		if c == nil {
			return false, nil
		}
		return c.GetAsBool(i)
	}

	result := make([]ProductEmbedding, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		var e ProductEmbedding
		var err error

		if e.Id, err = getString(fieldId, i); err != nil {
			return nil, err
		}
		if e.ProductId, err = getString(fieldProductId, i); err != nil {
			return nil, err
		}
		if e.TenantId, err = getString(fieldTenantId, i); err != nil {
			return nil, err
		}
		if e.ShopId, err = getString(fieldShopId, i); err != nil {
			return nil, err
		}
		if e.ChunkText, err = getString(fieldChunkText, i); err != nil {
			return nil, err
		}
		if e.ModelName, err = getString(fieldModelName, i); err != nil {
			return nil, err
		}
		if e.Payload, err = getString(fieldPayload, i); err != nil {
			return nil, err
		}

		chunkIndex, err := getInt(fieldChunkIndex, i)
		if err != nil {
			return nil, err
		}
		e.ChunkIndex = int(chunkIndex)

		modelVersion, err := getInt(fieldModelVersion, i)
		if err != nil {
			return nil, err
		}
		e.ModelVersion = int(modelVersion)

		schemaVersion, err := getInt(fieldSchemaVersion, i)
		if err != nil {
			return nil, err
		}
		e.SchemaVersion = int(schemaVersion)

		generatedAt, err := getInt(fieldGeneratedAt, i)
		if err != nil {
			return nil, err
		}
		e.GeneratedAt = time.UnixMilli(generatedAt)

		if e.Active, err = getBool(fieldActive, i); err != nil {
			return nil, err
		}

		if withVector && i < len(vectors) {
			e.Vector = vectors[i]
		}

		result = append(result, e)
	}

	return result, nil
}

var _ Store = (*MilvusStore)(nil)
