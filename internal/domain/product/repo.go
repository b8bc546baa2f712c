package product

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/northwind-labs/productrag/internal/domain"
	"go.uber.org/zap"
)

const (
	productIndex      = "productrag_product_index"
	categoryIndex     = "productrag_category_index"
	shopIndex         = "productrag_shop_index"
	attributeDefIndex = "productrag_attribute_def_index"
)

// Source is the product data source consumed by the embedding pipeline and
// the canonical document builder. Every read names its Scope explicitly;
// platform scope bypasses the tenant fence.
type Source interface {
	FindById(ctx context.Context, scope Scope, id string) (*Product, error)
	ListEligible(ctx context.Context, scope Scope, from, size int64) ([]Product, int64, error)
	Update(ctx context.Context, p *Product) error
	MarkEmbedded(ctx context.Context, id string, at time.Time) error
	FindCategory(ctx context.Context, id string) (*Category, error)
	FindShop(ctx context.Context, id string) (*Shop, error)
	ListAttributeDefinitions(ctx context.Context, shopId string) ([]AttributeDefinition, error)
}

type ESResponse struct {
	Took         int                    `json:"took"`
	TimedOut     bool                   `json:"timed_out"`
	Shards       ESShardResponse        `json:"_shards"`
	Hits         ESHitResponse          `json:"hits"`
	Aggregations map[string]interface{} `json:"aggregations"`
}

type ESShardResponse struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type Hit struct {
	Index  string          `json:"_index"`
	Type   string          `json:"_type"`
	Id     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Score  float64         `json:"_score"`
}

type ESHitResponse struct {
	Total struct {
		Value    int64  `json:"value"`
		Relation string `json:"relation"`
	} `json:"total"`
	Hits []Hit
}

type ESSource struct {
	es        *elasticsearch.Client
	bulkIndex map[string]esutil.BulkIndexer
	logger    *zap.Logger
}

func NewSource(ctx *domain.UseCaseContext) (*ESSource, error) {
	r := &ESSource{
		es:        ctx.ElasticSearch,
		bulkIndex: make(map[string]esutil.BulkIndexer),
		logger:    ctx.Logger,
	}

	for idx, mapping := range map[string]map[string]interface{}{
		productIndex:      productMapping,
		categoryIndex:     categoryMapping,
		shopIndex:         shopMapping,
		attributeDefIndex: attributeDefMapping,
	} {
		if exist, err := r.CheckIndexExist(idx); err != nil {
			return nil, err
		} else if !exist {
			if err := r.CreateIndexES(idx, mapping); err != nil {
				return nil, err
			}
		}
	}

	if err := r.BulkIndex(productIndex); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *ESSource) BulkIndex(indexName string) error {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         indexName,
		Client:        r.es,
		NumWorkers:    1,
		FlushBytes:    int(5e+6),
		FlushInterval: 30 * time.Second,
	})
	if err != nil {
		return err
	}

	r.bulkIndex[indexName] = bi

	return nil
}

func (r *ESSource) CountIndex(indexName string) (int64, error) {
	req := esapi.CountRequest{
		Index: []string{indexName},
	}

	resp, err := req.Do(context.Background(), r.es)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var count struct {
		Count int64 `json:"count"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, err
	}

	return count.Count, nil
}

func (r *ESSource) CreateMany(ctx context.Context, products []*Product) error {
	for _, v := range products {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}

		if err := r.bulkIndex[productIndex].Add(
			ctx,
			esutil.BulkIndexerItem{
				Action:     "index",
				DocumentID: v.Id,
				Body:       bytes.NewReader(data),
				OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
					if err != nil {
						r.logger.Error("bulk index product failed", zap.Error(err))
					} else {
						r.logger.Error("bulk index product rejected",
							zap.String("type", res.Error.Type),
							zap.String("reason", res.Error.Reason),
						)
					}
				},
			},
		); err != nil {
			return err
		}
	}

	return nil
}

func (r *ESSource) FindById(ctx context.Context, scope Scope, id string) (*Product, error) {
	query := termQuery(scope, map[string]interface{}{"id": id})

	data, err := r.searchFromES(ctx, productIndex, 0, 1, query)
	if err != nil {
		return nil, err
	}

	if len(data.Hits.Hits) == 0 {
		return nil, ErrNotFound
	}

	var p Product
	if err := json.Unmarshal(data.Hits.Hits[0].Source, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *ESSource) ListEligible(ctx context.Context, scope Scope, from, size int64) ([]Product, int64, error) {
	filter := []map[string]interface{}{
		{"term": map[string]interface{}{"active": true}},
		{"term": map[string]interface{}{"published": true}},
	}
	if !scope.Platform() {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"tenantId": scope.TenantId()},
		})
	}

	query := map[string]interface{}{
		"sort": []interface{}{
			map[string]interface{}{"id": "asc"},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filter},
		},
	}

	data, err := r.searchFromES(ctx, productIndex, from, size, query)
	if err != nil {
		return nil, 0, err
	}

	result := make([]Product, 0, len(data.Hits.Hits))
	for _, hit := range data.Hits.Hits {
		var p Product
		if err := json.Unmarshal(hit.Source, &p); err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}

	return result, data.Hits.Total.Value, nil
}

func (r *ESSource) Update(ctx context.Context, p *Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      productIndex,
		DocumentID: p.Id,
		Body:       bytes.NewReader(data),
	}

	resp, err := req.Do(ctx, r.es)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("error updating product, status[%s]", resp.Status())
	}

	return nil
}

func (r *ESSource) MarkEmbedded(ctx context.Context, id string, at time.Time) error {
	body := map[string]interface{}{
		"doc": map[string]interface{}{
			"embeddedAt": at,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req := esapi.UpdateRequest{
		Index:      productIndex,
		DocumentID: id,
		Body:       bytes.NewReader(data),
	}

	resp, err := req.Do(ctx, r.es)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("error marking product embedded, status[%s]", resp.Status())
	}

	return nil
}

func (r *ESSource) FindCategory(ctx context.Context, id string) (*Category, error) {
	query := termQuery(PlatformScope(), map[string]interface{}{"id": id})

	data, err := r.searchFromES(ctx, categoryIndex, 0, 1, query)
	if err != nil {
		return nil, err
	}

	if len(data.Hits.Hits) == 0 {
		return nil, ErrNotFound
	}

	var c Category
	if err := json.Unmarshal(data.Hits.Hits[0].Source, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *ESSource) FindShop(ctx context.Context, id string) (*Shop, error) {
	query := termQuery(PlatformScope(), map[string]interface{}{"id": id})

	data, err := r.searchFromES(ctx, shopIndex, 0, 1, query)
	if err != nil {
		return nil, err
	}

	if len(data.Hits.Hits) == 0 {
		return nil, ErrNotFound
	}

	var s Shop
	if err := json.Unmarshal(data.Hits.Hits[0].Source, &s); err != nil {
		return nil, err
	}

	return &s, nil
}

func (r *ESSource) ListAttributeDefinitions(ctx context.Context, shopId string) ([]AttributeDefinition, error) {
	query := termQuery(PlatformScope(), map[string]interface{}{"shopId": shopId})

	data, err := r.searchFromES(ctx, attributeDefIndex, 0, 1000, query)
	if err != nil {
		return nil, err
	}

	result := make([]AttributeDefinition, 0, len(data.Hits.Hits))
	for _, hit := range data.Hits.Hits {
		var def AttributeDefinition
		if err := json.Unmarshal(hit.Source, &def); err != nil {
			return nil, err
		}
		result = append(result, def)
	}

	return result, nil
}

func termQuery(scope Scope, terms map[string]interface{}) map[string]interface{} {
	filter := make([]map[string]interface{}, 0, len(terms)+1)
	for field, value := range terms {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{field: value},
		})
	}

	if !scope.Platform() {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"tenantId": scope.TenantId()},
		})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filter},
		},
	}
}

func (r *ESSource) searchFromES(ctx context.Context, index string, from, size int64, query map[string]interface{}) (ESResponse, error) {
	var buf bytes.Buffer
	var result ESResponse
	query["from"] = from
	query["size"] = size

	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return result, err
	}

	res, err := r.es.Search(
		r.es.Search.WithContext(ctx),
		r.es.Search.WithIndex(index),
		r.es.Search.WithBody(&buf),
		r.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return result, err
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return result, fmt.Errorf("error parsing the error response body: %s", err.Error())
		} else {
			if errInfo, exist := e["error"]; exist {
				if ei, ok := errInfo.(map[string]interface{}); ok {
					return result, fmt.Errorf("error query from es,status[%s] type[%v],reason[%v]", res.Status(), ei["type"], ei["reason"])
				}
			}

			data, err := io.ReadAll(res.Body)
			if err != nil {
				return result, fmt.Errorf("error query from es, unknown error[%s]", string(data))
			}
		}
	}

	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("error parsing the response body: %s", err)
	}

	return result, nil
}

var productMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":         map[string]interface{}{"type": "keyword"},
			"tenantId":   map[string]interface{}{"type": "keyword"},
			"shopId":     map[string]interface{}{"type": "keyword"},
			"categoryId": map[string]interface{}{"type": "keyword"},
			"sku":        map[string]interface{}{"type": "keyword"},
			"name":       map[string]interface{}{"type": "text"},
			"description": map[string]interface{}{
				"type": "text",
			},
			"price":      map[string]interface{}{"type": "double"},
			"inStock":    map[string]interface{}{"type": "boolean"},
			"onSale":     map[string]interface{}{"type": "boolean"},
			"active":     map[string]interface{}{"type": "boolean"},
			"published":  map[string]interface{}{"type": "boolean"},
			"attributes": map[string]interface{}{"type": "text", "index": false},
			"createTime": map[string]interface{}{"type": "date"},
			"updateTime": map[string]interface{}{"type": "date"},
			"embeddedAt": map[string]interface{}{"type": "date"},
		},
	},
}

var categoryMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":       map[string]interface{}{"type": "keyword"},
			"tenantId": map[string]interface{}{"type": "keyword"},
			"name":     map[string]interface{}{"type": "text"},
		},
	},
}

var shopMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":       map[string]interface{}{"type": "keyword"},
			"tenantId": map[string]interface{}{"type": "keyword"},
			"name":     map[string]interface{}{"type": "text"},
		},
	},
}

var attributeDefMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":                 map[string]interface{}{"type": "keyword"},
			"shopId":             map[string]interface{}{"type": "keyword"},
			"name":               map[string]interface{}{"type": "keyword"},
			"dataType":           map[string]interface{}{"type": "keyword"},
			"semanticLabel":      map[string]interface{}{"type": "keyword"},
			"priority":           map[string]interface{}{"type": "integer"},
			"includeInEmbedding": map[string]interface{}{"type": "boolean"},
		},
	},
}

func (r *ESSource) CheckIndexExist(idx string) (bool, error) {
	req := esapi.IndicesExistsRequest{
		Index: []string{idx},
	}

	resp, err := req.Do(context.Background(), r.es)
	if err != nil {
		return false, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	} else {
		return true, nil
	}
}

func (r *ESSource) CreateIndexES(idx string, mapping map[string]interface{}) error {
	b, err := json.Marshal(mapping)
	if err != nil {
		return err
	}

	req := esapi.IndicesCreateRequest{
		Index: idx,
		Body:  bytes.NewReader(b),
	}

	resp, err := req.Do(context.Background(), r.es)
	if err != nil {
		return err
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	r.logger.Info("create index", zap.String("index", idx), zap.ByteString("response", data))

	return nil
}

func (r *ESSource) DeleteIndexES(index string) error {
	req := esapi.IndicesDeleteRequest{
		Index: []string{index},
	}

	resp, err := req.Do(context.Background(), r.es)
	if err != nil {
		return err
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	r.logger.Info("delete index", zap.String("index", index), zap.ByteString("response", data))

	return nil
}

// ProductCount reports how many products the platform currently indexes.
func (r *ESSource) ProductCount() (int64, error) {
	return r.CountIndex(productIndex)
}

// Rebuild drops and recreates the product index. Seeding is the caller's job.
func (r *ESSource) Rebuild(ctx context.Context) error {
	if err := r.DeleteIndexES(productIndex); err != nil {
		return err
	}
	if err := r.CreateIndexES(productIndex, productMapping); err != nil {
		return err
	}
	return nil
}

var _ Source = (*ESSource)(nil)
