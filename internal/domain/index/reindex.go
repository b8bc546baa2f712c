package index

import (
	"context"

	"github.com/northwind-labs/productrag/internal/domain/product"
	"go.uber.org/zap"
)

const reindexPageSize = 500

// Reindexer schedules re-embedding runs: a full sweep over every eligible
// product, or a partial one limited to products whose stored vectors predate
// the current model version. Both only enqueue work; the pipeline workers do
// the heavy lifting at their own pace.
type Reindexer struct {
	source     product.Source
	store      Store
	dispatcher *Dispatcher
	embedder   interface{ ModelVersion() int }
	logger     *zap.Logger
}

func NewReindexer(source product.Source, store Store, dispatcher *Dispatcher, embedder interface{ ModelVersion() int }, logger *zap.Logger) *Reindexer {
	return &Reindexer{
		source:     source,
		store:      store,
		dispatcher: dispatcher,
		embedder:   embedder,
		logger:     logger,
	}
}

// ReindexAll walks the whole eligible catalog and dispatches a bulk-reindex
// event per product. Returns how many products were scheduled.
func (r *Reindexer) ReindexAll(ctx context.Context) (int, error) {
	scheduled := 0
	var from int64

	for {
		page, total, err := r.source.ListEligible(ctx, product.PlatformScope(), from, reindexPageSize)
		if err != nil {
			return scheduled, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if err := r.dispatcher.Dispatch(ctx, ProductChangeEvent{
				Type:      ChangeBulkReindex,
				ProductId: page[i].Id,
				ShopId:    page[i].ShopId,
				TenantId:  page[i].TenantId,
				Eligible:  true,
			}); err != nil {
				return scheduled, err
			}
			scheduled++
		}

		from += int64(len(page))
		if from >= total {
			break
		}
	}

	r.logger.Info("full reindex scheduled", zap.Int("products", scheduled))
	return scheduled, nil
}

// ReindexOutdated schedules up to batchSize products whose stored embedding
// version is older than the active model's, for staged migration after a
// model upgrade.
func (r *Reindexer) ReindexOutdated(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = reindexPageSize
	}

	ids, err := r.store.ProductsNeedingEmbedding(ctx, r.embedder.ModelVersion(), batchSize)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := r.dispatcher.Dispatch(ctx, ProductChangeEvent{
			Type:      ChangeBulkReindex,
			ProductId: id,
			Eligible:  true,
		}); err != nil {
			return 0, err
		}
	}

	r.logger.Info("partial reindex scheduled",
		zap.Int("products", len(ids)),
		zap.Int("modelVersion", r.embedder.ModelVersion()),
	)
	return len(ids), nil
}
