package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/northwind-labs/productrag/internal/domain/embedding"
	"github.com/northwind-labs/productrag/internal/domain/product"
	"go.uber.org/zap"
)

// Pipeline converts one product at a time into versioned chunk embeddings
// and keeps them aligned with the product's lifecycle. It is the store's
// only writer. Any failure aborts the product's run and propagates; partial
// chunk writes are fine because upsert is idempotent per chunk and a retry
// overwrites them.
type Pipeline struct {
	source   product.Source
	builder  *product.CanonicalBuilder
	chunker  *Chunker
	embedder embedding.Client
	store    Store
	enabled  bool
	logger   *zap.Logger
}

func NewPipeline(source product.Source, builder *product.CanonicalBuilder, chunker *Chunker,
	embedder embedding.Client, store Store, enabled bool, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		builder:  builder,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		enabled:  enabled,
		logger:   logger,
	}
}

func (p *Pipeline) GenerateEmbedding(ctx context.Context, productId string) error {
	if !p.enabled {
		p.logger.Debug("embedding generation disabled, skipping", zap.String("productId", productId))
		return nil
	}

	record, err := p.source.FindById(ctx, product.PlatformScope(), productId)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			// the event may be stale relative to a later deletion
			p.logger.Warn("product missing for embedding run, skipping", zap.String("productId", productId))
			return nil
		}
		return err
	}

	if !record.Eligible() {
		return p.DeactivateEmbeddings(ctx, productId)
	}

	doc, err := p.builder.Build(ctx, record)
	if err != nil {
		return err
	}

	chunks := p.chunker.Chunk(doc.EmbeddingText(), doc.Name)
	if len(chunks) == 0 {
		return fmt.Errorf("index: product %s produced no chunks", productId)
	}

	payload, err := json.Marshal(DisplayPayload{
		Name:     doc.Name,
		ShopName: doc.ShopName,
		Category: doc.CategoryName,
		Price:    doc.Price,
		InStock:  doc.InStock,
		OnSale:   doc.OnSale,
		SKU:      doc.SKU,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, chunk := range chunks {
		vector, err := p.embedder.GenerateEmbedding(ctx, chunk.Text)
		if err != nil {
			return err
		}

		if err := p.store.Upsert(ctx, &ProductEmbedding{
			Id:            EmbeddingId(productId, chunk.Index),
			ProductId:     productId,
			TenantId:      doc.TenantId,
			ShopId:        doc.ShopId,
			ChunkIndex:    chunk.Index,
			ChunkText:     chunk.Text,
			Vector:        vector,
			ModelName:     p.embedder.ModelName(),
			ModelVersion:  p.embedder.ModelVersion(),
			SchemaVersion: doc.SchemaVersion,
			GeneratedAt:   now,
			Payload:       string(payload),
			Active:        true,
		}); err != nil {
			return err
		}
	}

	// a shrunken document renders fewer chunks than the previous run; the
	// stale tail must not keep serving old content
	if err := p.store.DeleteChunksFrom(ctx, productId, len(chunks)); err != nil {
		return err
	}

	// only after every chunk landed
	if err := p.source.MarkEmbedded(ctx, productId, now); err != nil {
		return err
	}

	p.logger.Info("product embedded",
		zap.String("productId", productId),
		zap.Int("chunks", len(chunks)),
		zap.Int("modelVersion", p.embedder.ModelVersion()),
	)

	return nil
}

func (p *Pipeline) DeleteEmbeddings(ctx context.Context, productId string) error {
	return p.store.DeleteByProduct(ctx, productId)
}

func (p *Pipeline) DeactivateEmbeddings(ctx context.Context, productId string) error {
	n, err := p.store.SetActiveByProduct(ctx, productId, false)
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info("embeddings deactivated", zap.String("productId", productId), zap.Int("chunks", n))
	}
	return nil
}

// ActivateEmbeddings re-enables a republished product's vectors, falling
// through to full generation when none exist yet.
func (p *Pipeline) ActivateEmbeddings(ctx context.Context, productId string) error {
	n, err := p.store.SetActiveByProduct(ctx, productId, true)
	if err != nil {
		return err
	}
	if n == 0 {
		return p.GenerateEmbedding(ctx, productId)
	}

	p.logger.Info("embeddings activated", zap.String("productId", productId), zap.Int("chunks", n))
	return nil
}

// Handle executes one queued job. Errors bubble up to the queue consumer,
// whose at-least-once redelivery provides the retry.
func (p *Pipeline) Handle(ctx context.Context, job Job) error {
	switch job.Op {
	case OpGenerate:
		return p.GenerateEmbedding(ctx, job.ProductId)
	case OpDelete:
		return p.DeleteEmbeddings(ctx, job.ProductId)
	case OpDeactivate:
		return p.DeactivateEmbeddings(ctx, job.ProductId)
	case OpActivate:
		return p.ActivateEmbeddings(ctx, job.ProductId)
	default:
		p.logger.Warn("unknown pipeline op, dropping job", zap.String("op", string(job.Op)), zap.String("jobId", job.Id))
		return nil
	}
}
