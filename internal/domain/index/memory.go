package index

import (
	"context"
	"sort"
	"sync"

	"github.com/northwind-labs/productrag/internal/domain/embedding"
)

// MemoryStore is a brute-force cosine store keeping everything in process.
// It backs local development without a Milvus deployment and the unit tests;
// semantics match the Milvus store, including tie-breaking by storage order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*ProductEmbedding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Upsert(ctx context.Context, e *ProductEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ProductId == e.ProductId && existing.ChunkIndex == e.ChunkIndex {
			id := existing.Id
			*existing = *e
			existing.Id = id
			return nil
		}
	}

	record := *e
	if record.Id == "" {
		record.Id = EmbeddingId(e.ProductId, e.ChunkIndex)
	}
	s.records = append(s.records, &record)
	return nil
}

func (s *MemoryStore) GetByProduct(ctx context.Context, productId string) ([]ProductEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ProductEmbedding, 0, 4)
	for _, r := range s.records {
		if r.ProductId == productId {
			result = append(result, *r)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ChunkIndex < result[j].ChunkIndex
	})

	return result, nil
}

func (s *MemoryStore) DeleteByProduct(ctx context.Context, productId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.ProductId != productId {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *MemoryStore) DeleteChunksFrom(ctx context.Context, productId string, fromChunk int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.ProductId == productId && r.ChunkIndex >= fromChunk {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return nil
}

func (s *MemoryStore) SetActiveByProduct(ctx context.Context, productId string, active bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.records {
		if r.ProductId == productId {
			r.Active = active
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SearchSimilar(ctx context.Context, vector embedding.Vector, topK int, filter SearchFilter) ([]SearchMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return []SearchMatch{}, nil
	}

	matches := make([]SearchMatch, 0, len(s.records))
	for _, r := range s.records {
		if filter.ActiveOnly && !r.Active {
			continue
		}
		if filter.TenantId != "" && r.TenantId != filter.TenantId {
			continue
		}
		if filter.ShopId != "" && r.ShopId != filter.ShopId {
			continue
		}

		distance, err := vector.CosineDistance(r.Vector)
		if err != nil {
			// dimension drift between model generations; such rows can
			// never match the current query vector
			continue
		}

		matches = append(matches, SearchMatch{
			Embedding: *r,
			Score:     1 - distance/2,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (s *MemoryStore) ProductsNeedingEmbedding(ctx context.Context, currentModelVersion, batchSize int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	result := make([]string, 0, batchSize)
	for _, r := range s.records {
		if r.ModelVersion >= currentModelVersion {
			continue
		}
		if _, dup := seen[r.ProductId]; dup {
			continue
		}
		seen[r.ProductId] = struct{}{}
		result = append(result, r.ProductId)
		if batchSize > 0 && len(result) >= batchSize {
			break
		}
	}

	return result, nil
}

func (s *MemoryStore) Stats(ctx context.Context, currentModelVersion int) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{}
	for _, r := range s.records {
		stats.Total++
		if r.Active {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if r.ModelVersion < currentModelVersion {
			stats.Outdated++
		}
		stats.ModelName = r.ModelName
	}
	stats.ModelVersion = currentModelVersion

	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
