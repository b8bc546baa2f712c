package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var modelAliasMap = map[string]openai.EmbeddingModel{
	"AdaEmbeddingV2": openai.AdaEmbeddingV2,
	"AdaSimilarity":  openai.AdaSimilarity,
}

type OpenAI struct {
	ctx            *domain.UseCaseContext
	embeddingModel openai.EmbeddingModel
	modelAlias     string
	modelVersion   int
	dimension      int
	logger         *zap.Logger
}

func newOpenAI(ctx *domain.UseCaseContext) (*OpenAI, error) {
	c := ctx.Config.Embedding
	if c.Endpoint == "" || c.Token == "" {
		return nil, errors.New("invalid embedding backend config")
	}

	em, found := modelAliasMap[c.Model]
	if !found {
		return nil, fmt.Errorf("model-[%s] mapping not found", c.Model)
	}

	return &OpenAI{
		ctx:            ctx,
		embeddingModel: em,
		modelAlias:     c.Model,
		modelVersion:   c.ModelVersion,
		dimension:      c.Dimension,
		logger:         ctx.Logger,
	}, nil
}

func (oa *OpenAI) ModelName() string {
	return oa.modelAlias
}

func (oa *OpenAI) ModelVersion() int {
	return oa.modelVersion
}

func (oa *OpenAI) Dimension() int {
	return oa.dimension
}

func (oa *OpenAI) client() *openai.Client {
	config := openai.DefaultConfig(oa.ctx.Config.Embedding.Token)
	config.BaseURL = oa.ctx.Config.Embedding.Endpoint
	return openai.NewClientWithConfig(config)
}

func (oa *OpenAI) GenerateEmbedding(ctx context.Context, text string) (Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	vectors, err := oa.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (oa *OpenAI) GenerateEmbeddings(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}

	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}

	embeddingReq := &openai.EmbeddingRequest{
		Input: texts,
		Model: oa.embeddingModel,
	}

	embeddingResp, err := oa.client().CreateEmbeddings(ctx, embeddingReq)
	if err != nil {
		// cancellation is the caller's signal, never an upstream fault
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("embedding: backend request failed: %w", err)
	}

	if len(embeddingResp.Data) == 0 {
		return nil, fmt.Errorf("%w: no vectors returned", ErrInvalidResponse)
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d vectors, got %d", ErrInvalidResponse, len(texts), len(embeddingResp.Data))
	}

	result := make([]Vector, len(texts))
	for _, v := range embeddingResp.Data {
		if v.Index < 0 || v.Index >= len(texts) {
			return nil, fmt.Errorf("%w: vector index %d out of range", ErrInvalidResponse, v.Index)
		}
		result[v.Index] = v.Embedding
	}

	for i, v := range result {
		if v == nil {
			return nil, fmt.Errorf("%w: missing vector for input %d", ErrInvalidResponse, i)
		}
		if oa.dimension > 0 && len(v) != oa.dimension {
			// returned as-is rather than truncated or padded; the store keeps
			// whatever the backend produced
			oa.logger.Warn("embedding dimension mismatch",
				zap.String("model", oa.modelAlias),
				zap.Int("expected", oa.dimension),
				zap.Int("actual", len(v)),
			)
		}
	}

	return result, nil
}

// TestConnection lists the backend's models and checks the configured one is
// served. Best effort: any failure reports false instead of an error.
func (oa *OpenAI) TestConnection(ctx context.Context) bool {
	models, err := oa.client().ListModels(ctx)
	if err != nil {
		oa.logger.Warn("embedding backend unreachable", zap.Error(err))
		return false
	}

	want := oa.embeddingModel.String()
	for _, m := range models.Models {
		if m.ID == want {
			return true
		}
	}

	oa.logger.Warn("configured embedding model not served by backend", zap.String("model", want))
	return false
}
