package embedding

import (
	"context"
	"errors"
	"math"

	"github.com/northwind-labs/productrag/internal/domain"
)

// Client wraps one embedding backend and the identity of its active model.
// ModelVersion is an operator-managed integer used to detect stale vectors
// after a model swap; Dimension is the configured vector width.
type Client interface {
	GenerateEmbedding(ctx context.Context, text string) (Vector, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([]Vector, error)
	TestConnection(ctx context.Context) bool
	ModelName() string
	ModelVersion() int
	Dimension() int
}

func NewEmbedding(ctx *domain.UseCaseContext) (Client, error) {
	return newOpenAI(ctx)
}

var (
	ErrEmptyInput      = errors.New("embedding: empty input text")
	ErrInvalidResponse = errors.New("embedding: invalid backend response")

	ErrVectorLengthMismatch = errors.New("vector length mismatch")
)

type Vector []float32

func (v Vector) DotProduct(other Vector) (float32, error) {
	if len(v) != len(other) {
		return 0, ErrVectorLengthMismatch
	}

	var dotProduct float32
	for i := range v {
		dotProduct += v[i] * other[i]
	}

	return dotProduct, nil
}

func (v Vector) Norm() float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(v[i])
	}
	return math.Sqrt(sum)
}

// CosineDistance is 1 - cos(v, other), in [0, 2]. Zero-norm vectors are
// treated as maximally distant.
func (v Vector) CosineDistance(other Vector) (float64, error) {
	dot, err := v.DotProduct(other)
	if err != nil {
		return 0, err
	}

	nv, no := v.Norm(), other.Norm()
	if nv == 0 || no == 0 {
		return 2, nil
	}

	return 1 - float64(dot)/(nv*no), nil
}
