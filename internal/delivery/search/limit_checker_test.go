package search

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/northwind-labs/productrag/internal/conf"
	"github.com/northwind-labs/productrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiterContext(t *testing.T, limit conf.SearchLimit) *domain.UseCaseContext {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &domain.UseCaseContext{
		Config: conf.Config{SearchLimit: limit},
		Redis:  rdb,
	}
}

func TestLimiterRulesFromConfig(t *testing.T) {
	lc := NewLimiter(limiterContext(t, conf.SearchLimit{
		IntervalSec: 60,
		AccessLimit: 3,
		InputLimit:  7,
		OutputLimit: 9,
	}))

	assert.EqualValues(t, 60, lc.rule[AspectApiKeyAccess].IntervalSec)
	assert.EqualValues(t, 3, lc.rule[AspectApiKeyAccess].Limit)
	assert.EqualValues(t, 7, lc.rule[AspectApiKeyInput].Limit)
	assert.EqualValues(t, 9, lc.rule[AspectApiKeyOutput].Limit)
}

func TestLimiterDefaultsWhenUnconfigured(t *testing.T) {
	lc := NewLimiter(limiterContext(t, conf.SearchLimit{}))

	for _, aspect := range []Aspect{AspectApiKeyAccess, AspectApiKeyInput, AspectApiKeyOutput} {
		assert.Equal(t, defaultLimitIntervalSec, lc.rule[aspect].IntervalSec)
		assert.Equal(t, defaultAspectLimit, lc.rule[aspect].Limit)
	}
}

func TestLimiterBlocksOverLimit(t *testing.T) {
	ctx := limiterContext(t, conf.SearchLimit{
		IntervalSec: 60,
		AccessLimit: 2,
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, NewLimiter(ctx).Check(context.Background(), CheckLimitInput{
			Aspect: AspectApiKeyAccess,
			ApiKey: "key-1",
		}))
	}

	err := NewLimiter(ctx).Check(context.Background(), CheckLimitInput{
		Aspect: AspectApiKeyAccess,
		ApiKey: "key-1",
	})
	assert.Error(t, err)

	// an unrelated key still passes
	assert.NoError(t, NewLimiter(ctx).Check(context.Background(), CheckLimitInput{
		Aspect: AspectApiKeyAccess,
		ApiKey: "key-2",
	}))
}

func TestLimiterKeysDistinctInputs(t *testing.T) {
	a := AspectApiKeyInput
	k1, err := a.GenKey("key-1", SearchParam{Keyword: "red shoes"}, nil)
	require.NoError(t, err)
	k2, err := a.GenKey("key-1", SearchParam{Keyword: "blue shoes"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "distinct inputs count separately")

	again, err := a.GenKey("key-1", SearchParam{Keyword: "red shoes"}, nil)
	require.NoError(t, err)
	assert.Equal(t, k1, again)
}
