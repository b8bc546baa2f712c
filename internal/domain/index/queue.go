package index

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/northwind-labs/productrag/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultJobStream     = "productrag:jobs"
	defaultEventStream   = "productrag:product_events"
	defaultConsumerGroup = "productrag"

	readBatch    = 16
	readBlock    = 5 * time.Second
	reclaimAfter = time.Minute
)

// RedisQueue is the durable hand-off between the dispatcher and the pipeline
// workers, built on a Redis stream with a consumer group. Entries are acked
// only after the handler succeeds; unacked entries are reclaimed after a
// minute of idleness, which yields at-least-once delivery.
type RedisQueue struct {
	rds      *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

func NewRedisQueue(ctx *domain.UseCaseContext) *RedisQueue {
	stream := ctx.Config.Pipeline.JobStream
	if stream == "" {
		stream = defaultJobStream
	}
	group := ctx.Config.Pipeline.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	return &RedisQueue{
		rds:      ctx.Redis,
		stream:   stream,
		group:    group,
		consumer: host,
		logger:   ctx.Logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return q.rds.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"job": string(data)},
	}).Err()
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.rds.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

// Run consumes jobs with `workers` goroutines until ctx is cancelled. A
// failed handler leaves the entry pending so a later reclaim redelivers it.
func (q *RedisQueue) Run(ctx context.Context, workers int, handle func(context.Context, Job) error, watch func(), done func()) {
	if workers <= 0 {
		workers = 1
	}

	if err := q.ensureGroup(ctx); err != nil {
		q.logger.Error("create consumer group failed", zap.Error(err))
		return
	}

	for i := 0; i < workers; i++ {
		watch()
		go func(worker int) {
			defer done()
			q.consume(ctx, worker, handle)
		}(i)
	}
}

func (q *RedisQueue) consume(ctx context.Context, worker int, handle func(context.Context, Job) error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := q.fetch(ctx, worker)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			q.logger.Warn("job stream read failed, backing off",
				zap.Int("worker", worker),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		for _, msg := range messages {
			q.process(ctx, msg, handle)
		}
	}
}

func (q *RedisQueue) fetch(ctx context.Context, worker int) ([]redis.XMessage, error) {
	consumer := q.consumerName(worker)

	// stale pending entries first: work owned by a consumer that died
	claimed, _, err := q.rds.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  reclaimAfter,
		Start:    "0-0",
		Count:    readBatch,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := q.rds.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    readBatch,
		Block:    readBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (q *RedisQueue) process(ctx context.Context, msg redis.XMessage, handle func(context.Context, Job) error) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		q.logger.Warn("malformed queue entry, discarding", zap.String("entryId", msg.ID))
		q.ack(ctx, msg.ID)
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Warn("undecodable job, discarding", zap.String("entryId", msg.ID), zap.Error(err))
		q.ack(ctx, msg.ID)
		return
	}

	if err := handle(ctx, job); err != nil {
		// left unacked on purpose: redelivered once it goes stale
		q.logger.Error("pipeline job failed, will retry",
			zap.String("jobId", job.Id),
			zap.String("op", string(job.Op)),
			zap.String("productId", job.ProductId),
			zap.Error(err),
		)
		return
	}

	q.ack(ctx, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, entryId string) {
	if err := q.rds.XAck(ctx, q.stream, q.group, entryId).Err(); err != nil && ctx.Err() == nil {
		q.logger.Warn("ack failed", zap.String("entryId", entryId), zap.Error(err))
	}
}

func (q *RedisQueue) consumerName(worker int) string {
	return q.consumer + "-" + strconv.Itoa(worker)
}

var _ JobQueue = (*RedisQueue)(nil)
