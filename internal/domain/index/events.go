package index

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/northwind-labs/productrag/internal/domain"
	"go.uber.org/zap"
)

// EventIntake subscribes to the commerce platform's product change stream
// and feeds each decoded event to the dispatcher. Events are acked after a
// successful dispatch, so an enqueue failure gets the event redelivered;
// duplicates are harmless because the pipeline is idempotent.
type EventIntake struct {
	rds        *redis.Client
	stream     string
	group      string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewEventIntake(ctx *domain.UseCaseContext, dispatcher *Dispatcher) *EventIntake {
	stream := ctx.Config.Pipeline.EventStream
	if stream == "" {
		stream = defaultEventStream
	}
	group := ctx.Config.Pipeline.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}

	return &EventIntake{
		rds:        ctx.Redis,
		stream:     stream,
		group:      group,
		dispatcher: dispatcher,
		logger:     ctx.Logger,
	}
}

func (ei *EventIntake) Run(ctx context.Context) {
	if err := ei.rds.XGroupCreateMkStream(ctx, ei.stream, ei.group, "0").Err(); err != nil && !isBusyGroup(err) {
		ei.logger.Error("create event consumer group failed", zap.Error(err))
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	// entries delivered before a crash sit unacked in the pending list, so
	// each run replays that backlog before reading new entries
	cursor := "0"

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := ei.rds.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ei.group,
			Consumer: "event-intake",
			Streams:  []string{ei.stream, cursor},
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				bo.Reset()
				cursor = ">"
				continue
			}
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			ei.logger.Warn("event stream read failed, backing off", zap.Duration("wait", wait), zap.Error(err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()

		count := 0
		last := ""
		for _, s := range streams {
			for _, msg := range s.Messages {
				ei.handle(ctx, msg)
				count++
				last = msg.ID
			}
		}

		// backlog reads page by entry id and never loop on a failing entry;
		// an empty page means the backlog is drained
		if cursor != ">" {
			if count == 0 {
				cursor = ">"
			} else {
				cursor = last
			}
		}
	}
}

func (ei *EventIntake) handle(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		ei.logger.Warn("malformed change event entry, discarding", zap.String("entryId", msg.ID))
		ei.ack(ctx, msg.ID)
		return
	}

	var ev ProductChangeEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		ei.logger.Warn("undecodable change event, discarding", zap.String("entryId", msg.ID), zap.Error(err))
		ei.ack(ctx, msg.ID)
		return
	}

	if err := ei.dispatcher.Dispatch(ctx, ev); err != nil {
		ei.logger.Error("dispatch failed, event will be redelivered",
			zap.String("productId", ev.ProductId),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}

	ei.ack(ctx, msg.ID)
}

func (ei *EventIntake) ack(ctx context.Context, entryId string) {
	if err := ei.rds.XAck(ctx, ei.stream, ei.group, entryId).Err(); err != nil && ctx.Err() == nil {
		ei.logger.Warn("event ack failed", zap.String("entryId", entryId), zap.Error(err))
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
