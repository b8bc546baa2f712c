package index

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeleted     ChangeType = "deleted"
	ChangePublished   ChangeType = "published"
	ChangeUnpublished ChangeType = "unpublished"
	ChangeBulkReindex ChangeType = "bulk_reindex"
)

// ProductChangeEvent is the lifecycle notification the commerce platform
// publishes. Eligible reports whether the product was active and published
// at the time of the change.
type ProductChangeEvent struct {
	Id         string     `json:"id"`
	Type       ChangeType `json:"type"`
	ProductId  string     `json:"productId"`
	ShopId     string     `json:"shopId"`
	TenantId   string     `json:"tenantId,omitempty"`
	Eligible   bool       `json:"eligible"`
	DocVersion int        `json:"docVersion,omitempty"`
	OccurredAt time.Time  `json:"occurredAt,omitempty"`
}

type Op string

const (
	OpGenerate   Op = "generate"
	OpDelete     Op = "delete"
	OpDeactivate Op = "deactivate"
	OpActivate   Op = "activate"
)

// Job is one durable unit of pipeline work: a single named operation against
// a single product, delivered at least once.
type Job struct {
	Id         string    `json:"id"`
	Op         Op        `json:"op"`
	ProductId  string    `json:"productId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Dispatcher maps each change event to exactly one pipeline operation and
// hands it to the work queue. It blocks only on the enqueue itself. The
// enable switch is injected at construction, not read from ambient state.
type Dispatcher struct {
	queue   JobQueue
	enabled bool
	logger  *zap.Logger
}

func NewDispatcher(queue JobQueue, enabled bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		enabled: enabled,
		logger:  logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev ProductChangeEvent) error {
	if !d.enabled {
		d.logger.Debug("embedding pipeline disabled, dropping event",
			zap.String("productId", ev.ProductId),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}

	op, ok := mapChange(ev)
	if !ok {
		d.logger.Warn("unknown change type, dropping event",
			zap.String("productId", ev.ProductId),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}

	return d.queue.Enqueue(ctx, Job{
		Id:         uuid.NewString(),
		Op:         op,
		ProductId:  ev.ProductId,
		EnqueuedAt: time.Now(),
	})
}

func mapChange(ev ProductChangeEvent) (Op, bool) {
	switch ev.Type {
	case ChangeCreated, ChangeUpdated:
		if ev.Eligible {
			return OpGenerate, true
		}
		return OpDeactivate, true
	case ChangeDeleted:
		return OpDelete, true
	case ChangePublished:
		return OpActivate, true
	case ChangeUnpublished:
		return OpDeactivate, true
	case ChangeBulkReindex:
		return OpGenerate, true
	default:
		return "", false
	}
}
