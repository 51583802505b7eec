package idempotency

import (
	"context"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Outcome string

const (
	Accepted        Outcome = "accepted"
	DroppedZero     Outcome = "dropped_zero"
	DuplicateBatch  Outcome = "duplicate_batch"
	DuplicateRecent Outcome = "duplicate_recent"
)

var admittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "loyalty_webhook_events_total",
	Help: "ERP webhook events by idempotency outcome.",
}, []string{"outcome"})

const defaultTTL = 60 * time.Second

type Gate struct {
	node  *snowflake.Node
	cache Cache
	ttl   time.Duration
	docs  repository.Repository[ProcessedDocument]
}

type GateParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Cache  Cache `optional:"true"`
}

func NewGate(p GateParams) *Gate {
	ttl := defaultTTL
	if p.Config != nil && p.Config.Loyalty.DedupTTL > 0 {
		ttl = p.Config.Loyalty.DedupTTL
	}
	return &Gate{
		node:  p.Node,
		cache: p.Cache,
		ttl:   ttl,
		docs:  repository.ProvideStore[ProcessedDocument](p.DB),
	}
}

// Event is what the gate needs to know about one webhook item.
type Event struct {
	DocumentID  string
	Operation   erp.Operation
	BonusAmount float64
}

// Batch tracks keys already admitted within one webhook request.
type Batch struct {
	gate *Gate
	seen map[string]struct{}
}

func (g *Gate) NewBatch() *Batch {
	return &Batch{gate: g, seen: map[string]struct{}{}}
}

// Admit decides whether ev should be processed. Accepted keys are written to
// the cache before Admit returns.
func (b *Batch) Admit(ctx context.Context, ev Event) Outcome {
	out := b.admit(ctx, ev)
	admittedTotal.WithLabelValues(string(out)).Inc()
	return out
}

func (b *Batch) admit(ctx context.Context, ev Event) Outcome {
	if ev.BonusAmount <= 0 {
		return DroppedZero
	}
	// no document id, nothing to dedup on
	if ev.DocumentID == "" {
		return Accepted
	}

	key := Key(ev.DocumentID, ev.Operation)
	if _, ok := b.seen[key]; ok {
		return DuplicateBatch
	}
	b.seen[key] = struct{}{}

	if b.gate.cache == nil {
		return Accepted
	}
	fresh, err := b.gate.cache.SetNX(ctx, key, b.gate.ttl)
	if err != nil {
		// the durable claim still guards the event
		zap.L().Warn("dedup cache unavailable", zap.String("key", key), zap.Error(err))
		return Accepted
	}
	if !fresh {
		return DuplicateRecent
	}
	return Accepted
}

// Release forgets an accepted event whose recording failed, so a redelivery
// is not mistaken for a duplicate.
func (b *Batch) Release(ctx context.Context, ev Event) {
	if ev.DocumentID == "" || b.gate.cache == nil {
		return
	}
	key := Key(ev.DocumentID, ev.Operation)
	if err := b.gate.cache.Forget(ctx, key); err != nil {
		zap.L().Warn("failed to release dedup key", zap.String("key", key), zap.Error(err))
	}
}

// Claim durably marks the document as processed inside tx. It reports false
// when the document was already recorded. Events without a document id are
// always new.
func (g *Gate) Claim(ctx context.Context, tx *gorm.DB, documentID string, op erp.Operation, userID string) (bool, error) {
	if documentID == "" {
		return true, nil
	}
	return g.docs.WithTrx(tx).CreateIfAbsent(ctx, &ProcessedDocument{
		ID:          gen.NextID(g.node),
		DocumentID:  documentID,
		Operation:   op,
		UserID:      userID,
		ProcessedAt: time.Now(),
	})
}
