package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/pkg/rabbitmq"
)

// Reconciler runs one reconciliation pass for an address scope.
type Reconciler interface {
	Reconcile(ctx context.Context, scope string) (*domain.ReconcileResult, error)
}

// ReconcileRequestConsumer handles reconcile.requested messages.
type ReconcileRequestConsumer struct {
	reconciler Reconciler
	timeout    time.Duration
}

// NewReconcileRequestConsumer creates a new consumer for reconcile requests.
func NewReconcileRequestConsumer(reconciler Reconciler) *ReconcileRequestConsumer {
	return &ReconcileRequestConsumer{reconciler: reconciler, timeout: 2 * time.Minute}
}

// HandleRequest returns true when the request should be acknowledged. Passes
// that failed because the ledger or cache was unreachable are requeued; any
// other failure is dropped.
func (c *ReconcileRequestConsumer) HandleRequest(req rabbitmq.ReconcileRequest) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := c.reconciler.Reconcile(ctx, req.Scope)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			log.Printf("level=warn component=reconcile_consumer msg=\"reconcile deferred\" scope=%s err=%v", req.Scope, err)
			return false
		}
		log.Printf("level=error component=reconcile_consumer msg=\"reconcile request dropped\" scope=%s err=%v", req.Scope, err)
		return true
	}
	log.Printf("level=info component=reconcile_consumer msg=\"reconcile request handled\" scope=%s processed=%d failed=%d", req.Scope, result.Processed, result.Failed)
	return true
}
