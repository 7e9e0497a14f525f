package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/pkg/rabbitmq"
)

// ErrScopeRequired is returned when Reconcile is called without an address scope.
var ErrScopeRequired = errors.New("reconcile scope is required")

type txOutcome int

const (
	txUnchanged txOutcome = iota
	txCorrected
	txSucceeded
	txFailed
)

// Reconcile closes out the scope's pending cache transactions against ledger
// truth and corrects cache copies that contradict the ledger. Each referenced
// entity is read once, concurrently; corrections and status updates are then
// applied in transaction order, at most one correction per entity per pass.
// Individual failures are counted in the result and never abort the pass.
func (s *Service) Reconcile(ctx context.Context, scope string) (*domain.ReconcileResult, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, ErrScopeRequired
	}
	started := s.now()
	result := &domain.ReconcileResult{Scope: scope, StartedAt: started}

	pending, animalIDs, batchIDs := pendingReferences(s.cache.Transactions(ctx, scope))
	animals := fetchAll(ctx, s.opts.ReconcileConcurrency, animalIDs, s.reader.Animal)
	batches := fetchAll(ctx, s.opts.ReconcileConcurrency, batchIDs, s.reader.Batch)

	p := &reconcilePass{
		svc:       s,
		animals:   animals,
		batches:   batches,
		corrected: make(map[string]struct{}),
	}
	for _, tx := range pending {
		result.Processed++
		outcome, entityID, reason := p.apply(ctx, tx)
		switch outcome {
		case txSucceeded:
			result.Succeeded++
		case txCorrected:
			result.Corrected++
		case txFailed:
			result.Failed++
			result.Failures = append(result.Failures, domain.ReconcileFailure{Hash: tx.Hash, EntityID: entityID, Reason: reason})
		default:
			result.Unchanged++
		}
	}

	result.Duration = s.now().Sub(started)
	s.metrics.observeReconcile(result.Succeeded, result.Corrected, result.Failed, result.Unchanged, result.Duration)
	s.publish(context.WithoutCancel(ctx), rabbitmq.EventsExchange, rabbitmq.RoutingReconciliationComplete, rabbitmq.ReconciliationEvent{
		EventID:   uuid.New(),
		Scope:     scope,
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Corrected: result.Corrected,
		Failed:    result.Failed,
		Timestamp: s.now(),
	})
	log.Printf("level=info component=reconciler msg=\"reconciliation pass finished\" scope=%s processed=%d succeeded=%d corrected=%d failed=%d unchanged=%d duration=%s",
		scope, result.Processed, result.Succeeded, result.Corrected, result.Failed, result.Unchanged, result.Duration)
	return result, nil
}

// pendingReferences keeps pending transactions that name an animal or batch
// and collects the distinct ids they reference, first occurrence first.
func pendingReferences(txs []domain.PendingTransaction) ([]domain.PendingTransaction, []uint64, []uint64) {
	var (
		pending   []domain.PendingTransaction
		animalIDs []uint64
		batchIDs  []uint64
	)
	for _, tx := range txs {
		if tx.Status != domain.TxPending {
			continue
		}
		switch {
		case tx.Kind.RefersToAnimal():
			id, ok := tx.Payload.AnimalID.Uint64()
			if !ok {
				continue
			}
			animalIDs = append(animalIDs, id)
		case tx.Kind.RefersToBatch():
			id, ok := tx.Payload.BatchID.Uint64()
			if !ok {
				continue
			}
			batchIDs = append(batchIDs, id)
		default:
			continue
		}
		pending = append(pending, tx)
	}
	return pending, domain.UniqueIDs(animalIDs), domain.UniqueIDs(batchIDs)
}

type reconcilePass struct {
	svc       *Service
	animals   map[uint64]lookup[*domain.Animal]
	batches   map[uint64]lookup[*domain.Batch]
	corrected map[string]struct{}
}

func (p *reconcilePass) apply(ctx context.Context, tx domain.PendingTransaction) (txOutcome, string, string) {
	if tx.Kind.RefersToAnimal() {
		id, _ := tx.Payload.AnimalID.Uint64()
		return p.applyAnimal(ctx, tx, id)
	}
	id, _ := tx.Payload.BatchID.Uint64()
	return p.applyBatch(ctx, tx, id)
}

func (p *reconcilePass) applyAnimal(ctx context.Context, tx domain.PendingTransaction, id uint64) (txOutcome, string, string) {
	hash := tx.Hash
	key := "animal:" + domain.EntityKey(id)
	res, ok := p.animals[id]
	if !ok {
		return txFailed, key, "ledger read missing"
	}
	if res.err != nil {
		return txFailed, key, res.err.Error()
	}
	a := res.value

	corrected := false
	if _, done := p.corrected[key]; !done {
		p.corrected[key] = struct{}{}
		if cached := p.svc.cache.Animal(ctx, id); cached != nil && animalDiverges(cached, a) {
			if err := p.svc.cache.PatchAnimal(ctx, id, animalCorrection(a, hash)); err != nil {
				p.svc.metrics.cacheMutationFailed("patch_animal")
				return txFailed, key, "cache correction failed: " + err.Error()
			}
			log.Printf("level=info component=reconciler msg=\"cache animal corrected from ledger\" animal_id=%d state=%s tx_hash=%s", id, a.State, hash)
			corrected = true
		}
	}

	if animalTxLanded(tx.Kind, a) {
		return p.complete(ctx, hash, key)
	}
	if corrected {
		return txCorrected, key, ""
	}
	return txUnchanged, key, ""
}

func (p *reconcilePass) applyBatch(ctx context.Context, tx domain.PendingTransaction, id uint64) (txOutcome, string, string) {
	hash := tx.Hash
	key := "batch:" + domain.EntityKey(id)
	res, ok := p.batches[id]
	if !ok {
		return txFailed, key, "ledger read missing"
	}
	if res.err != nil {
		return txFailed, key, res.err.Error()
	}
	b := res.value

	corrected := false
	if _, done := p.corrected[key]; !done {
		p.corrected[key] = struct{}{}
		if cached := p.svc.cache.Batch(ctx, id); cached != nil && batchDiverges(cached, b) {
			if err := p.svc.cache.PatchBatch(ctx, id, batchCorrection(b, hash)); err != nil {
				p.svc.metrics.cacheMutationFailed("patch_batch")
				return txFailed, key, "cache correction failed: " + err.Error()
			}
			log.Printf("level=info component=reconciler msg=\"cache batch corrected from ledger\" batch_id=%d state=%s members=%d tx_hash=%s", id, b.State, b.AnimalCount, hash)
			corrected = true
		}
	}

	if batchTxLanded(tx.Kind, tx.Payload, b) {
		return p.complete(ctx, hash, key)
	}
	if corrected {
		return txCorrected, key, ""
	}
	return txUnchanged, key, ""
}

func (p *reconcilePass) complete(ctx context.Context, hash, key string) (txOutcome, string, string) {
	update := domain.TxUpdate{Status: domain.TxCompleted, Result: "confirmed by reconciliation at " + p.svc.now().Format(time.RFC3339)}
	if err := p.svc.cache.UpdateTransaction(ctx, hash, update); err != nil {
		p.svc.metrics.cacheMutationFailed("update_transaction")
		return txFailed, key, "transaction status update failed: " + err.Error()
	}
	return txSucceeded, key, ""
}

// animalTxLanded reports whether the ledger copy shows the effect of a
// transaction of the given kind. A read that succeeded proves a creation.
func animalTxLanded(kind domain.TxKind, a *domain.Animal) bool {
	switch kind {
	case domain.TxAnimalCreated:
		return true
	case domain.TxAnimalTransferred:
		return a.State >= domain.AnimalTransferred
	case domain.TxAnimalProcessed:
		return a.State >= domain.AnimalProcessed
	default:
		return false
	}
}

// batchTxLanded is animalTxLanded for batches. An append has landed once every
// animal it named is a member; records without the list fall back to existence.
func batchTxLanded(kind domain.TxKind, payload domain.TxPayload, b *domain.Batch) bool {
	switch kind {
	case domain.TxBatchCreated:
		return true
	case domain.TxAnimalsAdded:
		added := make([]uint64, 0, len(payload.AnimalIDs))
		for _, raw := range payload.AnimalIDs {
			if id, ok := raw.Uint64(); ok {
				added = append(added, id)
			}
		}
		return b.Contains(added...)
	case domain.TxBatchTransferred:
		return b.State >= domain.BatchTransferred
	case domain.TxBatchProcessed:
		return b.State >= domain.BatchProcessed
	default:
		return false
	}
}

func animalDiverges(cached *domain.CachedAnimal, a *domain.Animal) bool {
	return !domain.SameAddress(cached.Owner, a.Owner) ||
		!domain.SameAddress(cached.Processor, a.Processor) ||
		cached.State != a.State.CacheMarker()
}

func batchDiverges(cached *domain.CachedBatch, b *domain.Batch) bool {
	if !domain.SameAddress(cached.Owner, b.Owner) ||
		!domain.SameAddress(cached.Processor, b.Processor) ||
		cached.State != b.State.CacheMarker() {
		return true
	}
	members := make([]uint64, 0, len(cached.AnimalIDs))
	for _, raw := range cached.AnimalIDs {
		id, ok := raw.Uint64()
		if !ok {
			return true
		}
		members = append(members, id)
	}
	members = domain.UniqueIDs(members)
	if len(members) != len(b.AnimalIDs) {
		return true
	}
	onLedger := make(map[uint64]struct{}, len(b.AnimalIDs))
	for _, id := range b.AnimalIDs {
		onLedger[id] = struct{}{}
	}
	for _, id := range members {
		if _, ok := onLedger[id]; !ok {
			return true
		}
	}
	return false
}

func animalCorrection(a *domain.Animal, hash string) domain.AnimalCorrection {
	return domain.AnimalCorrection{
		Owner:     domain.NormalizeAddress(a.Owner),
		Processor: domain.NormalizeAddress(a.Processor),
		State:     a.State.CacheMarker(),
		TxHash:    hash,
	}
}

func batchCorrection(b *domain.Batch, hash string) domain.BatchCorrection {
	members := make([]string, 0, len(b.AnimalIDs))
	for _, id := range b.AnimalIDs {
		members = append(members, domain.EntityKey(id))
	}
	return domain.BatchCorrection{
		Owner:     domain.NormalizeAddress(b.Owner),
		Processor: domain.NormalizeAddress(b.Processor),
		State:     b.State.CacheMarker(),
		AnimalIDs: members,
		TxHash:    hash,
	}
}
