package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/pkg/rabbitmq"
)

func pendingAnimalTx(hash string, kind domain.TxKind, animalID string) domain.PendingTransaction {
	return domain.PendingTransaction{
		Hash:    hash,
		Kind:    kind,
		Status:  domain.TxPending,
		Payload: domain.TxPayload{AnimalID: domain.FlexID(animalID)},
	}
}

func TestReconcile_CompletesPendingTransactionWhenLedgerShowsProcessed(t *testing.T) {
	h := newHarness(t)
	h.ledger.putAnimal(animalFixture(7, domain.AnimalProcessed, producerWallet, processorWallet))
	h.cache.animals[7] = domain.CachedAnimal{ID: "7", Owner: "0x111", State: "creado"}
	h.cache.txs = []domain.PendingTransaction{pendingAnimalTx("0xfeed", domain.TxAnimalTransferred, "7")}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 || result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	if got := h.cache.txStatus("0xfeed"); got != domain.TxCompleted {
		t.Fatalf("expected transaction %q, got %q", domain.TxCompleted, got)
	}

	cached := h.cache.animals[7]
	if cached.State != "procesado" || cached.Processor != "0x222" || cached.LastTxHash != "0xfeed" {
		t.Fatalf("expected cache copy corrected from ledger, got %+v", cached)
	}

	if len(h.publisher.events) != 1 || h.publisher.events[0].routingKey != rabbitmq.RoutingReconciliationComplete {
		t.Fatalf("expected one reconciliation event, got %+v", h.publisher.events)
	}
	event, ok := h.publisher.events[0].body.(rabbitmq.ReconciliationEvent)
	if !ok || event.Succeeded != 1 || event.Scope != producerWallet {
		t.Fatalf("unexpected reconciliation event body: %+v", h.publisher.events[0].body)
	}
}

func TestReconcile_DoesNotCompleteWhileLedgerStateIsCreated(t *testing.T) {
	h := newHarness(t)
	h.ledger.putAnimal(animalFixture(4, domain.AnimalCreated, producerWallet, ""))
	h.cache.animals[4] = domain.CachedAnimal{ID: "4", Owner: "0x111", State: "creado"}
	h.cache.txs = []domain.PendingTransaction{pendingAnimalTx("0x44", domain.TxAnimalTransferred, "4")}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Unchanged != 1 || result.Succeeded != 0 {
		t.Fatalf("expected unchanged transaction, got %+v", result)
	}
	if got := h.cache.txStatus("0x44"); got != domain.TxPending {
		t.Fatalf("expected transaction to stay %q, got %q", domain.TxPending, got)
	}
	if h.cache.animalPatches[4] != 0 {
		t.Fatalf("expected no cache correction, got %d", h.cache.animalPatches[4])
	}
}

func TestReconcile_CorrectionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.ledger.putAnimal(animalFixture(9, domain.AnimalCreated, producerWallet, processorWallet))
	h.cache.animals[9] = domain.CachedAnimal{ID: "9", Owner: "0x111", State: "creado"}
	h.cache.txs = []domain.PendingTransaction{pendingAnimalTx("0x99", domain.TxAnimalTransferred, "9")}

	first, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Corrected != 1 {
		t.Fatalf("expected one correction on first pass, got %+v", first)
	}

	cached := h.cache.animals[9]
	ledgerCopy, _ := h.ledger.Animal(context.Background(), 9)
	if !domain.SameAddress(cached.Owner, ledgerCopy.Owner) ||
		!domain.SameAddress(cached.Processor, ledgerCopy.Processor) ||
		cached.State != ledgerCopy.State.CacheMarker() {
		t.Fatalf("cache copy %+v does not match ledger %+v", cached, ledgerCopy)
	}

	second, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Corrected != 0 || second.Unchanged != 1 {
		t.Fatalf("expected no second correction, got %+v", second)
	}
	if h.cache.animalPatches[9] != 1 {
		t.Fatalf("expected exactly one patch, got %d", h.cache.animalPatches[9])
	}
}

func TestReconcile_ContinuesAfterEntityFailure(t *testing.T) {
	h := newHarness(t)
	h.ledger.errs[1] = fmt.Errorf("get_animal_data: %w", domain.ErrUnavailable)
	h.ledger.putAnimal(animalFixture(2, domain.AnimalProcessed, producerWallet, processorWallet))
	h.cache.animals[2] = domain.CachedAnimal{ID: "2", Owner: "0x111", Processor: "0x222", State: "procesado"}
	h.cache.txs = []domain.PendingTransaction{
		pendingAnimalTx("0x01", domain.TxAnimalProcessed, "1"),
		pendingAnimalTx("0x02", domain.TxAnimalProcessed, "2"),
	}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("a single entity failure must not fail the pass: %v", err)
	}
	if result.Processed != 2 || result.Failed != 1 || result.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	if len(result.Failures) != 1 || result.Failures[0].Hash != "0x01" {
		t.Fatalf("expected failure for 0x01, got %+v", result.Failures)
	}
	if got := h.cache.txStatus("0x02"); got != domain.TxCompleted {
		t.Fatalf("expected 0x02 completed, got %q", got)
	}
}

func TestReconcile_CorrectsEachEntityOncePerPass(t *testing.T) {
	h := newHarness(t)
	h.ledger.putAnimal(animalFixture(5, domain.AnimalProcessed, producerWallet, processorWallet))
	h.cache.animals[5] = domain.CachedAnimal{ID: "5", Owner: "0x111", State: "creado"}
	h.cache.txs = []domain.PendingTransaction{
		pendingAnimalTx("0x51", domain.TxAnimalTransferred, "5"),
		pendingAnimalTx("0x52", domain.TxAnimalProcessed, "5"),
	}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 2 {
		t.Fatalf("expected both transactions completed, got %+v", result)
	}
	if h.cache.animalPatches[5] != 1 {
		t.Fatalf("expected one correction for animal 5, got %d", h.cache.animalPatches[5])
	}
}

func TestReconcile_CorrectsBatchMembers(t *testing.T) {
	h := newHarness(t)
	h.ledger.putBatch(domain.Batch{ID: 3, Owner: producerWallet, Processor: processorWallet, State: domain.BatchTransferred, AnimalIDs: []uint64{1, 2, 3}})
	h.cache.batches[3] = domain.CachedBatch{ID: "3", Owner: "0x111", State: "activo", AnimalIDs: []domain.FlexID{"1", "2"}}
	h.cache.txs = []domain.PendingTransaction{{
		Hash:    "0x33",
		Kind:    domain.TxBatchTransferred,
		Status:  domain.TxPending,
		Payload: domain.TxPayload{BatchID: "3"},
	}}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("expected batch transaction completed, got %+v", result)
	}
	cached := h.cache.batches[3]
	if len(cached.AnimalIDs) != 3 || cached.State != "transferido" || cached.Processor != "0x222" {
		t.Fatalf("expected batch corrected from ledger, got %+v", cached)
	}
}

func TestReconcile_ReportsCacheMutationFailures(t *testing.T) {
	h := newHarness(t)
	h.ledger.putAnimal(animalFixture(6, domain.AnimalProcessed, producerWallet, processorWallet))
	h.cache.animals[6] = domain.CachedAnimal{ID: "6", Owner: "0x111", State: "creado"}
	h.cache.txs = []domain.PendingTransaction{pendingAnimalTx("0x66", domain.TxAnimalProcessed, "6")}
	h.cache.patchErr = errors.New("cache returned 500")

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected failed transaction, got %+v", result)
	}
}

func TestReconcile_IgnoresSettledAndUnrelatedTransactions(t *testing.T) {
	h := newHarness(t)
	completed := pendingAnimalTx("0x70", domain.TxAnimalTransferred, "7")
	completed.Status = domain.TxCompleted
	h.cache.txs = []domain.PendingTransaction{
		completed,
		{Hash: "0x71", Kind: domain.TxCutCertified, Status: domain.TxPending},
		{Hash: "0x72", Kind: domain.TxBatchCreated, Status: domain.TxPending},
	}

	result, err := h.svc.Reconcile(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing to reconcile, got %+v", result)
	}
}

func TestReconcile_RequiresScope(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Reconcile(context.Background(), "  "); !errors.Is(err, ErrScopeRequired) {
		t.Fatalf("expected ErrScopeRequired, got %v", err)
	}
}

func TestReconcile_CompletionDependsOnTransactionKind(t *testing.T) {
	tests := []struct {
		name   string
		kind   domain.TxKind
		state  domain.AnimalState
		status domain.TxStatus
	}{
		{name: "processed kind while animal only transferred", kind: domain.TxAnimalProcessed, state: domain.AnimalTransferred, status: domain.TxPending},
		{name: "processed kind once animal processed", kind: domain.TxAnimalProcessed, state: domain.AnimalProcessed, status: domain.TxCompleted},
		{name: "processed kind once animal certified", kind: domain.TxAnimalProcessed, state: domain.AnimalCertified, status: domain.TxCompleted},
		{name: "transferred kind while animal created", kind: domain.TxAnimalTransferred, state: domain.AnimalCreated, status: domain.TxPending},
		{name: "transferred kind once animal transferred", kind: domain.TxAnimalTransferred, state: domain.AnimalTransferred, status: domain.TxCompleted},
		{name: "created kind once animal exists", kind: domain.TxAnimalCreated, state: domain.AnimalCreated, status: domain.TxCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.putAnimal(animalFixture(8, tt.state, producerWallet, processorWallet))
			h.cache.animals[8] = domain.CachedAnimal{ID: "8", Owner: "0x111", Processor: "0x222", State: tt.state.CacheMarker()}
			h.cache.txs = []domain.PendingTransaction{pendingAnimalTx("0x88", tt.kind, "8")}

			if _, err := h.svc.Reconcile(context.Background(), processorWallet); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := h.cache.txStatus("0x88"); got != tt.status {
				t.Fatalf("expected transaction %q, got %q", tt.status, got)
			}
		})
	}
}

func TestReconcile_BatchCompletionDependsOnTransactionKind(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.TxKind
		state   domain.BatchState
		members []uint64
		added   []domain.FlexID
		status  domain.TxStatus
	}{
		{name: "processed kind while batch transferred", kind: domain.TxBatchProcessed, state: domain.BatchTransferred, members: []uint64{1}, status: domain.TxPending},
		{name: "processed kind once batch processed", kind: domain.TxBatchProcessed, state: domain.BatchProcessed, members: []uint64{1}, status: domain.TxCompleted},
		{name: "transferred kind while batch active", kind: domain.TxBatchTransferred, state: domain.BatchActive, members: []uint64{1}, status: domain.TxPending},
		{name: "transferred kind once batch transferred", kind: domain.TxBatchTransferred, state: domain.BatchTransferred, members: []uint64{1}, status: domain.TxCompleted},
		{name: "created kind once batch exists", kind: domain.TxBatchCreated, state: domain.BatchActive, members: []uint64{1}, status: domain.TxCompleted},
		{name: "append before members land", kind: domain.TxAnimalsAdded, state: domain.BatchActive, members: []uint64{1}, added: []domain.FlexID{"2", "3"}, status: domain.TxPending},
		{name: "append once members land", kind: domain.TxAnimalsAdded, state: domain.BatchActive, members: []uint64{1, 2, 3}, added: []domain.FlexID{"2", "3"}, status: domain.TxCompleted},
		{name: "append without member list", kind: domain.TxAnimalsAdded, state: domain.BatchActive, members: []uint64{1}, status: domain.TxCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ledger.putBatch(domain.Batch{ID: 3, Owner: producerWallet, State: tt.state, AnimalIDs: tt.members})
			h.cache.txs = []domain.PendingTransaction{{
				Hash:    "0x33",
				Kind:    tt.kind,
				Status:  domain.TxPending,
				Payload: domain.TxPayload{BatchID: "3", AnimalIDs: tt.added},
			}}

			if _, err := h.svc.Reconcile(context.Background(), producerWallet); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := h.cache.txStatus("0x33"); got != tt.status {
				t.Fatalf("expected transaction %q, got %q", tt.status, got)
			}
		})
	}
}
