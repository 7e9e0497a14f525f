package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

func seedProcessorLedger(h *testHarness) {
	h.ledger.stats = domain.SystemStats{TotalAnimals: 5, TotalBatches: 1}
	h.ledger.putAnimal(animalFixture(1, domain.AnimalCreated, producerWallet, processorWallet))
	h.ledger.putAnimal(animalFixture(2, domain.AnimalTransferred, producerWallet, processorWallet))
	h.ledger.putAnimal(animalFixture(3, domain.AnimalProcessed, producerWallet, processorWallet))
	h.ledger.putAnimal(animalFixture(4, domain.AnimalCreated, producerWallet, strangerWallet))
	member := animalFixture(5, domain.AnimalCreated, producerWallet, processorWallet)
	member.BatchID = 1
	h.ledger.putAnimal(member)
	h.ledger.putBatch(domain.Batch{ID: 1, Owner: producerWallet, Processor: processorWallet, State: domain.BatchTransferred, AnimalIDs: []uint64{5}})
}

func TestProcessorOverview_FallsBackToFixedEstimateWithoutCache(t *testing.T) {
	h := newHarness(t)
	seedProcessorLedger(h)
	h.cache.available = false

	ov, err := h.svc.ProcessorOverview(context.Background(), processorWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.CacheAvailable {
		t.Fatalf("expected cacheAvailable=false")
	}
	if len(ov.PendingAnimals) != 2 || len(ov.PendingBatches) != 1 {
		t.Fatalf("expected 2 animals and 1 batch, got %d and %d", len(ov.PendingAnimals), len(ov.PendingBatches))
	}
	for _, item := range append(ov.PendingAnimals, ov.PendingBatches...) {
		if item.WeightKg != 450 || !item.Estimated {
			t.Fatalf("expected estimated 450 kg, got %+v", item)
		}
	}
	if ov.TotalWeightKg != 1350 || ov.TotalValue != 6075 {
		t.Fatalf("unexpected totals: weight=%v value=%v", ov.TotalWeightKg, ov.TotalValue)
	}
	if len(ov.PendingTransactions) != 0 {
		t.Fatalf("expected no cache transactions while the cache is down")
	}
}

func TestProcessorOverview_PrefersCacheGramsThenLedgerWeight(t *testing.T) {
	h := newHarness(t)
	seedProcessorLedger(h)
	h.cache.animals[1] = domain.CachedAnimal{ID: "1", LedgerData: &domain.CachedLedgerData{WeightG: 380000}}
	h.cache.animals[5] = domain.CachedAnimal{ID: "5", LedgerData: &domain.CachedLedgerData{WeightG: 512500}}
	h.cache.txs = []domain.PendingTransaction{
		pendingAnimalTx("0x01", domain.TxAnimalTransferred, "1"),
		{Hash: "0x02", Kind: domain.TxAnimalProcessed, Status: domain.TxCompleted},
	}

	ov, err := h.svc.ProcessorOverview(context.Background(), processorWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	weights := map[uint64]float64{}
	for _, item := range ov.PendingAnimals {
		weights[item.ID] = item.WeightKg
		if item.Estimated {
			t.Fatalf("expected measured weight for animal %d", item.ID)
		}
	}
	if want := map[uint64]float64{1: 380, 2: 420}; !reflect.DeepEqual(weights, want) {
		t.Fatalf("expected weights %v, got %v", want, weights)
	}
	if ov.PendingBatches[0].WeightKg != 512.5 {
		t.Fatalf("expected batch weight from member cache copy, got %v", ov.PendingBatches[0].WeightKg)
	}
	if ov.TotalWeightKg != 1312.5 {
		t.Fatalf("expected total 1312.5 kg, got %v", ov.TotalWeightKg)
	}
	if len(ov.PendingTransactions) != 1 || ov.PendingTransactions[0].Hash != "0x01" {
		t.Fatalf("expected only pending transactions, got %+v", ov.PendingTransactions)
	}
}

func TestProcessorOverview_CarriesCacheStats(t *testing.T) {
	h := newHarness(t)
	seedProcessorLedger(h)
	h.cache.stats = &domain.CacheStats{TotalAnimals: 5, PendingCount: 2}

	ov, err := h.svc.ProcessorOverview(context.Background(), processorWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.CacheStats == nil || ov.CacheStats.PendingCount != 2 {
		t.Fatalf("expected cache stats in overview, got %+v", ov.CacheStats)
	}

	h.cache.available = false
	ov, err = h.svc.ProcessorOverview(context.Background(), processorWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.CacheStats != nil {
		t.Fatalf("expected no cache stats while the cache is down, got %+v", ov.CacheStats)
	}
}

func TestProcessorOverview_SkipsFailedReads(t *testing.T) {
	h := newHarness(t)
	seedProcessorLedger(h)
	h.ledger.errs[2] = fmt.Errorf("get_animal_data: %w", domain.ErrUnavailable)

	ov, err := h.svc.ProcessorOverview(context.Background(), processorWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.SkippedReads != 1 || len(ov.PendingAnimals) != 1 {
		t.Fatalf("expected one skipped read and one pending animal, got %+v", ov)
	}
}

func TestRecentIDs(t *testing.T) {
	tests := []struct {
		name  string
		total uint64
		limit int
		want  []uint64
	}{
		{name: "empty ledger", total: 0, limit: 10, want: nil},
		{name: "under limit", total: 3, limit: 10, want: []uint64{1, 2, 3}},
		{name: "keeps newest", total: 10, limit: 3, want: []uint64{8, 9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recentIDs(tt.total, tt.limit); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProducerOverview_FlagsCacheCopiesOutOfSync(t *testing.T) {
	h := newHarness(t)
	h.ledger.producerStats["0x111"] = domain.ProducerStats{TotalAnimals: 3, TotalBatches: 1, TotalWeight: 1260}
	h.ledger.producerAnimals["0x111"] = []uint64{1, 2, 3}
	h.ledger.producerBatches["0x111"] = []uint64{1}
	h.ledger.putAnimal(animalFixture(1, domain.AnimalCreated, producerWallet, ""))
	h.ledger.putAnimal(animalFixture(2, domain.AnimalProcessed, producerWallet, processorWallet))
	h.ledger.putAnimal(animalFixture(3, domain.AnimalCreated, producerWallet, ""))
	h.ledger.putBatch(domain.Batch{ID: 1, Owner: producerWallet, State: domain.BatchActive, AnimalIDs: []uint64{3}})

	h.cache.animals[1] = domain.CachedAnimal{ID: "1", Owner: "0x111", State: "creado"}
	h.cache.animals[2] = domain.CachedAnimal{ID: "2", Owner: "0x111", State: "transferido"}
	h.cache.batches[1] = domain.CachedBatch{ID: "1", Owner: "0x111", State: "activo", AnimalIDs: []domain.FlexID{"3"}}

	ov, err := h.svc.ProducerOverview(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.Scope != "0x111" || ov.Stats.TotalWeight != 1260 {
		t.Fatalf("unexpected scope or stats: %+v", ov)
	}
	if len(ov.Animals) != 3 || len(ov.Batches) != 1 {
		t.Fatalf("expected 3 animals and 1 batch, got %d and %d", len(ov.Animals), len(ov.Batches))
	}

	byID := map[uint64]domain.Holding{}
	for _, item := range ov.Animals {
		byID[item.ID] = item
	}
	if !byID[1].InSync || byID[1].CacheState != "created" {
		t.Fatalf("expected animal 1 in sync, got %+v", byID[1])
	}
	if byID[2].InSync || byID[2].CacheState != "transferred" || byID[2].State != "processed" {
		t.Fatalf("expected animal 2 behind the ledger, got %+v", byID[2])
	}
	if byID[3].Cached || byID[3].InSync {
		t.Fatalf("expected animal 3 missing from cache, got %+v", byID[3])
	}
	if !ov.Batches[0].InSync {
		t.Fatalf("expected batch 1 in sync, got %+v", ov.Batches[0])
	}
	if ov.OutOfSync != 2 {
		t.Fatalf("expected 2 entities out of sync, got %d", ov.OutOfSync)
	}
}

func TestProducerOverview_RequiresProducerAndSkipsFailedReads(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.ProducerOverview(context.Background(), "0x0"); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure for zero wallet, got %v", err)
	}

	h.ledger.producerAnimals["0x111"] = []uint64{4, 5}
	h.ledger.putAnimal(animalFixture(5, domain.AnimalCreated, producerWallet, ""))
	h.ledger.errs[4] = fmt.Errorf("get_animal_data: %w", domain.ErrUnavailable)
	h.cache.available = false

	ov, err := h.svc.ProducerOverview(context.Background(), producerWallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ov.SkippedReads != 1 || len(ov.Animals) != 1 || ov.Animals[0].ID != 5 {
		t.Fatalf("expected animal 4 skipped, got %+v", ov)
	}
	if ov.OutOfSync != 0 {
		t.Fatalf("sync status is not judged without a cache, got %d", ov.OutOfSync)
	}
}
