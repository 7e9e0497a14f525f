package app

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

const opProcessorOverview = "processor_overview"

// ProcessorOverview lists the animals and batches assigned to processor that
// still await processing, together with the processor's pending cache
// transactions and weight/value totals. Only the most recent ids up to the
// scan limit are inspected; entities whose ledger read fails are skipped and
// counted in SkippedReads.
func (s *Service) ProcessorOverview(ctx context.Context, processor string) (*domain.ProcessorOverview, error) {
	if domain.IsZeroAddress(processor) {
		return nil, domain.Precondition(opProcessorOverview, "a processor wallet is required")
	}
	stats, err := s.reader.SystemStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opProcessorOverview, err)
	}

	ov := &domain.ProcessorOverview{
		Scope:               domain.NormalizeAddress(processor),
		CacheAvailable:      s.cache.Available(ctx),
		PendingAnimals:      []domain.PendingItem{},
		PendingBatches:      []domain.PendingItem{},
		PendingTransactions: []domain.PendingTransaction{},
	}

	animalIDs := recentIDs(counterTotal(stats.TotalAnimals, stats.NextTokenID), s.opts.OverviewScanLimit)
	batchIDs := recentIDs(counterTotal(stats.TotalBatches, stats.NextBatchID), s.opts.OverviewScanLimit)
	animals := fetchAll(ctx, s.opts.ReconcileConcurrency, animalIDs, s.reader.Animal)
	batches := fetchAll(ctx, s.opts.ReconcileConcurrency, batchIDs, s.reader.Batch)

	w := s.newWeigher(ctx, ov.CacheAvailable, animals)

	for _, id := range animalIDs {
		res := animals[id]
		if res.err != nil {
			ov.SkippedReads++
			continue
		}
		a := res.value
		if a.InBatch() || !domain.SameAddress(a.Processor, processor) {
			continue
		}
		if a.State != domain.AnimalCreated && a.State != domain.AnimalTransferred {
			continue
		}
		kg, estimated := w.animal(id)
		ov.PendingAnimals = append(ov.PendingAnimals, domain.PendingItem{
			Kind:        "animal",
			ID:          id,
			Owner:       domain.NormalizeAddress(a.Owner),
			State:       a.State.String(),
			WeightKg:    kg,
			Estimated:   estimated,
			ValueAmount: s.value(kg),
		})
		ov.TotalWeightKg += kg
	}

	for _, id := range batchIDs {
		res := batches[id]
		if res.err != nil {
			ov.SkippedReads++
			continue
		}
		b := res.value
		if !domain.SameAddress(b.Processor, processor) {
			continue
		}
		if b.State != domain.BatchActive && b.State != domain.BatchTransferred {
			continue
		}
		var (
			kg        float64
			estimated bool
		)
		for _, member := range b.AnimalIDs {
			memberKg, memberEstimated := w.animal(member)
			kg += memberKg
			estimated = estimated || memberEstimated
		}
		ov.PendingBatches = append(ov.PendingBatches, domain.PendingItem{
			Kind:        "batch",
			ID:          id,
			Owner:       domain.NormalizeAddress(b.Owner),
			State:       b.State.String(),
			AnimalIDs:   b.AnimalIDs,
			WeightKg:    kg,
			Estimated:   estimated,
			ValueAmount: s.value(kg),
		})
		ov.TotalWeightKg += kg
	}

	if ov.CacheAvailable {
		ov.CacheStats = s.cache.Stats(ctx)
		for _, tx := range s.cache.Transactions(ctx, processor) {
			if tx.Status == domain.TxPending {
				ov.PendingTransactions = append(ov.PendingTransactions, tx)
			}
		}
	}
	ov.TotalValue = s.value(ov.TotalWeightKg)

	if ov.SkippedReads > 0 {
		log.Printf("level=warn component=overview msg=\"ledger reads skipped\" processor=%s skipped=%d", ov.Scope, ov.SkippedReads)
	}
	return ov, nil
}

func (s *Service) value(kg float64) float64 {
	return math.Round(kg*s.opts.UnitPricePerKg*100) / 100
}

// weigher resolves animal weights in kilograms: cache grams first, then the
// ledger weight, then the fixed estimate. Without a cache every animal is
// estimated.
type weigher struct {
	cacheAvailable bool
	fallbackKg     float64
	cachedGrams    map[uint64]int64
	ledger         map[uint64]lookup[*domain.Animal]
}

func (s *Service) newWeigher(ctx context.Context, cacheAvailable bool, ledger map[uint64]lookup[*domain.Animal]) *weigher {
	w := &weigher{
		cacheAvailable: cacheAvailable,
		fallbackKg:     s.opts.FallbackAnimalWeightKg,
		cachedGrams:    make(map[uint64]int64),
		ledger:         ledger,
	}
	if !cacheAvailable {
		return w
	}
	for _, cached := range s.cache.Animals(ctx) {
		id, ok := cached.ID.Uint64()
		if !ok {
			continue
		}
		if grams := cached.WeightGrams(); grams > 0 {
			w.cachedGrams[id] = grams
		}
	}
	return w
}

func (w *weigher) animal(id uint64) (float64, bool) {
	if !w.cacheAvailable {
		return w.fallbackKg, true
	}
	if grams := w.cachedGrams[id]; grams > 0 {
		return float64(grams) / 1000, false
	}
	if res, ok := w.ledger[id]; ok && res.err == nil && res.value.WeightKg > 0 {
		return float64(res.value.WeightKg), false
	}
	return w.fallbackKg, true
}

// counterTotal prefers the aggregate count and falls back to the next-id counter.
func counterTotal(total, next uint64) uint64 {
	if total > 0 {
		return total
	}
	if next > 1 {
		return next - 1
	}
	return 0
}

// recentIDs returns the newest ids in 1..total, at most limit of them, ascending.
func recentIDs(total uint64, limit int) []uint64 {
	if total == 0 {
		return nil
	}
	start := uint64(1)
	if limit > 0 && total > uint64(limit) {
		start = total - uint64(limit) + 1
	}
	ids := make([]uint64, 0, total-start+1)
	for id := start; id <= total; id++ {
		ids = append(ids, id)
	}
	return ids
}
