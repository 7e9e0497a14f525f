package app

import (
	"context"
	"fmt"
	"log"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

const opProducerOverview = "producer_overview"

// ProducerOverview lists the animals and batches producer created on the ledger
// with the contract's per-producer counters, and flags every entity whose cache
// copy is missing or disagrees with the ledger. Lists longer than the scan
// limit are cut to their newest entries.
func (s *Service) ProducerOverview(ctx context.Context, producer string) (*domain.ProducerOverview, error) {
	if domain.IsZeroAddress(producer) {
		return nil, domain.Precondition(opProducerOverview, "a producer wallet is required")
	}
	stats, err := s.reader.ProducerStats(ctx, producer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opProducerOverview, err)
	}
	animalIDs, err := s.reader.AnimalsByProducer(ctx, producer)
	if err != nil {
		return nil, fmt.Errorf("%s: animals: %w", opProducerOverview, err)
	}
	batchIDs, err := s.reader.BatchesByProducer(ctx, producer)
	if err != nil {
		return nil, fmt.Errorf("%s: batches: %w", opProducerOverview, err)
	}
	animalIDs = newest(animalIDs, s.opts.OverviewScanLimit)
	batchIDs = newest(batchIDs, s.opts.OverviewScanLimit)

	ov := &domain.ProducerOverview{
		Scope:          domain.NormalizeAddress(producer),
		Stats:          *stats,
		CacheAvailable: s.cache.Available(ctx),
		Animals:        []domain.Holding{},
		Batches:        []domain.Holding{},
	}

	cachedAnimals := make(map[uint64]domain.CachedAnimal)
	cachedBatches := make(map[uint64]domain.CachedBatch)
	if ov.CacheAvailable {
		for _, a := range s.cache.Animals(ctx) {
			if id, ok := a.ID.Uint64(); ok {
				cachedAnimals[id] = a
			}
		}
		for _, b := range s.cache.Batches(ctx) {
			if id, ok := b.ID.Uint64(); ok {
				cachedBatches[id] = b
			}
		}
	}

	animals := fetchAll(ctx, s.opts.ReconcileConcurrency, animalIDs, s.reader.Animal)
	for _, id := range animalIDs {
		res := animals[id]
		if res.err != nil {
			ov.SkippedReads++
			continue
		}
		a := res.value
		item := domain.Holding{
			ID:      id,
			Owner:   domain.NormalizeAddress(a.Owner),
			State:   a.State.String(),
			BatchID: a.BatchID,
		}
		if cached, ok := cachedAnimals[id]; ok {
			item.Cached = true
			item.CacheState = cached.State
			if state, known := domain.AnimalStateFromMarker(cached.State); known {
				item.CacheState = state.String()
				item.InSync = state == a.State && domain.SameAddress(cached.Owner, a.Owner)
			}
		}
		if ov.CacheAvailable && !item.InSync {
			ov.OutOfSync++
		}
		ov.Animals = append(ov.Animals, item)
	}

	batches := fetchAll(ctx, s.opts.ReconcileConcurrency, batchIDs, s.reader.Batch)
	for _, id := range batchIDs {
		res := batches[id]
		if res.err != nil {
			ov.SkippedReads++
			continue
		}
		b := res.value
		item := domain.Holding{
			ID:        id,
			Owner:     domain.NormalizeAddress(b.Owner),
			State:     b.State.String(),
			AnimalIDs: b.AnimalIDs,
		}
		if cached, ok := cachedBatches[id]; ok {
			item.Cached = true
			item.CacheState = cached.State
			item.InSync = !batchDiverges(&cached, b)
		}
		if ov.CacheAvailable && !item.InSync {
			ov.OutOfSync++
		}
		ov.Batches = append(ov.Batches, item)
	}

	if ov.SkippedReads > 0 || ov.OutOfSync > 0 {
		log.Printf("level=info component=overview msg=\"producer overview built\" producer=%s animals=%d batches=%d out_of_sync=%d skipped=%d",
			ov.Scope, len(ov.Animals), len(ov.Batches), ov.OutOfSync, ov.SkippedReads)
	}
	return ov, nil
}

// newest keeps the last limit ids of a creation-ordered list.
func newest(ids []uint64, limit int) []uint64 {
	if limit > 0 && len(ids) > limit {
		return ids[len(ids)-limit:]
	}
	return ids
}
