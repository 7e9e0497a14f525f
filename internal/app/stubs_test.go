package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/internal/store"
	"github.com/vices1967-beep/beefchain/pkg/payment"
)

const (
	producerWallet  = "0x0111"
	processorWallet = "0x0222"
	strangerWallet  = "0x0333"
)

type ledgerStub struct {
	mu              sync.Mutex
	animals         map[uint64]domain.Animal
	batches         map[uint64]domain.Batch
	cuts            map[[2]uint64]domain.Cut
	stats           domain.SystemStats
	errs            map[uint64]error
	roles           map[string]bool
	roleErr         error
	producerAnimals map[string][]uint64
	producerBatches map[string][]uint64
	producerStats   map[string]domain.ProducerStats
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{
		animals:         make(map[uint64]domain.Animal),
		batches:         make(map[uint64]domain.Batch),
		cuts:            make(map[[2]uint64]domain.Cut),
		errs:            make(map[uint64]error),
		roles:           make(map[string]bool),
		producerAnimals: make(map[string][]uint64),
		producerBatches: make(map[string][]uint64),
		producerStats:   make(map[string]domain.ProducerStats),
	}
}

func (l *ledgerStub) grantRole(role, account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roles[role+"|"+domain.NormalizeAddress(account)] = true
}

func (l *ledgerStub) putAnimal(a domain.Animal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.animals[a.ID] = a
}

func (l *ledgerStub) putBatch(b domain.Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b.SetMembers(b.AnimalIDs)
	l.batches[b.ID] = b
}

func (l *ledgerStub) Animal(ctx context.Context, id uint64) (*domain.Animal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs[id]; err != nil {
		return nil, err
	}
	a, ok := l.animals[id]
	if !ok {
		return nil, fmt.Errorf("animal %d: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (l *ledgerStub) Batch(ctx context.Context, id uint64) (*domain.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
	}
	b.AnimalIDs = append([]uint64(nil), b.AnimalIDs...)
	return &b, nil
}

func (l *ledgerStub) Cut(ctx context.Context, animalID, cutID uint64) (*domain.Cut, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cuts[[2]uint64{animalID, cutID}]
	if !ok {
		return nil, fmt.Errorf("cut %d/%d: %w", animalID, cutID, domain.ErrNotFound)
	}
	return &c, nil
}

func (l *ledgerStub) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := l.stats
	return &stats, nil
}

func (l *ledgerStub) ProducerStats(ctx context.Context, producer string) (*domain.ProducerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := l.producerStats[domain.NormalizeAddress(producer)]
	return &stats, nil
}

func (l *ledgerStub) AnimalsByProducer(ctx context.Context, producer string) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.producerAnimals[domain.NormalizeAddress(producer)]...), nil
}

func (l *ledgerStub) BatchesByProducer(ctx context.Context, producer string) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.producerBatches[domain.NormalizeAddress(producer)]...), nil
}

func (l *ledgerStub) HasRole(ctx context.Context, role, account string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.roleErr != nil {
		return false, l.roleErr
	}
	return l.roles[role+"|"+domain.NormalizeAddress(account)], nil
}

type invokeCall struct {
	entry    string
	calldata []string
}

type writerStub struct {
	mu        sync.Mutex
	calls     []invokeCall
	resp      map[string]interface{}
	invokeErr error
	waitErr   error
	onInvoke  func(entry string, calldata []string)
}

func (w *writerStub) Invoke(ctx context.Context, entry string, calldata []string) (map[string]interface{}, error) {
	w.mu.Lock()
	w.calls = append(w.calls, invokeCall{entry: entry, calldata: append([]string(nil), calldata...)})
	hook := w.onInvoke
	w.mu.Unlock()
	if w.invokeErr != nil {
		return nil, w.invokeErr
	}
	if hook != nil {
		hook(entry, calldata)
	}
	if w.resp != nil {
		return w.resp, nil
	}
	return map[string]interface{}{"transaction_hash": "0xabc"}, nil
}

func (w *writerStub) WaitForTransaction(ctx context.Context, txHash string) error {
	return w.waitErr
}

func (w *writerStub) invocations() []invokeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]invokeCall(nil), w.calls...)
}

// cacheStub behaves like the cache service: patches overwrite the stored copy
// so a re-fetch observes them.
type cacheStub struct {
	mu             sync.Mutex
	available      bool
	stats          *domain.CacheStats
	animals        map[uint64]domain.CachedAnimal
	batches        map[uint64]domain.CachedBatch
	txs            []domain.PendingTransaction
	animalPatches  map[uint64]int
	batchPatches   map[uint64]int
	created        []domain.CachedAnimal
	patchErr       error
	updateErr      error
	registerCalled int
}

func newCacheStub() *cacheStub {
	return &cacheStub{
		available:     true,
		animals:       make(map[uint64]domain.CachedAnimal),
		batches:       make(map[uint64]domain.CachedBatch),
		animalPatches: make(map[uint64]int),
		batchPatches:  make(map[uint64]int),
	}
}

func (c *cacheStub) Available(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

func (c *cacheStub) Stats(ctx context.Context) *domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *cacheStub) Batches(ctx context.Context) []domain.CachedBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CachedBatch, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, b)
	}
	return out
}

func (c *cacheStub) Animals(ctx context.Context) []domain.CachedAnimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CachedAnimal, 0, len(c.animals))
	for _, a := range c.animals {
		out = append(out, a)
	}
	return out
}

func (c *cacheStub) Animal(ctx context.Context, id uint64) *domain.CachedAnimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.animals[id]
	if !ok {
		return nil
	}
	return &a
}

func (c *cacheStub) Batch(ctx context.Context, id uint64) *domain.CachedBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[id]
	if !ok {
		return nil
	}
	return &b
}

func (c *cacheStub) CreateAnimal(ctx context.Context, animal domain.CachedAnimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, animal)
	if id, ok := animal.ID.Uint64(); ok {
		c.animals[id] = animal
	}
	return nil
}

func (c *cacheStub) PatchAnimal(ctx context.Context, id uint64, patch domain.AnimalCorrection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patchErr != nil {
		return c.patchErr
	}
	a, ok := c.animals[id]
	if !ok {
		return errors.New("cache record not found")
	}
	a.Owner, a.Processor, a.State, a.LastTxHash = patch.Owner, patch.Processor, patch.State, patch.TxHash
	c.animals[id] = a
	c.animalPatches[id]++
	return nil
}

func (c *cacheStub) PatchBatch(ctx context.Context, id uint64, patch domain.BatchCorrection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patchErr != nil {
		return c.patchErr
	}
	b, ok := c.batches[id]
	if !ok {
		return errors.New("cache record not found")
	}
	b.Owner, b.Processor, b.State, b.LastTxHash = patch.Owner, patch.Processor, patch.State, patch.TxHash
	b.AnimalIDs = b.AnimalIDs[:0]
	for _, member := range patch.AnimalIDs {
		b.AnimalIDs = append(b.AnimalIDs, domain.FlexID(member))
	}
	c.batches[id] = b
	c.batchPatches[id]++
	return nil
}

func (c *cacheStub) Transactions(ctx context.Context, address string) []domain.PendingTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PendingTransaction(nil), c.txs...)
}

func (c *cacheStub) RegisterTransaction(ctx context.Context, tx domain.PendingTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerCalled++
	c.txs = append(c.txs, tx)
	return nil
}

func (c *cacheStub) UpdateTransaction(ctx context.Context, hash string, update domain.TxUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	for i := range c.txs {
		if c.txs[i].Hash == hash {
			c.txs[i].Status = update.Status
			c.txs[i].Result = update.Result
			return nil
		}
	}
	return errors.New("cache record not found")
}

func (c *cacheStub) txStatus(hash string) domain.TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range c.txs {
		if tx.Hash == hash {
			return tx.Status
		}
	}
	return ""
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

type limiterStub struct {
	count int
	err   error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, 42, nil
}

type testHarness struct {
	svc       *Service
	ledger    *ledgerStub
	writer    *writerStub
	cache     *cacheStub
	payments  *store.MemoryRepository
	publisher *publisherStub
	sleeps    []time.Duration
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	fees, err := payment.NewFeeSchedule("0x0999", 5, payment.BasePrices{AnimalTransfer: 1000, BatchTransfer: 5000, AnimalAcceptance: 800})
	if err != nil {
		t.Fatalf("fee schedule: %v", err)
	}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	facilitator := payment.NewMockFacilitator(fees).WithClock(
		func() time.Time { return fixed },
		func() uuid.UUID { return uuid.MustParse("6f1c1a8e-1d3b-4a8f-9c55-0f2f5b7f9d10") },
	)

	h := &testHarness{
		ledger:    newLedgerStub(),
		writer:    &writerStub{},
		cache:     newCacheStub(),
		payments:  store.NewMemoryRepository(),
		publisher: &publisherStub{},
	}
	h.svc = NewService(h.ledger, h.writer, h.cache, facilitator, fees, h.payments, h.publisher, Options{
		ConfirmFallback: 5 * time.Second,
		UnitPricePerKg:  4.5,
	})
	h.svc.now = func() time.Time { return fixed }
	h.svc.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func animalFixture(id uint64, state domain.AnimalState, owner, processor string) domain.Animal {
	return domain.Animal{
		ID:        id,
		Breed:     1,
		BirthDate: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		WeightKg:  420,
		State:     state,
		Owner:     owner,
		Processor: processor,
	}
}
