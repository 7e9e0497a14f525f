/**
 * @description
 * This file contains the core business logic of the BeefChain sync service. The
 * `Service` struct coordinates the ledger reader, the relayer that submits
 * state-changing calls, the off-chain cache, the payment facilitator and the
 * message broker.
 *
 * Key features:
 * - Reconciler: closes pending cache transactions and corrects cache copies from ledger truth.
 * - Transaction Submitter: precondition check, submission and confirmation for every contract write.
 * - Processor overview: pending animals and batches with derived weight and value totals.
 * - Producer overview: a producer's animals and batches checked against their cache copies.
 *
 * @dependencies
 * - internal/domain, internal/ledger, internal/store: Domain models, calldata and payment persistence.
 * - pkg/payment: Payment facilitator capability and fee schedule.
 * - golang.org/x/sync/errgroup: Bounded concurrent ledger lookups.
 */

package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/internal/store"
	"github.com/vices1967-beep/beefchain/pkg/payment"
)

const (
	defaultConfirmFallback = 5 * time.Second
	defaultConcurrency     = 4
	defaultScanLimit       = 200
	defaultFallbackWeight  = 450.0
	submitRateLimitScope   = "ledger_submit"
)

// LedgerReader is the read side of the livestock contract.
type LedgerReader interface {
	Animal(ctx context.Context, id uint64) (*domain.Animal, error)
	Batch(ctx context.Context, id uint64) (*domain.Batch, error)
	Cut(ctx context.Context, animalID, cutID uint64) (*domain.Cut, error)
	SystemStats(ctx context.Context) (*domain.SystemStats, error)
	ProducerStats(ctx context.Context, producer string) (*domain.ProducerStats, error)
	AnimalsByProducer(ctx context.Context, producer string) ([]uint64, error)
	BatchesByProducer(ctx context.Context, producer string) ([]uint64, error)
	HasRole(ctx context.Context, role, account string) (bool, error)
}

// LedgerWriter submits state-changing calls and awaits their finality.
type LedgerWriter interface {
	Invoke(ctx context.Context, entrypoint string, calldata []string) (map[string]interface{}, error)
	WaitForTransaction(ctx context.Context, txHash string) error
}

// CacheStore is the off-chain cache. Reads never fail; mutations report errors.
type CacheStore interface {
	Available(ctx context.Context) bool
	Stats(ctx context.Context) *domain.CacheStats
	Animals(ctx context.Context) []domain.CachedAnimal
	Animal(ctx context.Context, id uint64) *domain.CachedAnimal
	Batches(ctx context.Context) []domain.CachedBatch
	Batch(ctx context.Context, id uint64) *domain.CachedBatch
	CreateAnimal(ctx context.Context, animal domain.CachedAnimal) error
	PatchAnimal(ctx context.Context, id uint64, patch domain.AnimalCorrection) error
	PatchBatch(ctx context.Context, id uint64, patch domain.BatchCorrection) error
	Transactions(ctx context.Context, address string) []domain.PendingTransaction
	RegisterTransaction(ctx context.Context, tx domain.PendingTransaction) error
	UpdateTransaction(ctx context.Context, hash string, update domain.TxUpdate) error
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// SubmissionRateLimiter counts submissions per subject inside a window.
type SubmissionRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options tunes the service; zero values fall back to defaults.
type Options struct {
	ConfirmFallback          time.Duration
	ReconcileConcurrency     int
	OverviewScanLimit        int
	FallbackAnimalWeightKg   float64
	UnitPricePerKg           float64
	SubmitRateLimitPerMinute int
}

// Service provides the core business logic.
type Service struct {
	reader      LedgerReader
	writer      LedgerWriter
	cache       CacheStore
	facilitator payment.Facilitator
	fees        payment.FeeSchedule
	payments    store.PaymentRepository
	publisher   EventPublisher
	limiter     SubmissionRateLimiter
	metrics     *Metrics
	opts        Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewService creates a new service instance. publisher may be nil.
func NewService(
	reader LedgerReader,
	writer LedgerWriter,
	cache CacheStore,
	facilitator payment.Facilitator,
	fees payment.FeeSchedule,
	payments store.PaymentRepository,
	publisher EventPublisher,
	opts Options,
) *Service {
	if opts.ConfirmFallback <= 0 {
		opts.ConfirmFallback = defaultConfirmFallback
	}
	if opts.ReconcileConcurrency <= 0 {
		opts.ReconcileConcurrency = defaultConcurrency
	}
	if opts.OverviewScanLimit <= 0 {
		opts.OverviewScanLimit = defaultScanLimit
	}
	if opts.FallbackAnimalWeightKg <= 0 {
		opts.FallbackAnimalWeightKg = defaultFallbackWeight
	}
	return &Service{
		reader:      reader,
		writer:      writer,
		cache:       cache,
		facilitator: facilitator,
		fees:        fees,
		payments:    payments,
		publisher:   publisher,
		opts:        opts,
		sleep:       sleepContext,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetSubmissionRateLimiter enables the distributed submission limit.
func (s *Service) SetSubmissionRateLimiter(limiter SubmissionRateLimiter) {
	s.limiter = limiter
}

// SetMetrics attaches Prometheus collectors.
func (s *Service) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

func (s *Service) publish(ctx context.Context, exchange, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// ListPayments returns the recent payment records where address paid or was paid.
func (s *Service) ListPayments(ctx context.Context, address string, limit int) ([]domain.PaymentRecord, error) {
	if s.payments == nil {
		return []domain.PaymentRecord{}, nil
	}
	return s.payments.ListPaymentsByAddress(ctx, strings.TrimSpace(address), limit)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
