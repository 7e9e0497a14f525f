/**
 * @description
 * This package models the payment facilitator that settles transfer and
 * acceptance payments between producers and processors. The facilitator is a
 * capability behind an interface; the only implementation shipped here is a
 * synthetic one that settles immediately and deterministically. Fees come from
 * an immutable FeeSchedule built once at startup.
 *
 * @dependencies
 * - github.com/google/uuid: Payment identifiers.
 */
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

var (
	ErrInvalidAmount       = errors.New("payment amount must be positive")
	ErrSystemWalletMissing = errors.New("system wallet is not configured")
)

// Facilitator settles payments tied to ledger items.
type Facilitator interface {
	ProcessTransfer(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error)
	ProcessAcceptance(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error)
}

// BasePrices are the default amounts charged when a request carries none.
type BasePrices struct {
	AnimalTransfer   int64
	BatchTransfer    int64
	AnimalAcceptance int64
}

// FeeSchedule is the immutable fee configuration. Construct it with NewFeeSchedule.
type FeeSchedule struct {
	systemWallet  string
	feeBasisPoint int64
	prices        BasePrices
}

// NewFeeSchedule builds a schedule; feePercent is a percentage (2.5 means 2.5%).
func NewFeeSchedule(systemWallet string, feePercent float64, prices BasePrices) (FeeSchedule, error) {
	wallet := strings.TrimSpace(systemWallet)
	if domain.IsZeroAddress(wallet) {
		return FeeSchedule{}, ErrSystemWalletMissing
	}
	if feePercent < 0 || feePercent > 100 {
		return FeeSchedule{}, fmt.Errorf("fee percent %.4f out of range", feePercent)
	}
	return FeeSchedule{
		systemWallet:  domain.NormalizeAddress(wallet),
		feeBasisPoint: int64(feePercent * 100),
		prices:        prices,
	}, nil
}

func (s FeeSchedule) SystemWallet() string { return s.systemWallet }

func (s FeeSchedule) Prices() BasePrices { return s.prices }

// Quote splits amount into the system fee and the net amount paid to the payee.
// The fee is rounded down to whole units.
func (s FeeSchedule) Quote(amount int64) (fee int64, net int64) {
	if amount <= 0 {
		return 0, 0
	}
	fee = amount * s.feeBasisPoint / 10000
	return fee, amount - fee
}

// PriceFor returns the default amount for a payment kind scaled by item count.
func (s FeeSchedule) PriceFor(kind domain.PaymentKind, items int) int64 {
	if items < 1 {
		items = 1
	}
	switch kind {
	case domain.PaymentAnimalTransfer:
		return s.prices.AnimalTransfer
	case domain.PaymentBatchTransfer, domain.PaymentCutsExport:
		return s.prices.BatchTransfer
	case domain.PaymentAnimalAcceptance:
		return s.prices.AnimalAcceptance
	case domain.PaymentBatchAcceptance:
		return s.prices.AnimalAcceptance * int64(items)
	default:
		return 0
	}
}

// MockFacilitator settles every valid request immediately. Clock and ID source
// are injectable so results are reproducible.
type MockFacilitator struct {
	schedule FeeSchedule
	now      func() time.Time
	newID    func() uuid.UUID
}

func NewMockFacilitator(schedule FeeSchedule) *MockFacilitator {
	return &MockFacilitator{
		schedule: schedule,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.New,
	}
}

// WithClock returns a copy using the given clock and ID source.
func (m *MockFacilitator) WithClock(now func() time.Time, newID func() uuid.UUID) *MockFacilitator {
	clone := *m
	if now != nil {
		clone.now = now
	}
	if newID != nil {
		clone.newID = newID
	}
	return &clone
}

func (m *MockFacilitator) ProcessTransfer(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error) {
	return m.settle(ctx, req, "transfer")
}

func (m *MockFacilitator) ProcessAcceptance(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentRecord, error) {
	return m.settle(ctx, req, "accept")
}

func (m *MockFacilitator) settle(ctx context.Context, req domain.PaymentRequest, prefix string) (*domain.PaymentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if domain.IsZeroAddress(req.Payer) || domain.IsZeroAddress(req.Payee) {
		return nil, fmt.Errorf("payment %s for item %s: payer and payee are required", req.Kind, req.ItemID)
	}

	fee, net := m.schedule.Quote(req.Amount)
	id := m.newID()
	return &domain.PaymentRecord{
		ID:           id,
		ItemID:       req.ItemID,
		Kind:         req.Kind,
		Payer:        domain.NormalizeAddress(req.Payer),
		Payee:        domain.NormalizeAddress(req.Payee),
		SystemWallet: m.schedule.SystemWallet(),
		Amount:       req.Amount,
		SystemFee:    fee,
		NetAmount:    net,
		Status:       domain.PaymentCompleted,
		Reference:    fmt.Sprintf("%s_%s_%s", prefix, req.ItemID, id.String()),
		CreatedAt:    m.now(),
	}, nil
}
