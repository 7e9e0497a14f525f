package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

func TestMemoryRepositoryListsByAddressNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, payee := range []string{"0xabc", "0xabc", "0xdef"} {
		err := repo.InsertPayment(ctx, domain.PaymentRecord{
			ID:        uuid.New(),
			ItemID:    domain.EntityKey(uint64(i + 1)),
			Payer:     "0x1",
			Payee:     payee,
			Status:    domain.PaymentCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	records, err := repo.ListPaymentsByAddress(ctx, "0x0ABC", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ItemID != "2" {
		t.Fatalf("expected newest first, got item %s", records[0].ItemID)
	}

	limited, _ := repo.ListPaymentsByAddress(ctx, "0x1", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemoryRepositoryUpdateStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id := uuid.New()
	_ = repo.InsertPayment(ctx, domain.PaymentRecord{ID: id, Status: domain.PaymentCompleted, TxHash: "0xaa"})

	if err := repo.UpdatePaymentStatus(ctx, id, domain.PaymentVoided, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record, _ := repo.Get(id)
	if record.Status != domain.PaymentVoided || record.TxHash != "0xaa" {
		t.Fatalf("unexpected record %+v", record)
	}

	if err := repo.UpdatePaymentStatus(ctx, uuid.New(), domain.PaymentVoided, ""); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
