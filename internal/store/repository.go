/**
 * @description
 * Data access layer for payment records produced by the payment facilitator.
 */
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vices1967-beep/beefchain/internal/domain"
)

var ErrPaymentNotFound = errors.New("payment not found")

// PaymentRepository persists payment records.
type PaymentRepository interface {
	InsertPayment(ctx context.Context, record domain.PaymentRecord) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string, txHash string) error
	ListPaymentsByAddress(ctx context.Context, address string, limit int) ([]domain.PaymentRecord, error)
}

// PostgresRepository stores payment records in Postgres.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the payments table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS beefchain_payments (
			id UUID PRIMARY KEY,
			item_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payer TEXT NOT NULL,
			payee TEXT NOT NULL,
			system_wallet TEXT NOT NULL,
			amount BIGINT NOT NULL,
			system_fee BIGINT NOT NULL,
			net_amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			reference TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_beefchain_payments_payer ON beefchain_payments (payer, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_beefchain_payments_payee ON beefchain_payments (payee, created_at DESC);
	`)
	return err
}

func (r *PostgresRepository) InsertPayment(ctx context.Context, record domain.PaymentRecord) error {
	query := `
		INSERT INTO beefchain_payments (
			id, item_id, kind, payer, payee, system_wallet,
			amount, system_fee, net_amount, status, reference, tx_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.ItemID,
		string(record.Kind),
		record.Payer,
		record.Payee,
		record.SystemWallet,
		record.Amount,
		record.SystemFee,
		record.NetAmount,
		record.Status,
		record.Reference,
		record.TxHash,
		record.CreatedAt,
	)
	return err
}

// UpdatePaymentStatus sets the status and, when non-empty, the ledger tx hash.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string, txHash string) error {
	query := `
		UPDATE beefchain_payments
		SET status = $2,
		    tx_hash = CASE WHEN $3 = '' THEN tx_hash ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// ListPaymentsByAddress returns the most recent payments where address is payer or payee.
func (r *PostgresRepository) ListPaymentsByAddress(ctx context.Context, address string, limit int) ([]domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, item_id, kind, payer, payee, system_wallet,
		       amount, system_fee, net_amount, status, reference, tx_hash, created_at
		FROM beefchain_payments
		WHERE payer = $1 OR payee = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, domain.NormalizeAddress(address), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.PaymentRecord{}
	for rows.Next() {
		var record domain.PaymentRecord
		var kind string
		if err := rows.Scan(
			&record.ID,
			&record.ItemID,
			&kind,
			&record.Payer,
			&record.Payee,
			&record.SystemWallet,
			&record.Amount,
			&record.SystemFee,
			&record.NetAmount,
			&record.Status,
			&record.Reference,
			&record.TxHash,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.Kind = domain.PaymentKind(kind)
		records = append(records, record)
	}
	return records, rows.Err()
}

// MemoryRepository keeps payment records in process memory. Used when no
// database is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.PaymentRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]domain.PaymentRecord)}
}

func (r *MemoryRepository) InsertPayment(_ context.Context, record domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *MemoryRepository) UpdatePaymentStatus(_ context.Context, id uuid.UUID, status string, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return ErrPaymentNotFound
	}
	record.Status = status
	if txHash != "" {
		record.TxHash = txHash
	}
	r.records[id] = record
	return nil
}

func (r *MemoryRepository) ListPaymentsByAddress(_ context.Context, address string, limit int) ([]domain.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := []domain.PaymentRecord{}
	for _, record := range r.records {
		if domain.SameAddress(record.Payer, address) || domain.SameAddress(record.Payee, address) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get returns a stored record.
func (r *MemoryRepository) Get(id uuid.UUID) (domain.PaymentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	return record, ok
}
