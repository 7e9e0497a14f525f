package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentKind distinguishes the payments the facilitator settles.
type PaymentKind string

const (
	PaymentAnimalTransfer   PaymentKind = "animal_transfer"
	PaymentBatchTransfer    PaymentKind = "batch_transfer"
	PaymentAnimalAcceptance PaymentKind = "animal_acceptance"
	PaymentBatchAcceptance  PaymentKind = "batch_acceptance"
	PaymentCutsExport       PaymentKind = "cuts_export"
)

// PaymentStatus values.
const (
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentVoided    = "voided"
)

// PaymentRecord is one settled (or voided) payment tied to a ledger item.
type PaymentRecord struct {
	ID           uuid.UUID   `json:"id"`
	ItemID       string      `json:"item_id"`
	Kind         PaymentKind `json:"kind"`
	Payer        string      `json:"payer"`
	Payee        string      `json:"payee"`
	SystemWallet string      `json:"system_wallet"`
	Amount       int64       `json:"amount"`
	SystemFee    int64       `json:"system_fee"`
	NetAmount    int64       `json:"net_amount"`
	Status       string      `json:"status"`
	Reference    string      `json:"reference"`
	TxHash       string      `json:"tx_hash,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PaymentRequest is what the submitter asks the facilitator to settle.
type PaymentRequest struct {
	ItemID string
	Kind   PaymentKind
	Payer  string
	Payee  string
	Amount int64
}
