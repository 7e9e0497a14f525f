package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TxKind is the kind of a cache-recorded transaction.
type TxKind string

const (
	TxAnimalCreated     TxKind = "animal_created"
	TxAnimalTransferred TxKind = "animal_transferred"
	TxAnimalProcessed   TxKind = "animal_processed"
	TxBatchCreated      TxKind = "batch_created"
	TxAnimalsAdded      TxKind = "animals_added"
	TxBatchTransferred  TxKind = "batch_transferred"
	TxBatchProcessed    TxKind = "batch_processed"
	TxCutCreated        TxKind = "cut_created"
	TxCutsTransferred   TxKind = "cuts_transferred"
	TxCutCertified      TxKind = "cut_certified"
	TxCutQRGenerated    TxKind = "cut_qr_generated"
)

// RefersToAnimal reports whether transactions of this kind reference a single animal.
func (k TxKind) RefersToAnimal() bool {
	return k == TxAnimalTransferred || k == TxAnimalProcessed || k == TxAnimalCreated
}

// RefersToBatch reports whether transactions of this kind reference a batch.
func (k TxKind) RefersToBatch() bool {
	return k == TxBatchTransferred || k == TxBatchProcessed || k == TxBatchCreated || k == TxAnimalsAdded
}

// TxStatus is the cache-side status of a pending transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pendiente"
	TxCompleted TxStatus = "completada"
	TxFailed    TxStatus = "fallida"
)

// FlexID is an identifier the cache may encode as a JSON number or string.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("flex id: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// Uint64 parses the identifier; empty or invalid values report ok=false.
func (f FlexID) Uint64() (uint64, bool) {
	if f == "" {
		return 0, false
	}
	id, err := FeltUint64(string(f))
	if err != nil {
		return 0, false
	}
	return id, true
}

// FlexInt is an integer the cache may encode as a JSON number or numeric string.
// Values that do not parse decode as zero.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(int64(n))
	return nil
}

// TxPayload is the data block of a cache transaction.
type TxPayload struct {
	AnimalID  FlexID   `json:"animalId,omitempty"`
	BatchID   FlexID   `json:"batchId,omitempty"`
	AnimalIDs []FlexID `json:"animalIds,omitempty"`
	CutIDs    []FlexID `json:"cutIds,omitempty"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	State     string   `json:"estado,omitempty"`
	Amount    int64    `json:"amount,omitempty"`
}

// PendingTransaction is a transaction recorded in the cache while awaiting ledger finality.
type PendingTransaction struct {
	Hash      string    `json:"hash"`
	Kind      TxKind    `json:"tipo"`
	Status    TxStatus  `json:"estado"`
	Payload   TxPayload `json:"data"`
	Timestamp string    `json:"timestamp,omitempty"`
	Result    string    `json:"resultado,omitempty"`
}

// CachedLedgerData is the snapshot of ledger fields the cache stores with an animal.
type CachedLedgerData struct {
	Breed     FlexInt `json:"raza,omitempty"`
	WeightG   FlexInt `json:"peso,omitempty"`
	Owner     string  `json:"propietario,omitempty"`
	Processor string  `json:"frigorifico,omitempty"`
	State     FlexInt `json:"estado,omitempty"`
	BatchID   FlexID  `json:"lote_id,omitempty"`
}

// CachedAnimal is the cache's denormalized animal record.
type CachedAnimal struct {
	ID           FlexID            `json:"id"`
	Owner        string            `json:"propietario"`
	Processor    string            `json:"frigorifico,omitempty"`
	State        string            `json:"estado"`
	LastTxHash   string            `json:"tx_hash,omitempty"`
	MetadataHash string            `json:"metadata_hash,omitempty"`
	LedgerData   *CachedLedgerData `json:"starknet_data,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
}

// WeightGrams returns the recorded weight in grams, zero when unknown.
func (a *CachedAnimal) WeightGrams() int64 {
	if a == nil || a.LedgerData == nil {
		return 0
	}
	return int64(a.LedgerData.WeightG)
}

// CachedBatch is the cache's denormalized batch record.
type CachedBatch struct {
	ID         FlexID   `json:"id"`
	Owner      string   `json:"propietario"`
	Processor  string   `json:"frigorifico,omitempty"`
	State      string   `json:"estado"`
	AnimalIDs  []FlexID `json:"animal_ids,omitempty"`
	LastTxHash string   `json:"tx_hash,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
}

// AnimalCorrection is the patch the reconciler and submitter send for an animal.
type AnimalCorrection struct {
	Owner     string `json:"propietario"`
	Processor string `json:"frigorifico"`
	State     string `json:"estado"`
	TxHash    string `json:"tx_hash"`
}

// BatchCorrection is the patch sent for a batch.
type BatchCorrection struct {
	Owner     string   `json:"propietario"`
	Processor string   `json:"frigorifico"`
	State     string   `json:"estado"`
	AnimalIDs []string `json:"animal_ids"`
	TxHash    string   `json:"tx_hash"`
}

// TxUpdate is the patch body for a cache transaction.
type TxUpdate struct {
	Status TxStatus `json:"estado"`
	Result string   `json:"resultado,omitempty"`
}

// CacheStats is the aggregate view returned by the cache service.
type CacheStats struct {
	TotalAnimals      int64 `json:"total_animals"`
	TotalBatches      int64 `json:"total_batches"`
	TotalTransactions int64 `json:"total_transactions"`
	PendingCount      int64 `json:"pending_transactions"`
}
