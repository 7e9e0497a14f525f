package domain

import "time"

// ReconcileFailure names one transaction that could not be reconciled.
type ReconcileFailure struct {
	Hash     string `json:"hash"`
	EntityID string `json:"entity_id,omitempty"`
	Reason   string `json:"reason"`
}

// ReconcileResult summarizes one reconciliation pass for a scope.
type ReconcileResult struct {
	Scope     string             `json:"scope"`
	Processed int                `json:"processed"`
	Succeeded int                `json:"succeeded"`
	Corrected int                `json:"corrected"`
	Failed    int                `json:"failed"`
	Unchanged int                `json:"unchanged"`
	Failures  []ReconcileFailure `json:"failures,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Rejection explains why an entity was filtered out of a batch submission.
type Rejection struct {
	AnimalID uint64 `json:"animal_id"`
	Reason   string `json:"reason"`
}

// Submission is the outcome of a confirmed (or in-flight) ledger submission.
type Submission struct {
	Operation string         `json:"operation"`
	TxHash    string         `json:"tx_hash"`
	Confirmed bool           `json:"confirmed"`
	EntityID  uint64         `json:"entity_id,omitempty"`
	Submitted []uint64       `json:"submitted,omitempty"`
	Rejected  []Rejection    `json:"rejected,omitempty"`
	Partial   bool           `json:"partial"`
	Payment   *PaymentRecord `json:"payment,omitempty"`
}

// PendingItem is one ledger entity awaiting a processor's action.
type PendingItem struct {
	Kind        string   `json:"kind"`
	ID          uint64   `json:"id"`
	Owner       string   `json:"owner"`
	State       string   `json:"state"`
	AnimalIDs   []uint64 `json:"animal_ids,omitempty"`
	WeightKg    float64  `json:"weight_kg"`
	Estimated   bool     `json:"weight_estimated"`
	ValueAmount float64  `json:"value"`
}

// ProcessorOverview is the pending view for a processor scope with derived totals.
type ProcessorOverview struct {
	Scope               string               `json:"scope"`
	CacheAvailable      bool                 `json:"cache_available"`
	PendingAnimals      []PendingItem        `json:"pending_animals"`
	PendingBatches      []PendingItem        `json:"pending_batches"`
	PendingTransactions []PendingTransaction `json:"pending_transactions"`
	TotalWeightKg       float64              `json:"total_weight_kg"`
	TotalValue          float64              `json:"total_value"`
	SkippedReads        int                  `json:"skipped_reads"`
	CacheStats          *CacheStats          `json:"cache_stats,omitempty"`
}

// Holding is one animal or batch a producer created, with its cache sync status.
type Holding struct {
	ID         uint64   `json:"id"`
	Owner      string   `json:"owner"`
	State      string   `json:"state"`
	BatchID    uint64   `json:"batch_id,omitempty"`
	AnimalIDs  []uint64 `json:"animal_ids,omitempty"`
	Cached     bool     `json:"cached"`
	CacheState string   `json:"cache_state,omitempty"`
	InSync     bool     `json:"in_sync"`
}

// ProducerOverview is the ledger view of a producer's animals and batches.
type ProducerOverview struct {
	Scope          string        `json:"scope"`
	Stats          ProducerStats `json:"stats"`
	CacheAvailable bool          `json:"cache_available"`
	Animals        []Holding     `json:"animals"`
	Batches        []Holding     `json:"batches"`
	OutOfSync      int           `json:"out_of_sync"`
	SkippedReads   int           `json:"skipped_reads"`
}
