/**
 * @description
 * Ledger-side models for the livestock traceability contract: animals, batches,
 * cuts and the global counters. Values are decoded from positional contract
 * responses by the ledger reader; the cache keeps denormalized copies of the
 * same entities (see cache.go).
 */
package domain

import "time"

// AnimalState is the lifecycle of an animal as recorded on the ledger.
type AnimalState uint8

const (
	AnimalCreated AnimalState = iota
	AnimalTransferred
	AnimalProcessed
	AnimalCertified
	AnimalExported
)

var animalStateNames = [...]string{"created", "transferred", "processed", "certified", "exported"}

// Cache markers mirror the Spanish vocabulary the cache service stores.
var animalStateMarkers = [...]string{"creado", "transferido", "procesado", "certificado", "exportado"}

func (s AnimalState) Valid() bool {
	return int(s) < len(animalStateNames)
}

func (s AnimalState) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return animalStateNames[s]
}

// CacheMarker returns the estado value the cache uses for this state.
func (s AnimalState) CacheMarker() string {
	if !s.Valid() {
		return ""
	}
	return animalStateMarkers[s]
}

// AnimalStateFromMarker maps a cache estado value back to a lifecycle state.
func AnimalStateFromMarker(marker string) (AnimalState, bool) {
	for i, m := range animalStateMarkers {
		if m == marker {
			return AnimalState(i), true
		}
	}
	return 0, false
}

// BatchState is the lifecycle of a batch as recorded on the ledger.
type BatchState uint8

const (
	BatchActive BatchState = iota
	BatchTransferred
	BatchProcessed
)

var batchStateNames = [...]string{"active", "transferred", "processed"}

var batchStateMarkers = [...]string{"activo", "transferido", "procesado"}

func (s BatchState) Valid() bool {
	return int(s) < len(batchStateNames)
}

func (s BatchState) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return batchStateNames[s]
}

func (s BatchState) CacheMarker() string {
	if !s.Valid() {
		return ""
	}
	return batchStateMarkers[s]
}

// Breed is the enumerated animal breed. Zero is reserved for "unknown".
type Breed uint8

const (
	BreedUnknown Breed = iota
	BreedAngus
	BreedHereford
	BreedBrangus
)

func (b Breed) Valid() bool {
	return b >= BreedAngus && b <= BreedBrangus
}

func (b Breed) String() string {
	switch b {
	case BreedAngus:
		return "Angus"
	case BreedHereford:
		return "Hereford"
	case BreedBrangus:
		return "Brangus"
	default:
		return "Unknown"
	}
}

// Animal is the decoded get_animal_data record.
type Animal struct {
	ID            uint64      `json:"id"`
	Breed         Breed       `json:"breed"`
	BirthDate     time.Time   `json:"birth_date"`
	WeightKg      uint64      `json:"weight_kg"`
	State         AnimalState `json:"state"`
	Owner         string      `json:"owner"`
	Processor     string      `json:"processor"`
	Certifier     string      `json:"certifier"`
	Exporter      string      `json:"exporter"`
	BatchID       uint64      `json:"batch_id"`
	SchemaVersion int         `json:"schema_version"`
}

// HasProcessor reports whether a processor has been assigned.
func (a *Animal) HasProcessor() bool {
	return !IsZeroAddress(a.Processor)
}

// InBatch reports whether the animal already belongs to a batch.
func (a *Animal) InBatch() bool {
	return a.BatchID != 0
}

// Batch is the decoded get_batch_info record with its member list attached.
type Batch struct {
	ID            uint64     `json:"id"`
	Owner         string     `json:"owner"`
	Processor     string     `json:"processor"`
	CreatedAt     time.Time  `json:"created_at"`
	TransferredAt *time.Time `json:"transferred_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	State         BatchState `json:"state"`
	AnimalIDs     []uint64   `json:"animal_ids"`
	AnimalCount   int        `json:"animal_count"`
	// LedgerWeightKg is the aggregate the contract reports; it is not always trustworthy.
	LedgerWeightKg uint64   `json:"ledger_weight_kg,omitempty"`
	Extra          []string `json:"extra,omitempty"`
	SchemaVersion  int      `json:"schema_version"`
}

// SetMembers attaches a member list and keeps AnimalCount derived from it.
func (b *Batch) SetMembers(ids []uint64) {
	b.AnimalIDs = UniqueIDs(ids)
	b.AnimalCount = len(b.AnimalIDs)
}

// Contains reports whether every id is a member of the batch.
func (b *Batch) Contains(ids ...uint64) bool {
	members := make(map[uint64]struct{}, len(b.AnimalIDs))
	for _, id := range b.AnimalIDs {
		members[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := members[id]; !ok {
			return false
		}
	}
	return true
}

// HasProcessor reports whether a processor has been assigned.
func (b *Batch) HasProcessor() bool {
	return !IsZeroAddress(b.Processor)
}

// CutType enumerates the commercial beef cuts.
type CutType uint8

var cutTypeNames = [...]string{
	"",
	"Bife de chorizo",
	"Lomo",
	"Cuadril",
	"Bola de lomo",
	"Colita de cuadril",
	"Entraña",
	"Asado",
	"Vacio",
	"Matambre",
	"Falda",
	"Tapa de asado",
	"Peceto",
	"Roast beef",
	"Paleta",
	"Carnaza",
}

func (c CutType) Valid() bool {
	return c > 0 && int(c) < len(cutTypeNames)
}

func (c CutType) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return cutTypeNames[c]
}

// CutTypeByName resolves a cut type from its display name.
func CutTypeByName(name string) (CutType, bool) {
	for i := 1; i < len(cutTypeNames); i++ {
		if cutTypeNames[i] == name {
			return CutType(i), true
		}
	}
	return 0, false
}

// Cut is the decoded get_info_corte record.
type Cut struct {
	ID            uint64    `json:"id"`
	AnimalID      uint64    `json:"animal_id"`
	CutType       CutType   `json:"cut_type"`
	WeightKg      uint64    `json:"weight_kg"`
	ProcessedAt   time.Time `json:"processed_at"`
	Processor     string    `json:"processor"`
	Certified     bool      `json:"certified"`
	ExportBatch   uint64    `json:"export_batch"`
	Owner         string    `json:"owner"`
	QRHash        string    `json:"qr_hash,omitempty"`
	SchemaVersion int       `json:"schema_version"`
}

// SystemStats mirrors get_system_stats.
type SystemStats struct {
	TotalAnimals     uint64 `json:"total_animals"`
	TotalBatches     uint64 `json:"total_batches"`
	TotalCuts        uint64 `json:"total_cuts"`
	ProcessedAnimals uint64 `json:"processed_animals"`
	NextTokenID      uint64 `json:"next_token_id"`
	NextBatchID      uint64 `json:"next_batch_id"`
	NextLotID        uint64 `json:"next_lot_id"`
}

// ProducerStats mirrors get_producer_stats.
type ProducerStats struct {
	TotalAnimals uint64 `json:"total_animals"`
	TotalBatches uint64 `json:"total_batches"`
	TotalWeight  uint64 `json:"total_weight"`
}
