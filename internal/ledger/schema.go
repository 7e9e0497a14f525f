package ledger

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

// schema is one known positional layout of a contract response.
type schema struct {
	version int
	fields  int
}

// Known layouts per entry point, oldest first.
var (
	animalSchemas = []schema{{version: 1, fields: 6}, {version: 2, fields: 9}}
	batchSchemas  = []schema{{version: 1, fields: 6}, {version: 2, fields: 8}, {version: 3, fields: 10}}
	cutSchemas    = []schema{{version: 1, fields: 7}, {version: 2, fields: 8}}
	statsSchemas  = []schema{{version: 1, fields: 7}}
)

// selectSchema maps a response length to a known layout. An exact length match wins.
// Responses longer than the newest layout decode as the newest layout and keep the
// surplus; anything else is rejected rather than guessed.
func selectSchema(entrypoint string, schemas []schema, n int) (schema, error) {
	for _, s := range schemas {
		if s.fields == n {
			return s, nil
		}
	}
	newest := schemas[len(schemas)-1]
	if n > newest.fields {
		log.Printf("level=warn component=ledger_reader entrypoint=%s msg=\"response longer than newest schema; surplus kept raw\" fields=%d schema_version=%d", entrypoint, n, newest.version)
		return newest, nil
	}
	return schema{}, fmt.Errorf("%w: %s returned %d fields", domain.ErrMalformedResponse, entrypoint, n)
}

// fieldReader decodes positional felts and remembers the first error.
type fieldReader struct {
	entrypoint string
	values     []string
	err        error
}

func (r *fieldReader) fail(idx int, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s field %d: %v", domain.ErrMalformedResponse, r.entrypoint, idx, err)
	}
}

func (r *fieldReader) uint(idx int) uint64 {
	if idx >= len(r.values) {
		return 0
	}
	v, err := domain.FeltUint64(r.values[idx])
	if err != nil {
		r.fail(idx, err)
		return 0
	}
	return v
}

// enum reads a field backed by a uint8 enumeration. Out-of-range values are
// malformed rather than truncated.
func (r *fieldReader) enum(idx int) uint8 {
	v := r.uint(idx)
	if v > math.MaxUint8 {
		r.fail(idx, fmt.Errorf("enum value %d out of range", v))
		return 0
	}
	return uint8(v)
}

func (r *fieldReader) address(idx int) string {
	if idx >= len(r.values) {
		return domain.ZeroAddress
	}
	if _, err := domain.ParseFelt(r.values[idx]); err != nil {
		r.fail(idx, err)
		return domain.ZeroAddress
	}
	return domain.NormalizeAddress(r.values[idx])
}

func (r *fieldReader) timestamp(idx int) time.Time {
	secs := r.uint(idx)
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

func (r *fieldReader) optionalTimestamp(idx int) *time.Time {
	ts := r.timestamp(idx)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func (r *fieldReader) boolean(idx int) bool {
	return r.uint(idx) != 0
}

func decodeAnimal(id uint64, values []string) (*domain.Animal, error) {
	s, err := selectSchema("get_animal_data", animalSchemas, len(values))
	if err != nil {
		return nil, err
	}
	r := &fieldReader{entrypoint: "get_animal_data", values: values}
	animal := &domain.Animal{
		ID:            id,
		Breed:         domain.Breed(r.enum(0)),
		BirthDate:     r.timestamp(1),
		WeightKg:      r.uint(2),
		Owner:         r.address(4),
		Processor:     r.address(5),
		Certifier:     domain.ZeroAddress,
		Exporter:      domain.ZeroAddress,
		SchemaVersion: s.version,
	}
	state := r.enum(3)
	if s.version >= 2 {
		animal.Certifier = r.address(6)
		animal.Exporter = r.address(7)
		animal.BatchID = r.uint(8)
	}
	if r.err != nil {
		return nil, r.err
	}
	if domain.IsZeroAddress(animal.Owner) {
		return nil, fmt.Errorf("animal %d: %w", id, domain.ErrNotFound)
	}
	animal.State = domain.AnimalState(state)
	if !animal.State.Valid() {
		return nil, fmt.Errorf("%w: animal %d has unknown state %d", domain.ErrMalformedResponse, id, state)
	}
	return animal, nil
}

func decodeBatch(id uint64, values []string) (*domain.Batch, error) {
	s, err := selectSchema("get_batch_info", batchSchemas, len(values))
	if err != nil {
		return nil, err
	}
	r := &fieldReader{entrypoint: "get_batch_info", values: values}
	batch := &domain.Batch{
		ID:            id,
		Owner:         r.address(0),
		Processor:     r.address(1),
		CreatedAt:     r.timestamp(2),
		TransferredAt: r.optionalTimestamp(3),
		ProcessedAt:   r.optionalTimestamp(4),
		SchemaVersion: s.version,
	}
	state := r.enum(5)
	if s.version >= 2 {
		// Count is re-derived from the member list; only the weight aggregate is kept.
		batch.LedgerWeightKg = r.uint(7)
	}
	// Fields beyond the selected layout are kept raw for later schema versions.
	if len(values) > s.fields {
		batch.Extra = append([]string(nil), values[s.fields:]...)
	}
	if r.err != nil {
		return nil, r.err
	}
	if domain.IsZeroAddress(batch.Owner) {
		return nil, fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
	}
	batch.State = domain.BatchState(state)
	if !batch.State.Valid() {
		return nil, fmt.Errorf("%w: batch %d has unknown state %d", domain.ErrMalformedResponse, id, state)
	}
	return batch, nil
}

func decodeCut(animalID, cutID uint64, values []string) (*domain.Cut, error) {
	s, err := selectSchema("get_info_corte", cutSchemas, len(values))
	if err != nil {
		return nil, err
	}
	r := &fieldReader{entrypoint: "get_info_corte", values: values}
	cut := &domain.Cut{
		ID:            cutID,
		AnimalID:      animalID,
		CutType:       domain.CutType(r.enum(0)),
		WeightKg:      r.uint(1),
		ProcessedAt:   r.timestamp(2),
		Processor:     r.address(3),
		Certified:     r.boolean(4),
		ExportBatch:   r.uint(5),
		Owner:         r.address(6),
		SchemaVersion: s.version,
	}
	if s.version >= 2 {
		if qr := values[7]; !domain.IsZeroAddress(qr) {
			cut.QRHash = domain.NormalizeAddress(qr)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if domain.IsZeroAddress(cut.Owner) && domain.IsZeroAddress(cut.Processor) {
		return nil, fmt.Errorf("cut %d of animal %d: %w", cutID, animalID, domain.ErrNotFound)
	}
	return cut, nil
}

func decodeSystemStats(values []string) (*domain.SystemStats, error) {
	if _, err := selectSchema("get_system_stats", statsSchemas, len(values)); err != nil {
		return nil, err
	}
	r := &fieldReader{entrypoint: "get_system_stats", values: values}
	stats := &domain.SystemStats{
		TotalAnimals:     r.uint(0),
		TotalBatches:     r.uint(1),
		TotalCuts:        r.uint(2),
		ProcessedAnimals: r.uint(3),
		NextTokenID:      r.uint(4),
		NextBatchID:      r.uint(5),
		NextLotID:        r.uint(6),
	}
	if r.err != nil {
		return nil, r.err
	}
	return stats, nil
}

// decodeIDArray decodes a length-prefixed array [n, id_1..id_n]. The prefix must
// equal the number of elements that follow; a mismatch is flagged for review
// instead of guessing which element is metadata.
func decodeIDArray(entrypoint string, values []string) ([]uint64, error) {
	if len(values) == 0 {
		return []uint64{}, nil
	}
	r := &fieldReader{entrypoint: entrypoint, values: values}
	n := r.uint(0)
	if r.err != nil {
		return nil, r.err
	}
	if n != uint64(len(values)-1) {
		log.Printf("level=warn component=ledger_reader entrypoint=%s msg=\"length prefix mismatch; flagged for manual review\" prefix=%d elements=%d", entrypoint, n, len(values)-1)
		return nil, fmt.Errorf("%w: %s length prefix %d does not match %d elements", domain.ErrMalformedResponse, entrypoint, n, len(values)-1)
	}
	ids := make([]uint64, 0, n)
	for i := 1; i < len(values); i++ {
		ids = append(ids, r.uint(i))
	}
	if r.err != nil {
		return nil, r.err
	}
	unique := domain.UniqueIDs(ids)
	if len(unique) != len(ids) {
		log.Printf("level=warn component=ledger_reader entrypoint=%s msg=\"duplicate ids collapsed\" received=%d unique=%d", entrypoint, len(ids), len(unique))
	}
	return unique, nil
}
