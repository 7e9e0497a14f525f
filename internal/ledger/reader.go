/**
 * @description
 * Read-only access to the livestock contract. Every read is bounded by a timeout;
 * transport failures and timeouts surface as domain.ErrUnavailable, missing
 * entities as domain.ErrNotFound and unrecognized layouts as
 * domain.ErrMalformedResponse.
 *
 * @dependencies
 * - pkg/ledgerclient: JSON-RPC transport to the Starknet node.
 */
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/pkg/ledgerclient"
)

const DefaultReadTimeout = 15 * time.Second

// Role names as registered by the contract's access control.
const (
	RoleProducer  = "PRODUCER_ROLE"
	RoleProcessor = "FRIGORIFICO_ROLE"
	RoleCertifier = "CERTIFIER_ROLE"
	RoleExporter  = "EXPORTER_ROLE"
)

// Caller issues a read-only contract call and returns the raw felts.
type Caller interface {
	Call(ctx context.Context, entrypoint string, calldata []string) ([]string, error)
}

// Reader decodes contract reads into domain records.
type Reader struct {
	caller  Caller
	timeout time.Duration
}

func NewReader(caller Caller, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Reader{caller: caller, timeout: timeout}
}

func (r *Reader) call(ctx context.Context, entrypoint string, calldata ...string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	values, err := r.caller.Call(callCtx, entrypoint, calldata)
	if err == nil {
		return values, nil
	}
	return nil, classify(entrypoint, err)
}

// classify maps transport and contract errors onto the domain taxonomy.
func classify(entrypoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ledgerclient.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %v", entrypoint, domain.ErrUnavailable, err)
	}
	if errors.Is(err, ledgerclient.ErrMalformed) {
		return fmt.Errorf("%s: %w: %v", entrypoint, domain.ErrMalformedResponse, err)
	}
	var rpcErr *ledgerclient.RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message + " " + string(rpcErr.Data))
		if strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "no existe") {
			return fmt.Errorf("%s: %w: %v", entrypoint, domain.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", entrypoint, err)
}

// Animal reads get_animal_data. Legacy records carry no batch reference, so the
// membership is looked up separately for them.
func (r *Reader) Animal(ctx context.Context, id uint64) (*domain.Animal, error) {
	values, err := r.call(ctx, "get_animal_data", domain.EntityKey(id))
	if err != nil {
		return nil, err
	}
	animal, err := decodeAnimal(id, values)
	if err != nil {
		return nil, err
	}
	if animal.SchemaVersion < 2 {
		batchID, err := r.BatchForAnimal(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("animal %d batch: %w", id, err)
		}
		animal.BatchID = batchID
	}
	return animal, nil
}

// Batch reads get_batch_info and attaches the de-duplicated member list.
func (r *Reader) Batch(ctx context.Context, id uint64) (*domain.Batch, error) {
	values, err := r.call(ctx, "get_batch_info", domain.EntityKey(id))
	if err != nil {
		return nil, err
	}
	batch, err := decodeBatch(id, values)
	if err != nil {
		return nil, err
	}
	members, err := r.AnimalsInBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("batch %d members: %w", id, err)
	}
	batch.SetMembers(members)
	return batch, nil
}

// AnimalsInBatch reads the batch member list.
func (r *Reader) AnimalsInBatch(ctx context.Context, batchID uint64) ([]uint64, error) {
	values, err := r.call(ctx, "get_animals_in_batch", domain.EntityKey(batchID))
	if err != nil {
		return nil, err
	}
	return decodeIDArray("get_animals_in_batch", values)
}

// BatchForAnimal returns the batch an animal belongs to, zero when none.
func (r *Reader) BatchForAnimal(ctx context.Context, animalID uint64) (uint64, error) {
	values, err := r.call(ctx, "get_batch_for_animal", domain.EntityKey(animalID))
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: get_batch_for_animal returned no fields", domain.ErrMalformedResponse)
	}
	id, err := domain.FeltUint64(values[0])
	if err != nil {
		return 0, fmt.Errorf("%w: get_batch_for_animal: %v", domain.ErrMalformedResponse, err)
	}
	return id, nil
}

// Cut reads get_info_corte for one cut of an animal.
func (r *Reader) Cut(ctx context.Context, animalID, cutID uint64) (*domain.Cut, error) {
	values, err := r.call(ctx, "get_info_corte", domain.EntityKey(animalID), domain.EntityKey(cutID))
	if err != nil {
		return nil, err
	}
	return decodeCut(animalID, cutID, values)
}

// SystemStats reads the global counters.
func (r *Reader) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	values, err := r.call(ctx, "get_system_stats")
	if err != nil {
		return nil, err
	}
	return decodeSystemStats(values)
}

// ProducerStats reads per-producer counters.
func (r *Reader) ProducerStats(ctx context.Context, producer string) (*domain.ProducerStats, error) {
	values, err := r.call(ctx, "get_producer_stats", domain.NormalizeAddress(producer))
	if err != nil {
		return nil, err
	}
	if len(values) < 3 {
		return nil, fmt.Errorf("%w: get_producer_stats returned %d fields", domain.ErrMalformedResponse, len(values))
	}
	fr := &fieldReader{entrypoint: "get_producer_stats", values: values}
	stats := &domain.ProducerStats{
		TotalAnimals: fr.uint(0),
		TotalBatches: fr.uint(1),
		TotalWeight:  fr.uint(2),
	}
	if fr.err != nil {
		return nil, fr.err
	}
	return stats, nil
}

// AnimalsByProducer lists the animal ids a producer created.
func (r *Reader) AnimalsByProducer(ctx context.Context, producer string) ([]uint64, error) {
	values, err := r.call(ctx, "get_animals_by_producer", domain.NormalizeAddress(producer))
	if err != nil {
		return nil, err
	}
	return decodeIDArray("get_animals_by_producer", values)
}

// BatchesByProducer lists the batch ids a producer created.
func (r *Reader) BatchesByProducer(ctx context.Context, producer string) ([]uint64, error) {
	values, err := r.call(ctx, "get_batches_by_producer", domain.NormalizeAddress(producer))
	if err != nil {
		return nil, err
	}
	return decodeIDArray("get_batches_by_producer", values)
}

// HasRole checks role membership. role is a role name such as RoleCertifier; the
// contract keys roles by the selector of that name.
func (r *Reader) HasRole(ctx context.Context, role, account string) (bool, error) {
	values, err := r.call(ctx, "has_role", ledgerclient.Selector(role), domain.NormalizeAddress(account))
	if err != nil {
		return false, err
	}
	if len(values) == 0 {
		return false, fmt.Errorf("%w: has_role returned no fields", domain.ErrMalformedResponse)
	}
	v, err := domain.FeltUint64(values[0])
	if err != nil {
		return false, fmt.Errorf("%w: has_role: %v", domain.ErrMalformedResponse, err)
	}
	return v == 1, nil
}
