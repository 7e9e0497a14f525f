package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

// State-changing contract entry points.
const (
	EntryCreateAnimal      = "create_animal"
	EntryCreateAnimalBatch = "create_animal_batch"
	EntryAddAnimalsToBatch = "add_animals_to_batch"
	EntryTransferAnimal    = "transfer_animal_to_frigorifico"
	EntryTransferBatch     = "transfer_batch_to_frigorifico"
	EntryProcessAnimal     = "procesar_animal"
	EntryProcessBatch      = "procesar_batch"
	EntryCreateCut         = "crear_corte"
	EntryBatchTransferCuts = "batch_transfer_cortes"
	EntryCertifyCut        = "certify_corte"
	EntryGenerateQRForCut  = "generate_qr_for_corte"
)

// Address marks a calldata argument as a ledger address.
type Address string

// Felt marks a calldata argument that is already felt-encoded (hashes, roles).
type Felt string

// Encode flattens positional arguments into calldata. Integers become decimal
// strings, addresses canonical 0x-hex, and []uint64 collections a length prefix
// followed by the elements.
func Encode(args ...interface{}) ([]string, error) {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case uint64:
			out = append(out, strconv.FormatUint(v, 10))
		case int:
			if v < 0 {
				return nil, fmt.Errorf("argument %d: negative integer %d", i, v)
			}
			out = append(out, strconv.Itoa(v))
		case domain.Breed:
			out = append(out, strconv.FormatUint(uint64(v), 10))
		case domain.CutType:
			out = append(out, strconv.FormatUint(uint64(v), 10))
		case Address:
			if domain.IsZeroAddress(string(v)) {
				return nil, fmt.Errorf("argument %d: zero address", i)
			}
			out = append(out, domain.NormalizeAddress(string(v)))
		case Felt:
			raw := strings.TrimSpace(string(v))
			if _, err := domain.ParseFelt(raw); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out = append(out, raw)
		case []uint64:
			out = append(out, strconv.Itoa(len(v)))
			for _, id := range v {
				out = append(out, strconv.FormatUint(id, 10))
			}
		default:
			return nil, fmt.Errorf("argument %d: unsupported calldata type %T", i, arg)
		}
	}
	return out, nil
}
