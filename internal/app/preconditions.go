package app

import (
	"fmt"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

// Operation names used in errors, logs, metrics and events.
const (
	OpCreateAnimal      = "create_animal"
	OpTransferAnimal    = "transfer_animal"
	OpTransferBatch     = "transfer_batch"
	OpCreateBatch       = "create_batch"
	OpAddAnimalsToBatch = "add_animals_to_batch"
	OpProcessAnimal     = "process_animal"
	OpProcessBatch      = "process_batch"
	OpAcceptAnimal      = "accept_animal"
	OpAcceptBatch       = "accept_batch"
	OpCreateCut         = "create_cut"
	OpTransferCuts      = "transfer_cuts"
	OpCertifyCut        = "certify_cut"
	OpGenerateCutQR     = "generate_cut_qr"
)

// reasons accumulates precondition violations for one operation.
type reasons struct {
	op   string
	list []string
}

func newReasons(op string) *reasons {
	return &reasons{op: op}
}

func (r *reasons) addf(format string, args ...interface{}) {
	r.list = append(r.list, fmt.Sprintf(format, args...))
}

func (r *reasons) check(ok bool, format string, args ...interface{}) {
	if !ok {
		r.addf(format, args...)
	}
}

func (r *reasons) err() error {
	if len(r.list) == 0 {
		return nil
	}
	return &domain.PreconditionError{Op: r.op, Reasons: r.list}
}

func checkTransferAnimal(a *domain.Animal, caller, to string) error {
	r := newReasons(OpTransferAnimal)
	r.check(domain.SameAddress(a.Owner, caller), "caller %s is not the owner of animal %d", caller, a.ID)
	r.check(a.State == domain.AnimalCreated, "animal %d is %s and cannot be transferred", a.ID, a.State)
	r.check(!a.InBatch(), "animal %d belongs to batch %d; transfer the batch instead", a.ID, a.BatchID)
	r.check(!a.HasProcessor(), "animal %d is already assigned to processor %s", a.ID, a.Processor)
	r.check(!domain.IsZeroAddress(to), "a destination processor is required")
	r.check(!domain.SameAddress(to, caller), "animal %d cannot be transferred to its owner", a.ID)
	return r.err()
}

func checkTransferBatch(b *domain.Batch, caller, to string) error {
	r := newReasons(OpTransferBatch)
	r.check(domain.SameAddress(b.Owner, caller), "caller %s is not the owner of batch %d", caller, b.ID)
	r.check(b.State == domain.BatchActive, "batch %d is %s and cannot be transferred", b.ID, b.State)
	r.check(b.AnimalCount > 0, "batch %d has no animals", b.ID)
	r.check(!b.HasProcessor(), "batch %d is already assigned to processor %s", b.ID, b.Processor)
	r.check(!domain.IsZeroAddress(to), "a destination processor is required")
	r.check(!domain.SameAddress(to, caller), "batch %d cannot be transferred to its owner", b.ID)
	return r.err()
}

// checkProcessAnimal covers processing and acceptance: both are performed by
// the assigned processor on an animal that has not been processed yet.
func checkProcessAnimal(op string, a *domain.Animal, caller string) error {
	r := newReasons(op)
	r.check(a.HasProcessor() && domain.SameAddress(a.Processor, caller), "animal %d is not assigned to processor %s", a.ID, caller)
	r.check(a.State == domain.AnimalCreated || a.State == domain.AnimalTransferred, "animal %d is %s and cannot be processed", a.ID, a.State)
	return r.err()
}

func checkProcessBatch(op string, b *domain.Batch, caller string) error {
	r := newReasons(op)
	r.check(b.HasProcessor() && domain.SameAddress(b.Processor, caller), "batch %d is not assigned to processor %s", b.ID, caller)
	r.check(b.State == domain.BatchActive || b.State == domain.BatchTransferred, "batch %d is %s and cannot be processed", b.ID, b.State)
	r.check(b.AnimalCount > 0, "batch %d has no animals", b.ID)
	return r.err()
}

func checkCreateCut(a *domain.Animal, caller string, cutType domain.CutType, weightKg uint64) error {
	r := newReasons(OpCreateCut)
	r.check(domain.SameAddress(a.Processor, caller), "animal %d is not assigned to processor %s", a.ID, caller)
	r.check(a.State == domain.AnimalProcessed, "animal %d must be processed before cutting (is %s)", a.ID, a.State)
	r.check(cutType.Valid(), "unknown cut type %d", cutType)
	r.check(weightKg > 0, "cut weight must be positive")
	return r.err()
}

func checkCutOwnedBy(op string, c *domain.Cut, caller string) error {
	r := newReasons(op)
	r.check(domain.SameAddress(c.Processor, caller), "cut %d of animal %d does not belong to processor %s", c.ID, c.AnimalID, caller)
	return r.err()
}

// availability explains why an animal cannot join a batch; empty means available.
func availability(a *domain.Animal, caller string) string {
	switch {
	case !domain.SameAddress(a.Owner, caller):
		return "not owned by caller"
	case a.InBatch():
		return fmt.Sprintf("already in batch %d", a.BatchID)
	case a.State != domain.AnimalCreated:
		return fmt.Sprintf("state is %s", a.State)
	case a.HasProcessor():
		return "already assigned to a processor"
	default:
		return ""
	}
}
