package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/internal/ledger"
	"github.com/vices1967-beep/beefchain/pkg/ledgerclient"
	"github.com/vices1967-beep/beefchain/pkg/rabbitmq"
)

// confirmationTimeout bounds the receipt wait so HTTP callers get an answer
// before the router timeout.
const confirmationTimeout = 45 * time.Second

const (
	outcomeRejected    = "rejected"
	outcomeFailed      = "failed"
	outcomeReverted    = "reverted"
	outcomeConfirmed   = "confirmed"
	outcomeUnconfirmed = "unconfirmed"
)

var txHashKeys = []string{"transaction_hash", "tx_hash", "hash", "transactionHash"}

// NewAnimal is the input of CreateAnimal.
type NewAnimal struct {
	MetadataHash string
	Breed        domain.Breed
	BirthDate    time.Time
	WeightKg     uint64
}

type paymentIntent struct {
	acceptance bool
	request    domain.PaymentRequest
}

type invocation struct {
	op        string
	caller    string
	entry     string
	args      []interface{}
	kind      domain.TxKind
	payload   domain.TxPayload
	submitted []uint64
	payment   *paymentIntent
	// afterSubmit refreshes the cache copies the transaction touched.
	afterSubmit func(ctx context.Context, hash string, sub *domain.Submission)
}

// CreateAnimal registers a new animal owned by caller.
func (s *Service) CreateAnimal(ctx context.Context, caller string, req NewAnimal) (*domain.Submission, error) {
	if err := s.guard(ctx, OpCreateAnimal, caller); err != nil {
		return nil, err
	}
	metadata := strings.TrimSpace(req.MetadataHash)
	r := newReasons(OpCreateAnimal)
	r.check(strings.HasPrefix(strings.ToLower(metadata), "0x"), "metadata hash must be 0x-prefixed hex")
	r.check(req.Breed.Valid(), "unknown breed %d", req.Breed)
	r.check(req.WeightKg > 0, "weight must be positive")
	r.check(!req.BirthDate.IsZero() && !req.BirthDate.After(s.now()), "birth date must not be in the future")
	if err := r.err(); err != nil {
		s.metrics.observeSubmission(OpCreateAnimal, outcomeRejected)
		return nil, err
	}

	owner := domain.NormalizeAddress(caller)
	return s.submit(ctx, invocation{
		op:      OpCreateAnimal,
		caller:  caller,
		entry:   ledger.EntryCreateAnimal,
		args:    []interface{}{ledger.Felt(metadata), req.Breed, uint64(req.BirthDate.Unix()), req.WeightKg},
		kind:    domain.TxAnimalCreated,
		payload: domain.TxPayload{From: owner},
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			if !sub.Confirmed {
				log.Printf("level=info component=submitter msg=\"creation unconfirmed; issued id left for reconciliation\" op=%s tx_hash=%s", OpCreateAnimal, hash)
				return
			}
			id, ok := s.lastIssuedID(ctx, OpCreateAnimal, func(st *domain.SystemStats) uint64 { return st.NextTokenID })
			if !ok {
				return
			}
			// Another creation may have advanced the counter; only claim the id
			// when the ledger record is the one this call created.
			a, err := s.reader.Animal(ctx, id)
			if err != nil {
				log.Printf("level=warn component=submitter msg=\"issued animal re-read failed; cache left for reconciler\" animal_id=%d tx_hash=%s err=%v", id, hash, err)
				return
			}
			if !createdAnimalMatches(a, owner, req) {
				log.Printf("level=warn component=submitter msg=\"issued id belongs to another creation; cache left for reconciler\" animal_id=%d owner=%s tx_hash=%s", id, a.Owner, hash)
				return
			}
			sub.EntityID = id
			err = s.cache.CreateAnimal(ctx, domain.CachedAnimal{
				ID:           domain.FlexID(domain.EntityKey(id)),
				Owner:        domain.NormalizeAddress(a.Owner),
				State:        a.State.CacheMarker(),
				LastTxHash:   hash,
				MetadataHash: metadata,
				LedgerData: &domain.CachedLedgerData{
					Breed:   domain.FlexInt(a.Breed),
					WeightG: domain.FlexInt(a.WeightKg * 1000),
					Owner:   domain.NormalizeAddress(a.Owner),
					State:   domain.FlexInt(a.State),
				},
			})
			if err != nil {
				s.cacheFailed("create_animal", id, err)
			}
		},
	})
}

func createdAnimalMatches(a *domain.Animal, owner string, req NewAnimal) bool {
	return domain.SameAddress(a.Owner, owner) &&
		a.Breed == req.Breed &&
		a.WeightKg == req.WeightKg &&
		a.BirthDate.Unix() == req.BirthDate.Unix()
}

// TransferAnimal assigns an owned animal to a processor and settles the transfer payment.
// amount <= 0 uses the configured base price.
func (s *Service) TransferAnimal(ctx context.Context, caller string, animalID uint64, to string, amount int64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpTransferAnimal, caller); err != nil {
		return nil, err
	}
	a, err := s.reader.Animal(ctx, animalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpTransferAnimal, err)
	}
	if err := checkTransferAnimal(a, caller, to); err != nil {
		s.metrics.observeSubmission(OpTransferAnimal, outcomeRejected)
		return nil, err
	}
	if amount <= 0 {
		amount = s.fees.PriceFor(domain.PaymentAnimalTransfer, 1)
	}

	return s.submit(ctx, invocation{
		op:      OpTransferAnimal,
		caller:  caller,
		entry:   ledger.EntryTransferAnimal,
		args:    []interface{}{animalID, ledger.Address(to)},
		kind:    domain.TxAnimalTransferred,
		payload: domain.TxPayload{AnimalID: flexID(animalID), From: domain.NormalizeAddress(caller), To: domain.NormalizeAddress(to), Amount: amount},
		payment: &paymentIntent{request: domain.PaymentRequest{
			ItemID: domain.EntityKey(animalID),
			Kind:   domain.PaymentAnimalTransfer,
			Payer:  caller,
			Payee:  to,
			Amount: amount,
		}},
		submitted: []uint64{animalID},
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = animalID
			s.refreshAnimal(ctx, animalID, hash)
		},
	})
}

// TransferBatch assigns an owned batch to a processor and settles the transfer payment.
func (s *Service) TransferBatch(ctx context.Context, caller string, batchID uint64, to string, amount int64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpTransferBatch, caller); err != nil {
		return nil, err
	}
	b, err := s.reader.Batch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpTransferBatch, err)
	}
	if err := checkTransferBatch(b, caller, to); err != nil {
		s.metrics.observeSubmission(OpTransferBatch, outcomeRejected)
		return nil, err
	}
	if amount <= 0 {
		amount = s.fees.PriceFor(domain.PaymentBatchTransfer, b.AnimalCount)
	}

	return s.submit(ctx, invocation{
		op:      OpTransferBatch,
		caller:  caller,
		entry:   ledger.EntryTransferBatch,
		args:    []interface{}{batchID, ledger.Address(to)},
		kind:    domain.TxBatchTransferred,
		payload: domain.TxPayload{BatchID: flexID(batchID), From: domain.NormalizeAddress(caller), To: domain.NormalizeAddress(to), Amount: amount},
		payment: &paymentIntent{request: domain.PaymentRequest{
			ItemID: domain.EntityKey(batchID),
			Kind:   domain.PaymentBatchTransfer,
			Payer:  caller,
			Payee:  to,
			Amount: amount,
		}},
		submitted: b.AnimalIDs,
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = batchID
			s.refreshBatch(ctx, batchID, hash)
		},
	})
}

// CreateBatch groups the caller's available animals into a new batch. Animals
// that are not available are reported in Rejected and the submission is
// marked Partial; when none are available nothing is submitted.
func (s *Service) CreateBatch(ctx context.Context, caller string, animalIDs []uint64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpCreateBatch, caller); err != nil {
		return nil, err
	}
	available, rejected, err := s.selectAvailable(ctx, OpCreateBatch, caller, animalIDs)
	if err != nil {
		s.metrics.observeSubmission(OpCreateBatch, outcomeRejected)
		return nil, err
	}

	return s.submit(ctx, invocation{
		op:        OpCreateBatch,
		caller:    caller,
		entry:     ledger.EntryCreateAnimalBatch,
		args:      []interface{}{available},
		kind:      domain.TxBatchCreated,
		payload:   domain.TxPayload{From: domain.NormalizeAddress(caller)},
		submitted: available,
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.Rejected = rejected
			sub.Partial = len(rejected) > 0
			if !sub.Confirmed {
				log.Printf("level=info component=submitter msg=\"creation unconfirmed; issued id left for reconciliation\" op=%s tx_hash=%s", OpCreateBatch, hash)
				return
			}
			id, ok := s.lastIssuedID(ctx, OpCreateBatch, func(st *domain.SystemStats) uint64 { return st.NextBatchID })
			if !ok {
				return
			}
			b, err := s.reader.Batch(ctx, id)
			if err != nil {
				log.Printf("level=warn component=submitter msg=\"issued batch re-read failed; cache left for reconciler\" batch_id=%d tx_hash=%s err=%v", id, hash, err)
				return
			}
			if !domain.SameAddress(b.Owner, caller) || !b.Contains(available...) {
				log.Printf("level=warn component=submitter msg=\"issued id belongs to another creation; cache left for reconciler\" batch_id=%d owner=%s tx_hash=%s", id, b.Owner, hash)
				return
			}
			sub.EntityID = id
			s.applyBatchRefresh(ctx, b, hash)
		},
	})
}

// AddAnimalsToBatch appends the caller's available animals to an active batch
// the caller owns, with the same partial semantics as CreateBatch.
func (s *Service) AddAnimalsToBatch(ctx context.Context, caller string, batchID uint64, animalIDs []uint64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpAddAnimalsToBatch, caller); err != nil {
		return nil, err
	}
	b, err := s.reader.Batch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpAddAnimalsToBatch, err)
	}
	r := newReasons(OpAddAnimalsToBatch)
	r.check(domain.SameAddress(b.Owner, caller), "caller %s is not the owner of batch %d", caller, batchID)
	r.check(b.State == domain.BatchActive, "batch %d is %s and cannot take more animals", batchID, b.State)
	r.check(!b.HasProcessor(), "batch %d is already assigned to processor %s", batchID, b.Processor)
	if err := r.err(); err != nil {
		s.metrics.observeSubmission(OpAddAnimalsToBatch, outcomeRejected)
		return nil, err
	}
	available, rejected, err := s.selectAvailable(ctx, OpAddAnimalsToBatch, caller, animalIDs)
	if err != nil {
		s.metrics.observeSubmission(OpAddAnimalsToBatch, outcomeRejected)
		return nil, err
	}

	return s.submit(ctx, invocation{
		op:        OpAddAnimalsToBatch,
		caller:    caller,
		entry:     ledger.EntryAddAnimalsToBatch,
		args:      []interface{}{batchID, available},
		kind:      domain.TxAnimalsAdded,
		payload:   domain.TxPayload{BatchID: flexID(batchID), AnimalIDs: flexIDs(available), From: domain.NormalizeAddress(caller)},
		submitted: available,
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = batchID
			sub.Rejected = rejected
			sub.Partial = len(rejected) > 0
			s.refreshBatch(ctx, batchID, hash)
		},
	})
}

// ProcessAnimal records processing of an animal by its assigned processor.
func (s *Service) ProcessAnimal(ctx context.Context, caller string, animalID uint64) (*domain.Submission, error) {
	return s.processAnimal(ctx, OpProcessAnimal, caller, animalID, nil)
}

// AcceptAnimal settles the acceptance payment from the processor to the owner
// and then processes the animal. amount <= 0 uses the base acceptance price.
func (s *Service) AcceptAnimal(ctx context.Context, caller string, animalID uint64, amount int64) (*domain.Submission, error) {
	return s.processAnimal(ctx, OpAcceptAnimal, caller, animalID, &amount)
}

func (s *Service) processAnimal(ctx context.Context, op, caller string, animalID uint64, amount *int64) (*domain.Submission, error) {
	if err := s.guard(ctx, op, caller); err != nil {
		return nil, err
	}
	a, err := s.reader.Animal(ctx, animalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkProcessAnimal(op, a, caller); err != nil {
		s.metrics.observeSubmission(op, outcomeRejected)
		return nil, err
	}

	inv := invocation{
		op:        op,
		caller:    caller,
		entry:     ledger.EntryProcessAnimal,
		args:      []interface{}{animalID},
		kind:      domain.TxAnimalProcessed,
		payload:   domain.TxPayload{AnimalID: flexID(animalID), From: domain.NormalizeAddress(a.Owner), To: domain.NormalizeAddress(caller)},
		submitted: []uint64{animalID},
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = animalID
			s.refreshAnimal(ctx, animalID, hash)
		},
	}
	if amount != nil {
		price := *amount
		if price <= 0 {
			price = s.fees.PriceFor(domain.PaymentAnimalAcceptance, 1)
		}
		inv.payload.Amount = price
		inv.payment = &paymentIntent{acceptance: true, request: domain.PaymentRequest{
			ItemID: domain.EntityKey(animalID),
			Kind:   domain.PaymentAnimalAcceptance,
			Payer:  caller,
			Payee:  a.Owner,
			Amount: price,
		}}
	}
	return s.submit(ctx, inv)
}

// ProcessBatch records processing of every animal of a batch by its assigned processor.
func (s *Service) ProcessBatch(ctx context.Context, caller string, batchID uint64) (*domain.Submission, error) {
	return s.processBatch(ctx, OpProcessBatch, caller, batchID, nil)
}

// AcceptBatch settles the acceptance payment for every animal in the batch and
// then processes it. amount <= 0 charges the base acceptance price per animal.
func (s *Service) AcceptBatch(ctx context.Context, caller string, batchID uint64, amount int64) (*domain.Submission, error) {
	return s.processBatch(ctx, OpAcceptBatch, caller, batchID, &amount)
}

func (s *Service) processBatch(ctx context.Context, op, caller string, batchID uint64, amount *int64) (*domain.Submission, error) {
	if err := s.guard(ctx, op, caller); err != nil {
		return nil, err
	}
	b, err := s.reader.Batch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkProcessBatch(op, b, caller); err != nil {
		s.metrics.observeSubmission(op, outcomeRejected)
		return nil, err
	}

	inv := invocation{
		op:        op,
		caller:    caller,
		entry:     ledger.EntryProcessBatch,
		args:      []interface{}{batchID},
		kind:      domain.TxBatchProcessed,
		payload:   domain.TxPayload{BatchID: flexID(batchID), From: domain.NormalizeAddress(b.Owner), To: domain.NormalizeAddress(caller)},
		submitted: b.AnimalIDs,
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = batchID
			s.refreshBatch(ctx, batchID, hash)
		},
	}
	if amount != nil {
		price := *amount
		if price <= 0 {
			price = s.fees.PriceFor(domain.PaymentBatchAcceptance, b.AnimalCount)
		}
		inv.payload.Amount = price
		inv.payment = &paymentIntent{acceptance: true, request: domain.PaymentRequest{
			ItemID: domain.EntityKey(batchID),
			Kind:   domain.PaymentBatchAcceptance,
			Payer:  caller,
			Payee:  b.Owner,
			Amount: price,
		}}
	}
	return s.submit(ctx, inv)
}

// guard rejects anonymous callers and enforces the per-wallet submission quota.
// The quota fails open when Redis is unreachable.
func (s *Service) guard(ctx context.Context, op, caller string) error {
	if domain.IsZeroAddress(caller) {
		s.metrics.observeSubmission(op, outcomeRejected)
		return domain.Precondition(op, "a caller wallet is required")
	}
	limit := s.opts.SubmitRateLimitPerMinute
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, submitRateLimitScope, caller, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=submitter msg=\"rate limiter unavailable; allowing submission\" op=%s caller=%s err=%v", op, caller, err)
		return nil
	}
	if count > limit {
		s.metrics.observeSubmission(op, outcomeRejected)
		return fmt.Errorf("%s: %w: retry after %ds", op, domain.ErrRateLimited, retryAfter)
	}
	return nil
}

// selectAvailable splits the requested animals into those the caller can batch
// and rejections with reasons. It fails only when nothing is available or a
// ledger read could not be classified as a rejection.
func (s *Service) selectAvailable(ctx context.Context, op, caller string, animalIDs []uint64) ([]uint64, []domain.Rejection, error) {
	ids := domain.UniqueIDs(animalIDs)
	if len(ids) == 0 {
		return nil, nil, domain.Precondition(op, "at least one animal is required")
	}

	reads := fetchAll(ctx, s.opts.ReconcileConcurrency, ids, s.reader.Animal)
	available := make([]uint64, 0, len(ids))
	var rejected []domain.Rejection
	for _, id := range ids {
		res := reads[id]
		switch {
		case res.err != nil && errors.Is(res.err, domain.ErrNotFound):
			rejected = append(rejected, domain.Rejection{AnimalID: id, Reason: "does not exist"})
		case res.err != nil:
			if errors.Is(res.err, domain.ErrUnavailable) {
				return nil, nil, fmt.Errorf("%s: %w", op, res.err)
			}
			rejected = append(rejected, domain.Rejection{AnimalID: id, Reason: res.err.Error()})
		default:
			if reason := availability(res.value, caller); reason != "" {
				rejected = append(rejected, domain.Rejection{AnimalID: id, Reason: reason})
				continue
			}
			available = append(available, id)
		}
	}

	if len(available) == 0 {
		pe := &domain.PreconditionError{Op: op}
		for _, rej := range rejected {
			pe.Reasons = append(pe.Reasons, fmt.Sprintf("animal %d: %s", rej.AnimalID, rej.Reason))
		}
		return nil, nil, pe
	}
	if len(rejected) > 0 {
		log.Printf("level=info component=submitter msg=\"submitting reduced animal set\" op=%s caller=%s requested=%d available=%d", op, caller, len(ids), len(available))
	}
	return available, rejected, nil
}

func (s *Service) submit(ctx context.Context, inv invocation) (*domain.Submission, error) {
	calldata, err := ledger.Encode(inv.args...)
	if err != nil {
		s.metrics.observeSubmission(inv.op, outcomeRejected)
		return nil, domain.Precondition(inv.op, "invalid arguments: %v", err)
	}

	record, err := s.settlePayment(ctx, inv.payment)
	if err != nil {
		s.metrics.observeSubmission(inv.op, outcomeFailed)
		return nil, fmt.Errorf("%s: payment: %w", inv.op, err)
	}

	resp, err := s.writer.Invoke(ctx, inv.entry, calldata)
	if err != nil {
		s.voidPayment(ctx, record, "")
		s.metrics.observeSubmission(inv.op, outcomeFailed)
		log.Printf("level=error component=submitter msg=\"ledger submission failed\" op=%s caller=%s err=%v", inv.op, inv.caller, err)
		return nil, fmt.Errorf("%s: %w", inv.op, err)
	}
	hash := extractTxHash(resp)
	if hash == "" {
		s.voidPayment(ctx, record, "")
		s.metrics.observeSubmission(inv.op, outcomeFailed)
		log.Printf("level=error component=submitter msg=\"no transaction hash in relayer response\" op=%s caller=%s", inv.op, inv.caller)
		return nil, fmt.Errorf("%s: %w", inv.op, domain.ErrEncodingFatal)
	}

	// The transaction exists from here on; cache bookkeeping must not be cut
	// short by the caller going away.
	bg := context.WithoutCancel(ctx)
	pending := domain.PendingTransaction{
		Hash:      hash,
		Kind:      inv.kind,
		Status:    domain.TxPending,
		Payload:   inv.payload,
		Timestamp: s.now().Format(time.RFC3339),
	}
	if err := s.cache.RegisterTransaction(bg, pending); err != nil {
		s.metrics.cacheMutationFailed("register_transaction")
		log.Printf("level=warn component=submitter msg=\"pending transaction not recorded in cache\" op=%s tx_hash=%s err=%v", inv.op, hash, err)
	}

	confirmed, err := s.confirm(ctx, inv.op, hash)
	if err != nil {
		s.voidPayment(bg, record, hash)
		s.updateTransaction(bg, hash, domain.TxUpdate{Status: domain.TxFailed, Result: err.Error()})
		s.metrics.observeSubmission(inv.op, outcomeReverted)
		return nil, fmt.Errorf("%s: transaction %s: %w", inv.op, hash, err)
	}

	sub := &domain.Submission{
		Operation: inv.op,
		TxHash:    hash,
		Confirmed: confirmed,
		Submitted: inv.submitted,
	}
	if inv.afterSubmit != nil {
		inv.afterSubmit(bg, hash, sub)
	}
	if confirmed {
		s.updateTransaction(bg, hash, domain.TxUpdate{Status: domain.TxCompleted, Result: "confirmed"})
	}
	if record != nil {
		record.TxHash = hash
		if s.payments != nil {
			if err := s.payments.UpdatePaymentStatus(bg, record.ID, record.Status, hash); err != nil {
				log.Printf("level=warn component=submitter msg=\"payment record not linked to transaction\" payment_id=%s tx_hash=%s err=%v", record.ID, hash, err)
			}
		}
		sub.Payment = record
	}

	s.publish(bg, rabbitmq.EventsExchange, rabbitmq.RoutingTransactionConfirmed, rabbitmq.SubmissionEvent{
		EventID:   uuid.New(),
		Operation: inv.op,
		TxHash:    hash,
		Caller:    domain.NormalizeAddress(inv.caller),
		EntityIDs: submissionKeys(sub),
		Confirmed: confirmed,
		Timestamp: s.now(),
	})

	outcome := outcomeUnconfirmed
	if confirmed {
		outcome = outcomeConfirmed
	}
	s.metrics.observeSubmission(inv.op, outcome)
	log.Printf("level=info component=submitter msg=\"ledger submission finished\" op=%s caller=%s tx_hash=%s confirmed=%t", inv.op, inv.caller, hash, confirmed)
	return sub, nil
}

// confirm waits for finality. A revert is returned as an error; any other wait
// failure degrades to the fixed delay and reports the transaction unconfirmed.
func (s *Service) confirm(ctx context.Context, op, hash string) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, confirmationTimeout)
	defer cancel()

	err := s.writer.WaitForTransaction(waitCtx, hash)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ledgerclient.ErrReverted) {
		log.Printf("level=error component=submitter msg=\"transaction reverted\" op=%s tx_hash=%s err=%v", op, hash, err)
		return false, err
	}

	log.Printf("level=warn component=submitter msg=\"confirmation unavailable; waiting fixed delay\" op=%s tx_hash=%s delay=%s err=%v", op, hash, s.opts.ConfirmFallback, err)
	s.metrics.confirmFallback()
	if err := s.sleep(ctx, s.opts.ConfirmFallback); err != nil {
		log.Printf("level=warn component=submitter msg=\"fallback delay interrupted\" op=%s tx_hash=%s err=%v", op, hash, err)
	}
	return false, nil
}

func (s *Service) settlePayment(ctx context.Context, intent *paymentIntent) (*domain.PaymentRecord, error) {
	if intent == nil || s.facilitator == nil {
		return nil, nil
	}
	var (
		record *domain.PaymentRecord
		err    error
	)
	if intent.acceptance {
		record, err = s.facilitator.ProcessAcceptance(ctx, intent.request)
	} else {
		record, err = s.facilitator.ProcessTransfer(ctx, intent.request)
	}
	if err != nil {
		return nil, err
	}
	if s.payments != nil {
		if err := s.payments.InsertPayment(ctx, *record); err != nil {
			log.Printf("level=warn component=submitter msg=\"payment record not persisted\" payment_id=%s err=%v", record.ID, err)
		}
	}
	return record, nil
}

func (s *Service) voidPayment(ctx context.Context, record *domain.PaymentRecord, hash string) {
	if record == nil {
		return
	}
	record.Status = domain.PaymentVoided
	record.TxHash = hash
	if s.payments == nil {
		return
	}
	if err := s.payments.UpdatePaymentStatus(ctx, record.ID, domain.PaymentVoided, hash); err != nil {
		log.Printf("level=warn component=submitter msg=\"payment could not be voided\" payment_id=%s err=%v", record.ID, err)
	}
}

// lastIssuedID reads the counter that was advanced by a create call and
// returns the id it just issued.
func (s *Service) lastIssuedID(ctx context.Context, op string, next func(*domain.SystemStats) uint64) (uint64, bool) {
	stats, err := s.reader.SystemStats(ctx)
	if err != nil {
		log.Printf("level=warn component=submitter msg=\"could not resolve created id\" op=%s err=%v", op, err)
		return 0, false
	}
	n := next(stats)
	if n <= 1 {
		return 0, false
	}
	return n - 1, true
}

func (s *Service) refreshAnimal(ctx context.Context, id uint64, hash string) {
	a, err := s.reader.Animal(ctx, id)
	if err != nil {
		log.Printf("level=warn component=submitter msg=\"animal re-read failed; cache left for reconciler\" animal_id=%d err=%v", id, err)
		return
	}
	if err := s.cache.PatchAnimal(ctx, id, animalCorrection(a, hash)); err != nil {
		s.cacheFailed("patch_animal", id, err)
	}
}

func (s *Service) refreshBatch(ctx context.Context, id uint64, hash string) {
	b, err := s.reader.Batch(ctx, id)
	if err != nil {
		log.Printf("level=warn component=submitter msg=\"batch re-read failed; cache left for reconciler\" batch_id=%d err=%v", id, err)
		return
	}
	s.applyBatchRefresh(ctx, b, hash)
}

// applyBatchRefresh writes a freshly read batch and its members to the cache.
func (s *Service) applyBatchRefresh(ctx context.Context, b *domain.Batch, hash string) {
	id := b.ID
	if err := s.cache.PatchBatch(ctx, id, batchCorrection(b, hash)); err != nil {
		s.cacheFailed("patch_batch", id, err)
	}
	members := fetchAll(ctx, s.opts.ReconcileConcurrency, b.AnimalIDs, s.reader.Animal)
	for _, memberID := range b.AnimalIDs {
		res := members[memberID]
		if res.err != nil {
			log.Printf("level=warn component=submitter msg=\"batch member re-read failed\" batch_id=%d animal_id=%d err=%v", id, memberID, res.err)
			continue
		}
		if err := s.cache.PatchAnimal(ctx, memberID, animalCorrection(res.value, hash)); err != nil {
			s.cacheFailed("patch_animal", memberID, err)
		}
	}
}

func (s *Service) updateTransaction(ctx context.Context, hash string, update domain.TxUpdate) {
	if err := s.cache.UpdateTransaction(ctx, hash, update); err != nil {
		s.metrics.cacheMutationFailed("update_transaction")
		log.Printf("level=warn component=submitter msg=\"cache transaction not updated\" tx_hash=%s status=%s err=%v", hash, update.Status, err)
	}
}

func (s *Service) cacheFailed(mutation string, id uint64, err error) {
	s.metrics.cacheMutationFailed(mutation)
	log.Printf("level=warn component=submitter msg=\"cache mutation failed\" mutation=%s entity_id=%d err=%v", mutation, id, err)
}

// extractTxHash returns the first non-empty hash field of a relayer response,
// looking one level into "result" for JSON-RPC shaped bodies.
func extractTxHash(resp map[string]interface{}) string {
	for _, key := range txHashKeys {
		if v, ok := resp[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if nested, ok := resp["result"].(map[string]interface{}); ok {
		return extractTxHash(nested)
	}
	return ""
}

func submissionKeys(sub *domain.Submission) []string {
	ids := sub.Submitted
	if sub.EntityID != 0 {
		ids = append([]uint64{sub.EntityID}, ids...)
	}
	ids = domain.UniqueIDs(ids)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, domain.EntityKey(id))
	}
	return keys
}

func flexID(id uint64) domain.FlexID {
	return domain.FlexID(strconv.FormatUint(id, 10))
}

func flexIDs(ids []uint64) []domain.FlexID {
	out := make([]domain.FlexID, 0, len(ids))
	for _, id := range ids {
		out = append(out, flexID(id))
	}
	return out
}
