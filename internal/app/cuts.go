package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/internal/ledger"
)

// CreateCut records a cut of a processed animal.
func (s *Service) CreateCut(ctx context.Context, caller string, animalID uint64, cutType domain.CutType, weightKg uint64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpCreateCut, caller); err != nil {
		return nil, err
	}
	a, err := s.reader.Animal(ctx, animalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpCreateCut, err)
	}
	if err := checkCreateCut(a, caller, cutType, weightKg); err != nil {
		s.metrics.observeSubmission(OpCreateCut, outcomeRejected)
		return nil, err
	}

	return s.submit(ctx, invocation{
		op:        OpCreateCut,
		caller:    caller,
		entry:     ledger.EntryCreateCut,
		args:      []interface{}{animalID, cutType, weightKg},
		kind:      domain.TxCutCreated,
		payload:   domain.TxPayload{AnimalID: flexID(animalID), From: domain.NormalizeAddress(caller)},
		submitted: []uint64{animalID},
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = animalID
		},
	})
}

// TransferCutsToExporter hands a set of cuts of one animal to an exporter in a
// single transaction. Every cut must belong to the caller and not be exported yet.
func (s *Service) TransferCutsToExporter(ctx context.Context, caller string, animalID uint64, cutIDs []uint64, exporter string) (*domain.Submission, error) {
	if err := s.guard(ctx, OpTransferCuts, caller); err != nil {
		return nil, err
	}
	cutIDs = domain.UniqueIDs(cutIDs)
	r := newReasons(OpTransferCuts)
	r.check(len(cutIDs) > 0, "at least one cut is required")
	r.check(!domain.IsZeroAddress(exporter), "an exporter address is required")
	if err := r.err(); err != nil {
		s.metrics.observeSubmission(OpTransferCuts, outcomeRejected)
		return nil, err
	}

	cuts := fetchAll(ctx, s.opts.ReconcileConcurrency, cutIDs, func(ctx context.Context, cutID uint64) (*domain.Cut, error) {
		return s.reader.Cut(ctx, animalID, cutID)
	})
	for _, cutID := range cutIDs {
		res := cuts[cutID]
		if res.err != nil {
			if errors.Is(res.err, domain.ErrNotFound) {
				r.addf("cut %d of animal %d does not exist", cutID, animalID)
				continue
			}
			return nil, fmt.Errorf("%s: %w", OpTransferCuts, res.err)
		}
		c := res.value
		r.check(domain.SameAddress(c.Processor, caller), "cut %d of animal %d does not belong to processor %s", cutID, animalID, caller)
		r.check(c.ExportBatch == 0, "cut %d of animal %d is already in export batch %d", cutID, animalID, c.ExportBatch)
	}
	if err := r.err(); err != nil {
		s.metrics.observeSubmission(OpTransferCuts, outcomeRejected)
		return nil, err
	}

	return s.submit(ctx, invocation{
		op:        OpTransferCuts,
		caller:    caller,
		entry:     ledger.EntryBatchTransferCuts,
		args:      []interface{}{animalID, cutIDs, ledger.Address(exporter)},
		kind:      domain.TxCutsTransferred,
		payload:   domain.TxPayload{AnimalID: flexID(animalID), CutIDs: flexIDs(cutIDs), From: domain.NormalizeAddress(caller), To: domain.NormalizeAddress(exporter)},
		submitted: cutIDs,
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = animalID
		},
	})
}

// CertifyCut marks a cut as certified. Only holders of the certifier role may
// certify; membership is read from the ledger before anything is submitted.
func (s *Service) CertifyCut(ctx context.Context, caller string, animalID, cutID uint64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpCertifyCut, caller); err != nil {
		return nil, err
	}
	certifier, err := s.reader.HasRole(ctx, ledger.RoleCertifier, caller)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpCertifyCut, err)
	}
	if !certifier {
		s.metrics.observeSubmission(OpCertifyCut, outcomeRejected)
		return nil, domain.Precondition(OpCertifyCut, "caller %s does not hold the certifier role", caller)
	}
	c, err := s.reader.Cut(ctx, animalID, cutID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpCertifyCut, err)
	}
	if c.Certified {
		s.metrics.observeSubmission(OpCertifyCut, outcomeRejected)
		return nil, domain.Precondition(OpCertifyCut, "cut %d of animal %d is already certified", cutID, animalID)
	}
	return s.submitCut(ctx, OpCertifyCut, ledger.EntryCertifyCut, domain.TxCutCertified, caller, animalID, cutID)
}

// GenerateCutQR asks the ledger to derive the QR hash of a cut held by the caller.
func (s *Service) GenerateCutQR(ctx context.Context, caller string, animalID, cutID uint64) (*domain.Submission, error) {
	if err := s.guard(ctx, OpGenerateCutQR, caller); err != nil {
		return nil, err
	}
	c, err := s.reader.Cut(ctx, animalID, cutID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OpGenerateCutQR, err)
	}
	if err := checkCutOwnedBy(OpGenerateCutQR, c, caller); err != nil {
		s.metrics.observeSubmission(OpGenerateCutQR, outcomeRejected)
		return nil, err
	}
	return s.submitCut(ctx, OpGenerateCutQR, ledger.EntryGenerateQRForCut, domain.TxCutQRGenerated, caller, animalID, cutID)
}

func (s *Service) submitCut(ctx context.Context, op, entry string, kind domain.TxKind, caller string, animalID, cutID uint64) (*domain.Submission, error) {
	return s.submit(ctx, invocation{
		op:        op,
		caller:    caller,
		entry:     entry,
		args:      []interface{}{animalID, cutID},
		kind:      kind,
		payload:   domain.TxPayload{AnimalID: flexID(animalID), CutIDs: []domain.FlexID{flexID(cutID)}, From: domain.NormalizeAddress(caller)},
		submitted: []uint64{cutID},
		afterSubmit: func(ctx context.Context, hash string, sub *domain.Submission) {
			sub.EntityID = cutID
		},
	})
}
