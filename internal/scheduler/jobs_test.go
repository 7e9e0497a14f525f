package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

type reconcilerStub struct {
	scopes  []string
	failFor map[string]error
}

func (s *reconcilerStub) Reconcile(ctx context.Context, scope string) (*domain.ReconcileResult, error) {
	s.scopes = append(s.scopes, scope)
	if err := s.failFor[scope]; err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a deadline")
	}
	return &domain.ReconcileResult{Scope: scope}, nil
}

func newTestJobs(reconciler Reconciler, scopes []string) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(reconciler, scopes, 0, logger)
}

func TestReconcileScopes_ContinuesAfterFailure(t *testing.T) {
	stub := &reconcilerStub{failFor: map[string]error{"0x111": domain.ErrUnavailable}}
	jobs := newTestJobs(stub, []string{"0x111", "0x222"})

	jobs.ReconcileScopes()

	if len(stub.scopes) != 2 || stub.scopes[1] != "0x222" {
		t.Fatalf("expected both scopes to be reconciled, got %v", stub.scopes)
	}
}

func TestReconcileScopes_SkipsWithoutScopes(t *testing.T) {
	stub := &reconcilerStub{}
	jobs := newTestJobs(stub, nil)

	jobs.ReconcileScopes()

	if len(stub.scopes) != 0 {
		t.Fatalf("expected no reconcile calls, got %v", stub.scopes)
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(newTestJobs(&reconcilerStub{}, nil), logger, "not a schedule")

	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule error, got nil")
	}
}
