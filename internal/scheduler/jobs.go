/**
 * @description
 * Scheduled job implementations for the BeefChain sync service.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/vices1967-beep/beefchain/internal/domain"
)

// Reconciler runs one reconciliation pass for an address scope.
type Reconciler interface {
	Reconcile(ctx context.Context, scope string) (*domain.ReconcileResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	reconciler Reconciler
	scopes     []string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner. Each scope gets its own pass deadline.
func NewJobs(reconciler Reconciler, scopes []string, timeout time.Duration, logger *slog.Logger) *Jobs {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Jobs{
		reconciler: reconciler,
		scopes:     scopes,
		timeout:    timeout,
		logger:     logger,
	}
}

// ReconcileScopes runs a reconciliation pass for every configured scope. A
// failing scope is logged and does not stop the remaining ones.
func (j *Jobs) ReconcileScopes() {
	if len(j.scopes) == 0 {
		j.logger.Info("no reconcile scopes configured; skipping")
		return
	}
	j.logger.Info("starting cache reconciliation job", "scopes", len(j.scopes))

	failed := 0
	for _, scope := range j.scopes {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		result, err := j.reconciler.Reconcile(ctx, scope)
		cancel()
		if err != nil {
			failed++
			j.logger.Error("reconciliation pass failed", "scope", scope, "error", err)
			continue
		}
		j.logger.Info("reconciliation pass finished",
			"scope", scope,
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"corrected", result.Corrected,
			"failed", result.Failed,
		)
	}

	j.logger.Info("cache reconciliation job finished", "failed_scopes", failed)
}
