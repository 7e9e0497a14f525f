/**
 * @description
 * Error taxonomy shared by the ledger reader, cache client and submitter.
 * Callers branch on these with errors.Is; wrapped errors keep the original
 * lower-layer message so it can be surfaced to the initiating action.
 */
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable covers network failures and timeouts talking to the ledger or the cache.
	ErrUnavailable = errors.New("service unavailable")
	// ErrNotFound means the identifier has no ledger record (never created).
	ErrNotFound = errors.New("entity not found")
	// ErrMalformedResponse means the ledger response matches no known schema version.
	ErrMalformedResponse = errors.New("malformed ledger response")
	// ErrPreconditionFailed is returned when an ownership, state or duplication check fails before submission.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrEncodingFatal means no transaction hash could be extracted from a submission response.
	ErrEncodingFatal = errors.New("transaction hash missing from submission response")
	// ErrRateLimited is returned when the caller exceeded the submission quota.
	ErrRateLimited = errors.New("too many submissions")
)

// PreconditionError carries the human-readable reasons a submission was refused.
type PreconditionError struct {
	Op      string
	Reasons []string
}

func (e *PreconditionError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, ErrPreconditionFailed.Error())
	}
	return fmt.Sprintf("%s: %s", e.Op, strings.Join(e.Reasons, "; "))
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// Precondition builds a PreconditionError for op with a single formatted reason.
func Precondition(op string, format string, args ...interface{}) error {
	return &PreconditionError{Op: op, Reasons: []string{fmt.Sprintf(format, args...)}}
}
