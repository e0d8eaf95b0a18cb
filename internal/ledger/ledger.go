// Package ledger implements the durable idempotency ledger that maps an
// inbound event's external identifier to its processing outcome. The
// ledger's insert-if-absent semantics are the linearization point that
// guarantees at-most-once downstream side effects.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-intake/internal/model"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	// StatusPending means processing started but neither write finished.
	StatusPending Status = "pending"
	// StatusComplete means both the durable result write and the
	// downstream system-of-record write succeeded.
	StatusComplete Status = "complete"
	// StatusPartialFailed means the structured result is durable but the
	// downstream write failed; the event is eligible for resumption.
	StatusPartialFailed Status = "partial_failed"
)

// ErrDuplicate is returned by Create when a record for the external id
// already exists. Callers treat this as a replay in progress.
var ErrDuplicate = eris.New("ledger: record already exists")

// ErrNotFound is returned when no record exists for an external id.
var ErrNotFound = eris.New("ledger: record not found")

// Record is the durable processing outcome for one external id.
type Record struct {
	ExternalID    string              `json:"external_id"`
	Status        Status              `json:"status"`
	CorrelationID string              `json:"correlation_id"`
	DownstreamIDs model.DownstreamIDs `json:"downstream_ids"`
	ErrorClass    string              `json:"error_class,omitempty"`
	ErrorSummary  string              `json:"error_summary,omitempty"`
	ManualReview  bool                `json:"manual_review,omitempty"`
	Degraded      bool                `json:"degraded,omitempty"`
	Tier          string              `json:"tier,omitempty"`
	FirstSeenAt   time.Time           `json:"first_seen_at"`
	LastAttemptAt time.Time           `json:"last_attempt_at"`
	AttemptCount  int                 `json:"attempt_count"`
}

// Filter specifies criteria for listing ledger records.
type Filter struct {
	Status     Status    `json:"status,omitempty"`
	SeenBefore time.Time `json:"seen_before,omitempty"`
	SeenAfter  time.Time `json:"seen_after,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Ledger is the persistence interface for idempotency records and the
// cached structured results used for resumption. Records are never
// deleted automatically; Purge exists for manual reconciliation tooling.
type Ledger interface {
	// Create inserts a pending record, atomically failing with
	// ErrDuplicate if one already exists for the external id.
	Create(ctx context.Context, externalID, correlationID string) (*Record, error)
	// Get returns the record for an external id, or ErrNotFound.
	Get(ctx context.Context, externalID string) (*Record, error)
	// Touch bumps the attempt count and last-attempt time.
	Touch(ctx context.Context, externalID string) error
	// MarkComplete finalizes a record after a successful downstream write.
	MarkComplete(ctx context.Context, externalID string, ids model.DownstreamIDs, degraded bool, tier string) error
	// MarkPartialFailed records a failed downstream write with enough
	// detail to reconcile or retry.
	MarkPartialFailed(ctx context.Context, externalID, errorClass, errorSummary string, manualReview bool) error

	// SaveResult durably stores the structured result for an external id.
	// Must succeed before any downstream side effect is attempted.
	SaveResult(ctx context.Context, externalID string, profile *model.CandidateProfile, decision *model.TierDecision) error
	// GetResult returns the cached structured result and the tier
	// decision it was produced under, or ErrNotFound when absent.
	GetResult(ctx context.Context, externalID string) (*model.CandidateProfile, *model.TierDecision, error)

	// List returns records matching the filter, most recent first.
	List(ctx context.Context, f Filter) ([]Record, error)
	// Purge removes a record and its cached result. Manual tooling only.
	Purge(ctx context.Context, externalID string) error

	Migrate(ctx context.Context) error
	Close() error
}
