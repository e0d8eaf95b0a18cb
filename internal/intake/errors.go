package intake

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-intake/internal/resilience"
)

// Error classes recorded on ledger entries.
const (
	ErrorClassValidation = "validation"
	ErrorClassTransient  = "transient_downstream"
	ErrorClassPermanent  = "permanent_downstream"
)

// ErrInProgress is returned when an event arrives while another worker
// holds the pending ledger entry for the same external id.
var ErrInProgress = eris.New("intake: event is being processed")

// ValidationError reports an event rejected before any downstream call.
type ValidationError struct {
	CorrelationID string
	Fields        []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intake: invalid event [%s]: %s", e.CorrelationID, strings.Join(e.Fields, "; "))
}

// TransientDownstreamError wraps a downstream failure that is expected to
// succeed on a later attempt.
type TransientDownstreamError struct {
	CorrelationID string
	System        string
	Err           error
}

func (e *TransientDownstreamError) Error() string {
	return fmt.Sprintf("intake: transient %s failure [%s]: %v", e.System, e.CorrelationID, e.Err)
}

func (e *TransientDownstreamError) Unwrap() error { return e.Err }

// PermanentDownstreamError wraps a downstream rejection that retrying
// cannot fix. The event is parked for manual review.
type PermanentDownstreamError struct {
	CorrelationID string
	System        string
	Err           error
}

func (e *PermanentDownstreamError) Error() string {
	return fmt.Sprintf("intake: permanent %s failure [%s]: %v", e.System, e.CorrelationID, e.Err)
}

func (e *PermanentDownstreamError) Unwrap() error { return e.Err }

// crmErrorPatterns are Salesforce failure modes worth retrying.
var crmErrorPatterns = []string{
	"unable_to_lock_row",
	"request_limit_exceeded",
	"server_unavailable",
	"service unavailable",
	"connection reset",
	"timeout",
	"temporarily unavailable",
}

// classifyDownstream wraps err as transient or permanent for the given
// system, keyed off the resilience taxonomy plus known CRM error codes.
func classifyDownstream(err error, system, correlationID string) error {
	if err == nil {
		return nil
	}
	if resilience.IsRateLimit(err) || resilience.IsTransient(err) {
		return &TransientDownstreamError{CorrelationID: correlationID, System: system, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range crmErrorPatterns {
		if strings.Contains(msg, pattern) {
			return &TransientDownstreamError{CorrelationID: correlationID, System: system, Err: err}
		}
	}
	return &PermanentDownstreamError{CorrelationID: correlationID, System: system, Err: err}
}

// errorClass maps a classified error to its ledger error class.
func errorClass(err error) string {
	var verr *ValidationError
	if eris.As(err, &verr) {
		return ErrorClassValidation
	}
	var terr *TransientDownstreamError
	if eris.As(err, &terr) {
		return ErrorClassTransient
	}
	var perr *PermanentDownstreamError
	if eris.As(err, &perr) {
		return ErrorClassPermanent
	}
	return ErrorClassTransient
}
