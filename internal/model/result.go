package model

// ProcessStatus is the caller-visible outcome class of one process call.
type ProcessStatus string

const (
	// StatusCreated means the downstream record was created by this call.
	StatusCreated ProcessStatus = "created"
	// StatusReplayed means a previous call already completed this event
	// and the stored outcome was returned.
	StatusReplayed ProcessStatus = "replayed"
	// StatusPartial means the structured result is durably recorded but
	// the downstream write did not succeed; the event can be retried.
	StatusPartial ProcessStatus = "partial"
)

// DownstreamIDs holds the system-of-record keys created for an event.
type DownstreamIDs struct {
	LeadID    string `json:"lead_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// Empty reports whether no downstream record exists yet.
func (d DownstreamIDs) Empty() bool {
	return d.LeadID == "" && d.ContactID == ""
}

// ProcessResult is returned to the caller of Coordinator.Process.
type ProcessResult struct {
	Status        ProcessStatus `json:"status"`
	DownstreamIDs DownstreamIDs `json:"downstream_ids"`
	CorrelationID string        `json:"correlation_id"`
	Degraded      bool          `json:"degraded,omitempty"`
	Tier          string        `json:"tier,omitempty"`
}

// TierDecision records which extraction tier was chosen for an input
// and why. Persisted alongside the event for auditability.
type TierDecision struct {
	Tier              string  `json:"tier"`
	Model             string  `json:"model"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
	ComplexityScore   float64 `json:"complexity_score"`
	QualityTarget     float64 `json:"quality_target"`
	BudgetConstrained bool    `json:"budget_constrained"`
}
