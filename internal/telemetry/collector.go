package telemetry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-intake/internal/ledger"
)

// MetricsSnapshot holds a point-in-time view of intake health.
type MetricsSnapshot struct {
	// Ledger metrics (within lookback window).
	Total         int     `json:"total"`
	Complete      int     `json:"complete"`
	PartialFailed int     `json:"partial_failed"`
	Pending       int     `json:"pending"`
	FailRate      float64 `json:"fail_rate"`
	Degraded      int     `json:"degraded"`
	ManualReview  int     `json:"manual_review"`

	// Completed events by extraction tier.
	TierCounts map[string]int `json:"tier_counts"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the ledger.
type Collector struct {
	ledger ledger.Ledger
}

// NewCollector creates a new metrics collector.
func NewCollector(l ledger.Ledger) *Collector {
	return &Collector{ledger: l}
}

// Collect gathers a snapshot of intake metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		TierCounts:    make(map[string]int),
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	records, err := c.ledger.List(ctx, ledger.Filter{
		SeenAfter: cutoff,
		Limit:     10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: list ledger")
	}

	snap.Total = len(records)
	for _, r := range records {
		switch r.Status {
		case ledger.StatusComplete:
			snap.Complete++
		case ledger.StatusPartialFailed:
			snap.PartialFailed++
		case ledger.StatusPending:
			snap.Pending++
		}
		if r.Degraded {
			snap.Degraded++
		}
		if r.ManualReview {
			snap.ManualReview++
		}
		if r.Tier != "" {
			snap.TierCounts[r.Tier]++
		}
	}

	finished := snap.Complete + snap.PartialFailed
	if finished > 0 {
		snap.FailRate = float64(snap.PartialFailed) / float64(finished)
	}

	return snap, nil
}
