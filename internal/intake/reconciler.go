package intake

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/recruit-intake/internal/ledger"
	"github.com/sells-group/recruit-intake/internal/model"
	"github.com/sells-group/recruit-intake/internal/resilience"
	"github.com/sells-group/recruit-intake/pkg/salesforce"
)

// ReconcilerOptions tune a reconciliation sweep.
type ReconcilerOptions struct {
	// MinAge is how old a partial failure must be before the sweep picks
	// it up, so it does not race an in-flight retry. Default: 5m.
	MinAge time.Duration
	// EscalateAfter parks events that have been failing this long for
	// manual review instead of retrying again. Default: 24h.
	EscalateAfter time.Duration
	// StalePendingAfter is how long an entry may sit pending before the
	// sweep treats its worker as dead and re-drives it. Default: 30m.
	StalePendingAfter time.Duration
	// Concurrency bounds parallel re-drives. Default: 4.
	Concurrency int
	// BatchSize bounds how many records one sweep examines. Default: 200.
	BatchSize int
	// FlagDegraded marks leads resumed from degraded extractions as cold
	// in the CRM so a recruiter looks at them.
	FlagDegraded bool
}

func (o *ReconcilerOptions) withDefaults() {
	if o.MinAge <= 0 {
		o.MinAge = 5 * time.Minute
	}
	if o.EscalateAfter <= 0 {
		o.EscalateAfter = 24 * time.Hour
	}
	if o.StalePendingAfter <= 0 {
		o.StalePendingAfter = 30 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Examined  int `json:"examined"`
	Resumed   int `json:"resumed"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Flagged   int `json:"flagged"`
}

// Reconciler sweeps the ledger for partially failed events and re-drives
// their CRM writes from the cached extraction results.
type Reconciler struct {
	ledger   ledger.Ledger
	crm      CRM
	sf       salesforce.Client
	invoker  *resilience.Invoker
	notifier Notifier
	opts     ReconcilerOptions

	// breaker stops a sweep from hammering Salesforce once consecutive
	// transient failures show it is down. Skipped records keep their
	// partial_failed entry and are retried by the next sweep.
	breaker *resilience.CircuitBreaker

	now func() time.Time
}

// NewReconciler builds a sweep over the given ledger and CRM. sf may be
// nil when degraded-lead flagging is disabled.
func NewReconciler(led ledger.Ledger, crm CRM, sf salesforce.Client, inv *resilience.Invoker, notifier Notifier, opts ReconcilerOptions) *Reconciler {
	opts.withDefaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = func(err error) bool {
		var terr *TransientDownstreamError
		return eris.As(classifyAsDownstream(err, ""), &terr)
	}
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("reconcile: salesforce circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Reconciler{
		ledger:   led,
		crm:      crm,
		sf:       sf,
		invoker:  inv,
		notifier: notifier,
		opts:     opts,
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
		now:      time.Now,
	}
}

// Run executes one reconciliation sweep.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	now := r.now().UTC()
	records, err := r.ledger.List(ctx, ledger.Filter{
		Status:     ledger.StatusPartialFailed,
		SeenBefore: now.Add(-r.opts.MinAge),
		Limit:      r.opts.BatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list partial failures")
	}

	// Entries stuck pending past the stale window belong to workers that
	// died mid-flight; they re-drive the same way parked entries do.
	if remaining := r.opts.BatchSize - len(records); remaining > 0 {
		stale, err := r.ledger.List(ctx, ledger.Filter{
			Status:     ledger.StatusPending,
			SeenBefore: now.Add(-r.opts.StalePendingAfter),
			Limit:      remaining,
		})
		if err != nil {
			return nil, eris.Wrap(err, "reconcile: list stale pending")
		}
		records = append(records, stale...)
	}

	report := &ReconcileReport{}
	var mu sync.Mutex
	var degradedLeads []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for _, rec := range records {
		if rec.ManualReview {
			continue
		}
		rec := rec
		report.Examined++

		g.Go(func() error {
			outcome, leadID := r.redrive(gctx, &rec, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeResumed:
				report.Resumed++
				if leadID != "" {
					degradedLeads = append(degradedLeads, leadID)
				}
			case outcomeEscalated:
				report.Escalated++
			case outcomeFailed:
				report.Failed++
			case outcomeSkipped:
				report.Skipped++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	if r.opts.FlagDegraded && len(degradedLeads) > 0 && r.sf != nil {
		flagged, err := r.flagDegraded(ctx, degradedLeads)
		report.Flagged = flagged
		if err != nil {
			zap.L().Warn("flagging degraded leads failed", zap.Error(err))
		}
	}

	zap.L().Info("reconciliation sweep finished",
		zap.Int("examined", report.Examined),
		zap.Int("resumed", report.Resumed),
		zap.Int("escalated", report.Escalated),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("flagged", report.Flagged),
	)
	return report, nil
}

type redriveOutcome int

const (
	outcomeResumed redriveOutcome = iota
	outcomeEscalated
	outcomeFailed
	outcomeSkipped
)

// redrive retries one parked event. It returns the resumed lead id when
// the profile came from a degraded extraction, for CRM flagging.
func (r *Reconciler) redrive(ctx context.Context, rec *ledger.Record, now time.Time) (redriveOutcome, string) {
	if now.Sub(rec.FirstSeenAt) > r.opts.EscalateAfter {
		r.escalate(ctx, rec, "retries exhausted: failing longer than escalate window")
		return outcomeEscalated, ""
	}

	profile, _, err := r.ledger.GetResult(ctx, rec.ExternalID)
	if err != nil {
		if eris.Is(err, ledger.ErrNotFound) {
			// Nothing cached to re-drive from; the raw message is gone.
			r.escalate(ctx, rec, "no cached extraction result")
			return outcomeEscalated, ""
		}
		zap.L().Warn("reconcile: load cached result failed",
			zap.String("external_id", rec.ExternalID), zap.Error(err))
		return outcomeFailed, ""
	}

	if err := r.ledger.Touch(ctx, rec.ExternalID); err != nil {
		zap.L().Warn("reconcile: touch failed",
			zap.String("external_id", rec.ExternalID), zap.Error(err))
		return outcomeFailed, ""
	}

	event := &model.IntakeEvent{
		ExternalID:    rec.ExternalID,
		CorrelationID: rec.CorrelationID,
	}

	ids, err := resilience.ExecuteVal(ctx, r.breaker,
		func(ctx context.Context) (model.DownstreamIDs, error) {
			ids, _, err := resilience.InvokeVal(ctx, r.invoker, "salesforce",
				func(ctx context.Context) (model.DownstreamIDs, error) {
					return r.crm.Upsert(ctx, event, profile)
				},
				nil,
			)
			return ids, err
		},
	)
	if err != nil {
		if eris.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Info("reconcile: skipping record, salesforce circuit open",
				zap.String("external_id", rec.ExternalID))
			return outcomeSkipped, ""
		}
		err = classifyAsDownstream(err, rec.CorrelationID)
		class := errorClass(err)
		manual := class == ErrorClassPermanent
		if mErr := r.ledger.MarkPartialFailed(ctx, rec.ExternalID, class, err.Error(), manual); mErr != nil {
			zap.L().Error("reconcile: record failure",
				zap.String("external_id", rec.ExternalID), zap.Error(mErr))
		}
		if manual {
			r.notify(ctx, rec.ExternalID)
		}
		return outcomeFailed, ""
	}

	tier := rec.Tier
	if err := r.ledger.MarkComplete(ctx, rec.ExternalID, ids, profile.Degraded, tier); err != nil {
		zap.L().Error("reconcile: mark complete",
			zap.String("external_id", rec.ExternalID), zap.Error(err))
		return outcomeFailed, ""
	}

	zap.L().Info("reconcile: resumed event",
		zap.String("external_id", rec.ExternalID),
		zap.String("correlation_id", rec.CorrelationID),
		zap.String("lead_id", ids.LeadID),
	)

	if profile.Degraded {
		return outcomeResumed, ids.LeadID
	}
	return outcomeResumed, ""
}

func (r *Reconciler) escalate(ctx context.Context, rec *ledger.Record, reason string) {
	summary := rec.ErrorSummary
	if summary == "" {
		summary = reason
	} else {
		summary = reason + ": " + summary
	}
	class := rec.ErrorClass
	if class == "" {
		// Stale pending entries never recorded a failure.
		class = ErrorClassTransient
	}
	if err := r.ledger.MarkPartialFailed(ctx, rec.ExternalID, class, summary, true); err != nil {
		zap.L().Error("reconcile: escalate",
			zap.String("external_id", rec.ExternalID), zap.Error(err))
		return
	}
	r.notify(ctx, rec.ExternalID)
}

func (r *Reconciler) notify(ctx context.Context, externalID string) {
	rec, err := r.ledger.Get(ctx, externalID)
	if err != nil {
		zap.L().Warn("reconcile: load record for notification",
			zap.String("external_id", externalID), zap.Error(err))
		return
	}
	if err := r.notifier.NotifyManualReview(ctx, rec); err != nil {
		zap.L().Warn("reconcile: manual review notification failed",
			zap.String("external_id", externalID), zap.Error(err))
	}
}

// flagDegraded cold-rates leads whose profiles came from the rule-based
// extractor so recruiters re-check them before outreach.
func (r *Reconciler) flagDegraded(ctx context.Context, leadIDs []string) (int, error) {
	updates := make([]salesforce.LeadUpdate, len(leadIDs))
	for i, id := range leadIDs {
		updates[i] = salesforce.LeadUpdate{
			ID:     id,
			Fields: map[string]any{"Rating": "Cold"},
		}
	}
	results, err := salesforce.BulkUpdateLeads(ctx, r.sf, updates)
	flagged := 0
	for _, res := range results {
		if res.Success {
			flagged++
		}
	}
	return flagged, err
}
