// Package intake drives one inbound event through dedupe, extraction,
// normalization, and the CRM write, with the idempotency ledger as the
// single source of truth for what has already happened.
package intake

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/extractor"
	"github.com/sells-group/recruit-intake/internal/ledger"
	"github.com/sells-group/recruit-intake/internal/model"
	"github.com/sells-group/recruit-intake/internal/normalize"
	"github.com/sells-group/recruit-intake/internal/resilience"
	"github.com/sells-group/recruit-intake/internal/selector"
	"github.com/sells-group/recruit-intake/internal/telemetry"
)

// Extractor produces a profile from an event at a decided tier.
type Extractor interface {
	Extract(ctx context.Context, event *model.IntakeEvent, decision model.TierDecision) (*model.CandidateProfile, error)
}

// Fallback is the deterministic extraction path used when the adaptive
// path is exhausted.
type Fallback interface {
	Extract(text string, hints extractor.Hints) *model.CandidateProfile
}

// Options tune a Coordinator.
type Options struct {
	// BudgetUSD caps the worst-case extraction spend per event.
	BudgetUSD float64
	// QualityTarget is the minimum acceptable tier quality, 0 to disable.
	QualityTarget float64
	// ExtractTimeout bounds the adaptive extraction stage. Default: 90s.
	ExtractTimeout time.Duration
	// CRMTimeout bounds each CRM write. Default: 30s.
	CRMTimeout time.Duration
	// ReplayRecheckDelay is how long to wait before re-reading a pending
	// duplicate before giving up with ErrInProgress. Default: 2s.
	ReplayRecheckDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.BudgetUSD <= 0 {
		o.BudgetUSD = 0.05
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = 90 * time.Second
	}
	if o.CRMTimeout <= 0 {
		o.CRMTimeout = 30 * time.Second
	}
	if o.ReplayRecheckDelay <= 0 {
		o.ReplayRecheckDelay = 2 * time.Second
	}
}

// Coordinator owns the processing pipeline for a single event.
type Coordinator struct {
	ledger     ledger.Ledger
	selector   *selector.Selector
	extractor  Extractor
	fallback   Fallback
	normalizer normalize.Normalizer
	crm        CRM
	invoker    *resilience.Invoker
	notifier   Notifier
	emitter    telemetry.Emitter
	opts       Options

	sleep func(context.Context, time.Duration) error
}

// NewCoordinator wires the pipeline together. notifier and emitter may
// be nil.
func NewCoordinator(
	led ledger.Ledger,
	sel *selector.Selector,
	ext Extractor,
	fb Fallback,
	norm normalize.Normalizer,
	crm CRM,
	inv *resilience.Invoker,
	notifier Notifier,
	emitter telemetry.Emitter,
	opts Options,
) *Coordinator {
	opts.withDefaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	return &Coordinator{
		ledger:     led,
		selector:   sel,
		extractor:  ext,
		fallback:   fb,
		normalizer: norm,
		crm:        crm,
		invoker:    inv,
		notifier:   notifier,
		emitter:    emitter,
		opts:       opts,
		sleep:      sleepCtx,
	}
}

// Process runs one event end to end. Replays of completed events return
// the stored outcome without touching any downstream system; a concurrent
// duplicate yields ErrInProgress after one delayed re-read. A downstream
// failure after the extraction result is durably recorded returns a
// partial result alongside the classified error.
func (c *Coordinator) Process(ctx context.Context, event *model.IntakeEvent) (*model.ProcessResult, error) {
	corrID := event.EnsureCorrelationID()

	if problems := event.Validate(); len(problems) > 0 {
		return nil, &ValidationError{CorrelationID: corrID, Fields: problems}
	}

	start := time.Now()
	_, err := c.ledger.Create(ctx, event.ExternalID, corrID)
	switch {
	case err == nil:
		c.emit(telemetry.StageDedupe, event, "", false, start, nil)
	case eris.Is(err, ledger.ErrDuplicate):
		return c.handleDuplicate(ctx, event)
	default:
		return nil, eris.Wrapf(err, "intake: ledger create %s", event.ExternalID)
	}

	return c.run(ctx, event, nil, "")
}

// handleDuplicate resolves an event whose ledger entry already exists.
func (c *Coordinator) handleDuplicate(ctx context.Context, event *model.IntakeEvent) (*model.ProcessResult, error) {
	rec, err := c.ledger.Get(ctx, event.ExternalID)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: ledger lookup %s", event.ExternalID)
	}

	switch rec.Status {
	case ledger.StatusComplete:
		return c.replay(event, rec), nil

	case ledger.StatusPending:
		// Another worker holds the entry. Give it a moment to finish,
		// then read once more before handing the caller ErrInProgress.
		if err := c.sleep(ctx, c.opts.ReplayRecheckDelay); err != nil {
			return nil, err
		}
		rec, err = c.ledger.Get(ctx, event.ExternalID)
		if err != nil {
			return nil, eris.Wrapf(err, "intake: ledger re-lookup %s", event.ExternalID)
		}
		if rec.Status == ledger.StatusComplete {
			return c.replay(event, rec), nil
		}
		if rec.Status == ledger.StatusPending {
			return nil, ErrInProgress
		}
		fallthrough

	case ledger.StatusPartialFailed:
		return c.resume(ctx, event, rec)

	default:
		return nil, eris.Errorf("intake: unknown ledger status %q for %s", rec.Status, event.ExternalID)
	}
}

func (c *Coordinator) replay(event *model.IntakeEvent, rec *ledger.Record) *model.ProcessResult {
	zap.L().Info("replayed completed event",
		zap.String("external_id", event.ExternalID),
		zap.String("correlation_id", rec.CorrelationID),
	)
	return &model.ProcessResult{
		Status:        model.StatusReplayed,
		DownstreamIDs: rec.DownstreamIDs,
		CorrelationID: rec.CorrelationID,
		Degraded:      rec.Degraded,
		Tier:          rec.Tier,
	}
}

// resume re-drives a partially failed event. The extraction result cached
// at first attempt is reused so the candidate is not re-extracted (and
// not re-billed); only the CRM write is repeated.
func (c *Coordinator) resume(ctx context.Context, event *model.IntakeEvent, rec *ledger.Record) (*model.ProcessResult, error) {
	if err := c.ledger.Touch(ctx, event.ExternalID); err != nil {
		return nil, eris.Wrapf(err, "intake: ledger touch %s", event.ExternalID)
	}

	profile, decision, err := c.ledger.GetResult(ctx, event.ExternalID)
	if err != nil && !eris.Is(err, ledger.ErrNotFound) {
		return nil, eris.Wrapf(err, "intake: load cached result %s", event.ExternalID)
	}

	zap.L().Info("resuming partially failed event",
		zap.String("external_id", event.ExternalID),
		zap.String("correlation_id", rec.CorrelationID),
		zap.Bool("cached_result", profile != nil),
		zap.Int("attempt", rec.AttemptCount),
	)

	event.CorrelationID = rec.CorrelationID
	var tier string
	if decision != nil {
		tier = decision.Tier
	}
	return c.run(ctx, event, profile, tier)
}

// run executes the pipeline stages. cached, when non-nil, replaces the
// selection and extraction stages.
func (c *Coordinator) run(ctx context.Context, event *model.IntakeEvent, cached *model.CandidateProfile, cachedTier string) (*model.ProcessResult, error) {
	profile := cached
	tier := cachedTier
	degraded := false

	if profile == nil {
		start := time.Now()
		decision := c.selector.Select(len(event.RawBody), c.opts.BudgetUSD, c.opts.QualityTarget)
		tier = decision.Tier
		c.emit(telemetry.StageSelect, event, tier, decision.BudgetConstrained, start, nil)

		start = time.Now()
		profile, degraded = c.extract(ctx, event, decision)
		c.emit(telemetry.StageExtract, event, tier, degraded, start, nil)

		start = time.Now()
		c.normalizer.Normalize(profile)
		profile.Degraded = degraded
		c.emit(telemetry.StageNormalize, event, tier, degraded, start, nil)
		zap.L().Debug("profile normalized",
			zap.String("external_id", event.ExternalID),
			zap.String("tier", tier),
			zap.Int("fields_present", profile.FieldsPresent()),
		)

		start = time.Now()
		if err := c.ledger.SaveResult(ctx, event.ExternalID, profile, &decision); err != nil {
			err = eris.Wrapf(err, "intake: save result %s", event.ExternalID)
			c.emit(telemetry.StagePersist, event, tier, degraded, start, err)
			// Nothing durable exists yet, so the record stays pending and a
			// redelivery starts the attempt over. partial_failed is reserved
			// for the durable-write-succeeded case.
			if tErr := c.ledger.Touch(ctx, event.ExternalID); tErr != nil {
				zap.L().Warn("failed to bump attempt after save failure",
					zap.String("external_id", event.ExternalID),
					zap.Error(tErr),
				)
			}
			return nil, &TransientDownstreamError{
				CorrelationID: event.CorrelationID,
				System:        "ledger",
				Err:           err,
			}
		}
		c.emit(telemetry.StagePersist, event, tier, degraded, start, nil)
	} else {
		degraded = profile.Degraded
	}

	start := time.Now()
	ids, err := c.writeCRM(ctx, event, profile)
	c.emit(telemetry.StageCRM, event, tier, degraded, start, err)
	if err != nil {
		return c.partial(ctx, event, tier, degraded, err)
	}

	if err := c.ledger.MarkComplete(ctx, event.ExternalID, ids, degraded, tier); err != nil {
		// The CRM write landed. Completing the ledger entry failed, so a
		// retry will replay the write; the email-keyed upsert keeps that
		// from duplicating the lead.
		return c.partial(ctx, event, tier, degraded, &TransientDownstreamError{
			CorrelationID: event.CorrelationID,
			System:        "ledger",
			Err:           eris.Wrapf(err, "intake: mark complete %s", event.ExternalID),
		})
	}

	c.emit(telemetry.StageComplete, event, tier, degraded, start, nil)

	return &model.ProcessResult{
		Status:        model.StatusCreated,
		DownstreamIDs: ids,
		CorrelationID: event.CorrelationID,
		Degraded:      degraded,
		Tier:          tier,
	}, nil
}

// extract runs the adaptive path through the invoker with the rule-based
// path as fallback. It cannot fail: the fallback never errors.
func (c *Coordinator) extract(ctx context.Context, event *model.IntakeEvent, decision model.TierDecision) (*model.CandidateProfile, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ExtractTimeout)
	defer cancel()

	hints := extractor.Hints{Subject: event.Subject}

	profile, degraded, err := resilience.InvokeVal(ctx, c.invoker, "anthropic",
		func(ctx context.Context) (*model.CandidateProfile, error) {
			return c.extractor.Extract(ctx, event, decision)
		},
		func(context.Context) (*model.CandidateProfile, error) {
			return c.fallback.Extract(event.RawBody, hints), nil
		},
	)
	if err != nil {
		// Adaptive path failed with a non-retryable error; the rule-based
		// path still yields a usable (degraded) profile.
		zap.L().Warn("adaptive extraction failed, using rule-based profile",
			zap.String("external_id", event.ExternalID),
			zap.String("correlation_id", event.CorrelationID),
			zap.Error(err),
		)
		return c.fallback.Extract(event.RawBody, hints), true
	}
	return profile, degraded
}

func (c *Coordinator) writeCRM(ctx context.Context, event *model.IntakeEvent, profile *model.CandidateProfile) (model.DownstreamIDs, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CRMTimeout)
	defer cancel()

	ids, _, err := resilience.InvokeVal(ctx, c.invoker, "salesforce",
		func(ctx context.Context) (model.DownstreamIDs, error) {
			return c.crm.Upsert(ctx, event, profile)
		},
		nil,
	)
	if err != nil {
		return model.DownstreamIDs{}, classifyAsDownstream(err, event.CorrelationID)
	}
	return ids, nil
}

// classifyAsDownstream keeps already-classified errors and wraps anything
// else as a Salesforce downstream failure.
func classifyAsDownstream(err error, correlationID string) error {
	var terr *TransientDownstreamError
	var perr *PermanentDownstreamError
	if eris.As(err, &terr) || eris.As(err, &perr) {
		return err
	}
	return classifyDownstream(err, "salesforce", correlationID)
}

// partial parks the event and reports the partial outcome to the caller:
// the extraction result is durably recorded, only the downstream write is
// missing, so the event is safe to retry. The classified error is
// returned alongside the result.
func (c *Coordinator) partial(ctx context.Context, event *model.IntakeEvent, tier string, degraded bool, err error) (*model.ProcessResult, error) {
	err = c.park(ctx, event, err)
	return &model.ProcessResult{
		Status:        model.StatusPartial,
		CorrelationID: event.CorrelationID,
		Degraded:      degraded,
		Tier:          tier,
	}, err
}

// park records a failed attempt. Permanent failures are flagged for
// manual review and announced through the notifier.
func (c *Coordinator) park(ctx context.Context, event *model.IntakeEvent, err error) error {
	class := errorClass(err)
	manual := class == ErrorClassPermanent

	if mErr := c.ledger.MarkPartialFailed(ctx, event.ExternalID, class, err.Error(), manual); mErr != nil {
		zap.L().Error("failed to record partial failure",
			zap.String("external_id", event.ExternalID),
			zap.String("correlation_id", event.CorrelationID),
			zap.Error(mErr),
		)
	}

	if manual {
		rec, gErr := c.ledger.Get(ctx, event.ExternalID)
		if gErr != nil {
			rec = &ledger.Record{
				ExternalID:    event.ExternalID,
				CorrelationID: event.CorrelationID,
				ErrorClass:    class,
				ErrorSummary:  err.Error(),
			}
		}
		if nErr := c.notifier.NotifyManualReview(ctx, rec); nErr != nil {
			zap.L().Warn("manual review notification failed",
				zap.String("external_id", event.ExternalID),
				zap.Error(nErr),
			)
		}
	}

	return err
}

func (c *Coordinator) emit(stage string, event *model.IntakeEvent, tier string, degraded bool, start time.Time, err error) {
	c.emitter.Emit(telemetry.StageEvent{
		Stage:         stage,
		ExternalID:    event.ExternalID,
		CorrelationID: event.CorrelationID,
		Tier:          tier,
		Degraded:      degraded,
		Duration:      time.Since(start),
		Err:           err,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
