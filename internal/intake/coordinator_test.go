package intake

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-intake/internal/extractor"
	"github.com/sells-group/recruit-intake/internal/ledger"
	"github.com/sells-group/recruit-intake/internal/model"
	"github.com/sells-group/recruit-intake/internal/normalize"
	"github.com/sells-group/recruit-intake/internal/resilience"
	"github.com/sells-group/recruit-intake/internal/selector"
)

// fakeExtractor counts calls and returns a canned profile or error.
type fakeExtractor struct {
	calls   atomic.Int32
	profile *model.CandidateProfile
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, _ *model.IntakeEvent, _ model.TierDecision) (*model.CandidateProfile, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	return &p, nil
}

type fakeFallback struct {
	calls atomic.Int32
}

func (f *fakeFallback) Extract(text string, hints extractor.Hints) *model.CandidateProfile {
	f.calls.Add(1)
	return &model.CandidateProfile{
		Email:    model.Str("fallback@example.com"),
		Degraded: true,
	}
}

type fakeCRM struct {
	calls atomic.Int32
	ids   model.DownstreamIDs
	err   error
	errs  []error // per-call errors; overrides err when non-empty
}

func (f *fakeCRM) Upsert(_ context.Context, _ *model.IntakeEvent, _ *model.CandidateProfile) (model.DownstreamIDs, error) {
	n := int(f.calls.Add(1))
	if len(f.errs) >= n {
		if err := f.errs[n-1]; err != nil {
			return model.DownstreamIDs{}, err
		}
		return f.ids, nil
	}
	if f.err != nil {
		return model.DownstreamIDs{}, f.err
	}
	return f.ids, nil
}

type fakeNotifier struct {
	calls atomic.Int32
	last  *ledger.Record
}

func (f *fakeNotifier) NotifyManualReview(_ context.Context, rec *ledger.Record) error {
	f.calls.Add(1)
	f.last = rec
	return nil
}

type coordFixture struct {
	coord     *Coordinator
	ledger    ledger.Ledger
	extractor *fakeExtractor
	fallback  *fakeFallback
	crm       *fakeCRM
	notifier  *fakeNotifier
}

func newFixture(t *testing.T) *coordFixture {
	t.Helper()

	led, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, led.Migrate(context.Background()))
	t.Cleanup(func() { led.Close() })

	ext := &fakeExtractor{profile: &model.CandidateProfile{
		FullName: model.Str("jane doe"),
		Email:    model.Str("Jane@Example.com"),
	}}
	fb := &fakeFallback{}
	crm := &fakeCRM{ids: model.DownstreamIDs{LeadID: "00Qaaa", ContactID: "003bbb"}}
	notifier := &fakeNotifier{}

	inv := resilience.NewInvoker(resilience.InvokerConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, resilience.NewMemoryCooldowns())

	coord := NewCoordinator(
		led,
		selector.New(selector.DefaultConfig()),
		ext, fb,
		normalize.New(),
		crm,
		inv,
		notifier,
		nil,
		Options{BudgetUSD: 0.05, ReplayRecheckDelay: time.Millisecond},
	)

	return &coordFixture{coord: coord, ledger: led, extractor: ext, fallback: fb, crm: crm, notifier: notifier}
}

func newEvent(id string) *model.IntakeEvent {
	return &model.IntakeEvent{
		ExternalID: id,
		Source:     model.SourceEmail,
		Subject:    "Application",
		RawBody:    "Hello, I am Jane Doe, jane@example.com",
		ReceivedAt: time.Now(),
	}
}

func TestProcess_NewEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, res.Status)
	assert.Equal(t, "00Qaaa", res.DownstreamIDs.LeadID)
	assert.NotEmpty(t, res.CorrelationID)
	assert.False(t, res.Degraded)
	assert.Equal(t, "haiku", res.Tier)

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusComplete, rec.Status)
	assert.Equal(t, "00Qaaa", rec.DownstreamIDs.LeadID)
	assert.Equal(t, "haiku", rec.Tier)

	// The structured result was persisted before the CRM write.
	profile, decision, err := f.ledger.GetResult(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", *profile.Email)
	require.NotNil(t, decision)
	assert.Equal(t, "haiku", decision.Tier)

	assert.EqualValues(t, 1, f.extractor.calls.Load())
	assert.EqualValues(t, 1, f.crm.calls.Load())
	assert.EqualValues(t, 0, f.fallback.calls.Load())
}

func TestProcess_InvalidEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Process(context.Background(), &model.IntakeEvent{Source: model.SourceEmail})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.CorrelationID)
	assert.EqualValues(t, 0, f.crm.calls.Load())
}

func TestProcess_ReplayCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplayed, res.Status)
	assert.Equal(t, "00Qaaa", res.DownstreamIDs.LeadID)

	// No second extraction or CRM write.
	assert.EqualValues(t, 1, f.extractor.calls.Load())
	assert.EqualValues(t, 1, f.crm.calls.Load())
}

func TestProcess_DuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, "evt-1", "corr-other")
	require.NoError(t, err)

	_, err = f.coord.Process(ctx, newEvent("evt-1"))
	require.ErrorIs(t, err, ErrInProgress)
	assert.EqualValues(t, 0, f.crm.calls.Load())
}

func TestProcess_DuplicatePending_CompletesDuringWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, "evt-1", "corr-other")
	require.NoError(t, err)

	// The other worker finishes while we wait out the recheck delay.
	f.coord.sleep = func(ctx context.Context, _ time.Duration) error {
		return f.ledger.MarkComplete(ctx, "evt-1", model.DownstreamIDs{LeadID: "00Qwin"}, false, "sonnet")
	}

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplayed, res.Status)
	assert.Equal(t, "00Qwin", res.DownstreamIDs.LeadID)
	assert.Equal(t, "corr-other", res.CorrelationID)
}

func TestProcess_CRMTransientFailure_Parks(t *testing.T) {
	f := newFixture(t)
	f.crm.err = eris.New("sf: query: connection reset by peer")
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.Error(t, err)
	var terr *TransientDownstreamError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "salesforce", terr.System)

	// The result is durably recorded, so the caller sees a partial
	// outcome rather than a bare failure.
	require.NotNil(t, res)
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.Equal(t, terr.CorrelationID, res.CorrelationID)
	assert.True(t, res.DownstreamIDs.Empty())

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartialFailed, rec.Status)
	assert.Equal(t, ErrorClassTransient, rec.ErrorClass)
	assert.False(t, rec.ManualReview)
	assert.EqualValues(t, 0, f.notifier.calls.Load())

	// The extraction result survived for resumption.
	profile, _, err := f.ledger.GetResult(ctx, "evt-1")
	require.NoError(t, err)
	assert.NotNil(t, profile.Email)
}

func TestProcess_CRMPermanentFailure_FlagsManualReview(t *testing.T) {
	f := newFixture(t)
	f.crm.err = eris.New("REQUIRED_FIELD_MISSING: [LastName]")
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.Error(t, err)
	var perr *PermanentDownstreamError
	require.ErrorAs(t, err, &perr)
	require.NotNil(t, res)
	assert.Equal(t, model.StatusPartial, res.Status)

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartialFailed, rec.Status)
	assert.Equal(t, ErrorClassPermanent, rec.ErrorClass)
	assert.True(t, rec.ManualReview)

	require.EqualValues(t, 1, f.notifier.calls.Load())
	assert.Equal(t, "evt-1", f.notifier.last.ExternalID)
}

func TestProcess_CRMRateLimitExhaustion_ReturnsPartial(t *testing.T) {
	f := newFixture(t)
	f.crm.err = resilience.NewRateLimitError(eris.New("rate limit exceeded"), 429, 0)
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.Error(t, err)
	var terr *TransientDownstreamError
	require.ErrorAs(t, err, &terr)

	require.NotNil(t, res)
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.NotEmpty(t, res.CorrelationID)

	// Initial attempt plus one retry before the invoker gave up.
	assert.EqualValues(t, 2, f.crm.calls.Load())

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartialFailed, rec.Status)
}

// saveFailLedger fails the durable result write while delegating
// everything else.
type saveFailLedger struct {
	ledger.Ledger
	saveErr error
}

func (l *saveFailLedger) SaveResult(ctx context.Context, externalID string, profile *model.CandidateProfile, decision *model.TierDecision) error {
	if l.saveErr != nil {
		return l.saveErr
	}
	return l.Ledger.SaveResult(ctx, externalID, profile, decision)
}

func TestProcess_SaveResultFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	wrapped := &saveFailLedger{Ledger: f.ledger, saveErr: eris.New("disk I/O error")}

	inv := resilience.NewInvoker(resilience.InvokerConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}, resilience.NewMemoryCooldowns())
	coord := NewCoordinator(
		wrapped,
		selector.New(selector.DefaultConfig()),
		f.extractor, f.fallback,
		normalize.New(),
		f.crm,
		inv,
		f.notifier,
		nil,
		Options{BudgetUSD: 0.05, ReplayRecheckDelay: time.Millisecond},
	)
	ctx := context.Background()

	res, err := coord.Process(ctx, newEvent("evt-1"))
	require.Error(t, err)
	assert.Nil(t, res)
	var terr *TransientDownstreamError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "ledger", terr.System)

	// Nothing durable was written, so the record stays pending and the
	// CRM is never touched.
	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, rec.Status)
	assert.False(t, rec.ManualReview)
	assert.GreaterOrEqual(t, rec.AttemptCount, 2)
	assert.EqualValues(t, 0, f.crm.calls.Load())
	assert.EqualValues(t, 0, f.notifier.calls.Load())
}

func TestProcess_ResumeReusesCachedProfile(t *testing.T) {
	f := newFixture(t)
	f.crm.errs = []error{eris.New("sf: timeout")}
	ctx := context.Background()

	_, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.Error(t, err)
	require.EqualValues(t, 1, f.extractor.calls.Load())

	// Retry: CRM now succeeds, extraction must not run again.
	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, res.Status)
	assert.Equal(t, "00Qaaa", res.DownstreamIDs.LeadID)
	assert.Equal(t, "haiku", res.Tier)

	assert.EqualValues(t, 1, f.extractor.calls.Load())
	assert.EqualValues(t, 2, f.crm.calls.Load())

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusComplete, rec.Status)
	assert.GreaterOrEqual(t, rec.AttemptCount, 2)
}

func TestProcess_ResumeKeepsOriginalCorrelationID(t *testing.T) {
	f := newFixture(t)
	f.crm.errs = []error{eris.New("sf: timeout")}
	ctx := context.Background()

	first := newEvent("evt-1")
	_, err := f.coord.Process(ctx, first)
	require.Error(t, err)

	second := newEvent("evt-1")
	res, err := f.coord.Process(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, res.CorrelationID)
}

func TestProcess_RateLimitExhaustion_UsesFallback(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = resilience.NewRateLimitError(eris.New("429"), 429, 0)
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.EqualValues(t, 1, f.fallback.calls.Load())
	// MaxRetries=1 means two adaptive attempts before falling back.
	assert.EqualValues(t, 2, f.extractor.calls.Load())

	rec, err := f.ledger.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, rec.Degraded)

	profile, _, err := f.ledger.GetResult(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, profile.Degraded)
}

func TestProcess_ExtractorHardError_UsesFallback(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = eris.New("extractor: empty response")
	ctx := context.Background()

	res, err := f.coord.Process(ctx, newEvent("evt-1"))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.EqualValues(t, 1, f.extractor.calls.Load())
	assert.EqualValues(t, 1, f.fallback.calls.Load())
}
