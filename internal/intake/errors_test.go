package intake

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/recruit-intake/internal/resilience"
)

func TestClassifyDownstream(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limit", resilience.NewRateLimitError(eris.New("429"), 429, time.Second), true},
		{"transient taxonomy", resilience.NewTransientError(eris.New("503"), 503), true},
		{"row lock", eris.New("UNABLE_TO_LOCK_ROW: record busy"), true},
		{"api quota", eris.New("REQUEST_LIMIT_EXCEEDED: TotalRequests"), true},
		{"service unavailable", eris.New("sf: service unavailable"), true},
		{"connection reset", eris.New("read tcp: connection reset by peer"), true},
		{"timeout", eris.New("sf: query: context deadline exceeded (timeout)"), true},
		{"validation rule", eris.New("FIELD_CUSTOM_VALIDATION_EXCEPTION: bad value"), false},
		{"missing field", eris.New("REQUIRED_FIELD_MISSING: [LastName]"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyDownstream(tt.err, "salesforce", "corr-1")
			require.Error(t, classified)

			if tt.transient {
				var terr *TransientDownstreamError
				require.ErrorAs(t, classified, &terr)
				assert.Equal(t, "salesforce", terr.System)
				assert.Equal(t, "corr-1", terr.CorrelationID)
			} else {
				var perr *PermanentDownstreamError
				require.ErrorAs(t, classified, &perr)
			}
			// The original error stays reachable through Unwrap.
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyDownstream_Nil(t *testing.T) {
	assert.NoError(t, classifyDownstream(nil, "salesforce", "corr-1"))
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, ErrorClassValidation, errorClass(&ValidationError{Fields: []string{"external_id is required"}}))
	assert.Equal(t, ErrorClassTransient, errorClass(&TransientDownstreamError{System: "salesforce", Err: eris.New("x")}))
	assert.Equal(t, ErrorClassPermanent, errorClass(&PermanentDownstreamError{System: "salesforce", Err: eris.New("x")}))
	// Unclassified errors default to transient so they stay retryable.
	assert.Equal(t, ErrorClassTransient, errorClass(eris.New("mystery")))
}

func TestErrorClass_Wrapped(t *testing.T) {
	inner := &PermanentDownstreamError{System: "salesforce", Err: eris.New("rejected")}
	wrapped := eris.Wrap(inner, "intake: crm write")
	assert.Equal(t, ErrorClassPermanent, errorClass(wrapped))
}
