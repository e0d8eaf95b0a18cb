package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/ledger"
	"github.com/sells-group/recruit-intake/pkg/notion"
)

// Notifier announces events parked for manual review.
type Notifier interface {
	NotifyManualReview(ctx context.Context, rec *ledger.Record) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyManualReview(context.Context, *ledger.Record) error { return nil }

// NotionNotifier files each parked event on the Notion review board.
type NotionNotifier struct {
	board *notion.Board
}

func NewNotionNotifier(board *notion.Board) *NotionNotifier {
	return &NotionNotifier{board: board}
}

func (n *NotionNotifier) NotifyManualReview(ctx context.Context, rec *ledger.Record) error {
	return n.board.Open(ctx, notion.ReviewEntry{
		EventID:       rec.ExternalID,
		ErrorClass:    rec.ErrorClass,
		ErrorSummary:  rec.ErrorSummary,
		CorrelationID: rec.CorrelationID,
	})
}

// WebhookNotifier POSTs the parked record as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) NotifyManualReview(ctx context.Context, rec *ledger.Record) error {
	payload, err := json.Marshal(map[string]any{
		"external_id":    rec.ExternalID,
		"correlation_id": rec.CorrelationID,
		"error_class":    rec.ErrorClass,
		"error_summary":  rec.ErrorSummary,
		"first_seen_at":  rec.FirstSeenAt,
		"attempt_count":  rec.AttemptCount,
	})
	if err != nil {
		return eris.Wrap(err, "intake: marshal review payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "intake: build review webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "intake: post review webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("intake: review webhook returned %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier fans out to several notifiers. All are attempted; errors
// are logged and the first one is returned.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyManualReview(ctx context.Context, rec *ledger.Record) error {
	var first error
	for _, n := range m {
		if err := n.NotifyManualReview(ctx, rec); err != nil {
			zap.L().Warn("review notification failed",
				zap.String("external_id", rec.ExternalID),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
