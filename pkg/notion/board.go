// Package notion maintains the manual review board for parked intake
// events on top of a Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// API is the slice of the Notion API the board needs. *notionapi.Client
// satisfies it through the adapter in NewBoard; tests substitute their
// own via WithAPI.
type API interface {
	QueryDatabase(ctx context.Context, dbID notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

type apiAdapter struct {
	inner *notionapi.Client
}

func (a apiAdapter) QueryDatabase(ctx context.Context, dbID notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return a.inner.Database.Query(ctx, dbID, req)
}

func (a apiAdapter) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return a.inner.Page.Create(ctx, req)
}

func (a apiAdapter) UpdatePage(ctx context.Context, pageID notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return a.inner.Page.Update(ctx, pageID, req)
}

// Board is a rate-limited view of one review-queue database.
type Board struct {
	api     API
	db      notionapi.DatabaseID
	limiter *rate.Limiter
}

// BoardOption configures a Board.
type BoardOption func(*Board)

// WithRateLimit overrides the default throttle of 3 req/s (Notion's
// documented limit). rps <= 0 disables throttling.
func WithRateLimit(rps float64) BoardOption {
	return func(b *Board) {
		if rps > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			b.limiter = nil
		}
	}
}

// WithAPI substitutes the backing API. Used by tests.
func WithAPI(api API) BoardOption {
	return func(b *Board) { b.api = api }
}

// NewBoard opens the review board backed by the given database.
func NewBoard(token, databaseID string, opts ...BoardOption) *Board {
	b := &Board{
		api:     apiAdapter{inner: notionapi.NewClient(notionapi.Token(token))},
		db:      notionapi.DatabaseID(databaseID),
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// wait blocks until the throttle allows one call, or ctx is cancelled.
func (b *Board) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
