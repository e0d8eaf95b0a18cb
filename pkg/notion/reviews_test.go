package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) QueryDatabase(ctx context.Context, dbID notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	resp, _ := args.Get(0).(*notionapi.DatabaseQueryResponse)
	return resp, args.Error(1)
}

func (m *mockAPI) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*notionapi.Page)
	return page, args.Error(1)
}

func (m *mockAPI) UpdatePage(ctx context.Context, pageID notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	page, _ := args.Get(0).(*notionapi.Page)
	return page, args.Error(1)
}

func testBoard(api API) *Board {
	return NewBoard("", "db-reviews", WithAPI(api), WithRateLimit(0))
}

func reviewPage(id, event, class, corr string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			propEvent: &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: event}},
			},
			propErrorClass: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: class}},
			},
			propCorrelation: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: corr}},
			},
		},
	}
}

func TestBoardOpen_FilesPageInOpenStatus(t *testing.T) {
	api := &mockAPI{}
	api.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		title, ok1 := req.Properties[propEvent].(notionapi.TitleProperty)
		status, ok2 := req.Properties[propStatus].(notionapi.StatusProperty)
		class, ok3 := req.Properties[propErrorClass].(notionapi.RichTextProperty)
		return ok1 && ok2 && ok3 &&
			req.Parent.DatabaseID == "db-reviews" &&
			title.Title[0].Text.Content == "evt-1" &&
			status.Status.Name == "Open" &&
			class.RichText[0].Text.Content == "permanent_downstream"
	})).Return(&notionapi.Page{}, nil)

	board := testBoard(api)
	err := board.Open(context.Background(), ReviewEntry{
		EventID:       "evt-1",
		ErrorClass:    "permanent_downstream",
		ErrorSummary:  "REQUIRED_FIELD_MISSING",
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestBoardOpen_CreateFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("CreatePage", mock.Anything, mock.Anything).
		Return(nil, eris.New("503 service unavailable"))

	err := testBoard(api).Open(context.Background(), ReviewEntry{EventID: "evt-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open review for evt-1")
}

func TestBoardListOpen_FiltersOnOpenStatus(t *testing.T) {
	api := &mockAPI{}
	api.On("QueryDatabase", mock.Anything, notionapi.DatabaseID("db-reviews"),
		mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
			pf, ok := req.Filter.(notionapi.PropertyFilter)
			return ok && pf.Property == propStatus && pf.Status != nil && pf.Status.Equals == "Open"
		})).Return(&notionapi.DatabaseQueryResponse{}, nil)

	entries, err := testBoard(api).ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	api.AssertExpectations(t)
}

func TestBoardListOpen_FollowsPagination(t *testing.T) {
	api := &mockAPI{}
	api.On("QueryDatabase", mock.Anything, mock.Anything,
		mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
			return req.StartCursor == ""
		})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			reviewPage("page-1", "evt-1", "transient_downstream", "corr-1"),
			reviewPage("page-2", "evt-2", "permanent_downstream", "corr-2"),
		},
		HasMore:    true,
		NextCursor: "cursor-2",
	}, nil).Once()
	api.On("QueryDatabase", mock.Anything, mock.Anything,
		mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
			return req.StartCursor == notionapi.Cursor("cursor-2")
		})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			reviewPage("page-3", "evt-3", "transient_downstream", "corr-3"),
		},
	}, nil).Once()

	entries, err := testBoard(api).ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "evt-1", entries[0].EventID)
	assert.Equal(t, "transient_downstream", entries[0].ErrorClass)
	assert.Equal(t, "corr-1", entries[0].CorrelationID)
	assert.Equal(t, "page-3", entries[2].PageID)
	api.AssertExpectations(t)
}

func TestBoardListOpen_QueryFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("QueryDatabase", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("401 unauthorized"))

	_, err := testBoard(api).ListOpen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list open reviews")
}

func TestBoardListOpen_ToleratesMissingProperties(t *testing.T) {
	api := &mockAPI{}
	api.On("QueryDatabase", mock.Anything, mock.Anything, mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "page-bare"}},
		}, nil)

	entries, err := testBoard(api).ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "page-bare", entries[0].PageID)
	assert.Empty(t, entries[0].EventID)
	assert.Empty(t, entries[0].ErrorClass)
}

func TestBoardClose_MarksDone(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdatePage", mock.Anything, notionapi.PageID("page-9"),
		mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
			status, ok := req.Properties[propStatus].(notionapi.StatusProperty)
			return ok && status.Status.Name == "Done"
		})).Return(&notionapi.Page{}, nil)

	err := testBoard(api).Close(context.Background(), "page-9")
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestBoardClose_UpdateFailure(t *testing.T) {
	api := &mockAPI{}
	api.On("UpdatePage", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.New("404 object_not_found"))

	err := testBoard(api).Close(context.Background(), "page-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close review page-9")
}
