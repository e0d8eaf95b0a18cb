package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names on the review-queue database. The board owns the
// schema: a title column for the event id, a status column, and
// rich-text columns for the failure detail.
const (
	propEvent       = "Event"
	propStatus      = "Status"
	propErrorClass  = "Error Class"
	propError       = "Error"
	propCorrelation = "Correlation ID"

	statusOpen = "Open"
	statusDone = "Done"
)

// ReviewEntry is one parked event on the board.
type ReviewEntry struct {
	PageID        string
	EventID       string
	ErrorClass    string
	ErrorSummary  string
	CorrelationID string
}

// Open files a new review page for a parked event, in the Open status.
func (b *Board) Open(ctx context.Context, entry ReviewEntry) error {
	if err := b.wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: b.db,
		},
		Properties: notionapi.Properties{
			propEvent: notionapi.TitleProperty{
				Type:  notionapi.PropertyTypeTitle,
				Title: richText(entry.EventID),
			},
			propStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: statusOpen},
			},
			propErrorClass: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(entry.ErrorClass),
			},
			propError: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(entry.ErrorSummary),
			},
			propCorrelation: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(entry.CorrelationID),
			},
		},
	}
	if _, err := b.api.CreatePage(ctx, req); err != nil {
		return eris.Wrapf(err, "notion: open review for %s", entry.EventID)
	}
	return nil
}

// ListOpen returns every review still in the Open status, following
// pagination until the board is exhausted.
func (b *Board) ListOpen(ctx context.Context) ([]ReviewEntry, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propStatus,
			Status: &notionapi.StatusFilterCondition{
				Equals: statusOpen,
			},
		},
	}

	var entries []ReviewEntry
	for {
		if err := b.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
		resp, err := b.api.QueryDatabase(ctx, b.db, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: list open reviews")
		}
		for _, page := range resp.Results {
			entries = append(entries, parseEntry(page))
		}
		if !resp.HasMore {
			return entries, nil
		}
		req.StartCursor = resp.NextCursor
	}
}

// Close marks a review page done once the event has been handled.
func (b *Board) Close(ctx context.Context, pageID string) error {
	if err := b.wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}
	req := &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			propStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: statusDone},
			},
		},
	}
	if _, err := b.api.UpdatePage(ctx, notionapi.PageID(pageID), req); err != nil {
		return eris.Wrapf(err, "notion: close review %s", pageID)
	}
	return nil
}

func parseEntry(page notionapi.Page) ReviewEntry {
	return ReviewEntry{
		PageID:        string(page.ID),
		EventID:       titleText(page, propEvent),
		ErrorClass:    richTextValue(page, propErrorClass),
		ErrorSummary:  richTextValue(page, propError),
		CorrelationID: richTextValue(page, propCorrelation),
	}
}

func titleText(page notionapi.Page, prop string) string {
	tp, ok := page.Properties[prop].(*notionapi.TitleProperty)
	if !ok || len(tp.Title) == 0 {
		return ""
	}
	return tp.Title[0].PlainText
}

func richTextValue(page notionapi.Page, prop string) string {
	rp, ok := page.Properties[prop].(*notionapi.RichTextProperty)
	if !ok || len(rp.RichText) == 0 {
		return ""
	}
	return rp.RichText[0].PlainText
}

func richText(text string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: text}},
	}
}
