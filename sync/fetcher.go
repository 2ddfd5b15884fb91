// ABOUTME: Paged event fetcher for one sub-calendar
// ABOUTME: Follows page tokens to the end, keeps the first change token, bounds every call
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calmirror/models"
)

// DefaultCallTimeout bounds each provider call.
const DefaultCallTimeout = 20 * time.Second

// FetchResult is everything one fetch gathered for a sub-calendar.
type FetchResult struct {
	CalendarID string
	Mode       FetchMode
	Events     []models.RawEvent
	// SyncToken is the first change token the provider reported in this pass.
	SyncToken string
	Pages     int
	// Partial is set when the fetch stopped early because ctx was done.
	Partial bool
}

// EventFetcher pulls every page of events for a sub-calendar.
type EventFetcher struct {
	pageSize    int64
	callTimeout time.Duration
	logger      *log.Logger
}

// NewEventFetcher creates a fetcher. Non-positive values fall back to defaults.
func NewEventFetcher(pageSize int64, callTimeout time.Duration, logger *log.Logger) *EventFetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &EventFetcher{pageSize: pageSize, callTimeout: callTimeout, logger: logger}
}

// Fetch lists every page for calendarID in the given mode.
//
// A rejected change token comes back as *TokenInvalidError. Any other
// failure is a *FetchError; when it was caused by ctx ending, the result
// holds the pages already read and is marked Partial.
func (f *EventFetcher) Fetch(ctx context.Context, client ProviderClient, calendarID string, mode FetchMode) (*FetchResult, error) {
	result := &FetchResult{CalendarID: calendarID, Mode: mode}
	pageToken := ""

	for {
		if err := ctx.Err(); err != nil {
			result.Partial = true
			return result, &FetchError{CalendarID: calendarID, Err: err}
		}

		page, err := f.fetchPage(ctx, client, calendarID, PageQuery{
			Mode:      mode,
			PageToken: pageToken,
			PageSize:  f.pageSize,
		})
		if err != nil {
			var tokenErr *TokenInvalidError
			if errors.As(err, &tokenErr) {
				return result, tokenErr
			}
			if ctx.Err() != nil {
				result.Partial = true
			}
			return result, &FetchError{CalendarID: calendarID, Err: err}
		}

		result.Pages++
		result.Events = append(result.Events, page.Items...)
		if result.SyncToken == "" && page.NextSyncToken != "" {
			result.SyncToken = page.NextSyncToken
		}

		f.logger.Debug("fetched page", "calendar", calendarID, "page", result.Pages, "events", len(page.Items))

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == pageToken {
			return result, &FetchError{
				CalendarID: calendarID,
				Err:        fmt.Errorf("page token %q repeated", pageToken),
			}
		}
		pageToken = page.NextPageToken
	}

	return result, nil
}

func (f *EventFetcher) fetchPage(ctx context.Context, client ProviderClient, calendarID string, query PageQuery) (*Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	page, err := client.ListEventsPage(callCtx, calendarID, query)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &Page{}, nil
	}
	return page, nil
}
