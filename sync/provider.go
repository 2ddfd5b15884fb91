// ABOUTME: Provider abstraction the sync engine talks to
// ABOUTME: Directory listing, one-page event fetches, and single event lookup
package sync

import (
	"context"
	"time"

	"github.com/harperreed/calmirror/models"
)

// DefaultPageSize is the provider's maximum page size for event lists.
const DefaultPageSize = 250

// Provider opens an authenticated client for a credential.
type Provider interface {
	Connect(ctx context.Context, cred models.Credential) (ProviderClient, error)
}

// ProviderClient is one authenticated session with the calendar provider.
//
// ListEventsPage must return *TokenInvalidError when an incremental query's
// token has been rejected, and *AuthError when the credential is refused.
// GetEvent returns ErrEventNotFound for unknown events.
type ProviderClient interface {
	ListCalendars(ctx context.Context) ([]models.SubCalendar, error)
	ListEventsPage(ctx context.Context, calendarID string, query PageQuery) (*Page, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*models.RawEvent, error)
}

// FetchMode selects between an incremental and a windowed full fetch.
type FetchMode struct {
	SyncToken string
	Start     time.Time
	End       time.Time
}

// Incremental returns a mode that asks for changes since token.
func Incremental(token string) FetchMode {
	return FetchMode{SyncToken: token}
}

// FullWindow returns a mode that lists every event in [start, end].
func FullWindow(start, end time.Time) FetchMode {
	return FetchMode{Start: start, End: end}
}

// IsIncremental reports whether the mode carries a change token.
func (m FetchMode) IsIncremental() bool {
	return m.SyncToken != ""
}

func (m FetchMode) String() string {
	if m.IsIncremental() {
		return "incremental"
	}
	return "full"
}

// PageQuery is one page request.
type PageQuery struct {
	Mode      FetchMode
	PageToken string
	PageSize  int64
}

// Page is one page of provider events.
type Page struct {
	Items         []models.RawEvent
	NextPageToken string
	NextSyncToken string
}
