// ABOUTME: Tests for the Google Calendar provider adapter
// ABOUTME: Serves calendar/v3 JSON from httptest and checks query shape and error mapping
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calmirror/models"
)

type googleFixture struct {
	requests []*http.Request
}

func (g *googleFixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.requests = append(g.requests, r)
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	q := r.URL.Query()

	switch {
	case strings.HasSuffix(path, "/users/me/calendarList"):
		if r.Header.Get("Authorization") == "Bearer revoked" {
			writeAPIError(w, http.StatusUnauthorized, "Invalid Credentials")
			return
		}
		_, _ = w.Write([]byte(`{"items":[
			{"id":"alice@example.com","summary":"alice@example.com","summaryOverride":"Alice","accessRole":"owner","primary":true},
			{"id":"en.usa#holiday@group.v.calendar.google.com","summary":"Holidays","accessRole":"reader"}
		]}`))

	case strings.HasSuffix(path, "/calendars/primary/events"):
		switch {
		case q.Get("syncToken") == "stale":
			writeAPIError(w, http.StatusGone, "Sync token is no longer valid, a full sync is required.")
		case q.Get("syncToken") != "":
			_, _ = w.Write([]byte(`{"items":[{"id":"changed","status":"cancelled"}],"nextSyncToken":"T2"}`))
		case q.Get("pageToken") == "":
			_, _ = w.Write([]byte(`{"items":[
				{"id":"evt-1","summary":"Standup","htmlLink":"https://calendar.google.com/e1","colorId":"2","status":"confirmed",
				 "start":{"dateTime":"2026-06-01T09:00:00Z"},"end":{"dateTime":"2026-06-01T09:15:00Z"}}
			],"nextPageToken":"page-2"}`))
		default:
			_, _ = w.Write([]byte(`{"items":[
				{"id":"evt-2","summary":"Offsite","status":"confirmed","start":{"date":"2026-06-03"},"end":{"date":"2026-06-04"}}
			],"nextSyncToken":"T1"}`))
		}

	case strings.HasSuffix(path, "/calendars/broken/events"):
		writeAPIError(w, http.StatusGone, "Gone")

	case strings.HasSuffix(path, "/calendars/primary/events/evt-1"):
		_, _ = w.Write([]byte(`{"id":"evt-1","summary":"Standup","status":"confirmed","start":{"dateTime":"2026-06-01T09:00:00Z"}}`))

	case strings.Contains(path, "/calendars/primary/events/"):
		writeAPIError(w, http.StatusNotFound, "Not Found")

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, message)
}

func connectFixture(t *testing.T, accessToken string) (ProviderClient, *googleFixture) {
	t.Helper()

	fixture := &googleFixture{}
	srv := httptest.NewServer(fixture)
	t.Cleanup(srv.Close)

	provider := NewGoogleProvider(WithAPIEndpoint(srv.URL+"/"), WithBaseHTTPClient(srv.Client()))
	client, err := provider.Connect(context.Background(), models.Credential{AccessToken: accessToken, TokenType: "Bearer"})
	require.NoError(t, err)
	return client, fixture
}

func TestGoogleListCalendars(t *testing.T) {
	client, fixture := connectFixture(t, "good")

	calendars, err := client.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, calendars, 2)

	assert.Equal(t, models.SubCalendar{ID: "alice@example.com", Name: "Alice", AccessRole: "owner", Primary: true}, calendars[0])
	assert.Equal(t, "Holidays", calendars[1].Name)
	assert.Equal(t, "Bearer good", fixture.requests[0].Header.Get("Authorization"))
}

func TestGoogleListCalendarsUnauthorized(t *testing.T) {
	client, _ := connectFixture(t, "revoked")

	_, err := client.ListCalendars(context.Background())
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestGoogleFullWindowQuery(t *testing.T) {
	client, fixture := connectFixture(t, "good")

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	page, err := client.ListEventsPage(context.Background(), "primary", PageQuery{Mode: FullWindow(start, end), PageSize: 250})
	require.NoError(t, err)

	q := fixture.requests[0].URL.Query()
	assert.Equal(t, "250", q.Get("maxResults"))
	assert.Equal(t, "true", q.Get("singleEvents"))
	assert.Equal(t, "startTime", q.Get("orderBy"))
	assert.Equal(t, "2026-05-01T00:00:00Z", q.Get("timeMin"))
	assert.Equal(t, "2026-07-01T00:00:00Z", q.Get("timeMax"))
	assert.Empty(t, q.Get("syncToken"))

	require.Len(t, page.Items, 1)
	assert.Equal(t, "page-2", page.NextPageToken)
	ev := page.Items[0]
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "Standup", ev.Summary)
	assert.Equal(t, "https://calendar.google.com/e1", ev.HTMLLink)
	assert.Equal(t, "2", ev.ColorID)
	assert.Equal(t, "2026-06-01T09:00:00Z", ev.Start.DateTime)
	assert.Contains(t, string(ev.Payload), `"id":"evt-1"`)
}

func TestGoogleIncrementalQuery(t *testing.T) {
	client, fixture := connectFixture(t, "good")

	page, err := client.ListEventsPage(context.Background(), "primary", PageQuery{Mode: Incremental("T1"), PageSize: 250})
	require.NoError(t, err)

	q := fixture.requests[0].URL.Query()
	assert.Equal(t, "T1", q.Get("syncToken"))
	assert.Empty(t, q.Get("orderBy"))
	assert.Empty(t, q.Get("timeMin"))
	assert.Equal(t, "T2", page.NextSyncToken)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "cancelled", page.Items[0].Status)
}

func TestGoogleStaleSyncToken(t *testing.T) {
	client, _ := connectFixture(t, "good")

	_, err := client.ListEventsPage(context.Background(), "primary", PageQuery{Mode: Incremental("stale")})
	var tokenErr *TokenInvalidError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "primary", tokenErr.CalendarID)
}

func TestGoogleGoneOnFullFetchIsNotTokenError(t *testing.T) {
	client, _ := connectFixture(t, "good")

	_, err := client.ListEventsPage(context.Background(), "broken", PageQuery{Mode: FullWindow(testNow, testNow.Add(time.Hour))})
	require.Error(t, err)
	var tokenErr *TokenInvalidError
	assert.False(t, errors.As(err, &tokenErr))
}

func TestGoogleFetcherDrainsPages(t *testing.T) {
	client, _ := connectFixture(t, "good")

	f := NewEventFetcher(0, 5*time.Second, testLogger())
	result, err := f.Fetch(context.Background(), client, "primary", FullWindow(testNow, testNow.AddDate(0, 1, 0)))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pages)
	assert.Len(t, result.Events, 2)
	assert.Equal(t, "T1", result.SyncToken)
}

func TestGoogleGetEvent(t *testing.T) {
	client, _ := connectFixture(t, "good")

	ev, err := client.GetEvent(context.Background(), "primary", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", ev.Summary)

	_, err = client.GetEvent(context.Background(), "primary", "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestGoogleConnectRequiresAccessToken(t *testing.T) {
	_, err := NewGoogleProvider().Connect(context.Background(), models.Credential{})
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}
