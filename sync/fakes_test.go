// ABOUTME: Test doubles for the provider, credential, and token store interfaces
// ABOUTME: Scripted pages per calendar and mode, with call recording
package sync

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/harperreed/calmirror/models"
)

type fakeCall struct {
	CalendarID string
	Query      PageQuery
}

type fakeClient struct {
	mu gosync.Mutex

	calendars []models.SubCalendar
	listErr   error

	// pages is keyed by "calendarID|mode".
	pages map[string][]Page
	// errs is keyed by "calendarID|mode" or "calendarID".
	errs map[string]error
	// staleTokens are change tokens the provider rejects.
	staleTokens map[string]bool

	events map[string]*models.RawEvent

	// afterPage runs after each page is served.
	afterPage func(served int)

	calls  []fakeCall
	served int
}

func newFakeClient(calendars ...models.SubCalendar) *fakeClient {
	return &fakeClient{
		calendars:   calendars,
		pages:       map[string][]Page{},
		errs:        map[string]error{},
		staleTokens: map[string]bool{},
		events:      map[string]*models.RawEvent{},
	}
}

func (f *fakeClient) setPages(calendarID, mode string, pages ...Page) {
	f.pages[calendarID+"|"+mode] = pages
}

func (f *fakeClient) ListCalendars(ctx context.Context) ([]models.SubCalendar, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.calendars, nil
}

func (f *fakeClient) ListEventsPage(ctx context.Context, calendarID string, query PageQuery) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{CalendarID: calendarID, Query: query})
	f.mu.Unlock()

	if query.Mode.IsIncremental() && f.staleTokens[query.Mode.SyncToken] {
		return nil, &TokenInvalidError{CalendarID: calendarID, Err: fmt.Errorf("410 gone")}
	}
	if err := f.errs[calendarID+"|"+query.Mode.String()]; err != nil {
		return nil, err
	}
	if err := f.errs[calendarID]; err != nil {
		return nil, err
	}

	pages := f.pages[calendarID+"|"+query.Mode.String()]
	idx := 0
	if query.PageToken != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(query.PageToken, "p"))
		if err != nil {
			return nil, err
		}
		idx = n
	}
	if idx >= len(pages) {
		return &Page{}, nil
	}

	page := pages[idx]
	if page.NextPageToken == "" && idx < len(pages)-1 {
		page.NextPageToken = fmt.Sprintf("p%d", idx+1)
	}

	f.mu.Lock()
	f.served++
	served := f.served
	f.mu.Unlock()
	if f.afterPage != nil {
		f.afterPage(served)
	}

	return &page, nil
}

func (f *fakeClient) GetEvent(ctx context.Context, calendarID, eventID string) (*models.RawEvent, error) {
	ev, ok := f.events[calendarID+"/"+eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return ev, nil
}

func (f *fakeClient) callsFor(calendarID string) []PageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()

	var queries []PageQuery
	for _, c := range f.calls {
		if c.CalendarID == calendarID {
			queries = append(queries, c.Query)
		}
	}
	return queries
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProvider struct {
	client     *fakeClient
	err        error
	connectedN int
	lastCred   models.Credential
}

func (p *fakeProvider) Connect(ctx context.Context, cred models.Credential) (ProviderClient, error) {
	p.connectedN++
	p.lastCred = cred
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

type fakeCredentials struct {
	err   error
	calls int
}

func (c *fakeCredentials) Ensure(ctx context.Context, account *models.CalendarAccount) (models.Credential, error) {
	c.calls++
	if c.err != nil {
		return models.Credential{}, c.err
	}
	return account.Credential, nil
}

type fakeTokenStore struct {
	err     error
	updates []models.TokenUpdate
}

func (s *fakeTokenStore) ApplySync(ctx context.Context, accountID uuid.UUID, update models.TokenUpdate) error {
	s.updates = append(s.updates, update)
	return s.err
}

func timedEvent(id string, start time.Time) models.RawEvent {
	return models.RawEvent{
		ID:      id,
		Summary: "Event " + id,
		Status:  "confirmed",
		Start:   &models.EventTime{DateTime: start.Format(time.RFC3339)},
		End:     &models.EventTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
		Payload: []byte(`{"id":"` + id + `"}`),
	}
}

func eventIDs(events []models.MirroredEvent) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ProviderEventID)
	}
	return ids
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}
