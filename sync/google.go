// ABOUTME: Google Calendar implementation of the provider interface
// ABOUTME: Maps calendar/v3 responses and googleapi status codes onto the sync error taxonomy
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harperreed/calmirror/models"
)

// GoogleProvider opens Google Calendar API sessions.
type GoogleProvider struct {
	endpoint   string
	httpClient *http.Client
}

// GoogleOption customizes a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithAPIEndpoint points the provider at a different API base URL.
func WithAPIEndpoint(endpoint string) GoogleOption {
	return func(p *GoogleProvider) { p.endpoint = endpoint }
}

// WithBaseHTTPClient sets the transport used underneath the OAuth client.
func WithBaseHTTPClient(client *http.Client) GoogleOption {
	return func(p *GoogleProvider) { p.httpClient = client }
}

// NewGoogleProvider creates a Google Calendar provider.
func NewGoogleProvider(opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect creates an authenticated Calendar service for cred. The
// credential is used as-is; refresh is the CredentialManager's job.
func (p *GoogleProvider) Connect(ctx context.Context, cred models.Credential) (ProviderClient, error) {
	if cred.AccessToken == "" {
		return nil, &AuthError{Err: errors.New("missing access token")}
	}

	clientCtx := ctx
	if p.httpClient != nil {
		clientCtx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	httpClient := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(TokenFromCredential(cred)))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &googleClient{service: service}, nil
}

type googleClient struct {
	service *calendar.Service
}

func (c *googleClient) ListCalendars(ctx context.Context) ([]models.SubCalendar, error) {
	var calendars []models.SubCalendar

	err := c.service.CalendarList.List().
		MaxResults(DefaultPageSize).
		Pages(ctx, func(list *calendar.CalendarList) error {
			for _, entry := range list.Items {
				if entry == nil || entry.Id == "" {
					continue
				}
				name := entry.Summary
				if entry.SummaryOverride != "" {
					name = entry.SummaryOverride
				}
				calendars = append(calendars, models.SubCalendar{
					ID:         entry.Id,
					Name:       name,
					AccessRole: entry.AccessRole,
					Primary:    entry.Primary,
				})
			}
			return nil
		})
	if err != nil {
		if apiStatus(err) == http.StatusUnauthorized {
			return nil, &AuthError{Err: err}
		}
		return nil, err
	}

	return calendars, nil
}

func (c *googleClient) ListEventsPage(ctx context.Context, calendarID string, query PageQuery) (*Page, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	call := c.service.Events.List(calendarID).
		MaxResults(pageSize).
		SingleEvents(true)

	// Google rejects orderBy and time bounds together with a sync token.
	if query.Mode.IsIncremental() {
		call = call.SyncToken(query.Mode.SyncToken)
	} else {
		call = call.
			OrderBy("startTime").
			TimeMin(query.Mode.Start.Format(time.RFC3339)).
			TimeMax(query.Mode.End.Format(time.RFC3339))
	}

	if query.PageToken != "" {
		call = call.PageToken(query.PageToken)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		switch apiStatus(err) {
		case http.StatusGone:
			if query.Mode.IsIncremental() {
				return nil, &TokenInvalidError{CalendarID: calendarID, Err: err}
			}
		case http.StatusUnauthorized:
			return nil, &AuthError{Err: err}
		}
		return nil, err
	}

	page := &Page{
		Items:         make([]models.RawEvent, 0, len(events.Items)),
		NextPageToken: events.NextPageToken,
		NextSyncToken: events.NextSyncToken,
	}
	for _, event := range events.Items {
		if event == nil {
			continue
		}
		page.Items = append(page.Items, toRawEvent(event))
	}

	return page, nil
}

func (c *googleClient) GetEvent(ctx context.Context, calendarID, eventID string) (*models.RawEvent, error) {
	event, err := c.service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		switch apiStatus(err) {
		case http.StatusNotFound, http.StatusGone:
			return nil, ErrEventNotFound
		case http.StatusUnauthorized:
			return nil, &AuthError{Err: err}
		}
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}

	raw := toRawEvent(event)
	return &raw, nil
}

func toRawEvent(event *calendar.Event) models.RawEvent {
	raw := models.RawEvent{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		HTMLLink:    event.HtmlLink,
		ColorID:     event.ColorId,
		Status:      event.Status,
		Start:       toEventTime(event.Start),
		End:         toEventTime(event.End),
	}

	if payload, err := json.Marshal(event); err == nil {
		raw.Payload = payload
	}

	return raw
}

func toEventTime(t *calendar.EventDateTime) *models.EventTime {
	if t == nil {
		return nil
	}
	return &models.EventTime{
		Date:     t.Date,
		DateTime: t.DateTime,
		TimeZone: t.TimeZone,
	}
}

// apiStatus returns the HTTP status of a googleapi error, or 0.
func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
