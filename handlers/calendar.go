// ABOUTME: Calendar MCP tool handlers
// ABOUTME: Implements the sync, lookup, cache listing, status, and disconnect tools plus the events resource
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calmirror/models"
	calsync "github.com/harperreed/calmirror/sync"
)

// CalendarService is the slice of the sync service exposed over MCP.
type CalendarService interface {
	SyncEvents(ctx context.Context, req calsync.SyncRequest) (*calsync.SyncResponse, error)
	GetEvent(ctx context.Context, userID, calendarID, eventID string) (*models.RawEvent, error)
	CachedEvents(ctx context.Context, userID string, start, end *time.Time) ([]models.MirroredEvent, error)
	Status(ctx context.Context, userID string) (*calsync.Status, error)
	Disconnect(ctx context.Context, userID string) error
}

type CalendarHandlers struct {
	svc    CalendarService
	userID string
	now    func() time.Time
}

func NewCalendarHandlers(svc CalendarService, userID string) *CalendarHandlers {
	return &CalendarHandlers{svc: svc, userID: userID, now: time.Now}
}

// Register adds every calendar tool, resource, and prompt to server.
func (h *CalendarHandlers) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_calendar",
		Description: "Sync events from the connected calendar account, incrementally when possible",
	}, h.SyncCalendar)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_calendar_event",
		Description: "Fetch one event directly from the calendar provider",
	}, h.GetCalendarEvent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_cached_events",
		Description: "List mirrored events from the local cache without calling the provider",
	}, h.ListCachedEvents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "calendar_status",
		Description: "Show connection state, stored sync tokens, and recent sync runs",
	}, h.CalendarStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "disconnect_calendar",
		Description: "Deactivate the connected calendar account",
	}, h.DisconnectCalendar)

	server.AddResource(&mcp.Resource{
		URI:         eventsResourceURI,
		Name:        "cached-events",
		Description: "All mirrored events in the local cache",
		MIMEType:    "application/json",
	}, h.ReadEvents)

	h.RegisterPrompts(server)
}

type SyncCalendarInput struct {
	StartDate     string `json:"start_date,omitempty" jsonschema:"Window start as YYYY-MM-DD (default 30 days ago)"`
	EndDate       string `json:"end_date,omitempty" jsonschema:"Window end as YYYY-MM-DD (default 60 days ahead)"`
	ForceFullSync bool   `json:"force_full_sync,omitempty" jsonschema:"Ignore stored sync tokens and fetch the whole window"`
}

type EventOutput struct {
	ID           string `json:"id"`
	CalendarID   string `json:"calendar_id"`
	CalendarName string `json:"calendar_name"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Start        string `json:"start"`
	End          string `json:"end"`
	AllDay       bool   `json:"all_day"`
	Link         string `json:"link,omitempty"`
}

type CalendarSummary struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Mode    string         `json:"mode"`
	Events  int            `json:"events"`
	Skipped map[string]int `json:"skipped,omitempty"`
	Reset   bool           `json:"token_reset,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type SyncCalendarOutput struct {
	RunID     string            `json:"run_id"`
	FromCache bool              `json:"from_cache"`
	Events    []EventOutput     `json:"events"`
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Failed    int               `json:"failed"`
	Calendars []CalendarSummary `json:"calendars"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func (h *CalendarHandlers) SyncCalendar(ctx context.Context, request *mcp.CallToolRequest, input SyncCalendarInput) (*mcp.CallToolResult, SyncCalendarOutput, error) {
	start, err := parseDay(input.StartDate)
	if err != nil {
		return nil, SyncCalendarOutput{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := parseDay(input.EndDate)
	if err != nil {
		return nil, SyncCalendarOutput{}, fmt.Errorf("invalid end_date: %w", err)
	}

	resp, err := h.svc.SyncEvents(ctx, calsync.SyncRequest{
		UserID:        h.userID,
		ForceFullSync: input.ForceFullSync,
		StartDate:     start,
		EndDate:       end,
	})
	if err != nil {
		return nil, SyncCalendarOutput{}, fmt.Errorf("sync failed: %w", err)
	}

	out := SyncCalendarOutput{
		RunID:     resp.RunID,
		FromCache: resp.FromCache,
		Events:    make([]EventOutput, 0, len(resp.Events)),
		Created:   resp.Cache.Created,
		Updated:   resp.Cache.Updated,
		Failed:    resp.Cache.Failed,
		Warnings:  resp.Warnings,
	}
	for i := range resp.Events {
		out.Events = append(out.Events, eventToOutput(&resp.Events[i]))
	}
	for _, cal := range resp.Calendars {
		summary := CalendarSummary{
			ID:      cal.CalendarID,
			Name:    cal.Name,
			Mode:    cal.Mode,
			Events:  cal.Events,
			Skipped: cal.Skipped,
			Reset:   cal.TokenReset,
			Error:   cal.Error,
		}
		out.Calendars = append(out.Calendars, summary)
	}

	return nil, out, nil
}

type GetCalendarEventInput struct {
	EventID    string `json:"event_id" jsonschema:"Provider event id (required)"`
	CalendarID string `json:"calendar_id,omitempty" jsonschema:"Sub-calendar id (default primary)"`
}

type GetCalendarEventOutput struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

func (h *CalendarHandlers) GetCalendarEvent(ctx context.Context, request *mcp.CallToolRequest, input GetCalendarEventInput) (*mcp.CallToolResult, GetCalendarEventOutput, error) {
	if input.EventID == "" {
		return nil, GetCalendarEventOutput{}, fmt.Errorf("event_id is required")
	}

	event, err := h.svc.GetEvent(ctx, h.userID, input.CalendarID, input.EventID)
	if err != nil {
		return nil, GetCalendarEventOutput{}, fmt.Errorf("failed to get event: %w", err)
	}

	payload := event.Payload
	if len(payload) == 0 {
		payload, err = json.Marshal(event)
		if err != nil {
			return nil, GetCalendarEventOutput{}, fmt.Errorf("failed to encode event: %w", err)
		}
	}

	return nil, GetCalendarEventOutput{ID: event.ID, Event: payload}, nil
}

type ListCachedEventsInput struct {
	StartDate string `json:"start_date,omitempty" jsonschema:"Only events starting on or after this day (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" jsonschema:"Only events starting on or before this day (YYYY-MM-DD)"`
}

type ListCachedEventsOutput struct {
	Events []EventOutput `json:"events"`
	Count  int           `json:"count"`
}

func (h *CalendarHandlers) ListCachedEvents(ctx context.Context, request *mcp.CallToolRequest, input ListCachedEventsInput) (*mcp.CallToolResult, ListCachedEventsOutput, error) {
	start, err := parseDay(input.StartDate)
	if err != nil {
		return nil, ListCachedEventsOutput{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := parseDay(input.EndDate)
	if err != nil {
		return nil, ListCachedEventsOutput{}, fmt.Errorf("invalid end_date: %w", err)
	}

	events, err := h.svc.CachedEvents(ctx, h.userID, start, end)
	if err != nil {
		return nil, ListCachedEventsOutput{}, fmt.Errorf("failed to list cached events: %w", err)
	}

	out := ListCachedEventsOutput{Events: make([]EventOutput, 0, len(events)), Count: len(events)}
	for i := range events {
		out.Events = append(out.Events, eventToOutput(&events[i]))
	}
	return nil, out, nil
}

type CalendarStatusInput struct{}

type RunOutput struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Status    string `json:"status"`
	Events    int    `json:"events"`
	Error     string `json:"error,omitempty"`
	StartedAt string `json:"started_at"`
}

type CalendarStatusOutput struct {
	Connected      bool        `json:"connected"`
	Provider       string      `json:"provider,omitempty"`
	LastSyncTime   string      `json:"last_sync_time,omitempty"`
	TokenCalendars []string    `json:"token_calendars,omitempty"`
	CachedEvents   int         `json:"cached_events"`
	RecentRuns     []RunOutput `json:"recent_runs,omitempty"`
}

func (h *CalendarHandlers) CalendarStatus(ctx context.Context, request *mcp.CallToolRequest, input CalendarStatusInput) (*mcp.CallToolResult, CalendarStatusOutput, error) {
	status, err := h.svc.Status(ctx, h.userID)
	if err != nil {
		return nil, CalendarStatusOutput{}, fmt.Errorf("failed to get status: %w", err)
	}

	out := CalendarStatusOutput{
		Connected:      status.Connected,
		Provider:       status.Provider,
		TokenCalendars: status.TokenCalendars,
		CachedEvents:   status.CachedEvents,
	}
	if status.LastSyncTime != nil {
		out.LastSyncTime = status.LastSyncTime.Format(time.RFC3339)
	}
	for _, run := range status.RecentRuns {
		r := RunOutput{
			ID:        run.ID,
			Mode:      run.Mode,
			Status:    run.Status,
			Events:    run.EventCount,
			StartedAt: run.StartedAt.Format(time.RFC3339),
		}
		if run.ErrorMessage != nil {
			r.Error = *run.ErrorMessage
		}
		out.RecentRuns = append(out.RecentRuns, r)
	}

	return nil, out, nil
}

type DisconnectCalendarInput struct{}

type DisconnectCalendarOutput struct {
	Success bool `json:"success"`
}

func (h *CalendarHandlers) DisconnectCalendar(ctx context.Context, request *mcp.CallToolRequest, input DisconnectCalendarInput) (*mcp.CallToolResult, DisconnectCalendarOutput, error) {
	if err := h.svc.Disconnect(ctx, h.userID); err != nil {
		return nil, DisconnectCalendarOutput{}, fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil, DisconnectCalendarOutput{Success: true}, nil
}

const eventsResourceURI = "calmirror://events"

// ReadEvents serves the cached events resource.
func (h *CalendarHandlers) ReadEvents(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	events, err := h.svc.CachedEvents(ctx, h.userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	out := make([]EventOutput, 0, len(events))
	for i := range events {
		out = append(out, eventToOutput(&events[i]))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      eventsResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}

func eventToOutput(ev *models.MirroredEvent) EventOutput {
	layout := time.RFC3339
	if ev.AllDay {
		layout = "2006-01-02"
	}
	return EventOutput{
		ID:           ev.ProviderEventID,
		CalendarID:   ev.CalendarID,
		CalendarName: ev.CalendarName,
		Title:        ev.Title,
		Description:  ev.Description,
		Start:        ev.Start.Format(layout),
		End:          ev.End.Format(layout),
		AllDay:       ev.AllDay,
		Link:         ev.HTMLLink,
	}
}

func parseDay(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
