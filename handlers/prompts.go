// ABOUTME: MCP prompt handlers for calendar workflow templates
// ABOUTME: Builds agenda briefings from the cached mirror and sync health reports from status
package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultAgendaDays = 7

// RegisterPrompts adds the calendar prompts to server.
func (h *CalendarHandlers) RegisterPrompts(server *mcp.Server) {
	server.AddPrompt(&mcp.Prompt{
		Name:        "agenda-briefing",
		Description: "Summarize upcoming events from the local calendar mirror",
		Arguments: []*mcp.PromptArgument{
			{Name: "days", Description: "How many days ahead to cover (default 7)"},
		},
	}, h.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "sync-health",
		Description: "Review recent sync runs and token state for problems",
	}, h.GetPrompt)
}

// GetPrompt generates the prompt message based on the template
func (h *CalendarHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "agenda-briefing":
		return h.getAgendaBriefingPrompt(ctx, request.Params.Arguments)
	case "sync-health":
		return h.getSyncHealthPrompt(ctx)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *CalendarHandlers) getAgendaBriefingPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	days := defaultAgendaDays
	if v, ok := args["days"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid days: %q", v)
		}
		days = n
	}

	start := h.now().UTC()
	end := start.AddDate(0, 0, days)
	events, err := h.svc.CachedEvents(ctx, h.userID, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Here is my calendar for the next %d days:\n\n", days))
	if len(events) == 0 {
		promptText.WriteString("(no events)\n")
	}
	for i := range events {
		ev := eventToOutput(&events[i])
		promptText.WriteString(fmt.Sprintf("- %s", ev.Start))
		if !ev.AllDay {
			promptText.WriteString(fmt.Sprintf(" to %s", ev.End))
		} else {
			promptText.WriteString(" (all day)")
		}
		promptText.WriteString(fmt.Sprintf(": %s [%s]\n", ev.Title, ev.CalendarName))
	}

	promptText.WriteString("\nPlease provide:")
	promptText.WriteString("\n1. A short briefing of the week ahead")
	promptText.WriteString("\n2. Any conflicts or back-to-back stretches worth flagging")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Agenda for the next %d days", days),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}

func (h *CalendarHandlers) getSyncHealthPrompt(ctx context.Context) (*mcp.GetPromptResult, error) {
	status, err := h.svc.Status(ctx, h.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("Please review the health of my calendar mirror:\n\n")
	promptText.WriteString(fmt.Sprintf("Connected: %t\n", status.Connected))
	if status.LastSyncTime != nil {
		promptText.WriteString(fmt.Sprintf("Last Sync: %s\n", status.LastSyncTime.Format(time.RFC3339)))
	}
	promptText.WriteString(fmt.Sprintf("Calendars with sync tokens: %d\n", len(status.TokenCalendars)))
	promptText.WriteString(fmt.Sprintf("Cached events: %d\n", status.CachedEvents))

	if len(status.RecentRuns) > 0 {
		promptText.WriteString("\nRecent runs:\n")
		for _, run := range status.RecentRuns {
			promptText.WriteString(fmt.Sprintf("- %s %s %s, %d events, %d failed writes",
				run.StartedAt.Format(time.RFC3339), run.Mode, run.Status, run.EventCount, run.Failed))
			if run.ErrorMessage != nil {
				promptText.WriteString(fmt.Sprintf(", error: %s", *run.ErrorMessage))
			}
			promptText.WriteString("\n")
		}
	}

	promptText.WriteString("\nPoint out failures or stale syncs and suggest what to check.")

	return &mcp.GetPromptResult{
		Description: "Calendar sync health",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}
