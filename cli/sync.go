// ABOUTME: Calendar sync and event lookup CLI commands
// ABOUTME: Runs one sync pass and prints per-calendar results, or fetches a single live event
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	calsync "github.com/harperreed/calmirror/sync"
)

const dayLayout = "2006-01-02"

// SyncCommand runs one sync pass for the configured user.
func SyncCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	full := fs.Bool("full", false, "Ignore stored sync tokens and fetch the whole window")
	start := fs.String("start", "", "Window start (YYYY-MM-DD)")
	end := fs.String("end", "", "Window end (YYYY-MM-DD)")
	asJSON := fs.Bool("json", false, "Print the raw sync response as JSON")
	_ = fs.Parse(args)

	startDate, err := parseDayFlag("start", *start)
	if err != nil {
		return err
	}
	endDate, err := parseDayFlag("end", *end)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !*asJSON {
		env.printf("Syncing calendars for %s...\n", env.Config.User)
	}

	resp, err := env.Service().SyncEvents(ctx, calsync.SyncRequest{
		UserID:        env.Config.User,
		ForceFullSync: *full,
		StartDate:     startDate,
		EndDate:       endDate,
	})
	if err != nil {
		return fmt.Errorf("calendar sync failed: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(env.out())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	printSyncResult(env, resp)
	return nil
}

func printSyncResult(env *Env, resp *calsync.SyncResponse) {
	for _, cal := range resp.Calendars {
		if cal.Error != "" {
			env.printf("  %s %s: %s\n", errStyle.Render("✗"), cal.Name, cal.Error)
			continue
		}

		line := fmt.Sprintf("%s (%s): %d events", cal.Name, cal.Mode, cal.Events)
		if cal.TokenReset {
			line += ", token reset"
		}
		if skipped := formatSkips(cal.Skipped); skipped != "" {
			line += ", skipped " + skipped
		}
		env.printf("  → %s\n", line)
	}

	if resp.FromCache {
		env.printf("\n%s No new events; showing %d cached events\n", warnStyle.Render("!"), len(resp.Events))
	} else {
		env.printf("\n%s Synced %d events (%d created, %d updated", okStyle.Render("✓"),
			len(resp.Events), resp.Cache.Created, resp.Cache.Updated)
		if resp.Cache.Failed > 0 {
			env.printf(", %s", errStyle.Render(fmt.Sprintf("%d failed", resp.Cache.Failed)))
		}
		env.printf(")\n")
	}

	for _, w := range resp.Warnings {
		env.printf("%s %s\n", warnStyle.Render("!"), w)
	}
	env.printf("%s\n", dimStyle.Render("run "+resp.RunID))
}

func formatSkips(skipped map[string]int) string {
	if len(skipped) == 0 {
		return ""
	}
	reasons := make([]string, 0, len(skipped))
	for reason := range skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		parts = append(parts, fmt.Sprintf("%d %s", skipped[reason], reason))
	}
	return strings.Join(parts, ", ")
}

// EventCommand fetches one event straight from the provider.
func EventCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("event", flag.ExitOnError)
	calendarID := fs.String("calendar", calsync.PrimaryCalendarID, "Sub-calendar id")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: calmirror event [--calendar ID] <event-id>")
	}

	event, err := env.Service().GetEvent(context.Background(), env.Config.User, *calendarID, fs.Arg(0))
	if err != nil {
		return err
	}

	var payload interface{} = event
	if len(event.Payload) > 0 {
		payload = event.Payload
	}
	enc := json.NewEncoder(env.out())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func parseDayFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dayLayout, v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, v)
	}
	return &t, nil
}
