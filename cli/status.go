// ABOUTME: Connection status and disconnect CLI commands
// ABOUTME: Prints account state, stored sync tokens, and recent sync runs
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harperreed/calmirror/models"
	calsync "github.com/harperreed/calmirror/sync"
)

// StatusCommand prints the configured user's calendar connection.
func StatusCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	status, err := env.Service().Status(context.Background(), env.Config.User)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	env.printf("%s\n\n", titleStyle.Render("Calendar mirror"))
	env.field("User", env.Config.User)

	if !status.Connected {
		env.field("Connected", errStyle.Render("no"))
		env.printf("\nRun 'calmirror auth' to connect a calendar.\n")
		return nil
	}

	env.field("Connected", okStyle.Render("yes"))
	env.field("Provider", status.Provider)
	if status.ConnectedAt != nil {
		env.field("Since", status.ConnectedAt.Local().Format(time.RFC1123))
	}
	if status.LastSyncTime != nil {
		env.field("Last sync", fmt.Sprintf("%s (%s ago)",
			status.LastSyncTime.Local().Format(time.RFC1123),
			time.Since(*status.LastSyncTime).Round(time.Second)))
	} else {
		env.field("Last sync", dimStyle.Render("never"))
	}

	calendars := append([]string(nil), status.TokenCalendars...)
	sort.Strings(calendars)
	if len(calendars) == 0 {
		env.field("Sync tokens", dimStyle.Render("none"))
	} else {
		env.field("Sync tokens", strings.Join(calendars, ", "))
	}
	env.field("Cached events", status.CachedEvents)

	if len(status.RecentRuns) > 0 {
		env.printf("\n%s\n", titleStyle.Render("Recent runs"))
		for _, run := range status.RecentRuns {
			env.printf("  %s %s  %-11s %d events%s\n",
				runGlyph(run), run.StartedAt.Local().Format("2006-01-02 15:04"), run.Mode, run.EventCount, runDetail(run))
		}
	}

	return nil
}

func runGlyph(run models.SyncRun) string {
	switch run.Status {
	case models.RunSucceeded:
		return okStyle.Render("✓")
	case models.RunFailed:
		return errStyle.Render("✗")
	default:
		return warnStyle.Render("…")
	}
}

func runDetail(run models.SyncRun) string {
	if run.ErrorMessage != nil {
		return "  " + errStyle.Render(*run.ErrorMessage)
	}
	if run.Failed > 0 {
		return "  " + warnStyle.Render(fmt.Sprintf("%d failed writes", run.Failed))
	}
	return ""
}

// DisconnectCommand deactivates the configured user's account.
func DisconnectCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("disconnect", flag.ExitOnError)
	_ = fs.Parse(args)

	err := env.Service().Disconnect(context.Background(), env.Config.User)
	if errors.Is(err, calsync.ErrNotConnected) {
		env.printf("No calendar is connected for %s\n", env.Config.User)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	env.printf("%s Calendar disconnected for %s. Cached events were kept.\n", okStyle.Render("✓"), env.Config.User)
	return nil
}
