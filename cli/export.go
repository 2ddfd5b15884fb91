// ABOUTME: iCalendar export CLI command
// ABOUTME: Writes the cached mirror to an .ics file or stdout
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harperreed/calmirror/export"
)

// ExportCommand writes cached events as iCalendar.
func ExportCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	start := fs.String("start", "", "Only events starting on or after this day (YYYY-MM-DD)")
	end := fs.String("end", "", "Only events starting on or before this day (YYYY-MM-DD)")
	name := fs.String("name", "calmirror", "Calendar name in the exported file")
	_ = fs.Parse(args)

	startDate, err := parseDayFlag("start", *start)
	if err != nil {
		return err
	}
	endDate, err := parseDayFlag("end", *end)
	if err != nil {
		return err
	}

	events, err := env.Service().CachedEvents(context.Background(), env.Config.User, startDate, endDate)
	if err != nil {
		return fmt.Errorf("failed to read cached events: %w", err)
	}

	var w io.Writer = env.out()
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *out, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if err := export.WriteICS(w, *name, events, time.Now()); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}

	if *out != "" {
		env.printf("%s Exported %d events to %s\n", okStyle.Render("✓"), len(events), *out)
	}
	return nil
}
