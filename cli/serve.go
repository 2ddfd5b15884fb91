// ABOUTME: API server subcommand
// ABOUTME: Serves the JSON calendar API until interrupted
package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/calmirror/web"
)

// ServeCommand runs the HTTP API.
func ServeCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", env.Config.Listen, "Listen address")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(env.Service(), env.Config.User, env.Logger)
	return server.Start(ctx, *addr)
}
