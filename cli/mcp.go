// ABOUTME: MCP server subcommand
// ABOUTME: Starts the MCP server on stdio with the calendar tools
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/calmirror/handlers"
)

// MCPCommand starts the MCP server on stdio
func MCPCommand(env *Env, version string) error {
	env.Logger.Info("starting MCP server", "user", env.Config.User)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calmirror",
		Version: version,
	}, nil)

	handlers.NewCalendarHandlers(env.Service(), env.Config.User).Register(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return server.Run(ctx, &mcp.StdioTransport{})
}
