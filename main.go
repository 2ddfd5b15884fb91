// ABOUTME: Entry point for the calmirror CLI, API server, and MCP server
// ABOUTME: Loads config, opens the database, and routes to a subcommand
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/harperreed/calmirror/cli"
	"github.com/harperreed/calmirror/config"
	"github.com/harperreed/calmirror/db"
	"github.com/harperreed/calmirror/logging"
)

const version = "0.1.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", config.DefaultPath(), "Config file path")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/calmirror/calmirror.db)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	initOnly := flag.Bool("init", false, "Initialize database and exit")

	// Unknown flags exit with usage; subcommand flags follow the subcommand name.
	flag.Parse()

	if *showVersion {
		fmt.Printf("calmirror version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 && !*initOnly {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
		cfg.Normalize()
	}

	// stdout belongs to command output and the MCP transport
	logger := logging.Setup(cfg.LogLevel, os.Stderr)

	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = database.Close() }()

	if *initOnly {
		logger.Info("database initialized", "path", cfg.DBPath)
		return
	}

	env := &cli.Env{
		Config:     cfg,
		ConfigPath: *configPath,
		DB:         database,
		Logger:     logger,
		Out:        os.Stdout,
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "auth":
		err = cli.AuthCommand(env, commandArgs)
	case "sync":
		err = cli.SyncCommand(env, commandArgs)
	case "event":
		err = cli.EventCommand(env, commandArgs)
	case "status":
		err = cli.StatusCommand(env, commandArgs)
	case "disconnect":
		err = cli.DisconnectCommand(env, commandArgs)
	case "export":
		err = cli.ExportCommand(env, commandArgs)
	case "serve":
		err = cli.ServeCommand(env, commandArgs)
	case "mcp":
		err = cli.MCPCommand(env, version)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		_ = database.Close()
		os.Exit(1)
	}

	if err != nil {
		_ = database.Close()
		log.Fatalf("Error: %v", err)
	}
}

func printUsage() {
	fmt.Printf(`calmirror v%s - Google Calendar mirror

USAGE:
  calmirror [global flags] <command> [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.config/calmirror/config.yaml)
  --db-path <path>       Database path (default: ~/.local/share/calmirror/calmirror.db)
  --log-level <level>    debug, info, warn, or error
  --init                 Initialize database and exit

COMMANDS:
  auth                   Connect a Google Calendar account
    --no-browser           Print the consent URL without opening a browser
    --save                 Save client credentials to the config file

  sync                   Run one sync pass
    --full                 Ignore stored sync tokens
    --start <YYYY-MM-DD>   Window start (default: 30 days ago)
    --end <YYYY-MM-DD>     Window end (default: 60 days ahead)
    --json                 Print the raw response as JSON

  event [--calendar ID] <event-id>
                         Fetch one event live from the provider

  status                 Show connection state and recent sync runs
  disconnect             Deactivate the connected account

  export                 Write cached events as iCalendar
    -o <file>              Output file (default: stdout)
    --start, --end         Limit by start day
    --name <name>          Calendar name

  serve                  Start the JSON API server
    --addr <host:port>     Listen address (default: 127.0.0.1:8080)

  mcp                    Start the MCP server on stdio

ENVIRONMENT:
  GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, CALMIRROR_DB_PATH,
  CALMIRROR_LISTEN, CALMIRROR_USER, CALMIRROR_LOG_LEVEL

`, version)
}
