// ABOUTME: Shared CLI environment and output styles
// ABOUTME: Builds the sync service from config and renders status lines with lipgloss
package cli

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/harperreed/calmirror/config"
	calsync "github.com/harperreed/calmirror/sync"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(16)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Env is what every subcommand runs against.
type Env struct {
	Config     *config.Config
	ConfigPath string
	DB         *sql.DB
	Logger     *log.Logger
	Out        io.Writer

	// Provider overrides the Google provider, for tests.
	Provider calsync.Provider
	// Refresher overrides the OAuth refresher, for tests.
	Refresher calsync.Refresher
}

// Service builds the sync service described by the config.
func (e *Env) Service() *calsync.Service {
	cfg := e.Config
	oauthCfg := calsync.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)

	var provider calsync.Provider = calsync.NewGoogleProvider()
	if e.Provider != nil {
		provider = e.Provider
	}
	var refresher calsync.Refresher = calsync.NewOAuthRefresher(oauthCfg)
	if e.Refresher != nil {
		refresher = e.Refresher
	}

	return calsync.NewService(e.DB, provider, refresher, calsync.ServiceConfig{
		Coordinator: calsync.CoordinatorConfig{
			PastDays:       cfg.Sync.PastDays,
			FutureDays:     cfg.Sync.FutureDays,
			MaxConcurrency: cfg.Sync.MaxConcurrency,
			CallTimeout:    cfg.Sync.CallTimeout,
		},
		PageSize: cfg.Sync.PageSize,
		Cache: calsync.CacheConfig{
			BatchSize:  cfg.Cache.BatchSize,
			BatchPause: cfg.Cache.BatchPause,
			Retry: calsync.RetryPolicy{
				MaxAttempts: cfg.Cache.MaxAttempts,
				BaseDelay:   cfg.Cache.BaseDelay,
			},
		},
		Endpoint: calsync.EndpointFromConfig(oauthCfg),
	}, e.Logger)
}

func (e *Env) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

func (e *Env) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(e.out(), format, args...)
}

func (e *Env) field(label string, value interface{}) {
	e.printf("%s %v\n", labelStyle.Render(label), value)
}
