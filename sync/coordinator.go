// ABOUTME: Sync coordinator for one calendar account
// ABOUTME: Fans out per sub-calendar fetches, recovers from invalid tokens, and commits the token map once
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/calmirror/models"
)

const (
	// DefaultPastDays is how far back a full fetch reaches without a caller window.
	DefaultPastDays = 30
	// DefaultFutureDays is how far ahead a full fetch reaches without a caller window.
	DefaultFutureDays = 60
	// DefaultMaxConcurrency bounds concurrent sub-calendar fetches.
	DefaultMaxConcurrency = 4
)

// Options controls one sync pass.
type Options struct {
	ForceFullSync bool
	WindowStart   *time.Time
	WindowEnd     *time.Time
}

// CalendarOutcome reports what happened to one sub-calendar.
type CalendarOutcome struct {
	CalendarID   string         `json:"calendar_id"`
	Name         string         `json:"name"`
	Mode         string         `json:"mode"`
	Events       int            `json:"events"`
	Skipped      map[string]int `json:"skipped,omitempty"`
	TokenUpdated bool           `json:"token_updated"`
	TokenReset   bool           `json:"token_reset,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Result is the outcome of one pass.
type Result struct {
	Events    []models.MirroredEvent
	Tokens    map[string]string
	Calendars []CalendarOutcome
	// HasMore is reserved and always false.
	HasMore  bool
	SyncedAt time.Time
	Warnings []string
}

// CredentialSource yields a usable credential for an account.
type CredentialSource interface {
	Ensure(ctx context.Context, account *models.CalendarAccount) (models.Credential, error)
}

// TokenStore applies a token map update for an account.
type TokenStore interface {
	ApplySync(ctx context.Context, accountID uuid.UUID, update models.TokenUpdate) error
}

// CoordinatorConfig tunes a Coordinator.
type CoordinatorConfig struct {
	PastDays       int
	FutureDays     int
	MaxConcurrency int
	CallTimeout    time.Duration
}

// Coordinator runs sync passes.
type Coordinator struct {
	credentials CredentialSource
	provider    Provider
	fetcher     *EventFetcher
	tokens      TokenStore
	logger      *log.Logger
	cfg         CoordinatorConfig
	now         func() time.Time
}

// NewCoordinator creates a coordinator. Zero config values fall back to defaults.
func NewCoordinator(credentials CredentialSource, provider Provider, fetcher *EventFetcher, tokens TokenStore, cfg CoordinatorConfig, logger *log.Logger) *Coordinator {
	if cfg.PastDays <= 0 {
		cfg.PastDays = DefaultPastDays
	}
	if cfg.FutureDays <= 0 {
		cfg.FutureDays = DefaultFutureDays
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	if fetcher == nil {
		fetcher = NewEventFetcher(DefaultPageSize, cfg.CallTimeout, logger)
	}

	return &Coordinator{
		credentials: credentials,
		provider:    provider,
		fetcher:     fetcher,
		tokens:      tokens,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// calendarResult is written once by the goroutine that owns its slot.
type calendarResult struct {
	outcome CalendarOutcome
	events  []models.MirroredEvent
	token   string
	discard bool
}

// Sync runs one pass for account. Credential and directory failures abort
// the pass; every per-calendar failure is recorded in the outcome and the
// remaining calendars still sync. On success account's token map and last
// sync time reflect what was committed.
func (c *Coordinator) Sync(ctx context.Context, account *models.CalendarAccount, opts Options) (*Result, error) {
	start, end, err := c.window(opts)
	if err != nil {
		return nil, err
	}

	cred, err := c.credentials.Ensure(ctx, account)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &AuthError{Err: err}
	}

	client, err := c.provider.Connect(ctx, cred)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &DirectoryError{Err: err}
	}

	calendars, err := c.listCalendars(ctx, client)
	if err != nil {
		return nil, err
	}

	c.logger.Info("syncing calendars", "account", account.ID, "calendars", len(calendars), "force_full", opts.ForceFullSync)

	results := make([]calendarResult, len(calendars))
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)
	for i, cal := range calendars {
		i, cal := i, cal
		g.Go(func() error {
			results[i] = c.syncCalendar(ctx, client, account, cal, opts.ForceFullSync, start, end)
			return nil
		})
	}
	_ = g.Wait()

	syncedAt := c.now()
	result := &Result{
		Events:    []models.MirroredEvent{},
		Calendars: make([]CalendarOutcome, 0, len(results)),
		SyncedAt:  syncedAt,
	}
	update := models.TokenUpdate{Set: map[string]string{}, SyncedAt: syncedAt}

	for _, r := range results {
		result.Events = append(result.Events, r.events...)
		result.Calendars = append(result.Calendars, r.outcome)
		if r.discard {
			update.Discard = append(update.Discard, r.outcome.CalendarID)
		}
		if r.token != "" {
			update.Set[r.outcome.CalendarID] = r.token
		}
	}

	// Only tokens that advanced in this pass are reported.
	result.Tokens = update.Set

	if err := c.tokens.ApplySync(ctx, account.ID, update); err != nil {
		c.logger.Error("failed to save sync tokens", "account", account.ID, "err", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("sync tokens not saved: %v", err))
	} else {
		account.SyncTokens = mergeTokens(account.SyncTokens, update)
		account.LastSyncTime = &syncedAt
	}

	c.logger.Info("sync pass complete", "account", account.ID, "events", len(result.Events), "tokens", len(result.Tokens))
	return result, nil
}

func (c *Coordinator) listCalendars(ctx context.Context, client ProviderClient) ([]models.SubCalendar, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	calendars, err := client.ListCalendars(callCtx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &DirectoryError{Err: err}
	}
	return calendars, nil
}

func (c *Coordinator) syncCalendar(ctx context.Context, client ProviderClient, account *models.CalendarAccount, cal models.SubCalendar, force bool, start, end time.Time) calendarResult {
	res := calendarResult{outcome: CalendarOutcome{CalendarID: cal.ID, Name: cal.Name}}
	logger := c.logger.With("calendar", cal.ID)

	mode := FullWindow(start, end)
	if token, ok := account.SyncToken(cal.ID); ok && !force {
		mode = Incremental(token)
	}

	fetched, err := c.fetcher.Fetch(ctx, client, cal.ID, mode)

	var tokenErr *TokenInvalidError
	if errors.As(err, &tokenErr) && mode.IsIncremental() {
		logger.Warn("sync token invalid, falling back to full sync")
		res.discard = true
		res.outcome.TokenReset = true
		mode = FullWindow(start, end)
		fetched, err = c.fetcher.Fetch(ctx, client, cal.ID, mode)
	}
	res.outcome.Mode = mode.String()

	if err != nil {
		logger.Warn("skipping calendar", "err", err)
		res.outcome.Error = err.Error()
		if fetched == nil || !fetched.Partial {
			return res
		}
		res.outcome.Partial = true
	} else {
		res.token = fetched.SyncToken
		res.outcome.TokenUpdated = fetched.SyncToken != ""
	}

	res.events = make([]models.MirroredEvent, 0, len(fetched.Events))
	for _, raw := range fetched.Events {
		if skip, reason := shouldSkipEvent(raw); skip {
			res.outcome.addSkip(reason)
			continue
		}
		ev, err := MirrorEvent(account.UserID, cal, raw)
		if err != nil {
			logger.Debug("skipping event", "event", raw.ID, "err", err)
			res.outcome.addSkip(skipBadTime)
			continue
		}
		res.events = append(res.events, ev)
	}
	res.outcome.Events = len(res.events)

	logger.Debug("calendar fetched", "mode", res.outcome.Mode, "events", res.outcome.Events, "pages", fetched.Pages)
	return res
}

func (o *CalendarOutcome) addSkip(reason string) {
	if o.Skipped == nil {
		o.Skipped = make(map[string]int)
	}
	o.Skipped[reason]++
}

// window resolves the full-fetch window; each bound defaults independently.
func (c *Coordinator) window(opts Options) (time.Time, time.Time, error) {
	now := c.now()
	start := now.AddDate(0, 0, -c.cfg.PastDays)
	end := now.AddDate(0, 0, c.cfg.FutureDays)
	if opts.WindowStart != nil {
		start = *opts.WindowStart
	}
	if opts.WindowEnd != nil {
		end = *opts.WindowEnd
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, ErrInvalidWindow
	}
	return start, end, nil
}

// mergeTokens applies update to a copy of current.
func mergeTokens(current map[string]string, update models.TokenUpdate) map[string]string {
	merged := make(map[string]string, len(current)+len(update.Set))
	for id, token := range current {
		if token != "" {
			merged[id] = token
		}
	}
	for _, id := range update.Discard {
		delete(merged, id)
	}
	for id, token := range update.Set {
		if token != "" {
			merged[id] = token
		}
	}
	return merged
}
