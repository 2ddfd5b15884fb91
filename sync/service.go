// ABOUTME: Calendar service facade used by the CLI, web API, and MCP tools
// ABOUTME: Runs sync passes, caches their events, records sync runs, and manages the connection
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/calmirror/db"
	"github.com/harperreed/calmirror/models"
)

const (
	// Cache fallback window when a pass returns nothing.
	fallbackPastDays   = 30
	fallbackFutureDays = 90

	// PrimaryCalendarID is the provider alias for the account's own calendar.
	PrimaryCalendarID = "primary"
)

// SyncRequest is one inbound sync call.
type SyncRequest struct {
	UserID        string
	ForceFullSync bool
	StartDate     *time.Time
	EndDate       *time.Time
}

// SyncResponse is what a sync call returns to its caller.
type SyncResponse struct {
	RunID      string                 `json:"run_id"`
	Events     []models.MirroredEvent `json:"events"`
	SyncTokens map[string]string      `json:"sync_tokens"`
	HasMore    bool                   `json:"has_more"`
	FromCache  bool                   `json:"from_cache"`
	Cache      CacheStats             `json:"cache"`
	Calendars  []CalendarOutcome      `json:"calendars"`
	Warnings   []string               `json:"warnings,omitempty"`
	SyncedAt   time.Time              `json:"synced_at"`
}

// Status describes a user's calendar connection.
type Status struct {
	Connected      bool             `json:"connected"`
	Provider       string           `json:"provider"`
	ConnectedAt    *time.Time       `json:"connected_at,omitempty"`
	LastSyncTime   *time.Time       `json:"last_sync_time,omitempty"`
	TokenCalendars []string         `json:"token_calendars"`
	CachedEvents   int              `json:"cached_events"`
	RecentRuns     []models.SyncRun `json:"recent_runs,omitempty"`
}

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	Coordinator CoordinatorConfig
	PageSize    int64
	Cache       CacheConfig
	Endpoint    models.ProviderEndpoint
}

// Service ties the sync engine to its storage.
type Service struct {
	accounts    *db.AccountsRepository
	events      *db.EventsRepository
	runs        *db.SyncRunsRepository
	provider    Provider
	credentials *CredentialManager
	coordinator *Coordinator
	cache       *EventCache
	cfg         ServiceConfig
	logger      *log.Logger
	now         func() time.Time
}

// NewService wires a Service over database.
func NewService(database *sql.DB, provider Provider, refresher Refresher, cfg ServiceConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	accounts := db.NewAccountsRepository(database)
	events := db.NewEventsRepository(database)
	credentials := NewCredentialManager(refresher, accounts, logger)
	fetcher := NewEventFetcher(cfg.PageSize, cfg.Coordinator.CallTimeout, logger)

	return &Service{
		accounts:    accounts,
		events:      events,
		runs:        db.NewSyncRunsRepository(database),
		provider:    provider,
		credentials: credentials,
		coordinator: NewCoordinator(credentials, provider, fetcher, accounts, cfg.Coordinator, logger),
		cache:       NewEventCache(events, cfg.Cache, logger),
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SyncEvents runs a sync pass for the user and caches the result. When the
// pass yields no events the cached mirror around now is returned instead.
func (s *Service) SyncEvents(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	account, err := s.activeAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	run := &models.SyncRun{
		ID:        ulid.Make().String(),
		AccountID: account.ID,
		Mode:      runMode(req.ForceFullSync),
		StartedAt: s.now(),
	}
	if err := s.runs.StartRun(ctx, run); err != nil {
		s.logger.Warn("failed to record sync run", "run", run.ID, "err", err)
	}

	result, err := s.coordinator.Sync(ctx, account, Options{
		ForceFullSync: req.ForceFullSync,
		WindowStart:   req.StartDate,
		WindowEnd:     req.EndDate,
	})
	if err != nil {
		s.finishRun(ctx, run, err)
		return nil, err
	}

	// Events already fetched are cached even if the caller has gone away.
	stats := s.cache.Store(context.WithoutCancel(ctx), result.Events)
	run.EventCount = len(result.Events)
	run.Created = stats.Created
	run.Updated = stats.Updated
	run.Failed = stats.Failed

	resp := &SyncResponse{
		RunID:      run.ID,
		Events:     result.Events,
		SyncTokens: result.Tokens,
		HasMore:    result.HasMore,
		Cache:      stats,
		Calendars:  result.Calendars,
		Warnings:   result.Warnings,
		SyncedAt:   result.SyncedAt,
	}

	if len(resp.Events) == 0 {
		now := s.now()
		cached, err := s.events.ListRange(ctx, req.UserID,
			now.AddDate(0, 0, -fallbackPastDays), now.AddDate(0, 0, fallbackFutureDays))
		if err != nil {
			s.logger.Warn("failed to read cached events", "user", req.UserID, "err", err)
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("cached events unavailable: %v", err))
		} else if len(cached) > 0 {
			resp.Events = cached
			resp.FromCache = true
		}
	}

	s.finishRun(ctx, run, nil)
	return resp, nil
}

// GetEvent fetches one event straight from the provider, bypassing the cache.
func (s *Service) GetEvent(ctx context.Context, userID, calendarID, eventID string) (*models.RawEvent, error) {
	if eventID == "" {
		return nil, ErrEventNotFound
	}
	if calendarID == "" {
		calendarID = PrimaryCalendarID
	}

	account, err := s.activeAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	cred, err := s.credentials.Ensure(ctx, account)
	if err != nil {
		return nil, err
	}

	client, err := s.provider.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()

	return client.GetEvent(callCtx, calendarID, eventID)
}

// Connect stores a freshly granted credential for the user, reactivating
// any previous account and clearing its sync tokens.
func (s *Service) Connect(ctx context.Context, userID string, cred models.Credential) (*models.CalendarAccount, error) {
	if cred.AccessToken == "" {
		return nil, &AuthError{Err: errors.New("missing access token")}
	}

	account := &models.CalendarAccount{
		UserID:     userID,
		Provider:   models.ProviderGoogle,
		Credential: cred,
		Endpoint:   s.cfg.Endpoint,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save calendar account: %w", err)
	}

	s.logger.Info("calendar connected", "user", userID, "account", account.ID)
	return account, nil
}

// Status reports the user's connection and recent sync history.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	status := &Status{Provider: models.ProviderGoogle, TokenCalendars: []string{}}

	account, err := s.accounts.GetActive(ctx, userID, models.ProviderGoogle)
	if errors.Is(err, db.ErrAccountNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	status.Connected = true
	connectedAt := account.CreatedAt
	status.ConnectedAt = &connectedAt
	status.LastSyncTime = account.LastSyncTime
	for calendarID := range account.SyncTokens {
		status.TokenCalendars = append(status.TokenCalendars, calendarID)
	}

	status.CachedEvents, err = s.events.Count(ctx, userID)
	if err != nil {
		return nil, err
	}

	status.RecentRuns, err = s.runs.RecentRuns(ctx, account.ID, 5)
	if err != nil {
		return nil, err
	}

	return status, nil
}

// Disconnect deactivates the user's account. Cached events are kept.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	err := s.accounts.Deactivate(ctx, userID, models.ProviderGoogle)
	if errors.Is(err, db.ErrAccountNotFound) {
		return ErrNotConnected
	}
	if err != nil {
		return err
	}

	s.logger.Info("calendar disconnected", "user", userID)
	return nil
}

// CachedEvents lists the mirror for a window, or all of it when both bounds are nil.
func (s *Service) CachedEvents(ctx context.Context, userID string, start, end *time.Time) ([]models.MirroredEvent, error) {
	if start == nil && end == nil {
		return s.events.ListAll(ctx, userID)
	}

	now := s.now()
	from := now.AddDate(0, 0, -fallbackPastDays)
	to := now.AddDate(0, 0, fallbackFutureDays)
	if start != nil {
		from = *start
	}
	if end != nil {
		to = *end
	}
	if !from.Before(to) {
		return nil, ErrInvalidWindow
	}

	return s.events.ListRange(ctx, userID, from, to)
}

func (s *Service) activeAccount(ctx context.Context, userID string) (*models.CalendarAccount, error) {
	account, err := s.accounts.GetActive(ctx, userID, models.ProviderGoogle)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar account: %w", err)
	}
	return account, nil
}

func (s *Service) finishRun(ctx context.Context, run *models.SyncRun, syncErr error) {
	run.Status = models.RunSucceeded
	if syncErr != nil {
		run.Status = models.RunFailed
		msg := syncErr.Error()
		run.ErrorMessage = &msg
	}

	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("failed to record sync run result", "run", run.ID, "err", err)
	}
}

func (s *Service) callTimeout() time.Duration {
	if s.cfg.Coordinator.CallTimeout > 0 {
		return s.cfg.Coordinator.CallTimeout
	}
	return DefaultCallTimeout
}

func runMode(force bool) string {
	if force {
		return "full"
	}
	return "incremental"
}
