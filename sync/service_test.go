// ABOUTME: Tests for the calendar service facade
// ABOUTME: Runs sync passes against in-memory SQLite with a scripted provider
package sync

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/calmirror/db"
	"github.com/harperreed/calmirror/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.OpenDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return database
}

func newTestService(t *testing.T, client *fakeClient, refresher Refresher) (*Service, *sql.DB) {
	t.Helper()

	database := setupTestDB(t)
	if refresher == nil {
		refresher = &fakeRefresher{}
	}
	svc := NewService(database, &fakeProvider{client: client}, refresher, ServiceConfig{
		Coordinator: CoordinatorConfig{CallTimeout: time.Second},
		Cache:       fastCacheConfig(),
		Endpoint:    models.ProviderEndpoint{TokenURL: "https://oauth2.example/token"},
	}, testLogger())
	return svc, database
}

func validCredential() models.Credential {
	return models.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func TestServiceSyncNotConnected(t *testing.T) {
	svc, _ := newTestService(t, newFakeClient(primaryCal), nil)

	_, err := svc.SyncEvents(context.Background(), SyncRequest{UserID: "alice"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServiceSyncCachesAndRecordsRun(t *testing.T) {
	now := time.Now().UTC()
	client := newFakeClient(primaryCal, holidaysCal)
	client.setPages("primary", "full", Page{Items: []models.RawEvent{timedEvent("p1", now), timedEvent("p2", now.Add(time.Hour))}, NextSyncToken: "P1"})
	client.setPages("holidays", "full", Page{Items: []models.RawEvent{timedEvent("h1", now)}, NextSyncToken: "H1"})

	svc, database := newTestService(t, client, nil)
	ctx := context.Background()

	account, err := svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)

	resp, err := svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RunID)
	assert.Len(t, resp.Events, 3)
	assert.False(t, resp.FromCache)
	assert.False(t, resp.HasMore)
	assert.Equal(t, CacheStats{Created: 3}, resp.Cache)
	assert.Equal(t, map[string]string{"primary": "P1", "holidays": "H1"}, resp.SyncTokens)

	stored, err := db.NewAccountsRepository(database).GetActive(ctx, "alice", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, resp.SyncTokens, stored.SyncTokens)
	assert.NotNil(t, stored.LastSyncTime)

	runs, err := db.NewSyncRunsRepository(database).RecentRuns(ctx, account.ID, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0].ID)
	assert.Equal(t, models.RunSucceeded, runs[0].Status)
	assert.Equal(t, 3, runs[0].EventCount)
	assert.Equal(t, 3, runs[0].Created)
}

func TestServiceCancelledSyncStillCachesFetchedEvents(t *testing.T) {
	now := time.Now().UTC()
	client := newFakeClient(primaryCal)
	client.setPages("primary", "full",
		Page{Items: []models.RawEvent{timedEvent("p1", now), timedEvent("p2", now.Add(time.Hour))}},
		Page{Items: []models.RawEvent{timedEvent("p3", now.Add(2 * time.Hour))}, NextSyncToken: "P1"},
	)

	svc, _ := newTestService(t, client, nil)
	_, err := svc.Connect(context.Background(), "alice", validCredential())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.afterPage = func(served int) {
		if served == 1 {
			cancel()
		}
	}

	resp, err := svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)

	require.Len(t, resp.Calendars, 1)
	assert.True(t, resp.Calendars[0].Partial)
	assert.Len(t, resp.Events, 2)
	assert.Empty(t, resp.SyncTokens)
	assert.Equal(t, CacheStats{Created: 2}, resp.Cache)

	cached, err := svc.CachedEvents(context.Background(), "alice", nil, nil)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

func TestServiceIncrementalNoChangesFallsBackToCache(t *testing.T) {
	now := time.Now().UTC()
	client := newFakeClient(primaryCal)
	client.setPages("primary", "full", Page{Items: []models.RawEvent{timedEvent("p1", now)}, NextSyncToken: "P1"})
	client.setPages("primary", "incremental", Page{NextSyncToken: "P2"})

	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	_, err := svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)

	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)

	resp, err := svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)

	calls := client.callsFor("primary")
	require.Len(t, calls, 2)
	assert.Equal(t, "P1", calls[1].Mode.SyncToken)

	assert.True(t, resp.FromCache)
	assert.Equal(t, []string{"p1"}, eventIDs(resp.Events))
	assert.Equal(t, "P2", resp.SyncTokens["primary"])
}

func TestServiceForcedSyncRecordsMode(t *testing.T) {
	client := newFakeClient(primaryCal)
	client.setPages("primary", "full", Page{Items: []models.RawEvent{timedEvent("p1", time.Now())}})

	svc, database := newTestService(t, client, nil)
	ctx := context.Background()

	account, err := svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)

	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice", ForceFullSync: true})
	require.NoError(t, err)

	runs, err := db.NewSyncRunsRepository(database).RecentRuns(ctx, account.ID, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "full", runs[0].Mode)
}

func TestServiceFailedPassRecordsRun(t *testing.T) {
	client := newFakeClient()
	client.listErr = errors.New("backend unavailable")

	svc, database := newTestService(t, client, nil)
	ctx := context.Background()

	account, err := svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)

	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	var dirErr *DirectoryError
	require.ErrorAs(t, err, &dirErr)

	runs, err := db.NewSyncRunsRepository(database).RecentRuns(ctx, account.ID, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
	assert.Contains(t, *runs[0].ErrorMessage, "backend unavailable")
}

func TestServiceRefreshesExpiredCredential(t *testing.T) {
	client := newFakeClient(primaryCal)
	refresher := &fakeRefresher{}
	svc, database := newTestService(t, client, refresher)
	ctx := context.Background()

	cred := validCredential()
	cred.Expiry = time.Now().Add(-time.Hour)
	_, err := svc.Connect(ctx, "alice", cred)
	require.NoError(t, err)

	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), refresher.calls.Load())

	stored, err := db.NewAccountsRepository(database).GetActive(ctx, "alice", models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", stored.Credential.AccessToken)
	assert.Equal(t, "refresh", stored.Credential.RefreshToken)
}

func TestServiceGetEvent(t *testing.T) {
	client := newFakeClient(primaryCal)
	raw := timedEvent("evt-1", time.Now())
	client.events["primary/evt-1"] = &raw

	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	_, err := svc.GetEvent(ctx, "alice", "", "evt-1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)

	got, err := svc.GetEvent(ctx, "alice", "", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.ID)

	_, err = svc.GetEvent(ctx, "alice", "primary", "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = svc.GetEvent(ctx, "alice", "primary", "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestServiceStatusAndDisconnect(t *testing.T) {
	client := newFakeClient(primaryCal)
	client.setPages("primary", "full", Page{Items: []models.RawEvent{timedEvent("p1", time.Now())}, NextSyncToken: "P1"})

	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	status, err := svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	_, err = svc.Connect(ctx, "alice", validCredential())
	require.NoError(t, err)
	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	require.NoError(t, err)

	status, err = svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.NotNil(t, status.ConnectedAt)
	assert.NotNil(t, status.LastSyncTime)
	assert.Equal(t, []string{"primary"}, status.TokenCalendars)
	assert.Equal(t, 1, status.CachedEvents)
	assert.Len(t, status.RecentRuns, 1)

	require.NoError(t, svc.Disconnect(ctx, "alice"))
	assert.ErrorIs(t, svc.Disconnect(ctx, "bob"), ErrNotConnected)

	status, err = svc.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	_, err = svc.SyncEvents(ctx, SyncRequest{UserID: "alice"})
	assert.ErrorIs(t, err, ErrNotConnected)

	cached, err := svc.CachedEvents(ctx, "alice", nil, nil)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "disconnect keeps the mirror")
}

func TestServiceCachedEventsWindow(t *testing.T) {
	svc, _ := newTestService(t, newFakeClient(), nil)

	start := time.Now()
	end := start.Add(-time.Hour)
	_, err := svc.CachedEvents(context.Background(), "alice", &start, &end)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
