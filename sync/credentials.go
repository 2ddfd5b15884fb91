// ABOUTME: Credential lifecycle for calendar accounts
// ABOUTME: Refreshes expired access tokens once per account and persists them before use
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/harperreed/calmirror/models"
)

// DefaultCredentialLeeway treats tokens this close to expiry as expired.
const DefaultCredentialLeeway = 30 * time.Second

// Refresher obtains a new credential from a refreshable one.
type Refresher interface {
	Refresh(ctx context.Context, cred models.Credential) (models.Credential, error)
}

// CredentialStore persists refreshed credentials.
type CredentialStore interface {
	SaveCredential(ctx context.Context, accountID uuid.UUID, cred models.Credential) error
}

// CredentialManager hands out usable credentials for accounts.
type CredentialManager struct {
	refresher Refresher
	store     CredentialStore
	leeway    time.Duration
	now       func() time.Time
	logger    *log.Logger
	group     singleflight.Group
}

// NewCredentialManager creates a credential manager.
func NewCredentialManager(refresher Refresher, store CredentialStore, logger *log.Logger) *CredentialManager {
	if logger == nil {
		logger = log.Default()
	}
	return &CredentialManager{
		refresher: refresher,
		store:     store,
		leeway:    DefaultCredentialLeeway,
		now:       time.Now,
		logger:    logger,
	}
}

// Ensure returns a credential that is valid now, refreshing and
// persisting it first when it has expired. Concurrent callers for the same
// account share one refresh. On success account.Credential is updated.
// Every failure is an *AuthError.
func (m *CredentialManager) Ensure(ctx context.Context, account *models.CalendarAccount) (models.Credential, error) {
	cred := account.Credential
	if cred.AccessToken != "" && !cred.Expired(m.now(), m.leeway) {
		return cred, nil
	}
	if !cred.Refreshable() {
		return models.Credential{}, &AuthError{Err: errors.New("credential expired and cannot be refreshed")}
	}

	v, err, shared := m.group.Do(account.ID.String(), func() (interface{}, error) {
		// Joined callers share this refresh, so it must outlive the first caller.
		ctx := context.WithoutCancel(ctx)
		fresh, err := m.refresher.Refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = cred.RefreshToken
		}
		if err := m.store.SaveCredential(ctx, account.ID, fresh); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
		}
		return fresh, nil
	})
	if err != nil {
		m.logger.Error("credential refresh failed", "account", account.ID, "err", err)
		return models.Credential{}, &AuthError{Err: err}
	}

	fresh := v.(models.Credential)
	m.logger.Info("credential refreshed", "account", account.ID, "expiry", fresh.Expiry, "shared", shared)
	account.Credential = fresh
	return fresh, nil
}
