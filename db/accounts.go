// ABOUTME: Repository for calendar accounts and their per-calendar sync tokens
// ABOUTME: Token map updates and last_sync_time advance happen in one transaction
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/calmirror/models"
)

// AccountsRepository persists CalendarAccount records.
type AccountsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{db: db, now: time.Now}
}

// Upsert creates or replaces the account for (UserID, Provider). A
// reconnect reactivates the account and clears stale sync tokens.
func (r *AccountsRepository) Upsert(ctx context.Context, account *models.CalendarAccount) error {
	if account == nil || account.UserID == "" {
		return fmt.Errorf("account user id is required")
	}
	if account.Provider == "" {
		account.Provider = models.ProviderGoogle
	}

	scopes, err := json.Marshal(account.Endpoint.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}

	now := r.now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM calendar_accounts WHERE user_id = ? AND provider = ?
	`, account.UserID, account.Provider).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		if account.ID == uuid.Nil {
			account.ID = uuid.New()
		}
		account.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO calendar_accounts (id, user_id, provider, access_token, refresh_token, token_type, expiry,
				token_url, scopes, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, account.ID.String(), account.UserID, account.Provider,
			account.Credential.AccessToken, nullString(account.Credential.RefreshToken),
			nullString(account.Credential.TokenType), nullTime(account.Credential.Expiry),
			nullString(account.Endpoint.TokenURL), string(scopes), now, now)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", classify(err))
		}
	case err != nil:
		return fmt.Errorf("failed to look up account: %w", classify(err))
	default:
		id, parseErr := uuid.Parse(existingID)
		if parseErr != nil {
			return fmt.Errorf("invalid account id %q: %w", existingID, parseErr)
		}
		account.ID = id
		_, err = tx.ExecContext(ctx, `
			UPDATE calendar_accounts
			SET access_token = ?, refresh_token = COALESCE(?, refresh_token), token_type = ?, expiry = ?,
				token_url = ?, scopes = ?, is_active = 1, updated_at = ?
			WHERE id = ?
		`, account.Credential.AccessToken, nullString(account.Credential.RefreshToken),
			nullString(account.Credential.TokenType), nullTime(account.Credential.Expiry),
			nullString(account.Endpoint.TokenURL), string(scopes), now, existingID)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_sync_tokens WHERE account_id = ?`, existingID); err != nil {
			return fmt.Errorf("failed to clear sync tokens: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}

	account.Active = true
	account.UpdatedAt = now
	account.SyncTokens = map[string]string{}
	return nil
}

// GetActive returns the active account for a user and provider, with its token map.
func (r *AccountsRepository) GetActive(ctx context.Context, userID, provider string) (*models.CalendarAccount, error) {
	account, err := r.get(ctx, `WHERE user_id = ? AND provider = ? AND is_active = 1`, userID, provider)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns the account for a user and provider regardless of its active flag.
func (r *AccountsRepository) Get(ctx context.Context, userID, provider string) (*models.CalendarAccount, error) {
	return r.get(ctx, `WHERE user_id = ? AND provider = ?`, userID, provider)
}

func (r *AccountsRepository) get(ctx context.Context, where string, args ...interface{}) (*models.CalendarAccount, error) {
	var account models.CalendarAccount
	var id string
	var refreshToken, tokenType, tokenURL, scopes sql.NullString
	var expiry, lastSync sql.NullTime
	var active int

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, access_token, refresh_token, token_type, expiry, token_url, scopes,
			is_active, last_sync_time, created_at, updated_at
		FROM calendar_accounts
		`+where, args...).Scan(
		&id,
		&account.UserID,
		&account.Provider,
		&account.Credential.AccessToken,
		&refreshToken,
		&tokenType,
		&expiry,
		&tokenURL,
		&scopes,
		&active,
		&lastSync,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", classify(err))
	}

	account.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", id, err)
	}
	account.Credential.RefreshToken = refreshToken.String
	account.Credential.TokenType = tokenType.String
	if expiry.Valid {
		account.Credential.Expiry = expiry.Time
	}
	account.Endpoint.TokenURL = tokenURL.String
	if scopes.Valid && scopes.String != "" && scopes.String != "null" {
		if err := json.Unmarshal([]byte(scopes.String), &account.Endpoint.Scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
	}
	account.Active = active != 0
	if lastSync.Valid {
		account.LastSyncTime = &lastSync.Time
	}

	account.SyncTokens, err = r.syncTokens(ctx, id)
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func (r *AccountsRepository) syncTokens(ctx context.Context, accountID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT calendar_id, sync_token FROM calendar_sync_tokens WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tokens: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	tokens := make(map[string]string)
	for rows.Next() {
		var calendarID, token string
		if err := rows.Scan(&calendarID, &token); err != nil {
			return nil, fmt.Errorf("failed to scan sync token: %w", err)
		}
		tokens[calendarID] = token
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync tokens: %w", err)
	}

	return tokens, nil
}

// SaveCredential persists a refreshed credential for an account.
func (r *AccountsRepository) SaveCredential(ctx context.Context, accountID uuid.UUID, cred models.Credential) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE calendar_accounts
		SET access_token = ?, refresh_token = COALESCE(?, refresh_token), token_type = ?, expiry = ?, updated_at = ?
		WHERE id = ?
	`, cred.AccessToken, nullString(cred.RefreshToken), nullString(cred.TokenType), nullTime(cred.Expiry),
		r.now().UTC(), accountID.String())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", classify(err))
	}

	return requireRow(result, ErrAccountNotFound)
}

// ApplySync applies one token map update and advances last_sync_time.
// Tokens are merged by calendar id; discarded ids are removed unless the
// same update also sets them.
func (r *AccountsRepository) ApplySync(ctx context.Context, accountID uuid.UUID, update models.TokenUpdate) error {
	syncedAt := update.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = r.now()
	}
	syncedAt = syncedAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE calendar_accounts SET last_sync_time = ?, updated_at = ? WHERE id = ?
	`, syncedAt, syncedAt, accountID.String())
	if err != nil {
		return fmt.Errorf("failed to advance last sync time: %w", classify(err))
	}
	if err := requireRow(result, ErrAccountNotFound); err != nil {
		return err
	}

	for _, calendarID := range update.Discard {
		if _, replaced := update.Set[calendarID]; replaced {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM calendar_sync_tokens WHERE account_id = ? AND calendar_id = ?
		`, accountID.String(), calendarID)
		if err != nil {
			return fmt.Errorf("failed to discard sync token: %w", classify(err))
		}
	}

	for calendarID, token := range update.Set {
		if token == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calendar_sync_tokens (account_id, calendar_id, sync_token, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account_id, calendar_id) DO UPDATE SET
				sync_token = excluded.sync_token,
				updated_at = excluded.updated_at
		`, accountID.String(), calendarID, token, syncedAt)
		if err != nil {
			return fmt.Errorf("failed to update sync token: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}

	return nil
}

// Deactivate soft-deactivates the account for a user and provider.
func (r *AccountsRepository) Deactivate(ctx context.Context, userID, provider string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE calendar_accounts SET is_active = 0, updated_at = ? WHERE user_id = ? AND provider = ?
	`, r.now().UTC(), userID, provider)
	if err != nil {
		return fmt.Errorf("failed to deactivate account: %w", classify(err))
	}

	return requireRow(result, ErrAccountNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
