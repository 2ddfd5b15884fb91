// ABOUTME: Data models for the calendar mirror
// ABOUTME: Defines CalendarAccount, SubCalendar, RawEvent, and MirroredEvent structs
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProviderGoogle is the only provider the engine talks to today.
const ProviderGoogle = "google"

// Credential is the access credential for one calendar account.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the access token is past its expiry at now,
// allowing leeway for clock skew. A zero expiry never expires.
func (c Credential) Expired(now time.Time, leeway time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.Expiry)
}

// Refreshable reports whether a refresh credential is present.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// ProviderEndpoint carries the provider metadata needed to refresh a credential.
type ProviderEndpoint struct {
	TokenURL string   `json:"token_url,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

type CalendarAccount struct {
	ID           uuid.UUID         `json:"id"`
	UserID       string            `json:"user_id"`
	Provider     string            `json:"provider"`
	Credential   Credential        `json:"-"`
	Endpoint     ProviderEndpoint  `json:"endpoint"`
	Active       bool              `json:"active"`
	SyncTokens   map[string]string `json:"sync_tokens,omitempty"`
	LastSyncTime *time.Time        `json:"last_sync_time,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SyncToken returns the stored change token for a sub-calendar, if any.
func (a *CalendarAccount) SyncToken(calendarID string) (string, bool) {
	if a == nil || a.SyncTokens == nil {
		return "", false
	}
	token, ok := a.SyncTokens[calendarID]
	return token, ok && token != ""
}

// SubCalendar is one calendar visible to the account. It is never persisted.
type SubCalendar struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AccessRole string `json:"access_role,omitempty"`
	Primary    bool   `json:"primary,omitempty"`
}

// EventTime mirrors the provider's start/end shape: Date for all-day
// events, DateTime (RFC 3339) for timed ones.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"date_time,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

// RawEvent is one provider event as fetched, before it is mirrored.
type RawEvent struct {
	ID          string          `json:"id"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	HTMLLink    string          `json:"html_link,omitempty"`
	ColorID     string          `json:"color_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Start       *EventTime      `json:"start,omitempty"`
	End         *EventTime      `json:"end,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// MirroredEvent is the locally cached state of one provider event.
// (UserID, ProviderEventID) is unique regardless of sub-calendar.
type MirroredEvent struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	ProviderEventID string          `json:"provider_event_id"`
	CalendarID      string          `json:"calendar_id"`
	CalendarName    string          `json:"calendar_name"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	AllDay          bool            `json:"all_day"`
	HTMLLink        string          `json:"html_link,omitempty"`
	ColorID         string          `json:"color_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TokenUpdate is one logical change to an account's token map.
type TokenUpdate struct {
	Set      map[string]string
	Discard  []string
	SyncedAt time.Time
}

// SyncRun is a record of one sync pass.
type SyncRun struct {
	ID           string     `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Mode         string     `json:"mode"`
	Status       string     `json:"status"`
	EventCount   int        `json:"event_count"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Failed       int        `json:"failed"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Sync run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)
