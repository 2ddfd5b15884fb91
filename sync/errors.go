// ABOUTME: Error taxonomy for a calendar sync pass
// ABOUTME: Typed errors callers inspect with errors.As plus package sentinels
package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means the user has no active calendar account.
	ErrNotConnected = errors.New("calendar not connected")
	// ErrEventNotFound means the provider has no such event.
	ErrEventNotFound = errors.New("calendar event not found")
	// ErrInvalidWindow means the requested window does not have start before end.
	ErrInvalidWindow = errors.New("invalid sync window: start must be before end")
)

// AuthError means the credential could not be used or refreshed. It is
// fatal for the pass.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("calendar authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DirectoryError means the sub-calendar list could not be read. It is
// fatal for the pass.
type DirectoryError struct {
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("failed to list calendars: %v", e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// TokenInvalidError means the provider rejected a change token. The
// coordinator recovers by discarding the token and running a full fetch.
type TokenInvalidError struct {
	CalendarID string
	Err        error
}

func (e *TokenInvalidError) Error() string {
	return fmt.Sprintf("sync token for calendar %s is no longer valid: %v", e.CalendarID, e.Err)
}

func (e *TokenInvalidError) Unwrap() error { return e.Err }

// FetchError is any other failure fetching one sub-calendar. The
// sub-calendar is skipped for the pass.
type FetchError struct {
	CalendarID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch calendar %s: %v", e.CalendarID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CacheWriteError means one event could not be written after all retries.
type CacheWriteError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("failed to cache event %s after %d attempt(s): %v", e.EventID, e.Attempts, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }
