// ABOUTME: Tests for calendar mirror data models
// ABOUTME: Validates credential expiry rules and sync token lookup
package models

import (
	"testing"
	"time"
)

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		expiry  time.Time
		leeway  time.Duration
		expired bool
	}{
		{"zero expiry never expires", time.Time{}, time.Minute, false},
		{"future expiry", now.Add(time.Hour), 0, false},
		{"past expiry", now.Add(-time.Second), 0, true},
		{"exactly now", now, 0, true},
		{"inside leeway", now.Add(20 * time.Second), 30 * time.Second, true},
		{"outside leeway", now.Add(40 * time.Second), 30 * time.Second, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cred := Credential{AccessToken: "a", Expiry: tc.expiry}
			if got := cred.Expired(now, tc.leeway); got != tc.expired {
				t.Errorf("Expired() = %v, want %v", got, tc.expired)
			}
		})
	}
}

func TestCredentialRefreshable(t *testing.T) {
	if (Credential{AccessToken: "a"}).Refreshable() {
		t.Error("credential without refresh token should not be refreshable")
	}
	if !(Credential{AccessToken: "a", RefreshToken: "r"}).Refreshable() {
		t.Error("credential with refresh token should be refreshable")
	}
}

func TestAccountSyncToken(t *testing.T) {
	account := &CalendarAccount{
		SyncTokens: map[string]string{
			"primary":  "T1",
			"holidays": "",
		},
	}

	if token, ok := account.SyncToken("primary"); !ok || token != "T1" {
		t.Errorf("expected T1, got %q (ok=%v)", token, ok)
	}
	if _, ok := account.SyncToken("holidays"); ok {
		t.Error("empty token should be treated as missing")
	}
	if _, ok := account.SyncToken("work"); ok {
		t.Error("unknown calendar should have no token")
	}

	var nilAccount *CalendarAccount
	if _, ok := nilAccount.SyncToken("primary"); ok {
		t.Error("nil account should have no token")
	}
}
