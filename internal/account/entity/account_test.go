package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriptionRejectsUnknownTier(t *testing.T) {
	s, err := ParseSubscription("pro")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionPro, s)

	_, err = ParseSubscription("gold")
	require.Error(t, err)
	_, err = ParseSubscription("")
	require.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("root")
	require.Error(t, err)
}

func TestAccountJSONOmitsPasswordHash(t *testing.T) {
	a := Account{ID: "1", Email: "a@b.c", PasswordHash: "$2a$secret", Subscription: SubscriptionFree, Role: RoleUser}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Contains(t, string(data), `"aiCredits":0`)
}

func TestTodayUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	ts := time.Date(2025, 3, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2025-03-01", Today(ts))
}

func TestUnmetered(t *testing.T) {
	assert.False(t, (&Account{Subscription: SubscriptionFree, Role: RoleUser}).Unmetered())
	assert.True(t, (&Account{Subscription: SubscriptionPro, Role: RoleUser}).Unmetered())
	assert.True(t, (&Account{Subscription: SubscriptionFree, Role: RoleAdmin}).Unmetered())
}
