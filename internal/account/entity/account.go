package entity

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used for the daily message window.
const DateLayout = "2006-01-02"

type Subscription string

const (
	SubscriptionFree Subscription = "free"
	SubscriptionPro  Subscription = "pro"
)

func (s Subscription) Valid() bool {
	return s == SubscriptionFree || s == SubscriptionPro
}

// ParseSubscription accepts only the two known tiers.
func ParseSubscription(v string) (Subscription, error) {
	s := Subscription(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown subscription %q", v)
	}
	return s, nil
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

func ParseRole(v string) (Role, error) {
	r := Role(v)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", v)
	}
	return r, nil
}

// Account is the single persisted record. Subscription, credit and quota
// fields are only mutated by the ledger.
type Account struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	PasswordHash      string       `json:"-"`
	Subscription      Subscription `json:"subscription"`
	Role              Role         `json:"role"`
	AICredits         int          `json:"aiCredits"`
	DailyMessageCount int          `json:"dailyMessageCount"`
	LastMessageDate   string       `json:"lastMessageDate"`
}

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }

func (a *Account) IsPro() bool { return a.Subscription == SubscriptionPro }

// Unmetered reports whether subscription-driven limits apply to the account.
func (a *Account) Unmetered() bool { return a.IsAdmin() || a.IsPro() }

// Today returns the UTC calendar day of t.
func Today(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
