package repo

import (
	"fmt"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
)

const currentSchemaVersion = 1

// tomlFile is the document layout for .toml account files. JSON files keep
// the bare array layout of existing users.json exports.
type tomlFile struct {
	Version  int             `toml:"version"`
	Accounts []accountRecord `toml:"accounts"`
}

func (f tomlFile) validateVersion() error {
	if f.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", f.Version, currentSchemaVersion)
	}
	return nil
}

type accountRecord struct {
	ID                string `json:"id" toml:"id"`
	Name              string `json:"name" toml:"name"`
	Email             string `json:"email" toml:"email"`
	PasswordHash      string `json:"passwordHash" toml:"passwordHash"`
	Subscription      string `json:"subscription" toml:"subscription"`
	Role              string `json:"role" toml:"role"`
	AICredits         int    `json:"aiCredits" toml:"aiCredits"`
	DailyMessageCount int    `json:"dailyMessageCount" toml:"dailyMessageCount"`
	LastMessageDate   string `json:"lastMessageDate" toml:"lastMessageDate"`
}

func toRecord(a entity.Account) accountRecord {
	return accountRecord{
		ID:                a.ID,
		Name:              a.Name,
		Email:             a.Email,
		PasswordHash:      a.PasswordHash,
		Subscription:      string(a.Subscription),
		Role:              string(a.Role),
		AICredits:         a.AICredits,
		DailyMessageCount: a.DailyMessageCount,
		LastMessageDate:   a.LastMessageDate,
	}
}

// fromRecord treats a missing subscription as free and a missing role as
// user, the shape of records written before those fields existed. Unknown
// non-empty values are rejected.
func fromRecord(r accountRecord) (*entity.Account, error) {
	if r.Subscription == "" {
		r.Subscription = string(entity.SubscriptionFree)
	}
	if r.Role == "" {
		r.Role = string(entity.RoleUser)
	}
	sub, err := entity.ParseSubscription(r.Subscription)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", r.ID, err)
	}
	role, err := entity.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", r.ID, err)
	}
	return &entity.Account{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		PasswordHash:      r.PasswordHash,
		Subscription:      sub,
		Role:              role,
		AICredits:         r.AICredits,
		DailyMessageCount: r.DailyMessageCount,
		LastMessageDate:   r.LastMessageDate,
	}, nil
}
