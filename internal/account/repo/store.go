package repo

import (
	"context"
	"errors"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store persists accounts. Any error other than ErrNotFound or
// ErrDuplicateEmail is a persistence failure.
type Store interface {
	Get(ctx context.Context, id string) (*entity.Account, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (*entity.Account, error)
	// Upsert replaces the record with the same id or appends a new one.
	Upsert(ctx context.Context, a entity.Account) error
	List(ctx context.Context) ([]*entity.Account, error)
}
