package ledger

import (
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
)

var (
	// ErrNotFound is the store's not-found error, re-exported for callers
	// that only talk to the ledger.
	ErrNotFound = repo.ErrNotFound

	ErrForbidden           = errors.New("forbidden")
	ErrAdminImmutable      = fmt.Errorf("%w: cannot change an admin's subscription", ErrForbidden)
	ErrProOnly             = fmt.Errorf("%w: feature is for pro users only", ErrForbidden)
	ErrQuotaExceeded       = errors.New("daily message limit reached")
	ErrInsufficientCredits = errors.New("insufficient ai credits")
	ErrInvalidSubscription = errors.New("invalid subscription status")
	ErrInvalidCost         = errors.New("credit cost must be positive")
)

// IsDenied reports whether err is an entitlement refusal rather than a
// lookup or persistence failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrInsufficientCredits)
}
