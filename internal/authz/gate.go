// Package authz turns session tokens and ledger decisions into HTTP
// middleware.
package authz

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

const (
	MsgNoToken           = "Not authorized, no token"
	MsgTokenFailed       = "Not authorized, token failed"
	MsgNotAdmin          = "Not authorized as an admin"
	MsgAccountNotFound   = "User not found"
	MsgQuotaExceeded     = "You have reached your daily message limit."
	MsgProOnly           = "This feature is for Pro users only."
	MsgInsufficientFunds = "Insufficient AI credits."
	MsgServerError       = "Internal server error"
)

// SessionValidator is satisfied by the account service.
type SessionValidator interface {
	ValidateSession(token string) (session.Identity, error)
}

type Gate struct {
	sessions SessionValidator
	store    repo.Store
	ledger   *ledger.Ledger
	logger   *zap.SugaredLogger
}

func NewGate(sessions SessionValidator, store repo.Store, l *ledger.Ledger, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{sessions: sessions, store: store, ledger: l, logger: logger}
}

// RequireSession rejects requests without a valid bearer token and attaches
// the caller's identity otherwise.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			utilities.WriteError(w, http.StatusUnauthorized, MsgNoToken)
			return
		}
		token, ok := extractBearerToken(header)
		if !ok {
			g.logger.Debugw("malformed authorization header", "path", r.URL.Path)
			utilities.WriteError(w, http.StatusUnauthorized, MsgTokenFailed)
			return
		}
		id, err := g.sessions.ValidateSession(token)
		if err != nil {
			g.logger.Debugw("session rejected", "path", r.URL.Path, "err", err)
			utilities.WriteError(w, http.StatusUnauthorized, MsgTokenFailed)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin re-reads the account so a token outliving a role is never
// trusted on its own.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			utilities.WriteError(w, http.StatusForbidden, MsgNotAdmin)
			return
		}
		a, err := g.store.Get(r.Context(), id.AccountID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				utilities.WriteError(w, http.StatusForbidden, MsgNotAdmin)
				return
			}
			g.logger.Errorw("admin check failed", "account_id", id.AccountID, "err", err)
			utilities.WriteError(w, http.StatusInternalServerError, MsgServerError)
			return
		}
		if !a.IsAdmin() {
			g.logger.Infow("admin route refused", "account_id", a.ID, "path", r.URL.Path)
			utilities.WriteError(w, http.StatusForbidden, MsgNotAdmin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireEntitlement charges the caller for feature before next runs. The
// grant is attached to the request context.
func (g *Gate) RequireEntitlement(feature ledger.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				utilities.WriteError(w, http.StatusUnauthorized, MsgNoToken)
				return
			}
			grant, err := g.ledger.Charge(r.Context(), id.AccountID, feature)
			if err != nil {
				status, msg := StatusFor(err)
				if status >= http.StatusInternalServerError {
					g.logger.Errorw("entitlement check failed", "account_id", id.AccountID, "feature", feature.Name, "err", err)
				} else {
					g.logger.Debugw("entitlement denied", "account_id", id.AccountID, "feature", feature.Name, "err", err)
				}
				utilities.WriteError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithGrant(r.Context(), grant)))
		})
	}
}

// StatusFor maps ledger and store errors to an HTTP status and message.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrQuotaExceeded):
		return http.StatusForbidden, MsgQuotaExceeded
	case errors.Is(err, ledger.ErrProOnly):
		return http.StatusForbidden, MsgProOnly
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusForbidden, MsgInsufficientFunds
	case errors.Is(err, ledger.ErrAdminImmutable):
		return http.StatusForbidden, "Cannot change an admin's subscription"
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, ledger.ErrInvalidSubscription):
		return http.StatusBadRequest, "Invalid subscription status"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, MsgAccountNotFound
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusUnauthorized, MsgTokenFailed
	default:
		return http.StatusInternalServerError, MsgServerError
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
