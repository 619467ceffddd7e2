package account

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/authz"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

// Handler exposes HTTP endpoints for registration, login and the profile.
type Handler struct {
	svc    *Service
	ledger *ledger.Ledger
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, l *ledger.Ledger, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, ledger: l, logger: logger}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Email        string              `json:"email"`
	Subscription entity.Subscription `json:"subscription"`
	Role         entity.Role         `json:"role"`
	Token        string              `json:"token"`
	ExpiresAt    time.Time           `json:"expiresAt"`
}

func newAuthResponse(res *Result) AuthResponse {
	return AuthResponse{
		ID:           res.Account.ID,
		Name:         res.Account.Name,
		Email:        res.Account.Email,
		Subscription: res.Account.Subscription,
		Role:         res.Account.Role,
		Token:        res.Token,
		ExpiresAt:    res.ExpiresAt,
	}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "Please add all fields")
		return
	}
	res, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			msg := "Please add all fields"
			if verr.Message != "is required" {
				msg = "Invalid " + verr.Field
			}
			utilities.WriteJSON(w, http.StatusBadRequest, utilities.ErrorBody{Message: msg, Field: verr.Field})
		case errors.Is(err, ErrDuplicateEmail):
			utilities.WriteError(w, http.StatusBadRequest, "User already exists")
		default:
			h.logger.Errorw("register failed", "err", err)
			utilities.WriteError(w, http.StatusInternalServerError, authz.MsgServerError)
		}
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, newAuthResponse(res))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.Debugw("login failed", "err", err)
			utilities.WriteError(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		h.logger.Errorw("login failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, authz.MsgServerError)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, newAuthResponse(res))
}

// Profile returns the caller's account with the daily window rolled forward.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := authz.IdentityFromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, authz.MsgNoToken)
		return
	}
	a, err := h.ledger.Snapshot(r.Context(), id.AccountID)
	if err != nil {
		status, msg := authz.StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Errorw("profile load failed", "account_id", id.AccountID, "err", err)
		}
		utilities.WriteError(w, status, msg)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, a)
}
