package admin

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/authz"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

// Handler serves the admin dashboard endpoints. All routes sit behind
// RequireSession and RequireAdmin.
type Handler struct {
	store  repo.Store
	ledger *ledger.Ledger
	logger *zap.SugaredLogger
}

func NewHandler(store repo.Store, l *ledger.Ledger, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{store: store, ledger: l, logger: logger}
}

func (h *Handler) Mount(mux *http.ServeMux, prefix string, gate *authz.Gate) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return gate.RequireSession(gate.RequireAdmin(fn))
	}
	mux.Handle("GET "+prefix+"/admin/users", guard(h.ListUsers))
	mux.Handle("PUT "+prefix+"/admin/users/{id}/subscription", guard(h.UpdateSubscription))
	mux.Handle("GET "+prefix+"/admin/stats", guard(h.Stats))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Errorw("list accounts failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, authz.MsgServerError)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, accounts)
}

type SubscriptionRequest struct {
	Subscription string `json:"subscription"`
}

func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var req SubscriptionRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "Invalid subscription status")
		return
	}
	target, err := entity.ParseSubscription(req.Subscription)
	if err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "Invalid subscription status")
		return
	}
	a, err := h.ledger.SetSubscription(r.Context(), id, target)
	if err != nil {
		status, msg := authz.StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Errorw("set subscription failed", "account_id", id, "err", err)
		}
		utilities.WriteError(w, status, msg)
		return
	}
	actor, _ := authz.IdentityFromContext(r.Context())
	h.logger.Infow("subscription set by admin", "admin_id", actor.AccountID, "account_id", id, "subscription", target)
	utilities.WriteJSON(w, http.StatusOK, a)
}

// Stats summarises the account base.
type Stats struct {
	Users              int `json:"users"`
	Admins             int `json:"admins"`
	Pro                int `json:"pro"`
	Free               int `json:"free"`
	CreditsOutstanding int `json:"creditsOutstanding"`
}

func Summarise(accounts []*entity.Account) Stats {
	var s Stats
	for _, a := range accounts {
		s.Users++
		if a.IsAdmin() {
			s.Admins++
		}
		if a.IsPro() {
			s.Pro++
		} else {
			s.Free++
		}
		s.CreditsOutstanding += a.AICredits
	}
	return s
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Errorw("stats failed", "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, authz.MsgServerError)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, Summarise(accounts))
}
