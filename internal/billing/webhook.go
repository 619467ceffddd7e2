// Package billing applies Stripe subscription events to the ledger.
package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

const (
	maxBodyBytes = int64(65536)
	// MetadataAccountID is the checkout/subscription metadata key carrying our account id.
	MetadataAccountID = "account_id"
)

type WebhookHandler struct {
	ledger *ledger.Ledger
	secret string
	logger *zap.SugaredLogger
}

func NewWebhookHandler(l *ledger.Ledger, secret string, logger *zap.SugaredLogger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebhookHandler{ledger: l, secret: secret, logger: logger}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warnw("stripe webhook read failed", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		r.Header.Get("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.logger.Warnw("stripe webhook signature failed", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	var accountID string
	var target entity.Subscription
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			h.logger.Warnw("stripe session unmarshal failed", "event_id", event.ID, "err", err)
			utilities.WriteError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		accountID = sess.ClientReferenceID
		if accountID == "" {
			accountID = sess.Metadata[MetadataAccountID]
		}
		target = entity.SubscriptionPro
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Warnw("stripe subscription unmarshal failed", "event_id", event.ID, "err", err)
			utilities.WriteError(w, http.StatusBadRequest, "invalid event payload")
			return
		}
		accountID = sub.Metadata[MetadataAccountID]
		target = entity.SubscriptionFree
	default:
		h.logger.Debugw("stripe event ignored", "event_id", event.ID, "type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		h.logger.Warnw("stripe event without account reference", "event_id", event.ID, "type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.ledger.SetSubscription(r.Context(), accountID, target); err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrAdminImmutable) {
			// acknowledged so Stripe stops retrying an event we can never apply
			h.logger.Warnw("stripe event not applied", "event_id", event.ID, "account_id", accountID, "err", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Errorw("stripe event failed", "event_id", event.ID, "account_id", accountID, "err", err)
		utilities.WriteError(w, http.StatusInternalServerError, "failed to apply event")
		return
	}
	h.logger.Infow("stripe event applied", "event_id", event.ID, "account_id", accountID, "subscription", target)
	w.WriteHeader(http.StatusOK)
}
