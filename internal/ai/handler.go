package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/authz"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

// MaxHistory bounds how many earlier turns are forwarded with a chat message.
const MaxHistory = 40

const msgNotConfigured = "The AI service is not configured on the server."

// Features prices the three AI endpoints.
type Features struct {
	Chat     ledger.Feature
	Guide    ledger.Feature
	Research ledger.Feature
}

func DefaultFeatures(guideCost, researchCost int) Features {
	return Features{
		Chat:     ledger.Feature{Name: "chat", Pricing: ledger.PricingDailyQuota},
		Guide:    ledger.Feature{Name: "generate-guide", Pricing: ledger.PricingCredits, Cost: guideCost},
		Research: ledger.Feature{Name: "research", Pricing: ledger.PricingCredits, Cost: researchCost},
	}
}

type Handler struct {
	completer Completer
	ledger    *ledger.Ledger
	features  Features
	// refund gives the charge back when the provider call fails
	refund bool
	logger *zap.SugaredLogger
}

func NewHandler(c Completer, l *ledger.Ledger, features Features, refundOnFailure bool, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{completer: c, ledger: l, features: features, refund: refundOnFailure, logger: logger}
}

// Mount registers the AI routes. Each request is checked for a session, a
// configured provider and a valid body before the ledger charges it.
func (h *Handler) Mount(mux *http.ServeMux, prefix string, gate *authz.Gate) {
	chain := func(f ledger.Feature, decode func(http.Handler) http.Handler, final http.HandlerFunc) http.Handler {
		return gate.RequireSession(h.requireProvider(decode(gate.RequireEntitlement(f)(final))))
	}
	mux.Handle("POST "+prefix+"/ai/chat", chain(h.features.Chat, withPayload[ChatRequest], h.Chat))
	mux.Handle("POST "+prefix+"/ai/generate-guide", chain(h.features.Guide, withPayload[GuideRequest], h.GenerateGuide))
	mux.Handle("POST "+prefix+"/ai/research", chain(h.features.Research, withPayload[ResearchRequest], h.Research))
}

func (h *Handler) requireProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.completer.Available() {
			utilities.WriteError(w, http.StatusInternalServerError, msgNotConfigured)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ChatRequest struct {
	Message string    `json:"message"`
	History []Message `json:"history"`
}

func (c *ChatRequest) validate() error {
	c.Message = strings.TrimSpace(c.Message)
	if c.Message == "" {
		return errors.New("Message is required")
	}
	for _, m := range c.History {
		if !m.Role.Valid() {
			return errors.New("History roles must be user or model")
		}
	}
	if len(c.History) > MaxHistory {
		c.History = c.History[len(c.History)-MaxHistory:]
	}
	return nil
}

type ChatResponse struct {
	Reply string `json:"reply"`
	// RemainingMessages is -1 for accounts without a daily limit.
	RemainingMessages int `json:"remainingMessages"`
}

type GuideRequest struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

func (g *GuideRequest) validate() error {
	g.Subject, g.Topic = strings.TrimSpace(g.Subject), strings.TrimSpace(g.Topic)
	if g.Subject == "" || g.Topic == "" {
		return errors.New("Subject and topic are required")
	}
	return nil
}

type GuideResponse struct {
	Guide     string `json:"guide"`
	AICredits int    `json:"aiCredits"`
}

type ResearchRequest struct {
	SearchType SearchType `json:"searchType"`
	Query      string     `json:"query"`
}

func (q *ResearchRequest) validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return errors.New("Query is required")
	}
	// anything but university is a course search
	if q.SearchType != SearchUniversity {
		q.SearchType = SearchCourse
	}
	return nil
}

type ResearchResponse struct {
	Result    string `json:"result"`
	AICredits int    `json:"aiCredits"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, _ := payloadFrom[ChatRequest](r.Context())
	history := append(append([]Message{}, req.History...), Message{Role: RoleUser, Text: req.Message})

	reply, ok := h.complete(w, r, h.features.Chat, tutorInstruction, history, "Error communicating with AI service.")
	if !ok {
		return
	}
	grant, _ := authz.GrantFromContext(r.Context())
	utilities.WriteJSON(w, http.StatusOK, ChatResponse{Reply: reply, RemainingMessages: grant.Remaining})
}

func (h *Handler) GenerateGuide(w http.ResponseWriter, r *http.Request) {
	req, _ := payloadFrom[GuideRequest](r.Context())
	prompt := []Message{{Role: RoleUser, Text: guidePrompt(req.Subject, req.Topic)}}

	guide, ok := h.complete(w, r, h.features.Guide, educatorInstruction, prompt, "Error generating study guide.")
	if !ok {
		return
	}
	grant, _ := authz.GrantFromContext(r.Context())
	utilities.WriteJSON(w, http.StatusOK, GuideResponse{Guide: guide, AICredits: grant.Credits})
}

func (h *Handler) Research(w http.ResponseWriter, r *http.Request) {
	req, _ := payloadFrom[ResearchRequest](r.Context())
	prompt := []Message{{Role: RoleUser, Text: researchPrompt(req.SearchType, req.Query)}}

	result, ok := h.complete(w, r, h.features.Research, advisorInstruction, prompt, "Error researching topic.")
	if !ok {
		return
	}
	grant, _ := authz.GrantFromContext(r.Context())
	utilities.WriteJSON(w, http.StatusOK, ResearchResponse{Result: result, AICredits: grant.Credits})
}

// complete calls the provider and writes the error response itself when the
// call fails. Provider details are logged, never returned to the client.
func (h *Handler) complete(w http.ResponseWriter, r *http.Request, f ledger.Feature, system string, history []Message, failMsg string) (string, bool) {
	id, _ := authz.IdentityFromContext(r.Context())
	out, err := h.completer.Complete(r.Context(), system, history)
	if err == nil {
		return out, true
	}

	h.logger.Errorw("ai completion failed", "feature", f.Name, "account_id", id.AccountID, "err", err)
	if h.refund {
		if rerr := h.ledger.Refund(context.WithoutCancel(r.Context()), id.AccountID, f); rerr != nil {
			h.logger.Warnw("refund failed", "feature", f.Name, "account_id", id.AccountID, "err", rerr)
		}
	}
	if errors.Is(err, ErrProviderUnavailable) {
		failMsg = msgNotConfigured
	}
	utilities.WriteError(w, http.StatusInternalServerError, failMsg)
	return "", false
}
