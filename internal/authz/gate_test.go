package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/ledger"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/session"
)

var gateNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type tokenValidator struct{ svc *session.Service }

func (v tokenValidator) ValidateSession(token string) (session.Identity, error) {
	return v.svc.Validate(token)
}

type fixture struct {
	gate     *Gate
	store    *repo.FileStore
	sessions *session.Service
}

func newFixture(t *testing.T, accounts ...entity.Account) fixture {
	t.Helper()
	store, err := repo.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	for _, a := range accounts {
		require.NoError(t, store.Upsert(context.Background(), a))
	}
	sessions, err := session.NewService(session.Config{Secret: []byte("gate-secret"), Issuer: "examredi"})
	require.NoError(t, err)
	l := ledger.New(store, ledger.DefaultPolicy(), ledger.WithClock(func() time.Time { return gateNow }))
	return fixture{gate: NewGate(tokenValidator{sessions}, store, l, nil), store: store, sessions: sessions}
}

func (f fixture) token(t *testing.T, id string) string {
	t.Helper()
	tok, _, err := f.sessions.Issue(id, id+"@example.com")
	require.NoError(t, err)
	return tok
}

func account(id string, sub entity.Subscription, role entity.Role, credits int) entity.Account {
	return entity.Account{
		ID: id, Name: id, Email: id + "@example.com", PasswordHash: "h",
		Subscription: sub, Role: role, AICredits: credits,
		LastMessageDate: entity.Today(gateNow),
	}
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestRequireSession(t *testing.T) {
	f := newFixture(t, account("u1", entity.SubscriptionFree, entity.RoleUser, 0))

	tests := []struct {
		name   string
		header string
		status int
		msg    string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized, msg: MsgNoToken},
		{name: "wrong scheme", header: "Token abc", status: http.StatusUnauthorized, msg: MsgTokenFailed},
		{name: "empty bearer", header: "Bearer   ", status: http.StatusUnauthorized, msg: MsgTokenFailed},
		{name: "garbage token", header: "Bearer abc.def.ghi", status: http.StatusUnauthorized, msg: MsgTokenFailed},
		{name: "valid token", header: "Bearer " + f.token(t, "u1"), status: http.StatusOK},
		{name: "scheme is case-insensitive", header: "bearer " + f.token(t, "u1"), status: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var called bool
			var seen session.Identity
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				seen, _ = IdentityFromContext(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			f.gate.RequireSession(next).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.True(t, called)
				assert.Equal(t, "u1", seen.AccountID)
				return
			}
			assert.False(t, called)
			assert.Equal(t, tc.msg, decodeMessage(t, rec))
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	f := newFixture(t,
		account("admin", entity.SubscriptionFree, entity.RoleAdmin, 0),
		account("user", entity.SubscriptionPro, entity.RoleUser, 10),
	)

	for _, tc := range []struct {
		id     string
		status int
	}{
		{id: "admin", status: http.StatusOK},
		{id: "user", status: http.StatusForbidden},
		{id: "ghost", status: http.StatusForbidden},
	} {
		t.Run(tc.id, func(t *testing.T) {
			var called bool
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+f.token(t, tc.id))
			rec := httptest.NewRecorder()
			f.gate.RequireSession(f.gate.RequireAdmin(okHandler(&called))).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status == http.StatusOK, called)
		})
	}
}

func TestRequireAdminWithoutIdentityIsForbidden(t *testing.T) {
	f := newFixture(t)
	var called bool
	rec := httptest.NewRecorder()
	f.gate.RequireAdmin(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestRequireEntitlement(t *testing.T) {
	exhausted := account("tired", entity.SubscriptionFree, entity.RoleUser, 0)
	exhausted.DailyMessageCount = 5
	f := newFixture(t,
		account("free", entity.SubscriptionFree, entity.RoleUser, 0),
		account("pro", entity.SubscriptionPro, entity.RoleUser, 1),
		account("broke", entity.SubscriptionPro, entity.RoleUser, 0),
		exhausted,
	)
	chat := ledger.Feature{Name: "chat", Pricing: ledger.PricingDailyQuota}
	guide := ledger.Feature{Name: "generate-guide", Pricing: ledger.PricingCredits, Cost: 1}

	tests := []struct {
		name    string
		id      string
		feature ledger.Feature
		status  int
		msg     string
	}{
		{name: "free chat", id: "free", feature: chat, status: http.StatusOK},
		{name: "quota exhausted", id: "tired", feature: chat, status: http.StatusForbidden, msg: MsgQuotaExceeded},
		{name: "free on credits feature", id: "free", feature: guide, status: http.StatusForbidden, msg: MsgProOnly},
		{name: "pro with credit", id: "pro", feature: guide, status: http.StatusOK},
		{name: "pro without credit", id: "broke", feature: guide, status: http.StatusForbidden, msg: MsgInsufficientFunds},
		{name: "unknown account", id: "ghost", feature: chat, status: http.StatusNotFound, msg: MsgAccountNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var grant ledger.Grant
			var called bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				grant, _ = GrantFromContext(r.Context())
			})
			req := httptest.NewRequest(http.MethodPost, "/ai", nil)
			req.Header.Set("Authorization", "Bearer "+f.token(t, tc.id))
			rec := httptest.NewRecorder()
			f.gate.RequireSession(f.gate.RequireEntitlement(tc.feature)(next)).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				require.True(t, called)
				assert.Equal(t, tc.feature.Name, grant.Feature)
				return
			}
			assert.False(t, called)
			assert.Equal(t, tc.msg, decodeMessage(t, rec))
		})
	}

	got, err := f.store.Get(context.Background(), "pro")
	require.NoError(t, err)
	assert.Zero(t, got.AICredits)
	got, err = f.store.Get(context.Background(), "free")
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyMessageCount)
}

func TestStatusForPersistenceErrorIs500(t *testing.T) {
	status, msg := StatusFor(errors.New("disk full"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, MsgServerError, msg)
}

func TestExtractBearerToken(t *testing.T) {
	tok, ok := extractBearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = extractBearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = extractBearerToken("Bearer")
	assert.False(t, ok)
}
