package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
)

var fixedNow = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

const today = "2025-06-15"

func newTestLedger(t *testing.T, accounts ...entity.Account) (*Ledger, *repo.FileStore) {
	t.Helper()
	store, err := repo.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	for _, a := range accounts {
		require.NoError(t, store.Upsert(context.Background(), a))
	}
	return New(store, DefaultPolicy(), WithClock(func() time.Time { return fixedNow })), store
}

func freeAccount(id string) entity.Account {
	return entity.Account{
		ID:              id,
		Name:            "Student " + id,
		Email:           id + "@example.com",
		PasswordHash:    "hash",
		Subscription:    entity.SubscriptionFree,
		Role:            entity.RoleUser,
		LastMessageDate: today,
	}
}

func proAccount(id string, credits int) entity.Account {
	a := freeAccount(id)
	a.Subscription = entity.SubscriptionPro
	a.AICredits = credits
	return a
}

func adminAccount(id string) entity.Account {
	a := freeAccount(id)
	a.Role = entity.RoleAdmin
	return a
}

func stored(t *testing.T, store repo.Store, id string) *entity.Account {
	t.Helper()
	a, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func assertBalanceInvariant(t *testing.T, a *entity.Account) {
	t.Helper()
	assert.GreaterOrEqual(t, a.AICredits, 0)
	if a.Subscription == entity.SubscriptionFree {
		assert.Zero(t, a.AICredits)
	}
}

func TestSetSubscription(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, freeAccount("u1"), proAccount("u2", 3), adminAccount("a1"))

	up, err := l.SetSubscription(ctx, "u1", entity.SubscriptionPro)
	require.NoError(t, err)
	assert.Equal(t, 10, up.AICredits)
	assert.Equal(t, 10, stored(t, store, "u1").AICredits)

	// already pro: balance is reset to the grant
	again, err := l.SetSubscription(ctx, "u2", entity.SubscriptionPro)
	require.NoError(t, err)
	assert.Equal(t, 10, again.AICredits)

	down, err := l.SetSubscription(ctx, "u2", entity.SubscriptionFree)
	require.NoError(t, err)
	assert.Equal(t, entity.SubscriptionFree, down.Subscription)
	assert.Zero(t, down.AICredits)
	assertBalanceInvariant(t, stored(t, store, "u2"))
}

func TestSetSubscriptionLeavesQuotaFieldsAlone(t *testing.T) {
	a := freeAccount("u1")
	a.DailyMessageCount = 4
	l, store := newTestLedger(t, a)

	_, err := l.SetSubscription(context.Background(), "u1", entity.SubscriptionPro)
	require.NoError(t, err)
	got := stored(t, store, "u1")
	assert.Equal(t, 4, got.DailyMessageCount)
	assert.Equal(t, today, got.LastMessageDate)
}

func TestSetSubscriptionRefusesAdmin(t *testing.T) {
	l, store := newTestLedger(t, adminAccount("a1"))

	_, err := l.SetSubscription(context.Background(), "a1", entity.SubscriptionPro)
	require.ErrorIs(t, err, ErrAdminImmutable)
	require.ErrorIs(t, err, ErrForbidden)

	got := stored(t, store, "a1")
	assert.Equal(t, entity.SubscriptionFree, got.Subscription)
	assert.Zero(t, got.AICredits)
}

func TestSetSubscriptionErrors(t *testing.T) {
	l, _ := newTestLedger(t, freeAccount("u1"))

	_, err := l.SetSubscription(context.Background(), "u1", entity.Subscription("gold"))
	require.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = l.SetSubscription(context.Background(), "missing", entity.SubscriptionPro)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureCurrentWindow(t *testing.T) {
	a := &entity.Account{DailyMessageCount: 5, LastMessageDate: "2025-06-14"}

	assert.True(t, EnsureCurrentWindow(a, today))
	assert.Zero(t, a.DailyMessageCount)
	assert.Equal(t, today, a.LastMessageDate)

	a.DailyMessageCount = 2
	assert.False(t, EnsureCurrentWindow(a, today))
	assert.False(t, EnsureCurrentWindow(a, today))
	assert.Equal(t, 2, a.DailyMessageCount)
}

func TestTryConsumeFreeMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("denied at limit", func(t *testing.T) {
		a := freeAccount("u1")
		a.DailyMessageCount = 5
		l, store := newTestLedger(t, a)

		res, err := l.TryConsumeFreeMessage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, QuotaResult{Allowed: false, Remaining: 0}, res)
		assert.Equal(t, 5, stored(t, store, "u1").DailyMessageCount)
	})

	t.Run("last message of the day", func(t *testing.T) {
		a := freeAccount("u1")
		a.DailyMessageCount = 4
		l, store := newTestLedger(t, a)

		res, err := l.TryConsumeFreeMessage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, QuotaResult{Allowed: true, Remaining: 0}, res)
		assert.Equal(t, 5, stored(t, store, "u1").DailyMessageCount)
	})

	t.Run("new day resets the window", func(t *testing.T) {
		a := freeAccount("u1")
		a.DailyMessageCount = 5
		a.LastMessageDate = "2025-06-14"
		l, store := newTestLedger(t, a)

		res, err := l.TryConsumeFreeMessage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, QuotaResult{Allowed: true, Remaining: 4}, res)
		got := stored(t, store, "u1")
		assert.Equal(t, 1, got.DailyMessageCount)
		assert.Equal(t, today, got.LastMessageDate)
	})

	t.Run("pro and admin are unmetered", func(t *testing.T) {
		l, store := newTestLedger(t, proAccount("p1", 0), adminAccount("a1"))

		for _, id := range []string{"p1", "a1"} {
			for i := 0; i < 8; i++ {
				res, err := l.TryConsumeFreeMessage(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, QuotaResult{Allowed: true, Remaining: Unlimited}, res)
			}
			assert.Zero(t, stored(t, store, id).DailyMessageCount)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		l, _ := newTestLedger(t)
		_, err := l.TryConsumeFreeMessage(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTryConsumeFreeMessageConcurrentGrantsExactlyLimit(t *testing.T) {
	a := freeAccount("u1")
	a.LastMessageDate = "2025-06-14"
	a.DailyMessageCount = 3
	l, store := newTestLedger(t, a)

	const callers = 25
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.TryConsumeFreeMessage(context.Background(), "u1")
			assert.NoError(t, err)
			if res.Allowed {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), granted.Load())
	assert.Equal(t, 5, stored(t, store, "u1").DailyMessageCount)
	assert.Zero(t, l.locks.size())
}

func TestDebitCredits(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, proAccount("p1", 2), freeAccount("u1"), adminAccount("a1"))

	a, err := l.DebitCredits(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.AICredits)
	a, err = l.DebitCredits(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Zero(t, a.AICredits)

	_, err = l.DebitCredits(ctx, "p1", 1)
	require.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Zero(t, stored(t, store, "p1").AICredits)

	_, err = l.DebitCredits(ctx, "u1", 1)
	require.ErrorIs(t, err, ErrProOnly)
	require.ErrorIs(t, err, ErrForbidden)

	admin, err := l.DebitCredits(ctx, "a1", 3)
	require.NoError(t, err)
	assert.Zero(t, admin.AICredits)

	_, err = l.DebitCredits(ctx, "p1", 0)
	require.ErrorIs(t, err, ErrInvalidCost)
	_, err = l.DebitCredits(ctx, "missing", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDebitCreditsConcurrentNeverOverdraws(t *testing.T) {
	l, store := newTestLedger(t, proAccount("p1", 10))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.DebitCredits(context.Background(), "p1", 1); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficientCredits)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Zero(t, stored(t, store, "p1").AICredits)
}

func TestRefunds(t *testing.T) {
	ctx := context.Background()
	a := freeAccount("u1")
	a.DailyMessageCount = 3
	l, store := newTestLedger(t, proAccount("p1", 9), proAccount("p2", 10), a)

	got, err := l.RefundCredits(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AICredits)

	// capped at the grant
	got, err = l.RefundCredits(ctx, "p2", 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AICredits)

	// free accounts never gain credits
	got, err = l.RefundCredits(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Zero(t, got.AICredits)

	_, err = l.ReleaseFreeMessage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored(t, store, "u1").DailyMessageCount)
}

func TestChargeAndRefundDispatchOnPricing(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t, freeAccount("u1"), proAccount("p1", 1))
	chat := Feature{Name: "chat", Pricing: PricingDailyQuota}
	guide := Feature{Name: "generate-guide", Pricing: PricingCredits, Cost: 1}

	g, err := l.Charge(ctx, "u1", chat)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Remaining)

	_, err = l.Charge(ctx, "u1", guide)
	require.ErrorIs(t, err, ErrProOnly)

	g, err = l.Charge(ctx, "p1", guide)
	require.NoError(t, err)
	assert.Zero(t, g.Credits)
	_, err = l.Charge(ctx, "p1", guide)
	require.ErrorIs(t, err, ErrInsufficientCredits)
	assert.True(t, IsDenied(err))

	require.NoError(t, l.Refund(ctx, "p1", guide))
	assert.Equal(t, 1, stored(t, store, "p1").AICredits)
	require.NoError(t, l.Refund(ctx, "u1", chat))
	assert.Zero(t, stored(t, store, "u1").DailyMessageCount)
}

func TestChargeQuotaExceeded(t *testing.T) {
	a := freeAccount("u1")
	a.DailyMessageCount = 5
	l, _ := newTestLedger(t, a)

	_, err := l.Charge(context.Background(), "u1", Feature{Name: "chat", Pricing: PricingDailyQuota})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.True(t, IsDenied(err))
}

func TestSnapshotPersistsRollover(t *testing.T) {
	a := freeAccount("u1")
	a.DailyMessageCount = 5
	a.LastMessageDate = "2025-06-01"
	l, store := newTestLedger(t, a)

	got, err := l.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, got.DailyMessageCount)
	assert.Equal(t, today, stored(t, store, "u1").LastMessageDate)
}

type failingStore struct {
	repo.Store
	upsertErr error
	upserts   int
}

func (f *failingStore) Upsert(ctx context.Context, a entity.Account) error {
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Store.Upsert(ctx, a)
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	base, store := newTestLedger(t, proAccount("p1", 5))
	fs := &failingStore{Store: store, upsertErr: errors.New("disk full")}
	l := New(fs, base.policy, WithClock(base.now))

	_, err := l.DebitCredits(context.Background(), "p1", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, IsDenied(err))
	assert.Equal(t, 5, stored(t, store, "p1").AICredits)
}

func TestFailedTransitionWritesNothing(t *testing.T) {
	_, store := newTestLedger(t, freeAccount("u1"), adminAccount("a1"))
	fs := &failingStore{Store: store}
	l := New(fs, DefaultPolicy(), WithClock(func() time.Time { return fixedNow }))

	_, err := l.DebitCredits(context.Background(), "u1", 1)
	require.ErrorIs(t, err, ErrProOnly)
	_, err = l.SetSubscription(context.Background(), "a1", entity.SubscriptionFree)
	require.ErrorIs(t, err, ErrAdminImmutable)
	assert.Zero(t, fs.upserts)
}

func TestCancelledContextIsNotCharged(t *testing.T) {
	l, store := newTestLedger(t, proAccount("p1", 3))

	unlock, err := l.locks.Lock(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.DebitCredits(ctx, "p1", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()

	assert.Equal(t, 3, stored(t, store, "p1").AICredits)
	assert.Zero(t, l.locks.size())
}
