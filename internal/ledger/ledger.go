// Package ledger owns every change to an account's subscription, credit
// balance and daily message window. Each operation runs read, check, mutate
// and write under a per-account lock.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-examredi-go/internal/account/repo"
)

// Unlimited is reported as Remaining for accounts the daily quota does not apply to.
const Unlimited = -1

type Policy struct {
	FreeDailyMessages int
	ProCreditGrant    int
}

func DefaultPolicy() Policy {
	return Policy{FreeDailyMessages: 5, ProCreditGrant: 10}
}

type QuotaResult struct {
	Allowed   bool
	Remaining int
}

type Ledger struct {
	store  repo.Store
	locks  *keyedLocker
	policy Policy
	now    func() time.Time
	logger *zap.SugaredLogger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(store repo.Store, policy Policy, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  newKeyedLocker(),
		policy: policy,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Policy() Policy { return l.policy }

func (l *Ledger) today() string { return entity.Today(l.now()) }

// mutate loads the account under its lock and persists it when fn reports a
// change. Nothing is written when fn fails.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(a *entity.Account) (bool, error)) (*entity.Account, error) {
	unlock, err := l.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(a)
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// a started write runs to completion even if the caller goes away
	if err := l.store.Upsert(context.WithoutCancel(ctx), *a); err != nil {
		return nil, fmt.Errorf("persist account %s: %w", id, err)
	}
	return a, nil
}

// EnsureCurrentWindow resets the daily counter when the stored day is not
// today. It reports whether anything changed.
func EnsureCurrentWindow(a *entity.Account, today string) bool {
	if a.LastMessageDate == today {
		return false
	}
	a.DailyMessageCount = 0
	a.LastMessageDate = today
	return true
}

// SetSubscription moves an account between tiers. Upgrading resets the
// balance to the pro grant and downgrading zeroes it.
func (l *Ledger) SetSubscription(ctx context.Context, id string, target entity.Subscription) (*entity.Account, error) {
	if !target.Valid() {
		return nil, ErrInvalidSubscription
	}
	a, err := l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		if a.IsAdmin() {
			return false, ErrAdminImmutable
		}
		a.Subscription = target
		if target == entity.SubscriptionPro {
			a.AICredits = l.policy.ProCreditGrant
		} else {
			a.AICredits = 0
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Infow("subscription changed", "account_id", id, "subscription", target, "ai_credits", a.AICredits)
	return a, nil
}

// TryConsumeFreeMessage takes one message from today's free allowance.
// Pro and admin accounts are always allowed and never counted.
func (l *Ledger) TryConsumeFreeMessage(ctx context.Context, id string) (QuotaResult, error) {
	var res QuotaResult
	_, err := l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		changed := EnsureCurrentWindow(a, l.today())
		if a.Unmetered() {
			res = QuotaResult{Allowed: true, Remaining: Unlimited}
			return changed, nil
		}
		limit := l.policy.FreeDailyMessages
		if a.DailyMessageCount >= limit {
			res = QuotaResult{Allowed: false, Remaining: 0}
			return changed, nil
		}
		a.DailyMessageCount++
		res = QuotaResult{Allowed: true, Remaining: limit - a.DailyMessageCount}
		return true, nil
	})
	if err != nil {
		return QuotaResult{}, err
	}
	if !res.Allowed {
		l.logger.Debugw("daily message quota exhausted", "account_id", id)
	}
	return res, nil
}

// DebitCredits removes cost credits from a pro account. Admin accounts are
// let through without a debit.
func (l *Ledger) DebitCredits(ctx context.Context, id string, cost int) (*entity.Account, error) {
	if cost <= 0 {
		return nil, ErrInvalidCost
	}
	return l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		if a.IsAdmin() {
			return false, nil
		}
		if !a.IsPro() {
			return false, ErrProOnly
		}
		if a.AICredits < cost {
			return false, ErrInsufficientCredits
		}
		a.AICredits -= cost
		return true, nil
	})
}

// RefundCredits returns credits taken by a call that then failed. The balance
// never grows past the pro grant and free accounts are left alone.
func (l *Ledger) RefundCredits(ctx context.Context, id string, cost int) (*entity.Account, error) {
	if cost <= 0 {
		return nil, ErrInvalidCost
	}
	return l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		if a.IsAdmin() || !a.IsPro() {
			return false, nil
		}
		refunded := min(a.AICredits+cost, max(a.AICredits, l.policy.ProCreditGrant))
		if refunded == a.AICredits {
			return false, nil
		}
		a.AICredits = refunded
		return true, nil
	})
}

// ReleaseFreeMessage gives back one message consumed today.
func (l *Ledger) ReleaseFreeMessage(ctx context.Context, id string) (*entity.Account, error) {
	return l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		changed := EnsureCurrentWindow(a, l.today())
		if a.Unmetered() || a.DailyMessageCount == 0 {
			return changed, nil
		}
		a.DailyMessageCount--
		return true, nil
	})
}

// Snapshot returns the account with its message window rolled to today,
// persisting the rollover if one happened.
func (l *Ledger) Snapshot(ctx context.Context, id string) (*entity.Account, error) {
	return l.mutate(ctx, id, func(a *entity.Account) (bool, error) {
		return EnsureCurrentWindow(a, l.today()), nil
	})
}

// Charge applies the feature's pricing to the account.
func (l *Ledger) Charge(ctx context.Context, id string, f Feature) (Grant, error) {
	switch f.Pricing {
	case PricingDailyQuota:
		res, err := l.TryConsumeFreeMessage(ctx, id)
		if err != nil {
			return Grant{}, err
		}
		if !res.Allowed {
			return Grant{}, ErrQuotaExceeded
		}
		return Grant{Feature: f.Name, Pricing: f.Pricing, Remaining: res.Remaining}, nil
	case PricingCredits:
		a, err := l.DebitCredits(ctx, id, f.Cost)
		if err != nil {
			return Grant{}, err
		}
		return Grant{Feature: f.Name, Pricing: f.Pricing, Remaining: Unlimited, Credits: a.AICredits}, nil
	default:
		return Grant{}, fmt.Errorf("unknown pricing %d for feature %s", f.Pricing, f.Name)
	}
}

// Refund reverses a Charge for the same feature.
func (l *Ledger) Refund(ctx context.Context, id string, f Feature) error {
	var err error
	switch f.Pricing {
	case PricingDailyQuota:
		_, err = l.ReleaseFreeMessage(ctx, id)
	case PricingCredits:
		_, err = l.RefundCredits(ctx, id, f.Cost)
	default:
		err = fmt.Errorf("unknown pricing %d for feature %s", f.Pricing, f.Name)
	}
	if err == nil {
		l.logger.Infow("charge refunded", "account_id", id, "feature", f.Name)
	}
	return err
}
