// Package plan enforces per-tier resource ceilings. The gate serializes
// check-then-insert sequences under a per-store distributed lock so two
// concurrent requests cannot both pass the same remaining slot.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/distlock"
)

// LockFactory builds a lock for a key. Each gate invocation gets a fresh
// lock instance, as required by the distlock contract.
type LockFactory func(key string) distlock.DistLock

// Gate performs atomic plan-limit checks.
type Gate struct {
	usage UsageRepo
	locks LockFactory

	acquireRetries int
	retryDelay     time.Duration
}

// NewGate creates a plan gate over the given usage counters and lock backend.
func NewGate(usage UsageRepo, locks LockFactory) *Gate {
	return &Gate{
		usage:          usage,
		locks:          locks,
		acquireRetries: 50,
		retryDelay:     100 * time.Millisecond,
	}
}

// CheckMembers returns the member quota state without reserving anything.
func (g *Gate) CheckMembers(ctx context.Context, storeID string, plan domain.PlanType, requested int) (domain.LimitCheck, error) {
	current, err := g.usage.CountActiveMembers(ctx, storeID)
	if err != nil {
		return domain.LimitCheck{}, fmt.Errorf("count members: %w", err)
	}
	return domain.NewLimitCheck(current, requested, domain.LimitsFor(plan).MemberLimit), nil
}

// ReserveMembers runs insert only if the store has room for requested more
// active members, holding the store lock across the check and the insert.
// Returns the check result either way so callers can report usage.
func (g *Gate) ReserveMembers(ctx context.Context, storeID string, plan domain.PlanType, requested int, insert func(ctx context.Context) error) (domain.LimitCheck, error) {
	var check domain.LimitCheck
	err := g.withStoreLock(ctx, storeID, func() error {
		var err error
		check, err = g.CheckMembers(ctx, storeID, plan, requested)
		if err != nil {
			return err
		}
		if !check.Allowed {
			return ErrLimitExceeded
		}
		return insert(ctx)
	})
	return check, err
}

// ReserveCampaign runs insert only if the store is under its campaign limit.
func (g *Gate) ReserveCampaign(ctx context.Context, storeID string, plan domain.PlanType, insert func(ctx context.Context) error) (domain.LimitCheck, error) {
	var check domain.LimitCheck
	err := g.withStoreLock(ctx, storeID, func() error {
		current, err := g.usage.CountCampaigns(ctx, storeID)
		if err != nil {
			return fmt.Errorf("count campaigns: %w", err)
		}
		check = domain.NewLimitCheck(current, 1, domain.LimitsFor(plan).CampaignLimit)
		if !check.Allowed {
			return ErrLimitExceeded
		}
		return insert(ctx)
	})
	return check, err
}

// CheckEmailBudget reports whether sending n more emails this month stays
// within the plan. Email sending is advisory only: a dispatch already in
// flight is never cut off mid-batch, so no lock is taken.
func (g *Gate) CheckEmailBudget(ctx context.Context, storeID string, plan domain.PlanType, n int) (domain.LimitCheck, error) {
	current, err := g.usage.CountEmailsThisMonth(ctx, storeID)
	if err != nil {
		return domain.LimitCheck{}, fmt.Errorf("count emails: %w", err)
	}
	return domain.NewLimitCheck(current, n, domain.LimitsFor(plan).EmailsPerMonth), nil
}

func (g *Gate) withStoreLock(ctx context.Context, storeID string, fn func() error) error {
	lock := g.locks(distlock.StoreLockKey(storeID))

	acquired := false
	for i := 0; i <= g.acquireRetries; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire store lock: %w", err)
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-time.After(g.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !acquired {
		return ErrBusy
	}
	// Release must run even if ctx was cancelled during fn.
	defer lock.Release(context.WithoutCancel(ctx))

	return fn()
}
