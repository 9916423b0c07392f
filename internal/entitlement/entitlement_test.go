package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TobiSchelling/zhongwen/internal/config"
	"github.com/TobiSchelling/zhongwen/internal/database"
)

type fakeSubs map[string]*database.Subscription

func (f fakeSubs) GetSubscription(_ context.Context, userID string) (*database.Subscription, error) {
	return f[userID], nil
}

type errSubs struct{}

func (errSubs) GetSubscription(context.Context, string) (*database.Subscription, error) {
	return nil, errors.New("db down")
}

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestResolver(subs SubscriptionSource) *Resolver {
	return NewResolver(subs, config.Quotas{}).WithClock(func() time.Time { return now })
}

func TestResolveNoSubscriptionIsFree(t *testing.T) {
	e, err := newTestResolver(fakeSubs{}).Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Tier != TierFree {
		t.Errorf("expected free, got %s", e.Tier)
	}
	if e.Limits.RwpPerWeek != 3 || e.Limits.RwpPerDay != 0 || e.Limits.TTSAccess {
		t.Errorf("unexpected free limits: %+v", e.Limits)
	}
}

func TestResolvePremium(t *testing.T) {
	end := now.Add(24 * time.Hour)
	for _, status := range []string{"premium", "active"} {
		subs := fakeSubs{"u1": {UserID: "u1", Status: status, CurrentPeriodEnd: &end}}
		e, err := newTestResolver(subs).Resolve(context.Background(), "u1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Tier != TierPremium {
			t.Errorf("%s: expected premium, got %s", status, e.Tier)
		}
		if e.Limits.RwpPerDay != 20 || !e.Limits.TTSAccess || e.Limits.TTSPerDay != 50 {
			t.Errorf("%s: unexpected premium limits: %+v", status, e.Limits)
		}
	}
}

func TestResolvePremiumWithoutPeriodEnd(t *testing.T) {
	subs := fakeSubs{"u1": {UserID: "u1", Status: "premium"}}
	e, _ := newTestResolver(subs).Resolve(context.Background(), "u1")
	if e.Tier != TierPremium {
		t.Errorf("expected premium for open-ended subscription, got %s", e.Tier)
	}
}

func TestResolveExpiredPremiumIsFree(t *testing.T) {
	end := now.Add(-time.Second)
	sub := &database.Subscription{UserID: "u1", Status: "premium", CurrentPeriodEnd: &end}
	e, err := newTestResolver(fakeSubs{"u1": sub}).Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Tier != TierFree {
		t.Errorf("expected expired premium to resolve free, got %s", e.Tier)
	}
	if e.Limits.RwpPerWeek != 3 {
		t.Errorf("expected free limits, got %+v", e.Limits)
	}
	if sub.Status != "premium" {
		t.Error("resolver must not modify the stored subscription")
	}
}

func TestResolveCanceledIsFree(t *testing.T) {
	end := now.Add(24 * time.Hour)
	subs := fakeSubs{"u1": {UserID: "u1", Status: "canceled", CurrentPeriodEnd: &end}}
	e, _ := newTestResolver(subs).Resolve(context.Background(), "u1")
	if e.Tier != TierFree {
		t.Errorf("expected free, got %s", e.Tier)
	}
}

func TestResolveUsesConfiguredQuotas(t *testing.T) {
	r := NewResolver(fakeSubs{}, config.Quotas{FreeRwpPerWeek: 5, PremiumRwpPerDay: 40, PremiumTTSPerDay: 10})
	e, _ := r.Resolve(context.Background(), "u1")
	if e.Limits.RwpPerWeek != 5 {
		t.Errorf("expected configured weekly limit 5, got %d", e.Limits.RwpPerWeek)
	}
}

func TestResolvePropagatesStoreError(t *testing.T) {
	if _, err := newTestResolver(errSubs{}).Resolve(context.Background(), "u1"); err == nil {
		t.Error("expected error")
	}
}
