// Package entitlement maps a user's stored subscription to a tier and the
// quota limits that apply to it.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/zhongwen/internal/config"
	"github.com/TobiSchelling/zhongwen/internal/database"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Limits are the quotas of a tier. A zero per-window limit means the window
// does not gate that tier.
type Limits struct {
	RwpPerWeek int  `json:"rwp_per_week,omitempty"`
	RwpPerDay  int  `json:"rwp_per_day,omitempty"`
	TTSAccess  bool `json:"tts_access"`
	TTSPerDay  int  `json:"tts_per_day,omitempty"`
}

// Entitlement is the resolved tier of a user at one point in time.
type Entitlement struct {
	Tier      Tier       `json:"tier"`
	Limits    Limits     `json:"limits"`
	Status    string     `json:"status"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
}

// SubscriptionSource reads stored subscriptions.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID string) (*database.Subscription, error)
}

// Resolver resolves entitlements. It never writes.
type Resolver struct {
	subs   SubscriptionSource
	quotas config.Quotas
	now    func() time.Time
}

// NewResolver creates a resolver using the quota limits from config.
func NewResolver(subs SubscriptionSource, quotas config.Quotas) *Resolver {
	if quotas.FreeRwpPerWeek <= 0 {
		quotas.FreeRwpPerWeek = 3
	}
	if quotas.PremiumRwpPerDay <= 0 {
		quotas.PremiumRwpPerDay = 20
	}
	if quotas.PremiumTTSPerDay <= 0 {
		quotas.PremiumTTSPerDay = 50
	}
	return &Resolver{subs: subs, quotas: quotas, now: time.Now}
}

// WithClock replaces the evaluation clock.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the user's tier and limits. A premium status whose
// current_period_end has passed resolves to free; the stored record is left
// untouched.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Entitlement, error) {
	sub, err := r.subs.GetSubscription(ctx, userID)
	if err != nil {
		return Entitlement{}, fmt.Errorf("loading subscription for %s: %w", userID, err)
	}

	e := r.free()
	if sub == nil {
		return e, nil
	}
	e.Status = sub.Status
	e.PeriodEnd = sub.CurrentPeriodEnd

	if !isPremiumStatus(sub.Status) {
		return e, nil
	}
	if sub.CurrentPeriodEnd != nil && !r.now().Before(*sub.CurrentPeriodEnd) {
		return e, nil
	}

	e.Tier = TierPremium
	e.Limits = Limits{
		RwpPerDay: r.quotas.PremiumRwpPerDay,
		TTSAccess: true,
		TTSPerDay: r.quotas.PremiumTTSPerDay,
	}
	return e, nil
}

func (r *Resolver) free() Entitlement {
	return Entitlement{
		Tier:   TierFree,
		Status: string(TierFree),
		Limits: Limits{RwpPerWeek: r.quotas.FreeRwpPerWeek},
	}
}

func isPremiumStatus(status string) bool {
	switch status {
	case "premium", "active", "trialing":
		return true
	}
	return false
}
