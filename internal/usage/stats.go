package usage

import (
	"context"
	"time"

	"github.com/TobiSchelling/zhongwen/internal/entitlement"
)

// Stats is the per-user usage summary shown on the account page.
type Stats struct {
	Subscription SubscriptionStats `json:"subscription"`
	RWP          RWPStats          `json:"rwp"`
	TTS          TTSStats          `json:"tts"`
}

type SubscriptionStats struct {
	Status      string           `json:"status"`
	Tier        entitlement.Tier `json:"tier"`
	RenewalDate *time.Time       `json:"renewalDate"`
}

type RWPStats struct {
	Count      int       `json:"count"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"resetAt"`
	PeriodType string    `json:"periodType"` // "daily" or "weekly"
}

type TTSStats struct {
	Count     int  `json:"count"`
	Limit     int  `json:"limit"`
	Available bool `json:"available"`
}

// Stats returns the user's counters for the window their tier is gated by.
// Expired windows are reset first, like a check.
func (l *Ledger) Stats(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, ErrNotAuthenticated
	}

	ent, err := l.ent.Resolve(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	rec, err := l.store.RefreshUsage(ctx, userID, l.Windows())
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Subscription: SubscriptionStats{
			Status:      ent.Status,
			Tier:        ent.Tier,
			RenewalDate: ent.PeriodEnd,
		},
		TTS: TTSStats{
			Count:     rec.TtsDayCount,
			Limit:     ent.Limits.TTSPerDay,
			Available: ent.Limits.TTSAccess,
		},
	}
	if ent.Tier == entitlement.TierPremium {
		s.RWP = RWPStats{Count: rec.RwpDayCount, Limit: ent.Limits.RwpPerDay, ResetAt: rec.RwpDayResetAt, PeriodType: "daily"}
	} else {
		s.RWP = RWPStats{Count: rec.RwpWeekCount, Limit: ent.Limits.RwpPerWeek, ResetAt: rec.RwpWeekResetAt, PeriodType: "weekly"}
	}
	return s, nil
}
