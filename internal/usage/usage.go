// Package usage enforces per-user feature quotas: a weekly RWP window for the
// free tier, a daily one for premium, and a premium-only daily TTS window.
//
// Two enforcement modes exist. CheckAvailability followed by Increment after
// success leaves a bounded race: concurrent runs by the same user can both
// pass the check before either increments. Reserve closes it by checking and
// counting in one conditional update; Release hands the slot back when the
// reserved run fails.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/entitlement"
	"github.com/TobiSchelling/zhongwen/internal/logging"
)

type Feature = database.Feature

const (
	FeatureRWP = database.FeatureRWP
	FeatureTTS = database.FeatureTTS
)

// Denial reasons.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonDailyLimit       = "daily_limit_reached"
	ReasonWeeklyLimit      = "weekly_limit_reached"
	ReasonPremiumRequired  = "premium_required"
)

// ErrNotAuthenticated is returned by mutating operations called without a user.
var ErrNotAuthenticated = errors.New("not authenticated")

// Availability is the outcome of a quota check or reservation.
type Availability struct {
	Allowed          bool             `json:"allowed"`
	Reason           string           `json:"reason,omitempty"`
	Tier             entitlement.Tier `json:"tier,omitempty"`
	Limit            int              `json:"limit,omitempty"`
	Remaining        *int             `json:"remaining,omitempty"`
	ResetAt          *time.Time       `json:"reset_at,omitempty"`
	UpgradeAvailable bool             `json:"upgrade_available,omitempty"`
}

// Store is the persistence the ledger needs.
type Store interface {
	RefreshUsage(ctx context.Context, userID string, w database.Windows) (*database.UsageRecord, error)
	IncrementUsage(ctx context.Context, userID string, f database.Feature, w database.Windows) error
	ReserveUsage(ctx context.Context, userID string, f database.Feature, gate database.Counter, limit int, w database.Windows) (bool, *database.UsageRecord, error)
	ReleaseUsage(ctx context.Context, userID string, f database.Feature, w database.Windows) error
}

// EntitlementResolver resolves a user's tier and limits.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (entitlement.Entitlement, error)
}

// Ledger checks and records feature usage.
type Ledger struct {
	store Store
	ent   EntitlementResolver
	log   *logging.Logger
	now   func() time.Time
	loc   *time.Location
}

// New creates a ledger. Daily windows end at local midnight.
func New(store Store, ent EntitlementResolver, log *logging.Logger) *Ledger {
	return &Ledger{
		store: store,
		ent:   ent,
		log:   logging.OrNop(log).With("component", "usage"),
		now:   time.Now,
		loc:   time.Local,
	}
}

// WithClock replaces the clock and the location daily windows are cut in.
func (l *Ledger) WithClock(now func() time.Time, loc *time.Location) *Ledger {
	l.now = now
	if loc != nil {
		l.loc = loc
	}
	return l
}

// Windows returns the current evaluation time and the reset times a fresh
// or expired counter gets: the next local midnight for daily windows and
// now plus seven days for weekly ones.
func (l *Ledger) Windows() database.Windows {
	now := l.now()
	y, m, d := now.In(l.loc).Date()
	return database.Windows{
		Now:      now,
		NextDay:  time.Date(y, m, d+1, 0, 0, 0, 0, l.loc),
		NextWeek: now.Add(7 * 24 * time.Hour),
	}
}

// gate describes which counter limits a feature for a tier.
type gate struct {
	counter database.Counter
	limit   int
	reason  string
}

func gateFor(e entitlement.Entitlement, f Feature) (gate, error) {
	switch f {
	case FeatureRWP:
		if e.Tier == entitlement.TierPremium {
			return gate{database.CounterRwpDay, e.Limits.RwpPerDay, ReasonDailyLimit}, nil
		}
		return gate{database.CounterRwpWeek, e.Limits.RwpPerWeek, ReasonWeeklyLimit}, nil
	case FeatureTTS:
		return gate{database.CounterTtsDay, e.Limits.TTSPerDay, ReasonDailyLimit}, nil
	}
	return gate{}, fmt.Errorf("unknown feature %q", f)
}

func counterState(rec *database.UsageRecord, c database.Counter) (int, time.Time) {
	switch c {
	case database.CounterRwpDay:
		return rec.RwpDayCount, rec.RwpDayResetAt
	case database.CounterRwpWeek:
		return rec.RwpWeekCount, rec.RwpWeekResetAt
	default:
		return rec.TtsDayCount, rec.TtsDayResetAt
	}
}

// CheckAvailability reports whether the user may use the feature now. It
// lazily creates the usage record and persists any window reset it applies.
func (l *Ledger) CheckAvailability(ctx context.Context, userID string, f Feature) (Availability, error) {
	if userID == "" {
		return Availability{Allowed: false, Reason: ReasonNotAuthenticated}, nil
	}

	ent, g, denied, err := l.prepare(ctx, userID, f)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	rec, err := l.store.RefreshUsage(ctx, userID, l.Windows())
	if err != nil {
		return Availability{}, err
	}
	return evaluate(ent, g, rec, false), nil
}

// Increment counts one use of the feature. It does not check limits and must
// only be called after the metered work succeeded.
func (l *Ledger) Increment(ctx context.Context, userID string, f Feature) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	if err := l.store.IncrementUsage(ctx, userID, f, l.Windows()); err != nil {
		return err
	}
	l.log.Debug("usage incremented", "user_id", userID, "feature", f)
	return nil
}

// Reserve atomically checks the limit and counts one use. A denied
// reservation changes nothing.
func (l *Ledger) Reserve(ctx context.Context, userID string, f Feature) (Availability, error) {
	if userID == "" {
		return Availability{Allowed: false, Reason: ReasonNotAuthenticated}, nil
	}

	ent, g, denied, err := l.prepare(ctx, userID, f)
	if err != nil || denied != nil {
		return deref(denied), err
	}

	ok, rec, err := l.store.ReserveUsage(ctx, userID, f, g.counter, g.limit, l.Windows())
	if err != nil {
		return Availability{}, err
	}
	a := evaluate(ent, g, rec, ok)
	if ok {
		l.log.Debug("usage reserved", "user_id", userID, "feature", f, "remaining", *a.Remaining)
	}
	return a, nil
}

// Release returns a slot taken by Reserve.
func (l *Ledger) Release(ctx context.Context, userID string, f Feature) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	if err := l.store.ReleaseUsage(ctx, userID, f, l.Windows()); err != nil {
		return err
	}
	l.log.Debug("usage released", "user_id", userID, "feature", f)
	return nil
}

// prepare resolves the entitlement and gate. A non-nil Availability means
// the feature is denied before any counter is consulted.
func (l *Ledger) prepare(ctx context.Context, userID string, f Feature) (entitlement.Entitlement, gate, *Availability, error) {
	ent, err := l.ent.Resolve(ctx, userID)
	if err != nil {
		return ent, gate{}, nil, err
	}
	if f == FeatureTTS && !ent.Limits.TTSAccess {
		return ent, gate{}, &Availability{
			Allowed:          false,
			Reason:           ReasonPremiumRequired,
			Tier:             ent.Tier,
			UpgradeAvailable: true,
		}, nil
	}
	g, err := gateFor(ent, f)
	if err != nil {
		return ent, gate{}, nil, err
	}
	return ent, g, nil, nil
}

// evaluate builds the availability from a usage record. When reserved is
// true the record already includes the reserved use.
func evaluate(ent entitlement.Entitlement, g gate, rec *database.UsageRecord, reserved bool) Availability {
	count, resetAt := counterState(rec, g.counter)
	a := Availability{Tier: ent.Tier, Limit: g.limit}

	if !reserved && count >= g.limit {
		a.Reason = g.reason
		a.ResetAt = &resetAt
		a.UpgradeAvailable = ent.Tier == entitlement.TierFree
		return a
	}

	a.Allowed = true
	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}
	a.Remaining = &remaining
	return a
}

func deref(a *Availability) Availability {
	if a == nil {
		return Availability{}
	}
	return *a
}
