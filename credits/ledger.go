// Package credits keeps the per-user session-credit ledger: a weekly free
// allotment that refills lazily plus permanent referral credits.
package credits

import (
	"context"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/config"
	"visualize-backend/metrics"

	"github.com/sirupsen/logrus"
)

const (
	modeStrict = "strict"
	modeLegacy = "legacy"
)

type Ledger struct {
	repo      *Repository
	allotment int
	period    time.Duration
	strict    bool
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewLedger(repo *Repository, cfg config.LedgerConfig, log logrus.FieldLogger) *Ledger {
	return &Ledger{
		repo:      repo,
		allotment: cfg.WeeklyAllotment,
		period:    cfg.ResetPeriod,
		strict:    cfg.StrictConsume,
		log:       log,
		now:       time.Now,
	}
}

// Period is the reset interval.
func (l *Ledger) Period() time.Duration { return l.period }

func (l *Ledger) clock() time.Time {
	// DATETIME(6) keeps microseconds; the reset guard compares stored values
	return l.now().UTC().Truncate(time.Microsecond)
}

// load fetches the row, creating it with the default allotment on first use.
func (l *Ledger) load(ctx context.Context, userID string) (*SessionCredits, error) {
	sc, err := l.repo.Get(ctx, userID)
	if err != nil || sc != nil {
		return sc, err
	}
	now := l.clock()
	created, err := l.repo.Create(ctx, userID, l.allotment, now)
	if err != nil {
		return nil, err
	}
	if created {
		l.log.WithField("user_id", userID).Info("[credits][create] default allotment")
		return &SessionCredits{UserID: userID, CreditsRemaining: l.allotment, LastWeeklyReset: now}, nil
	}
	return l.repo.Get(ctx, userID)
}

// CheckAvailability fetches or creates the balance and applies a due weekly
// reset before reporting whether a session can start.
func (l *Ledger) CheckAvailability(ctx context.Context, userID string) (*Availability, error) {
	sc, err := l.load(ctx, userID)
	if err != nil {
		return nil, apperr.RemoteWrite("load credits", err)
	}
	if sc == nil {
		return nil, apperr.RemoteWrite("load credits", nil)
	}

	now := l.clock()
	if sc.DueForReset(now, l.period) {
		applied, err := l.repo.Reset(ctx, userID, l.allotment, sc.LastWeeklyReset, now)
		if err != nil {
			return nil, apperr.RemoteWrite("reset credits", err)
		}
		if applied {
			metrics.CreditResets.Inc()
			l.log.WithFields(logrus.Fields{
				"user_id":  userID,
				"previous": sc.LastWeeklyReset,
			}).Info("[credits][reset] weekly allotment restored")
			sc.CreditsRemaining = l.allotment
			sc.LastWeeklyReset = now
		} else if sc, err = l.repo.Get(ctx, userID); err != nil || sc == nil {
			// someone else crossed the boundary first
			return nil, apperr.RemoteWrite("reload credits", err)
		}
	}

	return &Availability{
		Available:        sc.Total() > 0,
		NextReset:        sc.NextReset(l.period),
		CreditsRemaining: sc.CreditsRemaining,
		ReferralCredits:  sc.ReferralCredits,
	}, nil
}

// Peek reports the balance CheckAvailability would return without writing:
// a missing row reads as the default allotment and a due reset is applied
// in memory only.
func (l *Ledger) Peek(ctx context.Context, userID string) (*Availability, error) {
	sc, err := l.repo.Get(ctx, userID)
	if err != nil {
		return nil, apperr.RemoteWrite("load credits", err)
	}
	now := l.clock()
	if sc == nil {
		sc = &SessionCredits{UserID: userID, CreditsRemaining: l.allotment, LastWeeklyReset: now}
	} else if sc.DueForReset(now, l.period) {
		sc.CreditsRemaining = l.allotment
		sc.LastWeeklyReset = now
	}
	return &Availability{
		Available:        sc.Total() > 0,
		NextReset:        sc.NextReset(l.period),
		CreditsRemaining: sc.CreditsRemaining,
		ReferralCredits:  sc.ReferralCredits,
	}, nil
}

// ConsumeCredit spends one unit of the weekly allotment and returns what is
// left of it. Referral credits count toward availability but are not drawn
// here. An empty allotment yields apperr.ErrCreditsExhausted with no write.
func (l *Ledger) ConsumeCredit(ctx context.Context, userID string) (int, error) {
	sc, err := l.load(ctx, userID)
	if err != nil {
		return 0, apperr.RemoteWrite("load credits", err)
	}
	if sc == nil {
		return 0, apperr.RemoteWrite("load credits", nil)
	}
	fields := logrus.Fields{"user_id": userID, "remaining_before": sc.CreditsRemaining, "referral_credits": sc.ReferralCredits}
	if sc.CreditsRemaining <= 0 {
		metrics.CreditsExhausted.Inc()
		l.log.WithFields(fields).Info("[credits][exhausted]")
		return 0, apperr.CreditsExhausted()
	}

	mode := modeLegacy
	if l.strict {
		mode = modeStrict
		ok, err := l.repo.DecrementFrom(ctx, userID, sc.CreditsRemaining)
		if err != nil {
			l.log.WithFields(fields).WithError(err).Error("[credits][error]")
			return 0, apperr.RemoteWrite("consume credit", err)
		}
		if !ok {
			metrics.CreditsExhausted.Inc()
			l.log.WithFields(fields).Warn("[credits][race_exhausted] balance changed since read")
			return 0, apperr.CreditsExhausted()
		}
	} else if err := l.repo.SetRemaining(ctx, userID, sc.CreditsRemaining-1); err != nil {
		l.log.WithFields(fields).WithError(err).Error("[credits][error]")
		return 0, apperr.RemoteWrite("consume credit", err)
	}

	metrics.CreditsConsumed.WithLabelValues(mode).Inc()
	remaining := sc.CreditsRemaining - 1
	l.log.WithFields(fields).WithFields(logrus.Fields{"remaining_after": remaining, "mode": mode}).Info("[credits][consume]")
	return remaining, nil
}

// AddReferralCredit grants one referral credit through q, which may be a
// transaction owned by the caller.
func (l *Ledger) AddReferralCredit(ctx context.Context, q DBTX, userID string) error {
	return l.repo.AddReferral(ctx, q, userID, l.allotment, l.clock())
}
