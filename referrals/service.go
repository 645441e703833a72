// Package referrals records who invited whom and pays both sides one
// referral credit, exactly once per pair.
package referrals

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/credits"
	"visualize-backend/metrics"
	"visualize-backend/users"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UserDirectory resolves referral codes to accounts.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*users.User, error)
	Ensure(ctx context.Context, id, email string) (*users.User, bool, error)
	FindByReferralCode(ctx context.Context, code string) (*users.User, error)
	FindByIDPrefix(ctx context.Context, prefix string) (*users.User, error)
}

// CreditGranter adds one referral credit within the caller's transaction.
type CreditGranter interface {
	AddReferralCredit(ctx context.Context, q credits.DBTX, userID string) error
}

// Notifier tells a referrer their invite paid off.
type Notifier interface {
	SendReferralReward(to string) error
}

type Service struct {
	repo    *Repository
	users   UserDirectory
	credits CreditGranter
	notify  Notifier
	log     logrus.FieldLogger
	now     func() time.Time
	newID   func() string
}

func NewService(repo *Repository, dir UserDirectory, granter CreditGranter, notify Notifier, log logrus.FieldLogger) *Service {
	return &Service{
		repo:    repo,
		users:   dir,
		credits: granter,
		notify:  notify,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Resolve maps a code to its referrer: the dedicated code column first, then
// the legacy account-id prefix.
func (s *Service) Resolve(ctx context.Context, code string) (*users.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.InvalidInput("referral code is required")
	}
	u, err := s.users.FindByReferralCode(ctx, code)
	if err != nil {
		return nil, apperr.RemoteWrite("resolve referral code", err)
	}
	if u == nil {
		if u, err = s.users.FindByIDPrefix(ctx, code); err != nil {
			return nil, apperr.RemoteWrite("resolve referral code", err)
		}
	}
	if u == nil {
		return nil, apperr.NotFound("referral code not found")
	}
	return u, nil
}

// Grant applies a referral. A repeated call for the same pair returns success
// with AlreadyProcessed set; a pair left partially credited is topped up.
// Unknown codes and self-referrals fail before anything is written.
func (s *Service) Grant(ctx context.Context, code, newUserID string) (*Result, error) {
	fields := logrus.Fields{"code": code, "referred_user_id": newUserID}
	referrer, err := s.Resolve(ctx, code)
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperr.ErrNotFound) {
			outcome = "not_found"
		}
		metrics.ReferralGrants.WithLabelValues(outcome).Inc()
		s.log.WithFields(fields).WithError(err).Info("[referral][deny]")
		return nil, err
	}
	if strings.EqualFold(referrer.ID, newUserID) {
		metrics.ReferralGrants.WithLabelValues("self_referral").Inc()
		s.log.WithFields(fields).Info("[referral][deny] self referral")
		return nil, apperr.InvalidSelfReferral()
	}
	fields["referrer_id"] = referrer.ID

	if _, _, err := s.users.Ensure(ctx, newUserID, ""); err != nil {
		return nil, apperr.RemoteWrite("load referred account", err)
	}

	var res *Result
	for attempt := 1; ; attempt++ {
		res, err = s.grant(ctx, referrer.ID, newUserID)
		if err == nil || !retryable(err) || attempt == maxGrantAttempts {
			break
		}
		// a concurrent grant for the same pair won; the next attempt sees its row
		s.log.WithFields(fields).WithError(err).Debug("[referral][retry]")
	}
	if err != nil {
		metrics.ReferralGrants.WithLabelValues("error").Inc()
		s.log.WithFields(fields).WithError(err).Error("[referral][error]")
		return nil, apperr.RemoteWrite("grant referral", err)
	}

	switch {
	case res.AlreadyProcessed:
		metrics.ReferralGrants.WithLabelValues("replayed").Inc()
		s.log.WithFields(fields).Info("[referral][replay] already processed")
		return res, nil
	case res.ToppedUp:
		metrics.ReferralGrants.WithLabelValues("topped_up").Inc()
		s.log.WithFields(fields).Warn("[referral][topup] completed a partial grant")
	default:
		metrics.ReferralGrants.WithLabelValues("granted").Inc()
		s.log.WithFields(fields).Info("[referral][grant]")
	}

	if s.notify != nil && referrer.Email != "" {
		if err := s.notify.SendReferralReward(referrer.Email); err != nil {
			s.log.WithFields(fields).WithError(err).Warn("[referral][mail] reward notification failed")
		}
	}
	return res, nil
}

func (s *Service) grant(ctx context.Context, referrerID, referredID string) (*Result, error) {
	tx, err := s.repo.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ref, err := s.repo.lockPair(ctx, tx, referrerID, referredID)
	if err != nil {
		return nil, err
	}
	res := &Result{Referral: ref}
	if ref == nil {
		ref = &Referral{
			ID:             s.newID(),
			ReferrerID:     referrerID,
			ReferredUserID: referredID,
			Status:         StatusPending,
			CreatedAt:      s.clock(),
		}
		if err := s.repo.insert(ctx, tx, ref); err != nil {
			return nil, err
		}
		res.Referral = ref
	} else if ref.Settled() {
		res.AlreadyProcessed = true
		return res, nil
	} else {
		res.ToppedUp = true
	}

	if err := s.creditMissing(ctx, tx, ref); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) creditMissing(ctx context.Context, tx *sql.Tx, ref *Referral) error {
	if !ref.ReferrerCredited {
		if err := s.credits.AddReferralCredit(ctx, tx, ref.ReferrerID); err != nil {
			return err
		}
		ref.ReferrerCredited = true
	}
	if !ref.ReferredCredited {
		if err := s.credits.AddReferralCredit(ctx, tx, ref.ReferredUserID); err != nil {
			return err
		}
		ref.ReferredCredited = true
	}
	done := s.clock()
	ref.Status = StatusCompleted
	ref.CompletedAt = &done
	return s.repo.complete(ctx, tx, ref)
}

// Stats summarizes the caller's own referral activity.
func (s *Service) Stats(ctx context.Context, u *users.User, appURL string) (*Stats, error) {
	total, completed, err := s.repo.CountByReferrer(ctx, u.ID)
	if err != nil {
		return nil, apperr.RemoteWrite("count referrals", err)
	}
	return &Stats{
		Code:      u.ReferralCode,
		ShareLink: strings.TrimRight(appURL, "/") + "/login?ref=" + u.ReferralCode,
		Total:     total,
		Completed: completed,
	}, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
