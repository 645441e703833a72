// Package reminders mails free users once their weekly sessions come back.
package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"visualize-backend/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const batchSize = 500

// Notifier is the mail capability the job needs.
type Notifier interface {
	SendCreditsRestored(to string) error
}

type candidate struct {
	userID string
	email  string
}

// Service runs the reminder job on a cron schedule. Credits themselves are not
// touched; the reset is still applied lazily when the user next checks.
type Service struct {
	db       *sql.DB
	notify   Notifier
	period   time.Duration
	schedule string
	cron     *cron.Cron
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(db *sql.DB, notify Notifier, period time.Duration, schedule string, log logrus.FieldLogger) *Service {
	return &Service{
		db:       db,
		notify:   notify,
		period:   period,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}
}

// Start registers the job and starts the scheduler.
func (s *Service) Start() error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.WithError(err).Error("[reminders] run failed")
		}
	}); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("[reminders] scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce mails every due user and returns how many were reminded.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	due, err := s.due(ctx, now)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, u := range due {
		if err := s.notify.SendCreditsRestored(u.email); err != nil {
			metrics.RemindersSent.WithLabelValues("error").Inc()
			s.log.WithError(err).WithField("user_id", u.userID).Warn("[reminders] send failed")
			continue
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE session_credits SET reminded_at = ? WHERE user_id = ?`, now, u.userID); err != nil {
			return sent, fmt.Errorf("mark reminded %s: %w", u.userID, err)
		}
		metrics.RemindersSent.WithLabelValues("sent").Inc()
		sent++
	}
	if sent > 0 {
		s.log.WithField("count", sent).Info("[reminders] sent")
	}
	return sent, nil
}

// due lists users at zero whose reset boundary has passed and who have not
// been reminded since it did.
func (s *Service) due(ctx context.Context, now time.Time) ([]candidate, error) {
	secs := int64(s.period / time.Second)
	rows, err := s.db.QueryContext(ctx, `SELECT u.id, u.email FROM session_credits c
		JOIN users u ON u.id = c.user_id
		WHERE c.credits_remaining = 0
			AND c.last_weekly_reset <= ?
			AND u.email IS NOT NULL AND u.email <> ''
			AND (c.reminded_at IS NULL OR c.reminded_at < DATE_ADD(c.last_weekly_reset, INTERVAL ? SECOND))
		LIMIT ?`, now.Add(-s.period), secs, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.userID, &c.email); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
