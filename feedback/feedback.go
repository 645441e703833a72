// Package feedback stores post-session ratings and derives the weekly streak
// shown on the progress dashboard.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/responses"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Rating string

const (
	RatingBad   Rating = "bad"
	RatingGood  Rating = "good"
	RatingGreat Rating = "great"
)

func (r Rating) Valid() bool {
	return r == RatingBad || r == RatingGood || r == RatingGreat
}

// StreakCap bounds the streak to the one week the dashboard displays.
const StreakCap = 7

type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Rating    Rating    `json:"rating"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary covers the seven days ending today. Week[6] is today.
type Summary struct {
	Streak        int            `json:"streak"`
	Week          [7]bool        `json:"week"`
	CategoryUsage map[string]int `json:"category_usage"`
	Total         int            `json:"total"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, f *Feedback) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO session_feedback (id, user_id, rating, session_category_id, created_at) VALUES (?,?,?,?,?)`,
		f.ID, f.UserID, f.Rating, f.Category, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// DaysSince returns the distinct UTC days with feedback at or after since.
func (r *Repository) DaysSince(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT DATE(created_at) FROM session_feedback WHERE user_id = ? AND created_at >= ?`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("feedback days: %w", err)
	}
	defer rows.Close()
	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// CategoryCounts counts sessions per category over the user's whole history.
// Sessions without a category are counted under "".
func (r *Repository) CategoryCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT session_category_id, COUNT(*) FROM session_feedback WHERE user_id = ? GROUP BY session_category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("feedback counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		out[cat] = n
	}
	return out, rows.Err()
}

type Service struct {
	repo  *Repository
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

func NewService(repo *Repository, log logrus.FieldLogger) *Service {
	return &Service{repo: repo, log: log, now: time.Now, newID: uuid.NewString}
}

// Record appends one rating. category may be empty.
func (s *Service) Record(ctx context.Context, userID string, rating Rating, category string) (*Feedback, error) {
	if !rating.Valid() {
		return nil, apperr.InvalidInput("rating must be bad, good or great")
	}
	if category != "" {
		if _, ok := responses.ParseCategory(category); !ok {
			return nil, apperr.InvalidInput("unknown category")
		}
	}
	f := &Feedback{
		ID:        s.newID(),
		UserID:    userID,
		Rating:    rating,
		Category:  category,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.Insert(ctx, f); err != nil {
		return nil, apperr.RemoteWrite("save feedback", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "rating": rating, "category": category}).Info("[feedback][record]")
	return f, nil
}

func (s *Service) Summary(ctx context.Context, userID string) (*Summary, error) {
	today := truncateDay(s.now())
	days, err := s.repo.DaysSince(ctx, userID, today.AddDate(0, 0, -(StreakCap-1)))
	if err != nil {
		return nil, apperr.RemoteWrite("load feedback", err)
	}
	counts, err := s.repo.CategoryCounts(ctx, userID)
	if err != nil {
		return nil, apperr.RemoteWrite("load feedback", err)
	}
	sum := Summarize(today, days)
	for cat, n := range counts {
		sum.Total += n
		if cat != "" {
			sum.CategoryUsage[cat] = n
		}
	}
	return sum, nil
}

// Summarize fills Week and Streak from the days that have feedback. The
// streak runs back from today, or from yesterday when today has none yet.
func Summarize(today time.Time, days []time.Time) *Summary {
	today = truncateDay(today)
	sum := &Summary{CategoryUsage: map[string]int{}}
	for _, d := range days {
		ago := int(today.Sub(truncateDay(d)).Hours() / 24)
		if ago >= 0 && ago < len(sum.Week) {
			sum.Week[len(sum.Week)-1-ago] = true
		}
	}
	i := len(sum.Week) - 1
	if !sum.Week[i] {
		i--
	}
	for ; i >= 0 && sum.Week[i]; i-- {
		sum.Streak++
	}
	if sum.Streak > StreakCap {
		sum.Streak = StreakCap
	}
	return sum
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
