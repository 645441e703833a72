package responses

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"visualize-backend/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0       = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	respCols = []string{"id", "user_id", "category", "response", "created_at", "updated_at"}

	latestQuery = regexp.QuoteMeta(`WHERE user_id = ? AND category = ? ORDER BY updated_at DESC, id DESC LIMIT 1`)
	allQuery    = regexp.QuoteMeta(`WHERE user_id = ? ORDER BY updated_at DESC, id DESC`)
)

func newService(t *testing.T, cache Cache) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log, _ := test.NewNullLogger()
	s := NewService(NewRepository(db), cache, log)
	s.now = func() time.Time { return t0 }
	return s, mock
}

func TestFlowOrder(t *testing.T) {
	assert.Equal(t, "/finances", Career.Next())
	assert.Equal(t, "/personal-growth", Finances.Next())
	assert.Equal(t, "/processing", Relationships.Next())
	assert.False(t, Focus.InFlow())

	_, ok := ParseCategory("focus")
	assert.True(t, ok)
	_, ok = ParseCategory("hobbies")
	assert.False(t, ok)
}

func TestSubmitStepInsertsThenUpdates(t *testing.T) {
	s, mock := newService(t, NewMemoryCache(16, time.Minute))

	mock.ExpectQuery(latestQuery).WithArgs("u-1", Career).WillReturnRows(sqlmock.NewRows(respCols))
	mock.ExpectExec("INSERT INTO user_responses").WithArgs("u-1", Career, "Lead a team", t0, t0).
		WillReturnResult(sqlmock.NewResult(7, 1))

	resp, next, err := s.SubmitStep(context.Background(), "u-1", Career, "  Lead a team ")
	require.NoError(t, err)
	assert.Equal(t, "/finances", next)
	assert.Equal(t, int64(7), resp.ID)

	mock.ExpectQuery(latestQuery).WithArgs("u-1", Career).
		WillReturnRows(sqlmock.NewRows(respCols).AddRow(7, "u-1", "career", "Lead a team", t0, t0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE user_responses SET response = ?, updated_at = ? WHERE id = ?`)).
		WithArgs("Start a company", t0, int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	resp, _, err = s.SubmitStep(context.Background(), "u-1", Career, "Start a company")
	require.NoError(t, err)
	assert.Equal(t, "Start a company", resp.Response)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStepRejectsEmptyAndFocus(t *testing.T) {
	s, mock := newService(t, nil)
	_, _, err := s.SubmitStep(context.Background(), "u-1", Health, "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = s.SubmitStep(context.Background(), "u-1", Focus, "Calm")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestWinsAmongDuplicates(t *testing.T) {
	s, mock := newService(t, nil)
	mock.ExpectQuery(allQuery).WithArgs("u-1").WillReturnRows(sqlmock.NewRows(respCols).
		AddRow(9, "u-1", "health", "Run a marathon", t0, t0.Add(time.Hour)).
		AddRow(4, "u-1", "health", "Walk daily", t0, t0).
		AddRow(3, "u-1", "career", "Ship it", t0, t0))

	answers, err := s.Latest(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, answers, 2)
	assert.Equal(t, "Run a marathon", answers[Health].Response)
}

func TestLatestUsesCacheUntilWrite(t *testing.T) {
	s, mock := newService(t, NewMemoryCache(16, time.Minute))
	mock.ExpectQuery(allQuery).WithArgs("u-1").WillReturnRows(sqlmock.NewRows(respCols).
		AddRow(1, "u-1", "career", "A", t0, t0))

	_, err := s.Latest(context.Background(), "u-1")
	require.NoError(t, err)
	got, err := s.Get(context.Background(), "u-1", Career)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Response)

	_, err = s.Get(context.Background(), "u-1", Finances)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// a write drops the cached entry, so the next read hits the store again
	mock.ExpectQuery(latestQuery).WillReturnRows(sqlmock.NewRows(respCols).AddRow(1, "u-1", "career", "A", t0, t0))
	mock.ExpectExec("UPDATE user_responses").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(allQuery).WillReturnRows(sqlmock.NewRows(respCols).AddRow(1, "u-1", "career", "B", t0, t0))

	_, err = s.Edit(context.Background(), "u-1", Career, "B")
	require.NoError(t, err)
	got, err = s.Get(context.Background(), "u-1", Career)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Response)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryCacheExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(4, 20*time.Millisecond)
	c.Set(ctx, "u-1", Answers{Career: {Response: "x"}})
	_, ok := c.Get(ctx, "u-1")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "u-1"))
	_, ok = c.Get(ctx, "u-1")
	assert.False(t, ok)

	c.Set(ctx, "u-2", Answers{})
	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "u-2")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(url, time.Minute)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	c.Set(ctx, "test-user", Answers{Focus: {Response: "breathe"}})
	got, ok := c.Get(ctx, "test-user")
	require.True(t, ok)
	assert.Equal(t, "breathe", got[Focus].Response)

	require.NoError(t, c.Invalidate(ctx, "test-user"))
	_, ok = c.Get(ctx, "test-user")
	assert.False(t, ok)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("http://not-redis", time.Minute)
	assert.Error(t, err)
}
