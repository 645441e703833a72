package referrals

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"visualize-backend/apperr"
	"visualize-backend/config"
	"visualize-backend/credits"
	"visualize-backend/users"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	referrerID = "5f2e9a10-0000-4000-8000-00000000000a"
	newUserID  = "77aa0000-0000-4000-8000-00000000000b"
)

var (
	fixedNow = time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC)
	refCols  = []string{"id", "referrer_id", "referred_user_id", "status", "referrer_credited", "referred_credited", "created_at", "completed_at"}

	lockPair       = regexp.QuoteMeta(`FROM referrals WHERE referrer_id = ? AND referred_user_id = ? FOR UPDATE`)
	insertReferral = regexp.QuoteMeta(`INSERT INTO referrals`)
	completeRef    = regexp.QuoteMeta(`UPDATE referrals SET status = ?`)
	upsertCredit   = regexp.QuoteMeta(`ON DUPLICATE KEY UPDATE referral_credits = referral_credits + 1`)
)

type fakeDirectory struct {
	byCode   map[string]*users.User
	byPrefix map[string]*users.User
	ensured  []string
}

func (f *fakeDirectory) Get(_ context.Context, id string) (*users.User, error) {
	for _, u := range f.byCode {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) Ensure(_ context.Context, id, _ string) (*users.User, bool, error) {
	f.ensured = append(f.ensured, id)
	return &users.User{ID: id}, true, nil
}

func (f *fakeDirectory) FindByReferralCode(_ context.Context, code string) (*users.User, error) {
	return f.byCode[strings.ToUpper(code)], nil
}

func (f *fakeDirectory) FindByIDPrefix(_ context.Context, prefix string) (*users.User, error) {
	return f.byPrefix[prefix], nil
}

type fakeNotifier struct{ sent []string }

func (f *fakeNotifier) SendReferralReward(to string) error {
	f.sent = append(f.sent, to)
	return nil
}

type fixture struct {
	svc    *Service
	mock   sqlmock.Sqlmock
	dir    *fakeDirectory
	notify *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	log, _ := test.NewNullLogger()

	referrer := &users.User{ID: referrerID, Email: "ref@example.com", ReferralCode: "QWER2345"}
	dir := &fakeDirectory{
		byCode:   map[string]*users.User{"QWER2345": referrer},
		byPrefix: map[string]*users.User{"5f2e9a10": referrer},
	}
	ledger := credits.NewLedger(credits.NewRepository(db), config.LedgerConfig{WeeklyAllotment: 2, ResetPeriod: 168 * time.Hour, StrictConsume: true}, log)
	notify := &fakeNotifier{}
	svc := NewService(NewRepository(db), dir, ledger, notify, log)
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "ref-1" }
	return &fixture{svc: svc, mock: mock, dir: dir, notify: notify}
}

func TestGrantCreditsBothPartiesOnce(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WithArgs(referrerID, newUserID).WillReturnRows(sqlmock.NewRows(refCols))
	f.mock.ExpectExec(insertReferral).WithArgs("ref-1", referrerID, newUserID, StatusPending, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(upsertCredit).WithArgs(referrerID, 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(upsertCredit).WithArgs(newUserID, 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(completeRef).WithArgs(StatusCompleted, true, true, fixedNow, "ref-1").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.Grant(context.Background(), "qwer2345", newUserID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	assert.False(t, res.ToppedUp)
	assert.Equal(t, StatusCompleted, res.Referral.Status)
	assert.Equal(t, []string{"ref@example.com"}, f.notify.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	// second call with the same arguments: nothing is credited again
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WithArgs(referrerID, newUserID).WillReturnRows(
		sqlmock.NewRows(refCols).AddRow("ref-1", referrerID, newUserID, StatusCompleted, true, true, fixedNow, fixedNow))
	f.mock.ExpectRollback()

	res, err = f.svc.Grant(context.Background(), "QWER2345", newUserID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Len(t, f.notify.sent, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantTopsUpPartialGrant(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(
		sqlmock.NewRows(refCols).AddRow("ref-0", referrerID, newUserID, StatusPending, true, false, fixedNow.Add(-time.Hour), nil))
	f.mock.ExpectExec(upsertCredit).WithArgs(newUserID, 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(completeRef).WithArgs(StatusCompleted, true, true, fixedNow, "ref-0").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.Grant(context.Background(), "QWER2345", newUserID)
	require.NoError(t, err)
	assert.True(t, res.ToppedUp)
	assert.True(t, res.Referral.Settled())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantUnknownCodeWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Grant(context.Background(), "abcd1234", newUserID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.dir.ensured)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantSelfReferralWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Grant(context.Background(), "QWER2345", referrerID)
	assert.ErrorIs(t, err, apperr.ErrInvalidSelfReferral)
	assert.Empty(t, f.dir.ensured)
	assert.Empty(t, f.notify.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantResolvesLegacyPrefix(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Resolve(context.Background(), "5f2e9a10")
	require.NoError(t, err)
	assert.Equal(t, referrerID, u.ID)
}

func TestGrantConcurrentInsertRetries(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(sqlmock.NewRows(refCols))
	f.mock.ExpectExec(insertReferral).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uq_referrals_pair'"})
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(
		sqlmock.NewRows(refCols).AddRow("ref-9", referrerID, newUserID, StatusCompleted, true, true, fixedNow, fixedNow))
	f.mock.ExpectRollback()

	res, err := f.svc.Grant(context.Background(), "QWER2345", newUserID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantDeadlockVictimRetries(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(sqlmock.NewRows(refCols))
	f.mock.ExpectExec(insertReferral).WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock; try restarting transaction"})
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(
		sqlmock.NewRows(refCols).AddRow("ref-9", referrerID, newUserID, StatusCompleted, true, true, fixedNow, fixedNow))
	f.mock.ExpectRollback()

	res, err := f.svc.Grant(context.Background(), "QWER2345", newUserID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantGivesUpAfterRepeatedDeadlocks(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < maxGrantAttempts; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockPair).WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
		f.mock.ExpectRollback()
	}

	_, err := f.svc.Grant(context.Background(), "QWER2345", newUserID)
	assert.ErrorIs(t, err, apperr.ErrRemoteWrite)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGrantFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(sqlmock.NewRows(refCols))
	f.mock.ExpectExec(insertReferral).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(upsertCredit).WillReturnError(assert.AnError)
	f.mock.ExpectRollback()

	_, err := f.svc.Grant(context.Background(), "QWER2345", newUserID)
	assert.ErrorIs(t, err, apperr.ErrRemoteWrite)
	assert.Empty(t, f.notify.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
