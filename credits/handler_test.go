package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"visualize-backend/auth"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubs struct{ active bool }

func (s stubSubs) IsActive(context.Context, string) (bool, error) { return s.active, nil }

func newHandlerRouter(t *testing.T, subs SubscriptionChecker) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l, mock := newLedger(t, true)
	log, _ := test.NewNullLogger()
	r := gin.New()
	r.Use(auth.Middleware(nil, auth.MiddlewareConfig{Disabled: true, Log: log}))
	NewHandler(l, subs, log).RegisterRoutes(r)
	return r, mock
}

func devRow(remaining, referral int) *sqlmock.Rows {
	return sqlmock.NewRows(creditCol).AddRow(auth.DevSubject, remaining, referral, now)
}

func TestStartSessionSubscriberSkipsLedger(t *testing.T) {
	r, mock := newHandlerRouter(t, stubSubs{active: true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/start", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"consumed":false,"subscribed":true}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSessionConsumes(t *testing.T) {
	r, mock := newHandlerRouter(t, stubSubs{})
	mock.ExpectQuery(selectCredits).WillReturnRows(devRow(2, 0))
	mock.ExpectQuery(selectCredits).WillReturnRows(devRow(2, 0))
	mock.ExpectExec(decrement).WithArgs(1, auth.DevSubject, 2).WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/start", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["consumed"])
	assert.EqualValues(t, 1, body["credits_remaining"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSessionExhaustedRoutesToPaywall(t *testing.T) {
	r, mock := newHandlerRouter(t, nil)
	mock.ExpectQuery(selectCredits).WillReturnRows(devRow(0, 0))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/start", nil))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/paywall", body["redirect"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCredits(t *testing.T) {
	r, mock := newHandlerRouter(t, nil)
	mock.ExpectQuery(selectCredits).WillReturnRows(devRow(1, 2))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/credits", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var avail Availability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &avail))
	assert.True(t, avail.Available)
	assert.Equal(t, 2, avail.ReferralCredits)
	assert.Equal(t, now.Add(week), avail.NextReset)
}
