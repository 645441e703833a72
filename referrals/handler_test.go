package referrals

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"visualize-backend/auth"
	"visualize-backend/users"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	r := gin.New()
	authed := r.Group("/", auth.Middleware(nil, auth.MiddlewareConfig{Disabled: true, Log: log}))
	NewHandler(f.svc, "s3cret", "https://app.example.com/", log).RegisterRoutes(r, authed)
	return r
}

func post(r http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProcessRejectsBadSecret(t *testing.T) {
	f := newFixture(t)
	r := newHandlerRouter(t, f)
	w := post(r, "/referrals/process", `{"referral_code":"QWER2345","new_user_id":"x"}`, map[string]string{webhookSecretHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestProcessUnknownCode(t *testing.T) {
	f := newFixture(t)
	r := newHandlerRouter(t, f)
	w := post(r, "/referrals/process", `{"referral_code":"abcd1234","new_user_id":"`+newUserID+`"}`, map[string]string{webhookSecretHeader: "s3cret"})
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["code"])
}

func TestProcessReplayIsSuccess(t *testing.T) {
	f := newFixture(t)
	r := newHandlerRouter(t, f)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockPair).WillReturnRows(
		sqlmock.NewRows(refCols).AddRow("ref-1", referrerID, newUserID, StatusCompleted, true, true, fixedNow, fixedNow))
	f.mock.ExpectRollback()

	w := post(r, "/referrals/process", `{"referral_code":"QWER2345","new_user_id":"`+newUserID+`"}`, map[string]string{webhookSecretHeader: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["already_processed"])
	assert.Equal(t, "already_processed", body["code"])
}

func TestSignupReportsBadCodeWithoutFailing(t *testing.T) {
	f := newFixture(t)
	r := newHandlerRouter(t, f)
	w := post(r, "/signup", `{"referral_code":"nosuchcode"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		User          map[string]any    `json:"user"`
		ReferralError map[string]string `json:"referral_error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, auth.DevSubject, body.User["id"])
	assert.Equal(t, "not_found", body.ReferralError["code"])
}

func TestMeReturnsShareLink(t *testing.T) {
	f := newFixture(t)
	f.dir.byCode["DEV22222"] = &users.User{ID: auth.DevSubject, ReferralCode: "DEV22222"}
	r := newHandlerRouter(t, f)
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).WithArgs(StatusCompleted, auth.DevSubject).
		WillReturnRows(sqlmock.NewRows([]string{"total", "completed"}).AddRow(3, 2))

	req := httptest.NewRequest(http.MethodGet, "/referrals/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, "https://app.example.com/login?ref=DEV22222", stats.ShareLink)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Completed)
}
