package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"step_ingestor/internal/config"
	"step_ingestor/internal/domain"
	"step_ingestor/internal/secret"
	"step_ingestor/testdata/utils"
)

type MockActivityReader struct {
	mock.Mock
}

func (m *MockActivityReader) ListSummaries(ctx context.Context, userID string, from, to time.Time) ([]domain.ActivitySummary, error) {
	args := m.Called(ctx, userID, from, to)
	summaries, _ := args.Get(0).([]domain.ActivitySummary)
	return summaries, args.Error(1)
}

func (m *MockActivityReader) StepTotals(ctx context.Context, userID, freq string, from, to time.Time) ([]domain.StepBucket, error) {
	args := m.Called(ctx, userID, freq, from, to)
	buckets, _ := args.Get(0).([]domain.StepBucket)
	return buckets, args.Error(1)
}

type MockUserSyncer struct {
	mock.Mock
}

func (m *MockUserSyncer) SyncUser(ctx context.Context, userID string) (*domain.UserSyncStats, error) {
	args := m.Called(ctx, userID)
	stats, _ := args.Get(0).(*domain.UserSyncStats)
	return stats, args.Error(1)
}

type MockUserRegistry struct {
	mock.Mock
}

func (m *MockUserRegistry) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	args := m.Called(ctx, reg)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *MockUserRegistry) Delete(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type MockTokenExchanger struct {
	mock.Mock
}

func (m *MockTokenExchanger) AuthCodeURL(state string, _ ...oauth2.AuthCodeOption) string {
	return m.Called(state).String(0)
}

func (m *MockTokenExchanger) Exchange(ctx context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	args := m.Called(ctx, code)
	token, _ := args.Get(0).(*oauth2.Token)
	return token, args.Error(1)
}

type testAPI struct {
	*API
	t          *testing.T
	activities *MockActivityReader
	syncer     *MockUserSyncer
	users      *MockUserRegistry
	oauth      *MockTokenExchanger
	handler    http.Handler
}

var today = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

const testSessionKey = "ZmVkY2JhOTg3NjU0MzIxMGZlZGNiYTk4NzY1NDMyMTA="

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	box, err := secret.NewBox(testSessionKey)
	require.NoError(t, err)

	ta := &testAPI{
		t:          t,
		activities: new(MockActivityReader),
		syncer:     new(MockUserSyncer),
		users:      new(MockUserRegistry),
		oauth:      new(MockTokenExchanger),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ta.API = NewAPI(logger, ta.activities, ta.syncer, ta.users, ta.oauth, NewSessions(box, 24*time.Hour))
	ta.API.now = func() time.Time { return today.Add(15 * time.Hour) }
	ta.handler = ta.Routes()

	t.Cleanup(func() {
		ta.activities.AssertExpectations(t)
		ta.syncer.AssertExpectations(t)
		ta.users.AssertExpectations(t)
		ta.oauth.AssertExpectations(t)
	})
	return ta
}

// as attaches a session for userID issued at the test clock.
func (ta *testAPI) as(userID string, req *http.Request) *http.Request {
	return ta.withSession(userID, ta.now(), req)
}

func (ta *testAPI) withSession(userID string, issuedAt time.Time, req *http.Request) *http.Request {
	ta.t.Helper()
	w := httptest.NewRecorder()
	require.NoError(ta.t, ta.sessions.issue(w, req, userID, issuedAt))
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func sessionCookieFrom(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	return nil
}

func (ta *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ta.handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	ta := setupAPI(t)

	w := ta.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetSteps(t *testing.T) {
	ta := setupAPI(t)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	buckets := []domain.StepBucket{
		{Start: from, Steps: 5000},
		{Start: from.AddDate(0, 0, 7), Steps: 42000},
	}
	ta.activities.On("StepTotals", mock.Anything, "42", "week", from, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)).
		Return(buckets, nil)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodGet, "/users/42/steps?freq=week&from=2025-09-01&to=2025-09-30", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	var response StepsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "week", response.Freq)
	assert.Equal(t, "2025-09-01", response.From)
	assert.Equal(t, "2025-09-30", response.To)
	assert.Equal(t, buckets, response.Buckets)
}

func TestGetSteps_Defaults(t *testing.T) {
	ta := setupAPI(t)

	ta.activities.On("StepTotals", mock.Anything, "42", "day",
		time.Date(2025, 9, 18, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC),
	).Return(nil, nil)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodGet, "/users/42/steps", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	var response StepsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "day", response.Freq)
	assert.NotNil(t, response.Buckets)
	assert.Empty(t, response.Buckets)
}

func TestGetSteps_InvalidParams(t *testing.T) {
	for _, query := range []string{
		"freq=fortnight",
		"from=01-09-2025",
		"to=2025-13-01",
		"from=2025-10-01&to=2025-09-01",
	} {
		t.Run(query, func(t *testing.T) {
			ta := setupAPI(t)
			w := ta.do(ta.as("42", httptest.NewRequest(http.MethodGet, "/users/42/steps?"+query, nil)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetSummaries(t *testing.T) {
	ta := setupAPI(t)

	start := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	active := 90 * time.Minute
	ta.activities.On("ListSummaries", mock.Anything, "42", start, today).Return([]domain.ActivitySummary{{
		UserID:         "42",
		Date:           start,
		StartTime:      &start,
		ActiveDuration: &active,
		Steps:          utils.Ptr(10234),
	}}, nil)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodGet, "/users/42/summaries?from=2025-09-30", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"user_id": "42",
		"from": "2025-09-30",
		"to": "2025-10-01",
		"summaries": [{
			"date": "2025-09-30",
			"start_time": "2025-09-30T00:00:00",
			"active_duration": 5400,
			"steps": 10234
		}]
	}`, w.Body.String())
}

func TestGetSummaries_StoreError(t *testing.T) {
	ta := setupAPI(t)

	ta.activities.On("ListSummaries", mock.Anything, "42", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodGet, "/users/42/summaries", nil)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSyncUser(t *testing.T) {
	ta := setupAPI(t)

	ta.syncer.On("SyncUser", mock.Anything, "42").Return(&domain.UserSyncStats{
		UserID:    "42",
		Branch:    "partial",
		Windows:   1,
		Summaries: 3,
	}, nil)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodPost, "/users/42/sync", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.UserSyncStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, "partial", stats.Branch)
	assert.Equal(t, 3, stats.Summaries)
}

func TestSyncUser_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrTokenExpired, http.StatusUnauthorized},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUpstream, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			ta := setupAPI(t)
			ta.syncer.On("SyncUser", mock.Anything, "42").Return(nil, tc.err)

			w := ta.do(ta.as("42", httptest.NewRequest(http.MethodPost, "/users/42/sync", nil)))

			assert.Equal(t, tc.status, w.Code)
			var body errorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestDeleteUser(t *testing.T) {
	ta := setupAPI(t)
	ta.users.On("Delete", mock.Anything, "42").Return(nil)
	ta.users.On("Delete", mock.Anything, "43").Return(domain.ErrNotFound)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodDelete, "/users/42", nil)))
	assert.Equal(t, http.StatusNoContent, w.Code)
	cleared := sessionCookieFrom(w)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	w = ta.do(ta.as("43", httptest.NewRequest(http.MethodDelete, "/users/43", nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func userRoutes(userID string) []*http.Request {
	return []*http.Request{
		httptest.NewRequest(http.MethodGet, "/users/"+userID+"/steps", nil),
		httptest.NewRequest(http.MethodGet, "/users/"+userID+"/summaries", nil),
		httptest.NewRequest(http.MethodPost, "/users/"+userID+"/sync", nil),
		httptest.NewRequest(http.MethodDelete, "/users/"+userID, nil),
	}
}

func TestUserRoutes_RequireSession(t *testing.T) {
	ta := setupAPI(t)

	for _, req := range userRoutes("42") {
		w := ta.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", req.Method, req.URL.Path)
	}
}

func TestUserRoutes_RejectOtherUser(t *testing.T) {
	ta := setupAPI(t)

	for _, req := range userRoutes("42") {
		w := ta.do(ta.as("43", req))
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", req.Method, req.URL.Path)
	}
}

func TestUserRoutes_RejectExpiredSession(t *testing.T) {
	ta := setupAPI(t)

	req := ta.withSession("42", ta.now().Add(-25*time.Hour), httptest.NewRequest(http.MethodPost, "/users/42/sync", nil))
	w := ta.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserRoutes_RejectForgedSession(t *testing.T) {
	ta := setupAPI(t)

	other, err := secret.NewBox("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	forged, err := other.Seal(`{"uid":"42","exp":4102444800}`)
	require.NoError(t, err)

	for _, value := range []string{forged, "not-a-session"} {
		req := httptest.NewRequest(http.MethodDelete, "/users/42", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: value})
		assert.Equal(t, http.StatusUnauthorized, ta.do(req).Code)
	}
}

func TestLogout(t *testing.T) {
	ta := setupAPI(t)

	w := ta.do(ta.as("42", httptest.NewRequest(http.MethodPost, "/oauth/logout", nil)))

	assert.Equal(t, http.StatusNoContent, w.Code)
	cleared := sessionCookieFrom(w)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestLogin(t *testing.T) {
	ta := setupAPI(t)
	var state string
	ta.oauth.On("AuthCodeURL", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { state = args.String(0) }).
		Return("https://flow.polar.com/oauth2/authorization?state=xyz")

	w := ta.do(httptest.NewRequest(http.MethodGet, "/oauth/login", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://flow.polar.com/oauth2/authorization?state=xyz", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.Equal(t, state, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func callbackRequest(query url.Values, state string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?"+query.Encode(), nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: state})
	}
	return req
}

func TestCallback(t *testing.T) {
	ta := setupAPI(t)
	expiry := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	token := (&oauth2.Token{AccessToken: "token-42", TokenType: "bearer", Expiry: expiry}).
		WithExtra(map[string]any{"x_user_id": float64(42)})
	ta.oauth.On("Exchange", mock.Anything, "code-1").Return(token, nil)
	ta.users.On("Register", mock.Anything, domain.Registration{
		UserID:      "42",
		AccessToken: "token-42",
		ExpiresAt:   &expiry,
	}).Return(&domain.User{ID: "42", PolarMemberID: "polarclient42"}, nil)

	w := ta.do(callbackRequest(url.Values{"code": {"code-1"}, "state": {"s1"}}, "s1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"42","polar_member_id":"polarclient42"}`, w.Body.String())

	cookie := sessionCookieFrom(w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	// The issued session opens the new user's routes.
	ta.activities.On("ListSummaries", mock.Anything, "42", mock.Anything, mock.Anything).Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/users/42/summaries", nil)
	req.AddCookie(cookie)
	assert.Equal(t, http.StatusOK, ta.do(req).Code)
}

func TestCallback_StringUserIDWithoutExpiry(t *testing.T) {
	ta := setupAPI(t)

	token := (&oauth2.Token{AccessToken: "token-7"}).WithExtra(map[string]any{"x_user_id": "7"})
	ta.oauth.On("Exchange", mock.Anything, "code-7").Return(token, nil)
	ta.users.On("Register", mock.Anything, domain.Registration{UserID: "7", AccessToken: "token-7"}).
		Return(&domain.User{ID: "7", PolarMemberID: "polarclient7"}, nil)

	w := ta.do(callbackRequest(url.Values{"code": {"code-7"}, "state": {"s"}}, "s"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallback_StateMismatch(t *testing.T) {
	ta := setupAPI(t)

	w := ta.do(callbackRequest(url.Values{"code": {"c"}, "state": {"attacker"}}, "s1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(callbackRequest(url.Values{"code": {"c"}, "state": {"s1"}}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback_AuthorizationDenied(t *testing.T) {
	ta := setupAPI(t)

	w := ta.do(callbackRequest(url.Values{"error": {"access_denied"}}, "s1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "access_denied")
}

func TestCallback_ExchangeFailure(t *testing.T) {
	ta := setupAPI(t)
	ta.oauth.On("Exchange", mock.Anything, "c").Return(nil, errors.New("invalid_grant"))

	w := ta.do(callbackRequest(url.Values{"code": {"c"}, "state": {"s"}}, "s"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCallback_MissingUserID(t *testing.T) {
	ta := setupAPI(t)
	ta.oauth.On("Exchange", mock.Anything, "c").Return(&oauth2.Token{AccessToken: "t"}, nil)

	w := ta.do(callbackRequest(url.Values{"code": {"c"}, "state": {"s"}}, "s"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNewOAuthConfig(t *testing.T) {
	cfg := NewOAuthConfig(configForTest())

	assert.Equal(t, oauth2.AuthStyleInHeader, cfg.Endpoint.AuthStyle)
	u, err := url.Parse(cfg.AuthCodeURL("abc"))
	require.NoError(t, err)
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "abc", u.Query().Get("state"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func configForTest() config.PolarConfig {
	return config.PolarConfig{
		AuthURL:      "https://flow.polar.com/oauth2/authorization",
		TokenURL:     "https://polarremote.com/v2/oauth2/token",
		ClientID:     "client",
		ClientSecret: "secret",
	}
}
