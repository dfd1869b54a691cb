package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dishwatch/internal/auth"
	"dishwatch/internal/monitor"
)

func newTestOAuthHandler(t *testing.T) (*OAuthHandler, *fakeGoogleAuthenticator, *monitor.Store, *fakeRegistrar) {
	t.Helper()
	google := &fakeGoogleAuthenticator{}
	store := monitor.NewStore(nil)
	reg := newFakeRegistrar()
	handler := NewOAuthHandler(google, store, reg, testViews(t), "proj-default", "development", discardLogger())
	handler.newID = func() string { return "user-1" }
	return handler, google, store, reg
}

func callbackRequest(query string, cookieState string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?"+query, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookieName, Value: cookieState})
	}
	return req
}

func TestOAuthAuthorizeSetsStateCookieAndRedirects(t *testing.T) {
	handler, google, _, _ := newTestOAuthHandler(t)

	rec := httptest.NewRecorder()
	handler.Authorize(rec, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", rec.Code)
	}

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthStateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.NotEmpty(t, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
	assert.False(t, stateCookie.Secure, "development cookies are not secure-only")
	assert.Equal(t, stateCookie.Value, google.lastState)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://accounts.google.test/auth"))
}

func TestOAuthCallbackRejectsMissingCookie(t *testing.T) {
	handler, _, store, _ := newTestOAuthHandler(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&code=xyz", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session expired")
	assert.Equal(t, 0, store.Len())
}

func TestOAuthCallbackRejectsStateMismatch(t *testing.T) {
	handler, _, store, _ := newTestOAuthHandler(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=other&code=xyz", "abc"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid state")
	assert.Equal(t, 0, store.Len())
}

func TestOAuthCallbackReportsProviderError(t *testing.T) {
	handler, _, _, _ := newTestOAuthHandler(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&error=access_denied", "abc"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
}

func TestOAuthCallbackRequiresCode(t *testing.T) {
	handler, _, _, _ := newTestOAuthHandler(t)

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&code=%20", "abc"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing authorization code")
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	handler, google, store, reg := newTestOAuthHandler(t)
	google.exchangeErr = errors.New("invalid_grant")

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&code=xyz", "abc"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, reg.registered)
}

func TestOAuthCallbackEmailNotAllowed(t *testing.T) {
	handler, google, store, _ := newTestOAuthHandler(t)
	google.exchangeErr = auth.ErrEmailNotAllowed

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&code=xyz", "abc"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, store.Len())
}

func TestOAuthCallbackStoresUserAndStartsMonitoring(t *testing.T) {
	handler, google, store, reg := newTestOAuthHandler(t)
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	google.authorization = &auth.Authorization{
		Credential: monitor.Credential{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", ExpiresIn: 3600, IssuedAt: issued},
		Claims:     &auth.GoogleClaims{Email: "owner@example.com"},
	}

	rec := httptest.NewRecorder()
	handler.Callback(rec, callbackRequest("state=abc&code=xyz", "abc"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/cameras/select", location.Path)
	assert.Equal(t, "user-1", location.Query().Get("user_id"))

	user, ok := store.Get(context.Background(), "user-1")
	require.True(t, ok)
	assert.Equal(t, "r1", user.Credential.RefreshToken)
	assert.Equal(t, issued, user.Credential.IssuedAt)
	assert.Equal(t, "proj-default", user.ProjectID)
	assert.Equal(t, "owner@example.com", user.Email)
	assert.Empty(t, user.DeviceIDs)
	assert.Equal(t, []string{"user-1"}, reg.registered)
}
