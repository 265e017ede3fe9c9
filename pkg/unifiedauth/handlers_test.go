package unifiedauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/authd/pkg/auth"
)

func newRouter(f *fixture) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(f.service).RegisterRoutes(router)
	return router
}

func postLogin(router http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Login(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rec := postLogin(router, `{"identifier":"budi","password":"correct horse"}`, map[string]string{"User-Agent": "Mozilla/5.0"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "mandor-1", resp.Principal.ID)
	assert.Equal(t, auth.MethodCookie, resp.Strategy.Method)
	assert.NotEmpty(t, resp.AccessToken)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, resp.AccessToken, cookies[0].Value)
}

func TestHandlers_LoginMobileHasNoCookie(t *testing.T) {
	f := newFixture(t)
	rec := postLogin(newRouter(f), `{"identifier":"budi","password":"correct horse","device_id":"hp-7"}`, map[string]string{auth.HeaderPlatform: "ANDROID"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	var resp sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, auth.MethodJWT, resp.Strategy.Method)
}

func TestHandlers_LoginStatusMapping(t *testing.T) {
	t.Run("bad body", func(t *testing.T) {
		rec := postLogin(newRouter(newFixture(t)), `{`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		rec := postLogin(newRouter(newFixture(t)), `{"identifier":"budi","password":"nope"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), auth.ErrInvalidCredentials.Error())
	})

	t.Run("locked", func(t *testing.T) {
		f := newFixture(t)
		router := newRouter(f)
		for i := 0; i < 3; i++ {
			postLogin(router, `{"identifier":"budi","password":"nope"}`, nil)
		}
		rec := postLogin(router, `{"identifier":"budi","password":"correct horse"}`, nil)
		assert.Equal(t, http.StatusLocked, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("transport failure", func(t *testing.T) {
		f := newFixture(t)
		f.transport.exchangeErr = errors.New("dial tcp 10.0.0.1:443: connection refused")
		rec := postLogin(newRouter(f), `{"identifier":"budi","password":"correct horse"}`, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.1")
	})
}

func send(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func loginToken(t *testing.T, router http.Handler, headers map[string]string) string {
	t.Helper()
	rec := postLogin(router, `{"identifier":"budi","password":"correct horse"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.AccessToken
}

func TestHandlers_SessionAndLogout(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodGet, "/auth/session", "").Code)

	token := loginToken(t, router, nil)
	rec := send(router, http.MethodGet, "/auth/session", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"`+token+`"`)

	rec = send(router, http.MethodPost, "/auth/logout", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodGet, "/auth/session", token).Code)
}

func TestHandlers_SessionRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	token := loginToken(t, router, map[string]string{auth.HeaderPlatform: "IOS"})

	for _, caller := range []struct {
		name  string
		token string
	}{
		{"anonymous", ""},
		{"wrong token", "access-zz"},
	} {
		t.Run(caller.name, func(t *testing.T) {
			rec := send(router, http.MethodGet, "/auth/session", caller.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotContains(t, rec.Body.String(), token)

			assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodPost, "/auth/refresh", caller.token).Code)
			assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodPost, "/auth/logout", caller.token).Code)
		})
	}

	assert.True(t, f.store.IsValid(), "unauthenticated logout must not end the session")
	assert.Equal(t, token, f.store.Current().AccessToken)
	assert.Equal(t, int32(0), f.transport.refreshes.Load())
}

func TestHandlers_SessionCookie(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rec := postLogin(router, `{"identifier":"budi","password":"correct horse"}`, map[string]string{"User-Agent": "Mozilla/5.0"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_Refresh(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodPost, "/auth/refresh", "").Code)

	token := loginToken(t, router, map[string]string{auth.HeaderPlatform: "IOS"})
	rec := send(router, http.MethodPost, "/auth/refresh", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"refreshed"`)

	assert.Equal(t, http.StatusUnauthorized, send(router, http.MethodGet, "/auth/session", token).Code,
		"the replaced token no longer authenticates")
	assert.Equal(t, http.StatusOK, send(router, http.MethodGet, "/auth/session", "refreshed").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&auth.LockedOutError{Key: "k", Remaining: time.Minute}, http.StatusLocked},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", auth.ErrSessionExpired), http.StatusUnauthorized},
		{auth.ErrNoSession, http.StatusUnauthorized},
		{auth.ErrLoginSuperseded, http.StatusConflict},
		{auth.ErrRefreshNotAllowed, http.StatusConflict},
		{ErrStaleRefresh, http.StatusConflict},
		{&auth.TransportError{Op: "exchange", Err: errors.New("boom")}, http.StatusBadGateway},
		{fmt.Errorf("%w: redis down", auth.ErrLockoutUnavailable), http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
