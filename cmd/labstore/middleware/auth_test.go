package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnlab/labstore/common/cache"
	"github.com/repnlab/labstore/common/logger"
	"github.com/repnlab/labstore/common/metrics"
)

func newStore(t *testing.T) *SessionStore {
	t.Helper()
	c := cache.NewMemoryCache(logger.Discard())
	t.Cleanup(func() { c.Close() })
	return NewSessionStore(c, time.Hour)
}

func protected(store *SessionStore) *echo.Echo {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, GetActor(c)+"|"+GetSession(c).DisplayName)
	}, RequireSession(store))
	return e
}

func TestRequireSession(t *testing.T) {
	store := newStore(t)
	session, err := store.Create(context.Background(), "1001", "Alex Kim")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)

	e := protected(store)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+session.Token) }, http.StatusOK, "1001|Alex Kim"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: session.Token}) }, http.StatusOK, "1001|Alex Kim"},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic "+session.Token) }, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestSessionDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, "shared", "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, session.Token))

	_, ok, err := store.Get(ctx, session.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestContextAndMetrics(t *testing.T) {
	m := metrics.New("test")
	log := logger.Discard()

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderXRequestID, "req-1")
			return next(c)
		}
	})
	e.Use(RequestContext(), Metrics(m))

	var seen string
	e.GET("/items/:id", func(c echo.Context) error {
		seen, _ = c.Request().Context().Value(logger.RequestIDKey).(string)
		log.WithContext(c.Request().Context()).Info("handled")
		return echo.NewHTTPError(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/7", nil))

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/items/:id", "418")))
}
