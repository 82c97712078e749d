package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/common/cache"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorKey is the context key for the authenticated actor
	ActorKey ContextKey = "actor"

	// SessionKey is the context key for the full session
	SessionKey ContextKey = "session"

	// CookieName carries the session token for browser clients
	CookieName = "labstore_session"
)

// Session is one logged-in actor
type Session struct {
	Token       string    `json:"token"`
	Actor       string    `json:"actor"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore keeps sessions in a cache under their token
type SessionStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewSessionStore creates a session store with the given lifetime
func NewSessionStore(c cache.Cache, ttl time.Duration) *SessionStore {
	return &SessionStore{cache: c, ttl: ttl}
}

// TTL returns the session lifetime
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create starts a session for actor
func (s *SessionStore) Create(ctx context.Context, actor, displayName string) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		Token:       uuid.New().String(),
		Actor:       actor,
		DisplayName: displayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.cache.Set(ctx, session.Token, data, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// Get returns the session for token, or false if it is unknown or expired
func (s *SessionStore) Get(ctx context.Context, token string) (*Session, bool, error) {
	data, ok, err := s.cache.Get(ctx, token)
	if err != nil || !ok {
		return nil, false, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, false, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, true, nil
}

// Delete ends the session for token
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, token)
}

// RequireSession rejects requests without a valid session token. The token
// is read from "Authorization: Bearer <token>" or the session cookie.
//
// Accessing in handlers:
//
//	actor := middleware.GetActor(c)
func RequireSession(store *SessionStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "login required",
				})
			}

			session, ok, err := store.Get(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed").SetInternal(err)
			}
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "session expired",
				})
			}

			c.Set(string(ActorKey), session.Actor)
			c.Set(string(SessionKey), session)
			return next(c)
		}
	}
}

// TokenFromRequest extracts the session token, preferring the header
func TokenFromRequest(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetActor retrieves the actor from the request context
// Returns empty string if not set
func GetActor(c echo.Context) string {
	actor, _ := c.Get(string(ActorKey)).(string)
	return actor
}

// GetSession retrieves the session from the request context
func GetSession(c echo.Context) *Session {
	session, _ := c.Get(string(SessionKey)).(*Session)
	return session
}
