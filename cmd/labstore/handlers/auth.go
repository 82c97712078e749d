package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/repnlab/labstore/cmd/labstore/middleware"
	"github.com/repnlab/labstore/common/config"
	"github.com/repnlab/labstore/common/logger"
)

// sharedActor is used in password mode when no username is given
const sharedActor = "shared"

// Directory resolves employee ids to display names
type Directory interface {
	Lookup(id string) (string, bool)
}

// AuthHandler handles login and logout
type AuthHandler struct {
	cfg      config.AuthConfig
	roster   Directory
	sessions *middleware.SessionStore
	log      *logger.Logger
}

// NewAuthHandler creates a new auth handler. roster is only consulted in
// roster mode.
func NewAuthHandler(cfg config.AuthConfig, roster Directory, sessions *middleware.SessionStore, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:      cfg,
		roster:   roster,
		sessions: sessions,
		log:      log,
	}
}

type loginRequest struct {
	Username   string `json:"username" form:"username"`
	Password   string `json:"password" form:"password"`
	EmployeeID string `json:"employee_id" form:"employee_id"`
}

// Login starts a session
// POST /api/v1/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid login request")
	}

	var actor, displayName string
	switch h.cfg.Mode {
	case "roster":
		id := strings.TrimSpace(req.EmployeeID)
		name, ok := "", false
		if id != "" && h.roster != nil {
			name, ok = h.roster.Lookup(id)
		}
		if !ok {
			h.log.WithContext(c.Request().Context()).Info("login refused", "mode", "roster", "employee_id", id)
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"error": "employee id not found",
			})
		}
		actor, displayName = id, name

	default:
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.Password)) != 1 {
			h.log.WithContext(c.Request().Context()).Info("login refused", "mode", "password")
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"error": "invalid password",
			})
		}
		actor = strings.TrimSpace(req.Username)
		if actor == "" {
			actor = sharedActor
		}
		displayName = actor
	}

	session, err := h.sessions.Create(c.Request().Context(), actor, displayName)
	if err != nil {
		h.log.WithContext(c.Request().Context()).Error("failed to create session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	c.SetCookie(&http.Cookie{
		Name:     middleware.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.log.WithContext(c.Request().Context()).WithActor(actor).Info("logged in", "mode", h.cfg.Mode)

	return c.JSON(http.StatusOK, session)
}

// Logout ends the current session
// POST /api/v1/logout
func (h *AuthHandler) Logout(c echo.Context) error {
	if token := middleware.TokenFromRequest(c); token != "" {
		if err := h.sessions.Delete(c.Request().Context(), token); err != nil {
			h.log.WithContext(c.Request().Context()).Warn("failed to delete session", "error", err)
		}
	}

	c.SetCookie(&http.Cookie{
		Name:   middleware.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return c.NoContent(http.StatusNoContent)
}
