package handler

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ryokun6/chatsync/internal/auth"
	"github.com/ryokun6/chatsync/internal/config"
	"github.com/ryokun6/chatsync/internal/middleware"
	"github.com/ryokun6/chatsync/internal/repository"
)

// usernameRe bounds usernames to a safe, case-insensitive alphabet so
// they can be embedded in store keys and channel names verbatim.
var usernameRe = regexp.MustCompile(`^[a-z0-9_-]{2,30}$`)

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Cfg       config.Config
	Users     *repository.UserRepo
	Tokens    *repository.TokenRepo
	Validator *auth.Validator
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo, v *auth.Validator) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Validator: v}
}

// ----- DTOs -----

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResp struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Signup creates the account, stores the password hash and issues the
// first session token.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernameRe.MatchString(username) || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Users.Create(ctx, username, time.Now()); err != nil {
		if err == repository.ErrConflict {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}
	hash, err := auth.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	if err := h.Users.SetPassword(ctx, username, hash); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save password failed"})
	}
	token, err := h.issueToken(ctx, username)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	return c.JSON(http.StatusCreated, authResp{Username: username, Token: token})
}

// Login verifies the password and rotates the session: a fresh token
// becomes active and the previous one (if any) is retained as the grace
// record so the client's in-flight requests keep working.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Get(ctx, username)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if u.Banned {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account banned", "reason": u.BanReason})
	}
	hash, err := h.Users.PasswordHash(ctx, username)
	if err != nil || !auth.VerifyPassword(hash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	// Presented bearer token, if any, is the one being superseded.
	prev := bearerToken(c)
	token, err := h.rotateToken(ctx, username, prev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	_ = h.Users.Touch(ctx, username, time.Now())
	return c.JSON(http.StatusOK, authResp{Username: username, Token: token})
}

// Refresh rotates the caller's token explicitly, typically after a
// grace-period acceptance signaled via X-Token-Refresh.
func (h *AuthHandler) Refresh(c echo.Context) error {
	username := middleware.Username(c)
	prev, _ := c.Get(middleware.CtxToken).(string)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	token, err := h.rotateToken(ctx, username, prev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	return c.JSON(http.StatusOK, authResp{Username: username, Token: token})
}

// Logout deletes the presented active token. The grace record is left
// alone; it expires on its own schedule.
func (h *AuthHandler) Logout(c echo.Context) error {
	username := middleware.Username(c)
	token, _ := c.Get(middleware.CtxToken).(string)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Tokens.Delete(ctx, username, token); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user's record.
func (h *AuthHandler) Me(c echo.Context) error {
	username := middleware.Username(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.Get(ctx, username)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) issueToken(ctx context.Context, username string) (string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return "", err
	}
	if err := h.Tokens.StoreActive(ctx, username, token); err != nil {
		return "", err
	}
	return token, nil
}

// rotateToken issues a fresh active token and, when the superseded token
// is known and still active, demotes it to the grace record stamped with
// the rotation time.
func (h *AuthHandler) rotateToken(ctx context.Context, username, prev string) (string, error) {
	token, err := h.issueToken(ctx, username)
	if err != nil {
		return "", err
	}
	if prev != "" && prev != token {
		if ok, _ := h.Tokens.Exists(ctx, username, prev); ok {
			if err := h.Tokens.RecordRotation(ctx, username, prev, time.Now()); err != nil {
				return token, nil // grace record is best-effort
			}
			_ = h.Tokens.Delete(ctx, username, prev)
		}
	}
	return token, nil
}

func bearerToken(c echo.Context) string {
	authz := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}
