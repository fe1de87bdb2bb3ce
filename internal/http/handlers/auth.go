package handlers

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"visitinsight/internal/config"
	dbpkg "visitinsight/internal/db"
	httpctx "visitinsight/internal/http/ctx"
	"visitinsight/internal/http/middleware"
	"visitinsight/internal/ingest"
	"visitinsight/internal/session"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type userView struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func viewUser(u *dbpkg.User) userView {
	return userView{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

func decodeJSON(ctx *fasthttp.RequestCtx, dst any) bool {
	if err := json.Unmarshal(ctx.PostBody(), dst); err != nil {
		writeError(ctx, &ingest.ValidationError{Details: []string{"invalid JSON body"}})
		return false
	}
	if err := ingest.Validate(dst); err != nil {
		writeError(ctx, err)
		return false
	}
	return true
}

// Login checks a username and password and opens a dashboard session.
func Login(db *gorm.DB, sessions *session.Manager) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req loginRequest
		if !decodeJSON(ctx, &req) {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		user, err := dbpkg.FindUser(c, db, req.Username)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			errResponse(ctx, fasthttp.StatusUnauthorized, "Invalid credentials")
			return
		}
		if err != nil {
			writeError(ctx, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			errResponse(ctx, fasthttp.StatusUnauthorized, "Invalid credentials")
			return
		}

		token, err := sessions.Create(c, user.Username)
		if err != nil {
			httpctx.Logger(ctx).WithError(err).Error("failed to create session")
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "Session store unavailable.")
			return
		}

		var cookie fasthttp.Cookie
		cookie.SetKey(middleware.SessionCookie)
		cookie.SetValue(token)
		cookie.SetPath("/")
		cookie.SetHTTPOnly(true)
		cookie.SetMaxAge(int(sessions.TTL().Seconds()))
		ctx.Response.Header.SetCookie(&cookie)

		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"token": token, "user": viewUser(user)})
	}
}

// Logout ends the caller's session, if any, and clears the cookie.
func Logout(sessions *session.Manager) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		c, cancel := requestContext()
		defer cancel()

		if err := sessions.Revoke(c, middleware.SessionToken(ctx)); err != nil {
			httpctx.Logger(ctx).WithError(err).Warn("failed to revoke session")
		}

		var cookie fasthttp.Cookie
		cookie.SetKey(middleware.SessionCookie)
		cookie.SetValue("")
		cookie.SetPath("/")
		cookie.SetMaxAge(-1)
		ctx.Response.Header.SetCookie(&cookie)

		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}

// currentUser loads the session user set by AdminAuth.
func currentUser(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.User, bool) {
	username, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		errResponse(ctx, fasthttp.StatusUnauthorized, "Invalid token.")
		return nil, false
	}

	c, cancel := requestContext()
	defer cancel()

	user, err := dbpkg.FindUser(c, db, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errResponse(ctx, fasthttp.StatusUnauthorized, "Invalid token.")
		return nil, false
	}
	if err != nil {
		writeError(ctx, err)
		return nil, false
	}
	return user, true
}

// Verify returns the user behind a session.
func Verify(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := currentUser(ctx, db)
		if !ok {
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"valid": true, "user": viewUser(user)})
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=128"`
}

// ChangePassword lets a user replace their own password. The bootstrap
// admin's password comes from the environment and cannot be changed here.
func ChangePassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := currentUser(ctx, db)
		if !ok {
			return
		}
		if user.Username == cfg.AdminUser {
			errResponse(ctx, fasthttp.StatusForbidden, "cannot change password for bootstrap admin user")
			return
		}

		var req changePasswordRequest
		if !decodeJSON(ctx, &req) {
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			errResponse(ctx, fasthttp.StatusUnauthorized, "current password is incorrect")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			writeError(ctx, err)
			return
		}

		c, cancel := requestContext()
		defer cancel()

		if err := db.WithContext(c).Model(&dbpkg.User{}).Where("id = ?", user.ID).Update("password_hash", string(hash)).Error; err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}
