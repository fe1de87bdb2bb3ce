package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"visitinsight/internal/config"
	dbpkg "visitinsight/internal/db"
)

// requireAdmin loads the session user and rejects non-admins.
func requireAdmin(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.User, bool) {
	user, ok := currentUser(ctx, db)
	if !ok {
		return nil, false
	}
	if !user.IsAdmin {
		errResponse(ctx, fasthttp.StatusForbidden, "Access denied. Admin privileges required.")
		return nil, false
	}
	return user, true
}

// userByPath loads the user named by the {id} parameter. The bootstrap
// admin is managed through the environment and is off limits.
func userByPath(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config) (*dbpkg.User, bool) {
	id, ok := pathUint(ctx, "id")
	if !ok {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid user ID")
		return nil, false
	}

	c, cancel := requestContext()
	defer cancel()

	var user dbpkg.User
	err := db.WithContext(c).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errResponse(ctx, fasthttp.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		writeError(ctx, err)
		return nil, false
	}
	if user.Username == cfg.AdminUser {
		errResponse(ctx, fasthttp.StatusForbidden, "cannot modify bootstrap admin user")
		return nil, false
	}
	return &user, true
}

func ListUsers(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		var users []dbpkg.User
		if err := db.WithContext(c).Order("username").Find(&users).Error; err != nil {
			writeError(ctx, err)
			return
		}
		out := make([]userView, 0, len(users))
		for i := range users {
			out = append(out, viewUser(&users[i]))
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"users": out})
	}
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	IsAdmin  bool   `json:"isAdmin"`
}

// CreateUser registers a dashboard user. Admin only.
func CreateUser(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}
		var req createUserRequest
		if !decodeJSON(ctx, &req) {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		_, err := dbpkg.FindUser(c, db, req.Username)
		if err == nil {
			errResponse(ctx, fasthttp.StatusConflict, "Username already exists")
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(ctx, err)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(ctx, err)
			return
		}

		user := &dbpkg.User{Username: req.Username, PasswordHash: string(hash), IsAdmin: req.IsAdmin}
		if err := db.WithContext(c).Create(user).Error; err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusCreated, map[string]any{"message": "User created successfully", "user": viewUser(user)})
	}
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func ResetPassword(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}
		user, ok := userByPath(ctx, db, cfg)
		if !ok {
			return
		}
		var req resetPasswordRequest
		if !decodeJSON(ctx, &req) {
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(ctx, err)
			return
		}

		c, cancel := requestContext()
		defer cancel()

		if err := db.WithContext(c).Model(user).Update("password_hash", string(hash)).Error; err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}

func DeleteUser(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := requireAdmin(ctx, db); !ok {
			return
		}
		user, ok := userByPath(ctx, db, cfg)
		if !ok {
			return
		}

		c, cancel := requestContext()
		defer cancel()

		if err := db.WithContext(c).Delete(user).Error; err != nil {
			writeError(ctx, err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{"success": true})
	}
}
