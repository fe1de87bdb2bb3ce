package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// User is a dashboard user allowed to read analytics. The bootstrap admin
// (from env) is created as a row in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	IsAdmin bool `gorm:"not null"`
}

// FindUser loads a user by username. Returns gorm.ErrRecordNotFound when
// there is no such user.
func FindUser(ctx context.Context, db *gorm.DB, username string) (*User, error) {
	var u User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
