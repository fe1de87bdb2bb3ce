package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"visitinsight/internal/config"
)

// Connect opens a GORM database connection using APP_DATABASE_URL.
// PostgreSQL is the production store; sqlite:// and file: URLs are
// accepted for local development.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		return Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	case strings.HasPrefix(dsn, "sqlite://"):
		return Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), &gorm.Config{})
	case strings.HasPrefix(dsn, "file:"):
		return Open(sqlite.Open(dsn), &gorm.Config{})
	}
	return nil, errors.New("APP_DATABASE_URL must be a postgres://, postgresql://, sqlite:// or file: URL")
}

// Open opens the database with the given dialector and migrates the schema.
func Open(dialector gorm.Dialector, gcfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Site{}, &Visit{}, &User{}, &DailyStat{})
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}

	return db.Create(admin).Error
}

// EnsureBootstrapSite makes sure a site exists for the configured bootstrap
// domain. An existing site keeps its key: API keys never change once issued.
func EnsureBootstrapSite(db *gorm.DB, cfg *config.Config) (*Site, error) {
	if cfg.BootstrapSiteDomain == "" {
		return nil, nil
	}

	var existing Site
	if err := db.Where("domain = ?", cfg.BootstrapSiteDomain).Limit(1).Find(&existing).Error; err != nil {
		return nil, err
	}
	if existing.ID != 0 {
		return &existing, nil
	}

	key := cfg.BootstrapSiteKey
	if key == "" {
		generated, err := GenerateAPIKey()
		if err != nil {
			return nil, err
		}
		key = generated
	}

	site := &Site{
		Name:   cfg.BootstrapSiteDomain,
		Domain: cfg.BootstrapSiteDomain,
		APIKey: key,
		Active: true,
	}
	if err := db.Create(site).Error; err != nil {
		return nil, err
	}
	return site, nil
}

// GenerateAPIKey returns a random site key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// Ping checks that the underlying connection pool can reach the database.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
