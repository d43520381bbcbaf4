// internal/database/connection.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: cfg.SQLiteDSN()}
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, gormConfig(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool. SQLite has a single writer; one connection serializes
	// transactions instead of failing them with SQLITE_BUSY.
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("driver", cfg.Driver).Info("Database connection established")
	return db, nil
}

// OpenSQLite opens a file-backed database, used by tests and local tooling.
func OpenSQLite(path string) (*gorm.DB, error) {
	return Initialize(config.DatabaseConfig{Driver: "sqlite", SQLitePath: path, LogLevel: "silent"})
}

func gormConfig(logLevel string) *gorm.Config {
	level := logger.Info
	if logLevel == "silent" {
		level = logger.Silent
	}

	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		// Timestamps are compared across rows written by different requests; keep them in one zone.
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.UpdateInfo{},
		&models.Contract{},
		&models.ContractRevision{},
		&models.Rate{},
		&models.RateRevision{},
		&models.RateLink{},
		&models.RelatedSubmission{},
		&models.LegacyRateCandidate{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	// Integrity indexes back the single-draft and linkage-exclusivity invariants; a failure here
	// is fatal.
	constraints := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_contract_revisions_one_draft ON contract_revisions(contract_id) WHERE submit_info_id IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_revisions_one_draft ON rate_revisions(rate_id) WHERE submit_info_id IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_links_active_pair ON rate_links(rate_revision_id, contract_revision_id) WHERE valid_until IS NULL",
	}
	for _, stmt := range constraints {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_contract_revisions_created ON contract_revisions(contract_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_rate_revisions_created ON rate_revisions(rate_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_rate_links_contract_position ON rate_links(contract_revision_id, position)",
		"CREATE INDEX IF NOT EXISTS idx_update_infos_updated_at ON update_infos(updated_at DESC)",
	}
	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// SeedDevelopmentUsers creates one state user and one CMS reviewer for local runs.
func SeedDevelopmentUsers(db *gorm.DB) error {
	users := []models.User{
		{Email: "aang@example.com", GivenName: "Aang", FamilyName: "Avatar", Role: models.UserRoleState, StateCode: "MN"},
		{Email: "zuko@example.com", GivenName: "Zuko", FamilyName: "Hotman", Role: models.UserRoleCMS},
	}

	for _, user := range users {
		var count int64
		db.Model(&models.User{}).Where("email = ?", user.Email).Count(&count)
		if count > 0 {
			continue
		}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user %s: %w", user.Email, err)
		}
	}

	logrus.Info("Development users seeded")
	return nil
}

// Transaction helper
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// IsUniqueViolation recognizes a unique-index conflict from either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
