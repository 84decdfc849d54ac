// Package database owns the gorm connection, schema migration and transaction helpers.
package database

import (
	"fmt"
	"strings"

	"mixerline/internal/apperr"
	"mixerline/internal/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"              // SQLite driver
	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open connects to the database and configures the connection pool.
//
// SQLite only supports one writer at a time, so it runs on a single
// connection; this also keeps ":memory:" databases alive across calls.
func Open(driver, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.LogMode(false)

	switch driver {
	case DriverSQLite:
		db.DB().SetMaxOpenConns(1)
		db.DB().SetMaxIdleConns(1)
		if err := applyPragmas(db, dsn); err != nil {
			db.Close()
			return nil, err
		}
	default:
		db.DB().SetMaxIdleConns(10)
		db.DB().SetMaxOpenConns(100)
	}
	return db, nil
}

// OpenInMemory returns a migrated, seeded in-memory SQLite database.
func OpenInMemory(mixers int) (*gorm.DB, error) {
	db, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := Seed(db, mixers); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *gorm.DB, dsn string) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Migrate creates every table and the partial indexes that hold the
// one-running-batch-per-mixer and one-open-step-per-batch invariants.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Recipe{},
		&models.RecipeStep{},
		&models.Mixer{},
		&models.Batch{},
		&models.BatchStep{},
		&models.StepExecution{},
		&models.BatchDistribution{},
		&models.InventoryItem{},
		&models.InventoryTransaction{},
		&models.Alarm{},
	).Error
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uix_batches_running_mixer ON batches (mixer_id) WHERE status = '%s'", models.BatchRunning),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uix_step_executions_open ON step_executions (batch_id) WHERE status = '%s'", models.ExecutionInProgress),
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Seed ensures mixers 1..n exist.
func Seed(db *gorm.DB, n int) error {
	for i := 1; i <= n; i++ {
		var mixer models.Mixer
		err := db.First(&mixer, i).Error
		if err == nil {
			continue
		}
		if !gorm.IsRecordNotFoundError(err) {
			return fmt.Errorf("failed to look up mixer %d: %w", i, err)
		}
		mixer = models.Mixer{
			ID:         uint(i),
			Name:       fmt.Sprintf("Mixer %d", i),
			Status:     models.MixerStopped,
			ArmMotor:   models.MotorStopped,
			ScrewMotor: models.MotorStopped,
		}
		if err := db.Create(&mixer).Error; err != nil {
			return fmt.Errorf("failed to seed mixer %d: %w", i, err)
		}
		zap.S().Infow("Seeded mixer", "mixer", i)
	}
	return nil
}

// WithTx runs fn in a transaction. Any error or panic rolls everything back.
func WithTx(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tx := db.Begin()
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

// ReadRetry runs an idempotent read, retrying it once after a persistence failure.
func ReadRetry(fn func() error) error {
	err := fn()
	if err != nil && apperr.IsUnavailable(err) {
		zap.S().Warnw("Retrying read after persistence failure", "error", err)
		err = fn()
	}
	return err
}

// Find loads dest by primary key, mapping a missing row to NotFound.
func Find(db *gorm.DB, op string, dest interface{}, id interface{}, what string) error {
	err := db.First(dest, id).Error
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return apperr.NotFound(op, "%s %v not found", what, id)
	}
	return apperr.Unavailable(op, err)
}
