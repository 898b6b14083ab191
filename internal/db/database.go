package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Index auf (person_id, Kalendertag des UTC-Zeitstempels), je Dialekt
const (
	sqliteDayIndex   = `CREATE INDEX IF NOT EXISTS idx_attendance_person_day ON attendance (person_id, date("timestamp"))`
	postgresDayIndex = `CREATE INDEX IF NOT EXISTS idx_attendance_person_day ON attendance (person_id, (("timestamp" AT TIME ZONE 'UTC')::date))`
)

// Open öffnet den Event-Store (SQLite-Datei oder PostgreSQL) und führt die Migrationen aus
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	const op = "db.Open"

	// Konfiguration des GORM-Loggers
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		log.Info("Connecting to PostgreSQL event store")
		dialector = postgres.Open(cfg.StoreURL)
	} else {
		// Sicherstellen, dass das Verzeichnis für die Datenbankdatei existiert
		if cfg.StoreURL != ":memory:" {
			dbDir := filepath.Dir(cfg.StoreURL)
			if err := os.MkdirAll(dbDir, 0750); err != nil {
				return nil, failure.New(failure.StoreUnavailable, op, fmt.Errorf("failed to create database directory: %w", err))
			}
		}
		log.Infof("Connecting to SQLite event store: %s", cfg.StoreURL)
		dialector = sqlite.Open(sqliteDSN(cfg.StoreURL))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, op, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, failure.New(failure.StoreUnavailable, op, fmt.Errorf("failed to get database connection: %w", err))
	}

	if cfg.IsPostgres() {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetMaxOpenConns(maxOpen)
	} else {
		// SQLite verträgt nur einen Schreiber; :memory: braucht genau eine Verbindung
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, failure.New(failure.StoreUnavailable, op, err)
	}

	if err := Migrate(gdb); err != nil {
		return nil, failure.New(failure.StoreUnavailable, op, err)
	}

	log.Info("Event store ready")
	return gdb, nil
}

// Migrate legt Tabellen, Fremdschlüssel und den Tagesindex an
func Migrate(gdb *gorm.DB) error {
	log.Debug("Running database migrations...")
	if err := gdb.AutoMigrate(
		&models.Person{},
		&models.AttendanceEvent{},
		&models.Snapshot{},
	); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	stmt := sqliteDayIndex
	if gdb.Dialector.Name() == "postgres" {
		stmt = postgresDayIndex
	}
	if err := gdb.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to create day index: %w", err)
	}
	return nil
}

// Close schließt die zugrunde liegende Verbindung
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqliteDSN aktiviert Fremdschlüssel und ein Busy-Timeout für die Datei
func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
