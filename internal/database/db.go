package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

var ErrNoPath = errors.New("database path is empty")

// sqlitePragmas suit a small append-mostly table written once per endpoint
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=memory",
}

// Config selects where link statistics are stored
type Config struct {
	Path     string          // SQLite file, ":memory:" for a scratch DB
	LogLevel logger.LogLevel // gorm log level, zero means warnings and errors
}

// DB is the link statistics store
type DB struct {
	db   *gorm.DB
	path string
}

// NewDB opens (creating if needed) the SQLite file with the pure Go driver
// and migrates the schema. A nil log silences gorm.
func NewDB(config Config, log *log.Logger) (*DB, error) {
	if config.Path == "" {
		return nil, ErrNoPath
	}
	if config.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}, &gorm.Config{
		Logger: gormLogger(log, config.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A pooled second connection to ":memory:" would see an empty database
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&LinkSession{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	if log != nil {
		log.Debug("database initialized", "path", config.Path)
	}
	return &DB{db: db, path: config.Path}, nil
}

func gormLogger(l *log.Logger, level logger.LogLevel) logger.Interface {
	if l == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	if level == 0 {
		level = logger.Warn
	}
	return logger.New(l, logger.Config{
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Path returns the file the database was opened from
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health pings the database
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
