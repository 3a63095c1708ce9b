package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the entry point to the model. All operations are safe for
// concurrent use; each call runs in its own transaction.
type Store struct {
	db     *gorm.DB
	Config *Config
	now    func() time.Time
}

// NewStore wraps an opened gorm connection.
func NewStore(db *gorm.DB, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Store{db: db, Config: cfg, now: time.Now}
}

// SetClock replaces the time source used for paid_at, numbering years and
// due date checks.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the current time of the store clock.
func (s *Store) Now() time.Time { return s.now() }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// shared helper for GORM logger
func gormLoggerFor(cfg *Config, svr server) *gorm.Config {
	gormConfig := &gorm.Config{}
	switch svr.DBLogger {
	case "info":
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	case "silent":
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	default:
		if cfg.Mode == "development" {
			gormConfig.Logger = logger.Default.LogMode(logger.Info)
		} else {
			gormConfig.Logger = logger.Default.LogMode(logger.Silent)
		}
	}
	return gormConfig
}

func (svr server) port(def int) int {
	if svr.DBPort != 0 {
		return svr.DBPort
	}
	return def
}

// dialector picks the gorm driver for the configured database.
func dialector(svr server) (gorm.Dialector, error) {
	switch svr.Database {
	case "sqlite3":
		filename := svr.DBName
		if !filepath.IsAbs(filename) && !strings.HasPrefix(filename, "file:") {
			filename = filepath.Join("db", filename)
		}
		return sqlite.Open(filename + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), nil
	case "postgresql":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			svr.DBHost, svr.DBUser, svr.DBPassword, svr.DBName, svr.port(5432))
		return postgres.Open(dsn), nil
	case "mysql":
		mc := mysqldriver.NewConfig()
		mc.User = svr.DBUser
		mc.Passwd = svr.DBPassword
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", svr.DBHost, svr.port(3306))
		mc.DBName = svr.DBName
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mysql.Open(mc.FormatDSN()), nil
	default:
		return nil, fmt.Errorf("database %q not supported (use sqlite3, postgresql or mysql)", svr.Database)
	}
}

// InitDatabase opens the database configured for cfg.Mode. With AutoMigrate
// set the schema is brought up to date before the store is returned.
func InitDatabase(cfg *Config) (*Store, error) {
	svr, err := cfg.Server()
	if err != nil {
		return nil, err
	}
	dial, err := dialector(svr)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, gormLoggerFor(cfg, svr))
	if err != nil {
		return nil, fmt.Errorf("open %s database %s: %w", svr.Database, svr.DBName, err)
	}
	if svr.Database == "sqlite3" {
		// one writer at a time keeps sqlite from failing with SQLITE_BUSY under load
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	s := NewStore(db, cfg)
	if cfg.AutoMigrate {
		if err = s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}
