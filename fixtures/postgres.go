package fixtures

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/clientdesk/crm/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresDSNEnv names the environment variable with a postgres:// URL of a
// scratch database. Tests that need real row locks and concurrent sessions
// are skipped when it is unset.
const PostgresDSNEnv = "CRM_TEST_POSTGRES_DSN"

// PostgresDSN returns the scratch database URL or skips the test.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	return dsn
}

func openPostgres(t testing.TB, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	return db
}

// NewPostgresTestStore opens a store on a fresh schema of the scratch
// database. The pool is not limited, so concurrent transactions really run
// side by side. The schema is dropped when the test ends.
func NewPostgresTestStore(t testing.TB) *model.Store {
	t.Helper()
	dsn := PostgresDSN(t)
	schema := fmt.Sprintf("crmtest_%d_%d", os.Getpid(), dbCounter.Add(1))

	admin := openPostgres(t, dsn)
	if err := admin.Exec("CREATE SCHEMA " + schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_ = admin.Exec("DROP SCHEMA " + schema + " CASCADE").Error
		if sqlDB, err := admin.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	store := model.NewStore(openPostgres(t, dsn+sep+"search_path="+schema), &model.Config{Mode: "test"})
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate postgres schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// PostgresConn opens a single session on the scratch database, separate from
// any store.
func PostgresConn(t testing.TB) *sql.Conn {
	t.Helper()
	sqlDB, err := openPostgres(t, PostgresDSN(t)).DB()
	if err != nil {
		t.Fatalf("postgres handle: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("postgres session: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = sqlDB.Close()
	})
	return conn
}
