// Package dbtest opens isolated sqlite databases for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh in-memory database migrated with models. Each test gets
// its own named database so parallel packages never share state.
//
// The database is pinned to a single connection, so concurrent callers are
// serialized before they reach sqlite. Use OpenShared to race statements
// across connections.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	return open(t, dsn, 1, models)
}

// OpenShared returns a file-backed WAL database in a temp dir with up to conns
// open connections. Writers on different connections contend for the sqlite
// write lock and wait through busy_timeout, so conditional updates are
// checked against rows other connections committed.
func OpenShared(t testing.TB, conns int, models ...any) *gorm.DB {
	t.Helper()

	if conns < 2 {
		conns = 2
	}
	path := filepath.Join(t.TempDir(), "test.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	return open(t, dsn, conns, models)
}

func open(t testing.TB, dsn string, conns int, models []any) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return conn
}
