package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestConnectSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "registry.db")

	gormDB, err := Connect(Config{Type: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gormDB) })

	assert.Equal(t, "sqlite", gormDB.Dialector.Name())
	require.NoError(t, gormDB.Exec("CREATE TABLE t (id INTEGER)").Error)
}

func TestConnectErrors(t *testing.T) {
	_, err := Connect(Config{Type: "sqlite"})
	assert.ErrorContains(t, err, "DSN is required")

	_, err = Connect(Config{Type: "oracle", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestDialectorAliases(t *testing.T) {
	for _, typ := range []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3", "SQLite"} {
		d, err := dialector(Config{Type: typ, DSN: "x"})
		require.NoError(t, err, typ)
		assert.NotNil(t, d)
	}
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, logLevel(""))
	assert.Equal(t, logger.Error, logLevel("error"))
	assert.Equal(t, logger.Warn, logLevel("WARN"))
	assert.Equal(t, logger.Info, logLevel("info"))
}

func TestConnectSQLiteCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "dir", "registry.db")

	gormDB, err := Connect(Config{Type: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gormDB) })

	assert.FileExists(t, dsn)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "/data/registry.db?_pragma=busy_timeout(10000)&_txlock=immediate", sqliteDSN("/data/registry.db"))
	assert.Equal(t, "file:x?mode=memory&_pragma=busy_timeout(10000)&_txlock=immediate", sqliteDSN("file:x?mode=memory"))
	assert.Equal(t, "r.db?_pragma=busy_timeout(500)&_txlock=deferred", sqliteDSN("r.db?_pragma=busy_timeout(500)&_txlock=deferred"))
}

func TestConnectSQLiteLimitsPool(t *testing.T) {
	gormDB, err := Connect(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "registry.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gormDB) })

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	var timeout int
	require.NoError(t, gormDB.Raw("PRAGMA busy_timeout").Scan(&timeout).Error)
	assert.Equal(t, 10000, timeout)
}
