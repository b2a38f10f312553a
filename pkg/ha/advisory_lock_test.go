package ha

import (
	"context"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestAdvisoryLockAcquiresAndReleases(t *testing.T) {
	db, mock := setupMockPostgres(t)
	cfg := testLockConfig()
	lockID := int64(crc32.ChecksumIEEE([]byte(cfg.Name)))

	locker := NewMigrationLocker(db, cfg, nil)
	require.IsType(t, &pgAdvisoryLock{}, locker)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(lockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(lockID).WillReturnResult(sqlmock.NewResult(0, 0))

	called := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockReleasesOnError(t *testing.T) {
	db, mock := setupMockPostgres(t)
	locker := NewMigrationLocker(db, testLockConfig(), nil)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WillReturnResult(sqlmock.NewResult(0, 0))

	want := errors.New("add column failed")
	err := locker.WithLock(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockAcquireFailure(t *testing.T) {
	db, mock := setupMockPostgres(t)
	locker := NewMigrationLocker(db, testLockConfig(), nil)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WillReturnError(errors.New("too many connections"))

	err := locker.WithLock(context.Background(), func() error {
		t.Error("migration must not run without the lock")
		return nil
	})
	assert.ErrorContains(t, err, "failed to acquire migration advisory lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}
