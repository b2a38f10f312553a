package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations across replicas sharing a
// database.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks; other databases use a table-based
// fallback whose table is created immediately.
func NewMigrationLocker(db *gorm.DB, cfg *LockConfig, logger *slog.Logger) MigrationLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if db == nil || !cfg.Enabled {
		return &noopMigrationLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
			logger: logger,
		}
	}
	lock := &fallbackMigrationLock{db: db, cfg: cfg, logger: logger}
	// Concurrent callers must never hit "no such table" on their first
	// WithLock call.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

// Migrate runs each migration in order under the lock, stopping at the
// first failure.
func Migrate(ctx context.Context, locker MigrationLocker, migrations ...func() error) error {
	return locker.WithLock(ctx, func() error {
		for i, m := range migrations {
			if err := m(); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		return nil
	})
}

type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock uses PostgreSQL session advisory locks.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
	logger *slog.Logger
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks belong to a session, so lock and unlock must use the
	// same pooled connection.
	conn, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlConn, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve connection for migration lock: %w", err)
	}
	defer sqlConn.Close()

	if _, err := sqlConn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}
	l.logger.Debug("acquired migration lock", "lockID", l.lockID)

	defer func() {
		if _, err := sqlConn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
			l.logger.Warn("failed to release migration advisory lock", "error", err)
		}
	}()

	return fn()
}

// migrationLockRecord is the table-based lock row for non-PostgreSQL databases.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// fallbackMigrationLock uses INSERT-or-fail on a lock row so only one holder
// exists at a time. Rows older than StaleAfter are treated as abandoned.
type fallbackMigrationLock struct {
	db     *gorm.DB
	cfg    *LockConfig
	logger *slog.Logger
}

func (l *fallbackMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	lockRow := migrationLockRecord{
		ID:       l.cfg.Name,
		LockedBy: l.cfg.Identity,
	}

	retry := l.cfg.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	deadline := time.Now().Add(l.cfg.Timeout)

	for {
		if stale := l.cfg.StaleAfter; stale > 0 {
			l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", lockRow.ID, time.Now().Add(-stale)).Delete(&migrationLockRecord{})
		}

		lockRow.LockedAt = time.Now()
		err := l.db.WithContext(ctx).Create(&lockRow).Error
		if err == nil {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("failed to acquire migration lock %q within %s: %w", lockRow.ID, l.cfg.Timeout, err)
		}

		l.logger.Debug("migration lock busy, retrying", "lock", lockRow.ID)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}

	defer func() {
		l.db.WithContext(context.WithoutCancel(ctx)).Where("id = ?", lockRow.ID).Delete(&migrationLockRecord{})
	}()

	return fn()
}
