//go:build integration

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registry"),
		tcpostgres.WithUsername("registry"),
		tcpostgres.WithPassword("registry"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func setupMySQLStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("registry"),
		tcmysql.WithUsername("registry"),
		tcmysql.WithPassword("registry"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestPostgresConcurrentCommits(t *testing.T) {
	testConcurrentCommits(t, setupPostgresStore(t))
}

func TestMySQLConcurrentCommits(t *testing.T) {
	testConcurrentCommits(t, setupMySQLStore(t))
}

func testConcurrentCommits(t *testing.T, store *Store) {
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Commit(ctx, newBatch(fmt.Sprintf("pkg_%d", i), fmt.Sprintf("https://git.example/%d", i), "1.0.0", "2.0.0"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	gids := map[int64]bool{}
	for i := 0; i < n; i++ {
		pkg, err := store.FindPackageByName(ctx, fmt.Sprintf("pkg_%d", i))
		require.NoError(t, err)
		require.NotNil(t, pkg)
		assert.False(t, gids[pkg.GID])
		gids[pkg.GID] = true

		versions, err := store.VersionsOf(ctx, pkg.ID)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		require.NotNil(t, pkg.LatestVersionID)
		assert.Equal(t, versions[1].ID, *pkg.LatestVersionID)
	}
}

func TestPostgresNameConflict(t *testing.T) {
	testNameConflict(t, setupPostgresStore(t))
}

func TestMySQLNameConflict(t *testing.T) {
	testNameConflict(t, setupMySQLStore(t))
}

func testNameConflict(t *testing.T, store *Store) {
	ctx := context.Background()

	_, err := store.Commit(ctx, newBatch("demo", "https://git.example/demo", "1.0.0"))
	require.NoError(t, err)
	_, err = store.Commit(ctx, newBatch("demo", "https://git.example/other", "1.0.0"))
	assert.ErrorIs(t, err, ErrNameConflict)
}
