package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/xelpkg/registry/pkg/artifact"
	"github.com/xelpkg/registry/pkg/config"
	"github.com/xelpkg/registry/pkg/db"
	"github.com/xelpkg/registry/pkg/ha"
	"github.com/xelpkg/registry/pkg/indexer"
	"github.com/xelpkg/registry/pkg/jobs"
	"github.com/xelpkg/registry/pkg/manifest"
	"github.com/xelpkg/registry/pkg/mirror"
	"github.com/xelpkg/registry/pkg/notify"
	"github.com/xelpkg/registry/pkg/registry"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	registry  *registry.Store
	jobStore  *jobs.JobStore
	processor *indexer.Processor
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return nil, nil, err
	}
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newApp connects to the database, migrates the schema and builds the
// processor.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	gormDB, err := db.Connect(cfg.Database())
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       gormDB,
		registry: registry.NewStore(gormDB),
		jobStore: jobs.NewJobStore(gormDB),
	}
	if err := a.migrate(ctx); err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}

	host, err := newMirrorHost(cfg, logger)
	if err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}

	a.processor, err = indexer.New(indexer.Options{
		WorkspaceDir: cfg.WorkspaceDir,
		Store:        a.registry,
		Mirror:       mirror.NewPublisher(host, logger),
		Artifacts:    artifact.NewGenerator(cfg.StagingDir, host, logger),
		Discoverer:   manifest.NewDiscoverer(cfg.ManifestFile, logger),
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close(gormDB)
		return nil, err
	}
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	locker := ha.NewMigrationLocker(a.db, ha.LockConfigFromEnv(), a.logger)
	if err := ha.Migrate(ctx, locker, a.registry.AutoMigrate, a.jobStore.AutoMigrate); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	return db.Close(a.db)
}

func newMirrorHost(cfg *config.Config, logger *slog.Logger) (mirror.Host, error) {
	switch cfg.Mirror {
	case config.MirrorLocal:
		logger.Info("using local mirror host", "root", cfg.MirrorRoot, "baseURL", cfg.MirrorBaseURL)
		local, err := mirror.NewLocal(cfg.MirrorRoot, cfg.MirrorBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create local mirror: %w", err)
		}
		return local, nil
	default:
		logger.Info("using GitHub mirror host", "org", cfg.GitHubOrg)
		gh, err := mirror.NewGitHub(cfg.GitHub(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub mirror: %w", err)
		}
		return gh, nil
	}
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	mailCfg := cfg.Mail()
	if !mailCfg.Enabled() {
		logger.Info("SMTP not configured, notifications will be logged")
		return notify.NewLogNotifier(logger), nil
	}

	var tmpl string
	if cfg.MailTemplate != "" {
		b, err := os.ReadFile(cfg.MailTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to read mail template: %w", err)
		}
		tmpl = string(b)
	}
	logger.Info("sending notifications by mail", "host", mailCfg.Host, "port", mailCfg.Port)
	mailer, err := notify.NewMailNotifier(mailCfg, tmpl, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure mail notifier: %w", err)
	}
	return mailer, nil
}
