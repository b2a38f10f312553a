// Package config loads indexer settings from flags, REGISTRY_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xelpkg/registry/pkg/db"
	"github.com/xelpkg/registry/pkg/jobs"
	"github.com/xelpkg/registry/pkg/manifest"
	"github.com/xelpkg/registry/pkg/mirror"
	"github.com/xelpkg/registry/pkg/notify"
)

// EnvPrefix prefixes every environment variable, e.g. REGISTRY_DB_DSN.
const EnvPrefix = "REGISTRY"

// Mirror host kinds.
const (
	MirrorGitHub = "github"
	MirrorLocal  = "local"
)

// Config is the full indexer configuration.
type Config struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`

	DBType     string `mapstructure:"db_type"`
	DBDSN      string `mapstructure:"db_dsn"`
	DBLogLevel string `mapstructure:"db_log_level"`

	WorkspaceDir string `mapstructure:"workspace_dir"`
	StagingDir   string `mapstructure:"staging_dir"`
	ManifestFile string `mapstructure:"manifest_file"`

	Mirror          string `mapstructure:"mirror"`
	GitHubToken     string `mapstructure:"github_token"`
	GitHubOrg       string `mapstructure:"github_org"`
	GitHubAPIURL    string `mapstructure:"github_api_url"`
	GitHubUploadURL string `mapstructure:"github_upload_url"`
	GitHubPrivate   bool   `mapstructure:"github_private"`
	MirrorRoot      string `mapstructure:"mirror_root"`
	MirrorBaseURL   string `mapstructure:"mirror_base_url"`

	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	SMTPSecure    bool   `mapstructure:"smtp_secure"`
	SMTPUsername  string `mapstructure:"smtp_username"`
	SMTPPassword  string `mapstructure:"smtp_password"`
	SMTPSender    string `mapstructure:"smtp_sender"`
	SMTPTLSPolicy string `mapstructure:"smtp_tls_policy"`
	MailTemplate  string `mapstructure:"mail_template"`

	IndexConcurrency int  `mapstructure:"index_concurrency"`
	JobRetentionDays int  `mapstructure:"job_retention_days"`
	JobsEnabled      bool `mapstructure:"jobs_enabled"`
}

func defaults() map[string]any {
	jobCfg := jobs.JobConfigFromEnv()
	base := filepath.Join(os.TempDir(), "registry-indexer")
	return map[string]any{
		"listen":             ":8080",
		"log_level":          "info",
		"db_type":            db.TypeSQLite,
		"db_dsn":             "",
		"db_log_level":       "silent",
		"workspace_dir":      filepath.Join(base, "workspaces"),
		"staging_dir":        filepath.Join(base, "staging"),
		"manifest_file":      manifest.DefaultFileName,
		"mirror":             MirrorGitHub,
		"github_token":       "",
		"github_org":         "",
		"github_api_url":     "",
		"github_upload_url":  "",
		"github_private":     false,
		"mirror_root":        filepath.Join(base, "mirror"),
		"mirror_base_url":    "",
		"smtp_host":          "",
		"smtp_port":          587,
		"smtp_secure":        false,
		"smtp_username":      "",
		"smtp_password":      "",
		"smtp_sender":        "",
		"smtp_tls_policy":    "",
		"mail_template":      "",
		"index_concurrency":  jobCfg.Concurrency,
		"job_retention_days": jobCfg.RetentionDays,
		"jobs_enabled":       jobCfg.Enabled,
	}
}

// RegisterFlags adds a flag for every setting to fs. Flag names use dashes
// where keys use underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaults()
	str := func(key, usage string) { fs.String(flagName(key), d[key].(string), usage) }
	integer := func(key, usage string) { fs.Int(flagName(key), d[key].(int), usage) }
	boolean := func(key, usage string) { fs.Bool(flagName(key), d[key].(bool), usage) }

	str("listen", "Address to listen on")
	str("log_level", "Log level (debug, info, warn, error)")
	str("db_type", "Database type (postgres, mysql or sqlite)")
	str("db_dsn", "Database connection string")
	str("db_log_level", "SQL log level (silent, error, warn, info)")
	str("workspace_dir", "Directory for per-submission clones")
	str("staging_dir", "Directory for tarballs awaiting upload")
	str("manifest_file", "Manifest file name at the repository root")
	str("mirror", "Mirror host (github or local)")
	str("github_token", "GitHub token used to create mirrors and releases")
	str("github_org", "GitHub organization owning the mirrors (default: the token's user)")
	str("github_api_url", "GitHub API URL override")
	str("github_upload_url", "GitHub upload URL override")
	boolean("github_private", "Create private mirror repositories")
	str("mirror_root", "Root directory for the local mirror host")
	str("mirror_base_url", "Public base URL serving the local mirror root")
	str("smtp_host", "SMTP host; notifications are logged when empty")
	integer("smtp_port", "SMTP port")
	boolean("smtp_secure", "Use implicit TLS for SMTP")
	str("smtp_username", "SMTP username")
	str("smtp_password", "SMTP password")
	str("smtp_sender", "From address for notifications")
	str("smtp_tls_policy", "SMTP STARTTLS policy (mandatory, opportunistic, none)")
	str("mail_template", "Path to an HTML notification template")
	integer("index_concurrency", "Maximum submissions indexed at once")
	integer("job_retention_days", "Days to keep finished jobs (0 keeps them forever)")
	boolean("jobs_enabled", "Run queue workers")
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load resolves the configuration. fs may be nil; configFile may be empty.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
		if fs != nil {
			if f := fs.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DBType) {
	case db.TypePostgres, "postgresql", db.TypeMySQL, db.TypeSQLite, "sqlite3":
	default:
		return fmt.Errorf("unsupported db_type %q", c.DBType)
	}
	switch c.Mirror {
	case MirrorGitHub, MirrorLocal:
	default:
		return fmt.Errorf("unsupported mirror %q (expected github or local)", c.Mirror)
	}
	if c.IndexConcurrency <= 0 {
		return errors.New("index_concurrency must be positive")
	}
	if c.JobRetentionDays < 0 {
		return errors.New("job_retention_days must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Database returns the connection settings. A sqlite database without a
// DSN lives under the workspace's parent directory.
func (c *Config) Database() db.Config {
	dsn := c.DBDSN
	if dsn == "" && strings.HasPrefix(strings.ToLower(c.DBType), db.TypeSQLite) {
		dsn = filepath.Join(filepath.Dir(c.WorkspaceDir), "registry.db")
	}
	return db.Config{Type: c.DBType, DSN: dsn, LogLevel: c.DBLogLevel}
}

func (c *Config) GitHub() mirror.GitHubConfig {
	return mirror.GitHubConfig{
		Token:     c.GitHubToken,
		Org:       c.GitHubOrg,
		APIURL:    c.GitHubAPIURL,
		UploadURL: c.GitHubUploadURL,
		Private:   c.GitHubPrivate,
	}
}

func (c *Config) Mail() notify.MailConfig {
	return notify.MailConfig{
		Host:      c.SMTPHost,
		Port:      c.SMTPPort,
		Secure:    c.SMTPSecure,
		Username:  c.SMTPUsername,
		Password:  c.SMTPPassword,
		Sender:    c.SMTPSender,
		TLSPolicy: c.SMTPTLSPolicy,
	}
}

// Jobs returns the queue settings, keeping the env-only cleanup interval.
func (c *Config) Jobs() *jobs.JobConfig {
	cfg := jobs.JobConfigFromEnv()
	cfg.Concurrency = c.IndexConcurrency
	cfg.RetentionDays = c.JobRetentionDays
	cfg.Enabled = c.JobsEnabled
	return cfg
}
