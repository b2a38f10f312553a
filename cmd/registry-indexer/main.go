// Package main provides the registry indexer binary: the submission API
// server, a one-shot indexing command and schema migration.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"

	"github.com/xelpkg/registry/pkg/config"
)

var (
	version = "dev"

	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "registry-indexer",
		Short: "Index submitted source repositories into the package registry",
		Long: `registry-indexer ingests community-submitted repositories: it validates
each tagged manifest, mirrors the repository, publishes one tarball per
version and records the package atomically.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (yaml, json or toml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	// glog flags, for fatal start-up errors.
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.Set("logtostderr", "true")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newHealthcheckCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
