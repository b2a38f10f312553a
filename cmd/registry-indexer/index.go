package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xelpkg/registry/pkg/indexer"
)

type indexResult struct {
	URL      string           `json:"url"`
	State    string           `json:"state"`
	FailedIn string           `json:"failedIn,omitempty"`
	Package  string           `json:"package,omitempty"`
	Versions int              `json:"versions"`
	Error    string           `json:"error,omitempty"`
	Timings  map[string]int64 `json:"timingsMs,omitempty"`
}

func newIndexCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "index <repository-url>",
		Short: "Index one repository in the foreground",
		Long: `Index runs a single submission through the full pipeline without the
queue and prints the outcome as JSON. It exits non-zero when indexing fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.processor.Process(ctx, indexer.Submission{RepositoryURL: args[0], NotifyAddress: email})
			if err := printOutcome(cmd, out); err != nil {
				return err
			}
			if out.Err != nil {
				return fmt.Errorf("indexing failed in %s: %w", out.FailedIn, out.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Address to notify about the outcome")

	return cmd
}

func printOutcome(cmd *cobra.Command, out *indexer.Outcome) error {
	res := indexResult{
		URL:      out.Submission.RepositoryURL,
		State:    string(out.State),
		FailedIn: string(out.FailedIn),
		Versions: out.Versions,
		Timings:  make(map[string]int64, len(out.Timings)),
	}
	if out.Package != nil {
		res.Package = out.Package.Name
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	for state, d := range out.Timings {
		res.Timings[string(state)] = d.Milliseconds()
	}

	w := cmd.OutOrStdout()
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
