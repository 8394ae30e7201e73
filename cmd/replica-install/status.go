package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/replica-install/internal/adapters/statefile"
	"github.com/felixgeelhaar/replica-install/internal/cli"
	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var stateDir, logFile string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded installation state",
		Long: `Show the install state persisted on this host and a summary of the last
run recorded in the audit journal. Nothing is locked or modified.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return install.NewValidationError("status", "takes no arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.status(cmd.Context(), stateDir, logFile)
		},
	}

	cmd.Flags().StringVar(&stateDir, cli.KeyStateDir, cli.DefaultStateDir, "directory holding install state and lock")
	cmd.Flags().StringVar(&logFile, cli.KeyLogFile, cli.DefaultLogFile, "log file whose journal is summarized")
	return cmd
}

func (a *app) status(ctx context.Context, stateDir, logFile string) error {
	store := statefile.New(stateDir)
	st, err := store.Load(ctx)
	switch {
	case errors.Is(err, state.ErrNotFound):
		st = nil
	case errors.Is(err, state.ErrCorrupt):
		return &install.StateCorruptionError{Path: store.Path(), Underlying: err}
	case err != nil:
		return fmt.Errorf("failed to read install state: %w", err)
	}

	printState(a.stdout, st, store.Path())

	if logFile == "" {
		return nil
	}
	events, err := audit.ReadJournal(audit.JournalPath(logFile), audit.QueryFilter{})
	if err != nil || len(events) == 0 {
		return nil
	}
	if i := audit.VerifyChain(events); i >= 0 {
		_, _ = fmt.Fprintln(a.stdout)
		printChainWarning(a.stdout, audit.JournalPath(logFile), i)
	}
	runID := audit.LastRunID(events)
	if runID == "" {
		return nil
	}
	_, _ = fmt.Fprintln(a.stdout)
	printRunSummary(a.stdout, audit.Summarize(audit.QueryFilter{RunID: runID}.Apply(events)))
	return nil
}
