package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/replica-install/internal/adapters/command"
	"github.com/felixgeelhaar/replica-install/internal/adapters/hooks"
	"github.com/felixgeelhaar/replica-install/internal/adapters/logging"
	"github.com/felixgeelhaar/replica-install/internal/adapters/statefile"
	"github.com/felixgeelhaar/replica-install/internal/cli"
	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/felixgeelhaar/replica-install/internal/steps"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app holds the process-level collaborators so tests can replace them.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// newPrompter builds the interactive prompter for a run.
	newPrompter func(context.Context) cli.Prompter
	// newServices builds the external services the steps drive.
	newServices func(*cli.Params) (steps.Services, error)

	verbose bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:      stdout,
		stderr:      stderr,
		newPrompter: newHuhPrompter,
		newServices: hookServices,
	}
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, a *app, args []string) int {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		printErrorTo(a.stderr, err, a.verbose)
		return install.ExitCode(err)
	}
	return install.ExitOK
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica-install [flags] REPLICA_FILE",
		Short: "Turn this host into a replica of an existing identity server",
		Long: `replica-install configures the directory server, the authentication
service, the certificate authority and the web proxy of this host from a
replica descriptor prepared on the master.

Progress is recorded after every step. A failed install is rolled back;
an interrupted one can be continued with --resume. --uninstall removes
everything a previous run configured.`,
		Example: `  replica-install -U -p Secret123 replica.yaml
  replica-install --resume
  replica-install --uninstall`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true, // We handle error formatting ourselves
		SilenceUsage:  true, // Don't show usage on error
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.install(cmd.Context(), cmd.Flags(), args)
		},
	}

	cli.RegisterFlags(cmd.Flags())
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return install.NewValidationError("flags", err.Error()).
			WithSuggestion("Run: replica-install --help")
	})

	_ = cmd.MarkFlagFilename(cli.KeyConfig, "conf", "ini")
	_ = cmd.MarkFlagFilename(cli.KeyLogFile)
	_ = cmd.MarkFlagDirname(cli.KeyStateDir)

	cmd.AddCommand(newStatusCmd(a), newVersionCmd())
	return cmd
}

// install binds the parameters and drives the installer in the requested
// mode.
func (a *app) install(ctx context.Context, flags *pflag.FlagSet, args []string) error {
	if v, err := flags.GetBool(cli.KeyVerbose); err == nil {
		a.verbose = v
	}

	params, err := cli.NewBinder(cli.WithPrompter(a.newPrompter(ctx))).Bind(flags, args)
	if err != nil {
		return err
	}
	ic := params.Install
	a.verbose = ic.Verbose

	level := ports.LevelInfo
	if ic.Verbose {
		level = ports.LevelDebug
	}
	logger, err := logging.New(
		logging.WithConsole(a.stderr),
		logging.WithLogFile(ic.LogFile),
		logging.WithLevel(level),
	)
	if err != nil {
		return install.NewValidationError("--"+cli.KeyLogFile, "cannot open log file").WithUnderlying(err)
	}
	defer func() { _ = logger.Close() }()
	ctx = ports.ContextWithLogger(ctx, logger)

	journal := openJournal(ctx, logger, ic.LogFile)
	defer func() { _ = journal.Close() }()

	svc, err := a.newServices(params)
	if err != nil {
		return err
	}
	list, err := steps.Catalog(svc)
	if err != nil {
		return fmt.Errorf("failed to build step list: %w", err)
	}

	store := statefile.New(ic.StateDir)
	in, err := install.New(list, store,
		install.WithLogger(logger),
		install.WithJournal(journal),
		install.WithStepTimeout(ic.StepTimeout),
		install.WithHost(ic.Hostname),
	)
	if err != nil {
		return fmt.Errorf("failed to create installer: %w", err)
	}

	logger.Debug(ctx, "parameters bound",
		ports.F("mode", string(params.Mode)),
		ports.F("host", ic.Hostname),
		ports.F("config", params.ConfigFile),
		ports.F("state", store.Path()),
	)

	var result *install.Result
	switch params.Mode {
	case cli.ModeResume:
		result = in.Resume(ctx, nil, ic)
	case cli.ModeUninstall:
		result = in.Uninstall(ctx, nil, ic)
	default:
		result = in.Run(ctx, ic)
	}

	printResult(a.stdout, result, ic.LogFile)
	return result.Err
}

// openJournal opens the audit journal next to the log file. A journal that
// cannot be opened is not fatal.
func openJournal(ctx context.Context, logger ports.Logger, logFile string) audit.Journal {
	if logFile == "" {
		return audit.NullJournal{}
	}
	j, err := audit.NewFileJournal(audit.FileJournalConfig{Path: audit.JournalPath(logFile)})
	if err != nil {
		logger.Warn(ctx, "audit journal disabled", ports.Err(err))
		return audit.NullJournal{}
	}
	return j
}

// hookServices runs the hook executables configured in the [hooks] section.
func hookServices(params *cli.Params) (steps.Services, error) {
	cfg, err := hooks.ParseConfig(params.Hooks)
	if err != nil {
		return steps.Services{}, install.NewValidationError(cli.KeyConfig, "invalid [hooks] section").
			WithUnderlying(err)
	}
	return hooks.NewRunner(command.NewRealRunner(), cfg).Services(), nil
}

// detailedError is implemented by errors that carry a code and suggestion.
type detailedError interface {
	error
	Format() string
}

// formatError returns a user-friendly error message.
// With verbose=false: shows the message, code and suggestion.
// With verbose=true: also shows the full error chain.
func formatError(err error, verbose bool) string {
	var detailed detailedError
	if errors.As(err, &detailed) {
		msg := detailed.Format()
		if verbose && detailed.Error() != err.Error() {
			msg += fmt.Sprintf("\n\nTechnical details: %v", err)
		}
		return msg
	}
	return err.Error()
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error, verbose bool) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err, verbose))
}
