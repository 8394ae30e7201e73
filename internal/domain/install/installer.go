// Package install orchestrates ordered steps: it executes them, records
// progress after every step, rolls back on failure, resumes interrupted
// installs and uninstalls.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/felixgeelhaar/replica-install/internal/domain/audit"
	"github.com/felixgeelhaar/replica-install/internal/domain/state"
	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/google/uuid"
)

// DefaultStepTimeout bounds a single Execute, Undo or Precheck call.
const DefaultStepTimeout = 30 * time.Minute

// Installer runs a static, ordered list of steps against one host.
type Installer struct {
	steps       []step.Step
	index       map[string]int
	store       state.Store
	logger      ports.Logger
	journal     audit.Journal
	stepTimeout time.Duration
	host        string
	now         func() time.Time
	newRunID    func() string
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger. Without it the logger attached to the run's
// context is used.
func WithLogger(l ports.Logger) Option {
	return func(in *Installer) { in.logger = l }
}

// WithJournal sets the per-step outcome journal.
func WithJournal(j audit.Journal) Option {
	return func(in *Installer) { in.journal = j }
}

// WithStepTimeout bounds every step action.
func WithStepTimeout(d time.Duration) Option {
	return func(in *Installer) { in.stepTimeout = d }
}

// WithHost sets the host identity recorded in state and journal.
func WithHost(host string) Option {
	return func(in *Installer) { in.host = host }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Installer) { in.now = now }
}

// WithRunID replaces the run id generator.
func WithRunID(fn func() string) Option {
	return func(in *Installer) { in.newRunID = fn }
}

// New validates steps and returns an Installer running them in phase order.
func New(steps []step.Step, store state.Store, opts ...Option) (*Installer, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if err := step.Validate(steps); err != nil {
		return nil, err
	}

	sorted := step.Sort(steps)
	index := make(map[string]int, len(sorted))
	for i, s := range sorted {
		index[s.Name()] = i
	}

	in := &Installer{
		steps:       sorted,
		index:       index,
		store:       store,
		journal:     audit.NullJournal{},
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.stepTimeout <= 0 {
		return nil, fmt.Errorf("step timeout must be positive, got %s", in.stepTimeout)
	}
	return in, nil
}

// Steps returns the steps in execution order.
func (in *Installer) Steps() []step.Step {
	out := make([]step.Step, len(in.steps))
	copy(out, in.steps)
	return out
}

// Status returns the persisted state without taking the lock.
func (in *Installer) Status(ctx context.Context) (*state.InstallState, error) {
	st, err := in.store.Load(ctx)
	if err != nil {
		return nil, in.loadError(err)
	}
	return st, nil
}

// Run performs a fresh install. It refuses to start when the host still
// carries an earlier install.
func (in *Installer) Run(ctx context.Context, ic *step.InstallContext) *Result {
	return in.begin(ctx, OperationInstall, ic, func(ctx context.Context, r *run) error {
		prev, err := in.store.Load(ctx)
		switch {
		case errors.Is(err, state.ErrNotFound):
		case err != nil:
			return in.loadError(err)
		case prev.Active():
			return &PreflightError{
				Code:       ErrCodeAlreadyInstalled,
				Message:    fmt.Sprintf("host already has an install in state %q", prev.Status),
				Suggestion: "Run with --uninstall first, or --resume to finish an interrupted install.",
			}
		}

		r.st = state.New(r.result.RunID, r.host, in.now())
		r.st.Context = ic.Snapshot()

		if err := r.precheck(ctx, in.steps); err != nil {
			return err
		}
		return r.execute(ctx, 0)
	})
}

// Resume continues an interrupted install. When st is nil the persisted
// state is loaded. Steps already done are skipped; the context is restored
// from the snapshot for fields the caller left unset.
func (in *Installer) Resume(ctx context.Context, st *state.InstallState, ic *step.InstallContext) *Result {
	return in.begin(ctx, OperationResume, ic, func(ctx context.Context, r *run) error {
		st, err := in.loadFor(ctx, st, ErrCodeNothingToResume, "no install to resume")
		if err != nil {
			return err
		}
		if err := in.checkRecords(st); err != nil {
			return err
		}
		ic.Restore(st.Context)

		if st.InFlight != nil {
			s := in.steps[in.index[st.InFlight.Name]]
			if !s.Resumable() {
				return &PreflightError{
					Code:       ErrCodeResumeConflict,
					Message:    fmt.Sprintf("step %q was interrupted and cannot be safely repeated", s.Name()),
					Suggestion: "Run with --uninstall to clean up, then install again.",
				}
			}
			r.log.Warn(ctx, "repeating interrupted step", ports.F("step", s.Name()), ports.F("phase", s.Phase()))
		}

		done, rolledBack := 0, 0
		for _, rec := range st.CompletedSteps {
			if rec.Status == step.StatusDone {
				done++
			} else {
				rolledBack++
			}
		}

		start := 0
		switch {
		case done > 0 && rolledBack > 0:
			return &PreflightError{
				Code:       ErrCodeResumeConflict,
				Message:    "earlier run was partly rolled back",
				Suggestion: "Run with --uninstall to clean up, then install again.",
			}
		case done > 0 && st.Status == state.StatusFailed:
			// Rollback stopped short; the done records are leftovers, not progress.
			return &PreflightError{
				Code:       ErrCodeResumeConflict,
				Message:    "earlier run failed and its rollback did not complete",
				Suggestion: "Clean up the steps listed in the log, then run with --uninstall.",
			}
		case rolledBack > 0:
			// Nothing left on the host; start over.
			r.st = state.New(r.result.RunID, r.host, in.now())
		default:
			r.st = st.Clone()
			r.st.RunID = r.result.RunID
			r.st.Status = state.StatusInstalling
			r.st.Failure = nil
			r.st.InFlight = nil
			start = len(st.CompletedSteps)
			for _, rec := range st.CompletedSteps {
				if err := r.restoreDone(rec, true); err != nil {
					return err
				}
			}
		}
		r.st.Context = ic.Snapshot()

		if err := r.precheck(ctx, in.steps[start:]); err != nil {
			return err
		}
		return r.execute(ctx, start)
	})
}

// Uninstall undoes every recorded step in reverse order, best-effort. When
// st is nil the persisted state is loaded.
func (in *Installer) Uninstall(ctx context.Context, st *state.InstallState, ic *step.InstallContext) *Result {
	return in.begin(ctx, OperationUninstall, ic, func(ctx context.Context, r *run) error {
		st, err := in.loadFor(ctx, st, ErrCodeNothingInstalled, "nothing is installed on this host")
		if err != nil {
			return err
		}
		if len(st.CompletedSteps) == 0 && st.InFlight == nil {
			return &PreflightError{Code: ErrCodeNothingInstalled, Message: "nothing is installed on this host"}
		}
		if err := in.checkRecords(st); err != nil {
			return err
		}
		ic.Restore(st.Context)

		r.st = st.Clone()
		r.st.RunID = r.result.RunID
		r.st.Status = state.StatusUninstalling
		if err := r.save(ctx); err != nil {
			return &PreflightError{Code: ErrCodeStateUnavailable, Message: "cannot record uninstall start", Underlying: err}
		}

		if r.st.InFlight != nil {
			r.result.Interrupted = r.st.InFlight.Name
			r.log.Warn(ctx, "step was interrupted before completing and cannot be undone automatically",
				ports.F("step", r.st.InFlight.Name), ports.F("phase", r.st.InFlight.Phase))
			r.st.InFlight = nil
		}

		for _, rec := range r.st.CompletedSteps {
			if rec.Status == step.StatusDone {
				if err := r.restoreDone(rec, false); err != nil {
					return err
				}
			} else if rep := r.result.report(rec.Name); rep != nil {
				rep.Status = rec.Status
			}
		}

		failures := r.undo(ctx, true)
		if len(failures) > 0 {
			r.st.Status = state.StatusFailed
			r.saveOrWarn(ctx)
			return newReport(nil, failures)
		}

		r.st.CompletedSteps = []state.StepRecord{}
		r.st.Failure = nil
		r.st.Status = state.StatusUninstalled
		if err := r.save(ctx); err != nil {
			return fmt.Errorf("record uninstall completion: %w", err)
		}
		return nil
	})
}

// begin takes the host lock, runs body and finalizes the result.
func (in *Installer) begin(ctx context.Context, op Operation, ic *step.InstallContext, body func(context.Context, *run) error) *Result {
	r := in.newRun(ctx, op, ic)

	if ic == nil {
		r.finish(ctx, errors.New("install context is required"))
		return r.result
	}

	if err := in.store.Lock(); err != nil {
		if errors.Is(err, state.ErrLocked) {
			err = &PreflightError{
				Code:       ErrCodeLockHeld,
				Message:    "another install is already in progress on this host",
				Suggestion: "Wait for it to finish. Remove a stale lock only if no installer process is running.",
				Underlying: err,
			}
		} else {
			err = &PreflightError{Code: ErrCodeStateUnavailable, Message: "cannot lock install state", Underlying: err}
		}
		r.finish(ctx, err)
		return r.result
	}
	defer func() {
		if err := in.store.Unlock(); err != nil {
			r.log.Warn(ctx, "failed to release install lock", ports.Err(err))
		}
	}()

	r.journal(ctx, r.audit.RunStarted(ctx, len(in.steps)))
	r.log.Info(ctx, "starting "+string(op), ports.F("steps", len(in.steps)))

	r.finish(ctx, body(ctx, r))
	return r.result
}

func (in *Installer) newRun(ctx context.Context, op Operation, ic *step.InstallContext) *run {
	runID := in.newRunID()

	host := in.host
	if host == "" && ic != nil {
		host = ic.Hostname
	}
	if host == "" {
		host, _ = os.Hostname()
	}

	logger := in.logger
	if logger == nil {
		logger = ports.LoggerFromContext(ctx)
	}

	result := &Result{
		RunID:     runID,
		Operation: op,
		Steps:     make([]StepReport, len(in.steps)),
		StartedAt: in.now().UTC(),
	}
	for i, s := range in.steps {
		result.Steps[i] = StepReport{Name: s.Name(), Phase: s.Phase(), Status: step.StatusPending}
	}

	return &run{
		in:         in,
		ic:         ic,
		host:       host,
		log:        logger.With(ports.F("run_id", runID), ports.F("operation", string(op))),
		audit:      audit.NewService(in.journal, runID, string(op), host).WithClock(in.now),
		result:     result,
		lifecycles: make(map[string]*step.Lifecycle, len(in.steps)),
	}
}

// loadFor returns st, or the persisted state when st is nil. A missing state
// becomes a PreflightError with code.
func (in *Installer) loadFor(ctx context.Context, st *state.InstallState, code, msg string) (*state.InstallState, error) {
	if st != nil {
		if err := st.Validate(); err != nil {
			return nil, &StateCorruptionError{Underlying: err}
		}
		st = st.Clone()
	} else {
		loaded, err := in.store.Load(ctx)
		if errors.Is(err, state.ErrNotFound) {
			return nil, &PreflightError{Code: code, Message: msg}
		}
		if err != nil {
			return nil, in.loadError(err)
		}
		st = loaded
	}
	if code == ErrCodeNothingToResume {
		switch st.Status {
		case state.StatusUninstalled:
			return nil, &PreflightError{Code: code, Message: msg}
		case state.StatusInstalled:
			return nil, &PreflightError{Code: code, Message: "install already completed"}
		}
	}
	return st, nil
}

func (in *Installer) loadError(err error) error {
	if errors.Is(err, state.ErrCorrupt) {
		return &StateCorruptionError{Path: statePath(in.store), Underlying: err}
	}
	if errors.Is(err, state.ErrNotFound) {
		return err
	}
	return &PreflightError{Code: ErrCodeStateUnavailable, Message: "cannot read install state", Underlying: err}
}

// checkRecords verifies that the recorded steps are a prefix of the declared
// order and that an in-flight step is the one right after them.
func (in *Installer) checkRecords(st *state.InstallState) error {
	for i, rec := range st.CompletedSteps {
		if i >= len(in.steps) || in.steps[i].Name() != rec.Name {
			return &StateCorruptionError{
				Path:       statePath(in.store),
				Underlying: fmt.Errorf("recorded step %q at position %d does not match the step order", rec.Name, i),
			}
		}
	}
	if st.InFlight != nil {
		next := len(st.CompletedSteps)
		if next >= len(in.steps) || in.steps[next].Name() != st.InFlight.Name {
			return &StateCorruptionError{
				Path:       statePath(in.store),
				Underlying: fmt.Errorf("in-flight step %q does not follow the recorded steps", st.InFlight.Name),
			}
		}
	}
	return nil
}

func statePath(store state.Store) string {
	if p, ok := store.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

// run is the mutable state of one Run, Resume or Uninstall invocation.
type run struct {
	in         *Installer
	ic         *step.InstallContext
	st         *state.InstallState
	host       string
	log        ports.Logger
	audit      *audit.Service
	result     *Result
	lifecycles map[string]*step.Lifecycle
}

func (r *run) finish(ctx context.Context, err error) {
	r.result.Err = err
	r.result.FinishedAt = r.in.now().UTC()

	r.journal(ctx, r.audit.RunFinished(ctx, r.result.Duration(), err))
	if err != nil {
		r.log.Error(ctx, string(r.result.Operation)+" failed",
			ports.Err(err), ports.F("exit_code", ExitCode(err)))
		return
	}
	r.log.Info(ctx, string(r.result.Operation)+" completed",
		ports.F("executed", len(r.result.Executed)), ports.F("duration", r.result.Duration().String()))
}

func (r *run) journal(ctx context.Context, err error) {
	if err != nil {
		r.log.Warn(ctx, "failed to write journal entry", ports.Err(err))
	}
}

func (r *run) save(ctx context.Context) error {
	r.st.Touch(r.in.now())
	return r.in.store.Save(ctx, r.st)
}

func (r *run) saveOrWarn(ctx context.Context) {
	if err := r.save(ctx); err != nil {
		r.log.Warn(ctx, "failed to persist install state", ports.Err(err))
	}
}

func (r *run) lifecycle(s step.Step) (*step.Lifecycle, error) {
	if lc, ok := r.lifecycles[s.Name()]; ok {
		return lc, nil
	}
	lc, err := step.NewLifecycle(s.Name())
	if err != nil {
		return nil, err
	}
	r.lifecycles[s.Name()] = lc
	return lc, nil
}

func (r *run) restoreDone(rec state.StepRecord, skipped bool) error {
	lc, err := step.RestoreLifecycle(rec.Name, step.StatusDone)
	if err != nil {
		return err
	}
	r.lifecycles[rec.Name] = lc
	if rep := r.result.report(rec.Name); rep != nil {
		rep.Status = step.StatusDone
		rep.Skipped = skipped
	}
	return nil
}

func (r *run) setStatus(name string, status step.Status) {
	if rep := r.result.report(name); rep != nil {
		rep.Status = status
	}
}

// precheck runs every Prechecker among steps and reports all failures.
func (r *run) precheck(ctx context.Context, steps []step.Step) error {
	var errs []error
	for _, s := range steps {
		pc, ok := s.(step.Prechecker)
		if !ok {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, r.in.stepTimeout)
		err := pc.Precheck(pctx, r.ic)
		cancel()
		if err == nil {
			continue
		}
		r.log.Error(ctx, "precheck failed", ports.F("step", s.Name()), ports.F("phase", s.Phase()), ports.Err(err))
		r.journal(ctx, r.audit.PrecheckFailed(ctx, s.Name(), s.Phase(), err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return nil
	}
	return &PreflightError{
		Code:       ErrCodePrecheckFailed,
		Message:    "prerequisites are not met",
		Suggestion: "Fix the reported prerequisites and run again. Nothing was changed.",
		Underlying: errors.Join(errs...),
	}
}

// execute runs steps[start:] in order. On failure it rolls back every done
// step and returns the aggregated error.
func (r *run) execute(ctx context.Context, start int) error {
	steps := r.in.steps
	for i := start; i < len(steps); i++ {
		s := steps[i]

		if err := ctx.Err(); err != nil {
			return r.fail(ctx, s, "not started", fmt.Errorf("interrupted: %w", context.Cause(ctx)), 0)
		}

		lc, err := r.lifecycle(s)
		if err != nil {
			return err
		}
		if err := lc.Start(); err != nil {
			return err
		}
		r.setStatus(s.Name(), step.StatusRunning)

		r.st.Status = state.StatusInstalling
		r.st.InFlight = &state.StepRecord{
			Name:      s.Name(),
			Phase:     s.Phase(),
			Status:    step.StatusRunning,
			Timestamp: r.in.now().UTC(),
		}
		if err := r.save(ctx); err != nil {
			_ = lc.Fail()
			r.setStatus(s.Name(), step.StatusFailed)
			r.st.InFlight = nil
			return r.fail(ctx, s, "cannot record step start", err, 0)
		}

		r.log.Info(ctx, "executing step", ports.F("step", s.Name()), ports.F("phase", s.Phase()))
		r.journal(ctx, r.audit.StepStarted(ctx, s.Name(), s.Phase()))

		startedAt := r.in.now()
		stepCtx, cancel := context.WithTimeout(ctx, r.in.stepTimeout)
		out := invoke(stepCtx, s.Execute, r.ic)
		stepErr := stepCtx.Err()
		cancel()
		elapsed := r.in.now().Sub(startedAt)

		r.result.Executed = append(r.result.Executed, s.Name())
		if rep := r.result.report(s.Name()); rep != nil {
			rep.Duration = elapsed
			rep.Message = out.Message()
		}

		if !out.OK() {
			if err := lc.Fail(); err != nil {
				return err
			}
			r.setStatus(s.Name(), step.StatusFailed)
			r.st.InFlight = nil

			cause := out.Cause()
			if stepErr != nil {
				cause = r.interruption(ctx, stepErr, cause)
			}
			return r.fail(ctx, s, out.Message(), cause, elapsed)
		}

		if err := lc.Succeed(); err != nil {
			return err
		}
		r.setStatus(s.Name(), step.StatusDone)
		now := r.in.now().UTC()
		r.st.InFlight = nil
		r.st.CompletedSteps = append(r.st.CompletedSteps, state.StepRecord{
			Name:      s.Name(),
			Phase:     s.Phase(),
			Status:    step.StatusDone,
			Timestamp: now,
		})
		r.st.Context = r.ic.Snapshot()

		if err := r.save(ctx); err != nil {
			// The effect exists but is unrecorded; undo it with the rest.
			return r.fail(ctx, s, "cannot record step completion", err, elapsed)
		}

		r.log.Info(ctx, "step done",
			ports.F("step", s.Name()), ports.F("phase", s.Phase()),
			ports.F("duration", elapsed.String()), ports.F("timestamp", now))
		r.journal(ctx, r.audit.StepDone(ctx, s.Name(), s.Phase(), elapsed, out.Message()))

		if stepErr != nil {
			// The step ignored cancellation and completed. It is recorded
			// done, so the rollback below covers it.
			return r.fail(ctx, s, "step finished after it was cancelled", r.interruption(ctx, stepErr, nil), elapsed)
		}
	}

	r.st.Status = state.StatusInstalled
	r.st.Failure = nil
	r.st.InFlight = nil
	if err := r.save(ctx); err != nil {
		return fmt.Errorf("record install completion: %w", err)
	}
	return nil
}

// interruption describes why a step context ended.
func (r *run) interruption(parent context.Context, stepErr, cause error) error {
	var reason error
	if parent.Err() != nil {
		reason = fmt.Errorf("interrupted: %w", context.Cause(parent))
	} else {
		reason = fmt.Errorf("timed out after %s: %w", r.in.stepTimeout, stepErr)
	}
	if cause == nil || errors.Is(cause, stepErr) {
		return reason
	}
	return fmt.Errorf("%w: %w", reason, cause)
}

// fail records the failure of s, rolls back and builds the run error.
func (r *run) fail(ctx context.Context, s step.Step, message string, cause error, elapsed time.Duration) error {
	now := r.in.now().UTC()
	execErr := &StepExecutionError{
		Step:      s.Name(),
		Phase:     s.Phase(),
		Message:   message,
		Cause:     cause,
		Timestamp: now,
	}

	r.st.Status = state.StatusFailed
	r.st.Failure = &state.FailureRecord{
		Step:      s.Name(),
		Phase:     s.Phase(),
		Message:   causeText(message, cause),
		Timestamp: now,
	}
	r.saveOrWarn(ctx)

	r.log.Error(ctx, "step failed",
		ports.F("step", s.Name()), ports.F("phase", s.Phase()),
		ports.F("timestamp", now), ports.Err(execErr))
	r.journal(ctx, r.audit.StepFailed(ctx, s.Name(), s.Phase(), elapsed, execErr))

	failures := r.undo(ctx, false)
	return newReport(execErr, failures)
}

// undo calls Undo on recorded steps in reverse order. With all set it also
// revisits records already rolled back; otherwise only done records. The
// sweep ignores cancellation of ctx.
func (r *run) undo(ctx context.Context, all bool) []*RollbackError {
	ctx = context.WithoutCancel(ctx)

	var failures []*RollbackError
	for i := len(r.st.CompletedSteps) - 1; i >= 0; i-- {
		rec := r.st.CompletedSteps[i]
		if rec.Status != step.StatusDone && !all {
			continue
		}
		s := r.in.steps[r.in.index[rec.Name]]

		r.log.Info(ctx, "rolling back step", ports.F("step", s.Name()), ports.F("phase", s.Phase()))

		startedAt := r.in.now()
		undoCtx, cancel := context.WithTimeout(ctx, r.in.stepTimeout)
		out := invoke(undoCtx, s.Undo, r.ic)
		cancel()
		elapsed := r.in.now().Sub(startedAt)

		if !out.OK() {
			now := r.in.now().UTC()
			rbErr := &RollbackError{
				Step:      s.Name(),
				Phase:     s.Phase(),
				Message:   out.Message(),
				Cause:     out.Cause(),
				Timestamp: now,
			}
			failures = append(failures, rbErr)
			r.log.Error(ctx, "rollback failed",
				ports.F("step", s.Name()), ports.F("phase", s.Phase()),
				ports.F("timestamp", now), ports.Err(rbErr))
			r.journal(ctx, r.audit.RollbackFailed(ctx, s.Name(), s.Phase(), elapsed, out.Err()))
			continue
		}

		if rec.Status == step.StatusDone {
			if lc, ok := r.lifecycles[s.Name()]; ok {
				if err := lc.RollBack(); err != nil {
					r.log.Error(ctx, "lifecycle rejected rollback", ports.F("step", s.Name()), ports.Err(err))
				}
			}
		}
		r.st.MarkRolledBack(s.Name(), r.in.now())
		r.saveOrWarn(ctx)
		r.setStatus(s.Name(), step.StatusRolledBack)
		r.result.RolledBack = append(r.result.RolledBack, s.Name())
		r.journal(ctx, r.audit.StepRolledBack(ctx, s.Name(), s.Phase(), elapsed, out.Message()))
	}
	return failures
}

// invoke calls a step action, converting a panic into a failed outcome.
func invoke(ctx context.Context, fn func(context.Context, *step.InstallContext) step.Outcome, ic *step.InstallContext) (out step.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = step.Failure("step panicked", fmt.Errorf("%v", p))
		}
	}()
	return fn(ctx, ic)
}

// Describe renders a one-line description of a state for logs and status.
func Describe(st *state.InstallState) string {
	if st == nil {
		return "not installed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d recorded", st.Status, len(st.CompletedSteps))
	if st.InFlight != nil {
		fmt.Fprintf(&b, ", %s in flight", st.InFlight.Name)
	}
	b.WriteString(")")
	return b.String()
}
