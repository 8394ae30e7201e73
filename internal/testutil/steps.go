package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
)

// Recorder collects the order of step actions across fake steps.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Calls returns every call as "action:name", in order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Executed returns the names of executed steps, in order.
func (r *Recorder) Executed() []string {
	return r.filter("execute:")
}

// Undone returns the names of undone steps, in order.
func (r *Recorder) Undone() []string {
	return r.filter("undo:")
}

// Prechecked returns the names of prechecked steps, in order.
func (r *Recorder) Prechecked() []string {
	return r.filter("precheck:")
}

// Reset forgets all calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) filter(prefix string) []string {
	var names []string
	for _, c := range r.Calls() {
		if name, ok := strings.CutPrefix(c, prefix); ok {
			names = append(names, name)
		}
	}
	return names
}

// FakeStep is a configurable step.Step and step.Prechecker.
type FakeStep struct {
	name      string
	phase     int
	resumable bool
	rec       *Recorder

	executeErr  error
	undoErr     error
	precheckErr error
	panicMsg    string
	blocking    bool
	ignoreFor   time.Duration
	onExecute   func(ic *step.InstallContext)
	undoCheck   func(ic *step.InstallContext) error
}

// NewFakeStep returns a resumable step that succeeds.
func NewFakeStep(rec *Recorder, name string, phase int) *FakeStep {
	return &FakeStep{name: name, phase: phase, resumable: true, rec: rec}
}

// FailExecute makes Execute fail with msg.
func (f *FakeStep) FailExecute(msg string) *FakeStep {
	f.executeErr = errors.New(msg)
	return f
}

// FailUndo makes Undo fail with msg.
func (f *FakeStep) FailUndo(msg string) *FakeStep {
	f.undoErr = errors.New(msg)
	return f
}

// FailPrecheck makes Precheck fail with msg.
func (f *FakeStep) FailPrecheck(msg string) *FakeStep {
	f.precheckErr = errors.New(msg)
	return f
}

// PanicOnExecute makes Execute panic.
func (f *FakeStep) PanicOnExecute(msg string) *FakeStep {
	f.panicMsg = msg
	return f
}

// NotResumable marks the step unsafe to repeat.
func (f *FakeStep) NotResumable() *FakeStep {
	f.resumable = false
	return f
}

// BlockUntilCancelled makes Execute wait for its context and fail.
func (f *FakeStep) BlockUntilCancelled() *FakeStep {
	f.blocking = true
	return f
}

// IgnoreCancel makes Execute sleep for d regardless of its context and
// then succeed.
func (f *FakeStep) IgnoreCancel(d time.Duration) *FakeStep {
	f.ignoreFor = d
	return f
}

// OnExecute runs fn during a successful Execute.
func (f *FakeStep) OnExecute(fn func(ic *step.InstallContext)) *FakeStep {
	f.onExecute = fn
	return f
}

// CheckUndo runs fn at the start of Undo; a non-nil error fails the undo.
func (f *FakeStep) CheckUndo(fn func(ic *step.InstallContext) error) *FakeStep {
	f.undoCheck = fn
	return f
}

// Name implements step.Step.
func (f *FakeStep) Name() string { return f.name }

// Phase implements step.Step.
func (f *FakeStep) Phase() int { return f.phase }

// Resumable implements step.Step.
func (f *FakeStep) Resumable() bool { return f.resumable }

// Precheck implements step.Prechecker.
func (f *FakeStep) Precheck(_ context.Context, _ *step.InstallContext) error {
	f.rec.add("precheck:" + f.name)
	return f.precheckErr
}

// Execute implements step.Step.
func (f *FakeStep) Execute(ctx context.Context, ic *step.InstallContext) step.Outcome {
	f.rec.add("execute:" + f.name)

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.blocking {
		<-ctx.Done()
		return step.Failure("cancelled", ctx.Err())
	}
	if f.ignoreFor > 0 {
		time.Sleep(f.ignoreFor)
	}
	if f.executeErr != nil {
		return step.Failure(f.name+" failed", f.executeErr)
	}
	if f.onExecute != nil {
		f.onExecute(ic)
	}
	return step.Success(f.name + " configured")
}

// Undo implements step.Step.
func (f *FakeStep) Undo(_ context.Context, ic *step.InstallContext) step.Outcome {
	f.rec.add("undo:" + f.name)

	if f.undoCheck != nil {
		if err := f.undoCheck(ic); err != nil {
			return step.Failure(f.name+" teardown failed", err)
		}
	}
	if f.undoErr != nil {
		return step.Failure(f.name+" teardown failed", f.undoErr)
	}
	return step.Success(f.name + " removed")
}

// Steps converts fakes to a step slice.
func Steps(fakes ...*FakeStep) []step.Step {
	out := make([]step.Step, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

var (
	_ step.Step       = (*FakeStep)(nil)
	_ step.Prechecker = (*FakeStep)(nil)
)
