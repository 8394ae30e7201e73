package hooks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/felixgeelhaar/replica-install/internal/ports"
	"github.com/felixgeelhaar/replica-install/internal/steps"
)

// MarkerPrefix starts a stdout line that records a marker:
//
//	replica-marker: port=8443
const MarkerPrefix = "replica-marker:"

// Runner executes hooks through a ports.CommandRunner.
type Runner struct {
	commands ports.CommandRunner
	config   Config
	lookPath func(string) (string, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLookPath replaces exec.LookPath in prechecks.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Runner) { r.lookPath = fn }
}

// NewRunner creates a Runner for cfg.
func NewRunner(commands ports.CommandRunner, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		commands: commands,
		config:   cfg,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Services returns the collaborators backed by this runner.
func (r *Runner) Services() steps.Services {
	return steps.Services{
		Directory:   directory{r.service(steps.SectionDirectory)},
		AuthService: authService{r.service(steps.SectionAuthService)},
		CA:          certificateAuthority{r.service(steps.SectionCA)},
		Proxy:       proxy{r.service(steps.SectionProxy)},
	}
}

func (r *Runner) service(section string) service {
	return service{runner: r, section: section}
}

// Run executes the hook for section and action. Markers printed by the hook
// are stored in ic under section.
func (r *Runner) Run(ctx context.Context, section, action string, ic *step.InstallContext) error {
	spec := r.config.Lookup(section, action)
	if spec.IsZero() {
		return fmt.Errorf("no %s hook configured for %s", action, section)
	}

	log := ports.LoggerFromContext(ctx).With(ports.F("hook", section+"."+action))
	cmd := ports.Command{Name: spec.Path, Args: spec.Args, Env: Environment(action, ic)}
	log.Debug(ctx, "running hook", ports.F("command", cmd.String()))

	res, err := r.commands.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("run %s hook for %s: %w", action, section, err)
	}
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		log.Debug(ctx, "hook stderr", ports.F("stderr", stderr))
	}
	if !res.Success() {
		msg := lastLine(res.Stderr)
		if msg == "" {
			msg = lastLine(res.Stdout)
		}
		if msg == "" {
			return fmt.Errorf("%s hook for %s exited with status %d", action, section, res.ExitCode)
		}
		return fmt.Errorf("%s hook for %s exited with status %d: %s", action, section, res.ExitCode, msg)
	}

	markers := ParseMarkers(res.Stdout)
	for k, v := range markers {
		ic.SetMarker(section, k, v)
	}
	if len(markers) > 0 {
		log.Debug(ctx, "hook recorded markers", ports.F("count", len(markers)))
	}
	return nil
}

// Check verifies that both hooks of section are configured and executable.
func (r *Runner) Check(_ context.Context, section string) error {
	var errs []error
	for _, action := range []string{ActionConfigure, ActionTeardown} {
		spec := r.config.Lookup(section, action)
		if spec.IsZero() {
			errs = append(errs, fmt.Errorf("no %s hook configured for %s", action, section))
			continue
		}
		if _, err := r.lookPath(spec.Path); err != nil {
			errs = append(errs, fmt.Errorf("%s hook for %s: %w", action, section, err))
		}
	}
	return errors.Join(errs...)
}

// Environment returns the variables passed to a hook. The directory manager
// password is only passed to configure hooks.
func Environment(action string, ic *step.InstallContext) []string {
	env := []string{
		"REPLICA_ACTION=" + action,
		"REPLICA_HOST=" + ic.Hostname,
		"REPLICA_REALM=" + ic.Replica.Realm,
		"REPLICA_DOMAIN=" + ic.Replica.Domain,
		"REPLICA_MASTER=" + ic.Replica.Master,
		"REPLICA_SERVER=" + ic.Server,
		"REPLICA_SUBJECT_BASE=" + ic.Replica.SubjectBase,
		"REPLICA_FILE=" + ic.ReplicaFile,
		"REPLICA_RETRIEVE_KEY=" + strconv.FormatBool(ic.RetrieveKey),
		"REPLICA_NO_HOST_DNS=" + strconv.FormatBool(ic.NoHostDNS),
	}
	if action == ActionConfigure && ic.Password != "" {
		env = append(env, "REPLICA_DM_PASSWORD="+ic.Password)
	}
	markers := ic.Markers()
	for _, k := range slices.Sorted(maps.Keys(markers)) {
		env = append(env, "REPLICA_MARKER_"+envName(k)+"="+markers[k])
	}
	return env
}

// ParseMarkers extracts "replica-marker: key=value" lines from hook output.
// Later lines win.
func ParseMarkers(stdout string) map[string]string {
	markers := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		rest, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), MarkerPrefix)
		if !ok {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(rest), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		markers[key] = strings.TrimSpace(value)
	}
	return markers
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// service binds a runner to one section.
type service struct {
	runner  *Runner
	section string
}

func (s service) configure(ctx context.Context, ic *step.InstallContext) error {
	return s.runner.Run(ctx, s.section, ActionConfigure, ic)
}

func (s service) teardown(ctx context.Context, ic *step.InstallContext) error {
	return s.runner.Run(ctx, s.section, ActionTeardown, ic)
}

// Check implements steps.Checker.
func (s service) Check(ctx context.Context, _ *step.InstallContext) error {
	return s.runner.Check(ctx, s.section)
}

type directory struct{ service }

func (d directory) ConfigureDirectory(ctx context.Context, ic *step.InstallContext) error {
	return d.configure(ctx, ic)
}

func (d directory) TeardownDirectory(ctx context.Context, ic *step.InstallContext) error {
	return d.teardown(ctx, ic)
}

type authService struct{ service }

func (a authService) ConfigureAuthService(ctx context.Context, ic *step.InstallContext) error {
	return a.configure(ctx, ic)
}

func (a authService) TeardownAuthService(ctx context.Context, ic *step.InstallContext) error {
	return a.teardown(ctx, ic)
}

type certificateAuthority struct{ service }

func (c certificateAuthority) ConfigureCA(ctx context.Context, ic *step.InstallContext) error {
	return c.configure(ctx, ic)
}

func (c certificateAuthority) TeardownCA(ctx context.Context, ic *step.InstallContext) error {
	return c.teardown(ctx, ic)
}

type proxy struct{ service }

func (p proxy) ConfigureProxy(ctx context.Context, ic *step.InstallContext) error {
	return p.configure(ctx, ic)
}

func (p proxy) TeardownProxy(ctx context.Context, ic *step.InstallContext) error {
	return p.teardown(ctx, ic)
}

var (
	_ steps.Directory            = directory{}
	_ steps.AuthService          = authService{}
	_ steps.CertificateAuthority = certificateAuthority{}
	_ steps.Proxy                = proxy{}
	_ steps.Checker              = service{}
)
