// Package cli turns command line arguments, environment variables and the
// fallback configuration file into validated installer parameters.
//
// Sources are layered, later ones winning: the INI file's [global]
// section, REPLICA_INSTALL_* environment variables, then flags. The replica
// descriptor is the single positional argument.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Defaults.
const (
	DefaultConfigFile  = "/etc/replica-install/default.conf"
	DefaultStateDir    = "/var/lib/replica-install"
	DefaultLogFile     = "/var/log/replica-install.log"
	DefaultStepTimeout = install.DefaultStepTimeout

	// EnvPrefix starts every environment variable the binder reads.
	EnvPrefix = "REPLICA_INSTALL_"
)

// Option keys. They match the long flag names.
const (
	KeyUnattended  = "unattended"
	KeyVerbose     = "verbose"
	KeyLogFile     = "log-file"
	KeyServer      = "server"
	KeyPassword    = "password"
	KeyRetrieveKey = "retrieve-key"
	KeyStateDir    = "state-dir"
	KeyConfig      = "config"
	KeyStepTimeout = "step-timeout"
	KeyNoHostDNS   = "no-host-dns"
	KeyUninstall   = "uninstall"
	KeyResume      = "resume"
)

// fileKeys may be set in the configuration file; envKeys additionally
// accept the password.
var (
	fileKeys = []string{
		KeyUnattended, KeyVerbose, KeyLogFile, KeyServer, KeyRetrieveKey,
		KeyStateDir, KeyStepTimeout, KeyNoHostDNS,
	}
	envKeys = append([]string{KeyPassword}, fileKeys...)
)

// Mode is the operation requested on the command line.
type Mode string

// Modes.
const (
	ModeInstall   Mode = "install"
	ModeResume    Mode = "resume"
	ModeUninstall Mode = "uninstall"
)

// Params is the validated outcome of binding.
type Params struct {
	Mode    Mode
	Install *step.InstallContext
	// ConfigFile is the configuration file that was read, if any.
	ConfigFile string
	// Hooks holds the [hooks] entries of the configuration file.
	Hooks map[string]string
}

// Prompter asks the operator for values missing in interactive mode.
type Prompter interface {
	Password(title string) (string, error)
}

// Binder binds and validates parameters.
type Binder struct {
	prompter Prompter
	hostname func() (string, error)
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithPrompter sets the interactive prompter.
func WithPrompter(p Prompter) BinderOption {
	return func(b *Binder) { b.prompter = p }
}

// WithHostname replaces os.Hostname.
func WithHostname(fn func() (string, error)) BinderOption {
	return func(b *Binder) { b.hostname = fn }
}

// NewBinder creates a Binder.
func NewBinder(opts ...BinderOption) *Binder {
	b := &Binder{hostname: os.Hostname}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterFlags defines the installer flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.BoolP(KeyUnattended, "U", false, "never prompt; fail when input is missing")
	flags.BoolP(KeyVerbose, "v", false, "print debug messages")
	flags.String(KeyLogFile, DefaultLogFile, "log file path")
	flags.String(KeyServer, "", "server to contact instead of the master in the replica file")
	flags.StringP(KeyPassword, "p", "", "directory manager password")
	flags.Bool(KeyRetrieveKey, false, "retrieve keys from the master instead of using a password")
	flags.String(KeyStateDir, DefaultStateDir, "directory holding install state and lock")
	flags.String(KeyConfig, DefaultConfigFile, "fallback configuration file (INI)")
	flags.Duration(KeyStepTimeout, DefaultStepTimeout, "maximum duration of a single step")
	flags.Bool(KeyNoHostDNS, false, "do not use DNS to look up this host")
	flags.Bool(KeyUninstall, false, "uninstall the replica from this host")
	flags.Bool(KeyResume, false, "resume an interrupted install")
}

// Bind layers the configuration sources and validates the result. args are
// the positional arguments left after flag parsing.
func (b *Binder) Bind(flags *pflag.FlagSet, args []string) (*Params, error) {
	k := koanf.New(".")
	params := &Params{Hooks: map[string]string{}}

	fileCfg, err := b.loadConfigFile(flags)
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		params.ConfigFile = fileCfg.Path
		params.Hooks = fileCfg.Hooks
		values, err := fileValues(fileCfg)
		if err != nil {
			return nil, err
		}
		if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
			return nil, install.NewValidationError(KeyConfig, "cannot load configuration file").WithUnderlying(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, install.NewValidationError("environment", "cannot load environment").WithUnderlying(err)
	}
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, install.NewValidationError("flags", "cannot load flags").WithUnderlying(err)
	}

	mode, err := bindMode(k, args)
	if err != nil {
		return nil, err
	}
	params.Mode = mode

	ic, err := b.bindContext(k, mode, args)
	if err != nil {
		return nil, err
	}
	params.Install = ic

	if err := b.bindPassword(ic, mode); err != nil {
		return nil, err
	}
	return params, nil
}

// loadConfigFile reads the configuration file named by --config or the
// environment. A missing default file is not an error.
func (b *Binder) loadConfigFile(flags *pflag.FlagSet) (*FileConfig, error) {
	path := DefaultConfigFile
	explicit := false
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		path, explicit = v, true
	}
	if f := flags.Lookup(KeyConfig); f != nil && f.Changed {
		path, explicit = f.Value.String(), true
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, install.NewValidationError(KeyConfig, "cannot read configuration file").WithUnderlying(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, install.NewValidationError(KeyConfig, "invalid configuration file").WithUnderlying(err)
	}
	return cfg, nil
}

// envValue maps REPLICA_INSTALL_STEP_TIMEOUT to "step-timeout". Unknown
// variables are skipped.
func envValue(name, value string) (string, any) {
	key := optionKey(strings.TrimPrefix(name, EnvPrefix))
	if !slices.Contains(envKeys, key) {
		return "", nil
	}
	return key, value
}

func fileValues(cfg *FileConfig) (map[string]any, error) {
	values := make(map[string]any, len(cfg.Global))
	for name, v := range cfg.Global {
		key := optionKey(name)
		if !slices.Contains(fileKeys, key) {
			return nil, install.NewValidationError(KeyConfig, fmt.Sprintf("unknown option %q in [%s]", name, SectionGlobal)).
				WithSuggestion(fmt.Sprintf("Supported options: %s.", strings.Join(fileKeys, ", ")))
		}
		values[key] = v
	}
	return values, nil
}

func optionKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
}

func bindMode(k *koanf.Koanf, args []string) (Mode, error) {
	uninstall, err := boolValue(k, KeyUninstall)
	if err != nil {
		return "", err
	}
	resume, err := boolValue(k, KeyResume)
	if err != nil {
		return "", err
	}

	switch {
	case uninstall && resume:
		return "", install.NewValidationError("--uninstall", "cannot be combined with --resume")
	case len(args) > 1:
		return "", install.NewValidationError("REPLICA_FILE", fmt.Sprintf("too many arguments: %s", strings.Join(args, " "))).
			WithSuggestion("Pass exactly one replica file.")
	case uninstall && len(args) > 0:
		return "", install.NewValidationError("--uninstall", "does not take a replica file").
			WithSuggestion("Run: replica-install --uninstall")
	case uninstall:
		return ModeUninstall, nil
	case resume:
		return ModeResume, nil
	case len(args) == 0:
		return "", install.NewValidationError("REPLICA_FILE", "replica file is required").
			WithSuggestion("Run: replica-install [flags] REPLICA_FILE")
	default:
		return ModeInstall, nil
	}
}

func (b *Binder) bindContext(k *koanf.Koanf, mode Mode, args []string) (*step.InstallContext, error) {
	ic := &step.InstallContext{
		Server:   strings.TrimSpace(k.String(KeyServer)),
		Password: k.String(KeyPassword),
		LogFile:  k.String(KeyLogFile),
		StateDir: k.String(KeyStateDir),
	}

	var err error
	for _, opt := range []struct {
		key string
		dst *bool
	}{
		{KeyUnattended, &ic.Unattended},
		{KeyVerbose, &ic.Verbose},
		{KeyRetrieveKey, &ic.RetrieveKey},
		{KeyNoHostDNS, &ic.NoHostDNS},
	} {
		if *opt.dst, err = boolValue(k, opt.key); err != nil {
			return nil, err
		}
	}

	if ic.StepTimeout, err = durationValue(k, KeyStepTimeout); err != nil {
		return nil, err
	}
	if ic.StepTimeout <= 0 {
		return nil, install.NewValidationError("--"+KeyStepTimeout, "must be positive").
			WithSuggestion("Use a duration such as 45m.")
	}
	if ic.StateDir == "" {
		return nil, install.NewValidationError("--"+KeyStateDir, "must not be empty")
	}
	if ic.Password != "" && ic.RetrieveKey {
		return nil, install.NewValidationError("--password", "cannot be combined with --retrieve-key")
	}

	if len(args) == 1 {
		ic.ReplicaFile = args[0]
		if ic.Replica, err = LoadDescriptor(args[0]); err != nil {
			return nil, err
		}
	}

	ic.Hostname = ic.Replica.Host
	if ic.Hostname == "" && b.hostname != nil {
		if h, err := b.hostname(); err == nil {
			ic.Hostname = h
		}
	}

	if mode != ModeUninstall && ic.Unattended && ic.Password == "" && !ic.RetrieveKey {
		return nil, install.NewValidationError("--password", "is required in unattended mode").
			WithSuggestion("Pass --password, set " + EnvPrefix + "PASSWORD, or use --retrieve-key.")
	}
	return ic, nil
}

// bindPassword prompts for the directory manager password when it is needed
// and interaction is allowed.
func (b *Binder) bindPassword(ic *step.InstallContext, mode Mode) error {
	if mode == ModeUninstall || ic.Password != "" || ic.RetrieveKey {
		return nil
	}
	if b.prompter == nil {
		return install.NewValidationError("--password", "is required").
			WithSuggestion("Pass --password or --retrieve-key.")
	}
	pw, err := b.prompter.Password("Directory Manager password")
	if err != nil {
		return install.NewValidationError("--password", "no password entered").WithUnderlying(err)
	}
	if pw == "" {
		return install.NewValidationError("--password", "must not be empty")
	}
	ic.Password = pw
	return nil
}

func boolValue(k *koanf.Koanf, key string) (bool, error) {
	switch v := k.Get(key).(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, install.NewValidationError(key, fmt.Sprintf("invalid boolean %q", v)).
				WithSuggestion("Use true or false.")
		}
		return b, nil
	default:
		return k.Bool(key), nil
	}
}

func durationValue(k *koanf.Koanf, key string) (time.Duration, error) {
	switch v := k.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	default:
		raw := strings.TrimSpace(fmt.Sprint(v))
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, install.NewValidationError(key, fmt.Sprintf("invalid duration %q", raw)).
				WithSuggestion("Use a duration such as 45m.").
				WithUnderlying(err)
		}
		return d, nil
	}
}
