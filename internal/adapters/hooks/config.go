// Package hooks implements the deployment collaborators by running
// operator-supplied executables, one configure and one teardown hook per
// service.
package hooks

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/felixgeelhaar/replica-install/internal/steps"
)

// Hook actions.
const (
	ActionConfigure = "configure"
	ActionTeardown  = "teardown"
)

// Sections lists the services hooks can be configured for, in step order.
var Sections = []string{
	steps.SectionDirectory,
	steps.SectionAuthService,
	steps.SectionCA,
	steps.SectionProxy,
}

// Spec is one hook command line.
type Spec struct {
	Path string
	Args []string
}

// IsZero reports whether no command is configured.
func (s Spec) IsZero() bool {
	return s.Path == ""
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// ParseSpec splits a whitespace separated command line.
func ParseSpec(line string) (Spec, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Spec{}, errors.New("empty hook command")
	}
	return Spec{Path: fields[0], Args: fields[1:]}, nil
}

// ServiceHooks are the hooks of one service.
type ServiceHooks struct {
	Configure Spec
	Teardown  Spec
}

// Config maps a service section to its hooks.
type Config map[string]ServiceHooks

// ParseConfig builds a Config from "<section>.<action>" entries, as found in
// the [hooks] section of the configuration file.
func ParseConfig(entries map[string]string) (Config, error) {
	cfg := make(Config)
	var errs []error

	for _, key := range slices.Sorted(maps.Keys(entries)) {
		section, act, ok := strings.Cut(key, ".")
		if !ok || !slices.Contains(Sections, section) {
			errs = append(errs, fmt.Errorf("unknown hook %q", key))
			continue
		}
		spec, err := ParseSpec(entries[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("hook %q: %w", key, err))
			continue
		}

		h := cfg[section]
		switch act {
		case ActionConfigure:
			h.Configure = spec
		case ActionTeardown:
			h.Teardown = spec
		default:
			errs = append(errs, fmt.Errorf("unknown hook action %q in %q", act, key))
			continue
		}
		cfg[section] = h
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Lookup returns the hook for section and action.
func (c Config) Lookup(section, action string) Spec {
	h := c[section]
	if action == ActionTeardown {
		return h.Teardown
	}
	return h.Configure
}

