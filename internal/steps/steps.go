// Package steps declares the replica deployment: the four collaborator
// services and the ordered step list that configures them.
package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
)

// Step names.
const (
	NameDirectory   = "configure-directory"
	NameAuthService = "configure-auth-service"
	NameCA          = "configure-ca"
	NameProxy       = "configure-proxy"
)

// Step phases.
const (
	PhaseDirectory   = 10
	PhaseAuthService = 20
	PhaseCA          = 30
	PhaseProxy       = 40
)

// Marker sections, one per service.
const (
	SectionDirectory   = "directory"
	SectionAuthService = "auth-service"
	SectionCA          = "ca"
	SectionProxy       = "proxy"
)

// Directory configures the directory service instance.
type Directory interface {
	ConfigureDirectory(ctx context.Context, ic *step.InstallContext) error
	TeardownDirectory(ctx context.Context, ic *step.InstallContext) error
}

// AuthService configures the Kerberos-style authentication service.
type AuthService interface {
	ConfigureAuthService(ctx context.Context, ic *step.InstallContext) error
	TeardownAuthService(ctx context.Context, ic *step.InstallContext) error
}

// CertificateAuthority configures the certificate authority clone.
type CertificateAuthority interface {
	ConfigureCA(ctx context.Context, ic *step.InstallContext) error
	TeardownCA(ctx context.Context, ic *step.InstallContext) error
}

// Proxy configures the reverse proxy and web front end.
type Proxy interface {
	ConfigureProxy(ctx context.Context, ic *step.InstallContext) error
	TeardownProxy(ctx context.Context, ic *step.InstallContext) error
}

// Checker is optionally implemented by a collaborator that can verify its
// prerequisites before anything is changed.
type Checker interface {
	Check(ctx context.Context, ic *step.InstallContext) error
}

// Services bundles the collaborators of one deployment.
type Services struct {
	Directory   Directory
	AuthService AuthService
	CA          CertificateAuthority
	Proxy       Proxy
}

// ErrMissingService is returned by Catalog when a collaborator is nil.
var ErrMissingService = errors.New("service not configured")

// Catalog returns the deployment steps in declaration order.
func Catalog(svc Services) ([]step.Step, error) {
	switch {
	case svc.Directory == nil:
		return nil, fmt.Errorf("%w: directory", ErrMissingService)
	case svc.AuthService == nil:
		return nil, fmt.Errorf("%w: auth service", ErrMissingService)
	case svc.CA == nil:
		return nil, fmt.Errorf("%w: certificate authority", ErrMissingService)
	case svc.Proxy == nil:
		return nil, fmt.Errorf("%w: proxy", ErrMissingService)
	}

	return []step.Step{
		&serviceStep{
			name:      NameDirectory,
			phase:     PhaseDirectory,
			section:   SectionDirectory,
			resumable: true,
			configure: svc.Directory.ConfigureDirectory,
			teardown:  svc.Directory.TeardownDirectory,
			checker:   checkerOf(svc.Directory),
		},
		// Realm creation cannot be repeated over a half-initialized KDC.
		&serviceStep{
			name:      NameAuthService,
			phase:     PhaseAuthService,
			section:   SectionAuthService,
			configure: svc.AuthService.ConfigureAuthService,
			teardown:  svc.AuthService.TeardownAuthService,
			checker:   checkerOf(svc.AuthService),
		},
		&serviceStep{
			name:      NameCA,
			phase:     PhaseCA,
			section:   SectionCA,
			resumable: true,
			configure: svc.CA.ConfigureCA,
			teardown:  svc.CA.TeardownCA,
			checker:   checkerOf(svc.CA),
		},
		&serviceStep{
			name:      NameProxy,
			phase:     PhaseProxy,
			section:   SectionProxy,
			resumable: true,
			configure: svc.Proxy.ConfigureProxy,
			teardown:  svc.Proxy.TeardownProxy,
			checker:   checkerOf(svc.Proxy),
		},
	}, nil
}

func checkerOf(v any) Checker {
	c, _ := v.(Checker)
	return c
}

type action func(ctx context.Context, ic *step.InstallContext) error

// serviceStep adapts a collaborator's configure/teardown pair to step.Step.
type serviceStep struct {
	name      string
	phase     int
	section   string
	resumable bool
	configure action
	teardown  action
	checker   Checker
}

func (s *serviceStep) Name() string    { return s.name }
func (s *serviceStep) Phase() int      { return s.phase }
func (s *serviceStep) Resumable() bool { return s.resumable }

// Precheck delegates to the collaborator when it implements Checker.
func (s *serviceStep) Precheck(ctx context.Context, ic *step.InstallContext) error {
	if s.checker == nil {
		return nil
	}
	return s.checker.Check(ctx, ic)
}

func (s *serviceStep) Execute(ctx context.Context, ic *step.InstallContext) step.Outcome {
	if err := s.configure(ctx, ic); err != nil {
		return step.Failure("configure "+s.section, err)
	}
	return step.Success(s.section + " configured")
}

// Undo tears the service down and forgets its markers.
func (s *serviceStep) Undo(ctx context.Context, ic *step.InstallContext) step.Outcome {
	if err := s.teardown(ctx, ic); err != nil {
		return step.Failure("tear down "+s.section, err)
	}
	ic.ClearMarkers(s.section)
	return step.Success(s.section + " removed")
}

var (
	_ step.Step       = (*serviceStep)(nil)
	_ step.Prechecker = (*serviceStep)(nil)
)
