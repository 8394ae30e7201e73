package mocks

import (
	"context"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/stretchr/testify/mock"
)

// Service is a testify mock implementing every collaborator interface of
// the deployment, plus the optional precheck. Expectations are keyed by
// method name, e.g. m.On("ConfigureCA", mock.Anything, mock.Anything).
type Service struct {
	mock.Mock
}

// Check implements steps.Checker.
func (m *Service) Check(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// ConfigureDirectory implements steps.Directory.
func (m *Service) ConfigureDirectory(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// TeardownDirectory implements steps.Directory.
func (m *Service) TeardownDirectory(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// ConfigureAuthService implements steps.AuthService.
func (m *Service) ConfigureAuthService(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// TeardownAuthService implements steps.AuthService.
func (m *Service) TeardownAuthService(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// ConfigureCA implements steps.CertificateAuthority.
func (m *Service) ConfigureCA(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// TeardownCA implements steps.CertificateAuthority.
func (m *Service) TeardownCA(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// ConfigureProxy implements steps.Proxy.
func (m *Service) ConfigureProxy(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}

// TeardownProxy implements steps.Proxy.
func (m *Service) TeardownProxy(ctx context.Context, ic *step.InstallContext) error {
	return m.Called(ctx, ic).Error(0)
}
