package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/felixgeelhaar/replica-install/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// plainDirectory implements Directory without Checker.
type plainDirectory struct{}

func (plainDirectory) ConfigureDirectory(context.Context, *step.InstallContext) error { return nil }
func (plainDirectory) TeardownDirectory(context.Context, *step.InstallContext) error  { return nil }

func services(m *mocks.Service) Services {
	return Services{Directory: m, AuthService: m, CA: m, Proxy: m}
}

func TestCatalog_Order(t *testing.T) {
	t.Parallel()

	list, err := Catalog(services(&mocks.Service{}))
	require.NoError(t, err)
	require.NoError(t, step.Validate(list))

	assert.Equal(t, []string{NameDirectory, NameAuthService, NameCA, NameProxy}, step.Names(step.Sort(list)))

	phases := make([]int, len(list))
	for i, s := range list {
		phases[i] = s.Phase()
	}
	assert.Equal(t, []int{PhaseDirectory, PhaseAuthService, PhaseCA, PhaseProxy}, phases)

	assert.True(t, list[0].Resumable())
	assert.False(t, list[1].Resumable(), "auth service must not be repeated blindly")
	assert.True(t, list[2].Resumable())
	assert.True(t, list[3].Resumable())
}

func TestCatalog_MissingService(t *testing.T) {
	t.Parallel()

	m := &mocks.Service{}
	tests := []struct {
		name string
		svc  Services
		want string
	}{
		{"directory", Services{AuthService: m, CA: m, Proxy: m}, "directory"},
		{"auth", Services{Directory: m, CA: m, Proxy: m}, "auth service"},
		{"ca", Services{Directory: m, AuthService: m, Proxy: m}, "certificate authority"},
		{"proxy", Services{Directory: m, AuthService: m, CA: m}, "proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Catalog(tt.svc)
			require.ErrorIs(t, err, ErrMissingService)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServiceStep_ExecuteDelegates(t *testing.T) {
	t.Parallel()

	m := &mocks.Service{}
	ic := &step.InstallContext{}
	m.On("ConfigureDirectory", mock.Anything, ic).Return(nil).Once()
	m.On("ConfigureAuthService", mock.Anything, ic).Return(nil).Once()
	m.On("ConfigureCA", mock.Anything, ic).Return(errors.New("pki spawn failed")).Once()

	list, err := Catalog(services(m))
	require.NoError(t, err)
	ctx := context.Background()

	out := list[0].Execute(ctx, ic)
	assert.True(t, out.OK())
	assert.Equal(t, "directory configured", out.Message())

	assert.True(t, list[1].Execute(ctx, ic).OK())

	out = list[2].Execute(ctx, ic)
	assert.False(t, out.OK())
	assert.Equal(t, "configure ca", out.Message())
	assert.EqualError(t, out.Err(), "configure ca: pki spawn failed")

	m.AssertExpectations(t)
	m.AssertNotCalled(t, "ConfigureProxy", mock.Anything, mock.Anything)
}

func TestServiceStep_UndoClearsMarkers(t *testing.T) {
	t.Parallel()

	m := &mocks.Service{}
	ic := &step.InstallContext{}
	ic.SetMarker(SectionCA, "port", "8443")
	ic.SetMarker(SectionProxy, "vhost", "ipa2.example.test")

	m.On("TeardownCA", mock.Anything, ic).Return(nil).Once()
	m.On("TeardownProxy", mock.Anything, ic).Return(errors.New("httpd busy")).Once()

	list, err := Catalog(services(m))
	require.NoError(t, err)
	ctx := context.Background()

	out := list[2].Undo(ctx, ic)
	assert.True(t, out.OK())
	assert.Equal(t, "ca removed", out.Message())
	_, ok := ic.Marker(SectionCA, "port")
	assert.False(t, ok)

	out = list[3].Undo(ctx, ic)
	assert.False(t, out.OK())
	assert.Contains(t, out.Err().Error(), "httpd busy")
	_, ok = ic.Marker(SectionProxy, "vhost")
	assert.True(t, ok, "markers survive a failed teardown")

	m.AssertExpectations(t)
}

func TestServiceStep_Precheck(t *testing.T) {
	t.Parallel()

	m := &mocks.Service{}
	ic := &step.InstallContext{}
	m.On("Check", mock.Anything, ic).Return(errors.New("hook missing")).Once()

	list, err := Catalog(Services{Directory: plainDirectory{}, AuthService: m, CA: m, Proxy: m})
	require.NoError(t, err)

	pc, ok := list[0].(step.Prechecker)
	require.True(t, ok)
	require.NoError(t, pc.Precheck(context.Background(), ic), "collaborators without Check pass")

	pc = list[1].(step.Prechecker)
	require.EqualError(t, pc.Precheck(context.Background(), ic), "hook missing")

	m.AssertExpectations(t)
}
