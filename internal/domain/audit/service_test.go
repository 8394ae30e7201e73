package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RecordsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	journal := NewMemoryJournal()
	fixed := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	svc := NewService(journal, "run-7", "install", "ipa2.example.test").WithClock(func() time.Time { return fixed })

	boom := errors.New("certmonger timeout")
	require.NoError(t, svc.RunStarted(ctx, 4))
	require.NoError(t, svc.StepStarted(ctx, "configure-directory", 10))
	require.NoError(t, svc.StepDone(ctx, "configure-directory", 10, 2*time.Second, "instance created"))
	require.NoError(t, svc.StepFailed(ctx, "configure-ca", 30, time.Second, boom))
	require.NoError(t, svc.StepRolledBack(ctx, "configure-directory", 10, time.Second, ""))
	require.NoError(t, svc.RollbackFailed(ctx, "configure-auth-service", 20, time.Second, boom))
	require.NoError(t, svc.PrecheckFailed(ctx, "configure-proxy", 40, boom))
	require.NoError(t, svc.RunFinished(ctx, 5*time.Second, boom))

	events := journal.Events()
	require.Len(t, events, 8)
	for _, e := range events {
		assert.Equal(t, "run-7", e.RunID)
		assert.Equal(t, "install", e.Operation)
		assert.Equal(t, "ipa2.example.test", e.Host)
		assert.Equal(t, fixed, e.Timestamp)
	}
	assert.Equal(t, "4", events[0].Details["steps"])
	assert.Equal(t, 2*time.Second, events[2].Duration)
	assert.Equal(t, "instance created", events[2].Message)
	assert.Equal(t, "certmonger timeout", events[3].Error)
	assert.Equal(t, SeverityWarning, events[5].Severity)
	assert.False(t, events[7].Success)

	got, err := journal.Query(ctx, QueryFilter{EventTypes: []EventType{EventStepDone}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestService_NilJournal(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, "r", "install", "")
	assert.NoError(t, svc.RunStarted(context.Background(), 1))
}
