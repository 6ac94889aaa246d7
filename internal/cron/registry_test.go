package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	return registry
}

func TestRegistryKeepsRunOrder(t *testing.T) {
	notices := &stubJob{name: GraceNotificationJobName}
	expiry := &stubJob{name: GraceExpirationJobName}
	registry := mustRegistry(t, notices, nil, expiry)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	require.Same(t, notices, jobs[0])
	require.Same(t, expiry, jobs[1])

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0], "Jobs must return a copy")
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: NotificationRetentionJobName}, &stubJob{name: NotificationRetentionJobName})
	require.ErrorContains(t, err, "already registered")

	registry := mustRegistry(t)
	require.Error(t, registry.Register(&stubJob{}))
	require.Error(t, registry.Register(nil))
	require.Empty(t, registry.Jobs())
}
