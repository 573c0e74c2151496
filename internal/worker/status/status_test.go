package status_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/warden/internal/worker/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupClient(t *testing.T) (*miniredis.Miniredis, rueidis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return mr, client
}

func TestReporterPublishesStatus(t *testing.T) {
	t.Parallel()

	mr, client := setupClient(t)
	logger := zaptest.NewLogger(t)

	scheduler := status.NewReporter(client, "scheduler", "a", logger)
	reconciler := status.NewReporter(client, "reconciler", "b", logger)

	reconciler.UpdateStatus("Checking active cases", 40)
	reconciler.SetHealthy(false)

	scheduler.Start(t.Context())
	reconciler.Start(t.Context())

	statuses, err := status.NewMonitor(client, logger).GetAllStatuses(t.Context())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, "reconciler", statuses[0].ComponentType)
	assert.Equal(t, "Checking active cases", statuses[0].CurrentTask)
	assert.Equal(t, 40, statuses[0].Progress)
	assert.False(t, statuses[0].IsHealthy)
	assert.Equal(t, "scheduler", statuses[1].ComponentType)
	assert.True(t, statuses[1].IsHealthy)
	assert.False(t, statuses[1].IsStale(time.Now()))

	ttl := mr.TTL("warden:component:scheduler:a")
	assert.Equal(t, status.HeartbeatTTL, ttl)

	scheduler.Stop(t.Context())
	scheduler.Stop(t.Context())
	reconciler.Stop(t.Context())

	assert.False(t, mr.Exists("warden:component:scheduler:a"))

	statuses, err = status.NewMonitor(client, logger).GetAllStatuses(t.Context())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestStatusIsStale(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.True(t, status.Status{LastSeen: now.Add(-2 * time.Minute)}.IsStale(now))
	assert.False(t, status.Status{LastSeen: now.Add(-30 * time.Second)}.IsStale(now))
}
