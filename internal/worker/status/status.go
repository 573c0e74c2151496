// Package status publishes heartbeats of the long running components, such
// as the expiry scheduler and the reconciler, to Redis.
package status

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HeartbeatInterval is how often components report their status.
	HeartbeatInterval = 10 * time.Second

	// HeartbeatTTL is how long a component's status remains stored.
	HeartbeatTTL = 10 * time.Minute

	// StaleThreshold is how long before a component is considered offline.
	StaleThreshold = time.Minute

	keyPrefix = "warden:component:"
	scanBatch = 100
)

// Status represents a component's current state.
type Status struct {
	ComponentID   string    `json:"componentId"`
	ComponentType string    `json:"componentType"`
	LastSeen      time.Time `json:"lastSeen"`
	CurrentTask   string    `json:"currentTask,omitempty"`
	Progress      int       `json:"progress"`
	IsHealthy     bool      `json:"isHealthy"`
}

// IsStale reports whether the component missed its heartbeats.
func (s Status) IsStale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor stores and queries component statuses.
type Monitor struct {
	client rueidis.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewMonitor creates a new component status monitor.
func NewMonitor(client rueidis.Client, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		now:    time.Now,
		logger: logger,
	}
}

// ReportStatus stamps and stores a component's status with a TTL.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	status.LastSeen = m.now()

	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := keyPrefix + status.ComponentType + ":" + status.ComponentID

	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(string(data)).Ex(HeartbeatTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// Remove deletes a component's status, e.g. on clean shutdown.
func (m *Monitor) Remove(ctx context.Context, componentType, componentID string) error {
	key := keyPrefix + componentType + ":" + componentID
	if err := m.client.Do(ctx, m.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to remove status: %w", err)
	}

	return nil
}

// GetAllStatuses retrieves every stored status ordered by type and id.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	var (
		keys   []string
		cursor uint64
	)

	for {
		entry, err := m.client.Do(ctx, m.client.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(scanBatch).Build()).
			AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan component keys: %w", err)
		}

		keys = append(keys, entry.Elements...)

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := m.client.Do(ctx, m.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to get component statuses: %w", err)
	}

	statuses := make([]Status, 0, len(values))

	for i, value := range values {
		data, err := value.AsBytes()
		if err != nil {
			// Expired between SCAN and MGET.
			continue
		}

		var status Status
		if err := sonic.Unmarshal(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal component status", zap.String("key", keys[i]), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	slices.SortFunc(statuses, func(a, b Status) int {
		if n := cmp.Compare(a.ComponentType, b.ComponentType); n != 0 {
			return n
		}

		return cmp.Compare(a.ComponentID, b.ComponentID)
	})

	return statuses, nil
}
