package status

import (
	"context"
	"sync"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Reporter sends a component's status on every heartbeat.
type Reporter struct {
	monitor  *Monitor
	status   Status
	interval time.Duration
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewReporter creates a reporter for one component instance.
func NewReporter(client rueidis.Client, componentType, componentID string, logger *zap.Logger) *Reporter {
	return &Reporter{
		monitor: NewMonitor(client, logger),
		status: Status{
			ComponentID:   componentID,
			ComponentType: componentType,
			CurrentTask:   "Starting",
			IsHealthy:     true,
		},
		interval: HeartbeatInterval,
		stopChan: make(chan struct{}),
		logger:   logger.Named("status_reporter"),
	}
}

// Start reports immediately and then on every heartbeat until ctx is done
// or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.report(ctx)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.report(ctx)
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop ends reporting and removes the stored status.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}

	close(r.stopChan)
	r.stopped = true
	r.mu.Unlock()

	if err := r.monitor.Remove(ctx, r.status.ComponentType, r.status.ComponentID); err != nil {
		r.logger.Warn("Failed to remove status", zap.Error(err))
	}
}

// UpdateStatus updates the current task and its progress in percent.
func (r *Reporter) UpdateStatus(task string, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.CurrentTask = task
	r.status.Progress = progress
}

// SetHealthy updates the health status.
func (r *Reporter) SetHealthy(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.IsHealthy = healthy
}

// Snapshot returns the status that will be sent next.
func (r *Reporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

func (r *Reporter) report(ctx context.Context) {
	if err := r.monitor.ReportStatus(ctx, r.Snapshot()); err != nil {
		r.logger.Error("Failed to report status", zap.Error(err))
	}
}
