package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/logger"
	redisstore "github.com/MrSnakeDoc/noteparser/internal/store/redis"
)

const (
	// DefaultSnapshotThreshold is the age after which snapshots of services
	// that are no longer registered are deleted
	DefaultSnapshotThreshold = 7 * 24 * time.Hour // 7 days
)

// SnapshotStore is the part of the health store the collector needs.
type SnapshotStore interface {
	AllSnapshots(ctx context.Context) ([]redisstore.Snapshot, error)
	DeleteSnapshot(ctx context.Context, service string) error
}

// Registry reports which services are currently registered.
type Registry interface {
	Has(name string) bool
}

// SnapshotCollector handles cleanup of health snapshots left by services
// that were removed from the configuration
type SnapshotCollector struct {
	store     SnapshotStore
	registry  Registry
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	stopCh    chan struct{}
}

// NewSnapshotCollector creates a new snapshot collector
func NewSnapshotCollector(
	store SnapshotStore,
	registry Registry,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *SnapshotCollector {
	if threshold == 0 {
		threshold = DefaultSnapshotThreshold
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &SnapshotCollector{
		store:     store,
		registry:  registry,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic collection
func (sc *SnapshotCollector) Start(ctx context.Context) {
	if _, err := sc.Collect(ctx); err != nil {
		sc.logger.Warn("initial snapshot collection failed", logger.Error(err))
	}

	ticker := time.NewTicker(sc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := sc.Collect(ctx); err != nil {
					sc.logger.Error("snapshot collection failed", logger.Error(err))
				}
			case <-sc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector
func (sc *SnapshotCollector) Stop() {
	close(sc.stopCh)
}

// Collect deletes snapshots of unregistered services older than the threshold
// and returns how many were removed.
func (sc *SnapshotCollector) Collect(ctx context.Context) (int, error) {
	snaps, err := sc.store.AllSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0
	for _, snap := range snaps {
		if sc.registry.Has(snap.Service) {
			continue
		}
		if snap.CheckedAt.IsZero() {
			continue
		}
		age := now.Sub(snap.CheckedAt)
		if age < sc.threshold {
			continue
		}

		// best effort
		if err := sc.store.DeleteSnapshot(ctx, snap.Service); err != nil {
			sc.logger.Warn("failed to delete stale snapshot",
				logger.String("service", snap.Service),
				logger.Error(err))
			continue
		}

		sc.logger.Info("garbage collected stale snapshot",
			logger.String("service", snap.Service),
			logger.String("age", age.String()))
		deleted++
	}

	if deleted == 0 {
		sc.logger.Debug("no snapshots to garbage collect")
	}
	return deleted, nil
}
