package redis

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/service"
)

// Observer mirrors every completed health check into the store. Redis
// failures are logged and never reach the health loop.
func (s *Store) Observer(timeout time.Duration, log logger.Logger) service.HealthObserver {
	if log == nil {
		log = logger.NewNop()
	}
	return func(name string, healthy bool, at time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.SaveSnapshot(ctx, Snapshot{Service: name, Healthy: healthy, CheckedAt: at}); err != nil {
			log.Warn("failed to store health snapshot", logger.String("service", name), logger.Error(err))
			return
		}
		if err := s.IncrementChecks(ctx, name, healthy); err != nil {
			log.Warn("failed to count health check", logger.String("service", name), logger.Error(err))
		}
	}
}
