package service

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/metrics"
)

// monitor waits one interval, checks health, records the result and repeats
// until ctx is cancelled. A failing check never ends the loop.
func (m *Managed) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	interval := m.cfg.HealthCheckInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		healthy, err := m.check(ctx)

		// a check interrupted by Stop leaves no trace
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			metrics.HealthChecks.WithLabelValues(m.cfg.Name, "error").Inc()
			m.log.Error("error in health check loop", logger.Error(err))
		} else {
			m.record(healthy, time.Now())
		}

		timer.Reset(interval)
	}
}

// record stores a completed check and moves Running <-> Degraded.
func (m *Managed) record(healthy bool, at time.Time) {
	m.checks.Add(1)
	if !healthy {
		m.failedChecks.Add(1)
	}
	was := m.healthy.Swap(healthy)
	m.lastCheck.Store(at.UnixNano())

	m.mu.Lock()
	switch {
	case healthy && m.state == StateDegraded:
		m.state = StateRunning
	case !healthy && m.state == StateRunning:
		m.state = StateDegraded
	}
	m.mu.Unlock()

	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	metrics.HealthChecks.WithLabelValues(m.cfg.Name, result).Inc()
	metrics.ServiceHealthy.WithLabelValues(m.cfg.Name).Set(metrics.BoolGauge(healthy))

	if was != healthy {
		m.log.Info("service health changed", logger.Bool("healthy", healthy))
	} else {
		m.log.Debug("health check completed", logger.Bool("healthy", healthy))
	}

	for _, observe := range m.observers {
		observe(m.cfg.Name, healthy, at)
	}
}
