package redis

import (
	"context"
	"fmt"
	"strconv"
)

// CheckStats counts the health checks recorded for a service.
type CheckStats struct {
	Total  int64 `json:"total"`
	Failed int64 `json:"failed"`
}

// IncrementChecks counts one health check for a service
func (s *Store) IncrementChecks(ctx context.Context, service string, healthy bool) error {
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, ChecksKey(service), "total", 1)
	if !healthy {
		pipe.HIncrBy(ctx, ChecksKey(service), "failed", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count health check: %w", err)
	}
	return nil
}

// GetCheckStats retrieves check counters for every service with a snapshot
func (s *Store) GetCheckStats(ctx context.Context) (map[string]CheckStats, error) {
	names, err := s.client.SMembers(ctx, AllHealthKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service names: %w", err)
	}

	stats := make(map[string]CheckStats, len(names))
	for _, name := range names {
		fields, err := s.client.HGetAll(ctx, ChecksKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get check stats for %s: %w", name, err)
		}
		total, _ := strconv.ParseInt(fields["total"], 10, 64)
		failed, _ := strconv.ParseInt(fields["failed"], 10, 64)
		stats[name] = CheckStats{Total: total, Failed: failed}
	}
	return stats, nil
}
