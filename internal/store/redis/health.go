package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHealthTTL is the default lifetime of a health snapshot (24 hours)
const DefaultHealthTTL = 24 * time.Hour

// ErrSnapshotNotFound is returned when a service has no stored snapshot.
var ErrSnapshotNotFound = errors.New("health snapshot not found")

// Snapshot is the last known health of a service.
type Snapshot struct {
	Service   string    `json:"service"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
}

// Store keeps health snapshots in Redis
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis store. ttl <= 0 uses DefaultHealthTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// SaveSnapshot stores the snapshot of one service
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, HealthKey(snap.Service), data, s.ttl)
	pipe.SAdd(ctx, AllHealthKey(), snap.Service)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot of a service
func (s *Store) GetSnapshot(ctx context.Context, service string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, HealthKey(service)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, service)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// AllSnapshots retrieves every stored snapshot, sorted by service name.
// Expired entries are dropped from the index set.
func (s *Store) AllSnapshots(ctx context.Context) ([]Snapshot, error) {
	names, err := s.client.SMembers(ctx, AllHealthKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service names: %w", err)
	}
	if len(names) == 0 {
		return []Snapshot{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.Get(ctx, HealthKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}

	snaps := make([]Snapshot, 0, len(names))
	var expired []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// TTL elapsed since the last check
			expired = append(expired, names[i])
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	if len(expired) > 0 {
		_ = s.client.SRem(ctx, AllHealthKey(), expired...).Err()
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Service < snaps[j].Service })
	return snaps, nil
}

// DeleteSnapshot removes the snapshot and counters of a service
func (s *Store) DeleteSnapshot(ctx context.Context, service string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, HealthKey(service), ChecksKey(service))
	pipe.SRem(ctx, AllHealthKey(), service)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
