package scheduler

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	redisstore "github.com/MrSnakeDoc/noteparser/internal/store/redis"
)

type memSnapshots struct {
	snaps     map[string]redisstore.Snapshot
	failOn    string
	allErr    error
	deleteLog []string
}

func (m *memSnapshots) AllSnapshots(context.Context) ([]redisstore.Snapshot, error) {
	if m.allErr != nil {
		return nil, m.allErr
	}
	out := make([]redisstore.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

func (m *memSnapshots) DeleteSnapshot(_ context.Context, name string) error {
	if name == m.failOn {
		return errors.New("redis down")
	}
	m.deleteLog = append(m.deleteLog, name)
	delete(m.snaps, name)
	return nil
}

type staticRegistry map[string]bool

func (r staticRegistry) Has(name string) bool { return r[name] }

func TestSnapshotCollector_Collect(t *testing.T) {
	now := time.Now()
	store := &memSnapshots{snaps: map[string]redisstore.Snapshot{
		// registered, kept
		"ragflow": {Service: "ragflow", CheckedAt: now.Add(-30 * 24 * time.Hour)},
		// recent, kept
		"dolphin": {Service: "dolphin", CheckedAt: now.Add(-2 * 24 * time.Hour)},
		// stale, removed
		"langextract": {Service: "langextract", CheckedAt: now.Add(-10 * 24 * time.Hour)},
		// never checked, kept
		"unknown": {Service: "unknown"},
	}}
	reg := staticRegistry{"ragflow": true}

	sc := NewSnapshotCollector(store, reg, nil, time.Hour, 7*24*time.Hour)

	deleted, err := sc.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", deleted)
	}
	if len(store.deleteLog) != 1 || store.deleteLog[0] != "langextract" {
		t.Errorf("unexpected deletions: %v", store.deleteLog)
	}
	for _, name := range []string{"ragflow", "dolphin", "unknown"} {
		if _, ok := store.snaps[name]; !ok {
			t.Errorf("%s was incorrectly removed", name)
		}
	}
}

func TestSnapshotCollector_DeleteFailureIsSkipped(t *testing.T) {
	old := time.Now().Add(-30 * 24 * time.Hour)
	store := &memSnapshots{
		snaps: map[string]redisstore.Snapshot{
			"a": {Service: "a", CheckedAt: old},
			"b": {Service: "b", CheckedAt: old},
		},
		failOn: "a",
	}

	sc := NewSnapshotCollector(store, staticRegistry{}, nil, time.Hour, 0)

	deleted, err := sc.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", deleted)
	}
	if _, ok := store.snaps["a"]; !ok {
		t.Error("snapshot a should survive a failed delete")
	}
}

func TestSnapshotCollector_StoreError(t *testing.T) {
	store := &memSnapshots{allErr: errors.New("boom")}
	sc := NewSnapshotCollector(store, staticRegistry{}, nil, time.Hour, 0)

	if _, err := sc.Collect(context.Background()); err == nil {
		t.Fatal("expected error from store")
	}
}

func TestSnapshotCollector_DefaultThreshold(t *testing.T) {
	sc := NewSnapshotCollector(&memSnapshots{}, staticRegistry{}, nil, time.Hour, 0)
	if sc.threshold != DefaultSnapshotThreshold {
		t.Errorf("Expected default threshold %v, got %v", DefaultSnapshotThreshold, sc.threshold)
	}
}
