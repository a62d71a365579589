package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestSaveAndGetSnapshot(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Service: "ragflow", Healthy: true, CheckedAt: at}))

	got, err := store.GetSnapshot(ctx, "ragflow")
	require.NoError(t, err)
	assert.True(t, got.Healthy)
	assert.True(t, at.Equal(got.CheckedAt))

	assert.Equal(t, time.Hour, mr.TTL(HealthKey("ragflow")))
	ok, err := mr.SIsMember(AllHealthKey(), "ragflow")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	store, _ := newTestStore(t, 0)
	_, err := store.GetSnapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestAllSnapshots_DropsExpired(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Service: "deepwiki", Healthy: false}))
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Service: "ragflow", Healthy: true}))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Service: "ragflow", Healthy: true}))

	snaps, err := store.AllSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "ragflow", snaps[0].Service)

	members, err := mr.Members(AllHealthKey())
	require.NoError(t, err)
	assert.Equal(t, []string{"ragflow"}, members)
}

func TestAllSnapshots_Empty(t *testing.T) {
	store, _ := newTestStore(t, 0)
	snaps, err := store.AllSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestObserverRecordsChecks(t *testing.T) {
	store, _ := newTestStore(t, 0)
	observe := store.Observer(time.Second, nil)

	observe("ragflow", true, time.Now())
	observe("ragflow", false, time.Now())
	observe("deepwiki", true, time.Now())

	snap, err := store.GetSnapshot(context.Background(), "ragflow")
	require.NoError(t, err)
	assert.False(t, snap.Healthy, "last check wins")

	stats, err := store.GetCheckStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CheckStats{Total: 2, Failed: 1}, stats["ragflow"])
	assert.Equal(t, CheckStats{Total: 1}, stats["deepwiki"])
}

func TestObserver_RedisDownIsSwallowed(t *testing.T) {
	store, mr := newTestStore(t, 0)
	mr.Close()

	observe := store.Observer(100*time.Millisecond, nil)
	assert.NotPanics(t, func() { observe("ragflow", true, time.Now()) })
}

func TestDeleteSnapshot(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Service: "ragflow"}))
	require.NoError(t, store.IncrementChecks(ctx, "ragflow", true))

	require.NoError(t, store.DeleteSnapshot(ctx, "ragflow"))
	assert.False(t, mr.Exists(HealthKey("ragflow")))
	assert.False(t, mr.Exists(ChecksKey("ragflow")))
}

func TestExtractServiceName(t *testing.T) {
	name, err := ExtractServiceName(HealthKey("deepwiki"))
	require.NoError(t, err)
	assert.Equal(t, "deepwiki", name)

	for _, bad := range []string{"", KeyPrefixHealth, AllHealthKey(), "other:health:x"} {
		_, err := ExtractServiceName(bad)
		assert.Error(t, err, bad)
	}
}
