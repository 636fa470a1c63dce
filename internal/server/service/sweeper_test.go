package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datashare/internal/server/database"
)

// age backdates a blob's modification time.
func (env *testEnv) age(t *testing.T, key string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(env.blobPath(key), old, old))
}

func TestSweeper_PurgesExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Upload one file "ten days ago" and one now.
	clock := env.engine.now
	env.engine.now = func() time.Time { return clock().Add(-10 * 24 * time.Hour) }
	old, err := env.engine.Upload(ctx, newRequest(alice, "old"))
	require.NoError(t, err)
	env.engine.now = clock
	live, err := env.engine.Upload(ctx, newRequest(alice, "live"))
	require.NoError(t, err)

	res := NewSweeper(env.engine, time.Hour, time.Hour).RunOnce(ctx)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Purged)
	assert.Zero(t, res.Failed)

	_, err = env.engine.GetInfo(ctx, old.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(env.blobPath(old.StorageKey))
	assert.True(t, os.IsNotExist(err))

	_, err = env.engine.GetInfo(ctx, live.Token)
	assert.NoError(t, err)

	// A second sweep has nothing left to do.
	res = NewSweeper(env.engine, time.Hour, time.Hour).RunOnce(ctx)
	assert.Zero(t, res.Expired)
}

func TestSweeper_ContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clock := env.engine.now
	env.engine.now = func() time.Time { return clock().Add(-10 * 24 * time.Hour) }
	var recs []*database.FileRecord
	for i := 0; i < 3; i++ {
		rec, err := env.engine.Upload(ctx, newRequest(alice, "old"))
		require.NoError(t, err)
		recs = append(recs, rec)
	}

	poisoned := recs[1].ID
	engine := env.newEngine(&fakeRegistry{
		FileRegistry: env.repo,
		delete: func(ctx context.Context, id int64) error {
			if id == poisoned {
				return errors.New("lock timeout")
			}
			return env.repo.Delete(ctx, id)
		},
	}, nil)

	res := NewSweeper(engine, time.Hour, time.Hour).RunOnce(ctx)
	assert.Equal(t, 3, res.Expired)
	assert.Equal(t, 2, res.Purged)
	assert.Equal(t, 1, res.Failed)

	_, err := env.repo.GetByID(ctx, poisoned)
	assert.NoError(t, err, "failed record stays for the next sweep")
}

func TestSweeper_ReclaimsOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.engine.Upload(ctx, newRequest(alice, "referenced"))
	require.NoError(t, err)
	env.age(t, rec.StorageKey, 2*time.Hour)

	oldOrphan, _, err := env.store.Put(ctx, strings.NewReader("orphan"))
	require.NoError(t, err)
	env.age(t, oldOrphan, 2*time.Hour)

	freshOrphan, _, err := env.store.Put(ctx, strings.NewReader("in flight"))
	require.NoError(t, err)

	res := NewSweeper(env.engine, time.Hour, time.Hour).RunOnce(ctx)
	assert.Equal(t, 1, res.OrphansReclaimed)

	_, err = os.Stat(env.blobPath(oldOrphan))
	assert.True(t, os.IsNotExist(err), "old orphan should be reclaimed")
	_, err = os.Stat(env.blobPath(freshOrphan))
	assert.NoError(t, err, "blobs inside the grace period are kept")
	_, err = os.Stat(env.blobPath(rec.StorageKey))
	assert.NoError(t, err, "referenced blobs are kept")
}

func TestSweeper_NonPositiveGraceKeepsBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// An upload that has stored its blob but not registered it yet.
	pending, _, err := env.store.Put(ctx, strings.NewReader("in flight"))
	require.NoError(t, err)

	for _, grace := range []time.Duration{0, -time.Hour} {
		res := NewSweeper(env.engine, time.Hour, grace).RunOnce(ctx)
		assert.Zero(t, res.OrphansReclaimed)
	}

	_, err = os.Stat(env.blobPath(pending))
	assert.NoError(t, err, "unregistered blob should survive")
}

func TestSweeper_StartAndWait(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(env.engine, time.Hour, time.Hour)
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_StartTwice(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(env.engine, time.Hour, time.Hour)
	s.Start(ctx)
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
