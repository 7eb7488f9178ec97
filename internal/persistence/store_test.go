package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsched/chainsched/internal/scheduler"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	task := &scheduler.Task{
		ID:            "bridge-1",
		Protocol:      "stargate",
		Action:        "bridge",
		Params:        map[string]any{"amount": "100", "chain": "arbitrum"},
		Priority:      7,
		DependsOn:     []string{"approve-1", "approve-2"},
		GateSensitive: true,
		Status:        scheduler.StatusQueued,
		Attempts:      1,
		MaxAttempts:   3,
		LastError:     "rpc timeout",
		Seq:           42,
		CreatedAt:     now,
		QueuedAt:      now,
	}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "bridge-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Protocol, got.Protocol)
	assert.Equal(t, task.Action, got.Action)
	assert.Equal(t, task.Priority, got.Priority)
	assert.Equal(t, task.GateSensitive, got.GateSensitive)
	assert.Equal(t, task.Status, got.Status)
	assert.Equal(t, task.Attempts, got.Attempts)
	assert.Equal(t, task.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, task.LastError, got.LastError)
	assert.Equal(t, task.Seq, got.Seq)
	assert.Equal(t, "100", got.Params["amount"])
	assert.ElementsMatch(t, task.DependsOn, got.DependsOn)
}

func TestSaveTaskUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{
		ID: "t1", Protocol: "uniswap", Action: "swap",
		Status: scheduler.StatusQueued, MaxAttempts: 3, Seq: 1,
	}
	require.NoError(t, store.SaveTask(ctx, task))

	task.Status = scheduler.StatusSucceeded
	task.Attempts = 2
	task.Output = "0xabc"
	task.FinishedAt = time.Now()
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "0xabc", got.Output)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestGetTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, scheduler.ErrNotFound), "err = %v", err)
}

func TestListTasksOrderedBySeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveTask(ctx, &scheduler.Task{
			ID: id, Protocol: "uniswap", Status: scheduler.StatusPending,
			MaxAttempts: 3, Seq: uint64(3 - i),
		}))
	}

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "b", tasks[0].ID)
	assert.Equal(t, "a", tasks[1].ID)
	assert.Equal(t, "c", tasks[2].ID)
}

func TestDependenciesRewrittenOnSave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{
		ID: "t1", Protocol: "uniswap", Status: scheduler.StatusPending,
		MaxAttempts: 3, Seq: 1, DependsOn: []string{"a", "b"},
	}
	require.NoError(t, store.SaveTask(ctx, task))

	task.DependsOn = []string{"a"}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.DependsOn)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "chainsched.db")

	store, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveTask(ctx, &scheduler.Task{
		ID: "persisted", Protocol: "stargate", Status: scheduler.StatusRunning,
		MaxAttempts: 3, Attempts: 1, Seq: 1,
	}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	tasks, err := reopened.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "persisted", tasks[0].ID)
	assert.Equal(t, scheduler.StatusRunning, tasks[0].Status)
}
