package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/planagent-go/pkg/storage"
	sqliteStore "github.com/fitforge/planagent-go/pkg/storage/sqlite"
)

func setupStore(t *testing.T) storage.RecordStore {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "planagent_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(id int64, createdAt time.Time) *storage.Record {
	return &storage.Record{
		ID:         id,
		UserID:     "user_1",
		AgentType:  "adjustment",
		Content:    `{"note":"bench felt heavy"}`,
		Embedding:  []float64{0.1, 0.2, 0.3},
		Importance: 0.5,
		CreatedAt:  createdAt,
	}
}

func TestClient_InsertAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := sampleRecord(1, time.Now())
	record.ContentType = "session_note"
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, 1, "user_1")
	require.NoError(t, err)
	assert.Equal(t, record.UserID, got.UserID)
	assert.Equal(t, record.AgentType, got.AgentType)
	assert.Equal(t, record.Content, got.Content)
	assert.Equal(t, record.ContentType, got.ContentType)
	assert.Equal(t, record.Embedding, got.Embedding)
	assert.InDelta(t, 0.5, got.Importance, 1e-9)
}

func TestClient_GetWrongUser(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleRecord(1, time.Now())))

	_, err := store.Get(ctx, 1, "someone_else")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClient_NullableEmbedding(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := sampleRecord(1, time.Now())
	record.Embedding = nil
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.Get(ctx, 1, "user_1")
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestClient_ListNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	a := sampleRecord(1, base)
	b := sampleRecord(2, base.Add(time.Hour))
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))

	records, err := store.List(ctx, &storage.ListOptions{UserID: "user_1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].ID)
	assert.Equal(t, int64(1), records[1].ID)
}

func TestClient_ListFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	now := time.Now()
	workout := sampleRecord(1, now)
	workout.AgentType = "workout"
	adjustment := sampleRecord(2, now.Add(time.Minute))
	other := sampleRecord(3, now.Add(2*time.Minute))
	other.UserID = "user_2"

	require.NoError(t, store.Insert(ctx, workout))
	require.NoError(t, store.Insert(ctx, adjustment))
	require.NoError(t, store.Insert(ctx, other))

	records, err := store.List(ctx, &storage.ListOptions{UserID: "user_1", AgentType: "workout"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)

	records, err = store.List(ctx, &storage.ListOptions{UserID: "user_1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].ID)
}

func TestClient_Delete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleRecord(1, time.Now())))
	require.NoError(t, store.Delete(ctx, 1, "user_1"))

	_, err := store.Get(ctx, 1, "user_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Delete(ctx, 1, "user_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
