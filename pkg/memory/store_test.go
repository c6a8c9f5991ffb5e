package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/memory"
	"github.com/fitforge/planagent-go/pkg/storage"
)

// fakeRecordStore is an in-memory RecordStore.
type fakeRecordStore struct {
	mu      sync.Mutex
	records map[int64]*storage.Record

	insertErr  error
	deleteErrs map[int64]error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[int64]*storage.Record)}
}

func (f *fakeRecordStore) Insert(_ context.Context, record *storage.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeRecordStore) Get(_ context.Context, id int64, userID string) (*storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok || record.UserID != userID {
		return nil, storage.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeRecordStore) List(_ context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []*storage.Record
	for _, record := range f.records {
		if record.UserID != opts.UserID {
			continue
		}
		if opts.AgentType != "" && record.AgentType != opts.AgentType {
			continue
		}
		copied := *record
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

func (f *fakeRecordStore) Delete(_ context.Context, id int64, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErrs[id]; ok {
		return err
	}
	record, ok := f.records[id]
	if !ok || record.UserID != userID {
		return storage.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRecordStore) Close() error { return nil }

func (f *fakeRecordStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeEmbedder returns scripted vectors keyed by input text.
type fakeEmbedder struct {
	vectors map[string][]float64
	deflt   []float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ ...gateway.EmbedOption) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	if f.deflt != nil {
		return f.deflt, nil
	}
	return []float64{1, 0}, nil
}

type fakeCompleter struct {
	text string
	err  error
}

func (f *fakeCompleter) CompleteChat(_ context.Context, _ []gateway.Message, _ ...gateway.CompleteOption) (*gateway.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Completion{Text: f.text}, nil
}

func newTestStore(t *testing.T, records storage.RecordStore, embedder memory.Embedder, opts ...memory.StoreConfigOption) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(records, embedder, opts...)
	require.NoError(t, err)
	return store
}

func TestStoreMemory_InvalidAgentType(t *testing.T) {
	store := newTestStore(t, newFakeRecordStore(), &fakeEmbedder{})

	_, err := store.StoreMemory(context.Background(), "user_1", memory.AgentType("planner"),
		map[string]interface{}{"note": "x"})
	assert.ErrorIs(t, err, memory.ErrInvalidAgentType)
}

func TestStoreMemory_EmptyUserRejected(t *testing.T) {
	store := newTestStore(t, newFakeRecordStore(), &fakeEmbedder{})

	_, err := store.StoreMemory(context.Background(), "", memory.AgentWorkout,
		map[string]interface{}{"note": "x"})
	assert.ErrorIs(t, err, memory.ErrEmptyUserID)
}

func TestStoreMemory_EmbedFailureStillWrites(t *testing.T) {
	records := newFakeRecordStore()
	store := newTestStore(t, records, &fakeEmbedder{err: errors.New("embedding down")})

	id, err := store.StoreMemory(context.Background(), "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "squats went well"})
	require.NoError(t, err)

	record, err := records.Get(context.Background(), id, "user_1")
	require.NoError(t, err)
	assert.Nil(t, record.Embedding)
	assert.Contains(t, record.Content, "squats went well")
}

func TestStoreMemory_ImportanceClamped(t *testing.T) {
	records := newFakeRecordStore()
	store := newTestStore(t, records, &fakeEmbedder{})

	id, err := store.StoreMemory(context.Background(), "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "x"}, memory.WithImportance(3.5))
	require.NoError(t, err)

	record, err := records.Get(context.Background(), id, "user_1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, record.Importance, 1e-9)
}

func TestGetMemoriesByAgentType_Recency(t *testing.T) {
	records := newFakeRecordStore()
	current := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	store := newTestStore(t, records, &fakeEmbedder{},
		memory.WithClock(func() time.Time { return current }))

	ctx := context.Background()
	_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "A"})
	require.NoError(t, err)

	current = current.Add(time.Hour)
	_, err = store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "B"})
	require.NoError(t, err)

	memories, err := store.GetMemoriesByAgentType(ctx, "user_1", memory.AgentWorkout)
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "B", memories[0].Content["note"])
	assert.Equal(t, "A", memories[1].Content["note"])

	limited, err := store.GetMemoriesByAgentType(ctx, "user_1", memory.AgentWorkout,
		memory.WithListLimit(1))
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "B", limited[0].Content["note"])
}

func TestSearchSimilarMemories_ThresholdAndOrder(t *testing.T) {
	records := newFakeRecordStore()
	embedder := &fakeEmbedder{
		vectors: map[string][]float64{
			"query":            {1, 0},
			"note: close":      {1, 0},
			"note: near":       {0.8, 0.6},
			"note: orthogonal": {0, 1},
		},
	}
	store := newTestStore(t, records, embedder)
	ctx := context.Background()

	for _, note := range []string{"close", "near", "orthogonal"} {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": note})
		require.NoError(t, err)
	}

	results, err := store.SearchSimilarMemories(ctx, "user_1", "query")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Descending similarity, all within [threshold, 1].
	assert.Equal(t, "close", results[0].Memory.Content["note"])
	assert.Equal(t, "near", results[1].Memory.Content["note"])
	for _, result := range results {
		assert.GreaterOrEqual(t, result.Similarity, 0.7)
		assert.LessOrEqual(t, result.Similarity, 1.0)
	}

	capped, err := store.SearchSimilarMemories(ctx, "user_1", "query",
		memory.WithMaxResults(1))
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "close", capped[0].Memory.Content["note"])

	loose, err := store.SearchSimilarMemories(ctx, "user_1", "query",
		memory.WithThreshold(0))
	require.NoError(t, err)
	assert.Len(t, loose, 3)
}

func TestSearchSimilarMemories_SkipsUnembedded(t *testing.T) {
	records := newFakeRecordStore()
	embedder := &fakeEmbedder{vectors: map[string][]float64{"query": {1, 0}}}
	store := newTestStore(t, records, embedder)
	ctx := context.Background()

	// First write fails to embed, second succeeds.
	embedder.err = errors.New("down")
	_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "unembedded"})
	require.NoError(t, err)

	embedder.err = nil
	embedder.deflt = []float64{1, 0}
	_, err = store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
		map[string]interface{}{"note": "embedded"})
	require.NoError(t, err)

	results, err := store.SearchSimilarMemories(ctx, "user_1", "query")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "embedded", results[0].Memory.Content["note"])
}

func TestSearchSimilarMemories_EmbedFailureFatal(t *testing.T) {
	store := newTestStore(t, newFakeRecordStore(), &fakeEmbedder{err: errors.New("down")})

	_, err := store.SearchSimilarMemories(context.Background(), "user_1", "query")
	assert.Error(t, err)
}

func TestRecallSimilar(t *testing.T) {
	records := newFakeRecordStore()
	store := newTestStore(t, records, &fakeEmbedder{deflt: []float64{1, 0}})
	ctx := context.Background()

	_, err := store.StoreMemory(ctx, "user_1", memory.AgentAdjustment,
		map[string]interface{}{"feedback": "reduced deadlift load"})
	require.NoError(t, err)

	notes, err := store.RecallSimilar(ctx, "user_1", "deadlift", 3)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "reduced deadlift load")
}

func TestConsolidateMemories_Invariants(t *testing.T) {
	tests := []struct {
		originalCount  int
		maxMemories    int
		preserveRecent int
	}{
		{originalCount: 10, maxMemories: 5, preserveRecent: 2},
		{originalCount: 10, maxMemories: 5, preserveRecent: 8}, // clamped to max
		{originalCount: 4, maxMemories: 10, preserveRecent: 2}, // under budget
		{originalCount: 6, maxMemories: 6, preserveRecent: 6},
		{originalCount: 12, maxMemories: 3, preserveRecent: 0},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("orig=%d max=%d preserve=%d", tt.originalCount, tt.maxMemories, tt.preserveRecent)
		t.Run(name, func(t *testing.T) {
			records := newFakeRecordStore()
			current := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
			store := newTestStore(t, records, &fakeEmbedder{},
				memory.WithClock(func() time.Time { return current }))
			ctx := context.Background()

			for i := 0; i < tt.originalCount; i++ {
				_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
					map[string]interface{}{"note": fmt.Sprintf("entry %d", i)})
				require.NoError(t, err)
				current = current.Add(time.Minute)
			}

			result, err := store.ConsolidateMemories(ctx, "user_1",
				memory.WithMaxMemories(tt.maxMemories),
				memory.WithPreserveRecent(tt.preserveRecent))
			require.NoError(t, err)

			assert.Equal(t, tt.originalCount, result.OriginalCount)
			assert.LessOrEqual(t, result.ConsolidatedCount, tt.maxMemories)
			assert.LessOrEqual(t, result.ConsolidatedCount, tt.originalCount)
			assert.GreaterOrEqual(t, result.MemoryReduction, 0)
			assert.Equal(t, result.OriginalCount-result.ConsolidatedCount, result.MemoryReduction)
			assert.Equal(t, result.ConsolidatedCount, records.count())

			// The newest memories survive every consolidation.
			if tt.originalCount > tt.maxMemories {
				preserve := tt.preserveRecent
				if preserve > tt.maxMemories {
					preserve = tt.maxMemories
				}
				remaining, err := store.GetMemoriesByAgentType(ctx, "user_1", memory.AgentWorkout,
					memory.WithListLimit(preserve))
				require.NoError(t, err)
				for i, m := range remaining {
					want := fmt.Sprintf("entry %d", tt.originalCount-1-i)
					assert.Equal(t, want, m.Content["note"])
				}
			}
		})
	}
}

func TestConsolidateMemories_SemanticGrouping(t *testing.T) {
	records := newFakeRecordStore()
	current := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	// All memories embed identically, forming one cluster.
	embedder := &fakeEmbedder{deflt: []float64{1, 0}}
	completer := &fakeCompleter{text: "user consistently prefers lighter deadlifts"}
	store := newTestStore(t, records, embedder,
		memory.WithCompleter(completer),
		memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}

	result, err := store.ConsolidateMemories(ctx, "user_1",
		memory.WithMaxMemories(4),
		memory.WithPreserveRecent(2),
		memory.WithSemanticGrouping(true))
	require.NoError(t, err)

	assert.Equal(t, 8, result.OriginalCount)
	assert.LessOrEqual(t, result.ConsolidatedCount, 4)
	assert.Empty(t, result.Warnings)

	// The merged remainder is one synthesized summary.
	memories, err := store.GetMemoriesByAgentType(ctx, "user_1", memory.AgentWorkout)
	require.NoError(t, err)
	var summaries int
	for _, m := range memories {
		if m.ContentType == "consolidated_summary" {
			summaries++
			assert.Equal(t, "user consistently prefers lighter deadlifts", m.Content["summary"])
		}
	}
	assert.Equal(t, 1, summaries)
}

func TestConsolidateMemories_SynthesisFailureFallsBack(t *testing.T) {
	records := newFakeRecordStore()
	current := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	store := newTestStore(t, records, &fakeEmbedder{deflt: []float64{1, 0}},
		memory.WithCompleter(&fakeCompleter{err: errors.New("model down")}),
		memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}

	result, err := store.ConsolidateMemories(ctx, "user_1",
		memory.WithMaxMemories(4),
		memory.WithPreserveRecent(2),
		memory.WithSemanticGrouping(true))
	require.NoError(t, err)

	// Grouping was requested but unavailable: fall back to eviction and
	// say so.
	assert.NotEmpty(t, result.Warnings)
	assert.LessOrEqual(t, result.ConsolidatedCount, 4)
	assert.Equal(t, result.ConsolidatedCount, records.count())
}

func TestConsolidateMemories_CommitFailureSurfaces(t *testing.T) {
	records := newFakeRecordStore()
	current := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	embedder := &fakeEmbedder{
		vectors: map[string][]float64{
			"note: b0": {0, 1}, "note: b1": {0, 1}, "note: b2": {0, 1}, "note: b3": {0, 1},
			"note: a0": {1, 0}, "note: a1": {1, 0}, "note: a2": {1, 0}, "note: a3": {1, 0},
		},
	}
	store := newTestStore(t, records, embedder,
		memory.WithClock(func() time.Time { return current }))
	ctx := context.Background()

	// Two clusters in the remainder: the b-cluster (older) merges after the
	// a-cluster, and deleting its newest member fails.
	var newestB int64
	for i := 0; i < 4; i++ {
		id, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("b%d", i)})
		require.NoError(t, err)
		newestB = id
		current = current.Add(time.Minute)
	}
	for i := 0; i < 4; i++ {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("a%d", i)})
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}
	for i := 0; i < 2; i++ {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}
	records.deleteErrs = map[int64]error{newestB: errors.New("disk full")}

	result, err := store.ConsolidateMemories(ctx, "user_1",
		memory.WithMaxMemories(6),
		memory.WithPreserveRecent(2),
		memory.WithSemanticGrouping(true))

	// Storage was already partially merged, so the failure must surface as
	// an error rather than a fallback eviction over stale records.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete clustered record")
	assert.Nil(t, result)

	// The a-cluster committed (4 members replaced by 1 summary), the
	// b-cluster's summary landed but its members survive the failed delete.
	assert.Equal(t, 8, records.count())
	_, err = records.Get(ctx, newestB, "user_1")
	assert.NoError(t, err)
}

func TestConsolidateMemories_NoOpUnderBudget(t *testing.T) {
	records := newFakeRecordStore()
	store := newTestStore(t, records, &fakeEmbedder{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.StoreMemory(ctx, "user_1", memory.AgentWorkout,
			map[string]interface{}{"note": fmt.Sprintf("entry %d", i)})
		require.NoError(t, err)
	}

	result, err := store.ConsolidateMemories(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.OriginalCount)
	assert.Equal(t, 3, result.ConsolidatedCount)
	assert.Equal(t, 0, result.MemoryReduction)
	assert.Equal(t, 3, records.count())
}
