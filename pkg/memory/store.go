package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/storage"
)

// Embedder produces embedding vectors for text. gateway.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, opts ...gateway.EmbedOption) ([]float64, error)
}

// Completer produces chat completions, used to synthesize cluster summaries
// during consolidation. gateway.Client satisfies it.
type Completer interface {
	CompleteChat(ctx context.Context, messages []gateway.Message, opts ...gateway.CompleteOption) (*gateway.Completion, error)
}

// Store is the per-user agent memory store.
//
// A Store is safe for concurrent use as long as its RecordStore is.
// Concurrent writes are last-write-wins per record id; a consolidation
// racing a concurrent write is not serialized against it.
type Store struct {
	records   storage.RecordStore
	embedder  Embedder
	completer Completer
	node      *snowflake.Node
	logger    *slog.Logger
	now       func() time.Time
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Completer Completer
	Logger    *slog.Logger
	NodeID    int64
	Clock     func() time.Time
}

// StoreConfigOption configures Store construction.
type StoreConfigOption func(*StoreConfig)

// WithCompleter attaches a completer used for consolidation synthesis.
func WithCompleter(completer Completer) StoreConfigOption {
	return func(c *StoreConfig) {
		c.Completer = completer
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) StoreConfigOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithNodeID sets the snowflake node id used for memory ids.
func WithNodeID(nodeID int64) StoreConfigOption {
	return func(c *StoreConfig) {
		c.NodeID = nodeID
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) StoreConfigOption {
	return func(c *StoreConfig) {
		c.Clock = clock
	}
}

// NewStore creates a memory store over the given record store and embedder.
func NewStore(records storage.RecordStore, embedder Embedder, opts ...StoreConfigOption) (*Store, error) {
	if records == nil {
		return nil, fmt.Errorf("NewStore: record store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("NewStore: embedder is required")
	}

	cfg := &StoreConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: %w", err)
	}

	return &Store{
		records:   records,
		embedder:  embedder,
		completer: cfg.Completer,
		node:      node,
		logger:    cfg.Logger,
		now:       cfg.Clock,
	}, nil
}

// StoreMemory persists a memory for the user and returns its id.
//
// The content is marshaled to JSON verbatim. An embedding is derived from
// the content's text projection; if the embedding call fails, the memory is
// still written without one and the failure is logged rather than returned.
func (s *Store) StoreMemory(ctx context.Context, userID string, agentType AgentType, content map[string]interface{}, opts ...StoreOption) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("StoreMemory: %w", ErrEmptyUserID)
	}
	if !ValidAgentType(agentType) {
		return 0, fmt.Errorf("StoreMemory: %w: %q", ErrInvalidAgentType, agentType)
	}
	if len(content) == 0 {
		return 0, fmt.Errorf("StoreMemory: content is required")
	}

	options := applyStoreOptions(opts)

	data, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("StoreMemory: marshal content: %w", err)
	}

	var embedding []float64
	text := projectToText(content)
	if text != "" {
		embedding, err = s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("embedding failed, storing memory without one",
				"user_id", userID,
				"agent_type", string(agentType),
				"error", err)
			embedding = nil
		}
	}

	record := &storage.Record{
		ID:          s.node.Generate().Int64(),
		UserID:      userID,
		AgentType:   string(agentType),
		Content:     string(data),
		ContentType: options.ContentType,
		Embedding:   embedding,
		Importance:  options.Importance,
		CreatedAt:   s.now(),
	}
	if err := s.records.Insert(ctx, record); err != nil {
		return 0, fmt.Errorf("StoreMemory: %w", err)
	}
	return record.ID, nil
}

// GetMemoriesByAgentType returns the user's memories of the given agent
// type, most recent first.
func (s *Store) GetMemoriesByAgentType(ctx context.Context, userID string, agentType AgentType, opts ...ListMemoryOption) ([]*Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("GetMemoriesByAgentType: %w", ErrEmptyUserID)
	}
	if !ValidAgentType(agentType) {
		return nil, fmt.Errorf("GetMemoriesByAgentType: %w: %q", ErrInvalidAgentType, agentType)
	}

	options := applyListOptions(opts)
	records, err := s.records.List(ctx, &storage.ListOptions{
		UserID:    userID,
		AgentType: string(agentType),
		Limit:     options.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMemoriesByAgentType: %w", err)
	}

	memories := make([]*Memory, 0, len(records))
	for _, record := range records {
		memory, err := recordToMemory(record)
		if err != nil {
			s.logger.Warn("skipping unreadable memory record",
				"record_id", record.ID, "error", err)
			continue
		}
		memories = append(memories, memory)
	}
	return memories, nil
}

// SearchSimilarMemories embeds the query once and scans the user's embedded
// memories for cosine similarity at or above the threshold, returning
// results in descending similarity order. Records without embeddings are
// excluded.
func (s *Store) SearchSimilarMemories(ctx context.Context, userID, query string, opts ...SearchOption) ([]*SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("SearchSimilarMemories: %w", ErrEmptyUserID)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("SearchSimilarMemories: %w", ErrEmptyQuery)
	}

	options := applySearchOptions(opts)

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SearchSimilarMemories: embed query: %w", err)
	}

	records, err := s.records.List(ctx, &storage.ListOptions{
		UserID:    userID,
		AgentType: string(options.AgentType),
	})
	if err != nil {
		return nil, fmt.Errorf("SearchSimilarMemories: %w", err)
	}

	var results []*SearchResult
	for _, record := range records {
		if record.Embedding == nil {
			continue
		}
		similarity := cosineSimilarity(queryEmbedding, record.Embedding)
		if similarity < options.Threshold {
			continue
		}
		memory, err := recordToMemory(record)
		if err != nil {
			s.logger.Warn("skipping unreadable memory record",
				"record_id", record.ID, "error", err)
			continue
		}
		results = append(results, &SearchResult{Memory: memory, Similarity: similarity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > options.MaxResults {
		results = results[:options.MaxResults]
	}
	return results, nil
}

// RecallSimilar returns textual projections of the user's memories most
// similar to the query. It adapts the store to the pipeline's recall
// interface; a failed search is returned to the caller, which treats it as
// a degradation rather than a failure.
func (s *Store) RecallSimilar(ctx context.Context, userID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	results, err := s.SearchSimilarMemories(ctx, userID, query, WithMaxResults(limit))
	if err != nil {
		return nil, err
	}
	recalled := make([]string, 0, len(results))
	for _, result := range results {
		recalled = append(recalled, projectToText(result.Memory.Content))
	}
	return recalled, nil
}

// Close releases the underlying record store.
func (s *Store) Close() error {
	return s.records.Close()
}

func recordToMemory(record *storage.Record) (*Memory, error) {
	var content map[string]interface{}
	if err := json.Unmarshal([]byte(record.Content), &content); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	return &Memory{
		ID:          record.ID,
		UserID:      record.UserID,
		AgentType:   AgentType(record.AgentType),
		Content:     content,
		ContentType: record.ContentType,
		Importance:  record.Importance,
		CreatedAt:   record.CreatedAt,
	}, nil
}

// projectToText flattens a content map into deterministic "key: value"
// lines, sorted by key, for embedding and recall.
func projectToText(content map[string]interface{}) string {
	keys := make([]string, 0, len(content))
	for key := range content {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, valueToText(content[key])))
	}
	return strings.Join(parts, "\n")
}

func valueToText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
