// Package memory provides per-user agent memory with recency retrieval,
// embedding-based similarity search, and consolidation.
package memory

import (
	"errors"
	"time"
)

// AgentType identifies which agent produced a memory.
type AgentType string

const (
	AgentWorkout    AgentType = "workout"
	AgentAdjustment AgentType = "adjustment"
	AgentResearch   AgentType = "research"
)

// ValidAgentType reports whether t is one of the supported agent types.
func ValidAgentType(t AgentType) bool {
	switch t {
	case AgentWorkout, AgentAdjustment, AgentResearch:
		return true
	}
	return false
}

// Sentinel errors returned by Store operations.
var (
	// ErrInvalidAgentType is returned when an unsupported agent type is given.
	ErrInvalidAgentType = errors.New("invalid agent type")

	// ErrEmptyUserID is returned when the user id is missing.
	ErrEmptyUserID = errors.New("user id is required")

	// ErrEmptyQuery is returned when a similarity query is empty.
	ErrEmptyQuery = errors.New("query is required")
)

// Memory is a stored memory returned to callers.
type Memory struct {
	// ID is the snowflake-assigned record id.
	ID int64 `json:"id"`

	// UserID identifies the owning user.
	UserID string `json:"userId"`

	// AgentType identifies the producing agent.
	AgentType AgentType `json:"agentType"`

	// Content is the stored payload decoded from JSON.
	Content map[string]interface{} `json:"content"`

	// ContentType is an optional caller-supplied label for the payload.
	ContentType string `json:"contentType,omitempty"`

	// Importance weights the memory during consolidation. Range [0, 1].
	Importance float64 `json:"importance"`

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time `json:"createdAt"`
}

// SearchResult pairs a memory with its cosine similarity to the query.
type SearchResult struct {
	Memory     *Memory `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// ConsolidationResult reports the outcome of a consolidation pass.
type ConsolidationResult struct {
	// OriginalCount is how many memories the user had before consolidation.
	OriginalCount int `json:"originalCount"`

	// ConsolidatedCount is how many remain afterwards.
	ConsolidatedCount int `json:"consolidatedCount"`

	// MemoryReduction is OriginalCount - ConsolidatedCount.
	MemoryReduction int `json:"memoryReduction"`

	// Warnings lists non-fatal degradations, such as a semantic grouping
	// pass that fell back to baseline eviction.
	Warnings []string `json:"warnings,omitempty"`
}

// StoreOptions configures StoreMemory.
type StoreOptions struct {
	Importance  float64
	ContentType string
}

// StoreOption configures a single StoreMemory call.
type StoreOption func(*StoreOptions)

// WithImportance sets the memory's consolidation weight. Values outside
// [0, 1] are clamped.
func WithImportance(importance float64) StoreOption {
	return func(o *StoreOptions) {
		o.Importance = importance
	}
}

// WithContentType labels the stored payload.
func WithContentType(contentType string) StoreOption {
	return func(o *StoreOptions) {
		o.ContentType = contentType
	}
}

func applyStoreOptions(opts []StoreOption) *StoreOptions {
	options := &StoreOptions{Importance: 0.5}
	for _, opt := range opts {
		opt(options)
	}
	if options.Importance < 0 {
		options.Importance = 0
	}
	if options.Importance > 1 {
		options.Importance = 1
	}
	return options
}

// ListMemoryOptions configures GetMemoriesByAgentType.
type ListMemoryOptions struct {
	Limit int
}

// ListMemoryOption configures a single list call.
type ListMemoryOption func(*ListMemoryOptions)

// WithListLimit caps how many memories are returned. Zero means no cap.
func WithListLimit(limit int) ListMemoryOption {
	return func(o *ListMemoryOptions) {
		o.Limit = limit
	}
}

func applyListOptions(opts []ListMemoryOption) *ListMemoryOptions {
	options := &ListMemoryOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Limit < 0 {
		options.Limit = 0
	}
	return options
}

// SearchOptions configures SearchSimilarMemories.
type SearchOptions struct {
	Threshold  float64
	MaxResults int
	AgentType  AgentType
}

// SearchOption configures a single search call.
type SearchOption func(*SearchOptions)

// WithThreshold sets the minimum cosine similarity. Default 0.7.
func WithThreshold(threshold float64) SearchOption {
	return func(o *SearchOptions) {
		o.Threshold = threshold
	}
}

// WithMaxResults caps how many results are returned. Default 10.
func WithMaxResults(maxResults int) SearchOption {
	return func(o *SearchOptions) {
		o.MaxResults = maxResults
	}
}

// WithAgentFilter restricts the search to one agent type.
func WithAgentFilter(agentType AgentType) SearchOption {
	return func(o *SearchOptions) {
		o.AgentType = agentType
	}
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{Threshold: 0.7, MaxResults: 10}
	for _, opt := range opts {
		opt(options)
	}
	if options.Threshold < 0 {
		options.Threshold = 0
	}
	if options.Threshold > 1 {
		options.Threshold = 1
	}
	if options.MaxResults <= 0 {
		options.MaxResults = 10
	}
	return options
}

// ConsolidateOptions configures ConsolidateMemories.
type ConsolidateOptions struct {
	MaxMemories      int
	PreserveRecent   int
	SemanticGrouping bool
	AgentType        AgentType
}

// ConsolidateOption configures a single consolidation call.
type ConsolidateOption func(*ConsolidateOptions)

// WithMaxMemories sets the post-consolidation budget. Default 100.
func WithMaxMemories(maxMemories int) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.MaxMemories = maxMemories
	}
}

// WithPreserveRecent keeps the newest N memories verbatim. Default 20.
// Clamped to the max-memories budget.
func WithPreserveRecent(preserveRecent int) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.PreserveRecent = preserveRecent
	}
}

// WithSemanticGrouping merges clusters of similar memories into
// synthesized summaries instead of plain eviction.
func WithSemanticGrouping(enabled bool) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.SemanticGrouping = enabled
	}
}

// WithConsolidateAgentFilter restricts consolidation to one agent type.
func WithConsolidateAgentFilter(agentType AgentType) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.AgentType = agentType
	}
}

func applyConsolidateOptions(opts []ConsolidateOption) *ConsolidateOptions {
	options := &ConsolidateOptions{MaxMemories: 100, PreserveRecent: 20}
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxMemories < 0 {
		options.MaxMemories = 0
	}
	if options.PreserveRecent < 0 {
		options.PreserveRecent = 0
	}
	if options.PreserveRecent > options.MaxMemories {
		options.PreserveRecent = options.MaxMemories
	}
	return options
}
