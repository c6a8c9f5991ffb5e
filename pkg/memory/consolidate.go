package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/storage"
)

const (
	// consolidationDecayRate is the hourly exponential decay applied to a
	// memory's importance when scoring eviction candidates.
	consolidationDecayRate = 0.005

	// clusterThreshold is the cosine similarity at which two memories are
	// considered part of the same semantic cluster.
	clusterThreshold = 0.80

	consolidatedContentType = "consolidated_summary"
)

const synthesisSystemPrompt = `You condense a user's fitness coaching memories.
Given several related memory entries, write one short paragraph that preserves
every concrete fact (exercises, conditions, preferences, outcomes) and drops
repetition. Respond with the paragraph only.`

// ConsolidateMemories reduces the user's stored memory count to at most the
// configured budget.
//
// The newest preserveRecent memories are always kept verbatim. The remainder
// is either evicted lowest-value-first (importance decayed by age), or, with
// semantic grouping enabled, first compacted by merging clusters of similar
// memories into synthesized summary records. Grouping failures fall back to
// plain eviction with a warning in the result.
//
// A consolidation racing a concurrent write is not serialized against it;
// the write may or may not be considered.
func (s *Store) ConsolidateMemories(ctx context.Context, userID string, opts ...ConsolidateOption) (*ConsolidationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("ConsolidateMemories: %w", ErrEmptyUserID)
	}
	options := applyConsolidateOptions(opts)

	records, err := s.records.List(ctx, &storage.ListOptions{
		UserID:    userID,
		AgentType: string(options.AgentType),
	})
	if err != nil {
		return nil, fmt.Errorf("ConsolidateMemories: %w", err)
	}

	result := &ConsolidationResult{
		OriginalCount:     len(records),
		ConsolidatedCount: len(records),
	}
	if len(records) <= options.MaxMemories {
		return result, nil
	}

	// List is newest-first, so the preserved prefix is the most recent.
	preserved := records[:options.PreserveRecent]
	remainder := records[options.PreserveRecent:]
	budget := options.MaxMemories - len(preserved)

	if options.SemanticGrouping {
		passthrough, planned, planErr := s.planMerges(ctx, remainder)
		if planErr != nil {
			// No storage mutation has happened yet, so eviction over the
			// listed records is still accurate.
			s.logger.Warn("semantic grouping failed, falling back to eviction",
				"user_id", userID, "error", planErr)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("semantic grouping unavailable, evicted by score instead: %v", planErr))
		} else {
			merged, commitErr := s.commitMerges(ctx, userID, passthrough, planned)
			if commitErr != nil {
				// Storage is partially merged; the pre-merge record list no
				// longer describes it, so there is no safe fallback.
				return nil, fmt.Errorf("ConsolidateMemories: %w", commitErr)
			}
			remainder = merged
		}
	}

	if len(remainder) > budget {
		remainder, err = s.evictByScore(ctx, userID, remainder, budget)
		if err != nil {
			return nil, fmt.Errorf("ConsolidateMemories: %w", err)
		}
	}

	result.ConsolidatedCount = len(preserved) + len(remainder)
	result.MemoryReduction = result.OriginalCount - result.ConsolidatedCount
	return result, nil
}

// evictByScore deletes the lowest-scoring records until at most budget
// remain. Score is importance decayed exponentially by age.
func (s *Store) evictByScore(ctx context.Context, userID string, records []*storage.Record, budget int) ([]*storage.Record, error) {
	if budget < 0 {
		budget = 0
	}

	scored := make([]*storage.Record, len(records))
	copy(scored, records)
	now := s.now()
	sort.SliceStable(scored, func(i, j int) bool {
		return s.retentionScore(scored[i], now) > s.retentionScore(scored[j], now)
	})

	kept := scored[:budget]
	for _, record := range scored[budget:] {
		err := s.records.Delete(ctx, record.ID, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("evict record %d: %w", record.ID, err)
		}
	}
	return kept, nil
}

func (s *Store) retentionScore(record *storage.Record, now time.Time) float64 {
	ageHours := now.Sub(record.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return record.Importance * math.Exp(-consolidationDecayRate*ageHours)
}

// plannedMerge is a fully synthesized cluster replacement that has not yet
// touched storage.
type plannedMerge struct {
	agentType string
	cluster   []*storage.Record
	summary   string
}

// planMerges greedily clusters the embedded records and synthesizes a summary
// for every multi-member cluster, without mutating storage. Records without
// embeddings and singleton clusters are returned as passthrough.
func (s *Store) planMerges(ctx context.Context, records []*storage.Record) ([]*storage.Record, []plannedMerge, error) {
	// Cluster within an agent type only; a workout note and a research
	// finding never merge even when their embeddings agree.
	byAgent := make(map[string][]*storage.Record)
	var agentOrder []string
	var passthrough []*storage.Record
	for _, record := range records {
		if record.Embedding == nil {
			passthrough = append(passthrough, record)
			continue
		}
		if _, seen := byAgent[record.AgentType]; !seen {
			agentOrder = append(agentOrder, record.AgentType)
		}
		byAgent[record.AgentType] = append(byAgent[record.AgentType], record)
	}

	var planned []plannedMerge
	for _, agentType := range agentOrder {
		for _, cluster := range clusterByCentroid(byAgent[agentType]) {
			if len(cluster) < 2 {
				passthrough = append(passthrough, cluster...)
				continue
			}
			summaryText, err := s.summarize(ctx, clusterTexts(cluster))
			if err != nil {
				return nil, nil, err
			}
			planned = append(planned, plannedMerge{agentType, cluster, summaryText})
		}
	}
	return passthrough, planned, nil
}

// commitMerges applies the planned merges to storage. A failure here leaves
// storage partially merged and must be surfaced, not swallowed.
func (s *Store) commitMerges(ctx context.Context, userID string, passthrough []*storage.Record, planned []plannedMerge) ([]*storage.Record, error) {
	merged := passthrough
	for _, merge := range planned {
		summary, err := s.commitSummary(ctx, userID, merge.agentType, merge.cluster, merge.summary)
		if err != nil {
			return nil, err
		}
		merged = append(merged, summary)
	}
	return merged, nil
}

// clusterByCentroid assigns each record to the first cluster whose centroid
// is within the similarity threshold, creating a new cluster otherwise.
func clusterByCentroid(records []*storage.Record) [][]*storage.Record {
	var clusters [][]*storage.Record
	var centroids [][]float64

	for _, record := range records {
		assigned := false
		for i, centroid := range centroids {
			if cosineSimilarity(record.Embedding, centroid) >= clusterThreshold {
				clusters[i] = append(clusters[i], record)
				centroids[i] = meanVector(centroids[i], record.Embedding, len(clusters[i]))
				assigned = true
				break
			}
		}
		if !assigned {
			clusters = append(clusters, []*storage.Record{record})
			centroid := make([]float64, len(record.Embedding))
			copy(centroid, record.Embedding)
			centroids = append(centroids, centroid)
		}
	}
	return clusters
}

// meanVector folds next into a running centroid that already covers count
// members including next.
func meanVector(centroid, next []float64, count int) []float64 {
	if len(centroid) != len(next) || count < 2 {
		return centroid
	}
	prev := float64(count - 1)
	for i := range centroid {
		centroid[i] = (centroid[i]*prev + next[i]) / float64(count)
	}
	return centroid
}

func clusterTexts(cluster []*storage.Record) []string {
	texts := make([]string, 0, len(cluster))
	for _, record := range cluster {
		var content map[string]interface{}
		if err := json.Unmarshal([]byte(record.Content), &content); err == nil {
			texts = append(texts, projectToText(content))
		} else {
			texts = append(texts, record.Content)
		}
	}
	return texts
}

// commitSummary replaces a cluster with one summary record. The summary is
// inserted and the cluster members deleted.
func (s *Store) commitSummary(ctx context.Context, userID, agentType string, cluster []*storage.Record, summaryText string) (*storage.Record, error) {
	maxImportance := 0.0
	for _, record := range cluster {
		if record.Importance > maxImportance {
			maxImportance = record.Importance
		}
	}

	content := map[string]interface{}{
		"summary":     summaryText,
		"sourceCount": len(cluster),
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}

	var embedding []float64
	embedding, err = s.embedder.Embed(ctx, summaryText)
	if err != nil {
		s.logger.Warn("embedding failed for consolidated summary",
			"user_id", userID, "error", err)
		embedding = nil
	}

	summary := &storage.Record{
		ID:          s.node.Generate().Int64(),
		UserID:      userID,
		AgentType:   agentType,
		Content:     string(data),
		ContentType: consolidatedContentType,
		Embedding:   embedding,
		Importance:  maxImportance,
		// Keep the newest member's timestamp so the summary sorts where
		// the cluster's freshest memory did.
		CreatedAt: cluster[0].CreatedAt,
	}

	if err := s.records.Insert(ctx, summary); err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	for _, record := range cluster {
		err := s.records.Delete(ctx, record.ID, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("delete clustered record %d: %w", record.ID, err)
		}
	}
	return summary, nil
}

func (s *Store) summarize(ctx context.Context, texts []string) (string, error) {
	joined := strings.Join(texts, "\n---\n")
	if s.completer == nil {
		return joined, nil
	}

	completion, err := s.completer.CompleteChat(ctx, []gateway.Message{
		{Role: gateway.RoleSystem, Content: synthesisSystemPrompt},
		{Role: gateway.RoleUser, Content: joined},
	}, gateway.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("synthesize summary: %w", err)
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return joined, nil
	}
	return text, nil
}
