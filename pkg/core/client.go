package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/memory"
	"github.com/fitforge/planagent-go/pkg/pipeline"
	"github.com/fitforge/planagent-go/pkg/plan"
	plansqlite "github.com/fitforge/planagent-go/pkg/plan/sqlite"
	"github.com/fitforge/planagent-go/pkg/storage"
	"github.com/fitforge/planagent-go/pkg/storage/mysql"
	"github.com/fitforge/planagent-go/pkg/storage/postgres"
	"github.com/fitforge/planagent-go/pkg/storage/sqlite"
)

// Client is the top-level plan adjustment agent. It owns the model
// gateway, the per-user memory store, and the adjustment pipeline.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.AdjustPlan(ctx, pipeline.Input{
//	    Plan:     currentPlan,
//	    Feedback: "my lower back hurts after deadlifts",
//	    Profile:  profile,
//	})
type Client struct {
	gateway  *gateway.Client
	records  storage.RecordStore
	memories *memory.Store
	pipeline *pipeline.Pipeline
	plans    *plansqlite.Repository
	logger   *slog.Logger
}

// NewClient creates a fully wired client from the configuration.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, NewAgentError("NewClient", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := slog.Default()

	gw, err := gateway.NewClient(&gateway.Config{
		APIKey:     config.Gateway.APIKey,
		BaseURL:    config.Gateway.BaseURL,
		ChatModel:  config.Gateway.ChatModel,
		EmbedModel: config.Gateway.EmbedModel,
		MaxRetries: config.Gateway.MaxRetries,
		BaseDelay:  config.Gateway.baseDelay(),
		Logger:     logger,
	})
	if err != nil {
		return nil, NewAgentError("NewClient", err)
	}

	records, err := buildRecordStore(&config.Database)
	if err != nil {
		if !errors.Is(err, ErrUnknownProvider) {
			err = fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return nil, NewAgentError("NewClient", err)
	}

	memories, err := memory.NewStore(records, gw,
		memory.WithCompleter(gw),
		memory.WithLogger(logger),
		memory.WithNodeID(config.Memory.NodeID),
	)
	if err != nil {
		_ = records.Close()
		return nil, NewAgentError("NewClient", err)
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithMemory(memories),
		pipeline.WithLogger(logger),
	}

	var plans *plansqlite.Repository
	if config.PlanDBPath != "" {
		plans, err = plansqlite.NewRepository(&plansqlite.Config{DBPath: config.PlanDBPath})
		if err != nil {
			_ = records.Close()
			return nil, NewAgentError("NewClient", err)
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithPlanRepository(plans))
	}

	return &Client{
		gateway:  gw,
		records:  records,
		memories: memories,
		pipeline: pipeline.New(gw, pipelineOpts...),
		plans:    plans,
		logger:   logger,
	}, nil
}

func buildRecordStore(cfg *DatabaseConfig) (storage.RecordStore, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:    stringValue(cfg.Config, "db_path", "./planagent.db"),
			TableName: stringValue(cfg.Config, "table_name", ""),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:      stringValue(cfg.Config, "host", "localhost"),
			Port:      intValue(cfg.Config, "port", 5432),
			User:      stringValue(cfg.Config, "user", "postgres"),
			Password:  stringValue(cfg.Config, "password", ""),
			DBName:    stringValue(cfg.Config, "db_name", "planagent"),
			TableName: stringValue(cfg.Config, "table_name", ""),
			SSLMode:   stringValue(cfg.Config, "ssl_mode", ""),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:      stringValue(cfg.Config, "host", "127.0.0.1"),
			Port:      intValue(cfg.Config, "port", 3306),
			User:      stringValue(cfg.Config, "user", "root"),
			Password:  stringValue(cfg.Config, "password", ""),
			DBName:    stringValue(cfg.Config, "db_name", "planagent"),
			TableName: stringValue(cfg.Config, "table_name", ""),
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// AdjustPlan runs the four-stage adjustment pipeline over the plan and
// feedback, and records the adjustment in the user's memory.
func (c *Client) AdjustPlan(ctx context.Context, in pipeline.Input) (*plan.AdjustmentResult, error) {
	result, err := c.pipeline.Process(ctx, in)
	if err != nil {
		return nil, NewAgentError("AdjustPlan", err)
	}

	if in.Profile != nil && in.Profile.UserID != "" {
		content := map[string]interface{}{
			"originalPlanId": result.OriginalPlanID,
			"adjustedPlanId": result.AdjustedPlanID,
			"feedback":       result.FeedbackSummary,
			"appliedChanges": len(result.AppliedChanges),
			"skippedChanges": len(result.SkippedChanges),
			"status":         result.Status,
		}
		if _, err := c.memories.StoreMemory(ctx, in.Profile.UserID, memory.AgentAdjustment, content); err != nil {
			c.logger.Warn("failed to record adjustment memory",
				"user_id", in.Profile.UserID, "error", err)
		}
	}
	return result, nil
}

// StoreMemory persists a memory for the user and returns its id.
func (c *Client) StoreMemory(ctx context.Context, userID string, agentType memory.AgentType, content map[string]interface{}, opts ...memory.StoreOption) (int64, error) {
	id, err := c.memories.StoreMemory(ctx, userID, agentType, content, opts...)
	return id, NewAgentError("StoreMemory", err)
}

// GetMemoriesByAgentType returns the user's memories of the given agent
// type, most recent first.
func (c *Client) GetMemoriesByAgentType(ctx context.Context, userID string, agentType memory.AgentType, opts ...memory.ListMemoryOption) ([]*memory.Memory, error) {
	memories, err := c.memories.GetMemoriesByAgentType(ctx, userID, agentType, opts...)
	return memories, NewAgentError("GetMemoriesByAgentType", err)
}

// SearchSimilarMemories performs an embedding similarity search over the
// user's memories.
func (c *Client) SearchSimilarMemories(ctx context.Context, userID, query string, opts ...memory.SearchOption) ([]*memory.SearchResult, error) {
	results, err := c.memories.SearchSimilarMemories(ctx, userID, query, opts...)
	return results, NewAgentError("SearchSimilarMemories", err)
}

// ConsolidateMemories reduces the user's stored memory count to the
// configured budget.
func (c *Client) ConsolidateMemories(ctx context.Context, userID string, opts ...memory.ConsolidateOption) (*memory.ConsolidationResult, error) {
	result, err := c.memories.ConsolidateMemories(ctx, userID, opts...)
	return result, NewAgentError("ConsolidateMemories", err)
}

// GetPlan retrieves a persisted plan version. Requires plan persistence to
// be configured.
func (c *Client) GetPlan(ctx context.Context, planID string) (*plan.WorkoutPlan, error) {
	if c.plans == nil {
		return nil, NewAgentError("GetPlan", fmt.Errorf("%w: plan persistence not configured", ErrInvalidConfig))
	}
	p, err := c.plans.GetPlan(ctx, planID)
	if err != nil && !errors.Is(err, plansqlite.ErrPlanNotFound) {
		err = fmt.Errorf("%w: %v", ErrStorageOperation, err)
	}
	return p, NewAgentError("GetPlan", err)
}

// Close releases the underlying stores.
func (c *Client) Close() error {
	var firstErr error
	if c.records != nil {
		if err := c.records.Close(); err != nil {
			firstErr = err
		}
	}
	if c.plans != nil {
		if err := c.plans.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		firstErr = fmt.Errorf("%w: %v", ErrStorageOperation, firstErr)
	}
	return NewAgentError("Close", firstErr)
}
