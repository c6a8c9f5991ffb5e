package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a plan adjustment client.
//
// Example:
//
//	config := &core.Config{
//	    Gateway: core.GatewayConfig{
//	        APIKey:     "sk-...",
//	        ChatModel:  "gpt-4o-mini",
//	        EmbedModel: "text-embedding-3-small",
//	    },
//	    Database: core.DatabaseConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Gateway contains model gateway configuration.
	Gateway GatewayConfig `json:"gateway"`

	// Database contains memory record store configuration.
	Database DatabaseConfig `json:"database"`

	// Memory contains memory store tuning (optional).
	Memory MemoryConfig `json:"memory,omitempty"`

	// PlanDBPath enables plan persistence when set (optional).
	PlanDBPath string `json:"plan_db_path,omitempty"`
}

// GatewayConfig contains configuration for the model gateway.
type GatewayConfig struct {
	// APIKey is the API key for the model provider.
	APIKey string `json:"api_key"`

	// ChatModel is the chat model name (e.g., "gpt-4o-mini").
	ChatModel string `json:"chat_model"`

	// EmbedModel is the embedding model name (e.g., "text-embedding-3-small").
	EmbedModel string `json:"embed_model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// MaxRetries is the number of additional attempts after the first
	// for retryable failures (optional).
	MaxRetries int `json:"max_retries,omitempty"`

	// BaseDelayMS is the backoff base for the first retry, in
	// milliseconds (optional).
	BaseDelayMS int `json:"base_delay_ms,omitempty"`
}

// DatabaseConfig contains configuration for the memory record store.
//
// Supported providers: sqlite, postgres, mysql
type DatabaseConfig struct {
	// Provider is the record store provider name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// MemoryConfig contains memory store tuning.
type MemoryConfig struct {
	// NodeID is the snowflake node id used for memory ids.
	NodeID int64 `json:"node_id,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, EMBEDDING_MODEL
//   - GATEWAY_MAX_RETRIES, GATEWAY_BASE_DELAY_MS
//   - DATABASE_PROVIDER (sqlite, postgres, mysql)
//   - SQLITE_PATH, SQLITE_TABLE
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_DATABASE, POSTGRES_TABLE, POSTGRES_SSLMODE
//   - MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD,
//     MYSQL_DATABASE, MYSQL_TABLE
//   - PLAN_DB_PATH (optional plan persistence)
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	databaseConfig := make(map[string]interface{})
	switch provider {
	case "sqlite":
		databaseConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_PATH", "./planagent.db"),
			"table_name": getEnvOrDefault("SQLITE_TABLE", "agent_memories"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		databaseConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "planagent"),
			"table_name": getEnvOrDefault("POSTGRES_TABLE", "agent_memories"),
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		databaseConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "planagent"),
			"table_name": getEnvOrDefault("MYSQL_TABLE", "agent_memories"),
		}
	}

	maxRetries, _ := strconv.Atoi(getEnvOrDefault("GATEWAY_MAX_RETRIES", "3"))
	baseDelayMS, _ := strconv.Atoi(getEnvOrDefault("GATEWAY_BASE_DELAY_MS", "500"))

	config := &Config{
		Gateway: GatewayConfig{
			APIKey:      os.Getenv("LLM_API_KEY"),
			ChatModel:   getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
			EmbedModel:  getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:     os.Getenv("LLM_BASE_URL"),
			MaxRetries:  maxRetries,
			BaseDelayMS: baseDelayMS,
		},
		Database: DatabaseConfig{
			Provider: provider,
			Config:   databaseConfig,
		},
		PlanDBPath: os.Getenv("PLAN_DB_PATH"),
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewAgentError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewAgentError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// The gateway API key and the database provider must be set.
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return NewAgentError("Validate", fmt.Errorf("%w: gateway api key is required", ErrInvalidConfig))
	}
	if c.Database.Provider == "" {
		return NewAgentError("Validate", fmt.Errorf("%w: database provider is required", ErrInvalidConfig))
	}
	return nil
}

func (c *GatewayConfig) baseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
