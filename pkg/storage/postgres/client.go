// Package postgres provides the PostgreSQL record store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fitforge/planagent-go/pkg/storage"
)

// Client implements storage.RecordStore using PostgreSQL.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
	SSLMode   string
}

// NewClient connects to PostgreSQL and prepares the records table.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "agent_memories"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{db: db, tableName: tableName}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			agent_type VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			content_type VARCHAR(128),
			embedding TEXT,
			importance DOUBLE PRECISION DEFAULT 0.5,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_user_agent ON %s(user_id, agent_type)
	`, c.tableName, c.tableName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}
	return nil
}

// Insert writes a record. A nil embedding is stored as NULL.
func (c *Client) Insert(ctx context.Context, record *storage.Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, user_id, agent_type, content, content_type, embedding, importance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.tableName)

	embedding, err := marshalEmbedding(record.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.AgentType,
		record.Content,
		record.ContentType,
		embedding,
		record.Importance,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Get retrieves a record by id scoped to the owning user.
func (c *Client) Get(ctx context.Context, id int64, userID string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, agent_type, content, content_type, embedding, importance, created_at
		FROM %s
		WHERE id = $1 AND user_id = $2
	`, c.tableName)

	record, err := scanRecord(c.db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("Get: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return record, nil
}

// List returns records newest-first.
func (c *Client) List(ctx context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	where := "WHERE user_id = $1"
	args := []interface{}{opts.UserID}
	if opts.AgentType != "" {
		where += fmt.Sprintf(" AND agent_type = $%d", len(args)+1)
		args = append(args, opts.AgentType)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, agent_type, content, content_type, embedding, importance, created_at
		FROM %s
		%s
		ORDER BY created_at DESC, id DESC
	`, c.tableName, where)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return records, nil
}

// Delete removes a record by id scoped to the owning user.
func (c *Client) Delete(ctx context.Context, id int64, userID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND user_id = $2", c.tableName)

	result, err := c.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("Delete: %w", storage.ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var record storage.Record
	var contentType sql.NullString
	var embedding sql.NullString

	err := scanner.Scan(
		&record.ID,
		&record.UserID,
		&record.AgentType,
		&record.Content,
		&contentType,
		&embedding,
		&record.Importance,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.ContentType = contentType.String
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &record.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	return &record, nil
}

func marshalEmbedding(embedding []float64) (interface{}, error) {
	if embedding == nil {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
