// Package sqlite provides a SQLite-backed workout plan repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fitforge/planagent-go/pkg/plan"
)

// ErrPlanNotFound is returned when no plan exists under the requested id.
var ErrPlanNotFound = errors.New("plan not found")

// Repository stores workout plan versions in SQLite. Each adjusted plan is
// written under its own plan id, so prior versions stay retrievable.
type Repository struct {
	db        *sql.DB
	tableName string
}

// Config contains repository configuration.
type Config struct {
	DBPath    string
	TableName string
}

// NewRepository opens (creating as needed) the plan database.
func NewRepository(cfg *Config) (*Repository, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("NewRepository: db path is required")
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "workout_plans"
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("NewRepository: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewRepository: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewRepository: %w", err)
	}

	repo := &Repository{db: db, tableName: tableName}
	if err := repo.initTables(context.Background()); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			plan_id TEXT PRIMARY KEY,
			plan_name TEXT NOT NULL,
			document TEXT NOT NULL,
			saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, r.tableName)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}
	return nil
}

// SavePlan writes a plan version. Saving the same plan id again overwrites
// the stored document.
func (r *Repository) SavePlan(ctx context.Context, p *plan.WorkoutPlan) error {
	if p == nil || p.PlanID == "" {
		return fmt.Errorf("SavePlan: plan with plan id is required")
	}

	document, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("SavePlan: marshal plan: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (plan_id, plan_name, document, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			plan_name = excluded.plan_name,
			document = excluded.document,
			saved_at = excluded.saved_at
	`, r.tableName)
	if _, err := r.db.ExecContext(ctx, query, p.PlanID, p.PlanName, string(document), time.Now()); err != nil {
		return fmt.Errorf("SavePlan: %w", err)
	}
	return nil
}

// GetPlan retrieves a stored plan version by id.
func (r *Repository) GetPlan(ctx context.Context, planID string) (*plan.WorkoutPlan, error) {
	query := fmt.Sprintf("SELECT document FROM %s WHERE plan_id = ?", r.tableName)

	var document string
	err := r.db.QueryRowContext(ctx, query, planID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetPlan: %w", ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetPlan: %w", err)
	}

	var p plan.WorkoutPlan
	if err := json.Unmarshal([]byte(document), &p); err != nil {
		return nil, fmt.Errorf("GetPlan: parse plan: %w", err)
	}
	return &p, nil
}

// ListPlanIDs returns the stored plan ids, newest save first.
func (r *Repository) ListPlanIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT plan_id FROM %s ORDER BY saved_at DESC, plan_id DESC", r.tableName)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListPlanIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListPlanIDs: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPlanIDs: %w", err)
	}
	return ids, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
