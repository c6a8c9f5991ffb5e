package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/planagent-go/pkg/plan"
	plansqlite "github.com/fitforge/planagent-go/pkg/plan/sqlite"
)

func setupRepo(t *testing.T) *plansqlite.Repository {
	t.Helper()

	repo, err := plansqlite.NewRepository(&plansqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "plans_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func storedPlan(id string) *plan.WorkoutPlan {
	return &plan.WorkoutPlan{
		PlanID:   id,
		PlanName: "Strength Base",
		WeeklySchedule: map[string]plan.DayPlan{
			"Monday": {Session: &plan.Session{
				SessionName: "Lower",
				Exercises: []plan.Exercise{
					{Exercise: "Squat", Sets: 5, RepsOrDuration: "5", Rest: "120s"},
				},
			}},
			"Sunday": {Rest: "Rest"},
		},
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SavePlan(ctx, storedPlan("plan_1")))

	got, err := repo.GetPlan(ctx, "plan_1")
	require.NoError(t, err)
	assert.Equal(t, "Strength Base", got.PlanName)
	require.NotNil(t, got.WeeklySchedule["Monday"].Session)
	assert.Equal(t, "Squat", got.WeeklySchedule["Monday"].Session.Exercises[0].Exercise)
	assert.True(t, got.WeeklySchedule["Sunday"].IsRest())
}

func TestRepository_SaveOverwrites(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SavePlan(ctx, storedPlan("plan_1")))

	updated := storedPlan("plan_1")
	updated.PlanName = "Strength Base v2"
	require.NoError(t, repo.SavePlan(ctx, updated))

	got, err := repo.GetPlan(ctx, "plan_1")
	require.NoError(t, err)
	assert.Equal(t, "Strength Base v2", got.PlanName)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.GetPlan(context.Background(), "nope")
	assert.ErrorIs(t, err, plansqlite.ErrPlanNotFound)
}

func TestRepository_SaveRejectsEmptyID(t *testing.T) {
	repo := setupRepo(t)

	err := repo.SavePlan(context.Background(), &plan.WorkoutPlan{})
	assert.Error(t, err)
}

func TestRepository_ListPlanIDs(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SavePlan(ctx, storedPlan("plan_a")))
	require.NoError(t, repo.SavePlan(ctx, storedPlan("plan_b")))

	ids, err := repo.ListPlanIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plan_a", "plan_b"}, ids)
}
