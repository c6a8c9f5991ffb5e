package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/pipeline"
	"github.com/fitforge/planagent-go/pkg/plan"
)

// fakeCompleter scripts gateway responses per call.
type fakeCompleter struct {
	calls     int
	responses []string
	errs      []error
}

func (f *fakeCompleter) CompleteChat(_ context.Context, _ []gateway.Message, _ ...gateway.CompleteOption) (*gateway.Completion, error) {
	f.calls++
	idx := f.calls - 1
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.responses) {
		return &gateway.Completion{Text: f.responses[idx]}, nil
	}
	return &gateway.Completion{Text: "ok"}, nil
}

type fakeRecaller struct {
	notes []string
	err   error
}

func (f *fakeRecaller) RecallSimilar(_ context.Context, _, _ string, _ int) ([]string, error) {
	return f.notes, f.err
}

func testPlan() *plan.WorkoutPlan {
	return &plan.WorkoutPlan{
		PlanID:   "plan_123",
		PlanName: "Strength Base",
		WeeklySchedule: map[string]plan.DayPlan{
			"Monday": {Session: &plan.Session{
				SessionName: "Lower Body",
				Exercises: []plan.Exercise{
					{Exercise: "Deadlift", Sets: 3, RepsOrDuration: "5", Rest: "120s"},
					{Exercise: "Squat", Sets: 3, RepsOrDuration: "8", Rest: "90s"},
				},
			}},
			"Wednesday": {Rest: "Rest"},
			"Friday": {Session: &plan.Session{
				SessionName: "Upper Body",
				Exercises: []plan.Exercise{
					{Exercise: "Bench Press", Sets: 3, RepsOrDuration: "8", Rest: "90s"},
				},
			}},
		},
	}
}

func testProfile(conditions ...string) *plan.UserProfile {
	return &plan.UserProfile{
		UserID:            "user_1",
		FitnessLevel:      "intermediate",
		MedicalConditions: conditions,
	}
}

func directiveJSON(category, target, change string) string {
	return fmt.Sprintf(`{"directives": [{"category": %q, "target": %q, "requestedChange": %q, "rationale": "test"}]}`, category, target, change)
}

func TestProcess_InvalidInput(t *testing.T) {
	completer := &fakeCompleter{}
	p := pipeline.New(completer)

	tests := []struct {
		name  string
		input pipeline.Input
	}{
		{"nil plan", pipeline.Input{Feedback: "hi", Profile: testProfile()}},
		{"empty plan id", pipeline.Input{
			Plan:     &plan.WorkoutPlan{WeeklySchedule: testPlan().WeeklySchedule},
			Feedback: "hi", Profile: testProfile(),
		}},
		{"empty schedule", pipeline.Input{
			Plan:     &plan.WorkoutPlan{PlanID: "p1"},
			Feedback: "hi", Profile: testProfile(),
		}},
		{"blank feedback", pipeline.Input{Plan: testPlan(), Feedback: "   ", Profile: testProfile()}},
		{"nil profile", pipeline.Input{Plan: testPlan(), Feedback: "hi"}},
		{"blank user id", pipeline.Input{Plan: testPlan(), Feedback: "hi", Profile: &plan.UserProfile{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Process(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, result)

			var validationErr *pipeline.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	// Rejection happens before any model call.
	assert.Equal(t, 0, completer.calls)
}

func TestProcess_StageMarkersInOrder(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("substitution", "Bench Press", "replace with Push-Up"),
			"All set, enjoy the new plan!",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "bench hurts my shoulder", Profile: testProfile(),
	})
	require.NoError(t, err)

	var stages []string
	for _, step := range result.Reasoning {
		stages = append(stages, step.Stage)
	}
	assert.Equal(t, []string{
		"Validation", "Initial Understanding", "Consideration", "Adjustment", "Reflection",
	}, stages)
	assert.Equal(t, "Initial input validation passed.", result.Reasoning[0].Detail)
}

func TestProcess_FenceWrappedJSON(t *testing.T) {
	fenced := "```json\n" + directiveJSON("volume", "Squat", "one more set") + "\n```"
	completer := &fakeCompleter{responses: []string{fenced, "nice"}}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "squats feel easy, add a set", Profile: testProfile(),
	})
	require.NoError(t, err)

	require.Len(t, result.AppliedChanges, 1)
	assert.Equal(t, plan.CategoryVolume, result.AppliedChanges[0].Directive.Category)
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
}

func TestProcess_GarbageResponseFallsBack(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"sorry, I cannot do that", "ok"}}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "make it harder", Profile: testProfile(),
	})
	require.NoError(t, err)

	// Undecodable response degrades to one general directive, which is
	// skipped as non-actionable, and a warning is recorded.
	assert.NotEmpty(t, result.Warnings)
	require.Len(t, result.SkippedChanges, 1)
	assert.Equal(t, plan.CategoryGeneral, result.SkippedChanges[0].Directive.Category)
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
}

func TestProcess_EmptyDirectivesIsNotAFailure(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"directives": []}`}}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "just checking in, plan feels fine", Profile: testProfile(),
	})
	require.NoError(t, err)

	// The model legitimately found nothing actionable: no fallback
	// directive, no parse warning, nothing skipped.
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.AppliedChanges)
	assert.Empty(t, result.SkippedChanges)
	assert.Equal(t, pipeline.StatusSuccess, result.Status)

	// No changes means no phrasing call either.
	assert.Equal(t, 1, completer.calls)
}

func TestProcess_ContraindicatedIncreaseSkipped(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("intensity", "Deadlift", "increase the weight"),
			"ok",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan:     testPlan(),
		Feedback: "deadlifts feel light, go heavier",
		Profile:  testProfile("lower back pain"),
	})
	require.NoError(t, err)

	// A load increase on an exercise contraindicated by a declared
	// condition must never be silently applied.
	assert.Empty(t, result.AppliedChanges)
	require.Len(t, result.SkippedChanges, 1)
	skipped := result.SkippedChanges[0]
	assert.Equal(t, plan.StatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Reason, "contraindicated")
	assert.Contains(t, skipped.Reason, "lower back pain")

	// The adjusted plan keeps the original prescription.
	monday := result.AdjustedPlan.WeeklySchedule["Monday"]
	assert.Equal(t, 3, monday.Session.Exercises[0].Sets)
}

func TestProcess_ContraindicatedNonIncreaseAppliedWithWarning(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("restPeriod", "Deadlift", "rest 180 seconds between sets"),
			"ok",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan:     testPlan(),
		Feedback: "need more rest on deadlifts",
		Profile:  testProfile("lower back pain"),
	})
	require.NoError(t, err)

	require.Len(t, result.AppliedChanges, 1)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "lower back pain")
}

func TestProcess_ReduceVolumeWithConditionAppliedWithWarning(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("volume", "Deadlift", "reduce the volume"),
			"ok",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan:     testPlan(),
		Feedback: "reduce deadlift volume due to back sensitivity",
		Profile:  testProfile("lower_back_pain"),
	})
	require.NoError(t, err)

	// A reduction on a contraindicated exercise is safe to apply, but the
	// declared condition still rides along as a warning.
	require.Len(t, result.AppliedChanges, 1)
	change := result.AppliedChanges[0]
	assert.Equal(t, plan.StatusApplied, change.Status)
	assert.Equal(t, "3 sets", change.PreviousValue)
	assert.Equal(t, "2 sets", change.NewValue)
	assert.Empty(t, result.SkippedChanges)

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "lower_back_pain")

	monday := result.AdjustedPlan.WeeklySchedule["Monday"]
	assert.Equal(t, 2, monday.Session.Exercises[0].Sets)
}

func TestProcess_AdjustedPlanIDFormat(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	completer := &fakeCompleter{
		responses: []string{directiveJSON("volume", "Squat", "add a set"), "ok"},
	}
	p := pipeline.New(completer, pipeline.WithClock(func() time.Time { return fixed }))

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more squats please", Profile: testProfile(),
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^adj_plan_123_\d+$`), result.AdjustedPlanID)
	assert.Equal(t, fmt.Sprintf("adj_plan_123_%d", fixed.UnixMilli()), result.AdjustedPlanID)
	assert.Equal(t, "plan_123", result.OriginalPlanID)

	// The input plan is never mutated.
	assert.Equal(t, "plan_123", testPlan().PlanID)
	require.NotNil(t, result.AdjustedPlan)
	require.Len(t, result.AdjustedPlan.AdjustmentHistory, 1)
	assert.NotEmpty(t, result.AdjustedPlan.AdjustmentHistory[0].ID)
}

func TestProcess_UnderstandFailurePartial(t *testing.T) {
	completer := &fakeCompleter{
		errs:      []error{errors.New("model unavailable")},
		responses: []string{"", "ok"},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "swap bench for push ups", Profile: testProfile(),
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "initial understanding")

	// The run still completes with a best-effort result.
	assert.NotEmpty(t, result.AdjustedPlanID)
}

func TestProcess_MemoryRecallFailureWarns(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{directiveJSON("volume", "Squat", "add a set"), "ok"},
	}
	p := pipeline.New(completer,
		pipeline.WithMemory(&fakeRecaller{err: errors.New("store offline")}))

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more squats", Profile: testProfile(),
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "memory recall unavailable")
}

func TestProcess_SubstitutionApplied(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("substitution", "Deadlift", "replace with Glute Bridge"),
			"ok",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "deadlifts bother me", Profile: testProfile(),
	})
	require.NoError(t, err)

	require.Len(t, result.AppliedChanges, 1)
	change := result.AppliedChanges[0]
	assert.Equal(t, plan.StatusApplied, change.Status)
	assert.Equal(t, "Deadlift", change.PreviousValue)
	assert.Equal(t, "Glute Bridge", change.NewValue)

	monday := result.AdjustedPlan.WeeklySchedule["Monday"]
	assert.Equal(t, "Glute Bridge", monday.Session.Exercises[0].Exercise)
}

func TestProcess_UnknownExerciseSkipped(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{
			directiveJSON("volume", "Snatch", "add a set"),
			"ok",
		},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more snatches", Profile: testProfile(),
	})
	require.NoError(t, err)

	require.Len(t, result.SkippedChanges, 1)
	assert.Contains(t, result.SkippedChanges[0].Reason, "exercise not found")
}

func TestProcess_ReflectionPhrasingFailureWarns(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{directiveJSON("volume", "Squat", "add a set"), ""},
		errs:      []error{nil, errors.New("model unavailable")},
	}
	p := pipeline.New(completer)

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more squats", Profile: testProfile(),
	})
	require.NoError(t, err)

	// Deterministic explanations survive; the phrasing call is optional.
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.NotEmpty(t, result.Explanations)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "reflection phrasing unavailable")
	assert.NotContains(t, result.Explanations, "narrative")
}

type fakeRepo struct {
	saved []*plan.WorkoutPlan
	err   error
}

func (f *fakeRepo) SavePlan(_ context.Context, p *plan.WorkoutPlan) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, p)
	return nil
}

func TestProcess_PlanPersisted(t *testing.T) {
	repo := &fakeRepo{}
	completer := &fakeCompleter{
		responses: []string{directiveJSON("volume", "Squat", "add a set"), "ok"},
	}
	p := pipeline.New(completer, pipeline.WithPlanRepository(repo))

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more squats", Profile: testProfile(),
	})
	require.NoError(t, err)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, result.AdjustedPlanID, repo.saved[0].PlanID)
}

func TestProcess_SaveFailureFoldsPartial(t *testing.T) {
	repo := &fakeRepo{err: errors.New("disk full")}
	completer := &fakeCompleter{
		responses: []string{directiveJSON("volume", "Squat", "add a set"), "ok"},
	}
	p := pipeline.New(completer, pipeline.WithPlanRepository(repo))

	result, err := p.Process(context.Background(), pipeline.Input{
		Plan: testPlan(), Feedback: "more squats", Profile: testProfile(),
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "adjustment stage")
}
