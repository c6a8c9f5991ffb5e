// Package pipeline implements the plan adjustment pipeline: a strictly
// forward state machine that turns free-text user feedback into safe,
// structured mutations of a workout plan.
//
// The five states run in order: Validate, Understand, Consider, Adjust,
// Reflect. Only validation failures are returned as errors; every
// later-stage failure is folded into a best-effort AdjustmentResult so a
// partially adjusted plan with explicit skip reasons is preferred over a
// hard failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/plan"
)

// Stage tags carried in the result's ordered reasoning log.
const (
	stageValidation = "Validation"
	stageUnderstand = "Initial Understanding"
	stageConsider   = "Consideration"
	stageAdjust     = "Adjustment"
	stageReflect    = "Reflection"
)

// Result status values.
const (
	// StatusSuccess means every stage completed.
	StatusSuccess = "success"

	// StatusPartial means a later-stage failure was folded into the
	// result.
	StatusPartial = "partial"
)

// Completer is the chat-completion capability the pipeline consumes.
// Satisfied by *gateway.Client.
type Completer interface {
	CompleteChat(ctx context.Context, messages []gateway.Message, opts ...gateway.CompleteOption) (*gateway.Completion, error)
}

// ContextRecaller retrieves prior memory content similar to the feedback,
// used to enrich the Understand stage. Satisfied by *memory.Store.
type ContextRecaller interface {
	RecallSimilar(ctx context.Context, userID, query string, limit int) ([]string, error)
}

// PlanRepository persists adjusted plan versions under their new plan ID.
type PlanRepository interface {
	SavePlan(ctx context.Context, p *plan.WorkoutPlan) error
}

// ValidationError reports malformed pipeline input. It is the only error
// Process returns; it is raised synchronously before any gateway call.
type ValidationError struct {
	// Field names the offending input field.
	Field string

	// Reason describes what is wrong with it.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: invalid input: %s: %s", e.Field, e.Reason)
}

// Input is one adjustment request.
type Input struct {
	// Plan is the current plan version.
	Plan *plan.WorkoutPlan

	// Feedback is the free-text user feedback.
	Feedback string

	// Profile is the user profile subset consulted for safety and
	// feasibility.
	Profile *plan.UserProfile
}

// Pipeline is the plan adjustment state machine. Each Process invocation
// is a single sequential flow; a Pipeline is safe for concurrent use.
type Pipeline struct {
	completer Completer
	recaller  ContextRecaller
	ref       ExerciseReference
	plans     PlanRepository
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMemory attaches a memory store used to recall prior adjustment
// context during the Understand stage.
func WithMemory(r ContextRecaller) Option {
	return func(p *Pipeline) {
		p.recaller = r
	}
}

// WithExerciseReference overrides the exercise metadata lookup used for
// feasibility checks.
func WithExerciseReference(ref ExerciseReference) Option {
	return func(p *Pipeline) {
		p.ref = ref
	}
}

// WithPlanRepository attaches a repository; adjusted plans are persisted
// under their new plan ID after the Adjust stage.
func WithPlanRepository(repo PlanRepository) Option {
	return func(p *Pipeline) {
		p.plans = repo
	}
}

// WithLogger overrides the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline over the given completer.
func New(completer Completer, opts ...Option) *Pipeline {
	p := &Pipeline{
		completer: completer,
		ref:       BuiltinReference(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the five stages over in and returns the adjustment result.
// It returns an error only for Stage-1 validation failures; all later
// failures are folded into the result's Errors and Warnings.
func (p *Pipeline) Process(ctx context.Context, in Input) (*plan.AdjustmentResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	res := &plan.AdjustmentResult{
		Status:         StatusSuccess,
		OriginalPlanID: in.Plan.PlanID,
		AppliedChanges: []plan.ChangeRecord{},
		SkippedChanges: []plan.ChangeRecord{},
	}
	res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
		Stage:  stageValidation,
		Detail: "Initial input validation passed.",
	})
	p.logger.Debug("pipeline validation passed", "plan", in.Plan.PlanID, "user", in.Profile.UserID)

	directives := p.understand(ctx, in, res)
	evals := p.consider(in, directives, res)
	adjusted := p.adjust(ctx, in, evals, res)
	p.reflect(ctx, in, adjusted, res)

	return res, nil
}

// validate is Stage 1. It rejects malformed input synchronously, before
// any network call and with no side effects.
func validate(in Input) error {
	if in.Plan == nil {
		return &ValidationError{Field: "plan", Reason: "plan is required"}
	}
	if strings.TrimSpace(in.Plan.PlanID) == "" {
		return &ValidationError{Field: "plan.planId", Reason: "plan has no identifier"}
	}
	if len(in.Plan.WeeklySchedule) == 0 {
		return &ValidationError{Field: "plan.weeklySchedule", Reason: "plan has no schedule"}
	}
	if strings.TrimSpace(in.Feedback) == "" {
		return &ValidationError{Field: "feedback", Reason: "feedback is empty"}
	}
	if in.Profile == nil || strings.TrimSpace(in.Profile.UserID) == "" {
		return &ValidationError{Field: "userProfile.user_id", Reason: "profile has no user identifier"}
	}
	return nil
}

// foldError records a later-stage failure into the best-effort result.
func foldError(res *plan.AdjustmentResult, stage string, err error) {
	res.Errors = append(res.Errors, fmt.Sprintf("%s stage: %v", strings.ToLower(stage), err))
	res.Status = StatusPartial
}

// summarizeFeedback produces the one-line feedback summary carried in the
// adjustment history and the result.
func summarizeFeedback(feedback string) string {
	summary := strings.Join(strings.Fields(feedback), " ")
	const max = 140
	if len(summary) > max {
		summary = summary[:max-3] + "..."
	}
	return summary
}
