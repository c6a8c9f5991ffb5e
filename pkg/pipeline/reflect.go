package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/plan"
)

// reflect is Stage 5. It builds the before/after comparison, a
// deterministic explanations map and the feedback summary, then optionally
// asks the model to phrase the explanations in natural language. The
// deterministic output is kept whenever the model call fails.
func (p *Pipeline) reflect(ctx context.Context, in Input, adjusted *plan.WorkoutPlan, res *plan.AdjustmentResult) {
	res.Comparison = comparePlans(in.Plan, adjusted)
	res.FeedbackSummary = summarizeFeedback(in.Feedback)

	res.Explanations = make(map[string]string, len(res.AppliedChanges)+len(res.SkippedChanges))
	for _, change := range res.AppliedChanges {
		res.Explanations[explanationKey(change)] = appliedExplanation(change)
	}
	for _, change := range res.SkippedChanges {
		res.Explanations[explanationKey(change)] = fmt.Sprintf(
			"Requested change was not applied: %s.", change.Reason)
	}

	if len(res.AppliedChanges)+len(res.SkippedChanges) > 0 {
		p.phraseExplanations(ctx, res)
	}

	res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
		Stage: stageReflect,
		Detail: fmt.Sprintf("Compared plan versions and explained %d change(s)",
			len(res.AppliedChanges)+len(res.SkippedChanges)),
	})
}

// phraseExplanations issues the optional second gateway call. Same retry
// policy as the Understand stage; a failure leaves the deterministic
// explanations in place with a warning.
func (p *Pipeline) phraseExplanations(ctx context.Context, res *plan.AdjustmentResult) {
	payload, err := json.Marshal(res.Explanations)
	if err != nil {
		return
	}
	messages := []gateway.Message{
		{Role: gateway.RoleSystem, Content: "You are a fitness coach. Rewrite the following adjustment explanations as one short, encouraging paragraph for the user. Plain text only."},
		{Role: gateway.RoleUser, Content: string(payload)},
	}
	completion, err := p.completer.CompleteChat(ctx, messages)
	if err != nil {
		res.Warnings = append(res.Warnings, "reflection phrasing unavailable: "+err.Error())
		return
	}
	if completion.Text != "" {
		res.Explanations["narrative"] = completion.Text
	}
}

func explanationKey(change plan.ChangeRecord) string {
	if change.Directive.Target != "" {
		return change.Directive.Target
	}
	return string(change.Directive.Category)
}

func appliedExplanation(change plan.ChangeRecord) string {
	if change.PreviousValue != "" && change.NewValue != "" {
		return fmt.Sprintf("%s (was %s, now %s).",
			capitalize(change.Outcome), change.PreviousValue, change.NewValue)
	}
	return capitalize(change.Outcome) + "."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// comparePlans summarizes structural differences between two plan
// versions.
func comparePlans(before, after *plan.WorkoutPlan) *plan.PlanComparison {
	cmp := &plan.PlanComparison{
		SessionsBefore:  before.SessionCount(),
		SessionsAfter:   after.SessionCount(),
		ExercisesBefore: before.ExerciseCount(),
		ExercisesAfter:  after.ExerciseCount(),
		TotalSetsBefore: before.TotalSets(),
		TotalSetsAfter:  after.TotalSets(),
	}
	for _, day := range before.Days() {
		beforeJSON, _ := json.Marshal(before.WeeklySchedule[day])
		afterJSON, _ := json.Marshal(after.WeeklySchedule[day])
		if string(beforeJSON) != string(afterJSON) {
			cmp.ChangedDays = append(cmp.ChangedDays, day)
		}
	}
	return cmp
}
