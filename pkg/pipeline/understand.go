package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fitforge/planagent-go/pkg/gateway"
	"github.com/fitforge/planagent-go/pkg/plan"
)

const understandSystemPrompt = `You are a fitness plan adjustment assistant.
Map the user's feedback about their workout plan into structured adjustment
directives. Each directive has:
- "category": one of "substitution", "volume", "intensity", "schedule",
  "restPeriod", "equipmentLimitation", "painConcern", "general"
- "target": the exercise or day the directive applies to
- "requestedChange": what to change
- "rationale": why the user wants it

Return JSON only: {"directives": [{"category": "...", "target": "...",
"requestedChange": "...", "rationale": "..."}]}`

// understand is Stage 2. One gateway call maps feedback and profile into
// the fixed directive categories. A decode failure degrades to a single
// general directive carrying the raw text; a transport failure is folded
// into the result, again degrading to a general directive so later stages
// still have something to work with.
func (p *Pipeline) understand(ctx context.Context, in Input, res *plan.AdjustmentResult) []plan.AdjustmentDirective {
	messages := []gateway.Message{
		{Role: gateway.RoleSystem, Content: understandSystemPrompt},
		{Role: gateway.RoleUser, Content: p.buildUnderstandPrompt(ctx, in, res)},
	}

	completion, err := p.completer.CompleteChat(ctx, messages, gateway.WithJSONResponse())
	if err != nil {
		foldError(res, stageUnderstand, err)
		fallback := generalDirective(in.Feedback)
		res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
			Stage:  stageUnderstand,
			Detail: "Model call failed; treating raw feedback as a single general directive",
		})
		return []plan.AdjustmentDirective{fallback}
	}

	directives, ok := parseDirectives(completion.Text)
	if !ok {
		res.Warnings = append(res.Warnings,
			"structured parsing of model response failed; falling back to raw feedback directive")
		directives = []plan.AdjustmentDirective{generalDirective(completion.Text)}
		p.logger.Warn("directive parsing degraded to fallback", "plan", in.Plan.PlanID)
	}

	// Unknown categories are coerced rather than dropped.
	for i := range directives {
		if !plan.ValidCategory(directives[i].Category) {
			directives[i].Category = plan.CategoryGeneral
		}
	}

	res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
		Stage:  stageUnderstand,
		Detail: fmt.Sprintf("Derived %d directive(s) from feedback", len(directives)),
	})
	return directives
}

// buildUnderstandPrompt renders the feedback, profile and optional memory
// context into the user prompt.
func (p *Pipeline) buildUnderstandPrompt(ctx context.Context, in Input, res *plan.AdjustmentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feedback: %s\n\n", in.Feedback)
	fmt.Fprintf(&b, "Fitness level: %s\n", in.Profile.FitnessLevel)
	if len(in.Profile.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(in.Profile.Goals, ", "))
	}
	if len(in.Profile.MedicalConditions) > 0 {
		fmt.Fprintf(&b, "Medical conditions: %s\n", strings.Join(in.Profile.MedicalConditions, ", "))
	}
	if len(in.Profile.Restrictions) > 0 {
		fmt.Fprintf(&b, "Restrictions: %s\n", strings.Join(in.Profile.Restrictions, ", "))
	}
	if len(in.Profile.Preferences.Equipment) > 0 {
		fmt.Fprintf(&b, "Available equipment: %s\n", strings.Join(in.Profile.Preferences.Equipment, ", "))
	}

	fmt.Fprintf(&b, "\nCurrent plan days: %s\n", strings.Join(in.Plan.Days(), ", "))
	for _, day := range in.Plan.Days() {
		entry := in.Plan.WeeklySchedule[day]
		if entry.Session == nil {
			continue
		}
		names := make([]string, len(entry.Session.Exercises))
		for i, ex := range entry.Session.Exercises {
			names[i] = ex.Exercise
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", day, entry.Session.SessionName, strings.Join(names, ", "))
	}

	// Prior adjustment context is best-effort: recall failure is a
	// warning, never an abort.
	if p.recaller != nil {
		notes, err := p.recaller.RecallSimilar(ctx, in.Profile.UserID, in.Feedback, 3)
		if err != nil {
			res.Warnings = append(res.Warnings, "memory recall unavailable: "+err.Error())
		} else if len(notes) > 0 {
			fmt.Fprintf(&b, "\nPrior adjustment context:\n")
			for _, note := range notes {
				fmt.Fprintf(&b, "- %s\n", note)
			}
		}
	}

	return b.String()
}

// sanitizeModelJSON strips markdown code fences from a model response
// before JSON decoding.
func sanitizeModelJSON(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

// parseDirectives decodes a sanitized model response into directives.
// It accepts both the documented envelope {"directives": [...]} and a
// bare array; a decodable empty list is a valid zero-directive answer.
// The second return is false only when nothing decodable was found;
// callers degrade to a general directive instead of failing.
func parseDirectives(raw string) ([]plan.AdjustmentDirective, bool) {
	cleaned := sanitizeModelJSON(raw)
	if cleaned == "" {
		return nil, false
	}

	// A pointer slice distinguishes {"directives": []} (the model found
	// nothing actionable) from responses missing the key entirely.
	var envelope struct {
		Directives *[]plan.AdjustmentDirective `json:"directives"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil && envelope.Directives != nil {
		return *envelope.Directives, true
	}

	var bare []plan.AdjustmentDirective
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil && bare != nil {
		return bare, true
	}

	return nil, false
}

// generalDirective wraps raw text as a single general directive (the
// Stage-2 fallback path).
func generalDirective(raw string) plan.AdjustmentDirective {
	return plan.AdjustmentDirective{
		Category:        plan.CategoryGeneral,
		RequestedChange: strings.TrimSpace(raw),
		Rationale:       "fallback: structured parsing unavailable",
	}
}
