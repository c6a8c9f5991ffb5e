package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fitforge/planagent-go/pkg/plan"
)

// adjust is Stage 4. It mutates a copy of the plan according to the
// applied-candidates, records every mutation and skip, assigns the
// deterministic adjusted plan ID and appends the history entry. The
// original plan is never touched.
func (p *Pipeline) adjust(ctx context.Context, in Input, evals []evaluation, res *plan.AdjustmentResult) *plan.WorkoutPlan {
	adjusted := in.Plan.Clone()

	for _, e := range evals {
		if !e.apply {
			res.SkippedChanges = append(res.SkippedChanges, plan.ChangeRecord{
				Directive: e.directive,
				Status:    plan.StatusSkipped,
				Reason:    e.reason,
				Outcome:   "no change",
			})
			continue
		}

		record, ok := p.applyDirective(adjusted, in.Profile, e)
		if !ok {
			res.SkippedChanges = append(res.SkippedChanges, record)
			continue
		}
		if e.warning != "" {
			res.Warnings = append(res.Warnings, e.warning)
		}
		res.AppliedChanges = append(res.AppliedChanges, record)
	}

	now := p.now()
	adjusted.PlanID = fmt.Sprintf("adj_%s_%d", in.Plan.PlanID, now.UnixMilli())
	adjusted.UpdatedAt = now
	adjusted.AdjustmentHistory = append(adjusted.AdjustmentHistory, plan.AdjustmentRecord{
		ID:        uuid.NewString(),
		Summary:   summarizeFeedback(in.Feedback),
		Timestamp: now,
	})

	res.AdjustedPlanID = adjusted.PlanID
	res.AdjustedPlan = adjusted

	if p.plans != nil {
		if err := p.plans.SavePlan(ctx, adjusted); err != nil {
			foldError(res, stageAdjust, err)
		}
	}

	res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
		Stage: stageAdjust,
		Detail: fmt.Sprintf("Applied %d change(s), skipped %d",
			len(res.AppliedChanges), len(res.SkippedChanges)),
	})
	p.logger.Debug("plan adjusted",
		"original", in.Plan.PlanID, "adjusted", adjusted.PlanID,
		"applied", len(res.AppliedChanges), "skipped", len(res.SkippedChanges))
	return adjusted
}

// applyDirective mutates the plan copy for one applied-candidate. The
// returned record is a skip when the mutation turned out impossible (e.g.
// an earlier schedule change removed the session).
func (p *Pipeline) applyDirective(adjusted *plan.WorkoutPlan, profile *plan.UserProfile, e evaluation) (plan.ChangeRecord, bool) {
	d := e.directive
	record := plan.ChangeRecord{Directive: d, Status: plan.StatusApplied}

	switch d.Category {
	case plan.CategorySchedule:
		return p.applySchedule(adjusted, e)

	case plan.CategoryEquipmentLimitation:
		return p.applyEquipmentLimitation(adjusted, profile, e)
	}

	ex, ok := exerciseAt(adjusted, e.day, e.index)
	if !ok {
		return skipRecord(d, "exercise no longer present after earlier changes"), false
	}

	switch d.Category {
	case plan.CategorySubstitution:
		record.PreviousValue = ex.Exercise
		record.NewValue = e.substitute
		record.Outcome = fmt.Sprintf("substituted %s with %s", ex.Exercise, e.substitute)
		ex.Notes = appendNote(ex.Notes, "substituted for "+ex.Exercise)
		ex.Exercise = e.substitute

	case plan.CategoryVolume:
		record.PreviousValue = fmt.Sprintf("%d sets", ex.Sets)
		if e.increase {
			ex.Sets++
			record.Outcome = fmt.Sprintf("increased %s volume", ex.Exercise)
		} else {
			if ex.Sets > 1 {
				ex.Sets--
			}
			record.Outcome = fmt.Sprintf("reduced %s volume", ex.Exercise)
		}
		record.NewValue = fmt.Sprintf("%d sets", ex.Sets)

	case plan.CategoryIntensity:
		record.PreviousValue = ex.Notes
		if e.increase {
			ex.Notes = appendNote(ex.Notes, "progressively increase working load")
			record.Outcome = fmt.Sprintf("increased %s intensity", ex.Exercise)
		} else {
			ex.Notes = appendNote(ex.Notes, "reduce working load")
			record.Outcome = fmt.Sprintf("reduced %s intensity", ex.Exercise)
		}
		record.NewValue = ex.Notes

	case plan.CategoryRestPeriod:
		record.PreviousValue = ex.Rest
		ex.Rest = newRestPrescription(d.RequestedChange, e.increase)
		record.NewValue = ex.Rest
		record.Outcome = fmt.Sprintf("rest for %s changed from %s to %s",
			ex.Exercise, orUnset(record.PreviousValue), ex.Rest)

	case plan.CategoryPainConcern:
		record.PreviousValue = fmt.Sprintf("%d sets", ex.Sets)
		if ex.Sets > 1 {
			ex.Sets--
		}
		ex.Notes = appendNote(ex.Notes, "load reduced due to reported pain")
		record.NewValue = fmt.Sprintf("%d sets", ex.Sets)
		record.Outcome = fmt.Sprintf("reduced %s load after pain report", ex.Exercise)

	default:
		return skipRecord(d, reasonInfeasible+": unrecognized directive category"), false
	}

	return record, true
}

// applySchedule handles day-level mutations: converting a day to rest or
// swapping two days.
func (p *Pipeline) applySchedule(adjusted *plan.WorkoutPlan, e evaluation) (plan.ChangeRecord, bool) {
	d := e.directive
	entry, ok := adjusted.WeeklySchedule[e.day]
	if !ok {
		return skipRecord(d, "day no longer present after earlier changes"), false
	}
	change := strings.ToLower(d.RequestedChange)

	if strings.Contains(change, "rest") || strings.Contains(change, "remove") || strings.Contains(change, "skip") {
		record := plan.ChangeRecord{
			Directive:     d,
			Status:        plan.StatusApplied,
			PreviousValue: describeDay(entry),
			NewValue:      "Rest",
			Outcome:       fmt.Sprintf("converted %s to a rest day", e.day),
		}
		adjusted.WeeklySchedule[e.day] = plan.DayPlan{Rest: "Rest"}
		return record, true
	}

	if strings.Contains(change, "move") || strings.Contains(change, "swap") {
		for _, other := range adjusted.Days() {
			if other == e.day || !strings.Contains(change, strings.ToLower(other)) {
				continue
			}
			record := plan.ChangeRecord{
				Directive:     d,
				Status:        plan.StatusApplied,
				PreviousValue: fmt.Sprintf("%s: %s", e.day, describeDay(entry)),
				NewValue:      fmt.Sprintf("%s: %s", other, describeDay(entry)),
				Outcome:       fmt.Sprintf("swapped %s and %s", e.day, other),
			}
			adjusted.WeeklySchedule[e.day], adjusted.WeeklySchedule[other] =
				adjusted.WeeklySchedule[other], adjusted.WeeklySchedule[e.day]
			return record, true
		}
		return skipRecord(d, reasonInfeasible+": destination day not found in schedule"), false
	}

	return skipRecord(d, reasonInfeasible+": unsupported schedule change"), false
}

// applyEquipmentLimitation substitutes every exercise that requires the
// unavailable equipment named by the directive target.
func (p *Pipeline) applyEquipmentLimitation(adjusted *plan.WorkoutPlan, profile *plan.UserProfile, e evaluation) (plan.ChangeRecord, bool) {
	d := e.directive
	var substitutions []string

	for _, day := range adjusted.Days() {
		entry := adjusted.WeeklySchedule[day]
		if entry.Session == nil {
			continue
		}
		for i := range entry.Session.Exercises {
			ex := &entry.Session.Exercises[i]
			info, found := p.ref.Lookup(ex.Exercise)
			if !found || !equipmentUses(info, d.Target) {
				continue
			}
			substitute, ok := p.equipmentFreeSubstitute(profile, info, d.Target)
			if !ok {
				continue
			}
			substitutions = append(substitutions, fmt.Sprintf("%s -> %s", ex.Exercise, substitute))
			ex.Notes = appendNote(ex.Notes, fmt.Sprintf("%s unavailable", d.Target))
			ex.Exercise = substitute
		}
	}

	if len(substitutions) == 0 {
		return skipRecord(d, fmt.Sprintf("%s: no substitute avoids %q", reasonEquipmentUnavailable, d.Target)), false
	}
	return plan.ChangeRecord{
		Directive:     d,
		Status:        plan.StatusApplied,
		PreviousValue: d.Target + " exercises",
		NewValue:      strings.Join(substitutions, ", "),
		Outcome:       fmt.Sprintf("substituted %d exercise(s) requiring %s", len(substitutions), d.Target),
	}, true
}

// equipmentFreeSubstitute picks the first substitute that avoids the
// unavailable equipment and clears the profile's remaining constraints.
func (p *Pipeline) equipmentFreeSubstitute(profile *plan.UserProfile, info *ExerciseInfo, unavailable string) (string, bool) {
	for _, sub := range info.Substitutes {
		subInfo, found := p.ref.Lookup(sub)
		if found && equipmentUses(subInfo, unavailable) {
			continue
		}
		if found && !equipmentAvailable(profile, subInfo.Equipment) {
			continue
		}
		return sub, true
	}
	return "", false
}

func equipmentUses(info *ExerciseInfo, equipment string) bool {
	for _, req := range info.Equipment {
		if conditionMatches(req, equipment) {
			return true
		}
	}
	return false
}

func exerciseAt(wp *plan.WorkoutPlan, day string, index int) (*plan.Exercise, bool) {
	entry, ok := wp.WeeklySchedule[day]
	if !ok || entry.Session == nil || index >= len(entry.Session.Exercises) {
		return nil, false
	}
	return &entry.Session.Exercises[index], true
}

func skipRecord(d plan.AdjustmentDirective, reason string) plan.ChangeRecord {
	return plan.ChangeRecord{
		Directive: d,
		Status:    plan.StatusSkipped,
		Reason:    reason,
		Outcome:   "no change",
	}
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}

func describeDay(entry plan.DayPlan) string {
	if entry.Session != nil {
		return entry.Session.SessionName
	}
	return entry.Rest
}

func orUnset(s string) string {
	if s == "" {
		return "unset"
	}
	return s
}

var restDurationPattern = regexp.MustCompile(`(\d+)\s*(seconds|second|secs|sec|s|minutes|minute|mins|min|m)\b`)

// newRestPrescription derives the new rest string from the requested
// change. An explicit duration in the request wins; otherwise the rest is
// nudged in the requested direction.
func newRestPrescription(requestedChange string, increase bool) string {
	m := restDurationPattern.FindStringSubmatch(strings.ToLower(requestedChange))
	if m != nil {
		unit := "s"
		if strings.HasPrefix(m[2], "m") {
			unit = "min"
		}
		return m[1] + unit
	}
	if increase {
		return "120s"
	}
	return "60s"
}
