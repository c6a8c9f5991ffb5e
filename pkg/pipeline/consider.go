package pipeline

import (
	"fmt"
	"strings"

	"github.com/fitforge/planagent-go/pkg/plan"
)

// Skip reasons assigned during Consideration.
const (
	reasonContraindicated      = "contraindicated"
	reasonEquipmentUnavailable = "equipment unavailable"
	reasonExerciseNotFound     = "exercise not found"
	reasonInfeasible           = "infeasible"
)

// evaluation is the Stage-3 verdict for one directive.
type evaluation struct {
	directive plan.AdjustmentDirective

	// apply marks the directive as an applied-candidate. When false,
	// reason explains the skip.
	apply  bool
	reason string

	// warning is a safety flag that must accompany the change if it is
	// applied (e.g. adjusting an exercise with a declared condition).
	warning string

	// substitute is the replacement exercise chosen for substitution
	// and equipment directives.
	substitute string

	// day and index locate the referenced exercise in the plan, when
	// one was found.
	day   string
	index int

	// increase marks a load or volume increase request.
	increase bool
}

// consider is Stage 3. Each directive is evaluated against declared
// medical conditions and restrictions, available equipment, and existence
// of the referenced exercise or day.
func (p *Pipeline) consider(in Input, directives []plan.AdjustmentDirective, res *plan.AdjustmentResult) []evaluation {
	conditions := append(append([]string{}, in.Profile.MedicalConditions...), in.Profile.Restrictions...)

	evals := make([]evaluation, 0, len(directives))
	for _, d := range directives {
		evals = append(evals, p.evaluate(in, d, conditions))
	}

	feasible, flagged := 0, 0
	for _, e := range evals {
		if e.apply {
			feasible++
		} else {
			flagged++
		}
	}
	res.Reasoning = append(res.Reasoning, plan.ReasoningStep{
		Stage:  stageConsider,
		Detail: fmt.Sprintf("%d directive(s) feasible, %d flagged for skip", feasible, flagged),
	})
	return evals
}

func (p *Pipeline) evaluate(in Input, d plan.AdjustmentDirective, conditions []string) evaluation {
	e := evaluation{
		directive: d,
		increase:  isIncrease(d.RequestedChange),
	}

	switch d.Category {
	case plan.CategoryGeneral:
		e.reason = reasonInfeasible + ": no actionable change derived from feedback"
		return e

	case plan.CategorySchedule:
		day, ok := in.Plan.HasDay(d.Target)
		if !ok {
			e.reason = fmt.Sprintf("%s: day %q not in schedule", reasonInfeasible, d.Target)
			return e
		}
		e.day = day
		e.apply = true
		return e

	case plan.CategoryEquipmentLimitation:
		// Target names the unavailable equipment; feasibility means at
		// least one plan exercise uses it and has a usable substitute.
		if !p.anyExerciseUses(in.Plan, d.Target) {
			e.reason = fmt.Sprintf("%s: no exercises in the plan use %q", reasonInfeasible, d.Target)
			return e
		}
		e.apply = true
		return e
	}

	// Remaining categories reference an exercise.
	day, index, found := in.Plan.FindExercise(d.Target)
	if !found {
		e.reason = fmt.Sprintf("%s: %q is not in the plan", reasonExerciseNotFound, d.Target)
		return e
	}
	e.day = day
	e.index = index
	exerciseName := in.Plan.WeeklySchedule[day].Session.Exercises[index].Exercise

	// Safety: a directive conflicting with a declared condition is never
	// silently applied. Increases are skipped outright; other changes go
	// through with an explicit warning naming the condition.
	if condition, tag, contra := p.contraindicated(exerciseName, conditions); contra {
		if e.increase && (d.Category == plan.CategoryVolume || d.Category == plan.CategoryIntensity) {
			e.reason = fmt.Sprintf("%s: increasing %s load conflicts with declared condition %q (%s)",
				reasonContraindicated, exerciseName, condition, tag)
			return e
		}
		e.warning = fmt.Sprintf("adjusting %s with declared condition %q (%s); change kept conservative",
			exerciseName, condition, tag)
	}

	switch d.Category {
	case plan.CategorySubstitution:
		substitute, ok := p.chooseSubstitute(in.Profile, exerciseName, d.RequestedChange, conditions)
		if !ok {
			e.reason = fmt.Sprintf("%s: no suitable substitute for %s", reasonInfeasible, exerciseName)
			return e
		}
		e.substitute = substitute

	case plan.CategoryPainConcern:
		// Pain reports always resolve to a load reduction, never an
		// increase.
		e.increase = false
		if e.warning == "" {
			e.warning = fmt.Sprintf("reported pain around %s; load reduced", exerciseName)
		}

	case plan.CategoryVolume, plan.CategoryIntensity, plan.CategoryRestPeriod:
		// Located and safety-checked above; nothing further to verify.

	default:
		e.reason = reasonInfeasible + ": unrecognized directive category"
		return e
	}

	e.apply = true
	return e
}

// contraindicated reports whether the exercise conflicts with any declared
// condition, returning the matching condition and tag.
func (p *Pipeline) contraindicated(exerciseName string, conditions []string) (condition, tag string, ok bool) {
	info, found := p.ref.Lookup(exerciseName)
	if !found {
		return "", "", false
	}
	for _, c := range conditions {
		for _, t := range info.Contraindications {
			if conditionMatches(c, t) {
				return c, t, true
			}
		}
	}
	return "", "", false
}

// chooseSubstitute picks a replacement exercise: an explicit replacement
// named in the requested change wins, otherwise the reference table's
// first substitute that clears equipment and contraindication checks.
func (p *Pipeline) chooseSubstitute(profile *plan.UserProfile, exerciseName, requestedChange string, conditions []string) (string, bool) {
	if named := p.namedExercise(requestedChange, exerciseName); named != "" {
		if p.usable(profile, named, conditions) {
			return named, true
		}
	}
	info, found := p.ref.Lookup(exerciseName)
	if !found {
		return "", false
	}
	for _, sub := range info.Substitutes {
		if p.usable(profile, sub, conditions) {
			return sub, true
		}
	}
	return "", false
}

// namedExercise scans the requested change for a reference-table exercise
// other than the one being replaced.
func (p *Pipeline) namedExercise(requestedChange, exclude string) string {
	static, ok := p.ref.(*StaticReference)
	if !ok {
		return ""
	}
	change := strings.ToLower(requestedChange)
	excludeLower := strings.ToLower(exclude)
	for i := range static.entries {
		name := static.entries[i].Name
		lower := strings.ToLower(name)
		if lower == excludeLower {
			continue
		}
		if strings.Contains(change, lower) {
			return name
		}
	}
	return ""
}

// usable reports whether an exercise clears the profile's equipment and
// condition constraints.
func (p *Pipeline) usable(profile *plan.UserProfile, exerciseName string, conditions []string) bool {
	if _, _, contra := p.contraindicated(exerciseName, conditions); contra {
		return false
	}
	info, found := p.ref.Lookup(exerciseName)
	if !found {
		// Unknown exercises pass; the reference table is advisory.
		return true
	}
	return equipmentAvailable(profile, info.Equipment)
}

// equipmentAvailable reports whether all required equipment is in the
// profile's declared inventory. An empty inventory declares no constraint.
func equipmentAvailable(profile *plan.UserProfile, required []string) bool {
	if len(profile.Preferences.Equipment) == 0 || len(required) == 0 {
		return true
	}
	for _, req := range required {
		found := false
		for _, have := range profile.Preferences.Equipment {
			if conditionMatches(have, req) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// anyExerciseUses reports whether any plan exercise requires the named
// equipment.
func (p *Pipeline) anyExerciseUses(wp *plan.WorkoutPlan, equipment string) bool {
	for _, day := range wp.Days() {
		entry := wp.WeeklySchedule[day]
		if entry.Session == nil {
			continue
		}
		for _, ex := range entry.Session.Exercises {
			info, found := p.ref.Lookup(ex.Exercise)
			if !found {
				continue
			}
			for _, req := range info.Equipment {
				if conditionMatches(req, equipment) {
					return true
				}
			}
		}
	}
	return false
}

var increaseWords = []string{"increase", "more", "heavier", "harder", "add weight", "raise", "bump up", "go up"}

var decreaseWords = []string{"reduce", "less", "lighter", "easier", "decrease", "fewer", "drop", "lower", "ease"}

// isIncrease classifies a requested change as a load or volume increase.
// Decrease wording wins when both appear ("a bit less, not more").
func isIncrease(requestedChange string) bool {
	change := strings.ToLower(requestedChange)
	for _, w := range decreaseWords {
		if strings.Contains(change, w) {
			return false
		}
	}
	for _, w := range increaseWords {
		if strings.Contains(change, w) {
			return true
		}
	}
	return false
}
