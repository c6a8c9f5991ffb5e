package plan

import (
	"sort"
	"strings"
)

// Clone deep-copies the plan so callers can mutate the copy while the
// original version stays untouched.
func (p *WorkoutPlan) Clone() *WorkoutPlan {
	if p == nil {
		return nil
	}
	clone := &WorkoutPlan{
		PlanID:    p.PlanID,
		PlanName:  p.PlanName,
		UpdatedAt: p.UpdatedAt,
	}
	if p.WeeklySchedule != nil {
		clone.WeeklySchedule = make(map[string]DayPlan, len(p.WeeklySchedule))
		for day, entry := range p.WeeklySchedule {
			clone.WeeklySchedule[day] = entry.clone()
		}
	}
	if len(p.AdjustmentHistory) > 0 {
		clone.AdjustmentHistory = make([]AdjustmentRecord, len(p.AdjustmentHistory))
		copy(clone.AdjustmentHistory, p.AdjustmentHistory)
	}
	return clone
}

func (d DayPlan) clone() DayPlan {
	if d.Session == nil {
		return d
	}
	session := &Session{SessionName: d.Session.SessionName}
	if d.Session.Exercises != nil {
		session.Exercises = make([]Exercise, len(d.Session.Exercises))
		copy(session.Exercises, d.Session.Exercises)
	}
	return DayPlan{Session: session}
}

// Days returns the schedule's day names in sorted order. Iterating the
// schedule through Days keeps results stable across runs.
func (p *WorkoutPlan) Days() []string {
	days := make([]string, 0, len(p.WeeklySchedule))
	for d := range p.WeeklySchedule {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// FindExercise locates an exercise by name anywhere in the schedule.
// Matching is case-insensitive and tolerates the target being a substring
// of the entry name or vice versa ("deadlift" matches "Romanian Deadlift").
// Returns the day, the index within the session, and whether it was found.
func (p *WorkoutPlan) FindExercise(name string) (day string, index int, found bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", 0, false
	}
	for _, d := range p.Days() {
		entry := p.WeeklySchedule[d]
		if entry.Session == nil {
			continue
		}
		for i, ex := range entry.Session.Exercises {
			have := strings.ToLower(ex.Exercise)
			if have == needle || strings.Contains(have, needle) || strings.Contains(needle, have) {
				return d, i, true
			}
		}
	}
	return "", 0, false
}

// HasDay reports whether the schedule contains the named day,
// case-insensitively.
func (p *WorkoutPlan) HasDay(day string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(day))
	for d := range p.WeeklySchedule {
		if strings.ToLower(d) == needle {
			return d, true
		}
	}
	return "", false
}

// SessionCount counts non-rest days.
func (p *WorkoutPlan) SessionCount() int {
	count := 0
	for _, entry := range p.WeeklySchedule {
		if !entry.IsRest() {
			count++
		}
	}
	return count
}

// ExerciseCount counts exercise entries across the schedule.
func (p *WorkoutPlan) ExerciseCount() int {
	count := 0
	for _, entry := range p.WeeklySchedule {
		if entry.Session != nil {
			count += len(entry.Session.Exercises)
		}
	}
	return count
}

// TotalSets sums working sets across the schedule.
func (p *WorkoutPlan) TotalSets() int {
	total := 0
	for _, entry := range p.WeeklySchedule {
		if entry.Session == nil {
			continue
		}
		for _, ex := range entry.Session.Exercises {
			total += ex.Sets
		}
	}
	return total
}
