package pipeline

import "strings"

// ExerciseInfo is the reference metadata consulted during feasibility
// checks.
type ExerciseInfo struct {
	// Name is the canonical exercise name.
	Name string

	// Category groups the exercise, e.g. "hinge", "squat", "push".
	Category string

	// Equipment lists equipment the exercise requires. Empty means
	// bodyweight.
	Equipment []string

	// Contraindications lists condition tags the exercise conflicts
	// with, e.g. "lower_back_pain".
	Contraindications []string

	// Substitutes lists safer or equipment-free alternatives, in
	// preference order.
	Substitutes []string
}

// ExerciseReference looks up reference metadata by exercise name.
type ExerciseReference interface {
	// Lookup returns metadata for the named exercise. Matching is
	// case-insensitive and tolerant of qualified names ("Romanian
	// Deadlift" resolves via "deadlift").
	Lookup(name string) (*ExerciseInfo, bool)
}

// StaticReference is an in-process ExerciseReference over a fixed table.
type StaticReference struct {
	entries []ExerciseInfo
}

// NewStaticReference builds a reference over the given entries.
func NewStaticReference(entries []ExerciseInfo) *StaticReference {
	return &StaticReference{entries: entries}
}

// Lookup implements ExerciseReference.
func (r *StaticReference) Lookup(name string) (*ExerciseInfo, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, false
	}
	// Exact match first, then qualified-name containment.
	for i := range r.entries {
		if strings.ToLower(r.entries[i].Name) == needle {
			return &r.entries[i], true
		}
	}
	for i := range r.entries {
		have := strings.ToLower(r.entries[i].Name)
		if strings.Contains(needle, have) || strings.Contains(have, needle) {
			return &r.entries[i], true
		}
	}
	return nil, false
}

// BuiltinReference returns the default reference table covering common
// barbell, dumbbell and bodyweight movements with their contraindication
// tags and substitutes.
func BuiltinReference() *StaticReference {
	return NewStaticReference([]ExerciseInfo{
		{
			Name:              "Deadlift",
			Category:          "hinge",
			Equipment:         []string{"barbell"},
			Contraindications: []string{"lower_back_pain", "herniated_disc", "sciatica"},
			Substitutes:       []string{"Glute Bridge", "Hip Thrust", "Bird Dog"},
		},
		{
			Name:              "Romanian Deadlift",
			Category:          "hinge",
			Equipment:         []string{"barbell"},
			Contraindications: []string{"lower_back_pain", "herniated_disc"},
			Substitutes:       []string{"Glute Bridge", "Hip Thrust"},
		},
		{
			Name:              "Barbell Row",
			Category:          "pull",
			Equipment:         []string{"barbell"},
			Contraindications: []string{"lower_back_pain"},
			Substitutes:       []string{"Chest-Supported Row", "Lat Pulldown"},
		},
		{
			Name:              "Back Squat",
			Category:          "squat",
			Equipment:         []string{"barbell", "rack"},
			Contraindications: []string{"knee_injury", "lower_back_pain"},
			Substitutes:       []string{"Leg Press", "Goblet Squat"},
		},
		{
			Name:              "Squat",
			Category:          "squat",
			Equipment:         []string{"barbell", "rack"},
			Contraindications: []string{"knee_injury"},
			Substitutes:       []string{"Leg Press", "Goblet Squat"},
		},
		{
			Name:              "Bench Press",
			Category:          "push",
			Equipment:         []string{"barbell", "bench"},
			Contraindications: []string{"shoulder_injury"},
			Substitutes:       []string{"Push-Up", "Dumbbell Press"},
		},
		{
			Name:              "Overhead Press",
			Category:          "push",
			Equipment:         []string{"barbell"},
			Contraindications: []string{"shoulder_injury", "shoulder_impingement"},
			Substitutes:       []string{"Landmine Press", "Incline Push-Up"},
		},
		{
			Name:              "Pull-Up",
			Category:          "pull",
			Equipment:         []string{"pull-up bar"},
			Contraindications: []string{"shoulder_injury"},
			Substitutes:       []string{"Lat Pulldown", "Inverted Row"},
		},
		{
			Name:              "Lat Pulldown",
			Category:          "pull",
			Equipment:         []string{"cable machine"},
			Substitutes:       []string{"Inverted Row"},
		},
		{
			Name:              "Lunge",
			Category:          "squat",
			Contraindications: []string{"knee_injury"},
			Substitutes:       []string{"Step-Up", "Glute Bridge"},
		},
		{
			Name:        "Leg Press",
			Category:    "squat",
			Equipment:   []string{"leg press machine"},
			Substitutes: []string{"Goblet Squat"},
		},
		{
			Name:        "Goblet Squat",
			Category:    "squat",
			Equipment:   []string{"dumbbell"},
			Substitutes: []string{"Bodyweight Squat"},
		},
		{
			Name:     "Push-Up",
			Category: "push",
		},
		{
			Name:     "Plank",
			Category: "core",
		},
		{
			Name:     "Bird Dog",
			Category: "core",
		},
		{
			Name:     "Glute Bridge",
			Category: "hinge",
		},
		{
			Name:        "Hip Thrust",
			Category:    "hinge",
			Equipment:   []string{"bench"},
			Substitutes: []string{"Glute Bridge"},
		},
		{
			Name:        "Bicep Curl",
			Category:    "isolation",
			Equipment:   []string{"dumbbell"},
			Substitutes: []string{"Resistance Band Curl"},
		},
		{
			Name:        "Dumbbell Press",
			Category:    "push",
			Equipment:   []string{"dumbbell", "bench"},
			Substitutes: []string{"Push-Up"},
		},
		{
			Name:     "Bodyweight Squat",
			Category: "squat",
		},
		{
			Name:     "Step-Up",
			Category: "squat",
		},
		{
			Name:        "Chest-Supported Row",
			Category:    "pull",
			Equipment:   []string{"dumbbell", "bench"},
			Substitutes: []string{"Inverted Row"},
		},
		{
			Name:     "Inverted Row",
			Category: "pull",
		},
		{
			Name:        "Landmine Press",
			Category:    "push",
			Equipment:   []string{"barbell"},
			Substitutes: []string{"Incline Push-Up"},
		},
		{
			Name:     "Incline Push-Up",
			Category: "push",
		},
	})
}

// normalizeTag lowercases and collapses separators so condition strings
// ("Lower Back Pain") and tags ("lower_back_pain") compare equal.
func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// conditionMatches reports whether a declared condition matches a
// contraindication tag, in either containment direction.
func conditionMatches(condition, tag string) bool {
	c := normalizeTag(condition)
	t := normalizeTag(tag)
	if c == "" || t == "" {
		return false
	}
	return c == t || strings.Contains(c, t) || strings.Contains(t, c)
}
