// Package plan defines the workout-plan domain model shared by the
// adjustment pipeline: plans, sessions, user profiles, adjustment
// directives and the audit-trail types produced by an adjustment run.
package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

// Exercise is a single prescribed exercise within a session.
type Exercise struct {
	// Exercise is the exercise name, e.g. "Deadlift".
	Exercise string `json:"exercise"`

	// Sets is the number of working sets.
	Sets int `json:"sets"`

	// RepsOrDuration is the rep target or duration, e.g. "5x5" or "30s".
	RepsOrDuration string `json:"repsOrDuration"`

	// Rest is the rest prescription between sets, e.g. "90s".
	Rest string `json:"rest"`

	// Notes carries coaching cues (optional).
	Notes string `json:"notes,omitempty"`
}

// Session is one workout session: a name and an ordered exercise list.
type Session struct {
	SessionName string     `json:"sessionName"`
	Exercises   []Exercise `json:"exercises"`
}

// DayPlan is a single weekly-schedule entry: either a Session or a
// rest-marker string. Exactly one of the two fields is set.
type DayPlan struct {
	Session *Session
	Rest    string
}

// IsRest reports whether the entry is a rest marker.
func (d DayPlan) IsRest() bool {
	return d.Session == nil
}

// MarshalJSON keeps the wire shape of the schedule entry: a session
// object, or a bare string for rest days.
func (d DayPlan) MarshalJSON() ([]byte, error) {
	if d.Session != nil {
		return json.Marshal(d.Session)
	}
	return json.Marshal(d.Rest)
}

// UnmarshalJSON accepts either a session object or a rest-marker string.
func (d *DayPlan) UnmarshalJSON(data []byte) error {
	var rest string
	if err := json.Unmarshal(data, &rest); err == nil {
		d.Rest = rest
		d.Session = nil
		return nil
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("plan: schedule entry is neither session nor rest marker: %w", err)
	}
	d.Session = &session
	d.Rest = ""
	return nil
}

// AdjustmentRecord is one audit-trail entry appended to a plan each time
// the pipeline produces a new version.
type AdjustmentRecord struct {
	// ID uniquely identifies the history entry.
	ID string `json:"id"`

	// Summary describes the feedback that triggered the adjustment.
	Summary string `json:"summary"`

	// Timestamp is when the adjustment was made.
	Timestamp time.Time `json:"timestamp"`
}

// WorkoutPlan is a versioned workout plan. Plans are never edited in
// place: every adjustment produces a new plan value with a new PlanID.
type WorkoutPlan struct {
	// PlanID is the immutable plan identifier.
	PlanID string `json:"planId"`

	// PlanName is the human-readable plan name.
	PlanName string `json:"planName"`

	// WeeklySchedule maps day names to sessions or rest markers.
	WeeklySchedule map[string]DayPlan `json:"weeklySchedule"`

	// AdjustmentHistory is the ordered list of adjustments applied to
	// reach this version.
	AdjustmentHistory []AdjustmentRecord `json:"adjustmentHistory,omitempty"`

	// UpdatedAt is when this version was produced.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences is the preference subset of a user profile the pipeline
// consumes.
type Preferences struct {
	// Equipment lists the equipment available to the user. An empty list
	// means no equipment constraint is declared.
	Equipment []string `json:"equipment,omitempty"`

	// WorkoutFrequency is the target sessions per week, e.g. "4x/week".
	WorkoutFrequency string `json:"workoutFrequency,omitempty"`

	// TimeConstraints describes session length limits, e.g. "45min".
	TimeConstraints string `json:"timeConstraints,omitempty"`
}

// UserProfile is the profile subset consumed by the pipeline.
type UserProfile struct {
	UserID            string      `json:"user_id"`
	FitnessLevel      string      `json:"fitnessLevel,omitempty"`
	Goals             []string    `json:"goals,omitempty"`
	MedicalConditions []string    `json:"medical_conditions,omitempty"`
	Restrictions      []string    `json:"restrictions,omitempty"`
	Preferences       Preferences `json:"preferences,omitempty"`
}

// DirectiveCategory classifies an adjustment directive.
type DirectiveCategory string

// The fixed directive categories. Free-text feedback is always normalized
// into one of these.
const (
	CategorySubstitution        DirectiveCategory = "substitution"
	CategoryVolume              DirectiveCategory = "volume"
	CategoryIntensity           DirectiveCategory = "intensity"
	CategorySchedule            DirectiveCategory = "schedule"
	CategoryRestPeriod          DirectiveCategory = "restPeriod"
	CategoryEquipmentLimitation DirectiveCategory = "equipmentLimitation"
	CategoryPainConcern         DirectiveCategory = "painConcern"
	CategoryGeneral             DirectiveCategory = "general"
)

// ValidCategory reports whether c is one of the fixed categories.
func ValidCategory(c DirectiveCategory) bool {
	switch c {
	case CategorySubstitution, CategoryVolume, CategoryIntensity,
		CategorySchedule, CategoryRestPeriod, CategoryEquipmentLimitation,
		CategoryPainConcern, CategoryGeneral:
		return true
	}
	return false
}

// AdjustmentDirective is a normalized instruction derived from free-text
// feedback.
type AdjustmentDirective struct {
	// Category is the adjustment type.
	Category DirectiveCategory `json:"category"`

	// Target names the exercise or day the directive applies to.
	Target string `json:"target"`

	// RequestedChange describes the change to make.
	RequestedChange string `json:"requestedChange"`

	// Rationale is why the user wants the change.
	Rationale string `json:"rationale,omitempty"`
}

// ChangeStatus is the terminal status of a directive after Stage 4.
type ChangeStatus string

const (
	// StatusApplied means the directive mutated the plan.
	StatusApplied ChangeStatus = "applied"

	// StatusSkipped means the directive was rejected with a reason.
	StatusSkipped ChangeStatus = "skipped"
)

// ChangeRecord records the outcome of a single directive.
type ChangeRecord struct {
	// Directive is the directive this record refers to.
	Directive AdjustmentDirective `json:"directive"`

	// Outcome describes what was done (or would have been done).
	Outcome string `json:"outcome"`

	// Status is "applied" or "skipped".
	Status ChangeStatus `json:"status"`

	// Reason explains a skip. Empty for applied changes.
	Reason string `json:"reason,omitempty"`

	// PreviousValue captures the mutated value before the change.
	PreviousValue string `json:"previousValue,omitempty"`

	// NewValue captures the mutated value after the change.
	NewValue string `json:"newValue,omitempty"`
}

// ReasoningStep is one entry of the ordered stage log carried through the
// pipeline result.
type ReasoningStep struct {
	// Stage is the stage tag, e.g. "Initial Understanding".
	Stage string `json:"stage"`

	// Detail is the stage's note for the log.
	Detail string `json:"detail"`
}

// PlanComparison is the before/after summary built during Reflection.
type PlanComparison struct {
	// SessionsBefore and SessionsAfter count non-rest days.
	SessionsBefore int `json:"sessionsBefore"`
	SessionsAfter  int `json:"sessionsAfter"`

	// ExercisesBefore and ExercisesAfter count exercise entries.
	ExercisesBefore int `json:"exercisesBefore"`
	ExercisesAfter  int `json:"exercisesAfter"`

	// TotalSetsBefore and TotalSetsAfter sum working sets.
	TotalSetsBefore int `json:"totalSetsBefore"`
	TotalSetsAfter  int `json:"totalSetsAfter"`

	// ChangedDays lists the days whose entries differ between versions.
	ChangedDays []string `json:"changedDays,omitempty"`
}

// AdjustmentResult is the full outcome of one pipeline run.
type AdjustmentResult struct {
	// Status is "success" when every stage completed, "partial" when a
	// later-stage failure was folded into the result.
	Status string `json:"status"`

	// OriginalPlanID is the identifier of the input plan.
	OriginalPlanID string `json:"originalPlanId"`

	// AdjustedPlanID is the deterministic new version identifier,
	// "adj_{originalPlanId}_{epochMillis}".
	AdjustedPlanID string `json:"adjustedPlanId,omitempty"`

	// AdjustedPlan is the new plan version.
	AdjustedPlan *WorkoutPlan `json:"adjustedPlan,omitempty"`

	// AppliedChanges lists directives that mutated the plan.
	AppliedChanges []ChangeRecord `json:"appliedChanges"`

	// SkippedChanges lists directives rejected with a reason.
	SkippedChanges []ChangeRecord `json:"skippedChanges"`

	// Reasoning is the ordered stage log.
	Reasoning []ReasoningStep `json:"reasoning"`

	// Warnings carries safety flags and degradations.
	Warnings []string `json:"warnings,omitempty"`

	// Errors carries folded later-stage failures.
	Errors []string `json:"errors,omitempty"`

	// Comparison is the before/after summary from Reflection.
	Comparison *PlanComparison `json:"comparison,omitempty"`

	// Explanations maps change targets to human-readable explanations.
	Explanations map[string]string `json:"explanations,omitempty"`

	// FeedbackSummary is a one-line summary of the user feedback.
	FeedbackSummary string `json:"feedbackSummary,omitempty"`
}
