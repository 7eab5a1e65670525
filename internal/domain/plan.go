package domain

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a daily plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

// EntryStatus is the denormalized per-entry state within a plan.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryDone    EntryStatus = "done"
	EntrySnoozed EntryStatus = "snoozed"
)

// PlanEntry is one scheduled task within a daily plan.
type PlanEntry struct {
	TaskID         string      `json:"task_id"`
	Title          string      `json:"title"`
	PredictedStart time.Time   `json:"predicted_start"`
	PredictedEnd   time.Time   `json:"predicted_end"`
	PriorityScore  float64     `json:"priority_score"`
	IsCritical     bool        `json:"is_critical"`
	IsUrgent       bool        `json:"is_urgent"`
	ActionPlan     []string    `json:"action_plan,omitempty"`
	Status         EntryStatus `json:"status"`
}

// DailyPlan is the ordered schedule for a user on one date.
type DailyPlan struct {
	ID          string      `json:"id"`
	User        string      `json:"user_id"`
	Date        string      `json:"plan_date"` // YYYY-MM-DD in the user's zone
	Status      PlanStatus  `json:"status"`
	EnergyLevel int         `json:"energy_level,omitempty"`
	Entries     []PlanEntry `json:"tasks"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Entry returns the plan entry for a task, nil if absent.
func (p *DailyPlan) Entry(taskID string) *PlanEntry {
	for i := range p.Entries {
		if p.Entries[i].TaskID == taskID {
			return &p.Entries[i]
		}
	}
	return nil
}

// NewPlanID creates a unique plan identifier.
func NewPlanID() string { return newID("plan") }

// EnergyLevel records the user's self-reported energy for a date, 1..5.
type EnergyLevel struct {
	User  string `json:"user_id"`
	Date  string `json:"date"`
	Level int    `json:"level"`
}

// Validate rejects levels outside 1..5.
func (e EnergyLevel) Validate() error {
	if e.Level < 1 || e.Level > 5 {
		return fmt.Errorf("energy level %d out of range 1..5", e.Level)
	}
	return nil
}

// DefaultEnergyLevel is assumed when the user recorded nothing for the day.
const DefaultEnergyLevel = 3

// FeedbackAction is what the user did with a nudged task.
type FeedbackAction string

const (
	FeedbackDone    FeedbackAction = "done"
	FeedbackSnoozed FeedbackAction = "snoozed"
)

// TaskFeedback is an append-only record of a user action on a task.
type TaskFeedback struct {
	ID             string         `json:"id"`
	User           string         `json:"user_id"`
	TaskID         string         `json:"task_id"`
	PlanID         string         `json:"plan_id,omitempty"`
	Action         FeedbackAction `json:"action"`
	SnoozeDuration int            `json:"snooze_duration_minutes,omitempty"`
	At             time.Time      `json:"feedback_at"`
}

// NewFeedbackID creates a unique feedback identifier.
func NewFeedbackID() string { return newID("fb") }
