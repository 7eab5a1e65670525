package planner

import (
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
)

// Deterministic score weights. The sum of all components is bounded by 1.
const (
	weightPriority = 0.45
	weightCritical = 0.25
	weightUrgent   = 0.15
	weightEnergy   = 0.10
	weightRecency  = 0.05
)

// RequiredEnergy estimates how demanding a task is, 1..5, from its duration
// and surface complexity.
func RequiredEnergy(t *domain.Task) int {
	level := 1

	switch d := t.End.Sub(t.Start); {
	case d >= 3*time.Hour:
		level += 2
	case d >= time.Hour:
		level++
	}

	if len(t.Description) > 200 {
		level++
	}
	if len(t.Attendees) >= 3 {
		level++
	}

	if level > 5 {
		level = 5
	}
	return level
}

// energyFit is 1 when the task's required energy matches the user's level
// exactly and decays linearly with the gap.
func energyFit(required, user int) float64 {
	gap := required - user
	if gap < 0 {
		gap = -gap
	}
	return 1 - float64(gap)/4
}

// recencyBoost favors recently created tasks, decaying to zero over a week.
func recencyBoost(t *domain.Task, now time.Time) float64 {
	age := now.Sub(t.CreatedAt)
	if age < 0 {
		age = 0
	}
	const week = 7 * 24 * time.Hour
	if age >= week {
		return 0
	}
	return 1 - float64(age)/float64(week)
}

// Score computes the deterministic priority score for a task given the
// user's energy level for the day.
func Score(t *domain.Task, userEnergy int, now time.Time) float64 {
	s := weightPriority * t.Priority.Weight()
	if t.IsCritical {
		s += weightCritical
	}
	if t.IsUrgent {
		s += weightUrgent
	}
	s += weightEnergy * energyFit(RequiredEnergy(t), userEnergy)
	s += weightRecency * recencyBoost(t, now)
	return s
}
