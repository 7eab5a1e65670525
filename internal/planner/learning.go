package planner

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
)

// Snooze learning: when the user has repeatedly snoozed tasks planned in a
// given hour of day, later plans shift that hour's entries one hour later.
const (
	learningLookback  = 14 * 24 * time.Hour
	minBucketSamples  = 4
	snoozeRateToShift = 0.5
	learnedShift      = time.Hour
)

type feedbackReader interface {
	FeedbackSince(ctx context.Context, user string, since time.Time) ([]*domain.TaskFeedback, error)
	GetPlanByID(ctx context.Context, id string) (*domain.DailyPlan, error)
}

// SnoozeProfile maps hour-of-day (in the user's zone) to whether entries
// planned there should shift later.
type SnoozeProfile map[int]bool

// LearnSnoozeProfile aggregates the last two weeks of feedback into per-hour
// snooze rates. Hours with at least minBucketSamples actions and a snooze
// rate of snoozeRateToShift or more are marked for shifting.
func LearnSnoozeProfile(ctx context.Context, store feedbackReader, user string, now time.Time, loc *time.Location) (SnoozeProfile, error) {
	feedback, err := store.FeedbackSince(ctx, user, now.Add(-learningLookback))
	if err != nil {
		return nil, err
	}

	type bucket struct{ snoozed, total int }
	buckets := map[int]*bucket{}
	planCache := map[string]*domain.DailyPlan{}

	for _, fb := range feedback {
		if fb.PlanID == "" {
			continue
		}
		plan, ok := planCache[fb.PlanID]
		if !ok {
			plan, err = store.GetPlanByID(ctx, fb.PlanID)
			if err != nil {
				// Superseded plans may be gone; their feedback cannot be
				// bucketed by planned hour.
				planCache[fb.PlanID] = nil
				continue
			}
			planCache[fb.PlanID] = plan
		}
		if plan == nil {
			continue
		}
		entry := plan.Entry(fb.TaskID)
		if entry == nil {
			continue
		}

		hour := entry.PredictedStart.In(loc).Hour()
		b := buckets[hour]
		if b == nil {
			b = &bucket{}
			buckets[hour] = b
		}
		b.total++
		if fb.Action == domain.FeedbackSnoozed {
			b.snoozed++
		}
	}

	profile := SnoozeProfile{}
	for hour, b := range buckets {
		if b.total >= minBucketSamples && float64(b.snoozed)/float64(b.total) >= snoozeRateToShift {
			profile[hour] = true
		}
	}
	return profile, nil
}

// Apply shifts an entry's window one hour later when its planned hour is
// marked, keeping it inside the day it was planned for.
func (p SnoozeProfile) Apply(start, end time.Time, loc *time.Location, latest time.Time) (time.Time, time.Time) {
	if !p[start.In(loc).Hour()] {
		return start, end
	}
	shifted := start.Add(learnedShift)
	if shifted.After(latest) {
		return start, end
	}
	return shifted, end.Add(learnedShift)
}
