package nudge

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/fault"
)

// RecordFeedback applies a user's reaction to a nudged task. "done" marks
// the entry and the task complete; "snoozed" pushes the entry's window later
// in the same day. Either way the feedback row feeds future snooze learning.
// The nudge reservation stays in place so the task is not re-nudged for the
// same plan.
func (n *Nudger) RecordFeedback(ctx context.Context, fb *domain.TaskFeedback) error {
	switch fb.Action {
	case domain.FeedbackDone, domain.FeedbackSnoozed:
	default:
		return fault.Newf(fault.InvalidRequest, "unknown feedback action %q", fb.Action)
	}
	if fb.Action == domain.FeedbackSnoozed && fb.SnoozeDuration <= 0 {
		fb.SnoozeDuration = 60
	}
	now := n.clk.Now()
	fb.At = now

	if fb.PlanID != "" {
		_, err := n.store.MutatePlanEntry(ctx, fb.PlanID, fb.TaskID, func(e *domain.PlanEntry) error {
			switch fb.Action {
			case domain.FeedbackDone:
				e.Status = domain.EntryDone
			case domain.FeedbackSnoozed:
				e.Status = domain.EntrySnoozed
				shift := time.Duration(fb.SnoozeDuration) * time.Minute
				duration := e.PredictedEnd.Sub(e.PredictedStart)
				shifted := e.PredictedStart.Add(shift)
				// Snoozing never pushes an entry into tomorrow.
				if eod := n.window.EndOfDay(e.PredictedStart); shifted.After(eod) {
					shifted = eod
				}
				e.PredictedStart = shifted
				e.PredictedEnd = shifted.Add(duration)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if fb.Action == domain.FeedbackDone {
		done := true
		if _, err := n.store.UpdateTaskFlags(ctx, fb.TaskID, nil, nil, &done); err != nil {
			return err
		}
	}

	if err := n.store.InsertFeedback(ctx, fb); err != nil {
		return err
	}

	if n.bus != nil {
		n.bus.Publish(events.NewEvent(events.EventFeedbackRecorded, events.SourceNudger, fb.User, map[string]any{
			"task_id": fb.TaskID, "plan_id": fb.PlanID, "action": string(fb.Action),
		}))
	}
	return nil
}
