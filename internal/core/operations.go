package core

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/ingest"
	"github.com/dohr-michael/dayflow/internal/nudge"
	"github.com/dohr-michael/dayflow/internal/store"
	"github.com/dohr-michael/dayflow/internal/syncer"
)

// RunIngest runs one ingestion pass for (user, source).
func (a *App) RunIngest(ctx context.Context, user string, source domain.Source) (*ingest.Report, error) {
	switch source {
	case domain.SourceCalendar:
		if a.clients.Calendar == nil {
			return nil, fault.Newf(fault.InvalidRequest, "no calendar provider configured")
		}
	case domain.SourceMail:
		if a.clients.Mail == nil {
			return nil, fault.Newf(fault.InvalidRequest, "no mail provider configured")
		}
	case domain.SourceTaskManager:
		if a.clients.TaskManager == nil {
			return nil, fault.Newf(fault.InvalidRequest, "no task manager provider configured")
		}
	default:
		return nil, fault.Newf(fault.InvalidRequest, "unknown ingest source %q", source)
	}
	return a.pipeline.Run(ctx, user, source)
}

// GeneratePlan builds and installs the plan for (user, date); empty date
// means the user's current local day.
func (a *App) GeneratePlan(ctx context.Context, user, date string) (*domain.DailyPlan, error) {
	return a.planner.GeneratePlan(ctx, user, date)
}

// GeneratePlanForUser is the daily cron entrypoint.
func (a *App) GeneratePlanForUser(ctx context.Context, user string) error {
	_, err := a.planner.GeneratePlan(ctx, user, "")
	return err
}

// GetPlan returns the stored plan for (user, date), nil when none exists.
func (a *App) GetPlan(ctx context.Context, user, date string) (*domain.DailyPlan, error) {
	if date == "" {
		date = a.cfg.WorkingWindow.LocalDate(a.clk.Now())
	}
	return a.store.GetPlan(ctx, user, date)
}

// UpdatePlanStatus transitions a plan owned by user.
func (a *App) UpdatePlanStatus(ctx context.Context, user, planID string, status domain.PlanStatus) error {
	plan, err := a.store.GetPlanByID(ctx, planID)
	if err != nil {
		return err
	}
	if plan.User != user {
		return fault.Newf(fault.InvalidRequest, "plan %s not found", planID)
	}
	switch status {
	case domain.PlanActive, domain.PlanCompleted, domain.PlanCancelled:
	default:
		return fault.Newf(fault.InvalidRequest, "unknown plan status %q", status)
	}
	if err := a.store.UpdatePlanStatus(ctx, planID, status); err != nil {
		return err
	}
	a.bus.Publish(events.NewEvent(events.EventPlanUpdated, events.SourceGateway, user, map[string]any{
		"plan_id": planID, "status": string(status),
	}))
	return nil
}

// RecordFeedback applies a done/snooze reaction.
func (a *App) RecordFeedback(ctx context.Context, fb *domain.TaskFeedback) error {
	return a.nudger.RecordFeedback(ctx, fb)
}

// ListNotifications returns a user's notifications, optionally filtered by
// status and capped at limit (0 returns all).
func (a *App) ListNotifications(ctx context.Context, user string, status domain.NotificationStatus, limit int) ([]*domain.Notification, error) {
	return a.store.ListNotifications(ctx, user, status, limit)
}

// DismissNotification dismisses a notification owned by user, freeing its
// reservation slot.
func (a *App) DismissNotification(ctx context.Context, user, id string) (*domain.Notification, error) {
	existing, err := a.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.User != user {
		return nil, fault.Newf(fault.InvalidRequest, "notification %s not found", id)
	}
	n, err := a.store.DismissNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	a.bus.Publish(events.NewEvent(events.EventNudgeDismissed, events.SourceGateway, user, map[string]any{
		"notification_id": id, "task_id": n.TaskID,
	}))
	return n, nil
}

// SyncTaskManager runs one bidirectional sync cycle.
func (a *App) SyncTaskManager(ctx context.Context, user string) (*syncer.Report, error) {
	if a.clients.TaskManager == nil {
		return nil, fault.Newf(fault.InvalidRequest, "no task manager provider configured")
	}
	return a.syncer.Sync(ctx, user)
}

// ResolveConflict settles a conflicted task toward local or external.
func (a *App) ResolveConflict(ctx context.Context, user, taskID string, choice syncer.Resolution) error {
	return a.syncer.ResolveConflict(ctx, user, taskID, choice)
}

// SyncStatus reports the user's task-manager connection health.
func (a *App) SyncStatus(ctx context.Context, user string) (*syncer.StatusSummary, error) {
	return a.syncer.Status(ctx, user)
}

// SetEnergy records the user's energy level for a date (empty = today).
func (a *App) SetEnergy(ctx context.Context, user, date string, level int) error {
	if date == "" {
		date = a.cfg.WorkingWindow.LocalDate(a.clk.Now())
	}
	return a.store.SetEnergy(ctx, domain.EnergyLevel{User: user, Date: date, Level: level})
}

// ListTasks returns a user's tasks through the store filter.
func (a *App) ListTasks(ctx context.Context, user string, f store.TaskFilter) ([]*domain.Task, error) {
	return a.store.ListTasks(ctx, user, f)
}

// UpdateTaskFlags updates the user-owned flags on a task; nil leaves a flag
// untouched.
func (a *App) UpdateTaskFlags(ctx context.Context, user, taskID string, critical, urgent, completed *bool) (*domain.Task, error) {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.User != user {
		return nil, fault.Newf(fault.InvalidRequest, "task %s not found", taskID)
	}
	return a.store.UpdateTaskFlags(ctx, taskID, critical, urgent, completed)
}

// PromoteReminder copies a reminder into the task store as a manual task and
// removes the reminder. The promoted task competes for plan slots like any
// other.
func (a *App) PromoteReminder(ctx context.Context, user, reminderID string) (*domain.Task, error) {
	rem, err := a.store.GetReminder(ctx, reminderID)
	if err != nil {
		return nil, err
	}
	if rem.User != user {
		return nil, fault.Newf(fault.InvalidRequest, "reminder %s not found", reminderID)
	}

	task := &domain.Task{
		User:          user,
		Source:        domain.SourceManual,
		Title:         rem.Title,
		Description:   rem.Description,
		Start:         rem.Start,
		End:           rem.End,
		Priority:      domain.PriorityNormal,
		SyncStatus:    domain.SyncSynced,
		SyncDirection: domain.SyncInbound,
		RawPayload:    rem.RawPayload,
	}
	if rem.IsAllDay {
		// All-day reminders promote to a morning slot rather than a
		// day-spanning block.
		lo, _ := a.cfg.WorkingWindow.Bounds(rem.Start)
		task.Start = lo
		task.End = lo.Add(time.Hour)
	}
	if err := a.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := a.store.DeleteReminder(ctx, reminderID); err != nil {
		return nil, err
	}
	return task, nil
}

// ListReminders returns a user's reminders.
func (a *App) ListReminders(ctx context.Context, user string) ([]*domain.Reminder, error) {
	return a.store.ListReminders(ctx, user)
}

// FeedbackSummary aggregates a user's reactions since a cutoff.
type FeedbackSummary struct {
	User       string    `json:"user_id"`
	Since      time.Time `json:"since"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Snoozed    int       `json:"snoozed"`
	SnoozeRate float64   `json:"snooze_rate"`
}

// GetFeedbackSummary computes completion/snooze counts over the window
// ending now.
func (a *App) GetFeedbackSummary(ctx context.Context, user string, window time.Duration) (*FeedbackSummary, error) {
	since := a.clk.Now().Add(-window)
	feedback, err := a.store.FeedbackSince(ctx, user, since)
	if err != nil {
		return nil, err
	}
	summary := &FeedbackSummary{User: user, Since: since}
	for _, fb := range feedback {
		summary.Total++
		switch fb.Action {
		case domain.FeedbackDone:
			summary.Done++
		case domain.FeedbackSnoozed:
			summary.Snoozed++
		}
	}
	if summary.Total > 0 {
		summary.SnoozeRate = float64(summary.Snoozed) / float64(summary.Total)
	}
	return summary, nil
}

// ListEvents returns the most recent lifecycle events.
func (a *App) ListEvents(limit int) []events.Event {
	return a.bus.History(limit)
}

// TickNudges runs one nudge pass immediately, outside the scheduler. The CLI
// uses this for manual testing of a deployment.
func (a *App) TickNudges(ctx context.Context) nudge.TickReport {
	return a.nudger.Tick(ctx)
}
