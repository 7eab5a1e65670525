// Package extract normalizes raw provider items into tasks, reminders, or
// skips. Rules decide structure; the model refines judgement calls.
package extract

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/llm"
	"github.com/dohr-michael/dayflow/internal/provider"
)

// Outcome is the result of extracting one raw item. Exactly one of Task,
// Reminder, or SkipReason is set.
type Outcome struct {
	Task       *domain.Task
	Reminder   *domain.Reminder
	SkipReason string
	SpamScore  float64
}

func skip(reason string) Outcome { return Outcome{SkipReason: reason} }

// Extractor turns raw provider items into normalized outcomes.
type Extractor struct {
	llm    *llm.Client // nil runs rules only
	spam   *SpamFilter
	window config.WorkingWindowConfig
}

// New builds an Extractor. client may be nil for rules-only operation.
func New(client *llm.Client, spamThreshold float64, promoPatterns []string, window config.WorkingWindowConfig) *Extractor {
	return &Extractor{
		llm:    client,
		spam:   NewSpamFilter(client, spamThreshold, promoPatterns),
		window: window,
	}
}

// FromCalendarEvent maps one calendar event. Cancelled events and recurring
// series masters (the series shell, not a concrete occurrence) are skipped;
// all-day events become reminders; timed events become tasks.
func (e *Extractor) FromCalendarEvent(user string, ev *provider.CalendarEvent) Outcome {
	if ev.Cancelled {
		return skip("cancelled event")
	}
	if ev.IsSeriesMaster {
		return skip("recurring series master without occurrence")
	}
	if ev.Title == "" {
		return skip("event without title")
	}

	if ev.IsAllDay {
		return Outcome{Reminder: &domain.Reminder{
			User:        user,
			Source:      domain.SourceCalendar,
			Title:       ev.Title,
			Description: ev.Description,
			Start:       ev.Start,
			End:         ev.End,
			IsAllDay:    true,
			ExternalID:  ev.ID,
			RawPayload:  ev.Raw,
		}}
	}

	critical, urgent := FlagsFromText(ev.Title, ev.Description)
	var extUpdated *time.Time
	if !ev.UpdatedAt.IsZero() {
		u := ev.UpdatedAt
		extUpdated = &u
	}
	return Outcome{Task: &domain.Task{
		User:              user,
		Source:            domain.SourceCalendar,
		Title:             ev.Title,
		Description:       ev.Description,
		Start:             ev.Start,
		End:               ev.End,
		Attendees:         ev.Attendees,
		Location:          ev.Location,
		Recurrence:        ev.Recurrence,
		Priority:          PriorityFromText(ev.Title, ev.Description),
		IsCritical:        critical,
		IsUrgent:          urgent,
		ExternalID:        ev.ID,
		SyncStatus:        domain.SyncSynced,
		SyncDirection:     domain.SyncInbound,
		ExternalUpdatedAt: extUpdated,
		RawPayload:        ev.Raw,
	}}
}

// FromMailMessage maps one email. Spam is persisted as a flagged task so the
// run report and later review can see it; non-actionable mail is skipped.
func (e *Extractor) FromMailMessage(ctx context.Context, user string, msg *provider.MailMessage) Outcome {
	verdict := e.spam.Judge(ctx, msg)
	if verdict.Spam {
		due := e.window.EndOfDay(msg.ReceivedAt)
		return Outcome{
			SpamScore: verdict.Score,
			Task: &domain.Task{
				User:          user,
				Source:        domain.SourceMail,
				Title:         msg.Subject,
				Description:   firstN(msg.Snippet, 280),
				Start:         due.Add(-30 * time.Minute),
				End:           due,
				Priority:      domain.PriorityLow,
				IsSpam:        true,
				SpamReason:    verdict.Reason,
				SpamScore:     verdict.Score,
				ExternalID:    msg.ID,
				SyncStatus:    domain.SyncSynced,
				SyncDirection: domain.SyncInbound,
				RawPayload:    msg.Raw,
			},
		}
	}

	mt, ok := e.ExtractMailTask(ctx, msg)
	if !ok {
		return skip("not actionable")
	}

	due := mt.Due
	if due.IsZero() {
		due = e.window.EndOfDay(msg.ReceivedAt)
	}
	priority := domain.Priority(mt.Priority)
	switch priority {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		priority = PriorityFromText(mt.Title, mt.Description)
	}
	// A deadline extracted for the next 24 hours makes the task high
	// priority regardless of what the text hinted.
	if !mt.Due.IsZero() {
		priority = PriorityForDeadline(priority, mt.Due, msg.ReceivedAt)
	}
	critical, urgent := FlagsFromText(mt.Title, mt.Description)
	return Outcome{
		SpamScore: verdict.Score,
		Task: &domain.Task{
			User:          user,
			Source:        domain.SourceMail,
			Title:         mt.Title,
			Description:   mt.Description,
			Start:         due.Add(-30 * time.Minute),
			End:           due,
			Priority:      priority,
			IsCritical:    critical,
			IsUrgent:      urgent,
			SpamScore:     verdict.Score,
			ExternalID:    msg.ID,
			SyncStatus:    domain.SyncSynced,
			SyncDirection: domain.SyncInbound,
			RawPayload:    msg.Raw,
		},
	}
}

// FromTaskItem maps one task-manager item. Deletions are skipped here; the
// sync engine owns deletion semantics.
func (e *Extractor) FromTaskItem(user string, item *provider.TaskItem) Outcome {
	if item.Deleted {
		return skip("deleted upstream")
	}
	if item.Title == "" {
		return skip("item without title")
	}

	priority, critical, urgent := PriorityFromManagerScale(item.Priority)

	due := item.Due
	if due.IsZero() {
		due = e.window.EndOfDay(item.UpdatedAt)
	}
	var completedAt *time.Time
	if item.Completed {
		u := item.UpdatedAt
		completedAt = &u
	}
	var extUpdated *time.Time
	if !item.UpdatedAt.IsZero() {
		u := item.UpdatedAt
		extUpdated = &u
	}
	return Outcome{Task: &domain.Task{
		User:              user,
		Source:            domain.SourceTaskManager,
		Title:             item.Title,
		Description:       item.Description,
		Start:             due.Add(-time.Hour),
		End:               due,
		Priority:          priority,
		IsCritical:        critical,
		IsUrgent:          urgent,
		IsCompleted:       item.Completed,
		CompletedAt:       completedAt,
		ExternalID:        item.ID,
		SyncStatus:        domain.SyncSynced,
		SyncDirection:     domain.SyncBidirectional,
		ExternalUpdatedAt: extUpdated,
		RawPayload:        item.Raw,
	}}
}
