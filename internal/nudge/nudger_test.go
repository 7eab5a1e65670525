package nudge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/store"
)

var testWindow = config.WorkingWindowConfig{
	Timezone: "UTC",
	Earliest: "08:00",
	Latest:   "20:00",
}

// 2026-03-02 10:00 UTC, a Monday.
func testNow() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

func testNudger(t *testing.T) (*Nudger, *store.Store, *clock.Fake) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.NewFake(testNow())))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clk := clock.NewFake(testNow())
	n := New(Config{
		Store:     s,
		Clock:     clk,
		Window:    testWindow,
		Lookahead: 15 * time.Minute,
		Grace:     10 * time.Minute,
		Tick:      2 * time.Minute,
	})
	return n, s, clk
}

func seedTask(t *testing.T, s *store.Store, id, title string, critical, urgent bool) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:       id,
		User:     "alice",
		Source:   domain.SourceCalendar,
		Title:    title,
		Start:    testNow(),
		End:      testNow().Add(30 * time.Minute),
		Priority: domain.PriorityNormal,

		IsCritical: critical,
		IsUrgent:   urgent,
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task %s: %v", id, err)
	}
	return task
}

func seedPlan(t *testing.T, s *store.Store, entries ...domain.PlanEntry) *domain.DailyPlan {
	t.Helper()
	plan := &domain.DailyPlan{
		User:    "alice",
		Date:    testWindow.LocalDate(testNow()),
		Entries: entries,
	}
	if err := s.ReplacePlan(context.Background(), plan); err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	return plan
}

func entryAt(taskID, title string, start time.Time, critical, urgent bool) domain.PlanEntry {
	return domain.PlanEntry{
		TaskID:         taskID,
		Title:          title,
		PredictedStart: start,
		PredictedEnd:   start.Add(30 * time.Minute),
		IsCritical:     critical,
		IsUrgent:       urgent,
		Status:         domain.EntryPending,
	}
}

func TestTickNudgesOnlyEntriesInsideWindow(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()
	now := testNow()

	seedTask(t, s, "task_soon", "Standup", false, false)
	seedTask(t, s, "task_recent", "Review", false, false)
	seedTask(t, s, "task_later", "Deep work", false, false)
	seedTask(t, s, "task_missed", "Old thing", false, false)
	seedPlan(t, s,
		entryAt("task_soon", "Standup", now.Add(5*time.Minute), false, false),
		entryAt("task_recent", "Review", now.Add(-5*time.Minute), false, false),
		entryAt("task_later", "Deep work", now.Add(2*time.Hour), false, false),
		entryAt("task_missed", "Old thing", now.Add(-30*time.Minute), false, false),
	)

	report := n.Tick(ctx)
	if len(report.Errors) != 0 {
		t.Fatalf("tick errors: %v", report.Errors)
	}
	if report.Plans != 1 {
		t.Fatalf("plans = %d, want 1", report.Plans)
	}
	// Lookahead 15m and grace 10m admit +5m and -5m but not +2h or -30m.
	if report.Sent != 2 {
		t.Fatalf("sent = %d, want 2", report.Sent)
	}

	sent, err := s.ListNotifications(ctx, "alice", domain.NotificationSent, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("stored sent notifications = %d, want 2", len(sent))
	}
	for _, ntf := range sent {
		if ntf.SentAt == nil {
			t.Errorf("notification %s has no sent_at", ntf.ID)
		}
	}
}

func TestTickMessageSeverity(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()
	now := testNow()

	seedTask(t, s, "task_crit", "Incident call", true, true)
	seedTask(t, s, "task_urg", "Send report", false, true)
	seedTask(t, s, "task_norm", "Tidy desk", false, false)
	seedPlan(t, s,
		entryAt("task_crit", "Incident call", now.Add(2*time.Minute), true, true),
		entryAt("task_urg", "Send report", now.Add(3*time.Minute), false, true),
		entryAt("task_norm", "Tidy desk", now.Add(4*time.Minute), false, false),
	)

	if report := n.Tick(ctx); report.Sent != 3 {
		t.Fatalf("sent = %d, want 3", report.Sent)
	}

	sent, err := s.ListNotifications(ctx, "alice", domain.NotificationSent, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	byTask := map[string]string{}
	for _, ntf := range sent {
		byTask[ntf.TaskID] = ntf.Message
	}
	want := map[string]string{
		"task_crit": "🔴 CRITICAL: Incident call is starting now",
		"task_urg":  "⚠️ URGENT: Send report is starting now",
		"task_norm": "📋 Tidy desk is starting now",
	}
	for taskID, msg := range want {
		if byTask[taskID] != msg {
			t.Errorf("message for %s = %q, want %q", taskID, byTask[taskID], msg)
		}
	}
}

func TestTickIsAtMostOncePerPlanEntry(t *testing.T) {
	n, s, clk := testNudger(t)
	ctx := context.Background()

	seedTask(t, s, "task_a", "Standup", false, false)
	seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(5*time.Minute), false, false))

	if report := n.Tick(ctx); report.Sent != 1 {
		t.Fatalf("first tick sent = %d, want 1", report.Sent)
	}

	// Still inside the window two minutes later; the reservation must hold.
	clk.Advance(2 * time.Minute)
	report := n.Tick(ctx)
	if report.Sent != 0 {
		t.Fatalf("second tick sent = %d, want 0", report.Sent)
	}
	if report.AlreadyReserved != 1 {
		t.Fatalf("second tick already reserved = %d, want 1", report.AlreadyReserved)
	}
}

func TestTickStaysSuppressedAcrossPlanRegeneration(t *testing.T) {
	n, s, clk := testNudger(t)
	ctx := context.Background()

	seedTask(t, s, "task_a", "Standup", false, false)
	seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(5*time.Minute), false, false))

	if report := n.Tick(ctx); report.Sent != 1 {
		t.Fatalf("first tick sent = %d, want 1", report.Sent)
	}

	// Regenerating the day's plan without dismissing keeps the plan id, so
	// the reservation still holds and the entry is not re-nudged.
	seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(7*time.Minute), false, false))
	clk.Advance(2 * time.Minute)

	report := n.Tick(ctx)
	if report.Sent != 0 {
		t.Fatalf("post-regeneration tick sent = %d, want 0", report.Sent)
	}
	if report.AlreadyReserved != 1 {
		t.Fatalf("already reserved = %d, want 1", report.AlreadyReserved)
	}

	// Dismissing and regenerating again re-arms the nudge.
	sent, err := s.ListNotifications(ctx, "alice", domain.NotificationSent, 0)
	if err != nil || len(sent) != 1 {
		t.Fatalf("sent notifications = %v, %v", sent, err)
	}
	if _, err := s.DismissNotification(ctx, sent[0].ID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(10*time.Minute), false, false))

	if report := n.Tick(ctx); report.Sent != 1 {
		t.Fatalf("tick after dismiss and regeneration sent = %d, want 1", report.Sent)
	}
}

func TestTickSkipsCompletedAndSpamTasks(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()
	now := testNow()

	done := seedTask(t, s, "task_done", "Already done", false, false)
	completed := true
	if _, err := s.UpdateTaskFlags(ctx, done.ID, nil, nil, &completed); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	spam := &domain.Task{
		ID:         "task_spam",
		User:       "alice",
		Source:     domain.SourceMail,
		Title:      "Flash sale",
		Start:      now,
		End:        now.Add(30 * time.Minute),
		Priority:   domain.PriorityLow,
		IsSpam:     true,
		SpamReason: "promotional content",
	}
	if err := s.CreateTask(ctx, spam); err != nil {
		t.Fatalf("create spam task: %v", err)
	}

	seedPlan(t, s,
		entryAt("task_done", "Already done", now.Add(5*time.Minute), false, false),
		entryAt("task_spam", "Flash sale", now.Add(5*time.Minute), false, false),
	)

	report := n.Tick(ctx)
	if report.Sent != 0 {
		t.Fatalf("sent = %d, want 0", report.Sent)
	}
	if report.Candidates != 0 {
		t.Fatalf("candidates = %d, want 0", report.Candidates)
	}
}

type failingMailer struct{ calls int }

func (m *failingMailer) SendNudge(ctx context.Context, user string, n *domain.Notification) error {
	m.calls++
	return errors.New("smtp: connection refused")
}

func TestTickMailFailureDoesNotBlockDelivery(t *testing.T) {
	n, s, _ := testNudger(t)
	mailer := &failingMailer{}
	n.mailer = mailer
	ctx := context.Background()

	seedTask(t, s, "task_a", "Standup", false, false)
	seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(5*time.Minute), false, false))

	report := n.Tick(ctx)
	if report.Sent != 1 {
		t.Fatalf("sent = %d, want 1", report.Sent)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("tick errors: %v", report.Errors)
	}
	if mailer.calls != 1 {
		t.Fatalf("mailer calls = %d, want 1", mailer.calls)
	}
}

func TestRecordFeedbackDoneCompletesTaskAndEntry(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()

	seedTask(t, s, "task_a", "Standup", false, false)
	plan := seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(5*time.Minute), false, false))

	err := n.RecordFeedback(ctx, &domain.TaskFeedback{
		User:   "alice",
		TaskID: "task_a",
		PlanID: plan.ID,
		Action: domain.FeedbackDone,
	})
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}

	updated, err := s.GetPlanByID(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got := updated.Entry("task_a").Status; got != domain.EntryDone {
		t.Fatalf("entry status = %q, want done", got)
	}

	task, err := s.GetTask(ctx, "task_a")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !task.IsCompleted || task.CompletedAt == nil {
		t.Fatalf("task not completed: completed=%v at=%v", task.IsCompleted, task.CompletedAt)
	}

	feedback, err := s.FeedbackSince(ctx, "alice", testNow().Add(-time.Hour))
	if err != nil {
		t.Fatalf("feedback since: %v", err)
	}
	if len(feedback) != 1 || feedback[0].Action != domain.FeedbackDone {
		t.Fatalf("feedback rows = %+v, want one done", feedback)
	}
}

func TestRecordFeedbackSnoozeShiftsEntry(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()
	start := testNow().Add(5 * time.Minute)

	seedTask(t, s, "task_a", "Standup", false, false)
	plan := seedPlan(t, s, entryAt("task_a", "Standup", start, false, false))

	err := n.RecordFeedback(ctx, &domain.TaskFeedback{
		User:           "alice",
		TaskID:         "task_a",
		PlanID:         plan.ID,
		Action:         domain.FeedbackSnoozed,
		SnoozeDuration: 45,
	})
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}

	updated, err := s.GetPlanByID(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	entry := updated.Entry("task_a")
	if entry.Status != domain.EntrySnoozed {
		t.Fatalf("entry status = %q, want snoozed", entry.Status)
	}
	wantStart := start.Add(45 * time.Minute)
	if !entry.PredictedStart.Equal(wantStart) {
		t.Fatalf("predicted start = %v, want %v", entry.PredictedStart, wantStart)
	}
	if got := entry.PredictedEnd.Sub(entry.PredictedStart); got != 30*time.Minute {
		t.Fatalf("entry duration = %v, want 30m", got)
	}
}

func TestRecordFeedbackSnoozeCapsAtEndOfDay(t *testing.T) {
	n, s, _ := testNudger(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)

	seedTask(t, s, "task_a", "Late task", false, false)
	plan := seedPlan(t, s, entryAt("task_a", "Late task", start, false, false))

	err := n.RecordFeedback(ctx, &domain.TaskFeedback{
		User:           "alice",
		TaskID:         "task_a",
		PlanID:         plan.ID,
		Action:         domain.FeedbackSnoozed,
		SnoozeDuration: 120,
	})
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}

	updated, err := s.GetPlanByID(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	entry := updated.Entry("task_a")
	eod := time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC)
	if !entry.PredictedStart.Equal(eod) {
		t.Fatalf("predicted start = %v, want capped at %v", entry.PredictedStart, eod)
	}
}

func TestRecordFeedbackKeepsReservation(t *testing.T) {
	n, s, clk := testNudger(t)
	ctx := context.Background()

	seedTask(t, s, "task_a", "Standup", false, false)
	plan := seedPlan(t, s, entryAt("task_a", "Standup", testNow().Add(5*time.Minute), false, false))

	if report := n.Tick(ctx); report.Sent != 1 {
		t.Fatalf("tick sent = %d, want 1", report.Sent)
	}

	// A short snooze keeps the entry inside the nudge window but its
	// reservation must still block a second delivery.
	err := n.RecordFeedback(ctx, &domain.TaskFeedback{
		User:           "alice",
		TaskID:         "task_a",
		PlanID:         plan.ID,
		Action:         domain.FeedbackSnoozed,
		SnoozeDuration: 10,
	})
	if err != nil {
		t.Fatalf("record feedback: %v", err)
	}

	clk.Advance(10 * time.Minute)
	if err := s.Reserve(ctx, &domain.Notification{
		User:   "alice",
		TaskID: "task_a",
		PlanID: plan.ID,
	}); !fault.Is(err, fault.Busy) {
		t.Fatalf("re-reserve after snooze = %v, want busy", err)
	}
}

func TestRecordFeedbackRejectsUnknownAction(t *testing.T) {
	n, _, _ := testNudger(t)

	err := n.RecordFeedback(context.Background(), &domain.TaskFeedback{
		User:   "alice",
		TaskID: "task_a",
		Action: domain.FeedbackAction("ignored"),
	})
	if !fault.Is(err, fault.InvalidRequest) {
		t.Fatalf("unknown action error = %v, want invalid request", err)
	}
}
