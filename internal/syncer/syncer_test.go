package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/extract"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/provider"
	"github.com/dohr-michael/dayflow/internal/store"
)

var testWindow = config.WorkingWindowConfig{
	Timezone: "UTC",
	Earliest: "08:00",
	Latest:   "20:00",
}

// 2026-03-02 08:00 UTC.
func testNow() time.Time {
	return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
}

type fakeTaskManager struct {
	mu        sync.Mutex
	items     []provider.TaskItem
	listErr   error
	listFlaky int // fail this many list calls with a transient error first
	pushErr   error
	pushFlaky int // same, for push calls
	created   []provider.TaskItem
	updated   []provider.TaskItem
	completed []string
}

func (f *fakeTaskManager) ListTasks(ctx context.Context, cred *domain.Credential, since time.Time, pageToken string) ([]provider.TaskItem, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFlaky > 0 {
		f.listFlaky--
		return nil, "", errors.New("502 bad gateway")
	}
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.items, "", nil
}

func (f *fakeTaskManager) pushFailure() error {
	if f.pushFlaky > 0 {
		f.pushFlaky--
		return errors.New("502 bad gateway")
	}
	return f.pushErr
}

func (f *fakeTaskManager) CreateTask(ctx context.Context, cred *domain.Credential, item provider.TaskItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pushFailure(); err != nil {
		return "", err
	}
	f.created = append(f.created, item)
	return "ext-new-1", nil
}

func (f *fakeTaskManager) UpdateTask(ctx context.Context, cred *domain.Credential, item provider.TaskItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pushFailure(); err != nil {
		return err
	}
	f.updated = append(f.updated, item)
	return nil
}

func (f *fakeTaskManager) CompleteTask(ctx context.Context, cred *domain.Credential, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pushFailure(); err != nil {
		return err
	}
	f.completed = append(f.completed, externalID)
	return nil
}

func testSyncer(t *testing.T) (*Syncer, *store.Store, *fakeTaskManager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testNow())
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clk))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SaveCredential(context.Background(), &domain.Credential{
		User:        "alice",
		Provider:    domain.ProviderTaskManager,
		AccessToken: "token",
		Expiry:      testNow().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("save credential: %v", err)
	}

	client := &fakeTaskManager{}
	sy := New(Config{
		Store:       s,
		Extractor:   extract.New(nil, 0.7, nil, testWindow),
		Credentials: provider.NewCredentialManager(s, nil, clk),
		Client:      client,
		Clock:       clk,
		Retry:       provider.Retrier{Attempts: 3}, // no backoff delay in tests
	})
	return sy, s, client, clk
}

// seedSyncedTask inserts a task that last reconciled at the store clock's
// current instant.
func seedSyncedTask(t *testing.T, s *store.Store, clk *clock.Fake, id, externalID, title string) *domain.Task {
	t.Helper()
	now := clk.Now()
	task := &domain.Task{
		ID:            id,
		User:          "alice",
		Source:        domain.SourceTaskManager,
		Title:         title,
		Start:         now.Add(time.Hour),
		End:           now.Add(2 * time.Hour),
		Priority:      domain.PriorityNormal,
		ExternalID:    externalID,
		SyncStatus:    domain.SyncSynced,
		SyncDirection: domain.SyncBidirectional,
		LastSyncedAt:  &now,
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestSyncCreatesLocalTasksFromRemote(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "Ship release", Priority: 3, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
		{ID: "ext-2", Title: "Water plants", Priority: 1, UpdatedAt: clk.Now()},
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Fetched != 2 || report.CreatedLocal != 2 {
		t.Fatalf("report = %+v, want fetched 2 created 2", report)
	}

	task, err := s.GetTaskByExternalID(ctx, "alice", domain.SourceTaskManager, "ext-1")
	if err != nil || task == nil {
		t.Fatalf("get ext-1: task=%v err=%v", task, err)
	}
	if task.SyncStatus != domain.SyncSynced || task.LastSyncedAt == nil {
		t.Fatalf("ext-1 sync state = %s / %v, want synced with watermark", task.SyncStatus, task.LastSyncedAt)
	}
	// Manager scale 3 maps to high priority, critical, not urgent.
	if task.Priority != domain.PriorityHigh || !task.IsCritical || task.IsUrgent {
		t.Fatalf("ext-1 priority = %s critical=%v urgent=%v", task.Priority, task.IsCritical, task.IsUrgent)
	}
}

func TestSyncOverwritesUnchangedLocal(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "Old title")
	clk.Advance(time.Hour)
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "New title", Priority: 2, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.UpdatedLocal != 1 || report.Conflicts != 0 {
		t.Fatalf("report = %+v, want 1 update, no conflict", report)
	}

	task, _ := s.GetTask(ctx, "task_a")
	if task.Title != "New title" || task.SyncStatus != domain.SyncSynced {
		t.Fatalf("task = %q/%s, want remote overwrite and synced", task.Title, task.SyncStatus)
	}
}

func TestSyncConflictAndResolveLocal(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "A")

	// Local mutation after the last sync.
	clk.Advance(10 * time.Minute)
	critical := true
	if _, err := s.UpdateTaskFlags(ctx, "task_a", &critical, nil, nil); err != nil {
		t.Fatalf("local edit: %v", err)
	}

	// Remote mutation after the last sync as well.
	clk.Advance(10 * time.Minute)
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "B", Priority: 2, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", report.Conflicts)
	}
	task, _ := s.GetTask(ctx, "task_a")
	if task.SyncStatus != domain.SyncConflict {
		t.Fatalf("sync status = %s, want conflict", task.SyncStatus)
	}
	if task.Title != "A" {
		t.Fatalf("conflict overwrote local title to %q", task.Title)
	}

	if err := sy.ResolveConflict(ctx, "alice", "task_a", ResolveLocal); err != nil {
		t.Fatalf("resolve local: %v", err)
	}
	if len(client.updated) != 1 || client.updated[0].Title != "A" {
		t.Fatalf("pushed items = %+v, want local title A", client.updated)
	}
	task, _ = s.GetTask(ctx, "task_a")
	if task.SyncStatus != domain.SyncSynced {
		t.Fatalf("after resolve sync status = %s, want synced", task.SyncStatus)
	}
	if task.LastSyncedAt == nil || !task.LastSyncedAt.After(testNow()) {
		t.Fatalf("last_synced_at = %v, want advanced past %v", task.LastSyncedAt, testNow())
	}
}

func TestResolveExternalAppliesSnapshot(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "A")
	clk.Advance(10 * time.Minute)
	critical := true
	if _, err := s.UpdateTaskFlags(ctx, "task_a", &critical, nil, nil); err != nil {
		t.Fatalf("local edit: %v", err)
	}
	clk.Advance(10 * time.Minute)
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "B", Priority: 2, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
	}
	if _, err := sy.Sync(ctx, "alice"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := sy.ResolveConflict(ctx, "alice", "task_a", ResolveExternal); err != nil {
		t.Fatalf("resolve external: %v", err)
	}
	task, _ := s.GetTask(ctx, "task_a")
	if task.Title != "B" || task.SyncStatus != domain.SyncSynced {
		t.Fatalf("task = %q/%s, want remote title B and synced", task.Title, task.SyncStatus)
	}
}

func TestSyncRemoteDeleteCompletesLocal(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "Doomed")
	clk.Advance(time.Hour)
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "Doomed", Deleted: true, UpdatedAt: clk.Now()},
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.CompletedLocal != 1 {
		t.Fatalf("completed local = %d, want 1", report.CompletedLocal)
	}
	task, _ := s.GetTask(ctx, "task_a")
	if !task.IsCompleted || task.CompletedAt == nil {
		t.Fatalf("task not completed after remote delete: %+v", task)
	}
}

func TestSyncPushesNewLocalTask(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	task := &domain.Task{
		ID:            "task_new",
		User:          "alice",
		Source:        domain.SourceTaskManager,
		Title:         "Book flights",
		Start:         clk.Now().Add(time.Hour),
		End:           clk.Now().Add(2 * time.Hour),
		Priority:      domain.PriorityHigh,
		IsUrgent:      true,
		SyncStatus:    domain.SyncPending,
		SyncDirection: domain.SyncBidirectional,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed = %d, want 1", report.Pushed)
	}
	if len(client.created) != 1 || client.created[0].Priority != 4 {
		t.Fatalf("created = %+v, want one item at manager priority 4", client.created)
	}

	stored, _ := s.GetTask(ctx, "task_new")
	if stored.ExternalID != "ext-new-1" || stored.SyncStatus != domain.SyncSynced {
		t.Fatalf("stored = ext %q / %s, want assigned external id and synced", stored.ExternalID, stored.SyncStatus)
	}
}

func TestSyncLocalCompletionClosesRemote(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "Wrap up")
	clk.Advance(10 * time.Minute)
	done := true
	if _, err := s.UpdateTaskFlags(ctx, "task_a", nil, nil, &done); err != nil {
		t.Fatalf("complete locally: %v", err)
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed = %d, want 1", report.Pushed)
	}
	if len(client.completed) != 1 || client.completed[0] != "ext-1" {
		t.Fatalf("completed remotely = %v, want [ext-1]", client.completed)
	}
}

func TestSyncRetriesTransientListErrors(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	client.listFlaky = 2
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "Ship release", Priority: 2, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
	}

	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Fetched != 1 || report.CreatedLocal != 1 {
		t.Fatalf("report = %+v, want the page fetched after two transient failures", report)
	}
	task, _ := s.GetTaskByExternalID(ctx, "alice", domain.SourceTaskManager, "ext-1")
	if task == nil {
		t.Fatal("remote task not created locally")
	}
}

func TestSyncListRetryBudgetIsBounded(t *testing.T) {
	sy, _, client, _ := testSyncer(t)

	client.listFlaky = 5
	_, err := sy.Sync(context.Background(), "alice")
	if !fault.Is(err, fault.Transient) {
		t.Fatalf("sync err = %v, want transient after the budget runs out", err)
	}
	if client.listFlaky != 2 {
		t.Fatalf("remaining failures = %d, want 2 after exactly three attempts", client.listFlaky)
	}
}

func TestSyncPushRetriesTransientErrors(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	task := &domain.Task{
		ID:            "task_new",
		User:          "alice",
		Source:        domain.SourceTaskManager,
		Title:         "Book flights",
		Start:         clk.Now().Add(time.Hour),
		End:           clk.Now().Add(2 * time.Hour),
		Priority:      domain.PriorityNormal,
		SyncStatus:    domain.SyncPending,
		SyncDirection: domain.SyncBidirectional,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	client.pushFlaky = 2
	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Pushed != 1 || report.PushErrors != 0 {
		t.Fatalf("report = %+v, want the push to succeed within the retry budget", report)
	}
	stored, _ := s.GetTask(ctx, "task_new")
	if stored.SyncStatus != domain.SyncSynced || stored.ExternalID != "ext-new-1" {
		t.Fatalf("stored = %s/%q, want synced with assigned external id", stored.SyncStatus, stored.ExternalID)
	}
}

func TestSyncRetryFloorDefersErroredTasks(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	task := &domain.Task{
		ID:            "task_new",
		User:          "alice",
		Source:        domain.SourceTaskManager,
		Title:         "Flaky push",
		Start:         clk.Now().Add(time.Hour),
		End:           clk.Now().Add(2 * time.Hour),
		Priority:      domain.PriorityNormal,
		SyncStatus:    domain.SyncPending,
		SyncDirection: domain.SyncBidirectional,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	client.pushErr = errors.New("503 service unavailable")
	report, err := sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.PushErrors != 1 {
		t.Fatalf("push errors = %d, want 1", report.PushErrors)
	}
	stored, _ := s.GetTask(ctx, "task_new")
	if stored.SyncStatus != domain.SyncError || stored.SyncError == "" {
		t.Fatalf("stored = %s/%q, want error with message", stored.SyncStatus, stored.SyncError)
	}

	// One minute later the retry floor has not elapsed.
	client.pushErr = nil
	clk.Advance(time.Minute)
	report, err = sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.SkippedBackoff != 1 || report.Pushed != 0 {
		t.Fatalf("report = %+v, want skipped by backoff", report)
	}

	clk.Advance(5 * time.Minute)
	report, err = sy.Sync(ctx, "alice")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Pushed != 1 {
		t.Fatalf("pushed after floor = %d, want 1", report.Pushed)
	}
}

func TestSyncWithoutCredentialIsAuthRequired(t *testing.T) {
	sy, _, _, _ := testSyncer(t)

	_, err := sy.Sync(context.Background(), "bob")
	if !fault.Is(err, fault.AuthRequired) {
		t.Fatalf("sync without credential = %v, want auth required", err)
	}
}

func TestStatusSummary(t *testing.T) {
	sy, s, client, clk := testSyncer(t)
	ctx := context.Background()

	seedSyncedTask(t, s, clk, "task_a", "ext-1", "A")
	clk.Advance(10 * time.Minute)
	critical := true
	if _, err := s.UpdateTaskFlags(ctx, "task_a", &critical, nil, nil); err != nil {
		t.Fatalf("local edit: %v", err)
	}
	clk.Advance(10 * time.Minute)
	client.items = []provider.TaskItem{
		{ID: "ext-1", Title: "B", Priority: 2, Due: clk.Now().Add(4 * time.Hour), UpdatedAt: clk.Now()},
	}
	if _, err := sy.Sync(ctx, "alice"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	summary, err := sy.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !summary.Connected {
		t.Fatal("summary not connected despite credential")
	}
	if summary.SyncStatus != domain.SyncConflict || summary.ConflictsCount != 1 {
		t.Fatalf("summary = %+v, want conflict surfaced", summary)
	}
	if summary.LastSync == nil {
		t.Fatal("summary missing last sync watermark")
	}

	other, err := sy.Status(ctx, "bob")
	if err != nil {
		t.Fatalf("status for unconnected user: %v", err)
	}
	if other.Connected || other.SyncStatus != domain.SyncSynced {
		t.Fatalf("unconnected summary = %+v", other)
	}
}
