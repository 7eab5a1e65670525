package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/provider"
)

// Resolution is the user's choice for a conflicted task.
type Resolution string

const (
	ResolveLocal    Resolution = "local"
	ResolveExternal Resolution = "external"
)

// ResolveConflict settles a conflicted task. Choosing local pushes the local
// state outward; choosing external overwrites local with the remote snapshot
// captured when the conflict was detected. Both paths clear the error state
// and advance last_synced_at.
func (s *Syncer) ResolveConflict(ctx context.Context, user, taskID string, choice Resolution) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.User != user {
		return fault.Newf(fault.InvalidRequest, "task %s not found", taskID)
	}
	if task.SyncStatus != domain.SyncConflict {
		return fault.Newf(fault.InvalidRequest, "task %s is not in conflict", taskID)
	}

	switch choice {
	case ResolveLocal:
		err = s.resolveLocal(ctx, user, task)
	case ResolveExternal:
		err = s.resolveExternal(ctx, user, task)
	default:
		return fault.Newf(fault.InvalidRequest, "unknown resolution %q", choice)
	}
	if err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewEvent(events.EventSyncCompleted, events.SourceSyncer, user, map[string]any{
			"task_id": taskID, "resolved": string(choice),
		}))
	}
	s.log.Info("syncer: conflict resolved", "user", user, "task", taskID, "choice", choice)
	return nil
}

func (s *Syncer) resolveLocal(ctx context.Context, user string, task *domain.Task) error {
	// Queue the local state for push, then try to deliver it right away.
	// A push failure leaves the task pending for the next cycle.
	if err := s.store.SetSyncStatus(ctx, task.ID, domain.SyncPending, nil); err != nil {
		return err
	}
	cred, err := s.creds.Valid(ctx, user, domain.ProviderTaskManager)
	if err != nil {
		return nil
	}
	if err := s.pushTask(ctx, user, cred, task); err != nil {
		s.log.Warn("syncer: resolve-local push deferred", "task", task.ID, "error", err)
	}
	return nil
}

func (s *Syncer) resolveExternal(ctx context.Context, user string, task *domain.Task) error {
	var item provider.TaskItem
	if err := json.Unmarshal(task.RawPayload, &item); err != nil || item.ID == "" {
		return fault.Newf(fault.InvalidRequest, "task %s has no stored remote snapshot", task.ID)
	}
	outcome := s.extractor.FromTaskItem(user, &item)
	if outcome.Task == nil {
		return fault.Newf(fault.InvalidRequest, "remote snapshot for %s is not applicable", task.ID)
	}
	remote := outcome.Task
	remote.ID = task.ID
	return s.store.ApplyRemote(ctx, remote, s.clk.Now())
}

// StatusSummary is the user-facing sync health snapshot.
type StatusSummary struct {
	Connected      bool                      `json:"connected"`
	LastSync       *time.Time                `json:"last_sync,omitempty"`
	SyncStatus     domain.SyncStatus         `json:"sync_status"`
	StatusCounts   map[domain.SyncStatus]int `json:"status_counts"`
	ConflictsCount int                       `json:"conflicts_count"`
	ErrorsCount    int                       `json:"errors_count"`
}

// Status aggregates a user's connection and reconciliation state. The
// overall status surfaces the worst state present: conflict over error over
// pending over synced.
func (s *Syncer) Status(ctx context.Context, user string) (*StatusSummary, error) {
	summary := &StatusSummary{StatusCounts: map[domain.SyncStatus]int{}}

	if _, err := s.store.GetCredential(ctx, user, domain.ProviderTaskManager); err == nil {
		summary.Connected = true
	} else if !fault.Is(err, fault.AuthRequired) {
		return nil, err
	}

	mark, err := s.store.SyncWatermark(ctx, user)
	if err != nil {
		return nil, err
	}
	if !mark.IsZero() {
		summary.LastSync = &mark
	}

	counts, err := s.store.SyncStatusCounts(ctx, user)
	if err != nil {
		return nil, err
	}
	summary.StatusCounts = counts
	summary.ConflictsCount = counts[domain.SyncConflict]
	summary.ErrorsCount = counts[domain.SyncError]

	switch {
	case summary.ConflictsCount > 0:
		summary.SyncStatus = domain.SyncConflict
	case summary.ErrorsCount > 0:
		summary.SyncStatus = domain.SyncError
	case counts[domain.SyncPending] > 0:
		summary.SyncStatus = domain.SyncPending
	default:
		summary.SyncStatus = domain.SyncSynced
	}
	return summary, nil
}
