// Package syncer reconciles the local task store with the external task
// manager. external_id correlates the two sides; last_synced_at is the
// per-task watermark the conflict law is judged against.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/events"
	"github.com/dohr-michael/dayflow/internal/extract"
	"github.com/dohr-michael/dayflow/internal/fault"
	"github.com/dohr-michael/dayflow/internal/provider"
	"github.com/dohr-michael/dayflow/internal/store"
)

const (
	callTimeout = 30 * time.Second
	retryFloor  = 5 * time.Minute
	retryCap    = time.Hour
)

// Syncer runs bidirectional sync cycles against the task manager.
type Syncer struct {
	store     *store.Store
	extractor *extract.Extractor
	creds     *provider.CredentialManager
	client    provider.TaskManagerClient
	limits    *provider.RateLimiters
	bus       *events.Bus
	clk       clock.Clock
	log       *slog.Logger
	retry     provider.Retrier

	running sync.Map // user -> struct{}
}

// Config wires a Syncer.
type Config struct {
	Store       *store.Store
	Extractor   *extract.Extractor
	Credentials *provider.CredentialManager
	Client      provider.TaskManagerClient
	Limits      *provider.RateLimiters
	Bus         *events.Bus
	Clock       clock.Clock
	Logger      *slog.Logger
	Retry       provider.Retrier // zero value: DefaultRetrier
}

// New builds a Syncer.
func New(cfg Config) *Syncer {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = provider.DefaultRetrier()
	}
	return &Syncer{
		store:     cfg.Store,
		extractor: cfg.Extractor,
		creds:     cfg.Credentials,
		client:    cfg.Client,
		limits:    cfg.Limits,
		bus:       cfg.Bus,
		clk:       clk,
		log:       logger,
		retry:     retry,
	}
}

// Report summarizes one sync cycle.
type Report struct {
	Fetched        int      `json:"fetched"`
	CreatedLocal   int      `json:"created_local"`
	UpdatedLocal   int      `json:"updated_local"`
	CompletedLocal int      `json:"completed_local"`
	Conflicts      int      `json:"conflicts"`
	Pushed         int      `json:"pushed"`
	PushErrors     int      `json:"push_errors"`
	SkippedBackoff int      `json:"skipped_backoff"`
	Errors         []string `json:"errors,omitempty"`
}

// Sync runs one full cycle for a user: inbound first, then outbound, so a
// remote change observed mid-cycle can veto the push that would have
// clobbered it. A second concurrent cycle for the same user gets Busy.
func (s *Syncer) Sync(ctx context.Context, user string) (*Report, error) {
	if _, loaded := s.running.LoadOrStore(user, struct{}{}); loaded {
		return nil, fault.Newf(fault.Busy, "sync already running for %s", user)
	}
	defer s.running.Delete(user)

	report, err := s.run(ctx, user)
	if err != nil {
		if s.bus != nil {
			s.bus.Publish(events.NewEvent(events.EventSyncFailed, events.SourceSyncer, user, map[string]any{
				"error": err.Error(),
			}))
		}
		s.log.Error("syncer: cycle failed", "user", user, "error", err)
		return report, err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewEvent(events.EventSyncCompleted, events.SourceSyncer, user, map[string]any{
			"fetched": report.Fetched, "pushed": report.Pushed, "conflicts": report.Conflicts,
		}))
	}
	s.log.Info("syncer: cycle done", "user", user,
		"fetched", report.Fetched, "created", report.CreatedLocal, "updated", report.UpdatedLocal,
		"pushed", report.Pushed, "conflicts", report.Conflicts, "push_errors", report.PushErrors)
	return report, nil
}

func (s *Syncer) run(ctx context.Context, user string) (*Report, error) {
	report := &Report{}

	cred, err := s.creds.Valid(ctx, user, domain.ProviderTaskManager)
	if err != nil {
		return report, err
	}

	if err := s.applyInbound(ctx, user, cred, report); err != nil {
		return report, err
	}
	s.pushOutbound(ctx, user, cred, report)
	return report, nil
}

func (s *Syncer) applyInbound(ctx context.Context, user string, cred *domain.Credential, report *Report) error {
	watermark, err := s.store.SyncWatermark(ctx, user)
	if err != nil {
		return err
	}

	pageToken := ""
	for {
		if s.limits != nil {
			if err := s.limits.Wait(ctx, user, domain.ProviderTaskManager); err != nil {
				return err
			}
		}
		var items []provider.TaskItem
		var next string
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			var callErr error
			items, next, callErr = s.client.ListTasks(callCtx, cred, watermark, pageToken)
			return callErr
		})
		if err != nil {
			return err
		}

		for i := range items {
			if err := s.applyRemoteItem(ctx, user, &items[i], report); err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
		}
		report.Fetched += len(items)

		if next == "" {
			return nil
		}
		pageToken = next
	}
}

// applyRemoteItem reconciles one remote change against local state.
func (s *Syncer) applyRemoteItem(ctx context.Context, user string, item *provider.TaskItem, report *Report) error {
	now := s.clk.Now()
	local, err := s.store.GetTaskByExternalID(ctx, user, domain.SourceTaskManager, item.ID)
	if err != nil {
		return err
	}

	if item.Deleted {
		// Remote deletion closes the local task; nothing is hard-deleted.
		if local == nil || local.IsCompleted {
			return nil
		}
		local.SetCompleted(true, now)
		if !item.UpdatedAt.IsZero() {
			u := item.UpdatedAt
			local.ExternalUpdatedAt = &u
		}
		if err := s.store.ApplyRemote(ctx, local, now); err != nil {
			return err
		}
		report.CompletedLocal++
		return nil
	}

	outcome := s.extractor.FromTaskItem(user, item)
	if outcome.Task == nil {
		return nil
	}
	remote := outcome.Task

	if local == nil {
		remote.LastSyncedAt = &now
		if _, err := s.store.UpsertIngested(ctx, remote); err != nil {
			return err
		}
		report.CreatedLocal++
		return nil
	}

	lastSync := local.CreatedAt
	if local.LastSyncedAt != nil {
		lastSync = *local.LastSyncedAt
	}
	localChanged := local.UpdatedAt.After(lastSync)
	remoteChanged := item.UpdatedAt.After(lastSync)

	switch {
	case localChanged && remoteChanged:
		snapshot, _ := json.Marshal(item)
		if err := s.store.MarkConflict(ctx, local.ID, remote.ExternalUpdatedAt, snapshot); err != nil {
			return err
		}
		report.Conflicts++
		if s.bus != nil {
			s.bus.Publish(events.NewEvent(events.EventSyncConflict, events.SourceSyncer, user, map[string]any{
				"task_id": local.ID, "external_id": item.ID,
			}))
		}
	case remoteChanged:
		remote.ID = local.ID
		if err := s.store.ApplyRemote(ctx, remote, now); err != nil {
			return err
		}
		report.UpdatedLocal++
	}
	// Local-only change: left for the outbound phase.
	return nil
}

func (s *Syncer) pushOutbound(ctx context.Context, user string, cred *domain.Credential, report *Report) {
	tasks, attempts, err := s.store.PendingSync(ctx, user)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return
	}

	now := s.clk.Now()
	for _, t := range tasks {
		if att, ok := attempts[t.ID]; ok && !retryDue(att, now) {
			report.SkippedBackoff++
			continue
		}
		if err := s.pushTask(ctx, user, cred, t); err != nil {
			report.PushErrors++
			report.Errors = append(report.Errors, fmt.Sprintf("push %s: %v", t.ID, err))
			if merr := s.store.MarkSyncError(ctx, t.ID, err.Error(), s.clk.Now()); merr != nil {
				report.Errors = append(report.Errors, merr.Error())
			}
			continue
		}
		report.Pushed++
	}
}

// retryDue applies the capped exponential backoff to errored tasks. The
// first retry waits at least retryFloor after the failed attempt.
func retryDue(att store.SyncAttempt, now time.Time) bool {
	if att.Count == 0 || att.LastAttempt == nil {
		return true
	}
	wait := retryFloor << (att.Count - 1)
	if wait > retryCap || wait <= 0 {
		wait = retryCap
	}
	return !now.Before(att.LastAttempt.Add(wait))
}

func (s *Syncer) pushTask(ctx context.Context, user string, cred *domain.Credential, t *domain.Task) error {
	if s.limits != nil {
		if err := s.limits.Wait(ctx, user, domain.ProviderTaskManager); err != nil {
			return err
		}
	}
	item := provider.TaskItem{
		ID:          t.ExternalID,
		Title:       t.Title,
		Description: t.Description,
		Due:         t.End,
		Priority:    extract.ManagerScaleFromPriority(t.Priority, t.IsUrgent),
		Completed:   t.IsCompleted,
	}

	// Each push gets the bounded retry budget; permanent failures fall
	// through to the per-task backoff bookkeeping in pushOutbound.
	call := func(fn func(ctx context.Context) error) error {
		return s.retry.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			return fn(callCtx)
		})
	}

	switch {
	case t.ExternalID == "":
		var externalID string
		err := call(func(ctx context.Context) error {
			var callErr error
			externalID, callErr = s.client.CreateTask(ctx, cred, item)
			return callErr
		})
		if err != nil {
			return err
		}
		return s.store.MarkSynced(ctx, t.ID, externalID, s.clk.Now())
	case t.IsCompleted:
		if err := call(func(ctx context.Context) error {
			return s.client.CompleteTask(ctx, cred, t.ExternalID)
		}); err != nil {
			return err
		}
		return s.store.MarkSynced(ctx, t.ID, "", s.clk.Now())
	default:
		if err := call(func(ctx context.Context) error {
			return s.client.UpdateTask(ctx, cred, item)
		}); err != nil {
			return err
		}
		return s.store.MarkSynced(ctx, t.ID, "", s.clk.Now())
	}
}
