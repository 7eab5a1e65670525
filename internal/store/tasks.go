package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

const taskColumns = `id, user_id, source, title, description, start_time, end_time,
	attendees, location, recurrence, priority, is_critical, is_urgent,
	is_spam, spam_reason, spam_score, is_completed, completed_at, raw_payload,
	external_id, sync_status, sync_direction, last_synced_at, external_updated_at,
	sync_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*domain.Task, error) {
	var (
		t                 domain.Task
		start, end        string
		attendees         string
		completedAt       sql.NullString
		externalID        sql.NullString
		lastSyncedAt      sql.NullString
		externalUpdatedAt sql.NullString
		createdAt         string
		updatedAt         string
	)
	err := r.Scan(&t.ID, &t.User, &t.Source, &t.Title, &t.Description, &start, &end,
		&attendees, &t.Location, &t.Recurrence, &t.Priority, &t.IsCritical, &t.IsUrgent,
		&t.IsSpam, &t.SpamReason, &t.SpamScore, &t.IsCompleted, &completedAt, &t.RawPayload,
		&externalID, &t.SyncStatus, &t.SyncDirection, &lastSyncedAt, &externalUpdatedAt,
		&t.SyncError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Start = parseTime(start)
	t.End = parseTime(end)
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &t.Attendees); err != nil {
			return nil, fmt.Errorf("decode attendees for %s: %w", t.ID, err)
		}
	}
	t.CompletedAt = parseTimePtr(completedAt)
	t.ExternalID = externalID.String
	t.LastSyncedAt = parseTimePtr(lastSyncedAt)
	t.ExternalUpdatedAt = parseTimePtr(externalUpdatedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func encodeAttendees(a []string) string {
	if len(a) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(a)
	return string(b)
}

// UpsertResult reports what a task upsert actually did.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertUpdated
	UpsertUnchanged
)

// UpsertIngested inserts or refreshes a task coming from a provider. Matching
// is by (user, source, external_id), falling back to id for items without an
// external id. On update, user-settable flags (is_critical, is_urgent,
// is_completed, completed_at) and sync bookkeeping survive, and updated_at is
// only touched when provider-owned content actually changed.
func (s *Store) UpsertIngested(ctx context.Context, t *domain.Task) (UpsertResult, error) {
	if err := t.Validate(); err != nil {
		return 0, fault.Wrap(fault.InvalidRequest, "validate task", err)
	}
	// Items without a provider id get a content-derived id, so re-ingesting
	// the same provider state matches the existing row instead of inserting
	// a duplicate.
	if t.ID == "" && t.ExternalID == "" {
		t.ID = domain.DeterministicTaskID(t.User, t.Source, t.Title, t.Start, t.End)
	}

	result := UpsertInserted
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := findIngestMatch(ctx, tx, t)
		if err != nil {
			return err
		}
		if existing == nil {
			return insertTask(ctx, tx, t, s.now())
		}

		t.ID = existing.ID
		if t.ContentEqual(existing) {
			result = UpsertUnchanged
			return nil
		}
		result = UpsertUpdated

		now := s.now()
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET
				title = ?, description = ?, start_time = ?, end_time = ?,
				attendees = ?, location = ?, recurrence = ?, priority = ?,
				is_spam = ?, spam_reason = ?, spam_score = ?, raw_payload = ?,
				external_updated_at = COALESCE(?, external_updated_at),
				updated_at = ?
			WHERE id = ?`,
			t.Title, t.Description, fmtTime(t.Start), fmtTime(t.End),
			encodeAttendees(t.Attendees), t.Location, t.Recurrence, string(t.Priority),
			t.IsSpam, t.SpamReason, t.SpamScore, t.RawPayload,
			fmtTimePtr(t.ExternalUpdatedAt),
			fmtTime(now),
			existing.ID)
		if err != nil {
			return fmt.Errorf("update task %s: %w", existing.ID, err)
		}
		return nil
	})
	return result, err
}

func findIngestMatch(ctx context.Context, tx *sql.Tx, t *domain.Task) (*domain.Task, error) {
	var (
		row *sql.Row
	)
	if t.ExternalID != "" {
		row = tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND source = ? AND external_id = ?`,
			t.User, string(t.Source), t.ExternalID)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, t.ID)
	}
	existing, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return existing, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, t *domain.Task, now time.Time) error {
	if t.ID == "" {
		t.ID = domain.NewTaskID()
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityNormal
	}
	if t.SyncStatus == "" {
		t.SyncStatus = domain.SyncSynced
	}
	if t.SyncDirection == "" {
		t.SyncDirection = domain.SyncInbound
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	var externalID any
	if t.ExternalID != "" {
		externalID = t.ExternalID
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks (
			id, user_id, source, title, description, start_time, end_time,
			attendees, location, recurrence, priority, is_critical, is_urgent,
			is_spam, spam_reason, spam_score, is_completed, completed_at, raw_payload,
			external_id, sync_status, sync_direction, last_synced_at, external_updated_at,
			sync_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.User, string(t.Source), t.Title, t.Description, fmtTime(t.Start), fmtTime(t.End),
		encodeAttendees(t.Attendees), t.Location, t.Recurrence, string(t.Priority), t.IsCritical, t.IsUrgent,
		t.IsSpam, t.SpamReason, t.SpamScore, t.IsCompleted, fmtTimePtr(t.CompletedAt), t.RawPayload,
		externalID, string(t.SyncStatus), string(t.SyncDirection), fmtTimePtr(t.LastSyncedAt), fmtTimePtr(t.ExternalUpdatedAt),
		t.SyncError, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// CreateTask inserts a locally-authored task (manual or task manager push).
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return fault.Wrap(fault.InvalidRequest, "validate task", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTask(ctx, tx, t, s.now())
	})
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.InvalidRequest, "task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// GetTaskByExternalID fetches a task by its provider identity.
func (s *Store) GetTaskByExternalID(ctx context.Context, user string, source domain.Source, externalID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND source = ? AND external_id = ?`,
		user, string(source), externalID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by external id: %w", err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Source           domain.Source
	From, To         time.Time // match start_time in [From, To) when both set
	IncludeSpam      bool
	IncludeCompleted bool
}

// ListTasks returns a user's tasks ordered by start time.
func (s *Store) ListTasks(ctx context.Context, user string, f TaskFilter) ([]*domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{user}
	if f.Source != "" {
		q += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		q += ` AND start_time >= ? AND start_time < ?`
		args = append(args, fmtTime(f.From), fmtTime(f.To))
	}
	if !f.IncludeSpam {
		q += ` AND is_spam = 0`
	}
	if !f.IncludeCompleted {
		q += ` AND is_completed = 0`
	}
	q += ` ORDER BY start_time ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskFlags applies user-settable flag changes. Nil pointers leave the
// corresponding flag untouched. Flag changes on synced tasks mark them
// pending for outbound sync.
func (s *Store) UpdateTaskFlags(ctx context.Context, id string, critical, urgent, completed *bool) (*domain.Task, error) {
	var out *domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.Newf(fault.InvalidRequest, "task %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get task %s: %w", id, err)
		}

		now := s.now()
		if critical != nil {
			t.IsCritical = *critical
		}
		if urgent != nil {
			t.IsUrgent = *urgent
		}
		if completed != nil {
			t.SetCompleted(*completed, now)
		}
		if t.ExternalID != "" && t.SyncStatus == domain.SyncSynced {
			t.SyncStatus = domain.SyncPending
		}
		t.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `UPDATE tasks SET
				is_critical = ?, is_urgent = ?, is_completed = ?, completed_at = ?,
				sync_status = ?, updated_at = ?
			WHERE id = ?`,
			t.IsCritical, t.IsUrgent, t.IsCompleted, fmtTimePtr(t.CompletedAt),
			string(t.SyncStatus), fmtTime(now), id)
		if err != nil {
			return fmt.Errorf("update task flags %s: %w", id, err)
		}
		out = t
		return nil
	})
	return out, err
}

// ApplyRemote overwrites provider-owned content from a remote change during
// inbound sync and stamps the watermark.
func (s *Store) ApplyRemote(ctx context.Context, t *domain.Task, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET
			title = ?, description = ?, start_time = ?, end_time = ?,
			priority = ?, is_critical = ?, is_urgent = ?,
			is_completed = ?, completed_at = ?,
			sync_status = ?, external_updated_at = ?, last_synced_at = ?,
			sync_error = '', sync_attempts = 0, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, fmtTime(t.Start), fmtTime(t.End),
		string(t.Priority), t.IsCritical, t.IsUrgent,
		t.IsCompleted, fmtTimePtr(t.CompletedAt),
		string(domain.SyncSynced), fmtTimePtr(t.ExternalUpdatedAt), fmtTime(syncedAt),
		fmtTime(s.now()), t.ID)
	if err != nil {
		return fmt.Errorf("apply remote %s: %w", t.ID, err)
	}
	return nil
}

// MarkSynced records a successful outbound push.
func (s *Store) MarkSynced(ctx context.Context, id, externalID string, syncedAt time.Time) error {
	var ext any
	if externalID != "" {
		ext = externalID
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET
			sync_status = ?, external_id = COALESCE(?, external_id),
			last_synced_at = ?, sync_error = '', sync_attempts = 0
		WHERE id = ?`,
		string(domain.SyncSynced), ext, fmtTime(syncedAt), id)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	return nil
}

// MarkConflict flags a task for manual resolution. The remote snapshot is
// kept in raw_payload so resolving toward the external side needs no refetch.
func (s *Store) MarkConflict(ctx context.Context, id string, externalUpdatedAt *time.Time, remote []byte) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET
			sync_status = ?, external_updated_at = COALESCE(?, external_updated_at),
			raw_payload = COALESCE(?, raw_payload)
		WHERE id = ?`,
		string(domain.SyncConflict), fmtTimePtr(externalUpdatedAt), remote, id)
	if err != nil {
		return fmt.Errorf("mark conflict %s: %w", id, err)
	}
	return nil
}

// MarkSyncError records a failed push attempt; the attempt counter drives the
// backoff schedule.
func (s *Store) MarkSyncError(ctx context.Context, id, msg string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET
			sync_status = ?, sync_error = ?, last_sync_attempt = ?, sync_attempts = sync_attempts + 1
		WHERE id = ?`,
		string(domain.SyncError), msg, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("mark sync error %s: %w", id, err)
	}
	return nil
}

// SetSyncStatus sets the reconciliation state directly (conflict resolution).
func (s *Store) SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, syncedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET
			sync_status = ?, last_synced_at = COALESCE(?, last_synced_at), sync_error = ''
		WHERE id = ?`,
		string(status), fmtTimePtr(syncedAt), id)
	if err != nil {
		return fmt.Errorf("set sync status %s: %w", id, err)
	}
	return nil
}

// PendingSync returns a user's task-manager tasks awaiting outbound push or
// retry. Errored tasks are included with their attempt counts so the caller
// can apply backoff.
func (s *Store) PendingSync(ctx context.Context, user string) ([]*domain.Task, map[string]SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+`, sync_attempts, last_sync_attempt
			FROM tasks
			WHERE user_id = ? AND source = ? AND sync_status IN (?, ?)
			ORDER BY updated_at ASC`,
		user, string(domain.SourceTaskManager), string(domain.SyncPending), string(domain.SyncError))
	if err != nil {
		return nil, nil, fmt.Errorf("pending sync: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	attempts := map[string]SyncAttempt{}
	for rows.Next() {
		t, att, err := scanTaskWithAttempts(rows)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, t)
		attempts[t.ID] = att
	}
	return out, attempts, rows.Err()
}

// SyncAttempt is the retry bookkeeping for one errored task.
type SyncAttempt struct {
	Count       int
	LastAttempt *time.Time
}

func scanTaskWithAttempts(rows *sql.Rows) (*domain.Task, SyncAttempt, error) {
	var (
		t                 domain.Task
		start, end        string
		attendees         string
		completedAt       sql.NullString
		externalID        sql.NullString
		lastSyncedAt      sql.NullString
		externalUpdatedAt sql.NullString
		createdAt         string
		updatedAt         string
		attemptCount      int
		lastAttempt       sql.NullString
	)
	err := rows.Scan(&t.ID, &t.User, &t.Source, &t.Title, &t.Description, &start, &end,
		&attendees, &t.Location, &t.Recurrence, &t.Priority, &t.IsCritical, &t.IsUrgent,
		&t.IsSpam, &t.SpamReason, &t.SpamScore, &t.IsCompleted, &completedAt, &t.RawPayload,
		&externalID, &t.SyncStatus, &t.SyncDirection, &lastSyncedAt, &externalUpdatedAt,
		&t.SyncError, &createdAt, &updatedAt, &attemptCount, &lastAttempt)
	if err != nil {
		return nil, SyncAttempt{}, err
	}
	t.Start = parseTime(start)
	t.End = parseTime(end)
	if attendees != "" {
		json.Unmarshal([]byte(attendees), &t.Attendees)
	}
	t.CompletedAt = parseTimePtr(completedAt)
	t.ExternalID = externalID.String
	t.LastSyncedAt = parseTimePtr(lastSyncedAt)
	t.ExternalUpdatedAt = parseTimePtr(externalUpdatedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, SyncAttempt{Count: attemptCount, LastAttempt: parseTimePtr(lastAttempt)}, nil
}

// SyncWatermark returns the newest last_synced_at across a user's
// task-manager tasks, zero when nothing has synced yet. Remote fetches use
// it as the incremental cursor.
func (s *Store) SyncWatermark(ctx context.Context, user string) (time.Time, error) {
	var mark sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(last_synced_at) FROM tasks WHERE user_id = ? AND source = ?`,
		user, string(domain.SourceTaskManager)).Scan(&mark)
	if err != nil {
		return time.Time{}, fmt.Errorf("sync watermark: %w", err)
	}
	if !mark.Valid || mark.String == "" {
		return time.Time{}, nil
	}
	return parseTime(mark.String), nil
}

// Users returns every user the store knows about, from tasks and connected
// accounts. The plan cron walks this.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM tasks UNION SELECT DISTINCT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SyncStatusCounts aggregates a user's task-manager tasks by sync state.
func (s *Store) SyncStatusCounts(ctx context.Context, user string) (map[domain.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM tasks WHERE user_id = ? AND source = ? GROUP BY sync_status`,
		user, string(domain.SourceTaskManager))
	if err != nil {
		return nil, fmt.Errorf("sync status counts: %w", err)
	}
	defer rows.Close()

	out := map[domain.SyncStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[domain.SyncStatus(st)] = n
	}
	return out, rows.Err()
}
