// Package domain holds the normalized entities shared by the ingestion,
// planning, nudging, and sync components.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies where a task came from.
type Source string

const (
	SourceCalendar    Source = "calendar"
	SourceMail        Source = "mail"
	SourceTaskManager Source = "task_manager"
	SourceManual      Source = "manual"
)

// Priority is the normalized task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Weight returns the deterministic planning weight for the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 1.0
	case PriorityLow:
		return 0.2
	default:
		return 0.5
	}
}

// SyncStatus is the reconciliation state of a task against its external source.
type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// SyncDirection controls which way changes flow for a task.
type SyncDirection string

const (
	SyncInbound       SyncDirection = "inbound"
	SyncOutbound      SyncDirection = "outbound"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Task is the normalized unit of work.
type Task struct {
	ID          string    `json:"id"`
	User        string    `json:"user_id"`
	Source      Source    `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start_time"`
	End         time.Time `json:"end_time"`
	Attendees   []string  `json:"attendees,omitempty"`
	Location    string    `json:"location,omitempty"`
	Recurrence  string    `json:"recurrence,omitempty"`

	Priority   Priority `json:"priority"`
	IsCritical bool     `json:"is_critical"`
	IsUrgent   bool     `json:"is_urgent"`

	IsSpam     bool    `json:"is_spam"`
	SpamReason string  `json:"spam_reason,omitempty"`
	SpamScore  float64 `json:"spam_score,omitempty"`

	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RawPayload []byte `json:"raw_payload,omitempty"`

	ExternalID        string        `json:"external_id,omitempty"`
	SyncStatus        SyncStatus    `json:"sync_status"`
	SyncDirection     SyncDirection `json:"sync_direction"`
	LastSyncedAt      *time.Time    `json:"last_synced_at,omitempty"`
	ExternalUpdatedAt *time.Time    `json:"external_updated_at,omitempty"`
	SyncError         string        `json:"sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the §3 structural invariants that do not need store access.
func (t *Task) Validate() error {
	if t.User == "" {
		return fmt.Errorf("task missing user")
	}
	if t.Title == "" {
		return fmt.Errorf("task missing title")
	}
	if t.End.Before(t.Start) {
		return fmt.Errorf("task end %s before start %s", t.End.Format(time.RFC3339), t.Start.Format(time.RFC3339))
	}
	if t.IsCompleted && t.CompletedAt == nil {
		return fmt.Errorf("completed task missing completed_at")
	}
	return nil
}

// SetCompleted flips completion state keeping completed_at consistent.
func (t *Task) SetCompleted(done bool, at time.Time) {
	t.IsCompleted = done
	if done {
		t.CompletedAt = &at
	} else {
		t.CompletedAt = nil
	}
}

// ContentEqual reports whether the provider-owned fields of two tasks match.
// User-settable flags and sync bookkeeping are excluded; persist uses this to
// avoid touching updated_at on unchanged re-ingests.
func (t *Task) ContentEqual(o *Task) bool {
	return t.Title == o.Title &&
		t.Description == o.Description &&
		t.Start.Equal(o.Start) &&
		t.End.Equal(o.End) &&
		strings.Join(t.Attendees, ",") == strings.Join(o.Attendees, ",") &&
		t.Location == o.Location &&
		t.Recurrence == o.Recurrence &&
		t.Priority == o.Priority &&
		t.IsSpam == o.IsSpam &&
		t.SpamReason == o.SpamReason
}

// Reminder is a time-anchored item kept off the plan unless promoted.
type Reminder struct {
	ID          string    `json:"id"`
	User        string    `json:"user_id"`
	Source      Source    `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start_time"`
	End         time.Time `json:"end_time"`
	IsAllDay    bool      `json:"is_all_day"`
	ExternalID  string    `json:"external_id,omitempty"`
	RawPayload  []byte    `json:"raw_payload,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DependencyType relates two tasks.
type DependencyType string

const (
	DepBlocks    DependencyType = "blocks"
	DepDependsOn DependencyType = "depends_on"
	DepRelatedTo DependencyType = "related_to"
)

// TaskDependency links a task to the task blocking it.
type TaskDependency struct {
	TaskID        string         `json:"task_id"`
	BlockedByTask string         `json:"blocked_by_task_id"`
	Type          DependencyType `json:"type"`
}

func newID(prefix string) string {
	u := uuid.New().String()
	return prefix + "_" + strings.ReplaceAll(u[:8], "-", "")
}

// NewTaskID creates a unique task identifier.
func NewTaskID() string { return newID("task") }

// NewReminderID creates a unique reminder identifier.
func NewReminderID() string { return newID("rem") }

// DeterministicTaskID derives a stable id for items without an external id,
// so re-ingesting the same provider state dedupes.
func DeterministicTaskID(user string, source Source, title string, start, end time.Time) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d|%d", source, title, user, start.Unix(), end.Unix()))
	return "task_" + hex.EncodeToString(h[:8])
}
