// Package provider defines the contracts for the external accounts tasks are
// pulled from, plus the credential and rate-limit plumbing every fetch
// shares. Concrete HTTP clients live behind these interfaces; tests use
// fakes.
package provider

import (
	"context"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
)

// CalendarEvent is a raw calendar item before extraction.
type CalendarEvent struct {
	ID             string
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	IsAllDay       bool
	Cancelled      bool
	IsSeriesMaster bool
	SeriesMasterID string
	Recurrence     string
	Attendees      []string
	UpdatedAt      time.Time
	Raw            []byte
}

// MailMessage is a raw mail item before extraction.
type MailMessage struct {
	ID         string
	Subject    string
	From       string
	Snippet    string
	Body       string
	Labels     []string
	ReceivedAt time.Time
	Raw        []byte
}

// TaskItem is a raw task-manager item. Priority uses the manager's 1..4
// scale where 4 is most important.
type TaskItem struct {
	ID          string
	Title       string
	Description string
	Due         time.Time
	Priority    int
	Completed   bool
	Deleted     bool
	UpdatedAt   time.Time
	Raw         []byte
}

// Page tokens: an empty next token ends pagination.

// CalendarClient lists events inside a window.
type CalendarClient interface {
	ListEvents(ctx context.Context, cred *domain.Credential, from, to time.Time, pageToken string) (events []CalendarEvent, nextToken string, err error)
}

// MailClient lists messages received at or after since.
type MailClient interface {
	ListMessages(ctx context.Context, cred *domain.Credential, since time.Time, pageToken string) (messages []MailMessage, nextToken string, err error)
}

// TaskManagerClient reads and writes the external task manager. Items
// changed at or after updatedSince are returned, deletions included.
type TaskManagerClient interface {
	ListTasks(ctx context.Context, cred *domain.Credential, updatedSince time.Time, pageToken string) (items []TaskItem, nextToken string, err error)
	CreateTask(ctx context.Context, cred *domain.Credential, item TaskItem) (externalID string, err error)
	UpdateTask(ctx context.Context, cred *domain.Credential, item TaskItem) error
	CompleteTask(ctx context.Context, cred *domain.Credential, externalID string) error
}

// Clients bundles the three provider clients a deployment wires in.
type Clients struct {
	Calendar    CalendarClient
	Mail        MailClient
	TaskManager TaskManagerClient
}
