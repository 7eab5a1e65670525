package domain

import (
	"fmt"
	"time"
)

// NotificationStatus is the delivery state of a nudge.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDismissed NotificationStatus = "dismissed"
)

// Notification is an at-most-once nudge tied to a plan entry.
// The store enforces at most one non-dismissed row per (user, task, plan).
type Notification struct {
	ID          string             `json:"id"`
	User        string             `json:"user_id"`
	TaskID      string             `json:"task_id"`
	PlanID      string             `json:"plan_id,omitempty"`
	Type        string             `json:"type"`
	Message     string             `json:"message"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewNotificationID creates a unique notification identifier.
func NewNotificationID() string { return newID("ntf") }

// NudgeMessage formats the micro-nudge text for a plan entry.
func NudgeMessage(title string, critical, urgent bool) string {
	switch {
	case critical:
		return fmt.Sprintf("🔴 CRITICAL: %s is starting now", title)
	case urgent:
		return fmt.Sprintf("⚠️ URGENT: %s is starting now", title)
	default:
		return fmt.Sprintf("📋 %s is starting now", title)
	}
}

// CredentialProvider names an external account type a user can connect.
type CredentialProvider string

const (
	ProviderCalendar    CredentialProvider = "calendar"
	ProviderMail        CredentialProvider = "mail"
	ProviderTaskManager CredentialProvider = "task_manager"
)

// ProviderForSource maps a task source to the credential provider it needs.
func ProviderForSource(s Source) CredentialProvider {
	switch s {
	case SourceCalendar:
		return ProviderCalendar
	case SourceMail:
		return ProviderMail
	default:
		return ProviderTaskManager
	}
}

// Credential holds a user's tokens for one provider. At most one active
// credential exists per (user, provider); Revoked ones make every pipeline
// requiring them fail fast with a reconnect error.
type Credential struct {
	User         string             `json:"user_id"`
	Provider     CredentialProvider `json:"provider"`
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token,omitempty"`
	Expiry       time.Time          `json:"expiry"`
	Scopes       []string           `json:"scopes,omitempty"`
	Revoked      bool               `json:"revoked"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// ExpiresWithin reports whether the access token is stale at now+skew.
func (c *Credential) ExpiresWithin(now time.Time, skew time.Duration) bool {
	return !c.Expiry.After(now.Add(skew))
}
