package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

const notificationColumns = `id, user_id, task_id, plan_id, type, message, scheduled_at, sent_at, status, created_at`

func scanNotification(r rowScanner) (*domain.Notification, error) {
	var (
		n           domain.Notification
		scheduledAt string
		sentAt      sql.NullString
		createdAt   string
	)
	if err := r.Scan(&n.ID, &n.User, &n.TaskID, &n.PlanID, &n.Type, &n.Message,
		&scheduledAt, &sentAt, &n.Status, &createdAt); err != nil {
		return nil, err
	}
	n.ScheduledAt = parseTime(scheduledAt)
	n.SentAt = parseTimePtr(sentAt)
	n.CreatedAt = parseTime(createdAt)
	return &n, nil
}

// Reserve claims the right to nudge (user, task, plan). The partial unique
// index on non-dismissed rows makes this at-most-once: a second caller gets
// a Busy error and must not deliver.
func (s *Store) Reserve(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = domain.NewNotificationID()
	}
	if n.Type == "" {
		n.Type = "nudge"
	}
	if n.Status == "" {
		n.Status = domain.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO notifications
			(id, user_id, task_id, plan_id, type, message, scheduled_at, sent_at, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.User, n.TaskID, n.PlanID, n.Type, n.Message,
		fmtTime(n.ScheduledAt), fmtTimePtr(n.SentAt), string(n.Status), fmtTime(n.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.Busy, "nudge for task %s already reserved", n.TaskID)
		}
		return fmt.Errorf("reserve notification: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint failures in the message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

// MarkNotificationSent records delivery.
func (s *Store) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?`,
		string(domain.NotificationSent), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("mark notification sent %s: %w", id, err)
	}
	return nil
}

// GetNotification fetches one notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.InvalidRequest, "notification %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// DismissNotification marks a notification dismissed, freeing its
// reservation slot. Dismissing twice is a no-op.
func (s *Store) DismissNotification(ctx context.Context, id string) (*domain.Notification, error) {
	var out *domain.Notification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
		n, err := scanNotification(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.Newf(fault.InvalidRequest, "notification %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get notification %s: %w", id, err)
		}
		if n.Status != domain.NotificationDismissed {
			n.Status = domain.NotificationDismissed
			if _, err := tx.ExecContext(ctx,
				`UPDATE notifications SET status = ? WHERE id = ?`,
				string(domain.NotificationDismissed), id); err != nil {
				return fmt.Errorf("dismiss notification %s: %w", id, err)
			}
		}
		out = n
		return nil
	})
	return out, err
}

// ListNotifications returns a user's notifications, newest first. An empty
// status lists everything; limit <= 0 lists all of them.
func (s *Store) ListNotifications(ctx context.Context, user string, status domain.NotificationStatus, limit int) ([]*domain.Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{user}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
