package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

const reminderColumns = `id, user_id, source, title, description, start_time, end_time, is_all_day, external_id, raw_payload, created_at`

func scanReminder(r rowScanner) (*domain.Reminder, error) {
	var (
		rem        domain.Reminder
		start, end string
		externalID sql.NullString
		createdAt  string
	)
	if err := r.Scan(&rem.ID, &rem.User, &rem.Source, &rem.Title, &rem.Description,
		&start, &end, &rem.IsAllDay, &externalID, &rem.RawPayload, &createdAt); err != nil {
		return nil, err
	}
	rem.Start = parseTime(start)
	rem.End = parseTime(end)
	rem.ExternalID = externalID.String
	rem.CreatedAt = parseTime(createdAt)
	return &rem, nil
}

// UpsertReminder inserts or refreshes a reminder, matching on
// (user, source, external_id) when an external id exists.
func (s *Store) UpsertReminder(ctx context.Context, r *domain.Reminder) error {
	if r.ID == "" {
		r.ID = domain.NewReminderID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	var externalID any
	if r.ExternalID != "" {
		externalID = r.ExternalID
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if r.ExternalID != "" {
			var existingID string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM reminders WHERE user_id = ? AND source = ? AND external_id = ?`,
				r.User, string(r.Source), r.ExternalID).Scan(&existingID)
			if err == nil {
				r.ID = existingID
				_, err = tx.ExecContext(ctx, `UPDATE reminders SET
						title = ?, description = ?, start_time = ?, end_time = ?, is_all_day = ?, raw_payload = ?
					WHERE id = ?`,
					r.Title, r.Description, fmtTime(r.Start), fmtTime(r.End), r.IsAllDay, r.RawPayload, existingID)
				if err != nil {
					return fmt.Errorf("update reminder %s: %w", existingID, err)
				}
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("find reminder: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO reminders (`+reminderColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.User, string(r.Source), r.Title, r.Description,
			fmtTime(r.Start), fmtTime(r.End), r.IsAllDay, externalID, r.RawPayload, fmtTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert reminder %s: %w", r.ID, err)
		}
		return nil
	})
}

// GetReminder fetches one reminder by id.
func (s *Store) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.InvalidRequest, "reminder %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return r, nil
}

// ListReminders returns a user's reminders ordered by start time.
func (s *Store) ListReminders(ctx context.Context, user string) ([]*domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY start_time ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReminder removes a reminder (after promotion to a task).
func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}
