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

func scanPlan(r rowScanner) (*domain.DailyPlan, error) {
	var (
		p           domain.DailyPlan
		entries     string
		generatedAt string
	)
	if err := r.Scan(&p.ID, &p.User, &p.Date, &p.Status, &p.EnergyLevel, &entries, &generatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(entries), &p.Entries); err != nil {
		return nil, fmt.Errorf("decode plan entries for %s: %w", p.ID, err)
	}
	p.GeneratedAt = parseTime(generatedAt)
	return &p, nil
}

const planColumns = `id, user_id, plan_date, status, energy_level, entries, generated_at`

// ReplacePlan atomically installs the plan for (user, date), superseding any
// previous one. Readers never observe a half-written plan.
func (s *Store) ReplacePlan(ctx context.Context, p *domain.DailyPlan) error {
	if p.Status == "" {
		p.Status = domain.PlanActive
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = s.now()
	}
	entries, err := json.Marshal(p.Entries)
	if err != nil {
		return fmt.Errorf("encode plan entries: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Regeneration keeps the existing plan id, so notification
		// reservations made against the superseded plan still hold.
		if p.ID == "" {
			var prev string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM daily_plans WHERE user_id = ? AND plan_date = ?`, p.User, p.Date).Scan(&prev)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				p.ID = domain.NewPlanID()
			case err != nil:
				return fmt.Errorf("look up plan id: %w", err)
			default:
				p.ID = prev
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM daily_plans WHERE user_id = ? AND plan_date = ?`, p.User, p.Date); err != nil {
			return fmt.Errorf("supersede plan: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO daily_plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.User, p.Date, string(p.Status), p.EnergyLevel, string(entries), fmtTime(p.GeneratedAt)); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		return nil
	})
}

// GetPlan returns the plan for (user, date), nil when none exists.
func (s *Store) GetPlan(ctx context.Context, user, date string) (*domain.DailyPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM daily_plans WHERE user_id = ? AND plan_date = ?`, user, date)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// GetPlanByID returns one plan by id.
func (s *Store) GetPlanByID(ctx context.Context, id string) (*domain.DailyPlan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM daily_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.InvalidRequest, "plan %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return p, nil
}

// ActivePlans returns every active plan for a date, across users. The nudge
// tick walks this.
func (s *Store) ActivePlans(ctx context.Context, date string) ([]*domain.DailyPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM daily_plans WHERE plan_date = ? AND status = ? ORDER BY user_id`,
		date, string(domain.PlanActive))
	if err != nil {
		return nil, fmt.Errorf("active plans: %w", err)
	}
	defer rows.Close()

	var out []*domain.DailyPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePlanStatus transitions a plan's lifecycle state.
func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status domain.PlanStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE daily_plans SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update plan status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.Newf(fault.InvalidRequest, "plan %s not found", id)
	}
	return nil
}

// MutatePlanEntry applies fn to the matching entry inside a transaction and
// writes the plan back. fn runs against the freshest copy.
func (s *Store) MutatePlanEntry(ctx context.Context, planID, taskID string, fn func(e *domain.PlanEntry) error) (*domain.DailyPlan, error) {
	var out *domain.DailyPlan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM daily_plans WHERE id = ?`, planID)
		p, err := scanPlan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.Newf(fault.InvalidRequest, "plan %s not found", planID)
		}
		if err != nil {
			return fmt.Errorf("get plan %s: %w", planID, err)
		}

		e := p.Entry(taskID)
		if e == nil {
			return fault.Newf(fault.InvalidRequest, "task %s not in plan %s", taskID, planID)
		}
		if err := fn(e); err != nil {
			return err
		}

		entries, err := json.Marshal(p.Entries)
		if err != nil {
			return fmt.Errorf("encode plan entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE daily_plans SET entries = ? WHERE id = ?`, string(entries), planID); err != nil {
			return fmt.Errorf("write plan entries: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// SetEnergy records the user's energy for a date, last write wins.
func (s *Store) SetEnergy(ctx context.Context, e domain.EnergyLevel) error {
	if err := e.Validate(); err != nil {
		return fault.Wrap(fault.InvalidRequest, "validate energy", err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO energy_levels (user_id, date, level) VALUES (?, ?, ?)
			ON CONFLICT (user_id, date) DO UPDATE SET level = excluded.level`,
		e.User, e.Date, e.Level)
	if err != nil {
		return fmt.Errorf("set energy: %w", err)
	}
	return nil
}

// GetEnergy returns the recorded level for (user, date), DefaultEnergyLevel
// when the user recorded nothing.
func (s *Store) GetEnergy(ctx context.Context, user, date string) (int, error) {
	var level int
	err := s.db.QueryRowContext(ctx,
		`SELECT level FROM energy_levels WHERE user_id = ? AND date = ?`, user, date).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultEnergyLevel, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get energy: %w", err)
	}
	return level, nil
}

// InsertFeedback appends one feedback record.
func (s *Store) InsertFeedback(ctx context.Context, fb *domain.TaskFeedback) error {
	if fb.ID == "" {
		fb.ID = domain.NewFeedbackID()
	}
	if fb.At.IsZero() {
		fb.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_feedback
			(id, user_id, task_id, plan_id, action, snooze_duration_minutes, feedback_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.User, fb.TaskID, fb.PlanID, string(fb.Action), fb.SnoozeDuration, fmtTime(fb.At))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// FeedbackSince returns a user's feedback at or after since, oldest first.
func (s *Store) FeedbackSince(ctx context.Context, user string, since time.Time) ([]*domain.TaskFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, task_id, COALESCE(plan_id, ''), action, snooze_duration_minutes, feedback_at
			FROM task_feedback WHERE user_id = ? AND feedback_at >= ? ORDER BY feedback_at ASC`,
		user, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("feedback since: %w", err)
	}
	defer rows.Close()

	var out []*domain.TaskFeedback
	for rows.Next() {
		var fb domain.TaskFeedback
		var at string
		if err := rows.Scan(&fb.ID, &fb.User, &fb.TaskID, &fb.PlanID, &fb.Action, &fb.SnoozeDuration, &at); err != nil {
			return nil, err
		}
		fb.At = parseTime(at)
		out = append(out, &fb)
	}
	return out, rows.Err()
}
