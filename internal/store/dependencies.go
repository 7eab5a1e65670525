package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/fault"
)

// AddDependency records that taskID is blocked by blockedBy. The insert is
// rejected when it would close a cycle.
func (s *Store) AddDependency(ctx context.Context, dep domain.TaskDependency) error {
	if dep.TaskID == dep.BlockedByTask {
		return fault.Newf(fault.InvalidRequest, "task %s cannot depend on itself", dep.TaskID)
	}
	if dep.Type == "" {
		dep.Type = domain.DepBlocks
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cyclic, err := reaches(ctx, tx, dep.BlockedByTask, dep.TaskID)
		if err != nil {
			return err
		}
		if cyclic {
			return fault.Newf(fault.InvalidRequest, "dependency %s -> %s would create a cycle", dep.TaskID, dep.BlockedByTask)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO task_dependencies (task_id, blocked_by_task_id, type)
				VALUES (?, ?, ?)
				ON CONFLICT (task_id, blocked_by_task_id) DO UPDATE SET type = excluded.type`,
			dep.TaskID, dep.BlockedByTask, string(dep.Type))
		if err != nil {
			return fmt.Errorf("add dependency: %w", err)
		}
		return nil
	})
}

// reaches walks blocked-by edges from start looking for target.
func reaches(ctx context.Context, tx *sql.Tx, start, target string) (bool, error) {
	seen := map[string]bool{}
	frontier := []string{start}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur == target {
			return true, nil
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true

		rows, err := tx.QueryContext(ctx,
			`SELECT blocked_by_task_id FROM task_dependencies WHERE task_id = ?`, cur)
		if err != nil {
			return false, fmt.Errorf("walk dependencies: %w", err)
		}
		for rows.Next() {
			var next string
			if err := rows.Scan(&next); err != nil {
				rows.Close()
				return false, err
			}
			frontier = append(frontier, next)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
	}
	return false, nil
}

// RemoveDependency deletes one edge.
func (s *Store) RemoveDependency(ctx context.Context, taskID, blockedBy string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE task_id = ? AND blocked_by_task_id = ?`, taskID, blockedBy)
	if err != nil {
		return fmt.Errorf("remove dependency: %w", err)
	}
	return nil
}

// OpenBlockers returns the incomplete tasks blocking taskID. Only "blocks"
// and "depends_on" edges gate scheduling.
func (s *Store) OpenBlockers(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT d.blocked_by_task_id
			FROM task_dependencies d
			JOIN tasks t ON t.id = d.blocked_by_task_id
			WHERE d.task_id = ? AND d.type IN (?, ?) AND t.is_completed = 0`,
		taskID, string(domain.DepBlocks), string(domain.DepDependsOn))
	if err != nil {
		return nil, fmt.Errorf("open blockers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
