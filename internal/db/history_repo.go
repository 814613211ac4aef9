package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DefaultHistoryKeep bounds how many commands are kept per project.
const DefaultHistoryKeep = 1000

type HistoryRepo struct {
	db   *sql.DB
	keep int
}

func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db, keep: DefaultHistoryKeep}
}

// Append records command for projectID and prunes entries beyond the keep
// limit.
func (r *HistoryRepo) Append(ctx context.Context, projectID, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("history command is required")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start history transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO history (project_id, command, created_at) VALUES (?, ?, ?)
`, projectID, command, formatTimestamp(nowUTC())); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM history
WHERE project_id = ? AND seq NOT IN (
	SELECT seq FROM history WHERE project_id = ? ORDER BY seq DESC LIMIT ?
)
`, projectID, projectID, r.keep); err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries for projectID, oldest
// first.
func (r *HistoryRepo) Recent(ctx context.Context, projectID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT seq, project_id, command, created_at FROM (
	SELECT seq, project_id, command, created_at
	FROM history
	WHERE project_id = ?
	ORDER BY seq DESC
	LIMIT ?
) ORDER BY seq ASC
`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	out := make([]*HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var createdAtRaw string
		if err := rows.Scan(&entry.Seq, &entry.ProjectID, &entry.Command, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if entry.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating history: %w", err)
	}
	return out, nil
}

// ForProject binds the repo to one project, giving the Load/Append shape
// the exec-mode line editor persists through.
func (r *HistoryRepo) ForProject(projectID string, limit int) *ProjectHistory {
	return &ProjectHistory{repo: r, projectID: projectID, limit: limit}
}

type ProjectHistory struct {
	repo      *HistoryRepo
	projectID string
	limit     int
}

func (p *ProjectHistory) Load(ctx context.Context) ([]string, error) {
	entries, err := p.repo.Recent(ctx, p.projectID, p.limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Command)
	}
	return out, nil
}

func (p *ProjectHistory) Append(ctx context.Context, line string) error {
	return p.repo.Append(ctx, p.projectID, line)
}
