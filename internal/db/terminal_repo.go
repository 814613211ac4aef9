package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type TerminalRepo struct {
	db *sql.DB
}

func NewTerminalRepo(db *sql.DB) *TerminalRepo {
	return &TerminalRepo{db: db}
}

// Upsert records terminalID as the PTY behind (rec.ProjectID, rec.Name).
func (r *TerminalRepo) Upsert(ctx context.Context, rec *TerminalRecord) error {
	if rec == nil {
		return fmt.Errorf("terminal record is required")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("terminal name is required")
	}
	if strings.TrimSpace(rec.TerminalID) == "" {
		return fmt.Errorf("terminal id is required")
	}
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	now := nowUTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO terminals (id, project_id, name, terminal_id, cwd, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_id, name) DO UPDATE SET
	terminal_id = excluded.terminal_id,
	cwd = excluded.cwd,
	updated_at = excluded.updated_at
`,
		rec.ID,
		rec.ProjectID,
		rec.Name,
		rec.TerminalID,
		rec.Cwd,
		formatTimestamp(rec.CreatedAt),
		formatTimestamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save terminal %q: %w", rec.Name, err)
	}
	return nil
}

// Get returns the record for (projectID, name), or nil when none exists.
func (r *TerminalRepo) Get(ctx context.Context, projectID, name string) (*TerminalRecord, error) {
	var rec TerminalRecord
	var createdAtRaw, updatedAtRaw string
	err := r.db.QueryRowContext(ctx, `
SELECT id, project_id, name, terminal_id, cwd, created_at, updated_at
FROM terminals
WHERE project_id = ? AND name = ?
`, projectID, name).Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.Name,
		&rec.TerminalID,
		&rec.Cwd,
		&createdAtRaw,
		&updatedAtRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get terminal %q: %w", name, err)
	}
	if rec.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *TerminalRepo) List(ctx context.Context, projectID string) ([]*TerminalRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, name, terminal_id, cwd, created_at, updated_at
FROM terminals
WHERE project_id = ?
ORDER BY name ASC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminals: %w", err)
	}
	defer rows.Close()

	var out []*TerminalRecord
	for rows.Next() {
		var rec TerminalRecord
		var createdAtRaw, updatedAtRaw string
		if err := rows.Scan(
			&rec.ID,
			&rec.ProjectID,
			&rec.Name,
			&rec.TerminalID,
			&rec.Cwd,
			&createdAtRaw,
			&updatedAtRaw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan terminal: %w", err)
		}
		if rec.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating terminals: %w", err)
	}
	return out, nil
}

// Delete forgets (projectID, name). Deleting a missing record is not an
// error.
func (r *TerminalRepo) Delete(ctx context.Context, projectID, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terminals WHERE project_id = ? AND name = ?`, projectID, name); err != nil {
		return fmt.Errorf("failed to delete terminal %q: %w", name, err)
	}
	return nil
}
