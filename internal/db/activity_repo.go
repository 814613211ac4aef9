package db

import (
	"context"
	"database/sql"
	"fmt"
)

type ActivityRepo struct {
	db *sql.DB
}

func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

func (r *ActivityRepo) Create(ctx context.Context, rec *ActivityRecord) error {
	if rec == nil {
		return fmt.Errorf("activity record is required")
	}
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
	}
	linesJSON, err := encodeStringSlice(rec.Lines)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO activity (id, project_id, terminal_id, lines_json, had_error, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		rec.ProjectID,
		rec.TerminalID,
		linesJSON,
		boolToInt(rec.HadError),
		formatTimestamp(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// ListRecent returns the newest excerpts for projectID, newest first.
func (r *ActivityRepo) ListRecent(ctx context.Context, projectID string, limit int) ([]*ActivityRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, terminal_id, lines_json, had_error, created_at
FROM activity
WHERE project_id = ?
ORDER BY created_at DESC
LIMIT ?
`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []*ActivityRecord
	for rows.Next() {
		var rec ActivityRecord
		var linesJSON, createdAtRaw string
		var hadError int
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.TerminalID, &linesJSON, &hadError, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if rec.Lines, err = decodeStringSlice(linesJSON); err != nil {
			return nil, err
		}
		rec.HadError = hadError != 0
		if rec.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating activity: %w", err)
	}
	return out, nil
}
