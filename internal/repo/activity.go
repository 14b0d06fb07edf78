package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"draftclinic/internal/domain"
)

const activityColumns = `id,request_id,actor_id,action_type,title,description,metadata_json,visible_to_client,created_at`

func scanActivity(s scanner) (domain.ActivityLogEntry, error) {
	var e domain.ActivityLogEntry
	var title, desc, meta sql.NullString
	var action string
	var visible int
	if err := s.Scan(&e.ID, &e.RequestID, &e.ActorID, &action, &title, &desc, &meta, &visible, &e.CreatedAt); err != nil {
		return e, notFound(err)
	}
	e.Action = domain.ActionType(action)
	e.Title = title.String
	e.Description = desc.String
	e.VisibleToClient = visible == 1
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			e.Metadata = map[string]any{"raw": meta.String}
		}
	}
	return e, nil
}

type ActivityFilters struct {
	RequestID   string
	VisibleOnly bool
	Action      domain.ActionType
	// Ascending returns entries in invocation order instead of newest first.
	Ascending bool
	// BeforeID/AfterID page through entries by id.
	BeforeID int64
	AfterID  int64
	Limit    int
}

func (r Repo) ListActivity(ctx context.Context, f ActivityFilters) ([]domain.ActivityLogEntry, error) {
	var clauses []string
	var args []any
	if f.RequestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, f.RequestID)
	}
	if f.VisibleOnly {
		clauses = append(clauses, "visible_to_client=1")
	}
	if f.Action != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, string(f.Action))
	}
	if f.BeforeID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.BeforeID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, f.AfterID)
	}
	order := " ORDER BY id DESC"
	if f.Ascending {
		order = " ORDER BY id ASC"
	}
	query := `SELECT ` + activityColumns + ` FROM activity_logs` + where(clauses) + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLogEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, id int64) (domain.ActivityLogEntry, error) {
	return scanActivity(r.q(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activity_logs WHERE id=?`, id))
}

// LatestActivityID returns the highest entry id, 0 for an empty log.
func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM activity_logs`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
