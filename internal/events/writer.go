package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"draftclinic/internal/domain"
)

// Writer appends Activity Log entries inside the caller's transaction, so an
// entry commits or rolls back together with the change it records.
type Writer struct {
	Now func() time.Time
}

type Metadata map[string]any

// Entry is one fact to append. CreatedAt and ID are assigned by Append.
type Entry struct {
	RequestID       string
	ActorID         string
	Action          domain.ActionType
	Title           string
	Description     string
	Metadata        Metadata
	VisibleToClient bool
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.ActivityLogEntry, error) {
	if tx == nil {
		return domain.ActivityLogEntry{}, fmt.Errorf("activity log append requires a transaction")
	}
	if !e.Action.Valid() {
		return domain.ActivityLogEntry{}, fmt.Errorf("unknown activity action %q", e.Action)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	var meta any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return domain.ActivityLogEntry{}, fmt.Errorf("marshal activity metadata: %w", err)
		}
		meta = string(data)
	}
	visible := 0
	if e.VisibleToClient {
		visible = 1
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO activity_logs(request_id,actor_id,action_type,title,description,metadata_json,visible_to_client,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.RequestID, e.ActorID, string(e.Action), nullable(e.Title), nullable(e.Description), meta, visible, ts)
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	return domain.ActivityLogEntry{
		ID:              id,
		RequestID:       e.RequestID,
		ActorID:         e.ActorID,
		Action:          e.Action,
		Title:           e.Title,
		Description:     e.Description,
		Metadata:        e.Metadata,
		VisibleToClient: e.VisibleToClient,
		CreatedAt:       ts,
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
