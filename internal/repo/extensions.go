package repo

import (
	"context"
	"database/sql"

	"draftclinic/internal/domain"
)

const extensionColumns = `id,request_id,requested_by,original_deadline,new_deadline,reason,status,responded_by,response_message,responded_at,created_at`

func scanExtension(s scanner) (domain.DeadlineExtension, error) {
	var x domain.DeadlineExtension
	var original, reason, respondedBy, message, respondedAt sql.NullString
	var status string
	err := s.Scan(&x.ID, &x.RequestID, &x.RequestedBy, &original, &x.NewDeadline, &reason, &status, &respondedBy, &message, &respondedAt, &x.CreatedAt)
	if err != nil {
		return x, notFound(err)
	}
	x.OriginalDeadline = strPtr(original)
	x.Reason = reason.String
	x.Status = domain.ExtensionStatus(status)
	x.RespondedBy = strPtr(respondedBy)
	x.ResponseMessage = message.String
	x.RespondedAt = strPtr(respondedAt)
	return x, nil
}

func (r Repo) InsertDeadlineExtension(ctx context.Context, tx *sql.Tx, x domain.DeadlineExtension) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO deadline_extensions(`+extensionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		x.ID, x.RequestID, x.RequestedBy, nullableStringPtr(x.OriginalDeadline), x.NewDeadline, nullable(x.Reason),
		string(x.Status), nullableStringPtr(x.RespondedBy), nullable(x.ResponseMessage), nullableStringPtr(x.RespondedAt), x.CreatedAt)
	return err
}

// ResolveDeadlineExtension stores the response of a still-pending extension.
func (r Repo) ResolveDeadlineExtension(ctx context.Context, tx *sql.Tx, x domain.DeadlineExtension) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE deadline_extensions SET status=?,responded_by=?,response_message=?,responded_at=? WHERE id=? AND status='pending'`,
		string(x.Status), nullableStringPtr(x.RespondedBy), nullable(x.ResponseMessage), nullableStringPtr(x.RespondedAt), x.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r Repo) GetDeadlineExtensionTx(ctx context.Context, tx *sql.Tx, id string) (domain.DeadlineExtension, error) {
	return scanExtension(r.q(tx).QueryRowContext(ctx, `SELECT `+extensionColumns+` FROM deadline_extensions WHERE id=?`, id))
}

func (r Repo) PendingDeadlineExtension(ctx context.Context, tx *sql.Tx, requestID string) (domain.DeadlineExtension, error) {
	return scanExtension(r.q(tx).QueryRowContext(ctx, `SELECT `+extensionColumns+` FROM deadline_extensions WHERE request_id=? AND status='pending' LIMIT 1`, requestID))
}

func (r Repo) ListDeadlineExtensions(ctx context.Context, requestID string) ([]domain.DeadlineExtension, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+extensionColumns+` FROM deadline_extensions WHERE request_id=? ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeadlineExtension
	for rows.Next() {
		x, err := scanExtension(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, rows.Err()
}
