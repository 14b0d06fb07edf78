package repo

import (
	"context"
	"database/sql"

	"draftclinic/internal/domain"
)

const revisionColumns = `id,request_id,delivery_document_id,requested_by,revision_details,status,admin_response,responded_by,responded_at,created_at,updated_at`

func scanRevision(s scanner) (domain.RevisionRequest, error) {
	var rv domain.RevisionRequest
	var deliveryDoc, response, respondedBy, respondedAt sql.NullString
	var status string
	err := s.Scan(&rv.ID, &rv.RequestID, &deliveryDoc, &rv.RequestedBy, &rv.Details, &status, &response, &respondedBy, &respondedAt, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		return rv, notFound(err)
	}
	rv.DeliveryDocumentID = strPtr(deliveryDoc)
	rv.Status = domain.RevisionStatus(status)
	rv.AdminResponse = response.String
	rv.RespondedBy = strPtr(respondedBy)
	rv.RespondedAt = strPtr(respondedAt)
	return rv, nil
}

func (r Repo) InsertRevision(ctx context.Context, tx *sql.Tx, rv domain.RevisionRequest) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO revision_requests(`+revisionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.RequestID, nullableStringPtr(rv.DeliveryDocumentID), rv.RequestedBy, rv.Details, string(rv.Status),
		nullable(rv.AdminResponse), nullableStringPtr(rv.RespondedBy), nullableStringPtr(rv.RespondedAt), rv.CreatedAt, rv.UpdatedAt)
	return err
}

// UpdateRevisionStatus moves a revision from one status to another; the
// update only applies while the row still holds from.
func (r Repo) UpdateRevisionStatus(ctx context.Context, tx *sql.Tx, rv domain.RevisionRequest, from domain.RevisionStatus) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE revision_requests SET status=?,admin_response=?,responded_by=?,responded_at=?,updated_at=? WHERE id=? AND status=?`,
		string(rv.Status), nullable(rv.AdminResponse), nullableStringPtr(rv.RespondedBy), nullableStringPtr(rv.RespondedAt), rv.UpdatedAt, rv.ID, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r Repo) GetRevisionTx(ctx context.Context, tx *sql.Tx, id string) (domain.RevisionRequest, error) {
	return scanRevision(r.q(tx).QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revision_requests WHERE id=?`, id))
}

// CountOpenRevisions counts pending or in-progress revisions of a request.
func (r Repo) CountOpenRevisions(ctx context.Context, tx *sql.Tx, requestID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM revision_requests WHERE request_id=? AND status IN ('pending','in_progress')`, requestID).Scan(&n)
	return n, err
}

func (r Repo) ListRevisions(ctx context.Context, requestID string) ([]domain.RevisionRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+revisionColumns+` FROM revision_requests WHERE request_id=? ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, err
	}
	var res []domain.RevisionRequest
	for rows.Next() {
		rv, err := scanRevision(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, rv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		atts, err := r.ListRevisionAttachments(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Attachments = atts
	}
	return res, nil
}

func (r Repo) InsertRevisionAttachment(ctx context.Context, tx *sql.Tx, a domain.RevisionAttachment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO revision_attachments(id,revision_id,filename,original_filename,file_type,file_size,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.RevisionID, a.Filename, a.OriginalFilename, nullable(a.FileType), a.FileSize, a.UploadedBy, a.CreatedAt)
	return err
}

func (r Repo) ListRevisionAttachments(ctx context.Context, revisionID string) ([]domain.RevisionAttachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,revision_id,filename,original_filename,COALESCE(file_type,''),file_size,uploaded_by,created_at FROM revision_attachments WHERE revision_id=? ORDER BY created_at ASC, id ASC`, revisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RevisionAttachment
	for rows.Next() {
		var a domain.RevisionAttachment
		if err := rows.Scan(&a.ID, &a.RevisionID, &a.Filename, &a.OriginalFilename, &a.FileType, &a.FileSize, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
