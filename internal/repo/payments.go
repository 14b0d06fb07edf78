package repo

import (
	"context"
	"database/sql"

	"draftclinic/internal/domain"
)

const paymentColumns = `id,request_id,amount,payment_type,payment_method,proof_document_id,transaction_reference,notes,status,verified_by,verified_at,rejection_reason,created_at,updated_at,version`

func scanPayment(s scanner) (domain.Payment, error) {
	var p domain.Payment
	var proof, ref, notes, verifiedBy, verifiedAt, rejection sql.NullString
	var typ, status string
	err := s.Scan(&p.ID, &p.RequestID, &p.Amount, &typ, &p.Method, &proof, &ref, &notes, &status,
		&verifiedBy, &verifiedAt, &rejection, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		return p, notFound(err)
	}
	p.Type = domain.PaymentType(typ)
	p.Status = domain.PaymentStatus(status)
	p.ProofDocumentID = strPtr(proof)
	p.TransactionReference = ref.String
	p.Notes = notes.String
	p.VerifiedBy = strPtr(verifiedBy)
	p.VerifiedAt = strPtr(verifiedAt)
	p.RejectionReason = rejection.String
	return p, nil
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO payments(`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.RequestID, p.Amount, string(p.Type), p.Method, nullableStringPtr(p.ProofDocumentID),
		nullable(p.TransactionReference), nullable(p.Notes), string(p.Status), nullableStringPtr(p.VerifiedBy),
		nullableStringPtr(p.VerifiedAt), nullable(p.RejectionReason), p.CreatedAt, p.UpdatedAt, p.Version)
	return err
}

// ResolvePayment records a verification outcome. It only matches a row that is
// still pending at the expected version, so a second resolution loses.
func (r Repo) ResolvePayment(ctx context.Context, tx *sql.Tx, p domain.Payment) (domain.Payment, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE payments SET status=?,verified_by=?,verified_at=?,rejection_reason=?,updated_at=?,version=version+1
 WHERE id=? AND version=? AND status='pending'`,
		string(p.Status), nullableStringPtr(p.VerifiedBy), nullableStringPtr(p.VerifiedAt), nullable(p.RejectionReason),
		p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return p, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p, domain.ErrConflict
	}
	p.Version++
	return p, nil
}

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return r.GetPaymentTx(ctx, nil, id)
}

func (r Repo) GetPaymentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	return scanPayment(r.q(tx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id))
}

func (r Repo) ListPaymentsByRequest(ctx context.Context, requestID string) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE request_id=? ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE status=?`, string(status)).Scan(&n)
	return n, err
}

// HasPendingUpfrontPayment reports whether requestID has an unresolved payment of an upfront type.
func (r Repo) HasPendingUpfrontPayment(ctx context.Context, tx *sql.Tx, requestID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE request_id=? AND status='pending' AND payment_type IN ('deposit','full')`, requestID).Scan(&n)
	return n > 0, err
}
