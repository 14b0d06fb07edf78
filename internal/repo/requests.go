package repo

import (
	"context"
	"database/sql"

	"draftclinic/internal/domain"
)

const requestColumns = `id,client_id,service_type,title,description,additional_info,word_count,pages_count,deadline,urgency_level,status,progress_percentage,quote_amount,quote_message,quote_sent_at,quote_accepted,deposit_required,deposit_paid,admin_notes,rejection_reason,created_at,updated_at,delivered_at,version`

func scanRequest(s scanner) (domain.Request, error) {
	var rq domain.Request
	var additional, deadline, quoteMsg, quoteSentAt, notes, rejection, deliveredAt sql.NullString
	var words, pages sql.NullInt64
	var quoteAmount, deposit sql.NullFloat64
	var serviceType, urgency, status string
	var accepted, paid int
	err := s.Scan(&rq.ID, &rq.ClientID, &serviceType, &rq.Title, &rq.Description, &additional, &words, &pages,
		&deadline, &urgency, &status, &rq.ProgressPercentage, &quoteAmount, &quoteMsg, &quoteSentAt, &accepted,
		&deposit, &paid, &notes, &rejection, &rq.CreatedAt, &rq.UpdatedAt, &deliveredAt, &rq.Version)
	if err != nil {
		return rq, notFound(err)
	}
	rq.ServiceType = domain.ServiceType(serviceType)
	rq.UrgencyLevel = domain.Urgency(urgency)
	rq.Status = domain.RequestStatus(status)
	rq.AdditionalInfo = additional.String
	rq.WordCount = intPtr(words)
	rq.PagesCount = intPtr(pages)
	rq.Deadline = strPtr(deadline)
	rq.QuoteAmount = floatPtr(quoteAmount)
	rq.QuoteMessage = quoteMsg.String
	rq.QuoteSentAt = strPtr(quoteSentAt)
	rq.QuoteAccepted = accepted == 1
	rq.DepositRequired = floatPtr(deposit)
	rq.DepositPaid = paid == 1
	rq.AdminNotes = notes.String
	rq.RejectionReason = rejection.String
	rq.DeliveredAt = strPtr(deliveredAt)
	return rq, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, rq domain.Request) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rq.ID, rq.ClientID, string(rq.ServiceType), rq.Title, rq.Description, nullable(rq.AdditionalInfo),
		nullableIntPtr(rq.WordCount), nullableIntPtr(rq.PagesCount), nullableStringPtr(rq.Deadline),
		string(rq.UrgencyLevel), string(rq.Status), rq.ProgressPercentage, nullableFloatPtr(rq.QuoteAmount),
		nullable(rq.QuoteMessage), nullableStringPtr(rq.QuoteSentAt), boolInt(rq.QuoteAccepted),
		nullableFloatPtr(rq.DepositRequired), boolInt(rq.DepositPaid), nullable(rq.AdminNotes),
		nullable(rq.RejectionReason), rq.CreatedAt, rq.UpdatedAt, nullableStringPtr(rq.DeliveredAt), rq.Version)
	return err
}

// UpdateRequest writes every mutable column when the stored version still
// equals rq.Version, and bumps it. A lost race yields domain.ErrConflict.
func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, rq domain.Request) (domain.Request, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE requests SET
 service_type=?,title=?,description=?,additional_info=?,word_count=?,pages_count=?,deadline=?,urgency_level=?,
 status=?,progress_percentage=?,quote_amount=?,quote_message=?,quote_sent_at=?,quote_accepted=?,
 deposit_required=?,deposit_paid=?,admin_notes=?,rejection_reason=?,updated_at=?,delivered_at=?,version=version+1
 WHERE id=? AND version=?`,
		string(rq.ServiceType), rq.Title, rq.Description, nullable(rq.AdditionalInfo),
		nullableIntPtr(rq.WordCount), nullableIntPtr(rq.PagesCount), nullableStringPtr(rq.Deadline),
		string(rq.UrgencyLevel), string(rq.Status), rq.ProgressPercentage, nullableFloatPtr(rq.QuoteAmount),
		nullable(rq.QuoteMessage), nullableStringPtr(rq.QuoteSentAt), boolInt(rq.QuoteAccepted),
		nullableFloatPtr(rq.DepositRequired), boolInt(rq.DepositPaid), nullable(rq.AdminNotes),
		nullable(rq.RejectionReason), rq.UpdatedAt, nullableStringPtr(rq.DeliveredAt), rq.ID, rq.Version)
	if err != nil {
		return rq, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rq, domain.ErrConflict
	}
	rq.Version++
	return rq, nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return r.GetRequestTx(ctx, nil, id)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

type RequestFilters struct {
	ClientID string
	Statuses []domain.RequestStatus
	Page
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if len(f.Statuses) > 0 {
		in := "status IN ("
		for i, s := range f.Statuses {
			if i > 0 {
				in += ","
			}
			in += "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, in+")")
	}
	clauses, args = f.Page.apply(clauses, args)
	query := `SELECT ` + requestColumns + ` FROM requests` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	query, args = f.Page.limit(query, args)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		rq, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rq)
	}
	return res, rows.Err()
}

// CountRequestsByStatus groups requests by status, optionally for one client.
func (r Repo) CountRequestsByStatus(ctx context.Context, clientID string) (map[domain.RequestStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM requests`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.RequestStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.RequestStatus(status)] = n
	}
	return res, rows.Err()
}
