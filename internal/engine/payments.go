package engine

import (
	"context"
	"errors"
	"strings"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/events"
	"draftclinic/internal/repo"
)

type SubmitPaymentOptions struct {
	ActorID   string
	RequestID string
	Amount    float64
	Type      domain.PaymentType
	Method    string
	Reference string
	Notes     string
	Proof     *FileInput
}

// SubmitPayment records a pending payment from the owning client. Deposit and
// full payments move the request to deposit_pending; final payments leave the
// status alone.
func (e Engine) SubmitPayment(ctx context.Context, opts SubmitPaymentOptions) (domain.Payment, error) {
	const op = "submit payment"
	if !validAmount(opts.Amount) {
		return domain.Payment{}, domain.Invalid("amount", "must be a positive amount")
	}
	if opts.Type == "" {
		opts.Type = domain.PaymentDeposit
	}
	if !opts.Type.Valid() {
		return domain.Payment{}, domain.Invalid("payment_type", "unknown payment type %s", opts.Type)
	}
	opts.Method = strings.TrimSpace(opts.Method)
	if opts.Method == "" {
		return domain.Payment{}, domain.Invalid("payment_method", "payment method is required")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Payment{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := auth.RequireOwner(a, rq); err != nil {
		return domain.Payment{}, err
	}
	if opts.Type.Upfront() {
		if !statusIn(rq.Status, domain.StatusQuoteAccepted, domain.StatusAwaitingDeposit) {
			return domain.Payment{}, stateErr(rq, "submit "+string(opts.Type)+" payment")
		}
	} else if !statusIn(rq.Status, domain.StatusInProgress, domain.StatusRevision, domain.StatusCompleted, domain.StatusDelivered) {
		return domain.Payment{}, stateErr(rq, "submit final payment")
	}

	var proofs []FileInput
	if opts.Proof != nil {
		proofs = append(proofs, *opts.Proof)
	}
	files, err := e.stage(ctx, proofs...)
	if err != nil {
		return domain.Payment{}, err
	}
	defer files.discard()

	now := e.timestamp()
	p := domain.Payment{
		ID:                   newID(),
		RequestID:            rq.ID,
		Amount:               opts.Amount,
		Type:                 opts.Type,
		Method:               opts.Method,
		TransactionReference: strings.TrimSpace(opts.Reference),
		Notes:                strings.TrimSpace(opts.Notes),
		Status:               domain.PaymentPending,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	if len(files.objs) == 1 {
		d := e.newDocument(files.objs[0], rq.ID, a.ID, domain.DocClientUpload, "Payment proof")
		if err := e.insertDocument(ctx, tx, d); err != nil {
			return domain.Payment{}, err
		}
		p.ProofDocumentID = &d.ID
	}
	if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
		return domain.Payment{}, e.fail(op, err, "request_id", rq.ID)
	}
	if opts.Type.Upfront() {
		rq.Status = domain.StatusDepositPending
		if _, err := e.saveRequest(ctx, tx, op, rq); err != nil {
			return domain.Payment{}, err
		}
	}
	meta := events.Metadata{"payment_id": p.ID, "amount": p.Amount, "payment_type": string(p.Type), "payment_method": p.Method}
	if p.ProofDocumentID != nil {
		meta["proof_document_id"] = *p.ProofDocumentID
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionPaymentSubmitted,
		Title:           "Payment submitted",
		Description:     p.TransactionReference,
		Metadata:        meta,
		VisibleToClient: true,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Payment{}, err
	}
	files.keep()
	return p, nil
}

type VerifyPaymentOptions struct {
	ActorID   string
	PaymentID string
	Approve   bool
	Reason    string
}

// VerifyPayment resolves a pending payment exactly once. For deposit and full
// payments the parent request moves to in_progress on approval and back to
// awaiting_deposit on rejection.
func (e Engine) VerifyPayment(ctx context.Context, opts VerifyPaymentOptions) (domain.Payment, domain.Request, error) {
	const op = "verify payment"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	p, err := e.Repo.GetPaymentTx(ctx, tx, opts.PaymentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Payment{}, domain.Request{}, domain.NotFoundError{Entity: "payment", ID: opts.PaymentID}
	}
	if err != nil {
		return domain.Payment{}, domain.Request{}, e.fail(op, err, "payment_id", opts.PaymentID)
	}
	if p.Status != domain.PaymentPending {
		return domain.Payment{}, domain.Request{}, domain.StateError{Entity: "payment", ID: p.ID, Status: string(p.Status), Op: op}
	}
	rq, err := e.request(ctx, tx, p.RequestID)
	if err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	// A closed request can still have its pending payments rejected.
	closed := rq.Status.Terminal()
	if p.Type.Upfront() && rq.Status != domain.StatusDepositPending && !(closed && !opts.Approve) {
		return domain.Payment{}, domain.Request{}, stateErr(rq, op)
	}

	now := e.timestamp()
	p.VerifiedBy = &a.ID
	p.VerifiedAt = &now
	p.UpdatedAt = now
	if opts.Approve {
		p.Status = domain.PaymentVerified
	} else {
		p.Status = domain.PaymentRejected
		p.RejectionReason = strings.TrimSpace(opts.Reason)
	}
	p, err = e.Repo.ResolvePayment(ctx, tx, p)
	if errors.Is(err, domain.ErrConflict) {
		return domain.Payment{}, domain.Request{}, domain.StateError{Entity: "payment", ID: p.ID, Status: string(domain.PaymentPending), Op: op, Err: domain.ErrConflict}
	}
	if err != nil {
		return domain.Payment{}, domain.Request{}, e.fail(op, err, "payment_id", p.ID)
	}
	if p.Type.Upfront() && !closed {
		if opts.Approve {
			rq.DepositPaid = true
			rq.Status = domain.StatusInProgress
		} else {
			rq.Status = domain.StatusAwaitingDeposit
		}
		rq, err = e.saveRequest(ctx, tx, op, rq)
		if err != nil {
			return domain.Payment{}, domain.Request{}, err
		}
	}
	title := "Payment verified"
	if !opts.Approve {
		title = "Payment rejected"
	}
	meta := events.Metadata{
		"payment_id":   p.ID,
		"payment_type": string(p.Type),
		"amount":       p.Amount,
		"approved":     opts.Approve,
	}
	if p.RejectionReason != "" {
		meta["reason"] = p.RejectionReason
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionPaymentVerified,
		Title:           title,
		Description:     p.RejectionReason,
		Metadata:        meta,
		VisibleToClient: true,
	}); err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Payment{}, domain.Request{}, err
	}
	return p, rq, nil
}
