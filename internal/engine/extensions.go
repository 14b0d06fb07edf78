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

type ExtensionOptions struct {
	ActorID     string
	RequestID   string
	NewDeadline string
	Reason      string
}

// RequestDeadlineExtension proposes a new deadline to the client. The request
// itself is untouched until the client approves.
func (e Engine) RequestDeadlineExtension(ctx context.Context, opts ExtensionOptions) (domain.DeadlineExtension, error) {
	const op = "request deadline extension"
	if strings.TrimSpace(opts.NewDeadline) == "" {
		return domain.DeadlineExtension{}, domain.Invalid("new_deadline", "new deadline is required")
	}
	newDeadline, err := parseDeadline("new_deadline", opts.NewDeadline)
	if err != nil {
		return domain.DeadlineExtension{}, err
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.DeadlineExtension{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.DeadlineExtension{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.DeadlineExtension{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.DeadlineExtension{}, err
	}
	if rq.Status.Terminal() || rq.Status == domain.StatusDelivered {
		return domain.DeadlineExtension{}, stateErr(rq, op)
	}
	if rq.Deadline != nil && *rq.Deadline == newDeadline {
		return domain.DeadlineExtension{}, domain.Invalid("new_deadline", "matches the current deadline")
	}
	pending, err := e.Repo.PendingDeadlineExtension(ctx, tx, rq.ID)
	switch {
	case err == nil:
		return domain.DeadlineExtension{}, domain.StateError{Entity: "deadline extension", ID: pending.ID, Status: string(pending.Status), Op: "propose another extension while one is pending"}
	case !errors.Is(err, repo.ErrNotFound):
		return domain.DeadlineExtension{}, e.fail(op, err, "request_id", rq.ID)
	}

	x := domain.DeadlineExtension{
		ID:               newID(),
		RequestID:        rq.ID,
		RequestedBy:      a.ID,
		OriginalDeadline: rq.Deadline,
		NewDeadline:      newDeadline,
		Reason:           strings.TrimSpace(opts.Reason),
		Status:           domain.ExtensionPending,
		CreatedAt:        e.timestamp(),
	}
	if err := e.Repo.InsertDeadlineExtension(ctx, tx, x); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.DeadlineExtension{}, domain.StateError{Entity: "request", ID: rq.ID, Status: string(rq.Status), Op: op, Err: domain.ErrConflict}
		}
		return domain.DeadlineExtension{}, e.fail(op, err, "request_id", rq.ID)
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:   rq.ID,
		ActorID:     a.ID,
		Action:      domain.ActionDeadlineExtensionRequest,
		Title:       "Deadline extension proposed",
		Description: x.Reason,
		Metadata: events.Metadata{
			"extension_id":      x.ID,
			"original_deadline": deref(x.OriginalDeadline),
			"new_deadline":      x.NewDeadline,
		},
		VisibleToClient: true,
	}); err != nil {
		return domain.DeadlineExtension{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.DeadlineExtension{}, err
	}
	return x, nil
}

type RespondExtensionOptions struct {
	ActorID     string
	ExtensionID string
	Approve     bool
	Message     string
}

// RespondDeadlineExtension is the owning client's answer to a proposal.
// Approval applies the proposed deadline; rejection leaves it unchanged.
func (e Engine) RespondDeadlineExtension(ctx context.Context, opts RespondExtensionOptions) (domain.DeadlineExtension, domain.Request, error) {
	const op = "respond to deadline extension"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	x, err := e.Repo.GetDeadlineExtensionTx(ctx, tx, opts.ExtensionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.DeadlineExtension{}, domain.Request{}, domain.NotFoundError{Entity: "deadline extension", ID: opts.ExtensionID}
	}
	if err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, e.fail(op, err, "extension_id", opts.ExtensionID)
	}
	rq, err := e.request(ctx, tx, x.RequestID)
	if err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	if !auth.CanView(a, rq) {
		return domain.DeadlineExtension{}, domain.Request{}, domain.NotFoundError{Entity: "deadline extension", ID: opts.ExtensionID}
	}
	if err := auth.RequireOwner(a, rq); err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	if x.Status != domain.ExtensionPending {
		return domain.DeadlineExtension{}, domain.Request{}, domain.StateError{Entity: "deadline extension", ID: x.ID, Status: string(x.Status), Op: "respond"}
	}
	if rq.Status.Terminal() {
		return domain.DeadlineExtension{}, domain.Request{}, stateErr(rq, op)
	}

	now := e.timestamp()
	x.RespondedBy = &a.ID
	x.RespondedAt = &now
	x.ResponseMessage = strings.TrimSpace(opts.Message)
	action := domain.ActionDeadlineExtensionRejected
	title := "Deadline extension rejected"
	x.Status = domain.ExtensionRejected
	if opts.Approve {
		x.Status = domain.ExtensionApproved
		action = domain.ActionDeadlineExtensionApproved
		title = "Deadline extension approved"
	}
	if err := e.Repo.ResolveDeadlineExtension(ctx, tx, x); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.DeadlineExtension{}, domain.Request{}, domain.StateError{Entity: "deadline extension", ID: x.ID, Status: string(domain.ExtensionPending), Op: "respond", Err: domain.ErrConflict}
		}
		return domain.DeadlineExtension{}, domain.Request{}, e.fail(op, err, "extension_id", x.ID)
	}
	if opts.Approve {
		deadline := x.NewDeadline
		rq.Deadline = &deadline
		rq, err = e.saveRequest(ctx, tx, op, rq)
		if err != nil {
			return domain.DeadlineExtension{}, domain.Request{}, err
		}
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:   rq.ID,
		ActorID:     a.ID,
		Action:      action,
		Title:       title,
		Description: x.ResponseMessage,
		Metadata: events.Metadata{
			"extension_id":      x.ID,
			"original_deadline": deref(x.OriginalDeadline),
			"new_deadline":      x.NewDeadline,
		},
		VisibleToClient: true,
	}); err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.DeadlineExtension{}, domain.Request{}, err
	}
	return x, rq, nil
}

// ListDeadlineExtensions returns a request's extensions, newest first.
func (e Engine) ListDeadlineExtensions(ctx context.Context, actorID, requestID string) ([]domain.DeadlineExtension, error) {
	if _, err := e.viewable(ctx, actorID, requestID); err != nil {
		return nil, err
	}
	xs, err := e.Repo.ListDeadlineExtensions(ctx, requestID)
	if err != nil {
		return nil, e.fail("list deadline extensions", err, "request_id", requestID)
	}
	return xs, nil
}
