package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/events"
	"draftclinic/internal/repo"
)

type RevisionOptions struct {
	ActorID            string
	RequestID          string
	DeliveryDocumentID string
	Details            string
	Attachments        []FileInput
}

// RequestRevision opens a rework request against a delivered document.
func (e Engine) RequestRevision(ctx context.Context, opts RevisionOptions) (domain.RevisionRequest, error) {
	const op = "request revision"
	details := strings.TrimSpace(opts.Details)
	if details == "" {
		return domain.RevisionRequest{}, domain.Invalid("revision_details", "describe the changes needed")
	}
	if strings.TrimSpace(opts.DeliveryDocumentID) == "" {
		return domain.RevisionRequest{}, domain.Invalid("delivery_document_id", "delivery document is required")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	if err := auth.RequireOwner(a, rq); err != nil {
		return domain.RevisionRequest{}, err
	}
	if !statusIn(rq.Status, domain.StatusCompleted, domain.StatusDelivered) {
		return domain.RevisionRequest{}, stateErr(rq, op)
	}
	doc, err := e.Repo.GetDocumentTx(ctx, tx, opts.DeliveryDocumentID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && doc.RequestID != rq.ID) {
		return domain.RevisionRequest{}, domain.NotFoundError{Entity: "document", ID: opts.DeliveryDocumentID}
	}
	if err != nil {
		return domain.RevisionRequest{}, e.fail(op, err, "document_id", opts.DeliveryDocumentID)
	}
	if doc.Type != domain.DocDeliverable && doc.Type != domain.DocRevision {
		return domain.RevisionRequest{}, domain.Invalid("delivery_document_id", "document is not a deliverable")
	}
	open, err := e.Repo.CountOpenRevisions(ctx, tx, rq.ID)
	if err != nil {
		return domain.RevisionRequest{}, e.fail(op, err, "request_id", rq.ID)
	}
	if open > 0 {
		return domain.RevisionRequest{}, stateErr(rq, "open a second revision")
	}
	files, err := e.stage(ctx, opts.Attachments...)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	defer files.discard()

	now := e.timestamp()
	rv := domain.RevisionRequest{
		ID:                 newID(),
		RequestID:          rq.ID,
		DeliveryDocumentID: &doc.ID,
		RequestedBy:        a.ID,
		Details:            details,
		Status:             domain.RevisionPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertRevision(ctx, tx, rv); err != nil {
		return domain.RevisionRequest{}, e.fail(op, err, "request_id", rq.ID)
	}
	for _, obj := range files.objs {
		att := domain.RevisionAttachment{
			ID:               newID(),
			RevisionID:       rv.ID,
			Filename:         obj.Handle,
			OriginalFilename: obj.OriginalName,
			FileType:         obj.ContentType,
			FileSize:         obj.Size,
			UploadedBy:       a.ID,
			CreatedAt:        now,
		}
		if err := e.Repo.InsertRevisionAttachment(ctx, tx, att); err != nil {
			return domain.RevisionRequest{}, e.fail(op, err, "revision_id", rv.ID)
		}
		rv.Attachments = append(rv.Attachments, att)
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:   rq.ID,
		ActorID:     a.ID,
		Action:      domain.ActionRevisionRequest,
		Title:       "Revision requested",
		Description: details,
		Metadata: events.Metadata{
			"revision_id":          rv.ID,
			"delivery_document_id": doc.ID,
			"attachments":          len(rv.Attachments),
		},
		VisibleToClient: true,
	}); err != nil {
		return domain.RevisionRequest{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.RevisionRequest{}, err
	}
	files.keep()
	return rv, nil
}

type RevisionAction string

const (
	RevisionAccept   RevisionAction = "accept"
	RevisionComplete RevisionAction = "complete"
	RevisionReject   RevisionAction = "reject"
)

type HandleRevisionOptions struct {
	ActorID    string
	RevisionID string
	Action     RevisionAction
	Response   string
	// File is an optional revised document delivered on complete.
	File *FileInput
}

// HandleRevision moves a revision along pending -> in_progress -> completed,
// or pending -> rejected. Accepting puts the parent request into revision.
func (e Engine) HandleRevision(ctx context.Context, opts HandleRevisionOptions) (domain.RevisionRequest, error) {
	const op = "handle revision"
	var from, to domain.RevisionStatus
	switch opts.Action {
	case RevisionAccept:
		from, to = domain.RevisionPending, domain.RevisionInProgress
	case RevisionComplete:
		from, to = domain.RevisionInProgress, domain.RevisionCompleted
	case RevisionReject:
		from, to = domain.RevisionPending, domain.RevisionRejected
		if strings.TrimSpace(opts.Response) == "" {
			return domain.RevisionRequest{}, domain.Invalid("response", "a rejection needs a response")
		}
	default:
		return domain.RevisionRequest{}, domain.Invalid("action", "unknown action %q", opts.Action)
	}
	if opts.File != nil && opts.Action != RevisionComplete {
		return domain.RevisionRequest{}, domain.Invalid("file", "files are only accepted when completing a revision")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.RevisionRequest{}, err
	}
	rv, err := e.Repo.GetRevisionTx(ctx, tx, opts.RevisionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.RevisionRequest{}, domain.NotFoundError{Entity: "revision", ID: opts.RevisionID}
	}
	if err != nil {
		return domain.RevisionRequest{}, e.fail(op, err, "revision_id", opts.RevisionID)
	}
	if rv.Status != from {
		return domain.RevisionRequest{}, domain.StateError{Entity: "revision", ID: rv.ID, Status: string(rv.Status), Op: string(opts.Action)}
	}
	rq, err := e.request(ctx, tx, rv.RequestID)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	if rq.Status.Terminal() {
		return domain.RevisionRequest{}, stateErr(rq, string(opts.Action)+" revision")
	}
	var uploads []FileInput
	if opts.File != nil {
		uploads = append(uploads, *opts.File)
	}
	files, err := e.stage(ctx, uploads...)
	if err != nil {
		return domain.RevisionRequest{}, err
	}
	defer files.discard()

	now := e.timestamp()
	rv.Status = to
	rv.RespondedBy = &a.ID
	rv.RespondedAt = &now
	rv.UpdatedAt = now
	if r := strings.TrimSpace(opts.Response); r != "" {
		rv.AdminResponse = r
	}
	if err := e.Repo.UpdateRevisionStatus(ctx, tx, rv, from); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.RevisionRequest{}, domain.StateError{Entity: "revision", ID: rv.ID, Status: string(from), Op: string(opts.Action), Err: domain.ErrConflict}
		}
		return domain.RevisionRequest{}, e.fail(op, err, "revision_id", rv.ID)
	}

	entry := events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Description:     rv.AdminResponse,
		Metadata:        events.Metadata{"revision_id": rv.ID},
		VisibleToClient: true,
	}
	switch opts.Action {
	case RevisionAccept:
		old := rq.Status
		rq.Status = domain.StatusRevision
		rq.DeliveredAt = nil
		if rq, err = e.saveRequest(ctx, tx, op, rq); err != nil {
			return domain.RevisionRequest{}, err
		}
		entry.Action = domain.ActionStatusChange
		entry.Title = "Revision accepted"
		entry.Metadata["old_status"] = string(old)
		entry.Metadata["new_status"] = string(rq.Status)
	case RevisionComplete:
		entry.Action = domain.ActionRevisionDelivery
		entry.Title = "Revision delivered"
		if len(files.objs) == 1 {
			d := e.newDocument(files.objs[0], rq.ID, a.ID, domain.DocRevision, fmt.Sprintf("Revision %s", rv.ID))
			if err := e.insertDocument(ctx, tx, d); err != nil {
				return domain.RevisionRequest{}, err
			}
			entry.Metadata["document_id"] = d.ID
			entry.Metadata["document_filename"] = d.OriginalFilename
		}
	case RevisionReject:
		entry.Action = domain.ActionComment
		entry.Title = "Revision rejected"
	}
	if _, err := e.appendLog(ctx, tx, op, entry); err != nil {
		return domain.RevisionRequest{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.RevisionRequest{}, err
	}
	files.keep()
	return rv, nil
}

// ListRevisions returns a request's revisions with their attachments, newest first.
func (e Engine) ListRevisions(ctx context.Context, actorID, requestID string) ([]domain.RevisionRequest, error) {
	if _, err := e.viewable(ctx, actorID, requestID); err != nil {
		return nil, err
	}
	rvs, err := e.Repo.ListRevisions(ctx, requestID)
	if err != nil {
		return nil, e.fail("list revisions", err, "request_id", requestID)
	}
	return rvs, nil
}
