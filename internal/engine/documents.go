package engine

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/events"
	"draftclinic/internal/repo"
	"draftclinic/internal/storage"
)

type UploadOptions struct {
	ActorID   string
	RequestID string
	File      FileInput
}

// UploadDocument attaches a file to a request. The owning client's files are
// client uploads, staff files are admin uploads.
func (e Engine) UploadDocument(ctx context.Context, opts UploadOptions) (domain.Document, error) {
	const op = "upload document"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Document{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := auth.RequireParticipant(a, rq); err != nil {
		return domain.Document{}, err
	}
	if rq.Status.Terminal() {
		return domain.Document{}, stateErr(rq, op)
	}
	typ := domain.DocClientUpload
	if a.Role.IsStaff() {
		typ = domain.DocAdminUpload
	}
	return e.attach(ctx, tx, op, a, rq, opts.File, typ, domain.ActionDocumentUpload, "Document uploaded")
}

type DeliverableOptions struct {
	ActorID   string
	RequestID string
	File      FileInput
	Comment   string
}

// UploadDeliverable stores finished work for the client and logs a delivery.
func (e Engine) UploadDeliverable(ctx context.Context, opts DeliverableOptions) (domain.Document, error) {
	const op = "upload deliverable"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.Document{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Document{}, err
	}
	if !statusIn(rq.Status, domain.StatusInProgress, domain.StatusRevision, domain.StatusCompleted, domain.StatusDelivered) {
		return domain.Document{}, stateErr(rq, op)
	}
	f := opts.File
	if c := strings.TrimSpace(opts.Comment); c != "" {
		f.Description = c
	}
	return e.attach(ctx, tx, op, a, rq, f, domain.DocDeliverable, domain.ActionDelivery, "Deliverable uploaded")
}

// attach stores f, records the document and its log entry, and commits tx.
func (e Engine) attach(ctx context.Context, tx *sql.Tx, op string, a domain.Actor, rq domain.Request, f FileInput, typ domain.DocumentType, action domain.ActionType, title string) (domain.Document, error) {
	files, err := e.stage(ctx, f)
	if err != nil {
		return domain.Document{}, err
	}
	defer files.discard()

	d := e.newDocument(files.objs[0], rq.ID, a.ID, typ, strings.TrimSpace(f.Description))
	if err := e.insertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if _, err := e.appendLog(ctx, tx, op, documentEntry(d, action, title)); err != nil {
		return domain.Document{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Document{}, err
	}
	files.keep()
	return d, nil
}

// OpenDocument returns a document's content for a participant and logs the download.
// The caller closes the reader.
func (e Engine) OpenDocument(ctx context.Context, actorID, documentID string) (domain.Document, io.ReadCloser, error) {
	const op = "download document"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Document{}, nil, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Document{}, nil, err
	}
	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Document{}, nil, domain.NotFoundError{Entity: "document", ID: documentID}
	}
	if err != nil {
		return domain.Document{}, nil, e.fail(op, err, "document_id", documentID)
	}
	rq, err := e.request(ctx, tx, d.RequestID)
	if err != nil {
		return domain.Document{}, nil, err
	}
	if !auth.CanView(a, rq) {
		return domain.Document{}, nil, domain.NotFoundError{Entity: "document", ID: documentID}
	}
	if e.Storage == nil {
		return domain.Document{}, nil, e.fail(op, errors.New("file storage not configured"))
	}
	rc, err := e.Storage.Open(ctx, d.Filename)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger().Error("stored file missing", "document_id", d.ID, "handle", d.Filename)
		return domain.Document{}, nil, domain.NotFoundError{Entity: "document content", ID: documentID}
	}
	if err != nil {
		return domain.Document{}, nil, e.fail(op, err, "document_id", d.ID)
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionDownload,
		Title:           "Document downloaded",
		Metadata:        events.Metadata{"document_id": d.ID, "document_filename": d.OriginalFilename},
		VisibleToClient: a.Role == domain.RoleClient,
	}); err != nil {
		rc.Close()
		return domain.Document{}, nil, err
	}
	if err := e.commit(tx, op); err != nil {
		rc.Close()
		return domain.Document{}, nil, err
	}
	return d, rc, nil
}

// ListDocuments returns a request's documents, newest first, optionally of one type.
func (e Engine) ListDocuments(ctx context.Context, actorID, requestID string, typ domain.DocumentType) ([]domain.Document, error) {
	if _, err := e.viewable(ctx, actorID, requestID); err != nil {
		return nil, err
	}
	docs, err := e.Repo.ListDocuments(ctx, requestID, typ)
	if err != nil {
		return nil, e.fail("list documents", err, "request_id", requestID)
	}
	return docs, nil
}
