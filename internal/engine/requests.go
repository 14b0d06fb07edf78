package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/events"
)

// SubmitOptions are parameters for a new request.
type SubmitOptions struct {
	ActorID        string
	ServiceType    domain.ServiceType
	Title          string
	Description    string
	AdditionalInfo string
	WordCount      *int
	PagesCount     *int
	Deadline       string
	Urgency        domain.Urgency
	Attachments    []FileInput
}

func (o *SubmitOptions) validate() error {
	o.Title = strings.TrimSpace(o.Title)
	if o.Title == "" {
		return domain.Invalid("title", "title is required")
	}
	if len(o.Title) > 200 {
		return domain.Invalid("title", "title must be at most 200 characters")
	}
	if o.ServiceType == "" {
		return domain.Invalid("service_type", "service type is required")
	}
	if !o.ServiceType.Valid() {
		return domain.Invalid("service_type", "unknown service type %s", o.ServiceType)
	}
	if o.Urgency == "" {
		o.Urgency = domain.UrgencyStandard
	}
	if !o.Urgency.Valid() {
		return domain.Invalid("urgency_level", "unknown urgency %s", o.Urgency)
	}
	if o.WordCount != nil && *o.WordCount < 0 {
		return domain.Invalid("word_count", "must not be negative")
	}
	if o.PagesCount != nil && *o.PagesCount < 0 {
		return domain.Invalid("pages_count", "must not be negative")
	}
	return nil
}

// Submit creates a request in submitted status and attaches any files as
// client uploads.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Request, []domain.Document, error) {
	const op = "submit request"
	if err := opts.validate(); err != nil {
		return domain.Request{}, nil, err
	}
	var deadline *string
	if strings.TrimSpace(opts.Deadline) != "" {
		d, err := parseDeadline("deadline", opts.Deadline)
		if err != nil {
			return domain.Request{}, nil, err
		}
		deadline = &d
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Request{}, nil, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Request{}, nil, err
	}
	if err := auth.RequireClient(a); err != nil {
		return domain.Request{}, nil, err
	}
	files, err := e.stage(ctx, opts.Attachments...)
	if err != nil {
		return domain.Request{}, nil, err
	}
	defer files.discard()

	now := e.timestamp()
	rq := domain.Request{
		ID:             newID(),
		ClientID:       a.ID,
		ServiceType:    opts.ServiceType,
		Title:          opts.Title,
		Description:    strings.TrimSpace(opts.Description),
		AdditionalInfo: strings.TrimSpace(opts.AdditionalInfo),
		WordCount:      opts.WordCount,
		PagesCount:     opts.PagesCount,
		Deadline:       deadline,
		UrgencyLevel:   opts.Urgency,
		Status:         domain.StatusSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := e.Repo.InsertRequest(ctx, tx, rq); err != nil {
		return domain.Request{}, nil, e.fail(op, err, "actor_id", a.ID)
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionStatusChange,
		Title:           "Request submitted",
		Metadata:        events.Metadata{"old_status": "", "new_status": string(rq.Status)},
		VisibleToClient: true,
	}); err != nil {
		return domain.Request{}, nil, err
	}
	docs := make([]domain.Document, 0, len(files.objs))
	for i, obj := range files.objs {
		d := e.newDocument(obj, rq.ID, a.ID, domain.DocClientUpload, opts.Attachments[i].Description)
		if err := e.insertDocument(ctx, tx, d); err != nil {
			return domain.Request{}, nil, err
		}
		if _, err := e.appendLog(ctx, tx, op, documentEntry(d, domain.ActionDocumentUpload, "Document uploaded")); err != nil {
			return domain.Request{}, nil, err
		}
		docs = append(docs, d)
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Request{}, nil, err
	}
	files.keep()
	return rq, docs, nil
}

type SendQuoteOptions struct {
	ActorID   string
	RequestID string
	Amount    float64
	Deposit   *float64
	Message   string
}

// SendQuote prices a submitted or under-review request.
func (e Engine) SendQuote(ctx context.Context, opts SendQuoteOptions) (domain.Request, error) {
	const op = "send quote"
	if !validAmount(opts.Amount) {
		return domain.Request{}, domain.Invalid("quote_amount", "must be a positive amount")
	}
	if opts.Deposit != nil {
		d := *opts.Deposit
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return domain.Request{}, domain.Invalid("deposit_required", "must not be negative")
		}
		if d > opts.Amount {
			return domain.Request{}, domain.Invalid("deposit_required", "must not exceed the quote amount")
		}
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.Request{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Request{}, err
	}
	if !statusIn(rq.Status, domain.StatusSubmitted, domain.StatusUnderReview) {
		return domain.Request{}, stateErr(rq, op)
	}
	now := e.timestamp()
	amount := opts.Amount
	rq.QuoteAmount = &amount
	rq.DepositRequired = opts.Deposit
	rq.QuoteMessage = strings.TrimSpace(opts.Message)
	rq.QuoteSentAt = &now
	rq.Status = domain.StatusQuoteSent
	rq, err = e.saveRequest(ctx, tx, op, rq)
	if err != nil {
		return domain.Request{}, err
	}
	meta := events.Metadata{"quote_amount": amount}
	if opts.Deposit != nil {
		meta["deposit_required"] = *opts.Deposit
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionQuoteSent,
		Title:           "Quote sent",
		Description:     rq.QuoteMessage,
		Metadata:        meta,
		VisibleToClient: true,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Request{}, err
	}
	return rq, nil
}

// AcceptQuote is the owning client's acceptance of a sent quote.
func (e Engine) AcceptQuote(ctx context.Context, actorID, requestID string) (domain.Request, error) {
	const op = "accept quote"
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, actorID)
	if err != nil {
		return domain.Request{}, err
	}
	rq, err := e.request(ctx, tx, requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := auth.RequireOwner(a, rq); err != nil {
		return domain.Request{}, err
	}
	if rq.Status != domain.StatusQuoteSent {
		return domain.Request{}, stateErr(rq, op)
	}
	rq.QuoteAccepted = true
	rq.Status = domain.StatusAwaitingDeposit
	rq, err = e.saveRequest(ctx, tx, op, rq)
	if err != nil {
		return domain.Request{}, err
	}
	if _, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionQuoteAccepted,
		Title:           "Quote accepted",
		Metadata:        events.Metadata{"quote_amount": rq.QuoteAmount},
		VisibleToClient: true,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Request{}, err
	}
	return rq, nil
}

// transitions lists the statuses update_status may move to without force.
var transitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.StatusSubmitted:       {domain.StatusUnderReview, domain.StatusCancelled, domain.StatusRejected},
	domain.StatusUnderReview:     {domain.StatusCancelled, domain.StatusRejected},
	domain.StatusQuoteSent:       {domain.StatusUnderReview, domain.StatusCancelled, domain.StatusRejected},
	domain.StatusQuoteAccepted:   {domain.StatusAwaitingDeposit, domain.StatusCancelled, domain.StatusRejected},
	domain.StatusAwaitingDeposit: {domain.StatusCancelled, domain.StatusRejected},
	domain.StatusDepositPending:  {domain.StatusCancelled, domain.StatusRejected},
	domain.StatusInProgress:      {domain.StatusCompleted, domain.StatusDelivered, domain.StatusCancelled},
	domain.StatusRevision:        {domain.StatusInProgress, domain.StatusCompleted, domain.StatusDelivered},
	domain.StatusCompleted:       {domain.StatusInProgress, domain.StatusDelivered},
	domain.StatusDelivered:       nil,
	domain.StatusCancelled:       nil,
	domain.StatusRejected:        nil,
}

// CanTransition reports whether update_status may move from one status to another.
func CanTransition(from, to domain.RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type UpdateStatusOptions struct {
	ActorID         string
	RequestID       string
	Status          domain.RequestStatus
	Progress        *int
	Notes           *string
	RejectionReason string
	// Force bypasses the transition table; the log entry records it.
	Force bool
	// ExpectedVersion, when set, must match the stored request version.
	ExpectedVersion *int
}

// UpdateStatus is the staff override for status, progress and notes.
// Delivered always means full progress.
func (e Engine) UpdateStatus(ctx context.Context, opts UpdateStatusOptions) (domain.Request, error) {
	const op = "update status"
	if opts.Status != "" && !opts.Status.Valid() {
		return domain.Request{}, domain.Invalid("status", "unknown status %s", opts.Status)
	}
	if opts.Progress != nil && (*opts.Progress < 0 || *opts.Progress > 100) {
		return domain.Request{}, domain.Invalid("progress_percentage", "must be between 0 and 100")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.Request{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.Request{}, err
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != rq.Version {
		return domain.Request{}, domain.StateError{Entity: "request", ID: rq.ID, Status: string(rq.Status), Op: op, Err: domain.ErrConflict}
	}

	oldStatus, oldProgress := rq.Status, rq.ProgressPercentage
	newStatus := oldStatus
	if opts.Status != "" {
		newStatus = opts.Status
	}
	if newStatus != oldStatus && !opts.Force && !CanTransition(oldStatus, newStatus) {
		return domain.Request{}, domain.StateError{Entity: "request", ID: rq.ID, Status: string(oldStatus), Op: fmt.Sprintf("move to %s", newStatus)}
	}
	// force bypasses the transition table, never the deposit requirement.
	if newStatus != oldStatus && newStatus == domain.StatusInProgress && !rq.DepositPaid {
		return domain.Request{}, domain.StateError{Entity: "request", ID: rq.ID, Status: string(oldStatus), Op: "start work without a verified deposit"}
	}
	newProgress := oldProgress
	if opts.Progress != nil {
		newProgress = *opts.Progress
	}
	switch {
	case newStatus == domain.StatusDelivered:
		if newStatus != oldStatus || rq.DeliveredAt == nil {
			now := e.timestamp()
			rq.DeliveredAt = &now
		}
		newProgress = 100
	case oldStatus == domain.StatusDelivered:
		rq.DeliveredAt = nil
	case newStatus == domain.StatusRejected && newStatus != oldStatus:
		rq.RejectionReason = strings.TrimSpace(opts.RejectionReason)
	}
	notesChanged := opts.Notes != nil && strings.TrimSpace(*opts.Notes) != rq.AdminNotes
	if newStatus == oldStatus && newProgress == oldProgress && !notesChanged {
		return rq, nil
	}
	rq.Status = newStatus
	rq.ProgressPercentage = newProgress
	if notesChanged {
		rq.AdminNotes = strings.TrimSpace(*opts.Notes)
	}
	rq, err = e.saveRequest(ctx, tx, op, rq)
	if err != nil {
		return domain.Request{}, err
	}
	if newStatus != oldStatus {
		meta := events.Metadata{"old_status": string(oldStatus), "new_status": string(newStatus), "forced": opts.Force}
		if rq.RejectionReason != "" && newStatus == domain.StatusRejected {
			meta["rejection_reason"] = rq.RejectionReason
		}
		if _, err := e.appendLog(ctx, tx, op, events.Entry{
			RequestID:       rq.ID,
			ActorID:         a.ID,
			Action:          domain.ActionStatusChange,
			Title:           "Status changed",
			Metadata:        meta,
			VisibleToClient: true,
		}); err != nil {
			return domain.Request{}, err
		}
	}
	if newProgress != oldProgress {
		if _, err := e.appendLog(ctx, tx, op, events.Entry{
			RequestID:       rq.ID,
			ActorID:         a.ID,
			Action:          domain.ActionProgressUpdate,
			Title:           "Progress updated",
			Metadata:        events.Metadata{"old_progress": oldProgress, "progress": newProgress},
			VisibleToClient: true,
		}); err != nil {
			return domain.Request{}, err
		}
	}
	if err := e.commit(tx, op); err != nil {
		return domain.Request{}, err
	}
	return rq, nil
}

type CommentOptions struct {
	ActorID   string
	RequestID string
	Text      string
	// Internal hides a staff comment from the client timeline.
	Internal bool
}

// AddComment appends a comment entry. Identical comments are kept as distinct entries.
func (e Engine) AddComment(ctx context.Context, opts CommentOptions) (domain.ActivityLogEntry, error) {
	const op = "add comment"
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return domain.ActivityLogEntry{}, domain.Invalid("text", "comment is empty")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	defer tx.Rollback()

	a, err := e.actor(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	rq, err := e.request(ctx, tx, opts.RequestID)
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	if err := auth.RequireParticipant(a, rq); err != nil {
		return domain.ActivityLogEntry{}, err
	}
	visible := true
	if opts.Internal {
		if err := auth.RequireStaff(a); err != nil {
			return domain.ActivityLogEntry{}, domain.Invalid("internal", "only staff comments can be internal")
		}
		visible = false
	}
	entry, err := e.appendLog(ctx, tx, op, events.Entry{
		RequestID:       rq.ID,
		ActorID:         a.ID,
		Action:          domain.ActionComment,
		Title:           "Comment",
		Description:     text,
		VisibleToClient: visible,
	})
	if err != nil {
		return domain.ActivityLogEntry{}, err
	}
	if err := e.commit(tx, op); err != nil {
		return domain.ActivityLogEntry{}, err
	}
	return entry, nil
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func documentEntry(d domain.Document, action domain.ActionType, title string) events.Entry {
	return events.Entry{
		RequestID:       d.RequestID,
		ActorID:         d.UploadedBy,
		Action:          action,
		Title:           title,
		Description:     d.Description,
		Metadata:        events.Metadata{"document_id": d.ID, "document_filename": d.OriginalFilename, "document_type": string(d.Type)},
		VisibleToClient: true,
	}
}
