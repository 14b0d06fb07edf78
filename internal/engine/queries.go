package engine

import (
	"context"
	"encoding/base64"
	"strings"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine/auth"
	"draftclinic/internal/repo"
)

// viewable loads the caller and a request they may see.
func (e Engine) viewable(ctx context.Context, actorID, requestID string) (domain.Request, error) {
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return domain.Request{}, err
	}
	return e.visibleRequest(ctx, nil, a, requestID)
}

// RequestDetail is a request with everything attached to it.
type RequestDetail struct {
	Request    domain.Request             `json:"request"`
	Payments   []domain.Payment           `json:"payments"`
	Documents  []domain.Document          `json:"documents"`
	Extensions []domain.DeadlineExtension `json:"deadline_extensions"`
	Revisions  []domain.RevisionRequest   `json:"revisions"`
}

func (e Engine) GetRequest(ctx context.Context, actorID, requestID string) (RequestDetail, error) {
	const op = "get request"
	rq, err := e.viewable(ctx, actorID, requestID)
	if err != nil {
		return RequestDetail{}, err
	}
	d := RequestDetail{Request: rq}
	if d.Payments, err = e.Repo.ListPaymentsByRequest(ctx, rq.ID); err != nil {
		return RequestDetail{}, e.fail(op, err, "request_id", rq.ID)
	}
	if d.Documents, err = e.Repo.ListDocuments(ctx, rq.ID, ""); err != nil {
		return RequestDetail{}, e.fail(op, err, "request_id", rq.ID)
	}
	if d.Extensions, err = e.Repo.ListDeadlineExtensions(ctx, rq.ID); err != nil {
		return RequestDetail{}, e.fail(op, err, "request_id", rq.ID)
	}
	if d.Revisions, err = e.Repo.ListRevisions(ctx, rq.ID); err != nil {
		return RequestDetail{}, e.fail(op, err, "request_id", rq.ID)
	}
	return d, nil
}

type ListRequestsOptions struct {
	ActorID  string
	ClientID string
	Statuses []domain.RequestStatus
	Limit    int
	Cursor   string
}

// RequestPage is one page of requests; NextCursor is empty on the last page.
type RequestPage struct {
	Requests   []domain.Request `json:"requests"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

// ListRequests lists requests newest first. Clients only ever see their own.
func (e Engine) ListRequests(ctx context.Context, opts ListRequestsOptions) (RequestPage, error) {
	a, err := e.actor(ctx, nil, opts.ActorID)
	if err != nil {
		return RequestPage{}, err
	}
	for _, s := range opts.Statuses {
		if !s.Valid() {
			return RequestPage{}, domain.Invalid("status", "unknown status %s", s)
		}
	}
	f := repo.RequestFilters{ClientID: opts.ClientID, Statuses: opts.Statuses}
	if a.Role == domain.RoleClient {
		f.ClientID = a.ID
	}
	if opts.Cursor != "" {
		createdAt, id, err := decodeCursor(opts.Cursor)
		if err != nil {
			return RequestPage{}, err
		}
		f.Page.CursorCreatedAt, f.Page.CursorID = createdAt, id
	}
	limit := pageSize(opts.Limit)
	f.Page.Limit = limit + 1
	rqs, err := e.Repo.ListRequests(ctx, f)
	if err != nil {
		return RequestPage{}, e.fail("list requests", err)
	}
	page := RequestPage{Requests: rqs}
	if len(rqs) > limit {
		page.Requests = rqs[:limit]
		last := page.Requests[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func encodeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func decodeCursor(c string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", "", domain.Invalid("cursor", "malformed cursor")
	}
	createdAt, id, ok := strings.Cut(string(raw), "|")
	if !ok || createdAt == "" || id == "" {
		return "", "", domain.Invalid("cursor", "malformed cursor")
	}
	return createdAt, id, nil
}

type ActivityOptions struct {
	ActorID   string
	RequestID string
	// Ascending returns entries in invocation order.
	Ascending bool
	BeforeID  int64
	AfterID   int64
	Limit     int
}

// ListActivity returns a request's timeline. Clients only see visible entries.
func (e Engine) ListActivity(ctx context.Context, opts ActivityOptions) ([]domain.ActivityLogEntry, error) {
	a, err := e.actor(ctx, nil, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if _, err := e.visibleRequest(ctx, nil, a, opts.RequestID); err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListActivity(ctx, repo.ActivityFilters{
		RequestID:   opts.RequestID,
		VisibleOnly: a.Role == domain.RoleClient,
		Ascending:   opts.Ascending,
		BeforeID:    opts.BeforeID,
		AfterID:     opts.AfterID,
		Limit:       pageSize(opts.Limit),
	})
	if err != nil {
		return nil, e.fail("list activity", err, "request_id", opts.RequestID)
	}
	return entries, nil
}

func (e Engine) ListPayments(ctx context.Context, actorID, requestID string) ([]domain.Payment, error) {
	if _, err := e.viewable(ctx, actorID, requestID); err != nil {
		return nil, err
	}
	ps, err := e.Repo.ListPaymentsByRequest(ctx, requestID)
	if err != nil {
		return nil, e.fail("list payments", err, "request_id", requestID)
	}
	return ps, nil
}

const recentItems = 10

// AdminDashboard aggregates counters across all requests.
func (e Engine) AdminDashboard(ctx context.Context, actorID string) (domain.AdminDashboard, error) {
	const op = "admin dashboard"
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return domain.AdminDashboard{}, err
	}
	if err := auth.RequireStaff(a); err != nil {
		return domain.AdminDashboard{}, err
	}
	counts, err := e.Repo.CountRequestsByStatus(ctx, "")
	if err != nil {
		return domain.AdminDashboard{}, e.fail(op, err)
	}
	d := domain.AdminDashboard{ByStatus: map[string]int{}}
	for s, n := range counts {
		d.TotalRequests += n
		d.ByStatus[string(s)] = n
	}
	d.Pending = counts[domain.StatusSubmitted] + counts[domain.StatusUnderReview]
	d.InProgress = counts[domain.StatusInProgress] + counts[domain.StatusRevision]
	if d.PendingPayments, err = e.Repo.CountPaymentsByStatus(ctx, domain.PaymentPending); err != nil {
		return domain.AdminDashboard{}, e.fail(op, err)
	}
	clients, err := e.Repo.ListActorsByRole(ctx, domain.RoleClient)
	if err != nil {
		return domain.AdminDashboard{}, e.fail(op, err)
	}
	d.TotalClients = len(clients)
	if d.RecentRequests, err = e.Repo.ListRequests(ctx, repo.RequestFilters{Page: repo.Page{Limit: recentItems}}); err != nil {
		return domain.AdminDashboard{}, e.fail(op, err)
	}
	if d.RecentActivities, err = e.Repo.ListActivity(ctx, repo.ActivityFilters{Limit: recentItems}); err != nil {
		return domain.AdminDashboard{}, e.fail(op, err)
	}
	return d, nil
}

// ClientDashboard aggregates the caller's own requests.
func (e Engine) ClientDashboard(ctx context.Context, actorID string) (domain.ClientDashboard, error) {
	const op = "client dashboard"
	a, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return domain.ClientDashboard{}, err
	}
	if err := auth.RequireClient(a); err != nil {
		return domain.ClientDashboard{}, err
	}
	counts, err := e.Repo.CountRequestsByStatus(ctx, a.ID)
	if err != nil {
		return domain.ClientDashboard{}, e.fail(op, err)
	}
	var d domain.ClientDashboard
	for _, n := range counts {
		d.Total += n
	}
	d.InProgress = counts[domain.StatusInProgress] + counts[domain.StatusRevision]
	d.PendingQuote = counts[domain.StatusSubmitted] + counts[domain.StatusUnderReview] + counts[domain.StatusQuoteSent]
	d.Completed = counts[domain.StatusCompleted] + counts[domain.StatusDelivered]
	if d.Requests, err = e.Repo.ListRequests(ctx, repo.RequestFilters{ClientID: a.ID, Page: repo.Page{Limit: recentItems}}); err != nil {
		return domain.ClientDashboard{}, e.fail(op, err)
	}
	return d, nil
}
