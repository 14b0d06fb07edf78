package server

import (
	"bytes"
	"context"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
	"draftclinic/internal/labels"
)

// Request payloads

type ProfileFields struct {
	FirstName     string `json:"first_name" minLength:"1"`
	LastName      string `json:"last_name" minLength:"1"`
	Phone         string `json:"phone,omitempty"`
	Institution   string `json:"institution,omitempty"`
	AcademicLevel string `json:"academic_level,omitempty"`
	FieldOfStudy  string `json:"field_of_study,omitempty"`
}

func (p ProfileFields) profile() engine.Profile {
	return engine.Profile{
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Phone:         p.Phone,
		Institution:   p.Institution,
		AcademicLevel: p.AcademicLevel,
		FieldOfStudy:  p.FieldOfStudy,
	}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ProfileFields
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" minLength:"1"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// FilePayload carries one file; content is base64 in JSON.
type FilePayload struct {
	Name        string `json:"name" minLength:"1"`
	Content     []byte `json:"content"`
	Description string `json:"description,omitempty"`
}

func (f FilePayload) input() engine.FileInput {
	return engine.FileInput{Name: f.Name, Description: f.Description, Content: bytes.NewReader(f.Content)}
}

func fileInputs(files []FilePayload) []engine.FileInput {
	out := make([]engine.FileInput, len(files))
	for i, f := range files {
		out[i] = f.input()
	}
	return out
}

func optionalFile(f *FilePayload) *engine.FileInput {
	if f == nil {
		return nil
	}
	in := f.input()
	return &in
}

type SubmitRequest struct {
	ServiceType    string        `json:"service_type"`
	Title          string        `json:"title" maxLength:"200"`
	Description    string        `json:"description,omitempty"`
	AdditionalInfo string        `json:"additional_info,omitempty"`
	WordCount      *int          `json:"word_count,omitempty"`
	PagesCount     *int          `json:"pages_count,omitempty"`
	Deadline       string        `json:"deadline,omitempty"`
	UrgencyLevel   string        `json:"urgency_level,omitempty"`
	Attachments    []FilePayload `json:"attachments,omitempty"`
}

type QuoteRequest struct {
	QuoteAmount     float64  `json:"quote_amount"`
	DepositRequired *float64 `json:"deposit_required,omitempty"`
	Message         string   `json:"message,omitempty"`
}

type UpdateStatusRequest struct {
	Status             string  `json:"status,omitempty"`
	ProgressPercentage *int    `json:"progress_percentage,omitempty"`
	AdminNotes         *string `json:"admin_notes,omitempty"`
	RejectionReason    string  `json:"rejection_reason,omitempty"`
	Force              bool    `json:"force,omitempty"`
	ExpectedVersion    *int    `json:"expected_version,omitempty"`
}

type PaymentRequest struct {
	Amount               float64      `json:"amount"`
	PaymentType          string       `json:"payment_type,omitempty" enum:"deposit,final,full"`
	PaymentMethod        string       `json:"payment_method"`
	TransactionReference string       `json:"transaction_reference,omitempty"`
	Notes                string       `json:"notes,omitempty"`
	Proof                *FilePayload `json:"proof,omitempty"`
}

type DecisionRequest struct {
	Action  string `json:"action" enum:"approve,reject"`
	Message string `json:"message,omitempty"`
}

func (d DecisionRequest) approved() bool { return d.Action == "approve" }

type UploadRequest struct {
	File FilePayload `json:"file"`
}

type DeliverableRequest struct {
	File    FilePayload `json:"file"`
	Comment string      `json:"comment,omitempty"`
}

type ExtensionRequest struct {
	NewDeadline string `json:"new_deadline"`
	Reason      string `json:"reason,omitempty"`
}

type RevisionRequest struct {
	DeliveryDocumentID string        `json:"delivery_document_id"`
	RevisionDetails    string        `json:"revision_details"`
	Attachments        []FilePayload `json:"attachments,omitempty"`
}

type HandleRevisionRequest struct {
	Action   string       `json:"action" enum:"accept,complete,reject"`
	Response string       `json:"response,omitempty"`
	File     *FilePayload `json:"file,omitempty"`
}

type CommentRequest struct {
	Text     string `json:"text"`
	Internal bool   `json:"internal,omitempty"`
}

type CreateAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ProfileFields
}

type UpdateAdminRequest struct {
	Active   *bool          `json:"active,omitempty"`
	Password string         `json:"password,omitempty"`
	Profile  *ProfileFields `json:"profile,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	Actor        domain.Actor `json:"actor"`
}

type RequestView struct {
	domain.Request
	StatusLabel      string `json:"status_label"`
	ServiceTypeLabel string `json:"service_type_label"`
	UrgencyLabel     string `json:"urgency_label"`
}

type PaymentView struct {
	domain.Payment
	StatusLabel string `json:"status_label"`
	TypeLabel   string `json:"payment_type_label"`
}

type DocumentView struct {
	domain.Document
	TypeLabel string `json:"document_type_label"`
}

type ExtensionView struct {
	domain.DeadlineExtension
	StatusLabel string `json:"status_label"`
}

type RevisionView struct {
	domain.RevisionRequest
	StatusLabel string `json:"status_label"`
}

type ActivityView struct {
	domain.ActivityLogEntry
	ActionLabel string `json:"action_label"`
}

type RequestDetailResponse struct {
	Request            RequestView     `json:"request"`
	Payments           []PaymentView   `json:"payments"`
	Documents          []DocumentView  `json:"documents"`
	DeadlineExtensions []ExtensionView `json:"deadline_extensions"`
	Revisions          []RevisionView  `json:"revisions"`
}

type RequestPageResponse struct {
	Requests   []RequestView `json:"requests"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type SubmitResponse struct {
	Request   RequestView    `json:"request"`
	Documents []DocumentView `json:"documents"`
}

type VerifyPaymentResponse struct {
	Payment PaymentView `json:"payment"`
	Request RequestView `json:"request"`
}

type ExtensionDecisionResponse struct {
	Extension ExtensionView `json:"deadline_extension"`
	Request   RequestView   `json:"request"`
}

type DashboardResponse struct {
	Role   domain.Role             `json:"role"`
	Admin  *domain.AdminDashboard  `json:"admin,omitempty"`
	Client *domain.ClientDashboard `json:"client,omitempty"`
}

type TransferResponse struct {
	Previous domain.Actor `json:"previous"`
	Current  domain.Actor `json:"current"`
}

type APIKeyResponse struct {
	Key    string        `json:"key,omitempty"`
	APIKey domain.APIKey `json:"api_key"`
}

type LabelsResponse struct {
	Locale string                       `json:"locale"`
	Labels map[string]map[string]string `json:"labels"`
}

// Mapping helpers

func requestView(ctx context.Context, rq domain.Request) RequestView {
	loc := labels.FromContext(ctx)
	return RequestView{
		Request:          rq,
		StatusLabel:      labels.Label(loc, labels.RequestStatus, string(rq.Status)),
		ServiceTypeLabel: labels.Label(loc, labels.ServiceType, string(rq.ServiceType)),
		UrgencyLabel:     labels.Label(loc, labels.Urgency, string(rq.UrgencyLevel)),
	}
}

func requestViews(ctx context.Context, rqs []domain.Request) []RequestView {
	out := make([]RequestView, 0, len(rqs))
	for _, rq := range rqs {
		out = append(out, requestView(ctx, rq))
	}
	return out
}

func paymentView(ctx context.Context, p domain.Payment) PaymentView {
	loc := labels.FromContext(ctx)
	return PaymentView{
		Payment:     p,
		StatusLabel: labels.Label(loc, labels.PaymentStatus, string(p.Status)),
		TypeLabel:   labels.Label(loc, labels.PaymentType, string(p.Type)),
	}
}

func paymentViews(ctx context.Context, ps []domain.Payment) []PaymentView {
	out := make([]PaymentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, paymentView(ctx, p))
	}
	return out
}

func documentView(ctx context.Context, d domain.Document) DocumentView {
	return DocumentView{Document: d, TypeLabel: labels.Label(labels.FromContext(ctx), labels.DocumentType, string(d.Type))}
}

func documentViews(ctx context.Context, docs []domain.Document) []DocumentView {
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentView(ctx, d))
	}
	return out
}

func extensionView(ctx context.Context, x domain.DeadlineExtension) ExtensionView {
	return ExtensionView{DeadlineExtension: x, StatusLabel: labels.Label(labels.FromContext(ctx), labels.ExtensionStatus, string(x.Status))}
}

func extensionViews(ctx context.Context, xs []domain.DeadlineExtension) []ExtensionView {
	out := make([]ExtensionView, 0, len(xs))
	for _, x := range xs {
		out = append(out, extensionView(ctx, x))
	}
	return out
}

func revisionView(ctx context.Context, rv domain.RevisionRequest) RevisionView {
	return RevisionView{RevisionRequest: rv, StatusLabel: labels.Label(labels.FromContext(ctx), labels.RevisionStatus, string(rv.Status))}
}

func revisionViews(ctx context.Context, rvs []domain.RevisionRequest) []RevisionView {
	out := make([]RevisionView, 0, len(rvs))
	for _, rv := range rvs {
		out = append(out, revisionView(ctx, rv))
	}
	return out
}

func activityView(ctx context.Context, e domain.ActivityLogEntry) ActivityView {
	return ActivityView{ActivityLogEntry: e, ActionLabel: labels.Label(labels.FromContext(ctx), labels.ActionType, string(e.Action))}
}

func activityViews(ctx context.Context, entries []domain.ActivityLogEntry) []ActivityView {
	out := make([]ActivityView, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityView(ctx, e))
	}
	return out
}

func detailResponse(ctx context.Context, d engine.RequestDetail) RequestDetailResponse {
	return RequestDetailResponse{
		Request:            requestView(ctx, d.Request),
		Payments:           paymentViews(ctx, d.Payments),
		Documents:          documentViews(ctx, d.Documents),
		DeadlineExtensions: extensionViews(ctx, d.Extensions),
		Revisions:          revisionViews(ctx, d.Revisions),
	}
}
