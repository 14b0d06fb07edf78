package domain

// Role is the closed set of actor roles.
type Role string

const (
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role is staff-facing.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleClient:
		return false
	}
	return false
}

type RequestStatus string

const (
	StatusSubmitted       RequestStatus = "submitted"
	StatusUnderReview     RequestStatus = "under_review"
	StatusQuoteSent       RequestStatus = "quote_sent"
	StatusQuoteAccepted   RequestStatus = "quote_accepted"
	StatusAwaitingDeposit RequestStatus = "awaiting_deposit"
	StatusDepositPending  RequestStatus = "deposit_pending"
	StatusInProgress      RequestStatus = "in_progress"
	StatusRevision        RequestStatus = "revision"
	StatusCompleted       RequestStatus = "completed"
	StatusDelivered       RequestStatus = "delivered"
	StatusCancelled       RequestStatus = "cancelled"
	StatusRejected        RequestStatus = "rejected"
)

// RequestStatuses lists statuses in lifecycle order.
var RequestStatuses = []RequestStatus{
	StatusSubmitted, StatusUnderReview, StatusQuoteSent, StatusQuoteAccepted,
	StatusAwaitingDeposit, StatusDepositPending, StatusInProgress, StatusRevision,
	StatusCompleted, StatusDelivered, StatusCancelled, StatusRejected,
}

func (s RequestStatus) Valid() bool {
	for _, v := range RequestStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRejected
}

type ServiceType string

var ServiceTypes = []ServiceType{
	"thesis", "dissertation", "research_proposal", "academic_proposal", "book_chapter",
	"research_paper", "literature_review", "proofreading", "editing", "formatting",
	"consultation", "cv_resume", "personal_statement", "grant_proposal", "poster_review", "other",
}

func (t ServiceType) Valid() bool {
	for _, v := range ServiceTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Urgency string

const (
	UrgencyStandard   Urgency = "standard"
	UrgencyExpress24h Urgency = "express_24h"
	UrgencyExpress5h  Urgency = "express_5h"
)

var Urgencies = []Urgency{UrgencyStandard, UrgencyExpress24h, UrgencyExpress5h}

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyStandard, UrgencyExpress24h, UrgencyExpress5h:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

type PaymentType string

const (
	PaymentDeposit PaymentType = "deposit"
	PaymentFinal   PaymentType = "final"
	PaymentFull    PaymentType = "full"
)

var PaymentTypes = []PaymentType{PaymentDeposit, PaymentFinal, PaymentFull}

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentDeposit, PaymentFinal, PaymentFull:
		return true
	}
	return false
}

// Upfront reports whether a verified payment of this type unlocks work.
func (t PaymentType) Upfront() bool {
	return t == PaymentDeposit || t == PaymentFull
}

type DocumentType string

const (
	DocClientUpload DocumentType = "client_upload"
	DocAdminUpload  DocumentType = "admin_upload"
	DocDeliverable  DocumentType = "deliverable"
	DocRevision     DocumentType = "revision"
)

var DocumentTypes = []DocumentType{DocClientUpload, DocAdminUpload, DocDeliverable, DocRevision}

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

type RevisionStatus string

const (
	RevisionPending    RevisionStatus = "pending"
	RevisionInProgress RevisionStatus = "in_progress"
	RevisionCompleted  RevisionStatus = "completed"
	RevisionRejected   RevisionStatus = "rejected"
)

// ActionType is the closed enumeration of activity log actions.
type ActionType string

const (
	ActionComment                   ActionType = "comment"
	ActionDelivery                  ActionType = "delivery"
	ActionRevisionRequest           ActionType = "revision_request"
	ActionRevisionDelivery          ActionType = "revision_delivery"
	ActionDownload                  ActionType = "download"
	ActionStatusChange              ActionType = "status_change"
	ActionDeadlineExtensionRequest  ActionType = "deadline_extension_request"
	ActionDeadlineExtensionApproved ActionType = "deadline_extension_approved"
	ActionDeadlineExtensionRejected ActionType = "deadline_extension_rejected"
	ActionQuoteSent                 ActionType = "quote_sent"
	ActionQuoteAccepted             ActionType = "quote_accepted"
	ActionPaymentSubmitted          ActionType = "payment_submitted"
	ActionPaymentVerified           ActionType = "payment_verified"
	ActionDocumentUpload            ActionType = "document_upload"
	ActionProgressUpdate            ActionType = "progress_update"
)

var ActionTypes = []ActionType{
	ActionComment, ActionDelivery, ActionRevisionRequest, ActionRevisionDelivery, ActionDownload,
	ActionStatusChange, ActionDeadlineExtensionRequest, ActionDeadlineExtensionApproved,
	ActionDeadlineExtensionRejected, ActionQuoteSent, ActionQuoteAccepted, ActionPaymentSubmitted,
	ActionPaymentVerified, ActionDocumentUpload, ActionProgressUpdate,
}

func (a ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if v == a {
			return true
		}
	}
	return false
}

type Actor struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	PasswordHash  string `json:"-"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Phone         string `json:"phone,omitempty"`
	Institution   string `json:"institution,omitempty"`
	AcademicLevel string `json:"academic_level,omitempty"`
	FieldOfStudy  string `json:"field_of_study,omitempty"`
	Role          Role   `json:"role"`
	Active        bool   `json:"active"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func (a Actor) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

type Request struct {
	ID                 string        `json:"id"`
	ClientID           string        `json:"client_id"`
	ServiceType        ServiceType   `json:"service_type"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	AdditionalInfo     string        `json:"additional_info,omitempty"`
	WordCount          *int          `json:"word_count,omitempty"`
	PagesCount         *int          `json:"pages_count,omitempty"`
	Deadline           *string       `json:"deadline,omitempty"`
	UrgencyLevel       Urgency       `json:"urgency_level"`
	Status             RequestStatus `json:"status"`
	ProgressPercentage int           `json:"progress_percentage"`
	QuoteAmount        *float64      `json:"quote_amount,omitempty"`
	QuoteMessage       string        `json:"quote_message,omitempty"`
	QuoteSentAt        *string       `json:"quote_sent_at,omitempty"`
	QuoteAccepted      bool          `json:"quote_accepted"`
	DepositRequired    *float64      `json:"deposit_required,omitempty"`
	DepositPaid        bool          `json:"deposit_paid"`
	AdminNotes         string        `json:"admin_notes,omitempty"`
	RejectionReason    string        `json:"rejection_reason,omitempty"`
	CreatedAt          string        `json:"created_at"`
	UpdatedAt          string        `json:"updated_at"`
	DeliveredAt        *string       `json:"delivered_at,omitempty"`
	Version            int           `json:"version"`
}

type Payment struct {
	ID                   string        `json:"id"`
	RequestID            string        `json:"request_id"`
	Amount               float64       `json:"amount"`
	Type                 PaymentType   `json:"payment_type"`
	Method               string        `json:"payment_method"`
	ProofDocumentID      *string       `json:"proof_document_id,omitempty"`
	TransactionReference string        `json:"transaction_reference,omitempty"`
	Notes                string        `json:"notes,omitempty"`
	Status               PaymentStatus `json:"status"`
	VerifiedBy           *string       `json:"verified_by,omitempty"`
	VerifiedAt           *string       `json:"verified_at,omitempty"`
	RejectionReason      string        `json:"rejection_reason,omitempty"`
	CreatedAt            string        `json:"created_at"`
	UpdatedAt            string        `json:"updated_at"`
	Version              int           `json:"version"`
}

type ActivityLogEntry struct {
	ID              int64          `json:"id"`
	RequestID       string         `json:"request_id"`
	ActorID         string         `json:"actor_id"`
	Action          ActionType     `json:"action_type"`
	Title           string         `json:"title,omitempty"`
	Description     string         `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	VisibleToClient bool           `json:"visible_to_client"`
	CreatedAt       string         `json:"created_at"`
}

type DeadlineExtension struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id"`
	RequestedBy      string          `json:"requested_by"`
	OriginalDeadline *string         `json:"original_deadline,omitempty"`
	NewDeadline      string          `json:"new_deadline"`
	Reason           string          `json:"reason,omitempty"`
	Status           ExtensionStatus `json:"status"`
	RespondedBy      *string         `json:"responded_by,omitempty"`
	ResponseMessage  string          `json:"response_message,omitempty"`
	RespondedAt      *string         `json:"responded_at,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

type RevisionRequest struct {
	ID                 string               `json:"id"`
	RequestID          string               `json:"request_id"`
	DeliveryDocumentID *string              `json:"delivery_document_id,omitempty"`
	RequestedBy        string               `json:"requested_by"`
	Details            string               `json:"revision_details"`
	Status             RevisionStatus       `json:"status"`
	AdminResponse      string               `json:"admin_response,omitempty"`
	RespondedBy        *string              `json:"responded_by,omitempty"`
	RespondedAt        *string              `json:"responded_at,omitempty"`
	CreatedAt          string               `json:"created_at"`
	UpdatedAt          string               `json:"updated_at"`
	Attachments        []RevisionAttachment `json:"attachments,omitempty"`
}

type RevisionAttachment struct {
	ID               string `json:"id"`
	RevisionID       string `json:"revision_id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type,omitempty"`
	FileSize         int64  `json:"file_size"`
	UploadedBy       string `json:"uploaded_by"`
	CreatedAt        string `json:"created_at"`
}

type Document struct {
	ID               string       `json:"id"`
	RequestID        string       `json:"request_id"`
	Filename         string       `json:"filename"`
	OriginalFilename string       `json:"original_filename"`
	FileType         string       `json:"file_type,omitempty"`
	FileSize         int64        `json:"file_size"`
	Type             DocumentType `json:"document_type"`
	Description      string       `json:"description,omitempty"`
	UploadedBy       string       `json:"uploaded_by"`
	CreatedAt        string       `json:"created_at"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}

// AdminDashboard aggregates staff-facing counters.
type AdminDashboard struct {
	TotalRequests    int                `json:"total_requests"`
	Pending          int                `json:"pending_requests"`
	InProgress       int                `json:"in_progress_requests"`
	PendingPayments  int                `json:"pending_payments"`
	TotalClients     int                `json:"total_clients"`
	ByStatus         map[string]int     `json:"by_status"`
	RecentRequests   []Request          `json:"recent_requests"`
	RecentActivities []ActivityLogEntry `json:"recent_activities"`
}

type ClientDashboard struct {
	Total        int       `json:"total"`
	InProgress   int       `json:"in_progress"`
	PendingQuote int       `json:"pending_quote"`
	Completed    int       `json:"completed"`
	Requests     []Request `json:"requests"`
}
