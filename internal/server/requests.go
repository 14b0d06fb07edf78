package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
)

type requestPath struct {
	ID string `path:"id"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Submit a service request",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadBodyLimit,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		rq, docs, err := e.Submit(ctx, engine.SubmitOptions{
			ActorID:        actorID,
			ServiceType:    domain.ServiceType(b.ServiceType),
			Title:          b.Title,
			Description:    b.Description,
			AdditionalInfo: b.AdditionalInfo,
			WordCount:      b.WordCount,
			PagesCount:     b.PagesCount,
			Deadline:       b.Deadline,
			Urgency:        domain.Urgency(b.UrgencyLevel),
			Attachments:    fileInputs(b.Attachments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{Request: requestView(ctx, rq), Documents: documentViews(ctx, docs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests, newest first",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" doc:"Comma separated statuses"`
		ClientID string `query:"client_id"`
		Limit    int    `query:"limit"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body RequestPageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var statuses []domain.RequestStatus
		for _, s := range splitList(input.Status) {
			statuses = append(statuses, domain.RequestStatus(s))
		}
		page, err := e.ListRequests(ctx, engine.ListRequestsOptions{
			ActorID:  actorID,
			ClientID: input.ClientID,
			Statuses: statuses,
			Limit:    input.Limit,
			Cursor:   input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestPageResponse `json:"body"`
		}{Body: RequestPageResponse{Requests: requestViews(ctx, page.Requests), NextCursor: page.NextCursor}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Request with its payments, documents, extensions and revisions",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body RequestDetailResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetRequest(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestDetailResponse `json:"body"`
		}{Body: detailResponse(ctx, detail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-quote",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/quote",
		Summary:     "Quote a request",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body QuoteRequest `json:"body"`
	}) (*struct {
		Body RequestView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rq, err := e.SendQuote(ctx, engine.SendQuoteOptions{
			ActorID:   actorID,
			RequestID: input.ID,
			Amount:    input.Body.QuoteAmount,
			Deposit:   input.Body.DepositRequired,
			Message:   input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestView `json:"body"`
		}{Body: requestView(ctx, rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-quote",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/accept-quote",
		Summary:     "Accept the quote on an own request",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body RequestView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rq, err := e.AcceptQuote(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestView `json:"body"`
		}{Body: requestView(ctx, rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}/status",
		Summary:     "Change status, progress or notes",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body RequestView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		rq, err := e.UpdateStatus(ctx, engine.UpdateStatusOptions{
			ActorID:         actorID,
			RequestID:       input.ID,
			Status:          domain.RequestStatus(b.Status),
			Progress:        b.ProgressPercentage,
			Notes:           b.AdminNotes,
			RejectionReason: b.RejectionReason,
			Force:           b.Force,
			ExpectedVersion: b.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestView `json:"body"`
		}{Body: requestView(ctx, rq)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/comments",
		Summary:       "Comment on a request",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body ActivityView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.AddComment(ctx, engine.CommentOptions{
			ActorID:   actorID,
			RequestID: input.ID,
			Text:      input.Body.Text,
			Internal:  input.Body.Internal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityView `json:"body"`
		}{Body: activityView(ctx, entry)}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-payment",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/payments",
		Summary:       "Declare a payment",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadBodyLimit,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body PaymentRequest `json:"body"`
	}) (*struct {
		Body PaymentView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := e.SubmitPayment(ctx, engine.SubmitPaymentOptions{
			ActorID:   actorID,
			RequestID: input.ID,
			Amount:    b.Amount,
			Type:      domain.PaymentType(b.PaymentType),
			Method:    b.PaymentMethod,
			Reference: b.TransactionReference,
			Notes:     b.Notes,
			Proof:     optionalFile(b.Proof),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PaymentView `json:"body"`
		}{Body: paymentView(ctx, p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/payments",
		Summary:     "Payments of a request",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body []PaymentView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ps, err := e.ListPayments(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PaymentView `json:"body"`
		}{Body: paymentViews(ctx, ps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{id}/verify",
		Summary:     "Approve or reject a pending payment",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body VerifyPaymentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, rq, err := e.VerifyPayment(ctx, engine.VerifyPaymentOptions{
			ActorID:   actorID,
			PaymentID: input.ID,
			Approve:   input.Body.approved(),
			Reason:    input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifyPaymentResponse `json:"body"`
		}{Body: VerifyPaymentResponse{Payment: paymentView(ctx, p), Request: requestView(ctx, rq)}}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/documents",
		Summary:       "Attach a document to a request",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadBodyLimit,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body UploadRequest `json:"body"`
	}) (*struct {
		Body DocumentView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UploadDocument(ctx, engine.UploadOptions{ActorID: actorID, RequestID: input.ID, File: input.Body.File.input()})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentView `json:"body"`
		}{Body: documentView(ctx, d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/documents",
		Summary:     "Documents of a request",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Type string `query:"type" enum:"client_upload,admin_upload,deliverable,revision"`
	}) (*struct {
		Body []DocumentView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.ListDocuments(ctx, actorID, input.ID, domain.DocumentType(input.Type))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentView `json:"body"`
		}{Body: documentViews(ctx, docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/content",
		Summary:     "Download a document's content",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*huma.StreamResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, rc, err := e.OpenDocument(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			defer rc.Close()
			contentType := d.FileType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			hctx.SetHeader("Content-Type", contentType)
			hctx.SetHeader("Content-Disposition", attachmentHeader(d.OriginalFilename))
			if d.FileSize > 0 {
				hctx.SetHeader("Content-Length", strconv.FormatInt(d.FileSize, 10))
			}
			hctx.SetStatus(http.StatusOK)
			_, _ = io.Copy(hctx.BodyWriter(), rc)
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upload-deliverable",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/deliverables",
		Summary:       "Deliver work for a request",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadBodyLimit,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body DeliverableRequest `json:"body"`
	}) (*struct {
		Body DocumentView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UploadDeliverable(ctx, engine.DeliverableOptions{
			ActorID:   actorID,
			RequestID: input.ID,
			File:      input.Body.File.input(),
			Comment:   input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentView `json:"body"`
		}{Body: documentView(ctx, d)}, nil
	})
}

func registerExtensions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-deadline-extension",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/deadline-extensions",
		Summary:       "Ask for a later deadline",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ExtensionRequest `json:"body"`
	}) (*struct {
		Body ExtensionView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		x, err := e.RequestDeadlineExtension(ctx, engine.ExtensionOptions{
			ActorID:     actorID,
			RequestID:   input.ID,
			NewDeadline: input.Body.NewDeadline,
			Reason:      input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExtensionView `json:"body"`
		}{Body: extensionView(ctx, x)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-deadline-extension",
		Method:      http.MethodPost,
		Path:        "/deadline-extensions/{id}/respond",
		Summary:     "Approve or reject a deadline extension",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body ExtensionDecisionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		x, rq, err := e.RespondDeadlineExtension(ctx, engine.RespondExtensionOptions{
			ActorID:     actorID,
			ExtensionID: input.ID,
			Approve:     input.Body.approved(),
			Message:     input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExtensionDecisionResponse `json:"body"`
		}{Body: ExtensionDecisionResponse{Extension: extensionView(ctx, x), Request: requestView(ctx, rq)}}, nil
	})
}

func registerRevisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-revision",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/revisions",
		Summary:       "Ask for changes to a deliverable",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadBodyLimit,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body RevisionRequest `json:"body"`
	}) (*struct {
		Body RevisionView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.RequestRevision(ctx, engine.RevisionOptions{
			ActorID:            actorID,
			RequestID:          input.ID,
			DeliveryDocumentID: input.Body.DeliveryDocumentID,
			Details:            input.Body.RevisionDetails,
			Attachments:        fileInputs(input.Body.Attachments),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevisionView `json:"body"`
		}{Body: revisionView(ctx, rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "handle-revision",
		Method:       http.MethodPost,
		Path:         "/revisions/{id}/handle",
		Summary:      "Accept, complete or reject a revision request",
		MaxBodyBytes: uploadBodyLimit,
		Errors:       errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body HandleRevisionRequest `json:"body"`
	}) (*struct {
		Body RevisionView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.HandleRevision(ctx, engine.HandleRevisionOptions{
			ActorID:    actorID,
			RevisionID: input.ID,
			Action:     engine.RevisionAction(input.Body.Action),
			Response:   input.Body.Response,
			File:       optionalFile(input.Body.File),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevisionView `json:"body"`
		}{Body: revisionView(ctx, rv)}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/activity",
		Summary:     "Timeline of a request",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Order    string `query:"order" enum:"asc,desc" default:"desc"`
		BeforeID int64  `query:"before_id"`
		AfterID  int64  `query:"after_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []ActivityView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.ListActivity(ctx, engine.ActivityOptions{
			ActorID:   actorID,
			RequestID: input.ID,
			Ascending: input.Order == "asc",
			BeforeID:  input.BeforeID,
			AfterID:   input.AfterID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityView `json:"body"`
		}{Body: activityViews(ctx, entries)}, nil
	})
}
