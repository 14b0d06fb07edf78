package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"draftclinic/internal/domain"
	"draftclinic/internal/engine"
)

func registerStaff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "Client accounts",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		clients, err := e.ListClients(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: clients}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-admins",
		Method:      http.MethodGet,
		Path:        "/admins",
		Summary:     "Staff accounts",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		admins, err := e.ListAdmins(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: admins}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-admin",
		Method:        http.MethodPost,
		Path:          "/admins",
		Summary:       "Create an admin account",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateAdminRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAdmin(ctx, actorID, input.Body.Email, input.Body.Password, input.Body.profile())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-admin",
		Method:      http.MethodPatch,
		Path:        "/admins/{id}",
		Summary:     "Update an admin account",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAdminRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.UpdateAdminOptions{
			ActorID:  actorID,
			TargetID: input.ID,
			Active:   input.Body.Active,
			Password: input.Body.Password,
		}
		if input.Body.Profile != nil {
			p := input.Body.Profile.profile()
			opts.Profile = &p
		}
		a, err := e.UpdateAdmin(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-admin-status",
		Method:      http.MethodPost,
		Path:        "/admins/{id}/toggle-status",
		Summary:     "Activate or deactivate an admin",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ToggleAdminStatus(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-super-admin",
		Method:      http.MethodPost,
		Path:        "/admins/{id}/transfer-super-admin",
		Summary:     "Hand the super admin role to another admin",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body TransferResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prev, next, err := e.TransferSuperAdmin(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransferResponse `json:"body"`
		}{Body: TransferResponse{Previous: prev, Current: next}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key; the raw key is only returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{Key: raw, APIKey: key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "Own API keys",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Delete an own API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *requestPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
