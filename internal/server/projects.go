package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"solaire/internal/domain"
	"solaire/internal/engine"
	"solaire/internal/repo"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ContactName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "contact_name is required", nil)
		}
		if input.Body.Pack == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "pack is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Beneficiary: domain.Beneficiary{
				Company:     stringOrEmpty(input.Body.Company),
				ContactName: input.Body.ContactName,
				Email:       stringOrEmpty(input.Body.Email),
				Phone:       stringOrEmpty(input.Body.Phone),
			},
			Installation: domain.Installation{
				Address:     stringOrEmpty(input.Body.Address),
				City:        stringOrEmpty(input.Body.City),
				PostalCode:  stringOrEmpty(input.Body.PostalCode),
				PowerKWC:    input.Body.PowerKWC,
				PanelsCount: input.Body.PanelsCount,
			},
			Pack:    input.Body.Pack,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e, p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Pack   string `query:"pack"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:          input.Status,
			Pack:            input.Pack,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: []ProjectResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapProjects(e, items)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e, p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ProjectUpdateOptions{
			Company:     input.Body.Company,
			ContactName: input.Body.ContactName,
			Email:       input.Body.Email,
			Phone:       input.Body.Phone,
			Address:     input.Body.Address,
			City:        input.Body.City,
			PostalCode:  input.Body.PostalCode,
			PowerKWC:    input.Body.PowerKWC,
			PanelsCount: input.Body.PanelsCount,
			Pack:        input.Body.Pack,
			Status:      input.Body.Status,
			Progress:    input.Body.Progress,
			ActorID:     actorID,
		}
		if isNullRaw(rawBodyMap(ctx)["progress"]) {
			opts.Progress = nil
			opts.ClearProgress = true
		}
		p, err := e.UpdateProject(ctx, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e, p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-workflow-step",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}/workflow/{stage}",
		Summary:     "Set a stage's current step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID    string           `path:"id"`
		Stage string           `path:"stage"`
		Body  ApplyStepRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Step == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "step is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApplyStep(ctx, input.ID, input.Stage, input.Body.Step, stringOrEmpty(input.Body.Notes), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e, p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-workflow-stage",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/workflow/{stage}/reset",
		Summary:     "Reset a stage to pending",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Stage string `path:"stage"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ResetStage(ctx, input.ID, input.Stage, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(e, p)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/documents",
		Summary:       "Attach document metadata",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var size int64
		if input.Body.Size != nil {
			size = *input.Body.Size
		}
		d, err := e.AddDocument(ctx, engine.DocumentCreateOptions{
			ProjectID: input.ID,
			Stage:     input.Body.Stage,
			Category:  stringOrEmpty(input.Body.Category),
			Filename:  input.Body.Filename,
			URL:       input.Body.URL,
			MimeType:  stringOrEmpty(input.Body.MimeType),
			Size:      size,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/documents",
		Summary:     "List project documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Stage string `query:"stage"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		docs, err := e.Repo.ListDocuments(ctx, input.ID, input.Stage)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]DocumentResponse, 0, len(docs))
		for _, d := range docs {
			out = append(out, documentResponse(d))
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}/documents/{doc_id}",
		Summary:     "Delete document metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		DocID string `path:"doc_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDocument(ctx, input.DocID)
		if err != nil {
			return nil, handleError(err)
		}
		if d.ProjectID != input.ID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "document not found in project", nil)
		}
		if err := e.DeleteDocument(ctx, input.DocID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
