package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"synccity/internal/domain"
	"synccity/internal/engine"
	"synccity/internal/repo"
)

func badRequest(err error) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
}

func registerDepartments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-department",
		Method:        http.MethodPost,
		Path:          "/departments",
		Summary:       "Create department",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateDepartmentRequest `json:"body"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		d, err := e.CreateDepartment(ctx, engine.DepartmentCreateOptions{
			ID:             input.Body.ID,
			Name:           input.Body.Name,
			Email:          input.Body.Email,
			PointOfContact: input.Body.PointOfContact,
			ActorID:        actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Department `json:"body"`
	}, error) {
		items, err := e.ListDepartments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Department `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project and scan it for conflicts",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectWriteResponse `json:"body"`
	}, error) {
		b := input.Body
		start, err := parseDate("start_date", b.StartDate)
		if err != nil {
			return nil, badRequest(err)
		}
		end, err := parseDate("end_date", b.EndDate)
		if err != nil {
			return nil, badRequest(err)
		}
		loc, err := b.Location.toDomain()
		if err != nil {
			return nil, badRequest(err)
		}
		p, report, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:                b.ID,
			DepartmentID:      b.DepartmentID,
			Name:              b.Name,
			Description:       b.Description,
			StartDate:         start,
			EndDate:           end,
			Status:            b.Status,
			Location:          loc,
			Priority:          b.Priority,
			Budget:            b.Budget,
			ResourcesRequired: b.ResourcesRequired,
			ActorID:           actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectWriteResponse `json:"body"`
		}{Body: ProjectWriteResponse{Project: projectResponse(p), Scan: scanResponse(report)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DepartmentID string `query:"department_id"`
		Status       string `query:"status"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilter{DepartmentID: input.DepartmentID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project and rescan it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectWriteResponse `json:"body"`
	}, error) {
		b := input.Body
		opts := engine.ProjectUpdateOptions{
			ID:           input.ProjectID,
			DepartmentID: b.DepartmentID,
			Name:         b.Name,
			Description:  b.Description,
			Status:       b.Status,
			Priority:     b.Priority,
			Budget:       b.Budget,
			ActorID:      actorIDFromContext(ctx),
		}
		if b.StartDate != nil {
			t, err := parseDate("start_date", *b.StartDate)
			if err != nil {
				return nil, badRequest(err)
			}
			opts.StartDate = &t
		}
		if b.EndDate != nil {
			t, err := parseDate("end_date", *b.EndDate)
			if err != nil {
				return nil, badRequest(err)
			}
			opts.EndDate = &t
		}
		if b.Location != nil {
			loc, err := b.Location.toDomain()
			if err != nil {
				return nil, badRequest(err)
			}
			opts.Location = &loc
		}
		if b.ResourcesRequired != nil {
			opts.ResourcesRequired = &b.ResourcesRequired
		}
		p, report, err := e.UpdateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectWriteResponse `json:"body"`
		}{Body: ProjectWriteResponse{Project: projectResponse(p), Scan: scanResponse(report)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project and its conflicts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body DeleteProjectResponse `json:"body"`
	}, error) {
		cleared, err := e.DeleteProject(ctx, input.ProjectID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteProjectResponse `json:"body"`
		}{Body: DeleteProjectResponse{ID: input.ProjectID, ClearedConflicts: nonNilSlice(cleared)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rescan-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rescan",
		Summary:     "Re-run conflict detection for a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ScanResponse `json:"body"`
	}, error) {
		report, err := e.Rescan(ctx, input.ProjectID, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScanResponse `json:"body"`
		}{Body: scanResponse(report)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-conflicts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/conflicts",
		Summary:     "List conflicts involving a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
	}) (*struct {
		Body []domain.Conflict `json:"body"`
	}, error) {
		items, err := e.ListConflicts(ctx, repo.ConflictFilter{ProjectID: input.ProjectID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Conflict `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerConflicts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "List conflicts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Conflict `json:"body"`
	}, error) {
		items, err := e.ListConflicts(ctx, repo.ConflictFilter{Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Conflict `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict",
		Method:      http.MethodGet,
		Path:        "/conflicts/{conflict_id}",
		Summary:     "Get conflict",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConflictID string `path:"conflict_id"`
	}) (*struct {
		Body domain.Conflict `json:"body"`
	}, error) {
		c, err := e.GetConflict(ctx, input.ConflictID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Conflict `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-conflict",
		Method:      http.MethodPatch,
		Path:        "/conflicts/{conflict_id}",
		Summary:     "Resolve, ignore or reopen a conflict",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConflictID string                `path:"conflict_id"`
		Body       UpdateConflictRequest `json:"body"`
	}) (*struct {
		Body domain.Conflict `json:"body"`
	}, error) {
		c, err := e.SetConflictStatus(ctx, engine.ConflictStatusOptions{
			ID:             input.ConflictID,
			Status:         input.Body.Status,
			Resolution:     input.Body.Resolution,
			ResolutionType: input.Body.ResolutionType,
			ActorID:        actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Conflict `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict-conversation",
		Method:      http.MethodGet,
		Path:        "/conflicts/{conflict_id}/conversation",
		Summary:     "Get the conversation opened for a conflict",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConflictID string `path:"conflict_id"`
	}) (*struct {
		Body domain.ConflictConversation `json:"body"`
	}, error) {
		conv, err := e.GetConversationForConflict(ctx, input.ConflictID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ConflictConversation `json:"body"`
		}{Body: conv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conversation-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{conversation_id}/messages",
		Summary:     "List conversation messages, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ConversationID string `path:"conversation_id"`
	}) (*struct {
		Body []domain.ConflictMessage `json:"body"`
	}, error) {
		items, err := e.ListMessages(ctx, input.ConversationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ConflictMessage `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.LatestEvents(ctx, repo.EventFilter{EntityKind: input.EntityKind, EntityID: input.EntityID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}
