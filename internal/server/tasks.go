package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"nexusdao/internal/engine"
	"nexusdao/internal/query"
)

type taskPath struct {
	ID int64 `path:"id" minimum:"1"`
}

type taskBody struct {
	Body TaskResponse `json:"body"`
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Council only. The task starts Open with no assignee.",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		caller, authErr := requireCaller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, caller, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Without filters returns every task in creation order.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" doc:"Open, InProgress, UnderReview or Completed"`
		Assignee string `query:"assignee"`
		Creator  string `query:"creator"`
		Sort     string `query:"sort" enum:"id,priority,deadline" default:"id"`
		Order    string `query:"order" enum:"asc,desc" default:"asc"`
		Limit    int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		if _, authErr := requireCaller(ctx); authErr != nil {
			return nil, authErr
		}
		tasks, err := q.List(ctx, query.Filter{
			Status:   input.Status,
			Assignee: input.Assignee,
			Creator:  input.Creator,
			Sort:     input.Sort,
			Desc:     strings.EqualFold(input.Order, "desc"),
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: mapTasks(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		if _, authErr := requireCaller(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := q.Task(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/history",
		Summary:     "Task event history",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body eventList `json:"body"`
	}, error) {
		if _, authErr := requireCaller(ctx); authErr != nil {
			return nil, authErr
		}
		evts, err := q.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		items := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			items = append(items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Claim an Open task",
		Description: "Subcontractor only. The caller becomes the assignee.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		caller, authErr := requireCaller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, caller, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/submit",
		Summary:     "Submit an InProgress task for review",
		Description: "Only the assignee may submit.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		caller, authErr := requireCaller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitTaskForReview(ctx, caller, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Approve or reject a submitted task",
		Description: "Reviewer only. Approval completes the task; rejection reopens it with no assignee.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id" minimum:"1"`
		Body ReviewTaskRequest `json:"body"`
	}) (*taskBody, error) {
		caller, authErr := requireCaller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReviewTask(ctx, caller, input.ID, input.Body.Approved)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskBody{Body: taskResponse(t)}, nil
	})
}

func registerBoard(api huma.API, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Tasks grouped by status",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if _, authErr := requireCaller(ctx); authErr != nil {
			return nil, authErr
		}
		b, err := q.Board(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(b)}, nil
	})
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}
