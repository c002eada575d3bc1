package server

import (
	"nexusdao/internal/domain"
	"nexusdao/internal/query"
)

// Request payloads

type RegisterRequest struct {
	Username string `json:"username" minLength:"1" example:"alice"`
	Role     string `json:"role" enum:"Council,Subcontractor,Reviewer"`
	Password string `json:"password,omitempty" doc:"Required in password mode, at least 8 characters. Rejected in delegated mode."`
}

type LoginRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type CreateTaskRequest struct {
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority,omitempty" minimum:"0"`
	Deadline    int64  `json:"deadline" minimum:"1" doc:"Unix timestamp in nanoseconds."`
}

type ReviewTaskRequest struct {
	Approved bool `json:"approved"`
}

// Response payloads

type ProfileResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Role        string   `json:"role" enum:"Council,Subcontractor,Reviewer"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	Permissions []string `json:"permissions,omitempty"`
}

type SessionResponse struct {
	Profile   ProfileResponse `json:"profile"`
	Token     string          `json:"token,omitempty"`
	ExpiresAt string          `json:"expires_at,omitempty" format:"date-time"`
}

type TaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    int     `json:"priority"`
	Deadline    int64   `json:"deadline" doc:"Unix timestamp in nanoseconds."`
	DeadlineMS  int64   `json:"deadline_ms" doc:"Deadline as a JavaScript millisecond timestamp."`
	Creator     string  `json:"creator"`
	Assignee    *string `json:"assignee,omitempty"`
	Status      string  `json:"status" enum:"Open,InProgress,UnderReview,Completed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type LaneResponse struct {
	Status string         `json:"status" enum:"Open,InProgress,UnderReview,Completed"`
	Tasks  []TaskResponse `json:"tasks"`
}

type BoardResponse struct {
	Lanes []LaneResponse `json:"lanes"`
}

type taskList struct {
	Items []TaskResponse `json:"items"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func profileResponse(p domain.UserProfile, perms []string) ProfileResponse {
	return ProfileResponse{
		ID:          string(p.Identity),
		Username:    p.Username,
		Role:        string(p.Role),
		CreatedAt:   p.CreatedAt,
		Permissions: perms,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Deadline:    t.Deadline,
		DeadlineMS:  t.DeadlineMillis(),
		Creator:     string(t.Creator),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.Assignee != nil {
		a := string(*t.Assignee)
		resp.Assignee = &a
	}
	return resp
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func boardResponse(b query.Board) BoardResponse {
	resp := BoardResponse{Lanes: make([]LaneResponse, 0, len(b.Lanes))}
	for _, l := range b.Lanes {
		resp.Lanes = append(resp.Lanes, LaneResponse{Status: string(l.Status), Tasks: mapTasks(l.Tasks)})
	}
	return resp
}
