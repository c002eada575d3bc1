package domain

import (
	"strings"
	"time"
)

// Identity is the opaque principal a request resolves to.
type Identity string

// Role is the organizational role held by a registered profile.
type Role string

const (
	RoleCouncil       Role = "Council"
	RoleSubcontractor Role = "Subcontractor"
	RoleReviewer      Role = "Reviewer"
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleCouncil, RoleSubcontractor, RoleReviewer}

func (r Role) Valid() bool {
	switch r {
	case RoleCouncil, RoleSubcontractor, RoleReviewer:
		return true
	}
	return false
}

// ParseRole accepts the wire spelling of a role, case-insensitively.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, true
		}
	}
	return "", false
}

type TaskStatus string

const (
	StatusOpen        TaskStatus = "Open"
	StatusInProgress  TaskStatus = "InProgress"
	StatusUnderReview TaskStatus = "UnderReview"
	StatusCompleted   TaskStatus = "Completed"
)

// Statuses lists the lifecycle lanes in order.
var Statuses = []TaskStatus{StatusOpen, StatusInProgress, StatusUnderReview, StatusCompleted}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusUnderReview, StatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts the wire spelling of a status, case-insensitively.
func ParseStatus(s string) (TaskStatus, bool) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// NanosPerMillisecond converts a Task deadline to a JavaScript millisecond timestamp.
// Existing clients divide by this constant; it must not change.
const NanosPerMillisecond = int64(time.Millisecond / time.Nanosecond)

type UserProfile struct {
	Identity  Identity `json:"id"`
	Username  string   `json:"username"`
	Role      Role     `json:"role" enum:"Council,Subcontractor,Reviewer"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Deadline    int64      `json:"deadline"`
	Creator     Identity   `json:"creator"`
	Assignee    *Identity  `json:"assignee,omitempty"`
	Status      TaskStatus `json:"status" enum:"Open,InProgress,UnderReview,Completed"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`
	CompletedAt *string    `json:"completed_at,omitempty" format:"date-time"`
}

// DeadlineMillis returns the deadline as a JavaScript millisecond timestamp.
func (t Task) DeadlineMillis() int64 {
	return t.Deadline / NanosPerMillisecond
}

// DeadlineTime returns the deadline as a UTC time.
func (t Task) DeadlineTime() time.Time {
	return time.Unix(0, t.Deadline).UTC()
}

// AssignedTo reports whether id currently holds the task.
func (t Task) AssignedTo(id Identity) bool {
	return t.Assignee != nil && *t.Assignee == id
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	Identity  Identity `json:"identity"`
	Name      string   `json:"name,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
