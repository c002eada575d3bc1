package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"nexusdao/internal/domain"
	"nexusdao/internal/engine/auth"
	"nexusdao/internal/events"
	"nexusdao/internal/metrics"
	"nexusdao/internal/repo"
)

// Action names used for events, metrics and transition errors.
const (
	ActionCreate = "create"
	ActionAssign = "assign"
	ActionSubmit = "submit"
	ActionReview = "review"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Now     func() time.Time
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	// PasswordParams tunes argon2id; nil means argon2id.DefaultParams.
	PasswordParams *argon2id.Params
}

func New(db *sql.DB, log zerolog.Logger, m *metrics.Metrics) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:      db,
		Repo:    r,
		Auth:    auth.Service{Repo: r},
		Now:     time.Now,
		Log:     log.With().Str("component", "engine").Logger(),
		Metrics: m,
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// TransitionError reports a lifecycle action attempted from the wrong status.
type TransitionError struct {
	TaskID int64
	Action string
	Status domain.TaskStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %d in status %s", e.Action, e.TaskID, e.Status)
}

func (e TransitionError) Unwrap() error { return domain.ErrInvalidTransition }

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Priority    int
	// Deadline is a Unix timestamp in nanoseconds.
	Deadline int64
}

func (o TaskCreateOptions) validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("title is required: %w", domain.ErrInvalidArgument)
	}
	if o.Priority < 0 {
		return fmt.Errorf("priority must be >= 0: %w", domain.ErrInvalidArgument)
	}
	if o.Deadline <= 0 {
		return fmt.Errorf("deadline must be a positive timestamp: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// run executes fn in one immediate transaction and records its outcome.
func (e Engine) run(ctx context.Context, action string, fn func(tx *sql.Tx) (domain.Task, error)) (domain.Task, error) {
	var out domain.Task
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	switch {
	case err == nil:
		e.Metrics.Transition(action, metrics.OutcomeOK)
		e.Log.Info().Str("action", action).Int64("task_id", out.ID).Str("status", string(out.Status)).Msg("task transition committed")
	case isDomainRefusal(err):
		e.Metrics.Transition(action, metrics.OutcomeRejected)
		e.Log.Debug().Err(err).Str("action", action).Msg("task transition refused")
	default:
		e.Metrics.Transition(action, metrics.OutcomeError)
		e.Log.Error().Err(err).Str("action", action).Msg("task transition failed")
	}
	return out, err
}

func isDomainRefusal(err error) bool {
	for _, target := range []error{
		domain.ErrUnauthorized,
		domain.ErrInvalidTransition,
		domain.ErrNotFound,
		domain.ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func taskEntityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// CreateTask records a new Open task owned by caller. Requires task.create.
func (e Engine) CreateTask(ctx context.Context, caller domain.Identity, opts TaskCreateOptions) (domain.Task, error) {
	return e.run(ctx, ActionCreate, func(tx *sql.Tx) (domain.Task, error) {
		if _, err := e.Auth.RequirePermission(ctx, tx, caller, repo.PermTaskCreate); err != nil {
			return domain.Task{}, err
		}
		if err := opts.validate(); err != nil {
			return domain.Task{}, err
		}
		now := e.stamp()
		t := domain.Task{
			Title:       strings.TrimSpace(opts.Title),
			Description: opts.Description,
			Priority:    opts.Priority,
			Deadline:    opts.Deadline,
			Creator:     caller,
			Status:      domain.StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		id, err := e.Repo.InsertTask(ctx, tx, t)
		if err != nil {
			return domain.Task{}, err
		}
		t.ID = id
		if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", taskEntityID(id), string(caller), events.EventPayload{
			"title":    t.Title,
			"priority": t.Priority,
			"deadline": t.Deadline,
		}); err != nil {
			return domain.Task{}, err
		}
		return t, nil
	})
}

// AssignTask moves an Open task to InProgress and makes caller its assignee.
// Requires task.assign.
func (e Engine) AssignTask(ctx context.Context, caller domain.Identity, id int64) (domain.Task, error) {
	return e.run(ctx, ActionAssign, func(tx *sql.Tx) (domain.Task, error) {
		if _, err := e.Auth.RequirePermission(ctx, tx, caller, repo.PermTaskAssign); err != nil {
			return domain.Task{}, err
		}
		t, err := e.Repo.MutateTaskTx(ctx, tx, id, func(t *domain.Task) error {
			if t.Status != domain.StatusOpen {
				return TransitionError{TaskID: t.ID, Action: ActionAssign, Status: t.Status}
			}
			assignee := caller
			t.Assignee = &assignee
			t.Status = domain.StatusInProgress
			t.UpdatedAt = e.stamp()
			return nil
		})
		if err != nil {
			return t, err
		}
		if err := e.Events.Append(ctx, tx, events.TaskAssigned, "task", taskEntityID(id), string(caller), events.EventPayload{
			"assignee": string(caller),
		}); err != nil {
			return domain.Task{}, err
		}
		return t, nil
	})
}

// SubmitTaskForReview moves an InProgress task to UnderReview. Only the
// assignee may submit.
func (e Engine) SubmitTaskForReview(ctx context.Context, caller domain.Identity, id int64) (domain.Task, error) {
	return e.run(ctx, ActionSubmit, func(tx *sql.Tx) (domain.Task, error) {
		if _, err := e.Auth.RequireProfile(ctx, tx, caller); err != nil {
			return domain.Task{}, err
		}
		t, err := e.Repo.MutateTaskTx(ctx, tx, id, func(t *domain.Task) error {
			if !t.AssignedTo(caller) {
				return fmt.Errorf("task %d is not assigned to caller: %w", t.ID, domain.ErrUnauthorized)
			}
			if t.Status != domain.StatusInProgress {
				return TransitionError{TaskID: t.ID, Action: ActionSubmit, Status: t.Status}
			}
			t.Status = domain.StatusUnderReview
			t.UpdatedAt = e.stamp()
			return nil
		})
		if err != nil {
			return t, err
		}
		if err := e.Events.Append(ctx, tx, events.TaskSubmitted, "task", taskEntityID(id), string(caller), nil); err != nil {
			return domain.Task{}, err
		}
		return t, nil
	})
}

// ReviewTask completes an UnderReview task when approved, otherwise returns
// it to Open with no assignee. Requires task.review.
func (e Engine) ReviewTask(ctx context.Context, caller domain.Identity, id int64, approved bool) (domain.Task, error) {
	return e.run(ctx, ActionReview, func(tx *sql.Tx) (domain.Task, error) {
		if _, err := e.Auth.RequirePermission(ctx, tx, caller, repo.PermTaskReview); err != nil {
			return domain.Task{}, err
		}
		var previous domain.Identity
		t, err := e.Repo.MutateTaskTx(ctx, tx, id, func(t *domain.Task) error {
			if t.Status != domain.StatusUnderReview {
				return TransitionError{TaskID: t.ID, Action: ActionReview, Status: t.Status}
			}
			now := e.stamp()
			t.UpdatedAt = now
			if approved {
				t.Status = domain.StatusCompleted
				t.CompletedAt = &now
				return nil
			}
			if t.Assignee != nil {
				previous = *t.Assignee
			}
			t.Status = domain.StatusOpen
			t.Assignee = nil
			return nil
		})
		if err != nil {
			return t, err
		}
		evt, payload := events.TaskApproved, events.EventPayload{}
		if !approved {
			evt = events.TaskRejected
			payload["previous_assignee"] = string(previous)
		}
		if err := e.Events.Append(ctx, tx, evt, "task", taskEntityID(id), string(caller), payload); err != nil {
			return domain.Task{}, err
		}
		return t, nil
	})
}
