// Package query is the read-only side: listings, the board and task history.
// Nothing here requires a caller identity.
package query

import (
	"context"
	"fmt"
	"strings"

	"nexusdao/internal/domain"
	"nexusdao/internal/repo"
)

type Service struct {
	Repo repo.Repo
}

func New(r repo.Repo) Service {
	return Service{Repo: r}
}

// AllTasks returns every task in creation order.
func (s Service) AllTasks(ctx context.Context) ([]domain.Task, error) {
	return s.Repo.ListTasks(ctx, repo.TaskFilters{})
}

// TasksByStatus returns tasks whose status matches, in creation order.
func (s Service) TasksByStatus(ctx context.Context, status string) ([]domain.Task, error) {
	st, ok := domain.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrInvalidArgument)
	}
	return s.Repo.ListTasks(ctx, repo.TaskFilters{Status: st})
}

func (s Service) Task(ctx context.Context, id int64) (domain.Task, error) {
	return s.Repo.GetTask(ctx, id)
}

type Lane struct {
	Status domain.TaskStatus `json:"status"`
	Tasks  []domain.Task     `json:"tasks"`
}

type Board struct {
	Lanes []Lane `json:"lanes"`
}

func (b Board) Lane(status domain.TaskStatus) Lane {
	for _, l := range b.Lanes {
		if l.Status == status {
			return l
		}
	}
	return Lane{Status: status, Tasks: []domain.Task{}}
}

// Board groups all tasks into one lane per status, in lifecycle order.
func (s Service) Board(ctx context.Context) (Board, error) {
	tasks, err := s.AllTasks(ctx)
	if err != nil {
		return Board{}, err
	}
	byStatus := make(map[domain.TaskStatus][]domain.Task, len(domain.Statuses))
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	b := Board{Lanes: make([]Lane, 0, len(domain.Statuses))}
	for _, st := range domain.Statuses {
		lane := byStatus[st]
		if lane == nil {
			lane = []domain.Task{}
		}
		b.Lanes = append(b.Lanes, Lane{Status: st, Tasks: lane})
	}
	return b, nil
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Status   string
	Assignee string
	Creator  string
	Sort     string
	Desc     bool
	Limit    int
}

func (s Service) List(ctx context.Context, f Filter) ([]domain.Task, error) {
	tf := repo.TaskFilters{
		Assignee: domain.Identity(strings.TrimSpace(f.Assignee)),
		Creator:  domain.Identity(strings.TrimSpace(f.Creator)),
		SortBy:   strings.ToLower(strings.TrimSpace(f.Sort)),
		Desc:     f.Desc,
		Limit:    f.Limit,
	}
	if f.Status != "" {
		st, ok := domain.ParseStatus(f.Status)
		if !ok {
			return nil, fmt.Errorf("unknown status %q: %w", f.Status, domain.ErrInvalidArgument)
		}
		tf.Status = st
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0: %w", domain.ErrInvalidArgument)
	}
	return s.Repo.ListTasks(ctx, tf)
}

// History returns the events recorded for a task, oldest first.
func (s Service) History(ctx context.Context, id int64) ([]domain.Event, error) {
	if _, err := s.Repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.Repo.TaskEvents(ctx, id)
}

func (s Service) StatusCounts(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return s.Repo.CountTasksByStatus(ctx)
}
