package query_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusdao/internal/db"
	"nexusdao/internal/domain"
	"nexusdao/internal/engine"
	"nexusdao/internal/migrate"
	"nexusdao/internal/query"
)

const deadline = int64(1_700_000_000_000) * domain.NanosPerMillisecond

type fixture struct {
	ctx   context.Context
	eng   engine.Engine
	query query.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	eng := engine.New(conn, zerolog.Nop(), nil)
	for id, role := range map[domain.Identity]domain.Role{
		"c": domain.RoleCouncil,
		"s": domain.RoleSubcontractor,
		"r": domain.RoleReviewer,
	} {
		_, err := eng.Register(ctx, engine.RegisterOptions{Identity: id, Username: string(id) + "-user", Role: string(role)})
		require.NoError(t, err)
	}
	return fixture{ctx: ctx, eng: eng, query: query.New(eng.Repo)}
}

// seed creates three tasks: 1 Open, 2 InProgress, 3 Completed.
func (f fixture) seed(t *testing.T) {
	t.Helper()
	for i, title := range []string{"one", "two", "three"} {
		_, err := f.eng.CreateTask(f.ctx, "c", engine.TaskCreateOptions{Title: title, Priority: 3 - i, Deadline: deadline + int64(i)})
		require.NoError(t, err)
	}
	_, err := f.eng.AssignTask(f.ctx, "s", 2)
	require.NoError(t, err)
	_, err = f.eng.AssignTask(f.ctx, "s", 3)
	require.NoError(t, err)
	_, err = f.eng.SubmitTaskForReview(f.ctx, "s", 3)
	require.NoError(t, err)
	_, err = f.eng.ReviewTask(f.ctx, "r", 3, true)
	require.NoError(t, err)
}

func ids(tasks []domain.Task) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestAllTasksEmpty(t *testing.T) {
	f := newFixture(t)
	tasks, err := f.query.AllTasks(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotNil(t, tasks)
}

func TestAllTasksAndByStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	all, err := f.query.AllTasks(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(all))

	open, err := f.query.TasksByStatus(f.ctx, "Open")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(open))

	review, err := f.query.TasksByStatus(f.ctx, "UnderReview")
	require.NoError(t, err)
	assert.Empty(t, review)

	_, err = f.query.TasksByStatus(f.ctx, "Archived")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBoardLanes(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	b, err := f.query.Board(f.ctx)
	require.NoError(t, err)
	require.Len(t, b.Lanes, 4)
	assert.Equal(t, domain.Statuses, []domain.TaskStatus{b.Lanes[0].Status, b.Lanes[1].Status, b.Lanes[2].Status, b.Lanes[3].Status})
	assert.Equal(t, []int64{1}, ids(b.Lane(domain.StatusOpen).Tasks))
	assert.Equal(t, []int64{2}, ids(b.Lane(domain.StatusInProgress).Tasks))
	assert.Empty(t, b.Lane(domain.StatusUnderReview).Tasks)
	assert.Equal(t, []int64{3}, ids(b.Lane(domain.StatusCompleted).Tasks))
}

func TestListFiltersAndSort(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	byPriority, err := f.query.List(f.ctx, query.Filter{Sort: "priority"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(byPriority))

	byDeadlineDesc, err := f.query.List(f.ctx, query.Filter{Sort: "deadline", Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, ids(byDeadlineDesc))

	mine, err := f.query.List(f.ctx, query.Filter{Assignee: "s"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(mine))

	created, err := f.query.List(f.ctx, query.Filter{Creator: "c", Status: "inprogress"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(created))

	_, err = f.query.List(f.ctx, query.Filter{Sort: "title"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.query.List(f.ctx, query.Filter{Status: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	hist, err := f.query.History(f.ctx, 3)
	require.NoError(t, err)
	var types []string
	for _, e := range hist {
		types = append(types, e.Type)
		assert.Equal(t, "3", e.EntityID)
	}
	assert.Equal(t, []string{"task.created", "task.assigned", "task.submitted", "task.approved"}, types)

	_, err = f.query.History(f.ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	counts, err := f.query.StatusCounts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusOpen])
	assert.Equal(t, 0, counts[domain.StatusUnderReview])
}
