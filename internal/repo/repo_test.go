package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"nexusdao/internal/db"
	"nexusdao/internal/domain"
	"nexusdao/internal/migrate"
	"nexusdao/internal/repo"
)

const stamp = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		for _, p := range []domain.UserProfile{
			{Identity: "council-1", Username: "alice", Role: domain.RoleCouncil, CreatedAt: stamp},
			{Identity: "sub-1", Username: "bob", Role: domain.RoleSubcontractor, CreatedAt: stamp},
			{Identity: "sub-2", Username: "bea", Role: domain.RoleSubcontractor, CreatedAt: stamp},
		} {
			if err := r.InsertUser(ctx, tx, repo.UserRecord{Profile: p}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	return r, ctx
}

func insertOpenTask(t *testing.T, r repo.Repo, ctx context.Context) int64 {
	t.Helper()
	var id int64
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = r.InsertTask(ctx, tx, domain.Task{
			Title:     "Audit treasury",
			Deadline:  1,
			Creator:   "council-1",
			Status:    domain.StatusOpen,
			CreatedAt: stamp,
			UpdatedAt: stamp,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return id
}

func claim(who domain.Identity) func(t *domain.Task) error {
	return func(t *domain.Task) error {
		if t.Status != domain.StatusOpen {
			return domain.ErrInvalidTransition
		}
		t.Assignee = &who
		t.Status = domain.StatusInProgress
		return nil
	}
}

func TestMutateTaskMissing(t *testing.T) {
	r, ctx := newTestRepo(t)
	called := false
	_, err := r.MutateTask(ctx, 42, func(*domain.Task) error {
		called = true
		return nil
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task: %v", err)
	}
	if called {
		t.Fatalf("fn ran for a missing task")
	}
}

func TestMutateTaskAppliesAndPersists(t *testing.T) {
	r, ctx := newTestRepo(t)
	id := insertOpenTask(t, r, ctx)
	got, err := r.MutateTask(ctx, id, claim("sub-1"))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	stored, err := r.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusInProgress || !stored.AssignedTo("sub-1") || got.Status != stored.Status {
		t.Fatalf("stored task: %+v", stored)
	}
}

func TestMutateTaskRollsBackOnError(t *testing.T) {
	r, ctx := newTestRepo(t)
	id := insertOpenTask(t, r, ctx)

	refusal := errors.New("refused")
	_, err := r.MutateTask(ctx, id, func(t *domain.Task) error {
		t.Title = "changed"
		return refusal
	})
	if !errors.Is(err, refusal) {
		t.Fatalf("fn error not returned: %v", err)
	}
	// InProgress without an assignee violates the table check; the write fails
	_, err = r.MutateTask(ctx, id, func(t *domain.Task) error {
		t.Title = "changed"
		t.Status = domain.StatusInProgress
		return nil
	})
	if err == nil {
		t.Fatalf("expected write to fail")
	}
	stored, err := r.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Title != "Audit treasury" || stored.Status != domain.StatusOpen || stored.Assignee != nil {
		t.Fatalf("partial mutation visible: %+v", stored)
	}
}

func TestMutateTaskConcurrentClaims(t *testing.T) {
	r, ctx := newTestRepo(t)
	id := insertOpenTask(t, r, ctx)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []domain.Identity{"sub-1", "sub-2"} {
		wg.Add(1)
		go func(i int, who domain.Identity) {
			defer wg.Done()
			_, errs[i] = r.MutateTask(ctx, id, claim(who))
		}(i, who)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, domain.ErrInvalidTransition):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}
