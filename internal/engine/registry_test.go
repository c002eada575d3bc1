package engine_test

import (
	"errors"
	"strings"
	"testing"

	"nexusdao/internal/domain"
	"nexusdao/internal/engine"
	"nexusdao/internal/repo"
)

func TestRegisterConflicts(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{Identity: sub, Username: "someone-else", Role: "Reviewer"})
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("re-register identity: %v", err)
	}
	// identity check comes before username check
	_, err = env.Engine.Register(env.Ctx, engine.RegisterOptions{Identity: sub, Username: "alice", Role: "Reviewer"})
	if !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Fatalf("re-register identity with taken name: %v", err)
	}
	_, err = env.Engine.Register(env.Ctx, engine.RegisterOptions{Identity: "new-1", Username: "alice", Role: "Reviewer"})
	if !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("taken username: %v", err)
	}
	// usernames are case sensitive
	p, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{Identity: "new-1", Username: "Alice", Role: "reviewer"})
	if err != nil {
		t.Fatalf("register Alice: %v", err)
	}
	if p.Role != domain.RoleReviewer {
		t.Fatalf("role = %s", p.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.RegisterOptions{
		{Identity: "x", Username: "  ", Role: "Council"},
		{Identity: "x", Username: "xavier", Role: "Janitor"},
		{Identity: "", Username: "xavier", Role: "Council"},
		{Identity: "x", Username: "xavier", Role: "Council", Password: "short"},
	}
	for _, opts := range cases {
		if _, err := env.Engine.Register(env.Ctx, opts); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("register %+v: %v", opts, err)
		}
	}
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.GetProfile(env.Ctx, council)
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "alice" || p.Role != domain.RoleCouncil || p.Identity != council {
		t.Fatalf("profile: %+v", p)
	}
	if _, err := env.Engine.GetProfile(env.Ctx, stranger); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("missing profile: %v", err)
	}
}

func TestPasswordLogin(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.RegisterWithPassword(env.Ctx, "carol", "Council", "correct horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Identity == "" {
		t.Fatalf("identity not minted")
	}
	got, err := env.Engine.Login(env.Ctx, "carol", "correct horse")
	if err != nil || got.Identity != p.Identity {
		t.Fatalf("login: %v %+v", err, got)
	}
	if _, err := env.Engine.Login(env.Ctx, "carol", "wrong password"); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "nobody", "correct horse"); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("unknown user: %v", err)
	}
	// profiles registered without a password cannot log in
	if _, err := env.Engine.Login(env.Ctx, "alice", ""); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("passwordless login: %v", err)
	}
	if _, err := env.Engine.RegisterWithPassword(env.Ctx, "dave", "Council", "1234567"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("short password: %v", err)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, sub, "ci")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plain, "nx_") || len(plain) != 3+64 {
		t.Fatalf("key format: %q", plain)
	}
	if key.KeyHash == plain || key.KeyHash != repo.HashAPIKey(plain) {
		t.Fatalf("stored hash mismatch")
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil || stored.Identity != sub || stored.Name != "ci" {
		t.Fatalf("lookup: %v %+v", err, stored)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, stranger, "x"); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("key for unregistered identity: %v", err)
	}
}

func TestUsernamesMatchExactly(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"alice ", " alice", "\tbob"} {
		_, err := env.Engine.Register(env.Ctx, engine.RegisterOptions{Identity: "new-1", Username: name, Role: "Reviewer"})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	if _, err := env.Engine.RegisterWithPassword(env.Ctx, "carol", "Council", "correct horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "carol ", "correct horse"); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("login with padded username: %v", err)
	}
	if _, err := env.Engine.Login(env.Ctx, "carol", "correct horse"); err != nil {
		t.Fatalf("exact login: %v", err)
	}
}
