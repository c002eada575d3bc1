package nexussdk

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	APIKey string
	Body   map[string]any
}

func fakeAPI(t *testing.T, status int, reply any) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.Method = r.Method
		rec.Path = r.URL.Path
		rec.Query = r.URL.RawQuery
		rec.Auth = r.Header.Get("Authorization")
		rec.APIKey = r.Header.Get("X-Api-Key")
		data, _ := io.ReadAll(r.Body)
		rec.Body = nil
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestRegisterStoresToken(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusCreated, map[string]any{
		"profile": map[string]any{"id": "u-1", "username": "alice", "role": "Council"},
		"token":   "tok-1",
	})
	c := New(srv.URL)
	sess, err := c.Register(context.Background(), "alice", "Council", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "u-1", sess.Profile.ID)
	assert.Equal(t, "tok-1", c.BearerToken)
	assert.Equal(t, "/v0/auth/register", rec.Path)
	assert.Equal(t, "secret-pass", rec.Body["password"])

	_, err = c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", rec.Auth)
}

func TestTaskCalls(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, map[string]any{"id": 4, "status": "InProgress"})
	c := New(srv.URL)
	c.APIKey = "nx_abc"
	ctx := context.Background()

	task, err := c.AssignTask(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), task.ID)
	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, "/v0/tasks/4/assign", rec.Path)
	assert.Equal(t, "nx_abc", rec.APIKey)

	_, err = c.ReviewTask(ctx, 4, false)
	require.NoError(t, err)
	assert.Equal(t, "/v0/tasks/4/review", rec.Path)
	assert.Equal(t, false, rec.Body["approved"])

	_, err = c.CreateTask(ctx, NewTask{Title: "Ship", Deadline: 1})
	require.NoError(t, err)
	assert.Equal(t, "/v0/tasks", rec.Path)
	assert.Equal(t, "Ship", rec.Body["title"])
}

func TestTasksByStatusQuery(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, map[string]any{"items": []map[string]any{{"id": 1, "status": "Open"}}})
	c := New(srv.URL)
	tasks, err := c.TasksByStatus(context.Background(), "Open")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "status=Open", rec.Query)

	_, err = c.AllTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rec.Query)
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusConflict, map[string]any{
		"error": map[string]any{
			"code":    "invalid_transition",
			"message": "task 1 is InProgress; only Open tasks can be assigned",
			"details": map[string]any{"task_id": 1},
		},
	})
	c := New(srv.URL)
	_, err := c.AssignTask(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "only Open tasks")
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	header := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyWebhookSignature("s3cret", body, header))
	assert.False(t, VerifyWebhookSignature("other", body, header))
	assert.False(t, VerifyWebhookSignature("s3cret", body, "md5=abc"))
	assert.False(t, VerifyWebhookSignature("s3cret", body, "sha256=zz"))
}
